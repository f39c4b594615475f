package service

import (
	"context"
	"time"

	"github.com/GoPolymarket/ordergate/internal/model"
	"github.com/shopspring/decimal"
)

// Ledger is the system of record consulted by the validator. Lookups for
// unknown ids return model.ErrNotFound.
type Ledger interface {
	GetUser(ctx context.Context, id string) (*model.Account, error)
	GetTradingPair(ctx context.Context, symbol string) (*model.TradingPair, error)
	GetDailyVolume(ctx context.Context, userID string, since time.Time) (decimal.Decimal, error)
	CountOpenOrders(ctx context.Context, userID string) (int, error)
	GetOrder(ctx context.Context, id string) (*model.Order, error)
}

// OrderExecutor performs the state mutation once an order is admitted.
type OrderExecutor interface {
	CreateOrder(ctx context.Context, order *model.SanitizedOrder) (*model.Order, error)
	UpdateOrder(ctx context.Context, update *model.SanitizedUpdate) (*model.Order, error)
	CancelOrder(ctx context.Context, orderID string) (*model.Order, error)
}

// MarketReader serves the hot read paths cached by the gateway.
type MarketReader interface {
	Ticker(ctx context.Context, pair string) (*model.Ticker, error)
	OrderBook(ctx context.Context, pair string, depth int) (*model.OrderBookSnapshot, error)
	RecentTrades(ctx context.Context, pair string, limit int) ([]model.Trade, error)
	Stats(ctx context.Context, pair string) (*model.MarketStats, error)
	Candles(ctx context.Context, pair string, interval time.Duration, limit int) ([]model.Candle, error)
	Balances(ctx context.Context, userID string) (map[string]decimal.Decimal, error)
	OpenOrders(ctx context.Context, userID string) ([]model.Order, error)
}
