package model

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNotFound is returned by ledger lookups for unknown ids.
var ErrNotFound = errors.New("record not found")

// Account is the ledger view of a user.
type Account struct {
	ID       string                     `json:"id"`
	Active   bool                       `json:"active"`
	Balances map[string]decimal.Decimal `json:"balances"`
}

// Balance returns the available balance for asset, zero when absent.
func (a *Account) Balance(asset string) decimal.Decimal {
	if a == nil || a.Balances == nil {
		return decimal.Zero
	}
	return a.Balances[asset]
}

type TradingPair struct {
	Symbol     string          `json:"symbol"`
	BaseAsset  string          `json:"baseAsset"`
	QuoteAsset string          `json:"quoteAsset"`
	Active     bool            `json:"active"`
	LastPrice  decimal.Decimal `json:"lastPrice"`
}

type Trade struct {
	ID          string          `json:"id"`
	TradingPair string          `json:"tradingPair"`
	Price       decimal.Decimal `json:"price"`
	Amount      decimal.Decimal `json:"amount"`
	Side        Side            `json:"side"`
	ExecutedAt  time.Time       `json:"executedAt"`
}

type Ticker struct {
	TradingPair string          `json:"tradingPair"`
	Price       decimal.Decimal `json:"price"`
	BestBid     decimal.Decimal `json:"bestBid"`
	BestAsk     decimal.Decimal `json:"bestAsk"`
	AsOf        time.Time       `json:"asOf"`
}

type PriceLevel struct {
	Price  decimal.Decimal `json:"price"`
	Amount decimal.Decimal `json:"amount"`
}

type OrderBookSnapshot struct {
	TradingPair string       `json:"tradingPair"`
	Bids        []PriceLevel `json:"bids"`
	Asks        []PriceLevel `json:"asks"`
	AsOf        time.Time    `json:"asOf"`
}

type MarketStats struct {
	TradingPair string          `json:"tradingPair"`
	Open        decimal.Decimal `json:"open"`
	High        decimal.Decimal `json:"high"`
	Low         decimal.Decimal `json:"low"`
	Last        decimal.Decimal `json:"last"`
	Volume      decimal.Decimal `json:"volume"`
	TradeCount  int             `json:"tradeCount"`
}

type Candle struct {
	OpenTime time.Time       `json:"openTime"`
	Open     decimal.Decimal `json:"open"`
	High     decimal.Decimal `json:"high"`
	Low      decimal.Decimal `json:"low"`
	Close    decimal.Decimal `json:"close"`
	Volume   decimal.Decimal `json:"volume"`
}
