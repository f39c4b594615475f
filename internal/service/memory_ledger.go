package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/GoPolymarket/ordergate/internal/market"
	"github.com/GoPolymarket/ordergate/internal/model"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MemoryLedger is an in-process system of record used when no database is
// configured and in tests. MARKET orders fill immediately at the pair's last
// price; priced orders rest until cancelled.
type MemoryLedger struct {
	mu       sync.RWMutex
	accounts map[string]*model.Account
	pairs    map[string]*model.TradingPair
	orders   map[string]*model.Order
	trades   []model.Trade
	now      func() time.Time
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		accounts: make(map[string]*model.Account),
		pairs:    make(map[string]*model.TradingPair),
		orders:   make(map[string]*model.Order),
		now:      time.Now,
	}
}

func (l *MemoryLedger) PutAccount(a model.Account) {
	l.mu.Lock()
	defer l.mu.Unlock()
	balances := make(map[string]decimal.Decimal, len(a.Balances))
	for k, v := range a.Balances {
		balances[k] = v
	}
	a.Balances = balances
	l.accounts[a.ID] = &a
}

func (l *MemoryLedger) PutPair(p model.TradingPair) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pairs[p.Symbol] = &p
}

func (l *MemoryLedger) PutOrder(o model.Order) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.orders[o.ID] = &o
}

func (l *MemoryLedger) GetUser(_ context.Context, id string) (*model.Account, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	a, ok := l.accounts[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	cp := *a
	cp.Balances = make(map[string]decimal.Decimal, len(a.Balances))
	for k, v := range a.Balances {
		cp.Balances[k] = v
	}
	return &cp, nil
}

func (l *MemoryLedger) GetTradingPair(_ context.Context, symbol string) (*model.TradingPair, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.pairs[symbol]
	if !ok {
		return nil, model.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

// GetDailyVolume sums the notional of orders placed by userID since since.
func (l *MemoryLedger) GetDailyVolume(_ context.Context, userID string, since time.Time) (decimal.Decimal, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	total := decimal.Zero
	for _, o := range l.orders {
		if o.UserID == userID && !o.CreatedAt.Before(since) {
			total = total.Add(o.Amount.Mul(o.Price))
		}
	}
	return total, nil
}

func (l *MemoryLedger) CountOpenOrders(_ context.Context, userID string) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for _, o := range l.orders {
		if o.UserID == userID && !o.Status.Terminal() {
			n++
		}
	}
	return n, nil
}

func (l *MemoryLedger) GetOrder(_ context.Context, id string) (*model.Order, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	o, ok := l.orders[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (l *MemoryLedger) CreateOrder(_ context.Context, in *model.SanitizedOrder) (*model.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pair, ok := l.pairs[in.TradingPair]
	if !ok {
		return nil, model.ErrNotFound
	}
	now := l.now().UTC()
	o := &model.Order{
		ID:          uuid.NewString(),
		UserID:      in.UserID,
		TradingPair: in.TradingPair,
		Type:        in.Type,
		Side:        in.Side,
		Amount:      in.Amount,
		Price:       in.Price,
		Status:      model.OrderStatusOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if in.Type == model.OrderTypeMarket {
		o.Price = pair.LastPrice
		o.Filled = in.Amount
		o.Status = model.OrderStatusFilled
		l.settle(o, pair)
		l.trades = append(l.trades, model.Trade{
			ID:          uuid.NewString(),
			TradingPair: o.TradingPair,
			Price:       o.Price,
			Amount:      o.Amount,
			Side:        o.Side,
			ExecutedAt:  now,
		})
	}
	l.orders[o.ID] = o
	cp := *o
	return &cp, nil
}

// settle moves balances for a filled order. Caller holds the lock.
func (l *MemoryLedger) settle(o *model.Order, pair *model.TradingPair) {
	a, ok := l.accounts[o.UserID]
	if !ok {
		return
	}
	notional := o.Amount.Mul(o.Price)
	if o.Side == model.SideBuy {
		a.Balances[pair.QuoteAsset] = a.Balances[pair.QuoteAsset].Sub(notional)
		a.Balances[pair.BaseAsset] = a.Balances[pair.BaseAsset].Add(o.Amount)
	} else {
		a.Balances[pair.BaseAsset] = a.Balances[pair.BaseAsset].Sub(o.Amount)
		a.Balances[pair.QuoteAsset] = a.Balances[pair.QuoteAsset].Add(notional)
	}
}

func (l *MemoryLedger) UpdateOrder(_ context.Context, u *model.SanitizedUpdate) (*model.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	o, ok := l.orders[u.OrderID]
	if !ok || o.Status.Terminal() {
		return nil, model.ErrNotFound
	}
	o.Amount = u.Amount
	o.Price = u.Price
	o.UpdatedAt = l.now().UTC()
	cp := *o
	return &cp, nil
}

func (l *MemoryLedger) CancelOrder(_ context.Context, orderID string) (*model.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	o, ok := l.orders[orderID]
	if !ok || o.Status.Terminal() {
		return nil, model.ErrNotFound
	}
	o.Status = model.OrderStatusCancelled
	o.UpdatedAt = l.now().UTC()
	cp := *o
	return &cp, nil
}

func (l *MemoryLedger) snapshotOrders() []model.Order {
	out := make([]model.Order, 0, len(l.orders))
	for _, o := range l.orders {
		out = append(out, *o)
	}
	return out
}

func (l *MemoryLedger) pairTrades(pair string) []model.Trade {
	var out []model.Trade
	for _, t := range l.trades {
		if t.TradingPair == pair {
			out = append(out, t)
		}
	}
	return out
}

func (l *MemoryLedger) Ticker(_ context.Context, pair string) (*model.Ticker, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.pairs[pair]
	if !ok {
		return nil, model.ErrNotFound
	}
	return market.BuildBook(pair, l.snapshotOrders()).Ticker(p.LastPrice), nil
}

func (l *MemoryLedger) OrderBook(_ context.Context, pair string, depth int) (*model.OrderBookSnapshot, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if _, ok := l.pairs[pair]; !ok {
		return nil, model.ErrNotFound
	}
	return market.BuildBook(pair, l.snapshotOrders()).Snapshot(depth), nil
}

func (l *MemoryLedger) RecentTrades(_ context.Context, pair string, limit int) ([]model.Trade, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if _, ok := l.pairs[pair]; !ok {
		return nil, model.ErrNotFound
	}
	trades := l.pairTrades(pair)
	sort.SliceStable(trades, func(i, j int) bool {
		return trades[i].ExecutedAt.After(trades[j].ExecutedAt)
	})
	if limit > 0 && len(trades) > limit {
		trades = trades[:limit]
	}
	if trades == nil {
		trades = []model.Trade{}
	}
	return trades, nil
}

func (l *MemoryLedger) Stats(_ context.Context, pair string) (*model.MarketStats, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if _, ok := l.pairs[pair]; !ok {
		return nil, model.ErrNotFound
	}
	since := l.now().Add(-24 * time.Hour)
	var recent []model.Trade
	for _, t := range l.pairTrades(pair) {
		if !t.ExecutedAt.Before(since) {
			recent = append(recent, t)
		}
	}
	return market.Stats(pair, recent), nil
}

func (l *MemoryLedger) Candles(_ context.Context, pair string, interval time.Duration, limit int) ([]model.Candle, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if _, ok := l.pairs[pair]; !ok {
		return nil, model.ErrNotFound
	}
	return market.Candles(l.pairTrades(pair), interval, limit), nil
}

func (l *MemoryLedger) Balances(_ context.Context, userID string) (map[string]decimal.Decimal, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	a, ok := l.accounts[userID]
	if !ok {
		return nil, model.ErrNotFound
	}
	out := make(map[string]decimal.Decimal, len(a.Balances))
	for k, v := range a.Balances {
		out[k] = v
	}
	return out, nil
}

func (l *MemoryLedger) OpenOrders(_ context.Context, userID string) ([]model.Order, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := []model.Order{}
	for _, o := range l.orders {
		if o.UserID == userID && !o.Status.Terminal() {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
