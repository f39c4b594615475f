package market

import (
	"sort"
	"sync"
	"time"

	"github.com/GoPolymarket/ordergate/internal/model"
	"github.com/shopspring/decimal"
)

// Level represents a single price level in the orderbook
type Level struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// Orderbook aggregates resting orders of one trading pair into price levels.
type Orderbook struct {
	Pair        string
	Bids        []Level // Sorted High to Low
	Asks        []Level // Sorted Low to High
	LastUpdated time.Time
	mu          sync.RWMutex
}

func NewOrderbook(pair string) *Orderbook {
	return &Orderbook{
		Pair: pair,
		Bids: make([]Level, 0),
		Asks: make([]Level, 0),
	}
}

// BuildBook aggregates the unfilled remainder of resting priced orders.
func BuildBook(pair string, orders []model.Order) *Orderbook {
	ob := NewOrderbook(pair)
	for _, o := range orders {
		if o.TradingPair != pair || o.Status.Terminal() || o.Type == model.OrderTypeMarket {
			continue
		}
		remaining := o.Amount.Sub(o.Filled)
		if !remaining.IsPositive() || !o.Price.IsPositive() {
			continue
		}
		ob.Add(o.Side, o.Price, remaining)
	}
	return ob
}

// Add accumulates size onto the level at price.
func (ob *Orderbook) Add(side model.Side, price, size decimal.Decimal) {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	levels, descending := ob.side(side)
	for i, l := range *levels {
		if l.Price.Equal(price) {
			(*levels)[i].Size = l.Size.Add(size)
			ob.LastUpdated = time.Now()
			return
		}
	}
	ob.insert(levels, price, size, descending)
}

// Update sets the level at price; size 0 removes the level.
func (ob *Orderbook) Update(side model.Side, price, size decimal.Decimal) {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	levels, descending := ob.side(side)
	ob.LastUpdated = time.Now()
	for i, l := range *levels {
		if !l.Price.Equal(price) {
			continue
		}
		if size.IsZero() {
			*levels = append((*levels)[:i], (*levels)[i+1:]...)
		} else {
			(*levels)[i].Size = size
		}
		return
	}
	if !size.IsZero() {
		ob.insert(levels, price, size, descending)
	}
}

func (ob *Orderbook) side(side model.Side) (*[]Level, bool) {
	if side == model.SideBuy {
		return &ob.Bids, true
	}
	return &ob.Asks, false
}

func (ob *Orderbook) insert(levels *[]Level, price, size decimal.Decimal, descending bool) {
	*levels = append(*levels, Level{Price: price, Size: size})
	sort.Slice(*levels, func(i, j int) bool {
		if descending {
			return (*levels)[i].Price.GreaterThan((*levels)[j].Price)
		}
		return (*levels)[i].Price.LessThan((*levels)[j].Price)
	})
	ob.LastUpdated = time.Now()
}

// GetCopy returns a safe copy of the current state (Thread-safe read)
func (ob *Orderbook) GetCopy() (bids, asks []Level) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	bids = make([]Level, len(ob.Bids))
	copy(bids, ob.Bids)
	asks = make([]Level, len(ob.Asks))
	copy(asks, ob.Asks)
	return
}

// Snapshot returns the top depth levels per side. depth <= 0 means all.
func (ob *Orderbook) Snapshot(depth int) *model.OrderBookSnapshot {
	bids, asks := ob.GetCopy()
	return &model.OrderBookSnapshot{
		TradingPair: ob.Pair,
		Bids:        toPriceLevels(bids, depth),
		Asks:        toPriceLevels(asks, depth),
		AsOf:        time.Now().UTC(),
	}
}

// Ticker combines the best bid/ask with the last traded price.
func (ob *Orderbook) Ticker(last decimal.Decimal) *model.Ticker {
	bids, asks := ob.GetCopy()
	t := &model.Ticker{TradingPair: ob.Pair, Price: last, AsOf: time.Now().UTC()}
	if len(bids) > 0 {
		t.BestBid = bids[0].Price
	}
	if len(asks) > 0 {
		t.BestAsk = asks[0].Price
	}
	return t
}

func toPriceLevels(levels []Level, depth int) []model.PriceLevel {
	if depth > 0 && len(levels) > depth {
		levels = levels[:depth]
	}
	out := make([]model.PriceLevel, len(levels))
	for i, l := range levels {
		out[i] = model.PriceLevel{Price: l.Price, Amount: l.Size}
	}
	return out
}
