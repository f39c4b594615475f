package market

import (
	"sort"
	"time"

	"github.com/GoPolymarket/ordergate/internal/model"
	"github.com/shopspring/decimal"
)

// Stats summarizes trades for pair. Trades may arrive in any order.
func Stats(pair string, trades []model.Trade) *model.MarketStats {
	s := &model.MarketStats{TradingPair: pair}
	if len(trades) == 0 {
		return s
	}
	sorted := chronological(trades)
	s.Open = sorted[0].Price
	s.Last = sorted[len(sorted)-1].Price
	s.High, s.Low = s.Open, s.Open
	for _, t := range sorted {
		if t.Price.GreaterThan(s.High) {
			s.High = t.Price
		}
		if t.Price.LessThan(s.Low) {
			s.Low = t.Price
		}
		s.Volume = s.Volume.Add(t.Amount)
	}
	s.TradeCount = len(sorted)
	return s
}

// Candles buckets trades into OHLCV candles of the given interval and returns
// the most recent limit candles, oldest first.
func Candles(trades []model.Trade, interval time.Duration, limit int) []model.Candle {
	if interval <= 0 || len(trades) == 0 {
		return []model.Candle{}
	}
	var out []model.Candle
	for _, t := range chronological(trades) {
		open := t.ExecutedAt.UTC().Truncate(interval)
		if n := len(out); n > 0 && out[n-1].OpenTime.Equal(open) {
			c := &out[n-1]
			c.High = decimal.Max(c.High, t.Price)
			c.Low = decimal.Min(c.Low, t.Price)
			c.Close = t.Price
			c.Volume = c.Volume.Add(t.Amount)
			continue
		}
		out = append(out, model.Candle{
			OpenTime: open,
			Open:     t.Price,
			High:     t.Price,
			Low:      t.Price,
			Close:    t.Price,
			Volume:   t.Amount,
		})
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func chronological(trades []model.Trade) []model.Trade {
	sorted := make([]model.Trade, len(trades))
	copy(sorted, trades)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ExecutedAt.Before(sorted[j].ExecutedAt)
	})
	return sorted
}
