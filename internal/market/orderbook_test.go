package market

import (
	"testing"
	"time"

	"github.com/GoPolymarket/ordergate/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestBuildBookAggregatesRestingOrders(t *testing.T) {
	orders := []model.Order{
		{TradingPair: "BTC/USDT", Type: model.OrderTypeLimit, Side: model.SideBuy, Price: d("100"), Amount: d("2"), Filled: d("0.5"), Status: model.OrderStatusPartiallyFilled},
		{TradingPair: "BTC/USDT", Type: model.OrderTypeLimit, Side: model.SideBuy, Price: d("100"), Amount: d("1"), Status: model.OrderStatusOpen},
		{TradingPair: "BTC/USDT", Type: model.OrderTypeLimit, Side: model.SideBuy, Price: d("101"), Amount: d("1"), Status: model.OrderStatusOpen},
		{TradingPair: "BTC/USDT", Type: model.OrderTypeLimit, Side: model.SideSell, Price: d("103"), Amount: d("4"), Status: model.OrderStatusOpen},
		{TradingPair: "BTC/USDT", Type: model.OrderTypeLimit, Side: model.SideSell, Price: d("102"), Amount: d("1"), Status: model.OrderStatusCancelled},
		{TradingPair: "ETH/USDT", Type: model.OrderTypeLimit, Side: model.SideSell, Price: d("5"), Amount: d("1"), Status: model.OrderStatusOpen},
	}

	snap := BuildBook("BTC/USDT", orders).Snapshot(0)
	require.Len(t, snap.Bids, 2)
	require.Len(t, snap.Asks, 1)
	assert.True(t, snap.Bids[0].Price.Equal(d("101")))
	assert.True(t, snap.Bids[1].Amount.Equal(d("2.5")))
	assert.True(t, snap.Asks[0].Price.Equal(d("103")))

	top := BuildBook("BTC/USDT", orders).Snapshot(1)
	assert.Len(t, top.Bids, 1)
}

func TestUpdateRemovesZeroLevels(t *testing.T) {
	ob := NewOrderbook("BTC/USDT")
	ob.Update(model.SideSell, d("10"), d("1"))
	ob.Update(model.SideSell, d("9"), d("1"))
	ob.Update(model.SideSell, d("10"), decimal.Zero)

	_, asks := ob.GetCopy()
	require.Len(t, asks, 1)
	assert.True(t, asks[0].Price.Equal(d("9")))

	tk := ob.Ticker(d("9.5"))
	assert.True(t, tk.BestAsk.Equal(d("9")))
	assert.True(t, tk.BestBid.IsZero())
}

func TestStatsAndCandles(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	trades := []model.Trade{
		{Price: d("11"), Amount: d("1"), ExecutedAt: base.Add(90 * time.Second)},
		{Price: d("10"), Amount: d("2"), ExecutedAt: base},
		{Price: d("12"), Amount: d("1"), ExecutedAt: base.Add(30 * time.Second)},
	}

	s := Stats("BTC/USDT", trades)
	assert.True(t, s.Open.Equal(d("10")))
	assert.True(t, s.Last.Equal(d("11")))
	assert.True(t, s.High.Equal(d("12")))
	assert.True(t, s.Low.Equal(d("10")))
	assert.True(t, s.Volume.Equal(d("4")))
	assert.Equal(t, 3, s.TradeCount)

	candles := Candles(trades, time.Minute, 0)
	require.Len(t, candles, 2)
	assert.True(t, candles[0].Close.Equal(d("12")))
	assert.True(t, candles[0].Volume.Equal(d("3")))
	assert.Equal(t, base.Add(time.Minute), candles[1].OpenTime)

	assert.Len(t, Candles(trades, time.Minute, 1), 1)
}
