package cache

import (
	"fmt"
	"strings"
	"time"
)

// Class is a family of cached data sharing one staleness bound.
type Class string

const (
	ClassPrice     Class = "price"
	ClassOrderBook Class = "orderbook"
	ClassTrades    Class = "trades"
	ClassBalance   Class = "balance"
	ClassOrders    Class = "orders"
	ClassStats     Class = "stats"
	ClassChart     Class = "chart"
)

// TTLPolicy maps a data class to its acceptable staleness.
type TTLPolicy map[Class]time.Duration

func DefaultTTLPolicy() TTLPolicy {
	return TTLPolicy{
		ClassPrice:     5 * time.Second,
		ClassOrderBook: time.Second,
		ClassTrades:    10 * time.Second,
		ClassBalance:   5 * time.Minute,
		ClassOrders:    5 * time.Minute,
		ClassStats:     time.Minute,
		ClassChart:     30 * time.Second,
	}
}

// TTLPolicyFromMillis builds a policy from config, keeping defaults for
// classes the config leaves out.
func TTLPolicyFromMillis(ms map[string]int) TTLPolicy {
	p := DefaultTTLPolicy()
	for class, v := range ms {
		if v > 0 {
			p[Class(strings.ToLower(class))] = time.Duration(v) * time.Millisecond
		}
	}
	return p
}

func (p TTLPolicy) For(class Class) time.Duration {
	if p == nil {
		return DefaultTTLPolicy()[class]
	}
	return p[class]
}

func PriceKey(pair string) string { return fmt.Sprintf("price:%s", pair) }
func OrderBookKey(pair string) string { return fmt.Sprintf("orderbook:%s", pair) }
func TradesKey(pair string) string { return fmt.Sprintf("trades:%s", pair) }
func StatsKey(pair string) string { return fmt.Sprintf("stats:%s", pair) }
func BalanceKey(userID string) string { return fmt.Sprintf("balance:%s", userID) }
func OrdersKey(userID string) string { return fmt.Sprintf("orders:%s", userID) }
func ChartKey(pair, interval string) string {
	return fmt.Sprintf("chart:%s:%s", pair, interval)
}

// AffectedKeys lists the keys made stale by a state change on pair by userID.
func AffectedKeys(pair, userID string) []string {
	return []string{
		OrderBookKey(pair),
		TradesKey(pair),
		BalanceKey(userID),
		OrdersKey(userID),
	}
}
