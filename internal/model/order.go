package model

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/GoPolymarket/ordergate/internal/pkg/apperrors"
	"github.com/shopspring/decimal"
)

type OrderType string

const (
	OrderTypeMarket    OrderType = "MARKET"
	OrderTypeLimit     OrderType = "LIMIT"
	OrderTypeStop      OrderType = "STOP"
	OrderTypeStopLimit OrderType = "STOP_LIMIT"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

type OrderStatus string

const (
	OrderStatusOpen            OrderStatus = "OPEN"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCancelled       OrderStatus = "CANCELLED"
)

// Terminal reports whether the order can no longer be mutated.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusFilled || s == OrderStatusCancelled
}

// RawNumber accepts a JSON number or a JSON string and keeps the literal text.
type RawNumber string

func (n *RawNumber) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*n = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*n = RawNumber(s)
		return nil
	}
	*n = RawNumber(data)
	return nil
}

// OrderRequest is untrusted order input as received from a client.
type OrderRequest struct {
	Type          string    `json:"type"`
	Side          string    `json:"side"`
	Amount        RawNumber `json:"amount"`
	Price         RawNumber `json:"price,omitempty"`
	TradingPair   string    `json:"tradingPair"`
	UserID        string    `json:"userId"`
	ClientOrderID string    `json:"clientOrderId,omitempty"`
}

// OrderUpdateRequest carries the mutable fields of a resting order.
type OrderUpdateRequest struct {
	Amount RawNumber `json:"amount,omitempty"`
	Price  RawNumber `json:"price,omitempty"`
}

// SanitizedOrder is an order that passed every validation stage.
type SanitizedOrder struct {
	Type          OrderType       `json:"type" validate:"required,oneof=MARKET LIMIT STOP STOP_LIMIT"`
	Side          Side            `json:"side" validate:"required,oneof=BUY SELL"`
	Amount        decimal.Decimal `json:"amount"`
	Price         decimal.Decimal `json:"price"`
	HasPrice      bool            `json:"-"`
	TradingPair   string          `json:"tradingPair" validate:"required,pair"`
	UserID        string          `json:"userId" validate:"required,max=64"`
	ClientOrderID string          `json:"clientOrderId,omitempty" validate:"omitempty,max=64"`
	// Notional is amount × effective price (the reference price for MARKET orders).
	Notional decimal.Decimal `json:"notional"`
}

// SanitizedUpdate is a validated mutation of an existing order.
type SanitizedUpdate struct {
	OrderID  string          `json:"orderId"`
	Amount   decimal.Decimal `json:"amount"`
	Price    decimal.Decimal `json:"price"`
	Notional decimal.Decimal `json:"notional"`
}

// Order is the system-of-record view of an order.
type Order struct {
	ID          string          `json:"id"`
	UserID      string          `json:"userId"`
	TradingPair string          `json:"tradingPair"`
	Type        OrderType       `json:"type"`
	Side        Side            `json:"side"`
	Amount      decimal.Decimal `json:"amount"`
	Filled      decimal.Decimal `json:"filled"`
	Price       decimal.Decimal `json:"price"`
	Status      OrderStatus     `json:"status"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// ValidationResult is either Valid (Order set, no errors) or Invalid (errors set).
type ValidationResult struct {
	Order  *SanitizedOrder        `json:"order,omitempty"`
	Update *SanitizedUpdate       `json:"update,omitempty"`
	Errors []apperrors.FieldError `json:"errors,omitempty"`
}

func Valid(order *SanitizedOrder) ValidationResult {
	return ValidationResult{Order: order}
}

func ValidUpdate(update *SanitizedUpdate) ValidationResult {
	return ValidationResult{Update: update}
}

func Invalid(errs []apperrors.FieldError) ValidationResult {
	return ValidationResult{Errors: errs}
}

func (r ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}
