package repository

import (
	"time"

	"github.com/GoPolymarket/ordergate/internal/model"
	"github.com/shopspring/decimal"
)

type userRecord struct {
	ID        string `gorm:"primaryKey;size:64"`
	Active    bool
	Role      string `gorm:"size:16"`
	APIKey    string `gorm:"column:api_key;size:128;index"`
	CreatedAt time.Time
}

func (userRecord) TableName() string { return "users" }

type balanceRecord struct {
	UserID string          `gorm:"primaryKey;size:64"`
	Asset  string          `gorm:"primaryKey;size:16"`
	Amount decimal.Decimal `gorm:"type:numeric(36,18)"`
}

func (balanceRecord) TableName() string { return "balances" }

type pairRecord struct {
	Symbol     string `gorm:"primaryKey;size:32"`
	BaseAsset  string `gorm:"size:16"`
	QuoteAsset string `gorm:"size:16"`
	Active     bool
	LastPrice  decimal.Decimal `gorm:"type:numeric(36,18)"`
}

func (pairRecord) TableName() string { return "trading_pairs" }

func (r pairRecord) toModel() *model.TradingPair {
	return &model.TradingPair{
		Symbol:     r.Symbol,
		BaseAsset:  r.BaseAsset,
		QuoteAsset: r.QuoteAsset,
		Active:     r.Active,
		LastPrice:  r.LastPrice,
	}
}

type orderRecord struct {
	ID          string          `gorm:"primaryKey;size:36"`
	UserID      string          `gorm:"size:64;index:idx_orders_user_status"`
	TradingPair string          `gorm:"size:32;index"`
	Type        string          `gorm:"size:16"`
	Side        string          `gorm:"size:4"`
	Amount      decimal.Decimal `gorm:"type:numeric(36,18)"`
	Filled      decimal.Decimal `gorm:"type:numeric(36,18)"`
	Price       decimal.Decimal `gorm:"type:numeric(36,18)"`
	Status      string          `gorm:"size:20;index:idx_orders_user_status"`
	CreatedAt   time.Time       `gorm:"index"`
	UpdatedAt   time.Time
}

func (orderRecord) TableName() string { return "orders" }

func (r orderRecord) toModel() model.Order {
	return model.Order{
		ID:          r.ID,
		UserID:      r.UserID,
		TradingPair: r.TradingPair,
		Type:        model.OrderType(r.Type),
		Side:        model.Side(r.Side),
		Amount:      r.Amount,
		Filled:      r.Filled,
		Price:       r.Price,
		Status:      model.OrderStatus(r.Status),
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

type tradeRecord struct {
	ID          string          `gorm:"primaryKey;size:36"`
	OrderID     string          `gorm:"size:36"`
	TradingPair string          `gorm:"size:32;index:idx_trades_pair_time"`
	Price       decimal.Decimal `gorm:"type:numeric(36,18)"`
	Amount      decimal.Decimal `gorm:"type:numeric(36,18)"`
	Side        string          `gorm:"size:4"`
	ExecutedAt  time.Time       `gorm:"index:idx_trades_pair_time"`
}

func (tradeRecord) TableName() string { return "trades" }

func (r tradeRecord) toModel() model.Trade {
	return model.Trade{
		ID:          r.ID,
		TradingPair: r.TradingPair,
		Price:       r.Price,
		Amount:      r.Amount,
		Side:        model.Side(r.Side),
		ExecutedAt:  r.ExecutedAt,
	}
}

type auditRecord struct {
	ID          string                 `gorm:"primaryKey;size:36"`
	Timestamp   time.Time              `gorm:"column:logged_at;index"`
	ActorID     string                 `gorm:"size:64;index"`
	Event       string                 `gorm:"size:64;index"`
	Level       string                 `gorm:"size:16"`
	Description string                 `gorm:"type:text"`
	Metadata    map[string]interface{} `gorm:"serializer:json;type:text"`
	IP          string                 `gorm:"size:64"`
	UserAgent   string                 `gorm:"type:text"`
	RequestID   string                 `gorm:"size:64"`
}

func (auditRecord) TableName() string { return "audit_logs" }

func auditRecordFrom(e *model.AuditEntry) *auditRecord {
	return &auditRecord{
		ID:          e.ID,
		Timestamp:   e.Timestamp.UTC(),
		ActorID:     e.ActorID,
		Event:       e.Event,
		Level:       string(e.Level),
		Description: e.Description,
		Metadata:    e.Metadata,
		IP:          e.IP,
		UserAgent:   e.UserAgent,
		RequestID:   e.RequestID,
	}
}

func (r auditRecord) toModel() *model.AuditEntry {
	return &model.AuditEntry{
		ID:          r.ID,
		Timestamp:   r.Timestamp,
		ActorID:     r.ActorID,
		Event:       r.Event,
		Level:       model.AuditLevel(r.Level),
		Description: r.Description,
		Metadata:    r.Metadata,
		IP:          r.IP,
		UserAgent:   r.UserAgent,
		RequestID:   r.RequestID,
	}
}
