package repository

import (
	"context"
	"errors"
	"time"

	"github.com/GoPolymarket/ordergate/internal/market"
	"github.com/GoPolymarket/ordergate/internal/model"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var terminalStatuses = []string{string(model.OrderStatusFilled), string(model.OrderStatusCancelled)}

// GormLedger is the database-backed system of record. It serves the
// validator's lookups, executes admitted orders and answers market reads.
type GormLedger struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormLedger(db *gorm.DB) *GormLedger {
	return &GormLedger{db: db, now: time.Now}
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.ErrNotFound
	}
	return err
}

// SaveAccount upserts a user and replaces its balances.
func (l *GormLedger) SaveAccount(ctx context.Context, a model.Account, apiKey, role string) error {
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user := userRecord{ID: a.ID, Active: a.Active, Role: role, APIKey: apiKey, CreatedAt: l.now().UTC()}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"active", "role", "api_key"}),
		}).Create(&user).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", a.ID).Delete(&balanceRecord{}).Error; err != nil {
			return err
		}
		for asset, amount := range a.Balances {
			if err := tx.Create(&balanceRecord{UserID: a.ID, Asset: asset, Amount: amount}).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (l *GormLedger) SavePair(ctx context.Context, p model.TradingPair) error {
	rec := pairRecord{
		Symbol:     p.Symbol,
		BaseAsset:  p.BaseAsset,
		QuoteAsset: p.QuoteAsset,
		Active:     p.Active,
		LastPrice:  p.LastPrice,
	}
	return l.db.WithContext(ctx).Save(&rec).Error
}

func (l *GormLedger) GetUser(ctx context.Context, id string) (*model.Account, error) {
	var user userRecord
	if err := l.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	balances, err := l.balances(l.db.WithContext(ctx), id)
	if err != nil {
		return nil, err
	}
	return &model.Account{ID: user.ID, Active: user.Active, Balances: balances}, nil
}

func (l *GormLedger) balances(tx *gorm.DB, userID string) (map[string]decimal.Decimal, error) {
	var rows []balanceRecord
	if err := tx.Where("user_id = ?", userID).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]decimal.Decimal, len(rows))
	for _, r := range rows {
		out[r.Asset] = r.Amount
	}
	return out, nil
}

// GetActorByAPIKey resolves a stored gateway key for the actor registry.
func (l *GormLedger) GetActorByAPIKey(ctx context.Context, apiKey string) (*model.Actor, error) {
	var user userRecord
	if err := l.db.WithContext(ctx).First(&user, "api_key = ? AND active = ?", apiKey, true).Error; err != nil {
		return nil, notFound(err)
	}
	role := user.Role
	if role == "" {
		role = model.RoleTrader
	}
	return &model.Actor{ID: user.ID, Role: role, APIKey: apiKey}, nil
}

func (l *GormLedger) GetTradingPair(ctx context.Context, symbol string) (*model.TradingPair, error) {
	var rec pairRecord
	if err := l.db.WithContext(ctx).First(&rec, "symbol = ?", symbol).Error; err != nil {
		return nil, notFound(err)
	}
	return rec.toModel(), nil
}

// GetDailyVolume sums the notional of orders placed by userID since since.
func (l *GormLedger) GetDailyVolume(ctx context.Context, userID string, since time.Time) (decimal.Decimal, error) {
	var rows []orderRecord
	if err := l.db.WithContext(ctx).
		Select("amount", "price").
		Where("user_id = ? AND created_at >= ?", userID, since.UTC()).
		Find(&rows).Error; err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, r := range rows {
		total = total.Add(r.Amount.Mul(r.Price))
	}
	return total, nil
}

func (l *GormLedger) CountOpenOrders(ctx context.Context, userID string) (int, error) {
	var n int64
	err := l.db.WithContext(ctx).Model(&orderRecord{}).
		Where("user_id = ? AND status NOT IN ?", userID, terminalStatuses).
		Count(&n).Error
	return int(n), err
}

func (l *GormLedger) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	var rec orderRecord
	if err := l.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	o := rec.toModel()
	return &o, nil
}

// CreateOrder records an admitted order. MARKET orders fill at the pair's
// last price and settle balances in the same transaction.
func (l *GormLedger) CreateOrder(ctx context.Context, in *model.SanitizedOrder) (*model.Order, error) {
	now := l.now().UTC()
	rec := orderRecord{
		ID:          uuid.NewString(),
		UserID:      in.UserID,
		TradingPair: in.TradingPair,
		Type:        string(in.Type),
		Side:        string(in.Side),
		Amount:      in.Amount,
		Price:       in.Price,
		Status:      string(model.OrderStatusOpen),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var pair pairRecord
		if err := tx.First(&pair, "symbol = ?", in.TradingPair).Error; err != nil {
			return notFound(err)
		}
		if in.Type == model.OrderTypeMarket {
			rec.Price = pair.LastPrice
			rec.Filled = in.Amount
			rec.Status = string(model.OrderStatusFilled)
		}
		if err := tx.Create(&rec).Error; err != nil {
			return err
		}
		if in.Type != model.OrderTypeMarket {
			return nil
		}
		if err := settle(tx, rec, pair); err != nil {
			return err
		}
		return tx.Create(&tradeRecord{
			ID:          uuid.NewString(),
			OrderID:     rec.ID,
			TradingPair: rec.TradingPair,
			Price:       rec.Price,
			Amount:      rec.Amount,
			Side:        rec.Side,
			ExecutedAt:  now,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	o := rec.toModel()
	return &o, nil
}

// settle moves balances for a filled order inside tx.
func settle(tx *gorm.DB, o orderRecord, pair pairRecord) error {
	notional := o.Amount.Mul(o.Price)
	base, quote := o.Amount, notional.Neg()
	if model.Side(o.Side) == model.SideSell {
		base, quote = o.Amount.Neg(), notional
	}
	if err := adjustBalance(tx, o.UserID, pair.BaseAsset, base); err != nil {
		return err
	}
	return adjustBalance(tx, o.UserID, pair.QuoteAsset, quote)
}

func adjustBalance(tx *gorm.DB, userID, asset string, delta decimal.Decimal) error {
	var bal balanceRecord
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&bal, "user_id = ? AND asset = ?", userID, asset).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		bal = balanceRecord{UserID: userID, Asset: asset}
	case err != nil:
		return err
	}
	bal.Amount = bal.Amount.Add(delta)
	return tx.Save(&bal).Error
}

func (l *GormLedger) UpdateOrder(ctx context.Context, u *model.SanitizedUpdate) (*model.Order, error) {
	res := l.db.WithContext(ctx).Model(&orderRecord{}).
		Where("id = ? AND status NOT IN ?", u.OrderID, terminalStatuses).
		Updates(map[string]interface{}{
			"amount":     u.Amount,
			"price":      u.Price,
			"updated_at": l.now().UTC(),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, model.ErrNotFound
	}
	return l.GetOrder(ctx, u.OrderID)
}

func (l *GormLedger) CancelOrder(ctx context.Context, orderID string) (*model.Order, error) {
	res := l.db.WithContext(ctx).Model(&orderRecord{}).
		Where("id = ? AND status NOT IN ?", orderID, terminalStatuses).
		Updates(map[string]interface{}{
			"status":     string(model.OrderStatusCancelled),
			"updated_at": l.now().UTC(),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, model.ErrNotFound
	}
	return l.GetOrder(ctx, orderID)
}

func (l *GormLedger) restingOrders(ctx context.Context, pair string) ([]model.Order, error) {
	var rows []orderRecord
	if err := l.db.WithContext(ctx).
		Where("trading_pair = ? AND status NOT IN ? AND type <> ?", pair, terminalStatuses, string(model.OrderTypeMarket)).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]model.Order, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

func (l *GormLedger) Ticker(ctx context.Context, pair string) (*model.Ticker, error) {
	p, err := l.GetTradingPair(ctx, pair)
	if err != nil {
		return nil, err
	}
	orders, err := l.restingOrders(ctx, pair)
	if err != nil {
		return nil, err
	}
	return market.BuildBook(pair, orders).Ticker(p.LastPrice), nil
}

func (l *GormLedger) OrderBook(ctx context.Context, pair string, depth int) (*model.OrderBookSnapshot, error) {
	if _, err := l.GetTradingPair(ctx, pair); err != nil {
		return nil, err
	}
	orders, err := l.restingOrders(ctx, pair)
	if err != nil {
		return nil, err
	}
	return market.BuildBook(pair, orders).Snapshot(depth), nil
}

func (l *GormLedger) trades(ctx context.Context, pair string, since time.Time, limit int) ([]model.Trade, error) {
	q := l.db.WithContext(ctx).Where("trading_pair = ?", pair)
	if !since.IsZero() {
		q = q.Where("executed_at >= ?", since.UTC())
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []tradeRecord
	if err := q.Order("executed_at DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]model.Trade, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

func (l *GormLedger) RecentTrades(ctx context.Context, pair string, limit int) ([]model.Trade, error) {
	if _, err := l.GetTradingPair(ctx, pair); err != nil {
		return nil, err
	}
	return l.trades(ctx, pair, time.Time{}, limit)
}

func (l *GormLedger) Stats(ctx context.Context, pair string) (*model.MarketStats, error) {
	if _, err := l.GetTradingPair(ctx, pair); err != nil {
		return nil, err
	}
	trades, err := l.trades(ctx, pair, l.now().Add(-24*time.Hour), 0)
	if err != nil {
		return nil, err
	}
	return market.Stats(pair, trades), nil
}

func (l *GormLedger) Candles(ctx context.Context, pair string, interval time.Duration, limit int) ([]model.Candle, error) {
	if _, err := l.GetTradingPair(ctx, pair); err != nil {
		return nil, err
	}
	var since time.Time
	if limit > 0 {
		since = l.now().Add(-interval * time.Duration(limit))
	}
	trades, err := l.trades(ctx, pair, since, 0)
	if err != nil {
		return nil, err
	}
	return market.Candles(trades, interval, limit), nil
}

func (l *GormLedger) Balances(ctx context.Context, userID string) (map[string]decimal.Decimal, error) {
	var user userRecord
	if err := l.db.WithContext(ctx).Select("id").First(&user, "id = ?", userID).Error; err != nil {
		return nil, notFound(err)
	}
	return l.balances(l.db.WithContext(ctx), userID)
}

func (l *GormLedger) OpenOrders(ctx context.Context, userID string) ([]model.Order, error) {
	var rows []orderRecord
	if err := l.db.WithContext(ctx).
		Where("user_id = ? AND status NOT IN ?", userID, terminalStatuses).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]model.Order, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}
