package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/GoPolymarket/ordergate/internal/cache"
	"github.com/GoPolymarket/ordergate/internal/model"
	"github.com/GoPolymarket/ordergate/internal/pkg/apperrors"
	"github.com/GoPolymarket/ordergate/internal/pkg/logger"
	"github.com/GoPolymarket/ordergate/internal/pkg/metrics"
	"github.com/GoPolymarket/ordergate/internal/ratelimit"
	"github.com/shopspring/decimal"
)

// Stage is a step of the per-request pipeline. Audit entries record the
// stage a request had reached when it was rejected.
type Stage string

const (
	StageReceived         Stage = "RECEIVED"
	StageRateChecked      Stage = "RATE_CHECKED"
	StageValidated        Stage = "VALIDATED"
	StageCacheHit         Stage = "CACHE_HIT"
	StageExecuted         Stage = "EXECUTED"
	StageCacheInvalidated Stage = "CACHE_INVALIDATED"
	StageAudited          Stage = "AUDITED"
	StageResponded        Stage = "RESPONDED"
)

const (
	defaultBookDepth   = 50
	defaultTradeLimit  = 100
	defaultCandleLimit = 200
)

type GatewayOptions struct {
	// LargeOrderValue is the notional at which an order is also recorded as
	// a financial event. Zero disables it.
	LargeOrderValue decimal.Decimal
	BookDepth       int
}

// GatewayService runs each inbound request through admission, validation,
// cache and audit before and after the order handler.
type GatewayService struct {
	limiter   *ratelimit.Limiter
	validator *Validator
	cache     *cache.Store
	audit     *AuditService
	executor  OrderExecutor
	reader    MarketReader
	opts      GatewayOptions
	halted    atomic.Bool
}

func NewGatewayService(limiter *ratelimit.Limiter, validator *Validator, store *cache.Store, audit *AuditService, executor OrderExecutor, reader MarketReader, opts GatewayOptions) *GatewayService {
	if opts.BookDepth <= 0 {
		opts.BookDepth = defaultBookDepth
	}
	return &GatewayService{
		limiter:   limiter,
		validator: validator,
		cache:     store,
		audit:     audit,
		executor:  executor,
		reader:    reader,
		opts:      opts,
	}
}

// flow tracks one request through the pipeline.
type flow struct {
	op       string
	class    string
	actor    *model.Actor
	meta     model.RequestMeta
	stage    Stage
	decision ratelimit.Decision
}

func (f *flow) actorID() string {
	return actorIDOf(f.actor)
}

func actorIDOf(a *model.Actor) string {
	if a == nil {
		return ""
	}
	return a.ID
}

// identifier keys the rate limiter: the actor when known, else the client IP.
func (f *flow) identifier() string {
	if f.actor != nil && f.actor.ID != "" {
		return f.actor.ID
	}
	return "ip:" + f.meta.IP
}

func newFlow(op, class string, actor *model.Actor, meta model.RequestMeta) *flow {
	return &flow{op: op, class: class, actor: actor, meta: meta, stage: StageReceived}
}

// admit consults the limiter for the flow's class.
func (s *GatewayService) admit(ctx context.Context, f *flow) error {
	d, err := s.limiter.CheckClass(ctx, f.class, f.identifier())
	f.decision = d
	if err != nil {
		return err
	}
	if !d.Allowed {
		return apperrors.NewRateLimited(d.ResetAt)
	}
	f.stage = StageRateChecked
	return nil
}

// checkpoint stops the pipeline when the caller has gone away.
func checkpoint(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return apperrors.New(apperrors.ErrCancelled, "request cancelled", err)
	}
	return nil
}

// reject audits a failed flow and escalates critical kinds.
func (s *GatewayService) reject(ctx context.Context, f *flow, err error) error {
	appErr := apperrors.Wrap(err)
	s.audit.LogRejection(ctx, f.actorID(), f.op, string(f.stage), appErr, f.meta, map[string]interface{}{
		"class": f.class,
	})
	if apperrors.IsCritical(appErr.Type) {
		metrics.CriticalFailures.WithLabelValues(f.op, string(appErr.Type)).Inc()
		logger.Critical(ctx, appErr, "gateway dependency failure",
			"operation", f.op, "stage", string(f.stage), "actor_id", f.actorID(), "request_id", f.meta.RequestID)
	}
	f.stage = StageResponded
	return appErr
}

// executionError classifies an order handler failure.
func executionError(ctx context.Context, err error) error {
	var appErr *apperrors.AppError
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, model.ErrNotFound):
		return apperrors.New(apperrors.ErrReferentialMissing, "referenced record no longer exists", err)
	case errors.Is(err, context.DeadlineExceeded):
		return apperrors.NewTransient("order handler timed out", err)
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		return apperrors.New(apperrors.ErrCancelled, "request cancelled", err)
	default:
		return apperrors.New(apperrors.ErrInternal, "order handler failed", err)
	}
}

// invalidate drops read-model keys made stale by a mutation. It runs even if
// the caller has gone away since the mutation already happened.
func (s *GatewayService) invalidate(ctx context.Context, f *flow, keys []string) {
	cache.Invalidate(context.WithoutCancel(ctx), s.cache, keys...)
	f.stage = StageCacheInvalidated
}

// Halt suspends order mutations until Resume.
func (s *GatewayService) Halt(ctx context.Context, actor *model.Actor, meta model.RequestMeta) (ratelimit.Decision, error) {
	return s.setHalted(ctx, actor, meta, "halt_trading", true)
}

func (s *GatewayService) Resume(ctx context.Context, actor *model.Actor, meta model.RequestMeta) (ratelimit.Decision, error) {
	return s.setHalted(ctx, actor, meta, "resume_trading", false)
}

func (s *GatewayService) setHalted(ctx context.Context, actor *model.Actor, meta model.RequestMeta, action string, halted bool) (ratelimit.Decision, error) {
	f := newFlow(action, ratelimit.ClassAdmin, actor, meta)
	if err := s.admit(ctx, f); err != nil {
		return f.decision, s.reject(ctx, f, err)
	}
	s.halted.Store(halted)
	s.audit.LogAdmin(ctx, f.actorID(), action, meta, nil)
	return f.decision, nil
}

func (s *GatewayService) Halted() bool {
	return s.halted.Load()
}

func errHalted() error {
	return apperrors.New(apperrors.ErrForbidden, "trading is halted", nil)
}

// PlaceOrder admits, validates and executes a new order for actor.
func (s *GatewayService) PlaceOrder(ctx context.Context, actor *model.Actor, meta model.RequestMeta, req model.OrderRequest) (*model.Order, ratelimit.Decision, error) {
	f := newFlow("place_order", ratelimit.ClassOrder, actor, meta)

	if err := s.admit(ctx, f); err != nil {
		return nil, f.decision, s.reject(ctx, f, err)
	}
	if s.Halted() {
		return nil, f.decision, s.reject(ctx, f, errHalted())
	}
	if req.UserID == "" {
		req.UserID = f.actorID()
	} else if req.UserID != f.actorID() && !actor.IsAdmin() {
		return nil, f.decision, s.reject(ctx, f, apperrors.New(apperrors.ErrForbidden, "orders may only be placed for the authenticated user", nil))
	}
	if err := checkpoint(ctx); err != nil {
		return nil, f.decision, s.reject(ctx, f, err)
	}

	res, err := s.validator.Validate(ctx, req)
	if err != nil {
		return nil, f.decision, s.reject(ctx, f, err)
	}
	if !res.IsValid() {
		return nil, f.decision, s.reject(ctx, f, ResultError(res))
	}
	f.stage = StageValidated
	if err := checkpoint(ctx); err != nil {
		return nil, f.decision, s.reject(ctx, f, err)
	}

	order, err := s.executor.CreateOrder(ctx, res.Order)
	if err != nil {
		return nil, f.decision, s.reject(ctx, f, executionError(ctx, err))
	}
	f.stage = StageExecuted

	keys := cache.AffectedKeys(order.TradingPair, order.UserID)
	if order.Type == model.OrderTypeMarket {
		keys = append(keys, cache.PriceKey(order.TradingPair), cache.StatsKey(order.TradingPair))
	}
	s.invalidate(ctx, f, keys)

	details := map[string]interface{}{
		"trading_pair": order.TradingPair,
		"type":         string(order.Type),
		"side":         string(order.Side),
		"amount":       order.Amount.String(),
		"price":        order.Price.String(),
		"notional":     res.Order.Notional.String(),
		"stage":        string(f.stage),
	}
	s.audit.LogTrading(ctx, f.actorID(), EventOrderPlaced, order.ID, meta, details)
	if s.opts.LargeOrderValue.IsPositive() && res.Order.Notional.GreaterThanOrEqual(s.opts.LargeOrderValue) {
		s.audit.LogFinancial(ctx, f.actorID(), EventLargeOrder, res.Order.Notional, meta, map[string]interface{}{
			"order_id":     order.ID,
			"trading_pair": order.TradingPair,
		})
	}
	f.stage = StageAudited
	return order, f.decision, nil
}

// UpdateOrder amends a resting order owned by actor.
func (s *GatewayService) UpdateOrder(ctx context.Context, actor *model.Actor, meta model.RequestMeta, orderID string, req model.OrderUpdateRequest) (*model.Order, ratelimit.Decision, error) {
	f := newFlow("update_order", ratelimit.ClassTrading, actor, meta)

	if err := s.admit(ctx, f); err != nil {
		return nil, f.decision, s.reject(ctx, f, err)
	}
	if s.Halted() {
		return nil, f.decision, s.reject(ctx, f, errHalted())
	}
	res, err := s.validator.ValidateUpdate(ctx, f.actorID(), orderID, req)
	if err != nil {
		return nil, f.decision, s.reject(ctx, f, err)
	}
	if !res.IsValid() {
		return nil, f.decision, s.reject(ctx, f, ResultError(res))
	}
	f.stage = StageValidated
	if err := checkpoint(ctx); err != nil {
		return nil, f.decision, s.reject(ctx, f, err)
	}

	order, err := s.executor.UpdateOrder(ctx, res.Update)
	if err != nil {
		return nil, f.decision, s.reject(ctx, f, executionError(ctx, err))
	}
	f.stage = StageExecuted
	s.invalidate(ctx, f, cache.AffectedKeys(order.TradingPair, order.UserID))

	s.audit.LogTrading(ctx, f.actorID(), EventOrderUpdated, order.ID, meta, map[string]interface{}{
		"trading_pair": order.TradingPair,
		"amount":       order.Amount.String(),
		"price":        order.Price.String(),
		"stage":        string(f.stage),
	})
	f.stage = StageAudited
	return order, f.decision, nil
}

// CancelOrder cancels a resting order owned by actor. Cancellation stays
// available while trading is halted.
func (s *GatewayService) CancelOrder(ctx context.Context, actor *model.Actor, meta model.RequestMeta, orderID string) (*model.Order, ratelimit.Decision, error) {
	f := newFlow("cancel_order", ratelimit.ClassTrading, actor, meta)

	if err := s.admit(ctx, f); err != nil {
		return nil, f.decision, s.reject(ctx, f, err)
	}
	res, err := s.validator.ValidateCancellation(ctx, f.actorID(), orderID)
	if err != nil {
		return nil, f.decision, s.reject(ctx, f, err)
	}
	if !res.IsValid() {
		return nil, f.decision, s.reject(ctx, f, ResultError(res))
	}
	f.stage = StageValidated
	if err := checkpoint(ctx); err != nil {
		return nil, f.decision, s.reject(ctx, f, err)
	}

	order, err := s.executor.CancelOrder(ctx, res.Update.OrderID)
	if err != nil {
		return nil, f.decision, s.reject(ctx, f, executionError(ctx, err))
	}
	f.stage = StageExecuted
	s.invalidate(ctx, f, cache.AffectedKeys(order.TradingPair, order.UserID))

	s.audit.LogTrading(ctx, f.actorID(), EventOrderCancelled, order.ID, meta, map[string]interface{}{
		"trading_pair": order.TradingPair,
		"stage":        string(f.stage),
	})
	f.stage = StageAudited
	return order, f.decision, nil
}

// RejectMalformed admits a request whose body could not be decoded under
// class, then audits it and returns the matching validation error. An
// exhausted quota is reported instead of the decode failure.
func (s *GatewayService) RejectMalformed(ctx context.Context, actor *model.Actor, meta model.RequestMeta, op, class string, cause error) (ratelimit.Decision, error) {
	f := newFlow(op, class, actor, meta)
	if err := s.admit(ctx, f); err != nil {
		return f.decision, s.reject(ctx, f, err)
	}
	err := apperrors.New(apperrors.ErrValidationFailed, "malformed request body", cause).WithFields([]apperrors.FieldError{{
		Field: "body", Code: apperrors.CodeInvalidFormat, Message: "request body must be a JSON object",
	}})
	return f.decision, s.reject(ctx, f, err)
}

// readError classifies a failed read against the system of record.
func readError(ctx context.Context, err error) error {
	var appErr *apperrors.AppError
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, model.ErrNotFound):
		return apperrors.New(apperrors.ErrNotFound, "resource not found", err)
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		return apperrors.New(apperrors.ErrCancelled, "request cancelled", err)
	default:
		return apperrors.NewTransient("market data unavailable", err)
	}
}

// cachedRead admits a read, then serves it through the cache. Successful
// reads are not audited; rejections are.
func cachedRead[T any](ctx context.Context, s *GatewayService, f *flow, class cache.Class, key string, fetch func(context.Context) (T, error)) (T, ratelimit.Decision, error) {
	var zero T
	if err := s.admit(ctx, f); err != nil {
		return zero, f.decision, s.reject(ctx, f, err)
	}
	f.stage = StageValidated
	v, hit, err := cache.GetOrFetch(ctx, s.cache, class, key, fetch)
	if err != nil {
		return zero, f.decision, s.reject(ctx, f, readError(ctx, err))
	}
	if hit {
		f.stage = StageCacheHit
	} else {
		f.stage = StageExecuted
	}
	return v, f.decision, nil
}

// NormalizePair upper-cases a pair and accepts BASE-QUOTE for BASE/QUOTE.
func NormalizePair(pair string) string {
	return strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(pair)), "-", "/")
}

func (s *GatewayService) Ticker(ctx context.Context, actor *model.Actor, meta model.RequestMeta, pair string) (*model.Ticker, ratelimit.Decision, error) {
	pair = NormalizePair(pair)
	f := newFlow("get_ticker", ratelimit.ClassAPI, actor, meta)
	return cachedRead(ctx, s, f, cache.ClassPrice, cache.PriceKey(pair), func(ctx context.Context) (*model.Ticker, error) {
		return s.reader.Ticker(ctx, pair)
	})
}

func (s *GatewayService) OrderBook(ctx context.Context, actor *model.Actor, meta model.RequestMeta, pair string) (*model.OrderBookSnapshot, ratelimit.Decision, error) {
	pair = NormalizePair(pair)
	f := newFlow("get_orderbook", ratelimit.ClassAPI, actor, meta)
	return cachedRead(ctx, s, f, cache.ClassOrderBook, cache.OrderBookKey(pair), func(ctx context.Context) (*model.OrderBookSnapshot, error) {
		return s.reader.OrderBook(ctx, pair, s.opts.BookDepth)
	})
}

func (s *GatewayService) RecentTrades(ctx context.Context, actor *model.Actor, meta model.RequestMeta, pair string) ([]model.Trade, ratelimit.Decision, error) {
	pair = NormalizePair(pair)
	f := newFlow("get_trades", ratelimit.ClassAPI, actor, meta)
	return cachedRead(ctx, s, f, cache.ClassTrades, cache.TradesKey(pair), func(ctx context.Context) ([]model.Trade, error) {
		return s.reader.RecentTrades(ctx, pair, defaultTradeLimit)
	})
}

func (s *GatewayService) Stats(ctx context.Context, actor *model.Actor, meta model.RequestMeta, pair string) (*model.MarketStats, ratelimit.Decision, error) {
	pair = NormalizePair(pair)
	f := newFlow("get_stats", ratelimit.ClassAPI, actor, meta)
	return cachedRead(ctx, s, f, cache.ClassStats, cache.StatsKey(pair), func(ctx context.Context) (*model.MarketStats, error) {
		return s.reader.Stats(ctx, pair)
	})
}

func (s *GatewayService) Candles(ctx context.Context, actor *model.Actor, meta model.RequestMeta, pair, interval string) ([]model.Candle, ratelimit.Decision, error) {
	pair = NormalizePair(pair)
	f := newFlow("get_candles", ratelimit.ClassAPI, actor, meta)
	step, err := time.ParseDuration(interval)
	if err != nil || step < time.Minute {
		err = apperrors.NewInvalidRequest(fmt.Sprintf("invalid candle interval %q", interval)).WithFields([]apperrors.FieldError{{
			Field: "interval", Code: apperrors.CodeInvalidFormat, Message: "interval must be a duration of at least 1m, e.g. 5m or 1h",
		}})
		return nil, f.decision, s.reject(ctx, f, err)
	}
	return cachedRead(ctx, s, f, cache.ClassChart, cache.ChartKey(pair, interval), func(ctx context.Context) ([]model.Candle, error) {
		return s.reader.Candles(ctx, pair, step, defaultCandleLimit)
	})
}

func (s *GatewayService) Balances(ctx context.Context, actor *model.Actor, meta model.RequestMeta) (map[string]decimal.Decimal, ratelimit.Decision, error) {
	f := newFlow("get_balances", ratelimit.ClassAPI, actor, meta)
	return cachedRead(ctx, s, f, cache.ClassBalance, cache.BalanceKey(f.actorID()), func(ctx context.Context) (map[string]decimal.Decimal, error) {
		return s.reader.Balances(ctx, f.actorID())
	})
}

func (s *GatewayService) OpenOrders(ctx context.Context, actor *model.Actor, meta model.RequestMeta) ([]model.Order, ratelimit.Decision, error) {
	f := newFlow("get_orders", ratelimit.ClassAPI, actor, meta)
	return cachedRead(ctx, s, f, cache.ClassOrders, cache.OrdersKey(f.actorID()), func(ctx context.Context) ([]model.Order, error) {
		return s.reader.OpenOrders(ctx, f.actorID())
	})
}

// RateLimitStatus reports actor's quota for class without consuming it.
func (s *GatewayService) RateLimitStatus(ctx context.Context, actor *model.Actor, meta model.RequestMeta, class string) (ratelimit.Decision, error) {
	f := newFlow("rate_limit_status", strings.ToLower(class), actor, meta)
	return s.limiter.StatusClass(ctx, f.class, f.identifier())
}

// AuditLogs serves an admin audit query and records the access.
func (s *GatewayService) AuditLogs(ctx context.Context, actor *model.Actor, meta model.RequestMeta, filter model.AuditFilter, page model.Pagination) (*model.AuditPage, ratelimit.Decision, error) {
	f := newFlow("list_audit", ratelimit.ClassAdmin, actor, meta)
	if err := s.admit(ctx, f); err != nil {
		return nil, f.decision, s.reject(ctx, f, err)
	}
	s.audit.LogAdmin(ctx, f.actorID(), "list_audit", meta, map[string]interface{}{
		"filter_actor": filter.ActorID,
		"filter_event": filter.Event,
		"filter_level": string(filter.Level),
	})
	result, err := s.audit.GetAuditLogs(ctx, filter, page)
	if err != nil {
		return nil, f.decision, s.reject(ctx, f, err)
	}
	return result, f.decision, nil
}

func (s *GatewayService) UserActivity(ctx context.Context, actor *model.Actor, meta model.RequestMeta, userID string, from, to time.Time) (*model.ActivitySummary, ratelimit.Decision, error) {
	f := newFlow("user_activity", ratelimit.ClassAdmin, actor, meta)
	if err := s.admit(ctx, f); err != nil {
		return nil, f.decision, s.reject(ctx, f, err)
	}
	s.audit.LogAdmin(ctx, f.actorID(), "user_activity_summary", meta, map[string]interface{}{"user_id": userID})
	summary, err := s.audit.GetUserActivitySummary(ctx, userID, from, to)
	if err != nil {
		return nil, f.decision, s.reject(ctx, f, err)
	}
	return summary, f.decision, nil
}
