package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/GoPolymarket/ordergate/internal/cache"
	"github.com/GoPolymarket/ordergate/internal/config"
	"github.com/GoPolymarket/ordergate/internal/model"
	"github.com/GoPolymarket/ordergate/internal/pkg/apperrors"
	"github.com/GoPolymarket/ordergate/internal/ratelimit"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type gatewayHarness struct {
	gw     *GatewayService
	ledger *MemoryLedger
	store  *cache.Store
	audit  *AuditService
}

func newHarness(t *testing.T, ledger Ledger, policies map[string]ratelimit.Policy) *gatewayHarness {
	t.Helper()
	mem := seededLedger()
	if ledger == nil {
		ledger = mem
	}
	if policies == nil {
		policies = map[string]ratelimit.Policy{
			ratelimit.ClassOrder:   {Window: time.Minute, MaxRequests: 100, FailMode: ratelimit.FailClosed},
			ratelimit.ClassTrading: {Window: time.Minute, MaxRequests: 100, FailMode: ratelimit.FailClosed},
			ratelimit.ClassAPI:     {Window: time.Minute, MaxRequests: 100, FailMode: ratelimit.FailOpen},
			ratelimit.ClassAdmin:   {Window: time.Minute, MaxRequests: 100, FailMode: ratelimit.FailOpen},
		}
	}
	cfg := config.Default().Validation
	cfg.LedgerTimeoutMs = 50
	store := cache.NewMemoryStore(cache.DefaultTTLPolicy())
	audit := newTestAudit(t, nil)
	gw := NewGatewayService(
		ratelimit.New(ratelimit.NewMemoryStore(), policies, time.Hour),
		NewValidator(cfg, ledger),
		store, audit, mem, mem,
		GatewayOptions{LargeOrderValue: decimal.NewFromInt(10)},
	)
	return &gatewayHarness{gw: gw, ledger: mem, store: store, audit: audit}
}

func (h *gatewayHarness) events(t *testing.T, event string) []*model.AuditEntry {
	t.Helper()
	page, err := h.audit.GetAuditLogs(context.Background(), model.AuditFilter{Event: event}, model.Pagination{Limit: 1000})
	require.NoError(t, err)
	return page.Entries
}

func (h *gatewayHarness) all(t *testing.T) []*model.AuditEntry {
	return h.events(t, "")
}

var trader = &model.Actor{ID: "u1", Role: model.RoleTrader}

func TestPlaceOrderHappyPath(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()
	h.store.Set(ctx, cache.OrderBookKey("BTC/USDT"), []byte(`{}`), time.Minute)
	h.store.Set(ctx, cache.BalanceKey("u1"), []byte(`{}`), time.Minute)

	order, d, err := h.gw.PlaceOrder(ctx, trader, model.RequestMeta{RequestID: "r1"}, limit("1", "5"))
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusOpen, order.Status)
	assert.Equal(t, "u1", order.UserID)
	assert.Equal(t, 99, d.Remaining)

	assert.False(t, h.store.Exists(ctx, cache.OrderBookKey("BTC/USDT")))
	assert.False(t, h.store.Exists(ctx, cache.BalanceKey("u1")))

	placed := h.events(t, EventOrderPlaced)
	require.Len(t, placed, 1)
	assert.Equal(t, "r1", placed[0].RequestID)
	assert.Equal(t, string(StageCacheInvalidated), placed[0].Metadata["stage"])
	assert.Empty(t, h.events(t, EventLargeOrder), "notional 5 is below the large order threshold")
}

func TestPlaceOrderLargeOrderIsFinancialEvent(t *testing.T) {
	h := newHarness(t, nil, nil)
	_, _, err := h.gw.PlaceOrder(context.Background(), trader, model.RequestMeta{}, limit("2", "5"))
	require.NoError(t, err)

	large := h.events(t, EventLargeOrder)
	require.Len(t, large, 1)
	assert.Equal(t, model.AuditMedium, large[0].Level)
}

func TestRejectionsProduceOneAuditEntryAtKindLevel(t *testing.T) {
	policies := map[string]ratelimit.Policy{
		ratelimit.ClassOrder: {Window: time.Minute, MaxRequests: 2, FailMode: ratelimit.FailClosed},
	}
	h := newHarness(t, nil, policies)
	ctx := context.Background()

	_, _, err := h.gw.PlaceOrder(ctx, trader, model.RequestMeta{}, limit("0.0001", "5"))
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrValidationFailed, apperrors.TypeOf(err))

	_, _, err = h.gw.PlaceOrder(ctx, trader, model.RequestMeta{}, limit("10", "5"))
	assert.Equal(t, apperrors.ErrInsufficientFunds, apperrors.TypeOf(err))

	_, d, err := h.gw.PlaceOrder(ctx, trader, model.RequestMeta{}, limit("1", "5"))
	assert.Equal(t, apperrors.ErrRateLimited, apperrors.TypeOf(err))
	assert.False(t, d.Allowed)
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	require.NotNil(t, appErr.RetryAt)

	entries := h.all(t)
	require.Len(t, entries, 3)
	byEvent := map[string]*model.AuditEntry{}
	for _, e := range entries {
		byEvent[e.Event] = e
	}
	invalid := byEvent[RejectionEvent(apperrors.ErrValidationFailed)]
	require.NotNil(t, invalid)
	assert.Equal(t, model.AuditLow, invalid.Level)
	assert.Equal(t, string(StageRateChecked), invalid.Metadata["stage"])

	limited := byEvent[RejectionEvent(apperrors.ErrRateLimited)]
	require.NotNil(t, limited)
	assert.Equal(t, model.AuditMedium, limited.Level)
	assert.Equal(t, string(StageReceived), limited.Metadata["stage"])

	assert.Equal(t, model.AuditLow, byEvent[RejectionEvent(apperrors.ErrInsufficientFunds)].Level)
}

func TestLedgerTimeoutEscalatesAsCritical(t *testing.T) {
	h := newHarness(t, slowLedger{MemoryLedger: seededLedger(), delay: time.Second}, nil)

	_, _, err := h.gw.PlaceOrder(context.Background(), trader, model.RequestMeta{}, limit("1", "5"))
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrTransient, apperrors.TypeOf(err))

	entries := h.events(t, RejectionEvent(apperrors.ErrTransient))
	require.Len(t, entries, 1)
	assert.Equal(t, model.AuditCritical, entries[0].Level)
}

func TestCancelledRequestIsStillAudited(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := h.gw.PlaceOrder(ctx, trader, model.RequestMeta{}, limit("1", "5"))
	assert.Equal(t, apperrors.ErrCancelled, apperrors.TypeOf(err))

	entries := h.events(t, RejectionEvent(apperrors.ErrCancelled))
	require.Len(t, entries, 1)
	assert.Equal(t, string(StageRateChecked), entries[0].Metadata["stage"])
	n, _ := h.ledger.CountOpenOrders(context.Background(), "u1")
	assert.Zero(t, n)
}

func TestOrderBookReadThroughSeesMutations(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()

	book, _, err := h.gw.OrderBook(ctx, trader, model.RequestMeta{}, "btc-usdt")
	require.NoError(t, err)
	assert.Empty(t, book.Bids)

	_, _, err = h.gw.PlaceOrder(ctx, trader, model.RequestMeta{}, limit("1", "5"))
	require.NoError(t, err)

	book, _, err = h.gw.OrderBook(ctx, trader, model.RequestMeta{}, "BTC/USDT")
	require.NoError(t, err)
	require.Len(t, book.Bids, 1)
	assert.True(t, book.Bids[0].Price.Equal(dec("5")))

	assert.Len(t, h.all(t), 1, "successful reads are not audited")
}

func TestReadUnknownPairIsNotFound(t *testing.T) {
	h := newHarness(t, nil, nil)
	_, _, err := h.gw.Ticker(context.Background(), trader, model.RequestMeta{}, "NOPE-USDT")
	assert.Equal(t, apperrors.ErrNotFound, apperrors.TypeOf(err))
}

func TestCancelOrderOwnershipAndHalt(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()

	order, _, err := h.gw.PlaceOrder(ctx, trader, model.RequestMeta{}, limit("1", "5"))
	require.NoError(t, err)

	intruder := &model.Actor{ID: "rich", Role: model.RoleTrader}
	_, _, err = h.gw.CancelOrder(ctx, intruder, model.RequestMeta{}, order.ID)
	assert.Equal(t, apperrors.ErrForbidden, apperrors.TypeOf(err))
	denied := h.events(t, RejectionEvent(apperrors.ErrForbidden))
	require.Len(t, denied, 1)
	assert.Equal(t, model.AuditHigh, denied[0].Level)

	_, err = h.gw.Halt(ctx, &model.Actor{ID: "ops", Role: model.RoleAdmin}, model.RequestMeta{})
	require.NoError(t, err)
	_, _, err = h.gw.PlaceOrder(ctx, trader, model.RequestMeta{}, limit("1", "5"))
	assert.Equal(t, apperrors.ErrForbidden, apperrors.TypeOf(err))

	cancelled, _, err := h.gw.CancelOrder(ctx, trader, model.RequestMeta{}, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusCancelled, cancelled.Status)

	_, _, err = h.gw.CancelOrder(ctx, trader, model.RequestMeta{}, order.ID)
	assert.Equal(t, apperrors.ErrValidationFailed, apperrors.TypeOf(err), "terminal orders cannot be cancelled twice")
}

func TestUpdateOrderInvalidatesCache(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()

	order, _, err := h.gw.PlaceOrder(ctx, trader, model.RequestMeta{}, limit("1", "5"))
	require.NoError(t, err)
	_, _, err = h.gw.OpenOrders(ctx, trader, model.RequestMeta{})
	require.NoError(t, err)
	require.True(t, h.store.Exists(ctx, cache.OrdersKey("u1")))

	updated, _, err := h.gw.UpdateOrder(ctx, trader, model.RequestMeta{}, order.ID, model.OrderUpdateRequest{Price: "6"})
	require.NoError(t, err)
	assert.True(t, updated.Price.Equal(dec("6")))
	assert.False(t, h.store.Exists(ctx, cache.OrdersKey("u1")))
}

func TestPlaceOrderForAnotherUserIsForbidden(t *testing.T) {
	h := newHarness(t, nil, nil)
	req := limit("1", "5")
	req.UserID = "rich"
	_, _, err := h.gw.PlaceOrder(context.Background(), trader, model.RequestMeta{}, req)
	assert.Equal(t, apperrors.ErrForbidden, apperrors.TypeOf(err))
}

func TestCandlesRejectsBadInterval(t *testing.T) {
	h := newHarness(t, nil, nil)
	_, _, err := h.gw.Candles(context.Background(), trader, model.RequestMeta{}, "BTC/USDT", "soon")
	assert.Equal(t, apperrors.ErrValidationFailed, apperrors.TypeOf(err))

	candles, _, err := h.gw.Candles(context.Background(), trader, model.RequestMeta{}, "BTC/USDT", "5m")
	require.NoError(t, err)
	assert.Empty(t, candles)
}

func TestUpdateOrderCannotOutgrowBalance(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()

	order, _, err := h.gw.PlaceOrder(ctx, trader, model.RequestMeta{}, limit("1", "5"))
	require.NoError(t, err)

	_, _, err = h.gw.UpdateOrder(ctx, trader, model.RequestMeta{}, order.ID, model.OrderUpdateRequest{Amount: "1000"})
	assert.Equal(t, apperrors.ErrInsufficientFunds, apperrors.TypeOf(err))

	stored, err := h.ledger.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.True(t, stored.Amount.Equal(dec("1")), "rejected amendments leave the order untouched")
}

func TestRejectMalformedIsRateLimited(t *testing.T) {
	policies := map[string]ratelimit.Policy{
		ratelimit.ClassOrder: {Window: time.Minute, MaxRequests: 1, FailMode: ratelimit.FailClosed},
	}
	h := newHarness(t, nil, policies)
	ctx := context.Background()
	cause := errors.New("unexpected EOF")

	d, err := h.gw.RejectMalformed(ctx, trader, model.RequestMeta{}, "place_order", ratelimit.ClassOrder, cause)
	assert.Equal(t, apperrors.ErrValidationFailed, apperrors.TypeOf(err))
	assert.True(t, d.Allowed)

	d, err = h.gw.RejectMalformed(ctx, trader, model.RequestMeta{}, "place_order", ratelimit.ClassOrder, cause)
	assert.Equal(t, apperrors.ErrRateLimited, apperrors.TypeOf(err))
	assert.False(t, d.Allowed)

	_, _, err = h.gw.PlaceOrder(ctx, trader, model.RequestMeta{}, limit("1", "5"))
	assert.Equal(t, apperrors.ErrRateLimited, apperrors.TypeOf(err))

	limited := h.events(t, RejectionEvent(apperrors.ErrRateLimited))
	require.Len(t, limited, 2)
	assert.Equal(t, string(StageReceived), limited[0].Metadata["stage"])
}

func TestHaltIsAdmittedUnderAdminClass(t *testing.T) {
	policies := map[string]ratelimit.Policy{
		ratelimit.ClassAdmin: {Window: time.Minute, MaxRequests: 1, FailMode: ratelimit.FailOpen},
	}
	h := newHarness(t, nil, policies)
	ctx := context.Background()
	ops := &model.Actor{ID: "ops", Role: model.RoleAdmin}

	d, err := h.gw.Halt(ctx, ops, model.RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, 1, d.Limit)
	assert.True(t, h.gw.Halted())

	_, err = h.gw.Resume(ctx, ops, model.RequestMeta{})
	assert.Equal(t, apperrors.ErrRateLimited, apperrors.TypeOf(err))
	assert.True(t, h.gw.Halted(), "a throttled resume leaves trading halted")
	assert.Len(t, h.events(t, EventAdminAction), 1)
}
