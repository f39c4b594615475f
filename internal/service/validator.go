package service

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/GoPolymarket/ordergate/internal/config"
	"github.com/GoPolymarket/ordergate/internal/model"
	"github.com/GoPolymarket/ordergate/internal/pkg/apperrors"
	"github.com/GoPolymarket/ordergate/internal/pkg/metrics"
	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/shopspring/decimal"
)

var pairPattern = regexp.MustCompile(`^[A-Z0-9]{2,10}/[A-Z0-9]{2,10}$`)

// OrderLimits are the structural bounds and risk ceilings applied to orders.
type OrderLimits struct {
	MinOrderSize    decimal.Decimal
	MaxOrderSize    decimal.Decimal
	MinPrice        decimal.Decimal
	MaxPrice        decimal.Decimal
	AmountPrecision int32
	PricePrecision  int32
	MaxOrderValue   decimal.Decimal
	MaxDailyVolume  decimal.Decimal
	MaxOpenOrders   int
}

func LimitsFromConfig(cfg config.ValidationConfig) OrderLimits {
	return OrderLimits{
		MinOrderSize:    decimal.NewFromFloat(cfg.MinOrderSize),
		MaxOrderSize:    decimal.NewFromFloat(cfg.MaxOrderSize),
		MinPrice:        decimal.NewFromFloat(cfg.MinPrice),
		MaxPrice:        decimal.NewFromFloat(cfg.MaxPrice),
		AmountPrecision: cfg.AmountPrecision,
		PricePrecision:  cfg.PricePrecision,
		MaxOrderValue:   decimal.NewFromFloat(cfg.MaxOrderValue),
		MaxDailyVolume:  decimal.NewFromFloat(cfg.MaxDailyVolume),
		MaxOpenOrders:   cfg.MaxOpenOrders,
	}
}

// Validator turns untrusted order input into a SanitizedOrder or a complete
// list of field errors. Stages run in order: sanitize, structural,
// referential, balance, risk. The last three consult the ledger and only run
// on structurally sound orders.
type Validator struct {
	ledger        Ledger
	limits        OrderLimits
	ledgerTimeout time.Duration
	structs       *validator.Validate
	sanitizer     *bluemonday.Policy
	now           func() time.Time
}

func NewValidator(cfg config.ValidationConfig, ledger Ledger) *Validator {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("pair", func(fl validator.FieldLevel) bool {
		return pairPattern.MatchString(fl.Field().String())
	})

	timeout := cfg.LedgerTimeout()
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Validator{
		ledger:        ledger,
		limits:        LimitsFromConfig(cfg),
		ledgerTimeout: timeout,
		structs:       v,
		sanitizer:     bluemonday.StrictPolicy(),
		now:           time.Now,
	}
}

// Validate runs every stage against req. A non-nil error means the ledger
// could not be consulted; the order is then neither valid nor invalid.
func (v *Validator) Validate(ctx context.Context, req model.OrderRequest) (model.ValidationResult, error) {
	order, errs := v.sanitize(req)
	if len(errs) > 0 {
		return v.reject(errs), nil
	}
	if errs = v.structural(order); len(errs) > 0 {
		return v.reject(errs), nil
	}

	ctx, cancel := context.WithTimeout(ctx, v.ledgerTimeout)
	defer cancel()

	pair, account, errs, err := v.referential(ctx, order)
	if err != nil {
		return model.ValidationResult{}, err
	}
	if len(errs) > 0 {
		return v.reject(errs), nil
	}

	price := order.Price
	if order.Type == model.OrderTypeMarket {
		price = pair.LastPrice
		if !price.IsPositive() {
			return v.reject([]apperrors.FieldError{{
				Field: "price", Code: apperrors.CodePriceUnavailable,
				Message: fmt.Sprintf("no reference price available for %s", pair.Symbol),
			}}), nil
		}
	}
	order.Notional = order.Amount.Mul(price)

	errs = v.balance(order, pair, account)
	riskErrs, err := v.risk(ctx, order.UserID, order.Notional, order.Notional, true)
	if err != nil {
		return model.ValidationResult{}, err
	}
	errs = append(errs, riskErrs...)
	if len(errs) > 0 {
		return v.reject(errs), nil
	}
	return model.Valid(order), nil
}

// ValidateUpdate checks that requester may amend orderID and that the
// amended order passes the referential, balance and risk stages.
func (v *Validator) ValidateUpdate(ctx context.Context, requester, orderID string, req model.OrderUpdateRequest) (model.ValidationResult, error) {
	ctx, cancel := context.WithTimeout(ctx, v.ledgerTimeout)
	defer cancel()

	existing, errs, err := v.mutable(ctx, requester, orderID)
	if err != nil {
		return model.ValidationResult{}, err
	}
	if len(errs) > 0 {
		return v.reject(errs), nil
	}

	update := &model.SanitizedUpdate{
		OrderID: existing.ID,
		Amount:  existing.Amount,
		Price:   existing.Price,
	}
	if req.Amount == "" && req.Price == "" {
		return v.reject([]apperrors.FieldError{{
			Field: "amount", Code: apperrors.CodeRequired, Message: "amount or price is required",
		}}), nil
	}
	if req.Amount != "" {
		amount, fe := v.parseNumber("amount", string(req.Amount))
		if fe != nil {
			errs = append(errs, *fe)
		} else {
			update.Amount = amount
			errs = append(errs, v.checkBounds("amount", amount, v.limits.MinOrderSize, v.limits.MaxOrderSize, v.limits.AmountPrecision)...)
			if amount.LessThan(existing.Filled) {
				errs = append(errs, apperrors.FieldError{
					Field: "amount", Code: apperrors.CodeBelowMinimum,
					Message: fmt.Sprintf("amount cannot be below filled quantity %s", existing.Filled),
				})
			}
		}
	}
	if req.Price != "" {
		if existing.Type == model.OrderTypeMarket {
			errs = append(errs, apperrors.FieldError{
				Field: "price", Code: apperrors.CodeOrderNotModifiable, Message: "market orders have no price",
			})
		} else if price, fe := v.parseNumber("price", string(req.Price)); fe != nil {
			errs = append(errs, *fe)
		} else {
			update.Price = price
			errs = append(errs, v.checkBounds("price", price, v.limits.MinPrice, v.limits.MaxPrice, v.limits.PricePrecision)...)
		}
	}
	if len(errs) > 0 {
		return v.reject(errs), nil
	}

	update.Notional = update.Amount.Mul(update.Price)

	// The amended order must still pass the checks a new order would.
	amended := &model.SanitizedOrder{
		Type:        existing.Type,
		Side:        existing.Side,
		Amount:      update.Amount,
		Price:       update.Price,
		HasPrice:    true,
		TradingPair: existing.TradingPair,
		UserID:      existing.UserID,
		Notional:    update.Notional,
	}
	pair, account, errs, err := v.referential(ctx, amended)
	if err != nil {
		return model.ValidationResult{}, err
	}
	if len(errs) > 0 {
		return v.reject(errs), nil
	}

	errs = v.balance(amended, pair, account)
	// the resting order already counts toward daily volume and open orders
	added := update.Notional.Sub(existing.Amount.Mul(existing.Price))
	riskErrs, err := v.risk(ctx, amended.UserID, update.Notional, added, false)
	if err != nil {
		return model.ValidationResult{}, err
	}
	errs = append(errs, riskErrs...)
	if len(errs) > 0 {
		return v.reject(errs), nil
	}
	return model.ValidUpdate(update), nil
}

// ValidateCancellation checks that requester may cancel orderID.
func (v *Validator) ValidateCancellation(ctx context.Context, requester, orderID string) (model.ValidationResult, error) {
	ctx, cancel := context.WithTimeout(ctx, v.ledgerTimeout)
	defer cancel()

	existing, errs, err := v.mutable(ctx, requester, orderID)
	if err != nil {
		return model.ValidationResult{}, err
	}
	if len(errs) > 0 {
		return v.reject(errs), nil
	}
	return model.ValidUpdate(&model.SanitizedUpdate{
		OrderID:  existing.ID,
		Amount:   existing.Amount,
		Price:    existing.Price,
		Notional: existing.Amount.Mul(existing.Price),
	}), nil
}

func (v *Validator) reject(errs []apperrors.FieldError) model.ValidationResult {
	for _, fe := range errs {
		metrics.ValidationRejects.WithLabelValues(fe.Code).Inc()
	}
	return model.Invalid(errs)
}

func (v *Validator) cleanText(s string) string {
	return strings.TrimSpace(v.sanitizer.Sanitize(strings.TrimSpace(s)))
}

func (v *Validator) sanitize(req model.OrderRequest) (*model.SanitizedOrder, []apperrors.FieldError) {
	order := &model.SanitizedOrder{
		Type:          model.OrderType(strings.ToUpper(v.cleanText(req.Type))),
		Side:          model.Side(strings.ToUpper(v.cleanText(req.Side))),
		TradingPair:   strings.ToUpper(v.cleanText(req.TradingPair)),
		UserID:        v.cleanText(req.UserID),
		ClientOrderID: v.cleanText(req.ClientOrderID),
	}

	var errs []apperrors.FieldError
	if req.Amount == "" {
		errs = append(errs, apperrors.FieldError{Field: "amount", Code: apperrors.CodeRequired, Message: "amount is required"})
	} else if amount, fe := v.parseNumber("amount", string(req.Amount)); fe != nil {
		errs = append(errs, *fe)
	} else {
		order.Amount = amount
	}
	if req.Price != "" {
		if price, fe := v.parseNumber("price", string(req.Price)); fe != nil {
			errs = append(errs, *fe)
		} else {
			order.Price = price
			order.HasPrice = true
		}
	}
	return order, errs
}

func (v *Validator) parseNumber(field, raw string) (decimal.Decimal, *apperrors.FieldError) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, &apperrors.FieldError{
			Field: field, Code: apperrors.CodeInvalidNumber,
			Message: fmt.Sprintf("%s must be a number", field),
		}
	}
	return d, nil
}

func (v *Validator) structural(order *model.SanitizedOrder) []apperrors.FieldError {
	var errs []apperrors.FieldError
	if err := v.structs.Struct(order); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return []apperrors.FieldError{{Field: "order", Code: apperrors.CodeInvalidFormat, Message: err.Error()}}
		}
		for _, fe := range verrs {
			errs = append(errs, tagError(fe))
		}
	}

	errs = append(errs, v.checkBounds("amount", order.Amount, v.limits.MinOrderSize, v.limits.MaxOrderSize, v.limits.AmountPrecision)...)

	switch {
	case order.HasPrice:
		errs = append(errs, v.checkBounds("price", order.Price, v.limits.MinPrice, v.limits.MaxPrice, v.limits.PricePrecision)...)
	case order.Type != model.OrderTypeMarket:
		errs = append(errs, apperrors.FieldError{
			Field: "price", Code: apperrors.CodePriceRequired,
			Message: fmt.Sprintf("price is required for %s orders", orderTypeLabel(order.Type)),
		})
	}
	return errs
}

func orderTypeLabel(t model.OrderType) string {
	if t == "" {
		return "non-market"
	}
	return string(t)
}

func tagError(fe validator.FieldError) apperrors.FieldError {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return apperrors.FieldError{Field: field, Code: apperrors.CodeRequired, Message: fmt.Sprintf("%s is required", field)}
	case "oneof":
		code := apperrors.CodeInvalidFormat
		switch field {
		case "type":
			code = apperrors.CodeInvalidType
		case "side":
			code = apperrors.CodeInvalidSide
		}
		return apperrors.FieldError{Field: field, Code: code, Message: fmt.Sprintf("%s must be one of %s", field, fe.Param())}
	case "pair":
		return apperrors.FieldError{Field: field, Code: apperrors.CodeInvalidFormat, Message: "trading pair must look like BASE/QUOTE"}
	default:
		return apperrors.FieldError{Field: field, Code: apperrors.CodeInvalidFormat, Message: fmt.Sprintf("%s failed %s check", field, fe.Tag())}
	}
}

// checkBounds enforces positivity, the [min, max] range and the decimal
// precision. Precision is counted on the normalized value so trailing zeros
// never count.
func (v *Validator) checkBounds(field string, d, min, max decimal.Decimal, precision int32) []apperrors.FieldError {
	var errs []apperrors.FieldError
	switch {
	case !d.IsPositive():
		errs = append(errs, apperrors.FieldError{Field: field, Code: apperrors.CodeMustBePositive, Message: fmt.Sprintf("%s must be positive", field)})
	case min.IsPositive() && d.LessThan(min):
		errs = append(errs, apperrors.FieldError{Field: field, Code: apperrors.CodeBelowMinimum, Message: fmt.Sprintf("%s must be at least %s", field, min)})
	case max.IsPositive() && d.GreaterThan(max):
		errs = append(errs, apperrors.FieldError{Field: field, Code: apperrors.CodeAboveMaximum, Message: fmt.Sprintf("%s must be at most %s", field, max)})
	}
	if places := decimalPlaces(d); places > precision {
		errs = append(errs, apperrors.FieldError{
			Field: field, Code: apperrors.CodePrecisionExceeded,
			Message: fmt.Sprintf("%s allows at most %d decimal places", field, precision),
		})
	}
	return errs
}

func decimalPlaces(d decimal.Decimal) int32 {
	s := d.String()
	idx := strings.IndexByte(s, '.')
	if idx < 0 {
		return 0
	}
	return int32(len(s) - idx - 1)
}

func (v *Validator) referential(ctx context.Context, order *model.SanitizedOrder) (*model.TradingPair, *model.Account, []apperrors.FieldError, error) {
	var errs []apperrors.FieldError

	pair, err := v.ledger.GetTradingPair(ctx, order.TradingPair)
	switch {
	case errors.Is(err, model.ErrNotFound):
		errs = append(errs, apperrors.FieldError{Field: "tradingPair", Code: apperrors.CodePairNotFound, Message: fmt.Sprintf("trading pair %s does not exist", order.TradingPair)})
	case err != nil:
		return nil, nil, nil, ledgerError(ctx, "trading pair lookup", err)
	case !pair.Active:
		errs = append(errs, apperrors.FieldError{Field: "tradingPair", Code: apperrors.CodePairInactive, Message: fmt.Sprintf("trading pair %s is not active", order.TradingPair)})
	}

	account, err := v.ledger.GetUser(ctx, order.UserID)
	switch {
	case errors.Is(err, model.ErrNotFound):
		errs = append(errs, apperrors.FieldError{Field: "userId", Code: apperrors.CodeUserNotFound, Message: "user does not exist"})
	case err != nil:
		return nil, nil, nil, ledgerError(ctx, "user lookup", err)
	case !account.Active:
		errs = append(errs, apperrors.FieldError{Field: "userId", Code: apperrors.CodeUserInactive, Message: "user is not active"})
	}
	return pair, account, errs, nil
}

func (v *Validator) balance(order *model.SanitizedOrder, pair *model.TradingPair, account *model.Account) []apperrors.FieldError {
	if order.Side == model.SideBuy {
		available := account.Balance(pair.QuoteAsset)
		if order.Notional.GreaterThan(available) {
			return []apperrors.FieldError{{
				Field: "amount", Code: apperrors.CodeInsufficientFunds,
				Message: fmt.Sprintf("order value %s exceeds available %s balance %s", order.Notional, pair.QuoteAsset, available),
			}}
		}
		return nil
	}
	available := account.Balance(pair.BaseAsset)
	if order.Amount.GreaterThan(available) {
		return []apperrors.FieldError{{
			Field: "amount", Code: apperrors.CodeInsufficientFunds,
			Message: fmt.Sprintf("amount %s exceeds available %s balance %s", order.Amount, pair.BaseAsset, available),
		}}
	}
	return nil
}

// risk checks the order ceilings for userID. added is the notional the
// request adds to the daily volume; opens reports whether it creates a new
// open order.
func (v *Validator) risk(ctx context.Context, userID string, notional, added decimal.Decimal, opens bool) ([]apperrors.FieldError, error) {
	var errs []apperrors.FieldError
	l := v.limits

	if l.MaxOrderValue.IsPositive() && notional.GreaterThan(l.MaxOrderValue) {
		errs = append(errs, apperrors.FieldError{
			Field: "amount", Code: apperrors.CodeMaxOrderValue,
			Message: fmt.Sprintf("order value %s exceeds limit %s", notional, l.MaxOrderValue),
		})
	}

	if l.MaxDailyVolume.IsPositive() && added.IsPositive() {
		volume, err := v.ledger.GetDailyVolume(ctx, userID, v.now().Add(-24*time.Hour))
		if err != nil {
			return nil, ledgerError(ctx, "daily volume lookup", err)
		}
		if volume.Add(added).GreaterThan(l.MaxDailyVolume) {
			errs = append(errs, apperrors.FieldError{
				Field: "amount", Code: apperrors.CodeDailyVolume,
				Message: fmt.Sprintf("daily volume %s plus order value %s exceeds limit %s", volume, added, l.MaxDailyVolume),
			})
		}
	}

	if opens && l.MaxOpenOrders > 0 {
		open, err := v.ledger.CountOpenOrders(ctx, userID)
		if err != nil {
			return nil, ledgerError(ctx, "open order count", err)
		}
		if open >= l.MaxOpenOrders {
			errs = append(errs, apperrors.FieldError{
				Field: "userId", Code: apperrors.CodeMaxOpenOrders,
				Message: fmt.Sprintf("open order limit %d reached", l.MaxOpenOrders),
			})
		}
	}
	return errs, nil
}

// mutable loads orderID and checks ownership and state.
func (v *Validator) mutable(ctx context.Context, requester, orderID string) (*model.Order, []apperrors.FieldError, error) {
	existing, err := v.ledger.GetOrder(ctx, orderID)
	if errors.Is(err, model.ErrNotFound) {
		return nil, []apperrors.FieldError{{Field: "orderId", Code: apperrors.CodeOrderNotFound, Message: "order does not exist"}}, nil
	}
	if err != nil {
		return nil, nil, ledgerError(ctx, "order lookup", err)
	}
	if existing.UserID != requester {
		return nil, []apperrors.FieldError{{Field: "orderId", Code: apperrors.CodeNotOrderOwner, Message: "order belongs to another user"}}, nil
	}
	if existing.Status.Terminal() {
		return nil, []apperrors.FieldError{{
			Field: "status", Code: apperrors.CodeOrderNotModifiable,
			Message: fmt.Sprintf("order is %s and can no longer be modified", existing.Status),
		}}, nil
	}
	return existing, nil, nil
}

// ledgerError classifies a failed ledger call. Timeouts and outages are
// transient; the order is never reported invalid because of them.
func ledgerError(ctx context.Context, op string, err error) error {
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return apperrors.New(apperrors.ErrCancelled, "request cancelled during "+op, err)
	}
	return apperrors.NewTransient(op+" failed", err)
}

// ResultError converts an invalid result into the rejection kind it
// represents.
func ResultError(res model.ValidationResult) *apperrors.AppError {
	if res.IsValid() {
		return nil
	}
	kind := apperrors.ErrValidationFailed
	rank := 0
	for _, fe := range res.Errors {
		k, r := codeKind(fe.Code)
		if r > rank {
			kind, rank = k, r
		}
	}
	return apperrors.New(kind, res.Errors[0].Message, nil).WithFields(res.Errors)
}

func codeKind(code string) (apperrors.ErrorType, int) {
	switch code {
	case apperrors.CodeNotOrderOwner:
		return apperrors.ErrForbidden, 5
	case apperrors.CodePairNotFound, apperrors.CodeUserNotFound, apperrors.CodeOrderNotFound:
		return apperrors.ErrReferentialMissing, 4
	case apperrors.CodeInsufficientFunds:
		return apperrors.ErrInsufficientFunds, 3
	case apperrors.CodeMaxOrderValue, apperrors.CodeDailyVolume, apperrors.CodeMaxOpenOrders:
		return apperrors.ErrRiskLimit, 2
	default:
		return apperrors.ErrValidationFailed, 1
	}
}
