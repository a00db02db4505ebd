// Package limits implements the Limit Manager & Validators (C9, spec.md
// §4.9): field validators consumed by the VALIDATION stage, plus
// per-customer/per-type single/daily/monthly usage counters. The
// request-shape validators mirror the field-checking style of the
// teacher's producer health/config validation (producer/health.go),
// generalized from service health checks to per-field transaction checks.
package limits

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/paynet/fep/internal/ferr"
	"github.com/paynet/fep/internal/model"
	"github.com/paynet/fep/internal/pipeline"
)

// CardValidator enforces card number length and optional Luhn/expiry
// checks (spec.md §4.9: length 13-19, Luhn if configured, not expired).
type CardValidator struct {
	RequireLuhn bool
	Now         func() time.Time
}

func (v CardValidator) now() time.Time {
	if v.Now != nil {
		return v.Now()
	}
	return time.Now()
}

// Handler returns a pipeline.Handler for the VALIDATION stage.
func (v CardValidator) Handler() pipeline.Handler {
	return pipeline.NewHandlerFunc("card-validator", func(ctx context.Context, pctx *pipeline.Context) error {
		return v.Validate(pctx.Request)
	})
}

func (v CardValidator) Validate(req *model.TransactionRequest) error {
	pan := req.CardNumberRaw
	if pan == "" {
		return nil // channels without card data (e.g. pure account-to-account transfer) skip this validator
	}
	if len(pan) < 13 || len(pan) > 19 {
		return ferr.Transaction(model.RespInvalidCard, "INVALID_CARD_LENGTH", fmt.Sprintf("card number length %d out of range 13-19", len(pan)))
	}
	if v.RequireLuhn && !luhnValid(pan) {
		return ferr.Transaction(model.RespInvalidCard, "LUHN_CHECK_FAILED", "card number failed Luhn check")
	}
	if req.CardExpiry != "" {
		if expired, err := isExpired(req.CardExpiry, v.now()) ; err != nil {
			return ferr.Transaction(model.RespInvalidCard, "INVALID_EXPIRY", err.Error())
		} else if expired {
			return ferr.Transaction(model.RespExpiredCard, "CARD_EXPIRED", "card expiry "+req.CardExpiry+" has passed")
		}
	}
	return nil
}

func luhnValid(pan string) bool {
	sum := 0
	alt := false
	for i := len(pan) - 1; i >= 0; i-- {
		d := int(pan[i] - '0')
		if d < 0 || d > 9 {
			return false
		}
		if alt {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		alt = !alt
	}
	return sum%10 == 0
}

// isExpired interprets expiry as YYMM, expired once the current date is
// past the last day of that month.
func isExpired(expiry string, now time.Time) (bool, error) {
	if len(expiry) != 4 {
		return false, fmt.Errorf("expiry must be YYMM, got %q", expiry)
	}
	yy, err := strconv.Atoi(expiry[:2])
	if err != nil {
		return false, fmt.Errorf("invalid expiry year %q", expiry[:2])
	}
	mm, err := strconv.Atoi(expiry[2:])
	if err != nil || mm < 1 || mm > 12 {
		return false, fmt.Errorf("invalid expiry month %q", expiry[2:])
	}
	year := 2000 + yy
	firstOfNextMonth := time.Date(year, time.Month(mm)+1, 1, 0, 0, 0, 0, time.UTC)
	return !now.Before(firstOfNextMonth), nil
}

// AmountRule configures AmountValidator for one transaction type.
type AmountRule struct {
	Min      model.Money
	Max      model.Money
	MultipleOfMinorUnits int64 // 0 disables the multiple-of check
}

// AmountValidator enforces positivity and per-type min/max/multiple-of
// rules.
type AmountValidator struct {
	Rules map[model.TransactionType]AmountRule
}

func (v AmountValidator) Handler() pipeline.Handler {
	return pipeline.NewHandlerFunc("amount-validator", func(ctx context.Context, pctx *pipeline.Context) error {
		return v.Validate(pctx.Request)
	})
}

func (v AmountValidator) Validate(req *model.TransactionRequest) error {
	if !req.Amount.IsPositive() {
		return ferr.Transaction(model.RespNotPermitted, "NON_POSITIVE_AMOUNT", "amount must be positive")
	}
	rule, ok := v.Rules[req.Type]
	if !ok {
		return nil
	}
	if rule.Min.Currency != "" && req.Amount.LessThan(rule.Min) {
		return ferr.Transaction(model.RespNotPermitted, "AMOUNT_BELOW_MINIMUM", fmt.Sprintf("amount %s below minimum %s", req.Amount, rule.Min))
	}
	if rule.Max.Currency != "" && req.Amount.GreaterThan(rule.Max) {
		return ferr.Transaction(model.RespExceedsWithdrawLimit, "AMOUNT_ABOVE_MAXIMUM", fmt.Sprintf("amount %s above maximum %s", req.Amount, rule.Max))
	}
	if rule.MultipleOfMinorUnits > 0 && req.Amount.MinorUnits%rule.MultipleOfMinorUnits != 0 {
		return ferr.Transaction(model.RespNotPermitted, "AMOUNT_NOT_MULTIPLE", fmt.Sprintf("amount must be a multiple of %d minor units", rule.MultipleOfMinorUnits))
	}
	return nil
}

// PinBlockValidator requires a non-empty PIN block for configured types.
type PinBlockValidator struct {
	RequiredFor map[model.TransactionType]bool
}

func (v PinBlockValidator) Handler() pipeline.Handler {
	return pipeline.NewHandlerFunc("pin-block-validator", func(ctx context.Context, pctx *pipeline.Context) error {
		return v.Validate(pctx.Request)
	})
}

func (v PinBlockValidator) Validate(req *model.TransactionRequest) error {
	if v.RequiredFor[req.Type] && req.PINBlock == "" {
		return ferr.Transaction(model.RespNotPermitted, "PIN_REQUIRED", "PIN block is required for "+string(req.Type))
	}
	return nil
}

// TerminalIDValidator requires a non-empty terminal id.
type TerminalIDValidator struct{}

func (v TerminalIDValidator) Handler() pipeline.Handler {
	return pipeline.NewHandlerFunc("terminal-id-validator", func(ctx context.Context, pctx *pipeline.Context) error {
		return v.Validate(pctx.Request)
	})
}

func (v TerminalIDValidator) Validate(req *model.TransactionRequest) error {
	if req.TerminalID == "" {
		return ferr.Transaction(model.RespNotPermitted, "MISSING_TERMINAL_ID", "terminal id is required")
	}
	return nil
}
