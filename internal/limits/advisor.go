package limits

import (
	"context"

	"github.com/paynet/fep/internal/ferr"
	"github.com/paynet/fep/internal/model"
	"github.com/paynet/fep/internal/pipeline"
)

// Advisor is the core-owned seam through which the Limit Manager consults
// an optional external limit/liquidity authority (e.g. a core-banking
// host) before approving a transaction. spec.md §1 names downstream
// core-banking integrations only by interface; internal/limits/grpcadvisor
// is one concrete (gRPC) implementation, but nothing in this package
// imports grpc directly.
type Advisor interface {
	CheckExternalLimit(ctx context.Context, req ExternalLimitRequest) (ExternalLimitResponse, error)
}

// ExternalLimitRequest is the narrow request shape an Advisor needs: it
// deliberately omits card/PIN data since an external limit authority only
// ever reasons about customer+type+amount.
type ExternalLimitRequest struct {
	CustomerID       string
	Type             string
	AmountMinorUnits int64
	Currency         string
}

// ExternalLimitResponse is what an Advisor decides.
type ExternalLimitResponse struct {
	Approved            bool
	ReasonCode          string
	AvailableMinorUnits int64
}

// AdvisorHandler returns a pipeline.Handler for the VALIDATION stage that
// consults an optional Advisor after the in-process limit counters pass. A
// nil Advisor disables the check entirely (no external collaborator
// configured).
func AdvisorHandler(advisor Advisor) pipeline.Handler {
	return pipeline.NewHandlerFunc("external-limit-advisor", func(ctx context.Context, pctx *pipeline.Context) error {
		if advisor == nil {
			return nil
		}
		req := pctx.Request
		resp, err := advisor.CheckExternalLimit(ctx, ExternalLimitRequest{
			CustomerID:       req.CustomerID,
			Type:             string(req.Type),
			AmountMinorUnits: req.Amount.MinorUnits,
			Currency:         req.Amount.Currency,
		})
		if err != nil {
			return ferr.System("external limit advisor unreachable", err)
		}
		if !resp.Approved {
			return ferr.Transaction(model.RespExceedsWithdrawLimit, "EXTERNAL_LIMIT_DECLINED", "external limit advisor declined: "+resp.ReasonCode)
		}
		return nil
	})
}
