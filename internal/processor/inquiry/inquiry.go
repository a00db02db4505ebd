// Package inquiry is an illustrative Processor for TxnBalanceInquiry. See
// internal/processor/withdrawal's package doc for why this stays minimal:
// domain-specific processor bodies are out of scope beyond their contract
// with the pipeline (spec.md §1 Non-goals).
package inquiry

import (
	"context"

	"github.com/paynet/fep/internal/ferr"
	"github.com/paynet/fep/internal/model"
)

// BalanceLookup is the narrow external collaborator a deployment wires in
// for actual balance retrieval (named only by interface, per spec.md §1's
// Non-goals on downstream core-banking integrations).
type BalanceLookup interface {
	Balance(ctx context.Context, account string) (model.Money, error)
}

// staticZeroBalance is the default BalanceLookup when none is configured:
// it always reports a zero balance with currency code XXX (ISO 4217 "no
// currency"), sufficient to exercise the pipeline without a real ledger.
type staticZeroBalance struct{}

func (staticZeroBalance) Balance(ctx context.Context, account string) (model.Money, error) {
	return model.Money{Currency: "XXX"}, nil
}

// Processor handles TxnBalanceInquiry requests.
type Processor struct {
	lookup BalanceLookup
}

// New constructs a Processor. A nil lookup falls back to a zero-balance stub.
func New(lookup BalanceLookup) *Processor {
	if lookup == nil {
		lookup = staticZeroBalance{}
	}
	return &Processor{lookup: lookup}
}

func (p *Processor) Type() model.TransactionType { return model.TxnBalanceInquiry }

func (p *Processor) Validate(ctx context.Context, req *model.TransactionRequest) error {
	if req.SourceAccount == "" {
		return ferr.Transaction(model.RespNotPermitted, "MISSING_SOURCE_ACCOUNT", "balance inquiry requires a source account")
	}
	return nil
}

func (p *Processor) PreProcess(ctx context.Context, req *model.TransactionRequest) error { return nil }

func (p *Processor) DoProcess(ctx context.Context, req *model.TransactionRequest) (*model.TransactionResponse, error) {
	balance, err := p.lookup.Balance(ctx, req.SourceAccount)
	if err != nil {
		return nil, ferr.System("balance lookup failed", err)
	}
	return &model.TransactionResponse{
		ResponseCode: model.RespApproved,
		Approved:     true,
		RRN:          req.RRN,
		STAN:         req.STAN,
		Extensions:   map[string]string{"availableBalance": balance.String()},
	}, nil
}

func (p *Processor) PostProcess(ctx context.Context, req *model.TransactionRequest, resp *model.TransactionResponse) error {
	return nil
}
