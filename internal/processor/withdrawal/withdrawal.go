// Package withdrawal is an illustrative Processor for TxnWithdrawal.
// Per spec.md §1's Non-goals, domain-specific processor bodies are out of
// scope beyond their contract with the pipeline: this processor exercises
// the Validate/PreProcess/DoProcess/PostProcess contract and approves any
// structurally valid request, standing in for whatever core-banking
// collaborator a deployment would wire in behind the same Processor
// interface (internal/processor).
package withdrawal

import (
	"context"

	"github.com/paynet/fep/internal/ferr"
	"github.com/paynet/fep/internal/model"
)

// Processor handles TxnWithdrawal requests.
type Processor struct{}

func New() *Processor { return &Processor{} }

func (p *Processor) Type() model.TransactionType { return model.TxnWithdrawal }

func (p *Processor) Validate(ctx context.Context, req *model.TransactionRequest) error {
	if req.SourceAccount == "" {
		return ferr.Transaction(model.RespNotPermitted, "MISSING_SOURCE_ACCOUNT", "withdrawal requires a source account")
	}
	if !req.Amount.IsPositive() {
		return ferr.Transaction(model.RespNotPermitted, "NON_POSITIVE_AMOUNT", "withdrawal amount must be positive")
	}
	return nil
}

func (p *Processor) PreProcess(ctx context.Context, req *model.TransactionRequest) error {
	return nil
}

func (p *Processor) DoProcess(ctx context.Context, req *model.TransactionRequest) (*model.TransactionResponse, error) {
	return &model.TransactionResponse{
		ResponseCode:      model.RespApproved,
		Approved:          true,
		AuthorizationCode: authCodeFor(req.TransactionID),
		RRN:               req.RRN,
		STAN:              req.STAN,
	}, nil
}

func (p *Processor) PostProcess(ctx context.Context, req *model.TransactionRequest, resp *model.TransactionResponse) error {
	return nil
}

// authCodeFor derives a deterministic 6-character authorization code from
// the transaction id so repeated test runs are reproducible.
func authCodeFor(transactionID string) string {
	if len(transactionID) >= 6 {
		return transactionID[len(transactionID)-6:]
	}
	padded := "000000" + transactionID
	return padded[len(padded)-6:]
}
