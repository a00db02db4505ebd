// Package processor implements the Processor Registry & Router (C8,
// spec.md §4.8): a lookup from transaction type to a capability-interface
// Processor, replacing the teacher's lack of a template-method hierarchy
// with Go's natural equivalent — a small interface (Validate/PreProcess/
// DoProcess/PostProcess) implemented per transaction type, composed by
// ordinary function calls instead of inheritance. The map-keyed registry
// shape follows Memoh's Registry (other_examples), generalized from
// channel adapters to transaction processors.
package processor

import (
	"context"
	"fmt"
	"sync"

	"github.com/paynet/fep/internal/ferr"
	"github.com/paynet/fep/internal/model"
	"github.com/paynet/fep/internal/pipeline"
)

// Processor is the capability interface every transaction type implements.
// Validate rejects structurally invalid requests; PreProcess performs
// side-effect-free preparation (e.g. normalizing fields); DoProcess
// performs the actual business operation and produces a response;
// PostProcess runs cleanup/enrichment after a response exists (e.g.
// recording usage), and only runs if DoProcess succeeded.
type Processor interface {
	Type() model.TransactionType
	Validate(ctx context.Context, req *model.TransactionRequest) error
	PreProcess(ctx context.Context, req *model.TransactionRequest) error
	DoProcess(ctx context.Context, req *model.TransactionRequest) (*model.TransactionResponse, error)
	PostProcess(ctx context.Context, req *model.TransactionRequest, resp *model.TransactionResponse) error
}

// Registry resolves a Processor by transaction type.
type Registry struct {
	mu         sync.RWMutex
	processors map[model.TransactionType]Processor
}

func NewRegistry() *Registry {
	return &Registry{processors: make(map[model.TransactionType]Processor)}
}

// Register adds or replaces the processor for its declared Type().
func (r *Registry) Register(p Processor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processors[p.Type()] = p
}

// Resolve returns the processor for txType.
func (r *Registry) Resolve(txType model.TransactionType) (Processor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.processors[txType]
	if !ok {
		return nil, ferr.Transaction(model.RespNotPermitted, "NO_PROCESSOR", fmt.Sprintf("no processor registered for %s", txType))
	}
	return p, nil
}

const extensionKeyProcessor = "processor.selected"

// RoutingHandler resolves the target processor for pipeline.StageRouting
// and stashes it in the pipeline Context for the PROCESSING stage.
func RoutingHandler(reg *Registry) pipeline.Handler {
	return pipeline.NewHandlerFunc("resolve-processor", func(ctx context.Context, pctx *pipeline.Context) error {
		p, err := reg.Resolve(pctx.Request.Type)
		if err != nil {
			return err
		}
		pctx.Extensions[extensionKeyProcessor] = p
		return nil
	})
}

// ProcessingHandler runs the Validate -> PreProcess -> DoProcess ->
// PostProcess sequence for pipeline.StageProcessing, using the processor
// stashed by RoutingHandler.
func ProcessingHandler() pipeline.Handler {
	return pipeline.NewHandlerFunc("invoke-processor", func(ctx context.Context, pctx *pipeline.Context) error {
		raw, ok := pctx.Extensions[extensionKeyProcessor]
		if !ok {
			return ferr.System("processing stage reached with no routed processor", nil)
		}
		p := raw.(Processor)

		if err := p.Validate(ctx, pctx.Request); err != nil {
			return err
		}
		if err := p.PreProcess(ctx, pctx.Request); err != nil {
			return err
		}
		resp, err := p.DoProcess(ctx, pctx.Request)
		if err != nil {
			return err
		}
		pctx.Response = resp
		if err := p.PostProcess(ctx, pctx.Request, resp); err != nil {
			return err
		}
		return nil
	})
}
