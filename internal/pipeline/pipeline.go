// Package pipeline implements the Transaction Pipeline (C7, spec.md §4.7):
// a single-threaded, per-request cooperative chain of five fixed-order
// stages (DUPLICATE_CHECK, VALIDATION, ROUTING, PROCESSING, AUDIT), each
// holding zero or more handlers executed in ascending declared order. The
// worker-loop shape — pull one unit of work, run it through a fixed
// sequence of steps, always audit regardless of outcome — is grounded on
// the teacher's consumer processMessages loop (consumer/main.go), which
// always acknowledges/logs a message whether or not processing succeeded.
package pipeline

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/paynet/fep/internal/ferr"
	"github.com/paynet/fep/internal/metrics"
	"github.com/paynet/fep/internal/model"
)

// Stage identifies one of the five fixed pipeline stages.
type Stage string

const (
	StageDuplicateCheck Stage = "DUPLICATE_CHECK"
	StageValidation     Stage = "VALIDATION"
	StageRouting        Stage = "ROUTING"
	StageProcessing     Stage = "PROCESSING"
	StageAudit          Stage = "AUDIT"
)

// stageOrder is the fixed ascending execution order.
var stageOrder = []Stage{StageDuplicateCheck, StageValidation, StageRouting, StageProcessing, StageAudit}

// Context flows through every handler in every stage for one transaction.
type Context struct {
	Request  *model.TransactionRequest
	Response *model.TransactionResponse

	// Continue, when explicitly set false by a handler, short-circuits every
	// remaining handler in every remaining non-AUDIT stage — AUDIT still
	// runs so the transaction is always recorded. It is initialized once by
	// newContext and never reset mid-Run; a handler opting out is opting
	// the whole chain out, not just its own stage.
	Continue bool

	// Err holds the error (if any) that ended early execution, visible to
	// the AUDIT stage's handlers so they can record the outcome.
	Err error

	StageTimings map[Stage]time.Duration
	Extensions   map[string]interface{}
}

func newContext(req *model.TransactionRequest) *Context {
	return &Context{
		Request:      req,
		Response:     &model.TransactionResponse{},
		Continue:     true,
		StageTimings: make(map[Stage]time.Duration),
		Extensions:   make(map[string]interface{}),
	}
}

// Handler is one unit of work within a stage.
type Handler interface {
	Name() string
	Handle(ctx context.Context, pctx *Context) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc struct {
	name string
	fn   func(ctx context.Context, pctx *Context) error
}

func NewHandlerFunc(name string, fn func(ctx context.Context, pctx *Context) error) HandlerFunc {
	return HandlerFunc{name: name, fn: fn}
}

func (h HandlerFunc) Name() string { return h.name }
func (h HandlerFunc) Handle(ctx context.Context, pctx *Context) error { return h.fn(ctx, pctx) }

type registeredHandler struct {
	order   int
	handler Handler
}

// Listener observes pipeline lifecycle events; every method is optional —
// a Listener embedding NoopListener need only implement what it cares
// about.
type Listener interface {
	OnStart(pctx *Context)
	OnStageEnter(stage Stage, pctx *Context)
	OnStageExit(stage Stage, pctx *Context, elapsed time.Duration)
	OnComplete(pctx *Context, err error)
	OnError(stage Stage, handlerName string, pctx *Context, err error)
}

// NoopListener is embeddable so callers only override what they need.
type NoopListener struct{}

func (NoopListener) OnStart(*Context)                                      {}
func (NoopListener) OnStageEnter(Stage, *Context)                          {}
func (NoopListener) OnStageExit(Stage, *Context, time.Duration)            {}
func (NoopListener) OnComplete(*Context, error)                            {}
func (NoopListener) OnError(Stage, string, *Context, error)                {}

// Pipeline is the Transaction Pipeline (C7).
type Pipeline struct {
	mu       sync.RWMutex
	handlers map[Stage][]registeredHandler
	listener Listener
	logger   *zap.Logger
	metrics  *metrics.Registry
}

// New constructs an empty Pipeline. A nil listener uses NoopListener.
func New(listener Listener, logger *zap.Logger, m *metrics.Registry) *Pipeline {
	if listener == nil {
		listener = NoopListener{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		handlers: make(map[Stage][]registeredHandler),
		listener: listener,
		logger:   logger.With(zap.String("component", "pipeline")),
		metrics:  m,
	}
}

// Register adds handler to stage at the given order (ascending sort key).
func (p *Pipeline) Register(stage Stage, order int, handler Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[stage] = append(p.handlers[stage], registeredHandler{order: order, handler: handler})
	sort.Slice(p.handlers[stage], func(i, j int) bool {
		return p.handlers[stage][i].order < p.handlers[stage][j].order
	})
}

// Run drives req through every stage in fixed order. DUPLICATE_CHECK,
// VALIDATION, ROUTING, and PROCESSING stop the chain on the first handler
// error (still running AUDIT); AUDIT itself always runs so every
// transaction is recorded, approved or not.
func (p *Pipeline) Run(ctx context.Context, req *model.TransactionRequest) (*model.TransactionResponse, error) {
	pctx := newContext(req)
	p.listener.OnStart(pctx)

	var pipelineErr error
	for _, stage := range stageOrder {
		if stage == StageAudit {
			pctx.Err = pipelineErr
			pctx.Continue = true // AUDIT always runs its own handlers in full
			p.runStage(ctx, stage, pctx)
			continue
		}
		if pipelineErr != nil || !pctx.Continue {
			continue
		}
		if err := p.runStage(ctx, stage, pctx); err != nil {
			pipelineErr = err
		}
	}

	if pipelineErr != nil {
		applyErrorToResponse(pctx.Response, pipelineErr)
	}
	p.metrics.IncOutcome(pctx.Response.ResponseCode)
	p.listener.OnComplete(pctx, pipelineErr)

	if pipelineErr != nil {
		if txErr, isTxn := ferr.AsTransaction(pipelineErr); isTxn {
			return pctx.Response, txErr // a clean decline, not a system failure
		}
	}
	return pctx.Response, pipelineErr
}

func (p *Pipeline) runStage(ctx context.Context, stage Stage, pctx *Context) error {
	p.listener.OnStageEnter(stage, pctx)
	started := time.Now()

	p.mu.RLock()
	handlers := append([]registeredHandler{}, p.handlers[stage]...)
	p.mu.RUnlock()

	var stageErr error
	for _, rh := range handlers {
		if !pctx.Continue {
			break
		}
		if err := rh.handler.Handle(ctx, pctx); err != nil {
			stageErr = err
			p.listener.OnError(stage, rh.handler.Name(), pctx, err)
			break
		}
	}

	elapsed := time.Since(started)
	pctx.StageTimings[stage] = elapsed
	p.metrics.ObserveStageLatency(string(stage), elapsed.Seconds())
	p.listener.OnStageExit(stage, pctx, elapsed)
	return stageErr
}

// applyErrorToResponse fills in a declined/failed response from a
// pipeline-ending error, using the taxonomy from internal/ferr.
func applyErrorToResponse(resp *model.TransactionResponse, err error) {
	if fe, ok := ferr.AsTransaction(err); ok {
		resp.Approved = false
		resp.ResponseCode = fe.ResponseCode
		resp.ReasonCode = fe.Code
		resp.Description = fe.Message
		return
	}
	resp.Approved = false
	resp.ResponseCode = model.RespSystemMalfunction
	resp.ReasonCode = "SYSTEM_MALFUNCTION"
	resp.Description = err.Error()
}
