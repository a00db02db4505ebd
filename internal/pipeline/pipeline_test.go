package pipeline_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/paynet/fep/internal/ferr"
	"github.com/paynet/fep/internal/model"
	"github.com/paynet/fep/internal/pipeline"
)

func TestPipeline_ApprovedPath_RunsAllStagesInOrder(t *testing.T) {
	p := pipeline.New(nil, nil, nil)
	var order []string

	p.Register(pipeline.StageDuplicateCheck, 1, pipeline.NewHandlerFunc("dup", func(ctx context.Context, pctx *pipeline.Context) error {
		order = append(order, "dup")
		return nil
	}))
	p.Register(pipeline.StageValidation, 1, pipeline.NewHandlerFunc("validate", func(ctx context.Context, pctx *pipeline.Context) error {
		order = append(order, "validate")
		return nil
	}))
	p.Register(pipeline.StageRouting, 1, pipeline.NewHandlerFunc("route", func(ctx context.Context, pctx *pipeline.Context) error {
		order = append(order, "route")
		return nil
	}))
	p.Register(pipeline.StageProcessing, 1, pipeline.NewHandlerFunc("process", func(ctx context.Context, pctx *pipeline.Context) error {
		order = append(order, "process")
		pctx.Response.Approved = true
		pctx.Response.ResponseCode = model.RespApproved
		return nil
	}))
	p.Register(pipeline.StageAudit, 1, pipeline.NewHandlerFunc("audit", func(ctx context.Context, pctx *pipeline.Context) error {
		order = append(order, "audit")
		return nil
	}))

	resp, err := p.Run(context.Background(), &model.TransactionRequest{TransactionID: "t1"})
	require.NoError(t, err)
	require.True(t, resp.Approved)
	require.Equal(t, []string{"dup", "validate", "route", "process", "audit"}, order)
}

func TestPipeline_DuplicateRejection_SkipsToAudit(t *testing.T) {
	p := pipeline.New(nil, nil, nil)
	var ranValidation, ranAudit bool

	p.Register(pipeline.StageDuplicateCheck, 1, pipeline.NewHandlerFunc("dup", func(ctx context.Context, pctx *pipeline.Context) error {
		return ferr.Transaction(model.RespDuplicateTransaction, "DUPLICATE_TRANSACTION", "seen before")
	}))
	p.Register(pipeline.StageValidation, 1, pipeline.NewHandlerFunc("validate", func(ctx context.Context, pctx *pipeline.Context) error {
		ranValidation = true
		return nil
	}))
	p.Register(pipeline.StageAudit, 1, pipeline.NewHandlerFunc("audit", func(ctx context.Context, pctx *pipeline.Context) error {
		ranAudit = true
		require.Error(t, pctx.Err)
		return nil
	}))

	resp, err := p.Run(context.Background(), &model.TransactionRequest{TransactionID: "t2"})
	require.Error(t, err)
	require.False(t, resp.Approved)
	require.Equal(t, model.RespDuplicateTransaction, resp.ResponseCode)
	require.False(t, ranValidation)
	require.True(t, ranAudit)
}

func TestPipeline_HandlerContinueFalse_SkipsRemainingHandlersInStage(t *testing.T) {
	p := pipeline.New(nil, nil, nil)
	var secondRan bool

	p.Register(pipeline.StageValidation, 1, pipeline.NewHandlerFunc("first", func(ctx context.Context, pctx *pipeline.Context) error {
		pctx.Continue = false
		return nil
	}))
	p.Register(pipeline.StageValidation, 2, pipeline.NewHandlerFunc("second", func(ctx context.Context, pctx *pipeline.Context) error {
		secondRan = true
		return nil
	}))

	_, err := p.Run(context.Background(), &model.TransactionRequest{TransactionID: "t3"})
	require.NoError(t, err)
	require.False(t, secondRan)
}

func TestPipeline_HandlerContinueFalse_SkipsLaterStagesButStillAudits(t *testing.T) {
	p := pipeline.New(nil, nil, nil)
	var ranRouting, ranProcessing, ranAudit bool

	p.Register(pipeline.StageValidation, 1, pipeline.NewHandlerFunc("reject", func(ctx context.Context, pctx *pipeline.Context) error {
		pctx.Continue = false
		return nil
	}))
	p.Register(pipeline.StageRouting, 1, pipeline.NewHandlerFunc("route", func(ctx context.Context, pctx *pipeline.Context) error {
		ranRouting = true
		return nil
	}))
	p.Register(pipeline.StageProcessing, 1, pipeline.NewHandlerFunc("process", func(ctx context.Context, pctx *pipeline.Context) error {
		ranProcessing = true
		return nil
	}))
	p.Register(pipeline.StageAudit, 1, pipeline.NewHandlerFunc("audit", func(ctx context.Context, pctx *pipeline.Context) error {
		ranAudit = true
		return nil
	}))

	_, err := p.Run(context.Background(), &model.TransactionRequest{TransactionID: "t4"})
	require.NoError(t, err)
	require.False(t, ranRouting)
	require.False(t, ranProcessing)
	require.True(t, ranAudit)
}
