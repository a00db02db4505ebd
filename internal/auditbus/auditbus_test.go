package auditbus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/paynet/fep/internal/model"
	"github.com/paynet/fep/internal/pipeline"
)

type fakePublisher struct {
	published []model.AuditRecord
	err       error
}

func (f *fakePublisher) Publish(ctx context.Context, rec model.AuditRecord) error {
	f.published = append(f.published, rec)
	return f.err
}

func TestAuditHandler_PublishesApprovedOutcome(t *testing.T) {
	fp := &fakePublisher{}
	handler := AuditHandler(fp, nil)

	p := pipeline.New(nil, nil, nil)
	p.Register(pipeline.StageProcessing, 1, pipeline.NewHandlerFunc("approve", func(ctx context.Context, pctx *pipeline.Context) error {
		pctx.Response.Approved = true
		pctx.Response.ResponseCode = model.RespApproved
		return nil
	}))
	p.Register(pipeline.StageAudit, 1, handler)

	_, err := p.Run(context.Background(), &model.TransactionRequest{TransactionID: "t1", Type: model.TxnWithdrawal, RRN: "r1", STAN: "s1"})
	require.NoError(t, err)
	require.Len(t, fp.published, 1)
	require.True(t, fp.published[0].Approved)
	require.Equal(t, "t1", fp.published[0].TransactionID)
}

func TestAuditHandler_PublishFailureDoesNotFailPipeline(t *testing.T) {
	fpFailing := &fakePublisher{err: context.DeadlineExceeded}

	handler := AuditHandler(fpFailing, nil)
	p := pipeline.New(nil, nil, nil)
	p.Register(pipeline.StageAudit, 1, handler)

	resp, err := p.Run(context.Background(), &model.TransactionRequest{TransactionID: "t2"})
	require.NoError(t, err)
	require.NotNil(t, resp)
	require.Len(t, fpFailing.published, 1)
}
