// Command fep runs the Financial Exchange Processor gateway: it loads the
// channel/profile registry from a config file, wires the five-stage
// transaction pipeline, starts the dynamic connection manager against every
// active channel binding, and serves /health, /ready and /metrics over
// HTTP. The overall shape — flag-parsed config path, context cancelled on
// SIGINT/SIGTERM, deferred cleanup of every long-lived collaborator — is
// grounded on the teacher's producer/main.go and consumer/main.go.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/paynet/fep/internal/auditbus"
	"github.com/paynet/fep/internal/bootstrap"
	"github.com/paynet/fep/internal/config"
	"github.com/paynet/fep/internal/connmanager"
	"github.com/paynet/fep/internal/dedupe"
	"github.com/paynet/fep/internal/gateway"
	"github.com/paynet/fep/internal/healthz"
	"github.com/paynet/fep/internal/limits"
	"github.com/paynet/fep/internal/limits/grpcadvisor"
	"github.com/paynet/fep/internal/metrics"
	"github.com/paynet/fep/internal/model"
	"github.com/paynet/fep/internal/pipeline"
	"github.com/paynet/fep/internal/processor"
	"github.com/paynet/fep/internal/processor/inquiry"
	"github.com/paynet/fep/internal/processor/withdrawal"
	"github.com/paynet/fep/internal/registry"
	"github.com/paynet/fep/internal/repository"
	"github.com/paynet/fep/internal/scheduled"
	"github.com/paynet/fep/internal/wire"
)

func main() {
	configPath := flag.String("config", "configs/network.json", "Path to the channel/profile registry document")
	reloadInterval := flag.Duration("reload-interval", 30*time.Second, "Poll interval for config hot-reload")
	kafkaBroker := flag.String("kafka-broker", "localhost:9092", "Kafka broker address for the audit event bus")
	kafkaTopic := flag.String("kafka-topic", auditbus.DefaultTopic, "Kafka topic for audit events")
	advisorAddr := flag.String("advisor-addr", "", "Optional gRPC limit advisor address; empty disables it")
	httpAddr := flag.String("http-addr", ":8090", "Address for /health, /ready and /metrics")
	dedupeCapacity := flag.Int("dedupe-capacity", 100000, "Duplicate checker LRU capacity")
	strictConfig := flag.Bool("strict-config", true, "Abort the whole reload on a malformed profile/channel/binding instead of skipping it with a warning")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	m := metrics.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	timeouts := map[model.TransactionType]time.Duration{
		model.TxnBalanceInquiry: 5 * time.Second,
		model.TxnWithdrawal:     15 * time.Second,
		model.TxnTransfer:       15 * time.Second,
		model.TxnBillPayment:    15 * time.Second,
		model.TxnReversal:       10 * time.Second,
	}

	dedupeChecker := dedupe.New(*dedupeCapacity, dedupe.RetentionFor(timeouts), m)

	limitsMgr := limits.NewManager(map[model.TransactionType]limits.Thresholds{
		model.TxnWithdrawal: {
			Single:  model.Money{Currency: "PHP", MinorUnits: 5_000_00},
			Daily:   model.Money{Currency: "PHP", MinorUnits: 20_000_00},
			Monthly: model.Money{Currency: "PHP", MinorUnits: 200_000_00},
		},
		model.TxnTransfer: {
			Single:  model.Money{Currency: "PHP", MinorUnits: 50_000_00},
			Daily:   model.Money{Currency: "PHP", MinorUnits: 100_000_00},
			Monthly: model.Money{Currency: "PHP", MinorUnits: 500_000_00},
		},
	})

	cardValidator := limits.CardValidator{RequireLuhn: true}
	amountValidator := limits.AmountValidator{Rules: map[model.TransactionType]limits.AmountRule{
		model.TxnWithdrawal: {Min: model.Money{Currency: "PHP", MinorUnits: 100_00}, MultipleOfMinorUnits: 100_00},
	}}
	pinValidator := limits.PinBlockValidator{RequiredFor: map[model.TransactionType]bool{
		model.TxnWithdrawal: true,
	}}
	terminalValidator := limits.TerminalIDValidator{}

	var advisor limits.Advisor
	if *advisorAddr != "" {
		adapter, err := grpcadvisor.Dial(ctx, *advisorAddr, logger, m)
		if err != nil {
			logger.Warn("limit advisor unreachable, continuing without it", zap.String("addr", *advisorAddr), zap.Error(err))
		} else {
			defer adapter.Close()
			advisor = adapter
		}
	}

	processors := processor.NewRegistry()
	processors.Register(withdrawal.New())
	processors.Register(inquiry.New(nil))

	if err := bootstrap.WaitForKafka(ctx, *kafkaBroker, 5, logger); err != nil {
		logger.Warn("starting without a confirmed Kafka connection", zap.Error(err))
	}

	repo := repository.New()
	auditPub := auditbus.NewPublisher(*kafkaBroker, *kafkaTopic, logger)
	defer auditPub.Close()

	listener := pipeline.NoopListener{}
	p := pipeline.New(listener, logger, m)

	p.Register(pipeline.StageDuplicateCheck, 10, pipeline.NewHandlerFunc("duplicate-check", func(ctx context.Context, pctx *pipeline.Context) error {
		return dedupeChecker.Validate(pctx.Request.Fingerprint())
	}))

	p.Register(pipeline.StageValidation, 10, cardValidator.Handler())
	p.Register(pipeline.StageValidation, 20, amountValidator.Handler())
	p.Register(pipeline.StageValidation, 30, pinValidator.Handler())
	p.Register(pipeline.StageValidation, 40, terminalValidator.Handler())
	p.Register(pipeline.StageValidation, 50, limitsMgr.CheckHandler())
	p.Register(pipeline.StageValidation, 60, limits.AdvisorHandler(advisor))

	p.Register(pipeline.StageRouting, 10, processor.RoutingHandler(processors))

	p.Register(pipeline.StageProcessing, 10, processor.ProcessingHandler())

	p.Register(pipeline.StageAudit, 10, limitsMgr.UsageHandler())
	p.Register(pipeline.StageAudit, 20, auditbus.AuditHandler(auditPub, logger))
	p.Register(pipeline.StageAudit, 30, pipeline.NewHandlerFunc("persist-record", func(ctx context.Context, pctx *pipeline.Context) error {
		status := model.StatusDeclined
		if pctx.Response.Approved {
			status = model.StatusApproved
		}
		if pctx.Request.Type == model.TxnReversal && pctx.Response.Approved {
			status = model.StatusReversed
		}
		now := time.Now()
		return repo.Save(model.TransactionRecord{
			TransactionID: pctx.Request.TransactionID,
			RRN:           pctx.Request.RRN,
			Type:          pctx.Request.Type,
			Status:        status,
			ResponseCode:  pctx.Response.ResponseCode,
			Amount:        pctx.Request.Amount,
			CustomerID:    pctx.Request.CustomerID,
			ChannelName:   pctx.Request.ChannelName,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
	}))

	reg := registry.New(logger)
	src := config.NewFileSource(*configPath)
	if err := reg.LoadFromSource(src, *strictConfig); err != nil {
		logger.Fatal("failed to load initial channel registry", zap.String("path", *configPath), zap.Error(err))
	}
	if stop, err := reg.StartHotReload(ctx, src, *reloadInterval, *strictConfig); err != nil {
		logger.Warn("hot reload disabled", zap.Error(err))
	} else {
		defer stop()
	}

	gatewayHandler := gateway.NewPipelineHandler(p, "", logger)

	connMgr := connmanager.New(reg, wire.LengthPrefixedJSONCodec{}, gatewayHandler, nil, logger, m)
	if err := connMgr.Start(ctx); err != nil {
		logger.Fatal("connection manager failed to start", zap.Error(err))
	}
	defer connMgr.Stop()

	schedEngine := scheduled.New(p, limitsMgr, logger)
	schedEngine.StartDailySweep(ctx, 24*time.Hour)

	health := healthz.New("fep")
	health.Register("registry", func() error { return nil })
	mux := http.NewServeMux()
	health.Mux(mux)
	mux.Handle("/metrics", promhttp.HandlerFor(m.Gatherer(), promhttp.HandlerOpts{}))

	httpServer := &http.Server{Addr: *httpAddr, Handler: mux}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server stopped unexpectedly", zap.Error(err))
		}
	}()

	logger.Info("fep gateway started",
		zap.String("config", *configPath),
		zap.String("http_addr", *httpAddr),
		zap.String("kafka_broker", *kafkaBroker),
		zap.Int("channels", len(reg.ChannelIDs())),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown signal received")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown error", zap.Error(err))
	}
	logger.Info("fep gateway stopped")
}
