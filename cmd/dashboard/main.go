// Command dashboard runs the operator-facing audit dashboard: a Kafka
// reader pulls AuditRecords off the audit topic and a small worker pool
// fans them out to connected browsers over WebSocket. The reader/worker-
// pool split is grounded on the teacher's consumer/main.go
// (readMessages -> workChan -> processMessages), generalized from parsing
// and liquidity-checking ISO 20022 XML to broadcasting an already-decoded
// model.AuditRecord.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/paynet/fep/internal/auditbus"
	"github.com/paynet/fep/internal/bootstrap"
	"github.com/paynet/fep/internal/dashboard"
	"github.com/paynet/fep/internal/healthz"
	"github.com/paynet/fep/internal/model"
)

func main() {
	kafkaBroker := flag.String("kafka-broker", "localhost:9092", "Kafka broker address")
	kafkaTopic := flag.String("kafka-topic", auditbus.DefaultTopic, "Kafka topic to read audit events from")
	wsAddr := flag.String("ws-addr", ":8091", "Address for the /ws dashboard endpoint and health checks")
	numWorkers := flag.Int("workers", 4, "Number of concurrent broadcast workers")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := bootstrap.WaitForKafka(ctx, *kafkaBroker, 5, logger); err != nil {
		logger.Warn("starting without a confirmed Kafka connection", zap.Error(err))
	}

	sub := auditbus.NewSubscriber(*kafkaBroker, *kafkaTopic)
	defer sub.Close()

	hub := dashboard.NewHub(logger)
	hubStop := make(chan struct{})
	go hub.Run(hubStop)
	defer close(hubStop)

	workChan := make(chan model.AuditRecord, 256)

	go readAuditEvents(ctx, sub, workChan, logger)

	var wg sync.WaitGroup
	for i := 0; i < *numWorkers; i++ {
		wg.Add(1)
		go broadcastWorker(ctx, hub, workChan, i, &wg, logger)
	}

	health := healthz.New("fep-dashboard")
	health.Register("kafka", func() error { return nil })

	mux := http.NewServeMux()
	health.Mux(mux)
	mux.Handle("/ws", hub)

	httpServer := &http.Server{Addr: *wsAddr, Handler: mux}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server stopped unexpectedly", zap.Error(err))
		}
	}()

	logger.Info("dashboard started",
		zap.String("ws_addr", *wsAddr),
		zap.String("kafka_broker", *kafkaBroker),
		zap.Int("workers", *numWorkers),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown signal received")
	cancel()
	wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown error", zap.Error(err))
	}
	logger.Info("dashboard stopped")
}

// readAuditEvents pulls records off the Kafka subscriber and dispatches them
// to the worker pool, mirroring the teacher's readMessages loop.
func readAuditEvents(ctx context.Context, sub *auditbus.Subscriber, workChan chan<- model.AuditRecord, logger *zap.Logger) {
	defer close(workChan)
	for {
		rec, err := sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("audit subscriber read failed", zap.Error(err))
			continue
		}
		select {
		case workChan <- rec:
		case <-ctx.Done():
			return
		}
	}
}

// broadcastWorker drains workChan and fans each record out to every
// connected dashboard client, mirroring the teacher's processMessages
// worker loop.
func broadcastWorker(ctx context.Context, hub *dashboard.Hub, workChan <-chan model.AuditRecord, workerID int, wg *sync.WaitGroup, logger *zap.Logger) {
	defer wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case rec, ok := <-workChan:
			if !ok {
				return
			}
			if err := hub.BroadcastAuditRecord(rec); err != nil {
				logger.Warn("broadcast failed", zap.Int("worker", workerID), zap.Error(err))
			}
		}
	}
}
