// Package bootstrap adapts the teacher's consumer/startup.go dependency-
// readiness waiters (waitForKafka/waitForLiquidityService, both built
// around atomic package-level ready flags polled by an HTTP handler) into
// dependency-injected, blocking calls with no package state: a caller gets
// an error back instead of reading a global flag.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// WaitForKafka retries dialing brokerAddr and fetching its controller,
// backing off the way the teacher's waitForKafka does (attempt*2 seconds),
// until maxAttempts is exhausted or ctx is cancelled.
func WaitForKafka(ctx context.Context, brokerAddr string, maxAttempts int, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		conn, err := kafka.DialContext(ctx, "tcp", brokerAddr)
		if err == nil {
			_, err = conn.Controller()
			conn.Close()
			if err == nil {
				logger.Info("kafka ready", zap.String("broker", brokerAddr), zap.Int("attempt", attempt))
				return nil
			}
		}
		lastErr = err

		if attempt == maxAttempts {
			break
		}
		wait := time.Duration(attempt) * 2 * time.Second
		logger.Info("kafka not ready, retrying", zap.String("broker", brokerAddr),
			zap.Int("attempt", attempt), zap.Int("max_attempts", maxAttempts), zap.Duration("wait", wait))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return fmt.Errorf("bootstrap: kafka at %s not ready after %d attempts: %w", brokerAddr, maxAttempts, lastErr)
}

// WaitForHTTPReady polls readyURL (expected to be a healthz-style /ready
// endpoint) until it returns 200, backing off the same way WaitForKafka
// does. It generalizes the teacher's waitForLiquidityService, which
// hardcoded the gRPC-port-to-HTTP-port translation; here the caller
// supplies the full URL directly.
func WaitForHTTPReady(ctx context.Context, readyURL string, maxAttempts int, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := &http.Client{Timeout: 5 * time.Second}
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, readyURL, nil)
		if err == nil {
			resp, doErr := client.Do(req)
			if doErr == nil {
				resp.Body.Close()
				if resp.StatusCode == http.StatusOK {
					cancel()
					logger.Info("dependency ready", zap.String("url", readyURL), zap.Int("attempt", attempt))
					return nil
				}
				lastErr = fmt.Errorf("status %d", resp.StatusCode)
			} else {
				lastErr = doErr
			}
		} else {
			lastErr = err
		}
		cancel()

		if attempt == maxAttempts {
			break
		}
		wait := time.Duration(attempt) * 2 * time.Second
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return fmt.Errorf("bootstrap: %s not ready after %d attempts: %w", readyURL, maxAttempts, lastErr)
}
