// Command loadgen generates synthetic transaction traffic against a running
// fep gateway channel, standing in for a real ATM/POS estate. It is
// adapted from the teacher's producer/main.go (a ticker-driven generator
// publishing ISO 20022 pacs.008 messages to Kafka at a target rate): here
// the ticker drives model.TransactionRequest generation sent over a
// connection.Client instead, and "messages produced" becomes "transactions
// approved/declined".
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/paynet/fep/internal/connection"
	"github.com/paynet/fep/internal/model"
	"github.com/paynet/fep/internal/wire"
)

// stats mirrors the teacher's package-level Metrics struct, generalized to
// a struct of atomics owned by main instead of a global.
type stats struct {
	sent     int64
	approved int64
	declined int64
	errors   int64
}

var terminalIDs = []string{"TERM0001", "TERM0002", "TERM0003", "TERM0004"}
var sourceAccounts = []string{"ACCT100001", "ACCT100002", "ACCT100003"}

func main() {
	host := flag.String("host", "127.0.0.1", "fep gateway host")
	sendPort := flag.Int("send-port", 7001, "fep gateway send port")
	recvPort := flag.Int("recv-port", 7002, "fep gateway receive port")
	channelID := flag.String("channel", "atm-network-1", "channel id this generator impersonates")
	tps := flag.Int("tps", 5, "target transactions per second")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	profile := &model.ConnectionProfile{
		ID: *channelID, Host: *host, SendPort: *sendPort, ReceivePort: *recvPort,
		ConnectTimeoutMS: 5000, ResponseTimeoutMS: 15000, HeartbeatMS: 30000,
		KeepaliveMS: 60000, RetryDelayMS: 2000, MaxRetries: 5, AutoReconnect: true,
	}

	client := connection.NewClient(*channelID, profile, wire.LengthPrefixedJSONCodec{}, nil, logger, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		logger.Fatal("failed to connect to fep gateway", zap.Error(err))
	}
	defer client.Close()

	var s stats

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(time.Second / time.Duration(*tps))
	defer ticker.Stop()
	statsTicker := time.NewTicker(10 * time.Second)
	defer statsTicker.Stop()

	logger.Info("loadgen started", zap.String("channel", *channelID), zap.Int("tps", *tps))

	for {
		select {
		case <-sigCh:
			logger.Info("loadgen stopping",
				zap.Int64("sent", atomic.LoadInt64(&s.sent)),
				zap.Int64("approved", atomic.LoadInt64(&s.approved)),
				zap.Int64("declined", atomic.LoadInt64(&s.declined)),
				zap.Int64("errors", atomic.LoadInt64(&s.errors)))
			return
		case <-statsTicker.C:
			logger.Info("loadgen stats",
				zap.Int64("sent", atomic.LoadInt64(&s.sent)),
				zap.Int64("approved", atomic.LoadInt64(&s.approved)),
				zap.Int64("declined", atomic.LoadInt64(&s.declined)),
				zap.Int64("errors", atomic.LoadInt64(&s.errors)))
		case <-ticker.C:
			sendOne(ctx, client, &s, logger)
		}
	}
}

func sendOne(ctx context.Context, client *connection.Client, s *stats, logger *zap.Logger) {
	req := generateRequest()
	payload, err := json.Marshal(req)
	if err != nil {
		atomic.AddInt64(&s.errors, 1)
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	reply, err := client.SendAndReceive(sendCtx, &wire.RawMessage{
		Correlation: req.RRN + "|" + req.STAN + "|" + req.TerminalID,
		Payload:     payload,
	})
	atomic.AddInt64(&s.sent, 1)
	if err != nil {
		atomic.AddInt64(&s.errors, 1)
		logger.Warn("transaction send failed", zap.String("transaction_id", req.TransactionID), zap.Error(err))
		return
	}

	raw, ok := reply.(*wire.RawMessage)
	if !ok {
		atomic.AddInt64(&s.errors, 1)
		return
	}
	var resp model.TransactionResponse
	if err := json.Unmarshal(raw.Payload, &resp); err != nil {
		atomic.AddInt64(&s.errors, 1)
		return
	}
	if resp.Approved {
		atomic.AddInt64(&s.approved, 1)
	} else {
		atomic.AddInt64(&s.declined, 1)
	}
}

// generateRequest builds a plausible withdrawal, the same way the teacher's
// generateTransaction picked a random source/destination bank pair, here
// picking a random terminal/account pair and a random amount.
func generateRequest() *model.TransactionRequest {
	id := uuid.NewString()
	amount := int64((1 + rand.Intn(20)) * 100_00) // multiple of 100.00, within amount-validator rules
	return &model.TransactionRequest{
		TransactionID: id,
		Type:          model.TxnWithdrawal,
		CardNumberRaw: randomCardNumber(),
		CardExpiry:    "2912",
		Amount:        model.Money{Currency: "PHP", MinorUnits: amount},
		SourceAccount: sourceAccounts[rand.Intn(len(sourceAccounts))],
		TerminalID:    terminalIDs[rand.Intn(len(terminalIDs))],
		RRN:           fmt.Sprintf("%012d", rand.Int63n(1_000_000_000_000)),
		STAN:          fmt.Sprintf("%06d", rand.Intn(1_000_000)),
		PINBlock:      "ENCRYPTED_PIN_BLOCK",
		CustomerID:    "CUST-" + id[:8],
	}
}

// randomCardNumber generates a 16-digit PAN with a valid Luhn check digit.
func randomCardNumber() string {
	digits := make([]int, 16)
	for i := 0; i < 15; i++ {
		digits[i] = rand.Intn(10)
	}
	sum := 0
	for i, d := range digits[:15] {
		pos := 15 - i
		if pos%2 == 1 {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
	}
	digits[15] = (10 - sum%10) % 10

	out := make([]byte, 16)
	for i, d := range digits {
		out[i] = byte('0' + d)
	}
	return string(out)
}
