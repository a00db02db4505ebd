// Package connection implements the Dual-Channel Client (C2) and
// Dual-Channel Server (C3) from spec.md §4.2-4.3: long-lived TCP
// connections with separate send/receive sockets, a state machine, a
// heartbeat loop, correlated request/response matching, and reconnection
// with exponential backoff. The dial-with-timeout and background-loop
// idioms are grounded on the teacher's consumer/liquidity_client.go
// (context-bounded grpc.DialContext) and consumer/circuit_breaker.go
// (exponential backoff, adapted here as internal/resiliency).
package connection

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/paynet/fep/internal/ferr"
	"github.com/paynet/fep/internal/metrics"
	"github.com/paynet/fep/internal/model"
	"github.com/paynet/fep/internal/resiliency"
	"github.com/paynet/fep/internal/wire"
)

// heartbeatCorrelationKey marks a frame as a heartbeat rather than a
// transaction request/response; a concrete channel schema never needs this
// value for itself since it is reserved by the connection layer.
const heartbeatCorrelationKey = "__HEARTBEAT__"

// SignOnFunc performs an application-level handshake once the TCP
// connection is up. Returning nil moves the client SIGNING_ON -> SIGNED_ON;
// a non-nil error moves it to FAILED. A nil SignOnFunc skips the handshake
// (the client signs on immediately), matching channels with no login step.
type SignOnFunc func(ctx context.Context, c *Client) error

// Client is the Dual-Channel Client (C2). One Client instance corresponds
// to one channel's outbound connection.
type Client struct {
	channelID string
	profile   *model.ConnectionProfile
	codec     wire.Codec
	signOn    SignOnFunc
	logger    *zap.Logger
	metrics   *metrics.Registry

	sm      *stateMachine
	pending *pendingRequests

	mu         sync.Mutex
	sendConn   net.Conn
	recvConn   net.Conn
	recvReader *bufio.Reader
	closing    bool
	stopLoops  context.CancelFunc

	lastHeartbeatAck int64 // unix nano, guarded by mu; written by the receive loop on heartbeat acks and by the heartbeat loop

	// reconnectBreaker persists across every handleDisconnect episode for
	// this client's lifetime (unlike the per-call RetryConfig it is handed
	// to), so a channel whose peer stays down keeps failing fast across
	// repeated disconnects instead of burning a fresh MaxRetries budget
	// every single time the socket drops.
	reconnectBreaker *resiliency.CircuitBreaker
}

// NewClient constructs a Client bound to profile over codec. signOn may be
// nil. A nil logger/metrics registry is safe (nop/no-op per package
// convention).
func NewClient(channelID string, profile *model.ConnectionProfile, codec wire.Codec, signOn SignOnFunc, logger *zap.Logger, m *metrics.Registry) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	breakerLogger := logger.With(zap.String("channel", channelID))
	return &Client{
		channelID: channelID,
		profile:   profile,
		codec:     codec,
		signOn:    signOn,
		logger:    logger.With(zap.String("channel", channelID)),
		metrics:   m,
		sm:        newStateMachine(model.StateDisconnected),
		pending:   newPendingRequests(),
		reconnectBreaker: resiliency.NewCircuitBreaker(
			"reconnect-"+channelID, int32(profile.MaxRetries),
			time.Duration(profile.RetryDelayMS*8)*time.Millisecond, 1, breakerLogger,
		).WithMetrics(m),
	}
}

// State returns the current ConnectionState.
func (c *Client) State() model.ConnectionState { return c.sm.current() }

// OnStateChange registers a listener for state transitions.
func (c *Client) OnStateChange(fn func(from, to model.ConnectionState)) {
	c.sm.onChange(fn)
}

// Connect dials the send (and, for dual-channel profiles, receive) socket,
// performs sign-on, and starts the receive and heartbeat loops. It drives
// DISCONNECTED -> CONNECTING -> CONNECTED -> SIGNING_ON -> SIGNED_ON per
// spec.md §4.2; a reconnect attempt starts from RECONNECTING instead.
func (c *Client) Connect(ctx context.Context) error {
	from := model.StateDisconnected
	if c.sm.current() == model.StateReconnecting {
		from = model.StateReconnecting
	}
	if !c.sm.transition(from, model.StateConnecting) {
		return ferr.Connection(ferr.CodeNotConnected, "client is not in DISCONNECTED or RECONNECTING state", nil)
	}
	c.emitState(from, model.StateConnecting)

	dialCtx, cancel := context.WithTimeout(ctx, time.Duration(c.profile.ConnectTimeoutMS)*time.Millisecond)
	defer cancel()

	sendConn, recvConn, err := c.dial(dialCtx)
	if err != nil {
		c.sm.forceTransition(model.StateFailed)
		c.emitState(model.StateConnecting, model.StateFailed)
		return err
	}

	c.mu.Lock()
	c.sendConn = sendConn
	c.recvConn = recvConn
	c.recvReader = bufio.NewReader(recvConn)
	c.mu.Unlock()

	if !c.sm.transition(model.StateConnecting, model.StateConnected) {
		return ferr.Connection(ferr.CodeNotConnected, "state changed concurrently during connect", nil)
	}
	c.emitState(model.StateConnecting, model.StateConnected)

	if err := c.runSignOn(ctx); err != nil {
		c.sm.forceTransition(model.StateFailed)
		c.emitState(model.StateSigningOn, model.StateFailed)
		return err
	}

	loopCtx, stop := context.WithCancel(context.Background())
	c.mu.Lock()
	c.stopLoops = stop
	c.mu.Unlock()
	go c.receiveLoop(loopCtx)
	go c.heartbeatLoop(loopCtx)

	c.metrics.SetConnectionState(c.channelID, c.sm.current().String(), 1)
	return nil
}

func (c *Client) runSignOn(ctx context.Context) error {
	if !c.sm.transition(model.StateConnected, model.StateSigningOn) {
		return ferr.Connection(ferr.CodeNotConnected, "cannot begin sign-on from current state", nil)
	}
	c.emitState(model.StateConnected, model.StateSigningOn)

	if c.signOn != nil {
		if err := c.signOn(ctx, c); err != nil {
			return ferr.Connection(ferr.CodeNotConnected, "sign-on failed", err)
		}
	}

	if !c.sm.transition(model.StateSigningOn, model.StateSignedOn) {
		return ferr.Connection(ferr.CodeNotConnected, "cannot complete sign-on from current state", nil)
	}
	c.emitState(model.StateSigningOn, model.StateSignedOn)
	return nil
}

func (c *Client) dial(ctx context.Context) (sendConn, recvConn net.Conn, err error) {
	dialer := &net.Dialer{}
	sendAddr := fmt.Sprintf("%s:%d", c.profile.Host, c.profile.SendPort)
	sendConn, err = c.dialOne(ctx, dialer, sendAddr)
	if err != nil {
		return nil, nil, ferr.Connection(ferr.CodeNotConnected, "dial send socket "+sendAddr, err)
	}

	if !c.profile.IsDualChannel() {
		return sendConn, sendConn, nil
	}

	recvAddr := fmt.Sprintf("%s:%d", c.profile.Host, c.profile.EffectiveReceivePort())
	recvConn, err = c.dialOne(ctx, dialer, recvAddr)
	if err != nil {
		sendConn.Close()
		return nil, nil, ferr.Connection(ferr.CodeNotConnected, "dial receive socket "+recvAddr, err)
	}
	return sendConn, recvConn, nil
}

func (c *Client) dialOne(ctx context.Context, dialer *net.Dialer, addr string) (net.Conn, error) {
	if c.profile.TLS {
		tlsDialer := &tls.Dialer{NetDialer: dialer}
		return tlsDialer.DialContext(ctx, "tcp", addr)
	}
	return dialer.DialContext(ctx, "tcp", addr)
}

// SendAndReceive writes req and blocks until the correlated response
// arrives, ctx is done, or the connection drops.
func (c *Client) SendAndReceive(ctx context.Context, req wire.Message) (wire.Message, error) {
	if c.sm.current() != model.StateSignedOn {
		return nil, ferr.Connection(ferr.CodeNotConnected, "client is not SIGNED_ON", nil)
	}
	key := req.CorrelationKey()
	resultCh, err := c.pending.register(key)
	if err != nil {
		return nil, err
	}
	c.metrics.SetPendingRequests(c.channelID, float64(c.pending.count()))

	if err := c.writeSend(req); err != nil {
		c.pending.cancel(key, nil)
		return nil, err
	}

	select {
	case res := <-resultCh:
		c.metrics.SetPendingRequests(c.channelID, float64(c.pending.count()))
		if res.err != nil {
			return nil, res.err
		}
		return res.msg, nil
	case <-ctx.Done():
		c.pending.cancel(key, ferr.Timeout(ferr.CodeRequestTimeout, "request timed out waiting for correlated response"))
		return nil, ferr.Timeout(ferr.CodeRequestTimeout, "request timed out waiting for correlated response")
	}
}

// SendOneWay writes msg without waiting for a correlated response.
func (c *Client) SendOneWay(msg wire.Message) error {
	if c.sm.current() != model.StateSignedOn {
		return ferr.Connection(ferr.CodeNotConnected, "client is not SIGNED_ON", nil)
	}
	return c.writeSend(msg)
}

func (c *Client) writeSend(msg wire.Message) error {
	c.mu.Lock()
	conn := c.sendConn
	c.mu.Unlock()
	if conn == nil {
		return ferr.Connection(ferr.CodeNotConnected, "send socket not established", nil)
	}
	if err := c.codec.Encode(conn, msg); err != nil {
		return ferr.Connection(ferr.CodeBackpressure, "write failed", err)
	}
	return nil
}

func (c *Client) receiveLoop(ctx context.Context) {
	for {
		c.mu.Lock()
		reader := c.recvReader
		c.mu.Unlock()
		if reader == nil {
			return
		}
		msg, err := c.codec.Decode(reader)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			c.logger.Warn("receive loop: decode failed, treating as peer closed", zap.Error(err))
			c.handleDisconnect(ferr.Connection(ferr.CodePeerClosed, "peer closed or frame decode failed", err))
			return
		}
		if msg.CorrelationKey() == heartbeatCorrelationKey {
			c.mu.Lock()
			c.lastHeartbeatAck = time.Now().UnixNano()
			c.mu.Unlock()
			continue
		}
		if delivered := c.pending.deliver(msg.CorrelationKey(), msg); !delivered {
			c.logger.Warn("receive loop: no waiter for correlation key", zap.String("correlation_key", msg.CorrelationKey()))
		}
		c.metrics.SetPendingRequests(c.channelID, float64(c.pending.count()))
	}
}

func (c *Client) heartbeatLoop(ctx context.Context) {
	interval := time.Duration(c.profile.HeartbeatMS) * time.Millisecond
	responseTimeout := time.Duration(c.profile.ResponseTimeoutMS) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.mu.Lock()
	c.lastHeartbeatAck = time.Now().UnixNano()
	c.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hb := &wire.RawMessage{Correlation: heartbeatCorrelationKey}
			if err := c.writeSend(hb); err != nil {
				c.handleDisconnect(err)
				return
			}
			c.mu.Lock()
			last := c.lastHeartbeatAck
			c.mu.Unlock()
			if time.Since(time.Unix(0, last)) > interval+responseTimeout {
				c.logger.Warn("heartbeat ack missed beyond response timeout")
				c.handleDisconnect(ferr.Timeout(ferr.CodeHeartbeatLost, "heartbeat acknowledgement missed"))
				return
			}
		}
	}
}

// handleDisconnect reacts to any I/O failure detected by the loops: it
// drains pending requests, closes sockets, and either reconnects (if the
// profile allows) or moves the client to FAILED.
func (c *Client) handleDisconnect(cause error) {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.pending.drainWithError(cause)
	c.closeSockets()

	from := c.sm.current()
	if !c.profile.AutoReconnect {
		c.sm.forceTransition(model.StateFailed)
		c.emitState(from, model.StateFailed)
		return
	}
	if !c.sm.transition(from, model.StateReconnecting) {
		return
	}
	c.emitState(from, model.StateReconnecting)
	go c.reconnectLoop()
}

func (c *Client) reconnectLoop() {
	cfg := resiliency.RetryConfig{
		MaxAttempts:    c.profile.MaxRetries,
		InitialDelay:   time.Duration(c.profile.RetryDelayMS) * time.Millisecond,
		MaxDelay:       time.Duration(c.profile.RetryDelayMS*8) * time.Millisecond,
		Multiplier:     2.0,
		CircuitBreaker: c.reconnectBreaker,
		Logger:         c.logger,
	}
	err := resiliency.RetryWithBackoff(context.Background(), cfg, func() error {
		c.metrics.IncReconnectAttempts(c.channelID)
		if c.sm.current() != model.StateReconnecting {
			return ferr.Connection(ferr.CodeNotConnected, "reconnect: unexpected state", nil)
		}
		if err := c.Connect(reconnectBaseContext()); err != nil {
			c.sm.forceTransition(model.StateReconnecting)
			return err
		}
		return nil
	})
	if err != nil {
		c.logger.Error("reconnect exhausted retries, moving to FAILED", zap.Error(err))
		c.sm.forceTransition(model.StateFailed)
		c.emitState(model.StateReconnecting, model.StateFailed)
	}
}

// reconnectBaseContext gives Connect a fresh background-rooted context
// during a retry attempt; the overall retry budget is governed by
// resiliency.RetryConfig, not by this per-attempt context.
func reconnectBaseContext() context.Context { return context.Background() }

func (c *Client) closeSockets() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopLoops != nil {
		c.stopLoops()
		c.stopLoops = nil
	}
	if c.sendConn != nil {
		c.sendConn.Close()
	}
	if c.recvConn != nil && c.recvConn != c.sendConn {
		c.recvConn.Close()
	}
	c.sendConn, c.recvConn, c.recvReader = nil, nil, nil
}

// Close transitions the client to DISCONNECTED, closing its sockets and
// cancelling all pending requests with CANCELLED.
func (c *Client) Close() error {
	from := c.sm.current()
	c.mu.Lock()
	c.closing = true
	c.mu.Unlock()

	switch from {
	case model.StateDisconnected:
		// already there, nothing to transition
	case model.StateFailed:
		// legalTransitions only allows FAILED -> DISCONNECTED directly;
		// DISCONNECTING is not a legal intermediate state from FAILED.
		c.pending.drainWithError(ferr.Connection(ferr.CodeCancelled, "connection closed", nil))
		c.closeSockets()
		c.sm.forceTransition(model.StateDisconnected)
		c.emitState(model.StateFailed, model.StateDisconnected)
		c.metrics.SetConnectionState(c.channelID, model.StateDisconnected.String(), 0)
		return nil
	default:
		c.sm.forceTransition(model.StateDisconnecting)
		c.emitState(from, model.StateDisconnecting)
	}
	c.pending.drainWithError(ferr.Connection(ferr.CodeCancelled, "connection closed", nil))
	c.closeSockets()
	c.sm.forceTransition(model.StateDisconnected)
	c.emitState(model.StateDisconnecting, model.StateDisconnected)
	c.metrics.SetConnectionState(c.channelID, model.StateDisconnected.String(), 0)
	return nil
}

func (c *Client) emitState(from, to model.ConnectionState) {
	c.logger.Info("connection state transition", zap.String("from", from.String()), zap.String("to", to.String()))
	c.metrics.SetConnectionState(c.channelID, to.String(), 1)
}
