// Package connmanager implements the Dynamic Connection Manager (C4,
// spec.md §4.4): lifecycle orchestration over the Dual-Channel
// Client/Server layer (internal/connection), reacting to registry changes
// or explicit operator commands. Structurally grounded on the same
// reconcile-loop idiom as Memoh's channel Manager (other_examples) — a
// mutex-guarded map of live connections kept in sync with a source of
// truth via a subscription channel, generalized here from bot-channel
// adapters to FEP client/server connections.
package connmanager

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/paynet/fep/internal/connection"
	"github.com/paynet/fep/internal/ferr"
	"github.com/paynet/fep/internal/metrics"
	"github.com/paynet/fep/internal/model"
	"github.com/paynet/fep/internal/registry"
	"github.com/paynet/fep/internal/wire"
)

// Status summarizes one managed connection for the operator CLI (spec.md
// §5: list connections, get status, summary).
type Status struct {
	ChannelID   string
	ServerMode  bool
	ClientState model.ConnectionState `json:",omitempty"`
	ServerState model.ServerState     `json:",omitempty"`
	PeerCount   int32                 `json:",omitempty"`
}

// Manager owns the live set of Client/Server connections and keeps it in
// sync with the registry.
type Manager struct {
	reg     *registry.Registry
	codec   wire.Codec
	handler connection.Handler
	signOn  connection.SignOnFunc
	logger  *zap.Logger
	metrics *metrics.Registry

	mu       sync.Mutex
	clients  map[string]*connection.Client
	servers  map[string]*connection.Server
	unsub    registry.Unsubscribe
	events   chan registry.Event
	cancel   context.CancelFunc
	started  bool
}

// New constructs a Manager. handler is invoked for inbound messages on
// server-mode channels; it is typically internal/pipeline's entry point.
func New(reg *registry.Registry, codec wire.Codec, handler connection.Handler, signOn connection.SignOnFunc, logger *zap.Logger, m *metrics.Registry) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		reg:     reg,
		codec:   codec,
		handler: handler,
		signOn:  signOn,
		logger:  logger.With(zap.String("component", "connmanager")),
		metrics: m,
		clients: make(map[string]*connection.Client),
		servers: make(map[string]*connection.Server),
	}
}

// Start brings up connections for every currently-active registry binding
// and begins reconciling future registry changes.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return ferr.Config("ALREADY_STARTED", "connection manager already started", nil)
	}
	m.started = true
	events := make(chan registry.Event, 64)
	m.events = events
	m.unsub = m.reg.Subscribe(events)
	reconcileCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.mu.Unlock()

	for _, binding := range m.reg.ActiveBindings() {
		if err := m.AddChannel(ctx, binding.ChannelID); err != nil {
			m.logger.Error("failed to bring up channel at startup", zap.String("channel", binding.ChannelID), zap.Error(err))
		}
	}

	go m.reconcileLoop(reconcileCtx)
	return nil
}

func (m *Manager) reconcileLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-m.events:
			m.handleEvent(ctx, evt)
		}
	}
}

func (m *Manager) handleEvent(ctx context.Context, evt registry.Event) {
	switch evt.Type {
	case registry.EventChannelRegistered, registry.EventChannelUpdated:
		if err := m.RemoveChannel(evt.ChannelID); err != nil {
			m.logger.Debug("reconcile: remove before re-add", zap.String("channel", evt.ChannelID), zap.Error(err))
		}
		if binding, ok := m.reg.Binding(evt.ChannelID); ok && binding.Active {
			if err := m.AddChannel(ctx, evt.ChannelID); err != nil {
				m.logger.Error("reconcile: add failed", zap.String("channel", evt.ChannelID), zap.Error(err))
			}
		}
	case registry.EventChannelUnregistered:
		if err := m.RemoveChannel(evt.ChannelID); err != nil {
			m.logger.Debug("reconcile: remove failed", zap.String("channel", evt.ChannelID), zap.Error(err))
		}
	case registry.EventReloaded:
		m.reconcileFullSet(ctx)
	}
}

// reconcileFullSet brings the live connection set in line with every
// currently active binding, used after a bulk registry reload.
func (m *Manager) reconcileFullSet(ctx context.Context) {
	desired := make(map[string]bool)
	for _, b := range m.reg.ActiveBindings() {
		desired[b.ChannelID] = true
	}

	m.mu.Lock()
	var toRemove []string
	for id := range m.clients {
		if !desired[id] {
			toRemove = append(toRemove, id)
		}
	}
	for id := range m.servers {
		if !desired[id] {
			toRemove = append(toRemove, id)
		}
	}
	m.mu.Unlock()

	for _, id := range toRemove {
		_ = m.RemoveChannel(id)
	}
	for id := range desired {
		m.mu.Lock()
		_, hasClient := m.clients[id]
		_, hasServer := m.servers[id]
		m.mu.Unlock()
		if !hasClient && !hasServer {
			if err := m.AddChannel(ctx, id); err != nil {
				m.logger.Error("reconcile: add failed", zap.String("channel", id), zap.Error(err))
			}
		}
	}
}

// AddChannel brings up a client or server connection for channelID
// according to its binding's ConnectionProfile.ServerMode.
func (m *Manager) AddChannel(ctx context.Context, channelID string) error {
	binding, ok := m.reg.Binding(channelID)
	if !ok || !binding.IsResolved() {
		return ferr.Config("UNKNOWN_CHANNEL", fmt.Sprintf("channel %s has no resolved binding", channelID), nil)
	}
	profile := binding.ResolvedProfile

	m.mu.Lock()
	if _, exists := m.clients[channelID]; exists {
		m.mu.Unlock()
		return ferr.Config("ALREADY_ADDED", fmt.Sprintf("channel %s already managed", channelID), nil)
	}
	if _, exists := m.servers[channelID]; exists {
		m.mu.Unlock()
		return ferr.Config("ALREADY_ADDED", fmt.Sprintf("channel %s already managed", channelID), nil)
	}
	m.mu.Unlock()

	if profile.ServerMode {
		srv := connection.NewServer(channelID, profile, m.codec, m.handler, m.logger, m.metrics)
		if err := srv.Start(ctx); err != nil {
			return err
		}
		m.mu.Lock()
		m.servers[channelID] = srv
		m.mu.Unlock()
		return nil
	}

	cli := connection.NewClient(channelID, profile, m.codec, m.signOn, m.logger, m.metrics)
	if err := cli.Connect(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	m.clients[channelID] = cli
	m.mu.Unlock()
	return nil
}

// RemoveChannel tears down and forgets whichever connection channelID has.
func (m *Manager) RemoveChannel(channelID string) error {
	m.mu.Lock()
	cli, hasClient := m.clients[channelID]
	srv, hasServer := m.servers[channelID]
	delete(m.clients, channelID)
	delete(m.servers, channelID)
	m.mu.Unlock()

	if hasClient {
		return cli.Close()
	}
	if hasServer {
		return srv.Stop()
	}
	return ferr.Config("UNKNOWN_CHANNEL", fmt.Sprintf("channel %s is not managed", channelID), nil)
}

// Reconnect closes and re-establishes a client-mode channel. It fails with
// SERVER_MODE for listener channels (spec.md §4.4).
func (m *Manager) Reconnect(ctx context.Context, channelID string) error {
	m.mu.Lock()
	_, isServer := m.servers[channelID]
	m.mu.Unlock()
	if isServer {
		return ferr.Config("SERVER_MODE", fmt.Sprintf("channel %s is a server; reconnect is client-mode only", channelID), nil)
	}
	if err := m.RemoveChannel(channelID); err != nil {
		return err
	}
	return m.AddChannel(ctx, channelID)
}

// Client returns the live client for a client-mode channel, if any.
func (m *Manager) Client(channelID string) (*connection.Client, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[channelID]
	return c, ok
}

// Summary returns a Status snapshot for every managed connection, the basis
// for the operator CLI's "summary" command (spec.md §5).
func (m *Manager) Summary() []Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Status, 0, len(m.clients)+len(m.servers))
	for id, c := range m.clients {
		out = append(out, Status{ChannelID: id, ClientState: c.State()})
	}
	for id, s := range m.servers {
		out = append(out, Status{ChannelID: id, ServerMode: true, ServerState: s.State(), PeerCount: s.PeerCount()})
	}
	return out
}

// Stop tears down every managed connection and the reconcile loop.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
	}
	if m.unsub != nil {
		m.unsub()
	}
	clients := m.clients
	servers := m.servers
	m.clients = make(map[string]*connection.Client)
	m.servers = make(map[string]*connection.Server)
	m.started = false
	m.mu.Unlock()

	for _, c := range clients {
		_ = c.Close()
	}
	for _, s := range servers {
		_ = s.Stop()
	}
}
