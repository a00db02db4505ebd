// Package registry implements the Channel/Profile Registry (spec.md §4.1,
// C1): the single source of truth for which channels exist, which
// connection profiles they bind to, and how that binding resolves priority
// and schema overrides. Structurally it follows the mutex-guarded-map plus
// explicit-subscription-handle shape of Memoh's internal/channel Registry
// (other_examples), generalized from bot/channel adapters to FEP
// channels/profiles; the periodic refresh loop is grounded on the same
// source's Manager.refreshInterval idiom.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/paynet/fep/internal/config"
	"github.com/paynet/fep/internal/ferr"
	"github.com/paynet/fep/internal/model"
)

// EventType distinguishes the kinds of change a subscriber can observe.
type EventType string

const (
	EventChannelRegistered   EventType = "CHANNEL_REGISTERED"
	EventChannelUnregistered EventType = "CHANNEL_UNREGISTERED"
	EventChannelUpdated      EventType = "CHANNEL_UPDATED"
	EventReloaded            EventType = "RELOADED"
)

// Event is delivered to subscribers on every registry mutation.
type Event struct {
	Type      EventType
	ChannelID string
}

// Unsubscribe removes a subscription. Calling it more than once is safe.
type Unsubscribe func()

// Registry holds the live set of channels, connection profiles, and the
// bindings between them. All exported methods are safe for concurrent use.
//
// Per spec.md §9's design note, subscribers are tracked via an explicit
// handle returned from Subscribe, not a weak reference: callers that forget
// to call Unsubscribe leak a channel, which is a debuggable, local failure
// mode instead of GC-timing-dependent behavior.
type Registry struct {
	mu       sync.RWMutex
	profiles map[string]*model.ConnectionProfile
	channels map[string]*model.Channel
	bindings map[string]*model.ChannelConnection // keyed by channel ID

	logger *zap.Logger

	subMu     sync.Mutex
	subs      map[int64]chan Event
	nextSubID int64

	source       config.Source
	lastModTime  time.Time
	pollInterval time.Duration
	pollStrict   bool
	cancelPoll   context.CancelFunc
	pollOnce     sync.Once
}

// New constructs an empty Registry. A nil logger falls back to zap.NewNop(),
// matching the rest of the core's nil-safe-collaborator convention.
func New(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		profiles: make(map[string]*model.ConnectionProfile),
		channels: make(map[string]*model.Channel),
		bindings: make(map[string]*model.ChannelConnection),
		subs:     make(map[int64]chan Event),
		logger:   logger.With(zap.String("component", "registry")),
	}
}

// Subscribe registers ch to receive every subsequent Event. The channel
// should be buffered by the caller; a full channel causes that event to be
// dropped for that subscriber rather than blocking the registry.
func (r *Registry) Subscribe(ch chan Event) Unsubscribe {
	r.subMu.Lock()
	id := r.nextSubID
	r.nextSubID++
	r.subs[id] = ch
	r.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.subMu.Lock()
			delete(r.subs, id)
			r.subMu.Unlock()
		})
	}
}

func (r *Registry) publish(evt Event) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	for _, ch := range r.subs {
		select {
		case ch <- evt:
		default:
			r.logger.Warn("subscriber channel full, dropping event",
				zap.String("event", string(evt.Type)), zap.String("channel_id", evt.ChannelID))
		}
	}
}

// RegisterProfile adds or replaces a connection profile.
func (r *Registry) RegisterProfile(p *model.ConnectionProfile) error {
	if err := p.Validate(); err != nil {
		return ferr.Config("INVALID_PROFILE", err.Error(), err)
	}
	r.mu.Lock()
	r.profiles[p.ID] = p
	// Re-resolve any binding already pointing at this profile ID.
	for _, b := range r.bindings {
		if b.ProfileID == p.ID {
			b.ResolvedProfile = p
		}
	}
	r.mu.Unlock()
	return nil
}

// RegisterChannel adds or replaces a channel and its binding, resolving the
// binding's profile pointer if the profile is already known.
func (r *Registry) RegisterChannel(ch *model.Channel, binding *model.ChannelConnection) error {
	if err := ch.Validate(); err != nil {
		return ferr.Config("INVALID_CHANNEL", err.Error(), err)
	}
	if err := binding.Validate(); err != nil {
		return ferr.Config("INVALID_BINDING", err.Error(), err)
	}
	if binding.ChannelID != ch.ID {
		return ferr.Config("BINDING_MISMATCH", fmt.Sprintf("binding channel id %q != channel id %q", binding.ChannelID, ch.ID), nil)
	}

	r.mu.Lock()
	_, existed := r.channels[ch.ID]
	r.channels[ch.ID] = ch
	if profile, ok := r.profiles[binding.ProfileID]; ok {
		binding.ResolvedProfile = profile
	}
	r.bindings[ch.ID] = binding
	r.mu.Unlock()

	if existed {
		r.publish(Event{Type: EventChannelUpdated, ChannelID: ch.ID})
	} else {
		r.publish(Event{Type: EventChannelRegistered, ChannelID: ch.ID})
	}
	return nil
}

// UnregisterChannel removes a channel and its binding.
func (r *Registry) UnregisterChannel(id string) {
	r.mu.Lock()
	_, existed := r.channels[id]
	delete(r.channels, id)
	delete(r.bindings, id)
	r.mu.Unlock()
	if existed {
		r.publish(Event{Type: EventChannelUnregistered, ChannelID: id})
	}
}

// Channel returns the channel by ID.
func (r *Registry) Channel(id string) (*model.Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[id]
	return ch, ok
}

// Profile returns the connection profile by ID.
func (r *Registry) Profile(id string) (*model.ConnectionProfile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[id]
	return p, ok
}

// Binding returns the binding for a channel.
func (r *Registry) Binding(channelID string) (*model.ChannelConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bindings[channelID]
	return b, ok
}

// ActiveBindings returns every active, resolved binding sorted by ascending
// Priority (spec.md §3: lower priority value is more preferred).
func (r *Registry) ActiveBindings() []*model.ChannelConnection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*model.ChannelConnection, 0, len(r.bindings))
	for _, b := range r.bindings {
		if b.Active && b.IsResolved() {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

// ChannelIDs returns every registered channel ID, unordered.
func (r *Registry) ChannelIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.channels))
	for id := range r.channels {
		out = append(out, id)
	}
	return out
}

// Load replaces the registry's contents from a parsed v2 document. Existing
// subscribers are notified with a single RELOADED event rather than one
// event per entity, since reload is a bulk operation.
//
// When strict is true, the first malformed profile/channel/binding fails the
// entire load with a typed config error and the registry's previous contents
// are left untouched. When strict is false, a malformed entry is skipped
// with a logger.Warn instead of aborting the batch, and the load succeeds
// with whatever entries did parse.
func (r *Registry) Load(doc *config.DocumentV2, strict bool) error {
	profiles := make(map[string]*model.ConnectionProfile, len(doc.ConnectionProfiles))
	for id, pd := range doc.ConnectionProfiles {
		p := &model.ConnectionProfile{
			ID: id, Host: pd.Host, SendPort: pd.SendPort, ReceivePort: pd.ReceivePort,
			ConnectTimeoutMS: pd.ConnectTimeoutMS, ResponseTimeoutMS: pd.ResponseTimeoutMS,
			HeartbeatMS: pd.HeartbeatMS, KeepaliveMS: pd.KeepaliveMS, RetryDelayMS: pd.RetryDelayMS,
			MaxRetries: pd.MaxRetries, TLS: pd.TLS, PoolSize: pd.PoolSize,
			AutoReconnect: pd.AutoReconnect, ServerMode: pd.ServerMode, Properties: pd.Properties,
		}
		if err := p.Validate(); err != nil {
			if strict {
				return ferr.Config("INVALID_PROFILE", err.Error(), err)
			}
			r.logger.Warn("skipping malformed profile", zap.String("profile_id", id), zap.Error(err))
			continue
		}
		profiles[id] = p
	}

	channels := make(map[string]*model.Channel, len(doc.Channels))
	bindings := make(map[string]*model.ChannelConnection, len(doc.Channels))
	for id, bd := range doc.Channels {
		ch := &model.Channel{
			ID: id, Type: model.ChannelType(bd.ChannelType), Vendor: bd.Vendor,
			Version: bd.Version, Active: bd.Active, Priority: bd.Priority,
			SchemaOverrides: bd.SchemaOverrides, Properties: bd.Properties,
		}
		if ch.Priority == 0 {
			ch.Priority = 1
		}
		if err := ch.Validate(); err != nil {
			if strict {
				return ferr.Config("INVALID_CHANNEL", err.Error(), err)
			}
			r.logger.Warn("skipping malformed channel", zap.String("channel_id", id), zap.Error(err))
			continue
		}
		binding := &model.ChannelConnection{
			ChannelID: id, ProfileID: bd.ProfileID, SchemaOverrides: bd.SchemaOverrides,
			Properties: bd.Properties, Active: bd.Active, Priority: ch.Priority,
			Description: bd.Description,
		}
		if err := binding.Validate(); err != nil {
			if strict {
				return ferr.Config("INVALID_BINDING", err.Error(), err)
			}
			r.logger.Warn("skipping malformed binding", zap.String("channel_id", id), zap.Error(err))
			continue
		}
		if profile, ok := profiles[bd.ProfileID]; ok {
			binding.ResolvedProfile = profile
		} else {
			if strict {
				return ferr.Config("UNKNOWN_PROFILE", fmt.Sprintf("channel %s references unknown profile %s", id, bd.ProfileID), nil)
			}
			r.logger.Warn("skipping channel with unknown profile", zap.String("channel_id", id), zap.String("profile_id", bd.ProfileID))
			continue
		}
		channels[id] = ch
		bindings[id] = binding
	}

	r.mu.Lock()
	r.profiles = profiles
	r.channels = channels
	r.bindings = bindings
	r.mu.Unlock()

	r.logger.Info("registry reloaded", zap.Int("channels", len(channels)), zap.Int("profiles", len(profiles)))
	r.publish(Event{Type: EventReloaded})
	return nil
}

// LoadFromSource loads once from a config.Source, ignoring legacy v1/
// schema-only documents (they carry no channels, so there is nothing for
// the registry to hold). See Load for the meaning of strict.
func (r *Registry) LoadFromSource(src config.Source, strict bool) error {
	doc, isV2, err := src.Load()
	if err != nil {
		return err
	}
	if !isV2 {
		r.logger.Warn("config source produced a legacy schema-only document; registry left unchanged")
		return nil
	}
	return r.Load(doc, strict)
}

// StartHotReload polls src at interval and reloads whenever its ModTime
// advances. It returns a stop function. Calling StartHotReload twice on the
// same Registry is a programming error; callers should own at most one
// poller per Registry instance. strict carries the same meaning as in Load:
// a malformed entry aborts the reload when true, or is skipped with a
// warning when false, leaving the previous config in place on abort.
func (r *Registry) StartHotReload(ctx context.Context, src config.Source, interval time.Duration, strict bool) (stop func(), err error) {
	modTime, err := src.ModTime()
	if err != nil {
		return nil, err
	}
	r.source = src
	r.lastModTime = modTime
	r.pollInterval = interval
	r.pollStrict = strict

	pollCtx, cancel := context.WithCancel(ctx)
	r.cancelPoll = cancel
	go r.pollLoop(pollCtx)
	return cancel, nil
}

func (r *Registry) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			mt, err := r.source.ModTime()
			if err != nil {
				r.logger.Warn("hot reload: stat failed", zap.Error(err))
				continue
			}
			if !mt.After(r.lastModTime) {
				continue
			}
			if err := r.LoadFromSource(r.source, r.pollStrict); err != nil {
				r.logger.Error("hot reload: load failed, keeping previous config", zap.Error(err))
				continue
			}
			r.lastModTime = mt
		}
	}
}
