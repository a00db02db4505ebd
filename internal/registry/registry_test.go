package registry_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/paynet/fep/internal/config"
	"github.com/paynet/fep/internal/model"
	"github.com/paynet/fep/internal/registry"
)

const v2Doc = `{
  "version": "2.0",
  "connectionProfiles": {
    "atm-pool-1": {
      "host": "10.0.0.5",
      "sendPort": 9001,
      "receivePort": 9002,
      "connectTimeoutMs": 3000,
      "responseTimeoutMs": 5000,
      "heartbeatMs": 10000,
      "keepaliveMs": 15000,
      "retryDelayMs": 2000,
      "maxRetries": 5
    }
  },
  "channels": {
    "atm-north": {
      "profileId": "atm-pool-1",
      "type": "ATM",
      "active": true,
      "priority": 1
    }
  }
}`

func TestRegistry_RegisterProfileThenChannel_Resolves(t *testing.T) {
	r := registry.New(nil)

	profile := &model.ConnectionProfile{
		ID: "p1", Host: "127.0.0.1", SendPort: 7000,
		ConnectTimeoutMS: 1000, ResponseTimeoutMS: 1000, HeartbeatMS: 1000,
		KeepaliveMS: 1000, RetryDelayMS: 1000, MaxRetries: 3,
	}
	require.NoError(t, r.RegisterProfile(profile))

	ch := &model.Channel{ID: "ch1", Type: model.ChannelATM, Priority: 1}
	binding := &model.ChannelConnection{ChannelID: "ch1", ProfileID: "p1", Active: true, Priority: 1}
	require.NoError(t, r.RegisterChannel(ch, binding))

	got, ok := r.Binding("ch1")
	require.True(t, ok)
	require.True(t, got.IsResolved())
	require.Equal(t, "127.0.0.1", got.ResolvedProfile.Host)
}

func TestRegistry_RegisterChannel_UnknownProfileStillRegistersUnresolved(t *testing.T) {
	r := registry.New(nil)
	ch := &model.Channel{ID: "ch1", Type: model.ChannelATM, Priority: 1}
	binding := &model.ChannelConnection{ChannelID: "ch1", ProfileID: "missing", Active: true, Priority: 1}
	require.NoError(t, r.RegisterChannel(ch, binding))

	got, ok := r.Binding("ch1")
	require.True(t, ok)
	require.False(t, got.IsResolved())
}

func TestRegistry_ActiveBindings_SortedByPriority(t *testing.T) {
	r := registry.New(nil)
	for _, tc := range []struct {
		id       string
		priority int
		active   bool
	}{
		{"low-pref", 5, true},
		{"high-pref", 1, true},
		{"inactive", 1, false},
	} {
		ch := &model.Channel{ID: tc.id, Type: model.ChannelATM, Priority: tc.priority}
		b := &model.ChannelConnection{ChannelID: tc.id, ProfileID: "p", Active: tc.active, Priority: tc.priority, ResolvedProfile: &model.ConnectionProfile{ID: "p"}}
		require.NoError(t, r.RegisterChannel(ch, b))
	}
	active := r.ActiveBindings()
	require.Len(t, active, 2)
	require.Equal(t, "high-pref", active[0].ChannelID)
	require.Equal(t, "low-pref", active[1].ChannelID)
}

func TestRegistry_Subscribe_ReceivesEventsAndUnsubscribes(t *testing.T) {
	r := registry.New(nil)
	events := make(chan registry.Event, 4)
	unsub := r.Subscribe(events)

	ch := &model.Channel{ID: "ch1", Type: model.ChannelATM, Priority: 1}
	b := &model.ChannelConnection{ChannelID: "ch1", ProfileID: "p"}
	require.NoError(t, r.RegisterChannel(ch, b))

	select {
	case evt := <-events:
		require.Equal(t, registry.EventChannelRegistered, evt.Type)
		require.Equal(t, "ch1", evt.ChannelID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}

	unsub()
	unsub() // idempotent

	r.UnregisterChannel("ch1")
	select {
	case evt := <-events:
		t.Fatalf("unexpected event after unsubscribe: %+v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRegistry_LoadFromSource_V2Document(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "network.json")
	require.NoError(t, os.WriteFile(path, []byte(v2Doc), 0o644))

	r := registry.New(nil)
	require.NoError(t, r.LoadFromSource(config.NewFileSource(path), true))

	ch, ok := r.Channel("atm-north")
	require.True(t, ok)
	require.Equal(t, model.ChannelATM, ch.Type)

	binding, ok := r.Binding("atm-north")
	require.True(t, ok)
	require.True(t, binding.IsResolved())
	require.Equal(t, "10.0.0.5", binding.ResolvedProfile.Host)
}

func TestRegistry_StartHotReload_PicksUpChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "network.json")
	require.NoError(t, os.WriteFile(path, []byte(v2Doc), 0o644))

	r := registry.New(nil)
	require.NoError(t, r.LoadFromSource(config.NewFileSource(path), true))

	events := make(chan registry.Event, 4)
	defer r.Subscribe(events)()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop, err := r.StartHotReload(ctx, config.NewFileSource(path), 10*time.Millisecond, true)
	require.NoError(t, err)
	defer stop()

	time.Sleep(5 * time.Millisecond)
	updated := `{"version":"2.0","connectionProfiles":{},"channels":{}}`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))
	require.NoError(t, os.Chtimes(path, time.Now().Add(time.Second), time.Now().Add(time.Second)))

	select {
	case evt := <-events:
		require.Equal(t, registry.EventReloaded, evt.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for hot reload event")
	}
	_, ok := r.Channel("atm-north")
	require.False(t, ok)
}

func TestRegistry_Load_StrictFalse_SkipsMalformedEntriesWithWarning(t *testing.T) {
	doc := &config.DocumentV2{
		Version: "2.0",
		ConnectionProfiles: map[string]config.ProfileDoc{
			"good-pool": {
				Host: "10.0.0.5", SendPort: 9001, ReceivePort: 9002,
				ConnectTimeoutMS: 3000, ResponseTimeoutMS: 5000, HeartbeatMS: 10000,
				KeepaliveMS: 15000, RetryDelayMS: 2000, MaxRetries: 5,
			},
			"bad-pool": {
				Host: "10.0.0.6", SendPort: 9101, ReceivePort: 9102,
				// MaxRetries left at zero: invalid, must be positive.
			},
		},
		Channels: map[string]config.BindingDoc{
			"atm-north": {ProfileID: "good-pool", ChannelType: "ATM", Active: true, Priority: 1},
			"atm-south": {ProfileID: "missing-pool", ChannelType: "ATM", Active: true, Priority: 1},
		},
	}

	r := registry.New(nil)
	require.NoError(t, r.Load(doc, false))

	_, ok := r.Profile("good-pool")
	require.True(t, ok)
	_, ok = r.Profile("bad-pool")
	require.False(t, ok)

	_, ok = r.Channel("atm-north")
	require.True(t, ok)
	_, ok = r.Channel("atm-south")
	require.False(t, ok)
}

func TestRegistry_Load_StrictTrue_AbortsOnFirstMalformedEntry(t *testing.T) {
	doc := &config.DocumentV2{
		Version: "2.0",
		ConnectionProfiles: map[string]config.ProfileDoc{
			"bad-pool": {Host: "10.0.0.6", SendPort: 9101, ReceivePort: 9102},
		},
		Channels: map[string]config.BindingDoc{},
	}

	r := registry.New(nil)
	require.Error(t, r.Load(doc, true))
}
