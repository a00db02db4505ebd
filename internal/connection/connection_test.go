package connection_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/paynet/fep/internal/connection"
	"github.com/paynet/fep/internal/model"
	"github.com/paynet/fep/internal/wire"
)

func echoHandler(ctx context.Context, peer string, msg wire.Message) (wire.Message, error) {
	raw := msg.(*wire.RawMessage)
	return &wire.RawMessage{Correlation: raw.Correlation, Payload: raw.Payload}, nil
}

func testProfile(sendPort, recvPort int) *model.ConnectionProfile {
	return &model.ConnectionProfile{
		ID: "test", Host: "127.0.0.1", SendPort: sendPort, ReceivePort: recvPort,
		ConnectTimeoutMS: 1000, ResponseTimeoutMS: 2000, HeartbeatMS: 200,
		KeepaliveMS: 1000, RetryDelayMS: 50, MaxRetries: 3, AutoReconnect: true,
	}
}

func TestClientServer_SingleSocket_SendAndReceive(t *testing.T) {
	profile := testProfile(0, 0)
	server := connection.NewServer("ch1", profile, wire.LengthPrefixedJSONCodec{}, echoHandler, nil, nil)
	require.NoError(t, server.Start(context.Background()))
	defer server.Stop()

	profile.SendPort = server.ActualSendPort()
	profile.ReceivePort = server.ActualReceivePort()

	client := connection.NewClient("ch1", profile, wire.LengthPrefixedJSONCodec{}, nil, nil, nil)
	require.NoError(t, client.Connect(context.Background()))
	defer client.Close()
	require.Equal(t, model.StateSignedOn, client.State())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	payload, _ := json.Marshal(map[string]string{"hello": "world"})
	resp, err := client.SendAndReceive(ctx, &wire.RawMessage{Correlation: "corr-1", Payload: payload})
	require.NoError(t, err)
	require.Equal(t, "corr-1", resp.CorrelationKey())
}

func TestClientServer_DualChannel_SendAndReceive(t *testing.T) {
	sendLn := mustFreePort(t)
	recvLn := mustFreePort(t)
	profile := testProfile(sendLn, recvLn)

	server := connection.NewServer("ch2", profile, wire.LengthPrefixedJSONCodec{}, echoHandler, nil, nil)
	require.NoError(t, server.Start(context.Background()))
	defer server.Stop()

	client := connection.NewClient("ch2", profile, wire.LengthPrefixedJSONCodec{}, nil, nil, nil)
	require.NoError(t, client.Connect(context.Background()))
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := client.SendAndReceive(ctx, &wire.RawMessage{Correlation: "corr-2"})
	require.NoError(t, err)
	require.Equal(t, "corr-2", resp.CorrelationKey())
}

func TestClient_SendAndReceive_DuplicateCorrelationRejected(t *testing.T) {
	profile := testProfile(0, 0)
	blockHandler := func(ctx context.Context, peer string, msg wire.Message) (wire.Message, error) {
		time.Sleep(200 * time.Millisecond)
		return echoHandler(ctx, peer, msg)
	}
	server := connection.NewServer("ch3", profile, wire.LengthPrefixedJSONCodec{}, blockHandler, nil, nil)
	require.NoError(t, server.Start(context.Background()))
	defer server.Stop()
	profile.SendPort, profile.ReceivePort = server.ActualSendPort(), server.ActualReceivePort()

	client := connection.NewClient("ch3", profile, wire.LengthPrefixedJSONCodec{}, nil, nil, nil)
	require.NoError(t, client.Connect(context.Background()))
	defer client.Close()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_, _ = client.SendAndReceive(ctx, &wire.RawMessage{Correlation: "dup"})
	}()
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := client.SendAndReceive(ctx, &wire.RawMessage{Correlation: "dup"})
	require.Error(t, err)
}

func mustFreePort(t *testing.T) int {
	t.Helper()
	ln, err := newFreeListener()
	require.NoError(t, err)
	port := ln.port
	require.NoError(t, ln.Close())
	return port
}
