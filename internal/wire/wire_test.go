package wire_test

import (
	"bufio"
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/paynet/fep/internal/wire"
)

func TestLengthPrefixedJSONCodec_RoundTrip(t *testing.T) {
	codec := wire.LengthPrefixedJSONCodec{}
	var buf bytes.Buffer

	in := &wire.RawMessage{Correlation: "RRN1|STAN1|TERM1", Payload: json.RawMessage(`{"amount":"100.00"}`)}
	require.NoError(t, codec.Encode(&buf, in))

	out, err := codec.Decode(bufio.NewReader(&buf))
	require.NoError(t, err)

	raw, ok := out.(*wire.RawMessage)
	require.True(t, ok)
	require.Equal(t, "RRN1|STAN1|TERM1", raw.CorrelationKey())
	require.JSONEq(t, `{"amount":"100.00"}`, string(raw.Payload))
}

func TestLengthPrefixedJSONCodec_MultipleFramesOnStream(t *testing.T) {
	codec := wire.LengthPrefixedJSONCodec{}
	var buf bytes.Buffer

	require.NoError(t, codec.Encode(&buf, &wire.RawMessage{Correlation: "a"}))
	require.NoError(t, codec.Encode(&buf, &wire.RawMessage{Correlation: "b"}))

	r := bufio.NewReader(&buf)
	first, err := codec.Decode(r)
	require.NoError(t, err)
	require.Equal(t, "a", first.CorrelationKey())

	second, err := codec.Decode(r)
	require.NoError(t, err)
	require.Equal(t, "b", second.CorrelationKey())
}

func TestLengthPrefixedJSONCodec_RejectsOversizedFrame(t *testing.T) {
	codec := wire.LengthPrefixedJSONCodec{}
	var buf bytes.Buffer
	buf.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})

	_, err := codec.Decode(bufio.NewReader(&buf))
	require.Error(t, err)
}

func TestLengthPrefixedJSONCodec_EncodeWrongType(t *testing.T) {
	codec := wire.LengthPrefixedJSONCodec{}
	var buf bytes.Buffer
	err := codec.Encode(&buf, stubMessage{})
	require.Error(t, err)
}

type stubMessage struct{}

func (stubMessage) CorrelationKey() string { return "stub" }
