package codec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type payload struct {
	A string
	B int
}

func TestSerializeDeserialize_JSONRoundTrip(t *testing.T) {
	in := payload{A: "hi", B: 7}
	data, err := Serialize(in)
	require.NoError(t, err)

	var out payload
	require.NoError(t, Deserialize(data, &out))
	require.Equal(t, in, out)
}

func TestSerializeDeserialize_StringPassthrough(t *testing.T) {
	data, err := Serialize("plain text")
	require.NoError(t, err)
	require.Equal(t, []byte("plain text"), data)

	var out string
	require.NoError(t, Deserialize(data, &out))
	require.Equal(t, "plain text", out)
}

func TestDeserialize_FallsBackToStringOnBadJSON(t *testing.T) {
	var out string
	require.NoError(t, Deserialize([]byte("not json{"), &out))
	require.Equal(t, "not json{", out)
}

func TestWrapParseUnique(t *testing.T) {
	wrapped := WrapUnique("payload-body")
	parsed, ok := ParseUnique(wrapped)
	require.True(t, ok)
	require.Equal(t, "payload-body", parsed)
}

func TestParseUnique_RejectsUnwrapped(t *testing.T) {
	_, ok := ParseUnique("no-colon-here")
	require.False(t, ok)
}

func TestWrapUnique_DistinctPrefixesForSamePayload(t *testing.T) {
	a := WrapUnique("same")
	b := WrapUnique("same")
	require.NotEqual(t, a, b)

	pa, _ := ParseUnique(a)
	pb, _ := ParseUnique(b)
	require.Equal(t, "same", pa)
	require.Equal(t, "same", pb)
}

func TestUniqueEnvelope_MarshalRoundTrip(t *testing.T) {
	payloadBytes, err := Serialize(payload{A: "x", B: 1})
	require.NoError(t, err)

	env := WrapEnvelope(payloadBytes)
	require.Len(t, env.ID, uniqueIDLength)

	wire, err := env.Marshal()
	require.NoError(t, err)

	out, err := UnmarshalEnvelope(wire)
	require.NoError(t, err)
	require.Equal(t, env.ID, out.ID)
	require.Equal(t, payloadBytes, out.Payload)

	var p payload
	require.NoError(t, Deserialize(out.Payload, &p))
	require.Equal(t, "x", p.A)
}

func TestWrapEnvelope_DistinctIDsForSamePayload(t *testing.T) {
	payloadBytes := []byte(`{"a":"same"}`)
	a := WrapEnvelope(payloadBytes)
	b := WrapEnvelope(payloadBytes)
	require.NotEqual(t, a.ID, b.ID)
}
