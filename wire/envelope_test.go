package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeRoundTrips(t *testing.T) {
	env := Envelope{
		From: "127.0.0.1:3000",
		Kind: KindStore,
		Body: EncodeStoreBody(StoreBody{Key: "k1", Data: []byte{1, 2, 3, 4}}),
	}

	decoded, err := DecodeEnvelope(EncodeEnvelope(env))
	require.NoError(t, err)
	assert.Equal(t, env, decoded)
}

func TestStoreBodyRoundTrips(t *testing.T) {
	body := StoreBody{Key: "k1", Data: []byte("payload bytes")}

	decoded, err := DecodeStoreBody(EncodeStoreBody(body))
	require.NoError(t, err)
	assert.Equal(t, body, decoded)
}

func TestEnvelopeWithEmptyBodyRoundTrips(t *testing.T) {
	env := Envelope{From: "127.0.0.1:4000", Kind: KindStore, Body: []byte{}}

	decoded, err := DecodeEnvelope(EncodeEnvelope(env))
	require.NoError(t, err)
	assert.Equal(t, env.From, decoded.From)
	assert.Equal(t, env.Kind, decoded.Kind)
	assert.Empty(t, decoded.Body)
}

func TestDecodeEnvelopeTruncatedErrors(t *testing.T) {
	full := EncodeEnvelope(Envelope{From: "x", Kind: KindStore, Body: []byte("abc")})
	_, err := DecodeEnvelope(full[:len(full)-2])
	assert.ErrorIs(t, err, ErrTruncated)
}
