package wire

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLengthPrefixedDecoderRoundTrips(t *testing.T) {
	payload := []byte("hello mesh")
	r := bytes.NewReader(EncodeFrame(payload))

	var msg Message
	require.NoError(t, LengthPrefixedDecoder{}.Decode(r, &msg))
	assert.Equal(t, payload, msg.Payload)
}

func TestLengthPrefixedDecoderZeroLengthFrame(t *testing.T) {
	r := bytes.NewReader(EncodeFrame(nil))

	var msg Message
	require.NoError(t, LengthPrefixedDecoder{}.Decode(r, &msg))
	assert.Empty(t, msg.Payload)
}

func TestLengthPrefixedDecoderMultipleFramesInOrder(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(EncodeFrame([]byte("first")))
	buf.Write(EncodeFrame([]byte("second")))

	dec := LengthPrefixedDecoder{}
	var m1, m2 Message
	require.NoError(t, dec.Decode(&buf, &m1))
	require.NoError(t, dec.Decode(&buf, &m2))
	assert.Equal(t, "first", string(m1.Payload))
	assert.Equal(t, "second", string(m2.Payload))
}

func TestLengthPrefixedDecoderRejectsOversizeFrame(t *testing.T) {
	r := bytes.NewReader(EncodeFrame(make([]byte, 1024)))

	var msg Message
	err := LengthPrefixedDecoder{MaxFrameSize: 100}.Decode(r, &msg)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestLengthPrefixedDecoderShortReadIsUnexpectedEOF(t *testing.T) {
	full := EncodeFrame([]byte("truncated body"))
	r := bytes.NewReader(full[:len(full)-3])

	var msg Message
	err := LengthPrefixedDecoder{}.Decode(r, &msg)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestSnappyDecoderRoundTrips(t *testing.T) {
	payload := bytes.Repeat([]byte("repeat me "), 50)
	r := bytes.NewReader(EncodeSnappyFrame(payload))

	var msg Message
	require.NoError(t, SnappyDecoder{}.Decode(r, &msg))
	assert.Equal(t, payload, msg.Payload)
}

func TestReadAllDecoderReadsEntireStream(t *testing.T) {
	r := bytes.NewReader([]byte("everything until eof"))

	var msg Message
	require.NoError(t, ReadAllDecoder{}.Decode(r, &msg))
	assert.Equal(t, "everything until eof", string(msg.Payload))
}
