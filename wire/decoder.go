package wire

import (
	"encoding/binary"
	"io"

	"github.com/golang/snappy"
	"github.com/pkg/errors"
)

// DefaultMaxFrameSize is the upper bound on a single frame's body length enforced
// by LengthPrefixedDecoder and SnappyDecoder when no explicit MaxFrameSize is
// configured: 16 MiB, matching spec.md's "large payload" scenario.
const DefaultMaxFrameSize = 16 << 20

// ErrFrameTooLarge is returned when a frame's declared length exceeds the
// decoder's configured maximum.
var ErrFrameTooLarge = errors.New("wire: frame exceeds maximum size")

// Decoder frames bytes from a stream into one Message.Payload per call. It is the
// pluggable seam a Transport uses to turn a raw byte stream into discrete
// messages; different decoders suit different wire conventions.
type Decoder interface {
	Decode(r io.Reader, msg *Message) error
}

// ReadAllDecoder reads a stream to EOF and places every byte read into a single
// Message.Payload. It is only correct for connections that carry exactly one
// payload for their entire lifetime: a second call after the first will read zero
// bytes and succeed with an empty payload, which is almost never what a caller
// wants on a long-lived, multi-message peer connection. Prefer
// LengthPrefixedDecoder for anything that broadcasts more than once per
// connection.
type ReadAllDecoder struct{}

// Decode implements Decoder.
func (ReadAllDecoder) Decode(r io.Reader, msg *Message) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	msg.Payload = b
	return nil
}

// LengthPrefixedDecoder is the normative wire decoder: each frame is a 4-byte
// big-endian unsigned length L followed by L bytes of envelope. It is safe for
// connections that carry many sequential payloads, which is what the broadcast
// path requires.
type LengthPrefixedDecoder struct {
	// MaxFrameSize bounds L. Zero means DefaultMaxFrameSize.
	MaxFrameSize uint32
}

// Decode implements Decoder.
func (d LengthPrefixedDecoder) Decode(r io.Reader, msg *Message) error {
	payload, err := readLengthPrefixedFrame(r, d.maxFrameSize())
	if err != nil {
		return err
	}
	msg.Payload = payload
	return nil
}

func (d LengthPrefixedDecoder) maxFrameSize() uint32 {
	if d.MaxFrameSize == 0 {
		return DefaultMaxFrameSize
	}
	return d.MaxFrameSize
}

func readLengthPrefixedFrame(r io.Reader, maxFrameSize uint32) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, io.ErrUnexpectedEOF
	}

	length := binary.BigEndian.Uint32(lenBuf[:])
	if length > maxFrameSize {
		return nil, ErrFrameTooLarge
	}

	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, io.ErrUnexpectedEOF
		}
	}
	return payload, nil
}

// SnappyDecoder wraps LengthPrefixedDecoder, snappy-decompressing each frame's
// body before it becomes a Message.Payload. It is an opt-in configuration for
// bandwidth-constrained meshes; the peer on the other end must be configured with
// a matching snappy-aware encoder on its send path (see transport.Peer.Send).
type SnappyDecoder struct {
	MaxFrameSize uint32
}

// Decode implements Decoder.
func (d SnappyDecoder) Decode(r io.Reader, msg *Message) error {
	compressed, err := readLengthPrefixedFrame(r, d.maxFrameSize())
	if err != nil {
		return err
	}

	decoded, err := snappy.Decode(nil, compressed)
	if err != nil {
		return errors.Wrap(err, "wire: snappy decode")
	}
	msg.Payload = decoded
	return nil
}

func (d SnappyDecoder) maxFrameSize() uint32 {
	if d.MaxFrameSize == 0 {
		return DefaultMaxFrameSize
	}
	return d.MaxFrameSize
}

// EncodeFrame prepends a 4-byte big-endian length prefix to payload, producing the
// bytes a LengthPrefixedDecoder on the far end can decode. Peer.Send uses this for
// every outbound message.
func EncodeFrame(payload []byte) []byte {
	out := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(out[:4], uint32(len(payload)))
	copy(out[4:], payload)
	return out
}

// EncodeSnappyFrame snappy-compresses payload and prepends a 4-byte big-endian
// length prefix over the compressed bytes, producing input a SnappyDecoder on the
// far end can decode.
func EncodeSnappyFrame(payload []byte) []byte {
	compressed := snappy.Encode(nil, payload)
	return EncodeFrame(compressed)
}
