// Package wire defines the on-wire message and envelope types exchanged between
// meshstore peers, and the frame Decoders that pull them off a byte stream.
package wire

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// Kind tags the application-level payload carried inside an Envelope.
type Kind uint32

const (
	// KindStore carries a StoreBody: a (key, data) pair to be persisted.
	KindStore Kind = 0
)

// Message is the record handed from the transport layer to the orchestrator: the
// remote address the bytes arrived from, and the raw envelope bytes. From is the
// socket-observed remote address; it is never to be trusted as an identity claim.
type Message struct {
	From    string
	Payload []byte
}

// Envelope is the application payload carried inside one wire frame.
type Envelope struct {
	From string
	Kind Kind
	Body []byte
}

// StoreBody is the Kind-specific structure carried in an Envelope of KindStore.
type StoreBody struct {
	Key  string
	Data []byte
}

// ErrTruncated is returned by the Decode functions when fewer bytes are available
// than a length prefix promises.
var ErrTruncated = errors.New("wire: truncated frame")

func writeLPString(buf *bytes.Buffer, s string) {
	writeLPBytes(buf, []byte(s))
}

func writeLPBytes(buf *bytes.Buffer, b []byte) {
	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(b)))
	buf.Write(lenBuf[:])
	buf.Write(b)
}

func readLPBytes(r *bytes.Reader) ([]byte, error) {
	var lenBuf [8]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, errors.Wrap(ErrTruncated, "length prefix")
	}
	n := binary.BigEndian.Uint64(lenBuf[:])
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, errors.Wrap(ErrTruncated, "body")
	}
	return b, nil
}

func readLPString(r *bytes.Reader) (string, error) {
	b, err := readLPBytes(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// EncodeEnvelope serializes env into the deterministic binary layout every
// meshstore node agrees on: a length-prefixed UTF-8 "from" string, a u32 kind tag,
// and a length-prefixed "body" byte string.
func EncodeEnvelope(env Envelope) []byte {
	buf := new(bytes.Buffer)
	writeLPString(buf, env.From)

	var kindBuf [4]byte
	binary.BigEndian.PutUint32(kindBuf[:], uint32(env.Kind))
	buf.Write(kindBuf[:])

	writeLPBytes(buf, env.Body)
	return buf.Bytes()
}

// DecodeEnvelope is the inverse of EncodeEnvelope.
func DecodeEnvelope(b []byte) (Envelope, error) {
	r := bytes.NewReader(b)

	from, err := readLPString(r)
	if err != nil {
		return Envelope{}, errors.Wrap(err, "wire: decode envelope from")
	}

	var kindBuf [4]byte
	if _, err := io.ReadFull(r, kindBuf[:]); err != nil {
		return Envelope{}, errors.Wrap(ErrTruncated, "wire: decode envelope kind")
	}

	body, err := readLPBytes(r)
	if err != nil {
		return Envelope{}, errors.Wrap(err, "wire: decode envelope body")
	}

	return Envelope{
		From: from,
		Kind: Kind(binary.BigEndian.Uint32(kindBuf[:])),
		Body: body,
	}, nil
}

// EncodeStoreBody serializes a StoreBody into the layout documented for
// Envelope.Body when Kind == KindStore: a length-prefixed key string followed by
// length-prefixed data bytes.
func EncodeStoreBody(body StoreBody) []byte {
	buf := new(bytes.Buffer)
	writeLPString(buf, body.Key)
	writeLPBytes(buf, body.Data)
	return buf.Bytes()
}

// DecodeStoreBody is the inverse of EncodeStoreBody.
func DecodeStoreBody(b []byte) (StoreBody, error) {
	r := bytes.NewReader(b)

	key, err := readLPString(r)
	if err != nil {
		return StoreBody{}, errors.Wrap(err, "wire: decode store body key")
	}
	data, err := readLPBytes(r)
	if err != nil {
		return StoreBody{}, errors.Wrap(err, "wire: decode store body data")
	}
	return StoreBody{Key: key, Data: data}, nil
}
