// Package transport implements the asynchronous TCP listener/dialer that produces
// long-lived, full-duplex peer connections for a meshstore node: per-connection
// handshake and admission, a dedicated reader per peer, and a single fan-in queue
// of decoded messages.
package transport

import (
	"net"
	"sync"

	"github.com/pkg/errors"
)

// ErrPeerClosed is returned by Send once a Peer has been closed.
var ErrPeerClosed = errors.New("transport: peer closed")

// FrameEncoder turns an application payload into bytes ready to write to the
// wire, matching whatever Decoder the far end is configured with (see
// wire.EncodeFrame / wire.EncodeSnappyFrame).
type FrameEncoder func(payload []byte) []byte

// Peer is the capability set a Transport exposes for one remote connection:
// its address, its direction, and the ability to send to it or close it.
// Handshake and admission callbacks, and the node-level broadcast path, all work
// against this interface rather than a concrete connection type.
type Peer interface {
	// Addr returns the remote peer's address as observed by this side's socket.
	// It is not a trusted identity claim.
	Addr() string

	// Outbound reports whether this node dialed the connection (true) or accepted
	// it (false). It never changes for the lifetime of the Peer.
	Outbound() bool

	// Send writes payload, framed by the configured FrameEncoder, to the peer.
	// Concurrent calls to Send on the same Peer are serialized.
	Send(payload []byte) error

	// Close shuts down both directions of the underlying connection. It is
	// idempotent.
	Close() error

	// Conn exposes the raw connection for the per-peer reader loop. It is not
	// part of the capability set handshake/admission callbacks are expected to
	// use for anything but reading/writing handshake bytes.
	Conn() net.Conn
}

// tcpPeer is the concrete, net.Conn-backed Peer every meshstore Transport hands
// out. Direction is fixed at construction and never mutates.
type tcpPeer struct {
	conn     net.Conn
	outbound bool
	encode   FrameEncoder

	sendMu sync.Mutex

	closeMu sync.Mutex
	closed  bool
}

func newTCPPeer(conn net.Conn, outbound bool, encode FrameEncoder) *tcpPeer {
	return &tcpPeer{conn: conn, outbound: outbound, encode: encode}
}

func (p *tcpPeer) Addr() string {
	return p.conn.RemoteAddr().String()
}

func (p *tcpPeer) Outbound() bool {
	return p.outbound
}

func (p *tcpPeer) Conn() net.Conn {
	return p.conn
}

func (p *tcpPeer) Send(payload []byte) error {
	p.sendMu.Lock()
	defer p.sendMu.Unlock()

	p.closeMu.Lock()
	closed := p.closed
	p.closeMu.Unlock()
	if closed {
		return ErrPeerClosed
	}

	framed := p.encode(payload)
	_, err := p.conn.Write(framed)
	return errors.Wrapf(err, "transport: send to %s", p.Addr())
}

func (p *tcpPeer) Close() error {
	p.closeMu.Lock()
	defer p.closeMu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.conn.Close()
}
