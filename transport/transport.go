package transport

import (
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/colibri-net/meshstore/wire"
)

// ErrConsumeTimeout is returned by Consume when no message arrives within its
// bounded wait. It is not an error condition: it exists so the orchestrator's run
// loop can poll its shutdown signal without blocking forever.
var ErrConsumeTimeout = errors.New("transport: consume timeout")

// ErrClosed is returned by Consume once the transport has been closed and its
// queue drained.
var ErrClosed = errors.New("transport: closed")

// consumeTimeout is the bound on Consume's blocking receive, matching spec.md's
// 1-second poll interval for the orchestrator's shutdown check.
const consumeTimeout = time.Second

// queueCapacity bounds the fan-in message queue. The queue is multi-producer
// (one per peer reader), single-consumer (the orchestrator). When full, the
// oldest queued message is dropped to make room for the newest: a live mesh is
// assumed to prefer fresh messages over backlog.
const queueCapacity = 4096

// HandshakeFunc runs once per new connection, before admission. Returning an
// error rejects and closes the peer.
type HandshakeFunc func(Peer) error

// OnPeerFunc is the admission callback, run once per new connection after a
// successful handshake. Returning false rejects and closes the peer.
type OnPeerFunc func(Peer) bool

// OnPeerDisconnectFunc is the disconnect hook, run once a peer's reader has
// terminated and the peer has been removed from the transport's own registry.
type OnPeerDisconnectFunc func(Peer)

// Opts configures a Transport.
type Opts struct {
	// ListenAddr is the local TCP address to bind.
	ListenAddr string

	// Handshake, if set, runs on every new connection (inbound or outbound)
	// before admission. Nil means every connection is accepted unconditionally.
	Handshake HandshakeFunc

	// Decoder frames bytes off each peer's connection into wire.Message
	// payloads. Defaults to wire.LengthPrefixedDecoder{}, the normative decoder
	// for connections carrying more than one message.
	Decoder wire.Decoder

	// Encode turns an outbound payload into wire bytes. Defaults to
	// wire.EncodeFrame, matching the default Decoder. Set both Decoder and
	// Encode together when opting into a different wire convention (e.g.
	// wire.SnappyDecoder{} paired with wire.EncodeSnappyFrame).
	Encode FrameEncoder

	// Log receives structured diagnostics. Defaults to logrus.StandardLogger().
	Log *logrus.Logger
}

// Transport owns a TCP listener and dialer, a registry of live peers, and the
// fan-in queue every peer reader feeds. It is the sole collaborator the
// orchestrator needs to speak to the network.
type Transport struct {
	opts Opts
	log  *logrus.Entry

	listener net.Listener

	mu               sync.RWMutex
	onPeer           OnPeerFunc
	onPeerDisconnect OnPeerDisconnectFunc

	peersMu sync.RWMutex
	peers   map[string]Peer

	queueMu sync.Mutex
	queue   chan wire.Message

	closeOnce sync.Once
	closed    chan struct{}
	readerWG  sync.WaitGroup
	acceptWG  sync.WaitGroup
}

// New constructs a Transport from opts, filling in defaults for any zero-valued
// field.
func New(opts Opts) *Transport {
	if opts.Decoder == nil {
		opts.Decoder = wire.LengthPrefixedDecoder{}
	}
	if opts.Encode == nil {
		opts.Encode = wire.EncodeFrame
	}
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}
	return &Transport{
		opts:   opts,
		log:    opts.Log.WithField("component", "transport"),
		peers:  make(map[string]Peer),
		queue:  make(chan wire.Message, queueCapacity),
		closed: make(chan struct{}),
	}
}

// Addr returns the configured listen address.
func (t *Transport) Addr() string {
	return t.opts.ListenAddr
}

// RegisterOnPeer installs the admission callback. It is safe to call before any
// connection completes, and safe to call again later: the new callback applies
// only to connections admitted after the call returns.
func (t *Transport) RegisterOnPeer(cb OnPeerFunc) {
	t.mu.Lock()
	t.onPeer = cb
	t.mu.Unlock()
}

func (t *Transport) currentOnPeer() OnPeerFunc {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.onPeer
}

// RegisterOnPeerDisconnect installs the disconnect hook. It is safe to call
// before any connection completes, and safe to call again later: the new hook
// applies only to peers whose reader terminates after the call returns.
func (t *Transport) RegisterOnPeerDisconnect(cb OnPeerDisconnectFunc) {
	t.mu.Lock()
	t.onPeerDisconnect = cb
	t.mu.Unlock()
}

func (t *Transport) currentOnPeerDisconnect() OnPeerDisconnectFunc {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.onPeerDisconnect
}

// ListenAndAccept binds ListenAddr and spawns the accept loop. It returns once
// the bind has succeeded or failed; binding failure is fatal to the node.
func (t *Transport) ListenAndAccept() error {
	ln, err := net.Listen("tcp", t.opts.ListenAddr)
	if err != nil {
		return errors.Wrapf(err, "transport: bind %s", t.opts.ListenAddr)
	}
	t.listener = ln

	t.acceptWG.Add(1)
	go t.acceptLoop()

	t.log.WithField("addr", t.opts.ListenAddr).Info("listening")
	return nil
}

func (t *Transport) acceptLoop() {
	defer t.acceptWG.Done()
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			select {
			case <-t.closed:
				return
			default:
				t.log.WithError(err).Warn("accept error, continuing")
				continue
			}
		}
		go t.handleConn(conn, false)
	}
}

// Dial initiates an outbound TCP connection to addr and runs it through the same
// handshake/admission/registry pipeline as an accepted connection, with
// direction=outbound.
func (t *Transport) Dial(addr string) error {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "transport: dial %s", addr)
	}
	go t.handleConn(conn, true)
	return nil
}

// TryDial retries Dial with exponential backoff starting at 1s and doubling
// after each failure, up to maxAttempts, returning the last error if every
// attempt fails. It makes at least one and at most maxAttempts attempts.
func (t *Transport) TryDial(addr string, maxAttempts int) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	backoff := time.Second
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := t.Dial(addr); err != nil {
			lastErr = err
			select {
			case <-t.closed:
				return lastErr
			case <-time.After(backoff):
			}
			backoff *= 2
			continue
		}
		return nil
	}
	return errors.Wrapf(lastErr, "transport: dial %s failed after %d attempts", addr, maxAttempts)
}

func (t *Transport) handleConn(conn net.Conn, outbound bool) {
	peer := newTCPPeer(conn, outbound, t.opts.Encode)

	if t.opts.Handshake != nil {
		if err := t.opts.Handshake(peer); err != nil {
			t.log.WithError(err).WithField("peer", peer.Addr()).Warn("handshake rejected")
			peer.Close()
			return
		}
	}

	if cb := t.currentOnPeer(); cb != nil {
		if !cb(peer) {
			t.removePeer(peer.Addr(), peer)
			t.log.WithField("peer", peer.Addr()).Warn("admission rejected")
			peer.Close()
			return
		}
	}

	t.insertPeer(peer)

	t.readerWG.Add(1)
	go t.readLoop(peer)
}

func (t *Transport) insertPeer(p Peer) {
	t.peersMu.Lock()
	defer t.peersMu.Unlock()
	if old, ok := t.peers[p.Addr()]; ok {
		old.Close()
	}
	t.peers[p.Addr()] = p
}

// removePeer deletes addr from the registry, but only if the entry currently
// there is exactly cur: a newer connection for the same address may already have
// superseded the one this call is cleaning up after.
func (t *Transport) removePeer(addr string, cur Peer) {
	t.peersMu.Lock()
	defer t.peersMu.Unlock()
	if existing, ok := t.peers[addr]; ok && existing == cur {
		delete(t.peers, addr)
	}
}

func (t *Transport) readLoop(peer Peer) {
	defer func() {
		t.removePeer(peer.Addr(), peer)
		peer.Close()
		if cb := t.currentOnPeerDisconnect(); cb != nil {
			cb(peer)
		}
		t.readerWG.Done()
	}()

	for {
		select {
		case <-t.closed:
			return
		default:
		}

		var msg wire.Message
		if err := t.opts.Decoder.Decode(peer.Conn(), &msg); err != nil {
			return
		}
		msg.From = peer.Addr()
		t.enqueue(msg)
	}
}

func (t *Transport) enqueue(msg wire.Message) {
	select {
	case t.queue <- msg:
		return
	default:
	}

	// Queue full: drop the oldest message to make room for this one.
	t.queueMu.Lock()
	defer t.queueMu.Unlock()
	select {
	case <-t.queue:
	default:
	}
	select {
	case t.queue <- msg:
	default:
	}
}

// Consume blocks for up to one second waiting for the next message. A timeout is
// a non-error continuation signal, not a failure.
func (t *Transport) Consume() (wire.Message, error) {
	select {
	case msg, ok := <-t.queue:
		if !ok {
			return wire.Message{}, ErrClosed
		}
		return msg, nil
	case <-time.After(consumeTimeout):
		return wire.Message{}, ErrConsumeTimeout
	}
}

// Close stops accepting new connections, closes the listener, closes every
// currently registered peer, waits for their readers to terminate, and closes
// the message queue. Messages still queued are not discarded: Consume keeps
// returning them until the queue is empty and then reports ErrClosed. It is
// idempotent.
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closed)
		if t.listener != nil {
			err = t.listener.Close()
		}

		t.peersMu.RLock()
		peers := make([]Peer, 0, len(t.peers))
		for _, p := range t.peers {
			peers = append(peers, p)
		}
		t.peersMu.RUnlock()
		for _, p := range peers {
			p.Close()
		}

		t.acceptWG.Wait()
		t.readerWG.Wait()
		close(t.queue)
		t.log.Info("transport closed")
	})
	return err
}
