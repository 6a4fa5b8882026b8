// Package node implements the orchestrator: the component that owns a
// Transport, a content-addressed Store, the node-level peer mirror used for
// broadcast, the bootstrap procedure, and the consume/dispatch loop.
package node

import (
	"bytes"
	"io"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/colibri-net/meshstore/store"
	"github.com/colibri-net/meshstore/transport"
	"github.com/colibri-net/meshstore/wire"
)

// Options configures a Node.
type Options struct {
	// ListenAddr is the local TCP address the node's transport binds.
	ListenAddr string

	// StoreOpts configures the node's content-addressed store.
	StoreOpts store.Opts

	// BootstrapNodes is the static list of addresses dialed at startup. Each
	// entry is either "host:port" or a multiaddr string; see ParseBootstrapAddr.
	// An empty list is legal.
	BootstrapNodes []string

	// Handshake, if set, runs on every new connection before admission.
	Handshake transport.HandshakeFunc

	// Decoder frames bytes off each peer connection. Defaults to
	// wire.LengthPrefixedDecoder{}.
	Decoder wire.Decoder

	// Encode turns an outbound payload into wire bytes. Defaults to
	// wire.EncodeFrame, and must agree with Decoder on both ends of every
	// connection this node participates in.
	Encode transport.FrameEncoder

	// Log receives structured diagnostics. Defaults to logrus.StandardLogger().
	Log *logrus.Logger
}

// Node is the orchestrator: bootstrap, consume/dispatch, publish-and-broadcast,
// and shutdown, built on top of a Transport and a Store.
type Node struct {
	transport *transport.Transport
	store     *store.Store
	bootstrap []string
	log       *logrus.Entry

	mirrorMu sync.RWMutex
	mirror   map[string]transport.Peer

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
}

// New constructs a Node from opts. It wires the node's on-peer callback into
// the transport so every admitted connection lands in the node-level mirror
// that Publish broadcasts against.
func New(opts Options) *Node {
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}

	n := &Node{
		store:      store.New(opts.StoreOpts),
		bootstrap:  opts.BootstrapNodes,
		log:        opts.Log.WithField("component", "node"),
		mirror:     make(map[string]transport.Peer),
		shutdownCh: make(chan struct{}),
	}

	n.transport = transport.New(transport.Opts{
		ListenAddr: opts.ListenAddr,
		Handshake:  opts.Handshake,
		Decoder:    opts.Decoder,
		Encode:     opts.Encode,
		Log:        opts.Log,
	})
	n.transport.RegisterOnPeer(n.onPeer)
	n.transport.RegisterOnPeerDisconnect(n.onPeerDisconnect)

	return n
}

// Addr returns the node's configured listen address, which is also the `from`
// value stamped onto every envelope this node publishes.
func (n *Node) Addr() string {
	return n.transport.Addr()
}

func (n *Node) onPeer(p transport.Peer) bool {
	n.mirrorMu.Lock()
	if old, ok := n.mirror[p.Addr()]; ok && old != p {
		// The transport registry supersedes a same-address connection once
		// this callback admits the new one; mirror the same replacement so
		// broadcast never holds a stale handle.
		n.log.WithField("peer", p.Addr()).Debug("mirror replacing stale peer handle")
	}
	n.mirror[p.Addr()] = p
	n.mirrorMu.Unlock()
	n.log.WithField("peer", p.Addr()).WithField("outbound", p.Outbound()).Info("peer admitted")
	return true
}

// onPeerDisconnect is registered with the transport's disconnect hook so the
// node's mirror is pruned the moment a peer's reader terminates, rather than
// lazily on the next broadcast's ErrPeerClosed.
func (n *Node) onPeerDisconnect(p transport.Peer) {
	n.removeFromMirror(p.Addr(), p)
	n.log.WithField("peer", p.Addr()).Info("peer disconnected")
}

func (n *Node) removeFromMirror(addr string, cur transport.Peer) {
	n.mirrorMu.Lock()
	defer n.mirrorMu.Unlock()
	if existing, ok := n.mirror[addr]; ok && existing == cur {
		delete(n.mirror, addr)
	}
}

// Start binds the listener, kicks off bootstrap dialing, and runs the
// consume/dispatch loop until Shutdown is called. It blocks for the lifetime of
// the node.
func (n *Node) Start() error {
	if err := n.transport.ListenAndAccept(); err != nil {
		return errors.Wrap(err, "node: start")
	}
	n.bootstrapAll()
	return n.run()
}

// bootstrapAll dials every configured bootstrap address from its own goroutine.
// A dial failure is logged and never blocks startup or the other dials.
func (n *Node) bootstrapAll() {
	for _, raw := range n.bootstrap {
		addr, err := ParseBootstrapAddr(raw)
		if err != nil {
			n.log.WithError(err).WithField("addr", raw).Warn("bootstrap address invalid, skipping")
			continue
		}
		go func(addr string) {
			if err := n.transport.Dial(addr); err != nil {
				n.log.WithError(err).WithField("addr", addr).Warn("bootstrap dial failed")
			}
		}(addr)
	}
}

// run is the orchestrator's consume/dispatch loop. It polls the shutdown signal
// once per iteration and otherwise blocks on Consume's own 1-second timeout, so
// shutdown latency is bounded by that timeout plus the time to close every peer.
func (n *Node) run() error {
	for {
		select {
		case <-n.shutdownCh:
			return n.transport.Close()
		default:
		}

		msg, err := n.transport.Consume()
		switch {
		case errors.Is(err, transport.ErrConsumeTimeout):
			continue
		case errors.Is(err, transport.ErrClosed):
			return nil
		case err != nil:
			return errors.Wrap(err, "node: consume")
		}

		n.handle(msg)
	}
}

// Shutdown sets the one-shot shutdown signal the run loop polls. It is
// idempotent and non-blocking; Start's return signals that shutdown completed.
func (n *Node) Shutdown() {
	n.shutdownOnce.Do(func() {
		close(n.shutdownCh)
	})
}

// Publish reads r fully into memory, persists it to the local store under key,
// then broadcasts a Store envelope carrying the same bytes to every peer
// currently in the mirror. A send failure to one peer is logged and does not
// abort the broadcast to the rest; broadcasting to zero peers succeeds.
func (n *Node) Publish(key string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return errors.Wrap(err, "node: read publish payload")
	}

	if _, err := n.store.Write(key, bytes.NewReader(data)); err != nil {
		return errors.Wrapf(ErrStoreIO, "node: store write for key %q: %s", key, err)
	}

	env := wire.Envelope{
		From: n.Addr(),
		Kind: wire.KindStore,
		Body: wire.EncodeStoreBody(wire.StoreBody{Key: key, Data: data}),
	}
	payload := wire.EncodeEnvelope(env)

	n.mirrorMu.RLock()
	peers := make([]transport.Peer, 0, len(n.mirror))
	for _, p := range n.mirror {
		peers = append(peers, p)
	}
	n.mirrorMu.RUnlock()

	for _, p := range peers {
		if err := p.Send(payload); err != nil {
			n.log.WithError(err).WithField("peer", p.Addr()).Warn("broadcast send failed")
			if errors.Is(err, transport.ErrPeerClosed) {
				n.removeFromMirror(p.Addr(), p)
			}
		}
	}
	return nil
}

// handle deserializes msg.Payload into an Envelope and dispatches it by Kind. A
// malformed envelope or body is logged and dropped; the peer that sent it is
// not penalized. Unknown kinds are logged and dropped.
func (n *Node) handle(msg wire.Message) {
	env, err := wire.DecodeEnvelope(msg.Payload)
	if err != nil {
		n.log.WithError(err).WithField("from", msg.From).Warn("envelope decode failed, dropping")
		return
	}

	switch env.Kind {
	case wire.KindStore:
		body, err := wire.DecodeStoreBody(env.Body)
		if err != nil {
			n.log.WithError(err).WithField("from", env.From).Warn("store body decode failed, dropping")
			return
		}
		if _, err := n.store.Write(body.Key, bytes.NewReader(body.Data)); err != nil {
			n.log.WithError(err).WithField("key", body.Key).WithField("origin", env.From).Error("store write failed")
			return
		}
		n.log.WithField("key", body.Key).WithField("origin", env.From).Debug("stored blob from peer")
	default:
		n.log.WithField("kind", env.Kind).WithField("from", msg.From).Warn("unknown envelope kind, dropping")
	}
}
