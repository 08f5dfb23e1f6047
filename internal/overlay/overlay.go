// Package overlay adapts Fern's C9 contract — bind an identity, open a
// router, subscribe to gossip topics — onto libp2p + go-libp2p-pubsub,
// standing in for the overlay library spec.md treats as an external
// collaborator.
package overlay

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"sync"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"

	"github.com/fern-network/fern/internal/domain"
)

// Endpoint is a bound overlay identity: a libp2p host keyed by a guest's or
// server's 32-byte IdentityKey.
type Endpoint struct {
	h         host.Host
	secretKey [32]byte
}

// Bind constructs a libp2p host from a 32-byte secret key, deriving an
// Ed25519 keypair deterministically so the same secret always yields the
// same peer identity — the property the hot-swap protocol relies on to
// preserve node identity across module replacement.
func Bind(secretKey [32]byte, listenAddrs ...string) (*Endpoint, error) {
	priv, err := secretToPrivKey(secretKey)
	if err != nil {
		return nil, fmt.Errorf("derive identity: %w", err)
	}

	opts := []libp2p.Option{libp2p.Identity(priv)}
	if len(listenAddrs) > 0 {
		opts = append(opts, libp2p.ListenAddrStrings(listenAddrs...))
	} else {
		opts = append(opts, libp2p.ListenAddrStrings("/ip4/0.0.0.0/tcp/0"))
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrOverlayUnavailable, err)
	}

	return &Endpoint{h: h, secretKey: secretKey}, nil
}

func secretToPrivKey(secretKey [32]byte) (crypto.PrivKey, error) {
	seed := ed25519.NewKeyFromSeed(secretKey[:])
	priv, err := crypto.UnmarshalEd25519PrivateKey(seed)
	if err != nil {
		return nil, err
	}
	return priv, nil
}

// ID returns the node's peer id as a string — the spec's "endpoint_id".
func (e *Endpoint) ID() string { return e.h.ID().String() }

// SecretKey returns the 32-byte identity key this endpoint was bound with.
// The hot-swap protocol captures this before tearing down an endpoint so
// the replacement can rebind with the same identity.
func (e *Endpoint) SecretKey() [32]byte { return e.secretKey }

// Close shuts the endpoint's network stack down.
func (e *Endpoint) Close() error { return e.h.Close() }

// Host exposes the underlying libp2p host for router/gossip construction.
func (e *Endpoint) Host() host.Host { return e.h }

// RouterBuilder accumulates ALPN-style protocol handlers before Build.
type RouterBuilder struct {
	endpoint *Endpoint
}

// NewRouterBuilder starts building a router bound to endpoint.
func NewRouterBuilder(endpoint *Endpoint) *RouterBuilder {
	return &RouterBuilder{endpoint: endpoint}
}

// Accept registers a stream handler under the given protocol ID (Fern's
// ALPN analogue) and returns the builder for chaining.
func (b *RouterBuilder) Accept(protocolID string, handler network.StreamHandler) *RouterBuilder {
	b.endpoint.h.SetStreamHandler(protocol.ID(protocolID), handler)
	return b
}

// Build finalizes the router.
func (b *RouterBuilder) Build() *Router {
	return &Router{endpoint: b.endpoint}
}

// Router wraps a bound, handler-registered libp2p host.
type Router struct {
	endpoint *Endpoint
}

// Spawn starts serving registered protocol handlers. libp2p's stream
// handlers are already live the instant SetStreamHandler is called, so
// Spawn exists only to mirror the overlay contract's explicit start step —
// it is a no-op here besides a readiness check.
func (r *Router) Spawn(ctx context.Context) error {
	if r.endpoint.h == nil {
		return domain.ErrOverlayUnavailable
	}
	return nil
}

// Shutdown closes the router's endpoint.
func (r *Router) Shutdown() error { return r.endpoint.Close() }

// GossipProtocol wraps a pubsub instance bound to one endpoint.
type GossipProtocol struct {
	ps *pubsub.PubSub
	h  host.Host
}

// NewGossipProtocol spawns a GossipSub router atop the endpoint's host.
func NewGossipProtocol(ctx context.Context, endpoint *Endpoint) (*GossipProtocol, error) {
	ps, err := pubsub.NewGossipSub(ctx, endpoint.h)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrOverlayUnavailable, err)
	}
	return &GossipProtocol{ps: ps, h: endpoint.h}, nil
}

// Subscribe joins topicID, dials the supplied bootstrap peers, and returns
// a Subscription whose Joined() channel closes once the first peer joins
// the topic mesh.
func (g *GossipProtocol) Subscribe(ctx context.Context, topicID string, bootstrap []peer.AddrInfo) (*Subscription, error) {
	for _, p := range bootstrap {
		_ = g.h.Connect(ctx, p) // best-effort; gossip still works once any peer joins later
	}

	topic, err := g.ps.Join(topicID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrOverlayUnavailable, err)
	}
	sub, err := topic.Subscribe()
	if err != nil {
		topic.Close()
		return nil, fmt.Errorf("%w: %v", domain.ErrOverlayUnavailable, err)
	}
	evtHandler, err := topic.EventHandler()
	if err != nil {
		sub.Cancel()
		topic.Close()
		return nil, fmt.Errorf("%w: %v", domain.ErrOverlayUnavailable, err)
	}

	s := &Subscription{
		topic:   topic,
		sub:     sub,
		evt:     evtHandler,
		joined:  make(chan struct{}),
		localID: g.h.ID(),
	}
	go s.watchJoin(ctx)
	return s, nil
}

// Subscription is one guest's handle onto a topic: a readiness signal and,
// once split, a broadcaster plus an inbound event stream.
type Subscription struct {
	topic   *pubsub.Topic
	sub     *pubsub.Subscription
	evt     *pubsub.TopicEventHandler
	joined  chan struct{}
	once    sync.Once
	localID peer.ID
}

func (s *Subscription) watchJoin(ctx context.Context) {
	for {
		pe, err := s.evt.NextPeerEvent(ctx)
		if err != nil {
			return
		}
		if pe.Type == pubsub.PeerJoin {
			s.once.Do(func() { close(s.joined) })
		}
	}
}

// Joined signals readiness: it closes once at least one peer has joined
// the topic mesh. The gossip capability awaits this before considering
// itself ready.
func (s *Subscription) Joined() <-chan struct{} { return s.joined }

// Split separates the subscription into a write-only broadcaster and a
// read-only event stream, matching the overlay contract's ownership split.
func (s *Subscription) Split() (*Broadcaster, *EventStream) {
	return &Broadcaster{topic: s.topic}, &EventStream{sub: s.sub, localID: s.localID}
}

// Broadcaster publishes JSON-framed payloads onto a topic.
type Broadcaster struct {
	topic *pubsub.Topic
}

// Broadcast publishes data on the topic.
func (b *Broadcaster) Broadcast(ctx context.Context, data []byte) error {
	if err := b.topic.Publish(ctx, data); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrOverlayUnavailable, err)
	}
	return nil
}

// EventKind discriminates the union EventStream.Next can return.
type EventKind int

const (
	// EventReceived carries an inbound gossip payload from a peer.
	EventReceived EventKind = iota
)

// Event is one item observed on an EventStream.
type Event struct {
	Kind EventKind
	Data []byte
	From string
}

// EventStream yields inbound messages from a topic subscription, filtering
// out the local host's own echoed publications.
type EventStream struct {
	sub     *pubsub.Subscription
	localID peer.ID
}

// Next blocks until the next inbound message arrives, ctx is cancelled, or
// the subscription is closed (ok=false).
func (e *EventStream) Next(ctx context.Context) (*Event, bool) {
	for {
		msg, err := e.sub.Next(ctx)
		if err != nil {
			return nil, false
		}
		if msg.ReceivedFrom == e.localID {
			continue
		}
		return &Event{Kind: EventReceived, Data: msg.Data, From: msg.ReceivedFrom.String()}, true
	}
}

// Cancel tears down the subscription.
func (s *Subscription) Cancel() {
	s.sub.Cancel()
	s.topic.Close()
}
