// Package gossipcap implements the gossip capability (C4): a per-guest
// publish/subscribe bridge between the overlay and the guest, backed by
// bounded inbound/outbound mailboxes.
package gossipcap

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"log"

	"github.com/libp2p/go-libp2p/core/peer"
	"lukechampine.com/blake3"

	"github.com/fern-network/fern/internal/domain"
	"github.com/fern-network/fern/internal/overlay"
)

// mailboxCapacity is the bounded channel size for both directions (spec §4.4).
const mailboxCapacity = 1000

// GlobalTopicID derives the well-known "global" topic's wire identifier:
// the hex-encoded blake3 digest of the literal string "fern-global".
func GlobalTopicID() string {
	sum := blake3.Sum256([]byte("fern-" + domain.GlobalTopic))
	return hex.EncodeToString(sum[:])
}

// Bridge is one guest's gossip capability: it owns the read end of the
// inbound mailbox and the write end of the outbound mailbox, subscribing
// to the global topic on the overlay adapter.
type Bridge struct {
	inbound  chan domain.InboundMessage
	outbound chan domain.OutboundMessage
	sub      *overlay.Subscription
	cancel   context.CancelFunc
}

// Attach subscribes to the global topic via gossip, bootstraps against
// peers, and starts the inbound/outbound pump goroutines. The returned
// Bridge's Ready() channel closes once the first peer joins the topic.
func Attach(ctx context.Context, gossip *overlay.GossipProtocol, bootstrap []peer.AddrInfo) (*Bridge, error) {
	sub, err := gossip.Subscribe(ctx, GlobalTopicID(), bootstrap)
	if err != nil {
		return nil, err
	}

	broadcaster, stream := sub.Split()

	pumpCtx, cancel := context.WithCancel(ctx)
	b := &Bridge{
		inbound:  make(chan domain.InboundMessage, mailboxCapacity),
		outbound: make(chan domain.OutboundMessage, mailboxCapacity),
		sub:      sub,
		cancel:   cancel,
	}

	go b.pumpInbound(pumpCtx, stream)
	go b.pumpOutbound(pumpCtx, broadcaster)

	return b, nil
}

func (b *Bridge) pumpInbound(ctx context.Context, stream *overlay.EventStream) {
	for {
		evt, ok := stream.Next(ctx)
		if !ok {
			return
		}

		var msg domain.InboundMessage
		if err := json.Unmarshal(evt.Data, &msg); err != nil {
			log.Printf("[gossipcap] dropping malformed gossip payload from %s: %v", evt.From, err)
			continue
		}

		// Drop-newest overflow policy (see DESIGN.md): preserve whatever is
		// already queued rather than evicting it to make room.
		select {
		case b.inbound <- msg:
		default:
			log.Printf("[gossipcap] inbound mailbox full, dropping message on topic %q", msg.Topic)
		}
	}
}

func (b *Bridge) pumpOutbound(ctx context.Context, broadcaster *overlay.Broadcaster) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-b.outbound:
			data, err := json.Marshal(msg)
			if err != nil {
				log.Printf("[gossipcap] failed to encode outbound message: %v", err)
				continue
			}
			if err := broadcaster.Broadcast(ctx, data); err != nil {
				log.Printf("[gossipcap] broadcast failed: %v", err)
			}
		}
	}
}

// BroadcastMsg enqueues an outbound message with a non-blocking send,
// failing fast with ErrChannelFull — the guest is responsible for retry.
func (b *Bridge) BroadcastMsg(msg domain.OutboundMessage) error {
	select {
	case b.outbound <- msg:
		return nil
	default:
		return domain.ErrChannelFull
	}
}

// DrainInbound removes and returns every message currently queued, in FIFO
// order, without blocking. The supervisor calls this once per tick before
// dispatching to the guest's gossipMessageHandler.
func (b *Bridge) DrainInbound() []domain.InboundMessage {
	var out []domain.InboundMessage
	for {
		select {
		case msg := <-b.inbound:
			out = append(out, msg)
		default:
			return out
		}
	}
}

// Ready closes once the bridge has observed its first peer join the topic.
func (b *Bridge) Ready() <-chan struct{} { return b.sub.Joined() }

// Close tears down the pump goroutines and the underlying subscription.
func (b *Bridge) Close() {
	b.cancel()
	b.sub.Cancel()
}
