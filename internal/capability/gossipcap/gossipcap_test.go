package gossipcap

import (
	"testing"

	"github.com/fern-network/fern/internal/domain"
)

func TestGlobalTopicIDIsDeterministic(t *testing.T) {
	a := GlobalTopicID()
	b := GlobalTopicID()
	if a != b {
		t.Fatalf("topic id not deterministic: %s vs %s", a, b)
	}
	if len(a) != 64 { // hex-encoded blake3-256 digest
		t.Fatalf("topic id length = %d, want 64", len(a))
	}
}

func newTestBridge(capacity int) *Bridge {
	return &Bridge{
		inbound:  make(chan domain.InboundMessage, capacity),
		outbound: make(chan domain.OutboundMessage, capacity),
	}
}

func TestBroadcastMsgFailsFastWhenFull(t *testing.T) {
	b := newTestBridge(1)

	if err := b.BroadcastMsg(domain.OutboundMessage{Topic: "global", Content: "a"}); err != nil {
		t.Fatalf("first broadcast: %v", err)
	}
	if err := b.BroadcastMsg(domain.OutboundMessage{Topic: "global", Content: "b"}); err != domain.ErrChannelFull {
		t.Fatalf("second broadcast: got %v, want ErrChannelFull", err)
	}
}

func TestDrainInboundReturnsFIFOOrder(t *testing.T) {
	b := newTestBridge(10)
	b.inbound <- domain.InboundMessage{Topic: "global", Content: "1"}
	b.inbound <- domain.InboundMessage{Topic: "global", Content: "2"}
	b.inbound <- domain.InboundMessage{Topic: "global", Content: "3"}

	msgs := b.DrainInbound()
	if len(msgs) != 3 {
		t.Fatalf("len = %d, want 3", len(msgs))
	}
	for i, want := range []string{"1", "2", "3"} {
		if msgs[i].Content != want {
			t.Fatalf("msgs[%d] = %v, want %v", i, msgs[i].Content, want)
		}
	}
}

func TestDrainInboundEmptyIsNonBlocking(t *testing.T) {
	b := newTestBridge(10)
	if msgs := b.DrainInbound(); len(msgs) != 0 {
		t.Fatalf("expected no messages, got %d", len(msgs))
	}
}
