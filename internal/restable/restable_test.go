package restable

import (
	"errors"
	"testing"

	"github.com/fern-network/fern/internal/domain"
)

const (
	kindConn uint32 = iota
	kindCursor
)

func TestPushGetDelete(t *testing.T) {
	tab := New()

	h := tab.Push(kindConn, "connection-1")

	got, err := tab.Get(h)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "connection-1" {
		t.Fatalf("got %v, want connection-1", got)
	}

	val, err := tab.Delete(h)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if val != "connection-1" {
		t.Fatalf("delete returned %v", val)
	}

	if _, err := tab.Get(h); !errors.Is(err, domain.ErrStaleHandle) {
		t.Fatalf("get after delete: got %v, want ErrStaleHandle", err)
	}
}

func TestGenerationBumpsOnReuse(t *testing.T) {
	tab := New()

	h1 := tab.Push(kindConn, "a")
	if _, err := tab.Delete(h1); err != nil {
		t.Fatalf("delete: %v", err)
	}

	h2 := tab.Push(kindConn, "b")
	if h2.Index != h1.Index {
		t.Fatalf("expected index reuse, got %d vs %d", h2.Index, h1.Index)
	}
	if h2.Generation == h1.Generation {
		t.Fatalf("expected generation bump, both are %d", h1.Generation)
	}

	// The old handle must not resolve to the new occupant.
	if _, err := tab.Get(h1); !errors.Is(err, domain.ErrStaleHandle) {
		t.Fatalf("old handle resolved after reuse: %v", err)
	}
	got, err := tab.Get(h2)
	if err != nil || got != "b" {
		t.Fatalf("new handle: got %v, %v", got, err)
	}
}

func TestGetTypedRejectsWrongKind(t *testing.T) {
	tab := New()
	h := tab.Push(kindConn, 42)

	if _, err := tab.GetTyped(h, kindCursor); !errors.Is(err, domain.ErrWrongType) {
		t.Fatalf("got %v, want ErrWrongType", err)
	}
	if v, err := tab.GetTyped(h, kindConn); err != nil || v != 42 {
		t.Fatalf("got %v, %v", v, err)
	}
}

func TestDeleteUnknownHandle(t *testing.T) {
	tab := New()
	_, err := tab.Delete(Handle{Index: 5, Generation: 1, Owned: true})
	if !errors.Is(err, domain.ErrHandleNotFound) {
		t.Fatalf("got %v, want ErrHandleNotFound", err)
	}
}

func TestDeleteRejectsUnownedHandle(t *testing.T) {
	tab := New()
	h := tab.Push(kindConn, "a")
	h.Owned = false

	if _, err := tab.Delete(h); !errors.Is(err, domain.ErrHandleNotOwned) {
		t.Fatalf("got %v, want ErrHandleNotOwned", err)
	}

	// The slot must still be live since the delete was rejected.
	got, err := tab.Get(Handle{Index: h.Index, Generation: h.Generation})
	if err != nil || got != "a" {
		t.Fatalf("slot should still be live after rejected delete: got %v, %v", got, err)
	}
}

func TestNewWithReleaseCallsReleaseOnDeleteAndClose(t *testing.T) {
	var released []any
	tab := NewWithRelease(func(v any) { released = append(released, v) })

	h1 := tab.Push(kindConn, "a")
	tab.Push(kindConn, "b")

	if _, err := tab.Delete(h1); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(released) != 1 || released[0] != "a" {
		t.Fatalf("expected release(\"a\") after delete, got %v", released)
	}

	tab.Close()
	if len(released) != 2 || released[1] != "b" {
		t.Fatalf("expected release(\"b\") after close, got %v", released)
	}
}

func TestCloseFreesAllSlots(t *testing.T) {
	tab := New()
	h1 := tab.Push(kindConn, "a")
	h2 := tab.Push(kindConn, "b")

	tab.Close()

	for _, h := range []Handle{h1, h2} {
		if _, err := tab.Get(h); !errors.Is(err, domain.ErrStaleHandle) {
			t.Fatalf("expected stale after close, got %v", err)
		}
	}
}
