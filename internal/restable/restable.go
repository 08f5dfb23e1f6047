// Package restable implements the generational resource handle table that
// crosses the WASM trust boundary as plain integers: a guest never names
// host memory directly, only an opaque {index, generation} pair.
package restable

import (
	"sync"

	"github.com/fern-network/fern/internal/domain"
)

// Handle is the opaque value a guest holds. It carries a kind tag so typed
// retrieval (GetTyped) can reject cross-type confusion, and an Owned bit:
// only the holder of an owned handle may Delete it.
type Handle struct {
	Index      uint32
	Generation uint32
	Kind       uint32
	Owned      bool
}

type slot struct {
	generation uint32
	kind       uint32
	payload    any
	free       bool
}

// Table is a per-guest generational handle table. It is guarded by a mutex
// because the gossip bridge and host-import calls may reach it concurrently.
type Table struct {
	mu       sync.Mutex
	slots    []slot
	freeList []uint32
	release  func(any)
}

// New creates an empty resource table with no release hook. Suitable for
// tables whose payloads need no teardown (e.g. cursors).
func New() *Table {
	return &Table{}
}

// NewWithRelease creates an empty resource table that calls release on a
// slot's payload whenever that slot is freed, via Delete or Close. Used for
// kinds that own an underlying resource (e.g. a *sqlcap.DB connection) that
// must be released exactly once when its handle is dropped or the table is
// torn down.
func NewWithRelease(release func(any)) *Table {
	return &Table{release: release}
}

// Push inserts a value under the given kind tag and returns a fresh owned
// handle. Freed indices are reused, incrementing their generation so stale
// handles referencing the old occupant are detected.
func (t *Table) Push(kind uint32, payload any) Handle {
	t.mu.Lock()
	defer t.mu.Unlock()

	if n := len(t.freeList); n > 0 {
		idx := t.freeList[n-1]
		t.freeList = t.freeList[:n-1]
		s := &t.slots[idx]
		s.generation++
		s.kind = kind
		s.payload = payload
		s.free = false
		return Handle{Index: idx, Generation: s.generation, Kind: kind, Owned: true}
	}

	idx := uint32(len(t.slots))
	t.slots = append(t.slots, slot{generation: 1, kind: kind, payload: payload})
	return Handle{Index: idx, Generation: 1, Kind: kind, Owned: true}
}

// Get returns the value for a handle, or StaleError if the generation no
// longer matches (the slot was reused or freed).
func (t *Table) Get(h Handle) (any, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, err := t.lookup(h)
	if err != nil {
		return nil, err
	}
	return s.payload, nil
}

// GetTyped is Get plus a kind check; it reports ErrWrongType if the handle
// refers to a slot of a different kind tag.
func (t *Table) GetTyped(h Handle, kind uint32) (any, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, err := t.lookup(h)
	if err != nil {
		return nil, err
	}
	if s.kind != kind {
		return nil, domain.ErrWrongType
	}
	return s.payload, nil
}

// Mutate applies fn to the stored value in place, under the table lock.
func (t *Table) Mutate(h Handle, fn func(any) any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, err := t.lookup(h)
	if err != nil {
		return err
	}
	s.payload = fn(s.payload)
	return nil
}

// Delete removes the handle's slot, freeing its index for reuse, and
// returns the value that was stored there. Only owned handles may be
// deleted; a borrowed handle passed here reports ErrHandleNotOwned. If the
// table was built with NewWithRelease, the freed payload is released
// exactly once before Delete returns.
func (t *Table) Delete(h Handle) (any, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !h.Owned {
		return nil, domain.ErrHandleNotOwned
	}
	s, err := t.lookup(h)
	if err != nil {
		return nil, err
	}
	payload := s.payload
	s.payload = nil
	s.free = true
	t.freeList = append(t.freeList, h.Index)
	if t.release != nil {
		t.release(payload)
	}
	return payload, nil
}

// lookup must be called with t.mu held.
func (t *Table) lookup(h Handle) (*slot, error) {
	if int(h.Index) >= len(t.slots) {
		return nil, domain.ErrHandleNotFound
	}
	s := &t.slots[h.Index]
	if s.free || s.generation != h.Generation {
		return nil, domain.ErrStaleHandle
	}
	return s, nil
}

// Close frees every live slot, releasing each live payload first if the
// table was built with NewWithRelease. Used when a supervisor tears down a
// guest's host-owned state on shutdown or hot-swap.
func (t *Table) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.slots {
		if !t.slots[i].free && t.release != nil {
			t.release(t.slots[i].payload)
		}
		t.slots[i].payload = nil
		t.slots[i].free = true
	}
	t.freeList = t.freeList[:0]
	for i := range t.slots {
		t.freeList = append(t.freeList, uint32(i))
	}
}
