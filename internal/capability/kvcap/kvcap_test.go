package kvcap

import "testing"

func TestStoreReadRoundTrip(t *testing.T) {
	store, err := Open("", "guest-a")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	ok, err := store.Store("settings", "theme", map[string]interface{}{"color": "blue"})
	if err != nil || !ok {
		t.Fatalf("store: %v %v", ok, err)
	}

	val, found, err := store.Read("settings", "theme")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !found {
		t.Fatalf("expected value to be found")
	}
	m, ok := val.(map[string]interface{})
	if !ok || m["color"] != "blue" {
		t.Fatalf("val = %v", val)
	}
}

func TestReadMissingKey(t *testing.T) {
	store, err := Open("", "guest-b")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	_, found, err := store.Read("settings", "missing")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if found {
		t.Fatalf("expected not found")
	}
}

func TestIdempotentReadWithoutIntermediateWrite(t *testing.T) {
	store, err := Open("", "guest-c")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	if _, err := store.Store("t", "k", 42.0); err != nil {
		t.Fatalf("store: %v", err)
	}

	v1, _, err := store.Read("t", "k")
	if err != nil {
		t.Fatalf("read 1: %v", err)
	}
	v2, _, err := store.Read("t", "k")
	if err != nil {
		t.Fatalf("read 2: %v", err)
	}
	if v1 != v2 {
		t.Fatalf("repeated reads diverged: %v vs %v", v1, v2)
	}
}

func TestDistinctTablesDoNotCollide(t *testing.T) {
	store, err := Open("", "guest-d")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	if _, err := store.Store("a", "k", "from-a"); err != nil {
		t.Fatalf("store a: %v", err)
	}
	if _, err := store.Store("b", "k", "from-b"); err != nil {
		t.Fatalf("store b: %v", err)
	}

	va, _, _ := store.Read("a", "k")
	vb, _, _ := store.Read("b", "k")
	if va != "from-a" || vb != "from-b" {
		t.Fatalf("got %v / %v", va, vb)
	}
}
