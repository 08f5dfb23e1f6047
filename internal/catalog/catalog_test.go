package catalog

import (
	"testing"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	d, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestCreateByIDByName(t *testing.T) {
	d := openTestDB(t)

	created, err := d.CreateGuest("echo", []byte("module-v1"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID == 0 {
		t.Fatalf("expected nonzero id")
	}

	byID, err := d.GuestByID(created.ID)
	if err != nil {
		t.Fatalf("by id: %v", err)
	}
	if byID.Name != "echo" || byID.ModuleHash != created.ModuleHash {
		t.Fatalf("by id mismatch: %+v", byID)
	}

	byName, err := d.GuestByName("echo")
	if err != nil {
		t.Fatalf("by name: %v", err)
	}
	if byName.ID != created.ID {
		t.Fatalf("by name mismatch: %+v", byName)
	}
}

func TestCreateDuplicateNameFails(t *testing.T) {
	d := openTestDB(t)
	if _, err := d.CreateGuest("dup", []byte("v1")); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := d.CreateGuest("dup", []byte("v2")); err == nil {
		t.Fatalf("expected unique constraint violation")
	}
}

func TestUpdateModuleAppendsHistoryAndChangesHash(t *testing.T) {
	d := openTestDB(t)
	created, err := d.CreateGuest("counter", []byte("v1"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	found, newHash, prevHash, err := d.UpdateModuleByName("counter", []byte("v2"))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !found {
		t.Fatalf("expected guest to be found")
	}
	if newHash == prevHash {
		t.Fatalf("hash did not change across update")
	}
	if prevHash != created.ModuleHash {
		t.Fatalf("previous hash %s != original hash %s", prevHash, created.ModuleHash)
	}

	hist, err := d.LatestHistoryByGuestID(created.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if hist == nil {
		t.Fatalf("expected a history row")
	}
	if hist.ModuleHash != prevHash {
		t.Fatalf("history hash = %s, want pre-update hash %s", hist.ModuleHash, prevHash)
	}

	current, err := d.GuestByName("counter")
	if err != nil {
		t.Fatalf("by name: %v", err)
	}
	if current.ModuleHash != newHash {
		t.Fatalf("current hash %s != reported new hash %s", current.ModuleHash, newHash)
	}
}

func TestUpdateModuleMissingGuestReturnsNotFound(t *testing.T) {
	d := openTestDB(t)
	found, _, _, err := d.UpdateModuleByName("ghost", []byte("v1"))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if found {
		t.Fatalf("expected not found")
	}
}

func TestRemoveByName(t *testing.T) {
	d := openTestDB(t)
	if _, err := d.CreateGuest("to-remove", []byte("v1")); err != nil {
		t.Fatalf("create: %v", err)
	}

	removed, err := d.RemoveByName("to-remove")
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if !removed {
		t.Fatalf("expected removal")
	}

	if _, err := d.GuestByName("to-remove"); err == nil {
		t.Fatalf("expected guest to be gone")
	}

	removedAgain, err := d.RemoveByName("to-remove")
	if err != nil {
		t.Fatalf("remove again: %v", err)
	}
	if removedAgain {
		t.Fatalf("expected second removal to report not-found")
	}
}

func TestAllWithPagination(t *testing.T) {
	d := openTestDB(t)
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		if _, err := d.CreateGuest(name, []byte(name)); err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
	}

	page1, err := d.AllWithPagination(2, 0)
	if err != nil {
		t.Fatalf("page1: %v", err)
	}
	if len(page1) != 2 || page1[0].Name != "a" || page1[1].Name != "b" {
		t.Fatalf("page1 = %+v", page1)
	}

	page2, err := d.AllWithPagination(2, 2)
	if err != nil {
		t.Fatalf("page2: %v", err)
	}
	if len(page2) != 2 || page2[0].Name != "c" {
		t.Fatalf("page2 = %+v", page2)
	}

	page3, err := d.AllWithPagination(2, 4)
	if err != nil {
		t.Fatalf("page3: %v", err)
	}
	if len(page3) != 1 || page3[0].Name != "e" {
		t.Fatalf("page3 = %+v", page3)
	}
}

func TestBootstrapPeersRoundTrip(t *testing.T) {
	d := openTestDB(t)

	if peers, err := d.LoadBootstrapPeers(); err != nil || peers != nil {
		t.Fatalf("expected no peers initially, got %v err=%v", peers, err)
	}

	want := []string{"/ip4/127.0.0.1/tcp/4001/p2p/peerA", "/ip4/127.0.0.1/tcp/4002/p2p/peerB"}
	if err := d.SaveBootstrapPeers(want); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := d.LoadBootstrapPeers()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("peer[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}
