package health

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/fern-network/fern/internal/catalog"
)

func newTestDB(t *testing.T) *catalog.DB {
	t.Helper()
	dir := t.TempDir()
	db, err := catalog.Open(dir)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestNewChecker(t *testing.T) {
	db := newTestDB(t)
	fernHome := t.TempDir()

	c := NewChecker(db, fernHome)
	if c == nil {
		t.Fatal("NewChecker() returned nil")
	}
	if len(c.checks) != 2 {
		t.Errorf("checks = %d, want 2", len(c.checks))
	}
}

func TestChecker_RunAllHealthy(t *testing.T) {
	db := newTestDB(t)
	fernHome := t.TempDir()

	c := NewChecker(db, fernHome)
	c.runAll(context.Background())

	statuses := c.Statuses()
	if len(statuses) != 2 {
		t.Fatalf("Statuses() = %d, want 2", len(statuses))
	}
	for _, s := range statuses {
		if !s.Healthy {
			t.Errorf("check %q should be healthy, got error: %s", s.Name, s.Error)
		}
	}
}

func TestChecker_IsHealthy_AllPass(t *testing.T) {
	db := newTestDB(t)
	c := NewChecker(db, t.TempDir())
	c.runAll(context.Background())

	if !c.IsHealthy() {
		t.Error("IsHealthy() should be true when all checks pass")
	}
}

func TestChecker_IsHealthy_BeforeRun(t *testing.T) {
	db := newTestDB(t)
	c := NewChecker(db, t.TempDir())

	if !c.IsHealthy() {
		t.Error("IsHealthy() should be true before first run (no statuses)")
	}
}

func TestChecker_CatalogCheck(t *testing.T) {
	db := newTestDB(t)
	c := NewChecker(db, t.TempDir())
	c.runAll(context.Background())

	found := false
	for _, s := range c.Statuses() {
		if s.Name == "catalog" {
			found = true
			if !s.Healthy {
				t.Errorf("catalog check should be healthy")
			}
		}
	}
	if !found {
		t.Error("catalog check not found in statuses")
	}
}

func TestChecker_FernHomeCheck_CreatesMissingDir(t *testing.T) {
	db := newTestDB(t)
	fernHome := filepath.Join(t.TempDir(), "nonexistent")

	c := NewChecker(db, fernHome)
	c.runAll(context.Background())

	if !c.IsHealthy() {
		for _, s := range c.Statuses() {
			if !s.Healthy {
				t.Errorf("check %q failed: %s", s.Name, s.Error)
			}
		}
	}
	if info, err := os.Stat(fernHome); err != nil || !info.IsDir() {
		t.Errorf("expected fern_home check to create %s", fernHome)
	}
}

func TestChecker_FernHomeCheck_FileNotDir(t *testing.T) {
	db := newTestDB(t)
	fernHome := filepath.Join(t.TempDir(), "fern-home")
	if err := os.WriteFile(fernHome, []byte("not a dir"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	c := NewChecker(db, fernHome)
	c.runAll(context.Background())

	for _, s := range c.Statuses() {
		if s.Name == "fern_home" && s.Healthy {
			t.Error("fern_home check should fail when path is a file")
		}
	}
}

func TestChecker_CustomCheck(t *testing.T) {
	c := &Checker{
		checks: []Check{
			{
				Name:    "always_pass",
				CheckFn: func(ctx context.Context) error { return nil },
			},
		},
	}
	c.runAll(context.Background())

	statuses := c.Statuses()
	if len(statuses) != 1 {
		t.Fatalf("statuses = %d, want 1", len(statuses))
	}
	if !statuses[0].Healthy {
		t.Error("always_pass check should be healthy")
	}
}

func TestChecker_FailingCheck(t *testing.T) {
	c := &Checker{
		checks: []Check{
			{
				Name:    "always_fail",
				CheckFn: func(ctx context.Context) error { return os.ErrPermission },
			},
		},
	}
	c.runAll(context.Background())

	statuses := c.Statuses()
	if statuses[0].Healthy {
		t.Error("always_fail check should not be healthy")
	}
	if statuses[0].Error == "" {
		t.Error("error message should be populated")
	}
}

func TestChecker_StatusesCopy(t *testing.T) {
	db := newTestDB(t)
	c := NewChecker(db, t.TempDir())
	c.runAll(context.Background())

	s1 := c.Statuses()
	s2 := c.Statuses()

	if len(s1) > 0 {
		s1[0].Healthy = false
		if !s2[0].Healthy {
			t.Error("Statuses() should return a copy, not a reference")
		}
	}
}
