// Package catalog provides the persistent relational store for guest
// records and module history (C6): two tables, guests and module_history,
// atop SQLite in WAL mode.
package catalog

import (
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver, no CGO required
	"lukechampine.com/blake3"

	"github.com/fern-network/fern/internal/domain"
)

// DB wraps a SQLite connection holding the catalog schema.
type DB struct {
	db *sql.DB
}

// Open creates or opens the catalog database at dir/catalog.db, enabling
// WAL mode and a busy timeout, then applies migrations. Foreign-key
// enforcement is not turned on, so RemoveByName leaves a guest's
// module_history rows in place.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dir, "catalog.db")
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	d := &DB{db: sqlDB}
	if err := d.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return d, nil
}

// Close cleanly shuts down the database.
func (d *DB) Close() error { return d.db.Close() }

// Ping checks database connectivity.
func (d *DB) Ping() error { return d.db.Ping() }

func (d *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS guests (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			name        TEXT NOT NULL UNIQUE,
			module      BLOB NOT NULL,
			module_hash TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS module_history (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			parent_id   INTEGER NOT NULL REFERENCES guests(id),
			module      BLOB NOT NULL,
			module_hash TEXT NOT NULL,
			created_at  TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_module_history_parent ON module_history(parent_id)`,
		`CREATE TABLE IF NOT EXISTS node_info (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}
	for _, m := range migrations {
		if _, err := d.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

// hashModule returns the lowercase hex blake3 digest of module bytes.
func hashModule(module []byte) string {
	sum := blake3.Sum256(module)
	return hex.EncodeToString(sum[:])
}

// ─── Guest repository ───────────────────────────────────────────────────────

// CreateGuest inserts a new guest row, computing its module hash.
func (d *DB) CreateGuest(name string, module []byte) (*domain.GuestRecord, error) {
	hash := hashModule(module)
	res, err := d.db.Exec(
		`INSERT INTO guests (name, module, module_hash) VALUES (?, ?, ?)`,
		name, module, hash,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCatalogIO, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCatalogIO, err)
	}
	return &domain.GuestRecord{ID: id, Name: name, Module: module, ModuleHash: hash}, nil
}

// GuestByID looks up a guest by primary key.
func (d *DB) GuestByID(id int64) (*domain.GuestRecord, error) {
	row := d.db.QueryRow(`SELECT id, name, module, module_hash FROM guests WHERE id = ?`, id)
	return scanGuest(row)
}

// GuestByName looks up a guest by its unique name.
func (d *DB) GuestByName(name string) (*domain.GuestRecord, error) {
	row := d.db.QueryRow(`SELECT id, name, module, module_hash FROM guests WHERE name = ?`, name)
	return scanGuest(row)
}

// UpdateModuleByName atomically appends the guest's PRE-update bytes to
// module_history, then overwrites guests.module/module_hash. Returns
// (found, newHash, previousHash, error).
func (d *DB) UpdateModuleByName(name string, module []byte) (bool, string, string, error) {
	newHash := hashModule(module)

	tx, err := d.db.Begin()
	if err != nil {
		return false, "", "", fmt.Errorf("%w: %v", domain.ErrCatalogIO, err)
	}
	defer tx.Rollback()

	current, err := scanGuest(tx.QueryRow(`SELECT id, name, module, module_hash FROM guests WHERE name = ?`, name))
	if err != nil {
		if err == sql.ErrNoRows {
			return false, "", "", nil
		}
		return false, "", "", err
	}
	if current == nil {
		return false, "", "", nil
	}

	// Save the PRE-update bytes to history before overwriting.
	if _, err := tx.Exec(
		`INSERT INTO module_history (parent_id, module, module_hash, created_at) VALUES (?, ?, ?, ?)`,
		current.ID, current.Module, current.ModuleHash, time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return false, "", "", fmt.Errorf("%w: %v", domain.ErrCatalogIO, err)
	}

	res, err := tx.Exec(`UPDATE guests SET module = ?, module_hash = ? WHERE name = ?`, module, newHash, name)
	if err != nil {
		return false, "", "", fmt.Errorf("%w: %v", domain.ErrCatalogIO, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, "", "", fmt.Errorf("%w: %v", domain.ErrCatalogIO, err)
	}
	if err := tx.Commit(); err != nil {
		return false, "", "", fmt.Errorf("%w: %v", domain.ErrCatalogIO, err)
	}

	return affected == 1, newHash, current.ModuleHash, nil
}

// RemoveByName deletes a guest row. History rows referencing it are kept —
// history is append-only.
func (d *DB) RemoveByName(name string) (bool, error) {
	res, err := d.db.Exec(`DELETE FROM guests WHERE name = ?`, name)
	if err != nil {
		return false, fmt.Errorf("%w: %v", domain.ErrCatalogIO, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: %v", domain.ErrCatalogIO, err)
	}
	return n == 1, nil
}

// AllWithPagination returns guest rows ordered by id.
func (d *DB) AllWithPagination(limit, offset int64) ([]domain.GuestRecord, error) {
	rows, err := d.db.Query(`SELECT id, name, module, module_hash FROM guests ORDER BY id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCatalogIO, err)
	}
	defer rows.Close()

	var guests []domain.GuestRecord
	for rows.Next() {
		g, err := scanGuest(rows)
		if err != nil {
			return nil, err
		}
		guests = append(guests, *g)
	}
	return guests, rows.Err()
}

// LatestHistoryByGuestID returns the most recently created history row for
// a guest, if any.
func (d *DB) LatestHistoryByGuestID(guestID int64) (*domain.ModuleHistoryRecord, error) {
	row := d.db.QueryRow(
		`SELECT id, parent_id, module, module_hash, created_at FROM module_history
		 WHERE parent_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`, guestID,
	)
	var h domain.ModuleHistoryRecord
	var createdAt string
	err := row.Scan(&h.ID, &h.ParentID, &h.Module, &h.ModuleHash, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCatalogIO, err)
	}
	h.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCatalogIO, err)
	}
	return &h, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanGuest(s scanner) (*domain.GuestRecord, error) {
	var g domain.GuestRecord
	err := s.Scan(&g.ID, &g.Name, &g.Module, &g.ModuleHash)
	if err == sql.ErrNoRows {
		return nil, sql.ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCatalogIO, err)
	}
	return &g, nil
}

// ─── Node info: identity metadata and bootstrap peer persistence ───────────

const bootstrapPeersKey = "bootstrap_peers"

// SetNodeInfo stores a key/value pair in node_info.
func (d *DB) SetNodeInfo(key, value string) error {
	_, err := d.db.Exec(
		`INSERT INTO node_info (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrCatalogIO, err)
	}
	return nil
}

// GetNodeInfo retrieves a value from node_info, returning "" if absent.
func (d *DB) GetNodeInfo(key string) (string, error) {
	var value string
	err := d.db.QueryRow(`SELECT value FROM node_info WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrCatalogIO, err)
	}
	return value, nil
}

// SaveBootstrapPeers persists the current bootstrap peer list so a restart
// does not require re-posting it (see DESIGN.md's decision on the
// bootstrap-peer-persistence open question).
func (d *DB) SaveBootstrapPeers(peers []string) error {
	encoded, err := json.Marshal(peers)
	if err != nil {
		return err
	}
	return d.SetNodeInfo(bootstrapPeersKey, string(encoded))
}

// LoadBootstrapPeers reads back the persisted bootstrap peer list.
func (d *DB) LoadBootstrapPeers() ([]string, error) {
	value, err := d.GetNodeInfo(bootstrapPeersKey)
	if err != nil {
		return nil, err
	}
	if value == "" {
		return nil, nil
	}
	var peers []string
	if err := json.Unmarshal([]byte(value), &peers); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCatalogIO, err)
	}
	return peers, nil
}
