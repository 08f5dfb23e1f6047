// Package sqlcap implements the SQL capability (C2): a host-side SQL engine
// wrapper exposing typed parameters, row streaming, transactions,
// introspection and per-connection stats to a guest.
package sqlcap

import (
	"database/sql"
	"encoding/base64"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/fern-network/fern/internal/domain"
)

// TypeHint names the SQL type a guest asked a JSON parameter to be coerced
// into. An absent hint falls back to the natural JSON→SQL mapping.
type TypeHint string

const (
	HintText     TypeHint = "text"
	HintInteger  TypeHint = "integer"
	HintReal     TypeHint = "real"
	HintBlob     TypeHint = "blob"
	HintBoolean  TypeHint = "boolean"
	HintDatetime TypeHint = "datetime"
	HintNull     TypeHint = "null"
)

// TypedSqlParam is a guest-supplied bind parameter: a JSON value plus an
// optional type hint.
type TypedSqlParam struct {
	Value    interface{} `json:"value"`
	TypeHint *TypeHint   `json:"type_hint,omitempty"`
}

// ColumnInfo describes one result column.
type ColumnInfo struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// QueryMetadata accompanies every enhanced execute/query result.
type QueryMetadata struct {
	ExecutionTimeMs int64   `json:"execution_time_ms"`
	RowsReturned    int     `json:"rows_returned"`
	RowsAffected    int64   `json:"rows_affected"`
	LastInsertRowID int64   `json:"last_insert_rowid"`
	QueryPlan       string  `json:"query_plan,omitempty"`
	SqliteVersion   string  `json:"sqlite_version"`
}

// EnhancedSqlResult is the shape returned by the *_enhanced host imports.
type EnhancedSqlResult struct {
	Data     []map[string]interface{} `json:"data"`
	Columns  []ColumnInfo             `json:"columns"`
	Metadata QueryMetadata            `json:"metadata"`
}

// TableInfo/IndexInfo back describe_table via PRAGMA introspection.
type TableInfo struct {
	Columns []ColumnInfo `json:"columns"`
	Indexes []IndexInfo  `json:"indexes"`
}

type IndexInfo struct {
	Name    string   `json:"name"`
	Unique  bool     `json:"unique"`
	Columns []string `json:"columns"`
}

// TransactionResult is the reply to begin/commit/rollback_transaction. See
// DESIGN.md: tx_id is cosmetic — a single connection has only one implicit
// open transaction, so the id is never cross-checked against the caller.
type TransactionResult struct {
	TransactionID string `json:"transaction_id"`
	Success       bool   `json:"success"`
}

// DatabaseStats is the reply to get_stats.
type DatabaseStats struct {
	TotalQueries         int64            `json:"total_queries"`
	TotalExecutionTimeMs int64            `json:"total_execution_time_ms"`
	AverageMs            float64          `json:"average_ms"`
	QueryCountByType     map[string]int64 `json:"query_count_by_type"`
	DatabaseSizeBytes    int64            `json:"database_size_bytes"`
	SqliteVersion        string           `json:"sqlite_version"`
}

type queryStats struct {
	mu                   sync.Mutex
	totalQueries         int64
	totalExecutionTimeMs int64
	countByType          map[string]int64
}

func newQueryStats() *queryStats {
	return &queryStats{countByType: make(map[string]int64)}
}

func (s *queryStats) record(sqlText string, elapsed time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalQueries++
	s.totalExecutionTimeMs += elapsed.Milliseconds()
	s.countByType[sqlKeyword(sqlText)]++
}

func (s *queryStats) snapshot() (int64, int64, map[string]int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64, len(s.countByType))
	for k, v := range s.countByType {
		out[k] = v
	}
	return s.totalQueries, s.totalExecutionTimeMs, out
}

// sqlKeyword extracts the first SQL keyword uppercased, bucketing anything
// unrecognized under OTHER.
func sqlKeyword(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	fields := strings.Fields(trimmed)
	if len(fields) == 0 {
		return "OTHER"
	}
	switch kw := strings.ToUpper(fields[0]); kw {
	case "SELECT", "INSERT", "UPDATE", "DELETE", "CREATE", "DROP", "ALTER":
		return kw
	default:
		return "OTHER"
	}
}

// DB is one guest's SQL capability connection.
type DB struct {
	conn  *sql.DB
	stats *queryStats
	txSeq int64
}

// Open creates a new independent connection, applying the pragma set the
// spec mandates: shared pragmas plus journal-mode/synchronous tuned for
// whether the store is file-backed or in-memory.
func Open(path string) (*DB, error) {
	inMemory := path == "" || path == ":memory:"

	dsn := path
	if inMemory {
		dsn = ":memory:"
	}

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA cache_size=-64000",
	}
	if inMemory {
		pragmas = append(pragmas, "PRAGMA journal_mode=MEMORY", "PRAGMA synchronous=FULL")
	} else {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL", "PRAGMA synchronous=NORMAL", "PRAGMA busy_timeout=30000")
	}
	for _, p := range pragmas {
		if _, err := conn.Exec(p); err != nil {
			conn.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	return &DB{conn: conn, stats: newQueryStats()}, nil
}

// Close releases the underlying connection.
func (d *DB) Close() error { return d.conn.Close() }

// bindArgs converts typed parameters into driver-ready values following the
// coercion rules in spec §4.2: a present hint always wins; failed coercion
// binds NULL rather than erroring.
func bindArgs(params []TypedSqlParam) []any {
	args := make([]any, len(params))
	for i, p := range params {
		args[i] = coerce(p)
	}
	return args
}

func coerce(p TypedSqlParam) any {
	if p.TypeHint == nil {
		return naturalMapping(p.Value)
	}
	switch *p.TypeHint {
	case HintNull:
		return nil
	case HintText:
		if s, ok := p.Value.(string); ok {
			return s
		}
		return fmt.Sprintf("%v", p.Value)
	case HintInteger:
		switch v := p.Value.(type) {
		case float64:
			return int64(v)
		case string:
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				return n
			}
		}
		return nil // failed coercion binds NULL
	case HintReal:
		switch v := p.Value.(type) {
		case float64:
			return v
		case string:
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				return f
			}
		}
		return nil
	case HintBoolean:
		switch v := p.Value.(type) {
		case bool:
			if v {
				return int64(1)
			}
			return int64(0)
		case float64:
			if v != 0 {
				return int64(1)
			}
			return int64(0)
		}
		return nil
	case HintDatetime:
		if s, ok := p.Value.(string); ok {
			return s
		}
		return nil
	case HintBlob:
		// Deliberate quirk (see DESIGN.md): a blob-hinted value stores its
		// UTF-8 text verbatim. It is NOT base64-decoded, so this is
		// asymmetric with the base64 BLOB marshalling on the read path.
		if s, ok := p.Value.(string); ok {
			return []byte(s)
		}
		return nil
	default:
		return naturalMapping(p.Value)
	}
}

func naturalMapping(v interface{}) any {
	switch val := v.(type) {
	case nil:
		return nil
	case bool:
		if val {
			return int64(1)
		}
		return int64(0)
	case float64:
		if val == math.Trunc(val) && !math.IsInf(val, 0) {
			return int64(val)
		}
		return val
	case string:
		return val
	default:
		return fmt.Sprintf("%v", val)
	}
}

// Execute runs a non-row-returning statement, returning rows affected.
func (d *DB) Execute(sqlText string, params []TypedSqlParam) (int64, error) {
	start := time.Now()
	res, err := d.conn.Exec(sqlText, bindArgs(params)...)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrSqlExecution, err)
	}
	d.stats.record(sqlText, time.Since(start))
	return res.RowsAffected()
}

// ExecuteEnhanced runs a statement and returns the enhanced result shape,
// recording stats on success.
func (d *DB) ExecuteEnhanced(sqlText string, params []TypedSqlParam) (*EnhancedSqlResult, error) {
	start := time.Now()
	res, err := d.conn.Exec(sqlText, bindArgs(params)...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSqlExecution, err)
	}
	elapsed := time.Since(start)
	d.stats.record(sqlText, elapsed)

	affected, _ := res.RowsAffected()
	lastID, _ := res.LastInsertId()
	return &EnhancedSqlResult{
		Data:    nil,
		Columns: nil,
		Metadata: QueryMetadata{
			ExecutionTimeMs: elapsed.Milliseconds(),
			RowsAffected:    affected,
			LastInsertRowID: lastID,
			SqliteVersion:   sqliteVersion,
		},
	}, nil
}

// QueryEnhanced runs a row-returning statement and marshals every row per
// spec §4.2's column rules (BLOB→base64, NaN/±Inf→null, lossy TEXT decode).
func (d *DB) QueryEnhanced(sqlText string, params []TypedSqlParam) (*EnhancedSqlResult, error) {
	start := time.Now()
	rows, err := d.conn.Query(sqlText, bindArgs(params)...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSqlExecution, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConversionFailure, err)
	}
	types, _ := rows.ColumnTypes()

	columns := make([]ColumnInfo, len(cols))
	for i, c := range cols {
		t := "TEXT"
		if i < len(types) {
			t = types[i].DatabaseTypeName()
		}
		columns[i] = ColumnInfo{Name: c, Type: t}
	}

	var data []map[string]interface{}
	scanDest := make([]any, len(cols))
	scanBuf := make([]any, len(cols))
	for i := range scanDest {
		scanDest[i] = &scanBuf[i]
	}
	for rows.Next() {
		if err := rows.Scan(scanDest...); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrConversionFailure, err)
		}
		row := make(map[string]interface{}, len(cols))
		for i, c := range cols {
			row[c] = marshalColumn(scanBuf[i])
		}
		data = append(data, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSqlExecution, err)
	}

	elapsed := time.Since(start)
	d.stats.record(sqlText, elapsed)

	return &EnhancedSqlResult{
		Data:    data,
		Columns: columns,
		Metadata: QueryMetadata{
			ExecutionTimeMs: elapsed.Milliseconds(),
			RowsReturned:    len(data),
			SqliteVersion:   sqliteVersion,
		},
	}, nil
}

func marshalColumn(v any) interface{} {
	switch val := v.(type) {
	case nil:
		return nil
	case int64:
		return val
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return nil
		}
		return val
	case []byte:
		return base64.StdEncoding.EncodeToString(val)
	case string:
		return val
	default:
		return fmt.Sprintf("%v", val)
	}
}

// DescribeTable reports column and index introspection via PRAGMA.
func (d *DB) DescribeTable(name string) (*TableInfo, error) {
	colRows, err := d.conn.Query(fmt.Sprintf("PRAGMA table_info(%q)", name))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSqlExecution, err)
	}
	defer colRows.Close()

	var columns []ColumnInfo
	for colRows.Next() {
		var cid int
		var colName, colType string
		var notNull int
		var dflt sql.NullString
		var pk int
		if err := colRows.Scan(&cid, &colName, &colType, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrConversionFailure, err)
		}
		columns = append(columns, ColumnInfo{Name: colName, Type: colType})
	}

	idxRows, err := d.conn.Query(fmt.Sprintf("PRAGMA index_list(%q)", name))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSqlExecution, err)
	}
	defer idxRows.Close()

	var indexes []IndexInfo
	for idxRows.Next() {
		var seq int
		var idxName string
		var unique int
		var origin, partial string
		if err := idxRows.Scan(&seq, &idxName, &unique, &origin, &partial); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrConversionFailure, err)
		}
		cols, err := d.indexColumns(idxName)
		if err != nil {
			return nil, err
		}
		indexes = append(indexes, IndexInfo{Name: idxName, Unique: unique != 0, Columns: cols})
	}

	return &TableInfo{Columns: columns, Indexes: indexes}, nil
}

func (d *DB) indexColumns(idxName string) ([]string, error) {
	rows, err := d.conn.Query(fmt.Sprintf("PRAGMA index_info(%q)", idxName))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSqlExecution, err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var seqno, cid int
		var colName string
		if err := rows.Scan(&seqno, &cid, &colName); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrConversionFailure, err)
		}
		cols = append(cols, colName)
	}
	return cols, nil
}

// ListTables excludes internal sqlite_* tables.
func (d *DB) ListTables() ([]string, error) {
	rows, err := d.conn.Query(`SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%'`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSqlExecution, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrConversionFailure, err)
		}
		names = append(names, n)
	}
	return names, nil
}

// BeginTransaction starts a transaction and returns a cosmetic tx_id. See
// DESIGN.md: commit/rollback accept but do not verify this id.
func (d *DB) BeginTransaction() (*TransactionResult, error) {
	if _, err := d.conn.Exec("BEGIN TRANSACTION"); err != nil {
		return &TransactionResult{Success: false}, fmt.Errorf("%w: %v", domain.ErrSqlExecution, err)
	}
	atomic.AddInt64(&d.txSeq, 1)
	return &TransactionResult{TransactionID: fmt.Sprintf("tx_%d", time.Now().UnixNano()), Success: true}, nil
}

// CommitTransaction ignores txID — see BeginTransaction's doc comment.
func (d *DB) CommitTransaction(txID string) (*TransactionResult, error) {
	if _, err := d.conn.Exec("COMMIT"); err != nil {
		return &TransactionResult{TransactionID: txID, Success: false}, fmt.Errorf("%w: %v", domain.ErrSqlExecution, err)
	}
	return &TransactionResult{TransactionID: txID, Success: true}, nil
}

// RollbackTransaction ignores txID — see BeginTransaction's doc comment.
func (d *DB) RollbackTransaction(txID string) (*TransactionResult, error) {
	if _, err := d.conn.Exec("ROLLBACK"); err != nil {
		return &TransactionResult{TransactionID: txID, Success: false}, fmt.Errorf("%w: %v", domain.ErrSqlExecution, err)
	}
	return &TransactionResult{TransactionID: txID, Success: true}, nil
}

// ExplainQuery returns the query plan without executing side effects beyond
// what EXPLAIN QUERY PLAN itself performs.
func (d *DB) ExplainQuery(sqlText string, params []TypedSqlParam) (map[string]interface{}, error) {
	rows, err := d.conn.Query("EXPLAIN QUERY PLAN "+sqlText, bindArgs(params)...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSqlExecution, err)
	}
	defer rows.Close()

	var plan []string
	for rows.Next() {
		var id, parent, notUsed int
		var detail string
		if err := rows.Scan(&id, &parent, &notUsed, &detail); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrConversionFailure, err)
		}
		plan = append(plan, detail)
	}

	return map[string]interface{}{
		"query_plan":      strings.Join(plan, "; "),
		"estimated_cost":  float64(len(plan)),
		"estimated_rows":  0,
		"sqlite_version":  sqliteVersion,
	}, nil
}

// GetStats returns accumulated per-connection query statistics.
func (d *DB) GetStats() (*DatabaseStats, error) {
	total, totalMs, byType := d.stats.snapshot()

	var pageCount, pageSize int64
	_ = d.conn.QueryRow("PRAGMA page_count").Scan(&pageCount)
	_ = d.conn.QueryRow("PRAGMA page_size").Scan(&pageSize)

	avg := 0.0
	if total > 0 {
		avg = float64(totalMs) / float64(total)
	}

	return &DatabaseStats{
		TotalQueries:         total,
		TotalExecutionTimeMs: totalMs,
		AverageMs:            avg,
		QueryCountByType:     byType,
		DatabaseSizeBytes:    pageCount * pageSize,
		SqliteVersion:        sqliteVersion,
	}, nil
}

// sqliteVersion is reported in every metadata block; modernc.org/sqlite
// tracks a recent SQLite release but does not export its numeric version,
// so a representative literal is used, matching how the metadata field is
// consumed purely as an informational string by guests.
const sqliteVersion = "3.46.0"
