package sqlcap

import (
	"testing"
)

func hint(h TypeHint) *TypeHint { return &h }

func TestExecuteAndQueryRoundTrip(t *testing.T) {
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	if _, err := db.Execute("CREATE TABLE t (id INTEGER PRIMARY KEY, name TEXT)", nil); err != nil {
		t.Fatalf("create table: %v", err)
	}

	affected, err := db.Execute("INSERT INTO t (name) VALUES (?)", []TypedSqlParam{{Value: "alice"}})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if affected != 1 {
		t.Fatalf("rows affected = %d, want 1", affected)
	}

	res, err := db.QueryEnhanced("SELECT id, name FROM t", nil)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if res.Metadata.RowsReturned != 1 {
		t.Fatalf("rows returned = %d, want 1", res.Metadata.RowsReturned)
	}
	if res.Data[0]["name"] != "alice" {
		t.Fatalf("name = %v, want alice", res.Data[0]["name"])
	}
}

func TestParameterBindingFailedCoercionBindsNull(t *testing.T) {
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	if _, err := db.Execute("CREATE TABLE t (v INTEGER)", nil); err != nil {
		t.Fatalf("create table: %v", err)
	}

	// "not-a-number" hinted as integer fails to coerce and must bind NULL,
	// not error.
	if _, err := db.Execute("INSERT INTO t (v) VALUES (?)", []TypedSqlParam{
		{Value: "not-a-number", TypeHint: hint(HintInteger)},
	}); err != nil {
		t.Fatalf("insert with uncoercible hint should not error: %v", err)
	}

	res, err := db.QueryEnhanced("SELECT v FROM t", nil)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if res.Data[0]["v"] != nil {
		t.Fatalf("v = %v, want nil", res.Data[0]["v"])
	}
}

func TestBlobHintStoresTextVerbatim(t *testing.T) {
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	if _, err := db.Execute("CREATE TABLE t (b BLOB)", nil); err != nil {
		t.Fatalf("create table: %v", err)
	}

	if _, err := db.Execute("INSERT INTO t (b) VALUES (?)", []TypedSqlParam{
		{Value: "hello", TypeHint: hint(HintBlob)},
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	res, err := db.QueryEnhanced("SELECT b FROM t", nil)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	// The stored bytes are the text verbatim, but BLOB columns marshal back
	// out as base64 — the documented round-trip asymmetry.
	if res.Data[0]["b"] != "aGVsbG8=" {
		t.Fatalf("b = %v, want aGVsbG8= (base64 of hello)", res.Data[0]["b"])
	}
}

func TestTransactionRollback(t *testing.T) {
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	if _, err := db.Execute("CREATE TABLE t (v INTEGER)", nil); err != nil {
		t.Fatalf("create table: %v", err)
	}

	tx, err := db.BeginTransaction()
	if err != nil || !tx.Success {
		t.Fatalf("begin: %v %v", tx, err)
	}

	if _, err := db.Execute("INSERT INTO t (v) VALUES (1)", nil); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if _, err := db.RollbackTransaction(tx.TransactionID); err != nil {
		t.Fatalf("rollback: %v", err)
	}

	res, err := db.QueryEnhanced("SELECT count(*) as c FROM t", nil)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if res.Data[0]["c"] != int64(0) {
		t.Fatalf("count = %v, want 0 after rollback", res.Data[0]["c"])
	}
}

func TestListTablesExcludesSqliteInternal(t *testing.T) {
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	if _, err := db.Execute("CREATE TABLE widgets (id INTEGER PRIMARY KEY)", nil); err != nil {
		t.Fatalf("create: %v", err)
	}

	names, err := db.ListTables()
	if err != nil {
		t.Fatalf("list tables: %v", err)
	}
	if len(names) != 1 || names[0] != "widgets" {
		t.Fatalf("names = %v, want [widgets]", names)
	}
}

func TestGetStatsCountsByKeyword(t *testing.T) {
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	if _, err := db.ExecuteEnhanced("CREATE TABLE t (v INTEGER)", nil); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := db.ExecuteEnhanced("INSERT INTO t (v) VALUES (1)", nil); err != nil {
		t.Fatalf("insert: %v", err)
	}

	stats, err := db.GetStats()
	if err != nil {
		t.Fatalf("get stats: %v", err)
	}
	if stats.TotalQueries != 2 {
		t.Fatalf("total queries = %d, want 2", stats.TotalQueries)
	}
	if stats.QueryCountByType["CREATE"] != 1 || stats.QueryCountByType["INSERT"] != 1 {
		t.Fatalf("counts = %+v", stats.QueryCountByType)
	}
}

func TestExecuteRecordsStats(t *testing.T) {
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	if _, err := db.Execute("CREATE TABLE t (v INTEGER)", nil); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := db.Execute("INSERT INTO t (v) VALUES (1)", nil); err != nil {
		t.Fatalf("insert: %v", err)
	}

	stats, err := db.GetStats()
	if err != nil {
		t.Fatalf("get stats: %v", err)
	}
	if stats.TotalQueries != 2 {
		t.Fatalf("total queries = %d, want 2 (legacy Execute path must record stats too)", stats.TotalQueries)
	}
}
