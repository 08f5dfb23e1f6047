// Package hostimport binds the four host capabilities (C1 resource table,
// C2 SQL, C3 KV, C4 gossip) into the wazero "env" host module that every
// guest instance imports, following the pointer/length memory-marshalling
// convention the rest of the wazero-hosted examples in the retrieval pack
// use.
package hostimport

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/fern-network/fern/internal/capability/gossipcap"
	"github.com/fern-network/fern/internal/capability/kvcap"
	"github.com/fern-network/fern/internal/capability/sqlcap"
	"github.com/fern-network/fern/internal/domain"
	"github.com/fern-network/fern/internal/restable"
)

// Guest export names (spec §4.3's guest ABI).
const (
	ExportInit        = "init"
	ExportPostInit     = "post_init"
	ExportTick         = "tick"
	ExportShutdown     = "shutdown"
	ExportGossipHandle = "gossipMessageHandler"
)

const (
	kindConnection uint32 = 1
	kindCursor     uint32 = 2
)

// CapBundle is the set of live capability handles a guest instance is
// wired against. The hot-swap protocol carries the SQL/KV members of a
// bundle over into a freshly instantiated module, attaches a newly built
// gossip bridge, and discards the resource table (handles do not outlive
// their originating instance).
type CapBundle struct {
	SQL    *sqlcap.DB
	KV     *kvcap.Store
	Gossip *gossipcap.Bridge
}

// Env is the per-instance host import surface: one resource table plus a
// CapBundle, bound into a wazero host module builder.
type Env struct {
	caps      CapBundle
	resources *restable.Table
	instanceID string
}

// NewEnv constructs a fresh Env with its own resource table and a random
// UUID instanceID. The instanceID tags this instance's guest_info/warn/error
// log lines; it is not passed to the guest module.
func NewEnv(caps CapBundle) *Env {
	return &Env{
		caps:       caps,
		resources:  restable.NewWithRelease(releaseResource),
		instanceID: uuid.NewString(),
	}
}

// releaseResource returns a handle's underlying host resource when its
// slot is freed. A *sqlcap.DB owns a live connection and must be closed
// exactly once; a *rowCursor owns nothing beyond Go memory.
func releaseResource(payload any) {
	if db, ok := payload.(*sqlcap.DB); ok {
		if err := db.Close(); err != nil {
			log.Printf("[hostimport] failed to close dropped connection: %v", err)
		}
	}
}

// InstanceID returns the UUID assigned to this instance at construction.
func (e *Env) InstanceID() string { return e.instanceID }

// Close releases every resource this instance's env still owns. It does
// NOT close the CapBundle — SQL/KV/gossip may be carried over to a
// replacement instance during hot-swap.
func (e *Env) Close() { e.resources.Close() }

// Build registers every host import under the "env" module name on the
// given wazero runtime and returns the compiled host module.
func (e *Env) Build(ctx context.Context, r wazero.Runtime) (api.Module, error) {
	b := r.NewHostModuleBuilder("env")

	b.NewFunctionBuilder().WithFunc(e.sqliteExecuteEnhanced).Export("sqlite_execute_enhanced")
	b.NewFunctionBuilder().WithFunc(e.sqliteQueryEnhanced).Export("sqlite_query_enhanced")
	b.NewFunctionBuilder().WithFunc(e.sqliteDescribeTable).Export("sqlite_describe_table")
	b.NewFunctionBuilder().WithFunc(e.sqliteListTables).Export("sqlite_list_tables")
	b.NewFunctionBuilder().WithFunc(e.sqliteExplainQuery).Export("sqlite_explain_query")
	b.NewFunctionBuilder().WithFunc(e.sqliteGetStats).Export("sqlite_get_stats")
	b.NewFunctionBuilder().WithFunc(e.sqliteBeginTransaction).Export("sqlite_begin_transaction")
	b.NewFunctionBuilder().WithFunc(e.sqliteCommitTransaction).Export("sqlite_commit_transaction")
	b.NewFunctionBuilder().WithFunc(e.sqliteRollbackTransaction).Export("sqlite_rollback_transaction")

	b.NewFunctionBuilder().WithFunc(e.openDB).Export("open_db")
	b.NewFunctionBuilder().WithFunc(e.execute).Export("execute")
	b.NewFunctionBuilder().WithFunc(e.query).Export("query")
	b.NewFunctionBuilder().WithFunc(e.rowsNext).Export("Rows.next")
	b.NewFunctionBuilder().WithFunc(e.drop).Export("drop")

	b.NewFunctionBuilder().WithFunc(e.kvStore).Export("kv_store")
	b.NewFunctionBuilder().WithFunc(e.kvRead).Export("kv_read")

	b.NewFunctionBuilder().WithFunc(e.guestInfo).Export("guest_info")
	b.NewFunctionBuilder().WithFunc(e.guestWarn).Export("guest_warn")
	b.NewFunctionBuilder().WithFunc(e.guestError).Export("guest_error")

	b.NewFunctionBuilder().WithFunc(e.broadcastMsg).Export("broadcast_msg")

	return b.Instantiate(ctx)
}

// ─── memory marshalling helpers ────────────────────────────────────────────

func readBytes(m api.Module, ptr, length uint32) ([]byte, bool) {
	return m.Memory().Read(ptr, length)
}

func readJSON(m api.Module, ptr, length uint32, out interface{}) error {
	raw, ok := readBytes(m, ptr, length)
	if !ok {
		return fmt.Errorf("%w: out-of-bounds read at %d+%d", domain.ErrDecodeFailure, ptr, length)
	}
	return json.Unmarshal(raw, out)
}

// writeJSON allocates guest memory via the guest's exported "alloc"
// function, marshals v, writes it, and returns (ptr, len). Guests import
// this ABI alongside extism-style buffer conventions: an "alloc" export
// sized to the payload.
func writeJSON(ctx context.Context, m api.Module, v interface{}) (uint32, uint32, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, 0, err
	}
	alloc := m.ExportedFunction("alloc")
	if alloc == nil {
		return 0, 0, fmt.Errorf("guest module does not export alloc")
	}
	res, err := alloc.Call(ctx, uint64(len(data)))
	if err != nil || len(res) == 0 {
		return 0, 0, fmt.Errorf("alloc call failed: %w", err)
	}
	ptr := uint32(res[0])
	if !m.Memory().Write(ptr, data) {
		return 0, 0, fmt.Errorf("failed to write response into guest memory")
	}
	return ptr, uint32(len(data)), nil
}

// packResult mirrors writeJSON but packs (ptr,len) into a single uint64
// return value (ptr<<32 | len), the convention used by every two-output
// host import below so guests can unpack with a single i64 result.
func packResult(ptr, length uint32) uint64 {
	return uint64(ptr)<<32 | uint64(length)
}

// ─── SQL capability imports ────────────────────────────────────────────────

func (e *Env) sqliteExecuteEnhanced(ctx context.Context, m api.Module, ptr, length uint32) uint64 {
	return e.sqlCall(ctx, m, ptr, length, func(db *sqlcap.DB, p sqlParams) (interface{}, error) {
		return db.ExecuteEnhanced(p.SQL, p.Params)
	})
}

func (e *Env) sqliteQueryEnhanced(ctx context.Context, m api.Module, ptr, length uint32) uint64 {
	return e.sqlCall(ctx, m, ptr, length, func(db *sqlcap.DB, p sqlParams) (interface{}, error) {
		return db.QueryEnhanced(p.SQL, p.Params)
	})
}

type sqlParams struct {
	SQL    string               `json:"sql"`
	Params []sqlcap.TypedSqlParam `json:"params"`
}

type tableNameInput struct {
	Name string `json:"name"`
}

func (e *Env) sqliteDescribeTable(ctx context.Context, m api.Module, ptr, length uint32) uint64 {
	var in tableNameInput
	if err := readJSON(m, ptr, length, &in); err != nil {
		return e.errResult(ctx, m, err)
	}
	if e.caps.SQL == nil {
		return e.errResult(ctx, m, domain.ErrSqlExecution)
	}
	info, err := e.caps.SQL.DescribeTable(in.Name)
	if err != nil {
		return e.errResult(ctx, m, err)
	}
	return e.okResult(ctx, m, info)
}

func (e *Env) sqliteListTables(ctx context.Context, m api.Module, _, _ uint32) uint64 {
	if e.caps.SQL == nil {
		return e.errResult(ctx, m, domain.ErrSqlExecution)
	}
	tables, err := e.caps.SQL.ListTables()
	if err != nil {
		return e.errResult(ctx, m, err)
	}
	return e.okResult(ctx, m, tables)
}

func (e *Env) sqliteExplainQuery(ctx context.Context, m api.Module, ptr, length uint32) uint64 {
	var p sqlParams
	if err := readJSON(m, ptr, length, &p); err != nil {
		return e.errResult(ctx, m, err)
	}
	if e.caps.SQL == nil {
		return e.errResult(ctx, m, domain.ErrSqlExecution)
	}
	plan, err := e.caps.SQL.ExplainQuery(p.SQL, p.Params)
	if err != nil {
		return e.errResult(ctx, m, err)
	}
	return e.okResult(ctx, m, plan)
}

func (e *Env) sqliteGetStats(ctx context.Context, m api.Module, _, _ uint32) uint64 {
	if e.caps.SQL == nil {
		return e.errResult(ctx, m, domain.ErrSqlExecution)
	}
	stats, err := e.caps.SQL.GetStats()
	if err != nil {
		return e.errResult(ctx, m, err)
	}
	return e.okResult(ctx, m, stats)
}

func (e *Env) sqliteBeginTransaction(ctx context.Context, m api.Module, _, _ uint32) uint64 {
	if e.caps.SQL == nil {
		return e.errResult(ctx, m, domain.ErrSqlExecution)
	}
	res, err := e.caps.SQL.BeginTransaction()
	if err != nil {
		return e.errResult(ctx, m, err)
	}
	return e.okResult(ctx, m, res)
}

type transactionIDInput struct {
	TransactionID string `json:"transaction_id"`
}

func (e *Env) sqliteCommitTransaction(ctx context.Context, m api.Module, ptr, length uint32) uint64 {
	var in transactionIDInput
	if err := readJSON(m, ptr, length, &in); err != nil {
		return e.errResult(ctx, m, err)
	}
	if e.caps.SQL == nil {
		return e.errResult(ctx, m, domain.ErrSqlExecution)
	}
	res, err := e.caps.SQL.CommitTransaction(in.TransactionID)
	if err != nil {
		return e.errResult(ctx, m, err)
	}
	return e.okResult(ctx, m, res)
}

func (e *Env) sqliteRollbackTransaction(ctx context.Context, m api.Module, ptr, length uint32) uint64 {
	var in transactionIDInput
	if err := readJSON(m, ptr, length, &in); err != nil {
		return e.errResult(ctx, m, err)
	}
	if e.caps.SQL == nil {
		return e.errResult(ctx, m, domain.ErrSqlExecution)
	}
	res, err := e.caps.SQL.RollbackTransaction(in.TransactionID)
	if err != nil {
		return e.errResult(ctx, m, err)
	}
	return e.okResult(ctx, m, res)
}

func (e *Env) sqlCall(ctx context.Context, m api.Module, ptr, length uint32, fn func(*sqlcap.DB, sqlParams) (interface{}, error)) uint64 {
	var p sqlParams
	if err := readJSON(m, ptr, length, &p); err != nil {
		return e.errResult(ctx, m, err)
	}
	if e.caps.SQL == nil {
		return e.errResult(ctx, m, domain.ErrSqlExecution)
	}
	result, err := fn(e.caps.SQL, p)
	if err != nil {
		return e.errResult(ctx, m, err)
	}
	return e.okResult(ctx, m, result)
}

// ─── Legacy handle-based SQL imports (open_db/execute/query/Rows.next) ─────
// A second, resource-table-backed surface for guests that prefer explicit
// connection/cursor handles over the enhanced one-shot calls above.

func (e *Env) openDB(ctx context.Context, m api.Module, ptr, length uint32) uint64 {
	var in struct {
		Path string `json:"path"`
	}
	if err := readJSON(m, ptr, length, &in); err != nil {
		return e.errResult(ctx, m, err)
	}
	db, err := sqlcap.Open(in.Path)
	if err != nil {
		return e.errResult(ctx, m, err)
	}
	h := e.resources.Push(kindConnection, db)
	return e.okResult(ctx, m, h)
}

type execInput struct {
	Handle restable.Handle        `json:"handle"`
	SQL    string                  `json:"sql"`
	Params []sqlcap.TypedSqlParam  `json:"params"`
}

func (e *Env) execute(ctx context.Context, m api.Module, ptr, length uint32) uint64 {
	var in execInput
	if err := readJSON(m, ptr, length, &in); err != nil {
		return e.errResult(ctx, m, err)
	}
	db, err := e.lookupConn(in.Handle)
	if err != nil {
		return e.errResult(ctx, m, err)
	}
	result, err := db.Execute(in.SQL, in.Params)
	if err != nil {
		return e.errResult(ctx, m, err)
	}
	return e.okResult(ctx, m, result)
}

func (e *Env) query(ctx context.Context, m api.Module, ptr, length uint32) uint64 {
	var in execInput
	if err := readJSON(m, ptr, length, &in); err != nil {
		return e.errResult(ctx, m, err)
	}
	db, err := e.lookupConn(in.Handle)
	if err != nil {
		return e.errResult(ctx, m, err)
	}
	rows, err := db.QueryEnhanced(in.SQL, in.Params)
	if err != nil {
		return e.errResult(ctx, m, err)
	}
	cursor := newRowCursor(rows.Data)
	h := e.resources.Push(kindCursor, cursor)
	return e.okResult(ctx, m, h)
}

func (e *Env) rowsNext(ctx context.Context, m api.Module, ptr, length uint32) uint64 {
	var in struct {
		Handle restable.Handle `json:"handle"`
	}
	if err := readJSON(m, ptr, length, &in); err != nil {
		return e.errResult(ctx, m, err)
	}
	raw, err := e.resources.GetTyped(in.Handle, kindCursor)
	if err != nil {
		return e.errResult(ctx, m, err)
	}
	cursor := raw.(*rowCursor)
	row, hasMore := cursor.next()
	return e.okResult(ctx, m, struct {
		Row     map[string]interface{} `json:"row"`
		HasMore bool                    `json:"has_more"`
	}{Row: row, HasMore: hasMore})
}

func (e *Env) drop(ctx context.Context, m api.Module, ptr, length uint32) uint64 {
	var in struct {
		Handle restable.Handle `json:"handle"`
	}
	if err := readJSON(m, ptr, length, &in); err != nil {
		return e.errResult(ctx, m, err)
	}
	if _, err := e.resources.Delete(in.Handle); err != nil {
		return e.errResult(ctx, m, err)
	}
	return e.okResult(ctx, m, true)
}

func (e *Env) lookupConn(h restable.Handle) (*sqlcap.DB, error) {
	raw, err := e.resources.GetTyped(h, kindConnection)
	if err != nil {
		return nil, err
	}
	return raw.(*sqlcap.DB), nil
}

type rowCursor struct {
	rows []map[string]interface{}
	pos  int
}

func newRowCursor(rows []map[string]interface{}) *rowCursor {
	return &rowCursor{rows: rows}
}

func (c *rowCursor) next() (map[string]interface{}, bool) {
	if c.pos >= len(c.rows) {
		return nil, false
	}
	row := c.rows[c.pos]
	c.pos++
	return row, c.pos < len(c.rows)
}

// ─── KV capability imports ─────────────────────────────────────────────────

type kvStoreInput struct {
	Table string      `json:"table"`
	Key   string      `json:"key"`
	Value interface{} `json:"value"`
}

type kvReadInput struct {
	Table string `json:"table"`
	Key   string `json:"key"`
}

func (e *Env) kvStore(ctx context.Context, m api.Module, ptr, length uint32) uint64 {
	var in kvStoreInput
	if err := readJSON(m, ptr, length, &in); err != nil {
		return e.errResult(ctx, m, err)
	}
	if e.caps.KV == nil {
		return e.errResult(ctx, m, domain.ErrCatalogIO)
	}
	ok, err := e.caps.KV.Store(in.Table, in.Key, in.Value)
	if err != nil {
		return e.errResult(ctx, m, err)
	}
	return e.okResult(ctx, m, ok)
}

func (e *Env) kvRead(ctx context.Context, m api.Module, ptr, length uint32) uint64 {
	var in kvReadInput
	if err := readJSON(m, ptr, length, &in); err != nil {
		return e.errResult(ctx, m, err)
	}
	if e.caps.KV == nil {
		return e.errResult(ctx, m, domain.ErrCatalogIO)
	}
	value, found, err := e.caps.KV.Read(in.Table, in.Key)
	if err != nil {
		return e.errResult(ctx, m, err)
	}
	if !found {
		return e.okResult(ctx, m, nil)
	}
	return e.okResult(ctx, m, value)
}

// ─── Logging imports ────────────────────────────────────────────────────────

func (e *Env) guestInfo(_ context.Context, m api.Module, ptr, length uint32) {
	msg, ok := readBytes(m, ptr, length)
	if ok {
		log.Printf("[guest:%s] INFO %s", e.instanceID, msg)
	}
}

func (e *Env) guestWarn(_ context.Context, m api.Module, ptr, length uint32) {
	msg, ok := readBytes(m, ptr, length)
	if ok {
		log.Printf("[guest:%s] WARN %s", e.instanceID, msg)
	}
}

func (e *Env) guestError(_ context.Context, m api.Module, ptr, length uint32) {
	msg, ok := readBytes(m, ptr, length)
	if ok {
		log.Printf("[guest:%s] ERROR %s", e.instanceID, msg)
	}
}

// ─── Gossip capability import ──────────────────────────────────────────────

type broadcastInput struct {
	Topic   string      `json:"topic"`
	Content interface{} `json:"content"`
}

func (e *Env) broadcastMsg(ctx context.Context, m api.Module, ptr, length uint32) uint64 {
	var in broadcastInput
	if err := readJSON(m, ptr, length, &in); err != nil {
		return e.errResult(ctx, m, err)
	}
	if e.caps.Gossip == nil {
		return e.errResult(ctx, m, domain.ErrOverlayUnavailable)
	}
	err := e.caps.Gossip.BroadcastMsg(domain.OutboundMessage{Topic: in.Topic, Content: in.Content})
	if err != nil {
		return e.errResult(ctx, m, err)
	}
	return e.okResult(ctx, m, true)
}

// ─── result envelope helpers ────────────────────────────────────────────────

type resultEnvelope struct {
	Ok    interface{} `json:"ok,omitempty"`
	Error string      `json:"error,omitempty"`
}

func (e *Env) okResult(ctx context.Context, m api.Module, v interface{}) uint64 {
	ptr, length, err := writeJSON(ctx, m, resultEnvelope{Ok: v})
	if err != nil {
		log.Printf("[hostimport] failed to write result: %v", err)
		return 0
	}
	return packResult(ptr, length)
}

func (e *Env) errResult(ctx context.Context, m api.Module, err error) uint64 {
	ptr, length, writeErr := writeJSON(ctx, m, resultEnvelope{Error: err.Error()})
	if writeErr != nil {
		log.Printf("[hostimport] failed to write error result: %v", writeErr)
		return 0
	}
	return packResult(ptr, length)
}
