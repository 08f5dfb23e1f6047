package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors are pure — no infrastructure dependency.

var (
	// Server core errors
	ErrNameCollision = errors.New("a guest with this name already exists")
	ErrNotFound      = errors.New("guest not found")

	// Guest instantiation / trap errors
	ErrInstantiationFailure = errors.New("guest module failed to instantiate")
	ErrInitTrap             = errors.New("guest init function trapped")
	ErrTickTrap             = errors.New("guest tick function trapped")
	ErrHandlerTrap          = errors.New("guest gossip handler trapped")
	ErrShutdownTrap         = errors.New("guest shutdown function trapped")

	// Resource table errors
	ErrStaleHandle    = errors.New("resource handle is stale")
	ErrHandleNotFound = errors.New("resource handle not found")
	ErrWrongType      = errors.New("resource handle type mismatch")
	ErrHandleNotOwned = errors.New("resource handle is not owned by the caller")

	// Capability channel errors
	ErrChannelFull   = errors.New("capability channel is full")
	ErrChannelClosed = errors.New("capability channel is closed")

	// Encoding errors
	ErrDecodeFailure = errors.New("failed to decode guest payload")

	// Overlay errors
	ErrOverlayUnavailable = errors.New("overlay adapter is unavailable")
	ErrOverlayClosed      = errors.New("overlay endpoint is closed")

	// SQL capability errors
	ErrToSqlConversion    = errors.New("parameter could not be converted for binding")
	ErrDbLocked           = errors.New("database is locked")
	ErrSqlExecution       = errors.New("sql execution failed")
	ErrWalOperation       = errors.New("wal checkpoint operation failed")
	ErrQueryReturnedNoRows = errors.New("query returned no rows")
	ErrConversionFailure  = errors.New("result column conversion failed")

	// Catalog I/O
	ErrCatalogIO = errors.New("catalog store I/O error")

	// Supervisor lifecycle
	ErrGuestFaulted     = errors.New("guest supervisor is in a faulted state")
	ErrGuestStopped     = errors.New("guest supervisor has already stopped")
	ErrHotSwapFailed    = errors.New("hot-swap re-instantiation failed")
)
