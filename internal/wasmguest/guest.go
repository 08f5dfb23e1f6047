// Package wasmguest wraps one guest module instance: a wazero runtime
// compiled against the module bytes, the hostimport "env" surface bound in,
// and the handful of lifecycle calls (init/tick/shutdown/gossip handler)
// the supervisor drives.
package wasmguest

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/fern-network/fern/internal/domain"
	"github.com/fern-network/fern/internal/hostimport"
)

// Guest is one running instance of a compiled WASM module plus its host
// import environment.
type Guest struct {
	runtime wazero.Runtime
	module  api.Module
	env     *hostimport.Env
}

// Instantiate compiles moduleBytes, wires the hostimport environment built
// from caps, and instantiates the module. It does NOT call init — callers
// invoke Init() once instantiation succeeds so a trap during init can be
// distinguished from one during compilation.
func Instantiate(ctx context.Context, moduleBytes []byte, caps hostimport.CapBundle) (*Guest, error) {
	runtime := wazero.NewRuntime(ctx)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, runtime); err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("instantiate wasi: %w", err)
	}

	env := hostimport.NewEnv(caps)
	if _, err := env.Build(ctx, runtime); err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("%w: %v", domain.ErrInstantiationFailure, err)
	}

	compiled, err := runtime.CompileModule(ctx, moduleBytes)
	if err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("%w: %v", domain.ErrInstantiationFailure, err)
	}

	modCfg := wazero.NewModuleConfig().WithStartFunctions()
	mod, err := runtime.InstantiateModule(ctx, compiled, modCfg)
	if err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("%w: %v", domain.ErrInstantiationFailure, err)
	}

	return &Guest{runtime: runtime, module: mod, env: env}, nil
}

// Close tears down the runtime (which in turn closes the module) and
// releases any host-owned resource handles this instance held.
func (g *Guest) Close(ctx context.Context) error {
	g.env.Close()
	return g.runtime.Close(ctx)
}

// InstanceID returns the per-instance UUID that tags this guest's log
// lines. It is not passed to the guest module.
func (g *Guest) InstanceID() string { return g.env.InstanceID() }

// Init invokes the guest's init export. A trap here is terminal: the
// supervisor must not retain an instance whose init failed.
func (g *Guest) Init(ctx context.Context) error {
	return g.call(ctx, hostimport.ExportInit, domain.ErrInitTrap)
}

// PostInit invokes the guest's optional post_init export, if present.
// Absence is not an error — not every guest defines it.
func (g *Guest) PostInit(ctx context.Context) error {
	fn := g.module.ExportedFunction(hostimport.ExportPostInit)
	if fn == nil {
		return nil
	}
	if _, err := fn.Call(ctx); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInitTrap, err)
	}
	return nil
}

// Tick invokes the guest's tick export. The supervisor is responsible for
// never overlapping two Tick calls on the same instance.
func (g *Guest) Tick(ctx context.Context) error {
	return g.call(ctx, hostimport.ExportTick, domain.ErrTickTrap)
}

// Shutdown invokes the guest's shutdown export. Unlike Init/Tick, a trap
// here does not prevent the supervisor from tearing the instance down —
// shutdown is best-effort.
func (g *Guest) Shutdown(ctx context.Context) error {
	return g.call(ctx, hostimport.ExportShutdown, domain.ErrShutdownTrap)
}

// DispatchGossip invokes the guest's gossipMessageHandler export, passing
// the inbound message by writing it into guest memory via the "alloc"
// export and calling the handler with (ptr, len).
func (g *Guest) DispatchGossip(ctx context.Context, msg domain.InboundMessage) error {
	fn := g.module.ExportedFunction(hostimport.ExportGossipHandle)
	if fn == nil {
		return nil // guest does not subscribe to gossip
	}

	ptr, length, err := g.writeArg(ctx, msg)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrHandlerTrap, err)
	}
	if _, err := fn.Call(ctx, uint64(ptr), uint64(length)); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrHandlerTrap, err)
	}
	return nil
}

// writeArg marshals v to JSON and writes it into guest memory via the
// guest's exported "alloc" function, mirroring the convention hostimport
// uses for host->guest payloads in the opposite direction.
func (g *Guest) writeArg(ctx context.Context, v interface{}) (uint32, uint32, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, 0, err
	}
	alloc := g.module.ExportedFunction("alloc")
	if alloc == nil {
		return 0, 0, fmt.Errorf("guest module does not export alloc")
	}
	res, err := alloc.Call(ctx, uint64(len(data)))
	if err != nil || len(res) == 0 {
		return 0, 0, fmt.Errorf("alloc call failed: %w", err)
	}
	ptr := uint32(res[0])
	if !g.module.Memory().Write(ptr, data) {
		return 0, 0, fmt.Errorf("failed to write argument into guest memory")
	}
	return ptr, uint32(len(data)), nil
}

func (g *Guest) call(ctx context.Context, name string, trapErr error) error {
	fn := g.module.ExportedFunction(name)
	if fn == nil {
		return fmt.Errorf("%w: guest does not export %q", trapErr, name)
	}
	if _, err := fn.Call(ctx); err != nil {
		return fmt.Errorf("%w: %v", trapErr, err)
	}
	return nil
}
