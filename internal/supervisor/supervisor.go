// Package supervisor implements the per-guest supervision goroutine (C7):
// a dedicated tick loop plus a serialized command channel driving a single
// wasmguest.Guest instance through its lifecycle, including the hot-swap
// protocol that replaces a running module while preserving network
// identity and SQL/KV state.
package supervisor

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/fern-network/fern/internal/capability/gossipcap"
	"github.com/fern-network/fern/internal/capability/kvcap"
	"github.com/fern-network/fern/internal/capability/sqlcap"
	"github.com/fern-network/fern/internal/domain"
	"github.com/fern-network/fern/internal/hostimport"
	"github.com/fern-network/fern/internal/overlay"
	"github.com/fern-network/fern/internal/wasmguest"
)

// tickInterval matches the spec's best-effort 5Hz guest tick.
const tickInterval = 200 * time.Millisecond

// commandCapacity bounds the per-guest command mailbox.
const commandCapacity = 100

// StartConfig carries everything needed to bring up a fresh supervisor.
type StartConfig struct {
	Name         string
	Module       []byte
	ModuleHash   string
	SecretKey    [32]byte
	Bootstrap    []peer.AddrInfo
	HostDataPath string
}

// updateCmd requests a hot-swap to a new module.
type updateCmd struct {
	module     []byte
	moduleHash string
	bootstrap  []peer.AddrInfo
	reply      chan domain.UpdateResult
}

// shutdownCmd requests graceful termination.
type shutdownCmd struct {
	reply chan error
}

// instance bundles everything a single running module needs: its overlay
// binding, gossip bridge, capability bundle, and the wasm guest itself.
type instance struct {
	endpoint *overlay.Endpoint
	router   *overlay.Router
	gossip   *overlay.GossipProtocol
	bridge   *gossipcap.Bridge
	caps     hostimport.CapBundle
	guest    *wasmguest.Guest
}

// Supervisor owns one guest's lifecycle on a dedicated goroutine.
type Supervisor struct {
	name         string
	hostDataPath string

	mu         sync.RWMutex
	state      domain.SupervisorState
	moduleHash string
	endpointID string

	commands chan interface{}
	done     chan struct{}
}

// Start builds the guest's first instance, launches its tick/command
// goroutine, and returns once the guest's init export has run.
func Start(ctx context.Context, cfg StartConfig) (*Supervisor, error) {
	s := &Supervisor{
		name:         cfg.Name,
		hostDataPath: cfg.HostDataPath,
		state:        domain.StateStarting,
		moduleHash:   cfg.ModuleHash,
		commands:     make(chan interface{}, commandCapacity),
		done:         make(chan struct{}),
	}

	inst, err := buildInstance(ctx, cfg.SecretKey, cfg.Name, cfg.Module, cfg.Bootstrap, cfg.HostDataPath, nil)
	if err != nil {
		return nil, err
	}

	if err := inst.guest.Init(ctx); err != nil {
		teardownInstance(ctx, inst)
		return nil, err
	}
	_ = inst.guest.PostInit(ctx)

	s.setEndpointID(inst.endpoint.ID())
	s.setState(domain.StateRunning)

	go s.run(ctx, inst)
	return s, nil
}

// buildInstance binds a fresh overlay endpoint with secretKey (used as
// given; no key is generated here), opens SQL/KV capabilities (or reuses
// carryOver if supplied for a hot-swap), attaches the gossip bridge, and
// instantiates the WASM module.
func buildInstance(ctx context.Context, secretKey [32]byte, name string, module []byte, bootstrap []peer.AddrInfo, hostDataPath string, carryOver *hostimport.CapBundle) (*instance, error) {
	endpoint, err := overlay.Bind(secretKey)
	if err != nil {
		return nil, err
	}

	router := overlay.NewRouterBuilder(endpoint).Build()
	if err := router.Spawn(ctx); err != nil {
		endpoint.Close()
		return nil, err
	}

	gossip, err := overlay.NewGossipProtocol(ctx, endpoint)
	if err != nil {
		router.Shutdown()
		return nil, err
	}

	bridge, err := gossipcap.Attach(ctx, gossip, bootstrap)
	if err != nil {
		router.Shutdown()
		return nil, err
	}

	var caps hostimport.CapBundle
	if carryOver != nil {
		caps = *carryOver
		caps.Gossip = bridge
	} else {
		sqlDB, err := sqlcap.Open("")
		if err != nil {
			bridge.Close()
			router.Shutdown()
			return nil, err
		}
		kv, err := kvcap.Open(hostDataPath, name)
		if err != nil {
			sqlDB.Close()
			bridge.Close()
			router.Shutdown()
			return nil, err
		}
		caps = hostimport.CapBundle{SQL: sqlDB, KV: kv, Gossip: bridge}
	}

	guest, err := wasmguest.Instantiate(ctx, module, caps)
	if err != nil {
		bridge.Close()
		router.Shutdown()
		return nil, err
	}

	return &instance{
		endpoint: endpoint,
		router:   router,
		gossip:   gossip,
		bridge:   bridge,
		caps:     caps,
		guest:    guest,
	}, nil
}

// teardownInstance tears down everything EXCEPT the SQL/KV capability
// connections, which the caller may want to carry over into a replacement
// instance during hot-swap.
func teardownInstance(ctx context.Context, inst *instance) {
	_ = inst.guest.Shutdown(ctx)
	_ = inst.guest.Close(ctx)
	inst.bridge.Close()
	inst.router.Shutdown()
}

// closeCaps releases the SQL/KV connections — called only on final
// shutdown, never during hot-swap.
func closeCaps(caps hostimport.CapBundle) {
	if caps.SQL != nil {
		caps.SQL.Close()
	}
	if caps.KV != nil {
		caps.KV.Close()
	}
}

func (s *Supervisor) setState(state domain.SupervisorState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Supervisor) setEndpointID(id string) {
	s.mu.Lock()
	s.endpointID = id
	s.mu.Unlock()
}

func (s *Supervisor) setModuleHash(hash string) {
	s.mu.Lock()
	s.moduleHash = hash
	s.mu.Unlock()
}

// Info returns a point-in-time snapshot of the supervisor's externally
// visible state.
func (s *Supervisor) Info() domain.GuestInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.GuestInfo{Name: s.name, EndpointID: s.endpointID, ModuleHash: s.moduleHash}
}

// State reports the current lifecycle state.
func (s *Supervisor) State() domain.SupervisorState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// UpdateModule requests a hot-swap to a new module and blocks until the
// swap completes or fails.
func (s *Supervisor) UpdateModule(ctx context.Context, module []byte, moduleHash string, bootstrap []peer.AddrInfo) (domain.UpdateResult, error) {
	reply := make(chan domain.UpdateResult, 1)
	cmd := updateCmd{module: module, moduleHash: moduleHash, bootstrap: bootstrap, reply: reply}

	select {
	case s.commands <- cmd:
	case <-ctx.Done():
		return domain.UpdateResult{}, ctx.Err()
	case <-s.done:
		return domain.UpdateResult{}, domain.ErrGuestStopped
	}

	select {
	case res := <-reply:
		return res, nil
	case <-ctx.Done():
		return domain.UpdateResult{}, ctx.Err()
	}
}

// Shutdown requests graceful termination and waits for the supervisor's
// goroutine to exit.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	reply := make(chan error, 1)
	select {
	case s.commands <- shutdownCmd{reply: reply}:
	case <-s.done:
		return nil
	}

	select {
	case err := <-reply:
		<-s.done
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the supervisor's dedicated goroutine: it owns inst exclusively,
// alternating between the 5Hz tick and draining the command channel. Tick
// invocations never overlap — a slow tick simply delays the next boundary.
func (s *Supervisor) run(ctx context.Context, inst *instance) {
	defer close(s.done)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.setState(domain.StateStopping)
			teardownInstance(ctx, inst)
			closeCaps(inst.caps)
			s.setState(domain.StateStopped)
			return

		case <-ticker.C:
			if s.State() != domain.StateRunning {
				continue
			}
			for _, msg := range inst.bridge.DrainInbound() {
				if err := inst.guest.DispatchGossip(ctx, msg); err != nil {
					log.Printf("[supervisor:%s] gossip handler trapped: %v", s.name, err)
				}
			}
			if err := inst.guest.Tick(ctx); err != nil {
				log.Printf("[supervisor:%s] tick trapped: %v", s.name, err)
			}

		case raw := <-s.commands:
			switch cmd := raw.(type) {
			case updateCmd:
				next, err := s.hotSwap(ctx, inst, cmd)
				if err != nil {
					cmd.reply <- domain.UpdateResult{Success: false, Error: err.Error()}
					continue
				}
				inst = next
				cmd.reply <- domain.UpdateResult{Success: true, ModuleHash: cmd.moduleHash}

			case shutdownCmd:
				s.setState(domain.StateStopping)
				teardownInstance(ctx, inst)
				closeCaps(inst.caps)
				s.setState(domain.StateStopped)
				cmd.reply <- nil
				return
			}
		}
	}
}

// hotSwap implements the identity-preserving reload protocol: capture the
// secret key, best-effort shutdown the outgoing guest, tear down its
// overlay endpoint and router, rebind the SAME secret key, carry the SQL
// and KV capability connections over into a fresh CapBundle, build a new
// gossip bridge, instantiate the replacement module, run its init, and
// only then swap it in. If re-instantiation fails after the old instance
// is already gone, the supervisor is left Faulted — there is no instance
// left to roll back to.
func (s *Supervisor) hotSwap(ctx context.Context, old *instance, cmd updateCmd) (*instance, error) {
	s.setState(domain.StateUpdating)

	secretKey := old.endpoint.SecretKey()
	carryOver := hostimport.CapBundle{SQL: old.caps.SQL, KV: old.caps.KV}

	teardownInstance(ctx, old)

	next, err := buildInstance(ctx, secretKey, s.name, cmd.module, cmd.bootstrap, s.hostDataPath, &carryOver)
	if err != nil {
		closeCaps(carryOver)
		s.setState(domain.StateFaulted)
		return nil, fmt.Errorf("%w: %v", domain.ErrHotSwapFailed, err)
	}

	if err := next.guest.Init(ctx); err != nil {
		teardownInstance(ctx, next)
		closeCaps(carryOver)
		s.setState(domain.StateFaulted)
		return nil, fmt.Errorf("%w: %v", domain.ErrHotSwapFailed, err)
	}
	_ = next.guest.PostInit(ctx)

	s.setEndpointID(next.endpoint.ID())
	s.setModuleHash(cmd.moduleHash)
	s.setState(domain.StateRunning)
	return next, nil
}
