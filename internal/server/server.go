// Package server implements the single serialized command loop (C8): the
// sole mutator of the in-memory supervisor map and the catalog, processing
// CreateModule/UpdateModule/RemoveModule/UpdateBootstrap/GetInfo commands
// one at a time on a dedicated goroutine.
package server

import (
	"context"
	"fmt"
	"log"
	"sort"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
	"lukechampine.com/blake3"

	"github.com/fern-network/fern/internal/catalog"
	"github.com/fern-network/fern/internal/domain"
	"github.com/fern-network/fern/internal/metrics"
	"github.com/fern-network/fern/internal/overlay"
	"github.com/fern-network/fern/internal/supervisor"
)

// commandCapacity bounds the server's own command mailbox.
const commandCapacity = 100

// paginationPageSize is how many catalog rows are fetched per page during
// startup reconciliation.
const paginationPageSize = 100

type createCmd struct {
	name   string
	module []byte
	reply  chan createReply
}

type createReply struct {
	result domain.CreateResult
	err    error
}

type updateCmd struct {
	name   string
	module []byte
	reply  chan updateReply
}

type updateReply struct {
	result domain.UpdateResult
	err    error
}

type removeCmd struct {
	name  string
	reply chan domain.RemoveResult
}

type updateBootstrapCmd struct {
	addrs []string
	reply chan domain.UpdateBootstrapResult
}

type getNodeAddressCmd struct {
	reply chan domain.NodeAddress
}

type getGuestsCmd struct {
	reply chan []domain.GuestInfo
}

// Server is the GLSC command core: one goroutine owning every supervisor
// and the catalog handle.
type Server struct {
	catalog      *catalog.DB
	secretKey    [32]byte
	hostDataPath string
	endpoint     *overlay.Endpoint

	commands chan interface{}
	done     chan struct{}
}

// New binds the node's own overlay identity, then starts the server's
// command loop, reconciling any guests already present in the catalog into
// freshly started supervisors. A guest whose supervisor fails to start is
// logged and skipped — reconciliation never aborts the whole startup over
// one bad row.
func New(ctx context.Context, cat *catalog.DB, secretKey [32]byte, hostDataPath string) (*Server, error) {
	endpoint, err := overlay.Bind(secretKey)
	if err != nil {
		return nil, fmt.Errorf("bind node endpoint: %w", err)
	}

	s := &Server{
		catalog:      cat,
		secretKey:    secretKey,
		hostDataPath: hostDataPath,
		endpoint:     endpoint,
		commands:     make(chan interface{}, commandCapacity),
		done:         make(chan struct{}),
	}

	bootstrap, err := s.loadBootstrap()
	if err != nil {
		endpoint.Close()
		return nil, err
	}
	bootstrap = append(bootstrap, peer.AddrInfo{ID: endpoint.Host().ID()})

	supervisors := make(map[string]*supervisor.Supervisor)
	var offset int64
	for {
		rows, err := cat.AllWithPagination(paginationPageSize, offset)
		if err != nil {
			return nil, fmt.Errorf("reconcile: list guests: %w", err)
		}
		if len(rows) == 0 {
			break
		}
		for _, row := range rows {
			sup, err := startSupervisorForRow(ctx, row, s.secretKey, bootstrap, s.hostDataPath)
			if err != nil {
				log.Printf("[server] skipping guest %q during reconciliation: %v", row.Name, err)
				continue
			}
			supervisors[row.Name] = sup
		}
		offset += int64(len(rows))
	}
	metrics.GuestsActive.Set(float64(len(supervisors)))

	go s.run(ctx, supervisors, bootstrap)
	return s, nil
}

func startSupervisorForRow(ctx context.Context, row domain.GuestRecord, secretKey [32]byte, bootstrap []peer.AddrInfo, hostDataPath string) (*supervisor.Supervisor, error) {
	guestSecret := deriveGuestSecret(secretKey, row.Name)
	return supervisor.Start(ctx, supervisor.StartConfig{
		Name:         row.Name,
		Module:       row.Module,
		ModuleHash:   row.ModuleHash,
		SecretKey:    guestSecret,
		Bootstrap:    bootstrap,
		HostDataPath: hostDataPath,
	})
}

// deriveGuestSecret mixes the server's identity secret with the guest's
// name so every guest gets a distinct, stable overlay identity derived
// from a single node secret rather than persisting one secret per guest.
func deriveGuestSecret(nodeSecret [32]byte, guestName string) [32]byte {
	h := blake3.New(32, nil)
	h.Write(nodeSecret[:])
	h.Write([]byte(guestName))
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func (s *Server) loadBootstrap() ([]peer.AddrInfo, error) {
	addrs, err := s.catalog.LoadBootstrapPeers()
	if err != nil {
		return nil, err
	}
	return parseBootstrap(addrs)
}

func parseBootstrap(addrs []string) ([]peer.AddrInfo, error) {
	infos := make([]peer.AddrInfo, 0, len(addrs))
	for _, raw := range addrs {
		ma, err := multiaddr.NewMultiaddr(raw)
		if err != nil {
			log.Printf("[server] skipping malformed bootstrap address %q: %v", raw, err)
			continue
		}
		info, err := peer.AddrInfoFromP2pAddr(ma)
		if err != nil {
			log.Printf("[server] skipping unresolvable bootstrap address %q: %v", raw, err)
			continue
		}
		infos = append(infos, *info)
	}
	return infos, nil
}

// CreateModule creates and persists a new guest, then starts its
// supervisor.
func (s *Server) CreateModule(ctx context.Context, name string, module []byte) (domain.CreateResult, error) {
	reply := make(chan createReply, 1)
	select {
	case s.commands <- createCmd{name: name, module: module, reply: reply}:
	case <-ctx.Done():
		return domain.CreateResult{}, ctx.Err()
	}
	select {
	case r := <-reply:
		return r.result, r.err
	case <-ctx.Done():
		return domain.CreateResult{}, ctx.Err()
	}
}

// UpdateModule hot-swaps an existing guest's module.
func (s *Server) UpdateModule(ctx context.Context, name string, module []byte) (domain.UpdateResult, error) {
	reply := make(chan updateReply, 1)
	select {
	case s.commands <- updateCmd{name: name, module: module, reply: reply}:
	case <-ctx.Done():
		return domain.UpdateResult{}, ctx.Err()
	}
	select {
	case r := <-reply:
		return r.result, r.err
	case <-ctx.Done():
		return domain.UpdateResult{}, ctx.Err()
	}
}

// RemoveModule shuts down and removes an existing guest.
func (s *Server) RemoveModule(ctx context.Context, name string) (domain.RemoveResult, error) {
	reply := make(chan domain.RemoveResult, 1)
	select {
	case s.commands <- removeCmd{name: name, reply: reply}:
	case <-ctx.Done():
		return domain.RemoveResult{}, ctx.Err()
	}
	select {
	case r := <-reply:
		return r, nil
	case <-ctx.Done():
		return domain.RemoveResult{}, ctx.Err()
	}
}

// UpdateBootstrap replaces the bootstrap peer list used by every future
// gossip subscription and persists it to the catalog.
func (s *Server) UpdateBootstrap(ctx context.Context, addrs []string) (domain.UpdateBootstrapResult, error) {
	reply := make(chan domain.UpdateBootstrapResult, 1)
	select {
	case s.commands <- updateBootstrapCmd{addrs: addrs, reply: reply}:
	case <-ctx.Done():
		return domain.UpdateBootstrapResult{}, ctx.Err()
	}
	select {
	case r := <-reply:
		return r, nil
	case <-ctx.Done():
		return domain.UpdateBootstrapResult{}, ctx.Err()
	}
}

// NodeAddress reports the server's own overlay identity.
func (s *Server) NodeAddress(ctx context.Context) (domain.NodeAddress, error) {
	reply := make(chan domain.NodeAddress, 1)
	select {
	case s.commands <- getNodeAddressCmd{reply: reply}:
	case <-ctx.Done():
		return domain.NodeAddress{}, ctx.Err()
	}
	select {
	case r := <-reply:
		return r, nil
	case <-ctx.Done():
		return domain.NodeAddress{}, ctx.Err()
	}
}

// Guests lists every live guest's externally visible info, sorted by name.
func (s *Server) Guests(ctx context.Context) ([]domain.GuestInfo, error) {
	reply := make(chan []domain.GuestInfo, 1)
	select {
	case s.commands <- getGuestsCmd{reply: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-reply:
		return r, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close waits for the command loop to exit, or for ctx to expire. It does
// not stop the loop itself: the loop exits once the context passed to New
// is cancelled, after shutting down every supervisor.
func (s *Server) Close(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	default:
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return nil
	}
}

func (s *Server) run(ctx context.Context, supervisors map[string]*supervisor.Supervisor, bootstrap []peer.AddrInfo) {
	defer close(s.done)

	for {
		select {
		case <-ctx.Done():
			for name, sup := range supervisors {
				if err := sup.Shutdown(context.Background()); err != nil {
					log.Printf("[server] guest %q failed to shut down cleanly: %v", name, err)
				}
			}
			s.endpoint.Close()
			return

		case raw := <-s.commands:
			switch cmd := raw.(type) {
			case createCmd:
				s.handleCreate(ctx, cmd, supervisors, bootstrap)
			case updateCmd:
				s.handleUpdate(ctx, cmd, supervisors, bootstrap)
			case removeCmd:
				s.handleRemove(ctx, cmd, supervisors)
			case updateBootstrapCmd:
				bootstrap = s.handleUpdateBootstrap(cmd, bootstrap)
			case getNodeAddressCmd:
				cmd.reply <- domain.NodeAddress{EndpointID: s.endpoint.ID()}
			case getGuestsCmd:
				cmd.reply <- s.snapshotGuests(supervisors)
			}
		}
	}
}

func (s *Server) handleCreate(ctx context.Context, cmd createCmd, supervisors map[string]*supervisor.Supervisor, bootstrap []peer.AddrInfo) {
	if _, exists := supervisors[cmd.name]; exists {
		metrics.CommandErrorsTotal.WithLabelValues("create").Inc()
		cmd.reply <- createReply{err: domain.ErrNameCollision}
		return
	}

	row, err := s.catalog.CreateGuest(cmd.name, cmd.module)
	if err != nil {
		metrics.CommandErrorsTotal.WithLabelValues("create").Inc()
		cmd.reply <- createReply{err: err}
		return
	}

	sup, err := startSupervisorForRow(ctx, *row, s.secretKey, bootstrap, s.hostDataPath)
	if err != nil {
		metrics.CommandErrorsTotal.WithLabelValues("create").Inc()
		cmd.reply <- createReply{err: fmt.Errorf("%w: %v", domain.ErrInstantiationFailure, err)}
		return
	}

	supervisors[cmd.name] = sup
	metrics.GuestsActive.Set(float64(len(supervisors)))
	metrics.GuestsCreatedTotal.Inc()
	cmd.reply <- createReply{result: domain.CreateResult{EndpointID: sup.Info().EndpointID}}
}

func (s *Server) handleUpdate(ctx context.Context, cmd updateCmd, supervisors map[string]*supervisor.Supervisor, bootstrap []peer.AddrInfo) {
	sup, exists := supervisors[cmd.name]
	if !exists {
		metrics.CommandErrorsTotal.WithLabelValues("update").Inc()
		cmd.reply <- updateReply{err: domain.ErrNotFound}
		return
	}

	found, newHash, previousHash, err := s.catalog.UpdateModuleByName(cmd.name, cmd.module)
	if err != nil {
		metrics.CommandErrorsTotal.WithLabelValues("update").Inc()
		cmd.reply <- updateReply{err: err}
		return
	}
	if !found {
		metrics.CommandErrorsTotal.WithLabelValues("update").Inc()
		cmd.reply <- updateReply{err: domain.ErrNotFound}
		return
	}

	result, err := sup.UpdateModule(ctx, cmd.module, newHash, bootstrap)
	if err != nil {
		metrics.CommandErrorsTotal.WithLabelValues("update").Inc()
		cmd.reply <- updateReply{err: err}
		return
	}
	result.PreviousHash = previousHash
	if result.Success {
		metrics.GuestsUpdatedTotal.Inc()
	} else {
		metrics.CommandErrorsTotal.WithLabelValues("update").Inc()
	}
	cmd.reply <- updateReply{result: result}
}

func (s *Server) handleRemove(ctx context.Context, cmd removeCmd, supervisors map[string]*supervisor.Supervisor) {
	sup, exists := supervisors[cmd.name]
	if !exists {
		metrics.CommandErrorsTotal.WithLabelValues("remove").Inc()
		cmd.reply <- domain.RemoveResult{Success: false, Message: fmt.Sprintf("guest %q does not exist", cmd.name)}
		return
	}

	shutdownErr := sup.Shutdown(ctx)
	delete(supervisors, cmd.name)
	metrics.GuestsActive.Set(float64(len(supervisors)))

	removed, dbErr := s.catalog.RemoveByName(cmd.name)

	switch {
	case shutdownErr == nil && dbErr == nil && removed:
		metrics.GuestsRemovedTotal.Inc()
		cmd.reply <- domain.RemoveResult{Success: true, Message: fmt.Sprintf("successfully removed guest %q", cmd.name)}
	case dbErr != nil || !removed:
		metrics.CommandErrorsTotal.WithLabelValues("remove").Inc()
		cmd.reply <- domain.RemoveResult{Success: false, Message: fmt.Sprintf("failed to remove guest %q from catalog", cmd.name)}
	default:
		metrics.CommandErrorsTotal.WithLabelValues("remove").Inc()
		cmd.reply <- domain.RemoveResult{Success: false, Message: fmt.Sprintf("guest %q removed from catalog but shutdown failed: %v", cmd.name, shutdownErr)}
	}
}

func (s *Server) handleUpdateBootstrap(cmd updateBootstrapCmd, current []peer.AddrInfo) []peer.AddrInfo {
	next, err := parseBootstrap(cmd.addrs)
	if err != nil {
		cmd.reply <- domain.UpdateBootstrapResult{Success: false}
		return current
	}
	if err := s.catalog.SaveBootstrapPeers(cmd.addrs); err != nil {
		log.Printf("[server] failed to persist bootstrap peers: %v", err)
	}
	cmd.reply <- domain.UpdateBootstrapResult{Success: true, NodeCount: len(next)}
	return next
}

func (s *Server) snapshotGuests(supervisors map[string]*supervisor.Supervisor) []domain.GuestInfo {
	out := make([]domain.GuestInfo, 0, len(supervisors))
	for _, sup := range supervisors {
		out = append(out, sup.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
