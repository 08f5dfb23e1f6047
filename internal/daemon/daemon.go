package daemon

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fern-network/fern/internal/api"
	"github.com/fern-network/fern/internal/catalog"
	"github.com/fern-network/fern/internal/health"
	"github.com/fern-network/fern/internal/identity"
	"github.com/fern-network/fern/internal/server"
)

// Daemon is the core Fern runtime: it wires the catalog, the guest command
// core, the health checker, and the HTTP control API together.
type Daemon struct {
	Config   Config
	Catalog  *catalog.DB
	Identity *identity.Identity
	Core     *server.Server
	Health   *health.Checker
	API      *api.Server

	coreCancel context.CancelFunc
	cancel     context.CancelFunc
}

// New creates and initializes a Daemon with all services wired, loading
// configuration from $FERN_HOME/config.toml (or defaults).
func New() (*Daemon, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewWithConfig(cfg)
}

// NewWithConfig creates a Daemon with the given configuration.
func NewWithConfig(cfg Config) (*Daemon, error) {
	var id *identity.Identity
	var err error
	if cfg.Node.SecretKeyPath != "" {
		id, err = identity.LoadOrCreateAtPath(cfg.Node.SecretKeyPath)
	} else {
		id, err = identity.LoadOrCreate(cfg.Storage.HostDataPath)
	}
	if err != nil {
		return nil, fmt.Errorf("load identity: %w", err)
	}

	cat, err := catalog.Open(cfg.Storage.HostDataPath)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}

	coreCtx, coreCancel := context.WithCancel(context.Background())
	core, err := server.New(coreCtx, cat, id.SecretKey, cfg.Storage.HostDataPath)
	if err != nil {
		coreCancel()
		cat.Close()
		return nil, fmt.Errorf("start server core: %w", err)
	}

	apiServer := api.NewServer(core)
	apiServer.EnableMetrics()

	d := &Daemon{
		Config:     cfg,
		Catalog:    cat,
		Identity:   id,
		Core:       core,
		Health:     health.NewChecker(cat, cfg.Storage.HostDataPath),
		API:        apiServer,
		coreCancel: coreCancel,
	}
	return d, nil
}

// Serve starts the HTTP control API and blocks until shutdown.
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	go d.Health.Run(ctx)

	addr := fmt.Sprintf("%s:%d", d.Config.API.Host, d.Config.API.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      d.API.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
		case <-ctx.Done():
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		_ = httpServer.Shutdown(shutdownCtx)
		cancel()
		d.coreCancel()
		if err := d.Core.Close(shutdownCtx); err != nil {
			log.Printf("[daemon] server core did not shut down cleanly: %v", err)
		}
		_ = d.Catalog.Close()
	}()

	fmt.Printf("Fern serving on http://%s\n", addr)

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Close shuts down all daemon resources immediately.
func (d *Daemon) Close() {
	if d.cancel != nil {
		d.cancel()
	}
	if d.coreCancel != nil {
		d.coreCancel()
	}
	if d.Catalog != nil {
		_ = d.Catalog.Close()
	}
}
