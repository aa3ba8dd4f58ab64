// Package app wires the exodus runtime: storage, audit, the orchestrator
// loop, and the gRPC health endpoint.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"

	auditbbolt "github.com/brchase/exodus/internal/exodus/audit/bbolt"
	"github.com/brchase/exodus/internal/exodus/orchestrator"
	"github.com/brchase/exodus/internal/exodus/reward"
	"github.com/brchase/exodus/internal/exodus/storage/sqlite"
	"github.com/brchase/exodus/internal/platform/timeouts"
)

const (
	defaultPort      = 8094
	defaultDBPath    = "data/exodus.db"
	defaultAuditPath = "data/exodus-audit.db"
)

// RuntimeConfig controls exodus startup and loop behavior.
type RuntimeConfig struct {
	Port                  int
	DBPath                string
	AuditPath             string
	Locale                string
	MinBroadcastOccupancy int
	DwellTickInterval     time.Duration
	ReminderInterval      time.Duration
}

// Collaborators are the external systems the orchestrator drives. All three
// are required; fleet.NewLoopback provides a development set.
type Collaborators struct {
	Feed      orchestrator.RosterFeed
	Transport orchestrator.Transport
	Ledger    reward.Ledger
}

func (c Collaborators) validate() error {
	if c.Feed == nil {
		return errors.New("roster feed is required")
	}
	if c.Transport == nil {
		return errors.New("transport is required")
	}
	if c.Ledger == nil {
		return errors.New("reward ledger is required")
	}
	return nil
}

// Runtime hosts the orchestrator and its health endpoint.
type Runtime struct {
	listener     net.Listener
	grpcServer   *grpc.Server
	health       *health.Server
	store        *sqlite.Store
	audit        *auditbbolt.Store
	orchestrator *orchestrator.Orchestrator
}

// New builds a runtime listening on the configured port.
func New(cfg RuntimeConfig, collab Collaborators) (*Runtime, error) {
	if cfg.Port <= 0 {
		cfg.Port = defaultPort
	}
	return NewWithAddr(fmt.Sprintf(":%d", cfg.Port), cfg, collab)
}

// NewWithAddr builds a runtime for the provided listen address.
func NewWithAddr(addr string, cfg RuntimeConfig, collab Collaborators) (*Runtime, error) {
	if err := collab.validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = defaultDBPath
	}
	if strings.TrimSpace(cfg.AuditPath) == "" {
		cfg.AuditPath = defaultAuditPath
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	store, err := openStore(cfg.DBPath)
	if err != nil {
		_ = listener.Close()
		return nil, err
	}
	auditStore, err := openAuditStore(cfg.AuditPath)
	if err != nil {
		_ = listener.Close()
		_ = store.Close()
		return nil, err
	}

	core := orchestrator.New(orchestrator.Config{
		Locale:                cfg.Locale,
		MinBroadcastOccupancy: cfg.MinBroadcastOccupancy,
		DwellTickInterval:     cfg.DwellTickInterval,
		ReminderInterval:      cfg.ReminderInterval,
	}, store, store, collab.Feed, collab.Transport, collab.Ledger, auditStore)

	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus("exodus.runtime", grpc_health_v1.HealthCheckResponse_SERVING)

	return &Runtime{
		listener:     listener,
		grpcServer:   grpcServer,
		health:       healthServer,
		store:        store,
		audit:        auditStore,
		orchestrator: core,
	}, nil
}

// Addr returns the health listener address.
func (r *Runtime) Addr() string {
	if r == nil || r.listener == nil {
		return ""
	}
	return r.listener.Addr().String()
}

// Orchestrator exposes the session API for operator surfaces.
func (r *Runtime) Orchestrator() *orchestrator.Orchestrator {
	if r == nil {
		return nil
	}
	return r.orchestrator
}

// Run builds a runtime and serves it until context cancellation.
func Run(ctx context.Context, cfg RuntimeConfig, collab Collaborators) error {
	runtime, err := New(cfg, collab)
	if err != nil {
		return err
	}
	return runtime.Serve(ctx)
}

// Serve runs the health endpoint and the orchestrator loop until ctx is
// cancelled, then tears both down.
func (r *Runtime) Serve(ctx context.Context) error {
	if r == nil {
		return errors.New("runtime is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	defer r.Close()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- r.grpcServer.Serve(r.listener)
	}()
	defer func() {
		r.health.Shutdown()
		stopped := make(chan struct{})
		go func() {
			r.grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(timeouts.Shutdown):
			r.grpcServer.Stop()
		}
		<-serveErr
	}()

	log.Printf("exodus listening at %v", r.listener.Addr())
	err := r.orchestrator.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close releases runtime resources.
func (r *Runtime) Close() {
	if r == nil {
		return
	}
	if r.health != nil {
		r.health.Shutdown()
	}
	if r.grpcServer != nil {
		r.grpcServer.Stop()
	}
	if r.listener != nil {
		_ = r.listener.Close()
	}
	if r.audit != nil {
		if err := r.audit.Close(); err != nil {
			log.Printf("close audit store: %v", err)
		}
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			log.Printf("close exodus store: %v", err)
		}
	}
}

func openStore(path string) (*sqlite.Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	store, err := sqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open exodus sqlite store: %w", err)
	}
	return store, nil
}

func openAuditStore(path string) (*auditbbolt.Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create audit dir: %w", err)
		}
	}
	store, err := auditbbolt.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audit store: %w", err)
	}
	return store, nil
}
