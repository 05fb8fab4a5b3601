// Package server wires the C1–C6 components into one runnable process:
// storage backend, notification service, subscription engine, HA layer,
// and the wire-protocol listener. Its Run lifecycle (cancelling Run's
// context shuts the peer down) mirrors the teacher's cmd/rigd
// entrypoint's signal-driven shutdown, generalized into a reusable type
// instead of living directly in main.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/arloq/notifyd/internal/config"
	"github.com/arloq/notifyd/internal/ha"
	"github.com/arloq/notifyd/internal/metrics"
	"github.com/arloq/notifyd/internal/notify"
	"github.com/arloq/notifyd/internal/rpcserver"
	"github.com/arloq/notifyd/internal/store"
	"github.com/arloq/notifyd/internal/subscribe"
)

// Server is one notification service peer: a backend, the C3/C4
// components built on it, and the C5/C6 layers that expose it.
type Server struct {
	cfg     config.Properties
	log     zerolog.Logger
	backend store.Backend
	sqlDB   *sql.DB // non-nil only for the sqlite driver, closed when Run returns

	svc    *notify.Service
	engine *subscribe.Engine
	rpc    *rpcserver.Server

	elector   *ha.Elector
	heartbeat *ha.Heartbeat

	metrics       *metrics.Metrics
	metricsServer *http.Server
}

// New builds a Server from cfg without starting anything. Call Run to
// start serving; it blocks until ctx is cancelled.
func New(cfg config.Properties, log zerolog.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Server{cfg: cfg, log: log}

	backend, sqlDB, err := openBackend(cfg)
	if err != nil {
		return nil, fmt.Errorf("server: open backend: %w", err)
	}
	s.backend = backend
	s.sqlDB = sqlDB

	s.svc = notify.NewService(backend, cfg.EnableIdempotence, log)
	s.engine = subscribe.NewEngine(backend, log)

	// client.id/initial.sequence.number let a recovering producer skip
	// straight to the sequence number it left off at, without replaying
	// a RegisterClient round trip first.
	if cfg.ClientID != 0 {
		if err := backend.SeedSequence(context.Background(), cfg.ClientID, cfg.InitialSequenceNumber); err != nil {
			return nil, fmt.Errorf("server: seed sequence for client %d: %w", cfg.ClientID, err)
		}
	}

	reg := prometheus.NewRegistry()
	s.metrics = metrics.New(reg)

	var elector *ha.Elector
	if cfg.ServerUUID != "" {
		membership, err := openMembership(cfg, sqlDB)
		if err != nil {
			return nil, fmt.Errorf("server: open membership store: %w", err)
		}
		serverUUID := cfg.ServerUUID
		ttl := time.Duration(cfg.HeartbeatTTLMs) * time.Millisecond
		interval := time.Duration(cfg.HeartbeatIntervalMs) * time.Millisecond
		elector = ha.NewElector(membership, serverUUID, ttl)
		s.heartbeat = ha.NewHeartbeat(membership, cfg.ServerURI, serverUUID, interval, ttl, log)
	}
	s.elector = elector

	rpc, err := rpcserver.New(cfg.ListenAddr, s.svc, s.engine, s.elector, uint32(cfg.GRPCMaxReceiveMessageLength), s.metrics, log)
	if err != nil {
		return nil, fmt.Errorf("server: bind %s: %w", cfg.ListenAddr, err)
	}
	s.rpc = rpc

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.HandlerFor(reg))
		s.metricsServer = &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
	}

	return s, nil
}

// Addr returns the bound wire-protocol listen address, useful when
// ListenAddr was ":0".
func (s *Server) Addr() string { return s.rpc.Addr().String() }

// Run starts every component and blocks until ctx is cancelled, then
// shuts everything down. It returns the first error encountered serving
// the wire protocol, or nil on a clean shutdown.
func (s *Server) Run(ctx context.Context) error {
	if s.heartbeat != nil {
		go s.heartbeat.Run(ctx)
	}
	if s.metricsServer != nil {
		go func() {
			if err := s.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				s.log.Error().Err(err).Msg("metrics server failed")
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			s.metricsServer.Shutdown(shutdownCtx)
		}()
	}

	err := s.rpc.Serve(ctx)
	if s.sqlDB != nil {
		s.sqlDB.Close()
	}
	return err
}

func openBackend(cfg config.Properties) (store.Backend, *sql.DB, error) {
	switch cfg.StoreDriver {
	case "sqlite":
		sqliteStore, err := store.OpenSQLite(cfg.StoreDSN)
		if err != nil {
			return nil, nil, err
		}
		return sqliteStore, sqliteStore.DB(), nil
	case "memory":
		return store.NewMemory(), nil, nil
	default:
		return nil, nil, fmt.Errorf("server: unknown store driver %q", cfg.StoreDriver)
	}
}

func openMembership(cfg config.Properties, sqlDB *sql.DB) (ha.MembershipStore, error) {
	if cfg.StoreDriver == "sqlite" && sqlDB != nil {
		return ha.OpenSQLiteMembership(sqlDB)
	}
	return ha.NewMemory(), nil
}

// NewServerUUID generates a fresh peer identity for first-time startup
// when none was configured.
func NewServerUUID() string {
	return uuid.NewString()
}
