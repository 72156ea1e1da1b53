// Package server assembles the report engine from its configuration and
// runs the HTTP API.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/txn2/report-engine/pkg/api"
	"github.com/txn2/report-engine/pkg/catalog"
	"github.com/txn2/report-engine/pkg/catalog/sync"
	"github.com/txn2/report-engine/pkg/config"
	"github.com/txn2/report-engine/pkg/database/migrate"
	"github.com/txn2/report-engine/pkg/health"
	rhttp "github.com/txn2/report-engine/pkg/http"
	"github.com/txn2/report-engine/pkg/pool"
	"github.com/txn2/report-engine/pkg/query"
	"github.com/txn2/report-engine/pkg/report"
	"github.com/txn2/report-engine/pkg/service"

	catalogpg "github.com/txn2/report-engine/pkg/catalog/postgres"
	reportpg "github.com/txn2/report-engine/pkg/report/postgres"
)

// Version is set at build time.
var Version = "dev"

// shutdownTimeout bounds graceful shutdown of the HTTP server.
const shutdownTimeout = 15 * time.Second

// Server holds the wired components of a running report engine.
type Server struct {
	cfg       *config.Config
	log       *slog.Logger
	db        *sql.DB
	pool      *pool.Pool
	catalog   catalog.Store
	reports   report.Store
	service   *service.Service
	syncer    *sync.Syncer
	scheduler *sync.Scheduler
	checker   *health.Checker
	httpSrv   *http.Server
}

// New wires a Server from configuration. The metadata database is opened
// and migrated here; source connections open lazily on first use.
func New(cfg *config.Config, log *slog.Logger) (*Server, error) {
	db, err := sql.Open("postgres", cfg.MetadataDSN)
	if err != nil {
		return nil, fmt.Errorf("opening metadata database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging metadata database: %w", err)
	}
	if err := migrate.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrating metadata database: %w", err)
	}

	sources := make(map[string]pool.Source, len(cfg.Sources))
	for alias, src := range cfg.Sources {
		sources[alias] = pool.Source{Driver: src.Driver, DSN: src.DSN}
	}
	connPool := pool.New(sources)

	catalogStore := catalogpg.New(db)
	reportStore := reportpg.New(db)

	executor := &query.Executor{
		Timeout: time.Duration(cfg.QueryTimeoutSeconds) * time.Second,
	}

	syncer := sync.New(catalogStore, connPool)
	svc := service.New(reportStore, catalogStore, connPool, executor, log)

	s := &Server{
		cfg:       cfg,
		log:       log,
		db:        db,
		pool:      connPool,
		catalog:   catalogStore,
		reports:   reportStore,
		service:   svc,
		syncer:    syncer,
		scheduler: sync.NewScheduler(syncer),
		checker:   health.NewChecker(db.PingContext),
	}
	s.httpSrv = &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// routes builds the root handler: health endpoints stay open, everything
// under /api/v1 goes through request logging and API key auth.
func (s *Server) routes() http.Handler {
	var authMiddle func(http.Handler) http.Handler
	if len(s.cfg.Auth.APIKeys) > 0 {
		authMiddle = rhttp.APIKeyMiddleware(s.cfg.Auth.APIKeys)
	}
	apiHandler := api.NewHandler(s.service, s.catalog, s.syncer, authMiddle)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.checker.LivenessHandler())
	mux.HandleFunc("GET /readyz", s.checker.ReadinessHandler())
	mux.Handle("/api/v1/", rhttp.RequestLogger(s.log)(apiHandler))
	return mux
}

// Run starts the server and blocks until ctx is canceled or the listener
// fails. Shutdown is graceful within shutdownTimeout.
func (s *Server) Run(ctx context.Context) error {
	if s.cfg.Sync.OnStart {
		if err := s.syncer.SyncAll(ctx, false); err != nil {
			s.log.Warn("startup metadata sync failed", "error", err)
		}
	}
	if s.cfg.Sync.Schedule != "" {
		if err := s.scheduler.Start(s.cfg.Sync.Schedule); err != nil {
			return fmt.Errorf("starting sync scheduler: %w", err)
		}
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", "addr", s.cfg.Listen, "version", Version)
		errCh <- s.httpSrv.ListenAndServe()
	}()
	s.checker.SetReady()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.checker.SetDraining()
	s.log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return nil
}

// Close releases the metadata connection and all source connections.
func (s *Server) Close() error {
	s.scheduler.Stop()
	return errors.Join(s.pool.Close(), s.db.Close())
}
