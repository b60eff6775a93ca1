// Package app wires the Carelink server runtime: config, logging, metrics,
// HTTP routes, the realtime gateway, and the background sweepers.
//
// It is intentionally small and deterministic to keep CI gates strict and behavior predictable.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"carelink/cmd/identity"
	authapi "carelink/cmd/internal/auth/api"
	authtoken "carelink/cmd/internal/auth/token"
	"carelink/cmd/internal/notify"
	"carelink/cmd/internal/realtime"

	"github.com/jackc/pgx/v5/pgxpool"
)

// App is the Carelink server runtime. It owns the HTTP server wiring, the
// shared pgx pool (when configured), and the sweeper lifecycles.
type App struct {
	cfg Config
	log Logger

	dbPool    *pgxpool.Pool
	dbEnabled bool

	metrics *MetricsCollector

	identities identity.Store
	tokens     *authtoken.Service
	auth       *authapi.Handler

	presence *realtime.Presence
	ws       *realtime.WSGateway

	notifier      *notify.Service
	notifyHandler *notify.Handler

	tokenSweeper  *authtoken.Sweeper
	notifySweeper *notify.Sweeper
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel)
	}

	if err := ValidateSecurityConfig(cfg); err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, log: log}

	if cfg.MetricsEnabled {
		a.metrics = NewMetricsCollector()
	}

	if err := a.wireStores(context.Background()); err != nil {
		return nil, err
	}
	if err := a.wireAuth(); err != nil {
		a.closePool()
		return nil, err
	}
	a.wireRealtime()
	a.wireNotify()

	return a, nil
}

// wireStores decides between Postgres-backed persistence and the in-memory
// dev stores.
func (a *App) wireStores(ctx context.Context) error {
	if a.cfg.DatabaseURL == "" {
		a.log.Info("db.disabled.inmemory_store")
		a.identities = identity.NewMemoryStore()
		return nil
	}

	pool, err := NewDBPool(ctx, a.cfg)
	if err != nil {
		return err
	}
	a.dbPool = pool
	a.dbEnabled = true
	a.log.Info("db.enabled.postgres_store")

	// Ownership model: app owns the pool lifecycle; stores never close it.
	ids, err := identity.NewPostgresStore(pool)
	if err != nil {
		a.closePool()
		return err
	}
	a.identities = ids
	return nil
}

func (a *App) wireAuth() error {
	tokenCfg, err := authtoken.LoadConfigFromEnv()
	if err != nil {
		return err
	}

	mgr, err := authtoken.NewPasetoV4PublicManager(tokenCfg)
	if err != nil {
		return err
	}

	var credStore authtoken.CredentialStore
	if a.dbEnabled {
		credStore = authtoken.NewPostgresStore(a.dbPool)
	} else {
		credStore = authtoken.NewMemoryStore()
	}

	a.tokens = authtoken.NewService(tokenCfg, credStore, mgr, a.log)
	a.tokens.SetIdentityGate(a.identities)
	if a.metrics != nil {
		a.tokens.SetMetrics(a.metrics)
	}
	a.tokenSweeper = authtoken.NewSweeper(a.tokens, tokenCfg.CleanupInterval, a.log)

	authCfg := authapi.LoadConfigFromEnv()
	handler, err := authapi.NewHandler(a.log, authCfg, a.identities, a.tokens)
	if err != nil {
		return err
	}
	a.auth = handler
	return nil
}

func (a *App) wireRealtime() {
	a.presence = realtime.NewPresence()

	var metrics realtime.Metrics
	if a.metrics != nil {
		metrics = a.metrics
	}
	a.ws = realtime.NewWSGateway(a.log, a.tokens, a.presence, metrics)
}

func (a *App) wireNotify() {
	var store notify.Store
	if a.dbEnabled {
		store = notify.NewPostgresStore(a.dbPool)
	} else {
		store = notify.NewMemoryStore()
	}

	var metrics notify.Metrics
	if a.metrics != nil {
		metrics = a.metrics
	}

	// Domain records are keyed by identity id across all roles today, so
	// every role shares the identity-backed resolver.
	resolvers := notify.ResolverSet{}
	for _, role := range identity.Roles() {
		resolvers[role.String()] = notify.IdentityResolver(a.identities)
	}

	hooks := []notify.Hook{
		notify.NewRealtimePushHook(a.presence, metrics, a.log),
	}

	a.notifier = notify.NewService(store, resolvers, hooks, a.log)
	a.notifyHandler = notify.NewHandler(a.log, a.notifier, a.tokens)
	a.notifySweeper = notify.NewSweeper(a.notifier, a.cfg.NotifySweepInterval, a.log)
}

// Notifier exposes the notification engine for embedding callers (domain
// services dispatch through it).
func (a *App) Notifier() *notify.Service { return a.notifier }

// Run starts the HTTP server and background sweepers, blocking until context
// cancellation or a fatal server error.
func (a *App) Run(ctx context.Context) error {
	sweepCtx, stopSweepers := context.WithCancel(ctx)
	defer stopSweepers()
	go a.tokenSweeper.Run(sweepCtx)
	go a.notifySweeper.Run(sweepCtx)

	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.ws, a.auth, a.notifyHandler, a.metrics)

	var handler http.Handler = mux
	handler = WithCORS(handler, a.cfg, a.log)
	handler = WithSecurityHeaders(handler)
	handler = WithRequestLogging(handler, a.log)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.dbEnabled)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	a.auth.Close()
	a.closePool()

	a.log.Info("server.stopped")
	return nil
}

func (a *App) closePool() {
	if a.dbPool != nil {
		a.dbPool.Close()
		a.dbPool = nil
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
