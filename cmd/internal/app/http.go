package app

import (
	"net/http"
	"time"

	authapi "carelink/cmd/internal/auth/api"
	"carelink/cmd/internal/notify"
	"carelink/cmd/internal/realtime"

	"github.com/jackc/pgx/v5/pgxpool"
)

func registerHTTP(
	mux *http.ServeMux,
	log Logger,
	cfg Config,
	dbPool *pgxpool.Pool,
	dbEnabled bool,
	ws *realtime.WSGateway,
	auth *authapi.Handler,
	notifications *notify.Handler,
	metrics *MetricsCollector,
) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if cfg.ReadinessRequireDB && !dbEnabled {
			http.Error(w, "db not configured", http.StatusServiceUnavailable)
			return
		}

		if dbEnabled && dbPool != nil {
			if err := PingDB(r.Context(), dbPool, 2*time.Second); err != nil {
				http.Error(w, "db not ready", http.StatusServiceUnavailable)
				log.Info("readyz.db.not_ready", "err", err)
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	if auth != nil {
		auth.Register(mux)
	}
	if notifications != nil {
		notifications.Register(mux)
	}
	if metrics != nil {
		mux.Handle("/metrics", metrics.Handler())
	}

	mux.HandleFunc("/realtime", ws.HandleWS)
}
