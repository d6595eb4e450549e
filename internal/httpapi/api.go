// Package httpapi is the HTTP surface of the tenure service.
package httpapi

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"

	"esusu.org/internal/obs"
	"esusu.org/internal/tenure"
)

// ReadyProbe checks readiness (for example a DB ping).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API routes requests to the tenure service.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	svc        *tenure.Service
	log        *slog.Logger
	version    string

	rateBurst  int
	ratePerSec int
}

func New(rp ReadyProbe, version string, svc *tenure.Service, log *slog.Logger) *API {
	if log == nil {
		log = slog.Default()
	}
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		svc:        svc,
		log:        log,
		version:    version,
		rateBurst:  40,
		ratePerSec: 20,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// auth
	a.mux.HandleFunc("/v1/auth/token", a.handleAuthToken)

	// groups and everything below them
	a.mux.HandleFunc("/v1/groups", a.handleGroupsCollection)
	a.mux.HandleFunc("/v1/groups/", a.handleGroupResource)
	a.mux.HandleFunc("/v1/watches/", a.handleWatchResource)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler assembles the middleware chain around the mux.
func (a *API) Handler() http.Handler {
	h := http.Handler(a.mux)
	h = a.withAuth(h)
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = RequestID(h)
	h = Logging(h, a.log)
	h = SecurityHeaders(h)
	return obs.Instrument(h)
}
