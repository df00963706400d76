// Package httpapi is the HTTP surface of the service. Handlers are thin
// adapters between request payloads and the cohort registry; all business
// rules live behind the Registry interface.
package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"clustercard.org/internal/auth"
	"clustercard.org/internal/blob"
	"clustercard.org/internal/cohort"
	"clustercard.org/internal/exchange"
	"clustercard.org/internal/obs"
	"clustercard.org/internal/profile"
)

const tokenTTL = 24 * time.Hour

// ReadyProbe is the readiness check (pings the DB when one is configured).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Deps carries everything the API needs, constructed in main and injected.
type Deps struct {
	Registry cohort.Registry
	Profiles profile.Store
	Accounts auth.Provider
	Tokens   *auth.TokenService
	Blobs    blob.Store
	Exchange *exchange.Coordinator
	Ready    ReadyProbe
	Log      *zap.Logger
	Version  string

	RateBurst      int
	RatePerSec     int
	AllowedOrigins []string
	AdminEmails    []string
}

// API is the HTTP layer.
type API struct {
	mux        chi.Router
	registry   cohort.Registry
	profiles   profile.Store
	accounts   auth.Provider
	tokens     *auth.TokenService
	blobs      blob.Store
	exchange   *exchange.Coordinator
	readyProbe ReadyProbe
	log        *zap.Logger
	version    string
	admins     map[string]struct{}
}

func New(d Deps) *API {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.RateBurst <= 0 {
		d.RateBurst = 20
	}
	if d.RatePerSec <= 0 {
		d.RatePerSec = 10
	}

	a := &API{
		registry:   d.Registry,
		profiles:   d.Profiles,
		accounts:   d.Accounts,
		tokens:     d.Tokens,
		blobs:      d.Blobs,
		exchange:   d.Exchange,
		readyProbe: d.Ready,
		log:        d.Log,
		version:    d.Version,
		admins:     make(map[string]struct{}, len(d.AdminEmails)),
	}
	for _, email := range d.AdminEmails {
		a.admins[auth.NormalizeEmail(email)] = struct{}{}
	}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Logging(a.log))
	r.Use(SecurityHeaders)
	r.Use(CORS(d.AllowedOrigins))
	r.Use(MaxBodyBytes(1 << 20))
	r.Use(RateLimit(d.RateBurst, d.RatePerSec))

	r.Get("/healthz", a.healthz)
	r.Get("/readyz", a.ready)
	r.Method(http.MethodGet, "/metrics", obs.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/cohort-status", a.cohortStatus)
		r.Post("/join-cluster", a.joinCluster)
		r.Post("/leave-cluster", a.leaveCluster)
		r.Get("/cluster-stats", a.clusterStats)
		r.Post("/track-download", a.trackDownload)
		r.Get("/download-contacts", a.downloadContacts)

		r.Post("/waitlist", a.waitlist)
		r.Post("/login", a.login)

		r.Group(func(r chi.Router) {
			r.Use(a.requireToken(false))
			r.Get("/secure-data", a.secureData)
		})

		r.Group(func(r chi.Router) {
			r.Use(a.requireToken(true))
			r.Post("/reset-cluster", a.resetCluster)
			r.Route("/admin/clusters", func(r chi.Router) {
				r.Get("/", a.listClusters)
				r.Post("/", a.createCluster)
				r.Get("/{id}", a.getCluster)
				r.Put("/{id}", a.updateCluster)
				r.Delete("/{id}", a.deleteCluster)
			})
		})
	})

	a.mux = r
	return a
}

// Handler returns the server handler wrapped with metrics.
func (a *API) Handler() http.Handler {
	return obs.Instrument(a.mux)
}

func (a *API) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"status":  "ok",
		"service": "clustercard-api",
		"version": a.version,
	})
}

func (a *API) ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"success": false,
			"status":  "not_ready",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"status":  "ready",
	})
}

func (a *API) isAdminEmail(email string) bool {
	_, ok := a.admins[auth.NormalizeEmail(email)]
	return ok
}
