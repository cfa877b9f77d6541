// Package httpapi is the HTTP surface of the reporting service.
package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"fieldreport.org/internal/auth"
	"fieldreport.org/internal/cache"
	"fieldreport.org/internal/crm"
	"fieldreport.org/internal/maintenance"
	"fieldreport.org/internal/obs"
	"fieldreport.org/internal/pricing"
	"fieldreport.org/internal/report"
	"fieldreport.org/internal/sysconfig"
)

// ReadyProbe verifies the remote provider is reachable.
type ReadyProbe func(ctx context.Context) error

// Deps carries everything the API serves from.
type Deps struct {
	Auth        *auth.Service
	Signer      *auth.TokenSigner
	Reports     *report.Store
	Snapshots   *cache.Snapshot
	Prices      *pricing.Service
	CRM         *crm.Store
	Config      *sysconfig.Store
	Maintenance *maintenance.Scheduler
	Ready       ReadyProbe
	Version     string
}

// API is the HTTP layer.
type API struct {
	r    chi.Router
	deps Deps
}

// New builds the router with the full middleware chain.
func New(deps Deps) *API {
	a := &API{deps: deps}

	r := chi.NewRouter()
	r.Use(Logging)
	r.Use(SecurityHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           600,
	}))
	r.Use(func(next http.Handler) http.Handler { return MaxBodyBytes(next, 1<<20) })
	r.Use(func(next http.Handler) http.Handler { return RateLimit(next, 20, 10) })

	r.Get("/healthz", a.healthz)
	r.Get("/readyz", a.readyz)
	r.Get("/v1/info", a.info)
	r.Method(http.MethodGet, "/metrics", obs.Handler())

	r.Post("/v1/auth/login", a.login)
	r.Post("/v1/auth/otp", a.requestOTP)
	r.Post("/v1/auth/reset", a.resetPassword)

	r.Group(func(r chi.Router) {
		r.Use(a.withAuth)
		r.Post("/v1/auth/logout", a.logout)
		r.Post("/v1/auth/refresh", a.refresh)
		r.Post("/v1/auth/password", a.changePassword)

		r.Get("/v1/report/overview", a.overview)
		r.Get("/v1/report/{user}", a.readRange)
		r.Put("/v1/report/{user}", a.writeRange)
		r.Get("/v1/report/{user}/export.csv", a.exportCSV)

		r.Get("/v1/price/search", a.priceSearch)

		r.Post("/v1/crm/entries", a.crmSubmit)
		r.Get("/v1/crm/rollup", a.crmRollup)

		r.Get("/v1/config/options", a.configOptions)
		r.Get("/v1/config/holidays", a.holidays)
		r.Get("/v1/config/next-workday", a.nextWorkday)

		r.Group(func(r chi.Router) {
			r.Use(a.requireRole(auth.RoleAdmin))
			r.Post("/v1/admin/backup", a.manualBackup)
			r.Post("/v1/admin/holidays", a.uploadHolidays)
		})
	})

	a.r = r
	return a
}

// Handler wraps the router with the prometheus instrument.
func (a *API) Handler() http.Handler {
	return obs.Instrument(a.r)
}
