package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/yieldledger/backend/internal/metrics"
	mW "github.com/yieldledger/backend/internal/middleware"
	"github.com/yieldledger/backend/internal/services"
)

// Routes bundles everything the HTTP surface is built from.
type Routes struct {
	Accounts *AccountHandler
	Catalog  *CatalogHandler
	Funding  *FundingHandler
	Admin    *AdminHandler
	Cron     *CronHandler

	Auth        func(http.Handler) http.Handler
	Policy      services.AuthorizationPolicy
	RateLimiter *mW.RateLimiter
	CronKey     string
	CronTimeout time.Duration // defaults to defaultCronTimeout
	CORSOrigins []string
}

const (
	requestTimeout     = 60 * time.Second
	defaultCronTimeout = 5 * time.Minute
)

func NewRouter(rt Routes) chi.Router {
	r := chi.NewRouter()

	r.Use(mW.SecurityHeaders)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.InstrumentHandler)

	origins := rt.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"https://*", "http://*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})
	r.Handle("/metrics", metrics.Handler())

	throttle := func(next http.Handler) http.Handler { return next }
	if rt.RateLimiter != nil {
		throttle = rt.RateLimiter.Handler
	}

	cronTimeout := rt.CronTimeout
	if cronTimeout <= 0 {
		cronTimeout = defaultCronTimeout
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Batch jobs outlive the interactive request timeout.
		r.Route("/cron", func(r chi.Router) {
			r.Use(middleware.Timeout(cronTimeout))
			r.Use(mW.RequireCronKey(rt.CronKey))
			r.Post("/daily-accrual", rt.Cron.DailyAccrual)
			r.Post("/maturity", rt.Cron.Maturity)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(requestTimeout))
			r.Get("/catalog/packages", rt.Catalog.Packages)
			r.Get("/catalog/tiers", rt.Catalog.Tiers)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(requestTimeout))
			r.Use(rt.Auth)

			r.Post("/accounts", rt.Accounts.Create)
			r.Get("/accounts/me", rt.Accounts.Me)
			r.Get("/balance", rt.Accounts.Balance)
			r.Get("/deposits", rt.Funding.ListDeposits)
			r.Get("/withdrawals", rt.Funding.ListWithdrawals)
			r.Get("/contributor/eligibility", rt.Funding.ContributorEligibility)

			// Money-moving routes.
			r.Group(func(r chi.Router) {
				r.Use(throttle)
				r.Post("/deposits", rt.Funding.SubmitDeposit)
				r.Post("/withdrawals", rt.Funding.RequestWithdrawal)
				r.Post("/investments", rt.Funding.Purchase)
				r.Post("/contributor/applications", rt.Funding.ApplyContributor)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(mW.RequireAdmin(rt.Policy))

				r.Post("/deposits/{id}/approve", rt.Admin.ApproveDeposit)
				r.Post("/deposits/{id}/reject", rt.Admin.RejectDeposit)
				r.Post("/withdrawals/{id}/approve", rt.Admin.ApproveWithdrawal)
				r.Post("/withdrawals/{id}/reject", rt.Admin.RejectWithdrawal)
				r.Post("/contributor/{id}/approve", rt.Admin.ApproveContributor)
				r.Post("/contributor/{id}/reject", rt.Admin.RejectContributor)

				r.Put("/investments/{id}/status", rt.Admin.SetInvestmentStatus)
				r.Put("/investments/{id}/pricing", rt.Admin.UpdateInvestmentPricing)
				r.Delete("/investments/{id}", rt.Admin.DeleteInvestment)

				r.Put("/users/{id}/disabled", rt.Admin.SetUserDisabled)
				r.Post("/users/{id}/sync", rt.Admin.SyncUser)
			})
		})
	})

	return r
}
