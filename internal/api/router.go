/**
 * @description
 * HTTP router setup for the billing service using go-chi/chi.
 */
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/golang-jwt/jwt/v5"

	"github.com/dinewise/billing-service/internal/domain"
)

// RouterConfig carries the authentication settings for NewRouter.
type RouterConfig struct {
	KeyFunc     jwt.Keyfunc
	Auth        AuthOptions
	InternalKey string
}

// NewRouter creates a new Chi router and registers billing routes.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", "X-Internal-API-Key"},
		ExposedHeaders:   []string{"Link", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Billing service is healthy"))
	})

	// The gateway calls these without credentials; the signature is the authentication.
	r.Route("/payments/vnpay", func(r chi.Router) {
		r.Get("/return", h.handleVNPayReturn)
		r.Get("/ipn", h.handleVNPayIPN)
	})

	r.Route("/internal/billing", func(r chi.Router) {
		r.Use(InternalAuthMiddleware(cfg.InternalKey))
		r.Post("/generate", h.handleGenerateBills)
	})

	r.Group(func(r chi.Router) {
		r.Use(BearerAuthMiddleware(cfg.KeyFunc, cfg.Auth))

		r.Route("/billing", func(r chi.Router) {
			r.Use(RequireRole(domain.RoleStaff))
			r.Get("/bills", h.handleListBills)
			r.Get("/summary", h.handleGetSummary)
			r.Post("/bills/generate", h.handleIssueOwnBill)
			r.Post("/bills/{id}/pay", h.handlePayBill)
			r.Get("/revenue", h.handleStaffRevenue)
		})

		r.Route("/admin/billing", func(r chi.Router) {
			r.Use(RequireRole(domain.RoleAdmin))
			r.Get("/bills", h.handleListBillsForReview)
			r.Post("/staff/{staffID}/bills", h.handleIssueStaffBill)
			r.Post("/bills/{id}/accept", h.handleAcceptBill)
			r.Post("/bills/{id}/reject", h.handleRejectBill)
			r.Get("/revenue", h.handlePlatformRevenue)
		})

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", h.handlePlaceOrder)
			r.Get("/", h.handleListOrders)
			r.Post("/{id}/pay", h.handlePayOrder)
			r.Post("/{id}/cancel", h.handleCancelOrder)
			r.With(RequireRole(domain.RoleStaff)).Post("/{id}/confirm", h.handleConfirmOrder)
		})

		r.Get("/premium/status", h.handlePremiumStatus)
		r.Post("/premium/purchase", h.handlePremiumPurchase)
	})

	return r
}
