// Package handler exposes the storefront fulfillment API over HTTP.
//
// Shopper routes trust the X-User-ID header set by the identity proxy in
// front of the service. Admin routes require an API key. The payment
// webhook authenticates by signature only.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-fulfillment/internal/domain/auth"
	"github.com/xenking/storefront-fulfillment/internal/domain/cart"
	"github.com/xenking/storefront-fulfillment/internal/domain/compensation"
	"github.com/xenking/storefront-fulfillment/internal/domain/order"
	"github.com/xenking/storefront-fulfillment/internal/domain/payment"
	"github.com/xenking/storefront-fulfillment/pkg/httpmiddleware"
)

// CartService is implemented by *cart.Service.
type CartService interface {
	Get(ctx context.Context, userID int64, country, currency string) (*cart.View, error)
	AddItem(ctx context.Context, userID int64, req cart.AddRequest) (*cart.Cart, error)
	UpdateQuantity(ctx context.Context, userID, itemID int64, qty int) (*cart.Cart, error)
	RemoveItem(ctx context.Context, userID, itemID int64) (*cart.Cart, error)
	Clear(ctx context.Context, userID int64) error
}

// OrderService is implemented by *order.Service.
type OrderService interface {
	Create(ctx context.Context, req order.CreateRequest) (*order.Order, error)
	GetByReference(ctx context.Context, userID int64, reference string) (*order.Order, error)
	List(ctx context.Context, userID int64) ([]order.Order, error)
	Cancel(ctx context.Context, userID, orderID int64) (*order.Order, error)
}

// PaymentService is implemented by *payment.Reconciler.
type PaymentService interface {
	Initialize(ctx context.Context, userID, orderID int64) (*payment.Authorization, error)
	Verify(ctx context.Context, userID int64, reference string) (*order.Order, error)
	HandleEvent(ctx context.Context, ev payment.Event) (payment.Outcome, error)
	QuoteDeliveryFee(ctx context.Context, orderID int64, fee decimal.Decimal) (*order.Order, error)
	InitializeDeliveryFee(ctx context.Context, userID, orderID int64) (*payment.Authorization, error)
	VerifyDeliveryFee(ctx context.Context, userID int64, reference string) (*order.Order, error)
}

// Sweeper is implemented by *compensation.Scheduler.
type Sweeper interface {
	SweepLocked(ctx context.Context) (compensation.Report, error)
}

// Authenticator is implemented by *auth.Authenticator.
type Authenticator interface {
	Authenticate(ctx context.Context, key string) (*auth.APIKey, error)
}

// Config holds non-dependency configuration.
type Config struct {
	// WebhookSecret signs inbound payment webhooks.
	WebhookSecret []byte
	// SignatureHeader carries the webhook signature.
	SignatureHeader string
	// MaxBodyBytes bounds request bodies. Defaults to 1 MiB.
	MaxBodyBytes int64
}

// Deps holds the services behind the routes.
type Deps struct {
	Carts    CartService
	Orders   OrderService
	Payments PaymentService
	Sweeper  Sweeper
	Admins   Authenticator
}

// Handler serves the API routes.
type Handler struct {
	carts    CartService
	orders   OrderService
	payments PaymentService
	sweeper  Sweeper
	admins   Authenticator

	webhookSecret   []byte
	signatureHeader string
	maxBody         int64
	now             func() time.Time
}

// New creates a Handler.
func New(cfg Config, d Deps) *Handler {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.SignatureHeader == "" {
		cfg.SignatureHeader = "X-Paystack-Signature"
	}
	return &Handler{
		carts:           d.Carts,
		orders:          d.Orders,
		payments:        d.Payments,
		sweeper:         d.Sweeper,
		admins:          d.Admins,
		webhookSecret:   cfg.WebhookSecret,
		signatureHeader: cfg.SignatureHeader,
		maxBody:         cfg.MaxBodyBytes,
		now:             time.Now,
	}
}

// Router returns the API routes mounted on a chi router.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(httpmiddleware.LogRequests())
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeProblem(w, r, http.StatusNotFound, "not_found", "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeProblem(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	r.Post("/webhooks/payment", h.paymentWebhook)

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(h.requireUser)

			r.Get("/cart", h.getCart)
			r.Delete("/cart", h.clearCart)
			r.Post("/cart/items", h.addCartItem)
			r.Patch("/cart/items/{itemID}", h.updateCartItem)
			r.Delete("/cart/items/{itemID}", h.removeCartItem)

			r.Post("/orders", h.createOrder)
			r.Get("/orders", h.listOrders)
			r.Get("/orders/{reference}", h.getOrder)
			r.Post("/orders/{orderID}/cancel", h.cancelOrder)

			r.Post("/orders/{orderID}/payment", h.initializePayment)
			r.Get("/payments/verify/{reference}", h.verifyPayment)
			r.Post("/orders/{orderID}/delivery-fee/payment", h.initializeDeliveryFee)
			r.Get("/delivery-fee/verify/{reference}", h.verifyDeliveryFee)
		})

		r.Route("/admin", func(r chi.Router) {
			r.With(h.requireAdmin(ScopeDeliveryFee)).Put("/orders/{orderID}/delivery-fee", h.quoteDeliveryFee)
			r.With(h.requireAdmin(ScopeCompensation)).Post("/compensation/sweep", h.runSweep)
		})
	})
	return r
}
