// Package handler exposes the order lifecycle over HTTP.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/xenking/bytekart/internal/domain/account"
	"github.com/xenking/bytekart/internal/domain/cart"
	"github.com/xenking/bytekart/internal/domain/discount"
	"github.com/xenking/bytekart/internal/domain/order"
	"github.com/xenking/bytekart/internal/domain/payment"
	"github.com/xenking/bytekart/internal/idempotency"
)

// OrderService is the order lifecycle as used by the handlers.
type OrderService interface {
	CreateOrder(ctx context.Context, acct *account.Account, req order.CreateOrderRequest) (*order.CreateOrderResult, error)
	ConfirmPayment(ctx context.Context, acct *account.Account, c payment.Completion) (*order.ConfirmResult, error)
	ListOrders(ctx context.Context, acct *account.Account) ([]order.Order, error)
	GetOrder(ctx context.Context, acct *account.Account, id uuid.UUID) (*order.Order, error)
	RequestReturn(ctx context.Context, acct *account.Account, orderID uuid.UUID, reason string) (*order.ReturnRequest, error)

	AdminListOrders(ctx context.Context) ([]order.Order, error)
	AdminSetStatus(ctx context.Context, orderID uuid.UUID, status order.Status) (*order.Order, error)
	AdminListReturns(ctx context.Context) ([]order.ReturnView, error)
	DecideReturn(ctx context.Context, returnID uuid.UUID, decision order.ReturnStatus) (*order.ReturnRequest, error)
}

// DiscountService validates and administers discount codes.
type DiscountService interface {
	Lookup(ctx context.Context, code string) (*discount.Code, error)
	List(ctx context.Context) ([]discount.Code, error)
	Create(ctx context.Context, c discount.Code) (*discount.Code, error)
	Update(ctx context.Context, id uuid.UUID, p discount.Patch) (*discount.Code, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// Authenticator resolves the Authorization header to an account.
type Authenticator interface {
	Authenticate(ctx context.Context, authorization string) (*account.Account, error)
}

// SandboxPayer completes payments in sandbox mode.
type SandboxPayer interface {
	Pay(gatewayOrderID string) (*payment.Completion, error)
}

// Deps are the collaborators of Handler. Sandbox and Idempotency are optional.
type Deps struct {
	Orders    OrderService
	Discounts DiscountService
	Carts     cart.Repository
	Accounts  account.Repository
	Gateway   payment.Gateway
	Auth      Authenticator

	Sandbox        SandboxPayer
	Idempotency    idempotency.Store
	IdempotencyTTL time.Duration
}

// Handler serves the /api routes.
type Handler struct {
	orders    OrderService
	discounts DiscountService
	carts     cart.Repository
	accounts  account.Repository
	gateway   payment.Gateway
	auth      Authenticator
	sandbox   SandboxPayer

	idempotency    idempotency.Store
	idempotencyTTL time.Duration
}

// New creates a Handler.
func New(deps Deps) *Handler {
	return &Handler{
		orders:         deps.Orders,
		discounts:      deps.Discounts,
		carts:          deps.Carts,
		accounts:       deps.Accounts,
		gateway:        deps.Gateway,
		auth:           deps.Auth,
		sandbox:        deps.Sandbox,
		idempotency:    deps.Idempotency,
		idempotencyTTL: deps.IdempotencyTTL,
	}
}

// Mount registers the API routes on r under /api.
func (h *Handler) Mount(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/payments/config", h.PaymentsConfig)

		r.Group(func(r chi.Router) {
			r.Use(h.authenticate)

			r.Get("/user/me", h.Me)
			r.Get("/user/shipping_address", h.ShippingAddress)
			r.Get("/cart", h.GetCart)
			r.Put("/cart", h.PutCart)

			create := http.Handler(http.HandlerFunc(h.CreateOrder))
			if h.idempotency != nil {
				create = idempotency.Middleware(h.idempotency, h.idempotencyTTL)(create)
			}
			r.Method(http.MethodPost, "/orders", create)
			r.Get("/orders", h.ListOrders)
			r.Get("/orders/{id}", h.GetOrder)
			r.Post("/orders/{id}/return", h.RequestReturn)
			r.Post("/verify/payment", h.VerifyPayment)
			r.Post("/redeem-code/validate", h.ValidateCode)
			if h.sandbox != nil {
				r.Post("/payments/sandbox/{gatewayOrderID}/pay", h.SandboxPay)
			}

			r.Route("/admin", func(r chi.Router) {
				r.Use(requireAdmin)

				r.Get("/orders", h.AdminListOrders)
				r.Put("/orders/{id}/status", h.AdminSetStatus)
				r.Get("/returns", h.AdminListReturns)
				r.Put("/returns/{id}/status", h.AdminDecideReturn)
				r.Get("/redeem-codes", h.AdminListCodes)
				r.Post("/redeem-codes", h.AdminCreateCode)
				r.Put("/redeem-codes/{id}", h.AdminUpdateCode)
				r.Delete("/redeem-codes/{id}", h.AdminDeleteCode)
			})
		})
	})
}

// pathID parses a UUID path parameter. Malformed ids are reported as missing.
func pathID(r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	return id, err == nil
}
