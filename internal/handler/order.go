package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/bytekart/internal/domain/discount"
	"github.com/xenking/bytekart/internal/domain/order"
	"github.com/xenking/bytekart/internal/domain/payment"
	"github.com/xenking/bytekart/internal/domain/pricing"
)

// CreateOrder prices the cart, opens a gateway intent and stores a PENDING order.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.orders.CreateOrder(r.Context(), caller(r), order.CreateOrderRequest{
		ShippingAddress: req.ShippingAddress,
		ShippingFee:     req.ShippingFee,
		Code:            req.RedeemCode,
	})
	if err != nil {
		mapOrderError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, createOrderResponse{
		ID:       res.Intent.GatewayOrderID,
		Amount:   res.Intent.AmountMinor,
		Currency: res.Intent.Currency,
		Status:   string(res.Intent.Status),
		KeyID:    h.gateway.PublicKey(),
		OrderID:  res.Order.ID,
		Total:    money(res.Order.Total),
		Discount: money(res.Order.Discount),
	})
}

// ListOrders returns the caller's orders, newest first.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.ListOrders(r.Context(), caller(r))
	if err != nil {
		mapOrderError(w, r, err)
		return
	}
	noStore(w)
	writeJSON(w, http.StatusOK, toOrders(orders))
}

// GetOrder returns one of the caller's orders.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusNotFound, "Order not found")
		return
	}
	o, err := h.orders.GetOrder(r.Context(), caller(r), id)
	if err != nil {
		mapOrderError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrder(o))
}

// VerifyPayment confirms a gateway completion for one of the caller's orders.
func (h *Handler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	var req verifyPaymentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	c := payment.Completion{
		GatewayOrderID:   firstNonEmpty(req.GatewayOrderID, req.RazorpayOrderID),
		GatewayPaymentID: firstNonEmpty(req.GatewayPaymentID, req.RazorpayPaymentID),
		Signature:        firstNonEmpty(req.Signature, req.RazorpaySignature),
	}
	if c.GatewayOrderID == "" || c.GatewayPaymentID == "" || c.Signature == "" {
		writeError(w, http.StatusBadRequest, "gateway order id, payment id and signature are required")
		return
	}

	res, err := h.orders.ConfirmPayment(r.Context(), caller(r), c)
	if err != nil {
		mapOrderError(w, r, err)
		return
	}
	resp := verifyPaymentResponse{Status: "success", Message: "Payment verified successfully"}
	if res.Order != nil {
		resp.OrderID = &res.Order.ID
	}
	writeJSON(w, http.StatusOK, resp)
}

// PaymentsConfig returns the public key the checkout widget needs.
func (h *Handler) PaymentsConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"key_id": h.gateway.PublicKey()})
}

// SandboxPay completes a sandbox intent and returns the signed completion the
// client submits to VerifyPayment.
func (h *Handler) SandboxPay(w http.ResponseWriter, r *http.Request) {
	c, err := h.sandbox.Pay(chi.URLParam(r, "gatewayOrderID"))
	if err != nil {
		if errors.Is(err, payment.ErrIntentNotFound) {
			writeError(w, http.StatusNotFound, "Payment intent not found")
			return
		}
		writeInternal(w, r, "Could not complete sandbox payment", err)
		return
	}
	writeJSON(w, http.StatusOK, completionResponse{
		GatewayOrderID:   c.GatewayOrderID,
		GatewayPaymentID: c.GatewayPaymentID,
		Signature:        c.Signature,
	})
}

// AdminListOrders returns every order.
func (h *Handler) AdminListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.AdminListOrders(r.Context())
	if err != nil {
		mapOrderError(w, r, err)
		return
	}
	noStore(w)
	writeJSON(w, http.StatusOK, toOrders(orders))
}

// AdminSetStatus moves an order to the requested status.
func (h *Handler) AdminSetStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusNotFound, "Order not found")
		return
	}
	var req statusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	status, err := order.ParseStatus(req.Status)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	o, err := h.orders.AdminSetStatus(r.Context(), id, status)
	if err != nil {
		mapOrderError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrder(o))
}

// mapOrderError writes the response for an error of the order lifecycle.
// Client errors carry their message; infrastructure errors are logged and
// answered with a generic one.
func mapOrderError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		stateErr      *order.InvalidStateError
		transitionErr *order.TransitionError
		invalidCode   *discount.InvalidCodeError
		persistErr    *order.PersistenceError
		updateErr     *order.UpdateError
	)
	if status, msg, ok := returnErrorStatus(err); ok {
		writeError(w, status, msg)
		return
	}
	switch {
	case errors.Is(err, order.ErrNotFound):
		writeError(w, http.StatusNotFound, "Order not found")
	case errors.Is(err, order.ErrPaymentVerificationFailed):
		writeError(w, http.StatusBadRequest, "Signature verification failed")
	case errors.Is(err, pricing.ErrEmptyCart):
		writeError(w, http.StatusBadRequest, "Cart is empty")
	case errors.Is(err, pricing.ErrNegativeShippingFee),
		errors.Is(err, order.ErrAddressRequired):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &invalidCode):
		if errors.Is(err, discount.ErrCodeExhausted) {
			writeError(w, http.StatusBadRequest, "This code has reached its maximum number of uses")
			return
		}
		if errors.Is(err, discount.ErrCodeChanged) {
			writeError(w, http.StatusConflict, "The redeem code changed during checkout, please retry")
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid or expired redeem code")
	case errors.As(err, &stateErr), errors.As(err, &transitionErr):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, payment.ErrGatewayUnavailable):
		zctx.From(r.Context()).Error("Payment gateway error", zap.Error(err))
		writeError(w, http.StatusBadGateway, "Payment gateway error. Please try again.")
	case errors.Is(err, payment.ErrVerificationService):
		zctx.From(r.Context()).Error("Payment verification service error", zap.Error(err))
		writeError(w, http.StatusBadGateway, "Payment verification service error")
	case errors.As(err, &persistErr):
		writeInternal(w, r, "Could not process order.", err)
	case errors.As(err, &updateErr):
		writeInternal(w, r, "Could not update order.", err)
	default:
		writeInternal(w, r, "Internal server error", err)
	}
}
