package handler

import (
	"net/http"

	"github.com/go-faster/errors"

	"github.com/xenking/bytekart/internal/domain/order"
)

// RequestReturn opens a return for one of the caller's delivered orders.
func (h *Handler) RequestReturn(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusNotFound, "Order not found")
		return
	}
	var req returnRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ret, err := h.orders.RequestReturn(r.Context(), caller(r), id, req.Reason)
	if err != nil {
		mapOrderError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toReturn(ret))
}

// AdminListReturns returns every return request with customer and order details.
func (h *Handler) AdminListReturns(w http.ResponseWriter, r *http.Request) {
	views, err := h.orders.AdminListReturns(r.Context())
	if err != nil {
		mapOrderError(w, r, err)
		return
	}
	noStore(w)
	writeJSON(w, http.StatusOK, toReturnViews(views))
}

// AdminDecideReturn approves or rejects a pending return request.
func (h *Handler) AdminDecideReturn(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusNotFound, "Return request not found")
		return
	}
	var req statusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	decision, err := order.ParseReturnStatus(req.Status)
	if err != nil {
		writeError(w, http.StatusBadRequest, order.ErrInvalidDecision.Error())
		return
	}
	ret, err := h.orders.DecideReturn(r.Context(), id, decision)
	if err != nil {
		mapOrderError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReturn(ret))
}

// returnErrorStatus maps errors of the return sub-flow.
func returnErrorStatus(err error) (int, string, bool) {
	switch {
	case errors.Is(err, order.ErrReturnNotFound):
		return http.StatusNotFound, "Return request not found", true
	case errors.Is(err, order.ErrDuplicateRequest):
		return http.StatusConflict, "A return request for this order already exists", true
	case errors.Is(err, order.ErrWindowExpired):
		return http.StatusBadRequest, "The return window for this order has expired", true
	case errors.Is(err, order.ErrReasonRequired),
		errors.Is(err, order.ErrInvalidDecision):
		return http.StatusBadRequest, err.Error(), true
	case errors.Is(err, order.ErrReturnDecided):
		return http.StatusConflict, err.Error(), true
	}
	return 0, "", false
}
