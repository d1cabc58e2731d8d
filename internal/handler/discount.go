package handler

import (
	"net/http"

	"github.com/go-faster/errors"

	"github.com/xenking/bytekart/internal/domain/discount"
)

// ValidateCode checks that a code is currently redeemable.
func (h *Handler) ValidateCode(w http.ResponseWriter, r *http.Request) {
	var req validateCodeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	c, err := h.discounts.Lookup(r.Context(), req.Code)
	if err != nil {
		mapDiscountError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, validateCodeResponse{
		Code:          c.Code,
		DiscountType:  c.Kind,
		DiscountValue: money(c.Value),
		RemainingUses: c.Remaining(),
	})
}

// AdminListCodes returns every code, newest first.
func (h *Handler) AdminListCodes(w http.ResponseWriter, r *http.Request) {
	codes, err := h.discounts.List(r.Context())
	if err != nil {
		mapDiscountError(w, r, err)
		return
	}
	out := make([]codeResponse, len(codes))
	for i := range codes {
		out[i] = toCode(&codes[i])
	}
	writeJSON(w, http.StatusOK, out)
}

// AdminCreateCode creates a code.
func (h *Handler) AdminCreateCode(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	c, err := h.discounts.Create(r.Context(), req.create())
	if err != nil {
		mapDiscountError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCode(c))
}

// AdminUpdateCode applies a partial update. The redemption count is not writable.
func (h *Handler) AdminUpdateCode(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusNotFound, "Redeem code not found")
		return
	}
	var req codeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	c, err := h.discounts.Update(r.Context(), id, req.patch())
	if err != nil {
		mapDiscountError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCode(c))
}

// AdminDeleteCode removes a code.
func (h *Handler) AdminDeleteCode(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusNotFound, "Redeem code not found")
		return
	}
	if err := h.discounts.Delete(r.Context(), id); err != nil {
		mapDiscountError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Redeem code deleted successfully"})
}

func mapDiscountError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		invalid    *discount.InvalidCodeError
		validation *discount.ValidationError
	)
	switch {
	case errors.As(err, &invalid):
		if errors.Is(err, discount.ErrCodeExhausted) {
			writeError(w, http.StatusBadRequest, "This code has reached its maximum number of uses")
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid redeem code")
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, validation.Error())
	case errors.Is(err, discount.ErrCodeExists):
		writeError(w, http.StatusConflict, "A code with this name already exists")
	case errors.Is(err, discount.ErrCodeNotFound):
		writeError(w, http.StatusNotFound, "Redeem code not found")
	default:
		writeInternal(w, r, "Internal server error", err)
	}
}
