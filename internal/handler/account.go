package handler

import (
	"net/http"

	"github.com/go-faster/errors"

	"github.com/xenking/bytekart/internal/domain/account"
	"github.com/xenking/bytekart/internal/domain/cart"
	"github.com/xenking/bytekart/internal/identity"
)

// caller returns the account stored by authenticate.
func caller(r *http.Request) *account.Account {
	acct, _ := identity.AccountFrom(r.Context())
	return acct
}

// Me returns the authenticated account.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toAccount(caller(r)))
}

// ShippingAddress returns the contact details remembered from the last
// checkout, or an empty object.
func (h *Handler) ShippingAddress(w http.ResponseWriter, r *http.Request) {
	noStore(w)
	details, err := h.accounts.GetCheckoutDetails(r.Context(), caller(r).ID)
	switch {
	case errors.Is(err, account.ErrNotFound), err == nil && details == nil:
		writeJSON(w, http.StatusOK, struct{}{})
	case err != nil:
		writeInternal(w, r, "Could not load shipping address", err)
	default:
		writeJSON(w, http.StatusOK, details)
	}
}

// GetCart returns the caller's cart.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	acct := caller(r)
	c, err := h.carts.Get(r.Context(), acct.ID)
	if err != nil {
		writeInternal(w, r, "Could not load cart", err)
		return
	}
	noStore(w)
	writeJSON(w, http.StatusOK, cartResponse{UserID: acct.ID, Items: toItems(c.Items)})
}

// PutCart replaces the caller's cart. The last write wins.
func (h *Handler) PutCart(w http.ResponseWriter, r *http.Request) {
	acct := caller(r)
	var req cartRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.UserID != nil && *req.UserID != acct.ID {
		writeError(w, http.StatusForbidden, "Not authorized to update this cart")
		return
	}
	items := req.items()
	if err := cart.Validate(items); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err := h.carts.Replace(r.Context(), acct.ID, items); err != nil {
		writeInternal(w, r, "Could not update cart", err)
		return
	}
	writeJSON(w, http.StatusOK, cartResponse{UserID: acct.ID, Items: toItems(items)})
}
