package handler

import (
	"net/http"

	"github.com/go-faster/errors"

	"github.com/xenking/bytekart/internal/identity"
)

// authenticate resolves the bearer token and stores the account in the
// request context. Every failure is a 401.
func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		acct, err := h.auth.Authenticate(r.Context(), r.Header.Get("Authorization"))
		if err != nil {
			if !errors.Is(err, identity.ErrUnauthenticated) {
				writeInternal(w, r, "Could not authenticate request", err)
				return
			}
			w.Header().Set("WWW-Authenticate", `Bearer realm="bytekart"`)
			writeError(w, http.StatusUnauthorized, "Could not validate credentials")
			return
		}
		next.ServeHTTP(w, r.WithContext(identity.WithAccount(r.Context(), acct)))
	})
}

func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		acct, ok := identity.AccountFrom(r.Context())
		if !ok || !acct.IsAdmin() {
			writeError(w, http.StatusForbidden, identity.ErrForbidden.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}
