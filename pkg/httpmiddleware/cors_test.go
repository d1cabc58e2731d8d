package httpmiddleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func corsRequest(h http.Handler, method, origin string, preflight bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/api/orders", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	if preflight {
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		req.Header.Set("Access-Control-Request-Headers", "Idempotency-Key")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestCORS_AllowList(t *testing.T) {
	h := CORS(CORSConfig{
		AllowOrigins:  []string{"https://shop.bytekart.in"},
		ExposeHeaders: []string{"X-Idempotent-Replay", "X-Request-ID"},
		MaxAge:        600,
	})(okHandler())

	w := corsRequest(h, http.MethodOptions, "https://SHOP.bytekart.in", true)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://shop.bytekart.in", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "Idempotency-Key", w.Header().Get("Access-Control-Allow-Headers"))
	assert.Equal(t, "600", w.Header().Get("Access-Control-Max-Age"))
	assert.Contains(t, w.Header().Values("Vary"), "Access-Control-Request-Method")

	w = corsRequest(h, http.MethodOptions, "https://evil.example", true)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	w = corsRequest(h, http.MethodGet, "https://shop.bytekart.in", false)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "X-Idempotent-Replay, X-Request-ID", w.Header().Get("Access-Control-Expose-Headers"))
	assert.Contains(t, w.Header().Values("Vary"), "Origin")

	w = corsRequest(h, http.MethodGet, "", false)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_Wildcard(t *testing.T) {
	h := CORS(CORSConfig{AllowHeaders: []string{"Authorization", "Content-Type"}})(okHandler())
	w := corsRequest(h, http.MethodOptions, "https://any.example", true)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "Authorization, Content-Type", w.Header().Get("Access-Control-Allow-Headers"))
	assert.Equal(t, "GET, POST, PUT, DELETE, OPTIONS", w.Header().Get("Access-Control-Allow-Methods"))
}

func TestCORS_CredentialsEchoOrigin(t *testing.T) {
	h := CORS(CORSConfig{AllowCredentials: true})(okHandler())
	w := corsRequest(h, http.MethodGet, "https://admin.bytekart.in", false)
	assert.Equal(t, "https://admin.bytekart.in", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
	assert.Contains(t, w.Header().Values("Vary"), "Origin")
}
