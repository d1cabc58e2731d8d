//go:build integration

package integration

import (
	"net/http"
	"strconv"
	"strings"
	"testing"
)

const browserOrigin = "https://shop.bytekart.test"

// headerList splits a comma-separated header value into canonical names.
func headerList(v string) map[string]bool {
	out := make(map[string]bool)
	for _, name := range strings.Split(v, ",") {
		if name = strings.TrimSpace(name); name != "" {
			out[http.CanonicalHeaderKey(name)] = true
		}
	}
	return out
}

func TestCreateOrder_RateLimitHeaders(t *testing.T) {
	resp := do(t, http.MethodPost, "/api/orders", customerToken, createOrderRequest{
		ShippingAddress: shippingAddress{Phone: "9876543210"},
	})
	defer resp.Body.Close()

	limit, err := strconv.Atoi(resp.Header.Get("X-RateLimit-Limit"))
	if err != nil {
		t.Fatalf("X-RateLimit-Limit: %v", err)
	}
	remaining, err := strconv.Atoi(resp.Header.Get("X-RateLimit-Remaining"))
	if err != nil {
		t.Fatalf("X-RateLimit-Remaining: %v", err)
	}
	if remaining >= limit {
		t.Errorf("remaining %d not below limit %d after a create", remaining, limit)
	}
	if resp.Header.Get("X-RateLimit-Reset") == "" {
		t.Error("X-RateLimit-Reset header not present")
	}
}

func TestCreateOrder_Preflight(t *testing.T) {
	resp := do(t, http.MethodOptions, "/api/orders", "", nil,
		"Origin", browserOrigin,
		"Access-Control-Request-Method", http.MethodPost,
		"Access-Control-Request-Headers", "authorization, content-type, idempotency-key",
	)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got == "" {
		t.Error("Access-Control-Allow-Origin header not present")
	}
	if !headerList(resp.Header.Get("Access-Control-Allow-Methods"))["Post"] {
		t.Errorf("POST not allowed: %q", resp.Header.Get("Access-Control-Allow-Methods"))
	}
	allowed := headerList(resp.Header.Get("Access-Control-Allow-Headers"))
	for _, h := range []string{"Idempotency-Key", "Authorization", "Content-Type"} {
		if !allowed[h] {
			t.Errorf("%s missing from Access-Control-Allow-Headers %q", h, resp.Header.Get("Access-Control-Allow-Headers"))
		}
	}
}

func TestListOrders_ExposesReplayHeader(t *testing.T) {
	resp := do(t, http.MethodGet, "/api/orders", customerToken, nil, "Origin", browserOrigin)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	exposed := headerList(resp.Header.Get("Access-Control-Expose-Headers"))
	for _, h := range []string{"X-Idempotent-Replay", "X-Request-Id", "Retry-After"} {
		if !exposed[h] {
			t.Errorf("%s missing from Access-Control-Expose-Headers %q", h, resp.Header.Get("Access-Control-Expose-Headers"))
		}
	}
}

func TestCreateOrder_RejectedKeepsRequestID(t *testing.T) {
	resp := do(t, http.MethodPost, "/api/orders", "", createOrderRequest{ShippingAddress: testAddress},
		"X-Request-ID", "checkout-7f3a",
	)
	if got := resp.Header.Get("X-Request-ID"); got != "checkout-7f3a" {
		t.Errorf("X-Request-ID: got %q, want %q", got, "checkout-7f3a")
	}
	e := expectError(t, resp, http.StatusUnauthorized)
	if e.Message == "" {
		t.Error("error message is empty")
	}
}

func TestVerifyPayment_GeneratesRequestID(t *testing.T) {
	resp := do(t, http.MethodPost, "/api/verify/payment", customerToken, completion{})
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header not present")
	}
	expectError(t, resp, http.StatusBadRequest)
}
