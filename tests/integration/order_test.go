//go:build integration

package integration

import (
	"fmt"
	"net/http"
	"regexp"
	"testing"
)

var uuidPattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

var testAddress = shippingAddress{
	Name:    "Asha Rao",
	Phone:   "9876543210",
	Address: "12 MG Road",
	City:    "Bengaluru",
	Pincode: "560001",
}

// fillCart replaces the customer's cart with two keyboards at 1000.00.
func fillCart(t *testing.T) {
	t.Helper()

	resp := do(t, http.MethodPut, "/api/cart", customerToken, cartBody{
		Items: []item{{ProductRef: "kb-1", Name: "Keyboard", Price: "1000", Quantity: 2}},
	})
	expect[cartBody](t, resp, http.StatusOK)
}

func createOrder(t *testing.T, code string) createOrderResponse {
	t.Helper()

	resp := do(t, http.MethodPost, "/api/orders", customerToken, createOrderRequest{
		ShippingAddress: testAddress,
		ShippingFee:     "50",
		RedeemCode:      code,
	})
	return expect[createOrderResponse](t, resp, http.StatusCreated)
}

// pay completes the sandbox intent and verifies the completion.
func pay(t *testing.T, gatewayOrderID string) (completion, verifyResponse) {
	t.Helper()

	resp := do(t, http.MethodPost, "/api/payments/sandbox/"+gatewayOrderID+"/pay", customerToken, nil)
	c := expect[completion](t, resp, http.StatusOK)
	if c.GatewayOrderID != gatewayOrderID {
		t.Fatalf("completion gateway order: got %q, want %q", c.GatewayOrderID, gatewayOrderID)
	}

	resp = do(t, http.MethodPost, "/api/verify/payment", customerToken, c)
	return c, expect[verifyResponse](t, resp, http.StatusOK)
}

func setStatus(t *testing.T, orderID, status string) orderResponse {
	t.Helper()

	resp := do(t, http.MethodPut, "/api/admin/orders/"+orderID+"/status", adminToken, map[string]string{"status": status})
	return expect[orderResponse](t, resp, http.StatusOK)
}

func TestCreateOrder_NoAuth(t *testing.T) {
	resp := do(t, http.MethodPost, "/api/orders", "", createOrderRequest{ShippingAddress: testAddress})
	expectError(t, resp, http.StatusUnauthorized)
}

func TestCreateOrder_InvalidToken(t *testing.T) {
	resp := do(t, http.MethodPost, "/api/orders", "not-a-jwt", createOrderRequest{ShippingAddress: testAddress})
	expectError(t, resp, http.StatusUnauthorized)
}

func TestCreateOrder_MissingAddress(t *testing.T) {
	fillCart(t)

	resp := do(t, http.MethodPost, "/api/orders", customerToken, createOrderRequest{
		ShippingAddress: shippingAddress{Phone: "9876543210"},
		ShippingFee:     "50",
	})
	expectError(t, resp, http.StatusBadRequest)
}

func TestCreateOrder_UnknownCode(t *testing.T) {
	fillCart(t)

	resp := do(t, http.MethodPost, "/api/orders", customerToken, createOrderRequest{
		ShippingAddress: testAddress,
		ShippingFee:     "50",
		RedeemCode:      "NOPE-NOT-A-CODE",
	})
	e := expectError(t, resp, http.StatusBadRequest)
	if e.Message != "Invalid or expired redeem code" {
		t.Errorf("message: got %q", e.Message)
	}
}

func TestCreateOrder_InactiveCode(t *testing.T) {
	fillCart(t)

	resp := do(t, http.MethodPost, "/api/orders", customerToken, createOrderRequest{
		ShippingAddress: testAddress,
		ShippingFee:     "50",
		RedeemCode:      "RETIRED",
	})
	expectError(t, resp, http.StatusBadRequest)
}

func TestCreateOrder_Pricing(t *testing.T) {
	fillCart(t)

	res := createOrder(t, "welcome10")
	if !uuidPattern.MatchString(res.OrderID) {
		t.Errorf("order id: %q is not a UUID", res.OrderID)
	}
	if res.ID == "" {
		t.Error("gateway order id is empty")
	}
	// 2 x 1000.00 - 10% + 50.00 shipping.
	if res.Total != "1850.00" {
		t.Errorf("total: got %s, want 1850.00", res.Total)
	}
	if res.Discount != "200.00" {
		t.Errorf("discount: got %s, want 200.00", res.Discount)
	}
	if res.Amount != 185000 {
		t.Errorf("amount: got %d, want 185000 minor units", res.Amount)
	}
	if res.Currency != "INR" {
		t.Errorf("currency: got %q, want INR", res.Currency)
	}

	resp := do(t, http.MethodGet, "/api/orders/"+res.OrderID, customerToken, nil)
	o := expect[orderResponse](t, resp, http.StatusOK)
	if o.Status != "PENDING" {
		t.Errorf("status: got %q, want PENDING", o.Status)
	}
	if o.RedeemCode != "WELCOME10" {
		t.Errorf("redeem code: got %q, want WELCOME10", o.RedeemCode)
	}
	if o.Subtotal != "2000.00" {
		t.Errorf("subtotal: got %s, want 2000.00", o.Subtotal)
	}
}

func TestCreateOrder_IdempotencyKey(t *testing.T) {
	fillCart(t)

	body := createOrderRequest{ShippingAddress: testAddress, ShippingFee: "50"}
	first := do(t, http.MethodPost, "/api/orders", customerToken, body, "Idempotency-Key", "it-order-1")
	a := expect[createOrderResponse](t, first, http.StatusCreated)

	second := do(t, http.MethodPost, "/api/orders", customerToken, body, "Idempotency-Key", "it-order-1")
	if got := second.Header.Get("X-Idempotent-Replay"); got != "true" {
		t.Errorf("X-Idempotent-Replay: got %q, want true", got)
	}
	b := expect[createOrderResponse](t, second, http.StatusCreated)
	if a.OrderID != b.OrderID {
		t.Errorf("replayed order id: got %s, want %s", b.OrderID, a.OrderID)
	}

	body.ShippingFee = "60"
	mismatch := do(t, http.MethodPost, "/api/orders", customerToken, body, "Idempotency-Key", "it-order-1")
	expectError(t, mismatch, http.StatusUnprocessableEntity)
}

func TestVerifyPayment_BadSignature(t *testing.T) {
	fillCart(t)
	res := createOrder(t, "")

	resp := do(t, http.MethodPost, "/api/verify/payment", customerToken, map[string]string{
		"razorpay_order_id":   res.ID,
		"razorpay_payment_id": "pay_forged",
		"razorpay_signature":  "deadbeef",
	})
	e := expectError(t, resp, http.StatusBadRequest)
	if e.Message != "Signature verification failed" {
		t.Errorf("message: got %q", e.Message)
	}

	resp = do(t, http.MethodGet, "/api/orders/"+res.OrderID, customerToken, nil)
	if o := expect[orderResponse](t, resp, http.StatusOK); o.Status != "PENDING" {
		t.Errorf("status after forged payment: got %q, want PENDING", o.Status)
	}
}

func TestOrderLifecycle(t *testing.T) {
	fillCart(t)
	res := createOrder(t, "")

	paid, v := pay(t, res.ID)
	if v.Status != "success" || v.OrderID != res.OrderID {
		t.Fatalf("verify: got %+v", v)
	}

	resp := do(t, http.MethodGet, "/api/orders/"+res.OrderID, customerToken, nil)
	o := expect[orderResponse](t, resp, http.StatusOK)
	if o.Status != "PAID" {
		t.Fatalf("status: got %q, want PAID", o.Status)
	}
	if o.GatewayPaymentID == "" {
		t.Error("gateway payment id not recorded")
	}

	// The cart is cleared once the order is paid.
	resp = do(t, http.MethodGet, "/api/cart", customerToken, nil)
	if c := expect[cartBody](t, resp, http.StatusOK); len(c.Items) != 0 {
		t.Errorf("cart after payment: got %d items, want 0", len(c.Items))
	}

	// Verifying the same completion again is idempotent.
	resp = do(t, http.MethodPost, "/api/verify/payment", customerToken, paid)
	if again := expect[verifyResponse](t, resp, http.StatusOK); again.OrderID != res.OrderID {
		t.Errorf("replayed verify: got order %q", again.OrderID)
	}

	// A second, different payment for a paid order is a conflict.
	resp = do(t, http.MethodPost, "/api/payments/sandbox/"+res.ID+"/pay", customerToken, nil)
	other := expect[completion](t, resp, http.StatusOK)
	resp = do(t, http.MethodPost, "/api/verify/payment", customerToken, other)
	expectError(t, resp, http.StatusConflict)

	if o := setStatus(t, res.OrderID, "SHIPPED"); o.Status != "SHIPPED" {
		t.Fatalf("status: got %q, want SHIPPED", o.Status)
	}
	if o := setStatus(t, res.OrderID, "DELIVERED"); o.Status != "DELIVERED" {
		t.Fatalf("status: got %q, want DELIVERED", o.Status)
	}

	resp = do(t, http.MethodPost, "/api/orders/"+res.OrderID+"/return", customerToken, map[string]string{"reason": "Keys stick"})
	ret := expect[returnResponse](t, resp, http.StatusCreated)
	if ret.Status != "PENDING" || ret.OrderID != res.OrderID {
		t.Fatalf("return: got %+v", ret)
	}

	resp = do(t, http.MethodGet, "/api/orders/"+res.OrderID, customerToken, nil)
	if o := expect[orderResponse](t, resp, http.StatusOK); o.Status != "RETURN_REQUESTED" {
		t.Fatalf("status: got %q, want RETURN_REQUESTED", o.Status)
	}

	// A second return for the same order is refused.
	resp = do(t, http.MethodPost, "/api/orders/"+res.OrderID+"/return", customerToken, map[string]string{"reason": "again"})
	if resp.StatusCode < 400 {
		t.Errorf("second return: got %d, want an error", resp.StatusCode)
	}
	resp.Body.Close()

	resp = do(t, http.MethodGet, "/api/admin/returns", adminToken, nil)
	returns := expect[[]returnResponse](t, resp, http.StatusOK)
	var found bool
	for _, r := range returns {
		found = found || r.ID == ret.ID
	}
	if !found {
		t.Fatalf("return %s not listed for admin", ret.ID)
	}

	resp = do(t, http.MethodPut, "/api/admin/returns/"+ret.ID+"/status", adminToken, map[string]string{"status": "APPROVED"})
	if decided := expect[returnResponse](t, resp, http.StatusOK); decided.Status != "APPROVED" {
		t.Fatalf("decision: got %q, want APPROVED", decided.Status)
	}

	resp = do(t, http.MethodGet, "/api/orders/"+res.OrderID, customerToken, nil)
	if o := expect[orderResponse](t, resp, http.StatusOK); o.Status != "RETURNED" {
		t.Errorf("status: got %q, want RETURNED", o.Status)
	}
}

func TestRequestReturn_NotDelivered(t *testing.T) {
	fillCart(t)
	res := createOrder(t, "")

	resp := do(t, http.MethodPost, "/api/orders/"+res.OrderID+"/return", customerToken, map[string]string{"reason": "changed my mind"})
	if resp.StatusCode < 400 || resp.StatusCode >= 500 {
		t.Errorf("return of pending order: got %d, want a client error", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestGetOrder_OtherCustomer(t *testing.T) {
	fillCart(t)
	res := createOrder(t, "")

	// The admin account does not own the order.
	resp := do(t, http.MethodGet, "/api/orders/"+res.OrderID, adminToken, nil)
	expectError(t, resp, http.StatusNotFound)
}

func TestListOrders(t *testing.T) {
	fillCart(t)
	res := createOrder(t, "")

	resp := do(t, http.MethodGet, "/api/orders", customerToken, nil)
	orders := expect[[]orderResponse](t, resp, http.StatusOK)
	if len(orders) == 0 || orders[0].ID != res.OrderID {
		t.Fatalf("newest order first: got %d orders", len(orders))
	}
	for _, o := range orders {
		if o.UserID != customerID {
			t.Errorf("order %s belongs to %s", o.ID, o.UserID)
		}
	}
}

func TestAdmin_Forbidden(t *testing.T) {
	for _, path := range []string{"/api/admin/orders", "/api/admin/returns", "/api/admin/redeem-codes"} {
		t.Run(path, func(t *testing.T) {
			resp := do(t, http.MethodGet, path, customerToken, nil)
			expectError(t, resp, http.StatusForbidden)
		})
	}
}

func TestAdminSetStatus_Unknown(t *testing.T) {
	fillCart(t)
	res := createOrder(t, "")

	resp := do(t, http.MethodPut, "/api/admin/orders/"+res.OrderID+"/status", adminToken, map[string]string{"status": "TELEPORTED"})
	expectError(t, resp, http.StatusUnprocessableEntity)

	resp = do(t, http.MethodPut, fmt.Sprintf("/api/admin/orders/%s/status", "00000000-0000-4000-8000-000000000000"), adminToken, map[string]string{"status": "SHIPPED"})
	expectError(t, resp, http.StatusNotFound)
}
