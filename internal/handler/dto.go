package handler

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/bytekart/internal/domain/account"
	"github.com/xenking/bytekart/internal/domain/cart"
	"github.com/xenking/bytekart/internal/domain/discount"
	"github.com/xenking/bytekart/internal/domain/order"
)

type accountResponse struct {
	ID      uuid.UUID `json:"id"`
	Email   string    `json:"email"`
	Name    string    `json:"name"`
	Role    string    `json:"role"`
	IsAdmin bool      `json:"is_admin"`
}

func toAccount(a *account.Account) accountResponse {
	return accountResponse{
		ID:      a.ID,
		Email:   a.Email,
		Name:    a.DisplayName(),
		Role:    string(a.Role),
		IsAdmin: a.IsAdmin(),
	}
}

type itemRequest struct {
	ProductRef string          `json:"product_ref"`
	Name       string          `json:"name"`
	Price      decimal.Decimal `json:"price"`
	Quantity   int             `json:"quantity"`
}

type itemResponse struct {
	ProductRef string      `json:"product_ref"`
	Name       string      `json:"name"`
	Price      json.Number `json:"price"`
	Quantity   int         `json:"quantity"`
}

func toItems(items []cart.Item) []itemResponse {
	out := make([]itemResponse, len(items))
	for i, it := range items {
		out[i] = itemResponse{
			ProductRef: it.ProductRef,
			Name:       it.Name,
			Price:      money(it.UnitPrice),
			Quantity:   it.Quantity,
		}
	}
	return out
}

type cartRequest struct {
	// UserID is optional; when present it must name the caller.
	UserID *uuid.UUID    `json:"user_id"`
	Items  []itemRequest `json:"items"`
}

func (c cartRequest) items() []cart.Item {
	out := make([]cart.Item, len(c.Items))
	for i, it := range c.Items {
		out[i] = cart.Item{
			ProductRef: it.ProductRef,
			Name:       it.Name,
			UnitPrice:  it.Price,
			Quantity:   it.Quantity,
		}
	}
	return out
}

type cartResponse struct {
	UserID uuid.UUID      `json:"user_id"`
	Items  []itemResponse `json:"items"`
}

type createOrderRequest struct {
	ShippingAddress order.ShippingAddress `json:"shipping_address"`
	ShippingFee     decimal.Decimal       `json:"shipping_fee"`
	RedeemCode      string                `json:"redeem_code"`
}

// createOrderResponse is the gateway order the client opens checkout with.
type createOrderResponse struct {
	ID       string      `json:"id"`
	Amount   int64       `json:"amount"`
	Currency string      `json:"currency"`
	Status   string      `json:"status"`
	KeyID    string      `json:"key_id"`
	OrderID  uuid.UUID   `json:"order_id"`
	Total    json.Number `json:"total_amount"`
	Discount json.Number `json:"discount"`
}

type orderResponse struct {
	ID               uuid.UUID             `json:"id"`
	UserID           uuid.UUID             `json:"user_id"`
	GatewayOrderID   string                `json:"gateway_order_id"`
	GatewayPaymentID string                `json:"gateway_payment_id,omitempty"`
	Items            []itemResponse        `json:"items"`
	ShippingAddress  order.ShippingAddress `json:"shipping_address"`
	ShippingFee      json.Number           `json:"shipping_fee"`
	Subtotal         json.Number           `json:"subtotal"`
	Discount         json.Number           `json:"discount"`
	RedeemCode       string                `json:"redeem_code,omitempty"`
	Total            json.Number           `json:"total_amount"`
	Currency         string                `json:"currency"`
	Status           order.Status          `json:"status"`
	CreatedAt        time.Time             `json:"created_at"`
	UpdatedAt        time.Time             `json:"updated_at"`
}

func toOrder(o *order.Order) orderResponse {
	return orderResponse{
		ID:               o.ID,
		UserID:           o.AccountID,
		GatewayOrderID:   o.GatewayOrderID,
		GatewayPaymentID: o.GatewayPaymentID,
		Items:            toItems(o.Items),
		ShippingAddress:  o.ShippingAddress,
		ShippingFee:      money(o.ShippingFee),
		Subtotal:         money(o.Subtotal),
		Discount:         money(o.Discount),
		RedeemCode:       o.DiscountCode,
		Total:            money(o.Total),
		Currency:         o.Currency,
		Status:           o.Status,
		CreatedAt:        o.CreatedAt,
		UpdatedAt:        o.UpdatedAt,
	}
}

func toOrders(orders []order.Order) []orderResponse {
	out := make([]orderResponse, len(orders))
	for i := range orders {
		out[i] = toOrder(&orders[i])
	}
	return out
}

// verifyPaymentRequest accepts both the gateway-neutral field names and the
// razorpay_* names the checkout widget posts.
type verifyPaymentRequest struct {
	GatewayOrderID   string `json:"gateway_order_id"`
	GatewayPaymentID string `json:"gateway_payment_id"`
	Signature        string `json:"signature"`

	RazorpayOrderID   string `json:"razorpay_order_id"`
	RazorpayPaymentID string `json:"razorpay_payment_id"`
	RazorpaySignature string `json:"razorpay_signature"`
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

type verifyPaymentResponse struct {
	Status  string     `json:"status"`
	Message string     `json:"message"`
	OrderID *uuid.UUID `json:"order_id"`
}

type completionResponse struct {
	GatewayOrderID   string `json:"gateway_order_id"`
	GatewayPaymentID string `json:"gateway_payment_id"`
	Signature        string `json:"signature"`
}

type statusRequest struct {
	Status string `json:"status"`
}

type returnRequest struct {
	Reason string `json:"reason"`
}

type returnResponse struct {
	ID        uuid.UUID          `json:"id"`
	OrderID   uuid.UUID          `json:"order_id"`
	UserID    uuid.UUID          `json:"user_id"`
	Reason    string             `json:"reason"`
	Status    order.ReturnStatus `json:"status"`
	CreatedAt time.Time          `json:"created_at"`
	DecidedAt *time.Time         `json:"decided_at,omitempty"`
}

func toReturn(r *order.ReturnRequest) returnResponse {
	return returnResponse{
		ID:        r.ID,
		OrderID:   r.OrderID,
		UserID:    r.AccountID,
		Reason:    r.Reason,
		Status:    r.Status,
		CreatedAt: r.CreatedAt,
		DecidedAt: r.DecidedAt,
	}
}

type returnViewResponse struct {
	returnResponse
	CustomerName  string         `json:"customer_name"`
	CustomerEmail string         `json:"customer_email"`
	OrderTotal    json.Number    `json:"order_total"`
	OrderItems    []itemResponse `json:"order_items"`
}

func toReturnViews(views []order.ReturnView) []returnViewResponse {
	out := make([]returnViewResponse, len(views))
	for i := range views {
		v := &views[i]
		out[i] = returnViewResponse{
			returnResponse: toReturn(&v.ReturnRequest),
			CustomerName:   v.CustomerName,
			CustomerEmail:  v.CustomerEmail,
			OrderTotal:     money(v.OrderTotal),
			OrderItems:     toItems(v.OrderItems),
		}
	}
	return out
}

type validateCodeRequest struct {
	Code string `json:"code"`
}

type validateCodeResponse struct {
	Code          string        `json:"code"`
	DiscountType  discount.Kind `json:"discount_type"`
	DiscountValue json.Number   `json:"discount_value"`
	RemainingUses int           `json:"remaining_uses"`
}

type codeRequest struct {
	Code          *string          `json:"code"`
	DiscountType  *string          `json:"discount_type"`
	DiscountValue *decimal.Decimal `json:"discount_value"`
	MaxRedeems    *int             `json:"max_redeems"`
	IsActive      *bool            `json:"is_active"`
}

// create builds a new code. Active defaults to true.
func (c codeRequest) create() discount.Code {
	code := discount.Code{Active: true}
	if c.Code != nil {
		code.Code = *c.Code
	}
	if c.DiscountType != nil {
		code.Kind = discount.Kind(*c.DiscountType)
	}
	if c.DiscountValue != nil {
		code.Value = *c.DiscountValue
	}
	if c.MaxRedeems != nil {
		code.MaxRedemptions = *c.MaxRedeems
	}
	if c.IsActive != nil {
		code.Active = *c.IsActive
	}
	return code
}

func (c codeRequest) patch() discount.Patch {
	p := discount.Patch{
		Code:           c.Code,
		Value:          c.DiscountValue,
		MaxRedemptions: c.MaxRedeems,
		Active:         c.IsActive,
	}
	if c.DiscountType != nil {
		k := discount.Kind(*c.DiscountType)
		p.Kind = &k
	}
	return p
}

type codeResponse struct {
	ID            uuid.UUID     `json:"id"`
	Code          string        `json:"code"`
	DiscountType  discount.Kind `json:"discount_type"`
	DiscountValue json.Number   `json:"discount_value"`
	MaxRedeems    int           `json:"max_redeems"`
	TimesRedeemed int           `json:"times_redeemed"`
	IsActive      bool          `json:"is_active"`
	CreatedAt     time.Time     `json:"created_at"`
}

func toCode(c *discount.Code) codeResponse {
	return codeResponse{
		ID:            c.ID,
		Code:          c.Code,
		DiscountType:  c.Kind,
		DiscountValue: money(c.Value),
		MaxRedeems:    c.MaxRedemptions,
		TimesRedeemed: c.Redemptions,
		IsActive:      c.Active,
		CreatedAt:     c.CreatedAt,
	}
}

type messageResponse struct {
	Message string `json:"message"`
}
