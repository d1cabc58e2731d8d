// Package notification describes the transactional messages emitted by the
// order lifecycle and delivers them without blocking the caller.
package notification

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Kind identifies what happened.
type Kind string

const (
	KindOrderConfirmation Kind = "order_confirmation"
	KindStatusChange      Kind = "order_status_change"
	KindDeliveryThanks    Kind = "delivery_thanks"
	KindReturnReceived    Kind = "return_received"
	KindReturnDecision    Kind = "return_decision"
	KindAdminAlert        Kind = "admin_alert"
)

// Template aliases understood by the mail renderer.
const (
	TemplateOrderPlaced    = "order-placed"
	TemplateOrderShipped   = "order-shipped"
	TemplateOrderDelivered = "order-delivered"
	TemplateStatusUpdate   = "order-status-update"
	TemplateThanks         = "our-thanks"
	TemplateReturnStatus   = "return-status"
	TemplateAdmin          = "admin-message"
)

// Admin alert actions.
const (
	ActionNewOrder          = "new_order"
	ActionOrderCancellation = "order_cancellation"
	ActionReturnRequest     = "return_request"
)

// TemplateForStatus picks the status change template for an order status.
func TemplateForStatus(status string) string {
	switch strings.ToUpper(status) {
	case "SHIPPED":
		return TemplateOrderShipped
	case "DELIVERED":
		return TemplateOrderDelivered
	default:
		return TemplateStatusUpdate
	}
}

// Item is a line item as shown in a message.
type Item struct {
	Name     string          `json:"name"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

// Event is one message to one recipient. Rendering is left to the consumer.
type Event struct {
	ID          string          `json:"id"`
	Kind        Kind            `json:"kind"`
	Template    string          `json:"template"`
	Recipient   string          `json:"recipient"`
	DisplayName string          `json:"display_name,omitempty"`
	OrderID     string          `json:"order_id,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	Items       []Item          `json:"items,omitempty"`
	Status      string          `json:"status,omitempty"`
	Action      string          `json:"action,omitempty"`
	Subject     string          `json:"subject,omitempty"`
	OccurredAt  time.Time       `json:"occurred_at"`
}

// Notifier delivers a single event.
type Notifier interface {
	Notify(ctx context.Context, e Event) error
}

// AdminSubject prefixes subject the way admin inboxes expect for the action.
func AdminSubject(action, subject string) string {
	switch action {
	case ActionNewOrder:
		return "New Order Received - " + subject
	case ActionOrderCancellation:
		return "Order Cancellation - " + subject
	case ActionReturnRequest:
		return "Return Request - " + subject
	default:
		return subject
	}
}
