package order

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xenking/bytekart/internal/domain/account"
	"github.com/xenking/bytekart/internal/domain/notification"
)

// Return status values carried by return notifications.
const (
	returnMailRequested = "return_requested"
	returnMailReturned  = "returned"
	returnMailRejected  = "rejected"
)

func notificationItems(o *Order) []notification.Item {
	items := make([]notification.Item, len(o.Items))
	for i, it := range o.Items {
		name := it.Name
		if name == "" {
			name = "Item"
		}
		items[i] = notification.Item{Name: name, Quantity: it.Quantity, Price: it.UnitPrice}
	}
	return items
}

func itemNames(o *Order) string {
	names := make([]string, len(o.Items))
	for i, it := range o.Items {
		names[i] = it.Name
	}
	return strings.Join(names, ", ")
}

func (s *Service) adminAlerts(action, subject string, orderID uuid.UUID) []notification.Event {
	events := make([]notification.Event, 0, len(s.cfg.AdminRecipients))
	for _, to := range s.cfg.AdminRecipients {
		events = append(events, notification.Event{
			Kind:      notification.KindAdminAlert,
			Template:  notification.TemplateAdmin,
			Recipient: to,
			OrderID:   orderID.String(),
			Action:    action,
			Subject:   notification.AdminSubject(action, subject),
		})
	}
	return events
}

func (s *Service) notifyPaid(ctx context.Context, acct *account.Account, o *Order) {
	events := []notification.Event{{
		Kind:        notification.KindOrderConfirmation,
		Template:    notification.TemplateOrderPlaced,
		Recipient:   acct.Email,
		DisplayName: acct.DisplayName(),
		OrderID:     o.ID.String(),
		Amount:      o.Total,
		Items:       notificationItems(o),
		Status:      string(o.Status),
		Subject:     fmt.Sprintf("ByteKart: Order Confirmation - %s", o.ID),
	}}
	events = append(events, s.adminAlerts(notification.ActionNewOrder,
		fmt.Sprintf("Order %s placed by %s for %s, total %s", o.ID, acct.DisplayName(), itemNames(o), o.Total.StringFixed(2)),
		o.ID,
	)...)
	s.notify.Dispatch(ctx, events...)
}

// owner loads the account to notify. A failed lookup only skips the notification.
func (s *Service) owner(ctx context.Context, id uuid.UUID) (*account.Account, bool) {
	acct, err := s.accounts.Get(ctx, id)
	if err != nil {
		zctx.From(ctx).Warn("Notification skipped: owner lookup failed",
			zap.String("account_id", id.String()),
			zap.Error(err),
		)
		return nil, false
	}
	return acct, true
}

func (s *Service) notifyStatusChange(ctx context.Context, o *Order) {
	acct, ok := s.owner(ctx, o.AccountID)
	if !ok {
		return
	}
	events := []notification.Event{{
		Kind:        notification.KindStatusChange,
		Template:    notification.TemplateForStatus(string(o.Status)),
		Recipient:   acct.Email,
		DisplayName: acct.DisplayName(),
		OrderID:     o.ID.String(),
		Amount:      o.Total,
		Status:      string(o.Status),
	}}
	if o.Status == StatusDelivered {
		events = append(events, notification.Event{
			Kind:        notification.KindDeliveryThanks,
			Template:    notification.TemplateThanks,
			Recipient:   acct.Email,
			DisplayName: acct.DisplayName(),
			OrderID:     o.ID.String(),
		})
	}
	s.notify.Dispatch(ctx, events...)
}

func (s *Service) notifyReturnRequested(ctx context.Context, acct *account.Account, o *Order, r *ReturnRequest) {
	events := []notification.Event{{
		Kind:        notification.KindReturnReceived,
		Template:    notification.TemplateReturnStatus,
		Recipient:   acct.Email,
		DisplayName: acct.DisplayName(),
		OrderID:     o.ID.String(),
		Amount:      o.Total,
		Items:       notificationItems(o),
		Status:      returnMailRequested,
	}}
	events = append(events, s.adminAlerts(notification.ActionReturnRequest,
		fmt.Sprintf("Customer %s requested a return for order %s. Reason: %s", acct.DisplayName(), o.ID, r.Reason),
		o.ID,
	)...)
	s.notify.Dispatch(ctx, events...)
}

func (s *Service) notifyReturnDecision(ctx context.Context, o *Order, r *ReturnRequest) {
	acct, ok := s.owner(ctx, r.AccountID)
	if !ok {
		return
	}
	status := returnMailRejected
	if r.Status == ReturnApproved {
		status = returnMailReturned
	}
	s.notify.Dispatch(ctx, notification.Event{
		Kind:        notification.KindReturnDecision,
		Template:    notification.TemplateReturnStatus,
		Recipient:   acct.Email,
		DisplayName: acct.DisplayName(),
		OrderID:     o.ID.String(),
		Amount:      o.Total,
		Items:       notificationItems(o),
		Status:      status,
	})
}
