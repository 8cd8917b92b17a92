package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"client-portal/internal/core"
	"client-portal/internal/notify"

	"github.com/rs/zerolog"
)

// Notification channels. Each maps to one independent notify.Task.
const (
	ChannelInvoiceEmail      = "invoice_email"
	ChannelOrderConfirmation = "order_confirmation"
	ChannelAdminNotification = "admin_notification"
	ChannelCRMSync           = "crm_sync"
)

var Channels = []string{ChannelInvoiceEmail, ChannelOrderConfirmation, ChannelAdminNotification, ChannelCRMSync}

var ErrUnknownChannel = errors.New("unknown notification channel")

// Notifier builds the post-issuance notification tasks from a persisted order and
// invoice, so any channel can be re-run on its own.
type Notifier struct {
	mail       notify.EmailSender
	alerter    notify.Alerter
	crm        notify.CRMClient // nil disables CRM sync
	dispatcher *notify.Dispatcher
	log        zerolog.Logger
}

func NewNotifier(mail notify.EmailSender, alerter notify.Alerter, crm notify.CRMClient, dispatcher *notify.Dispatcher, log zerolog.Logger) *Notifier {
	return &Notifier{mail: mail, alerter: alerter, crm: crm, dispatcher: dispatcher, log: log}
}

// Notify runs every configured channel for a freshly issued invoice.
func (n *Notifier) Notify(ctx context.Context, order *core.Order, inv *core.Invoice) []notify.Result {
	tasks := make([]notify.Task, 0, len(Channels))
	for _, ch := range Channels {
		if ch == ChannelCRMSync && n.crm == nil {
			continue
		}
		task, err := n.Task(ch, order, inv)
		if err != nil {
			n.log.Error().Err(err).Str("channel", ch).Msg("skipping notification")
			continue
		}
		tasks = append(tasks, task)
	}
	return n.dispatcher.Run(ctx, tasks)
}

// Resend runs one channel.
func (n *Notifier) Resend(ctx context.Context, channel string, order *core.Order, inv *core.Invoice) (notify.Result, error) {
	task, err := n.Task(channel, order, inv)
	if err != nil {
		return notify.Result{}, err
	}
	return n.dispatcher.Run(ctx, []notify.Task{task})[0], nil
}

// Task returns the notification task for channel.
func (n *Notifier) Task(channel string, order *core.Order, inv *core.Invoice) (notify.Task, error) {
	switch channel {
	case ChannelInvoiceEmail:
		return notify.Task{
			Name: channel,
			Run:  func(ctx context.Context) error { return n.sendInvoice(ctx, inv) },
			OnFailure: func(ctx context.Context, err error) {
				n.escalate(ctx, "Invoice email failed",
					fmt.Sprintf("Invoice %s for order #%d could not be emailed to %s: %v. Please send it manually.",
						inv.InvoiceNumber, order.ID, inv.Customer.Email, err))
			},
		}, nil
	case ChannelOrderConfirmation:
		return notify.Task{
			Name: channel,
			Run:  func(ctx context.Context) error { return n.sendConfirmation(ctx, order, inv) },
		}, nil
	case ChannelAdminNotification:
		return notify.Task{
			Name: channel,
			Run: func(ctx context.Context) error {
				return n.alerter.Alert(ctx, fmt.Sprintf("New order #%d", order.ID), orderSummary(order, inv))
			},
		}, nil
	case ChannelCRMSync:
		if n.crm == nil {
			return notify.Task{}, fmt.Errorf("%w: %s is not configured", ErrUnknownChannel, channel)
		}
		return notify.Task{
			Name: channel,
			Run:  func(ctx context.Context) error { return n.syncCRM(ctx, order, inv) },
		}, nil
	}
	return notify.Task{}, fmt.Errorf("%w: %q", ErrUnknownChannel, channel)
}

func (n *Notifier) sendInvoice(ctx context.Context, inv *core.Invoice) error {
	if inv.Customer.Email == "" {
		return errors.New("invoice has no customer email")
	}
	doc, err := notify.RenderInvoice(inv)
	if err != nil {
		return err
	}
	return n.mail.Send(ctx, notify.Email{
		To:       inv.Customer.Email,
		Subject:  "Ihre Rechnung " + inv.InvoiceNumber,
		HTMLBody: doc,
		Attachments: []notify.Attachment{{
			Name:        inv.InvoiceNumber + ".html",
			ContentType: "text/html",
			Data:        []byte(doc),
		}},
		MessageID: "invoice." + inv.InvoiceNumber + "@client-portal",
	})
}

func (n *Notifier) sendConfirmation(ctx context.Context, order *core.Order, inv *core.Invoice) error {
	if inv.Customer.Email == "" {
		return errors.New("invoice has no customer email")
	}
	body, err := notify.RenderOrderConfirmation(order, inv)
	if err != nil {
		return err
	}
	return n.mail.Send(ctx, notify.Email{
		To:        inv.Customer.Email,
		Subject:   "Bestellbestätigung #" + strconv.Itoa(order.ID),
		HTMLBody:  body,
		MessageID: "order." + strconv.Itoa(order.ID) + "@client-portal",
	})
}

func (n *Notifier) syncCRM(ctx context.Context, order *core.Order, inv *core.Invoice) error {
	contactID, err := n.crm.UpsertContact(ctx, notify.Contact{
		Email:   inv.Customer.Email,
		Name:    inv.Customer.Name,
		Company: inv.Customer.Company,
		Source:  "checkout",
	})
	if err != nil {
		return err
	}
	return n.crm.LogPurchase(ctx, contactID, notify.Purchase{
		OrderID:       order.ID,
		InvoiceNumber: inv.InvoiceNumber,
		Product:       order.ProductID,
		Amount:        inv.GrossAmount.StringFixed(2),
		Currency:      inv.Currency,
	})
}

// escalate sends an internal alert. A failing alerter is logged and dropped.
func (n *Notifier) escalate(ctx context.Context, title, body string) {
	if err := n.alerter.Alert(ctx, title, body); err != nil {
		n.log.Error().Err(err).Str("title", title).Msg("failed to escalate")
	}
}

func orderSummary(order *core.Order, inv *core.Invoice) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Order #%d (%s) paid by %s <%s>.", order.ID, order.ProductID, inv.Customer.Name, inv.Customer.Email)
	fmt.Fprintf(&b, " Invoice %s: %s %s gross.", inv.InvoiceNumber, inv.GrossAmount.StringFixed(2), inv.Currency)
	return b.String()
}
