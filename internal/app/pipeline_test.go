package app_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"client-portal/internal/app"
	"client-portal/internal/core"
	"client-portal/internal/logger"
	"client-portal/internal/notify"
	"client-portal/internal/payment"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/stripe/stripe-go/v82/webhook"
)

type PipelineSuite struct {
	suite.Suite
	ctx      context.Context
	orders   *fakeOrders
	invoices *fakeInvoices
	mail     *fakeMail
	alerter  *fakeAlerter
	crm      *fakeCRM
	svc      app.ApplicationService
}

func TestPipelineSuite(t *testing.T) {
	suite.Run(t, new(PipelineSuite))
}

func pendingOrder() *core.Order {
	return &core.Order{
		ID:                100,
		ProductID:         "analyse",
		Status:            core.OrderStatusPending,
		ProviderSessionID: "sess_abc",
		Amount:            decimal.RequireFromString("2990.00"),
		Currency:          "CHF",
		CustomerEmail:     "erika@example.com",
		CustomerName:      "Erika Muster",
	}
}

func (s *PipelineSuite) SetupTest() {
	s.ctx = context.Background()
	s.orders = newFakeOrders(pendingOrder())
	s.invoices = newFakeInvoices()
	s.mail = &fakeMail{}
	s.alerter = &fakeAlerter{}
	s.crm = &fakeCRM{}
	s.svc = s.build(payment.NewVerifier("", logger.Nop()), fakeCustomers{})
}

func (s *PipelineSuite) build(verifier app.EventVerifier, customers core.CustomerDirectory) app.ApplicationService {
	catalog, err := core.LoadCatalog("", decimal.RequireFromString("7.7"))
	s.Require().NoError(err)

	dispatcher := notify.NewDispatcher(time.Second, logger.Nop())
	notifier := app.NewNotifier(s.mail, s.alerter, s.crm, dispatcher, logger.Nop())
	return app.NewAppService(app.Services{
		Orders:    s.orders,
		Invoices:  s.invoices,
		Allocator: &fakeAllocator{},
		Customers: customers,
		Catalog:   catalog,
		Verifier:  verifier,
		Notifier:  notifier,
	}, logger.Nop())
}

func completedEvent(eventID, sessionID string) []byte {
	return []byte(fmt.Sprintf(`{
		"id": %q,
		"type": "checkout.session.completed",
		"data": {"object": {
			"id": %q,
			"payment_status": "paid",
			"payment_intent": "pi_123",
			"amount_total": 299000,
			"currency": "chf"
		}}
	}`, eventID, sessionID))
}

func (s *PipelineSuite) TestHappyPath() {
	res, err := s.svc.HandleWebhook(s.ctx, completedEvent("evt_1", "sess_abc"), "")
	s.Require().NoError(err)

	s.Equal(app.OutcomeInvoiced, res.Outcome)
	s.Equal(core.OrderStatusCompleted, res.Order.Status)
	s.Require().NotNil(res.Invoice)
	s.Equal("RE-2026-00001", res.Invoice.InvoiceNumber)
	s.Equal("2776.23", res.Invoice.NetAmount.StringFixed(2))
	s.Equal("213.77", res.Invoice.VATAmount.StringFixed(2))
	s.Equal("2990.00", res.Invoice.GrossAmount.StringFixed(2))

	s.Require().Len(s.invoices.requests, 1)
	req := s.invoices.requests[0]
	s.Equal(core.InvoiceTypeAnalysis, req.Type)
	s.Equal("Analyse", req.Lines[0].Description)
	s.Equal("Bahnhofstrasse 1", req.Customer.Address)

	s.Len(res.Notifications, 4)
	s.Empty(notify.Failed(res.Notifications))
	s.Len(s.mail.sent, 2)
	s.Equal([]string{"New order #100"}, s.alerter.titles())
	s.Len(s.crm.purchases, 1)
	s.Equal("RE-2026-00001", s.crm.purchases[0].InvoiceNumber)
}

func (s *PipelineSuite) TestDuplicateDeliveryIsNoOp() {
	_, err := s.svc.HandleWebhook(s.ctx, completedEvent("evt_1", "sess_abc"), "")
	s.Require().NoError(err)

	res, err := s.svc.HandleWebhook(s.ctx, completedEvent("evt_1", "sess_abc"), "")
	s.Require().NoError(err)

	s.Equal(app.OutcomeDuplicate, res.Outcome)
	s.Nil(res.Invoice)
	s.Len(s.invoices.requests, 1, "second delivery must not reach the composer")
	s.Len(s.invoices.byOrder, 1)
	s.Len(s.mail.sent, 2)
}

func (s *PipelineSuite) TestEmailFailureIsContained() {
	s.mail.err = errors.New("smtp: connection refused")

	res, err := s.svc.HandleWebhook(s.ctx, completedEvent("evt_1", "sess_abc"), "")
	s.Require().NoError(err)

	s.Equal(app.OutcomeInvoiced, res.Outcome)
	s.Equal(core.OrderStatusCompleted, res.Order.Status)
	s.Equal(core.InvoiceStatusSent, res.Invoice.Status)

	failed := map[string]bool{}
	for _, r := range notify.Failed(res.Notifications) {
		failed[r.Name] = true
	}
	s.Equal(map[string]bool{app.ChannelInvoiceEmail: true, app.ChannelOrderConfirmation: true}, failed)

	s.Len(s.crm.purchases, 1, "crm sync still runs")
	s.ElementsMatch([]string{"New order #100", "Invoice email failed"}, s.alerter.titles())
}

func (s *PipelineSuite) TestUnknownOrderIsAcknowledged() {
	res, err := s.svc.HandleWebhook(s.ctx, completedEvent("evt_2", "sess_nobody"), "")
	s.Require().NoError(err)
	s.Equal(app.OutcomeUnknownOrder, res.Outcome)
	s.Empty(s.invoices.requests)
}

func (s *PipelineSuite) TestSyntheticEventTouchesNothing() {
	res, err := s.svc.HandleWebhook(s.ctx, completedEvent("evt_00000000000000", "sess_abc"), "")
	s.Require().NoError(err)
	s.Equal(app.OutcomeSynthetic, res.Outcome)
	s.Zero(s.orders.calls)
}

func (s *PipelineSuite) TestIgnoredEvent() {
	res, err := s.svc.HandleWebhook(s.ctx, []byte(`{"id":"evt_3","type":"invoice.created","data":{"object":{}}}`), "")
	s.Require().NoError(err)
	s.Equal(app.OutcomeIgnored, res.Outcome)
	s.Zero(s.orders.calls)
}

func (s *PipelineSuite) TestInvoiceFailureIsContainedAndAlerted() {
	s.invoices.err = fmt.Errorf("%w: connection reset", core.ErrAllocatorUnavailable)

	res, err := s.svc.HandleWebhook(s.ctx, completedEvent("evt_1", "sess_abc"), "")
	s.Require().NoError(err, "a paid order must be acknowledged even when invoicing fails")

	s.Equal(app.OutcomeInvoiceFailed, res.Outcome)
	s.Equal(core.OrderStatusCompleted, res.Order.Status)
	s.Equal([]string{"Invoice issuance failed"}, s.alerter.titles())
	s.Empty(s.mail.sent)
}

func (s *PipelineSuite) TestIssuanceSurvivesCallerHangingUp() {
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	s.orders.onCompleted = cancel

	res, err := s.svc.HandleWebhook(ctx, completedEvent("evt_1", "sess_abc"), "")
	s.Require().NoError(err)
	s.Require().ErrorIs(ctx.Err(), context.Canceled)

	s.Equal(app.OutcomeInvoiced, res.Outcome)
	s.Require().NotNil(res.Invoice)
	s.Equal("RE-2026-00001", res.Invoice.InvoiceNumber)
	s.Empty(notify.Failed(res.Notifications))
	s.Len(s.mail.sent, 2)

	retry, err := s.svc.HandleWebhook(s.ctx, completedEvent("evt_1", "sess_abc"), "")
	s.Require().NoError(err)
	s.Equal(app.OutcomeDuplicate, retry.Outcome)
	s.Len(s.invoices.byOrder, 1)
}

func (s *PipelineSuite) TestIssuanceFailureAlertSurvivesCallerHangingUp() {
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	s.orders.onCompleted = cancel
	s.invoices.err = fmt.Errorf("%w: connection reset", core.ErrAllocatorUnavailable)

	res, err := s.svc.HandleWebhook(ctx, completedEvent("evt_1", "sess_abc"), "")
	s.Require().NoError(err)

	s.Equal(app.OutcomeInvoiceFailed, res.Outcome)
	s.Equal([]string{"Invoice issuance failed"}, s.alerter.titles())
}

func (s *PipelineSuite) TestOrderStoreFailureRequestsRetry() {
	s.orders.err = errors.New("connection refused")

	_, err := s.svc.HandleWebhook(s.ctx, completedEvent("evt_1", "sess_abc"), "")
	s.Error(err)
	s.False(errors.Is(err, core.ErrUnknownOrder))
}

func (s *PipelineSuite) TestCustomerLookupFailureFallsBackToCheckout() {
	s.svc = s.build(payment.NewVerifier("", logger.Nop()), fakeCustomers{err: errors.New("users table locked")})

	res, err := s.svc.HandleWebhook(s.ctx, completedEvent("evt_1", "sess_abc"), "")
	s.Require().NoError(err)
	s.Equal(app.OutcomeInvoiced, res.Outcome)
	s.Equal(core.CustomerSnapshot{Name: "Erika Muster", Email: "erika@example.com"}, s.invoices.requests[0].Customer)
}

func (s *PipelineSuite) TestPaymentFailed() {
	body := []byte(`{"id":"evt_4","type":"payment_intent.payment_failed","data":{"object":{"id":"pi_9","metadata":{"order_id":"100"}}}}`)

	res, err := s.svc.HandleWebhook(s.ctx, body, "")
	s.Require().NoError(err)
	s.Equal(app.OutcomeOrderFailed, res.Outcome)
	s.Equal(core.OrderStatusFailed, res.Order.Status)

	res, err = s.svc.HandleWebhook(s.ctx, body, "")
	s.Require().NoError(err)
	s.Equal(app.OutcomeDuplicate, res.Outcome)
}

func (s *PipelineSuite) TestForgedWebhookRejectedBeforeMutation() {
	svc := s.build(payment.NewVerifier("whsec_live", logger.Nop()), fakeCustomers{})
	body := completedEvent("evt_1", "sess_abc")
	forged := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload: body, Secret: "whsec_attacker", Timestamp: time.Now(),
	})

	_, err := svc.HandleWebhook(s.ctx, body, forged.Header)
	s.ErrorIs(err, payment.ErrSignatureInvalid)
	s.Zero(s.orders.calls)
	s.Empty(s.invoices.requests)
}

func (s *PipelineSuite) TestReissueAndResend() {
	s.invoices.err = errors.New("boom")
	_, err := s.svc.HandleWebhook(s.ctx, completedEvent("evt_1", "sess_abc"), "")
	s.Require().NoError(err)
	s.invoices.err = nil

	res, err := s.svc.ReissueInvoice(s.ctx, 100)
	s.Require().NoError(err)
	s.Equal("RE-2026-00001", res.Invoice.InvoiceNumber)
	s.Len(res.Notifications, 4)

	_, err = s.svc.ReissueInvoice(s.ctx, 100)
	s.ErrorIs(err, core.ErrDuplicateInvoice)

	sentBefore := len(s.mail.sent)
	resend, err := s.svc.ResendNotification(s.ctx, "RE-2026-00001", app.ChannelInvoiceEmail)
	s.Require().NoError(err)
	s.NoError(resend.Result.Err)
	s.Len(s.mail.sent, sentBefore+1)
	s.Len(s.crm.purchases, 1, "resend runs only the requested channel")

	_, err = s.svc.ResendNotification(s.ctx, "RE-2026-00001", "fax")
	s.ErrorIs(err, app.ErrUnknownChannel)

	_, err = s.svc.ResendNotification(s.ctx, "RE-2026-00099", app.ChannelInvoiceEmail)
	s.ErrorIs(err, core.ErrInvoiceNotFound)
}

func (s *PipelineSuite) TestReissueRequiresCompletedOrder() {
	_, err := s.svc.ReissueInvoice(s.ctx, 100)
	s.ErrorIs(err, core.ErrOrderNotCompleted)
}

func (s *PipelineSuite) TestResendReportsChannelFailure() {
	_, err := s.svc.HandleWebhook(s.ctx, completedEvent("evt_1", "sess_abc"), "")
	s.Require().NoError(err)

	s.mail.err = errors.New("mailbox full")
	res, err := s.svc.ResendNotification(s.ctx, "RE-2026-00001", app.ChannelOrderConfirmation)
	var nerr *notify.NotificationError
	s.Require().ErrorAs(err, &nerr)
	s.Equal(app.ChannelOrderConfirmation, nerr.Channel)
	s.Equal(app.ChannelOrderConfirmation, res.Channel)
}

func (s *PipelineSuite) TestUpdateInvoiceStatus() {
	_, err := s.svc.HandleWebhook(s.ctx, completedEvent("evt_1", "sess_abc"), "")
	s.Require().NoError(err)

	res, err := s.svc.UpdateInvoiceStatus(s.ctx, app.UpdateInvoiceStatusRequest{InvoiceNumber: "RE-2026-00001", Status: core.InvoiceStatusPaid})
	s.Require().NoError(err)
	s.Equal(core.InvoiceStatusPaid, res.Invoice.Status)

	_, err = s.svc.UpdateInvoiceStatus(s.ctx, app.UpdateInvoiceStatusRequest{InvoiceNumber: "RE-2026-00001", Status: core.InvoiceStatusOverdue})
	s.ErrorIs(err, core.ErrInvalidTransition)
}

func TestNotifier_CRMDisabled(t *testing.T) {
	mail := &fakeMail{}
	n := app.NewNotifier(mail, &fakeAlerter{}, nil, notify.NewDispatcher(time.Second, logger.Nop()), logger.Nop())

	order := pendingOrder()
	inv := &core.Invoice{OrderID: order.ID, InvoiceNumber: "RE-2026-00001", Currency: "CHF",
		Customer: core.CustomerSnapshot{Name: "Erika", Email: "erika@example.com"}}

	results := n.Notify(context.Background(), order, inv)
	assert.Len(t, results, 3)
	assert.Empty(t, notify.Failed(results))

	_, err := n.Task(app.ChannelCRMSync, order, inv)
	assert.ErrorIs(t, err, app.ErrUnknownChannel)
}

func TestNotifier_InvoiceEmail(t *testing.T) {
	mail := &fakeMail{}
	n := app.NewNotifier(mail, &fakeAlerter{}, nil, notify.NewDispatcher(time.Second, logger.Nop()), logger.Nop())

	inv := &core.Invoice{OrderID: 100, InvoiceNumber: "RE-2026-00007", Currency: "CHF",
		Customer: core.CustomerSnapshot{Name: "Erika", Email: "erika@example.com"}}
	res, err := n.Resend(context.Background(), app.ChannelInvoiceEmail, pendingOrder(), inv)
	require.NoError(t, err)
	require.NoError(t, res.Err)

	require.Len(t, mail.sent, 1)
	msg := mail.sent[0]
	assert.Equal(t, "erika@example.com", msg.To)
	assert.Equal(t, "Ihre Rechnung RE-2026-00007", msg.Subject)
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "RE-2026-00007.html", msg.Attachments[0].Name)
	assert.Equal(t, "invoice.RE-2026-00007@client-portal", msg.MessageID)
}

func TestSweepAndPreview(t *testing.T) {
	invoices := newFakeInvoices()
	invoices.overdue = []string{"RE-2026-00001"}
	allocator := &fakeAllocator{}
	svc := app.NewAppService(app.Services{Invoices: invoices, Allocator: allocator}, logger.Nop())

	res, err := svc.SweepOverdue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"RE-2026-00001"}, res.Overdue)

	next, err := svc.PreviewNextNumber(context.Background(), nil, 2030)
	require.NoError(t, err)
	assert.Equal(t, "RE-2030-00001", next)

	_, err = svc.PreviewNextNumber(context.Background(), nil, 0)
	require.NoError(t, err)
	assert.Equal(t, time.Now().UTC().Year(), allocator.peeked[1])

	assert.Error(t, svc.Ping(context.Background()))
}

func TestStartOverdueSweep(t *testing.T) {
	svc := app.NewAppService(app.Services{Invoices: newFakeInvoices()}, logger.Nop())

	_, err := app.StartOverdueSweep(context.Background(), "not a schedule", svc, logger.Nop())
	assert.Error(t, err)

	c, err := app.StartOverdueSweep(context.Background(), "@hourly", svc, logger.Nop())
	require.NoError(t, err)
	<-c.Stop().Done()
}
