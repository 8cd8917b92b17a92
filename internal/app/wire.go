package app

import (
	"fmt"

	"client-portal/internal/config"
	"client-portal/internal/core"
	"client-portal/internal/logger"
	"client-portal/internal/notify"
	"client-portal/internal/payment"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Wire builds the application service and its collaborators from cfg. Channels
// without configuration fall back to logging: no SMTP host means mail is logged,
// no CRM URL disables the CRM sync, no Twilio account drops SMS alerts.
func Wire(cfg *config.Config, pool *pgxpool.Pool, log zerolog.Logger) (ApplicationService, error) {
	catalog, err := core.LoadCatalog(cfg.CatalogFile, cfg.DefaultVATRate)
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}

	audit := core.NewAuditLog(pool)
	allocator := core.NewInvoiceNumberAllocator(pool, cfg.InvoicePrefix)

	mail, err := mailSender(cfg, log)
	if err != nil {
		return nil, err
	}

	alerters := []notify.Alerter{notify.NewLogAlerter(logger.WithComponent("alert"))}
	if cfg.AdminEmail != "" {
		alerters = append(alerters, notify.NewEmailAlerter(mail, cfg.AdminEmail))
	}
	if cfg.TwilioAccountSID != "" {
		alerters = append(alerters, notify.NewTwilioAlerter(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber, cfg.AlertSMSTo))
	}

	var crm notify.CRMClient
	if cfg.CRMBaseURL != "" {
		crm = notify.NewHTTPCRMClient(cfg.CRMBaseURL, cfg.CRMAPIToken, nil)
	} else {
		log.Info().Msg("CRM_BASE_URL not set, CRM sync disabled")
	}

	dispatcher := notify.NewDispatcher(cfg.NotifyTimeout, logger.WithComponent("notify"))
	notifier := NewNotifier(mail, notify.NewMultiAlerter(alerters...), crm, dispatcher, logger.WithComponent("notify"))

	return NewAppService(Services{
		Orders:    core.NewOrderService(pool, audit, logger.WithComponent("orders")),
		Invoices:  core.NewInvoiceService(pool, allocator, audit, cfg.InvoiceDueDays, logger.WithComponent("invoices")),
		Allocator: allocator,
		Customers: core.NewCustomerDirectory(pool),
		Catalog:   catalog,
		Verifier:  payment.NewVerifier(cfg.StripeWebhookSecret, logger.WithComponent("webhook")),
		Notifier:  notifier,
		Pinger:    pool,
	}, log), nil
}

func mailSender(cfg *config.Config, log zerolog.Logger) (notify.EmailSender, error) {
	if cfg.SMTPHost == "" {
		log.Warn().Msg("SMTP_HOST not set, outbound mail is logged only")
		return notify.NewLogSender(logger.WithComponent("mail")), nil
	}
	sender, err := notify.NewSMTPSender(notify.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.MailFrom,
	})
	if err != nil {
		return nil, fmt.Errorf("smtp: %w", err)
	}
	return sender, nil
}
