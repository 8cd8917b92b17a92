package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"strconv"
	"time"

	"client-portal/internal/adapters/web"
	"client-portal/internal/app"
	"client-portal/internal/config"
	"client-portal/internal/core"
	"client-portal/internal/db"
	"client-portal/internal/logger"

	"github.com/invopop/jsonschema"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "dev"

// ServiceFactory opens the application service for one command run. The returned
// closer releases the database pool.
type ServiceFactory func(ctx context.Context, cfg *config.Config) (app.ApplicationService, func(), error)

type runtime struct {
	cfg     *config.Config
	factory ServiceFactory
}

// NewRootCommand builds the billing CLI. A nil factory opens a Postgres pool from
// DATABASE_URL and wires the real services.
func NewRootCommand(factory ServiceFactory) *cobra.Command {
	if factory == nil {
		factory = openService
	}
	rt := &runtime{factory: factory}

	root := &cobra.Command{
		Use:           "portal",
		Short:         "Billing pipeline administration",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations["config"] == "none" {
				return nil
			}
			_ = godotenv.Load()
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := logger.Setup(cfg.GetLoggerConfig()); err != nil {
				return fmt.Errorf("logger: %w", err)
			}
			rt.cfg = cfg
			return nil
		},
	}

	root.AddCommand(
		rt.migrateCmd(),
		rt.reissueCmd(),
		rt.resendCmd(),
		rt.showCmd(),
		rt.statusCmd(),
		rt.sweepCmd(),
		rt.nextNumberCmd(),
		rt.tokenCmd(),
		schemaCmd(),
	)
	return root
}

func openService(ctx context.Context, cfg *config.Config) (app.ApplicationService, func(), error) {
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	svc, err := app.Wire(cfg, pool, logger.WithComponent("cli"))
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return svc, pool.Close, nil
}

func (rt *runtime) withService(cmd *cobra.Command, fn func(ctx context.Context, svc app.ApplicationService) error) error {
	ctx := cmd.Context()
	svc, closeFn, err := rt.factory(ctx, rt.cfg)
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(ctx, svc)
}

func (rt *runtime) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pool, err := db.NewPool(ctx, rt.cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer pool.Close()

			applied, err := db.Migrate(ctx, pool)
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Database is up to date.")
				return nil
			}
			for _, name := range applied {
				fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", name)
			}
			return nil
		},
	}
}

func (rt *runtime) reissueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reissue <order-id>",
		Short: "Issue the missing invoice of a completed order and send its notifications",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orderID, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid order id %q", args[0])
			}
			return rt.withService(cmd, func(ctx context.Context, svc app.ApplicationService) error {
				result, err := svc.ReissueInvoice(ctx, orderID)
				if err != nil {
					return err
				}
				printInvoice(cmd.OutOrStdout(), result.Invoice)
				for _, n := range result.Notifications {
					status := "ok"
					if n.Err != nil {
						status = n.Err.Error()
					}
					fmt.Fprintf(cmd.OutOrStdout(), "  %-20s %s\n", n.Name, status)
				}
				return nil
			})
		},
	}
}

func (rt *runtime) resendCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "resend <invoice-number> <channel>",
		Short:     "Re-run one notification channel for an issued invoice",
		Long:      "Channels: " + fmt.Sprint(app.Channels),
		Args:      cobra.ExactArgs(2),
		ValidArgs: app.Channels,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rt.withService(cmd, func(ctx context.Context, svc app.ApplicationService) error {
				result, err := svc.ResendNotification(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s sent for %s in %s\n", result.Channel, result.InvoiceNumber, result.Result.Duration.Round(time.Millisecond))
				return nil
			})
		},
	}
}

func (rt *runtime) showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <invoice-number>",
		Short: "Print an invoice as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rt.withService(cmd, func(ctx context.Context, svc app.ApplicationService) error {
				result, err := svc.GetInvoice(ctx, args[0])
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(result.Invoice)
			})
		},
	}
}

func (rt *runtime) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-status <invoice-number> <status>",
		Short: "Apply a manual invoice status transition (paid, cancelled, ...)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rt.withService(cmd, func(ctx context.Context, svc app.ApplicationService) error {
				result, err := svc.UpdateInvoiceStatus(ctx, app.UpdateInvoiceStatusRequest{
					InvoiceNumber: args[0],
					Status:        core.InvoiceStatus(args[1]),
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", result.Invoice.InvoiceNumber, result.Invoice.Status)
				return nil
			})
		},
	}
}

func (rt *runtime) sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep-overdue",
		Short: "Mark sent invoices past their due date as overdue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rt.withService(cmd, func(ctx context.Context, svc app.ApplicationService) error {
				result, err := svc.SweepOverdue(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d invoice(s) marked overdue\n", len(result.Overdue))
				for _, n := range result.Overdue {
					fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", n)
				}
				return nil
			})
		},
	}
}

func (rt *runtime) nextNumberCmd() *cobra.Command {
	var (
		tenant int
		year   int
	)
	cmd := &cobra.Command{
		Use:   "next-number",
		Short: "Preview the next invoice number without consuming it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var tenantID *int
			if cmd.Flags().Changed("tenant") {
				tenantID = &tenant
			}
			return rt.withService(cmd, func(ctx context.Context, svc app.ApplicationService) error {
				number, err := svc.PreviewNextNumber(ctx, tenantID, year)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), number)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&tenant, "tenant", 0, "tenant id (default: global scope)")
	cmd.Flags().IntVar(&year, "year", 0, "calendar year (default: current UTC year)")
	return cmd
}

func (rt *runtime) tokenCmd() *cobra.Command {
	var (
		subject string
		role    string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "admin-token",
		Short: "Sign a bearer token for the admin API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := web.IssueToken(rt.cfg.JWTSecret, subject, role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "cli", "token subject")
	cmd.Flags().StringVar(&role, "role", "admin", "token role")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}

func schemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "schema [invoice|catalog]",
		Short:       "Print the JSON Schema of the invoice document or the catalog file",
		Args:        cobra.MaximumNArgs(1),
		ValidArgs:   []string{"invoice", "catalog"},
		Annotations: map[string]string{"config": "none"},
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := "invoice"
			if len(args) == 1 {
				kind = args[0]
			}
			schema, err := Schema(kind)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(schema)
		},
	}
}

var decimalType = reflect.TypeOf(decimal.Decimal{})

// Schema reflects the JSON Schema of an invoice document or a catalog file.
// Decimals are described as strings, matching how they marshal.
func Schema(kind string) (*jsonschema.Schema, error) {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
		Mapper: func(t reflect.Type) *jsonschema.Schema {
			if t == decimalType {
				return &jsonschema.Schema{Type: "string", Pattern: `^-?[0-9]+(\.[0-9]+)?$`}
			}
			return nil
		},
	}
	switch kind {
	case "invoice":
		return reflector.Reflect(&core.Invoice{}), nil
	case "catalog":
		return reflector.Reflect(&core.CatalogDocument{}), nil
	default:
		return nil, fmt.Errorf("unknown schema %q, want invoice or catalog", kind)
	}
}

func printInvoice(w io.Writer, inv *core.Invoice) {
	fmt.Fprintf(w, "INVOICE  %s (%s, %s)\n", inv.InvoiceNumber, inv.Type, inv.Status)
	fmt.Fprintf(w, "ORDER    #%d\n", inv.OrderID)
	fmt.Fprintf(w, "CUSTOMER %s <%s>\n", inv.Customer.Name, inv.Customer.Email)
	fmt.Fprintf(w, "NET      %s %s\n", inv.NetAmount.StringFixed(2), inv.Currency)
	fmt.Fprintf(w, "VAT      %s %s (%s%%)\n", inv.VATAmount.StringFixed(2), inv.Currency, inv.VATRate)
	fmt.Fprintf(w, "GROSS    %s %s\n", inv.GrossAmount.StringFixed(2), inv.Currency)
	fmt.Fprintf(w, "DUE      %s\n", inv.DueDate.Format(time.DateOnly))
}
