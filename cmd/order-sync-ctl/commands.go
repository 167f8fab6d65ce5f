package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/mmdatafocus/order_printer/app"
	"github.com/mmdatafocus/order_printer/models"
	"github.com/mmdatafocus/order_printer/ordersync"
	"github.com/mmdatafocus/order_printer/printing"
	"github.com/spf13/cobra"
)

func newMigrateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update tables and seed default settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app.App) error {
				if err := models.MigrateTable(cmd.Context(), a.DB); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
				return nil
			})
		},
	}
}

func newPollCommand(opts *RootOptions) *cobra.Command {
	var since string
	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Run one manual poll cycle",
		Long: `Run one manual poll cycle against the upstream shop.

Without --since the window starts at the stored checkpoint (or one hour ago).

Examples:
  order-sync-ctl poll
  order-sync-ctl poll --since 2024-05-01T00:00:00Z --format json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var from *time.Time
			if since != "" {
				t, err := time.Parse(time.RFC3339, since)
				if err != nil {
					return fmt.Errorf("invalid --since %q: %w", since, err)
				}
				from = &t
			}
			return withApp(cmd.Context(), opts, func(a *app.App) error {
				var (
					res ordersync.CycleResult
					err error
				)
				if from != nil {
					res, err = a.Poller.RunCycleSince(cmd.Context(), models.SyncTriggeredManual, *from)
				} else {
					res, err = a.Poller.RunCycle(cmd.Context(), models.SyncTriggeredManual)
				}
				if err != nil {
					return err
				}
				return printCycle(cmd, opts, res)
			})
		},
	}
	cmd.Flags().StringVar(&since, "since", "", "window start (RFC3339); overrides the checkpoint")
	return cmd
}

func printCycle(cmd *cobra.Command, opts *RootOptions, res ordersync.CycleResult) error {
	listErr := ""
	if res.ListErr != nil {
		listErr = res.ListErr.Error()
	}
	if opts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), map[string]interface{}{
			"run_id":       res.RunId,
			"skipped":      res.Skipped,
			"window_start": res.Start,
			"window_end":   res.End,
			"seen":         res.Seen,
			"ok":           res.Ok,
			"failed":       res.Failed,
			"list_error":   listErr,
		})
	}
	out := cmd.OutOrStdout()
	if res.Skipped {
		fmt.Fprintln(out, "skipped: another cycle is running")
		return nil
	}
	fmt.Fprintf(out, "run %d: %s -> %s seen=%d ok=%d failed=%d\n",
		res.RunId, res.Start.Format(time.RFC3339), res.End.Format(time.RFC3339), res.Seen, res.Ok, res.Failed)
	if listErr != "" {
		fmt.Fprintln(out, "list error:", listErr)
	}
	return nil
}

func newOrdersCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "orders",
		Short: "List stored orders, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app.App) error {
				orders, err := a.Orders.ListAll(cmd.Context())
				if err != nil {
					return err
				}
				if opts.Format == "json" {
					return writeJSON(cmd.OutOrStdout(), orders)
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tORDER\tSTATUS\tCREATED")
				for _, o := range orders {
					fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", o.ID, o.BusinessId, o.Status, o.CreatedAt.Format(time.RFC3339))
				}
				return tw.Flush()
			})
		},
	}
}

func newReprintCommand(opts *RootOptions) *cobra.Command {
	var id uint
	var printer string
	cmd := &cobra.Command{
		Use:   "reprint",
		Short: "Print a stored order again and record the outcome",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app.App) error {
				ctx := cmd.Context()
				order, err := a.Orders.Get(ctx, id)
				if err != nil {
					return err
				}
				if order == nil {
					return fmt.Errorf("order %d not found", id)
				}
				rc, err := ordersync.LoadRuntimeConfig(ctx, a.Store)
				if err != nil {
					return err
				}
				if printer == "" {
					printer = rc.DefaultPrinter
				}
				if printer == "" {
					return fmt.Errorf("no printer given and no default printer configured")
				}

				printErr := a.Dispatcher.Print(ctx, order.Payload, printer, rc.PrintMethod)
				status := models.OrderStatusPrinted
				if printErr != nil {
					status = models.OrderStatusPrintFailed
				}
				if err := a.Orders.UpdateStatus(ctx, order.ID, status); err != nil {
					return err
				}
				if printErr != nil {
					return printErr
				}
				fmt.Fprintf(cmd.OutOrStdout(), "order %s printed on %s (%s)\n", order.BusinessId, printer, rc.PrintMethod)
				return nil
			})
		},
	}
	cmd.Flags().UintVar(&id, "id", 0, "order id (required)")
	_ = cmd.MarkFlagRequired("id")
	cmd.Flags().StringVar(&printer, "printer", "", "printer queue; defaults to the default_printer setting")
	return cmd
}

func newSettingsCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change runtime settings",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "get",
		Short: "Print all settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app.App) error {
				all, err := a.Store.All(cmd.Context())
				if err != nil {
					return err
				}
				if opts.Format == "json" {
					return writeJSON(cmd.OutOrStdout(), all)
				}
				names := make([]string, 0, len(all))
				for name := range all {
					names = append(names, name)
				}
				sort.Strings(names)
				for _, name := range names {
					fmt.Fprintf(cmd.OutOrStdout(), "%s=%s\n", name, all[name])
				}
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "set NAME VALUE",
		Short: "Change one setting",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			value, err := normalizeSetting(name, args[1])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), opts, func(a *app.App) error {
				if err := a.Store.Set(cmd.Context(), name, value); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s=%s\n", name, value)
				return nil
			})
		},
	})
	return cmd
}

// normalizeSetting validates value for name and returns the form stored in the settings table.
func normalizeSetting(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	switch name {
	case models.SettingDefaultPrinter:
		return value, nil
	case models.SettingAutoPrintEnabled, models.SettingPollingEnabled:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return "", fmt.Errorf("%s must be true or false", name)
		}
		return strconv.FormatBool(b), nil
	case models.SettingPrintMethod:
		value = strings.ToLower(value)
		if value != string(printing.MethodESCPOS) && value != string(printing.MethodPDF) {
			return "", fmt.Errorf("%s must be escpos or pdf", name)
		}
		return value, nil
	}
	return "", fmt.Errorf("unknown setting %q", name)
}

func newPrintersCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "printers",
		Short: "List printer queues known to the local spooler",
		RunE: func(cmd *cobra.Command, args []string) error {
			printers, err := printing.NewCUPSSpooler().ListPrinters(cmd.Context())
			if err != nil {
				return err
			}
			if opts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), printers)
			}
			for _, p := range printers {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			return nil
		},
	}
}
