package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/mmdatafocus/order_printer/app"
	"github.com/mmdatafocus/order_printer/config"
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Format string
	// Redis enables the shared token cache and the cross-instance poll lock.
	Redis bool
}

var validFormats = []string{"text", "json"}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "order-sync-ctl",
		Short: "Operate the order sync service database and printers",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			for _, f := range validFormats {
				if f == opts.Format {
					return nil
				}
			}
			return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, validFormats)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().BoolVar(&opts.Redis, "redis", false, "connect to REDIS_ADDRESS for locking and token caching")

	cmd.AddCommand(newMigrateCommand(opts))
	cmd.AddCommand(newPollCommand(opts))
	cmd.AddCommand(newOrdersCommand(opts))
	cmd.AddCommand(newReprintCommand(opts))
	cmd.AddCommand(newSettingsCommand(opts))
	cmd.AddCommand(newPrintersCommand(opts))
	return cmd
}

// withApp opens the database once (no retry) and wires the components for one command.
func withApp(ctx context.Context, opts *RootOptions, fn func(a *app.App) error) error {
	settings, err := config.Load()
	if err != nil {
		return err
	}
	db, err := config.OpenDatabase(settings)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	var a *app.App
	if opts.Redis {
		rdb, lock, err := config.ConnectRedisWithRetry(ctx, settings.RedisAddress)
		if err != nil {
			return err
		}
		if rdb != nil {
			defer rdb.Close()
		}
		a, err = app.New(ctx, settings, db, rdb, lock)
		if err != nil {
			return err
		}
	} else {
		a, err = app.New(ctx, settings, db, nil, nil)
		if err != nil {
			return err
		}
	}
	defer a.Close()
	return fn(a)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
