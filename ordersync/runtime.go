package ordersync

import (
	"context"
	"strings"

	"github.com/mmdatafocus/order_printer/models"
	"github.com/mmdatafocus/order_printer/printing"
)

// SettingsReader is the read side of the settings store.
type SettingsReader interface {
	Get(ctx context.Context, name string) (string, bool, error)
}

// RuntimeConfig is a snapshot of the operator settings, taken once per decision point.
type RuntimeConfig struct {
	DefaultPrinter   string
	AutoPrintEnabled bool
	PollingEnabled   bool
	PrintMethod      printing.Method
}

// ShouldDispatch reports whether an order ingested with shouldPrint goes to the printer.
func (rc RuntimeConfig) ShouldDispatch(shouldPrint bool) bool {
	return rc.AutoPrintEnabled && shouldPrint && rc.DefaultPrinter != ""
}

func LoadRuntimeConfig(ctx context.Context, settings SettingsReader) (RuntimeConfig, error) {
	var rc RuntimeConfig
	printer, _, err := settings.Get(ctx, models.SettingDefaultPrinter)
	if err != nil {
		return rc, err
	}
	autoPrint, err := readBool(ctx, settings, models.SettingAutoPrintEnabled)
	if err != nil {
		return rc, err
	}
	polling, err := readBool(ctx, settings, models.SettingPollingEnabled)
	if err != nil {
		return rc, err
	}
	method, _, err := settings.Get(ctx, models.SettingPrintMethod)
	if err != nil {
		return rc, err
	}
	rc.DefaultPrinter = strings.TrimSpace(printer)
	rc.AutoPrintEnabled = autoPrint
	rc.PollingEnabled = polling
	rc.PrintMethod = printing.ParseMethod(method)
	return rc, nil
}

// PollingEnabled reads only the polling_enabled flag.
func PollingEnabled(ctx context.Context, settings SettingsReader) (bool, error) {
	return readBool(ctx, settings, models.SettingPollingEnabled)
}

func readBool(ctx context.Context, settings SettingsReader, name string) (bool, error) {
	v, ok, err := settings.Get(ctx, name)
	if err != nil || !ok {
		return false, err
	}
	return strings.EqualFold(strings.TrimSpace(v), "true"), nil
}
