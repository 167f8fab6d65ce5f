package printing

import (
	"context"
	"fmt"
	"strings"

	"github.com/mmdatafocus/order_printer/config"
	"github.com/mmdatafocus/order_printer/models"
	"github.com/sirupsen/logrus"
)

// Backend renders one order and submits it to a printer.
type Backend interface {
	RenderAndPrint(ctx context.Context, payload models.OrderPayload, printer string) error
}

// Dispatcher routes print jobs to the backend for the requested Method.
type Dispatcher struct {
	backends map[Method]Backend
	shopName string
	logger   *logrus.Logger
}

func NewDispatcher(shopName string, logger *logrus.Logger, backends map[Method]Backend) *Dispatcher {
	if logger == nil {
		logger = config.GetLogger()
	}
	return &Dispatcher{backends: backends, shopName: shopName, logger: logger}
}

// Dispatch prints payload and reports success. It never panics.
func (d *Dispatcher) Dispatch(ctx context.Context, payload models.OrderPayload, printer string, method Method) bool {
	err := d.Print(ctx, payload, printer, method)
	if err != nil {
		config.LogError(d.logger, "printing", "Dispatch", "print failed", payload.OrderId, err)
		return false
	}
	return true
}

// Print is Dispatch with the failure reason. Backend panics are returned as errors.
func (d *Dispatcher) Print(ctx context.Context, payload models.OrderPayload, printer string, method Method) (err error) {
	backend, ok := d.backends[method]
	if !ok || backend == nil {
		return &PrintError{Method: method, Printer: printer, Err: fmt.Errorf("no backend for method %q", method)}
	}

	// the caller's payload is not modified
	job := payload
	job.LineItems = append([]models.LineItem(nil), payload.LineItems...)
	if strings.TrimSpace(job.ShopName) == "" {
		job.ShopName = d.shopName
	}

	defer func() {
		if r := recover(); r != nil {
			err = &PrintError{Method: method, Printer: printer, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	d.logger.WithFields(logrus.Fields{
		"business_id": job.OrderId,
		"printer":     printer,
		"method":      method.String(),
	}).Info("dispatching print job")
	return backend.RenderAndPrint(ctx, job, printer)
}
