package ordersync

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/order_printer/config"
	"github.com/mmdatafocus/order_printer/middlewares"
	"github.com/mmdatafocus/order_printer/models"
	"github.com/mmdatafocus/order_printer/utils"
	"github.com/sirupsen/logrus"
)

// SettingsStore is the full settings store used by the admin API.
type SettingsStore interface {
	SettingsReader
	Set(ctx context.Context, name, value string) error
	All(ctx context.Context) (map[string]string, error)
}

type SyncRunReader interface {
	List(ctx context.Context, limit int) ([]models.SyncRun, error)
	Get(ctx context.Context, id uint) (*models.SyncRun, error)
}

type PrinterLister interface {
	ListPrinters(ctx context.Context) ([]string, error)
}

// CycleRunner triggers poll cycles on demand.
type CycleRunner interface {
	RunCycle(ctx context.Context, trigger string) (CycleResult, error)
	RunCycleSince(ctx context.Context, trigger string, since time.Time) (CycleResult, error)
}

type AdminDeps struct {
	Orders      OrderRepository
	Settings    SettingsStore
	Printer     PrintDispatcher
	Printers    PrinterLister
	Poller      CycleRunner
	Runs        SyncRunReader
	Checkpoints CheckpointRepository
	AdminToken  string
	Logger      *logrus.Logger
}

// AdminAPI serves the operator JSON API.
type AdminAPI struct {
	deps AdminDeps
}

func NewAdminAPI(deps AdminDeps) *AdminAPI {
	if deps.Logger == nil {
		deps.Logger = config.GetLogger()
	}
	return &AdminAPI{deps: deps}
}

func (a *AdminAPI) Register(r gin.IRouter) {
	api := r.Group("/api", middlewares.BearerTokenAuth(a.deps.AdminToken))
	api.GET("/orders", a.ListOrdersHandler())
	api.GET("/orders/:id", a.GetOrderHandler())
	api.POST("/orders/:id/print", a.PrintOrderHandler())
	api.GET("/settings", a.GetSettingsHandler())
	api.POST("/settings", a.UpdateSettingsHandler())
	api.GET("/printers", a.PrintersHandler())
	api.POST("/sync/poll", a.TriggerPollHandler())
	api.GET("/sync/status", a.SyncStatusHandler())
	api.GET("/sync/runs", a.SyncHistoryHandler())
	api.GET("/sync/runs/:id", a.SyncRunDetailHandler())
}

func (a *AdminAPI) ListOrdersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orders, err := a.deps.Orders.ListAll(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"orders": orders})
	}
}

func (a *AdminAPI) GetOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		order, ok := a.loadOrder(c)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, order)
	}
}

// PrintOrderHandler reprints a stored order on the default printer.
func (a *AdminAPI) PrintOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		order, ok := a.loadOrder(c)
		if !ok {
			return
		}
		ctx := utils.SetSourceInContext(c.Request.Context(), "reprint")
		rc, err := LoadRuntimeConfig(ctx, a.deps.Settings)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if rc.DefaultPrinter == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "no default printer configured"})
			return
		}

		printErr := a.deps.Printer.Print(ctx, order.Payload, rc.DefaultPrinter, rc.PrintMethod)
		status := models.OrderStatusPrinted
		if printErr != nil {
			status = models.OrderStatusPrintFailed
		}
		if err := a.deps.Orders.UpdateStatus(ctx, order.ID, status); err != nil {
			config.LogError(a.deps.Logger, "ordersync", "PrintOrderHandler", "update status after reprint", order.BusinessId, err)
		}
		if printErr != nil {
			config.LogError(a.deps.Logger, "ordersync", "PrintOrderHandler", "reprint", order.BusinessId, printErr)
			c.JSON(http.StatusInternalServerError, gin.H{"error": printErr.Error(), "status": status})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": status, "printer": rc.DefaultPrinter, "method": rc.PrintMethod})
	}
}

func (a *AdminAPI) GetSettingsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		all, err := a.deps.Settings.All(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"settings": all})
	}
}

type UpdateSettingsRequest struct {
	DefaultPrinter   *string `json:"default_printer"`
	AutoPrintEnabled *bool   `json:"auto_print_enabled"`
	PollingEnabled   *bool   `json:"polling_enabled"`
	PrintMethod      *string `json:"print_method" binding:"omitempty,oneof=escpos pdf"`
}

func (a *AdminAPI) UpdateSettingsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req UpdateSettingsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "fields": utils.ProcessValidationErrors(err)})
			return
		}

		updates := map[string]string{}
		if req.DefaultPrinter != nil {
			updates[models.SettingDefaultPrinter] = strings.TrimSpace(*req.DefaultPrinter)
		}
		if req.AutoPrintEnabled != nil {
			updates[models.SettingAutoPrintEnabled] = strconv.FormatBool(*req.AutoPrintEnabled)
		}
		if req.PollingEnabled != nil {
			updates[models.SettingPollingEnabled] = strconv.FormatBool(*req.PollingEnabled)
		}
		if req.PrintMethod != nil {
			updates[models.SettingPrintMethod] = *req.PrintMethod
		}

		ctx := c.Request.Context()
		for name, value := range updates {
			if err := a.deps.Settings.Set(ctx, name, value); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
		}
		a.deps.Logger.WithField("settings", updates).Info("settings updated")

		all, err := a.deps.Settings.All(ctx)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"settings": all})
	}
}

func (a *AdminAPI) PrintersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		printers, err := a.deps.Printers.ListPrinters(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		if printers == nil {
			printers = []string{}
		}
		c.JSON(http.StatusOK, gin.H{"printers": printers})
	}
}

type TriggerPollRequest struct {
	Since *time.Time `json:"since"`
}

// TriggerPollHandler runs a manual cycle to completion, even if the client goes away.
func (a *AdminAPI) TriggerPollHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req TriggerPollRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
				return
			}
		}

		ctx := context.WithoutCancel(c.Request.Context())
		var (
			res CycleResult
			err error
		)
		if req.Since != nil {
			res, err = a.deps.Poller.RunCycleSince(ctx, models.SyncTriggeredManual, *req.Since)
		} else {
			res, err = a.deps.Poller.RunCycle(ctx, models.SyncTriggeredManual)
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if res.Skipped {
			c.JSON(http.StatusConflict, gin.H{"status": "skipped", "msg": "a poll cycle is already running"})
			return
		}
		body := gin.H{
			"status":       "completed",
			"run_id":       res.RunId,
			"window_start": res.Start.Format(time.RFC3339Nano),
			"window_end":   res.End.Format(time.RFC3339Nano),
			"seen":         res.Seen,
			"ok":           res.Ok,
			"failed":       res.Failed,
		}
		if res.ListErr != nil {
			body["list_error"] = res.ListErr.Error()
		}
		c.JSON(http.StatusOK, body)
	}
}

func (a *AdminAPI) SyncStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		boundary, ok, err := a.deps.Checkpoints.Load(ctx, models.CheckpointOrderPoller)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		polling, err := PollingEnabled(ctx, a.deps.Settings)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		runs, err := a.deps.Runs.List(ctx, 1)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		body := gin.H{"polling_enabled": polling, "checkpoint": nil, "last_run": nil}
		if ok {
			body["checkpoint"] = boundary.Format(time.RFC3339Nano)
		}
		if len(runs) > 0 {
			body["last_run"] = runs[0]
		}
		c.JSON(http.StatusOK, body)
	}
}

func (a *AdminAPI) SyncHistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		runs, err := a.deps.Runs.List(c.Request.Context(), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"runs": runs})
	}
}

func (a *AdminAPI) SyncRunDetailHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
			return
		}
		run, err := a.deps.Runs.Get(c.Request.Context(), uint(id))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if run == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "sync run not found"})
			return
		}
		c.JSON(http.StatusOK, run)
	}
}

func (a *AdminAPI) loadOrder(c *gin.Context) (*models.Order, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return nil, false
	}
	order, err := a.deps.Orders.Get(c.Request.Context(), uint(id))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, false
	}
	if order == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
		return nil, false
	}
	return order, true
}
