package ordersync

import (
	"context"
	"errors"
	"iter"
	"time"

	"github.com/mmdatafocus/order_printer/allvalue"
	"github.com/mmdatafocus/order_printer/config"
	"github.com/mmdatafocus/order_printer/models"
	"github.com/mmdatafocus/order_printer/printing"
	"github.com/mmdatafocus/order_printer/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const DefaultOrderBudget = 60 * time.Second

var tracer = otel.Tracer("github.com/mmdatafocus/order_printer/ordersync")

// Upstream is the part of the shop API the engine uses.
type Upstream interface {
	FetchOrder(ctx context.Context, token, nodeId string) (allvalue.RawOrder, error)
	ListCreatedBetween(ctx context.Context, token string, start, end time.Time, pageSize int) iter.Seq2[allvalue.OrderSummary, error]
}

// OrderRepository persists orders keyed by business id.
type OrderRepository interface {
	Upsert(ctx context.Context, businessId string, payload models.OrderPayload) (models.UpsertResult, error)
	UpdateStatus(ctx context.Context, id uint, status string) error
	MarkUnprinted(ctx context.Context, id uint) (string, error)
	ListAll(ctx context.Context) ([]models.Order, error)
	Get(ctx context.Context, id uint) (*models.Order, error)
}

// PrintDispatcher sends a payload to a printer with the given method.
type PrintDispatcher interface {
	Print(ctx context.Context, payload models.OrderPayload, printer string, method printing.Method) error
}

// Outcome describes what one ingestion did.
type Outcome struct {
	OrderId    uint
	BusinessId string
	Created    bool
	Status     string
	Dispatched bool
}

type PipelineDeps struct {
	Tokens   allvalue.TokenSource
	Upstream Upstream
	Orders   OrderRepository
	Settings SettingsReader
	Printer  PrintDispatcher
	// Events is optional.
	Events EventPublisher
	Logger *logrus.Logger
	Budget time.Duration
}

// Pipeline fetches, normalizes, stores and optionally prints one order.
// Webhooks, the poller and manual triggers all go through it.
type Pipeline struct {
	deps PipelineDeps
}

func NewPipeline(deps PipelineDeps) *Pipeline {
	if deps.Logger == nil {
		deps.Logger = config.GetLogger()
	}
	if deps.Budget <= 0 {
		deps.Budget = DefaultOrderBudget
	}
	return &Pipeline{deps: deps}
}

// Process ingests nodeId and reports whether it succeeded. A failed print is still a success;
// it is recorded as print_failed on the order.
func (p *Pipeline) Process(ctx context.Context, nodeId string, shouldPrint bool) bool {
	_, err := p.Ingest(ctx, nodeId, shouldPrint)
	return err == nil
}

// Ingest is Process with the outcome and the typed failure.
func (p *Pipeline) Ingest(ctx context.Context, nodeId string, shouldPrint bool) (out Outcome, err error) {
	ctx, cancel := context.WithTimeout(ctx, p.deps.Budget)
	defer cancel()
	ctx = utils.SetNodeIdInContext(ctx, nodeId)

	ctx, span := tracer.Start(ctx, "ordersync.Ingest", trace.WithAttributes(
		attribute.String("order.node_id", nodeId),
		attribute.Bool("order.should_print", shouldPrint),
	))
	defer span.End()

	logger := p.entry(ctx).WithField("should_print", shouldPrint)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			logger.WithFields(logrus.Fields{
				"business_id": out.BusinessId,
				"phase":       string(phaseOf(err)),
			}).WithError(err).Error("order ingestion failed")
		}
	}()

	if nodeId == "" {
		return out, &ValidationError{Reason: "missing node id"}
	}

	token, err := p.deps.Tokens.Token(ctx)
	if err != nil {
		return out, &AuthError{Err: err}
	}

	raw, err := p.deps.Upstream.FetchOrder(ctx, token, nodeId)
	if err != nil {
		var upErr *UpstreamError
		if errors.As(err, &upErr) {
			return out, err
		}
		return out, &UpstreamError{Op: "fetch order", Err: err}
	}

	payload, verr := NormalizeOrder(nodeId, raw)
	businessId := payload.OrderId
	if verr != nil {
		// the node id still identifies the order uniquely
		logger.WithError(verr).Warn("order has no business id; keying by node id")
		businessId = nodeId
	}
	out.BusinessId = businessId
	span.SetAttributes(attribute.String("order.business_id", businessId))

	res, err := p.deps.Orders.Upsert(ctx, businessId, payload)
	if err != nil {
		return out, &PersistenceError{Phase: PhaseUpsert, BusinessId: businessId, Err: err}
	}
	out.OrderId = res.ID
	out.Created = res.Created
	logger = logger.WithFields(logrus.Fields{"business_id": businessId, "order_id": res.ID, "created": res.Created})

	status, dispatched, err := p.printStep(ctx, logger, res, payload, shouldPrint)
	out.Dispatched = dispatched
	if err != nil {
		p.markProcessingError(ctx, logger, res.ID, err)
		out.Status = models.ProcessingErrorStatus(err.Error())
		return out, err
	}
	out.Status = status

	logger.WithFields(logrus.Fields{"status": status, "dispatched": dispatched}).Info("order ingested")
	p.publish(ctx, logger, nodeId, out)
	return out, nil
}

// printStep decides and performs the print, then stores the resulting status.
func (p *Pipeline) printStep(ctx context.Context, logger *logrus.Entry, res models.UpsertResult, payload models.OrderPayload, shouldPrint bool) (string, bool, error) {
	rc, err := LoadRuntimeConfig(ctx, p.deps.Settings)
	if err != nil {
		return "", false, &PersistenceError{Phase: PhaseSettings, BusinessId: payload.OrderId, Err: err}
	}

	if res.PriorStatus == models.OrderStatusPrinted {
		logger.Debug("order already printed; not printing again")
		return models.OrderStatusPrinted, false, nil
	}

	status := models.OrderStatusUnprinted
	dispatched := false
	if rc.ShouldDispatch(shouldPrint) {
		dispatched = true
		printCtx, span := tracer.Start(ctx, "ordersync.Print", trace.WithAttributes(
			attribute.String("print.method", rc.PrintMethod.String()),
			attribute.String("print.printer", rc.DefaultPrinter),
		))
		if perr := p.deps.Printer.Print(printCtx, payload, rc.DefaultPrinter, rc.PrintMethod); perr != nil {
			span.RecordError(perr)
			span.SetStatus(codes.Error, perr.Error())
			logger.WithError(perr).WithField("phase", string(PhasePrint)).Error("print failed")
			status = models.OrderStatusPrintFailed
		} else {
			status = models.OrderStatusPrinted
		}
		span.End()
	}

	if !dispatched {
		// a concurrent ingestion may have printed the row since the upsert
		current, err := p.deps.Orders.MarkUnprinted(ctx, res.ID)
		if err != nil {
			return "", false, &PersistenceError{Phase: PhaseStatus, BusinessId: payload.OrderId, Err: err}
		}
		return current, false, nil
	}
	if err := p.deps.Orders.UpdateStatus(ctx, res.ID, status); err != nil {
		return "", dispatched, &PersistenceError{Phase: PhaseStatus, BusinessId: payload.OrderId, Err: err}
	}
	return status, dispatched, nil
}

func (p *Pipeline) markProcessingError(ctx context.Context, logger *logrus.Entry, id uint, cause error) {
	// the order context may already be spent
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := p.deps.Orders.UpdateStatus(ctx, id, models.ProcessingErrorStatus(cause.Error())); err != nil {
		logger.WithError(err).Error("could not record processing error status")
	}
}

func (p *Pipeline) publish(ctx context.Context, logger *logrus.Entry, nodeId string, out Outcome) {
	if p.deps.Events == nil {
		return
	}
	source, _ := utils.GetSourceFromContext(ctx)
	ev := OrderEvent{
		OrderId:    out.OrderId,
		BusinessId: out.BusinessId,
		NodeId:     nodeId,
		Status:     out.Status,
		Created:    out.Created,
		Source:     source,
		At:         time.Now().UTC(),
	}
	if err := p.deps.Events.Publish(ctx, ev); err != nil {
		logger.WithError(err).Warn("order event publish failed")
	}
}

func (p *Pipeline) entry(ctx context.Context) *logrus.Entry {
	fields := logrus.Fields{}
	if nodeId, ok := utils.GetNodeIdFromContext(ctx); ok {
		fields["node_id"] = nodeId
	}
	if cid, ok := utils.GetCorrelationIdFromContext(ctx); ok {
		fields["correlation_id"] = cid
	}
	if source, ok := utils.GetSourceFromContext(ctx); ok {
		fields["source"] = source
	}
	return p.deps.Logger.WithFields(fields)
}
