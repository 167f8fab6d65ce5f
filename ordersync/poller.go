package ordersync

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/mmdatafocus/order_printer/allvalue"
	"github.com/mmdatafocus/order_printer/config"
	"github.com/mmdatafocus/order_printer/models"
	"github.com/mmdatafocus/order_printer/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultPollInterval = time.Hour
	// initialLookback bounds the first window when no checkpoint exists.
	initialLookback = time.Hour
	pollLockKey     = "order_printer:poll_cycle"
	pollLockTTL     = 15 * time.Minute
	sourcePoll      = "poll"
)

// Ingester runs one order through the pipeline.
type Ingester interface {
	Process(ctx context.Context, nodeId string, shouldPrint bool) bool
}

type CheckpointRepository interface {
	Load(ctx context.Context, name string) (time.Time, bool, error)
	Save(ctx context.Context, name string, boundary time.Time) error
}

type SyncRunRecorder interface {
	Start(ctx context.Context, run *models.SyncRun) error
	Finish(ctx context.Context, run *models.SyncRun) error
	RecordError(ctx context.Context, syncErr *models.SyncError) error
}

type PollerDeps struct {
	Tokens      allvalue.TokenSource
	Upstream    Upstream
	Settings    SettingsReader
	Checkpoints CheckpointRepository
	Runs        SyncRunRecorder
	Pipeline    Ingester
	// Locker is optional; when set, cycles are also exclusive across instances.
	Locker   *redislock.Client
	Logger   *logrus.Logger
	Interval time.Duration
	PageSize int
	Now      func() time.Time
}

// CycleResult summarizes one poll cycle.
type CycleResult struct {
	RunId   uint
	Skipped bool
	Start   time.Time
	End     time.Time
	Seen    int
	Ok      int
	Failed  int
	ListErr error
}

// Poller re-fetches orders created since the last checkpoint to cover missed webhooks.
// Only one cycle runs at a time; a trigger that finds a cycle running is dropped.
type Poller struct {
	deps PollerDeps

	running sync.Mutex

	mu           sync.Mutex
	lastBoundary time.Time
}

func NewPoller(deps PollerDeps) *Poller {
	if deps.Logger == nil {
		deps.Logger = config.GetLogger()
	}
	if deps.Interval <= 0 {
		deps.Interval = DefaultPollInterval
	}
	if deps.PageSize <= 0 {
		deps.PageSize = allvalue.DefaultPageSize
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Poller{deps: deps}
}

// Start runs the startup cycle, then a cycle per interval while polling_enabled is true.
// It blocks until ctx is done and then re-saves the last completed boundary.
func (p *Poller) Start(ctx context.Context) error {
	logger := p.deps.Logger.WithField("module", "poller")

	if _, err := p.RunCycle(ctx, models.SyncTriggeredStartup); err != nil {
		config.LogError(p.deps.Logger, "ordersync", "Poller.Start", "startup poll cycle", nil, err)
	}

	ticker := time.NewTicker(p.deps.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.flush()
			return nil
		case <-ticker.C:
			enabled, err := PollingEnabled(ctx, p.deps.Settings)
			if err != nil {
				config.LogError(p.deps.Logger, "ordersync", "Poller.Start", "read polling_enabled", nil, err)
				continue
			}
			if !enabled {
				logger.Debug("polling disabled; tick ignored")
				continue
			}
			if _, err := p.RunCycle(ctx, models.SyncTriggeredSchedule); err != nil {
				config.LogError(p.deps.Logger, "ordersync", "Poller.Start", "scheduled poll cycle", nil, err)
			}
		}
	}
}

// RunCycle polls the window [checkpoint, now).
func (p *Poller) RunCycle(ctx context.Context, trigger string) (CycleResult, error) {
	return p.cycle(ctx, trigger, nil)
}

// RunCycleSince polls [since, now) regardless of the stored checkpoint.
func (p *Poller) RunCycleSince(ctx context.Context, trigger string, since time.Time) (CycleResult, error) {
	return p.cycle(ctx, trigger, &since)
}

// LastBoundary is the upper bound of the last completed cycle, zero before the first one.
func (p *Poller) LastBoundary() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastBoundary
}

func (p *Poller) cycle(ctx context.Context, trigger string, since *time.Time) (CycleResult, error) {
	logger := p.deps.Logger.WithFields(logrus.Fields{"module": "poller", "trigger": trigger})

	if !p.running.TryLock() {
		logger.Warn("poll cycle already running; trigger skipped")
		return CycleResult{Skipped: true}, nil
	}
	defer p.running.Unlock()

	if p.deps.Locker != nil {
		lock, err := p.deps.Locker.Obtain(ctx, pollLockKey, pollLockTTL, nil)
		switch {
		case errors.Is(err, redislock.ErrNotObtained):
			logger.Warn("poll cycle running on another instance; trigger skipped")
			return CycleResult{Skipped: true}, nil
		case err != nil:
			logger.WithError(err).Warn("redis poll lock unavailable; continuing with local lock only")
		default:
			defer func() { _ = lock.Release(context.WithoutCancel(ctx)) }()
		}
	}

	upper := p.deps.Now().UTC()
	var lower time.Time
	if since != nil {
		lower = since.UTC()
	} else {
		stored, ok, err := p.deps.Checkpoints.Load(ctx, models.CheckpointOrderPoller)
		if err != nil {
			return CycleResult{}, err
		}
		lower = upper.Add(-initialLookback)
		if ok {
			lower = stored
		}
	}
	result := CycleResult{Start: lower, End: upper}

	ctx, span := tracer.Start(ctx, "ordersync.PollCycle", trace.WithAttributes(
		attribute.String("poll.trigger", trigger),
		attribute.Int64("poll.window_start_ms", lower.UnixMilli()),
		attribute.Int64("poll.window_end_ms", upper.UnixMilli()),
	))
	defer span.End()
	ctx = utils.SetSourceInContext(ctx, sourcePoll)

	run := &models.SyncRun{TriggeredBy: trigger, WindowStartMs: lower.UnixMilli(), WindowEndMs: upper.UnixMilli()}
	if err := p.deps.Runs.Start(ctx, run); err != nil {
		logger.WithError(err).Warn("could not record sync run")
	}
	result.RunId = run.ID
	logger = logger.WithFields(logrus.Fields{"run_id": run.ID, "window_start": lower, "window_end": upper})

	if lower.Before(upper) {
		p.ingestWindow(ctx, logger, run, &result, trigger, lower, upper)
	} else {
		logger.Info("empty poll window; nothing to fetch")
	}

	// the boundary moves even after a list failure; re-ingestion is idempotent and
	// a stuck checkpoint would grow the window without bound
	if !upper.Before(lower) {
		if err := p.deps.Checkpoints.Save(ctx, models.CheckpointOrderPoller, upper); err != nil {
			config.LogError(p.deps.Logger, "ordersync", "Poller.cycle", "save checkpoint", upper, err)
		} else {
			p.mu.Lock()
			p.lastBoundary = upper
			p.mu.Unlock()
		}
	}

	run.OrdersSeen = result.Seen
	run.OrdersOk = result.Ok
	run.ErrorCount = result.Failed
	if result.ListErr != nil {
		run.ErrorCount++
	}
	switch {
	case run.ErrorCount == 0:
		run.Status = models.SyncRunStatusSuccess
	case result.Ok > 0:
		run.Status = models.SyncRunStatusPartial
	default:
		run.Status = models.SyncRunStatusFailed
	}
	if run.ID != 0 {
		if err := p.deps.Runs.Finish(context.WithoutCancel(ctx), run); err != nil {
			logger.WithError(err).Warn("could not finish sync run")
		}
	}
	if run.Status != models.SyncRunStatusSuccess {
		span.SetStatus(codes.Error, run.Status)
	}

	logger.WithFields(logrus.Fields{
		"status": run.Status,
		"seen":   result.Seen,
		"ok":     result.Ok,
		"failed": result.Failed,
	}).Info("poll cycle finished")
	return result, nil
}

func (p *Poller) ingestWindow(ctx context.Context, logger *logrus.Entry, run *models.SyncRun, result *CycleResult, trigger string, lower, upper time.Time) {
	// auto_print_enabled is read per order by the pipeline
	shouldPrint := trigger != models.SyncTriggeredStartup

	token, err := p.deps.Tokens.Token(ctx)
	if err != nil {
		result.ListErr = &AuthError{Err: err}
		p.recordError(ctx, logger, run, models.SyncErrorCodeListPage, "", result.ListErr)
		return
	}

	for summary, err := range p.deps.Upstream.ListCreatedBetween(ctx, token, lower, upper, p.deps.PageSize) {
		if err != nil {
			result.ListErr = err
			p.recordError(ctx, logger, run, models.SyncErrorCodeListPage, "", err)
			break
		}
		result.Seen++
		if p.deps.Pipeline.Process(ctx, summary.NodeId, shouldPrint) {
			result.Ok++
			continue
		}
		result.Failed++
		p.recordError(ctx, logger, run, models.SyncErrorCodeOrder, summary.NodeId, errors.New("ingestion failed for "+summary.Name))
	}
}

func (p *Poller) recordError(ctx context.Context, logger *logrus.Entry, run *models.SyncRun, code, nodeId string, cause error) {
	logger.WithFields(logrus.Fields{"node_id": nodeId, "error_code": code}).WithError(cause).Error("poll cycle error")
	if run.ID == 0 {
		return
	}
	syncErr := &models.SyncError{SyncRunId: run.ID, ErrorCode: code, NodeId: nodeId, Message: cause.Error()}
	if err := p.deps.Runs.RecordError(context.WithoutCancel(ctx), syncErr); err != nil {
		logger.WithError(err).Warn("could not record sync error")
	}
}

// flush re-saves the last completed boundary so a shutdown never leaves a stale checkpoint.
func (p *Poller) flush() {
	boundary := p.LastBoundary()
	if boundary.IsZero() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.deps.Checkpoints.Save(ctx, models.CheckpointOrderPoller, boundary); err != nil {
		config.LogError(p.deps.Logger, "ordersync", "Poller.flush", "save checkpoint on shutdown", boundary, err)
	}
}
