package ordersync

import (
	"context"
	"testing"
	"time"

	"github.com/mmdatafocus/order_printer/allvalue"
	"github.com/mmdatafocus/order_printer/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (f *fixture) poller(now time.Time, ingester Ingester) *Poller {
	if ingester == nil {
		ingester = f.pipeline
	}
	return NewPoller(PollerDeps{
		Tokens:      fakeTokens{},
		Upstream:    f.upstream,
		Settings:    f.settings,
		Checkpoints: f.checkpoints,
		Runs:        f.runs,
		Pipeline:    ingester,
		Logger:      quietLogger(),
		Interval:    time.Hour,
		Now:         func() time.Time { return now },
	})
}

func (f *fixture) checkpoint(t *testing.T) (time.Time, bool) {
	t.Helper()
	cp, ok, err := f.checkpoints.Load(context.Background(), models.CheckpointOrderPoller)
	require.NoError(t, err)
	return cp, ok
}

func TestPollWindowFromCheckpoint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	t0 := time.Unix(1_000, 0).UTC()
	t1 := t0.Add(30 * time.Minute)
	require.NoError(t, f.checkpoints.Save(ctx, models.CheckpointOrderPoller, t0))

	res, err := f.poller(t1, nil).RunCycle(ctx, models.SyncTriggeredManual)
	require.NoError(t, err)
	require.Len(t, f.upstream.windows, 1)
	assert.True(t, f.upstream.windows[0].start.Equal(t0))
	assert.True(t, f.upstream.windows[0].end.Equal(t1))
	assert.True(t, res.Start.Equal(t0))

	cp, ok := f.checkpoint(t)
	require.True(t, ok)
	assert.True(t, cp.Equal(t1))
}

func TestPollWithoutCheckpointLooksBackOneHour(t *testing.T) {
	f := newFixture(t)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	_, err := f.poller(now, nil).RunCycle(context.Background(), models.SyncTriggeredManual)
	require.NoError(t, err)
	require.Len(t, f.upstream.windows, 1)
	assert.True(t, f.upstream.windows[0].start.Equal(now.Add(-time.Hour)))
}

func TestPollDegenerateWindowFetchesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Unix(5_000, 0).UTC()
	require.NoError(t, f.checkpoints.Save(ctx, models.CheckpointOrderPoller, now.Add(time.Minute)))

	res, err := f.poller(now, nil).RunCycle(ctx, models.SyncTriggeredManual)
	require.NoError(t, err)
	assert.Empty(t, f.upstream.windows)
	assert.Zero(t, res.Seen)

	cp, _ := f.checkpoint(t)
	assert.True(t, cp.Equal(now.Add(time.Minute)), "a checkpoint ahead of the clock is not moved back")
}

func TestPollShouldPrintFollowsTrigger(t *testing.T) {
	tests := []struct {
		trigger   string
		autoPrint string
		want      bool
	}{
		{trigger: models.SyncTriggeredStartup, autoPrint: "true", want: false},
		{trigger: models.SyncTriggeredSchedule, autoPrint: "true", want: true},
		{trigger: models.SyncTriggeredManual, autoPrint: "false", want: true},
	}
	for _, tt := range tests {
		t.Run(tt.trigger+"_"+tt.autoPrint, func(t *testing.T) {
			f := newFixture(t)
			require.NoError(t, f.settings.Set(context.Background(), models.SettingAutoPrintEnabled, tt.autoPrint))
			f.upstream.pages = [][]allvalue.OrderSummary{{{NodeId: "n1", Name: "ORD-1"}}}
			ingester := &fakeIngester{result: true}

			_, err := f.poller(time.Now(), ingester).RunCycle(context.Background(), tt.trigger)
			require.NoError(t, err)
			require.Len(t, ingester.calls, 1)
			assert.Equal(t, tt.want, ingester.calls[0].shouldPrint)
		})
	}
}

type afterFirstIngester struct {
	inner Ingester
	after func()
	calls int
}

func (a *afterFirstIngester) Process(ctx context.Context, nodeId string, shouldPrint bool) bool {
	ok := a.inner.Process(ctx, nodeId, shouldPrint)
	a.calls++
	if a.calls == 1 {
		a.after()
	}
	return ok
}

func TestPollAutoPrintToggledMidCycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.settings.Set(ctx, models.SettingDefaultPrinter, "thermal"))
	require.NoError(t, f.settings.Set(ctx, models.SettingAutoPrintEnabled, "false"))
	f.upstream.addOrder("n1", "ORD-1")
	f.upstream.addOrder("n2", "ORD-2")
	f.upstream.pages = [][]allvalue.OrderSummary{{{NodeId: "n1", Name: "ORD-1"}, {NodeId: "n2", Name: "ORD-2"}}}
	ingester := &afterFirstIngester{inner: f.pipeline, after: func() {
		require.NoError(t, f.settings.Set(ctx, models.SettingAutoPrintEnabled, "true"))
	}}

	res, err := f.poller(time.Unix(10_000, 0).UTC(), ingester).RunCycle(ctx, models.SyncTriggeredSchedule)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Ok)

	all, err := f.orders.ListAll(ctx)
	require.NoError(t, err)
	status := map[string]string{}
	for _, o := range all {
		status[o.BusinessId] = o.Status
	}
	assert.Equal(t, models.OrderStatusUnprinted, status["ORD-1"])
	assert.Equal(t, models.OrderStatusPrinted, status["ORD-2"])
	assert.Equal(t, []string{"ORD-2@thermal"}, f.printer.printed)
}

func TestPollPageFailureStillAdvances(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Unix(10_000, 0).UTC()
	f.upstream.pages = [][]allvalue.OrderSummary{
		{{NodeId: "n1", Name: "ORD-1"}},
		{{NodeId: "n2", Name: "ORD-2"}},
	}
	f.upstream.failPage = 1
	ingester := &fakeIngester{result: true}

	res, err := f.poller(now, ingester).RunCycle(ctx, models.SyncTriggeredManual)
	require.NoError(t, err)
	require.Error(t, res.ListErr)
	assert.Equal(t, 1, res.Ok)
	assert.Len(t, ingester.calls, 1)

	cp, ok := f.checkpoint(t)
	require.True(t, ok)
	assert.True(t, cp.Equal(now))

	run, err := f.runs.Get(ctx, res.RunId)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, models.SyncRunStatusPartial, run.Status)
	require.Len(t, run.Errors, 1)
	assert.Equal(t, models.SyncErrorCodeListPage, run.Errors[0].ErrorCode)
}

func TestPollOrderFailureDoesNotAbortBatch(t *testing.T) {
	f := newFixture(t)
	f.upstream.pages = [][]allvalue.OrderSummary{{
		{NodeId: "n1", Name: "ORD-1"},
		{NodeId: "missing", Name: "ORD-X"},
		{NodeId: "n3", Name: "ORD-3"},
	}}
	f.upstream.addOrder("n1", "ORD-1")
	f.upstream.addOrder("n3", "ORD-3")

	res, err := f.poller(time.Now(), nil).RunCycle(context.Background(), models.SyncTriggeredManual)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Seen)
	assert.Equal(t, 2, res.Ok)
	assert.Equal(t, 1, res.Failed)

	all, err := f.orders.ListAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestPollTokenFailureStillAdvances(t *testing.T) {
	f := newFixture(t)
	now := time.Unix(20_000, 0).UTC()
	p := NewPoller(PollerDeps{
		Tokens:      fakeTokens{err: errBoom},
		Upstream:    f.upstream,
		Settings:    f.settings,
		Checkpoints: f.checkpoints,
		Runs:        f.runs,
		Pipeline:    f.pipeline,
		Logger:      quietLogger(),
		Now:         func() time.Time { return now },
	})

	res, err := p.RunCycle(context.Background(), models.SyncTriggeredManual)
	require.NoError(t, err)
	require.Error(t, res.ListErr)
	assert.Empty(t, f.upstream.windows)

	cp, ok := f.checkpoint(t)
	require.True(t, ok)
	assert.True(t, cp.Equal(now))
}

func TestPollSkipsOverlappingCycle(t *testing.T) {
	f := newFixture(t)
	p := f.poller(time.Now(), &fakeIngester{result: true})

	p.running.Lock()
	res, err := p.RunCycle(context.Background(), models.SyncTriggeredSchedule)
	p.running.Unlock()

	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Empty(t, f.upstream.windows)
	_, ok := f.checkpoint(t)
	assert.False(t, ok)
}

func TestPollRunCycleSinceOverridesCheckpoint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Unix(50_000, 0).UTC()
	require.NoError(t, f.checkpoints.Save(ctx, models.CheckpointOrderPoller, now.Add(-time.Minute)))
	since := now.Add(-24 * time.Hour)

	_, err := f.poller(now, &fakeIngester{result: true}).RunCycleSince(ctx, models.SyncTriggeredManual, since)
	require.NoError(t, err)
	require.Len(t, f.upstream.windows, 1)
	assert.True(t, f.upstream.windows[0].start.Equal(since))
}

func TestPollerStartRunsStartupCycleAndFlushes(t *testing.T) {
	f := newFixture(t)
	now := time.Unix(70_000, 0).UTC()
	p := f.poller(now, &fakeIngester{result: true})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Start(ctx) }()

	require.Eventually(t, func() bool { return p.LastBoundary().Equal(now) }, 5*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	f.upstream.mu.Lock()
	windows := len(f.upstream.windows)
	f.upstream.mu.Unlock()
	assert.Equal(t, 1, windows)
	cp, ok := f.checkpoint(t)
	require.True(t, ok)
	assert.True(t, cp.Equal(now))
}

// Order ORD-1001 is created upstream at t=100s, missed by webhooks, and recovered by the
// poll at t=200s. A late duplicate webhook then re-upserts the same row.
func TestEndToEndMissedOrderRecovered(t *testing.T) {
	f := newFixture(t)
	f.enablePrinting(t)
	ctx := context.Background()
	require.NoError(t, f.checkpoints.Save(ctx, models.CheckpointOrderPoller, time.Unix(0, 0)))

	f.upstream.addOrder("gid://order/1001", "ORD-1001")
	f.upstream.pages = [][]allvalue.OrderSummary{{{NodeId: "gid://order/1001", Name: "ORD-1001"}}}

	t200 := time.Unix(200, 0).UTC()
	res, err := f.poller(t200, nil).RunCycle(ctx, models.SyncTriggeredSchedule)
	require.NoError(t, err)
	require.Len(t, f.upstream.windows, 1)
	assert.Equal(t, int64(0), f.upstream.windows[0].start.UnixMilli())
	assert.Equal(t, int64(200_000), f.upstream.windows[0].end.UnixMilli())
	assert.Equal(t, 1, res.Ok)

	order := f.onlyOrder(t)
	assert.Equal(t, "ORD-1001", order.BusinessId)
	assert.Equal(t, models.OrderStatusPrinted, order.Status)
	cp, _ := f.checkpoint(t)
	assert.Equal(t, int64(200_000), cp.UnixMilli())

	// duplicate webhook delivery with polling disabled
	r := newWebhookRouter(f.settings, f.pipeline, testSecret)
	body := []byte(`{"nodeId":"gid://order/1001"}`)
	w := postWebhook(r, body, signedHeaders(body, "orders/paid"))
	require.Equal(t, 200, w.Code, w.Body.String())

	again := f.onlyOrder(t)
	assert.Equal(t, order.ID, again.ID)
	assert.Equal(t, models.OrderStatusPrinted, again.Status)
	assert.Equal(t, int32(1), f.printer.calls.Load())
}
