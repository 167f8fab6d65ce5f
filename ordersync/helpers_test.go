package ordersync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mmdatafocus/order_printer/allvalue"
	"github.com/mmdatafocus/order_printer/models"
	"github.com/mmdatafocus/order_printer/printing"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, models.MigrateTable(context.Background(), db))
	return db
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type fakeTokens struct {
	err error
}

func (f fakeTokens) Token(context.Context) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "tok", nil
}

type window struct {
	start, end time.Time
}

type fakeUpstream struct {
	mu       sync.Mutex
	orders   map[string]allvalue.RawOrder
	fetchErr error
	pages    [][]allvalue.OrderSummary
	// failPage makes the page with this index fail; -1 disables it.
	failPage int
	windows  []window
	fetches  []string
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{orders: map[string]allvalue.RawOrder{}, failPage: -1}
}

func (f *fakeUpstream) addOrder(nodeId, name string) {
	f.orders[nodeId] = allvalue.RawOrder{
		Name:      allvalue.FlexString(name),
		CreatedAt: "2024-01-01T00:01:40Z",
		LineItems: []allvalue.RawLineItem{{Name: "Tea", Quantity: "1"}},
		TotalPrice: &allvalue.RawPriceSet{ShopMoney: &allvalue.RawMoney{
			Amount: "9.90", CurrencyCode: "USD",
		}},
	}
}

func (f *fakeUpstream) FetchOrder(_ context.Context, _ string, nodeId string) (allvalue.RawOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches = append(f.fetches, nodeId)
	if f.fetchErr != nil {
		return allvalue.RawOrder{}, f.fetchErr
	}
	raw, ok := f.orders[nodeId]
	if !ok {
		return allvalue.RawOrder{}, &allvalue.UpstreamError{Op: "fetch order", Message: "not found"}
	}
	return raw, nil
}

func (f *fakeUpstream) ListCreatedBetween(_ context.Context, _ string, start, end time.Time, _ int) iter.Seq2[allvalue.OrderSummary, error] {
	f.mu.Lock()
	f.windows = append(f.windows, window{start: start, end: end})
	pages := f.pages
	failPage := f.failPage
	f.mu.Unlock()

	return func(yield func(allvalue.OrderSummary, error) bool) {
		for i, page := range pages {
			if i == failPage {
				yield(allvalue.OrderSummary{}, &allvalue.UpstreamError{Op: "list orders", StatusCode: 502, Message: "bad gateway"})
				return
			}
			for _, s := range page {
				if !yield(s, nil) {
					return
				}
			}
		}
	}
}

type fakePrinter struct {
	calls   atomic.Int32
	err     error
	mu      sync.Mutex
	printed []string
}

func (f *fakePrinter) Print(_ context.Context, payload models.OrderPayload, printer string, _ printing.Method) error {
	f.calls.Add(1)
	f.mu.Lock()
	f.printed = append(f.printed, payload.OrderId+"@"+printer)
	f.mu.Unlock()
	return f.err
}

type mapSettings struct {
	mu     sync.Mutex
	values map[string]string
	err    error
}

func newMapSettings(kv ...string) *mapSettings {
	s := &mapSettings{values: map[string]string{}}
	for i := 0; i+1 < len(kv); i += 2 {
		s.values[kv[i]] = kv[i+1]
	}
	return s
}

func (s *mapSettings) Get(_ context.Context, name string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", false, s.err
	}
	v, ok := s.values[name]
	return v, ok, nil
}

type fixture struct {
	db          *gorm.DB
	orders      *models.OrderStore
	settings    *models.SettingStore
	checkpoints *models.CheckpointStore
	runs        *models.SyncRunStore
	upstream    *fakeUpstream
	printer     *fakePrinter
	pipeline    *Pipeline
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := newTestDB(t)
	f := &fixture{
		db:          db,
		orders:      models.NewOrderStore(db),
		settings:    models.NewSettingStore(db),
		checkpoints: models.NewCheckpointStore(db),
		runs:        models.NewSyncRunStore(db),
		upstream:    newFakeUpstream(),
		printer:     &fakePrinter{},
	}
	f.pipeline = NewPipeline(PipelineDeps{
		Tokens:   fakeTokens{},
		Upstream: f.upstream,
		Orders:   f.orders,
		Settings: f.settings,
		Printer:  f.printer,
		Logger:   quietLogger(),
	})
	return f
}

func (f *fixture) enablePrinting(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.settings.Set(ctx, models.SettingAutoPrintEnabled, "true"))
	require.NoError(t, f.settings.Set(ctx, models.SettingDefaultPrinter, "thermal"))
}

func (f *fixture) onlyOrder(t *testing.T) models.Order {
	t.Helper()
	all, err := f.orders.ListAll(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)
	return all[0]
}

var errBoom = errors.New("boom")
