package app

import (
	"context"
	"fmt"
	"os"

	"github.com/bsm/redislock"
	"github.com/mmdatafocus/order_printer/allvalue"
	"github.com/mmdatafocus/order_printer/config"
	"github.com/mmdatafocus/order_printer/models"
	"github.com/mmdatafocus/order_printer/ordersync"
	"github.com/mmdatafocus/order_printer/printing"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// App holds the wired components shared by the service and the ops CLI.
type App struct {
	Settings config.Settings
	Logger   *logrus.Logger

	DB    *gorm.DB
	Redis *redis.Client
	Lock  *redislock.Client

	Orders      *models.OrderStore
	Store       *models.SettingStore
	Checkpoints *models.CheckpointStore
	Runs        *models.SyncRunStore

	Spooler    *printing.CUPSSpooler
	Dispatcher *printing.Dispatcher
	Pipeline   *ordersync.Pipeline
	Poller     *ordersync.Poller
	Webhook    *ordersync.WebhookHandler
	Admin      *ordersync.AdminAPI

	closers []func()
}

// New wires every component on top of an open database. rdb and lock may be nil.
func New(ctx context.Context, s config.Settings, db *gorm.DB, rdb *redis.Client, lock *redislock.Client) (*App, error) {
	a := &App{
		Settings:    s,
		Logger:      config.GetLogger(),
		DB:          db,
		Redis:       rdb,
		Lock:        lock,
		Orders:      models.NewOrderStore(db),
		Store:       models.NewSettingStore(db),
		Checkpoints: models.NewCheckpointStore(db),
		Runs:        models.NewSyncRunStore(db),
		Spooler:     printing.NewCUPSSpooler(),
	}

	client, err := allvalue.NewClient(allvalue.Options{
		Endpoint:        s.GraphQLEndpoint,
		Timeout:         s.HTTPTimeout,
		RateLimitPerMin: s.RateLimitPerMin,
	})
	if err != nil {
		return nil, err
	}
	tokens := a.tokenSource()

	pdf := &printing.PDFBackend{
		Spooler:  a.Spooler,
		FontPath: s.PDFFontPath,
		TempDir:  os.TempDir(),
		Logger:   a.Logger,
	}
	switch {
	case s.PDFArchiveBucket != "":
		archiver, err := printing.NewGCSArchiver(ctx, s.PDFArchiveBucket, "receipts")
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("pdf archive: %w", err)
		}
		a.closers = append(a.closers, func() { _ = archiver.Close() })
		pdf.Archiver = archiver
	case s.PDFArchiveDir != "":
		pdf.Archiver = printing.DirArchiver{Dir: s.PDFArchiveDir}
	}

	shopName := s.ShopDisplayName
	if shopName == "" {
		shopName = s.ShopName
	}
	a.Dispatcher = printing.NewDispatcher(shopName, a.Logger, map[printing.Method]printing.Backend{
		printing.MethodESCPOS: &printing.ESCPOSBackend{Spooler: a.Spooler},
		printing.MethodPDF:    pdf,
	})

	var events ordersync.EventPublisher
	if s.OrderEventsTopic != "" {
		psClient, err := config.NewPubSubClient(ctx, s.PubSubProjectID)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("order events: %w", err)
		}
		publisher := ordersync.NewPubSubPublisher(psClient, s.OrderEventsTopic)
		a.closers = append(a.closers, func() {
			publisher.Stop()
			_ = psClient.Close()
		})
		events = publisher
	}

	a.Pipeline = ordersync.NewPipeline(ordersync.PipelineDeps{
		Tokens:   tokens,
		Upstream: client,
		Orders:   a.Orders,
		Settings: a.Store,
		Printer:  a.Dispatcher,
		Events:   events,
		Logger:   a.Logger,
	})
	a.Poller = ordersync.NewPoller(ordersync.PollerDeps{
		Tokens:      tokens,
		Upstream:    client,
		Settings:    a.Store,
		Checkpoints: a.Checkpoints,
		Runs:        a.Runs,
		Pipeline:    a.Pipeline,
		Locker:      lock,
		Logger:      a.Logger,
		Interval:    s.PollInterval,
		PageSize:    s.PollPageSize,
	})
	a.Webhook = ordersync.NewWebhookHandler(ordersync.WebhookConfig{
		Secret:     s.WebhookSecret,
		ShopDomain: s.ShopDomain,
		ShopHeader: s.ShopHeader,
	}, a.Store, a.Pipeline, a.Logger)
	a.Admin = ordersync.NewAdminAPI(ordersync.AdminDeps{
		Orders:      a.Orders,
		Settings:    a.Store,
		Printer:     a.Dispatcher,
		Printers:    a.Spooler,
		Poller:      a.Poller,
		Runs:        a.Runs,
		Checkpoints: a.Checkpoints,
		AdminToken:  s.AdminAPIToken,
		Logger:      a.Logger,
	})
	return a, nil
}

func (a *App) tokenSource() allvalue.TokenSource {
	if a.Settings.OAuthClientID == "" {
		return allvalue.StaticToken(a.Settings.PermanentToken)
	}
	return allvalue.NewOAuthTokenSource(allvalue.OAuthConfig{
		ClientID:     a.Settings.OAuthClientID,
		ClientSecret: a.Settings.OAuthClientSecret,
		TokenURL:     a.Settings.OAuthTokenURL,
	}, a.Redis, a.Logger)
}

// Close releases the optional cloud clients. The database and redis are owned by the caller.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
