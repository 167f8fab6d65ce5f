package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/order_printer/app"
	"github.com/mmdatafocus/order_printer/config"
	"github.com/mmdatafocus/order_printer/middlewares"
	"github.com/mmdatafocus/order_printer/models"
	"github.com/mmdatafocus/order_printer/utils"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const serviceName = "order-sync-service"

func main() {
	logger := config.GetLogger()

	settings, err := config.Load()
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "config"}).Fatal(err)
	}
	if settings.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	shutdownTelemetry := config.SetupTelemetry(sigCtx, serviceName, settings.OTLPEndpoint)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	db, err := config.ConnectDatabaseWithRetry(sigCtx, settings)
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "database"}).Fatal(err)
	}
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()

	if !utils.EnvBoolDefault("SKIP_MIGRATIONS", false) {
		if err := models.MigrateTable(sigCtx, db); err != nil {
			logger.WithFields(logrus.Fields{"field": "migrations"}).Fatal(err)
		}
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	rdb, lock, err := config.ConnectRedisWithRetry(sigCtx, settings.RedisAddress)
	if err != nil {
		// Redis only backs the token cache and the cross-instance poll lock.
		logger.WithFields(logrus.Fields{"field": "redis"}).Warnf("continuing without redis: %v", err)
		rdb, lock = nil, nil
	}
	if rdb != nil {
		defer rdb.Close()
	}

	a, err := app.New(sigCtx, settings, db, rdb, lock)
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "wiring"}).Fatal(err)
	}
	defer a.Close()

	srv := &http.Server{
		Addr:              ":" + settings.Port,
		Handler:           newRouter(a, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(sigCtx)
	g.Go(func() error {
		logger.WithFields(logrus.Fields{"field": "server", "port": settings.Port}).Info("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return a.Poller.Start(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.WithFields(logrus.Fields{"field": "server"}).Error(err)
	}
	logger.WithFields(logrus.Fields{"field": "server"}).Info("stopped")
}

// corsHandler returns nil in production when no origins are configured, which leaves
// cross-origin requests unanswered.
func corsHandler(s config.Settings) gin.HandlerFunc {
	corsConfig := cors.DefaultConfig()
	if s.IsProduction() {
		if len(s.CORSAllowedOrigins) == 0 {
			return nil
		}
		corsConfig.AllowOrigins = s.CORSAllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "OPTIONS")
	corsConfig.AddAllowHeaders("Origin", "Content-Type", "Authorization", middlewares.CorrelationIdHeader)
	corsConfig.AddExposeHeaders("Content-Length", middlewares.CorrelationIdHeader)
	return cors.New(corsConfig)
}

func newRouter(a *app.App, logger *logrus.Logger) *gin.Engine {
	r := gin.New()
	r.Use(middlewares.CorrelationId())

	if h := corsHandler(a.Settings); h != nil {
		r.Use(h)
	}

	r.Use(middlewares.RequestLogger(logger))
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		sqlDB, err := a.DB.DB()
		if err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "database unavailable"})
			return
		}
		c.Status(http.StatusNoContent)
	})
	r.POST("/webhook", a.Webhook.Handle())
	a.Admin.Register(r)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})
	return r
}
