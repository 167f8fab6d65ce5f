package config

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/mmdatafocus/order_printer/utils"
	"github.com/sirupsen/logrus"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

// ConnectDatabaseWithRetry opens the configured database, retrying with capped exponential
// backoff until ctx is done or five minutes have passed.
func ConnectDatabaseWithRetry(ctx context.Context, s Settings) (*gorm.DB, error) {
	dialector, err := dialectorFor(s)
	if err != nil {
		return nil, err
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = time.Second
	expBackoff.MaxInterval = 30 * time.Second
	expBackoff.MaxElapsedTime = 5 * time.Minute

	var db *gorm.DB
	attempt := 0
	operation := func() error {
		attempt++
		var openErr error
		db, openErr = gorm.Open(dialector, initConfig())
		if openErr != nil {
			return openErr
		}
		sqlDB, derr := db.DB()
		if derr != nil {
			return derr
		}
		return sqlDB.PingContext(ctx)
	}
	notify := func(err error, wait time.Duration) {
		GetLogger().WithFields(logrus.Fields{
			"field":   "database",
			"driver":  s.DBDriver,
			"attempt": attempt,
		}).Warnf("failed to connect database: %v; retrying in %s", err, wait)
	}
	if err := backoff.RetryNotify(operation, backoff.WithContext(expBackoff, ctx), notify); err != nil {
		return nil, fmt.Errorf("connect database after %d attempts: %w", attempt, err)
	}

	tunePool(db, s.DBDriver)
	if pluginErr := db.Use(otelgorm.NewPlugin()); pluginErr != nil {
		log.Printf("db connected but failed to install otelgorm plugin: %v", pluginErr)
	}
	GetLogger().WithFields(logrus.Fields{"field": "database", "driver": s.DBDriver, "attempt": attempt}).Info("connected to database")
	return db, nil
}

// OpenDatabase opens a database once without retry. Used by the ops CLI and tests.
func OpenDatabase(s Settings) (*gorm.DB, error) {
	dialector, err := dialectorFor(s)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialector, initConfig())
	if err != nil {
		return nil, err
	}
	tunePool(db, s.DBDriver)
	return db, nil
}

func dialectorFor(s Settings) (gorm.Dialector, error) {
	switch s.DBDriver {
	case "mysql":
		cfg := mysqlDriver.NewConfig()
		cfg.User = s.DBUser
		cfg.Passwd = s.DBPassword
		cfg.DBName = s.DBName
		cfg.Net = "tcp"
		cfg.Addr = fmt.Sprintf("%s:%s", s.DBHost, s.DBPort)
		// Cloud SQL: when DB_HOST is "/cloudsql/<CONNECTION_NAME>", connect over the
		// Unix socket provided by the Cloud SQL Auth Proxy.
		if strings.HasPrefix(s.DBHost, "/cloudsql/") {
			cfg.Net = "unix"
			cfg.Addr = s.DBHost
		}
		cfg.ParseTime = true
		cfg.Loc = time.UTC
		cfg.Params = map[string]string{"charset": "utf8mb4"}
		return mysql.Open(cfg.FormatDSN()), nil
	case "postgres":
		dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
			s.DBHost, s.DBPort, s.DBUser, s.DBPassword, s.DBName, utils.EnvString("disable", "DB_SSLMODE"))
		return postgres.Open(dsn), nil
	case "sqlite", "":
		path := s.DBPath
		if path == "" {
			path = "data/orders.db"
		}
		if !strings.HasPrefix(path, "file:") && path != ":memory:" {
			if dir := filepath.Dir(path); dir != "." {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return nil, fmt.Errorf("create sqlite dir: %w", err)
				}
			}
			path = "file:" + path + "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"
		}
		return sqlite.Open(path), nil
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", s.DBDriver)
	}
}

// tunePool sizes database/sql for the driver.
// Env overrides (optional):
// - DB_MAX_OPEN_CONNS (default 20)
// - DB_MAX_IDLE_CONNS (default 10)
// - DB_CONN_MAX_LIFETIME_SECONDS (default 300)
func tunePool(db *gorm.DB, driver string) {
	sqlDB, err := db.DB()
	if err != nil || sqlDB == nil {
		return
	}
	if driver == "sqlite" || driver == "" {
		// SQLite only supports one writer at a time.
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
		return
	}
	maxOpen := utils.IntFromEnv("DB_MAX_OPEN_CONNS", 20)
	maxIdle := utils.IntFromEnv("DB_MAX_IDLE_CONNS", 10)
	connMaxLife := time.Duration(utils.IntFromEnv("DB_CONN_MAX_LIFETIME_SECONDS", 300)) * time.Second
	if maxOpen > 0 {
		sqlDB.SetMaxOpenConns(maxOpen)
	}
	if maxIdle >= 0 {
		sqlDB.SetMaxIdleConns(maxIdle)
	}
	if connMaxLife > 0 {
		sqlDB.SetConnMaxLifetime(connMaxLife)
	}
}

func initConfig() *gorm.Config {
	return &gorm.Config{
		Logger:         initLog(),
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		NowFunc:        func() time.Time { return time.Now().UTC() },
	}
}

func initLog() logger.Interface {
	return logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			Colorful:                  false,
			LogLevel:                  logger.Error,
			SlowThreshold:             time.Second,
			IgnoreRecordNotFoundError: true,
		},
	)
}
