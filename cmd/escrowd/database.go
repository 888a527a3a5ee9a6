package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adgyapan/escrow/internal/eligibility"
	"github.com/adgyapan/escrow/internal/metrics"
	"github.com/adgyapan/escrow/internal/notify"
	"github.com/adgyapan/escrow/internal/oplog"
	"github.com/adgyapan/escrow/internal/store/gormstore"
	"github.com/adgyapan/escrow/internal/store/migrations"
	"github.com/adgyapan/escrow/internal/store/pgstore"
	"github.com/adgyapan/escrow/pkg/escrow"
	"github.com/glebarez/sqlite"
	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	driverPostgres    = "postgres"
	driverSQLite      = "sqlite"
	defaultSQLiteFile = "escrow.db"
	sqliteMemory      = ":memory:"
	redisTimeout      = 3 * time.Second
)

// storeBackend is satisfied by both gormstore.Store and pgstore.Store.
type storeBackend interface {
	escrow.Store
	escrow.EligibilityProvider
	SaveEnrollment(ctx context.Context, userID escrow.UserID, enrollment escrow.Enrollment, subscription escrow.Subscription, nowUnixUTC int64) error
}

type dependencies struct {
	backend          storeBackend
	eligibility      escrow.EligibilityProvider
	eligibilityCache *eligibility.CachedProvider
	notifier         escrow.Notifier
	registry         *prometheus.Registry
	closers          []func()
}

func (deps *dependencies) Close() {
	for index := len(deps.closers) - 1; index >= 0; index-- {
		deps.closers[index]()
	}
}

func openDependencies(ctx context.Context, cfg *runtimeConfig, logger *zap.Logger) (*dependencies, error) {
	deps := &dependencies{registry: prometheus.NewRegistry()}
	deps.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	gormDB, cleanup, target, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("database open: %w", err)
	}
	deps.closers = append(deps.closers, func() { _ = cleanup() })
	if err := prepareSchema(gormDB, target); err != nil {
		deps.Close()
		return nil, err
	}

	switch cfg.StoreDriver {
	case storeDriverPgx:
		if target.driver != driverPostgres {
			deps.Close()
			return nil, fmt.Errorf("store driver %s requires a postgres database url", storeDriverPgx)
		}
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("pgx pool: %w", err)
		}
		deps.closers = append(deps.closers, pool.Close)
		deps.backend = pgstore.New(pool)
	default:
		deps.backend = gormstore.New(gormDB)
	}
	deps.eligibility = deps.backend

	notifiers := notify.Fanout{notify.NewLogNotifier(logger)}
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		deps.closers = append(deps.closers, func() { _ = client.Close() })
		pingCtx, cancel := context.WithTimeout(ctx, redisTimeout)
		pingErr := client.Ping(pingCtx).Err()
		cancel()
		if pingErr != nil {
			logger.Warn("redis unreachable; cache reads will fall through", zap.String("addr", cfg.RedisAddr), zap.Error(pingErr))
		}
		cache, err := eligibility.NewCachedProvider(deps.backend, client, cfg.EligibilityCacheTTL, eligibility.WithLogger(logger))
		if err != nil {
			deps.Close()
			return nil, err
		}
		deps.eligibilityCache = cache
		deps.eligibility = cache
		publisher, err := notify.NewRedisPublisher(client, cfg.NotifyChannel)
		if err != nil {
			deps.Close()
			return nil, err
		}
		notifiers = append(notifiers, publisher)
	}
	deps.notifier = notifiers
	return deps, nil
}

func (deps *dependencies) newService(cfg *runtimeConfig, logger *zap.Logger) (*escrow.Service, error) {
	clock := func() int64 { return time.Now().UTC().Unix() }
	service, err := escrow.NewService(deps.backend, deps.eligibility, clock,
		escrow.WithCommission(cfg.Commission),
		escrow.WithPlatformAccount(cfg.PlatformAccount),
		escrow.WithPremiumPlans(cfg.PremiumPlans...),
		escrow.WithNotifier(deps.notifier),
		escrow.WithOperationLogger(oplog.Fanout{
			oplog.NewZapLogger(logger),
			metrics.NewOperationMetrics(deps.registry),
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("escrow service init: %w", err)
	}
	return service, nil
}

func runMigrate(ctx context.Context, cfg *runtimeConfig, command string, args ...string) error {
	gormDB, cleanup, target, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer func() { _ = cleanup() }()

	if target.isSQLite() {
		if command != migrations.CommandUp {
			return errors.New("sqlite databases only support migrate up")
		}
		return prepareSchema(gormDB, target)
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		return err
	}
	return migrations.Run(ctx, sqlDB, command, args...)
}

// databaseTarget is a parsed database URL. Bare paths and sqlite:// URLs select SQLite.
type databaseTarget struct {
	driver     string
	dsn        string
	sqlitePath string
}

func parseDatabaseTarget(dsn string) (databaseTarget, error) {
	scheme, _, hasScheme := strings.Cut(dsn, "://")
	if !hasScheme {
		return sqliteTarget(dsn)
	}
	switch strings.ToLower(scheme) {
	case driverPostgres, "postgresql":
		return databaseTarget{driver: driverPostgres, dsn: dsn}, nil
	case driverSQLite:
		parsed, err := url.Parse(dsn)
		if err != nil {
			return databaseTarget{}, fmt.Errorf("parse sqlite url: %w", err)
		}
		path := parsed.Path
		if path == "" {
			path = parsed.Host
		}
		if path == "" || path == "/" {
			path = defaultSQLiteFile
		}
		return sqliteTarget(path)
	default:
		return databaseTarget{}, fmt.Errorf("unsupported database scheme %q", scheme)
	}
}

// sqliteTarget creates the parent directory of a file database.
func sqliteTarget(path string) (databaseTarget, error) {
	if path != sqliteMemory {
		path = filepath.Clean(path)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return databaseTarget{}, fmt.Errorf("sqlite directory: %w", err)
		}
	}
	return databaseTarget{driver: driverSQLite, sqlitePath: path}, nil
}

func (target databaseTarget) isSQLite() bool {
	return target.driver == driverSQLite
}

func (target databaseTarget) dialector() gorm.Dialector {
	if target.isSQLite() {
		return sqlite.Open(target.sqlitePath)
	}
	return postgres.Open(target.dsn)
}

// open connects through GORM. SQLite has no row locks; one connection serializes transactions.
func (target databaseTarget) open(ctx context.Context) (*gorm.DB, func() error, error) {
	db, err := gorm.Open(target.dialector(), &gorm.Config{})
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	if target.isSQLite() {
		sqlDB.SetMaxOpenConns(1)
	}
	return db.WithContext(ctx), sqlDB.Close, nil
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, databaseTarget, error) {
	target, err := parseDatabaseTarget(dsn)
	if err != nil {
		return nil, nil, databaseTarget{}, err
	}
	db, cleanup, err := target.open(ctx)
	if err != nil {
		return nil, nil, databaseTarget{}, err
	}
	return db, cleanup, target, nil
}

// prepareSchema auto-migrates SQLite; PostgreSQL schemas come from the goose migrations.
func prepareSchema(db *gorm.DB, target databaseTarget) error {
	if !target.isSQLite() {
		return nil
	}
	if err := db.AutoMigrate(gormstore.Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
