package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/push-engine/internal/config"
	"github.com/kursadbilgin/push-engine/internal/handler"
	"github.com/kursadbilgin/push-engine/internal/infra/mongodb"
	"github.com/kursadbilgin/push-engine/internal/infra/postgresql"
	"github.com/kursadbilgin/push-engine/internal/infra/postgresql/migrations"
	"github.com/kursadbilgin/push-engine/internal/infra/sqlite"
	"github.com/kursadbilgin/push-engine/internal/repository"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Stores groups the repositories of the configured STORE_DRIVER.
type Stores struct {
	Subscriptions repository.SubscriptionRepository
	Pending       repository.PendingRepository
	Notifications repository.NotificationRepository

	Health handler.HealthCheck
	close  func(ctx context.Context) error
}

func (s *Stores) Close(ctx context.Context) error {
	if s == nil || s.close == nil {
		return nil
	}
	return s.close(ctx)
}

func OpenStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Stores, error) {
	switch cfg.StoreDriver {
	case config.StoreMongo:
		client, db, err := mongodb.NewMongo(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, err
		}
		if err := mongodb.EnsureIndexes(ctx, db); err != nil {
			_ = client.Disconnect(ctx)
			return nil, err
		}
		logger.Info("mongo store ready", zap.String("database", cfg.MongoDatabase))

		return &Stores{
			Subscriptions: repository.NewMongoSubscriptionRepo(db),
			Pending:       repository.NewMongoPendingRepo(db),
			Notifications: repository.NewMongoNotificationRepo(db),
			Health: handler.HealthCheck{
				Name: "mongo",
				Ping: func(ctx context.Context) error { return client.Ping(ctx, readpref.Primary()) },
			},
			close: client.Disconnect,
		}, nil

	case config.StorePostgres:
		db, err := postgresql.NewPostgres(ctx, cfg.DatabaseDSN, postgresql.PoolConfig{
			MaxOpenConns:    cfg.DBMaxOpenConns,
			MaxIdleConns:    cfg.DBMaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.DBConnMaxLifetimeSec) * time.Second,
		})
		if err != nil {
			return nil, err
		}
		return gormStores(db, "postgres", logger)

	case config.StoreSQLite:
		db, err := sqlite.NewSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return gormStores(db, "sqlite", logger)

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

func gormStores(db *gorm.DB, name string, logger *zap.Logger) (*Stores, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("%s underlying db init failed: %w", name, err)
	}
	if err := migrations.Migrate(db); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("database migrations failed: %w", err)
	}
	logger.Info("relational store ready", zap.String("driver", name))

	return &Stores{
		Subscriptions: repository.NewGormSubscriptionRepo(db),
		Pending:       repository.NewGormPendingRepo(db),
		Notifications: repository.NewGormNotificationRepo(db),
		Health:        handler.HealthCheck{Name: name, Ping: sqlDB.PingContext},
		close:         func(context.Context) error { return sqlDB.Close() },
	}, nil
}
