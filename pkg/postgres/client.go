package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/JoeShih716/go-mem-economy/pkg/gormlog"
)

// Client 封裝 PostgreSQL 的 GORM DB 實例 (底層驅動為 pgx)
type Client struct {
	db *gorm.DB
}

// NewClient 建立 PostgreSQL 客戶端，連線失敗時依設定重試
//
// 參數:
//
//	ctx: 上下文
//	cfg: 連線設定
//	log: zerolog Logger
func NewClient(ctx context.Context, cfg Config, log zerolog.Logger) (*Client, error) {
	cfg = cfg.withDefaults()

	gormConfig := &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlog.New(cfg.LogLevel, log),
	}

	var db *gorm.DB
	var err error
	for attempt := 1; attempt <= cfg.MaxRetries; attempt++ {
		db, err = open(ctx, cfg, gormConfig)
		if err == nil {
			break
		}
		if attempt == cfg.MaxRetries {
			break
		}
		log.Warn().Err(err).
			Int("attempt", attempt).
			Int("max_attempts", cfg.MaxRetries).
			Msg("Failed to connect to PostgreSQL, retrying")
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("connect to postgres: %w", ctx.Err())
		case <-time.After(cfg.RetryInterval):
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres after %d attempts: %w", cfg.MaxRetries, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.db: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	return &Client{db: db}, nil
}

func open(ctx context.Context, cfg Config, gormConfig *gorm.Config) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), gormConfig)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// DB 回傳底層的 *gorm.DB
func (c *Client) DB() *gorm.DB {
	return c.db
}

// Close 關閉連線池
func (c *Client) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
