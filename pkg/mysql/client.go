package mysql

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/JoeShih716/go-mem-economy/pkg/gormlog"
)

// Client 封裝 GORM DB 實例
type Client struct {
	db *gorm.DB
}

// NewClient 建立並回傳一個新的 MySQL 客戶端實例 (GORM)
//
// 參數:
//
//	ctx: 上下文 (取消時停止重試)
//	cfg: Config - MySQL 連線配置
//	log: zerolog Logger
//
// 回傳值:
//
//	*Client: 封裝後的 MySQL 客戶端
//	error: 若連線失敗則回傳錯誤
func NewClient(ctx context.Context, cfg Config, log zerolog.Logger) (*Client, error) {
	cfg = cfg.withDefaults()

	gormConfig := &gorm.Config{
		// 預設跳過事務模式，批次寫入與轉帳會明確開啟 Transaction
		SkipDefaultTransaction: true,
		Logger:                 gormlog.New(cfg.LogLevel, log),
	}

	var db *gorm.DB
	var err error

	for i := 0; i < cfg.MaxRetries; i++ {
		db, err = gorm.Open(mysql.Open(cfg.DSN()), gormConfig)
		if err == nil {
			rawDB, dbErr := db.DB()
			if dbErr == nil {
				if err = rawDB.PingContext(ctx); err == nil {
					break
				}
				_ = rawDB.Close()
			} else {
				err = dbErr
			}
		}

		if i < cfg.MaxRetries-1 {
			log.Warn().Err(err).
				Int("attempt", i+1).
				Int("max_attempts", cfg.MaxRetries).
				Dur("retry_in", cfg.RetryInterval).
				Msg("Failed to connect to MySQL, retrying")
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("connect to mysql: %w", ctx.Err())
			case <-time.After(cfg.RetryInterval):
			}
		}
	}

	if err != nil {
		return nil, fmt.Errorf("failed to connect to mysql after %d attempts: %w", cfg.MaxRetries, err)
	}

	// 取得底層 sql.DB 物件以設定連線池
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.db: %w", err)
	}

	// 連線池上限即 pool-size，避免高負載時耗盡資料庫連線
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	return &Client{db: db}, nil
}

// DB 回傳底層的 *gorm.DB 實例，供 adapter 使用
func (c *Client) DB() *gorm.DB {
	return c.db
}

// Close 關閉資料庫連線
func (c *Client) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
