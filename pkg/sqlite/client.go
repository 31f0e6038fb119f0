package sqlite

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/JoeShih716/go-mem-economy/pkg/gormlog"
)

// Config 內嵌 SQLite 檔案設定
type Config struct {
	Path        string        // 資料庫檔案路徑，上層目錄不存在時自動建立
	BusyTimeout time.Duration // 等待檔案鎖的時間，預設 5 秒
	LogLevel    string
}

// DSN 產生 glebarez/sqlite 的連線字串
// 檔案鎖逾時與外鍵以 _pragma 參數設定
func (c *Config) DSN() string {
	timeout := c.BusyTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return fmt.Sprintf("%s?_pragma=busy_timeout(%d)&_pragma=foreign_keys(1)", c.Path, timeout.Milliseconds())
}

// Client 封裝單一連線的 SQLite GORM DB
type Client struct {
	db *gorm.DB
}

// NewClient 開啟 (或建立) SQLite 檔案
//
// 連線池固定為 1，所有讀寫在同一條連線上依序執行
//
// 參數:
//
//	ctx: 上下文
//	cfg: 檔案設定
//	log: zerolog Logger
func NewClient(ctx context.Context, cfg Config, log zerolog.Logger) (*Client, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite: empty path")
	}
	if dir := filepath.Dir(cfg.Path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory %s: %w", dir, err)
		}
	}

	db, err := gorm.Open(sqlite.Open(cfg.DSN()), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlog.New(cfg.LogLevel, log),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", cfg.Path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.db: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", cfg.Path, err)
	}
	return &Client{db: db}, nil
}

// DB 回傳底層的 *gorm.DB
func (c *Client) DB() *gorm.DB {
	return c.db
}

// Close 關閉檔案
func (c *Client) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
