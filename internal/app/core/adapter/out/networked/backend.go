package networked

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/JoeShih716/go-mem-economy/internal/app/core/adapter/out/sqlstore"
	"github.com/JoeShih716/go-mem-economy/internal/app/core/config"
	"github.com/JoeShih716/go-mem-economy/internal/app/core/usecase"
	"github.com/JoeShih716/go-mem-economy/pkg/mysql"
	"github.com/JoeShih716/go-mem-economy/pkg/postgres"
)

// DefaultTable networked 後端的預設資料表名稱
const DefaultTable = "simpleeconomy_balances"

// connectRetryInterval 連線重試間隔
const connectRetryInterval = 2 * time.Second

// Backend 連線池式的資料庫後端 (MySQL 或 PostgreSQL)
type Backend struct {
	*sqlstore.Store
	dialect config.BackendType
}

// New 依設定建立 networked 後端，Initialize 時才連線
//
// 參數:
//
//	db: 資料庫設定 (Type 必須是 mysql 或 postgres)
//	log: zerolog Logger
//
// 回傳:
//
//	*Backend: 後端實例
//	error: 不支援的資料庫類型
func New(db config.Database, log zerolog.Logger) (*Backend, error) {
	table := db.Table
	if table == "" {
		table = DefaultTable
	}

	var open sqlstore.Opener
	switch db.Type {
	case config.BackendMySQL:
		open = mysqlOpener(db, log)
	case config.BackendPostgres:
		open = postgresOpener(db, log)
	default:
		return nil, fmt.Errorf("networked backend does not support %q", db.Type)
	}

	return &Backend{
		Store:   sqlstore.NewStore("networked-"+string(db.Type), table, open, log),
		dialect: db.Type,
	}, nil
}

// Dialect 資料庫類型
func (b *Backend) Dialect() config.BackendType {
	return b.dialect
}

func mysqlOpener(db config.Database, log zerolog.Logger) sqlstore.Opener {
	cfg := mysql.Config{
		Host:          db.Host,
		Port:          db.Port,
		User:          db.Username,
		Password:      db.Password,
		DBName:        db.Name,
		MaxOpenConns:  db.PoolSize,
		MaxRetries:    db.ConnectRetries,
		RetryInterval: connectRetryInterval,
		LogLevel:      db.LogLevel,
	}
	return func(ctx context.Context) (*gorm.DB, func() error, error) {
		client, err := mysql.NewClient(ctx, cfg, log)
		if err != nil {
			return nil, nil, err
		}
		return client.DB(), client.Close, nil
	}
}

func postgresOpener(db config.Database, log zerolog.Logger) sqlstore.Opener {
	cfg := postgres.Config{
		Host:          db.Host,
		Port:          db.Port,
		User:          db.Username,
		Password:      db.Password,
		DBName:        db.Name,
		MaxOpenConns:  db.PoolSize,
		MaxRetries:    db.ConnectRetries,
		RetryInterval: connectRetryInterval,
		LogLevel:      db.LogLevel,
	}
	return func(ctx context.Context) (*gorm.DB, func() error, error) {
		client, err := postgres.NewClient(ctx, cfg, log)
		if err != nil {
			return nil, nil, err
		}
		return client.DB(), client.Close, nil
	}
}

var _ usecase.Backend = (*Backend)(nil)
