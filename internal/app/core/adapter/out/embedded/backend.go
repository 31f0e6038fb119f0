package embedded

import (
	"context"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/JoeShih716/go-mem-economy/internal/app/core/adapter/out/sqlstore"
	"github.com/JoeShih716/go-mem-economy/internal/app/core/config"
	"github.com/JoeShih716/go-mem-economy/internal/app/core/usecase"
	"github.com/JoeShih716/go-mem-economy/pkg/sqlite"
)

// DefaultTable embedded 後端的預設資料表名稱
const DefaultTable = "balances"

// Backend 單一 SQLite 檔案的儲存後端
// 只開一條連線，所有查詢與 transaction 依序執行
type Backend struct {
	*sqlstore.Store
	path string
}

// New 依設定建立 embedded 後端，Initialize 時才開啟檔案
//
// 參數:
//
//	db: 資料庫設定 (使用 File、Table、LogLevel)
//	log: zerolog Logger
func New(db config.Database, log zerolog.Logger) *Backend {
	table := db.Table
	if table == "" {
		table = DefaultTable
	}
	cfg := sqlite.Config{
		Path:     db.File,
		LogLevel: db.LogLevel,
	}
	open := func(ctx context.Context) (*gorm.DB, func() error, error) {
		client, err := sqlite.NewClient(ctx, cfg, log)
		if err != nil {
			return nil, nil, err
		}
		return client.DB(), client.Close, nil
	}
	return &Backend{
		Store: sqlstore.NewStore("embedded", table, open, log),
		path:  db.File,
	}
}

// Path 資料庫檔案路徑
func (b *Backend) Path() string {
	return b.path
}

var _ usecase.Backend = (*Backend)(nil)
