package usecase

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/JoeShih716/go-mem-economy/internal/app/core/config"
	"github.com/JoeShih716/go-mem-economy/internal/app/core/domain"
)

// Backend 是持久化儲存的介面 (embedded 檔案、networked 資料庫或測試用的記憶體實作)
type Backend interface {
	// Initialize 開啟儲存並建立資料表 (已存在則略過)
	Initialize(ctx context.Context) error
	// Shutdown 釋放所有連線，可重複呼叫
	Shutdown()

	// HasBalance 帳戶是否有持久化的資料列
	HasBalance(ctx context.Context, id uuid.UUID) (bool, error)
	// LoadBalance 讀取餘額，found=false 代表尚未建立 (與餘額為 0 不同)
	LoadBalance(ctx context.Context, id uuid.UUID) (balance decimal.Decimal, found bool, err error)
	// SaveBalance upsert 單筆
	SaveBalance(ctx context.Context, id uuid.UUID, balance decimal.Decimal) error
	// SaveBalances 在同一個 transaction 中 upsert 全部，失敗時整批不寫入
	SaveBalances(ctx context.Context, balances map[uuid.UUID]decimal.Decimal) error
	// DeleteBalance 刪除資料列，不存在時不做事
	DeleteBalance(ctx context.Context, id uuid.UUID) error

	// TopBalances 依餘額由大到小排序，同額時依帳戶 ID 字典序
	TopBalances(ctx context.Context, limit int) ([]domain.BalanceEntry, error)
	// TotalBalance 所有餘額總和，沒有資料時回傳 0
	TotalBalance(ctx context.Context) (decimal.Decimal, error)
	// PlayerCount 帳戶數量
	PlayerCount(ctx context.Context) (int64, error)

	// ExecuteTransfer 在同一個 transaction 中寫入雙方的新餘額
	ExecuteTransfer(ctx context.Context, from uuid.UUID, fromBalance decimal.Decimal, to uuid.UUID, toBalance decimal.Decimal) error

	// Name 後端名稱 (log 使用)
	Name() string
}

// SettingsSource 提供目前生效的設定快照
type SettingsSource interface {
	Current() *config.Settings
}
