package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/JoeShih716/go-mem-economy/internal/app/core/domain"
	"github.com/JoeShih716/go-mem-economy/internal/app/core/usecase"
)

// Backend 以 Map 實作的儲存後端，用於測試與不需要持久化的情境
//
// 結構:
//
//	rows: 帳戶餘額 Map
//	mu: RWMutex 保護 rows 與錯誤注入欄位
//	failWrites/failTransfers/failReads: 注入的錯誤，非 nil 時對應操作直接失敗
type Backend struct {
	mu   sync.RWMutex
	rows map[uuid.UUID]decimal.Decimal

	initialized bool
	closed      bool

	failWrites    error
	failTransfers error
	failReads     error

	saveBatches int
}

// NewBackend 建立空的記憶體後端
func NewBackend() *Backend {
	return &Backend{
		rows: make(map[uuid.UUID]decimal.Decimal),
	}
}

// Name 後端名稱
func (b *Backend) Name() string {
	return "memory"
}

// Initialize 標記為可用，關閉後可重新初始化
func (b *Backend) Initialize(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.initialized = true
	b.closed = false
	return nil
}

// Shutdown 標記為關閉，資料保留以便測試檢查
func (b *Backend) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}

// FailWrites 讓 SaveBalance / SaveBalances / DeleteBalance 回傳 err (nil 恢復正常)
func (b *Backend) FailWrites(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failWrites = err
}

// FailTransfers 讓 ExecuteTransfer 回傳 err
func (b *Backend) FailTransfers(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failTransfers = err
}

// FailReads 讓所有讀取操作回傳 err
func (b *Backend) FailReads(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failReads = err
}

// Stored 直接讀取持久化的值，不經過錯誤注入 (測試斷言用)
func (b *Backend) Stored(id uuid.UUID) (decimal.Decimal, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.rows[id]
	return v, ok
}

// SaveBatches 成功的 SaveBalances 次數
func (b *Backend) SaveBatches() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.saveBatches
}

func (b *Backend) readable() error {
	if !b.initialized || b.closed {
		return domain.ErrBackendClosed
	}
	return b.failReads
}

func (b *Backend) writable() error {
	if !b.initialized || b.closed {
		return domain.ErrBackendClosed
	}
	return b.failWrites
}

func (b *Backend) HasBalance(ctx context.Context, id uuid.UUID) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.readable(); err != nil {
		return false, err
	}
	_, ok := b.rows[id]
	return ok, nil
}

func (b *Backend) LoadBalance(ctx context.Context, id uuid.UUID) (decimal.Decimal, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.readable(); err != nil {
		return decimal.Decimal{}, false, err
	}
	v, ok := b.rows[id]
	return v, ok, nil
}

func (b *Backend) SaveBalance(ctx context.Context, id uuid.UUID, balance decimal.Decimal) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.writable(); err != nil {
		return err
	}
	b.rows[id] = balance
	return nil
}

// SaveBalances 全部寫入或全部不寫入 (錯誤在寫入前檢查)
func (b *Backend) SaveBalances(ctx context.Context, balances map[uuid.UUID]decimal.Decimal) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.writable(); err != nil {
		return err
	}
	for id, v := range balances {
		b.rows[id] = v
	}
	b.saveBatches++
	return nil
}

func (b *Backend) DeleteBalance(ctx context.Context, id uuid.UUID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.writable(); err != nil {
		return err
	}
	delete(b.rows, id)
	return nil
}

// TopBalances 餘額由大到小，同額時依 UUID 字串排序
func (b *Backend) TopBalances(ctx context.Context, limit int) ([]domain.BalanceEntry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.readable(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []domain.BalanceEntry{}, nil
	}

	entries := make([]domain.BalanceEntry, 0, len(b.rows))
	for id, v := range b.rows {
		entries = append(entries, domain.BalanceEntry{AccountID: id, Balance: v})
	}
	sort.Slice(entries, func(i, j int) bool {
		if c := entries[i].Balance.Cmp(entries[j].Balance); c != 0 {
			return c > 0
		}
		return entries[i].AccountID.String() < entries[j].AccountID.String()
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (b *Backend) TotalBalance(ctx context.Context) (decimal.Decimal, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.readable(); err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, v := range b.rows {
		total = total.Add(v)
	}
	return total, nil
}

func (b *Backend) PlayerCount(ctx context.Context) (int64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.readable(); err != nil {
		return 0, err
	}
	return int64(len(b.rows)), nil
}

// ExecuteTransfer 同時寫入雙方，任一錯誤時都不寫入
func (b *Backend) ExecuteTransfer(ctx context.Context, from uuid.UUID, fromBalance decimal.Decimal, to uuid.UUID, toBalance decimal.Decimal) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.writable(); err != nil {
		return err
	}
	if b.failTransfers != nil {
		return b.failTransfers
	}
	b.rows[from] = fromBalance
	b.rows[to] = toBalance
	return nil
}

var _ usecase.Backend = (*Backend)(nil)
