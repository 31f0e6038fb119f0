package sqlstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/JoeShih716/go-mem-economy/internal/app/core/domain"
)

// DefaultBatchSize SaveBalances 每個 INSERT 最多帶幾筆
const DefaultBatchSize = 500

// Opener 開啟資料庫連線，回傳 gorm 實例與關閉函式
type Opener func(ctx context.Context) (db *gorm.DB, closeFn func() error, err error)

// Store 兩種 SQL 後端共用的 GORM 實作
//
// 結構:
//
//	name: 後端名稱 (log 使用)
//	table: 資料表名稱
//	open: Initialize 時呼叫的連線函式
//	db: 連線成功後的 gorm 實例，Shutdown 後為 nil
type Store struct {
	name      string
	table     string
	open      Opener
	log       zerolog.Logger
	batchSize int

	mu      sync.RWMutex
	db      *gorm.DB
	closeFn func() error
}

// NewStore 建立 Store，Initialize 之前不會連線
//
// 參數:
//
//	name: 後端名稱
//	table: 資料表名稱
//	open: 連線函式
//	log: zerolog Logger
func NewStore(name, table string, open Opener, log zerolog.Logger) *Store {
	return &Store{
		name:      name,
		table:     table,
		open:      open,
		log:       log.With().Str("backend", name).Str("table", table).Logger(),
		batchSize: DefaultBatchSize,
	}
}

// Name 後端名稱
func (s *Store) Name() string {
	return s.name
}

// Table 資料表名稱
func (s *Store) Table() string {
	return s.table
}

// SetBatchSize 調整批次寫入大小 (<= 0 時使用預設值)
func (s *Store) SetBatchSize(n int) {
	if n <= 0 {
		n = DefaultBatchSize
	}
	s.batchSize = n
}

// Initialize 連線並建立資料表 (已存在則略過)
func (s *Store) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return nil
	}

	db, closeFn, err := s.open(ctx)
	if err != nil {
		return err
	}
	if err := db.WithContext(ctx).Table(s.table).AutoMigrate(&balanceRow{}); err != nil {
		_ = closeFn()
		return fmt.Errorf("migrate table %s: %w", s.table, err)
	}

	s.db = db
	s.closeFn = closeFn
	s.log.Info().Msg("Storage backend initialized")
	return nil
}

// Shutdown 關閉連線，可重複呼叫
func (s *Store) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return
	}
	if err := s.closeFn(); err != nil {
		s.log.Warn().Err(err).Msg("Error closing storage backend")
	}
	s.db = nil
	s.closeFn = nil
	s.log.Info().Msg("Storage backend shut down")
}

// DB 回傳底層 gorm 實例 (未初始化或已關閉時為 nil)
func (s *Store) DB() *gorm.DB {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db
}

// query 回傳綁定 context 與資料表的查詢
func (s *Store) query(ctx context.Context) (*gorm.DB, error) {
	db := s.DB()
	if db == nil {
		return nil, domain.ErrBackendClosed
	}
	return db.WithContext(ctx).Table(s.table), nil
}

func (s *Store) HasBalance(ctx context.Context, id uuid.UUID) (bool, error) {
	q, err := s.query(ctx)
	if err != nil {
		return false, err
	}
	var n int64
	if err := q.Where("uuid = ?", id.String()).Count(&n).Error; err != nil {
		return false, fmt.Errorf("has balance %s: %w", id, err)
	}
	return n > 0, nil
}

func (s *Store) LoadBalance(ctx context.Context, id uuid.UUID) (decimal.Decimal, bool, error) {
	q, err := s.query(ctx)
	if err != nil {
		return decimal.Decimal{}, false, err
	}
	// 用 Find + Limit 避免 First 在找不到時回傳 ErrRecordNotFound
	var rows []balanceRow
	if err := q.Where("uuid = ?", id.String()).Limit(1).Find(&rows).Error; err != nil {
		return decimal.Decimal{}, false, fmt.Errorf("load balance %s: %w", id, err)
	}
	if len(rows) == 0 {
		return decimal.Decimal{}, false, nil
	}
	return rows[0].Balance.Decimal(), true, nil
}

func (s *Store) SaveBalance(ctx context.Context, id uuid.UUID, balance decimal.Decimal) error {
	q, err := s.query(ctx)
	if err != nil {
		return err
	}
	row := balanceRow{UUID: id.String(), Balance: newAmountColumn(balance)}
	if err := upsert(q).Create(&row).Error; err != nil {
		return fmt.Errorf("save balance %s: %w", id, err)
	}
	return nil
}

// SaveBalances 在同一個 transaction 中 upsert 全部帳戶
// 依 UUID 排序寫入，多個 process 共用資料庫時 lock 順序一致
func (s *Store) SaveBalances(ctx context.Context, balances map[uuid.UUID]decimal.Decimal) error {
	if len(balances) == 0 {
		return nil
	}
	db := s.DB()
	if db == nil {
		return domain.ErrBackendClosed
	}

	rows := make([]balanceRow, 0, len(balances))
	for id, v := range balances {
		rows = append(rows, balanceRow{UUID: id.String(), Balance: newAmountColumn(v)})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].UUID < rows[j].UUID })

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return upsert(tx.Table(s.table)).CreateInBatches(&rows, s.batchSize).Error
	})
	if err != nil {
		return fmt.Errorf("save %d balances: %w", len(rows), err)
	}
	return nil
}

func (s *Store) DeleteBalance(ctx context.Context, id uuid.UUID) error {
	q, err := s.query(ctx)
	if err != nil {
		return err
	}
	if err := q.Where("uuid = ?", id.String()).Delete(&balanceRow{}).Error; err != nil {
		return fmt.Errorf("delete balance %s: %w", id, err)
	}
	return nil
}

// TopBalances 依 balance DESC, uuid ASC 排序
// 無法解析成 UUID 的資料列 (外部寫入) 會被略過
func (s *Store) TopBalances(ctx context.Context, limit int) ([]domain.BalanceEntry, error) {
	if limit <= 0 {
		return []domain.BalanceEntry{}, nil
	}
	q, err := s.query(ctx)
	if err != nil {
		return nil, err
	}

	var rows []balanceRow
	if err := q.Order("balance DESC").Order("uuid ASC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("top balances: %w", err)
	}

	entries := make([]domain.BalanceEntry, 0, len(rows))
	for _, row := range rows {
		id, err := uuid.Parse(row.UUID)
		if err != nil {
			s.log.Warn().Str("uuid", row.UUID).Msg("Skipping row with malformed account id")
			continue
		}
		entries = append(entries, domain.BalanceEntry{AccountID: id, Balance: row.Balance.Decimal()})
	}
	return entries, nil
}

// TotalBalance 所有帳戶的餘額總和
// SQLite 的定點整數 SUM 可能溢位，改成逐筆以 decimal 加總
func (s *Store) TotalBalance(ctx context.Context) (decimal.Decimal, error) {
	q, err := s.query(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	if fixedPoint(q) {
		return sumRows(q)
	}

	var total amountColumn
	if err := q.Select("COALESCE(SUM(balance), 0)").Row().Scan(&total); err != nil {
		return decimal.Zero, fmt.Errorf("total balance: %w", err)
	}
	return total.Decimal(), nil
}

func sumRows(q *gorm.DB) (decimal.Decimal, error) {
	rows, err := q.Select("balance").Rows()
	if err != nil {
		return decimal.Zero, fmt.Errorf("total balance: %w", err)
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var v amountColumn
		if err := rows.Scan(&v); err != nil {
			return decimal.Zero, fmt.Errorf("total balance: %w", err)
		}
		total = total.Add(v.Decimal())
	}
	if err := rows.Err(); err != nil {
		return decimal.Zero, fmt.Errorf("total balance: %w", err)
	}
	return total, nil
}

func (s *Store) PlayerCount(ctx context.Context) (int64, error) {
	q, err := s.query(ctx)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := q.Count(&n).Error; err != nil {
		return 0, fmt.Errorf("player count: %w", err)
	}
	return n, nil
}

// ExecuteTransfer 在同一個 transaction 中寫入雙方，任一失敗則 rollback
func (s *Store) ExecuteTransfer(ctx context.Context, from uuid.UUID, fromBalance decimal.Decimal, to uuid.UUID, toBalance decimal.Decimal) error {
	db := s.DB()
	if db == nil {
		return domain.ErrBackendClosed
	}

	// 依 UUID 排序寫入，兩筆對向轉帳不會互相 deadlock
	rows := []balanceRow{
		{UUID: from.String(), Balance: newAmountColumn(fromBalance)},
		{UUID: to.String(), Balance: newAmountColumn(toBalance)},
	}
	if rows[1].UUID < rows[0].UUID {
		rows[0], rows[1] = rows[1], rows[0]
	}

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range rows {
			if err := upsert(tx.Table(s.table)).Create(&rows[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("transfer %s -> %s: %w", from, to, err)
	}
	return nil
}

// upsert MySQL 會產生 ON DUPLICATE KEY UPDATE，PostgreSQL 與 SQLite 則是 ON CONFLICT DO UPDATE
func upsert(db *gorm.DB) *gorm.DB {
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "uuid"}},
		DoUpdates: clause.AssignmentColumns([]string{"balance"}),
	})
}
