package usecase

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// JournalOp 日誌紀錄的動作
type JournalOp string

const (
	// JournalSet 帳戶有一筆待寫入的新餘額
	JournalSet JournalOp = "set"
	// JournalDrop 帳戶的待寫入紀錄已失效 (轉帳已直接持久化或帳戶被刪除)
	JournalDrop JournalOp = "drop"
)

// JournalRecord 日誌中的一筆紀錄
type JournalRecord struct {
	Op        JournalOp       `json:"op"`
	AccountID uuid.UUID       `json:"id"`
	Balance   decimal.Decimal `json:"balance"`
}

// Journal 保存尚未 flush 的寫入，process crash 後可從中還原
type Journal interface {
	// Append 追加一筆紀錄
	Append(rec JournalRecord) error
	// Replay 依寫入順序讀出所有紀錄
	Replay(fn func(JournalRecord) error) error
	// Compact 以目前仍在佇列中的寫入取代整份日誌
	Compact(pending []JournalRecord) error
	// Close 關閉日誌
	Close() error
}
