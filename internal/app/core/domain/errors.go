package domain

import "errors"

var (
	// ErrBackendClosed 儲存後端已關閉或尚未初始化
	ErrBackendClosed = errors.New("storage backend is closed")

	// ErrUnknownBackend 設定了不支援的 database.type
	ErrUnknownBackend = errors.New("unknown storage backend")

	// ErrInvalidAccountID 帳戶 ID 不是合法的 UUID
	ErrInvalidAccountID = errors.New("invalid account id")

	// ErrLedgerClosed 帳本已經 Shutdown
	ErrLedgerClosed = errors.New("ledger is shut down")
)
