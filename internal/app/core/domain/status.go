package domain

import "fmt"

// Status 帳務操作結果狀態 (封閉列舉)
type Status uint8

const (
	StatusSuccess Status = iota
	StatusInvalidAmount
	StatusNegativeAmount
	StatusInsufficientFunds
	StatusExceedsMaxBalance
	StatusBelowMinBalance
	StatusSameAccount
	StatusDatabaseError
)

var statusNames = [...]string{
	StatusSuccess:           "SUCCESS",
	StatusInvalidAmount:     "INVALID_AMOUNT",
	StatusNegativeAmount:    "NEGATIVE_AMOUNT",
	StatusInsufficientFunds: "INSUFFICIENT_FUNDS",
	StatusExceedsMaxBalance: "EXCEEDS_MAX_BALANCE",
	StatusBelowMinBalance:   "BELOW_MIN_BALANCE",
	StatusSameAccount:       "SAME_ACCOUNT",
	StatusDatabaseError:     "DATABASE_ERROR",
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

// MarshalText 讓 JSON / log 輸出使用大寫名稱
func (s Status) MarshalText() ([]byte, error) {
	if int(s) >= len(statusNames) {
		return nil, fmt.Errorf("unknown status %d", uint8(s))
	}
	return []byte(statusNames[s]), nil
}

// UnmarshalText 解析大寫名稱
func (s *Status) UnmarshalText(text []byte) error {
	for i, name := range statusNames {
		if name == string(text) {
			*s = Status(i)
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", text)
}
