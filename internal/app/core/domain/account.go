package domain

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BalanceEntry 排行榜上的一筆 (帳戶, 餘額)
type BalanceEntry struct {
	AccountID uuid.UUID
	Balance   decimal.Decimal
}

// ParseAccountID 將字串解析成帳戶 ID
func ParseAccountID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %q", ErrInvalidAccountID, raw)
	}
	return id, nil
}
