package domain

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// 金額精度：小數點後 4 位，與資料表 DECIMAL(20,4) 一致
const Scale = 4

// IntegerDigits 整數部分最多幾位
// 放大 10^Scale 倍後仍在 int64 範圍內 (SQLite 以定點整數儲存)
const IntegerDigits = 14

// MaxValue 可以儲存的最大絕對值 99999999999999.9999
var MaxValue = decimal.New(1, IntegerDigits).Sub(decimal.New(1, -Scale))

// ValidPrecision 檢查金額是否在 Scale 位小數以內
//
// 只看係數與指數，指數極端 (例如 1e-100000000) 時不做 rescale
func ValidPrecision(v decimal.Decimal) bool {
	exp := int64(v.Exponent())
	if exp >= -Scale || v.Sign() == 0 {
		return true
	}
	// 係數尾端的 0 不夠抵銷多出來的小數位
	if -exp-Scale >= int64(coefficientDigits(v)) {
		return false
	}
	return v.Equal(v.Truncate(Scale))
}

// Representable 小數不超過 Scale 位，且絕對值不超過 MaxValue
func Representable(v decimal.Decimal) bool {
	if !ValidPrecision(v) {
		return false
	}
	if v.Sign() == 0 {
		return true
	}
	// |v| < 10^(係數位數 + 指數)，且 >= 10^(係數位數 + 指數 - 1)
	return int64(coefficientDigits(v))+int64(v.Exponent()) <= IntegerDigits
}

func coefficientDigits(v decimal.Decimal) int {
	c := v.Coefficient()
	return len(c.Abs(c).String())
}

// ParseValue 解析外部輸入的餘額數值 (允許 0 與負數，交給邊界檢查處理)
//
// 回傳:
//
//	decimal.Decimal: 解析後的數值
//	Status: SUCCESS 或 INVALID_AMOUNT
func ParseValue(raw string) (decimal.Decimal, Status) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, StatusInvalidAmount
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, StatusInvalidAmount
	}
	if !Representable(v) {
		return decimal.Zero, StatusInvalidAmount
	}
	if v.Sign() == 0 {
		// 0e-100000000 之類的寫法，避免後續比較時 rescale
		return decimal.Zero, StatusSuccess
	}
	return v, StatusSuccess
}

// ParseAmount 解析存款/提款/轉帳金額
// 負數回傳 NEGATIVE_AMOUNT，0 或無法解析回傳 INVALID_AMOUNT
func ParseAmount(raw string) (decimal.Decimal, Status) {
	v, status := ParseValue(raw)
	if status != StatusSuccess {
		return v, status
	}
	if v.IsNegative() {
		return decimal.Zero, StatusNegativeAmount
	}
	if v.IsZero() {
		return decimal.Zero, StatusInvalidAmount
	}
	return v, StatusSuccess
}

// AmountFromFloat 將 float64 轉成金額
// NaN、Inf 與超過 MaxValue 的數值視為 INVALID_AMOUNT
func AmountFromFloat(f float64) (decimal.Decimal, Status) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero, StatusInvalidAmount
	}
	v := decimal.NewFromFloat(f).Round(Scale)
	if !Representable(v) {
		return decimal.Zero, StatusInvalidAmount
	}
	return v, StatusSuccess
}
