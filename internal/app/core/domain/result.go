package domain

import "github.com/shopspring/decimal"

// Result 單次帳務操作的回傳值，建立後不再修改
//
// 結構:
//
//	Status: 成功或失敗原因
//	Balance: 操作後餘額 (失敗時為目前餘額)
//	HasBalance: Balance 是否有意義 (例如 SAME_ACCOUNT 時沒有)
type Result struct {
	Status     Status
	Balance    decimal.Decimal
	HasBalance bool
}

// Succeeded 回傳新餘額的成功結果
func Succeeded(balance decimal.Decimal) Result {
	return Result{Status: StatusSuccess, Balance: balance, HasBalance: true}
}

// Rejected 回傳帶有目前餘額的失敗結果
func Rejected(status Status, current decimal.Decimal) Result {
	return Result{Status: status, Balance: current, HasBalance: true}
}

// Failed 回傳沒有餘額資訊的失敗結果
func Failed(status Status) Result {
	return Result{Status: status}
}

func (r Result) Success() bool {
	return r.Status == StatusSuccess
}
