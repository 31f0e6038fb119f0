package sqlstore

import (
	"context"
	"database/sql/driver"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"

	"github.com/JoeShih716/go-mem-economy/internal/app/core/domain"
)

// balanceRow 對應 balance 資料表
// 表名由 Store 的 table 欄位決定，不使用 TableName()
type balanceRow struct {
	UUID    string       `gorm:"column:uuid;type:varchar(36);primaryKey"`
	Balance amountColumn `gorm:"column:balance;not null"`
}

// amountColumn balance 欄位
//
// MySQL / PostgreSQL: DECIMAL(20,4)
// SQLite: 沒有精確的 DECIMAL (NUMERIC 會轉成 REAL)，改存放大 10^Scale 倍的 INTEGER
type amountColumn decimal.Decimal

var fixedPointFactor = decimal.New(1, domain.Scale)

func newAmountColumn(v decimal.Decimal) amountColumn {
	return amountColumn(v)
}

func (a amountColumn) Decimal() decimal.Decimal {
	return decimal.Decimal(a)
}

func fixedPoint(db *gorm.DB) bool {
	return db.Dialector.Name() == "sqlite"
}

// GormDataType schema 解析用的通用型別
func (amountColumn) GormDataType() string {
	return "decimal"
}

// GormDBDataType AutoMigrate 建表時依資料庫決定欄位型別
func (amountColumn) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	if fixedPoint(db) {
		return "integer"
	}
	return "decimal(20,4)"
}

// GormValue 寫入時依資料庫轉換
func (a amountColumn) GormValue(_ context.Context, db *gorm.DB) clause.Expr {
	v := a.Decimal()
	if fixedPoint(db) {
		return clause.Expr{SQL: "?", Vars: []any{v.Mul(fixedPointFactor).IntPart()}}
	}
	return clause.Expr{SQL: "?", Vars: []any{v.StringFixed(domain.Scale)}}
}

// Value 沒有 gorm.DB 可判斷時以十進位字串寫入
func (a amountColumn) Value() (driver.Value, error) {
	return a.Decimal().StringFixed(domain.Scale), nil
}

// Scan INTEGER 視為定點整數，其餘 (DECIMAL 的字串或 []byte) 照原值解析
func (a *amountColumn) Scan(src any) error {
	switch v := src.(type) {
	case int64:
		*a = amountColumn(decimal.New(v, -domain.Scale))
		return nil
	case float64:
		// 舊版 SQLite 檔案以 REAL 儲存的資料列
		*a = amountColumn(decimal.NewFromFloat(v).Round(domain.Scale))
		return nil
	}
	var d decimal.Decimal
	if err := d.Scan(src); err != nil {
		return fmt.Errorf("scan balance: %w", err)
	}
	*a = amountColumn(d)
	return nil
}
