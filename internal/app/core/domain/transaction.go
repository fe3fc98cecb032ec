package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// TransactionType 交易類型
type TransactionType string

const (
	// 存款
	TransactionTypeDeposit TransactionType = "deposit"
	// 提款
	TransactionTypeWithdrawal TransactionType = "withdrawal"
	// 同一使用者帳戶間轉帳
	TransactionTypeTransfer TransactionType = "transfer"
)

// ParseTransactionType 解析外部傳入的交易類型字串
//
// 參數:
//
//	s: 外部輸入的交易類型
//
// 回傳:
//
//	TransactionType: 合法的交易類型
//	error: 非三種之一回傳 ErrInvalidTransactionType
func ParseTransactionType(s string) (TransactionType, error) {
	switch TransactionType(strings.ToLower(strings.TrimSpace(s))) {
	case TransactionTypeDeposit:
		return TransactionTypeDeposit, nil
	case TransactionTypeWithdrawal:
		return TransactionTypeWithdrawal, nil
	case TransactionTypeTransfer:
		return TransactionTypeTransfer, nil
	default:
		return "", ErrInvalidTransactionType
	}
}

// Display 回傳首字大寫的顯示名稱（如 "Deposit"），預設標題用。
func (t TransactionType) Display() string {
	if t == "" {
		return ""
	}
	return strings.ToUpper(string(t[0])) + string(t[1:])
}

// Record 交易紀錄（Audit Entry）
// 建立後不可變更、不可刪除；每一筆已提交的餘額異動恰好對應一筆 Record。
type Record struct {
	// ID: 外部追蹤號 (UUID)
	ID uuid.UUID
	// UserID: 所屬使用者
	UserID uuid.UUID
	// Type: 交易類型
	Type TransactionType
	// Amount: 交易金額 (cents，恆為正)
	Amount int64
	// DisplayAmount: 顯示字串（提款 "-R50.00"、存款 "+R100.00"、轉帳 "R40.00"）
	DisplayAmount string
	// Title: 標題，未提供時為 "<Type> transaction"
	Title string
	// Account: 異動的來源帳戶
	Account AccountKind
	// FromAccount, ToAccount: 僅轉帳時有值
	FromAccount AccountKind
	ToAccount   AccountKind
	// CreatedAt: 提交時間
	CreatedAt time.Time
}

// RenderDisplayAmount 依交易類型產生顯示字串
// 提款帶負號、存款帶正號、轉帳不帶號，固定兩位小數加貨幣前綴。
//
// 參數:
//
//	t: 交易類型
//	cents: 金額
//	currency: 貨幣前綴（如 "R"）
//
// 回傳:
//
//	string: 顯示字串
func RenderDisplayAmount(t TransactionType, cents int64, currency string) string {
	var sign string
	switch t {
	case TransactionTypeWithdrawal:
		sign = "-"
	case TransactionTypeDeposit:
		sign = "+"
	}
	return sign + currency + FormatAmount(cents)
}

// DefaultTitle 回傳未提供標題時的預設值（如 "Deposit transaction"）。
func DefaultTitle(t TransactionType) string {
	return t.Display() + " transaction"
}
