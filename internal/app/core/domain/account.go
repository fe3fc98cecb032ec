package domain

import "strings"

// AccountKind 帳戶種類
// 固定四種，邊界層一律先經過 ParseAccountKind 驗證，
// 不允許開放式字串 key 流入核心。
type AccountKind string

const (
	AccountSavings    AccountKind = "savings"
	AccountChecking   AccountKind = "checking"
	AccountBusiness   AccountKind = "business"
	AccountInvestment AccountKind = "investment"
)

// AccountKinds 回傳所有合法帳戶種類（固定順序）。
func AccountKinds() []AccountKind {
	return []AccountKind{AccountSavings, AccountChecking, AccountBusiness, AccountInvestment}
}

// ParseAccountKind 解析外部傳入的帳戶種類字串（不分大小寫）
//
// 參數:
//
//	s: 外部輸入的帳戶種類
//
// 回傳:
//
//	AccountKind: 合法的帳戶種類
//	error: 非四種之一回傳 ErrInvalidAccount
func ParseAccountKind(s string) (AccountKind, error) {
	switch AccountKind(strings.ToLower(strings.TrimSpace(s))) {
	case AccountSavings:
		return AccountSavings, nil
	case AccountChecking:
		return AccountChecking, nil
	case AccountBusiness:
		return AccountBusiness, nil
	case AccountInvestment:
		return AccountInvestment, nil
	default:
		return "", ErrInvalidAccount
	}
}

// Valid 回報是否為四種合法帳戶之一。
func (k AccountKind) Valid() bool {
	switch k {
	case AccountSavings, AccountChecking, AccountBusiness, AccountInvestment:
		return true
	}
	return false
}

// Display 回傳首字大寫的顯示名稱（如 "Checking"），供 API 輸出使用。
func (k AccountKind) Display() string {
	if k == "" {
		return ""
	}
	return strings.ToUpper(string(k[0])) + string(k[1:])
}

// Balances 單一使用者的四種帳戶餘額快照
// 金額一律使用 int64 的最小貨幣單位（cents），避免浮點誤差。
// 為值型別：跨 goroutine 傳遞時即為拷貝，不共享內部狀態。
type Balances struct {
	Savings    int64 `json:"savings"`
	Checking   int64 `json:"checking"`
	Business   int64 `json:"business"`
	Investment int64 `json:"investment"`
}

// Amount 取得指定帳戶種類的餘額。
func (b Balances) Amount(k AccountKind) int64 {
	switch k {
	case AccountSavings:
		return b.Savings
	case AccountChecking:
		return b.Checking
	case AccountBusiness:
		return b.Business
	case AccountInvestment:
		return b.Investment
	}
	return 0
}

// Total 回傳四種帳戶的餘額總和（轉帳守恆檢查用）。
func (b Balances) Total() int64 {
	return b.Savings + b.Checking + b.Business + b.Investment
}

// Deltas 一次交易要套用的餘額增減（帳戶種類 → 有號金額）。
type Deltas map[AccountKind]int64

// Apply 將 deltas 套用到餘額快照上，全部成功才回傳新快照
//
// 參數:
//
//	deltas: 帳戶種類對應的有號金額
//
// 回傳:
//
//	Balances: 套用後的新快照（原快照不變）
//	error: 含未知帳戶回傳 ErrInvalidAccount；任一結果為負回傳 ErrInsufficientFunds
func (b Balances) Apply(deltas Deltas) (Balances, error) {
	next := b
	for kind, delta := range deltas {
		switch kind {
		case AccountSavings:
			next.Savings += delta
		case AccountChecking:
			next.Checking += delta
		case AccountBusiness:
			next.Business += delta
		case AccountInvestment:
			next.Investment += delta
		default:
			return b, ErrInvalidAccount
		}
	}
	if next.Savings < 0 || next.Checking < 0 || next.Business < 0 || next.Investment < 0 {
		return b, ErrInsufficientFunds
	}
	return next, nil
}
