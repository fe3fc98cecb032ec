package domain

import "errors"

var (
	// ErrNotFound 找不到使用者或其帳戶（註冊協作者尚未建立餘額）
	ErrNotFound = errors.New("user account not found")

	// ErrInvalidAmount 金額無法解析為有限正十進位數
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidAccount 帳戶種類不在四種之內
	ErrInvalidAccount = errors.New("invalid account type")

	// ErrInvalidDestinationAccount 轉帳目的帳戶種類不合法
	ErrInvalidDestinationAccount = errors.New("invalid destination account")

	// ErrSameAccountTransfer 來源與目的帳戶相同
	ErrSameAccountTransfer = errors.New("cannot transfer to same account")

	// ErrInsufficientFunds 餘額不足
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInvalidTransactionType 交易類型不在三種之內
	ErrInvalidTransactionType = errors.New("invalid transaction type")

	// ErrConflict 並發修改競爭，有限次重試後仍失敗（呼叫端可整筆重試）
	ErrConflict = errors.New("transaction conflict")

	// ErrInfrastructure 底層 Session 本身 commit/abort 失敗（致命，不自動重試）
	ErrInfrastructure = errors.New("internal storage failure")

	// ErrUnauthorized 身分驗證失敗
	ErrUnauthorized = errors.New("unauthorized")

	// ErrUserExists 使用者已存在（Email、身分證號或帳號碰撞）
	ErrUserExists = errors.New("user already exists")

	// ErrInvalidCredentials 帳密錯誤
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrMissingFields 註冊必填欄位缺漏
	ErrMissingFields = errors.New("please include all fields")
)

// IsValidationError 回報是否為「請求本身不合法」類錯誤（未造成任何狀態變更）。
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidAccount) ||
		errors.Is(err, ErrInvalidDestinationAccount) ||
		errors.Is(err, ErrInvalidTransactionType) ||
		errors.Is(err, ErrMissingFields)
}

// IsBusinessRuleError 回報是否為「請求合法但違反商業規則」類錯誤。
func IsBusinessRuleError(err error) bool {
	return errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrSameAccountTransfer)
}
