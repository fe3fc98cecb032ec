package domain

import (
	"time"

	"github.com/google/uuid"
)

// User 使用者主檔
// 由註冊協作者建立（含四種餘額皆為零的初始狀態）；
// 交易核心只讀取其 ID，不負責建立或刪除。
type User struct {
	ID               uuid.UUID
	FirstName        string
	LastName         string
	NationalID       string
	Email            string
	PhoneNumber      string
	PasswordHash     string
	// AccountNumber: 對外的 10 碼帳號（全系統唯一）
	AccountNumber string
	// CardNumber: 16 碼卡號，每四碼以空白分組
	CardNumber       string
	TwoFactorEnabled bool
	CreatedAt        time.Time
}

// FullName 回傳顯示用全名。
func (u *User) FullName() string {
	return u.FirstName + " " + u.LastName
}
