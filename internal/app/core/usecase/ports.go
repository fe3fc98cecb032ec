package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/openbank/openbank-core/internal/app/core/domain"
)

// Session 一次邏輯操作的工作單元 (Unit of Work) 代號
// 由 SessionCoordinator 發出；同一筆操作的所有讀寫都必須帶著同一個 Session。
// Session 不可巢狀，新操作一律重新 Begin。
type Session interface {
	SessionID() uuid.UUID
}

// SessionCoordinator 提供跨 AccountStore 與 TransactionLedger 的原子邊界
// Commit 後所有寫入一次性可見；Abort 後所有寫入消失，外部讀者永遠看不到部分寫入。
type SessionCoordinator interface {
	Begin(ctx context.Context) (Session, error)
	Commit(ctx context.Context, sess Session) error
	Abort(ctx context.Context, sess Session) error
}

// AccountStore 持有每位使用者的餘額狀態
type AccountStore interface {
	// Get 取得綁定在 Session 上的餘額快照；使用者不存在回傳 ErrNotFound
	Get(ctx context.Context, userID uuid.UUID, sess Session) (domain.Balances, error)
	// ApplyDeltas 在 Session 內原子套用所有增減；全部成功或全部失敗
	// 未知帳戶回傳 ErrInvalidAccount；任一結果為負回傳 ErrInsufficientFunds
	ApplyDeltas(ctx context.Context, userID uuid.UUID, deltas domain.Deltas, sess Session) (domain.Balances, error)
	// Snapshot 不經 Session 的唯讀快照（查詢用，不取得使用者鎖）
	Snapshot(ctx context.Context, userID uuid.UUID) (domain.Balances, error)
}

// TransactionLedger 只增不改的交易紀錄儲存
type TransactionLedger interface {
	// Append 在 Session 內寫入一筆不可變紀錄，提交後才對讀者可見
	Append(ctx context.Context, rec *domain.Record, sess Session) error
	// List 回傳該使用者的所有紀錄，依提交時間由新到舊
	List(ctx context.Context, userID uuid.UUID) ([]domain.Record, error)
}

// UserStore 使用者主檔儲存（註冊/登入/個人資料協作者使用，非交易核心）
type UserStore interface {
	// CreateUser 建立使用者並將四種餘額初始化為零
	// Email、身分證號或帳號重複時回傳 ErrUserExists
	CreateUser(ctx context.Context, u *domain.User) error
	FindUserByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	FindUserByEmail(ctx context.Context, email string) (*domain.User, error)
	FindUserByNationalID(ctx context.Context, nationalID string) (*domain.User, error)
	// UpdateUser 更新使用者主檔（不含餘額）
	// Email 或身分證號與其他使用者重複時回傳 ErrUserExists
	UpdateUser(ctx context.Context, u *domain.User) error
}

// Recorder 業務指標觀測介面
// 由外部注入，引擎在每次 commit/abort 後呼叫；不得使用隱藏的全域單例。
type Recorder interface {
	TransactionCommitted(txType domain.TransactionType, account domain.AccountKind, amountCents int64, elapsed time.Duration)
	TransactionAborted(txType domain.TransactionType, reason string, elapsed time.Duration)
}

// NopRecorder 是 Recorder 的空實作。
type NopRecorder struct{}

func (NopRecorder) TransactionCommitted(domain.TransactionType, domain.AccountKind, int64, time.Duration) {
}
func (NopRecorder) TransactionAborted(domain.TransactionType, string, time.Duration) {}

// SessionOutcome Session 終態
type SessionOutcome string

const (
	SessionCommitted SessionOutcome = "committed"
	SessionAborted   SessionOutcome = "aborted"
)

// SessionHook 由 SessionCoordinator 在 commit/abort 邊界呼叫的觀測掛鉤
// 取代攔截或修補共用儲存驅動的做法；不設定時由各 adapter 略過。
type SessionHook func(outcome SessionOutcome, elapsed time.Duration)
