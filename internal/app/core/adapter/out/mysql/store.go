package mysql

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	driver "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/openbank/openbank-core/internal/app/core/domain"
	"github.com/openbank/openbank-core/internal/app/core/usecase"
	"github.com/openbank/openbank-core/pkg/mysql"
)

// MySQL 錯誤碼
const (
	mysqlErrDuplicateEntry  = 1062
	mysqlErrLockWaitTimeout = 1205
	mysqlErrDeadlock        = 1213
)

// sqlUser 對應資料庫的 users 表
// 四種餘額直接放在同一列：SELECT ... FOR UPDATE 鎖住這一列
// 就是該使用者交易臨界區的悲觀鎖。
type sqlUser struct {
	ID               string `gorm:"primaryKey;type:char(36)"`
	FirstName        string `gorm:"size:64"`
	LastName         string `gorm:"size:64"`
	NationalID       string `gorm:"column:national_id;size:32;uniqueIndex"`
	Email            string `gorm:"size:255;uniqueIndex"`
	PhoneNumber      string `gorm:"size:32"`
	PasswordHash     string `gorm:"size:128"`
	AccountNumber    string `gorm:"size:10;uniqueIndex"`
	CardNumber       string `gorm:"size:19"`
	TwoFactorEnabled bool

	BalanceSavings    int64
	BalanceChecking   int64
	BalanceBusiness   int64
	BalanceInvestment int64

	CreatedAt int64 `gorm:"autoCreateTime:milli"`
	UpdatedAt int64 `gorm:"autoUpdateTime:milli"`
}

func (*sqlUser) TableName() string {
	return "users"
}

// sqlTransaction 對應資料庫的 transactions 表
type sqlTransaction struct {
	ID            int64  `gorm:"primaryKey;autoIncrement"`
	RefID         []byte `gorm:"column:ref_id;type:binary(16);uniqueIndex"` // 對應 domain.Record.ID
	UserID        string `gorm:"type:char(36);index:idx_user_created"`
	Type          string `gorm:"size:16"`
	Amount        int64
	DisplayAmount string  `gorm:"size:32"`
	Title         string  `gorm:"size:255"`
	Account       string  `gorm:"size:16"`
	FromAccount   *string `gorm:"size:16"`
	ToAccount     *string `gorm:"size:16"`
	CreatedAt     int64   `gorm:"index:idx_user_created"`
}

func (*sqlTransaction) TableName() string {
	return "transactions"
}

// Store MySQL 後端：以 gorm Transaction 作為工作單元，
// 同時實作 SessionCoordinator、AccountStore、TransactionLedger 與 UserStore。
type Store struct {
	client *mysql.Client
	hook   usecase.SessionHook
	logger zerolog.Logger
}

// sqlSession 包裝一個進行中的 gorm Transaction
type sqlSession struct {
	id      uuid.UUID
	startAt time.Time
	tx      *gorm.DB
	done    bool
}

func (s *sqlSession) SessionID() uuid.UUID { return s.id }

// StoreOption Store 的配置選項函數
type StoreOption func(*Store)

// WithSessionHook 設定 commit/abort 邊界的觀測掛鉤。
func WithSessionHook(hook usecase.SessionHook) StoreOption {
	return func(s *Store) { s.hook = hook }
}

// NewStore 建立 MySQL 後端
//
// 參數:
//
//	client: pkg/mysql 的 Client
//	logger: zerolog 實例
//	opts: 可選配置
func NewStore(client *mysql.Client, logger zerolog.Logger, opts ...StoreOption) *Store {
	s := &Store{client: client, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AutoMigrate 建立或更新資料表結構。
func (s *Store) AutoMigrate(ctx context.Context) error {
	return s.client.DB().WithContext(ctx).AutoMigrate(&sqlUser{}, &sqlTransaction{})
}

// ---- SessionCoordinator ----

// Begin 開啟一個資料庫交易作為工作單元。
func (s *Store) Begin(ctx context.Context) (usecase.Session, error) {
	tx := s.client.DB().WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("begin transaction: %w", tx.Error)
	}
	return &sqlSession{id: uuid.New(), startAt: time.Now(), tx: tx}, nil
}

// Commit 提交資料庫交易；失敗時交易已由資料庫收尾，呼叫端不可再 Abort。
func (s *Store) Commit(ctx context.Context, sess usecase.Session) error {
	ss, err := s.session(sess)
	if err != nil {
		return err
	}
	if ss.done {
		return fmt.Errorf("session %s already finished", ss.id)
	}
	ss.done = true
	if err := ss.tx.Commit().Error; err != nil {
		s.emitHook(usecase.SessionAborted, ss)
		return translateError(err)
	}
	s.emitHook(usecase.SessionCommitted, ss)
	return nil
}

// Abort 回滾資料庫交易。
func (s *Store) Abort(ctx context.Context, sess usecase.Session) error {
	ss, err := s.session(sess)
	if err != nil {
		return err
	}
	if ss.done {
		return fmt.Errorf("session %s already finished", ss.id)
	}
	ss.done = true
	if err := ss.tx.Rollback().Error; err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	s.emitHook(usecase.SessionAborted, ss)
	return nil
}

func (s *Store) emitHook(outcome usecase.SessionOutcome, ss *sqlSession) {
	if s.hook != nil {
		s.hook(outcome, time.Since(ss.startAt))
	}
}

func (s *Store) session(sess usecase.Session) (*sqlSession, error) {
	ss, ok := sess.(*sqlSession)
	if !ok {
		return nil, fmt.Errorf("%w: foreign session type %T", domain.ErrInfrastructure, sess)
	}
	return ss, nil
}

// lockUser 以 SELECT ... FOR UPDATE 取得並鎖定使用者列
// 同一個交易內重複呼叫只會重入已持有的列鎖。
func (s *Store) lockUser(ss *sqlSession, userID uuid.UUID) (*sqlUser, error) {
	var user sqlUser
	err := ss.tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", userID.String()).
		First(&user).Error
	if err != nil {
		return nil, translateError(err)
	}
	return &user, nil
}

// ---- AccountStore ----

// Get 取得綁定在 Session（資料庫交易）上的餘額快照。
func (s *Store) Get(ctx context.Context, userID uuid.UUID, sess usecase.Session) (domain.Balances, error) {
	ss, err := s.session(sess)
	if err != nil {
		return domain.Balances{}, err
	}
	user, err := s.lockUser(ss, userID)
	if err != nil {
		return domain.Balances{}, err
	}
	return balancesOf(user), nil
}

// ApplyDeltas 在已鎖定的使用者列上原子套用所有增減。
func (s *Store) ApplyDeltas(ctx context.Context, userID uuid.UUID, deltas domain.Deltas, sess usecase.Session) (domain.Balances, error) {
	ss, err := s.session(sess)
	if err != nil {
		return domain.Balances{}, err
	}
	user, err := s.lockUser(ss, userID)
	if err != nil {
		return domain.Balances{}, err
	}

	next, err := balancesOf(user).Apply(deltas)
	if err != nil {
		return domain.Balances{}, err
	}

	err = ss.tx.Model(&sqlUser{}).Where("id = ?", userID.String()).Updates(map[string]any{
		"balance_savings":    next.Savings,
		"balance_checking":   next.Checking,
		"balance_business":   next.Business,
		"balance_investment": next.Investment,
	}).Error
	if err != nil {
		return domain.Balances{}, translateError(err)
	}
	return next, nil
}

// Snapshot 不經 Session 的唯讀快照。
func (s *Store) Snapshot(ctx context.Context, userID uuid.UUID) (domain.Balances, error) {
	var user sqlUser
	err := s.client.DB().WithContext(ctx).Where("id = ?", userID.String()).First(&user).Error
	if err != nil {
		return domain.Balances{}, translateError(err)
	}
	return balancesOf(&user), nil
}

// ---- TransactionLedger ----

// Append 在 Session 內寫入一筆交易紀錄。
func (s *Store) Append(ctx context.Context, rec *domain.Record, sess usecase.Session) error {
	ss, err := s.session(sess)
	if err != nil {
		return err
	}
	row := sqlTransaction{
		RefID:         rec.ID[:],
		UserID:        rec.UserID.String(),
		Type:          string(rec.Type),
		Amount:        rec.Amount,
		DisplayAmount: rec.DisplayAmount,
		Title:         rec.Title,
		Account:       string(rec.Account),
		CreatedAt:     rec.CreatedAt.UnixMilli(),
	}
	if rec.Type == domain.TransactionTypeTransfer {
		from := string(rec.FromAccount)
		to := string(rec.ToAccount)
		row.FromAccount = &from
		row.ToAccount = &to
	}
	if err := ss.tx.Create(&row).Error; err != nil {
		return translateError(err)
	}
	return nil
}

// List 回傳使用者的交易紀錄，由新到舊。
func (s *Store) List(ctx context.Context, userID uuid.UUID) ([]domain.Record, error) {
	var rows []sqlTransaction
	err := s.client.DB().WithContext(ctx).
		Where("user_id = ?", userID.String()).
		Order("created_at DESC, id DESC").
		Find(&rows).Error
	if err != nil {
		return nil, translateError(err)
	}
	out := make([]domain.Record, 0, len(rows))
	for i := range rows {
		rec, err := recordOf(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, nil
}

// ---- UserStore ----

// CreateUser 建立使用者；唯一鍵（Email/身分證號/帳號）碰撞回傳 ErrUserExists。
func (s *Store) CreateUser(ctx context.Context, u *domain.User) error {
	row := userRowOf(u)
	if err := s.client.DB().WithContext(ctx).Create(row).Error; err != nil {
		return translateError(err)
	}
	return nil
}

// FindUserByID 依 ID 取得使用者。
func (s *Store) FindUserByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	var row sqlUser
	err := s.client.DB().WithContext(ctx).Where("id = ?", id.String()).First(&row).Error
	if err != nil {
		return nil, translateError(err)
	}
	return userOf(&row)
}

// FindUserByEmail 依 Email 取得使用者（不分大小寫）。
func (s *Store) FindUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	var row sqlUser
	err := s.client.DB().WithContext(ctx).
		Where("email = ?", strings.ToLower(email)).
		First(&row).Error
	if err != nil {
		return nil, translateError(err)
	}
	return userOf(&row)
}

// FindUserByNationalID 依身分證號取得使用者。
func (s *Store) FindUserByNationalID(ctx context.Context, nationalID string) (*domain.User, error) {
	var row sqlUser
	err := s.client.DB().WithContext(ctx).
		Where("national_id = ?", nationalID).
		First(&row).Error
	if err != nil {
		return nil, translateError(err)
	}
	return userOf(&row)
}

// UpdateUser 更新使用者主檔欄位（不含餘額；餘額只能走交易引擎）
// Email 重複由唯一索引擋下，translateError 轉成 ErrUserExists。
func (s *Store) UpdateUser(ctx context.Context, u *domain.User) error {
	err := s.client.DB().WithContext(ctx).Model(&sqlUser{}).
		Where("id = ?", u.ID.String()).
		Updates(map[string]any{
			"email":              strings.ToLower(u.Email),
			"phone_number":       u.PhoneNumber,
			"two_factor_enabled": u.TwoFactorEnabled,
		}).Error
	if err != nil {
		return translateError(err)
	}
	return nil
}

// ---- 轉換與錯誤對應 ----

func balancesOf(u *sqlUser) domain.Balances {
	return domain.Balances{
		Savings:    u.BalanceSavings,
		Checking:   u.BalanceChecking,
		Business:   u.BalanceBusiness,
		Investment: u.BalanceInvestment,
	}
}

func userRowOf(u *domain.User) *sqlUser {
	return &sqlUser{
		ID:               u.ID.String(),
		FirstName:        u.FirstName,
		LastName:         u.LastName,
		NationalID:       u.NationalID,
		Email:            strings.ToLower(u.Email),
		PhoneNumber:      u.PhoneNumber,
		PasswordHash:     u.PasswordHash,
		AccountNumber:    u.AccountNumber,
		CardNumber:       u.CardNumber,
		TwoFactorEnabled: u.TwoFactorEnabled,
	}
}

func userOf(row *sqlUser) (*domain.User, error) {
	id, err := uuid.Parse(row.ID)
	if err != nil {
		return nil, fmt.Errorf("parse user id %q: %w", row.ID, err)
	}
	return &domain.User{
		ID:               id,
		FirstName:        row.FirstName,
		LastName:         row.LastName,
		NationalID:       row.NationalID,
		Email:            row.Email,
		PhoneNumber:      row.PhoneNumber,
		PasswordHash:     row.PasswordHash,
		AccountNumber:    row.AccountNumber,
		CardNumber:       row.CardNumber,
		TwoFactorEnabled: row.TwoFactorEnabled,
		CreatedAt:        time.UnixMilli(row.CreatedAt),
	}, nil
}

func recordOf(row *sqlTransaction) (*domain.Record, error) {
	refID, err := uuid.FromBytes(row.RefID)
	if err != nil {
		return nil, fmt.Errorf("parse ref_id: %w", err)
	}
	userID, err := uuid.Parse(row.UserID)
	if err != nil {
		return nil, fmt.Errorf("parse user id %q: %w", row.UserID, err)
	}
	rec := &domain.Record{
		ID:            refID,
		UserID:        userID,
		Type:          domain.TransactionType(row.Type),
		Amount:        row.Amount,
		DisplayAmount: row.DisplayAmount,
		Title:         row.Title,
		Account:       domain.AccountKind(row.Account),
		CreatedAt:     time.UnixMilli(row.CreatedAt),
	}
	if row.FromAccount != nil {
		rec.FromAccount = domain.AccountKind(*row.FromAccount)
	}
	if row.ToAccount != nil {
		rec.ToAccount = domain.AccountKind(*row.ToAccount)
	}
	return rec, nil
}

// translateError 將 gorm / MySQL 錯誤對應到領域錯誤
// 死鎖與鎖等待逾時視為並發衝突，由引擎整筆重試。
func translateError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ErrNotFound
	}
	var mysqlErr *driver.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case mysqlErrDeadlock, mysqlErrLockWaitTimeout:
			return fmt.Errorf("%w: %v", domain.ErrConflict, err)
		case mysqlErrDuplicateEntry:
			return domain.ErrUserExists
		}
	}
	return err
}

var (
	_ usecase.SessionCoordinator = (*Store)(nil)
	_ usecase.AccountStore       = (*Store)(nil)
	_ usecase.TransactionLedger  = (*Store)(nil)
	_ usecase.UserStore          = (*Store)(nil)
)
