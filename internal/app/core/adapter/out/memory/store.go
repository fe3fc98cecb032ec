package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/openbank/openbank-core/internal/app/core/domain"
	"github.com/openbank/openbank-core/internal/app/core/usecase"
	"github.com/openbank/openbank-core/pkg/wal"
)

// Store 記憶體後端：同時實作 SessionCoordinator、AccountStore、
// TransactionLedger 與 UserStore
//
// 並發模型:
//
//	sessMu: 每位使用者一把，Session 第一次觸碰該使用者時取得、
//	        commit/abort 時釋放，序列化同一使用者的 read-modify-write
//	dataMu: 保護已提交狀態；讀者只看得到 commit 後的資料
//
// 持久性: commit 時逐筆寫入 WAL (JSON-lines)，啟動時重放恢復。
type Store struct {
	mu              sync.RWMutex
	users           map[uuid.UUID]*userState
	byEmail         map[string]uuid.UUID
	byNationalID    map[string]uuid.UUID
	byAccountNumber map[string]uuid.UUID

	wal    *wal.WAL
	hook   usecase.SessionHook
	logger zerolog.Logger
}

// userState 單一使用者的狀態與鎖
type userState struct {
	// sessMu 交易臨界區鎖；鎖順序固定 sessMu -> dataMu 以避免死鎖
	sessMu sync.Mutex
	dataMu sync.RWMutex

	user     domain.User
	balances domain.Balances
	// records 依提交順序附加；List 回傳時反轉為由新到舊
	records []domain.Record
}

// memSession 記憶體後端的工作單元
// 所有寫入先暫存於此，commit 時一次性發布。
type memSession struct {
	id      uuid.UUID
	startAt time.Time
	// state 綁定並鎖定的使用者；唯讀 Session 可能為 nil
	state    *userState
	staged   domain.Balances
	dirty    bool
	records  []*domain.Record
	finished bool
}

func (s *memSession) SessionID() uuid.UUID { return s.id }

// StoreOption Store 的配置選項函數
type StoreOption func(*Store)

// WithSessionHook 設定 commit/abort 邊界的觀測掛鉤。
func WithSessionHook(hook usecase.SessionHook) StoreOption {
	return func(s *Store) { s.hook = hook }
}

// walEntry WAL 的單筆記錄
// Kind 為 user / user_update / transaction 三種。
type walEntry struct {
	Kind     string           `json:"kind"`
	User     *domain.User     `json:"user,omitempty"`
	Record   *domain.Record   `json:"record,omitempty"`
	Balances *domain.Balances `json:"balances,omitempty"`
}

// NewStore 建立記憶體後端並重放 WAL
//
// 參數:
//
//	w: WAL 實例，可為 nil（純記憶體，不持久化）
//	logger: zerolog 實例
//	opts: 可選配置
//
// 回傳:
//
//	*Store: Store 實例
//	error: WAL 重放失敗
func NewStore(w *wal.WAL, logger zerolog.Logger, opts ...StoreOption) (*Store, error) {
	s := &Store{
		users:           make(map[uuid.UUID]*userState),
		byEmail:         make(map[string]uuid.UUID),
		byNationalID:    make(map[string]uuid.UUID),
		byAccountNumber: make(map[string]uuid.UUID),
		wal:             w,
		logger:          logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.recoverFromWAL(); err != nil {
		return nil, err
	}
	return s, nil
}

// recoverFromWAL 重放 WAL 恢復使用者、餘額與交易紀錄
// 只有 NewStore 呼叫，單執行緒，無需加鎖。
func (s *Store) recoverFromWAL() error {
	if s.wal == nil {
		return nil
	}
	count := 0
	err := s.wal.ReadAll(func(jsonRaw []byte) error {
		var entry walEntry
		if err := json.Unmarshal(jsonRaw, &entry); err != nil {
			return err
		}
		count++
		return s.applyRecoverEntry(&entry)
	})
	if err != nil {
		return err
	}
	if count > 0 {
		s.logger.Info().Int("entries", count).Int("users", len(s.users)).Msg("recovered state from WAL")
	}
	return nil
}

func (s *Store) applyRecoverEntry(entry *walEntry) error {
	switch entry.Kind {
	case walKindUser:
		if entry.User == nil {
			return fmt.Errorf("wal: user entry without user")
		}
		s.indexUser(&userState{user: *entry.User})
	case walKindUserUpdate:
		if entry.User == nil {
			return fmt.Errorf("wal: user_update entry without user")
		}
		state, ok := s.users[entry.User.ID]
		if !ok {
			return fmt.Errorf("wal: user_update for unknown user %s", entry.User.ID)
		}
		s.rekeyUser(state, entry.User)
	case walKindTransaction:
		if entry.Record == nil || entry.Balances == nil {
			return fmt.Errorf("wal: transaction entry missing record or balances")
		}
		state, ok := s.users[entry.Record.UserID]
		if !ok {
			return fmt.Errorf("wal: transaction for unknown user %s", entry.Record.UserID)
		}
		state.records = append(state.records, *entry.Record)
		state.balances = *entry.Balances
	default:
		return fmt.Errorf("wal: unknown entry kind %q", entry.Kind)
	}
	return nil
}

const (
	walKindUser        = "user"
	walKindUserUpdate  = "user_update"
	walKindTransaction = "transaction"
)

// indexUser 將 userState 放進各索引表；呼叫端負責鎖。
func (s *Store) indexUser(state *userState) {
	s.users[state.user.ID] = state
	s.byEmail[strings.ToLower(state.user.Email)] = state.user.ID
	if state.user.NationalID != "" {
		s.byNationalID[state.user.NationalID] = state.user.ID
	}
	s.byAccountNumber[state.user.AccountNumber] = state.user.ID
}

// rekeyUser 更新使用者主檔並同步重建各索引
// 呼叫端負責鎖與唯一性檢查。
func (s *Store) rekeyUser(state *userState, u *domain.User) {
	old := state.user
	delete(s.byEmail, strings.ToLower(old.Email))
	if old.NationalID != "" {
		delete(s.byNationalID, old.NationalID)
	}
	delete(s.byAccountNumber, old.AccountNumber)
	state.user = *u
	s.indexUser(state)
}

// ---- SessionCoordinator ----

// Begin 開啟一個新的工作單元。
func (s *Store) Begin(ctx context.Context) (usecase.Session, error) {
	return &memSession{id: uuid.New(), startAt: time.Now()}, nil
}

// Commit 一次性發布 Session 內的所有寫入
// 先寫 WAL（持久性），再在 dataMu 下發布（可見性），最後釋放使用者鎖。
func (s *Store) Commit(ctx context.Context, sess usecase.Session) error {
	ms, err := s.session(sess)
	if err != nil {
		return err
	}
	if ms.finished {
		return fmt.Errorf("session %s already finished", ms.id)
	}
	ms.finished = true

	if ms.state != nil {
		if s.wal != nil {
			for _, rec := range ms.records {
				staged := ms.staged
				entry := walEntry{Kind: walKindTransaction, Record: rec, Balances: &staged}
				if err := s.wal.Write(entry); err != nil {
					// WAL 寫不進去就不能發布，整筆退回
					ms.state.sessMu.Unlock()
					s.emitHook(usecase.SessionAborted, ms)
					return fmt.Errorf("wal write: %w", err)
				}
			}
		}

		ms.state.dataMu.Lock()
		if ms.dirty {
			ms.state.balances = ms.staged
		}
		for _, rec := range ms.records {
			ms.state.records = append(ms.state.records, *rec)
		}
		ms.state.dataMu.Unlock()
		ms.state.sessMu.Unlock()
	}

	s.emitHook(usecase.SessionCommitted, ms)
	return nil
}

// Abort 丟棄 Session 內的所有寫入並釋放使用者鎖。
func (s *Store) Abort(ctx context.Context, sess usecase.Session) error {
	ms, err := s.session(sess)
	if err != nil {
		return err
	}
	if ms.finished {
		return fmt.Errorf("session %s already finished", ms.id)
	}
	ms.finished = true
	ms.records = nil
	ms.dirty = false
	if ms.state != nil {
		ms.state.sessMu.Unlock()
	}
	s.emitHook(usecase.SessionAborted, ms)
	return nil
}

func (s *Store) emitHook(outcome usecase.SessionOutcome, ms *memSession) {
	if s.hook != nil {
		s.hook(outcome, time.Since(ms.startAt))
	}
}

// session 驗證 Session 型別（必須是本 Store 發出的）。
func (s *Store) session(sess usecase.Session) (*memSession, error) {
	ms, ok := sess.(*memSession)
	if !ok {
		return nil, fmt.Errorf("%w: foreign session type %T", domain.ErrInfrastructure, sess)
	}
	return ms, nil
}

// bind 將 Session 綁定到指定使用者並取得其交易臨界區鎖
// 同一 Session 只能綁定一位使用者（核心不做跨使用者操作）。
func (s *Store) bind(ms *memSession, userID uuid.UUID) error {
	if ms.finished {
		return fmt.Errorf("session %s already finished", ms.id)
	}
	if ms.state != nil {
		if ms.state.user.ID != userID {
			return fmt.Errorf("%w: session bound to another user", domain.ErrInfrastructure)
		}
		return nil
	}

	s.mu.RLock()
	state, ok := s.users[userID]
	s.mu.RUnlock()
	if !ok {
		return domain.ErrNotFound
	}

	state.sessMu.Lock()
	state.dataMu.RLock()
	ms.staged = state.balances
	state.dataMu.RUnlock()
	ms.state = state
	return nil
}

// ---- AccountStore ----

// Get 取得綁定在 Session 上的餘額快照。
func (s *Store) Get(ctx context.Context, userID uuid.UUID, sess usecase.Session) (domain.Balances, error) {
	ms, err := s.session(sess)
	if err != nil {
		return domain.Balances{}, err
	}
	if err := s.bind(ms, userID); err != nil {
		return domain.Balances{}, err
	}
	return ms.staged, nil
}

// ApplyDeltas 在 Session 內原子套用所有增減（全部成功或全部失敗）。
func (s *Store) ApplyDeltas(ctx context.Context, userID uuid.UUID, deltas domain.Deltas, sess usecase.Session) (domain.Balances, error) {
	ms, err := s.session(sess)
	if err != nil {
		return domain.Balances{}, err
	}
	if err := s.bind(ms, userID); err != nil {
		return domain.Balances{}, err
	}
	next, err := ms.staged.Apply(deltas)
	if err != nil {
		return domain.Balances{}, err
	}
	ms.staged = next
	ms.dirty = true
	return next, nil
}

// Snapshot 不經 Session 的唯讀快照（只看得到已提交狀態）。
func (s *Store) Snapshot(ctx context.Context, userID uuid.UUID) (domain.Balances, error) {
	s.mu.RLock()
	state, ok := s.users[userID]
	s.mu.RUnlock()
	if !ok {
		return domain.Balances{}, domain.ErrNotFound
	}
	state.dataMu.RLock()
	defer state.dataMu.RUnlock()
	return state.balances, nil
}

// ---- TransactionLedger ----

// Append 在 Session 內暫存一筆交易紀錄，commit 後才可見。
func (s *Store) Append(ctx context.Context, rec *domain.Record, sess usecase.Session) error {
	ms, err := s.session(sess)
	if err != nil {
		return err
	}
	if err := s.bind(ms, rec.UserID); err != nil {
		return err
	}
	ms.records = append(ms.records, rec)
	return nil
}

// List 回傳使用者的交易紀錄，由新到舊。
func (s *Store) List(ctx context.Context, userID uuid.UUID) ([]domain.Record, error) {
	s.mu.RLock()
	state, ok := s.users[userID]
	s.mu.RUnlock()
	if !ok {
		return nil, domain.ErrNotFound
	}
	state.dataMu.RLock()
	defer state.dataMu.RUnlock()
	out := make([]domain.Record, 0, len(state.records))
	for i := len(state.records) - 1; i >= 0; i-- {
		out = append(out, state.records[i])
	}
	return out, nil
}

// ---- UserStore ----

// CreateUser 建立使用者（四種餘額零初始化），Email、身分證號或帳號重複回傳 ErrUserExists。
func (s *Store) CreateUser(ctx context.Context, u *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(u.Email)
	if _, ok := s.byEmail[email]; ok {
		return domain.ErrUserExists
	}
	if u.NationalID != "" {
		if _, ok := s.byNationalID[u.NationalID]; ok {
			return domain.ErrUserExists
		}
	}
	if _, ok := s.byAccountNumber[u.AccountNumber]; ok {
		return domain.ErrUserExists
	}

	if s.wal != nil {
		if err := s.wal.Write(walEntry{Kind: walKindUser, User: u}); err != nil {
			return fmt.Errorf("wal write: %w", err)
		}
	}
	s.indexUser(&userState{user: *u})
	return nil
}

// FindUserByID 依 ID 取得使用者（值拷貝，避免外部改寫內部狀態）。
func (s *Store) FindUserByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	s.mu.RLock()
	state, ok := s.users[id]
	s.mu.RUnlock()
	if !ok {
		return nil, domain.ErrNotFound
	}
	state.dataMu.RLock()
	defer state.dataMu.RUnlock()
	cp := state.user
	return &cp, nil
}

// FindUserByEmail 依 Email 取得使用者（不分大小寫）。
func (s *Store) FindUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	s.mu.RLock()
	id, ok := s.byEmail[strings.ToLower(email)]
	s.mu.RUnlock()
	if !ok {
		return nil, domain.ErrNotFound
	}
	return s.FindUserByID(ctx, id)
}

// FindUserByNationalID 依身分證號取得使用者。
func (s *Store) FindUserByNationalID(ctx context.Context, nationalID string) (*domain.User, error) {
	s.mu.RLock()
	id, ok := s.byNationalID[nationalID]
	s.mu.RUnlock()
	if !ok {
		return nil, domain.ErrNotFound
	}
	return s.FindUserByID(ctx, id)
}

// UpdateUser 更新使用者主檔（不含餘額；餘額只能走交易引擎）
// Email 或身分證號換成其他使用者已佔用的值時回傳 ErrUserExists，
// 並同步重建索引，確保新值查得到、舊值查不到。
func (s *Store) UpdateUser(ctx context.Context, u *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.users[u.ID]
	if !ok {
		return domain.ErrNotFound
	}

	if other, ok := s.byEmail[strings.ToLower(u.Email)]; ok && other != u.ID {
		return domain.ErrUserExists
	}
	if u.NationalID != "" {
		if other, ok := s.byNationalID[u.NationalID]; ok && other != u.ID {
			return domain.ErrUserExists
		}
	}

	if s.wal != nil {
		if err := s.wal.Write(walEntry{Kind: walKindUserUpdate, User: u}); err != nil {
			return fmt.Errorf("wal write: %w", err)
		}
	}
	state.dataMu.Lock()
	s.rekeyUser(state, u)
	state.dataMu.Unlock()
	return nil
}

var (
	_ usecase.SessionCoordinator = (*Store)(nil)
	_ usecase.AccountStore       = (*Store)(nil)
	_ usecase.TransactionLedger  = (*Store)(nil)
	_ usecase.UserStore          = (*Store)(nil)
)
