package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/openbank/openbank-core/internal/app/core/domain"
)

const (
	// DefaultCurrency 顯示字串的貨幣前綴預設值
	DefaultCurrency = "R"
	// defaultMaxAttempts 遇到並發衝突時整筆操作的最大嘗試次數
	defaultMaxAttempts = 3
)

// Engine 交易引擎：驗證請求、計算增減、在單一 Session 內
// 更新餘額並寫入交易紀錄，最後 commit 或 abort。
// 這是系統中唯一允許變更餘額的元件。
type Engine struct {
	sessions SessionCoordinator
	accounts AccountStore
	ledger   TransactionLedger
	recorder Recorder
	logger   zerolog.Logger

	currency    string
	maxAttempts int

	// 測試注入點
	now   func() time.Time
	newID func() uuid.UUID
}

// EngineOption Engine 的配置選項函數
type EngineOption func(*Engine)

// WithCurrency 設定顯示字串的貨幣前綴。
func WithCurrency(currency string) EngineOption {
	return func(e *Engine) {
		if currency != "" {
			e.currency = currency
		}
	}
}

// WithRecorder 注入業務指標觀測實作。
func WithRecorder(r Recorder) EngineOption {
	return func(e *Engine) {
		if r != nil {
			e.recorder = r
		}
	}
}

// WithClock 注入時鐘（測試用）。
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// NewEngine 建立交易引擎
//
// 參數:
//
//	sessions: 工作單元協調者
//	accounts: 餘額儲存
//	ledger: 交易紀錄儲存
//	logger: zerolog 實例
//	opts: 可選配置
func NewEngine(sessions SessionCoordinator, accounts AccountStore, ledger TransactionLedger, logger zerolog.Logger, opts ...EngineOption) *Engine {
	e := &Engine{
		sessions:    sessions,
		accounts:    accounts,
		ledger:      ledger,
		recorder:    NopRecorder{},
		logger:      logger,
		currency:    DefaultCurrency,
		maxAttempts: defaultMaxAttempts,
		now:         time.Now,
		newID:       uuid.New,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CreateTransactionInput 一筆交易請求的原始輸入（皆為外部字串，引擎負責驗證）
type CreateTransactionInput struct {
	Type      string
	Amount    string
	Account   string
	ToAccount string
	Title     string
}

// CreateTransactionResult 交易成功後回傳的餘額快照與新紀錄
type CreateTransactionResult struct {
	Balances domain.Balances
	Record   *domain.Record
}

// BalanceResult 單一帳戶的餘額查詢結果
type BalanceResult struct {
	Account domain.AccountKind
	Balance int64
}

// CreateTransaction 處理一筆交易（存款/提款/轉帳）
// 流程: 驗證 → Begin → 讀餘額 → 套用增減 → 寫紀錄 → Commit；
// 任一步失敗即 Abort，狀態與呼叫前完全相同。
// 遇到並發衝突 (ErrConflict) 時整筆重試，最多 maxAttempts 次。
//
// 參數:
//
//	ctx: 上下文
//	userID: 已驗證的使用者 ID（引擎信任外部身分驗證）
//	in: 原始請求輸入
//
// 回傳:
//
//	*CreateTransactionResult: 更新後餘額快照與新紀錄
//	error: 具型別的領域錯誤
func (e *Engine) CreateTransaction(ctx context.Context, userID uuid.UUID, in CreateTransactionInput) (*CreateTransactionResult, error) {
	start := e.now()

	// 1. 邊界驗證：尚未開啟 Session，失敗不觸碰任何狀態
	// 類型解析不出來就沒有可用的 type label，不進 recorder
	txType, err := domain.ParseTransactionType(in.Type)
	if err != nil {
		return nil, err
	}
	amount, err := domain.ParseAmount(in.Amount)
	if err != nil {
		e.recorder.TransactionAborted(txType, err.Error(), e.now().Sub(start))
		return nil, err
	}
	account, err := domain.ParseAccountKind(in.Account)
	if err != nil {
		e.recorder.TransactionAborted(txType, err.Error(), e.now().Sub(start))
		return nil, err
	}

	var result *CreateTransactionResult
	for attempt := 1; ; attempt++ {
		result, err = e.createOnce(ctx, userID, txType, amount, account, in)
		if err == nil || !errors.Is(err, domain.ErrConflict) || attempt >= e.maxAttempts {
			break
		}
		e.logger.Warn().
			Str("user_id", userID.String()).
			Int("attempt", attempt).
			Msg("transaction conflict, retrying")
	}

	elapsed := e.now().Sub(start)
	if err != nil {
		e.recorder.TransactionAborted(txType, err.Error(), elapsed)
		return nil, err
	}
	e.recorder.TransactionCommitted(txType, account, amount, elapsed)
	return result, nil
}

// createOnce 在單一 Session 內執行一次完整的交易嘗試。
func (e *Engine) createOnce(ctx context.Context, userID uuid.UUID, txType domain.TransactionType, amount int64, account domain.AccountKind, in CreateTransactionInput) (_ *CreateTransactionResult, err error) {
	sess, err := e.sessions.Begin(ctx)
	if err != nil {
		e.logger.Error().Err(err).Msg("failed to begin session")
		return nil, fmt.Errorf("%w: begin: %v", domain.ErrInfrastructure, err)
	}
	// Commit 之前的失敗路徑一律 Abort；Abort 本身失敗視為致命
	// Commit 失敗時由 adapter 負責收尾，不可再 Abort
	commitAttempted := false
	defer func() {
		if err != nil && !commitAttempted {
			if abortErr := e.sessions.Abort(ctx, sess); abortErr != nil {
				e.logger.Error().Err(abortErr).
					Str("session_id", sess.SessionID().String()).
					Msg("session abort failed")
				err = fmt.Errorf("%w: abort: %v", domain.ErrInfrastructure, abortErr)
			}
		}
	}()

	balances, err := e.accounts.Get(ctx, userID, sess)
	if err != nil {
		return nil, err
	}

	deltas, toAccount, err := computeDeltas(txType, amount, account, in.ToAccount, balances)
	if err != nil {
		return nil, err
	}

	newBalances, err := e.accounts.ApplyDeltas(ctx, userID, deltas, sess)
	if err != nil {
		return nil, err
	}

	title := in.Title
	if title == "" {
		title = domain.DefaultTitle(txType)
	}
	rec := &domain.Record{
		ID:            e.newID(),
		UserID:        userID,
		Type:          txType,
		Amount:        amount,
		DisplayAmount: domain.RenderDisplayAmount(txType, amount, e.currency),
		Title:         title,
		Account:       account,
		CreatedAt:     e.now(),
	}
	if txType == domain.TransactionTypeTransfer {
		rec.FromAccount = account
		rec.ToAccount = toAccount
	}
	if err = e.ledger.Append(ctx, rec, sess); err != nil {
		return nil, err
	}

	commitAttempted = true
	if err = e.sessions.Commit(ctx, sess); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, err
		}
		e.logger.Error().Err(err).
			Str("session_id", sess.SessionID().String()).
			Msg("session commit failed")
		return nil, fmt.Errorf("%w: commit: %v", domain.ErrInfrastructure, err)
	}

	return &CreateTransactionResult{Balances: newBalances, Record: rec}, nil
}

// computeDeltas 依交易類型計算餘額增減
// 提款與轉帳在此先檢查來源餘額（ApplyDeltas 會再強制一次非負）。
func computeDeltas(txType domain.TransactionType, amount int64, account domain.AccountKind, rawTo string, balances domain.Balances) (domain.Deltas, domain.AccountKind, error) {
	switch txType {
	case domain.TransactionTypeDeposit:
		return domain.Deltas{account: amount}, "", nil

	case domain.TransactionTypeWithdrawal:
		if balances.Amount(account) < amount {
			return nil, "", domain.ErrInsufficientFunds
		}
		return domain.Deltas{account: -amount}, "", nil

	case domain.TransactionTypeTransfer:
		toAccount, err := domain.ParseAccountKind(rawTo)
		if err != nil {
			return nil, "", domain.ErrInvalidDestinationAccount
		}
		if toAccount == account {
			return nil, "", domain.ErrSameAccountTransfer
		}
		if balances.Amount(account) < amount {
			return nil, "", domain.ErrInsufficientFunds
		}
		return domain.Deltas{account: -amount, toAccount: amount}, toAccount, nil
	}
	return nil, "", domain.ErrInvalidTransactionType
}

// GetBalance 查詢單一帳戶餘額（唯讀，不變更任何狀態）
//
// 參數:
//
//	ctx: 上下文
//	userID: 已驗證的使用者 ID
//	rawKind: 外部輸入的帳戶種類
//
// 回傳:
//
//	*BalanceResult: 帳戶種類與餘額
//	error: ErrInvalidAccount / ErrNotFound
func (e *Engine) GetBalance(ctx context.Context, userID uuid.UUID, rawKind string) (*BalanceResult, error) {
	kind, err := domain.ParseAccountKind(rawKind)
	if err != nil {
		return nil, err
	}
	balances, err := e.accounts.Snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &BalanceResult{Account: kind, Balance: balances.Amount(kind)}, nil
}

// Balances 查詢使用者全部四種餘額（唯讀）。
func (e *Engine) Balances(ctx context.Context, userID uuid.UUID) (domain.Balances, error) {
	return e.accounts.Snapshot(ctx, userID)
}

// ListTransactions 查詢使用者交易紀錄，由新到舊（唯讀）。
func (e *Engine) ListTransactions(ctx context.Context, userID uuid.UUID) ([]domain.Record, error) {
	return e.ledger.List(ctx, userID)
}
