package usecase_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	memory_adapter "github.com/openbank/openbank-core/internal/app/core/adapter/out/memory"
	"github.com/openbank/openbank-core/internal/app/core/domain"
	"github.com/openbank/openbank-core/internal/app/core/usecase"
)

// newTestEngine 建立掛在記憶體後端上的引擎與一位已註冊的使用者。
func newTestEngine(t *testing.T) (*usecase.Engine, *memory_adapter.Store, uuid.UUID) {
	t.Helper()
	store, err := memory_adapter.NewStore(nil, zerolog.Nop())
	require.NoError(t, err)

	userID := uuid.New()
	err = store.CreateUser(context.Background(), &domain.User{
		ID:            userID,
		FirstName:     "Thandi",
		LastName:      "Nkosi",
		Email:         "thandi@example.com",
		NationalID:    "9001015009087",
		AccountNumber: "1234567890",
	})
	require.NoError(t, err)

	engine := usecase.NewEngine(store, store, store, zerolog.Nop())
	return engine, store, userID
}

// deposit 測試用小工具：把指定金額存進指定帳戶。
func deposit(t *testing.T, e *usecase.Engine, userID uuid.UUID, account, amount string) {
	t.Helper()
	_, err := e.CreateTransaction(context.Background(), userID, usecase.CreateTransactionInput{
		Type: "deposit", Amount: amount, Account: account,
	})
	require.NoError(t, err)
}

// TestCreateTransactionDeposit 存款 100 到 checking（初始 0）→ 餘額 100，
// 紀錄帶 "+R100.00" 顯示字串與預設標題。
func TestCreateTransactionDeposit(t *testing.T) {
	engine, _, userID := newTestEngine(t)
	ctx := context.Background()

	result, err := engine.CreateTransaction(ctx, userID, usecase.CreateTransactionInput{
		Type:    "deposit",
		Amount:  "100",
		Account: "checking",
	})
	require.NoError(t, err)

	assert.Equal(t, int64(10000), result.Balances.Checking)
	rec := result.Record
	assert.Equal(t, domain.TransactionTypeDeposit, rec.Type)
	assert.Equal(t, int64(10000), rec.Amount)
	assert.Equal(t, "+R100.00", rec.DisplayAmount)
	assert.Equal(t, "Deposit transaction", rec.Title)
	assert.Equal(t, domain.AccountChecking, rec.Account)
	assert.Empty(t, rec.FromAccount)
	assert.Empty(t, rec.ToAccount)

	// 恰好一筆紀錄，且與異動內容一致
	records, err := engine.ListTransactions(ctx, userID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, rec.ID, records[0].ID)
}

// TestWithdrawalInsufficientFunds 餘額 30 提款 50 → ErrInsufficientFunds，
// 餘額與交易紀錄完全不變（原子性）。
func TestWithdrawalInsufficientFunds(t *testing.T) {
	engine, _, userID := newTestEngine(t)
	ctx := context.Background()
	deposit(t, engine, userID, "checking", "30")

	before, err := engine.ListTransactions(ctx, userID)
	require.NoError(t, err)

	_, err = engine.CreateTransaction(ctx, userID, usecase.CreateTransactionInput{
		Type: "withdrawal", Amount: "50", Account: "checking",
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	balance, err := engine.GetBalance(ctx, userID, "checking")
	require.NoError(t, err)
	assert.Equal(t, int64(3000), balance.Balance)

	after, err := engine.ListTransactions(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

// TestTransfer savings 100、checking 10，轉 40 → savings 60、checking 50，
// 一筆轉帳紀錄，且總額守恆。
func TestTransfer(t *testing.T) {
	engine, _, userID := newTestEngine(t)
	ctx := context.Background()
	deposit(t, engine, userID, "savings", "100")
	deposit(t, engine, userID, "checking", "10")

	beforeTotal := int64(11000)

	result, err := engine.CreateTransaction(ctx, userID, usecase.CreateTransactionInput{
		Type: "transfer", Amount: "40", Account: "savings", ToAccount: "checking",
	})
	require.NoError(t, err)

	assert.Equal(t, int64(6000), result.Balances.Savings)
	assert.Equal(t, int64(5000), result.Balances.Checking)
	assert.Equal(t, beforeTotal, result.Balances.Total())

	rec := result.Record
	assert.Equal(t, domain.TransactionTypeTransfer, rec.Type)
	assert.Equal(t, "R40.00", rec.DisplayAmount)
	assert.Equal(t, domain.AccountSavings, rec.FromAccount)
	assert.Equal(t, domain.AccountChecking, rec.ToAccount)
}

// TestTransferSameAccount 同帳戶轉帳 → ErrSameAccountTransfer，狀態不變。
func TestTransferSameAccount(t *testing.T) {
	engine, _, userID := newTestEngine(t)
	ctx := context.Background()
	deposit(t, engine, userID, "savings", "100")

	_, err := engine.CreateTransaction(ctx, userID, usecase.CreateTransactionInput{
		Type: "transfer", Amount: "10", Account: "savings", ToAccount: "savings",
	})
	assert.ErrorIs(t, err, domain.ErrSameAccountTransfer)

	balances, err := engine.Balances(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), balances.Savings)
}

// TestTransferInvalidDestination 目的帳戶不合法 → ErrInvalidDestinationAccount。
func TestTransferInvalidDestination(t *testing.T) {
	engine, _, userID := newTestEngine(t)
	deposit(t, engine, userID, "savings", "100")

	_, err := engine.CreateTransaction(context.Background(), userID, usecase.CreateTransactionInput{
		Type: "transfer", Amount: "10", Account: "savings", ToAccount: "crypto",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidDestinationAccount)
}

// TestValidationErrors 邊界驗證失敗不觸碰任何狀態。
func TestValidationErrors(t *testing.T) {
	engine, _, userID := newTestEngine(t)
	ctx := context.Background()

	tests := []struct {
		name string
		in   usecase.CreateTransactionInput
		want error
	}{
		{"非法類型", usecase.CreateTransactionInput{Type: "loan", Amount: "10", Account: "savings"}, domain.ErrInvalidTransactionType},
		{"非法金額", usecase.CreateTransactionInput{Type: "deposit", Amount: "abc", Account: "savings"}, domain.ErrInvalidAmount},
		{"金額為零", usecase.CreateTransactionInput{Type: "deposit", Amount: "0", Account: "savings"}, domain.ErrInvalidAmount},
		{"非法帳戶", usecase.CreateTransactionInput{Type: "deposit", Amount: "10", Account: "crypto"}, domain.ErrInvalidAccount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.CreateTransaction(ctx, userID, tt.in)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	records, err := engine.ListTransactions(ctx, userID)
	require.NoError(t, err)
	assert.Empty(t, records)
}

// TestUnknownUser 未註冊的使用者 → ErrNotFound。
func TestUnknownUser(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	_, err := engine.CreateTransaction(context.Background(), uuid.New(), usecase.CreateTransactionInput{
		Type: "deposit", Amount: "10", Account: "savings",
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

// TestCustomTitle 有提供標題時不使用預設值。
func TestCustomTitle(t *testing.T) {
	engine, _, userID := newTestEngine(t)

	result, err := engine.CreateTransaction(context.Background(), userID, usecase.CreateTransactionInput{
		Type: "deposit", Amount: "10", Account: "savings", Title: "Salary",
	})
	require.NoError(t, err)
	assert.Equal(t, "Salary", result.Record.Title)
}

// TestReadIdempotence 查詢不改變狀態：重複查詢結果一致。
func TestReadIdempotence(t *testing.T) {
	engine, _, userID := newTestEngine(t)
	ctx := context.Background()
	deposit(t, engine, userID, "business", "75.50")

	b1, err := engine.GetBalance(ctx, userID, "business")
	require.NoError(t, err)
	b2, err := engine.GetBalance(ctx, userID, "business")
	require.NoError(t, err)
	assert.Equal(t, b1, b2)
	assert.Equal(t, int64(7550), b1.Balance)

	l1, err := engine.ListTransactions(ctx, userID)
	require.NoError(t, err)
	l2, err := engine.ListTransactions(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, l1, l2)
}

// TestGetBalanceInvalidAccount 未知帳戶種類 → ErrInvalidAccount。
func TestGetBalanceInvalidAccount(t *testing.T) {
	engine, _, userID := newTestEngine(t)
	_, err := engine.GetBalance(context.Background(), userID, "crypto")
	assert.ErrorIs(t, err, domain.ErrInvalidAccount)
}

// TestConcurrentWithdrawals 餘額 B、N 筆並發提款各 A：
// 恰好 min(N, floor(B/A)) 筆成功，其餘 ErrInsufficientFunds，
// 最終餘額 = B - 成功筆數*A。
func TestConcurrentWithdrawals(t *testing.T) {
	engine, _, userID := newTestEngine(t)
	ctx := context.Background()
	deposit(t, engine, userID, "business", "100") // B = 10000 cents

	const n = 5
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, errs[idx] = engine.CreateTransaction(ctx, userID, usecase.CreateTransactionInput{
				Type: "withdrawal", Amount: "30", Account: "business", // A = 3000 cents
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t,
			errors.Is(err, domain.ErrInsufficientFunds) || errors.Is(err, domain.ErrConflict),
			"unexpected error: %v", err)
	}
	assert.Equal(t, 3, succeeded) // floor(10000/3000)

	balances, err := engine.Balances(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(10000-3*3000), balances.Business)

	records, err := engine.ListTransactions(ctx, userID)
	require.NoError(t, err)
	assert.Len(t, records, 1+succeeded) // 種子存款 + 成功提款
}

// spyRecorder 記錄引擎回報的指標呼叫。
type spyRecorder struct {
	mu        sync.Mutex
	committed []domain.TransactionType
	aborted   []domain.TransactionType
}

func (r *spyRecorder) TransactionCommitted(txType domain.TransactionType, _ domain.AccountKind, _ int64, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, txType)
}

func (r *spyRecorder) TransactionAborted(txType domain.TransactionType, _ string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aborted = append(r.aborted, txType)
}

// TestRecorderTypeLabels 指標回報一律帶已解析的交易類型；
// 類型本身解析失敗時不回報（不產生空 type label）。
func TestRecorderTypeLabels(t *testing.T) {
	store, err := memory_adapter.NewStore(nil, zerolog.Nop())
	require.NoError(t, err)
	userID := uuid.New()
	require.NoError(t, store.CreateUser(context.Background(), &domain.User{
		ID: userID, Email: "u@example.com", AccountNumber: "1111111111",
	}))

	spy := &spyRecorder{}
	engine := usecase.NewEngine(store, store, store, zerolog.Nop(), usecase.WithRecorder(spy))
	ctx := context.Background()

	// 類型不合法 → recorder 完全不被呼叫
	_, err = engine.CreateTransaction(ctx, userID, usecase.CreateTransactionInput{
		Type: "loan", Amount: "10", Account: "savings",
	})
	require.ErrorIs(t, err, domain.ErrInvalidTransactionType)
	assert.Empty(t, spy.aborted)
	assert.Empty(t, spy.committed)

	// 金額不合法 → abort 帶已解析的類型
	_, err = engine.CreateTransaction(ctx, userID, usecase.CreateTransactionInput{
		Type: "deposit", Amount: "abc", Account: "savings",
	})
	require.ErrorIs(t, err, domain.ErrInvalidAmount)
	assert.Equal(t, []domain.TransactionType{domain.TransactionTypeDeposit}, spy.aborted)

	// 成功 → commit 帶類型
	_, err = engine.CreateTransaction(ctx, userID, usecase.CreateTransactionInput{
		Type: "deposit", Amount: "10", Account: "savings",
	})
	require.NoError(t, err)
	assert.Equal(t, []domain.TransactionType{domain.TransactionTypeDeposit}, spy.committed)
}

// conflictingCoordinator 前 failures 次 Commit 回傳 ErrConflict（並回滾底層），
// 用來驗證引擎的有限次整筆重試。
type conflictingCoordinator struct {
	*memory_adapter.Store
	mu       sync.Mutex
	failures int
}

func (c *conflictingCoordinator) Commit(ctx context.Context, sess usecase.Session) error {
	c.mu.Lock()
	shouldFail := c.failures > 0
	if shouldFail {
		c.failures--
	}
	c.mu.Unlock()
	if shouldFail {
		if err := c.Store.Abort(ctx, sess); err != nil {
			return err
		}
		return domain.ErrConflict
	}
	return c.Store.Commit(ctx, sess)
}

// TestConflictRetry 遇到並發衝突時整筆重試，重試內成功則對外成功。
func TestConflictRetry(t *testing.T) {
	store, err := memory_adapter.NewStore(nil, zerolog.Nop())
	require.NoError(t, err)
	userID := uuid.New()
	require.NoError(t, store.CreateUser(context.Background(), &domain.User{
		ID: userID, Email: "u@example.com", AccountNumber: "1111111111",
	}))

	coord := &conflictingCoordinator{Store: store, failures: 2}
	engine := usecase.NewEngine(coord, store, store, zerolog.Nop())

	result, err := engine.CreateTransaction(context.Background(), userID, usecase.CreateTransactionInput{
		Type: "deposit", Amount: "10", Account: "savings",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), result.Balances.Savings)

	records, err := engine.ListTransactions(context.Background(), userID)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

// TestConflictExhausted 重試次數用盡後對外回傳 ErrConflict。
func TestConflictExhausted(t *testing.T) {
	store, err := memory_adapter.NewStore(nil, zerolog.Nop())
	require.NoError(t, err)
	userID := uuid.New()
	require.NoError(t, store.CreateUser(context.Background(), &domain.User{
		ID: userID, Email: "u@example.com", AccountNumber: "1111111111",
	}))

	coord := &conflictingCoordinator{Store: store, failures: 100}
	engine := usecase.NewEngine(coord, store, store, zerolog.Nop())

	_, err = engine.CreateTransaction(context.Background(), userID, usecase.CreateTransactionInput{
		Type: "deposit", Amount: "10", Account: "savings",
	})
	assert.ErrorIs(t, err, domain.ErrConflict)

	balances, err := engine.Balances(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), balances.Savings)
}

// failingCoordinator Commit 一律失敗（模擬底層儲存故障）。
type failingCoordinator struct {
	*memory_adapter.Store
}

func (f *failingCoordinator) Commit(ctx context.Context, sess usecase.Session) error {
	if err := f.Store.Abort(ctx, sess); err != nil {
		return err
	}
	return errors.New("disk full")
}

// TestCommitFailureIsInfrastructure Session 本身 commit 失敗 → ErrInfrastructure，
// 不自動重試，狀態不變。
func TestCommitFailureIsInfrastructure(t *testing.T) {
	store, err := memory_adapter.NewStore(nil, zerolog.Nop())
	require.NoError(t, err)
	userID := uuid.New()
	require.NoError(t, store.CreateUser(context.Background(), &domain.User{
		ID: userID, Email: "u@example.com", AccountNumber: "1111111111",
	}))

	engine := usecase.NewEngine(&failingCoordinator{Store: store}, store, store, zerolog.Nop())

	_, err = engine.CreateTransaction(context.Background(), userID, usecase.CreateTransactionInput{
		Type: "deposit", Amount: "10", Account: "savings",
	})
	assert.ErrorIs(t, err, domain.ErrInfrastructure)

	balances, err := engine.Balances(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, domain.Balances{}, balances)

	records, err := engine.ListTransactions(context.Background(), userID)
	require.NoError(t, err)
	assert.Empty(t, records)
}
