package memory

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openbank/openbank-core/internal/app/core/domain"
	"github.com/openbank/openbank-core/internal/app/core/usecase"
	"github.com/openbank/openbank-core/pkg/wal"
)

func newTestStore(t *testing.T) (*Store, uuid.UUID) {
	t.Helper()
	store, err := NewStore(nil, zerolog.Nop())
	require.NoError(t, err)
	userID := uuid.New()
	require.NoError(t, store.CreateUser(context.Background(), &domain.User{
		ID:            userID,
		Email:         "lerato@example.com",
		AccountNumber: "9876543210",
	}))
	return store, userID
}

func testRecord(userID uuid.UUID, amount int64) *domain.Record {
	return &domain.Record{
		ID:            uuid.New(),
		UserID:        userID,
		Type:          domain.TransactionTypeDeposit,
		Amount:        amount,
		DisplayAmount: "+R" + domain.FormatAmount(amount),
		Title:         "Deposit transaction",
		Account:       domain.AccountSavings,
		CreatedAt:     time.Now(),
	}
}

// TestSessionIsolation 未提交的寫入對外部讀者不可見，提交後一次性可見。
func TestSessionIsolation(t *testing.T) {
	store, userID := newTestStore(t)
	ctx := context.Background()

	sess, err := store.Begin(ctx)
	require.NoError(t, err)

	_, err = store.ApplyDeltas(ctx, userID, domain.Deltas{domain.AccountSavings: 5000}, sess)
	require.NoError(t, err)
	require.NoError(t, store.Append(ctx, testRecord(userID, 5000), sess))

	// 提交前：外部讀者只看得到舊狀態
	snapshot, err := store.Snapshot(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), snapshot.Savings)
	records, err := store.List(ctx, userID)
	require.NoError(t, err)
	assert.Empty(t, records)

	require.NoError(t, store.Commit(ctx, sess))

	// 提交後：餘額與紀錄同時可見
	snapshot, err = store.Snapshot(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), snapshot.Savings)
	records, err = store.List(ctx, userID)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

// TestAbortRollsBack Abort 丟棄所有暫存寫入並釋放使用者鎖。
func TestAbortRollsBack(t *testing.T) {
	store, userID := newTestStore(t)
	ctx := context.Background()

	sess, err := store.Begin(ctx)
	require.NoError(t, err)
	_, err = store.ApplyDeltas(ctx, userID, domain.Deltas{domain.AccountChecking: 7000}, sess)
	require.NoError(t, err)
	require.NoError(t, store.Append(ctx, testRecord(userID, 7000), sess))
	require.NoError(t, store.Abort(ctx, sess))

	snapshot, err := store.Snapshot(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, domain.Balances{}, snapshot)
	records, err := store.List(ctx, userID)
	require.NoError(t, err)
	assert.Empty(t, records)

	// 鎖已釋放：下一個 Session 可正常進行
	sess2, err := store.Begin(ctx)
	require.NoError(t, err)
	_, err = store.Get(ctx, userID, sess2)
	require.NoError(t, err)
	require.NoError(t, store.Commit(ctx, sess2))
}

// TestApplyDeltasAllOrNothing 一次呼叫內任一增減失敗，整組都不套用。
func TestApplyDeltasAllOrNothing(t *testing.T) {
	store, userID := newTestStore(t)
	ctx := context.Background()

	sess, err := store.Begin(ctx)
	require.NoError(t, err)
	_, err = store.ApplyDeltas(ctx, userID, domain.Deltas{domain.AccountSavings: 1000}, sess)
	require.NoError(t, err)

	// savings 夠扣但 checking 會變負 → 整組失敗，staged 維持原狀
	_, err = store.ApplyDeltas(ctx, userID, domain.Deltas{
		domain.AccountSavings:  -500,
		domain.AccountChecking: -100,
	}, sess)
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	balances, err := store.Get(ctx, userID, sess)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), balances.Savings)
	assert.Equal(t, int64(0), balances.Checking)
	require.NoError(t, store.Abort(ctx, sess))
}

// TestListOrdering List 依提交順序由新到舊。
func TestListOrdering(t *testing.T) {
	store, userID := newTestStore(t)
	ctx := context.Background()

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		sess, err := store.Begin(ctx)
		require.NoError(t, err)
		rec := testRecord(userID, int64((i+1)*100))
		ids = append(ids, rec.ID)
		_, err = store.ApplyDeltas(ctx, userID, domain.Deltas{domain.AccountSavings: rec.Amount}, sess)
		require.NoError(t, err)
		require.NoError(t, store.Append(ctx, rec, sess))
		require.NoError(t, store.Commit(ctx, sess))
	}

	records, err := store.List(ctx, userID)
	require.NoError(t, err)
	require.Len(t, records, 3)
	// 最新的在最前面
	assert.Equal(t, ids[2], records[0].ID)
	assert.Equal(t, ids[1], records[1].ID)
	assert.Equal(t, ids[0], records[2].ID)
}

// TestSessionNotFoundUser 使用者不存在 → ErrNotFound，Session 仍可收尾。
func TestSessionNotFoundUser(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	sess, err := store.Begin(ctx)
	require.NoError(t, err)
	_, err = store.Get(ctx, uuid.New(), sess)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	require.NoError(t, store.Abort(ctx, sess))
}

// TestCreateUserDuplicate Email 或帳號重複 → ErrUserExists。
func TestCreateUserDuplicate(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	err := store.CreateUser(ctx, &domain.User{
		ID: uuid.New(), Email: "LERATO@example.com", AccountNumber: "5555555555",
	})
	assert.ErrorIs(t, err, domain.ErrUserExists)

	err = store.CreateUser(ctx, &domain.User{
		ID: uuid.New(), Email: "new@example.com", AccountNumber: "9876543210",
	})
	assert.ErrorIs(t, err, domain.ErrUserExists)
}

// TestUpdateUserReindexes 改 Email 後：新值查得到、舊值查不到、
// 佔用他人 Email 回傳 ErrUserExists。
func TestUpdateUserReindexes(t *testing.T) {
	store, userID := newTestStore(t)
	ctx := context.Background()

	otherID := uuid.New()
	require.NoError(t, store.CreateUser(ctx, &domain.User{
		ID: otherID, Email: "taken@example.com", AccountNumber: "2222222222",
	}))

	user, err := store.FindUserByID(ctx, userID)
	require.NoError(t, err)
	user.Email = "new@example.com"
	require.NoError(t, store.UpdateUser(ctx, user))

	found, err := store.FindUserByEmail(ctx, "new@example.com")
	require.NoError(t, err)
	assert.Equal(t, userID, found.ID)

	_, err = store.FindUserByEmail(ctx, "lerato@example.com")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// 換成別人已佔用的 Email → ErrUserExists，索引不變
	user.Email = "taken@example.com"
	err = store.UpdateUser(ctx, user)
	assert.ErrorIs(t, err, domain.ErrUserExists)
	found, err = store.FindUserByEmail(ctx, "taken@example.com")
	require.NoError(t, err)
	assert.Equal(t, otherID, found.ID)

	// 沒動過的自己的值可以原樣寫回
	user.Email = "new@example.com"
	require.NoError(t, store.UpdateUser(ctx, user))
}

// TestFindUserByNationalID 依身分證號查找。
func TestFindUserByNationalID(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	userID := uuid.New()
	require.NoError(t, store.CreateUser(ctx, &domain.User{
		ID: userID, Email: "sid@example.com", NationalID: "9001015009087",
		AccountNumber: "3333333333",
	}))

	found, err := store.FindUserByNationalID(ctx, "9001015009087")
	require.NoError(t, err)
	assert.Equal(t, userID, found.ID)

	_, err = store.FindUserByNationalID(ctx, "0000000000000")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

// TestWALReplay 重開 Store 後從 WAL 恢復使用者、餘額與交易紀錄。
func TestWALReplay(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "wal.log")

	w, err := wal.NewWAL(path)
	require.NoError(t, err)
	store, err := NewStore(w, zerolog.Nop())
	require.NoError(t, err)

	userID := uuid.New()
	require.NoError(t, store.CreateUser(ctx, &domain.User{
		ID: userID, Email: "replay@example.com", AccountNumber: "1212121212",
	}))

	rec := testRecord(userID, 2500)
	sess, err := store.Begin(ctx)
	require.NoError(t, err)
	_, err = store.ApplyDeltas(ctx, userID, domain.Deltas{domain.AccountSavings: 2500}, sess)
	require.NoError(t, err)
	require.NoError(t, store.Append(ctx, rec, sess))
	require.NoError(t, store.Commit(ctx, sess))

	// 改 Email 的 user_update 也要能重放，且重放後索引跟著換
	user, err := store.FindUserByID(ctx, userID)
	require.NoError(t, err)
	user.Email = "moved@example.com"
	require.NoError(t, store.UpdateUser(ctx, user))
	require.NoError(t, w.Close())

	// 重開：狀態完整恢復
	w2, err := wal.NewWAL(path)
	require.NoError(t, err)
	defer w2.Close()
	restored, err := NewStore(w2, zerolog.Nop())
	require.NoError(t, err)

	replayed, err := restored.FindUserByID(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, "moved@example.com", replayed.Email)
	byEmail, err := restored.FindUserByEmail(ctx, "moved@example.com")
	require.NoError(t, err)
	assert.Equal(t, userID, byEmail.ID)
	_, err = restored.FindUserByEmail(ctx, "replay@example.com")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	snapshot, err := restored.Snapshot(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(2500), snapshot.Savings)

	records, err := restored.List(ctx, userID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, rec.ID, records[0].ID)
	assert.Equal(t, rec.DisplayAmount, records[0].DisplayAmount)
}

// TestSessionHook commit/abort 邊界各觸發一次掛鉤。
func TestSessionHook(t *testing.T) {
	var outcomes []usecase.SessionOutcome
	store, err := NewStore(nil, zerolog.Nop(), WithSessionHook(func(outcome usecase.SessionOutcome, _ time.Duration) {
		outcomes = append(outcomes, outcome)
	}))
	require.NoError(t, err)
	ctx := context.Background()

	sess, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, store.Commit(ctx, sess))

	sess, err = store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, store.Abort(ctx, sess))

	assert.Equal(t, []usecase.SessionOutcome{usecase.SessionCommitted, usecase.SessionAborted}, outcomes)
}
