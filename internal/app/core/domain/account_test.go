package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestParseAccountKind 驗證帳戶種類解析：四種合法值、大小寫容忍、非法值。
func TestParseAccountKind(t *testing.T) {
	for _, kind := range AccountKinds() {
		got, err := ParseAccountKind(string(kind))
		require.NoError(t, err)
		assert.Equal(t, kind, got)
	}

	got, err := ParseAccountKind("Checking")
	require.NoError(t, err)
	assert.Equal(t, AccountChecking, got)

	_, err = ParseAccountKind("crypto")
	assert.ErrorIs(t, err, ErrInvalidAccount)
	_, err = ParseAccountKind("")
	assert.ErrorIs(t, err, ErrInvalidAccount)
}

// TestAccountKindDisplay 驗證首字大寫顯示名稱。
func TestAccountKindDisplay(t *testing.T) {
	assert.Equal(t, "Savings", AccountSavings.Display())
	assert.Equal(t, "Checking", AccountChecking.Display())
	assert.Equal(t, "Business", AccountBusiness.Display())
	assert.Equal(t, "Investment", AccountInvestment.Display())
}

// TestBalancesApply 驗證增減套用：全部成功或全部失敗。
func TestBalancesApply(t *testing.T) {
	b := Balances{Savings: 10000, Checking: 1000}

	// 轉帳：扣 savings 加 checking，總額不變（守恆）
	next, err := b.Apply(Deltas{AccountSavings: -4000, AccountChecking: 4000})
	require.NoError(t, err)
	assert.Equal(t, int64(6000), next.Savings)
	assert.Equal(t, int64(5000), next.Checking)
	assert.Equal(t, b.Total(), next.Total())

	// 餘額不足：原快照不變
	_, err = b.Apply(Deltas{AccountChecking: -2000})
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, int64(1000), b.Checking)

	// 未知帳戶：整組失敗
	_, err = b.Apply(Deltas{AccountSavings: -100, AccountKind("crypto"): 100})
	assert.ErrorIs(t, err, ErrInvalidAccount)
}

// TestDefaultTitle 驗證未提供標題時的預設值。
func TestDefaultTitle(t *testing.T) {
	assert.Equal(t, "Deposit transaction", DefaultTitle(TransactionTypeDeposit))
	assert.Equal(t, "Withdrawal transaction", DefaultTitle(TransactionTypeWithdrawal))
	assert.Equal(t, "Transfer transaction", DefaultTitle(TransactionTypeTransfer))
}

// TestParseTransactionType 驗證交易類型解析。
func TestParseTransactionType(t *testing.T) {
	for _, s := range []string{"deposit", "withdrawal", "transfer"} {
		got, err := ParseTransactionType(s)
		require.NoError(t, err)
		assert.Equal(t, TransactionType(s), got)
	}
	_, err := ParseTransactionType("loan")
	assert.ErrorIs(t, err, ErrInvalidTransactionType)
}
