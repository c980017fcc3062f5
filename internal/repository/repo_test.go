package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payment_backend/internal/domain"
)

var baseTime = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func newTestRepo(t *testing.T) *SQLiteRepo {
	t.Helper()
	repo, err := NewSQLiteRepo(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func newTx(id, account, amount string, createdAt time.Time) NewTransaction {
	return NewTransaction{
		TransactionID:  id,
		BankCode:       "MB",
		BankAccount:    account,
		Amount:         decimal.RequireFromString(amount),
		Message:        "Order#1",
		CreatedBy:      "alice",
		TTL:            5 * time.Minute,
		SignatureKeyID: "k1",
		Now:            createdAt,
	}
}

func TestCreateAndGetTransaction(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	created, err := repo.CreateTransaction(ctx, newTx("", "0123", "50000.00", baseTime))
	require.NoError(t, err)
	assert.NotEmpty(t, created.TransactionID)
	assert.Equal(t, "mb", created.BankCode)
	assert.Equal(t, "50000", created.Amount)
	assert.True(t, created.ExpireAt.Equal(baseTime.Add(5*time.Minute)))

	got, err := repo.GetTransaction(ctx, created.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, created.TransactionID, got.TransactionID)
	assert.Equal(t, "mb", got.BankCode)
	assert.Equal(t, "0123", got.BankAccount)
	assert.Equal(t, "50000", got.Amount)
	assert.Equal(t, "Order#1", got.Message)
	assert.Equal(t, "k1", got.SignatureKeyID)
	assert.True(t, got.CreatedAt.Equal(baseTime))
	assert.False(t, got.Used)
	assert.Nil(t, got.UsedAt)

	_, err = repo.GetTransaction(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateTransaction_Errors(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.CreateTransaction(ctx, newTx("ref-1", "0123", "100", baseTime))
	require.NoError(t, err)
	_, err = repo.CreateTransaction(ctx, newTx("ref-1", "0123", "100", baseTime))
	assert.ErrorIs(t, err, ErrConflict)

	bad := newTx("ref-2", "0123", "0", baseTime)
	_, err = repo.CreateTransaction(ctx, bad)
	assert.Error(t, err)

	bad = newTx("ref-3", "0123", "10", baseTime)
	bad.TTL = 0
	_, err = repo.CreateTransaction(ctx, bad)
	assert.Error(t, err)
}

func TestFindOpenTransaction(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.CreateTransaction(ctx, newTx("older", "0123", "50000", baseTime))
	require.NoError(t, err)
	_, err = repo.CreateTransaction(ctx, newTx("newer", "0123", "50000", baseTime.Add(time.Minute)))
	require.NoError(t, err)
	_, err = repo.CreateTransaction(ctx, newTx("other-amount", "0123", "60000", baseTime.Add(2*time.Minute)))
	require.NoError(t, err)

	tests := []struct {
		name    string
		account string
		amount  string
		now     time.Time
		want    string
		wantErr error
	}{
		{name: "newest open wins", account: "0123", amount: "50000", now: baseTime.Add(2 * time.Minute), want: "newer"},
		{name: "amount compared after normalization", account: "0123", amount: "50000.000", now: baseTime.Add(2 * time.Minute), want: "newer"},
		{name: "older expires first", account: "0123", amount: "50000", now: baseTime.Add(5*time.Minute + 30*time.Second), want: "newer"},
		{name: "all expired", account: "0123", amount: "50000", now: baseTime.Add(6 * time.Minute), wantErr: ErrNotFound},
		{name: "expiry boundary is exclusive", account: "0123", amount: "60000", now: baseTime.Add(7 * time.Minute), wantErr: ErrNotFound},
		{name: "unknown account", account: "9999", amount: "50000", now: baseTime, wantErr: ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.FindOpenTransaction(ctx, tt.account, decimal.RequireFromString(tt.amount), tt.now)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.TransactionID)
		})
	}
}

func TestFindOpenTransaction_SkipsUsed(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.CreateTransaction(ctx, newTx("first", "0123", "50000", baseTime))
	require.NoError(t, err)
	_, err = repo.CreateTransaction(ctx, newTx("second", "0123", "50000", baseTime.Add(time.Second)))
	require.NoError(t, err)

	ok, err := repo.MarkUsed(ctx, "second", "webhook", baseTime.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, ok)

	got, err := repo.FindOpenTransaction(ctx, "0123", decimal.NewFromInt(50000), baseTime.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "first", got.TransactionID)
}

func TestOpenTransactionsByMessage(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for _, tx := range []NewTransaction{
		newTx("first", "0123", "50000", baseTime),
		newTx("expired", "0999", "50000", baseTime.Add(-time.Hour)),
		newTx("used", "0123", "50000", baseTime),
		newTx("other-amount", "0123", "60000", baseTime),
	} {
		_, err := repo.CreateTransaction(ctx, tx)
		require.NoError(t, err)
	}
	_, err := repo.MarkUsed(ctx, "used", "test", baseTime)
	require.NoError(t, err)

	open, err := repo.OpenTransactionsByMessage(ctx, "Order#1", decimal.RequireFromString("50000.0"))
	require.NoError(t, err)
	var ids []string
	for _, tx := range open {
		ids = append(ids, tx.TransactionID)
	}
	assert.Equal(t, []string{"expired", "first"}, ids)

	open, err = repo.OpenTransactionsByMessage(ctx, "Order#2", decimal.RequireFromString("50000"))
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestMarkUsed_IsCompareAndSwap(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.CreateTransaction(ctx, newTx("tx-1", "0123", "100", baseTime))
	require.NoError(t, err)

	ok, err := repo.MarkUsed(ctx, "tx-1", "alice", baseTime.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.MarkUsed(ctx, "tx-1", "bob", baseTime.Add(2*time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := repo.GetTransaction(ctx, "tx-1")
	require.NoError(t, err)
	assert.True(t, got.Used)
	assert.Equal(t, "alice", got.UsedBy)
	require.NotNil(t, got.UsedAt)
	assert.True(t, got.UsedAt.Equal(baseTime.Add(time.Minute)))

	_, err = repo.MarkUsed(ctx, "missing", "alice", baseTime)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListTransactions(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for i, acct := range []string{"A", "A", "B"} {
		n := newTx("", acct, "100", baseTime.Add(time.Duration(i)*time.Second))
		_, err := repo.CreateTransaction(ctx, n)
		require.NoError(t, err)
	}

	all, err := repo.ListTransactions(ctx, TxFilter{}, 10, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Equal(t, "B", all[0].BankAccount)

	onlyA, err := repo.ListTransactions(ctx, TxFilter{BankAccount: "A", BankCode: "MB"}, 10, 0)
	require.NoError(t, err)
	assert.Len(t, onlyA, 2)

	_, err = repo.MarkUsed(ctx, onlyA[0].TransactionID, "x", baseTime)
	require.NoError(t, err)
	used := true
	usedOnly, err := repo.ListTransactions(ctx, TxFilter{Used: &used}, 10, 0)
	require.NoError(t, err)
	require.Len(t, usedOnly, 1)
	assert.Equal(t, onlyA[0].TransactionID, usedOnly[0].TransactionID)

	page, err := repo.ListTransactions(ctx, TxFilter{}, 1, 1)
	require.NoError(t, err)
	assert.Len(t, page, 1)
}

func newOrder(total string) *domain.Order {
	return &domain.Order{
		UserID:      7,
		TotalAmount: total,
		CreatedAt:   baseTime,
		Items: []domain.OrderItem{
			{CategoryCode: "ielts", Price: "30000", DurationDays: 30},
			{CategoryCode: "toeic", Price: "20000.00", DurationDays: 90},
		},
	}
}

func TestOrders(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	o := newOrder("50000.00")
	require.NoError(t, repo.InsertOrder(ctx, o))
	assert.NotZero(t, o.ID)
	assert.Equal(t, domain.OrderPending, o.Status)

	got, err := repo.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, "50000", got.TotalAmount)
	assert.Equal(t, domain.OrderPending, got.Status)
	require.Len(t, got.Items, 2)
	assert.Equal(t, "toeic", got.Items[1].CategoryCode)
	assert.Equal(t, "20000", got.Items[1].Price)
	assert.Equal(t, 90, got.Items[1].DurationDays)

	ok, err := repo.MarkOrderPaid(ctx, o.ID, "MBBANK", baseTime.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.MarkOrderPaid(ctx, o.ID, "OTHER", baseTime.Add(2*time.Hour))
	require.NoError(t, err)
	assert.False(t, ok)

	got, err = repo.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderPaid, got.Status)
	assert.Equal(t, "MBBANK", got.PaymentMethod)
	require.NotNil(t, got.PaidAt)
	assert.True(t, got.PaidAt.Equal(baseTime.Add(time.Hour)))

	_, err = repo.GetOrder(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = repo.MarkOrderPaid(ctx, 999, "X", baseTime)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Error(t, repo.InsertOrder(ctx, newOrder("abc")))
}

func TestMarkOrderPaid_OnlyFromPending(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	o := newOrder("10")
	o.Status = domain.OrderCancelled
	require.NoError(t, repo.InsertOrder(ctx, o))

	ok, err := repo.MarkOrderPaid(ctx, o.ID, "SEPAY", baseTime)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWithTx_RollsBack(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.CreateTransaction(ctx, newTx("tx-1", "0123", "100", baseTime))
	require.NoError(t, err)

	boom := errors.New("boom")
	err = repo.WithTx(ctx, func(tx *SQLiteRepo) error {
		ok, err := tx.MarkUsed(ctx, "tx-1", "alice", baseTime)
		require.NoError(t, err)
		require.True(t, ok)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := repo.GetTransaction(ctx, "tx-1")
	require.NoError(t, err)
	assert.False(t, got.Used)
}

func TestGrantAccess_ExtendsRunningAccess(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	first, err := repo.GrantAccess(ctx, 7, 1, "ielts", 30, baseTime)
	require.NoError(t, err)
	assert.True(t, first.ExpiresAt.Equal(baseTime.Add(30*24*time.Hour)))

	second, err := repo.GrantAccess(ctx, 7, 2, "ielts", 10, baseTime.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.True(t, second.ExpiresAt.Equal(baseTime.Add(40*24*time.Hour)))

	_, err = repo.GrantAccess(ctx, 7, 3, "toeic", 5, baseTime)
	require.NoError(t, err)

	// an expired grant is not extended
	_, err = repo.GrantAccess(ctx, 7, 4, "toeic", 5, baseTime.Add(10*24*time.Hour))
	require.NoError(t, err)

	grants, err := repo.ListAccessGrants(ctx, 7)
	require.NoError(t, err)
	assert.Len(t, grants, 3)
}
