package usecase

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"payment_backend/internal/domain"
	"payment_backend/internal/emvqr"
	"payment_backend/internal/repository"
	"payment_backend/internal/signing"
)

var baseTime = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

type mockGranter struct {
	mock.Mock
}

func (m *mockGranter) Grant(ctx context.Context, order domain.Order, item domain.OrderItem) error {
	args := m.Called(ctx, order.ID, item.CategoryCode)
	return args.Error(0)
}

type fixture struct {
	repo       *repository.SQLiteRepo
	granter    *mockGranter
	reconciler *Reconciler
	qr         *QRUsecase
	signer     *signing.Signer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo, err := repository.NewSQLiteRepo(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	signer, err := signing.New("k1", []byte("usecase-test-key"))
	require.NoError(t, err)

	granter := &mockGranter{}
	rec := NewReconciler(NewStore(repo), granter, zap.NewNop())
	rec.now = func() time.Time { return baseTime }

	qr := NewQRUsecase(repo, emvqr.NewBuilder(signer), signer, rec, QRConfig{
		TTL:         5 * time.Minute,
		BankCode:    "vcb",
		BankAccount: "0123456789",
	}, zap.NewNop())
	qr.now = func() time.Time { return baseTime.Add(-time.Minute) }

	return &fixture{repo: repo, granter: granter, reconciler: rec, qr: qr, signer: signer}
}

func (f *fixture) order(t *testing.T, total string, status domain.OrderStatus, categories ...string) *domain.Order {
	t.Helper()
	o := &domain.Order{UserID: 7, Status: status, TotalAmount: total, CreatedAt: baseTime.Add(-time.Hour)}
	for _, c := range categories {
		o.Items = append(o.Items, domain.OrderItem{CategoryCode: c, Price: total, DurationDays: 30})
	}
	require.NoError(t, f.repo.InsertOrder(context.Background(), o))
	return o
}

func (f *fixture) mustOrder(t *testing.T, id int64) *domain.Order {
	t.Helper()
	o, err := f.repo.GetOrder(context.Background(), id)
	require.NoError(t, err)
	return o
}
