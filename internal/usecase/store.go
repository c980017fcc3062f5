package usecase

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"payment_backend/internal/domain"
	"payment_backend/internal/repository"
)

type TransactionStore interface {
	GetTransaction(ctx context.Context, id string) (*domain.QrTransaction, error)
	FindOpenTransaction(ctx context.Context, account string, amount decimal.Decimal, now time.Time) (*domain.QrTransaction, error)
	MarkUsed(ctx context.Context, id, usedBy string, now time.Time) (bool, error)
	OpenTransactionsByMessage(ctx context.Context, message string, amount decimal.Decimal) ([]domain.QrTransaction, error)
}

type OrderStore interface {
	GetOrder(ctx context.Context, id int64) (*domain.Order, error)
	MarkOrderPaid(ctx context.Context, id int64, method string, now time.Time) (bool, error)
}

// Store is what settlement needs. Inside WithTx only the Store passed to fn
// may be used.
type Store interface {
	TransactionStore
	OrderStore
	WithTx(ctx context.Context, fn func(Store) error) error
}

// AccessGranter issues the entitlement bought with one order item.
type AccessGranter interface {
	Grant(ctx context.Context, order domain.Order, item domain.OrderItem) error
}

type sqlStore struct {
	*repository.SQLiteRepo
}

// NewStore adapts the SQLite repository to Store.
func NewStore(repo *repository.SQLiteRepo) Store {
	return sqlStore{repo}
}

func (s sqlStore) WithTx(ctx context.Context, fn func(Store) error) error {
	return s.SQLiteRepo.WithTx(ctx, func(tx *repository.SQLiteRepo) error {
		return fn(sqlStore{tx})
	})
}

// defaultAccessDays applies to items sold without an explicit duration.
const defaultAccessDays = 365

// AccessService grants access through the repository's access_grants table.
type AccessService struct {
	repo *repository.SQLiteRepo
	log  *zap.Logger
	now  func() time.Time
}

func NewAccessService(repo *repository.SQLiteRepo, log *zap.Logger) *AccessService {
	return &AccessService{repo: repo, log: log, now: time.Now}
}

func (s *AccessService) Grant(ctx context.Context, order domain.Order, item domain.OrderItem) error {
	days := item.DurationDays
	if days <= 0 {
		days = defaultAccessDays
	}
	g, err := s.repo.GrantAccess(ctx, order.UserID, order.ID, item.CategoryCode, days, s.now())
	if err != nil {
		return err
	}
	s.log.Info("access granted",
		zap.Int64("userId", g.UserID),
		zap.Int64("orderId", order.ID),
		zap.String("category", g.CategoryCode),
		zap.Time("expiresAt", g.ExpiresAt),
	)
	return nil
}
