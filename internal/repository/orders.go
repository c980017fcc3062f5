package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"payment_backend/internal/domain"
)

// InsertOrder stores o and its items, filling in the generated ids.
func (r *SQLiteRepo) InsertOrder(ctx context.Context, o *domain.Order) error {
	total, err := decimal.NewFromString(o.TotalAmount)
	if err != nil {
		return fmt.Errorf("order total %q: %w", o.TotalAmount, err)
	}
	if o.Status == "" {
		o.Status = domain.OrderPending
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}
	o.TotalAmount = total.String()

	return r.WithTx(ctx, func(tx *SQLiteRepo) error {
		res, err := tx.q.ExecContext(ctx,
			`INSERT INTO orders(user_id, status, total_amount, payment_method, created_at, paid_at) VALUES(?, ?, ?, ?, ?, ?)`,
			o.UserID, string(o.Status), o.TotalAmount, o.PaymentMethod, formatTime(o.CreatedAt), optionalTime(o.PaidAt),
		)
		if err != nil {
			return err
		}
		if o.ID, err = res.LastInsertId(); err != nil {
			return err
		}

		for i := range o.Items {
			item := &o.Items[i]
			price, err := decimal.NewFromString(item.Price)
			if err != nil {
				return fmt.Errorf("item %s price %q: %w", item.CategoryCode, item.Price, err)
			}
			item.Price = price.String()
			item.OrderID = o.ID
			res, err := tx.q.ExecContext(ctx,
				`INSERT INTO order_items(order_id, category_code, price, duration_days) VALUES(?, ?, ?, ?)`,
				item.OrderID, item.CategoryCode, item.Price, item.DurationDays,
			)
			if err != nil {
				return err
			}
			if item.ID, err = res.LastInsertId(); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *SQLiteRepo) GetOrder(ctx context.Context, id int64) (*domain.Order, error) {
	q := `SELECT id, user_id, status, total_amount, payment_method, created_at, paid_at FROM orders WHERE id = ?`

	var o domain.Order
	var status, createdStr string
	var paidStr *string
	err := r.q.QueryRowContext(ctx, q, id).Scan(&o.ID, &o.UserID, &status, &o.TotalAmount, &o.PaymentMethod, &createdStr, &paidStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	o.Status = domain.OrderStatus(status)
	if o.CreatedAt, err = parseTime(createdStr); err != nil {
		return nil, fmt.Errorf("parse order time: %w", err)
	}
	if o.PaidAt, err = parseOptionalTime(paidStr); err != nil {
		return nil, fmt.Errorf("parse paid time: %w", err)
	}

	rows, err := r.q.QueryContext(ctx,
		`SELECT id, order_id, category_code, price, duration_days FROM order_items WHERE order_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var it domain.OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.CategoryCode, &it.Price, &it.DurationDays); err != nil {
			return nil, err
		}
		o.Items = append(o.Items, it)
	}
	return &o, rows.Err()
}

// MarkOrderPaid moves a PENDING order to PAID. It reports false when the
// order was not pending, in which case nothing is written.
func (r *SQLiteRepo) MarkOrderPaid(ctx context.Context, id int64, method string, now time.Time) (bool, error) {
	q := `UPDATE orders SET status = ?, payment_method = ?, paid_at = ? WHERE id = ? AND status = ?`
	res, err := r.q.ExecContext(ctx, q, string(domain.OrderPaid), method, formatTime(now), id, string(domain.OrderPending))
	if err != nil {
		return false, err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if aff == 1 {
		return true, nil
	}
	if _, err := r.GetOrder(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// GrantAccess gives userID access to categoryCode for days. An access that is
// still running at now is extended instead of duplicated.
func (r *SQLiteRepo) GrantAccess(ctx context.Context, userID, orderID int64, categoryCode string, days int, now time.Time) (*domain.AccessGrant, error) {
	var grant *domain.AccessGrant
	err := r.WithTx(ctx, func(tx *SQLiteRepo) error {
		current, err := tx.activeGrant(ctx, userID, categoryCode, now)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		period := time.Duration(days) * 24 * time.Hour
		if current != nil {
			current.ExpiresAt = current.ExpiresAt.Add(period)
			current.OrderID = orderID
			if _, err := tx.q.ExecContext(ctx,
				`UPDATE access_grants SET expires_at = ?, order_id = ? WHERE id = ?`,
				formatTime(current.ExpiresAt), orderID, current.ID,
			); err != nil {
				return err
			}
			grant = current
			return nil
		}

		g := &domain.AccessGrant{
			UserID:       userID,
			CategoryCode: categoryCode,
			OrderID:      orderID,
			ExpiresAt:    now.Add(period).UTC(),
			CreatedAt:    now.UTC(),
		}
		res, err := tx.q.ExecContext(ctx,
			`INSERT INTO access_grants(user_id, category_code, order_id, expires_at, created_at) VALUES(?, ?, ?, ?, ?)`,
			g.UserID, g.CategoryCode, g.OrderID, formatTime(g.ExpiresAt), formatTime(g.CreatedAt),
		)
		if err != nil {
			return err
		}
		if g.ID, err = res.LastInsertId(); err != nil {
			return err
		}
		grant = g
		return nil
	})
	return grant, err
}

func (r *SQLiteRepo) activeGrant(ctx context.Context, userID int64, categoryCode string, now time.Time) (*domain.AccessGrant, error) {
	q := `SELECT id, user_id, category_code, order_id, expires_at, created_at FROM access_grants
		WHERE user_id = ? AND category_code = ? AND expires_at > ?
		ORDER BY expires_at DESC LIMIT 1`
	g, err := scanGrant(r.q.QueryRowContext(ctx, q, userID, categoryCode, formatTime(now)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return g, err
}

func (r *SQLiteRepo) ListAccessGrants(ctx context.Context, userID int64) ([]domain.AccessGrant, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT id, user_id, category_code, order_id, expires_at, created_at FROM access_grants WHERE user_id = ? ORDER BY id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []domain.AccessGrant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *g)
	}
	return res, rows.Err()
}

func scanGrant(scanner interface {
	Scan(dest ...any) error
}) (*domain.AccessGrant, error) {
	var g domain.AccessGrant
	var expiresStr, createdStr string
	if err := scanner.Scan(&g.ID, &g.UserID, &g.CategoryCode, &g.OrderID, &expiresStr, &createdStr); err != nil {
		return nil, err
	}
	var err error
	if g.ExpiresAt, err = parseTime(expiresStr); err != nil {
		return nil, fmt.Errorf("parse grant expiry: %w", err)
	}
	if g.CreatedAt, err = parseTime(createdStr); err != nil {
		return nil, fmt.Errorf("parse grant time: %w", err)
	}
	return &g, nil
}
