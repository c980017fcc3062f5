package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"payment_backend/internal/domain"
	"payment_backend/internal/emvqr"
)

// NewTransaction carries what the caller decides when issuing a code.
type NewTransaction struct {
	// TransactionID is a caller supplied reference; a uuid is used when empty.
	TransactionID  string
	BankCode       string
	BankAccount    string
	Amount         decimal.Decimal
	Message        string
	CreatedBy      string
	TTL            time.Duration
	SignatureKeyID string
	Now            time.Time
}

const qrColumns = `
	transaction_id,
	bank_code,
	bank_account,
	amount,
	message,
	created_by,
	created_at,
	expire_at,
	used,
	used_by,
	used_at,
	signature_key_id
`

func (r *SQLiteRepo) CreateTransaction(ctx context.Context, n NewTransaction) (*domain.QrTransaction, error) {
	if n.TTL <= 0 {
		return nil, fmt.Errorf("ttl must be positive, got %s", n.TTL)
	}
	if !n.Amount.IsPositive() {
		return nil, fmt.Errorf("amount must be > 0, got %s", n.Amount)
	}
	id := n.TransactionID
	if id == "" {
		id = uuid.NewString()
	}
	now := n.Now
	if now.IsZero() {
		now = time.Now()
	}
	t := &domain.QrTransaction{
		TransactionID:  id,
		BankCode:       emvqr.NormalizeBankCode(n.BankCode),
		BankAccount:    strings.TrimSpace(n.BankAccount),
		Amount:         n.Amount.String(),
		Message:        n.Message,
		CreatedBy:      n.CreatedBy,
		CreatedAt:      now.UTC(),
		ExpireAt:       now.Add(n.TTL).UTC(),
		SignatureKeyID: n.SignatureKeyID,
	}

	q := `
		INSERT INTO qr_transactions(
			transaction_id,
			bank_code,
			bank_account,
			amount,
			message,
			created_by,
			created_at,
			expire_at,
			signature_key_id
		)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?);
	`
	_, err := r.q.ExecContext(
		ctx, q,
		t.TransactionID,
		t.BankCode,
		t.BankAccount,
		t.Amount,
		t.Message,
		t.CreatedBy,
		formatTime(t.CreatedAt),
		formatTime(t.ExpireAt),
		t.SignatureKeyID,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, fmt.Errorf("transaction %q: %w", id, ErrConflict)
		}
		return nil, err
	}
	return t, nil
}

func (r *SQLiteRepo) GetTransaction(ctx context.Context, id string) (*domain.QrTransaction, error) {
	q := `SELECT ` + qrColumns + ` FROM qr_transactions WHERE transaction_id = ?`
	t, err := scanQrTx(r.q.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

// FindOpenTransaction returns the newest unused transaction for account and
// amount that has not expired at now.
func (r *SQLiteRepo) FindOpenTransaction(ctx context.Context, account string, amount decimal.Decimal, now time.Time) (*domain.QrTransaction, error) {
	q := `SELECT ` + qrColumns + ` FROM qr_transactions
		WHERE bank_account = ? AND amount = ? AND used = 0 AND expire_at > ?
		ORDER BY created_at DESC, rowid DESC LIMIT 1`
	t, err := scanQrTx(r.q.QueryRowContext(ctx, q, strings.TrimSpace(account), amount.String(), formatTime(now)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

// OpenTransactionsByMessage lists the unused transactions issued with exactly
// this message and amount, expired ones included.
func (r *SQLiteRepo) OpenTransactionsByMessage(ctx context.Context, message string, amount decimal.Decimal) ([]domain.QrTransaction, error) {
	q := `SELECT ` + qrColumns + ` FROM qr_transactions
		WHERE message = ? AND amount = ? AND used = 0
		ORDER BY created_at, rowid`
	rows, err := r.q.QueryContext(ctx, q, message, amount.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.QrTransaction
	for rows.Next() {
		t, err := scanQrTx(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// MarkUsed flips used from false to true. It reports false, leaving the row
// untouched, when the transaction was already used.
func (r *SQLiteRepo) MarkUsed(ctx context.Context, id, usedBy string, now time.Time) (bool, error) {
	q := `UPDATE qr_transactions SET used = 1, used_by = ?, used_at = ? WHERE transaction_id = ? AND used = 0`
	res, err := r.q.ExecContext(ctx, q, usedBy, formatTime(now), id)
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
	if _, err := r.GetTransaction(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

type TxFilter struct {
	BankCode    string
	BankAccount string
	CreatedBy   string
	Used        *bool
}

func (r *SQLiteRepo) ListTransactions(ctx context.Context, f TxFilter, limit, offset int) ([]domain.QrTransaction, error) {
	q := `SELECT ` + qrColumns + ` FROM qr_transactions WHERE 1 = 1`
	args := []any{}

	if f.BankCode != "" {
		q += " AND bank_code = ?"
		args = append(args, emvqr.NormalizeBankCode(f.BankCode))
	}

	if f.BankAccount != "" {
		q += " AND bank_account = ?"
		args = append(args, f.BankAccount)
	}

	if f.CreatedBy != "" {
		q += " AND created_by = ?"
		args = append(args, f.CreatedBy)
	}

	if f.Used != nil {
		q += " AND used = ?"
		args = append(args, boolToInt(*f.Used))
	}

	q += " ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := r.q.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []domain.QrTransaction
	for rows.Next() {
		t, err := scanQrTx(rows)
		if err != nil {
			return nil, err
		}

		res = append(res, *t)
	}

	return res, rows.Err()
}

func scanQrTx(scanner interface {
	Scan(dest ...any) error
}) (*domain.QrTransaction, error) {
	var t domain.QrTransaction
	var createdStr, expireStr string
	var used int
	var usedBy, usedAtStr *string

	if err := scanner.Scan(
		&t.TransactionID,
		&t.BankCode,
		&t.BankAccount,
		&t.Amount,
		&t.Message,
		&t.CreatedBy,
		&createdStr,
		&expireStr,
		&used,
		&usedBy,
		&usedAtStr,
		&t.SignatureKeyID,
	); err != nil {
		return nil, err
	}

	var err error
	if t.CreatedAt, err = parseTime(createdStr); err != nil {
		return nil, fmt.Errorf("parse created time: %w", err)
	}
	if t.ExpireAt, err = parseTime(expireStr); err != nil {
		return nil, fmt.Errorf("parse expire time: %w", err)
	}
	if t.UsedAt, err = parseOptionalTime(usedAtStr); err != nil {
		return nil, fmt.Errorf("parse used time: %w", err)
	}
	t.Used = used != 0
	if usedBy != nil {
		t.UsedBy = *usedBy
	}

	return &t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
