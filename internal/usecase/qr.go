package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"payment_backend/internal/domain"
	"payment_backend/internal/emvqr"
	"payment_backend/internal/repository"
	"payment_backend/internal/signing"
)

var (
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrOrderNotFound       = errors.New("order not found")
	ErrOrderNotPayable     = errors.New("order is not pending")
	ErrInvalidAmount       = errors.New("amount must be > 0")
)

type QRConfig struct {
	TTL         time.Duration
	BankCode    string
	BankAccount string
}

// Settler settles an issued code once its payment is confirmed.
type Settler interface {
	SettleTransaction(ctx context.Context, tx domain.QrTransaction, method, usedBy string) (domain.Outcome, error)
}

type QRUsecase struct {
	repo    *repository.SQLiteRepo
	builder *emvqr.Builder
	signer  *signing.Signer
	settler Settler
	cfg     QRConfig
	log     *zap.Logger
	now     func() time.Time
}

func NewQRUsecase(r *repository.SQLiteRepo, b *emvqr.Builder, s *signing.Signer, settler Settler, cfg QRConfig, log *zap.Logger) *QRUsecase {
	return &QRUsecase{repo: r, builder: b, signer: s, settler: settler, cfg: cfg, log: log, now: time.Now}
}

type GenerateQRInput struct {
	BankCode    string
	BankAccount string
	Amount      decimal.Decimal
	Message     string
	// ClientRef becomes the transaction id when set.
	ClientRef string
	CreatedBy string
}

// GenerateQR records a new transaction and returns its signed payload.
func (u *QRUsecase) GenerateQR(ctx context.Context, in GenerateQRInput) (*domain.QrTransaction, emvqr.Built, error) {
	if !in.Amount.IsPositive() {
		return nil, emvqr.Built{}, ErrInvalidAmount
	}
	if in.BankCode == "" {
		in.BankCode = u.cfg.BankCode
	}
	if in.BankAccount == "" {
		in.BankAccount = u.cfg.BankAccount
	}
	id := in.ClientRef
	if id == "" {
		id = uuid.NewString()
	}
	keyID := u.signer.CurrentKeyID()

	// build before storing so a payload that cannot be encoded leaves no row
	built, err := u.builder.Build(emvqr.Payment{
		BankCode:      in.BankCode,
		BankAccount:   in.BankAccount,
		Amount:        in.Amount.String(),
		Message:       in.Message,
		TransactionID: id,
		KeyID:         keyID,
	})
	if err != nil {
		return nil, emvqr.Built{}, err
	}

	tx, err := u.repo.CreateTransaction(ctx, repository.NewTransaction{
		TransactionID:  id,
		BankCode:       in.BankCode,
		BankAccount:    in.BankAccount,
		Amount:         in.Amount,
		Message:        in.Message,
		CreatedBy:      in.CreatedBy,
		TTL:            u.cfg.TTL,
		SignatureKeyID: built.KeyID,
		Now:            u.now(),
	})
	if err != nil {
		return nil, emvqr.Built{}, err
	}

	u.log.Info("qr issued",
		zap.String("transactionId", tx.TransactionID),
		zap.String("bankCode", tx.BankCode),
		zap.String("amount", tx.Amount),
		zap.String("keyId", tx.SignatureKeyID),
		zap.Time("expireAt", tx.ExpireAt),
	)
	return tx, built, nil
}

// GenerateOrderQR issues a code paying a pending order in full.
func (u *QRUsecase) GenerateOrderQR(ctx context.Context, orderID int64, createdBy string) (*domain.QrTransaction, emvqr.Built, error) {
	o, err := u.repo.GetOrder(ctx, orderID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, emvqr.Built{}, ErrOrderNotFound
	}
	if err != nil {
		return nil, emvqr.Built{}, err
	}
	if o.Status != domain.OrderPending {
		return nil, emvqr.Built{}, fmt.Errorf("%w: order %d is %s", ErrOrderNotPayable, o.ID, o.Status)
	}
	amount, err := decimal.NewFromString(o.TotalAmount)
	if err != nil {
		return nil, emvqr.Built{}, fmt.Errorf("order %d total: %w", o.ID, err)
	}
	return u.GenerateQR(ctx, GenerateQRInput{
		Amount:    amount,
		Message:   OrderMessage(o.ID),
		CreatedBy: createdBy,
	})
}

func (u *QRUsecase) transaction(ctx context.Context, id string) (*domain.QrTransaction, error) {
	tx, err := u.repo.GetTransaction(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrTransactionNotFound
	}
	return tx, err
}

// Content rebuilds the payload issued for a stored transaction.
func (u *QRUsecase) Content(ctx context.Context, id string) (string, error) {
	tx, err := u.transaction(ctx, id)
	if err != nil {
		return "", err
	}
	built, err := u.builder.Build(emvqr.Payment{
		BankCode:      tx.BankCode,
		BankAccount:   tx.BankAccount,
		Amount:        tx.Amount,
		Message:       tx.Message,
		TransactionID: tx.TransactionID,
		KeyID:         tx.SignatureKeyID,
	})
	if err != nil {
		return "", err
	}
	return built.Content, nil
}

// Image writes the code of a stored transaction as a PNG.
func (u *QRUsecase) Image(ctx context.Context, id string, w io.Writer, size int) error {
	content, err := u.Content(ctx, id)
	if err != nil {
		return err
	}
	return emvqr.RenderPNG(w, content, size)
}

// ValidateResult mirrors what a point of sale needs after scanning a code.
type ValidateResult struct {
	Valid         bool
	TransactionID string
	Message       string
	OrderID       int64
}

// ValidateAndMark checks a scanned payload against its stored transaction and
// consumes it. Every refusal is a result, never an error.
//
// A valid order code also pays its order and grants access, with no bank
// confirmation. Only callers holding the request signature secret may reach it.
func (u *QRUsecase) ValidateAndMark(ctx context.Context, input, username string) (ValidateResult, error) {
	content, diags := emvqr.Sanitize(input)
	if content == "" {
		return ValidateResult{Message: "Invalid QR content: " + strings.Join(diags, "; ")}, nil
	}
	id, diags := emvqr.ExtractTransactionID(content)
	if id == "" {
		fallback, err := u.fallbackTransaction(ctx, content)
		if err != nil {
			return ValidateResult{}, err
		}
		if fallback == "" {
			root := emvqr.Parse(content)
			tags := make([]string, 0, len(root.Records))
			for _, r := range root.Records {
				tags = append(tags, r.Tag)
			}
			return ValidateResult{Message: "Invalid QR content: missing transaction id; found tags: " + strings.Join(tags, ",")}, nil
		}
		id = fallback
	} else if !diags.Empty() {
		u.log.Debug("transaction id recovered from damaged payload",
			zap.String("transactionId", id),
			zap.Strings("diagnostics", diags),
		)
	}

	tx, err := u.transaction(ctx, id)
	if errors.Is(err, ErrTransactionNotFound) {
		return ValidateResult{TransactionID: id, Message: "Transaction not found"}, nil
	}
	if err != nil {
		return ValidateResult{}, err
	}
	now := u.now()
	res := ValidateResult{TransactionID: id}
	switch {
	case tx.Used:
		res.Message = "Transaction already used"
		return res, nil
	case tx.Expired(now):
		res.Message = "Transaction expired"
		return res, nil
	case !emvqr.IsValid(content):
		res.Message = "Invalid CRC"
		return res, nil
	case !emvqr.VerifySignature(content, u.signer, tx.SignatureKeyID):
		res.Message = "Invalid signature"
		return res, nil
	}
	if snippet := purposeSnippet(content); snippet != "" && tx.Message != "" && !strings.HasPrefix(tx.Message, snippet) {
		res.Message = "Message mismatch"
		return res, nil
	}

	if username == "" {
		username = "anonymous"
	}
	out, err := u.settler.SettleTransaction(ctx, *tx, "QR", username)
	if err != nil {
		return ValidateResult{}, err
	}
	if !out.Settled() {
		res.Message = "Already used (race)"
		return res, nil
	}
	res.Valid = true
	res.OrderID = out.OrderID
	res.Message = "Valid"
	return res, nil
}

// fallbackTransaction finds an open transaction by the account and amount
// embedded in a payload whose reference could not be read.
func (u *QRUsecase) fallbackTransaction(ctx context.Context, content string) (string, error) {
	root := emvqr.Parse(content)
	amount, err := decimal.NewFromString(root.Fields[emvqr.TagAmount])
	if err != nil {
		return "", nil
	}
	mai, ok := emvqr.ParseNested(root, emvqr.TagMerchantAccount)
	if !ok {
		return "", nil
	}
	account := mai.Fields["01"]
	if inner := emvqr.Parse(account); inner.Diagnostics.Empty() && inner.Fields["01"] != "" {
		account = inner.Fields["01"]
	}
	if account == "" {
		return "", nil
	}
	tx, err := u.repo.FindOpenTransaction(ctx, account, amount, u.now())
	if errors.Is(err, repository.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return tx.TransactionID, nil
}

func purposeSnippet(content string) string {
	add, ok := emvqr.ParseNested(emvqr.Parse(content), emvqr.TagAdditionalData)
	if !ok {
		return ""
	}
	return add.Fields[emvqr.SubTagPurpose]
}

// Inspect describes a payload given either as content or by transaction id.
func (u *QRUsecase) Inspect(ctx context.Context, content, transactionID string) (emvqr.Report, error) {
	if content == "" && transactionID != "" {
		var err error
		if content, err = u.Content(ctx, transactionID); err != nil {
			return emvqr.Report{}, err
		}
	}
	return emvqr.Inspect(content, u.signer), nil
}
