package usecase

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"payment_backend/internal/domain"
	"payment_backend/internal/repository"
)

const defaultPaymentMethod = "SEPAY"

var (
	// banks strip spaces and glue account numbers onto the content, so the
	// marker may sit inside a longer token
	contentOrderPattern = regexp.MustCompile(`(?i)order[^0-9a-z]{0,3}(\d+)`)
	// a reference code names an order only when it is nothing but that
	referenceOrderPattern = regexp.MustCompile(`(?i)^\s*order\s*[#: ]?\s*(\d+)\s*$`)
)

// Reconciler settles incoming transfers against orders and issued codes.
type Reconciler struct {
	store   Store
	granter AccessGranter
	log     *zap.Logger
	now     func() time.Time
}

func NewReconciler(store Store, granter AccessGranter, log *zap.Logger) *Reconciler {
	return &Reconciler{store: store, granter: granter, log: log, now: time.Now}
}

// Process runs one authenticated webhook delivery to a terminal outcome.
// Unmatched or duplicate deliveries are outcomes, not errors; an error means
// the store failed and nothing was settled.
func (r *Reconciler) Process(ctx context.Context, p domain.WebhookPayload) (domain.Outcome, error) {
	log := r.log.With(
		zap.Int64("webhookId", p.ID),
		zap.String("gateway", p.Gateway),
		zap.String("account", p.AccountNumber),
		zap.String("amount", p.TransferAmount.String()),
	)

	if !strings.EqualFold(strings.TrimSpace(p.TransferType), domain.TransferIn) {
		log.Info("webhook ignored: not an incoming transfer", zap.String("transferType", p.TransferType))
		return ignored(domain.ReasonOutboundTransfer), nil
	}

	method := paymentMethod(p.Gateway)
	now := r.now()

	order, source, err := r.matchOrder(ctx, p)
	if err != nil {
		return domain.Outcome{}, err
	}
	if order != nil {
		out, err := r.settleOrder(ctx, *order, p.TransferAmount, method, now)
		if err != nil {
			return domain.Outcome{}, err
		}
		out.MatchedBy = source
		logOutcome(log, out)
		return out, nil
	}

	tx, err := r.store.FindOpenTransaction(ctx, p.AccountNumber, p.TransferAmount, now)
	if errors.Is(err, repository.ErrNotFound) {
		out := ignored(domain.ReasonNoMatch)
		logOutcome(log, out)
		return out, nil
	}
	if err != nil {
		return domain.Outcome{}, fmt.Errorf("find open transaction: %w", err)
	}
	if !sameAmount(tx.Amount, p.TransferAmount) {
		out := ignored(domain.ReasonAmountMismatch)
		out.TransactionID = tx.TransactionID
		logOutcome(log, out)
		return out, nil
	}

	out, err := r.SettleTransaction(ctx, *tx, method, "webhook:"+method)
	if err != nil {
		return domain.Outcome{}, err
	}
	out.MatchedBy = domain.MatchAccountAmount
	logOutcome(log, out)
	return out, nil
}

// matchOrder tries the transfer content first, then the reference code.
// An id that names no order falls through to the next rule.
func (r *Reconciler) matchOrder(ctx context.Context, p domain.WebhookPayload) (*domain.Order, domain.MatchSource, error) {
	if id, ok := OrderIDFromContent(p.Content); ok {
		o, err := r.lookupOrder(ctx, r.store, id)
		if err != nil || o != nil {
			return o, domain.MatchContent, err
		}
	}
	if id, ok := OrderIDFromReference(p.ReferenceCode); ok {
		o, err := r.lookupOrder(ctx, r.store, id)
		if err != nil || o != nil {
			return o, domain.MatchReferenceCode, err
		}
	}
	return nil, "", nil
}

func (r *Reconciler) lookupOrder(ctx context.Context, s OrderStore, id int64) (*domain.Order, error) {
	o, err := s.GetOrder(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get order %d: %w", id, err)
	}
	return o, nil
}

func (r *Reconciler) settleOrder(ctx context.Context, order domain.Order, amount decimal.Decimal, method string, now time.Time) (domain.Outcome, error) {
	out := domain.Outcome{OrderID: order.ID}
	switch {
	case !sameAmount(order.TotalAmount, amount):
		return withReason(out, domain.OutcomeIgnored, domain.ReasonAmountMismatch), nil
	case order.Status == domain.OrderPaid:
		return withReason(out, domain.OutcomeIgnored, domain.ReasonAlreadySettled), nil
	case order.Status != domain.OrderPending:
		return withReason(out, domain.OutcomeIgnored, domain.ReasonOrderNotPayable), nil
	}

	var won bool
	var closed []string
	err := r.store.WithTx(ctx, func(tx Store) error {
		var err error
		if won, err = tx.MarkOrderPaid(ctx, order.ID, method, now); err != nil || !won {
			return err
		}
		closed, err = r.closeOrderTransactions(ctx, tx, order, "webhook:"+method, now)
		return err
	})
	if err != nil {
		return domain.Outcome{}, fmt.Errorf("settle order %d: %w", order.ID, err)
	}
	if !won {
		return withReason(out, domain.OutcomeIgnored, domain.ReasonAlreadySettled), nil
	}
	if len(closed) > 0 {
		out.TransactionID = closed[0]
	}

	r.grantOrder(ctx, order)
	return withReason(out, domain.OutcomeSettled, domain.ReasonOrderPaid), nil
}

// SettleTransaction marks tx used and, when its message names a pending order
// for the same amount, pays that order in the same database transaction.
// Access is granted after commit, and only by the caller that flipped the flag.
func (r *Reconciler) SettleTransaction(ctx context.Context, tx domain.QrTransaction, method, usedBy string) (domain.Outcome, error) {
	now := r.now()
	out := domain.Outcome{TransactionID: tx.TransactionID}
	if tx.Used {
		return withReason(out, domain.OutcomeIgnored, domain.ReasonAlreadySettled), nil
	}
	if tx.Expired(now) {
		return withReason(out, domain.OutcomeIgnored, domain.ReasonExpired), nil
	}

	var won bool
	var linked *domain.Order
	err := r.store.WithTx(ctx, func(s Store) error {
		var err error
		if won, err = s.MarkUsed(ctx, tx.TransactionID, usedBy, now); err != nil || !won {
			return err
		}
		linked, err = r.payLinkedOrder(ctx, s, tx, method, now)
		return err
	})
	if err != nil {
		return domain.Outcome{}, fmt.Errorf("settle transaction %s: %w", tx.TransactionID, err)
	}
	if !won {
		return withReason(out, domain.OutcomeIgnored, domain.ReasonAlreadySettled), nil
	}

	if linked != nil {
		out.OrderID = linked.ID
		r.grantOrder(ctx, *linked)
	}
	return withReason(out, domain.OutcomeSettled, domain.ReasonTransactionUsed), nil
}

func (r *Reconciler) payLinkedOrder(ctx context.Context, s Store, tx domain.QrTransaction, method string, now time.Time) (*domain.Order, error) {
	id, ok := OrderIDFromContent(tx.Message)
	if !ok {
		return nil, nil
	}
	o, err := r.lookupOrder(ctx, s, id)
	if err != nil || o == nil {
		return nil, err
	}
	if o.Status != domain.OrderPending || !equalAmounts(o.TotalAmount, tx.Amount) {
		r.log.Info("linked order left as is",
			zap.String("transactionId", tx.TransactionID),
			zap.Int64("orderId", o.ID),
			zap.String("status", string(o.Status)),
		)
		return nil, nil
	}
	won, err := s.MarkOrderPaid(ctx, o.ID, method, now)
	if err != nil || !won {
		return nil, err
	}
	return o, nil
}

// closeOrderTransactions marks used every open code issued for order, so a
// later transfer of the same amount cannot be matched to a paid order's code.
func (r *Reconciler) closeOrderTransactions(ctx context.Context, s Store, order domain.Order, usedBy string, now time.Time) ([]string, error) {
	total, err := decimal.NewFromString(order.TotalAmount)
	if err != nil {
		return nil, nil
	}
	open, err := s.OpenTransactionsByMessage(ctx, OrderMessage(order.ID), total)
	if err != nil {
		return nil, fmt.Errorf("open codes of order %d: %w", order.ID, err)
	}
	var closed []string
	for _, t := range open {
		ok, err := s.MarkUsed(ctx, t.TransactionID, usedBy, now)
		if err != nil {
			return nil, err
		}
		if ok {
			closed = append(closed, t.TransactionID)
		}
	}
	return closed, nil
}

// OrderMessage is the transfer message of codes issued for an order.
func OrderMessage(orderID int64) string {
	return "Order#" + strconv.FormatInt(orderID, 10)
}

func (r *Reconciler) grantOrder(ctx context.Context, order domain.Order) {
	for _, item := range order.Items {
		if err := r.granter.Grant(ctx, order, item); err != nil {
			r.log.With(zap.Error(err)).Error("grant access failed",
				zap.Int64("orderId", order.ID),
				zap.Int64("userId", order.UserID),
				zap.String("category", item.CategoryCode),
			)
		}
	}
}

// OrderIDFromContent finds "Order<id>", "Order#<id>", "Order: <id>" and
// similar markers anywhere in free text, glued tokens included.
func OrderIDFromContent(s string) (int64, bool) {
	return matchOrderID(contentOrderPattern, s)
}

// OrderIDFromReference accepts a reference code only when the whole code is
// an order marker. Bare digits are never taken as an order id.
func OrderIDFromReference(s string) (int64, bool) {
	return matchOrderID(referenceOrderPattern, s)
}

func matchOrderID(re *regexp.Regexp, s string) (int64, bool) {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func paymentMethod(gateway string) string {
	if g := strings.ToUpper(strings.TrimSpace(gateway)); g != "" {
		return g
	}
	return defaultPaymentMethod
}

func sameAmount(stored string, amount decimal.Decimal) bool {
	d, err := decimal.NewFromString(stored)
	return err == nil && d.Equal(amount)
}

func equalAmounts(a, b string) bool {
	d, err := decimal.NewFromString(b)
	return err == nil && sameAmount(a, d)
}

func ignored(reason domain.Reason) domain.Outcome {
	return domain.Outcome{Kind: domain.OutcomeIgnored, Reason: reason}
}

func withReason(o domain.Outcome, kind domain.OutcomeKind, reason domain.Reason) domain.Outcome {
	o.Kind = kind
	o.Reason = reason
	return o
}

func logOutcome(log *zap.Logger, o domain.Outcome) {
	log.Info("webhook processed",
		zap.String("outcome", string(o.Kind)),
		zap.String("reason", string(o.Reason)),
		zap.String("matchedBy", string(o.MatchedBy)),
		zap.Int64("orderId", o.OrderID),
		zap.String("transactionId", o.TransactionID),
	)
}
