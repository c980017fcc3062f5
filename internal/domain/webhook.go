package domain

import "github.com/shopspring/decimal"

// TransferIn marks money received on the monitored account.
const TransferIn = "in"

// WebhookPayload is a bank transfer notification as delivered by the gateway.
type WebhookPayload struct {
	ID              int64           `json:"id"`
	Gateway         string          `json:"gateway"`
	TransactionDate string          `json:"transactionDate"`
	AccountNumber   string          `json:"accountNumber"`
	Code            *string         `json:"code"`
	Content         string          `json:"content"`
	TransferType    string          `json:"transferType"`
	TransferAmount  decimal.Decimal `json:"transferAmount"`
	Accumulated     decimal.Decimal `json:"accumulated"`
	SubAccount      *string         `json:"subAccount"`
	ReferenceCode   string          `json:"referenceCode"`
	Description     string          `json:"description"`
}

type OutcomeKind string

const (
	OutcomeSettled  OutcomeKind = "settled"
	OutcomeIgnored  OutcomeKind = "ignored"
	OutcomeRejected OutcomeKind = "rejected"
)

type Reason string

const (
	ReasonOrderPaid        Reason = "order_paid"
	ReasonTransactionUsed  Reason = "transaction_used"
	ReasonOutboundTransfer Reason = "outbound_transfer"
	ReasonNoMatch          Reason = "no_match"
	ReasonAmountMismatch   Reason = "amount_mismatch"
	ReasonAlreadySettled   Reason = "already_settled"
	ReasonExpired          Reason = "transaction_expired"
	ReasonOrderNotPayable  Reason = "order_not_payable"
	ReasonUnauthenticated  Reason = "unauthenticated"
	ReasonMalformed        Reason = "malformed_payload"
)

// MatchSource names the rule that tied a transfer to an order or transaction.
type MatchSource string

const (
	MatchContent       MatchSource = "content"
	MatchReferenceCode MatchSource = "reference_code"
	MatchAccountAmount MatchSource = "account_amount"
)

// Outcome is the terminal state of one webhook delivery.
type Outcome struct {
	Kind          OutcomeKind `json:"outcome"`
	Reason        Reason      `json:"reason"`
	MatchedBy     MatchSource `json:"matchedBy,omitempty"`
	OrderID       int64       `json:"orderId,omitempty"`
	TransactionID string      `json:"transactionId,omitempty"`
}

func (o Outcome) Settled() bool { return o.Kind == OutcomeSettled }
