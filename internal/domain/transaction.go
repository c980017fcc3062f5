package domain

import "time"

// QrTransaction is one issued payment code and the transfer it expects.
type QrTransaction struct {
	TransactionID  string
	BankCode       string
	BankAccount    string
	Amount         string
	Message        string
	CreatedBy      string
	CreatedAt      time.Time
	ExpireAt       time.Time
	Used           bool
	UsedBy         string
	UsedAt         *time.Time
	SignatureKeyID string
}

// Expired reports whether t can no longer be paid at now.
func (t QrTransaction) Expired(now time.Time) bool {
	return !now.Before(t.ExpireAt)
}

// Open reports whether t may still be matched against an incoming transfer.
func (t QrTransaction) Open(now time.Time) bool {
	return !t.Used && !t.Expired(now)
}
