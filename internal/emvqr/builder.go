package emvqr

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"payment_backend/internal/crc16"
)

// Root and group tags used by issued payloads.
const (
	TagPayloadFormat   = "00"
	TagInitiation      = "01"
	TagMerchantAccount = "38"
	TagCurrency        = "53"
	TagAmount          = "54"
	TagCountry         = "58"
	TagMerchantName    = "59"
	TagMerchantCity    = "60"
	TagAdditionalData  = "62"
	TagCRC             = "63"

	SubTagReference = "05"
	SubTagPurpose   = "08"

	// ReferenceSeparator joins the transaction id and its signature in 62.05.
	ReferenceSeparator = "."

	// MinSignatureLength is the shortest signature issued or accepted.
	MinSignatureLength = 6

	DefaultSignatureLength = 22

	serviceCodeTransfer = "QRIBFTTA"
	currencyVND         = "704"
	countryVN           = "VN"
	crcPrefix           = TagCRC + "04"
	maxSignatureLength  = 43
)

var (
	ErrMissingField      = errors.New("emvqr: missing payment field")
	ErrReferenceTooLong  = errors.New("emvqr: transaction id leaves no room for a signature")
	fallbackSignatureLen = []int{16, 11, 8, MinSignatureLength}
)

// Signer produces truncated signatures for issued payloads.
type Signer interface {
	SignTruncated(payload, keyID string, length int) (string, error)
	CurrentKeyID() string
}

// Payment holds the fields embedded in one QR payload.
type Payment struct {
	BankCode      string
	BankAccount   string
	Amount        string
	Message       string
	TransactionID string
	// KeyID selects the signing key; empty means the signer's current key.
	KeyID string
}

type Builder struct {
	signer       Signer
	banks        Directory
	merchantName string
	merchantCity string
	sigLength    int
}

type Option func(*Builder)

func WithMerchant(name, city string) Option {
	return func(b *Builder) {
		b.merchantName = name
		b.merchantCity = city
	}
}

func WithSignatureLength(n int) Option {
	return func(b *Builder) { b.sigLength = n }
}

func WithBanks(d Directory) Option {
	return func(b *Builder) { b.banks = d }
}

func NewBuilder(signer Signer, opts ...Option) *Builder {
	b := &Builder{
		signer:       signer,
		banks:        DefaultBanks,
		merchantName: "QRPAY",
		merchantCity: "HN",
		sigLength:    DefaultSignatureLength,
	}
	for _, o := range opts {
		o(b)
	}
	if b.sigLength < MinSignatureLength {
		b.sigLength = MinSignatureLength
	}
	if b.sigLength > maxSignatureLength {
		b.sigLength = maxSignatureLength
	}
	return b
}

// Built is an issued payload with the pieces callers usually need to record.
type Built struct {
	Content      string
	Signature    string
	KeyID        string
	Snippet      string
	SignedPrefix string
}

// Build assembles a signed payload for p.
//
// The signature covers every byte before tag 62 followed by the transaction
// id. The message is not signed: it is cut to whatever room the 62 group has
// left once the reference fits, always at a rune boundary.
func (b *Builder) Build(p Payment) (Built, error) {
	switch {
	case strings.TrimSpace(p.BankAccount) == "":
		return Built{}, fmt.Errorf("%w: bank account", ErrMissingField)
	case strings.TrimSpace(p.Amount) == "":
		return Built{}, fmt.Errorf("%w: amount", ErrMissingField)
	case p.TransactionID == "":
		return Built{}, fmt.Errorf("%w: transaction id", ErrMissingField)
	}
	bank, err := b.banks.Lookup(p.BankCode)
	if err != nil {
		return Built{}, fmt.Errorf("%w: %q", err, p.BankCode)
	}

	accountInfo := p.BankAccount
	if !bank.Flat {
		var nested Encoder
		nested.Add("00", bank.BIN).Add("01", p.BankAccount)
		if accountInfo, err = nested.String(); err != nil {
			return Built{}, err
		}
	}
	var mai Encoder
	mai.Add("00", bank.GUID).Add("01", accountInfo).Add("02", serviceCodeTransfer)
	maiValue, err := mai.String()
	if err != nil {
		return Built{}, fmt.Errorf("merchant account info: %w", err)
	}

	var root Encoder
	root.Add(TagPayloadFormat, "01").
		Add(TagInitiation, "12").
		Add(TagMerchantAccount, maiValue).
		Add(TagCurrency, currencyVND).
		Add(TagAmount, p.Amount).
		Add(TagCountry, countryVN).
		Add(TagMerchantName, b.merchantName).
		Add(TagMerchantCity, b.merchantCity)
	prefix, err := root.String()
	if err != nil {
		return Built{}, err
	}

	keyID := p.KeyID
	if keyID == "" {
		keyID = b.signer.CurrentKeyID()
	}
	signed := prefix + p.TransactionID

	var reference, signature string
	for _, n := range b.signatureLengths() {
		if len(p.TransactionID)+len(ReferenceSeparator)+n+4 > MaxValueLength {
			continue
		}
		signature, err = b.signer.SignTruncated(signed, keyID, n)
		if err != nil {
			return Built{}, fmt.Errorf("sign payload: %w", err)
		}
		reference = p.TransactionID + ReferenceSeparator + signature
		break
	}
	if reference == "" {
		return Built{}, fmt.Errorf("%w: %d bytes", ErrReferenceTooLong, len(p.TransactionID))
	}

	var additional Encoder
	additional.Add(SubTagReference, reference)
	snippet := TruncateUTF8(p.Message, MaxValueLength-additional.Len()-4)
	if snippet != "" {
		additional.Add(SubTagPurpose, snippet)
	}
	additionalValue, err := additional.String()
	if err != nil {
		return Built{}, fmt.Errorf("additional data: %w", err)
	}
	root.Add(TagAdditionalData, additionalValue)

	body, err := root.String()
	if err != nil {
		return Built{}, err
	}
	body += crcPrefix
	return Built{
		Content:      body + crc16.Checksum(body),
		Signature:    signature,
		KeyID:        keyID,
		Snippet:      snippet,
		SignedPrefix: prefix,
	}, nil
}

func (b *Builder) signatureLengths() []int {
	lengths := []int{b.sigLength}
	for _, n := range fallbackSignatureLen {
		if n < b.sigLength {
			lengths = append(lengths, n)
		}
	}
	return lengths
}

// TruncateUTF8 returns the longest prefix of s that is at most n bytes and
// does not split a multi-byte rune.
func TruncateUTF8(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// SplitReference separates a 62.05 value into transaction id and signature.
// Values without a separator are treated as a bare id.
func SplitReference(ref string) (id, signature string) {
	i := strings.LastIndex(ref, ReferenceSeparator)
	if i < 0 {
		return ref, ""
	}
	return ref[:i], ref[i+1:]
}
