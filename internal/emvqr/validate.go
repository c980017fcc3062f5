package emvqr

import (
	"strings"

	"payment_backend/internal/crc16"
)

var requiredTags = []string{
	TagPayloadFormat, TagInitiation, TagCurrency, TagAmount, TagCountry, TagAdditionalData, TagCRC,
}

// Verifier checks truncated signatures.
type Verifier interface {
	VerifyTruncated(payload, signature, keyID string, length int) bool
	VerifyAny(payload, signature string) (string, bool)
}

// IsValid reports whether s carries the mandatory records and its CRC
// matches every byte preceding the CRC value.
func IsValid(s string) bool {
	ok, _ := checkCRC(s)
	return ok
}

func checkCRC(s string) (bool, Diagnostics) {
	var diags Diagnostics
	root := Parse(s)
	diags = append(diags, root.Diagnostics...)
	for _, tag := range requiredTags {
		if _, ok := root.Fields[tag]; !ok {
			diags.addf("missing required tag %s", tag)
		}
	}
	crcRecord, ok := root.Find(TagCRC)
	if !ok {
		return false, diags
	}
	if crcRecord.Len() != 4 {
		diags.addf("crc record at offset %d has length %d, want 4", crcRecord.Offset, crcRecord.Len())
		return false, diags
	}
	computed := crc16.Checksum(s[:crcRecord.Offset+4])
	if !strings.EqualFold(computed, crcRecord.Value) {
		diags.addf("crc mismatch: declared %s, computed %s", crcRecord.Value, computed)
		return false, diags
	}
	return len(diags) == 0, diags
}

// SignedReference is the signature material recovered from a payload.
type SignedReference struct {
	TransactionID string
	Signature     string
	Payload       string
}

// SignedPayload rebuilds the string that was signed when s was issued.
func SignedPayload(s string) (SignedReference, bool) {
	root := Parse(s)
	rec, ok := root.Find(TagAdditionalData)
	if !ok {
		return SignedReference{}, false
	}
	sub := Parse(rec.Value)
	ref, ok := sub.Fields[SubTagReference]
	if !ok {
		return SignedReference{}, false
	}
	id, sig := SplitReference(ref)
	if id == "" || sig == "" {
		return SignedReference{}, false
	}
	return SignedReference{TransactionID: id, Signature: sig, Payload: s[:rec.Offset] + id}, true
}

// VerifySignature checks the signature embedded in 62.05. With an empty
// keyID every key known to v is tried. Signatures shorter than
// MinSignatureLength are refused.
func VerifySignature(s string, v Verifier, keyID string) bool {
	ref, ok := SignedPayload(s)
	if !ok || len(ref.Signature) < MinSignatureLength {
		return false
	}
	if keyID != "" {
		return v.VerifyTruncated(ref.Payload, ref.Signature, keyID, len(ref.Signature))
	}
	_, ok = v.VerifyAny(ref.Payload, ref.Signature)
	return ok
}

// Report is a best-effort description of a payload for troubleshooting.
type Report struct {
	Content        string                       `json:"qrContent"`
	Fields         map[string]string            `json:"parsed"`
	Nested         map[string]map[string]string `json:"nested,omitempty"`
	CRCValid       bool                         `json:"crcValid"`
	SignatureValid bool                         `json:"signatureValid"`
	TransactionID  string                       `json:"transactionId,omitempty"`
	Diagnostics    Diagnostics                  `json:"diagnostics"`
}

// Inspect never fails: whatever could not be decoded is described in the
// report's diagnostics. v may be nil to skip signature verification.
func Inspect(input string, v Verifier) Report {
	s, diags := Sanitize(input)
	report := Report{
		Content: s,
		Fields:  map[string]string{},
		Nested:  map[string]map[string]string{},
	}
	if s == "" {
		report.Diagnostics = append(Diagnostics{}, diags...)
		return report
	}

	root := Parse(s)
	report.Fields = root.Fields
	diags = append(diags, root.Diagnostics...)
	for _, r := range root.Records {
		if r.Len() < 4 || r.Tag == TagCRC {
			continue
		}
		if sub := Parse(r.Value); len(sub.Records) > 0 && sub.Diagnostics.Empty() {
			report.Nested[r.Tag] = sub.Fields
			if mai, ok := sub.Fields["01"]; ok && r.Tag == TagMerchantAccount {
				if inner := Parse(mai); len(inner.Records) > 0 && inner.Diagnostics.Empty() {
					report.Nested[r.Tag+".01"] = inner.Fields
				}
			}
		} else if r.Tag == TagAdditionalData || r.Tag == TagMerchantAccount {
			diags = append(diags, sub.Diagnostics.within(r.Tag)...)
		}
	}

	crcOK, crcDiags := checkCRC(s)
	report.CRCValid = crcOK
	diags = appendUnique(diags, crcDiags...)

	id, idDiags := ExtractTransactionID(s)
	report.TransactionID = id
	diags = appendUnique(diags, idDiags...)

	if v != nil {
		report.SignatureValid = VerifySignature(s, v, "")
	}
	report.Diagnostics = append(Diagnostics{}, diags...)
	return report
}

func appendUnique(d Diagnostics, notes ...string) Diagnostics {
	seen := make(map[string]struct{}, len(d))
	for _, n := range d {
		seen[n] = struct{}{}
	}
	for _, n := range notes {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		d = append(d, n)
	}
	return d
}
