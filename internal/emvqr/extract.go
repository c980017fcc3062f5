package emvqr

import (
	"regexp"
	"strconv"
	"strings"
)

const emvHeader = TagPayloadFormat + "0201"

// base64 of the PNG signature, used to spot bare base64 images.
const pngBase64Marker = "iVBORw0KGgo"

// referenceValue matches what a 62.05 value issued by Builder looks like:
// an id made of url-safe characters, optionally followed by a signature.
var referenceValue = regexp.MustCompile(`^[0-9A-Za-z][0-9A-Za-z_-]*(\.[0-9A-Za-z_-]{6,43})?$`)

var uuidValue = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// ExtractEMV returns the EMV payload embedded in s: the bytes from the first
// "000201" header up to and including the CRC record, found by walking
// record boundaries. If no CRC record is reached the rest of the input is
// returned; if there is no header, s is returned unchanged.
func ExtractEMV(s string) string {
	start := strings.Index(s, emvHeader)
	if start < 0 {
		return s
	}
	records, _ := Decode(s[start:])
	for _, r := range records {
		if r.Tag == TagCRC {
			return s[start : start+r.Offset+4+r.Len()]
		}
	}
	return s[start:]
}

// Sanitize normalizes the supported carriers (raw payload, payload wrapped in
// other text, data:image URI, bare base64 PNG) to the payload string.
func Sanitize(input string) (string, Diagnostics) {
	var diags Diagnostics
	s := strings.TrimSpace(input)
	if len(s) >= 2 && strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`) {
		s = s[1 : len(s)-1]
	}
	if isImageCarrier(s) {
		text, err := DecodeImageData(s)
		if err != nil {
			diags.addf("image payload could not be decoded: %v", err)
			return "", diags
		}
		s = strings.TrimSpace(text)
	}
	if s == "" {
		diags.addf("empty QR content")
		return "", diags
	}
	if !strings.Contains(s, emvHeader) {
		diags.addf("no EMV header %q found in input", emvHeader)
	}
	return ExtractEMV(s), diags
}

func isImageCarrier(s string) bool {
	if strings.HasPrefix(s, "data:") {
		return true
	}
	return len(s) > 100 && strings.HasPrefix(s, pngBase64Marker)
}

// ExtractTransactionID finds the transaction id carried in the additional
// data group. Strict decoding is tried first (62.05, then 38.05, then any
// group with a 05 record); when the payload is corrupted it falls back to
// scanning the raw bytes for a 05 record shaped like an issued reference.
// The returned diagnostics describe every malformed structure met.
func ExtractTransactionID(input string) (string, Diagnostics) {
	s, diags := Sanitize(input)
	if s == "" {
		return "", diags
	}
	root := Parse(s)
	diags = append(diags, root.Diagnostics...)

	for _, tag := range []string{TagAdditionalData, TagMerchantAccount} {
		sub, ok := ParseNested(root, tag)
		if !ok {
			continue
		}
		diags = append(diags, sub.Diagnostics...)
		if ref := sub.Fields[SubTagReference]; ref != "" {
			id, _ := SplitReference(ref)
			return id, diags
		}
	}
	for _, r := range root.Records {
		if r.Tag == TagAdditionalData || r.Tag == TagMerchantAccount || r.Len() < 4 {
			continue
		}
		sub := Parse(r.Value)
		if sub.Diagnostics.Empty() {
			if ref := sub.Fields[SubTagReference]; ref != "" {
				id, _ := SplitReference(ref)
				return id, diags
			}
		}
	}

	if id, note, ok := scanReference(s); ok {
		diags.addf("%s", note)
		return id, diags
	}
	diags.addf("transaction id not found")
	return "", diags
}

// scanReference looks for "05LL<value>" anywhere in s and accepts the first
// value shaped like an issued reference: "<id>.<signature>", or a bare uuid.
func scanReference(s string) (id, note string, ok bool) {
	for i := 0; i+4 <= len(s); i++ {
		if s[i:i+2] != SubTagReference || !isDigits(s[i+2:i+4]) {
			continue
		}
		n := int(s[i+2]-'0')*10 + int(s[i+3]-'0')
		start := i + 4
		if start+n > len(s) {
			// the record was cut short; keep it only if the id itself survived
			value := trimToReference(s[start:])
			id, _, complete := strings.Cut(value, ReferenceSeparator)
			if !complete || !referenceValue.MatchString(id) {
				continue
			}
			return id, "transaction id recovered from truncated 05 record at offset " + strconv.Itoa(i), true
		}
		value := s[start : start+n]
		if !referenceValue.MatchString(value) {
			continue
		}
		id, sig := SplitReference(value)
		if sig == "" && !uuidValue.MatchString(id) {
			continue
		}
		return id, "transaction id recovered by scanning for 05 record at offset " + strconv.Itoa(i), true
	}
	return "", "", false
}

func trimToReference(v string) string {
	for i := 0; i < len(v); i++ {
		c := v[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '-' || c == '_' || c == '.') {
			return v[:i]
		}
	}
	return v
}
