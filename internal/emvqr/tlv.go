// Package emvqr encodes and decodes EMV-style QR payment payloads.
//
// A payload is a sequence of records, each rendered as a two digit tag, a two
// digit decimal length and the value. Lengths count bytes of the UTF-8 value.
// Some values (merchant account information, additional data) are themselves
// record sequences.
package emvqr

import (
	"errors"
	"fmt"
	"strings"
)

// MaxValueLength is the largest value a two digit length can describe.
const MaxValueLength = 99

var (
	ErrValueTooLong = errors.New("emvqr: value exceeds 99 bytes")
	ErrInvalidTag   = errors.New("emvqr: tag must be two ascii digits")
)

// Record is one tag/length/value triple. Offset is the byte position of the
// tag inside the decoded input.
type Record struct {
	Tag    string
	Value  string
	Offset int
}

// Len returns the encoded byte length of the value.
func (r Record) Len() int { return len(r.Value) }

// Diagnostics collects human readable notes about malformed input. Decoding
// never fails; it stops and records what it saw instead.
type Diagnostics []string

func (d *Diagnostics) addf(format string, args ...any) {
	*d = append(*d, fmt.Sprintf(format, args...))
}

// within prefixes each note with the group it came from.
func (d Diagnostics) within(tag string) Diagnostics {
	out := make(Diagnostics, len(d))
	for i, note := range d {
		out[i] = "tag " + tag + ": " + note
	}
	return out
}

func (d Diagnostics) Empty() bool { return len(d) == 0 }

// Result is the outcome of Parse.
type Result struct {
	Records     []Record
	Fields      map[string]string
	Diagnostics Diagnostics
}

// Get returns the value of tag, if decoded.
func (r Result) Get(tag string) (string, bool) {
	v, ok := r.Fields[tag]
	return v, ok
}

// Find returns the last record carrying tag.
func (r Result) Find(tag string) (Record, bool) {
	for i := len(r.Records) - 1; i >= 0; i-- {
		if r.Records[i].Tag == tag {
			return r.Records[i], true
		}
	}
	return Record{}, false
}

// Decode scans s in a single pass. Values are sliced by their declared byte
// length only; bytes inside a value are never inspected for tag boundaries.
// Scanning stops at the first malformed header and the reason is returned
// alongside the records decoded so far.
func Decode(s string) ([]Record, Diagnostics) {
	var (
		records []Record
		diags   Diagnostics
		pos     int
	)
	for pos < len(s) {
		if pos+4 > len(s) {
			diags.addf("truncated record header at offset %d: %d trailing bytes %q", pos, len(s)-pos, s[pos:])
			break
		}
		tag := s[pos : pos+2]
		if !isDigits(tag) {
			diags.addf("malformed tag %q at offset %d", tag, pos)
			break
		}
		lenField := s[pos+2 : pos+4]
		if !isDigits(lenField) {
			diags.addf("malformed length %q for tag %s at offset %d", lenField, tag, pos)
			break
		}
		n := int(lenField[0]-'0')*10 + int(lenField[1]-'0')
		start := pos + 4
		if start+n > len(s) {
			diags.addf("malformed length for tag %s at offset %d: declared %d, remaining %d, near %q",
				tag, pos, n, len(s)-start, snippet(s, pos, 32))
			break
		}
		records = append(records, Record{Tag: tag, Value: s[start : start+n], Offset: pos})
		pos = start + n
	}
	return records, diags
}

// Parse decodes s into a tag map. Later duplicates overwrite earlier ones.
func Parse(s string) Result {
	records, diags := Decode(s)
	fields := make(map[string]string, len(records))
	for _, r := range records {
		fields[r.Tag] = r.Value
	}
	return Result{Records: records, Fields: fields, Diagnostics: diags}
}

// ParseNested decodes the value of tag inside parent as a record group.
func ParseNested(parent Result, tag string) (Result, bool) {
	v, ok := parent.Fields[tag]
	if !ok {
		return Result{Fields: map[string]string{}}, false
	}
	sub := Parse(v)
	sub.Diagnostics = sub.Diagnostics.within(tag)
	return sub, true
}

// Encoder appends records in call order. The first error sticks.
type Encoder struct {
	b   strings.Builder
	err error
}

func (e *Encoder) Add(tag, value string) *Encoder {
	if e.err != nil {
		return e
	}
	field, err := EncodeField(tag, value)
	if err != nil {
		e.err = err
		return e
	}
	e.b.WriteString(field)
	return e
}

func (e *Encoder) Len() int { return e.b.Len() }

func (e *Encoder) String() (string, error) {
	if e.err != nil {
		return "", e.err
	}
	return e.b.String(), nil
}

// EncodeField renders a single record. Values longer than MaxValueLength
// bytes are rejected, never silently cut.
func EncodeField(tag, value string) (string, error) {
	if len(tag) != 2 || !isDigits(tag) {
		return "", fmt.Errorf("%w: %q", ErrInvalidTag, tag)
	}
	if len(value) > MaxValueLength {
		return "", fmt.Errorf("%w: tag %s has %d bytes", ErrValueTooLong, tag, len(value))
	}
	return fmt.Sprintf("%s%02d%s", tag, len(value), value), nil
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return len(s) > 0
}

func snippet(s string, at, n int) string {
	start := at - n/2
	if start < 0 {
		start = 0
	}
	end := at + n
	if end > len(s) {
		end = len(s)
	}
	return s[start:end]
}
