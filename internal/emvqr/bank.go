package emvqr

import (
	"errors"
	"strings"
)

// NapasGUID identifies the domestic interbank transfer scheme.
const NapasGUID = "A000000727"

var ErrUnknownBank = errors.New("emvqr: unknown bank code")

// Bank describes how an acquiring bank expects its account to be embedded in
// the merchant account information group.
type Bank struct {
	Code string
	BIN  string
	GUID string
	// Flat banks take the account number directly in 38.01 instead of a
	// nested {00: BIN, 01: account} group.
	Flat bool
}

// Directory maps normalized bank codes to their profile.
type Directory map[string]Bank

// NormalizeBankCode trims and lower-cases a bank code.
func NormalizeBankCode(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}

func (d Directory) Lookup(code string) (Bank, error) {
	b, ok := d[NormalizeBankCode(code)]
	if !ok {
		return Bank{}, ErrUnknownBank
	}
	if b.GUID == "" {
		b.GUID = NapasGUID
	}
	return b, nil
}

// DefaultBanks is the set of banks payments can be issued to.
var DefaultBanks = Directory{
	"vcb":             {Code: "vcb", BIN: "970436"},
	"vietinbank":      {Code: "vietinbank", BIN: "970415"},
	"mb":              {Code: "mb", BIN: "970422"},
	"bidv":            {Code: "bidv", BIN: "970418"},
	"agribank":        {Code: "agribank", BIN: "970405"},
	"ocb":             {Code: "ocb", BIN: "970448"},
	"acb":             {Code: "acb", BIN: "970416"},
	"vpbank":          {Code: "vpbank", BIN: "970432"},
	"tpbank":          {Code: "tpbank", BIN: "970423"},
	"hdbank":          {Code: "hdbank", BIN: "970437"},
	"vietcapitalbank": {Code: "vietcapitalbank", BIN: "970454"},
	"scb":             {Code: "scb", BIN: "970429"},
	"vib":             {Code: "vib", BIN: "970441"},
	"shb":             {Code: "shb", BIN: "970443"},
	"eximbank":        {Code: "eximbank", BIN: "970431"},
	"msb":             {Code: "msb", BIN: "970426"},
	"cake":            {Code: "cake", BIN: "546034"},
}
