package crc16

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChecksum(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "check value", input: "123456789", want: "29B1"},
		{name: "empty input", input: "", want: "FFFF"},
		{name: "single byte", input: "A", want: "B915"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Checksum(tt.input))
		})
	}
}

func TestChecksumIsFourUppercaseHexDigits(t *testing.T) {
	got := Checksum("00020101021253037045802VN6304")
	assert.Len(t, got, 4)
	assert.Regexp(t, `^[0-9A-F]{4}$`, got)
}

func TestSumDetectsSingleByteFlip(t *testing.T) {
	payload := []byte("000201010212")
	base := Sum(payload)
	for i := range payload {
		flipped := append([]byte(nil), payload...)
		flipped[i] ^= 0x01
		assert.NotEqual(t, base, Sum(flipped), "flip at %d", i)
	}
}
