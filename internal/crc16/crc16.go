// Package crc16 computes the checksum that terminates an EMV QR payload.
package crc16

import "fmt"

const (
	initial    uint16 = 0xFFFF
	polynomial uint16 = 0x1021
)

// Sum returns the CRC-16/CCITT-FALSE of data.
func Sum(data []byte) uint16 {
	crc := initial
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ polynomial
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// Checksum returns the CRC of the UTF-8 bytes of s as four uppercase hex digits.
func Checksum(s string) string {
	return fmt.Sprintf("%04X", Sum([]byte(s)))
}
