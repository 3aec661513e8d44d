package util

import (
	"encoding/base64"
	"encoding/hex"

	"golang.org/x/text/unicode/norm"
)

// Normalize applies NFKD so that visually identical passphrases derive the same key.
func Normalize(s string) string {
	return norm.NFKD.String(s)
}

func HexEncode(b []byte) string {
	return hex.EncodeToString(b)
}

func Base64Encode(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// Base64Decode rejects non-canonical input, including nonzero padding bits,
// so every distinct string maps to distinct bytes.
func Base64Decode(s string) ([]byte, error) {
	return base64.StdEncoding.Strict().DecodeString(s)
}
