package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// FingerprintSize is the byte length of a chain fingerprint.
const FingerprintSize = 32

// Hash returns the SHA-256 fingerprint of data as a lowercase hex string.
func Hash(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// HashBytes returns the raw SHA-256 fingerprint of data.
func HashBytes(data []byte) []byte {
	h := sha256.Sum256(data)
	return h[:]
}

// FingerprintToBytes decodes a fingerprint hex string into its raw 32 bytes.
func FingerprintToBytes(s string) ([FingerprintSize]byte, error) {
	var out [FingerprintSize]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("invalid fingerprint hex: %w", err)
	}
	if len(b) != FingerprintSize {
		return out, fmt.Errorf("fingerprint must be %d bytes, got %d", FingerprintSize, len(b))
	}
	copy(out[:], b)
	return out, nil
}

// FingerprintFromBytes encodes raw fingerprint bytes as a lowercase hex string.
func FingerprintFromBytes(b [FingerprintSize]byte) string {
	return hex.EncodeToString(b[:])
}

// IsFingerprintHex reports whether s is a well-formed 64-char fingerprint hex.
func IsFingerprintHex(s string) bool {
	if len(s) != 2*FingerprintSize {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
