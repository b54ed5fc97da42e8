package hashing

import (
	"encoding/hex"
	"fmt"
)

// Format returns the lowercase hex form of a content hash. This is the
// form used in blob paths, metadata and the HTTP API.
func Format(sum [Size]byte) string {
	return hex.EncodeToString(sum[:])
}

// Parse decodes a 64-character hex content hash.
func Parse(s string) ([Size]byte, error) {
	var sum [Size]byte
	if len(s) != hex.EncodedLen(Size) {
		return sum, fmt.Errorf("content hash is %d characters, want %d", len(s), hex.EncodedLen(Size))
	}
	if _, err := hex.Decode(sum[:], []byte(s)); err != nil {
		return sum, fmt.Errorf("parsing content hash: %w", err)
	}
	return sum, nil
}

// IsHex reports whether v is a content hash in canonical lowercase hex.
func IsHex(v string) bool {
	if len(v) != hex.EncodedLen(Size) {
		return false
	}
	for i := 0; i < len(v); i++ {
		ch := v[i]
		if (ch >= '0' && ch <= '9') || (ch >= 'a' && ch <= 'f') {
			continue
		}
		return false
	}
	return true
}

// BlobDir returns the two-character prefix directory for a hash.
func BlobDir(hash string) string {
	if len(hash) < 2 {
		return hash
	}
	return hash[:2]
}
