package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// HashWithDomain computes SHA-256 over domain, a 0x00 separator, then data,
// and returns it hex encoded. The separator keeps the domain/data boundary
// unambiguous. Domains carry a version suffix so the format can change
// without silently colliding with old hashes.
func HashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// HashValue canonicalizes v and hashes it under domain.
func HashValue(domain string, v Value) (string, error) {
	canonical, err := Marshal(v)
	if err != nil {
		return "", fmt.Errorf("canonicalize: %w", err)
	}
	return HashWithDomain(domain, canonical), nil
}
