// Package id generates deployment identifiers. An identifier is both the
// queue token and the tenant subdomain label, so it must be DNS-label safe
// and unguessable.
package id

import (
	"crypto/rand"
	"fmt"
)

// alphabet deliberately excludes 0 and uppercase: ids appear in subdomains,
// which are case-insensitive.
const alphabet = "123456789qwertyuiopasdfghjklzxcvbnm"

// DefaultLength gives ~41 bits of entropy; the 5-symbol ids seen in older
// deployments are still accepted everywhere ids are validated.
const DefaultLength = 8

// MinLength is the shortest id the platform ever issued.
const MinLength = 5

// New returns a fresh random identifier of length n. n below MinLength is
// raised to DefaultLength.
func New(n int) (string, error) {
	if n < MinLength {
		n = DefaultLength
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	out := make([]byte, n)
	for i, b := range buf {
		out[i] = alphabet[int(b)%len(alphabet)]
	}
	return string(out), nil
}
