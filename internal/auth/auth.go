// Package auth authenticates the messaging adapter and identifies the acting
// user on each request.
//
// Authentication model:
//   - The adapter presents a shared API key (Authorization: Bearer <key> or
//     X-API-Key). Keys are kept only as SHA-256 hashes.
//   - The adapter names the end user it acts for in X-Actor-ID. The core
//     trusts that identity and performs its own per-operation authorization.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
)

var (
	ErrNoAPIKey      = errors.New("API key required")
	ErrInvalidAPIKey = errors.New("invalid API key")
)

// Keyring holds the hashes of accepted API keys.
type Keyring struct {
	hashes [][]byte
}

// NewKeyring builds a keyring from raw keys. Blank entries are ignored.
func NewKeyring(keys ...string) *Keyring {
	k := &Keyring{}
	for _, raw := range keys {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		k.hashes = append(k.hashes, hashKey(raw))
	}
	return k
}

// ParseKeyring splits a comma-separated key list, as stored in API_KEYS.
func ParseKeyring(csv string) *Keyring {
	return NewKeyring(strings.Split(csv, ",")...)
}

// Empty reports whether no keys are configured. An empty keyring disables
// authentication, which is only allowed in development.
func (k *Keyring) Empty() bool {
	return k == nil || len(k.hashes) == 0
}

// Validate checks a raw key in constant time against every configured hash.
func (k *Keyring) Validate(raw string) error {
	raw = strings.TrimSpace(strings.TrimPrefix(raw, "Bearer "))
	if raw == "" {
		return ErrNoAPIKey
	}
	h := hashKey(raw)
	match := 0
	for _, want := range k.hashes {
		match |= subtle.ConstantTimeCompare(h, want)
	}
	if match != 1 {
		return ErrInvalidAPIKey
	}
	return nil
}

// Fingerprint returns a short, loggable identifier for a raw key.
func Fingerprint(raw string) string {
	return hex.EncodeToString(hashKey(strings.TrimPrefix(raw, "Bearer ")))[:12]
}

func hashKey(raw string) []byte {
	sum := sha256.Sum256([]byte(raw))
	return sum[:]
}
