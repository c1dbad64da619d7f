// Package id generates opaque identifiers for stored records.
package id

import (
	"encoding/base32"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewID returns a random v4 UUID encoded as 26 lowercase base32 characters.
func NewID() (string, error) {
	value, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate uuid: %w", err)
	}
	return strings.ToLower(encoding.EncodeToString(value[:])), nil
}

// MustNewID is NewID for callers that cannot recover from entropy failures.
func MustNewID() string {
	value, err := NewID()
	if err != nil {
		panic(err)
	}
	return value
}

// NewKey returns a human-readable key such as quality profile keys
// ("xoo-sonar-way-3fa1c2"). prefix is lowercased and spaces become dashes.
func NewKey(prefix string) (string, error) {
	value, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate uuid: %w", err)
	}
	suffix := strings.ReplaceAll(value.String(), "-", "")[:12]
	prefix = strings.Join(strings.Fields(strings.ToLower(prefix)), "-")
	if prefix == "" {
		return suffix, nil
	}
	return prefix + "-" + suffix, nil
}

// DerivedID returns a stable id for name parts, so reloading the same
// catalog maps onto the same records.
func DerivedID(parts ...string) string {
	value := uuid.NewSHA1(uuid.NameSpaceOID, []byte(strings.Join(parts, "\x00")))
	return strings.ToLower(encoding.EncodeToString(value[:]))
}
