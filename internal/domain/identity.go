// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	JoinCodeLen    = 6
	MaxIdentityLen = 64
)

var (
	ErrIdentityEmpty   = errors.New("identity empty")
	ErrIdentityTooLong = errors.New("identity too long")
)

// Identity is the opaque per-process identifier assigned by the broker.
type Identity string

// JoinCode is the human-shareable prefix of an Identity. Not unique.
type JoinCode string

// NewIdentity returns a fresh random identity.
func NewIdentity() Identity {
	return Identity(uuid.NewString())
}

func ParseIdentity(raw string) (Identity, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrIdentityEmpty
	}
	if len(raw) > MaxIdentityLen {
		return "", ErrIdentityTooLong
	}
	return Identity(raw), nil
}

func (id Identity) String() string { return string(id) }

// JoinCode folds the first JoinCodeLen characters to upper case.
func (id Identity) JoinCode() JoinCode {
	r := []rune(string(id))
	if len(r) > JoinCodeLen {
		r = r[:JoinCodeLen]
	}
	return JoinCode(strings.ToUpper(string(r)))
}

// ParseJoinCode reports whether raw looks like a join code rather than a full identity.
func ParseJoinCode(raw string) (JoinCode, bool) {
	raw = strings.TrimSpace(raw)
	if utf8.RuneCountInString(raw) != JoinCodeLen {
		return "", false
	}
	return JoinCode(strings.ToUpper(raw)), true
}

// Matches reports whether the code is the join code of id.
func (c JoinCode) Matches(id Identity) bool {
	return id.JoinCode() == c
}
