package dataplane

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// ErrAuthFailed is returned when a peer fails the single auth attempt.
var ErrAuthFailed = errors.New("authentication failed")

// Password is the daemon's shared secret. The zero value (and a Password
// built from nil) means no password is configured, which only matches a
// peer that also sends none.
type Password struct {
	hash []byte
}

// NewPassword hashes the configured password; nil means none.
func NewPassword(password *string) (*Password, error) {
	return NewPasswordWithCost(password, bcrypt.DefaultCost)
}

// NewPasswordWithCost is NewPassword with an explicit bcrypt cost.
func NewPasswordWithCost(password *string, cost int) (*Password, error) {
	if password == nil {
		return &Password{}, nil
	}
	hash, err := bcrypt.GenerateFromPassword(prehash(*password), cost)
	if err != nil {
		return nil, err
	}
	return &Password{hash: hash}, nil
}

// Matches reports whether candidate is exactly the configured password.
func (p *Password) Matches(candidate *string) bool {
	if p == nil || p.hash == nil {
		return candidate == nil
	}
	if candidate == nil {
		return false
	}
	return bcrypt.CompareHashAndPassword(p.hash, prehash(*candidate)) == nil
}

// prehash keeps bcrypt's 72-byte input limit from truncating long passwords.
func prehash(password string) []byte {
	sum := sha256.Sum256([]byte(password))
	return []byte(hex.EncodeToString(sum[:]))
}
