package client

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ErrNoSession is returned when no saved session exists.
var ErrNoSession = errors.New("not connected")

// Session is what `client connect` remembers between invocations.
type Session struct {
	Addr     string  `yaml:"addr"`
	Password *string `yaml:"password,omitempty"`
	// TrustedCert pins the daemon's certificate; empty skips verification.
	TrustedCert string `yaml:"trusted_cert,omitempty"`
}

// SaveSession writes s to path, readable only by its owner.
func SaveSession(path string, s Session) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// LoadSession reads the session saved at path.
func LoadSession(path string) (Session, error) {
	var s Session
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, ErrNoSession
	}
	if err != nil {
		return s, err
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("parse session %s: %w", path, err)
	}
	if s.Addr == "" {
		return s, ErrNoSession
	}
	return s, nil
}

// RemoveSession deletes the saved session.
func RemoveSession(path string) error {
	err := os.Remove(path)
	if errors.Is(err, os.ErrNotExist) {
		return ErrNoSession
	}
	return err
}
