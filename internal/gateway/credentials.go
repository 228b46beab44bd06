package gateway

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var ErrNoCredential = errors.New("gateway: no operator credential")

// CredentialProvider supplies the operator bearer token and is told when the
// backend rejects it.
type CredentialProvider interface {
	Token(ctx context.Context) (string, error)
	Unauthorized(ctx context.Context)
}

// StaticToken is a fixed token, typically from GATE_TOKEN.
type StaticToken struct {
	Value          string
	OnUnauthorized func()
}

func (s StaticToken) Token(context.Context) (string, error) {
	if s.Value == "" {
		return "", ErrNoCredential
	}
	return s.Value, nil
}

func (s StaticToken) Unauthorized(context.Context) {
	if s.OnUnauthorized != nil {
		s.OnUnauthorized()
	}
}

// FileToken reads the token written by the login command. The file is read
// on every call so a fresh login is picked up without a restart.
type FileToken struct {
	Path           string
	OnUnauthorized func()
}

func (f FileToken) Token(context.Context) (string, error) {
	b, err := os.ReadFile(f.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrNoCredential
		}
		return "", fmt.Errorf("read token file: %w", err)
	}
	token := strings.TrimSpace(string(b))
	if token == "" {
		return "", ErrNoCredential
	}
	return token, nil
}

func (f FileToken) Unauthorized(context.Context) {
	if f.OnUnauthorized != nil {
		f.OnUnauthorized()
	}
}

// WriteTokenFile stores token at path with owner-only permissions.
func WriteTokenFile(path, token string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(token+"\n"), 0o600); err != nil {
		return fmt.Errorf("write token file: %w", err)
	}
	return nil
}
