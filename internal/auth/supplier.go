package auth

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrNoToken means no outbound telemetry token is available. Callers must
// fail fast instead of issuing an unauthenticated backend call.
var ErrNoToken = errors.New("no telemetry token available")

// TokenSupplier yields the bearer token attached to every outbound telemetry
// fetch. Implementations are selected once at process start; there is no
// per-call fallback between strategies.
type TokenSupplier interface {
	Token() (string, error)
}

type SupplierOptions struct {
	Source    string
	Token     string
	EnvVar    string
	TokenFile string
}

const (
	SourceStatic = "static"
	SourceEnv    = "env"
	SourceFile   = "file"
)

// NewTokenSupplier builds the configured supplier strategy.
func NewTokenSupplier(options SupplierOptions) (TokenSupplier, error) {
	switch strings.ToLower(strings.TrimSpace(options.Source)) {
	case SourceStatic:
		token := strings.TrimSpace(options.Token)
		if token == "" {
			return nil, errors.New("static token supplier requires a token")
		}
		return StaticSupplier{token: token}, nil
	case SourceEnv:
		envVar := strings.TrimSpace(options.EnvVar)
		if envVar == "" {
			return nil, errors.New("env token supplier requires an env var name")
		}
		return EnvSupplier{envVar: envVar}, nil
	case SourceFile:
		path := strings.TrimSpace(options.TokenFile)
		if path == "" {
			return nil, errors.New("file token supplier requires a path")
		}
		return FileSupplier{path: path}, nil
	default:
		return nil, fmt.Errorf("unknown token source %q", options.Source)
	}
}

// StaticSupplier returns a token fixed at construction time.
type StaticSupplier struct {
	token string
}

func NewStaticSupplier(token string) StaticSupplier {
	return StaticSupplier{token: strings.TrimSpace(token)}
}

func (s StaticSupplier) Token() (string, error) {
	if s.token == "" {
		return "", ErrNoToken
	}
	return s.token, nil
}

// EnvSupplier reads the token from the environment on every call so rotated
// tokens take effect without a restart.
type EnvSupplier struct {
	envVar string
}

func (s EnvSupplier) Token() (string, error) {
	token := strings.TrimSpace(os.Getenv(s.envVar))
	if token == "" {
		return "", ErrNoToken
	}
	return token, nil
}

// FileSupplier reads the token from a file on every call, which supports
// mounted-secret rotation.
type FileSupplier struct {
	path string
}

func (s FileSupplier) Token() (string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrNoToken
		}
		return "", fmt.Errorf("read token file %q: %w", s.path, err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", ErrNoToken
	}
	return token, nil
}
