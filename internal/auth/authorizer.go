package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
)

var ErrMissingAPIKey = errors.New("missing api key")
var ErrInvalidAPIKey = errors.New("invalid api key")

type KeyConfig struct {
	ID    string
	Token string
	Name  string
}

type Options struct {
	Enabled bool
	Keys    []KeyConfig
}

// Identity describes the caller behind a validated API key.
type Identity struct {
	KeyID string
	Name  string
}

// Authorizer validates inbound bearer tokens against a fixed key table.
// Tokens are stored hashed so a memory dump never exposes raw keys.
type Authorizer struct {
	enabled bool
	keys    map[string]*Identity
}

func NewAuthorizer(options Options) (*Authorizer, error) {
	authorizer := &Authorizer{
		enabled: options.Enabled,
		keys:    map[string]*Identity{},
	}
	if !options.Enabled {
		return authorizer, nil
	}
	if len(options.Keys) == 0 {
		return nil, errors.New("auth is enabled but no api keys are configured")
	}

	for _, key := range options.Keys {
		token := strings.TrimSpace(key.Token)
		if token == "" {
			return nil, errors.New("api key token cannot be empty")
		}
		tokenHash := hashToken(token)
		if _, exists := authorizer.keys[tokenHash]; exists {
			return nil, errors.New("duplicate api key token in auth config")
		}
		authorizer.keys[tokenHash] = &Identity{
			KeyID: strings.TrimSpace(key.ID),
			Name:  strings.TrimSpace(key.Name),
		}
	}

	return authorizer, nil
}

func (a *Authorizer) Enabled() bool {
	return a != nil && a.enabled
}

// Authenticate resolves the Authorization bearer token on the request.
// A nil identity with a nil error means auth is disabled.
func (a *Authorizer) Authenticate(r *http.Request) (*Identity, error) {
	if !a.Enabled() {
		return nil, nil
	}

	token := bearerToken(r.Header.Get("Authorization"))
	if token == "" {
		return nil, ErrMissingAPIKey
	}

	identity, ok := a.keys[hashToken(token)]
	if !ok {
		return nil, ErrInvalidAPIKey
	}
	clone := *identity
	return &clone, nil
}

// Middleware rejects unauthenticated requests with 401 before they reach the
// API handlers. Absence of a token is never answered with an empty result.
func Middleware(authorizer *Authorizer, next http.Handler) http.Handler {
	if next == nil {
		next = http.NotFoundHandler()
	}
	if !authorizer.Enabled() {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		if _, err := authorizer.Authenticate(r); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("WWW-Authenticate", `Bearer realm="agentlens"`)
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"` + err.Error() + `"}` + "\n"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	const prefix = "bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
