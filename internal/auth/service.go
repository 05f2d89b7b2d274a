package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"ProvChain/internal/ledger"
)

// Common errors returned by the authentication subsystem.
var (
	ErrMissingToken       = errors.New("missing bearer token")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// KeyEntry maps one API key to the principal it authenticates.
type KeyEntry struct {
	Key       string
	Principal string
}

// Config configures the authentication service.
type Config struct {
	// Enabled turns API-key authentication on. When disabled the caller
	// identity is taken verbatim from the X-Provchain-Principal header;
	// this mode is only meant for local development.
	Enabled bool
	Keys    []KeyEntry
}

// Service resolves the authenticated caller principal for each request.
// The ledger core requires the host to supply exactly one authenticated
// identity per call; this service is that host adapter.
type Service struct {
	enabled bool
	keys    []KeyEntry
}

// NewService validates the configured key entries and builds the service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Enabled && len(cfg.Keys) == 0 {
		return nil, errors.New("auth enabled but no api keys configured")
	}
	seen := make(map[string]struct{}, len(cfg.Keys))
	for i, entry := range cfg.Keys {
		if strings.TrimSpace(entry.Key) == "" || strings.TrimSpace(entry.Principal) == "" {
			return nil, fmt.Errorf("api key entry %d is incomplete", i)
		}
		if _, dup := seen[entry.Key]; dup {
			return nil, fmt.Errorf("api key entry %d duplicates an earlier key", i)
		}
		seen[entry.Key] = struct{}{}
	}
	return &Service{enabled: cfg.Enabled, keys: cfg.Keys}, nil
}

// Enabled reports whether API-key authentication is active.
func (s *Service) Enabled() bool {
	return s != nil && s.enabled
}

// Authenticate resolves the principal for an Authorization header value.
// Every configured key is compared in constant time.
func (s *Service) Authenticate(authorization string) (ledger.Principal, error) {
	token, ok := bearerToken(authorization)
	if !ok {
		return "", ErrMissingToken
	}
	candidate := []byte(token)
	var matched string
	for _, entry := range s.keys {
		if subtle.ConstantTimeCompare([]byte(entry.Key), candidate) == 1 {
			matched = entry.Principal
		}
	}
	if matched == "" {
		return "", ErrInvalidCredentials
	}
	return ledger.Principal(matched), nil
}

func bearerToken(authorization string) (string, bool) {
	authorization = strings.TrimSpace(authorization)
	if authorization == "" {
		return "", false
	}
	parts := strings.SplitN(authorization, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false
	}
	return token, true
}
