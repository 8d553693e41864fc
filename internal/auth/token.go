// Package auth implements bearer-token authentication and role checks for
// the management API. Tokens are either minted at runtime with short TTLs or
// registered statically from configuration.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Role defines the access level for API tokens.
type Role string

const (
	RoleDriver   Role = "driver"   // browser drivers: session lifecycle and evaluation
	RoleViewer   Role = "viewer"   // read-only dashboard access
	RoleOperator Role = "operator" // sessions, policies, confirmations
	RoleAdmin    Role = "admin"    // full access including config changes
)

// Token represents an API token with metadata. A zero ExpiresAt means the
// token never expires (statically configured tokens).
type Token struct {
	ID        string    `json:"id"`
	Secret    string    `json:"-"` // never serialized
	Role      Role      `json:"role"`
	SourceIP  string    `json:"source_ip,omitempty"` // IP binding (optional)
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// IsExpired returns whether the token has expired.
func (t Token) IsExpired() bool {
	return !t.ExpiresAt.IsZero() && time.Now().After(t.ExpiresAt)
}

// TokenManager handles API token creation, validation, and rotation.
type TokenManager struct {
	mu     sync.RWMutex
	tokens map[string]Token // secret -> token
	ttl    time.Duration
	logger *slog.Logger
}

// NewTokenManager creates a new token manager.
func NewTokenManager(ttl time.Duration, logger *slog.Logger) *TokenManager {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenManager{
		tokens: make(map[string]Token),
		ttl:    ttl,
		logger: logger.With("component", "auth.TokenManager"),
	}
}

// CreateToken generates a new API token with the manager's TTL.
func (m *TokenManager) CreateToken(role Role, sourceIP string) (Token, error) {
	secret, err := generateSecret()
	if err != nil {
		return Token{}, fmt.Errorf("failed to generate token: %w", err)
	}

	id, err := generateSecret()
	if err != nil {
		return Token{}, fmt.Errorf("failed to generate token ID: %w", err)
	}

	token := Token{
		ID:        id[:16],
		Secret:    secret,
		Role:      role,
		SourceIP:  sourceIP,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(m.ttl),
	}

	m.mu.Lock()
	m.tokens[secret] = token
	m.mu.Unlock()

	m.logger.Info("token created",
		"token_id", token.ID,
		"role", role,
		"expires_at", token.ExpiresAt,
	)
	return token, nil
}

// Register installs a statically configured token. It never expires and
// survives CleanExpired.
func (m *TokenManager) Register(name, secret string, role Role) {
	m.mu.Lock()
	m.tokens[secret] = Token{
		ID:        name,
		Secret:    secret,
		Role:      role,
		CreatedAt: time.Now(),
	}
	m.mu.Unlock()
	m.logger.Info("static token registered", "token_id", name, "role", role)
}

// ValidateToken checks if a token secret is valid and returns the token.
func (m *TokenManager) ValidateToken(secret, sourceIP string) (Token, error) {
	m.mu.RLock()
	token, ok := m.tokens[secret]
	m.mu.RUnlock()

	if !ok {
		return Token{}, fmt.Errorf("invalid token")
	}

	if token.IsExpired() {
		m.mu.Lock()
		delete(m.tokens, secret)
		m.mu.Unlock()
		return Token{}, fmt.Errorf("token expired")
	}

	if token.SourceIP != "" && token.SourceIP != sourceIP {
		m.logger.Warn("token used from wrong IP",
			"token_id", token.ID,
			"expected_ip", token.SourceIP,
			"actual_ip", sourceIP,
		)
		return Token{}, fmt.Errorf("token not valid from this IP")
	}

	return token, nil
}

// RevokeToken removes a token.
func (m *TokenManager) RevokeToken(secret string) {
	m.mu.Lock()
	if token, ok := m.tokens[secret]; ok {
		m.logger.Info("token revoked", "token_id", token.ID)
		delete(m.tokens, secret)
	}
	m.mu.Unlock()
}

// CleanExpired removes all expired tokens.
func (m *TokenManager) CleanExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for secret, token := range m.tokens {
		if token.IsExpired() {
			delete(m.tokens, secret)
			count++
		}
	}
	return count
}

// ActiveTokenCount returns the number of active (non-expired) tokens.
func (m *TokenManager) ActiveTokenCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, token := range m.tokens {
		if !token.IsExpired() {
			count++
		}
	}
	return count
}

// HasPermission checks if a role has permission for an action.
func HasPermission(role Role, action string) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleOperator:
		return action != "config.change" && action != "token.create"
	case RoleViewer:
		switch action {
		case "session.read", "policy.read", "report.read", "events.read":
			return true
		}
		return false
	case RoleDriver:
		switch action {
		case "evaluate", "session.write", "session.read", "report.read":
			return true
		}
		return false
	default:
		return false
	}
}

func generateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
