// Package auth issues and validates the bearer tokens that identify ledger
// actors to the HTTP layer.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pointgrid/pointsledger/internal/app/domain/ledger"
)

// TokenTTL is the lifetime of an issued session token.
const TokenTTL = 12 * time.Hour

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
)

// User is one configured principal. AccountID is the ledger account the user
// holds; the owner user typically has none.
type User struct {
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	Role      string `yaml:"role"`
	AccountID string `yaml:"account_id"`
}

// Manager validates credentials and mints HS256 JWTs carrying the actor's
// subject and role.
type Manager struct {
	secret []byte
	users  map[string]User
}

// NewManager builds a manager from a signing secret and a static user set.
func NewManager(secret string, users []User) *Manager {
	byName := make(map[string]User, len(users))
	for _, u := range users {
		if u.Role == "" {
			u.Role = ledger.RoleHolder
		}
		byName[u.Username] = u
	}
	return &Manager{secret: []byte(secret), users: byName}
}

type claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Login checks credentials and returns a signed token plus the actor it
// represents.
func (m *Manager) Login(username, password string) (string, ledger.Actor, error) {
	user, ok := m.users[username]
	if !ok || user.Password != password {
		return "", ledger.Actor{}, ErrInvalidCredentials
	}

	actor := ledger.Actor{Subject: user.AccountID, Role: user.Role}
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Role: user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.AccountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(TokenTTL)),
		},
	})

	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", ledger.Actor{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, actor, nil
}

// Validate parses a bearer token back into the actor it was issued for.
func (m *Manager) Validate(raw string) (ledger.Actor, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ledger.Actor{}, ErrInvalidToken
	}

	var c claims
	token, err := jwt.ParseWithClaims(raw, &c, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil || !token.Valid {
		return ledger.Actor{}, ErrInvalidToken
	}
	return ledger.Actor{Subject: c.Subject, Role: c.Role}, nil
}
