package providers

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/syncwave/relay/src/types"
)

// identityClaims is the token payload a front end may attach to a connection.
type identityClaims struct {
	jwt.RegisteredClaims
	Name string `json:"name"`
}

// IdentityVerifier turns an optional HS256 token into the default identity
// of a connection. It never rejects a connection.
type IdentityVerifier struct {
	secret []byte
}

// NewIdentityVerifier returns nil when secret is empty; a nil verifier
// treats every caller as anonymous.
func NewIdentityVerifier(secret string) *IdentityVerifier {
	if secret == "" {
		return nil
	}
	return &IdentityVerifier{secret: []byte(secret)}
}

// Identify validates token and returns the identity it carries.
func (v *IdentityVerifier) Identify(token string) (types.Identity, error) {
	token = strings.TrimPrefix(token, "Bearer ")
	if v == nil || token == "" {
		return types.Identity{}, nil
	}

	claims := &identityClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return types.Identity{}, fmt.Errorf("failed to parse token: %w", err)
	}
	if !parsed.Valid {
		return types.Identity{}, errors.New("invalid token claims")
	}
	return types.Identity{UserID: claims.Subject, DisplayName: claims.Name}, nil
}
