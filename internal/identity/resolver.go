// Package identity decides which participant a connection speaks for.
package identity

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrMissingIdentity  = errors.New("identity required")
	ErrInvalidToken     = errors.New("invalid token")
	ErrIdentityMismatch = errors.New("token subject does not match claimed identity")
)

// Identity is a resolved participant.
type Identity struct {
	ID          string
	DisplayName string
}

// Resolver turns a registration request into a participant identity.
type Resolver interface {
	Resolve(ctx context.Context, claimedID, displayName, token string) (Identity, error)
}

// Trusting accepts the identity the client claims. Used when no signing secret is configured.
type Trusting struct{}

func (Trusting) Resolve(_ context.Context, claimedID, displayName, _ string) (Identity, error) {
	if claimedID == "" {
		return Identity{}, ErrMissingIdentity
	}
	return Identity{ID: claimedID, DisplayName: displayName}, nil
}

// JWTResolver takes the identity from a signed token.
type JWTResolver struct {
	cfg JWTConfig
}

// NewJWTResolver creates a resolver validating tokens with cfg.
func NewJWTResolver(cfg JWTConfig) *JWTResolver {
	return &JWTResolver{cfg: cfg}
}

// Resolve validates token. A claimed identity, when present, must match the token subject.
func (r *JWTResolver) Resolve(_ context.Context, claimedID, displayName, token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrInvalidToken
	}
	claims, err := ValidateToken(&r.cfg, token)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claimedID != "" && claimedID != claims.Subject {
		return Identity{}, ErrIdentityMismatch
	}
	name := displayName
	if name == "" {
		name = claims.Name
	}
	return Identity{ID: claims.Subject, DisplayName: name}, nil
}

// Verify checks a bearer token and returns the identity it names.
func (r *JWTResolver) Verify(token string) (string, error) {
	claims, err := ValidateToken(&r.cfg, token)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims.Subject, nil
}

var (
	_ Resolver = Trusting{}
	_ Resolver = (*JWTResolver)(nil)
)
