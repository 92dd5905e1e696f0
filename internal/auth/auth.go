// Package auth verifies the bearer tokens issued by the external identity
// service and carries the caller's identity through request contexts.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type ContextKey string

const IdentityKey ContextKey = "identity"

// Identity is the authenticated user behind a request or connection.
type Identity struct {
	UserID   uuid.UUID
	Username string
}

type claims struct {
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

// MakeJWT signs an HS256 token for id. The chat service only verifies
// tokens; this is used by tests and the load generator.
func MakeJWT(id Identity, tokenSecret, issuer string, expiresIn time.Duration) (string, error) {
	now := time.Now().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Username: id.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   id.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
		},
	})

	return token.SignedString([]byte(tokenSecret))
}

// ValidateJWT parses tokenString and returns the identity it names. A
// non-empty issuer must match the token's iss claim.
func ValidateJWT(tokenString, tokenSecret, issuer string) (Identity, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}

	c := &claims{}
	token, err := jwt.ParseWithClaims(
		tokenString,
		c,
		func(t *jwt.Token) (any, error) { return []byte(tokenSecret), nil },
		opts...,
	)
	if err != nil {
		return Identity{}, fmt.Errorf("internal/auth: failed to parse token: %w", err)
	}

	if !token.Valid {
		return Identity{}, errors.New("internal/auth: token is invalid")
	}

	if c.Subject == "" {
		return Identity{}, errors.New("internal/auth: subject claim is missing")
	}

	userID, err := uuid.Parse(c.Subject)
	if err != nil {
		return Identity{}, fmt.Errorf("internal/auth: subject is not a user id: %w", err)
	}
	if userID == uuid.Nil {
		return Identity{}, errors.New("internal/auth: subject is the nil user id")
	}
	return Identity{UserID: userID, Username: c.Username}, nil
}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, IdentityKey, id)
}

// GetIdentity returns the identity stored by the auth middleware.
func GetIdentity(ctx context.Context) (Identity, error) {
	id, ok := ctx.Value(IdentityKey).(Identity)
	if !ok || id.UserID == uuid.Nil {
		return Identity{}, errors.New("internal/auth: no identity in context")
	}
	return id, nil
}
