package httpapi

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/vinayprograms/orderclaim/errors"
	"github.com/vinayprograms/orderclaim/lifecycle"
)

// CustomClaims are the claims orderclaimd reads from a bearer token.
// The caller id is user_id when present, otherwise sub.
type CustomClaims struct {
	UserID string `json:"user_id,omitempty"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// TokenManager validates HS256 bearer tokens issued by the identity
// provider. IssueToken exists for local development and tests.
type TokenManager struct {
	secret []byte
	issuer string
}

// NewTokenManager returns a manager for tokens signed with secret.
// An empty issuer accepts any issuer.
func NewTokenManager(secret, issuer string) *TokenManager {
	return &TokenManager{secret: []byte(secret), issuer: issuer}
}

// IssueToken signs a token for userID acting as role.
func (tm *TokenManager) IssueToken(userID string, role lifecycle.Role, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := CustomClaims{
		UserID: userID,
		Role:   string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Issuer:    tm.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(tm.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

// Validate parses a token and returns the caller it names.
func (tm *TokenManager) Validate(tokenString string) (lifecycle.Caller, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()}
	if tm.issuer != "" {
		opts = append(opts, jwt.WithIssuer(tm.issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(*jwt.Token) (interface{}, error) {
		return tm.secret, nil
	}, opts...)
	if err != nil {
		return lifecycle.Caller{}, errors.Unauthorized("invalid token", errors.WithCause(err))
	}
	claims, ok := token.Claims.(*CustomClaims)
	if !ok || !token.Valid {
		return lifecycle.Caller{}, errors.Unauthorized("invalid token claims")
	}

	caller := lifecycle.Caller{ID: claims.UserID, Role: lifecycle.Role(claims.Role)}
	if caller.ID == "" {
		caller.ID = claims.Subject
	}
	if caller.ID == "" {
		return lifecycle.Caller{}, errors.Unauthorized("token names no user")
	}
	if !caller.Role.Valid() || caller.Role == lifecycle.RoleSystem {
		return lifecycle.Caller{}, errors.Unauthorized("token role " + claims.Role + " is not allowed")
	}
	return caller, nil
}

// ExtractTokenFromHeader extracts the token from an Authorization header.
func ExtractTokenFromHeader(header string) (string, error) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", errors.Unauthorized("missing bearer token")
	}
	return strings.TrimSpace(header[len(prefix):]), nil
}

type callerKey struct{}

func withCaller(ctx context.Context, c lifecycle.Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// callerFrom returns the authenticated caller. Handlers pass it to the
// service explicitly.
func callerFrom(ctx context.Context) lifecycle.Caller {
	c, _ := ctx.Value(callerKey{}).(lifecycle.Caller)
	return c
}
