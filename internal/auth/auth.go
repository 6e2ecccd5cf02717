// Package auth turns bearer tokens into user IDs.
//
// Tokens are HS256 JWTs carrying the user in the "sub" claim (or "id" for
// tokens minted by older clients). A static development token can be mapped
// to a fixed user for local use; it is disabled when empty.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/MrWong99/questweaver/internal/entity"
)

// Resolver maps a bearer token to the user it was issued for.
//
// Implementations must be safe for concurrent use.
type Resolver interface {
	// Resolve returns the user ID for token. Invalid, expired or unknown
	// tokens yield an error wrapping [entity.ErrUnauthorized].
	Resolve(ctx context.Context, token string) (string, error)
}

// Config configures a [JWTResolver].
type Config struct {
	// Secret signs and verifies tokens. Required unless only DevToken is used.
	Secret string

	// Issuer, when set, must match the "iss" claim.
	Issuer string

	// DevToken is accepted verbatim and resolves to DevUserID.
	DevToken  string
	DevUserID string
}

// JWTResolver verifies HS256 tokens.
type JWTResolver struct {
	cfg    Config
	parser *jwt.Parser
}

var _ Resolver = (*JWTResolver)(nil)

// NewJWTResolver validates cfg and returns a resolver.
func NewJWTResolver(cfg Config) (*JWTResolver, error) {
	if cfg.Secret == "" && cfg.DevToken == "" {
		return nil, errors.New("auth: a jwt secret or a dev token is required")
	}
	if cfg.DevToken != "" && cfg.DevUserID == "" {
		return nil, errors.New("auth: dev token requires a dev user id")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30 * time.Second),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	return &JWTResolver{cfg: cfg, parser: jwt.NewParser(opts...)}, nil
}

// Resolve implements [Resolver]. A "Bearer " prefix is stripped.
func (r *JWTResolver) Resolve(_ context.Context, token string) (string, error) {
	token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
	if token == "" {
		return "", fmt.Errorf("%w: missing token", entity.ErrUnauthorized)
	}
	if r.cfg.DevToken != "" && subtle.ConstantTimeCompare([]byte(token), []byte(r.cfg.DevToken)) == 1 {
		return r.cfg.DevUserID, nil
	}
	if r.cfg.Secret == "" {
		return "", fmt.Errorf("%w: invalid token", entity.ErrUnauthorized)
	}

	claims := jwt.MapClaims{}
	parsed, err := r.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return []byte(r.cfg.Secret), nil
	})
	if err != nil || !parsed.Valid {
		return "", fmt.Errorf("%w: invalid token: %w", entity.ErrUnauthorized, err)
	}

	userID, err := subject(claims)
	if err != nil {
		return "", fmt.Errorf("%w: %w", entity.ErrUnauthorized, err)
	}
	return userID, nil
}

func subject(claims jwt.MapClaims) (string, error) {
	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		return sub, nil
	}
	switch id := claims["id"].(type) {
	case string:
		if id != "" {
			return id, nil
		}
	case float64:
		return strconv.FormatInt(int64(id), 10), nil
	}
	return "", errors.New("token carries no user id")
}

// Issue mints a token for userID valid for ttl.
func (r *JWTResolver) Issue(userID string, ttl time.Duration) (string, error) {
	if r.cfg.Secret == "" {
		return "", errors.New("auth: cannot issue tokens without a secret")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    r.cfg.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(r.cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

type userKey struct{}

// WithUser returns a context carrying the authenticated user.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey{}, userID)
}

// UserFrom returns the user stored by [WithUser].
func UserFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userKey{}).(string)
	return id, ok && id != ""
}
