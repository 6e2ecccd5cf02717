package auth_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/MrWong99/questweaver/internal/auth"
	"github.com/MrWong99/questweaver/internal/entity"
)

func TestJWTResolver(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	r, err := auth.NewJWTResolver(auth.Config{Secret: "s3cret", Issuer: "questweaver", DevToken: "dev", DevUserID: "dm-1"})
	if err != nil {
		t.Fatalf("NewJWTResolver: unexpected error: %v", err)
	}
	good, err := r.Issue("user-42", time.Hour)
	if err != nil {
		t.Fatalf("Issue: unexpected error: %v", err)
	}
	expired, err := r.Issue("user-42", -time.Hour)
	if err != nil {
		t.Fatalf("Issue: unexpected error: %v", err)
	}
	sign := func(method jwt.SigningMethod, key any, claims jwt.MapClaims) string {
		t.Helper()
		s, err := jwt.NewWithClaims(method, claims).SignedString(key)
		if err != nil {
			t.Fatalf("SignedString: unexpected error: %v", err)
		}
		return s
	}
	exp := time.Now().Add(time.Hour).Unix()

	tests := []struct {
		name    string
		token   string
		want    string
		wantErr bool
	}{
		{name: "issued token", token: good, want: "user-42"},
		{name: "bearer prefix", token: "Bearer " + good, want: "user-42"},
		{name: "dev token", token: "dev", want: "dm-1"},
		{name: "legacy numeric id", token: sign(jwt.SigningMethodHS256, []byte("s3cret"), jwt.MapClaims{"id": float64(7), "iss": "questweaver", "exp": exp}), want: "7"},
		{name: "expired", token: expired, wantErr: true},
		{name: "wrong secret", token: sign(jwt.SigningMethodHS256, []byte("other"), jwt.MapClaims{"sub": "x", "iss": "questweaver", "exp": exp}), wantErr: true},
		{name: "wrong issuer", token: sign(jwt.SigningMethodHS256, []byte("s3cret"), jwt.MapClaims{"sub": "x", "iss": "elsewhere", "exp": exp}), wantErr: true},
		{name: "no subject", token: sign(jwt.SigningMethodHS256, []byte("s3cret"), jwt.MapClaims{"iss": "questweaver", "exp": exp}), wantErr: true},
		{name: "no expiry", token: sign(jwt.SigningMethodHS256, []byte("s3cret"), jwt.MapClaims{"sub": "x", "iss": "questweaver"}), wantErr: true},
		{name: "alg none", token: sign(jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, jwt.MapClaims{"sub": "x", "iss": "questweaver", "exp": exp}), wantErr: true},
		{name: "empty", token: "  ", wantErr: true},
		{name: "garbage", token: "not.a.jwt", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := r.Resolve(ctx, tt.token)
			if tt.wantErr {
				if !errors.Is(err, entity.ErrUnauthorized) {
					t.Fatalf("expected ErrUnauthorized, got %q, %v", got, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve: unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got user %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewJWTResolver_Invalid(t *testing.T) {
	t.Parallel()

	if _, err := auth.NewJWTResolver(auth.Config{}); err == nil {
		t.Error("expected an error without secret or dev token")
	}
	if _, err := auth.NewJWTResolver(auth.Config{DevToken: "dev"}); err == nil {
		t.Error("expected an error for a dev token without user")
	}
}

func TestUserContext(t *testing.T) {
	t.Parallel()

	if _, ok := auth.UserFrom(context.Background()); ok {
		t.Error("expected no user on a bare context")
	}
	ctx := auth.WithUser(context.Background(), "u1")
	if got, ok := auth.UserFrom(ctx); !ok || got != "u1" {
		t.Errorf("UserFrom: got %q, %v", got, ok)
	}
}
