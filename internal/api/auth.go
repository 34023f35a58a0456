// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/samber/oops"
)

// Authentication error codes.
const (
	CodeUnauthenticated = "AUTH_UNAUTHENTICATED"
	CodeTokenExpired    = "AUTH_TOKEN_EXPIRED"
)

// DefaultLeeway is the clock skew tolerated when checking token times.
const DefaultLeeway = 30 * time.Second

// Principal is the authenticated caller.
type Principal struct {
	ActorID int64
	Role    string
}

// Authenticator resolves the caller of a request.
type Authenticator interface {
	Authenticate(r *http.Request) (Principal, error)
}

// Claims is the token payload.
type Claims struct {
	jwt.RegisteredClaims
	UserID int64  `json:"userId"`
	Role   string `json:"role"`
}

// JWTAuthenticator validates HS256 bearer tokens.
type JWTAuthenticator struct {
	secret []byte
	leeway time.Duration
}

// NewJWTAuthenticator creates an authenticator for tokens signed with secret.
func NewJWTAuthenticator(secret string) *JWTAuthenticator {
	return &JWTAuthenticator{secret: []byte(secret), leeway: DefaultLeeway}
}

// Issue signs a token for actorID with the given role, valid for ttl.
func (a *JWTAuthenticator) Issue(actorID int64, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UserID: actorID,
		Role:   role,
	})
	return token.SignedString(a.secret)
}

// Authenticate validates the request's bearer token.
func (a *JWTAuthenticator) Authenticate(r *http.Request) (Principal, error) {
	raw, ok := bearerToken(r)
	if !ok {
		return Principal{}, oops.Code(CodeUnauthenticated).Errorf("no bearer token provided")
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithLeeway(a.leeway))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Principal{}, oops.Code(CodeTokenExpired).Wrapf(err, "token expired")
		}
		return Principal{}, oops.Code(CodeUnauthenticated).Wrapf(err, "invalid token")
	}
	if claims.UserID <= 0 || claims.Role == "" {
		return Principal{}, oops.Code(CodeUnauthenticated).
			With("user_id", claims.UserID).
			Errorf("token missing required claims")
	}
	return Principal{ActorID: claims.UserID, Role: claims.Role}, nil
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

type principalKey struct{}

// WithPrincipal returns a context carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the authenticated caller, if any.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
