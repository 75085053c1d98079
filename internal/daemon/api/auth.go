// Copyright 2025 The Draftforge Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// AuthConfig controls API authentication.
type AuthConfig struct {
	// Enabled requires a bearer token on every request except health
	// and metrics.
	Enabled bool

	// TokenHashes are bcrypt hashes of accepted API tokens.
	TokenHashes []string

	// JWTSecret signs short-lived session tokens.
	JWTSecret string

	// SessionTTL bounds issued session tokens.
	SessionTTL time.Duration
}

// dummyHash keeps the bcrypt comparison count constant when no token
// matches, so response timing does not leak which hashes exist.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

func extractBearerToken(r *http.Request) (string, error) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", fmt.Errorf("missing Authorization header")
	}

	// Case-insensitive prefix per RFC 6750.
	if len(auth) < 7 || !strings.EqualFold(auth[:7], "Bearer ") {
		return "", fmt.Errorf("expected 'Bearer <token>'")
	}

	token := strings.TrimSpace(auth[7:])
	if token == "" {
		return "", fmt.Errorf("empty bearer token")
	}
	return token, nil
}

// verifyAPIToken compares a presented token against the configured
// bcrypt hashes.
func (c AuthConfig) verifyAPIToken(token string) bool {
	matched := false
	for _, hash := range c.TokenHashes {
		if bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)) == nil {
			matched = true
		}
	}
	if len(c.TokenHashes) == 0 {
		_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(token))
	}
	return matched
}

// sessionClaims are the JWT claims on issued session tokens.
type sessionClaims struct {
	jwt.RegisteredClaims
}

// issueSession mints a session JWT for a caller that authenticated
// with a long-lived API token.
func (c AuthConfig) issueSession(now time.Time) (string, error) {
	if c.JWTSecret == "" {
		return "", fmt.Errorf("session tokens require a jwt_secret")
	}

	ttl := c.SessionTTL
	if ttl == 0 {
		ttl = 24 * time.Hour
	}

	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "draftforged",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(c.JWTSecret))
}

// verifySession validates a session JWT.
func (c AuthConfig) verifySession(tokenString string) bool {
	if c.JWTSecret == "" {
		return false
	}

	token, err := jwt.ParseWithClaims(tokenString, &sessionClaims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != "HS256" {
			return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
		}
		return []byte(c.JWTSecret), nil
	})
	return err == nil && token.Valid
}

// middleware enforces bearer authentication when enabled. Both raw API
// tokens and issued session JWTs are accepted.
func (c AuthConfig) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !c.Enabled {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}

		if !c.verifySession(token) && !c.verifyAPIToken(token) {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		next.ServeHTTP(w, r)
	})
}
