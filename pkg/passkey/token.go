// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passkey.
//
// go-passkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package passkey

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTIssuer issues signed JWTs after successful ceremonies.
type JWTIssuer struct {
	key       []byte
	issuer    string
	audience  []string
	expiresIn time.Duration
	clock     func() time.Time
}

// JWTIssuerConfig contains configuration for the JWT issuer.
type JWTIssuerConfig struct {
	// Key is the HMAC signing key (required).
	Key []byte

	// Issuer is the JWT issuer claim (default: "go-passkey").
	Issuer string

	// Audience is the JWT audience claim (default: ["go-passkey"]).
	Audience []string

	// ExpiresIn is how long tokens are valid (default: 1 hour).
	ExpiresIn time.Duration

	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// NewJWTIssuer creates a new JWT issuer with the given configuration.
func NewJWTIssuer(config *JWTIssuerConfig) (*JWTIssuer, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if len(config.Key) == 0 {
		return nil, fmt.Errorf("signing key is required")
	}

	issuer := config.Issuer
	if issuer == "" {
		issuer = "go-passkey"
	}
	audience := config.Audience
	if len(audience) == 0 {
		audience = []string{"go-passkey"}
	}
	expiresIn := config.ExpiresIn
	if expiresIn == 0 {
		expiresIn = time.Hour
	}
	clock := config.Clock
	if clock == nil {
		clock = time.Now
	}

	return &JWTIssuer{
		key:       config.Key,
		issuer:    issuer,
		audience:  audience,
		expiresIn: expiresIn,
		clock:     clock,
	}, nil
}

// IssueToken creates a JWT asserting the authenticated user identity.
func (g *JWTIssuer) IssueToken(ctx context.Context, userID string) (string, error) {
	now := g.clock()

	claims := jwt.MapClaims{
		"iss": g.issuer,
		"aud": g.audience,
		"sub": userID,
		"iat": now.Unix(),
		"exp": now.Add(g.expiresIn).Unix(),
		"nbf": now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(g.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify parses a token and returns the subject user ID. Used by callers
// that accept the issued token back on subsequent requests.
func (g *JWTIssuer) Verify(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return g.key, nil
	}, jwt.WithIssuer(g.issuer), jwt.WithExpirationRequired(), jwt.WithTimeFunc(g.clock))
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}
	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("token missing subject")
	}
	return sub, nil
}
