package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

const (
	RoleUser     = "user"
	RoleProvider = "provider"
	RoleAdmin    = "admin"
)

// Claims carried by access tokens. Subject is the user id; ProviderID is set
// for provider accounts.
type Claims struct {
	jwt.RegisteredClaims
	Role       string `json:"role,omitempty"`
	ProviderID string `json:"provider_id,omitempty"`
}

// Verifier validates HS256 tokens against a shared secret and RS256 tokens
// against a JWKS endpoint. Either may be left unset.
type Verifier struct {
	Secret   []byte
	JWKS     *JWKSClient
	Issuer   string
	Audience string
	Leeway   time.Duration
}

func (v *Verifier) Verify(ctx context.Context, raw string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "RS256"}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.Leeway),
	}
	if v.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.Issuer))
	}
	if v.Audience != "" {
		opts = append(opts, jwt.WithAudience(v.Audience))
	}

	var claims Claims
	token, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		switch t.Method.(type) {
		case *jwt.SigningMethodHMAC:
			if len(v.Secret) == 0 {
				return nil, jwt.ErrTokenUnverifiable
			}
			return v.Secret, nil
		case *jwt.SigningMethodRSA:
			if v.JWKS == nil {
				return nil, jwt.ErrTokenUnverifiable
			}
			kid, _ := t.Header["kid"].(string)
			return v.JWKS.Key(ctx, kid)
		default:
			return nil, jwt.ErrSignatureInvalid
		}
	}, opts...)
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return &claims, nil
}

// SignHS256 issues a token for local development and tests.
func SignHS256(secret []byte, userID, role, providerID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role:       role,
		ProviderID: providerID,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
