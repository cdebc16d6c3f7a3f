package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultTokenTTL is used when GenerateAccessToken is given a zero TTL.
const DefaultTokenTTL = 60 * time.Minute

// CustomClaims extends JWT standard claims. Only the subject is used as the
// caller principal; the remaining registered claims bound its validity.
type CustomClaims struct {
	jwt.RegisteredClaims
}

// Principal returns the caller identity carried by the claims.
func (c *CustomClaims) Principal() Principal {
	return Principal{Subject: c.Subject, TokenID: c.ID}
}

// GenerateAccessToken creates a signed HS256 access token for subject.
// Tokens are validated by signature only; there is no revocation list.
func GenerateAccessToken(subject, secret, issuer string, ttl time.Duration) (string, error) {
	if !IsValidSubject(subject) {
		return "", fmt.Errorf("%w: %q", ErrInvalidSubject, subject)
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	now := time.Now()
	claims := CustomClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing access token: %w", err)
	}
	return signed, nil
}

// ParseToken validates and parses an access token, returning the custom
// claims. It checks the signature, expiry, issuer (when non-empty) and
// subject format.
func ParseToken(tokenString, secret, issuer string) (*CustomClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*CustomClaims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}

	if !IsValidSubject(claims.Subject) {
		return nil, fmt.Errorf("%w: bad subject", ErrTokenInvalid)
	}

	return claims, nil
}

// Verifier resolves an optional bearer token to a caller principal.
type Verifier struct {
	Secret string
	Issuer string
	// Required rejects callers without a token instead of treating them
	// as anonymous.
	Required bool
}

// Principal returns the principal for token. An empty token yields the
// anonymous principal unless Required is set.
func (v Verifier) Principal(token string) (Principal, error) {
	if token == "" {
		if v.Required {
			return Principal{}, ErrTokenMissing
		}
		return Principal{}, nil
	}

	claims, err := ParseToken(token, v.Secret, v.Issuer)
	if err != nil {
		return Principal{}, err
	}
	return claims.Principal(), nil
}
