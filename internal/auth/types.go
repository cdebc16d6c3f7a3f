package auth

import (
	"context"
	"errors"
	"regexp"
)

// subjectPattern defines the valid format for token subjects:
// alphanumeric, dots, hyphens, underscores, @ and colons, 1-128 characters.
var subjectPattern = regexp.MustCompile(`^[a-zA-Z0-9._@:-]{1,128}$`)

// IsValidSubject checks if a subject meets format requirements.
func IsValidSubject(subject string) bool {
	return subjectPattern.MatchString(subject)
}

// Principal identifies the caller of a script run.
// The zero Principal is the anonymous caller.
type Principal struct {
	// Subject is the token subject, empty when anonymous.
	Subject string

	// TokenID is the jti of the presented token.
	TokenID string
}

// Anonymous reports whether p carries no identity.
func (p Principal) Anonymous() bool {
	return p.Subject == ""
}

// Bytes returns the subject as the byte string scripts see through me().
func (p Principal) Bytes() []byte {
	return []byte(p.Subject)
}

type principalKey struct{}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the principal stored by WithPrincipal, or
// the anonymous principal.
func PrincipalFromContext(ctx context.Context) Principal {
	p, _ := ctx.Value(principalKey{}).(Principal)
	return p
}

// Domain errors.
var (
	ErrTokenMissing   = errors.New("missing bearer token")
	ErrTokenInvalid   = errors.New("invalid token")
	ErrInvalidSubject = errors.New("invalid subject")
)
