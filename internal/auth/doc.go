// Package auth identifies script callers.
//
// Callers present an HS256 JWT whose subject becomes the principal a script
// sees through me(). Tokens are minted by the CLI for a configured secret
// and checked by signature, expiry and issuer only.
package auth
