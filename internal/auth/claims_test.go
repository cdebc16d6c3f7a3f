package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret-key-for-jwt-signing"

func TestGenerateAndParseAccessToken(t *testing.T) {
	token, err := GenerateAccessToken("alice@example", testSecret, "sqlbridge", 15*time.Minute)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}

	if token == "" {
		t.Fatal("GenerateAccessToken() returned empty token")
	}

	claims, err := ParseToken(token, testSecret, "sqlbridge")
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}

	if claims.Subject != "alice@example" {
		t.Errorf("Subject = %q, want %q", claims.Subject, "alice@example")
	}

	if claims.ID == "" {
		t.Error("JTI (ID) should not be empty")
	}

	p := claims.Principal()
	if p.Anonymous() || string(p.Bytes()) != "alice@example" || p.TokenID != claims.ID {
		t.Errorf("Principal() = %+v", p)
	}
}

func TestParseToken_Rejects(t *testing.T) {
	valid, err := GenerateAccessToken("bob", testSecret, "sqlbridge", time.Minute)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}

	expired := signClaims(t, CustomClaims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "bob",
		Issuer:    "sqlbridge",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}})
	noExpiry := signClaims(t, CustomClaims{RegisteredClaims: jwt.RegisteredClaims{
		Subject: "bob",
		Issuer:  "sqlbridge",
	}})
	badSubject := signClaims(t, CustomClaims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "",
		Issuer:    "sqlbridge",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}})

	tests := []struct {
		name   string
		token  string
		secret string
		issuer string
	}{
		{name: "empty", token: "", secret: testSecret},
		{name: "malformed", token: "abc.def", secret: testSecret},
		{name: "garbage", token: "not-a-valid-jwt", secret: testSecret},
		{name: "wrong secret", token: valid, secret: "wrong-secret"},
		{name: "wrong issuer", token: valid, secret: testSecret, issuer: "someone-else"},
		{name: "expired", token: expired, secret: testSecret},
		{name: "no expiry", token: noExpiry, secret: testSecret},
		{name: "empty subject", token: badSubject, secret: testSecret},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseToken(tt.token, tt.secret, tt.issuer)
			if !errors.Is(err, ErrTokenInvalid) {
				t.Errorf("ParseToken() error = %v, want ErrTokenInvalid", err)
			}
		})
	}
}

func TestParseToken_RejectsOtherAlgorithms(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS512, CustomClaims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "bob",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}

	if _, err := ParseToken(signed, testSecret, ""); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("ParseToken(HS512) error = %v, want ErrTokenInvalid", err)
	}
}

func TestGenerateAccessToken_DefaultTTL(t *testing.T) {
	token, err := GenerateAccessToken("carol", testSecret, "", 0)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}

	claims, err := ParseToken(token, testSecret, "")
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}

	expectedExpiry := time.Now().Add(DefaultTokenTTL)
	diff := claims.ExpiresAt.Time.Sub(expectedExpiry)
	if diff < -time.Minute || diff > time.Minute {
		t.Errorf("default TTL should be ~%v, got expiry diff of %v", DefaultTokenTTL, diff)
	}
}

func TestGenerateAccessToken_InvalidSubject(t *testing.T) {
	for _, subject := range []string{"", "has space", "semi;colon"} {
		if _, err := GenerateAccessToken(subject, testSecret, "", time.Minute); !errors.Is(err, ErrInvalidSubject) {
			t.Errorf("GenerateAccessToken(%q) error = %v, want ErrInvalidSubject", subject, err)
		}
	}
}

func TestPrincipalContext(t *testing.T) {
	ctx := context.Background()

	if p := PrincipalFromContext(ctx); !p.Anonymous() {
		t.Errorf("PrincipalFromContext(empty) = %+v, want anonymous", p)
	}

	ctx = WithPrincipal(ctx, Principal{Subject: "dave"})
	if p := PrincipalFromContext(ctx); p.Subject != "dave" {
		t.Errorf("PrincipalFromContext() = %+v, want dave", p)
	}
	if b := (Principal{}).Bytes(); len(b) != 0 {
		t.Errorf("anonymous Bytes() = %v, want empty", b)
	}
}

func TestVerifier_Principal(t *testing.T) {
	token, err := GenerateAccessToken("erin", testSecret, "", time.Minute)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}

	tests := []struct {
		name        string
		verifier    Verifier
		token       string
		wantSubject string
		wantErr     error
	}{
		{name: "anonymous allowed", verifier: Verifier{Secret: testSecret}},
		{name: "anonymous rejected", verifier: Verifier{Secret: testSecret, Required: true}, wantErr: ErrTokenMissing},
		{name: "valid token", verifier: Verifier{Secret: testSecret}, token: token, wantSubject: "erin"},
		{name: "wrong secret", verifier: Verifier{Secret: "another-secret-key-for-signing"}, token: token, wantErr: ErrTokenInvalid},
		{name: "garbage", verifier: Verifier{Secret: testSecret}, token: "x.y.z", wantErr: ErrTokenInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := tt.verifier.Principal(tt.token)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Principal() error = %v, want %v", err, tt.wantErr)
			}
			if p.Subject != tt.wantSubject {
				t.Errorf("Principal().Subject = %q, want %q", p.Subject, tt.wantSubject)
			}
		})
	}
}

// signClaims signs arbitrary claims with testSecret.
func signClaims(t *testing.T, claims CustomClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}
	return signed
}
