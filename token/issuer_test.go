package token

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newEdKeys(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}
	return pub, priv
}

func TestIssuerRoundTripEd25519(t *testing.T) {
	pub, priv := newEdKeys(t)
	iss, err := NewIssuer(IssuerConfig{
		AccessTTL:     time.Minute,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		PublicKey:     pub,
		Issuer:        "fakeapi",
		Audience:      "client",
	})
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}

	now := time.Now()
	raw, err := iss.Issue("user-1", now)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, err := iss.Parse(raw, now)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Subject != "user-1" || claims.ID == "" {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestIssuerTokensAreUniquePerCall(t *testing.T) {
	iss, err := NewIssuer(IssuerConfig{AccessTTL: time.Minute, SigningMethod: MethodHS256, PrivateKey: []byte("secret-secret-secret-secret")})
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	now := time.Unix(1_700_000_000, 0)
	a, _ := iss.Issue("u", now)
	b, _ := iss.Issue("u", now)
	if a == b {
		t.Fatal("tokens minted in the same second must differ")
	}
}

func TestIssuerParseRejectsExpired(t *testing.T) {
	iss, err := NewIssuer(IssuerConfig{AccessTTL: time.Minute, SigningMethod: MethodHS256, PrivateKey: []byte("secret-secret-secret-secret")})
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	now := time.Now()
	raw, err := iss.Issue("u", now)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	_, err = iss.Parse(raw, now.Add(2*time.Minute))
	if !IsExpired(err) {
		t.Fatalf("expected expired error, got %v", err)
	}
}

func TestIssuerParseRejectsWrongAlgorithm(t *testing.T) {
	pub, priv := newEdKeys(t)
	iss, err := NewIssuer(IssuerConfig{AccessTTL: time.Minute, SigningMethod: MethodEd25519, PrivateKey: priv, PublicKey: pub})
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}

	claims := jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute))}
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret-secret-secret-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := iss.Parse(forged, time.Now()); err == nil {
		t.Fatal("expected wrong algorithm to be rejected")
	}
}

func TestNewIssuerValidation(t *testing.T) {
	pub, priv := newEdKeys(t)
	tests := []struct {
		name string
		cfg  IssuerConfig
	}{
		{name: "zero ttl", cfg: IssuerConfig{SigningMethod: MethodHS256, PrivateKey: []byte("k")}},
		{name: "negative leeway", cfg: IssuerConfig{AccessTTL: time.Minute, SigningMethod: MethodHS256, PrivateKey: []byte("k"), Leeway: -time.Second}},
		{name: "hs256 without key", cfg: IssuerConfig{AccessTTL: time.Minute, SigningMethod: MethodHS256}},
		{name: "ed25519 without public key", cfg: IssuerConfig{AccessTTL: time.Minute, SigningMethod: MethodEd25519, PrivateKey: priv}},
		{name: "ed25519 bad private key", cfg: IssuerConfig{AccessTTL: time.Minute, SigningMethod: MethodEd25519, PrivateKey: []byte("short"), PublicKey: pub}},
		{name: "unknown method", cfg: IssuerConfig{AccessTTL: time.Minute, SigningMethod: "rs256", PrivateKey: []byte("k")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewIssuer(tt.cfg); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
