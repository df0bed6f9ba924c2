package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	testRelaySigningSecret = "secret"
	testRelayIssuer        = "puzzlemint-relay"
	testRelaySubject       = "indexer"
)

var relayClockNow = time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

func newTestRelayValidator(t *testing.T) *RelayValidator {
	t.Helper()
	validator, err := NewRelayValidator(RelayValidatorConfig{
		SigningSecret: []byte(testRelaySigningSecret),
		Issuer:        testRelayIssuer,
		Clock:         func() time.Time { return relayClockNow },
	})
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}
	return validator
}

func newTestRelayIssuer(t *testing.T, issuer string, at time.Time) *RelayIssuer {
	t.Helper()
	relayIssuer, err := NewRelayIssuer(RelayIssuerConfig{
		SigningSecret: []byte(testRelaySigningSecret),
		Issuer:        issuer,
		TokenTTL:      time.Hour,
		Clock:         func() time.Time { return at },
	})
	if err != nil {
		t.Fatalf("failed to construct issuer: %v", err)
	}
	return relayIssuer
}

func TestIssuedRelayTokenValidates(t *testing.T) {
	validator := newTestRelayValidator(t)
	token, expiresAt, err := newTestRelayIssuer(t, testRelayIssuer, relayClockNow.Add(-time.Minute)).Issue(testRelaySubject)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	if !expiresAt.Equal(relayClockNow.Add(59 * time.Minute)) {
		t.Fatalf("unexpected expiry %s", expiresAt)
	}
	claims, err := validator.ValidateToken(token)
	if err != nil {
		t.Fatalf("unexpected validation failure: %v", err)
	}
	if claims.Subject != testRelaySubject {
		t.Fatalf("unexpected subject: %s", claims.Subject)
	}
}

func TestRelayValidatorRejections(t *testing.T) {
	validator := newTestRelayValidator(t)
	expired, _, err := newTestRelayIssuer(t, testRelayIssuer, relayClockNow.Add(-2*time.Hour)).Issue(testRelaySubject)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	foreign, _, err := newTestRelayIssuer(t, "someone-else", relayClockNow).Issue(testRelaySubject)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	noSubject := jwt.NewWithClaims(jwt.SigningMethodHS256, RelayClaims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    testRelayIssuer,
		ExpiresAt: jwt.NewNumericDate(relayClockNow.Add(time.Hour)),
	}})
	noSubjectSigned, err := noSubject.SignedString([]byte(testRelaySigningSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	wrongKey := jwt.NewWithClaims(jwt.SigningMethodHS256, RelayClaims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    testRelayIssuer,
		Subject:   testRelaySubject,
		ExpiresAt: jwt.NewNumericDate(relayClockNow.Add(time.Hour)),
	}})
	wrongKeySigned, err := wrongKey.SignedString([]byte("other"))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{name: "empty", token: "  ", want: ErrMissingRelayToken},
		{name: "expired", token: expired, want: ErrExpiredRelayToken},
		{name: "foreign issuer", token: foreign, want: ErrInvalidRelayToken},
		{name: "missing subject", token: noSubjectSigned, want: ErrMissingRelaySubject},
		{name: "wrong key", token: wrongKeySigned, want: ErrInvalidRelayToken},
		{name: "garbage", token: "not-a-jwt", want: ErrInvalidRelayToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := validator.ValidateToken(tt.token); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestRelayValidatorValidateRequest(t *testing.T) {
	validator := newTestRelayValidator(t)
	token, _, err := newTestRelayIssuer(t, testRelayIssuer, relayClockNow).Issue(testRelaySubject)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}

	request := httptest.NewRequest(http.MethodPost, "/webhooks/mint", nil)
	request.Header.Set("Authorization", "bearer "+token)
	if _, err := validator.ValidateRequest(request); err != nil {
		t.Fatalf("expected case-insensitive bearer scheme to validate: %v", err)
	}

	missing := httptest.NewRequest(http.MethodPost, "/webhooks/mint", nil)
	if _, err := validator.ValidateRequest(missing); !errors.Is(err, ErrMissingRelayToken) {
		t.Fatalf("expected ErrMissingRelayToken, got %v", err)
	}
	basic := httptest.NewRequest(http.MethodPost, "/webhooks/mint", nil)
	basic.Header.Set("Authorization", "Basic abc")
	if _, err := validator.ValidateRequest(basic); !errors.Is(err, ErrMissingRelayToken) {
		t.Fatalf("expected ErrMissingRelayToken for basic auth, got %v", err)
	}
}

func TestRelayConstructorsValidate(t *testing.T) {
	if _, err := NewRelayValidator(RelayValidatorConfig{Issuer: testRelayIssuer}); !errors.Is(err, ErrMissingRelaySigningKey) {
		t.Fatalf("expected ErrMissingRelaySigningKey, got %v", err)
	}
	if _, err := NewRelayValidator(RelayValidatorConfig{SigningSecret: []byte("x")}); !errors.Is(err, ErrMissingRelayIssuer) {
		t.Fatalf("expected ErrMissingRelayIssuer, got %v", err)
	}
	if _, err := NewRelayIssuer(RelayIssuerConfig{Issuer: testRelayIssuer}); err == nil {
		t.Fatalf("expected missing secret error")
	}
	relayIssuer := newTestRelayIssuer(t, testRelayIssuer, relayClockNow)
	if _, _, err := relayIssuer.Issue(" "); err == nil {
		t.Fatalf("expected missing subject error")
	}
}
