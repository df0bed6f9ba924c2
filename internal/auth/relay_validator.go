package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const bearerPrefix = "Bearer "

var (
	ErrMissingRelaySigningKey = errors.New("relay validator: signing key required")
	ErrMissingRelayIssuer     = errors.New("relay validator: issuer required")
	ErrMissingRelayToken      = errors.New("relay validator: token required")
	ErrInvalidRelayToken      = errors.New("relay validator: invalid token")
	ErrExpiredRelayToken      = errors.New("relay validator: token expired")
	ErrMissingRelaySubject    = errors.New("relay validator: subject required")
)

// RelayClaims is the JWT payload presented by the indexer or webhook relay.
type RelayClaims struct {
	jwt.RegisteredClaims
}

// RelayValidatorConfig describes how to validate relay JWTs.
type RelayValidatorConfig struct {
	SigningSecret []byte
	Issuer        string
	Clock         func() time.Time
}

// RelayValidator validates HS256 bearer tokens on inbound mint notifications.
type RelayValidator struct {
	signingSecret []byte
	issuer        string
	clock         func() time.Time
}

// NewRelayValidator constructs a validator with the provided configuration.
func NewRelayValidator(cfg RelayValidatorConfig) (*RelayValidator, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, ErrMissingRelaySigningKey
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		return nil, ErrMissingRelayIssuer
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &RelayValidator{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		issuer:        issuer,
		clock:         clock,
	}, nil
}

// ValidateToken validates the supplied JWT string and returns the parsed claims.
func (v *RelayValidator) ValidateToken(tokenString string) (RelayClaims, error) {
	token := strings.TrimSpace(tokenString)
	if token == "" {
		return RelayClaims{}, ErrMissingRelayToken
	}

	claims := &RelayClaims{}
	parsed, err := jwt.ParseWithClaims(
		token,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("%w: unexpected signing algorithm %s", ErrInvalidRelayToken, t.Method.Alg())
			}
			return v.signingSecret, nil
		},
		jwt.WithTimeFunc(v.clock),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return RelayClaims{}, ErrExpiredRelayToken
		}
		return RelayClaims{}, fmt.Errorf("%w: %v", ErrInvalidRelayToken, err)
	}
	if parsed == nil || !parsed.Valid {
		return RelayClaims{}, ErrInvalidRelayToken
	}
	if claims.Issuer != v.issuer {
		return RelayClaims{}, ErrInvalidRelayToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return RelayClaims{}, ErrMissingRelaySubject
	}
	return *claims, nil
}

// ValidateRequest extracts the bearer token from the Authorization header and validates it.
func (v *RelayValidator) ValidateRequest(r *http.Request) (RelayClaims, error) {
	if r == nil {
		return RelayClaims{}, ErrMissingRelayToken
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) < len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return RelayClaims{}, ErrMissingRelayToken
	}
	return v.ValidateToken(header[len(bearerPrefix):])
}
