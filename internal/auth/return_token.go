package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// ReturnAudience is the audience of tokens carried by the gateway return URL.
const ReturnAudience = "payment-return"

var (
	// ErrInvalidToken means the token is malformed, expired or badly signed.
	ErrInvalidToken = errors.New("auth: invalid return token")
	// ErrOrderMismatch means a valid token was presented for another order.
	ErrOrderMismatch = errors.New("auth: token bound to another order")

	errNoneAlgorithm = errors.New("auth: token uses none algorithm")
)

// ReturnTokens issues and verifies the HS256 token that binds a return URL to one order.
type ReturnTokens struct {
	secret    []byte
	ttl       time.Duration
	claims    ReturnClaims
	now       func() time.Time
}

// NewReturnTokens returns a token service. The secret must not be empty.
func NewReturnTokens(secret, issuer string, ttl, skew time.Duration) (*ReturnTokens, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: return token secret is required")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &ReturnTokens{
		secret: []byte(secret),
		ttl:    ttl,
		claims: ReturnClaims{
			Issuer:    issuer,
			ClockSkew: skew,
			Algorithm: jwa.HS256,
		},
		now: time.Now,
	}, nil
}

// WithClock overrides the clock. Used by tests.
func (s *ReturnTokens) WithClock(now func() time.Time) *ReturnTokens {
	s.now = now
	return s
}

// Issue signs a token for orderID.
func (s *ReturnTokens) Issue(orderID string) (string, error) {
	if strings.TrimSpace(orderID) == "" {
		return "", errors.New("auth: order id is required")
	}
	now := s.now()
	token, err := jwt.NewBuilder().
		Subject(orderID).
		Issuer(s.claims.Issuer).
		Audience([]string{ReturnAudience}).
		IssuedAt(now).
		NotBefore(now.Add(-s.claims.ClockSkew)).
		Expiration(now.Add(s.ttl)).
		Build()
	if err != nil {
		return "", err
	}
	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256, s.secret))
	if err != nil {
		return "", err
	}
	return string(signed), nil
}

// Verify checks the token and that it was issued for orderID.
func (s *ReturnTokens) Verify(raw, orderID string) error {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return fmt.Errorf("%w: missing token", ErrInvalidToken)
	}
	algorithm, err := extractTokenAlgorithm(trimmed)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if algorithm != s.claims.Algorithm {
		return fmt.Errorf("%w: unexpected token algorithm %s", ErrInvalidToken, algorithm)
	}
	parsed, err := jwt.ParseString(trimmed, jwt.WithKey(algorithm, s.secret), jwt.WithValidate(false))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return s.claims.Check(parsed, algorithm, orderID, s.now())
}

func extractTokenAlgorithm(token string) (jwa.SignatureAlgorithm, error) {
	message, err := jws.ParseString(token)
	if err != nil {
		return "", err
	}
	signatures := message.Signatures()
	if len(signatures) == 0 {
		return "", errors.New("auth: token contains no signatures")
	}
	var algorithm jwa.SignatureAlgorithm
	for _, sig := range signatures {
		headers := sig.ProtectedHeaders()
		if headers == nil {
			return "", errors.New("auth: token missing protected headers")
		}
		alg := headers.Algorithm()
		if alg == "" {
			return "", errors.New("auth: token missing algorithm")
		}
		if alg == jwa.NoSignature {
			return "", errNoneAlgorithm
		}
		if algorithm == "" {
			algorithm = alg
		} else if algorithm != alg {
			return "", fmt.Errorf("auth: mixed token algorithms detected")
		}
	}
	return algorithm, nil
}
