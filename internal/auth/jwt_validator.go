package auth

import (
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// ReturnClaims checks a parsed return token against the order it is presented for.
type ReturnClaims struct {
	Issuer    string
	ClockSkew time.Duration
	Algorithm jwa.SignatureAlgorithm
}

// Check validates the registered claims at now and then the order binding.
// A token that is valid but issued for another order yields ErrOrderMismatch.
func (c ReturnClaims) Check(tok jwt.Token, alg jwa.SignatureAlgorithm, orderID string, now time.Time) error {
	switch {
	case tok == nil:
		return fmt.Errorf("%w: no token", ErrInvalidToken)
	case alg != c.Algorithm:
		return fmt.Errorf("%w: token signed with %q", ErrInvalidToken, alg)
	case tok.Subject() == "":
		return fmt.Errorf("%w: token names no order", ErrInvalidToken)
	}
	opts := []jwt.ValidateOption{
		jwt.WithClock(jwt.ClockFunc(func() time.Time { return now })),
		jwt.WithAudience(ReturnAudience),
		jwt.WithRequiredClaim(jwt.ExpirationKey),
		jwt.WithAcceptableSkew(c.ClockSkew),
	}
	if c.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.Issuer))
	}
	if err := jwt.Validate(tok, opts...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if tok.Subject() != orderID {
		return ErrOrderMismatch
	}
	return nil
}
