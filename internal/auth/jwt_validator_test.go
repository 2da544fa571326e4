package auth

import (
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/require"
)

func buildToken(t *testing.T, issuer, subject string, issued, expires time.Time) jwt.Token {
	t.Helper()
	b := jwt.NewBuilder().
		Issuer(issuer).
		Audience([]string{ReturnAudience}).
		IssuedAt(issued).
		NotBefore(issued).
		Expiration(expires)
	if subject != "" {
		b = b.Subject(subject)
	}
	tok, err := b.Build()
	require.NoError(t, err)
	return tok
}

func TestReturnClaims(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	c := ReturnClaims{Issuer: "kassa", ClockSkew: time.Second, Algorithm: jwa.HS256}
	valid := buildToken(t, "kassa", "order-1", now, now.Add(time.Minute))

	cases := []struct {
		name    string
		tok     jwt.Token
		alg     jwa.SignatureAlgorithm
		orderID string
		want    error
	}{
		{"valid", valid, jwa.HS256, "order-1", nil},
		{"other order", valid, jwa.HS256, "order-2", ErrOrderMismatch},
		{"issuer mismatch", buildToken(t, "other", "order-1", now, now.Add(time.Minute)), jwa.HS256, "order-1", ErrInvalidToken},
		{"expired", buildToken(t, "kassa", "order-1", now.Add(-2*time.Hour), now.Add(-time.Minute)), jwa.HS256, "order-1", ErrInvalidToken},
		{"no subject", buildToken(t, "kassa", "", now, now.Add(time.Minute)), jwa.HS256, "", ErrInvalidToken},
		{"wrong algorithm", valid, jwa.HS384, "order-1", ErrInvalidToken},
		{"missing algorithm", valid, "", "order-1", ErrInvalidToken},
		{"nil token", nil, jwa.HS256, "order-1", ErrInvalidToken},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := c.Check(tc.tok, tc.alg, tc.orderID, now)
			if tc.want == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestReturnClaimsRequireExpiry(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	tok, err := jwt.NewBuilder().Issuer("kassa").Subject("order-1").Audience([]string{ReturnAudience}).IssuedAt(now).Build()
	require.NoError(t, err)
	err = ReturnClaims{Issuer: "kassa", Algorithm: jwa.HS256}.Check(tok, jwa.HS256, "order-1", now)
	require.ErrorIs(t, err, ErrInvalidToken)
}
