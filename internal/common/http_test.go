package common_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-kassa/internal/common"
)

func TestClientIP(t *testing.T) {
	cases := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{name: "forwarded first hop", headers: map[string]string{"X-Forwarded-For": "203.0.113.9, 10.0.0.1"}, remote: "10.0.0.2:80", want: "203.0.113.9"},
		{name: "forwarded skips garbage", headers: map[string]string{"X-Forwarded-For": "unknown, 198.51.100.4"}, remote: "10.0.0.2:80", want: "198.51.100.4"},
		{name: "real ip", headers: map[string]string{"X-Real-IP": "2001:db8::1"}, remote: "10.0.0.2:80", want: "2001:db8::1"},
		{name: "mapped v4 unmapped", headers: map[string]string{"X-Real-IP": "::ffff:192.0.2.7"}, remote: "10.0.0.2:80", want: "192.0.2.7"},
		{name: "peer", remote: "192.0.2.10:4000", want: "192.0.2.10"},
		{name: "peer without port", remote: "192.0.2.11", want: "192.0.2.11"},
		{name: "invalid everywhere", headers: map[string]string{"X-Forwarded-For": "<script>", "X-Real-IP": "nope"}, remote: "pipe", want: ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/payments", nil)
			req.RemoteAddr = tc.remote
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			require.Equal(t, tc.want, common.ClientIP(req))
		})
	}
	require.Empty(t, common.ClientIP(nil))
}
