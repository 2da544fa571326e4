package security

import (
	"bytes"
	"errors"
	"io"
	"net/http"

	"github.com/noah-isme/toko-kassa/internal/common"
)

// BodyLimit caps notification payloads. The accepted body is buffered so the
// handler can verify a signature over the exact bytes received.
type BodyLimit struct {
	Max int64
	// OnReject observes every rejected request with the status it got.
	OnReject func(r *http.Request, status int)
}

// Middleware answers 413 for bodies over Max and 400 for unreadable ones.
func (b BodyLimit) Middleware(next http.Handler) http.Handler {
	if b.Max <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body == nil || r.Body == http.NoBody {
			next.ServeHTTP(w, r)
			return
		}
		if r.ContentLength > b.Max {
			b.reject(w, r, http.StatusRequestEntityTooLarge)
			return
		}
		buf, err := io.ReadAll(http.MaxBytesReader(w, r.Body, b.Max))
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			b.reject(w, r, http.StatusRequestEntityTooLarge)
			return
		case err != nil:
			b.reject(w, r, http.StatusBadRequest)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(buf))
		r.ContentLength = int64(len(buf))
		next.ServeHTTP(w, r)
	})
}

func (b BodyLimit) reject(w http.ResponseWriter, r *http.Request, status int) {
	if b.OnReject != nil {
		b.OnReject(r, status)
	}
	if status == http.StatusRequestEntityTooLarge {
		common.JSONError(w, status, "PAYLOAD_TOO_LARGE", "request entity too large", nil)
		return
	}
	common.JSONError(w, status, "BAD_REQUEST", "invalid request body", nil)
}
