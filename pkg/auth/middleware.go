package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/psantana5/unit-provisioner/pkg/apierror"
	"github.com/psantana5/unit-provisioner/pkg/principal"
)

type contextKey string

const CallerContextKey contextKey = "caller"

// DefaultMaxBodyBytes bounds the body read for signature verification
const DefaultMaxBodyBytes = 32 << 20

// Middleware verifies the request signature and injects the caller into the
// request context. Invalid signatures are rejected; unsigned requests pass as
// anonymous and are left to the operation guards.
func Middleware(v *Verifier, maxBodyBytes int64) func(http.Handler) http.Handler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var body []byte
			if r.Body != nil {
				var err error
				body, err = io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
				r.Body.Close()
				if err != nil {
					writeError(w, apierror.BadRequest().WithMessage("Failed to read request body"))
					return
				}
				if int64(len(body)) > maxBodyBytes {
					writeError(w, apierror.BadRequest().WithMessage("Request body too large"))
					return
				}
				r.Body = io.NopCloser(bytes.NewReader(body))
			}

			caller, err := v.Verify(r, body)
			if err != nil {
				writeError(w, apierror.Unauthorized().WithMethod("verify_signature").WithMessage(err.Error()))
				return
			}

			ctx := context.WithValue(r.Context(), CallerContextKey, caller)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Caller extracts the caller from the request context. Requests that never
// passed the middleware are anonymous.
func Caller(ctx context.Context) principal.Principal {
	if caller, ok := ctx.Value(CallerContextKey).(principal.Principal); ok {
		return caller
	}
	return principal.Anonymous
}

// RequireMaintainerKey rejects requests without the configured admin key
func RequireMaintainerKey(key *MaintainerKey) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !key.Validate(r.Header.Get(HeaderAdminKey)) {
				writeError(w, apierror.Unauthorized().WithMessage("Invalid admin key"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeError(w http.ResponseWriter, err *apierror.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apierror.HTTPStatus(err.Kind))
	json.NewEncoder(w).Encode(err)
}
