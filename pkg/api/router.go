package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/psantana5/unit-provisioner/pkg/auth"
	"github.com/psantana5/unit-provisioner/pkg/metrics"
	"github.com/psantana5/unit-provisioner/pkg/ratelimit"
	"github.com/psantana5/unit-provisioner/pkg/tracing"
)

// RouterOptions are the cross-cutting concerns wrapped around the handler.
// Nil fields are skipped, except Verifier which defaults to a five minute skew.
type RouterOptions struct {
	Verifier     *auth.Verifier
	MaxBodyBytes int64
	Limiter      *ratelimit.Limiter
	Metrics      *metrics.Recorder
	Tracer       *tracing.Provider
}

// NewRouter builds the complete API router
func NewRouter(h *Handler, opts RouterOptions) *mux.Router {
	verifier := opts.Verifier
	if verifier == nil {
		verifier = auth.NewVerifier(5 * time.Minute)
	}

	r := mux.NewRouter()
	r.Use(RequestIDMiddleware)
	if opts.Tracer != nil {
		r.Use(tracing.HTTPMiddleware(opts.Tracer))
	}
	if opts.Metrics != nil {
		r.Use(opts.Metrics.Middleware)
	}
	r.Use(auth.Middleware(verifier, opts.MaxBodyBytes))
	r.Use(LoggingMiddleware(h.logger))
	if opts.Limiter != nil {
		r.Use(mutatingOnly(opts.Limiter.Middleware(ratelimit.CallerKeyFunc)))
	}

	h.RegisterRoutes(r)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"kind": "NotFound", "message": "No such route"})
	})
	return r
}
