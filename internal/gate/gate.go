// Package gate applies the gateway's request-level security policies:
// hardening headers, cross-origin checks, duplicate-parameter
// rejection, and session-cookie validation. Policies run in a fixed
// order before any handler and only terminate the chain on violation.
package gate

import (
	"context"
	"net/http"

	"github.com/relaymesh/gateway/internal/apperr"
	"github.com/relaymesh/gateway/internal/session"
)

// Policy is one step of the gate. Apply returns the request to pass
// downstream (possibly carrying new context) and a nil error to
// continue. A non-nil error terminates the chain and is written by
// the normalizer. Returning (nil, nil) means the policy wrote the response
// itself; only the preflight path does this.
type Policy struct {
	Name  string
	Apply func(w http.ResponseWriter, r *http.Request) (*http.Request, *apperr.Error)
}

// Chain is the explicit ordered policy list.
type Chain []Policy

// Middleware composes the chain into standard middleware.
func (c Chain) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, p := range c {
			req, err := p.Apply(w, r)
			if err != nil {
				apperr.Write(w, r, err)
				return
			}
			if req == nil {
				return
			}
			r = req
		}
		next.ServeHTTP(w, r)
	})
}

type claimsKey struct{}

// WithClaims stores validated session claims on the request context.
func WithClaims(ctx context.Context, claims *session.Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// ClaimsFrom returns the session claims validated by the gate, or nil
// for an unauthenticated request.
func ClaimsFrom(ctx context.Context) *session.Claims {
	claims, _ := ctx.Value(claimsKey{}).(*session.Claims)
	return claims
}
