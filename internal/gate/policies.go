package gate

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/relaymesh/gateway/internal/apperr"
	"github.com/relaymesh/gateway/internal/session"
)

// allowedMethods is the explicit method allow-list, also advertised on
// preflight responses.
var allowedMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodPost:    true,
	http.MethodDelete:  true,
	http.MethodOptions: true,
}

const allowedMethodsHeader = "GET, POST, DELETE, OPTIONS"

// Default builds the gate in its canonical order.
func Default(allowedOrigin string, codec *session.Codec) Chain {
	return Chain{
		HardeningHeaders(),
		CrossOrigin(allowedOrigin),
		RejectDuplicateParams(),
		ValidateSession(codec),
	}
}

// HardeningHeaders attaches the fixed response-header set to every
// response, error responses included, so it runs first.
func HardeningHeaders() Policy {
	return Policy{
		Name: "hardening-headers",
		Apply: func(w http.ResponseWriter, r *http.Request) (*http.Request, *apperr.Error) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Content-Security-Policy", "default-src 'self'")
			h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			return r, nil
		},
	}
}

// CrossOrigin allows exactly one configured origin with credentials
// and the fixed method allow-list. Preflights are answered directly
// with 204; cross-origin actual requests from other origins and
// requests using unlisted methods are rejected.
func CrossOrigin(allowedOrigin string) Policy {
	allowed := normalizeOrigin(allowedOrigin)
	return Policy{
		Name: "cross-origin",
		Apply: func(w http.ResponseWriter, r *http.Request) (*http.Request, *apperr.Error) {
			origin := r.Header.Get("Origin")
			if origin != "" {
				if !OriginAllowed(origin, allowed) {
					return nil, apperr.Newf(apperr.Authorization, "origin %q not allowed", origin)
				}
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", allowedOrigin)
				h.Set("Access-Control-Allow-Credentials", "true")
				h.Add("Vary", "Origin")
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				h := w.Header()
				h.Set("Access-Control-Allow-Methods", allowedMethodsHeader)
				if reqHeaders := r.Header.Get("Access-Control-Request-Headers"); reqHeaders != "" {
					h.Set("Access-Control-Allow-Headers", reqHeaders)
				}
				w.WriteHeader(http.StatusNoContent)
				return nil, nil
			}

			if !allowedMethods[r.Method] {
				return nil, apperr.Newf(apperr.Validation, "method %s not allowed", r.Method)
			}
			return r, nil
		},
	}
}

// RejectDuplicateParams terminates requests that repeat a query key.
// Rejection was chosen over last-wins collapsing: it is deterministic
// either way, and repeated security-relevant parameters are more
// likely an attack than a client bug.
func RejectDuplicateParams() Policy {
	return Policy{
		Name: "duplicate-params",
		Apply: func(w http.ResponseWriter, r *http.Request) (*http.Request, *apperr.Error) {
			for key, values := range r.URL.Query() {
				if len(values) > 1 {
					return nil, apperr.New(apperr.Validation, "duplicate query parameter").
						WithField(key, "parameter repeated")
				}
			}
			return r, nil
		},
	}
}

// ValidateSession verifies the session cookie when present. A request
// without the cookie continues unauthenticated; handlers that need a
// session check for claims themselves. A cookie that fails validation
// terminates the chain.
func ValidateSession(codec *session.Codec) Policy {
	return Policy{
		Name: "session",
		Apply: func(w http.ResponseWriter, r *http.Request) (*http.Request, *apperr.Error) {
			cookie, err := r.Cookie(session.CookieName)
			if err != nil {
				return r, nil
			}
			claims, err := codec.Validate(cookie.Value, time.Now())
			if err != nil {
				if errors.Is(err, session.ErrExpired) {
					return nil, apperr.New(apperr.Authentication, "session expired")
				}
				return nil, apperr.New(apperr.Authentication, "invalid session")
			}
			return r.WithContext(WithClaims(r.Context(), claims)), nil
		},
	}
}

// OriginAllowed reports whether origin matches the (pre-normalized)
// allowed origin. Used by the gate and by the websocket upgrader's
// origin check.
func OriginAllowed(origin, allowed string) bool {
	return allowed != "" && normalizeOrigin(origin) == allowed
}

// NormalizeOrigin lowercases scheme and host so origin comparison is
// not case sensitive. Invalid origins normalize to the empty string
// and never match.
func NormalizeOrigin(origin string) string {
	return normalizeOrigin(origin)
}

func normalizeOrigin(origin string) string {
	parsed, err := url.Parse(strings.TrimSpace(origin))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return ""
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host)
}
