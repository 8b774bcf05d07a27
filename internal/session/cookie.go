// Package session signs and validates the gateway's session cookie.
// Two signing keys are active at once so keys can rotate without
// invalidating cookies issued under the previous key.
package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
)

// CookieName is fixed; clients and tests rely on it.
const CookieName = "relay_session"

// TTL is the cookie lifetime.
const TTL = 7 * 24 * time.Hour

var (
	ErrMalformed = errors.New("session: malformed cookie")
	ErrSignature = errors.New("session: signature mismatch")
	ErrExpired   = errors.New("session: expired")
)

// Claims is the signed payload. Immutable once issued.
type Claims struct {
	Subject   string    `json:"sub"`
	IssuedAt  time.Time `json:"iat"`
	ExpiresAt time.Time `json:"exp"`
}

// Codec signs with the primary key and validates against both keys.
type Codec struct {
	primary   []byte
	secondary []byte
	secure    bool
}

// NewCodec builds a codec. secure controls the cookie's
// transport-security flag; it is off only in development mode.
func NewCodec(primary, secondary []byte, secure bool) *Codec {
	return &Codec{primary: primary, secondary: secondary, secure: secure}
}

// Issue signs claims for subject valid for TTL from now.
func (c *Codec) Issue(subject string, now time.Time) (string, error) {
	claims := Claims{
		Subject:   subject,
		IssuedAt:  now,
		ExpiresAt: now.Add(TTL),
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	enc := base64.RawURLEncoding
	body := enc.EncodeToString(payload)
	sig := enc.EncodeToString(sign(c.primary, body))
	return body + "." + sig, nil
}

// Validate checks the signature against the primary key and then the
// secondary, and rejects expired claims.
func (c *Codec) Validate(value string, now time.Time) (*Claims, error) {
	body, sigPart, ok := strings.Cut(value, ".")
	if !ok {
		return nil, ErrMalformed
	}
	enc := base64.RawURLEncoding
	sig, err := enc.DecodeString(sigPart)
	if err != nil {
		return nil, ErrMalformed
	}
	if !hmac.Equal(sig, sign(c.primary, body)) && !hmac.Equal(sig, sign(c.secondary, body)) {
		return nil, ErrSignature
	}
	payload, err := enc.DecodeString(body)
	if err != nil {
		return nil, ErrMalformed
	}
	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, ErrMalformed
	}
	if !claims.ExpiresAt.After(now) {
		return nil, ErrExpired
	}
	return &claims, nil
}

// Cookie wraps a signed value in the gateway's cookie settings.
func (c *Codec) Cookie(value string, now time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		Expires:  now.Add(TTL),
		MaxAge:   int(TTL / time.Second),
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// ClearCookie expires the session cookie on the client.
func (c *Codec) ClearCookie() *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	}
}

func sign(key []byte, body string) []byte {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(body))
	return h.Sum(nil)
}
