package session

import (
	"strings"
	"testing"
	"time"
)

var (
	primaryKey   = []byte("primary-key-0123456789abcdef0000")
	secondaryKey = []byte("secondary-key-0123456789abcdef00")
)

func TestIssueAndValidate(t *testing.T) {
	codec := NewCodec(primaryKey, secondaryKey, true)
	now := time.Now()

	value, err := codec.Issue("user-42", now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	claims, err := codec.Validate(value, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if claims.Subject != "user-42" {
		t.Errorf("Subject = %q, want %q", claims.Subject, "user-42")
	}
	if !claims.ExpiresAt.Equal(claims.IssuedAt.Add(TTL)) {
		t.Errorf("ExpiresAt = %v, want IssuedAt + %v", claims.ExpiresAt, TTL)
	}
}

func TestValidate_SecondaryKeyDuringRotation(t *testing.T) {
	now := time.Now()

	// Cookie issued while the old key was primary.
	oldCodec := NewCodec(secondaryKey, []byte("retired"), true)
	value, err := oldCodec.Issue("user-42", now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	// After rotation the old key moves to the secondary slot.
	rotated := NewCodec(primaryKey, secondaryKey, true)
	if _, err := rotated.Validate(value, now.Add(time.Hour)); err != nil {
		t.Fatalf("Validate with secondary key: %v", err)
	}
}

func TestValidate_Failures(t *testing.T) {
	codec := NewCodec(primaryKey, secondaryKey, true)
	now := time.Now()
	value, err := codec.Issue("user-42", now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	tests := []struct {
		name    string
		value   string
		at      time.Time
		wantErr error
	}{
		{"NoSeparator", strings.ReplaceAll(value, ".", ""), now, ErrMalformed},
		{"BadSignatureEncoding", strings.Split(value, ".")[0] + ".!!!", now, ErrMalformed},
		{"WrongKey", tamper(t, value), now, ErrSignature},
		{"Expired", value, now.Add(TTL + time.Minute), ErrExpired},
		{"ExpiryBoundary", value, now.Add(TTL), ErrExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := codec.Validate(tt.value, tt.at)
			if err != tt.wantErr {
				t.Errorf("Validate = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// tamper re-signs the payload with an unrelated key.
func tamper(t *testing.T, value string) string {
	t.Helper()
	other := NewCodec([]byte("unrelated-key"), []byte("unrelated-key"), true)
	body := strings.Split(value, ".")[0]
	forged, err := other.Issue("ignored", time.Now())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return body + "." + strings.Split(forged, ".")[1]
}

func TestCookieSettings(t *testing.T) {
	now := time.Now()

	secureCookie := NewCodec(primaryKey, secondaryKey, true).Cookie("v", now)
	if !secureCookie.Secure {
		t.Error("expected Secure cookie outside development mode")
	}
	if !secureCookie.HttpOnly {
		t.Error("expected HttpOnly cookie")
	}
	if secureCookie.Name != CookieName {
		t.Errorf("Name = %q, want %q", secureCookie.Name, CookieName)
	}

	devCookie := NewCodec(primaryKey, secondaryKey, false).Cookie("v", now)
	if devCookie.Secure {
		t.Error("expected non-Secure cookie in development mode")
	}

	cleared := NewCodec(primaryKey, secondaryKey, true).ClearCookie()
	if cleared.MaxAge != -1 {
		t.Errorf("ClearCookie MaxAge = %d, want -1", cleared.MaxAge)
	}
}
