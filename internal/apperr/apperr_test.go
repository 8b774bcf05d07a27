package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestKindStatus(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{RouteNotFound, http.StatusNotFound},
		{Validation, http.StatusBadRequest},
		{Authentication, http.StatusUnauthorized},
		{Authorization, http.StatusForbidden},
		{Conflict, http.StatusConflict},
		{FanOutDegraded, http.StatusServiceUnavailable},
		{Unexpected, http.StatusInternalServerError},
		{Kind(99), http.StatusInternalServerError}, // unknown kinds stay opaque
	}
	for _, tt := range tests {
		if got := tt.kind.Status(); got != tt.want {
			t.Errorf("Kind(%d).Status() = %d, want %d", tt.kind, got, tt.want)
		}
	}
}

func TestErrorWrapping(t *testing.T) {
	cause := errors.New("socket closed")
	err := Wrap(Conflict, "already subscribed", cause)

	if !errors.Is(err, cause) {
		t.Error("Unwrap chain lost the cause")
	}
	if KindOf(err) != Conflict {
		t.Errorf("KindOf = %v, want Conflict", KindOf(err))
	}
	if KindOf(fmt.Errorf("outer: %w", err)) != Conflict {
		t.Error("KindOf through fmt.Errorf wrapping failed")
	}
	if KindOf(cause) != Unexpected {
		t.Errorf("KindOf(plain error) = %v, want Unexpected", KindOf(cause))
	}
}

func TestWrite_RecognizedKind(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/subscribe", nil)

	Write(rec, req, New(Validation, "topic required").WithField("topic", "must not be empty"))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{`"validation"`, `"topic required"`, `"topic"`, `"must not be empty"`} {
		if !strings.Contains(body, want) {
			t.Errorf("body %s missing %s", body, want)
		}
	}
}

// TestWrite_OpacityProperty: whatever the underlying cause, the
// client body for an unrecognized failure is byte-identical.
func TestWrite_OpacityProperty(t *testing.T) {
	causes := []error{
		errors.New("pq: connection refused on 10.0.0.5:5432"),
		fmt.Errorf("nil pointer dereference in broadcastLocal"),
		Wrap(Unexpected, "secret detail", errors.New("with a stack")),
	}

	var bodies []string
	for _, cause := range causes {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		Write(rec, req, cause)
		if rec.Code != http.StatusInternalServerError {
			t.Errorf("status = %d, want 500", rec.Code)
		}
		bodies = append(bodies, rec.Body.String())
	}

	for i := 1; i < len(bodies); i++ {
		if bodies[i] != bodies[0] {
			t.Errorf("body %d differs: %s vs %s", i, bodies[i], bodies[0])
		}
	}
	for _, body := range bodies {
		if strings.Contains(body, "10.0.0.5") || strings.Contains(body, "secret") {
			t.Errorf("internal detail leaked to client: %s", body)
		}
	}
}

func TestWrite_NeverDoubleResponds(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	var handlerErr error
	handler := Recoverer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("partial"))
		handlerErr = New(Conflict, "too late")
		Write(w, r, handlerErr)
	}))
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want the original 200", rec.Code)
	}
	if got := rec.Body.String(); got != "partial" {
		t.Errorf("body = %q, want the original partial body", got)
	}
	if handlerErr == nil {
		t.Fatal("sanity: handler never ran")
	}
}

func TestNotFound_IncludesPath(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/no/such/route", nil)

	NotFound(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "/no/such/route") {
		t.Errorf("body %s does not name the requested path", rec.Body.String())
	}
}

func TestRecoverer_PanicBecomesOpaque(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	handler := Recoverer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("database password is hunter2")
	}))
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "hunter2") {
		t.Errorf("panic detail leaked to client: %s", rec.Body.String())
	}
	if rec.Body.String() != genericBody {
		t.Errorf("body = %s, want the fixed generic body", rec.Body.String())
	}
}
