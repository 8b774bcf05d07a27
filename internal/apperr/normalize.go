package apperr

import (
	"bufio"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"runtime/debug"
)

// genericBody is the fixed client-facing payload for any failure that
// is not a recognized kind. It is identical regardless of cause.
const genericBody = `{"error":{"kind":"unexpected","message":"internal server error"}}`

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    string  `json:"kind"`
	Message string  `json:"message"`
	Fields  []Field `json:"fields,omitempty"`
}

// responseWriter remembers whether a status line has been sent so a
// second failure on the same request is logged instead of re-serialized.
type responseWriter struct {
	http.ResponseWriter
	wrote bool
}

func (w *responseWriter) WriteHeader(status int) {
	w.wrote = true
	w.ResponseWriter.WriteHeader(status)
}

func (w *responseWriter) Write(b []byte) (int, error) {
	w.wrote = true
	return w.ResponseWriter.Write(b)
}

// Hijack passes through so the websocket upgrade keeps working behind
// the normalizer. A hijacked connection counts as responded.
func (w *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("apperr: underlying writer does not support hijacking")
	}
	w.wrote = true
	return h.Hijack()
}

func (w *responseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Write serializes err for the client. Recognized kinds carry their
// own status and structured fields; everything else is logged in full
// and replaced with the fixed generic body. If the response has
// already started, the failure is logged only.
func Write(w http.ResponseWriter, r *http.Request, err error) {
	rw, tracked := w.(*responseWriter)
	if tracked && rw.wrote {
		log.Printf("apperr: failure after response started on %s %s: %v", r.Method, r.URL.Path, err)
		return
	}

	var ae *Error
	if !errors.As(err, &ae) || ae.Kind == Unexpected {
		log.Printf("apperr: unexpected failure on %s %s: %v", r.Method, r.URL.Path, err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(genericBody))
		return
	}

	body := errorBody{Error: errorDetail{
		Kind:    ae.Kind.String(),
		Message: ae.Message,
		Fields:  ae.Fields,
	}}
	data, merr := json.Marshal(body)
	if merr != nil {
		log.Printf("apperr: marshal failure on %s %s: %v", r.Method, r.URL.Path, merr)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(genericBody))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(ae.Kind.Status())
	_, _ = w.Write(data)
}

// NotFound is the handler for requests that match no route. The body
// names the path the client asked for.
func NotFound(w http.ResponseWriter, r *http.Request) {
	Write(w, r, Newf(RouteNotFound, "no route for %s", r.URL.Path))
}

// Recoverer wraps every handler with panic recovery and response
// tracking. It is the outermost boundary: panics are logged with the
// stack and the client sees only the generic body.
func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &responseWriter{ResponseWriter: w}
		defer func() {
			if rec := recover(); rec != nil {
				log.Printf("apperr: panic on %s %s: %v\n%s", r.Method, r.URL.Path, rec, debug.Stack())
				Write(rw, r, Newf(Unexpected, "panic: %v", rec))
			}
		}()
		next.ServeHTTP(rw, r)
	})
}
