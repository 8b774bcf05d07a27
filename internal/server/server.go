// Package server assembles the gateway's routes: the event channel
// upgrade endpoint, session issuance, and health. Every route sits
// behind the security gate and the error normalizer.
package server

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/relaymesh/gateway/internal/apperr"
	"github.com/relaymesh/gateway/internal/channel"
	"github.com/relaymesh/gateway/internal/config"
	"github.com/relaymesh/gateway/internal/fanout"
	"github.com/relaymesh/gateway/internal/gate"
	"github.com/relaymesh/gateway/internal/session"
)

type Server struct {
	cfg     *config.Config
	manager *channel.Manager
	bridge  *fanout.Bridge
	codec   *session.Codec

	allowedOrigin string // pre-normalized
}

func New(cfg *config.Config, manager *channel.Manager, bridge *fanout.Bridge, codec *session.Codec) *Server {
	return &Server{
		cfg:           cfg,
		manager:       manager,
		bridge:        bridge,
		codec:         codec,
		allowedOrigin: gate.NormalizeOrigin(cfg.AllowedOrigin),
	}
}

// Router wires the gate and the normalizer around every route,
// including any registered later on the returned router.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(apperr.Recoverer)
	r.Use(gate.Default(s.cfg.AllowedOrigin, s.codec).Middleware)
	r.NotFound(apperr.NotFound)

	r.Get("/ws", s.handleWS)
	r.Get("/healthz", s.handleHealthz)
	r.Post("/session", s.handleSessionIssue)
	r.Delete("/session", s.handleSessionClear)
	return r
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// Non-browser client; the gate's policies already ran.
		return true
	}
	return gate.OriginAllowed(origin, s.allowedOrigin)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{CheckOrigin: s.checkOrigin}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote its response.
		log.Printf("server: upgrade error: %v", err)
		return
	}

	subject := ""
	if claims := gate.ClaimsFrom(r.Context()); claims != nil {
		subject = claims.Subject
	}

	c := s.manager.Attach(conn, subject)
	s.manager.Establish(c.ID())
	log.Printf("server: connection %s established (%s)", c.ID(), r.RemoteAddr)

	defer func() {
		s.manager.OnDisconnect(c.ID())
		log.Printf("server: connection %s closed", c.ID())
	}()

	conn.SetReadLimit(s.cfg.Channel.MaxMessageSize)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		s.dispatch(c.ID(), data)
	}
}

// dispatch handles one inbound frame. Per-frame problems are reported
// on the channel itself; only a dead connection stops the read loop.
func (s *Server) dispatch(connID string, data []byte) {
	var frame channel.Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		_ = s.manager.Send(connID, channel.ErrorFrame("malformed frame"))
		return
	}

	switch frame.Type {
	case channel.MsgSubscribe, channel.MsgUnsubscribe, channel.MsgPublish:
		if frame.Topic == "" {
			_ = s.manager.Send(connID, channel.ErrorFrame("topic required"))
			return
		}
	default:
		_ = s.manager.Send(connID, channel.ErrorFrame("unknown frame type"))
		return
	}

	switch frame.Type {
	case channel.MsgSubscribe:
		if err := s.manager.Subscribe(connID, frame.Topic); err != nil {
			log.Printf("server: subscribe on gone connection %s", connID)
		}
	case channel.MsgUnsubscribe:
		if err := s.manager.Unsubscribe(connID, frame.Topic); err != nil {
			log.Printf("server: unsubscribe on gone connection %s", connID)
		}
	case channel.MsgPublish:
		if err := s.bridge.Broadcast(frame.Topic, frame.Payload); err != nil {
			// Degraded fan-out never aborts the connection; local
			// delivery already happened.
			log.Printf("server: %v", err)
			_ = s.manager.Send(connID, channel.ErrorFrame("fan-out degraded, delivered locally only"))
		}
	}
}

type sessionRequest struct {
	Subject string `json:"subject"`
}

type sessionResponse struct {
	Subject   string    `json:"subject"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *Server) handleSessionIssue(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperr.Write(w, r, apperr.Wrap(apperr.Validation, "invalid request body", err))
		return
	}
	req.Subject = strings.TrimSpace(req.Subject)
	if req.Subject == "" {
		apperr.Write(w, r, apperr.New(apperr.Validation, "subject required").
			WithField("subject", "must not be empty"))
		return
	}

	now := time.Now()
	value, err := s.codec.Issue(req.Subject, now)
	if err != nil {
		apperr.Write(w, r, err)
		return
	}
	http.SetCookie(w, s.codec.Cookie(value, now))

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(sessionResponse{
		Subject:   req.Subject,
		ExpiresAt: now.Add(session.TTL),
	})
}

func (s *Server) handleSessionClear(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, s.codec.ClearCookie())
	w.WriteHeader(http.StatusNoContent)
}
