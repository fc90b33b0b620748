package server

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/clinicpro/dictation-sync/internal/model"
)

// Identity headers. X-User-ID is set by the authenticating proxy in front of
// syncd; syncd itself does not authenticate accounts.
const (
	HeaderUserID       = "X-User-ID"
	HeaderPairingToken = "X-Pairing-Token"
	HeaderGuestToken   = "X-Guest-Token"
)

var errNoIdentity = errors.New("no user, pairing or guest identity on request")

// resolveIdentity checks, in order, the authenticated user, a pairing token
// (query "token" or X-Pairing-Token) and a guest token.
func (s *Server) resolveIdentity(r *http.Request) (model.Identity, error) {
	if userID := strings.TrimSpace(r.Header.Get(HeaderUserID)); userID != "" {
		return model.Identity{ClientID: userID, UserID: userID, Kind: model.IdentityUser}, nil
	}

	token := r.URL.Query().Get("token")
	if token == "" {
		token = r.Header.Get(HeaderPairingToken)
	}
	if token = strings.TrimSpace(token); token != "" {
		id, err := s.pairing.Resolve(r.Context(), token)
		if err != nil {
			return model.Identity{}, fmt.Errorf("resolve pairing token: %w", err)
		}
		return id, nil
	}

	if guest := strings.TrimSpace(r.Header.Get(HeaderGuestToken)); guest != "" {
		id := model.GuestPrefix + guest
		return model.Identity{ClientID: id, UserID: id, Kind: model.IdentityGuest}, nil
	}

	return model.Identity{}, errNoIdentity
}

// authed resolves the caller's identity and rejects the request with 401
// when there is none.
func (s *Server) authed(h func(http.ResponseWriter, *http.Request, model.Identity)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := s.resolveIdentity(r)
		if err != nil {
			s.logger.Debug("unauthorized request", "path", r.URL.Path, "error", err)
			writeError(w, http.StatusUnauthorized, "unauthorized", "")
			return
		}
		h(w, r, id)
	}
}

// observe records request metrics by route template.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		elapsed := time.Since(start)
		s.metrics.ObserveHTTP(r.Method, route, rec.status, elapsed)
		s.logger.Debug("request",
			"method", r.Method,
			"route", route,
			"status", rec.status,
			"elapsed", elapsed,
		)
	})
}

// statusRecorder captures the response status. It passes Hijack through so
// WebSocket upgrades work behind it.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	r.wroteHeader = true
	return hj.Hijack()
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
