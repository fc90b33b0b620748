package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/clinicpro/dictation-sync/internal/api"
	"github.com/clinicpro/dictation-sync/internal/model"
	"github.com/clinicpro/dictation-sync/internal/pairing"
	"github.com/clinicpro/dictation-sync/internal/session"
	"github.com/clinicpro/dictation-sync/internal/version"
)

type healthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Database string `json:"database,omitempty"`
	Realtime bool   `json:"realtime"`
	Channels int    `json:"channels"`
	Peers    int    `json:"peers"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "healthy", Version: version.String(), Realtime: s.realtimeEnabled()}
	if s.hub != nil {
		stats := s.hub.Stats()
		resp.Channels = stats.Channels
		resp.Peers = stats.Peers
	}

	status := http.StatusOK
	if s.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := s.db.Ping(ctx); err != nil {
			s.logger.Warn("database ping failed", "error", err)
			resp.Status = "unhealthy"
			resp.Database = "disconnected"
			status = http.StatusServiceUnavailable
		} else {
			resp.Database = "connected"
		}
	}
	writeJSON(w, status, resp)
}

func (s *Server) realtimeEnabled() bool {
	return s.issuer != nil && s.hub != nil
}

// -----------------------------------------------------------------------------
// Realtime
// -----------------------------------------------------------------------------

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request, id model.Identity) {
	if !s.realtimeEnabled() {
		writeError(w, http.StatusServiceUnavailable, "realtime sync is not configured", api.CodeRealtimeNotConfigured)
		return
	}

	tr, err := s.issuer.Issue(id, s.endpoint(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Debug("issued realtime credential", "client_id", tr.ClientID, "channel", tr.Channel)
	writeJSON(w, http.StatusOK, api.TokenResponse{TokenRequest: tr})
}

type disconnectResponse struct {
	Disconnected int `json:"disconnected"`
}

// handleDisconnectAll drops every connection on the caller's channel.
func (s *Server) handleDisconnectAll(w http.ResponseWriter, r *http.Request, id model.Identity) {
	if s.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "realtime sync is not configured", api.CodeRealtimeNotConfigured)
		return
	}
	n := s.hub.CloseChannel(id.Channel())
	s.logger.Info("disconnected all devices", "channel", id.Channel(), "peers", n)
	writeJSON(w, http.StatusOK, disconnectResponse{Disconnected: n})
}

// -----------------------------------------------------------------------------
// Pairing
// -----------------------------------------------------------------------------

func (s *Server) handleCreatePairing(w http.ResponseWriter, r *http.Request, id model.Identity) {
	if id.Kind == model.IdentityPairing {
		writeError(w, http.StatusForbidden, "paired devices cannot mint pairing tokens", "")
		return
	}

	var req api.CreatePairingRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "")
		return
	}
	if req.SessionID != "" {
		if _, err := s.sessions.Get(r.Context(), id.UserID, req.SessionID); err != nil {
			s.fail(w, r, err)
			return
		}
	}

	t, err := s.pairing.Mint(r.Context(), id, req.SessionID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	link, err := pairing.MobileURL(s.mobileBase(r), t.Token)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, api.PairingTokenResponse{
		Token:     t.Token,
		MobileURL: link,
		ExpiresAt: t.ExpiresAt,
		IsGuest:   t.Guest,
	})
}

func (s *Server) handleValidatePairing(w http.ResponseWriter, r *http.Request) {
	var req api.ValidatePairingRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "")
		return
	}

	t, err := s.pairing.Validate(r.Context(), req.Token, req.SessionID)
	if err != nil {
		s.logger.Info("pairing validation failed", "error", err)
		s.fail(w, r, err)
		return
	}

	sessionID := t.SessionID
	if sessionID == "" {
		sessionID = req.SessionID
	}
	writeJSON(w, http.StatusOK, api.PairingResult{
		Valid:     true,
		SessionID: sessionID,
		UserID:    t.UserID,
		ExpiresAt: t.ExpiresAt,
		IsGuest:   t.Guest,
	})
}

// handlePairingSession returns the current patient session of the
// clinician that owns the pairing token.
func (s *Server) handlePairingSession(w http.ResponseWriter, r *http.Request) {
	id, err := s.pairing.Resolve(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	res, err := s.sessions.Current(r.Context(), id.UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.CurrentSessionResponse{
		SessionID:   res.CurrentSessionID,
		PatientName: res.Session.PatientName,
	})
}

// -----------------------------------------------------------------------------
// Patient sessions
// -----------------------------------------------------------------------------

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request, id model.Identity) {
	q := r.URL.Query()
	filter := session.ListFilter{
		Status: model.SessionStatus(q.Get("status")),
		Limit:  s.cfg.ListLimit,
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer", "")
			return
		}
		filter.Limit = limit
	}

	sessions, err := s.sessions.List(r.Context(), id.UserID, filter)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	current, err := s.sessions.Current(r.Context(), id.UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	if sessions == nil {
		sessions = []*model.PatientSession{}
	}
	writeJSON(w, http.StatusOK, api.SessionsResponse{
		Sessions:         sessions,
		CurrentSessionID: current.CurrentSessionID,
	})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request, id model.Identity) {
	var req api.CreateSessionRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "")
		return
	}

	created, err := s.sessions.Create(r.Context(), id.UserID, session.CreateInput{
		PatientName: req.PatientName,
		TemplateID:  req.TemplateID,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, api.SessionResponse{Session: created, CurrentSessionID: created.ID})
}

func (s *Server) handleUpdateSession(w http.ResponseWriter, r *http.Request, id model.Identity) {
	var req api.UpdateSessionRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "")
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "id is required", "")
		return
	}

	patch := session.Patch{
		PatientName: req.PatientName,
		TemplateID:  req.TemplateID,
		Status:      req.Status,
		Notes:       req.Notes,
	}
	hasPatch := patch.PatientName != nil || patch.TemplateID != nil || patch.Status != nil || patch.Notes != nil
	if !hasPatch && !req.MakeCurrent {
		writeError(w, http.StatusBadRequest, "nothing to update", "")
		return
	}

	ctx := r.Context()
	var (
		updated *model.PatientSession
		err     error
	)
	if hasPatch {
		if updated, err = s.sessions.Update(ctx, id.UserID, req.ID, patch); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	if req.MakeCurrent {
		if updated, err = s.sessions.SetCurrent(ctx, id.UserID, req.ID); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, api.SessionResponse{Session: updated, CurrentSessionID: updated.ID})
		return
	}

	current, err := s.sessions.Current(ctx, id.UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.SessionResponse{
		Session:          updated,
		CurrentSessionID: current.CurrentSessionID,
		CreatedNew:       current.CreatedNew,
	})
}

func (s *Server) handleDeleteSessions(w http.ResponseWriter, r *http.Request, id model.Identity) {
	q := r.URL.Query()

	var (
		res session.Result
		err error
	)
	switch {
	case q.Get("deleteAll") == "true":
		res, err = s.sessions.DeleteAll(r.Context(), id.UserID)
	case q.Get("sessionId") != "":
		res, err = s.sessions.Delete(r.Context(), id.UserID, q.Get("sessionId"))
	default:
		writeError(w, http.StatusBadRequest, "sessionId or deleteAll=true is required", "")
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resultResponse(res))
}

func (s *Server) handleCurrentSession(w http.ResponseWriter, r *http.Request, id model.Identity) {
	res, err := s.sessions.Current(r.Context(), id.UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resultResponse(res))
}

func (s *Server) handleAppendTranscription(w http.ResponseWriter, r *http.Request, id model.Identity) {
	sessionID := mux.Vars(r)["id"]
	if sessionID == "current" {
		sessionID = ""
	}

	var req api.AppendTranscriptionRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "")
		return
	}

	res, err := s.sessions.AppendTranscription(r.Context(), id.UserID, sessionID, model.Transcription{
		Transcript:         req.Transcript,
		DiarizedTranscript: req.DiarizedTranscript,
		Utterances:         req.Utterances,
		DeviceID:           req.DeviceID,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resultResponse(res))
}

func resultResponse(res session.Result) api.SessionResponse {
	return api.SessionResponse{
		Session:          res.Session,
		CurrentSessionID: res.CurrentSessionID,
		CreatedNew:       res.CreatedNew,
	}
}
