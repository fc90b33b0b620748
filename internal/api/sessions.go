package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// ListSessions returns the caller's eligible patient sessions, newest first.
func (c *Client) ListSessions(ctx context.Context, opts *ListSessionsOptions) (*SessionsResponse, error) {
	query := url.Values{}
	if opts != nil {
		if opts.Status != "" {
			query.Set("status", string(opts.Status))
		}
		if opts.Limit > 0 {
			query.Set("limit", strconv.Itoa(opts.Limit))
		}
	}

	var resp SessionsResponse
	if err := c.call(ctx, http.MethodGet, "/api/patient-sessions", query, nil, &resp); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return &resp, nil
}

// CreateSession creates a session and makes it current.
func (c *Client) CreateSession(ctx context.Context, req CreateSessionRequest) (*SessionResponse, error) {
	var resp SessionResponse
	if err := c.call(ctx, http.MethodPost, "/api/patient-sessions", nil, req, &resp); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &resp, nil
}

// UpdateSession applies a partial update.
func (c *Client) UpdateSession(ctx context.Context, req UpdateSessionRequest) (*SessionResponse, error) {
	var resp SessionResponse
	if err := c.call(ctx, http.MethodPut, "/api/patient-sessions", nil, req, &resp); err != nil {
		return nil, fmt.Errorf("update session %s: %w", req.ID, err)
	}
	return &resp, nil
}

// DeleteSession soft-deletes one session. The response names the session
// that is current afterwards.
func (c *Client) DeleteSession(ctx context.Context, id string) (*SessionResponse, error) {
	var resp SessionResponse
	query := url.Values{"sessionId": {id}}
	if err := c.call(ctx, http.MethodDelete, "/api/patient-sessions", query, nil, &resp); err != nil {
		return nil, fmt.Errorf("delete session %s: %w", id, err)
	}
	return &resp, nil
}

// DeleteAllSessions soft-deletes every session of the caller.
func (c *Client) DeleteAllSessions(ctx context.Context) (*SessionResponse, error) {
	var resp SessionResponse
	query := url.Values{"deleteAll": {"true"}}
	if err := c.call(ctx, http.MethodDelete, "/api/patient-sessions", query, nil, &resp); err != nil {
		return nil, fmt.Errorf("delete all sessions: %w", err)
	}
	return &resp, nil
}

// CurrentPatientSession returns the caller's current session, creating a
// placeholder when none is eligible.
func (c *Client) CurrentPatientSession(ctx context.Context) (*SessionResponse, error) {
	var resp SessionResponse
	if err := c.call(ctx, http.MethodGet, "/api/patient-sessions/current", nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("get current patient session: %w", err)
	}
	return &resp, nil
}

// AppendTranscription adds a transcript to session id, or to the current
// session when id is empty.
func (c *Client) AppendTranscription(ctx context.Context, id string, req AppendTranscriptionRequest) (*SessionResponse, error) {
	if id == "" {
		id = "current"
	}
	path := "/api/patient-sessions/" + url.PathEscape(id) + "/transcriptions"

	var resp SessionResponse
	if err := c.call(ctx, http.MethodPost, path, nil, req, &resp); err != nil {
		return nil, fmt.Errorf("append transcription: %w", err)
	}
	return &resp, nil
}

// SwitchPatient makes id the caller's current session.
func (c *Client) SwitchPatient(ctx context.Context, id string) (*SessionResponse, error) {
	return c.UpdateSession(ctx, UpdateSessionRequest{ID: id, MakeCurrent: true})
}
