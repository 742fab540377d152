package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/harbourdeck/callpoint-core/internal/provision"
)

// issueTokenRequest is the body of POST /provision/tokens.
type issueTokenRequest struct {
	Room string `json:"room"`

	// TTLSeconds overrides the configured default token lifetime.
	// Omitted means the default; an explicit zero is honoured (the
	// token expires immediately, useful for testing expiry paths).
	TTLSeconds *int `json:"ttl_seconds,omitempty"`
}

// handleIssueToken creates a PENDING provisioning token for a room and
// returns it with its QR-encodable payload.
func (s *Server) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	var req issueTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	ttl := s.defaultTTL
	if req.TTLSeconds != nil {
		ttl = time.Duration(*req.TTLSeconds) * time.Second
	}

	token, err := s.coordinator.Issue(r.Context(), req.Room, ttl)
	if err != nil {
		writeProvisionError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, token)
}

// handleListTokens returns the token history, newest first. PENDING
// tokens past their deadline are persisted as EXPIRED before the page is
// returned.
func (s *Server) handleListTokens(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := provision.ListFilter{
		IncludeDeleted: q.Get("include_deleted") == "true",
	}

	if status := q.Get("status"); status != "" {
		ts := provision.TokenStatus(status)
		if !ts.Valid() {
			writeBadRequest(w, "unknown status: "+status)
			return
		}
		filter.Status = ts
	}

	var err error
	if filter.Limit, err = queryInt(q.Get("limit")); err != nil {
		writeBadRequest(w, "limit must be an integer")
		return
	}
	if filter.Offset, err = queryInt(q.Get("offset")); err != nil {
		writeBadRequest(w, "offset must be an integer")
		return
	}

	result, err := s.coordinator.ListHistory(r.Context(), filter)
	if err != nil {
		writeProvisionError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleGetToken returns a single token, applying lazy expiry on the read.
func (s *Server) handleGetToken(w http.ResponseWriter, r *http.Request) {
	token, err := s.coordinator.GetToken(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		writeProvisionError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, token)
}

// handleCancelToken cancels a PENDING or CLAIMED token. Cancelling a
// token in any other state is a conflict carrying the blocking status.
func (s *Server) handleCancelToken(w http.ResponseWriter, r *http.Request) {
	token, err := s.coordinator.Cancel(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		writeProvisionError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, token)
}

// handleDeleteToken soft-deletes a token. The caller must identify
// itself with an X-Requester-ID header; the deletion is recorded in the
// token's provision log and the row survives for history queries.
func (s *Server) handleDeleteToken(w http.ResponseWriter, r *http.Request) {
	requesterID := r.Header.Get("X-Requester-ID")

	if err := s.coordinator.SoftDelete(r.Context(), chi.URLParam(r, "token"), requesterID); err != nil {
		writeProvisionError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleTokenLogs returns the append-only provision log for a token.
func (s *Server) handleTokenLogs(w http.ResponseWriter, r *http.Request) {
	entries, err := s.coordinator.History(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		writeProvisionError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

// queryInt parses an optional non-negative integer query parameter.
func queryInt(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, strconv.ErrSyntax
	}
	return v, nil
}
