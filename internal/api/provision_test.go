package api

import (
	"net/http"
	"strings"
	"testing"
	"time"
)

func issueToken(t *testing.T, h *testHarness, room string, ttlSeconds *int) map[string]any {
	t.Helper()

	body := map[string]any{"room": room}
	if ttlSeconds != nil {
		body["ttl_seconds"] = *ttlSeconds
	}
	status, resp := h.do(http.MethodPost, "/api/v1/provision/tokens", body)
	if status != http.StatusCreated {
		t.Fatalf("expected 201 issuing token, got %d: %v", status, resp)
	}
	return resp
}

func intPtr(v int) *int { return &v }

func TestIssueTokenEndpoint(t *testing.T) {
	h := newTestServer(t)

	resp := issueToken(t, h, "cabin-12", nil)

	token, _ := resp["token"].(string)
	if !strings.HasPrefix(token, "tok-") {
		t.Errorf("expected tok- prefixed token, got %q", token)
	}
	if resp["status"] != "pending" {
		t.Errorf("expected pending status, got %v", resp["status"])
	}
	if resp["room"] != "cabin-12" {
		t.Errorf("expected room cabin-12, got %v", resp["room"])
	}

	qr, _ := resp["qr_payload"].(map[string]any)
	if qr == nil {
		t.Fatal("expected qr_payload in response")
	}
	if qr["mqttHost"] != "broker.local" {
		t.Errorf("expected advertised host broker.local, got %v", qr["mqttHost"])
	}
	if qr["mqttPort"] != float64(1883) {
		t.Errorf("expected advertised port 1883, got %v", qr["mqttPort"])
	}
}

func TestIssueTokenValidation(t *testing.T) {
	h := newTestServer(t)

	status, resp := h.do(http.MethodPost, "/api/v1/provision/tokens", map[string]any{"room": "  "})
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank room, got %d", status)
	}
	if resp["code"] != ErrCodeValidation {
		t.Errorf("expected validation_error code, got %v", resp["code"])
	}

	status, resp = h.do(http.MethodPost, "/api/v1/provision/tokens",
		map[string]any{"room": "cabin-12", "ttl_seconds": -30})
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400 for negative ttl, got %d: %v", status, resp)
	}
}

func TestGetTokenEndpoint(t *testing.T) {
	h := newTestServer(t)

	issued := issueToken(t, h, "cabin-4", nil)
	token := issued["token"].(string)

	status, resp := h.do(http.MethodGet, "/api/v1/provision/tokens/"+token, nil)
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if resp["token"] != token {
		t.Errorf("expected token %q, got %v", token, resp["token"])
	}

	status, resp = h.do(http.MethodGet, "/api/v1/provision/tokens/tok-does-not-exist", nil)
	if status != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown token, got %d", status)
	}
	if resp["code"] != ErrCodeNotFound {
		t.Errorf("expected not_found code, got %v", resp["code"])
	}
}

func TestGetTokenAppliesLazyExpiry(t *testing.T) {
	h := newTestServer(t)

	// An explicit zero TTL expires as soon as the clock moves.
	issued := issueToken(t, h, "cabin-7", intPtr(0))
	token := issued["token"].(string)

	h.advance(time.Second)

	status, resp := h.do(http.MethodGet, "/api/v1/provision/tokens/"+token, nil)
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if resp["status"] != "expired" {
		t.Errorf("expected expired status after deadline, got %v", resp["status"])
	}
}

func TestCancelTokenEndpoint(t *testing.T) {
	h := newTestServer(t)

	issued := issueToken(t, h, "cabin-2", nil)
	token := issued["token"].(string)

	status, resp := h.do(http.MethodPost, "/api/v1/provision/tokens/"+token+"/cancel", nil)
	if status != http.StatusOK {
		t.Fatalf("expected 200 cancelling, got %d: %v", status, resp)
	}
	if resp["status"] != "cancelled" {
		t.Errorf("expected cancelled status, got %v", resp["status"])
	}

	// A second cancel is a state conflict naming the blocking status.
	status, resp = h.do(http.MethodPost, "/api/v1/provision/tokens/"+token+"/cancel", nil)
	if status != http.StatusConflict {
		t.Fatalf("expected 409 on repeat cancel, got %d", status)
	}
	if resp["code"] != ErrCodeConflict {
		t.Errorf("expected conflict code, got %v", resp["code"])
	}
	msg, _ := resp["message"].(string)
	if !strings.Contains(msg, "cancelled") {
		t.Errorf("expected conflict message to name the blocking status, got %q", msg)
	}

	status, _ = h.do(http.MethodPost, "/api/v1/provision/tokens/tok-missing/cancel", nil)
	if status != http.StatusNotFound {
		t.Fatalf("expected 404 cancelling unknown token, got %d", status)
	}
}

func TestDeleteTokenEndpoint(t *testing.T) {
	h := newTestServer(t)

	issued := issueToken(t, h, "cabin-9", nil)
	token := issued["token"].(string)

	// Deletion requires the caller to identify itself.
	status, resp := h.do(http.MethodDelete, "/api/v1/provision/tokens/"+token, nil)
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400 without X-Requester-ID, got %d: %v", status, resp)
	}

	req, err := http.NewRequest(http.MethodDelete, h.ts.URL+"/api/v1/provision/tokens/"+token, nil)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	req.Header.Set("X-Requester-ID", "operator-7")
	status, _ = h.send(req)
	if status != http.StatusNoContent {
		t.Fatalf("expected 204 deleting, got %d", status)
	}

	// The provision log survives the deletion and records the requester.
	status, resp = h.do(http.MethodGet, "/api/v1/provision/tokens/"+token+"/logs", nil)
	if status != http.StatusOK {
		t.Fatalf("expected 200 fetching logs, got %d", status)
	}
	entries, _ := resp["entries"].([]any)
	if len(entries) == 0 {
		t.Fatal("expected provision log entries after deletion")
	}
	last, _ := entries[len(entries)-1].(map[string]any)
	if last["action"] != "deleted" {
		t.Errorf("expected final log action deleted, got %v", last["action"])
	}

	// Repeat deletion is a conflict.
	req, err = http.NewRequest(http.MethodDelete, h.ts.URL+"/api/v1/provision/tokens/"+token, nil)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	req.Header.Set("X-Requester-ID", "operator-7")
	status, _ = h.send(req)
	if status != http.StatusConflict {
		t.Fatalf("expected 409 on repeat delete, got %d", status)
	}
}

func TestListTokensEndpoint(t *testing.T) {
	h := newTestServer(t)

	issueToken(t, h, "cabin-1", nil)
	issueToken(t, h, "cabin-2", nil)
	cancelled := issueToken(t, h, "cabin-3", nil)
	token := cancelled["token"].(string)
	if status, _ := h.do(http.MethodPost, "/api/v1/provision/tokens/"+token+"/cancel", nil); status != http.StatusOK {
		t.Fatalf("cancelling setup token failed: %d", status)
	}

	status, resp := h.do(http.MethodGet, "/api/v1/provision/tokens", nil)
	if status != http.StatusOK {
		t.Fatalf("expected 200 listing, got %d", status)
	}
	if resp["total"] != float64(3) {
		t.Errorf("expected total 3, got %v", resp["total"])
	}

	status, resp = h.do(http.MethodGet, "/api/v1/provision/tokens?status=pending", nil)
	if status != http.StatusOK {
		t.Fatalf("expected 200 listing pending, got %d", status)
	}
	if resp["total"] != float64(2) {
		t.Errorf("expected 2 pending tokens, got %v", resp["total"])
	}

	status, resp = h.do(http.MethodGet, "/api/v1/provision/tokens?limit=1&offset=1", nil)
	if status != http.StatusOK {
		t.Fatalf("expected 200 for paginated list, got %d", status)
	}
	tokens, _ := resp["tokens"].([]any)
	if len(tokens) != 1 {
		t.Errorf("expected one token on the page, got %d", len(tokens))
	}

	status, _ = h.do(http.MethodGet, "/api/v1/provision/tokens?status=bogus", nil)
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status filter, got %d", status)
	}

	status, _ = h.do(http.MethodGet, "/api/v1/provision/tokens?limit=abc", nil)
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-integer limit, got %d", status)
	}
}

func TestTokenLogsEndpoint(t *testing.T) {
	h := newTestServer(t)

	issued := issueToken(t, h, "cabin-5", nil)
	token := issued["token"].(string)

	status, resp := h.do(http.MethodGet, "/api/v1/provision/tokens/"+token+"/logs", nil)
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	entries, _ := resp["entries"].([]any)
	if len(entries) != 1 {
		t.Fatalf("expected one log entry after issue, got %d", len(entries))
	}
	first, _ := entries[0].(map[string]any)
	if first["action"] != "created" {
		t.Errorf("expected created action, got %v", first["action"])
	}

	status, _ = h.do(http.MethodGet, "/api/v1/provision/tokens/tok-missing/logs", nil)
	if status != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown token, got %d", status)
	}
}
