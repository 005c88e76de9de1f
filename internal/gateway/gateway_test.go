package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"github.com/haasonsaas/agentor/internal/approval"
)

func TestServer_BroadcastsRequestToWebsocketSubscriber(t *testing.T) {
	ch := approval.NewBroadcastChannel(nil)
	srv := NewServer(ch, nil, nil)

	ts := httptest.NewServer(http.HandlerFunc(srv.ServeWS))
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	resultCh := make(chan approval.Decision, 1)
	go func() {
		d, err := ch.RequestApproval(context.Background(), approval.Request{ID: "req-1", ToolName: "shell_exec"}, 2*time.Second)
		if err != nil {
			t.Errorf("RequestApproval() error = %v", err)
		}
		resultCh <- d
	}()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}

	var frame requestFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if frame.Type != "approval_request" || frame.Request.ID != "req-1" {
		t.Fatalf("frame = %+v, want approval_request for req-1", frame)
	}

	body, _ := json.Marshal(decisionPayload{Approved: true, Reason: "looks fine"})
	req := httptest.NewRequest(http.MethodPost, "/approvals/req-1/decide", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeDecision(rec, req, "req-1")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("ServeDecision() status = %d, want 204", rec.Code)
	}

	select {
	case d := <-resultCh:
		if !d.Approved || d.Reason != "looks fine" {
			t.Errorf("decision = %+v, want approved with reason", d)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for decision")
	}
}

func TestServer_DecisionForUnknownRequestReturns404(t *testing.T) {
	ch := approval.NewBroadcastChannel(nil)
	srv := NewServer(ch, nil, nil)

	body, _ := json.Marshal(decisionPayload{Approved: true})
	req := httptest.NewRequest(http.MethodPost, "/approvals/nope/decide", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeDecision(rec, req, "nope")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestServer_JWTAuthRejectsMissingToken(t *testing.T) {
	ch := approval.NewBroadcastChannel(nil)
	srv := NewServer(ch, []byte("test-secret"), nil)

	req := httptest.NewRequest(http.MethodPost, "/approvals/req-1/decide", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	srv.ServeDecision(rec, req, "req-1")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestServer_JWTAuthAcceptsValidToken(t *testing.T) {
	secret := []byte("test-secret")
	ch := approval.NewBroadcastChannel(nil)
	srv := NewServer(ch, secret, nil)
	ch.RequestApproval(context.Background(), approval.Request{ID: "req-x"}, time.Millisecond)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "operator"})
	signed, err := token.SignedString(secret)
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/approvals/req-x/decide", bytes.NewReader([]byte(`{"approved":true}`)))
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	srv.ServeDecision(rec, req, "req-x")
	// The request already timed out by the time we resolve it, so
	// Resolve finds nothing outstanding; what we're proving here is
	// that auth passes and the handler reaches the Resolve call.
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 (authorized but no outstanding request)", rec.Code)
	}
}
