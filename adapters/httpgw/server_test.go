package httpgw

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gatewright/gatewright/internal/bus"
	"github.com/gatewright/gatewright/internal/obs"
)

func newTestServer(t *testing.T) (*Server, *bus.Bus) {
	t.Helper()
	b := bus.New(64)
	t.Cleanup(b.Close)
	return NewServer(b, nil, nil, "localhost", 0), b
}

func TestHandleHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	w := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("expected status %q, got %q", "ok", body["status"])
	}
}

func TestHandleObserve_PublishesToBus(t *testing.T) {
	srv, b := newTestServer(t)

	payload := `{
		"obs_type": "MESSAGE",
		"source_name": "text_input",
		"actor": {"actor_id": "u1", "actor_type": "user"},
		"payload": {"text": "hello over http"}
	}`

	req := httptest.NewRequest(http.MethodPost, "/api/observe", strings.NewReader(payload))
	w := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if ok, _ := body["ok"].(bool); !ok {
		t.Fatalf("expected ok=true, got %v", body)
	}

	select {
	case o := <-b.Consume():
		if o.Type != obs.TypeMessage {
			t.Errorf("type = %q, want MESSAGE", o.Type)
		}
		mp, ok := o.Payload.(obs.MessagePayload)
		if !ok || mp.Text != "hello over http" {
			t.Errorf("payload = %#v", o.Payload)
		}
	default:
		t.Fatal("nothing published to bus")
	}
}

func TestHandleObserve_RejectsUnknownObsType(t *testing.T) {
	srv, _ := newTestServer(t)

	payload := `{"obs_type": "NOT_A_TYPE", "source_name": "x", "actor": {}, "payload": {}}`
	req := httptest.NewRequest(http.MethodPost, "/api/observe", strings.NewReader(payload))
	w := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestHandleObservations_ReturnsHistory(t *testing.T) {
	srv, b := newTestServer(t)

	o := obs.New("text_input", obs.SourceExternal,
		obs.Actor{ActorID: "u1", ActorType: obs.ActorUser},
		obs.MessagePayload{Text: "in history"})
	b.PublishNowait(o)

	req := httptest.NewRequest(http.MethodGet, "/api/observations?limit=10", nil)
	w := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var got []map[string]any
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 observation, got %d", len(got))
	}
	if got[0]["obs_id"] != o.ID {
		t.Errorf("obs_id = %v, want %s", got[0]["obs_id"], o.ID)
	}
}

func TestHandleSessions_Unavailable(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	w := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without a sessions source, got %d", w.Code)
	}
}
