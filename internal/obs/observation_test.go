package obs

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNew_TypeFollowsPayload(t *testing.T) {
	tests := []struct {
		payload Payload
		want    Type
	}{
		{MessagePayload{Text: "x"}, TypeMessage},
		{SchedulePayload{ScheduleID: "s"}, TypeSchedule},
		{AlertPayload{AlertType: "a", Severity: SeverityLow}, TypeAlert},
		{ControlPayload{Kind: "k"}, TypeControl},
		{SystemPayload{Kind: "tick"}, TypeSystem},
		{WorldDataPayload{SchemaID: "w", Data: map[string]any{}}, TypeWorldData},
	}
	for _, tt := range tests {
		o := New("src", SourceExternal, Actor{ActorID: "u1", ActorType: ActorUser}, tt.payload)
		if o.Type != tt.want {
			t.Errorf("payload %T: type = %s, want %s", tt.payload, o.Type, tt.want)
		}
		if o.ID == "" {
			t.Error("missing obs id")
		}
		if o.Timestamp.After(o.ReceivedAt) {
			t.Errorf("timestamp %v after received_at %v", o.Timestamp, o.ReceivedAt)
		}
	}
}

func TestNew_UniqueIDs(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		o := New("src", SourceExternal, Actor{}, MessagePayload{Text: "x"})
		if seen[o.ID] {
			t.Fatalf("duplicate id %s", o.ID)
		}
		seen[o.ID] = true
	}
}

func TestIsFromAgent(t *testing.T) {
	agent := FromAgent("speaker", Actor{ActorID: "agent", ActorType: ActorSystem}, "user:u1", MessagePayload{Text: "r"})
	if !agent.IsFromAgent() {
		t.Error("FromAgent observation not recognized")
	}
	if agent.SourceName != "agent:speaker" {
		t.Errorf("source = %q", agent.SourceName)
	}

	external := New("text_input", SourceExternal, Actor{}, MessagePayload{Text: "x"})
	if external.IsFromAgent() {
		t.Error("external observation misclassified as agent")
	}
}

func TestClone_IsolatesMetadata(t *testing.T) {
	o := New("src", SourceExternal, Actor{}, MessagePayload{Text: "x"},
		WithMetadata(map[string]any{"k": "v"}))

	c := o.Clone()
	c.Metadata["k"] = "changed"
	c.Metadata["new"] = true

	if o.Metadata["k"] != "v" {
		t.Error("clone mutation leaked into original")
	}
	if _, ok := o.Metadata["new"]; ok {
		t.Error("clone key leaked into original")
	}
}

func TestWireRoundTrip(t *testing.T) {
	o := New("text_input", SourceExternal,
		Actor{ActorID: "u1", ActorType: ActorUser, DisplayName: "User One"},
		MessagePayload{Text: "hello wire"},
		WithSessionKey("user:u1"),
		WithEvidence(Evidence{RawEventID: "raw-1"}))

	data, err := json.Marshal(o)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	got, err := DecodeJSON(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != o.ID {
		t.Errorf("id = %q, want %q", got.ID, o.ID)
	}
	if got.Type != TypeMessage {
		t.Errorf("type = %s", got.Type)
	}
	if got.SessionKey != "user:u1" {
		t.Errorf("session = %q", got.SessionKey)
	}
	mp, ok := got.Payload.(MessagePayload)
	if !ok || mp.Text != "hello wire" {
		t.Errorf("payload = %#v", got.Payload)
	}
	if got.Evidence == nil || got.Evidence.RawEventID != "raw-1" {
		t.Errorf("evidence = %+v", got.Evidence)
	}
}

func TestDecodeJSON_Validation(t *testing.T) {
	cases := map[string]string{
		"unknown type":    `{"obs_type":"NOPE","source_name":"x","actor":{},"payload":{}}`,
		"missing payload": `{"obs_type":"MESSAGE","source_name":"x","actor":{}}`,
		"missing source":  `{"obs_type":"MESSAGE","actor":{},"payload":{"text":"t"}}`,
	}
	for name, doc := range cases {
		if _, err := DecodeJSON([]byte(doc)); err == nil {
			t.Errorf("%s: expected decode error", name)
		}
	}
}

func TestDecodeJSON_FillsDefaults(t *testing.T) {
	doc := `{"obs_type":"MESSAGE","source_name":"x","actor":{"actor_id":"u1","actor_type":"user"},"payload":{"text":"t"}}`
	o, err := DecodeJSON([]byte(doc))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if o.SourceKind != SourceExternal {
		t.Errorf("source_kind = %s, want EXTERNAL", o.SourceKind)
	}
	if o.ID == "" {
		t.Error("id not minted")
	}
	if o.ReceivedAt.IsZero() || o.ReceivedAt.After(time.Now().Add(time.Second)) {
		t.Errorf("received_at = %v", o.ReceivedAt)
	}
}
