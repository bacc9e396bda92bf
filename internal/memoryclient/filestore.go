package memoryclient

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gatewright/gatewright/internal/gatetypes"
	"github.com/gatewright/gatewright/internal/obs"
	"github.com/gatewright/gatewright/internal/secrets"
)

// FileStore persists memory as directories per session key, each holding
// meta.json + events.jsonl + turns.jsonl. Turn completion is recorded
// append-only: the last turns.jsonl record for a turn_id wins.
type FileStore struct {
	mu        sync.Mutex
	baseDir   string
	encryptor *secrets.Encryptor // nil = evidence stored in the clear

	turnSessions map[string]string // turn_id -> session key, for FinishTurn routing
}

// NewFileStore creates a FileStore rooted at baseDir. encryptor may be nil.
func NewFileStore(baseDir string, encryptor *secrets.Encryptor) *FileStore {
	return &FileStore{
		baseDir:      baseDir,
		encryptor:    encryptor,
		turnSessions: make(map[string]string),
	}
}

// sessionMeta is the per-session meta.json document.
type sessionMeta struct {
	SessionKey string    `json:"session_key"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	EventCount int       `json:"event_count"`
	TurnCount  int       `json:"turn_count"`
}

// EventRecord is one persisted Observation.
type EventRecord struct {
	EventID     string         `json:"event_id"`
	ObsID       string         `json:"obs_id"`
	ObsType     string         `json:"obs_type"`
	SourceName  string         `json:"source_name"`
	ActorID     string         `json:"actor_id"`
	SessionKey  string         `json:"session_key"`
	Timestamp   time.Time      `json:"timestamp"`
	Text        string         `json:"text,omitempty"`
	EvidenceURI string         `json:"evidence_uri,omitempty"`
	Gate        map[string]any `json:"gate,omitempty"`
}

// TurnRecord is one turn lifecycle entry; a turn appears twice, once open
// and once finished.
type TurnRecord struct {
	TurnID           string    `json:"turn_id"`
	SessionKey       string    `json:"session_key"`
	InputEventID     string    `json:"input_event_id,omitempty"`
	StartedAt        time.Time `json:"started_at,omitempty"`
	FinishedAt       time.Time `json:"finished_at,omitempty"`
	Status           string    `json:"status,omitempty"`
	FinalOutputObsID string    `json:"final_output_obs_id,omitempty"`
	Error            string    `json:"error,omitempty"`
}

func (fs *FileStore) sessionDir(sessionKey string) string {
	return filepath.Join(fs.baseDir, sanitizeKey(sessionKey))
}

// sanitizeKey makes a session key filesystem-safe ("user:u1" -> "user_u1").
func sanitizeKey(sk string) string {
	return strings.NewReplacer(":", "_", "/", "_", "\\", "_").Replace(sk)
}

// AppendEvent implements Service.
func (fs *FileStore) AppendEvent(_ context.Context, o obs.Observation, sessionKey string, gate *gatetypes.GateDecision) (string, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	rec := EventRecord{
		EventID:    "evt_" + uuid.New().String()[:8],
		ObsID:      o.ID,
		ObsType:    string(o.Type),
		SourceName: o.SourceName,
		ActorID:    o.Actor.ActorID,
		SessionKey: sessionKey,
		Timestamp:  o.Timestamp,
	}
	if mp, ok := o.Payload.(obs.MessagePayload); ok {
		rec.Text = mp.Text
	}
	if o.Evidence != nil && o.Evidence.RawEventURI != "" {
		uri := o.Evidence.RawEventURI
		if fs.encryptor != nil {
			sealed, err := fs.encryptor.Seal(uri)
			if err != nil {
				return "", fmt.Errorf("seal evidence uri: %w", err)
			}
			uri = sealed
		}
		rec.EvidenceURI = uri
	}
	if gate != nil {
		rec.Gate = map[string]any{
			"action": string(gate.Action),
			"scene":  string(gate.Scene),
			"score":  gate.Score,
		}
	}

	if err := fs.appendJSONL(sessionKey, "events.jsonl", rec); err != nil {
		return "", err
	}
	if err := fs.bumpMeta(sessionKey, func(m *sessionMeta) { m.EventCount++ }); err != nil {
		return "", err
	}
	return rec.EventID, nil
}

// AppendTurn implements Service.
func (fs *FileStore) AppendTurn(_ context.Context, sessionKey, inputEventID string) (string, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	rec := TurnRecord{
		TurnID:       "turn_" + uuid.New().String()[:8],
		SessionKey:   sessionKey,
		InputEventID: inputEventID,
		StartedAt:    time.Now().UTC(),
	}
	if err := fs.appendJSONL(sessionKey, "turns.jsonl", rec); err != nil {
		return "", err
	}
	if err := fs.bumpMeta(sessionKey, func(m *sessionMeta) { m.TurnCount++ }); err != nil {
		return "", err
	}
	fs.turnSessions[rec.TurnID] = sessionKey
	return rec.TurnID, nil
}

// FinishTurn implements Service.
func (fs *FileStore) FinishTurn(_ context.Context, turnID, finalOutputObsID, status, errMsg string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	sessionKey, ok := fs.turnSessions[turnID]
	if !ok {
		return fmt.Errorf("unknown turn: %s", turnID)
	}
	delete(fs.turnSessions, turnID)

	rec := TurnRecord{
		TurnID:           turnID,
		SessionKey:       sessionKey,
		FinishedAt:       time.Now().UTC(),
		Status:           status,
		FinalOutputObsID: finalOutputObsID,
		Error:            errMsg,
	}
	return fs.appendJSONL(sessionKey, "turns.jsonl", rec)
}

// Close implements Service. The FileStore holds no open handles between
// calls, so this only clears the turn index.
func (fs *FileStore) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.turnSessions = make(map[string]string)
	return nil
}

// LoadEvents reads all persisted events for a session, oldest first.
func (fs *FileStore) LoadEvents(sessionKey string) ([]EventRecord, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	var out []EventRecord
	err := fs.scanJSONL(sessionKey, "events.jsonl", func(line []byte) {
		var rec EventRecord
		if json.Unmarshal(line, &rec) == nil {
			out = append(out, rec)
		}
	})
	return out, err
}

// LoadTurns reads the effective (last-record-wins) state of every turn for a
// session, in first-seen order.
func (fs *FileStore) LoadTurns(sessionKey string) ([]TurnRecord, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	byID := map[string]*TurnRecord{}
	var order []string
	err := fs.scanJSONL(sessionKey, "turns.jsonl", func(line []byte) {
		var rec TurnRecord
		if json.Unmarshal(line, &rec) != nil {
			return
		}
		if existing, ok := byID[rec.TurnID]; ok {
			if !rec.FinishedAt.IsZero() {
				existing.FinishedAt = rec.FinishedAt
				existing.Status = rec.Status
				existing.FinalOutputObsID = rec.FinalOutputObsID
				existing.Error = rec.Error
			}
			return
		}
		r := rec
		byID[rec.TurnID] = &r
		order = append(order, rec.TurnID)
	})
	if err != nil {
		return nil, err
	}
	out := make([]TurnRecord, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	return out, nil
}

func (fs *FileStore) appendJSONL(sessionKey, file string, v any) error {
	dir := fs.sessionDir(sessionKey)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(dir, file), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", file, err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write %s: %w", file, err)
	}
	return nil
}

func (fs *FileStore) scanJSONL(sessionKey, file string, fn func(line []byte)) error {
	f, err := os.Open(filepath.Join(fs.sessionDir(sessionKey), file))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open %s: %w", file, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		fn(line)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan %s: %w", file, err)
	}
	return nil
}

// bumpMeta atomically rewrites meta.json using a temp file + rename.
func (fs *FileStore) bumpMeta(sessionKey string, mutate func(*sessionMeta)) error {
	path := filepath.Join(fs.sessionDir(sessionKey), "meta.json")

	m := sessionMeta{SessionKey: sessionKey, CreatedAt: time.Now().UTC()}
	if data, err := os.ReadFile(path); err == nil {
		_ = json.Unmarshal(data, &m)
	}
	mutate(&m)
	m.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal meta: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write meta tmp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename meta: %w", err)
	}
	return nil
}
