package schedtick

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	cron "github.com/netresearch/go-cron"
)

// DefaultCooldown is the minimum interval between two firings of the same
// entry, protecting against the minute matcher firing twice inside one
// scheduled minute.
const DefaultCooldown = 60 * time.Second

// Entry is one cron-driven SCHEDULE producer. The Data map rides along on
// every SchedulePayload the entry fires.
type Entry struct {
	ID         string         `json:"id"`
	Cron       string         `json:"cron"`
	SessionKey string         `json:"session_key,omitempty"` // empty = system session
	Data       map[string]any `json:"data,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`

	sched     cron.Schedule
	lastFired time.Time
}

// GenerateEntryID mints a short schedule id.
func GenerateEntryID() string {
	u := uuid.New().String()
	return "sched_" + strings.ReplaceAll(u[:8], "-", "")
}

// compileSpec parses an entry's 5-field cron spec. SCHEDULE ticks are
// minute-grained, so seconds fields are rejected.
func compileSpec(spec string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("schedule spec %q: %w", spec, err)
	}
	return sched, nil
}

// compile parses the entry's spec, caching the schedule.
func (e *Entry) compile() error {
	if e.sched != nil {
		return nil
	}
	sched, err := compileSpec(e.Cron)
	if err != nil {
		return err
	}
	e.sched = sched
	return nil
}

// fireMinute reports whether the entry's schedule has an activation inside
// the minute containing t: stepping the schedule forward from the top of
// the previous minute must land exactly on t's minute.
func (e *Entry) fireMinute(t time.Time) bool {
	minute := t.Truncate(time.Minute)
	return e.sched.Next(minute.Add(-time.Minute)).Equal(minute)
}

// due reports whether the entry should fire a SCHEDULE at now, honoring the
// per-entry cooldown.
func (e *Entry) due(now time.Time) bool {
	if e.sched == nil {
		return false
	}
	if !e.lastFired.IsZero() && now.Sub(e.lastFired) < DefaultCooldown {
		return false
	}
	return e.fireMinute(now)
}
