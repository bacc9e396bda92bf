package core

import (
	"time"

	"github.com/gatewright/gatewright/internal/obs"
)

// onDispatch is the router's post-routing hook. Every Observation goes to
// the EgressHub; system-session Observations additionally feed Nociception,
// the Reflex Controller, and — for SCHEDULE — the fan-out logic.
func (c *Core) onDispatch(sessionKey string, o obs.Observation, enqueued bool) {
	c.egress.Dispatch(o)
	now := time.Now().UTC()

	// tuning_suggestion CONTROLs apply on the system session; the TTL
	// revert check fires on any traffic at all.
	if sessionKey == c.cfg.Core.SystemSessionKey {
		for _, emit := range c.reflex.HandleObservation(o, now) {
			if c.metrics != nil {
				if cp, ok := emit.Payload.(obs.ControlPayload); ok && cp.Kind == "tuning_applied" {
					accepted, _ := cp.Data["accepted"].(bool)
					c.metrics.IncTuningApplied(accepted)
				}
			}
			c.bus.PublishNowait(emit)
		}
	} else {
		for _, emit := range c.reflex.EvaluateTTL(now) {
			c.bus.PublishNowait(emit)
		}
		return
	}

	if o.Type == obs.TypeAlert {
		if c.noci.HandleAlert(o, now) && c.metrics != nil {
			c.metrics.IncAdapterCooldown(string(o.SourceKind) + ":" + o.SourceName)
		}
	}

	if o.Type == obs.TypeSchedule && enqueued && c.cfg.Core.EnableSystemFanout {
		c.fanOut(o, now)
	}
}

// fanOut copies a system-session SCHEDULE to every other active session's
// inbox (drop-newest locally on a full inbox) and reports one aggregated
// ALERT to the system session when anything was dropped.
func (c *Core) fanOut(o obs.Observation, now time.Time) {
	if c.noci.IsFanoutSuppressed(now) {
		return
	}

	dropped := 0
	for _, sk := range c.router.ListActiveSessions() {
		if sk == c.cfg.Core.SystemSessionKey {
			continue
		}
		copyObs := o.Clone()
		copyObs.SessionKey = sk
		copyObs.Metadata["fanout"] = true
		if !c.router.GetInbox(sk).PutNowait(copyObs) {
			dropped++
		}
	}

	if dropped > 0 {
		scheduleID := ""
		if sp, ok := o.Payload.(obs.SchedulePayload); ok {
			scheduleID = sp.ScheduleID
		}
		alert := obs.New("core:fanout", obs.SourceInternal,
			obs.Actor{ActorID: "system", ActorType: obs.ActorSystem},
			obs.AlertPayload{
				AlertType: "fanout_inbox_full",
				Severity:  obs.SeverityLow,
				Message:   "schedule fan-out dropped observations at full inboxes",
				Data:      map[string]any{"dropped": dropped, "schedule_id": scheduleID},
			},
			obs.WithSessionKey(c.cfg.Core.SystemSessionKey))
		c.bus.PublishNowait(alert)
	}
}

// tickLoop drives the periodic system work: the drop-rate check feeding
// fan-out suppression, metric counter syncing, and a SYSTEM liveness tick
// on the system session.
func (c *Core) tickLoop(every time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			droppedTotal := c.bus.DroppedTotal() + c.router.DroppedTotal()
			if c.noci.CheckDropRate(droppedTotal, now.UTC()) && c.metrics != nil {
				c.metrics.IncDropsOverload()
			}
			c.syncCounterMetrics()

			tick := obs.New("core:tick", obs.SourceInternal,
				obs.Actor{ActorID: "system", ActorType: obs.ActorSystem},
				obs.SystemPayload{Kind: "tick"},
				obs.WithSessionKey(c.cfg.Core.SystemSessionKey))
			c.bus.PublishNowait(tick)
		}
	}
}

// syncCounterMetrics mirrors the Bus/Router lifetime counters onto the OTel
// instruments as deltas.
func (c *Core) syncCounterMetrics() {
	if c.metrics == nil {
		return
	}
	if p := c.bus.PublishedTotal(); p > c.lastBusPublished {
		for i := c.lastBusPublished; i < p; i++ {
			c.metrics.IncBusPublished()
		}
		c.lastBusPublished = p
	}
	if d := c.bus.DroppedTotal(); d > c.lastBusDropped {
		for i := c.lastBusDropped; i < d; i++ {
			c.metrics.IncBusDropped()
		}
		c.lastBusDropped = d
	}
	if d := c.router.DroppedTotal(); d > c.lastRouterDrops {
		for i := c.lastRouterDrops; i < d; i++ {
			c.metrics.IncRouterDropped("")
		}
		c.lastRouterDrops = d
	}
}

// --- introspection surfaces for the HTTP gateway ---

// ListActiveSessions implements httpgw.Sessions.
func (c *Core) ListActiveSessions() []string {
	return c.router.ListActiveSessions()
}

// SessionCounters implements httpgw.Sessions.
func (c *Core) SessionCounters(sessionKey string) (processed, errors uint64, ok bool) {
	s, ok := c.states.Peek(sessionKey)
	if !ok {
		return 0, 0, false
	}
	return s.ProcessedTotal(), s.ErrorTotal(), true
}

// RecentDropped, RecentSunk, and RecentTool implement httpgw.Pools.
func (c *Core) RecentDropped(limit int) []obs.Observation { return c.dropPool.Recent(limit) }
func (c *Core) RecentSunk(limit int) []obs.Observation    { return c.sinkPool.Recent(limit) }
func (c *Core) RecentTool(limit int) []obs.Observation    { return c.toolPool.Recent(limit) }
