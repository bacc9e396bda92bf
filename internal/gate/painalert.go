package gate

import "github.com/gatewright/gatewright/internal/obs"

// makePainAlert builds the ALERT Observation the hard-bypass stage emits
// for both the overload guard and the drop-burst escalation.
func makePainAlert(sourceID string, severity obs.Severity, message string, data map[string]any) obs.Observation {
	return obs.New(
		"gate:"+sourceID,
		obs.SourceInternal,
		obs.Actor{ActorID: "gate", ActorType: obs.ActorSystem},
		obs.AlertPayload{
			AlertType: sourceID,
			Severity:  severity,
			Message:   message,
			Data:      data,
		},
	)
}
