package moderation

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Event describes a handled decision, emitted for the content owner's
// notification after any mutation has succeeded.
type Event struct {
	ID         string    `json:"id"`
	ContentID  string    `json:"content_id"`
	Action     Action    `json:"action"`
	Reason     string    `json:"reason,omitempty"`
	DecisionID string    `json:"decision_id,omitempty"`
	AppealURL  string    `json:"appeal_url,omitempty"`
	At         time.Time `json:"at"`
}

// Incident is a closed vendor investigation. It drives a notification only,
// never a content mutation.
type Incident struct {
	IncidentID string `json:"incident_id"`
	ContentID  string `json:"content_id"`
	Resolution string `json:"resolution"`
}

// Notifier delivers owner-facing messages. The real implementation lives in
// the host system; the relay only emits events to it.
type Notifier interface {
	DecisionHandled(ctx context.Context, ev Event) error
	IncidentClosed(ctx context.Context, inc Incident) error
}

// LogNotifier logs notifications instead of delivering them. Stands in until
// a host-side notifier is wired up.
type LogNotifier struct {
	Log zerolog.Logger
}

func (n LogNotifier) DecisionHandled(_ context.Context, ev Event) error {
	n.Log.Info().
		Str("event_id", ev.ID).
		Str("content_id", ev.ContentID).
		Str("action", string(ev.Action)).
		Str("decision_id", ev.DecisionID).
		Msg("decision handled")
	return nil
}

func (n LogNotifier) IncidentClosed(_ context.Context, inc Incident) error {
	n.Log.Info().
		Str("incident_id", inc.IncidentID).
		Str("content_id", inc.ContentID).
		Str("resolution", inc.Resolution).
		Msg("incident closed")
	return nil
}
