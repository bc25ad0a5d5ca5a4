package moderation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/guido-cesarano/modrelay/pkg/config"
	"github.com/guido-cesarano/modrelay/pkg/content"
)

// ErrUnresolvable reports that a decision's content id could not be mapped to
// a content type. Surfaced to the caller for manual investigation, never
// retried automatically.
var ErrUnresolvable = errors.New("content id unresolvable")

// Host is the mutation surface of the host-system collaborator. TypeOf
// resolves a bare content id to its type; the remaining methods apply
// moderation outcomes.
type Host interface {
	TypeOf(ctx context.Context, contentID string) (content.Type, error)
	Delete(ctx context.Context, ref content.Ref) error
	Hide(ctx context.Context, ref content.Ref) error
	Warn(ctx context.Context, ref content.Ref, reason string) error
	SuspendOwner(ctx context.Context, ref content.Ref) error
}

// Decision is a parsed, validated vendor ruling ready to apply.
type Decision struct {
	DecisionID string `json:"decision_id,omitempty"`
	ContentID  string `json:"content_id"`
	Action     Action `json:"action"`
	Reason     string `json:"reason,omitempty"`
}

// Handler applies decisions to host content and emits notification events.
// A mutation either succeeds or the handler reports failure; it never
// notifies about a mutation that did not happen.
type Handler struct {
	cfg      *config.Config
	host     Host
	notifier Notifier
	log      zerolog.Logger
}

// NewHandler wires a decision handler against the host collaborator.
func NewHandler(cfg *config.Config, host Host, notifier Notifier, log zerolog.Logger) *Handler {
	return &Handler{cfg: cfg, host: host, notifier: notifier, log: log}
}

// Apply executes the decision's action on the referenced content, then emits
// a decision-handled event. Resolution failure returns ErrUnresolvable
// (wrapped); mutation failure is returned without any notification.
func (h *Handler) Apply(ctx context.Context, d Decision) error {
	ctype, err := h.host.TypeOf(ctx, d.ContentID)
	if err != nil {
		return fmt.Errorf("%w: content_id=%s: %v", ErrUnresolvable, d.ContentID, err)
	}
	ref := content.Ref{Type: ctype, ID: d.ContentID}

	if d.Action.Mutates() {
		if !h.cfg.AutoModeration {
			h.log.Info().
				Str("content_id", d.ContentID).
				Str("action", string(d.Action)).
				Msg("auto-moderation disabled, decision not applied")
			return nil
		}
		if err := h.mutate(ctx, ref, d); err != nil {
			return fmt.Errorf("apply %s to %s: %w", d.Action, ref, err)
		}
	}

	return h.notify(ctx, d)
}

// mutate is the dispatch table over the closed action enum.
func (h *Handler) mutate(ctx context.Context, ref content.Ref, d Decision) error {
	switch d.Action {
	case ActionDelete:
		return h.host.Delete(ctx, ref)
	case ActionHide:
		return h.host.Hide(ctx, ref)
	case ActionWarn:
		return h.host.Warn(ctx, ref, d.Reason)
	case ActionBanUser:
		return h.host.SuspendOwner(ctx, ref)
	}
	return fmt.Errorf("no mutation mapped for action %q", d.Action)
}

func (h *Handler) notify(ctx context.Context, d Decision) error {
	switch h.cfg.NotificationLevel {
	case "none":
		return nil
	case "actions":
		if !d.Action.Mutates() {
			return nil
		}
	}

	ev := Event{
		ID:         uuid.New().String(),
		ContentID:  d.ContentID,
		Action:     d.Action,
		Reason:     d.Reason,
		DecisionID: d.DecisionID,
		AppealURL:  h.cfg.AppealURL,
		At:         time.Now(),
	}
	if err := h.notifier.DecisionHandled(ctx, ev); err != nil {
		// The mutation already happened; a notification failure must not make
		// the webhook report the decision as unapplied.
		h.log.Error().Err(err).Str("content_id", d.ContentID).Msg("decision notification failed")
	}
	return nil
}

// CloseIncident handles an incident_closed event: notification only, no
// content mutation.
func (h *Handler) CloseIncident(ctx context.Context, inc Incident) error {
	if h.cfg.NotificationLevel == "none" {
		return nil
	}
	return h.notifier.IncidentClosed(ctx, inc)
}
