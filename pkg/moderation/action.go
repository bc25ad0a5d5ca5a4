// Package moderation applies vendor decisions to host-system content. The
// action space is a closed enum with an explicit dispatch table; unknown
// action tags are rejected at parse time, never silently ignored.
package moderation

import "fmt"

// Action is a vendor decision outcome.
type Action string

const (
	// ActionDelete permanently removes the content.
	ActionDelete Action = "delete"
	// ActionHide marks the content non-public.
	ActionHide Action = "hide"
	// ActionWarn attaches a content-warning annotation with the reason.
	ActionWarn Action = "warn"
	// ActionBanUser suspends the account owning the content.
	ActionBanUser Action = "ban_user"

	// The remaining outcomes mutate nothing; they only notify.
	ActionNoAction Action = "no_action"
	ActionUpheld   Action = "upheld"
	ActionOverturn Action = "overturn"
)

// ParseAction validates a raw action tag from the webhook payload.
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionDelete, ActionHide, ActionWarn, ActionBanUser,
		ActionNoAction, ActionUpheld, ActionOverturn:
		return a, nil
	}
	return "", fmt.Errorf("unknown moderation action %q", s)
}

// Mutates reports whether the action changes host content when applied.
func (a Action) Mutates() bool {
	switch a {
	case ActionDelete, ActionHide, ActionWarn, ActionBanUser:
		return true
	}
	return false
}
