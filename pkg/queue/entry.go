// Package queue implements the durable moderation queue on Redis. Entries
// record content awaiting submission to the vendor; delivery is at-least-once
// with a bounded retry budget. Multi-key state transitions run as Lua scripts
// so concurrent sweeps and enqueuers never observe half-applied moves.
package queue

import (
	"fmt"
	"strconv"
	"time"

	"github.com/guido-cesarano/modrelay/pkg/content"
)

// MaxRetries is the attempt budget per entry. Reaching it forces the entry
// into the terminal failed status.
const MaxRetries = 3

// Status is the lifecycle state of a queue entry.
type Status string

const (
	// StatusPending entries are eligible for the next sweep's claim.
	StatusPending Status = "pending"
	// StatusProcessing is transient: set while a sweep holds the entry. It
	// never survives a crash; stale claims are reclaimed as pending.
	StatusProcessing Status = "processing"
	// StatusCompleted and StatusFailed are terminal. Entries are retained for
	// audit; purging is an external housekeeping concern.
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// ParseStatus validates a raw status tag.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return st, nil
	}
	return "", fmt.Errorf("unknown queue status %q", s)
}

// Entry is one unit of content awaiting moderation submission.
type Entry struct {
	ID          int64        `json:"id"`
	ContentType content.Type `json:"content_type"`
	ContentID   string       `json:"content_id"`
	Status      Status       `json:"status"`
	Retries     int          `json:"retries"`
	CreatedAt   time.Time    `json:"created_at"`
	ProcessedAt time.Time    `json:"processed_at,omitzero"`
	LastError   string       `json:"last_error,omitempty"`
}

// Ref returns the content reference this entry points at.
func (e *Entry) Ref() content.Ref {
	return content.Ref{Type: e.ContentType, ID: e.ContentID}
}

// hashFields flattens the entry into Redis hash fields. Timestamps are
// stored as UnixNano so a reloaded entry compares equal to the original.
func (e *Entry) hashFields() map[string]any {
	processedAt := int64(0)
	if !e.ProcessedAt.IsZero() {
		processedAt = e.ProcessedAt.UnixNano()
	}
	return map[string]any{
		"id":           e.ID,
		"content_type": string(e.ContentType),
		"content_id":   e.ContentID,
		"status":       string(e.Status),
		"retries":      e.Retries,
		"created_at":   e.CreatedAt.UnixNano(),
		"processed_at": processedAt,
		"last_error":   e.LastError,
	}
}

// entryFromHash rebuilds an entry from its Redis hash representation.
func entryFromHash(fields map[string]string) (*Entry, error) {
	if len(fields) == 0 {
		return nil, ErrEntryNotFound
	}

	id, err := strconv.ParseInt(fields["id"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("queue entry: bad id %q", fields["id"])
	}
	ctype, err := content.ParseType(fields["content_type"])
	if err != nil {
		return nil, fmt.Errorf("queue entry %d: %w", id, err)
	}
	status, err := ParseStatus(fields["status"])
	if err != nil {
		return nil, fmt.Errorf("queue entry %d: %w", id, err)
	}
	retries, err := strconv.Atoi(fields["retries"])
	if err != nil {
		return nil, fmt.Errorf("queue entry %d: bad retries %q", id, fields["retries"])
	}
	createdAt, err := strconv.ParseInt(fields["created_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("queue entry %d: bad created_at %q", id, fields["created_at"])
	}

	e := &Entry{
		ID:          id,
		ContentType: ctype,
		ContentID:   fields["content_id"],
		Status:      status,
		Retries:     retries,
		CreatedAt:   time.Unix(0, createdAt),
		LastError:   fields["last_error"],
	}
	if raw := fields["processed_at"]; raw != "" && raw != "0" {
		processedAt, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("queue entry %d: bad processed_at %q", id, raw)
		}
		e.ProcessedAt = time.Unix(0, processedAt)
	}
	return e, nil
}
