package content

import (
	"context"
	"fmt"
	"sync"
)

// MemHost is an in-memory host-system stand-in. It implements the read side
// (Host) plus the moderation mutation surface, and records every mutation so
// tests can assert on side effects. Not for production use.
type MemHost struct {
	mu    sync.Mutex
	items map[Ref]*Item
	types map[string]Type // content id -> type, for decision resolution

	Deleted   []Ref
	Hidden    map[Ref]bool
	Warnings  map[Ref]string
	Suspended map[string]bool // user id -> suspended
}

// NewMemHost returns an empty in-memory host.
func NewMemHost() *MemHost {
	return &MemHost{
		items:     make(map[Ref]*Item),
		types:     make(map[string]Type),
		Hidden:    make(map[Ref]bool),
		Warnings:  make(map[Ref]string),
		Suspended: make(map[string]bool),
	}
}

// Put registers an item under its reference.
func (h *MemHost) Put(item *Item) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.items[item.Ref] = item
	h.types[item.Ref.ID] = item.Ref.Type
}

// Fetch implements Host.
func (h *MemHost) Fetch(_ context.Context, ref Ref) (*Item, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	item, ok := h.items[ref]
	if !ok {
		return nil, fmt.Errorf("%s: %w", ref, ErrNotFound)
	}
	cp := *item
	return &cp, nil
}

// TypeOf resolves a bare content id to its content type.
func (h *MemHost) TypeOf(_ context.Context, contentID string) (Type, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.types[contentID]
	if !ok {
		return "", fmt.Errorf("content id %q: %w", contentID, ErrNotFound)
	}
	return t, nil
}

// Delete permanently removes the referenced content.
func (h *MemHost) Delete(_ context.Context, ref Ref) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.items[ref]; !ok {
		return fmt.Errorf("%s: %w", ref, ErrNotFound)
	}
	delete(h.items, ref)
	delete(h.types, ref.ID)
	h.Deleted = append(h.Deleted, ref)
	return nil
}

// Hide marks the referenced content non-public.
func (h *MemHost) Hide(_ context.Context, ref Ref) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.items[ref]; !ok {
		return fmt.Errorf("%s: %w", ref, ErrNotFound)
	}
	h.Hidden[ref] = true
	return nil
}

// Warn attaches a content-warning annotation with the given reason.
func (h *MemHost) Warn(_ context.Context, ref Ref, reason string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.items[ref]; !ok {
		return fmt.Errorf("%s: %w", ref, ErrNotFound)
	}
	h.Warnings[ref] = reason
	return nil
}

// SuspendOwner suspends the account that owns the referenced content.
func (h *MemHost) SuspendOwner(_ context.Context, ref Ref) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	item, ok := h.items[ref]
	if !ok {
		return fmt.Errorf("%s: %w", ref, ErrNotFound)
	}
	h.Suspended[item.Author.ID] = true
	return nil
}

// MutationCount reports how many mutations of any kind have been applied.
func (h *MemHost) MutationCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := len(h.Deleted) + len(h.Warnings)
	for _, hidden := range h.Hidden {
		if hidden {
			n++
		}
	}
	for _, s := range h.Suspended {
		if s {
			n++
		}
	}
	return n
}
