// Package content models references to host-system content and the
// normalization of host records into the payload documents submitted for
// moderation. The host CMS itself is an external collaborator reached
// through the Host interface.
package content

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound reports that the referenced content no longer exists in the
// host system. This is an expected outcome (content deleted between enqueue
// and processing), not a transport problem.
var ErrNotFound = errors.New("content not found")

// Type identifies the kind of host-system content a reference points at.
type Type string

const (
	TypePost       Type = "post"
	TypeActivity   Type = "activity"
	TypeForumPost  Type = "forum_post"
	TypeMedia      Type = "media"
	TypeProfile    Type = "profile"
	TypeImage      Type = "image"
	TypeVideo      Type = "video"
	TypeDiscussion Type = "discussion"
	TypeBlog       Type = "blog"
)

// ParseType validates a raw content type tag. Unknown tags are rejected
// rather than passed through.
func ParseType(s string) (Type, error) {
	switch t := Type(s); t {
	case TypePost, TypeActivity, TypeForumPost, TypeMedia, TypeProfile,
		TypeImage, TypeVideo, TypeDiscussion, TypeBlog:
		return t, nil
	}
	return "", fmt.Errorf("unknown content type %q", s)
}

// Ref uniquely identifies a piece of host-system content.
type Ref struct {
	Type Type   `json:"type"`
	ID   string `json:"id"`
}

func (r Ref) String() string {
	return string(r.Type) + "/" + r.ID
}

// Author is a snapshot of the content owner's profile at format time.
type Author struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// Item is the overlapping record shape the host exposes for every content
// type. Not every field is meaningful for every type; the formatter decides
// what ends up in the submitted document.
type Item struct {
	Ref       Ref       `json:"ref"`
	Title     string    `json:"title,omitempty"`
	Body      string    `json:"body,omitempty"`
	Author    Author    `json:"author"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Media     []string  `json:"media,omitempty"`
	Terms     []string  `json:"terms,omitempty"`
}

// Host is the read side of the host-system collaborator. Implementations
// must return ErrNotFound (possibly wrapped) when the content is gone.
type Host interface {
	Fetch(ctx context.Context, ref Ref) (*Item, error)
}
