package content

import (
	"context"
	"time"
)

// Document is the normalized payload submitted to the moderation vendor.
// Each content type maps to a fixed shape; fields not relevant to a type are
// left empty and omitted from the JSON encoding.
type Document struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Title     string    `json:"title,omitempty"`
	Text      string    `json:"text,omitempty"`
	Author    Author    `json:"author"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
	Media     []string  `json:"media,omitempty"`
	Terms     []string  `json:"terms,omitempty"`
}

// Formatter converts a content reference into a submission document.
// Implementations are read-only: formatting never mutates host state.
type Formatter interface {
	Format(ctx context.Context, ref Ref) (*Document, error)
}

// HostFormatter formats content by fetching the backing record from the host
// and shaping it per content type.
type HostFormatter struct {
	host Host
}

// NewHostFormatter returns a Formatter backed by the given host collaborator.
func NewHostFormatter(host Host) *HostFormatter {
	return &HostFormatter{host: host}
}

// Format fetches the referenced item and produces its submission document.
// Returns ErrNotFound (wrapped by the host) when the content is gone.
func (f *HostFormatter) Format(ctx context.Context, ref Ref) (*Document, error) {
	item, err := f.host.Fetch(ctx, ref)
	if err != nil {
		return nil, err
	}

	doc := &Document{
		ID:        ref.ID,
		Type:      ref.Type,
		Author:    item.Author,
		CreatedAt: item.CreatedAt,
		UpdatedAt: item.UpdatedAt,
	}

	switch ref.Type {
	case TypePost, TypeBlog, TypeDiscussion:
		doc.Title = item.Title
		doc.Text = item.Body
		doc.Terms = item.Terms
		doc.Media = item.Media
	case TypeActivity:
		doc.Text = item.Body
		doc.Media = item.Media
	case TypeForumPost:
		doc.Text = item.Body
		doc.Terms = item.Terms
	case TypeMedia, TypeImage, TypeVideo:
		doc.Title = item.Title
		doc.Text = item.Body
		doc.Media = item.Media
	case TypeProfile:
		// The profile itself is the content under review; its fields are the
		// author snapshot plus any free-text bio carried in Body.
		doc.Text = item.Body
		doc.Media = item.Media
	}

	return doc, nil
}
