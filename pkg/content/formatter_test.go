package content

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seededHost() *MemHost {
	host := NewMemHost()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	host.Put(&Item{
		Ref:       Ref{Type: TypePost, ID: "42"},
		Title:     "hello world",
		Body:      "first post",
		Author:    Author{ID: "u1", Name: "alice"},
		CreatedAt: now,
		UpdatedAt: now,
		Terms:     []string{"general"},
		Media:     []string{"https://cdn.example/1.png"},
	})
	host.Put(&Item{
		Ref:       Ref{Type: TypeActivity, ID: "a7"},
		Body:      "status update",
		Author:    Author{ID: "u2", Name: "bob"},
		CreatedAt: now,
	})
	host.Put(&Item{
		Ref:       Ref{Type: TypeImage, ID: "img3"},
		Title:     "sunset",
		Author:    Author{ID: "u3", Name: "carol"},
		CreatedAt: now,
		Media:     []string{"https://cdn.example/sunset.jpg"},
	})
	host.Put(&Item{
		Ref:       Ref{Type: TypeProfile, ID: "u4"},
		Body:      "bio text",
		Author:    Author{ID: "u4", Name: "dave", AvatarURL: "https://cdn.example/d.png"},
		CreatedAt: now,
	})
	return host
}

func TestFormatPost(t *testing.T) {
	f := NewHostFormatter(seededHost())

	doc, err := f.Format(context.Background(), Ref{Type: TypePost, ID: "42"})
	require.NoError(t, err)
	assert.Equal(t, "42", doc.ID)
	assert.Equal(t, TypePost, doc.Type)
	assert.Equal(t, "hello world", doc.Title)
	assert.Equal(t, "first post", doc.Text)
	assert.Equal(t, "alice", doc.Author.Name)
	assert.Equal(t, []string{"general"}, doc.Terms)
	assert.Equal(t, []string{"https://cdn.example/1.png"}, doc.Media)
}

func TestFormatActivity(t *testing.T) {
	f := NewHostFormatter(seededHost())

	doc, err := f.Format(context.Background(), Ref{Type: TypeActivity, ID: "a7"})
	require.NoError(t, err)
	assert.Equal(t, "status update", doc.Text)
	assert.Empty(t, doc.Title, "activities have no title")
	assert.Empty(t, doc.Terms, "activities carry no taxonomy terms")
}

func TestFormatImage(t *testing.T) {
	f := NewHostFormatter(seededHost())

	doc, err := f.Format(context.Background(), Ref{Type: TypeImage, ID: "img3"})
	require.NoError(t, err)
	assert.Equal(t, "sunset", doc.Title)
	assert.Equal(t, []string{"https://cdn.example/sunset.jpg"}, doc.Media)
}

func TestFormatProfile(t *testing.T) {
	f := NewHostFormatter(seededHost())

	doc, err := f.Format(context.Background(), Ref{Type: TypeProfile, ID: "u4"})
	require.NoError(t, err)
	assert.Equal(t, "bio text", doc.Text)
	assert.Equal(t, "https://cdn.example/d.png", doc.Author.AvatarURL)
}

func TestFormatNotFound(t *testing.T) {
	f := NewHostFormatter(seededHost())

	_, err := f.Format(context.Background(), Ref{Type: TypePost, ID: "deleted-long-ago"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestFormatIsReadOnly(t *testing.T) {
	host := seededHost()
	f := NewHostFormatter(host)

	_, err := f.Format(context.Background(), Ref{Type: TypePost, ID: "42"})
	require.NoError(t, err)
	assert.Equal(t, 0, host.MutationCount())
}

func TestParseType(t *testing.T) {
	for _, valid := range []string{"post", "activity", "forum_post", "media", "profile", "image", "video", "discussion", "blog"} {
		_, err := ParseType(valid)
		assert.NoError(t, err, valid)
	}
	for _, invalid := range []string{"", "page", "Post"} {
		_, err := ParseType(invalid)
		assert.Error(t, err, invalid)
	}
}
