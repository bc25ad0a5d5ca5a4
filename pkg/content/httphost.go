package content

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// HTTPHost talks to the host CMS over its JSON adapter API. It implements
// the read side (Host) and the moderation mutation surface:
//
//	GET    {base}/content/{type}/{id}                fetch an item
//	GET    {base}/content/resolve?id={id}            resolve id -> type
//	DELETE {base}/content/{type}/{id}                permanent removal
//	POST   {base}/content/{type}/{id}/visibility     {"hidden": true}
//	POST   {base}/content/{type}/{id}/warning        {"reason": "..."}
//	POST   {base}/content/{type}/{id}/suspend-owner  suspend owning account
//
// A 404 from any route maps to ErrNotFound.
type HTTPHost struct {
	base   string
	client *http.Client
}

// NewHTTPHost returns a host adapter rooted at the given base URL.
func NewHTTPHost(base string) *HTTPHost {
	return &HTTPHost{
		base: base,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// Fetch implements Host.
func (h *HTTPHost) Fetch(ctx context.Context, ref Ref) (*Item, error) {
	var item Item
	if err := h.do(ctx, http.MethodGet, h.contentURL(ref, ""), nil, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// TypeOf resolves a bare content id to its content type.
func (h *HTTPHost) TypeOf(ctx context.Context, contentID string) (Type, error) {
	var out struct {
		Type string `json:"type"`
	}
	u := fmt.Sprintf("%s/content/resolve?id=%s", h.base, url.QueryEscape(contentID))
	if err := h.do(ctx, http.MethodGet, u, nil, &out); err != nil {
		return "", err
	}
	return ParseType(out.Type)
}

// Delete permanently removes the referenced content.
func (h *HTTPHost) Delete(ctx context.Context, ref Ref) error {
	return h.do(ctx, http.MethodDelete, h.contentURL(ref, ""), nil, nil)
}

// Hide marks the referenced content non-public.
func (h *HTTPHost) Hide(ctx context.Context, ref Ref) error {
	body := map[string]bool{"hidden": true}
	return h.do(ctx, http.MethodPost, h.contentURL(ref, "/visibility"), body, nil)
}

// Warn attaches a content-warning annotation with the given reason.
func (h *HTTPHost) Warn(ctx context.Context, ref Ref, reason string) error {
	body := map[string]string{"reason": reason}
	return h.do(ctx, http.MethodPost, h.contentURL(ref, "/warning"), body, nil)
}

// SuspendOwner suspends the account that owns the referenced content.
func (h *HTTPHost) SuspendOwner(ctx context.Context, ref Ref) error {
	return h.do(ctx, http.MethodPost, h.contentURL(ref, "/suspend-owner"), nil, nil)
}

func (h *HTTPHost) contentURL(ref Ref, suffix string) string {
	return fmt.Sprintf("%s/content/%s/%s%s", h.base, url.PathEscape(string(ref.Type)), url.PathEscape(ref.ID), suffix)
}

func (h *HTTPHost) do(ctx context.Context, method, u string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, u, &buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s %s: %w", method, u, ErrNotFound)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("host request %s %s: status=%d", method, u, resp.StatusCode)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
