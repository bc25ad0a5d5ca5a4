// Package checkstep wraps the CheckStep moderation API: content submission,
// decision fetch, report upload, and webhook signature validation. The client
// is stateless; every call rebuilds auth from the injected configuration.
package checkstep

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/guido-cesarano/modrelay/pkg/config"
	"github.com/guido-cesarano/modrelay/pkg/content"
)

// RequestTimeout bounds every outbound API call.
const RequestTimeout = 30 * time.Second

// APIError is a structured rejection from the CheckStep API (non-200 with a
// parseable error body). 4xx rejections are not retryable: resubmitting the
// same payload cannot succeed.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("checkstep api: status=%d message=%q", e.StatusCode, e.Message)
}

// Retryable reports whether a later attempt with the same payload could
// succeed.
func (e *APIError) Retryable() bool {
	return e.StatusCode >= 500
}

// Retryable classifies any submission error. Transport errors, timeouts and
// 5xx responses are retryable; structured 4xx rejections are not.
func Retryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	return true
}

// SubmissionResult is the vendor's acknowledgment of a submitted document.
type SubmissionResult struct {
	ContentID string `json:"content_id"`
	Status    string `json:"status"`
}

// Decision is the vendor's ruling on previously submitted content. Action is
// the raw wire tag; the moderation package parses it into the closed enum.
type Decision struct {
	DecisionID string `json:"decision_id"`
	ContentID  string `json:"content_id"`
	Action     string `json:"action"`
	Reason     string `json:"reason,omitempty"`
}

// Report is a user- or moderator-filed report forwarded to the vendor.
type Report struct {
	ReportID   string `json:"report_id"`
	ContentID  string `json:"content_id"`
	ReporterID string `json:"reporter_id,omitempty"`
	Reason     string `json:"reason"`
}

// ReportResult acknowledges a forwarded report.
type ReportResult struct {
	ReportID string `json:"report_id"`
	Status   string `json:"status"`
}

// Client is a stateless HTTP client for the CheckStep API.
type Client struct {
	cfg  *config.Config
	http *http.Client
}

// NewClient builds a client around the injected configuration. The config
// pointer is read on every call, so key rotation does not require a rebuild.
func NewClient(cfg *config.Config) *Client {
	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout: RequestTimeout,
		},
	}
}

// SubmitContent POSTs a formatted document to {api_url}/content. Success
// requires HTTP 200 with a parseable body; anything else is an error the
// queue classifies via Retryable.
func (c *Client) SubmitContent(ctx context.Context, doc *content.Document) (*SubmissionResult, error) {
	var result SubmissionResult
	if err := c.do(ctx, http.MethodPost, "/content", doc, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetDecision fetches the current decision for a content id.
func (c *Client) GetDecision(ctx context.Context, contentID string) (*Decision, error) {
	var d Decision
	if err := c.do(ctx, http.MethodGet, "/decisions/"+contentID, nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// SendReport forwards a report to the vendor. A missing ReportID is filled
// with a fresh UUID so resubmissions are distinguishable vendor-side.
func (c *Client) SendReport(ctx context.Context, report *Report) (*ReportResult, error) {
	if report.ReportID == "" {
		report.ReportID = uuid.New().String()
	}
	var result ReportResult
	if err := c.do(ctx, http.MethodPost, "/reports", report, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.APIURL+path, &buf)
	if err != nil {
		return err
	}
	// Auth headers are rebuilt from current configuration on every call.
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("checkstep %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var apiErr struct {
			Message string `json:"message"`
			Error   string `json:"error"`
		}
		msg := string(raw)
		if json.Unmarshal(raw, &apiErr) == nil {
			if apiErr.Message != "" {
				msg = apiErr.Message
			} else if apiErr.Error != "" {
				msg = apiErr.Error
			}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("checkstep %s %s: decode response: %w", method, path, err)
		}
	}
	return nil
}
