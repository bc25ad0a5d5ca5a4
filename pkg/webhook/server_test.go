package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guido-cesarano/modrelay/pkg/checkstep"
	"github.com/guido-cesarano/modrelay/pkg/config"
	"github.com/guido-cesarano/modrelay/pkg/content"
	"github.com/guido-cesarano/modrelay/pkg/moderation"
	"github.com/guido-cesarano/modrelay/pkg/queue"
)

const testSecret = "webhook-secret"

type recordingNotifier struct {
	events    []moderation.Event
	incidents []moderation.Incident
}

func (n *recordingNotifier) DecisionHandled(_ context.Context, ev moderation.Event) error {
	n.events = append(n.events, ev)
	return nil
}

func (n *recordingNotifier) IncidentClosed(_ context.Context, inc moderation.Incident) error {
	n.incidents = append(n.incidents, inc)
	return nil
}

type testEnv struct {
	server   *Server
	host     *content.MemHost
	notifier *recordingNotifier
	q        *queue.Client
	cfg      *config.Config
}

func setupServer(t *testing.T, mutate func(cfg *config.Config)) *testEnv {
	t.Helper()

	s, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(s.Close)

	cfg := config.Default()
	cfg.WebhookSecret = testSecret
	cfg.AdminKey = "admin-key"
	if mutate != nil {
		mutate(&cfg)
	}

	q := queue.NewClient(s.Addr())
	host := content.NewMemHost()
	notifier := &recordingNotifier{}
	handler := moderation.NewHandler(&cfg, host, notifier, zerolog.Nop())
	api := checkstep.NewClient(&cfg)

	env := &testEnv{
		server:   NewServer(&cfg, q, api, handler, zerolog.Nop()),
		host:     host,
		notifier: notifier,
		q:        q,
		cfg:      &cfg,
	}
	env.host.Put(&content.Item{
		Ref:       content.Ref{Type: content.TypePost, ID: "123"},
		Body:      "some post",
		Author:    content.Author{ID: "u1"},
		CreatedAt: time.Now(),
	})
	env.host.Put(&content.Item{
		Ref:       content.Ref{Type: content.TypePost, ID: "124"},
		Body:      "another post",
		Author:    content.Author{ID: "u2"},
		CreatedAt: time.Now(),
	})
	return env
}

func (env *testEnv) post(t *testing.T, body string, sign bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/checkstep/v1/decisions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if sign {
		req.Header.Set(SignatureHeader, checkstep.Sign([]byte(body), testSecret))
	}
	rec := httptest.NewRecorder()
	env.server.Router().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var out map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestMissingSignatureNoSideEffects(t *testing.T) {
	env := setupServer(t, nil)

	body := `{"event_type":"decision_taken","content_id":"123","action":"delete"}`
	rec := env.post(t, body, false)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "missing_signature", decodeBody(t, rec)["error"])
	assert.Equal(t, 0, env.host.MutationCount(), "unauthenticated request must cause zero mutations")
	assert.Empty(t, env.notifier.events)
}

func TestInvalidSignature(t *testing.T) {
	env := setupServer(t, nil)

	body := `{"event_type":"decision_taken","content_id":"123","action":"delete"}`
	req := httptest.NewRequest(http.MethodPost, "/checkstep/v1/decisions", strings.NewReader(body))
	req.Header.Set(SignatureHeader, checkstep.Sign([]byte(body), "wrong-secret"))
	rec := httptest.NewRecorder()
	env.server.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_signature", decodeBody(t, rec)["error"])
	assert.Equal(t, 0, env.host.MutationCount())
}

func TestMissingConfiguredSecret(t *testing.T) {
	env := setupServer(t, func(cfg *config.Config) {
		cfg.WebhookSecret = ""
	})

	body := `{"event_type":"decision_taken","content_id":"123","action":"delete"}`
	rec := env.post(t, body, false)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "missing_secret", decodeBody(t, rec)["error"])
}

func TestDecisionTakenHide(t *testing.T) {
	env := setupServer(t, nil)

	body := `{"event_type":"decision_taken","content_id":"124","action":"hide","reason":"x"}`
	rec := env.post(t, body, true)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeBody(t, rec)
	assert.Equal(t, "success", resp["status"])
	assert.Equal(t, "hide", resp["action"])

	ref := content.Ref{Type: content.TypePost, ID: "124"}
	assert.True(t, env.host.Hidden[ref], "content 124 must be hidden")
	require.Len(t, env.notifier.events, 1, "exactly one decision-handled event")
	assert.Equal(t, "x", env.notifier.events[0].Reason)

	// The applied decision is cached for the ops endpoint
	raw, err := env.q.LastDecision(context.Background(), "124")
	require.NoError(t, err)
	assert.Contains(t, raw, `"hide"`)
}

func TestDecisionTakenWithDecisionID(t *testing.T) {
	env := setupServer(t, nil)

	body := `{"event_type":"decision_taken","content_id":"124","decision_id":"dec_9","action":"warn","reason":"nsfw"}`
	rec := env.post(t, body, true)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, env.notifier.events, 1)
	assert.Equal(t, "dec_9", env.notifier.events[0].DecisionID)
}

func TestDecisionTakenMissingContentID(t *testing.T) {
	env := setupServer(t, nil)

	// decision_id alone never substitutes for content_id
	body := `{"event_type":"decision_taken","decision_id":"dec_1","action":"delete"}`
	rec := env.post(t, body, true)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "missing_content_id", decodeBody(t, rec)["error"])
	assert.Equal(t, 0, env.host.MutationCount())
}

func TestDecisionTakenUnknownAction(t *testing.T) {
	env := setupServer(t, nil)

	body := `{"event_type":"decision_taken","content_id":"123","action":"nuke"}`
	rec := env.post(t, body, true)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "unsupported_action", decodeBody(t, rec)["error"])
	assert.Equal(t, 0, env.host.MutationCount())
}

func TestDecisionTakenUnresolvable(t *testing.T) {
	env := setupServer(t, nil)

	body := `{"event_type":"decision_taken","content_id":"no-such-content","action":"delete"}`
	rec := env.post(t, body, true)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "unresolvable_content", decodeBody(t, rec)["error"])
}

func TestIncidentClosed(t *testing.T) {
	env := setupServer(t, nil)

	body := `{"event_type":"incident_closed","incident_id":"inc_123","content_id":"123","resolution":"dismissed"}`
	rec := env.post(t, body, true)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, env.host.MutationCount(), "incidents never mutate content")
	require.Len(t, env.notifier.incidents, 1, "exactly one incident notification")
	assert.Equal(t, "dismissed", env.notifier.incidents[0].Resolution)
}

func TestUnsupportedEventType(t *testing.T) {
	env := setupServer(t, nil)

	body := `{"event_type":"content_flagged","content_id":"123"}`
	rec := env.post(t, body, true)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "unsupported_event_type", decodeBody(t, rec)["error"])
}

func TestMissingEventType(t *testing.T) {
	env := setupServer(t, nil)

	body := `{"content_id":"123","action":"delete"}`
	rec := env.post(t, body, true)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "missing_event_type", decodeBody(t, rec)["error"])
}

func TestMalformedBodyWithValidSignature(t *testing.T) {
	env := setupServer(t, nil)

	body := `{"event_type": not-json`
	rec := env.post(t, body, true)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "malformed_payload", decodeBody(t, rec)["error"])
}

func TestEnqueueIntake(t *testing.T) {
	env := setupServer(t, nil)

	body := `{"content_type":"post","content_id":"42"}`
	req := httptest.NewRequest(http.MethodPost, "/queue/entries", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer admin-key")
	rec := httptest.NewRecorder()
	env.server.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	entries, err := env.q.Entries(context.Background(), queue.StatusPending, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, content.TypePost, entries[0].ContentType)
	assert.Equal(t, "42", entries[0].ContentID)
}

func TestEnqueueIntakeRejectsUnknownType(t *testing.T) {
	env := setupServer(t, nil)

	body := `{"content_type":"page","content_id":"42"}`
	req := httptest.NewRequest(http.MethodPost, "/queue/entries", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer admin-key")
	rec := httptest.NewRecorder()
	env.server.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOpsAuth(t *testing.T) {
	env := setupServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/queue/stats", nil)
	rec := httptest.NewRecorder()
	env.server.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "missing admin key")

	req = httptest.NewRequest(http.MethodGet, "/queue/stats", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	env.server.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "wrong admin key")

	req = httptest.NewRequest(http.MethodGet, "/queue/stats", nil)
	req.Header.Set("Authorization", "Bearer admin-key")
	rec = httptest.NewRecorder()
	env.server.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	var depths map[string]int64
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &depths))
	assert.Contains(t, depths, "pending")
}

func TestHealthz(t *testing.T) {
	env := setupServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	env.server.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
