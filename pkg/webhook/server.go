// Package webhook serves the inbound CheckStep decision callbacks plus the
// operational endpoints. Signature verification runs over the exact raw
// request body before the JSON is trusted for anything: an unauthenticated
// payload can trigger no side effect, not even a parse error response that
// differs by body content.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/guido-cesarano/modrelay/pkg/checkstep"
	"github.com/guido-cesarano/modrelay/pkg/config"
	"github.com/guido-cesarano/modrelay/pkg/content"
	"github.com/guido-cesarano/modrelay/pkg/moderation"
	"github.com/guido-cesarano/modrelay/pkg/queue"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw request body.
const SignatureHeader = "X-CheckStep-Signature"

var webhookRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "modrelay_webhook_requests_total",
	Help: "The total number of webhook requests by event type and outcome",
}, []string{"event_type", "outcome"})

// Server hosts the webhook, intake and ops routes.
type Server struct {
	cfg     *config.Config
	q       *queue.Client
	api     *checkstep.Client
	handler *moderation.Handler
	log     zerolog.Logger
	echo    *echo.Echo
}

// NewServer builds the HTTP server. Configuration is injected; nothing is
// read from globals.
func NewServer(cfg *config.Config, q *queue.Client, api *checkstep.Client, handler *moderation.Handler, log zerolog.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		q:       q,
		api:     api,
		handler: handler,
		log:     log,
		echo:    echo.New(),
	}
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Use(middleware.Recover())

	s.echo.POST("/checkstep/v1/decisions", s.handleDecisions)
	s.echo.GET("/healthz", s.handleHealthz)

	ops := s.echo.Group("", s.adminAuth)
	ops.POST("/queue/entries", s.handleEnqueue)
	ops.GET("/queue/stats", s.handleQueueStats)
	ops.GET("/queue/entries", s.handleQueueEntries)
	ops.GET("/decisions/:content_id", s.handleLastDecision)
	ops.GET("/vendor/decisions/:content_id", s.handleVendorDecision)
	ops.POST("/reports", s.handleReport)

	return s
}

// Router exposes the underlying echo instance, mainly for tests.
func (s *Server) Router() *echo.Echo {
	return s.echo
}

// Start serves on the given address until Shutdown.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// adminAuth protects the ops routes with the configured admin bearer token.
// If no token is configured, access is open (dev mode).
func (s *Server) adminAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.cfg.AdminKey == "" {
			return next(c)
		}
		if c.Request().Header.Get("Authorization") != "Bearer "+s.cfg.AdminKey {
			return c.JSON(http.StatusUnauthorized, errorBody("unauthorized"))
		}
		return next(c)
	}
}

// decisionEvent is the envelope common to both webhook payload shapes.
// content_id is canonical for the content reference; decision_id is the
// vendor's ruling identifier and never substitutes for content_id.
type decisionEvent struct {
	EventType  string `json:"event_type"`
	ContentID  string `json:"content_id"`
	DecisionID string `json:"decision_id,omitempty"`
	Action     string `json:"action,omitempty"`
	Reason     string `json:"reason,omitempty"`
	IncidentID string `json:"incident_id,omitempty"`
	Resolution string `json:"resolution,omitempty"`
}

func errorBody(code string) map[string]string {
	return map[string]string{"status": "error", "error": code}
}

func readRawBody(c echo.Context) ([]byte, error) {
	defer c.Request().Body.Close()
	return io.ReadAll(c.Request().Body)
}

// handleDecisions runs the dispatch state machine:
// raw body -> signature -> parse -> event_type -> handler.
func (s *Server) handleDecisions(c echo.Context) error {
	raw, err := readRawBody(c)
	if err != nil {
		webhookRequests.WithLabelValues("unknown", "bad_request").Inc()
		return c.JSON(http.StatusBadRequest, errorBody("unreadable_body"))
	}

	if s.cfg.WebhookSecret == "" {
		webhookRequests.WithLabelValues("unknown", "unauthorized").Inc()
		return c.JSON(http.StatusUnauthorized, errorBody("missing_secret"))
	}
	sig := c.Request().Header.Get(SignatureHeader)
	if sig == "" {
		webhookRequests.WithLabelValues("unknown", "unauthorized").Inc()
		return c.JSON(http.StatusUnauthorized, errorBody("missing_signature"))
	}
	if !checkstep.ValidateSignature(raw, sig, s.cfg.WebhookSecret) {
		webhookRequests.WithLabelValues("unknown", "unauthorized").Inc()
		return c.JSON(http.StatusUnauthorized, errorBody("invalid_signature"))
	}

	var ev decisionEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		webhookRequests.WithLabelValues("unknown", "bad_request").Inc()
		return c.JSON(http.StatusBadRequest, errorBody("malformed_payload"))
	}
	if ev.EventType == "" {
		webhookRequests.WithLabelValues("unknown", "bad_request").Inc()
		return c.JSON(http.StatusBadRequest, errorBody("missing_event_type"))
	}

	switch ev.EventType {
	case "decision_taken":
		return s.handleDecisionTaken(c, ev)
	case "incident_closed":
		return s.handleIncidentClosed(c, ev)
	default:
		webhookRequests.WithLabelValues(ev.EventType, "bad_request").Inc()
		return c.JSON(http.StatusBadRequest, errorBody("unsupported_event_type"))
	}
}

func (s *Server) handleDecisionTaken(c echo.Context, ev decisionEvent) error {
	if ev.ContentID == "" {
		webhookRequests.WithLabelValues(ev.EventType, "bad_request").Inc()
		return c.JSON(http.StatusBadRequest, errorBody("missing_content_id"))
	}
	action, err := moderation.ParseAction(ev.Action)
	if err != nil {
		webhookRequests.WithLabelValues(ev.EventType, "bad_request").Inc()
		return c.JSON(http.StatusBadRequest, errorBody("unsupported_action"))
	}

	d := moderation.Decision{
		DecisionID: ev.DecisionID,
		ContentID:  ev.ContentID,
		Action:     action,
		Reason:     ev.Reason,
	}

	ctx := c.Request().Context()
	if err := s.handler.Apply(ctx, d); err != nil {
		if errors.Is(err, moderation.ErrUnresolvable) {
			webhookRequests.WithLabelValues(ev.EventType, "unresolvable").Inc()
			s.log.Warn().Err(err).Str("content_id", ev.ContentID).Msg("decision unresolvable")
			return c.JSON(http.StatusUnprocessableEntity, errorBody("unresolvable_content"))
		}
		webhookRequests.WithLabelValues(ev.EventType, "error").Inc()
		s.log.Error().Err(err).Str("content_id", ev.ContentID).Msg("decision apply failed")
		return c.JSON(http.StatusInternalServerError, errorBody("apply_failed"))
	}

	if err := s.q.StoreDecision(ctx, ev.ContentID, d); err != nil {
		// Cache only; the decision itself is applied.
		s.log.Error().Err(err).Str("content_id", ev.ContentID).Msg("decision cache write failed")
	}

	webhookRequests.WithLabelValues(ev.EventType, "success").Inc()
	return c.JSON(http.StatusOK, map[string]string{
		"status":     "success",
		"content_id": ev.ContentID,
		"action":     string(action),
	})
}

func (s *Server) handleIncidentClosed(c echo.Context, ev decisionEvent) error {
	if ev.IncidentID == "" {
		webhookRequests.WithLabelValues(ev.EventType, "bad_request").Inc()
		return c.JSON(http.StatusBadRequest, errorBody("missing_incident_id"))
	}

	inc := moderation.Incident{
		IncidentID: ev.IncidentID,
		ContentID:  ev.ContentID,
		Resolution: ev.Resolution,
	}
	if err := s.handler.CloseIncident(c.Request().Context(), inc); err != nil {
		webhookRequests.WithLabelValues(ev.EventType, "error").Inc()
		s.log.Error().Err(err).Str("incident_id", ev.IncidentID).Msg("incident close failed")
		return c.JSON(http.StatusInternalServerError, errorBody("notify_failed"))
	}

	webhookRequests.WithLabelValues(ev.EventType, "success").Inc()
	return c.JSON(http.StatusOK, map[string]string{
		"status":      "success",
		"incident_id": ev.IncidentID,
	})
}

func (s *Server) handleHealthz(c echo.Context) error {
	if err := s.q.Ping(c.Request().Context()); err != nil {
		return c.JSON(http.StatusServiceUnavailable, errorBody("redis_unreachable"))
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleQueueStats(c echo.Context) error {
	return c.JSON(http.StatusOK, s.q.Depths(c.Request().Context()))
}

func (s *Server) handleQueueEntries(c echo.Context) error {
	status, err := queue.ParseStatus(c.QueryParam("status"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("unknown_status"))
	}
	limit := int64(50)
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 {
			return c.JSON(http.StatusBadRequest, errorBody("bad_limit"))
		}
		limit = n
	}

	entries, err := s.q.Entries(c.Request().Context(), status, limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorBody("queue_read_failed"))
	}
	return c.JSON(http.StatusOK, entries)
}

// handleEnqueue is the intake route the host CMS calls on content
// creation/update events. Duplicate enqueues are allowed by design.
func (s *Server) handleEnqueue(c echo.Context) error {
	var req struct {
		ContentType string `json:"content_type"`
		ContentID   string `json:"content_id"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("malformed_payload"))
	}
	ctype, err := content.ParseType(req.ContentType)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("unknown_content_type"))
	}
	if req.ContentID == "" {
		return c.JSON(http.StatusBadRequest, errorBody("missing_content_id"))
	}

	entry, err := s.q.Enqueue(c.Request().Context(), ctype, req.ContentID)
	if err != nil {
		s.log.Error().Err(err).Str("content_id", req.ContentID).Msg("enqueue failed")
		return c.JSON(http.StatusInternalServerError, errorBody("enqueue_failed"))
	}
	return c.JSON(http.StatusAccepted, map[string]any{
		"status": "queued",
		"entry":  entry,
	})
}

// handleVendorDecision proxies a decision lookup to the vendor API, for
// operators reconciling queue state against CheckStep.
func (s *Server) handleVendorDecision(c echo.Context) error {
	d, err := s.api.GetDecision(c.Request().Context(), c.Param("content_id"))
	if err != nil {
		s.log.Error().Err(err).Msg("vendor decision fetch failed")
		return c.JSON(http.StatusBadGateway, errorBody("vendor_unreachable"))
	}
	return c.JSON(http.StatusOK, d)
}

// handleReport forwards a host-side report to the vendor.
func (s *Server) handleReport(c echo.Context) error {
	var report checkstep.Report
	if err := c.Bind(&report); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("malformed_payload"))
	}
	if report.ContentID == "" {
		return c.JSON(http.StatusBadRequest, errorBody("missing_content_id"))
	}

	result, err := s.api.SendReport(c.Request().Context(), &report)
	if err != nil {
		s.log.Error().Err(err).Str("content_id", report.ContentID).Msg("report forward failed")
		return c.JSON(http.StatusBadGateway, errorBody("vendor_unreachable"))
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) handleLastDecision(c echo.Context) error {
	raw, err := s.q.LastDecision(c.Request().Context(), c.Param("content_id"))
	if err == redis.Nil {
		return c.JSON(http.StatusNotFound, errorBody("no_decision"))
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorBody("cache_read_failed"))
	}
	return c.JSONBlob(http.StatusOK, []byte(raw))
}
