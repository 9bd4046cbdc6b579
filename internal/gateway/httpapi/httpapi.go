// Package httpapi implements the HTTP API gateway for Eiro.
//
// Security:
//   - API key authentication on every /v1 request (constant-time comparison)
//   - Request body size limits (default 1 MB)
//   - All requests logged
//   - TLS expected via reverse proxy (not handled here)
package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/okapi"

	"github.com/jkaninda/eiro/internal/incident"
	"github.com/jkaninda/eiro/internal/observability"
	"github.com/jkaninda/eiro/internal/pipeline"
	"github.com/jkaninda/eiro/internal/tools/incidentdb"
	"github.com/jkaninda/eiro/internal/tools/notify"
)

const defaultMaxRequestSize = 1 << 20 // 1 MB

// ErrorBody is the standard error response used in OpenAPI documentation.
type ErrorBody struct {
	Error string `json:"error"`
}

// Config configures the HTTP API gateway.
type Config struct {
	ListenAddr     string // e.g., ":8080"
	EnableDocs     bool
	APIKey         string // Bearer key for /v1. From env.
	MaxRequestSize int64  // Maximum request body in bytes. 0 = 1 MB default.

	// Observability
	MetricsRegistry *prometheus.Registry            // Custom Prometheus registry for /metrics.
	MetricsPath     string                          // Path for metrics endpoint. Default: "/metrics".
	HealthChecker   *observability.HealthChecker    // Health checker for /readyz.
	Metrics         *observability.MetricsCollector // Metrics collector for HTTP middleware.
	Tracer          trace.Tracer                    // OTel tracer for HTTP middleware.
}

// Gateway is the HTTP API gateway.
type Gateway struct {
	config    Config
	orch      *pipeline.Orchestrator
	incidents *incidentdb.Store
	notifier  *notify.Service // nil = notification log endpoint disabled.
	logger    *slog.Logger
	server    *http.Server

	okapi *okapi.Okapi
	group *okapi.Group
}

// NewGateway creates an HTTP API gateway.
func NewGateway(cfg Config, orch *pipeline.Orchestrator, incidents *incidentdb.Store, logger *slog.Logger) *Gateway {
	maxSize := cfg.MaxRequestSize
	if maxSize <= 0 {
		maxSize = defaultMaxRequestSize
	}
	return &Gateway{
		config:    cfg,
		orch:      orch,
		incidents: incidents,
		logger:    logger,
		okapi:     okapi.New(okapi.WithMaxMultipartMemory(maxSize)),
	}
}

// WithNotifier exposes the notification log through the gateway.
func (g *Gateway) WithNotifier(n *notify.Service) *Gateway {
	g.notifier = n
	return g
}

func (g *Gateway) WithOpenAPIDocs() *Gateway {
	g.okapi.WithOpenAPIDocs(
		okapi.OpenAPI{
			Title:   "Eiro",
			Version: "v0.1.0",
		},
	)
	return g
}

// Start launches the HTTP server and blocks until it exits or ctx is canceled.
func (g *Gateway) Start(ctx context.Context) error {
	middlewares := []okapi.Middleware{g.authenticate}
	if g.config.Metrics != nil || g.config.Tracer != nil {
		middlewares = append([]okapi.Middleware{
			observability.MetricsMiddleware(g.config.Metrics, g.config.Tracer),
		}, middlewares...)
	}

	// Authenticated /v1 group.
	g.group = g.okapi.Group("/v1", middlewares...)

	g.group.Post("/incidents", g.handleIncidentCreate,
		okapi.DocSummary("Report an incident and run the response pipeline"),
		okapi.DocTags("Incidents"),
		okapi.DocRequestBody(IncidentRequest{}),
		okapi.DocResponse(http.StatusCreated, RunResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
		okapi.DocResponse(http.StatusUnprocessableEntity, RunResponse{}),
	)
	g.group.Get("/incidents", g.handleIncidentList,
		okapi.DocSummary("List incidents, optionally filtered by state and severity"),
		okapi.DocTags("Incidents"),
		okapi.DocResponse([]IncidentResponse{}),
	)
	g.group.Get("/incidents/{id}", g.handleIncidentGet,
		okapi.DocSummary("Get an incident by ID"),
		okapi.DocTags("Incidents"),
		okapi.DocPathParam("id", "string", "Incident ID (e.g. INC-0001)"),
		okapi.DocResponse(IncidentResponse{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)

	if g.notifier != nil {
		g.group.Get("/notifications", g.handleNotificationList,
			okapi.DocSummary("List notification receipts for a recipient"),
			okapi.DocTags("Notifications"),
			okapi.DocResponse([]notify.Receipt{}),
			okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		)
	}

	// Observability endpoints (unauthenticated).
	g.okapi.Get("/healthz", g.handleLiveness)
	g.okapi.Get("/readyz", g.handleReadiness)

	if g.config.MetricsRegistry != nil {
		path := g.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		g.okapi.HandleStd("GET", path, promhttp.HandlerFor(g.config.MetricsRegistry, promhttp.HandlerOpts{}).ServeHTTP)
	}
	if g.config.EnableDocs {
		g.WithOpenAPIDocs()
	}

	g.server = &http.Server{
		Addr:              g.config.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	g.logger.Info("http api gateway starting", slog.String("addr", g.config.ListenAddr))
	return g.okapi.StartServer(g.server)
}

// Stop gracefully shuts down the HTTP server.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	g.logger.Info("http api gateway stopping")
	return g.okapi.Shutdown(g.server)
}

// --- Handlers ---

// IncidentRequest is the JSON body for POST /v1/incidents.
type IncidentRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Reporter    string `json:"reporter,omitempty"`
	Severity    string `json:"severity"`
	Evaluate    bool   `json:"evaluate,omitempty"`
}

// RunResponse is the JSON response after a pipeline run.
type RunResponse struct {
	IncidentID string               `json:"incident_id"`
	FinalState string               `json:"final_state"`
	RootCause  string               `json:"root_cause,omitempty"`
	Resolution *incident.Plan       `json:"resolution,omitempty"`
	Degraded   []string             `json:"degraded,omitempty"`
	Evaluation []*EvaluationSummary `json:"evaluation,omitempty"`
	Error      string               `json:"error,omitempty"`
	FailedAt   string               `json:"failed_at,omitempty"`
}

// EvaluationSummary is one judged stage in the run response.
type EvaluationSummary struct {
	Stage          string         `json:"stage"`
	Scores         map[string]int `json:"scores"`
	Aggregate      float64        `json:"aggregate"`
	Recommendation string         `json:"recommendation"`
}

func (g *Gateway) handleIncidentCreate(c *okapi.Context) error {
	var req IncidentRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}

	g.logger.Info("http incident report",
		slog.String("title", req.Title),
		slog.String("severity", req.Severity),
	)

	result, err := g.orch.HandleIncident(c.Context(), &pipeline.Request{
		Title:       req.Title,
		Description: req.Description,
		Reporter:    req.Reporter,
		Severity:    incident.Severity(req.Severity),
		Evaluate:    req.Evaluate,
	})
	if err != nil {
		var vErr *incident.ValidationError
		if errors.As(err, &vErr) {
			return c.AbortBadRequest(vErr.Error())
		}
		var runErr *pipeline.RunError
		if errors.As(err, &runErr) {
			// The incident exists but the run aborted partway. Report
			// how far it got instead of a bare 500.
			return c.JSON(http.StatusUnprocessableEntity, RunResponse{
				IncidentID: runErr.IncidentID,
				FinalState: string(runErr.LastState),
				FailedAt:   string(runErr.Stage),
				Error:      runErr.Err.Error(),
			})
		}
		g.logger.Error("incident run failed", slog.String("error", err.Error()))
		return c.AbortInternalServerError("incident processing failed")
	}

	return c.JSON(http.StatusCreated, runResponse(result))
}

func runResponse(r *pipeline.Result) RunResponse {
	resp := RunResponse{
		IncidentID: r.IncidentID,
		FinalState: string(r.FinalState),
		RootCause:  r.RootCause,
		Resolution: r.Resolution,
	}
	for _, d := range r.Degraded {
		resp.Degraded = append(resp.Degraded, string(d))
	}
	for _, ev := range r.Evaluation {
		resp.Evaluation = append(resp.Evaluation, &EvaluationSummary{
			Stage:          ev.Stage,
			Scores:         ev.Scores,
			Aggregate:      ev.Aggregate,
			Recommendation: ev.Recommendation,
		})
	}
	return resp
}

// IncidentResponse is the JSON view of a stored incident.
type IncidentResponse struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Reporter    string         `json:"reporter,omitempty"`
	Severity    string         `json:"severity"`
	State       string         `json:"state"`
	Priority    string         `json:"priority,omitempty"`
	Category    string         `json:"category,omitempty"`
	RootCause   string         `json:"root_cause,omitempty"`
	Resolution  *incident.Plan `json:"resolution,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	ResolvedAt  *time.Time     `json:"resolved_at,omitempty"`
}

func incidentResponse(inc *incident.Incident) IncidentResponse {
	return IncidentResponse{
		ID:          inc.ID,
		Title:       inc.Title,
		Description: inc.Description,
		Reporter:    inc.Reporter,
		Severity:    string(inc.Severity),
		State:       string(inc.State),
		Priority:    string(inc.Priority),
		Category:    string(inc.Category),
		RootCause:   inc.RootCause,
		Resolution:  inc.Resolution,
		CreatedAt:   inc.CreatedAt,
		UpdatedAt:   inc.UpdatedAt,
		ResolvedAt:  inc.ResolvedAt,
	}
}

func (g *Gateway) handleIncidentList(c *okapi.Context) error {
	q := c.Request().URL.Query()
	filter := incidentdb.Filter{
		State:    incident.State(q.Get("state")),
		Severity: incident.Severity(q.Get("severity")),
	}
	all, err := g.incidents.List(c.Context(), filter)
	if err != nil {
		g.logger.Error("listing incidents failed", slog.String("error", err.Error()))
		return c.AbortInternalServerError("listing incidents failed")
	}
	resp := make([]IncidentResponse, len(all))
	for i, inc := range all {
		resp[i] = incidentResponse(inc)
	}
	return c.OK(resp)
}

func (g *Gateway) handleIncidentGet(c *okapi.Context) error {
	inc, err := g.incidents.Get(c.Context(), c.Param("id"))
	if errors.Is(err, incident.ErrNotFound) {
		return c.JSON(http.StatusNotFound, okapi.M{"error": "incident not found"})
	}
	if err != nil {
		return c.AbortInternalServerError("fetching incident failed")
	}
	return c.OK(incidentResponse(inc))
}

func (g *Gateway) handleNotificationList(c *okapi.Context) error {
	recipient := c.Request().URL.Query().Get("recipient")
	if recipient == "" {
		return c.AbortBadRequest("recipient query parameter is required")
	}
	return c.OK(g.notifier.Receipts(recipient))
}

// HealthResponse is the JSON response for the probe endpoints.
type HealthResponse struct {
	Status string `json:"status"`
}

// handleLiveness is the Kubernetes liveness probe
func (g *Gateway) handleLiveness(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: "ok"})
}

// handleReadiness checks all registered dependencies and returns 200 or 503.
func (g *Gateway) handleReadiness(c *okapi.Context) error {
	if g.config.HealthChecker == nil {
		return c.OK(&HealthResponse{Status: "ok"})
	}

	status := g.config.HealthChecker.CheckReady(c.Context())
	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}

// --- Authentication ---

// authenticate validates the bearer API key on /v1 requests.
func (g *Gateway) authenticate(next okapi.HandlerFunc) okapi.HandlerFunc {
	return func(c *okapi.Context) error {
		if g.config.APIKey == "" {
			return c.AbortServiceUnavailable("api key not configured")
		}
		authHeader := c.Header("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return c.AbortUnauthorized("missing or invalid Authorization header")
		}
		apiKey := strings.TrimPrefix(authHeader, "Bearer ")
		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(g.config.APIKey)) != 1 {
			return c.AbortUnauthorized("invalid API key")
		}
		return next(c)
	}
}
