// internal/http/server.go

// Package http provides the HTTP API for semanticd. Handlers are thin
// wrappers over the agentctx facade; scope arrives in request bodies
// (or query parameters for GETs) and is validated fail-closed.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/semanticd/internal/agentctx"
	"github.com/fyrsmithlabs/semanticd/internal/decision"
	"github.com/fyrsmithlabs/semanticd/internal/memory"
	"github.com/fyrsmithlabs/semanticd/internal/retrieval"
	"github.com/fyrsmithlabs/semanticd/internal/vectorstore"
)

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// Server provides the HTTP endpoints.
type Server struct {
	echo   *echo.Echo
	agent  *agentctx.AgentContext
	logger *zap.Logger
	config *Config

	registry *prometheus.Registry
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// NewServer creates the HTTP server and registers routes.
func NewServer(agent *agentctx.AgentContext, logger *zap.Logger, cfg *Config) (*Server, error) {
	if agent == nil {
		return nil, fmt.Errorf("agent context is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{Host: "localhost", Port: 9090}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:     e,
		agent:    agent,
		logger:   logger,
		config:   cfg,
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "semanticd_http_requests_total",
			Help: "Total HTTP requests by path and status",
		}, []string{"path", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "semanticd_http_request_duration_seconds",
			Help:    "HTTP request latency by path",
			Buckets: prometheus.DefBuckets,
		}, []string{"path"}),
	}
	s.registry.MustRegister(s.requests, s.latency,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			path := c.Path()
			s.requests.WithLabelValues(path, fmt.Sprintf("%d", c.Response().Status)).Inc()
			s.latency.WithLabelValues(path).Observe(duration.Seconds())

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(
		promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/store", s.handleStore)
	v1.POST("/retrieve", s.handleRetrieve)
	v1.POST("/consolidate", s.handleConsolidate)
	v1.POST("/decisions", s.handleRecordDecision)
	v1.POST("/decisions/:id/outcome", s.handleDecisionOutcome)
	v1.GET("/decisions/precedents", s.handlePrecedents)
	v1.GET("/graph/stats", s.handleGraphStats)
}

// HealthResponse is the body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// StoreRequest is the body for POST /api/v1/store.
type StoreRequest struct {
	Scope          string            `json:"scope"`
	ConversationID string            `json:"conversation_id,omitempty"`
	Content        string            `json:"content"`
	Role           string            `json:"role,omitempty"`
	Kind           string            `json:"kind,omitempty"`
	Tags           []string          `json:"tags,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

func (s *Server) handleStore(c echo.Context) error {
	var req StoreRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ctx, err := s.agent.WithScope(c.Request().Context(), req.Scope, req.ConversationID)
	if err != nil {
		return httpError(err)
	}
	stored, err := s.agent.Store(ctx, req.Content, memory.StoreOptions{
		ConversationID: req.ConversationID,
		Role:           req.Role,
		Kind:           req.Kind,
		Tags:           req.Tags,
		Metadata:       req.Metadata,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, stored)
}

// RetrieveRequest is the body for POST /api/v1/retrieve.
type RetrieveRequest struct {
	Scope          string                 `json:"scope"`
	ConversationID string                 `json:"conversation_id,omitempty"`
	Query          string                 `json:"query"`
	K              int                    `json:"k,omitempty"`
	Filters        map[string]interface{} `json:"filters,omitempty"`
}

// RetrieveResponse is the body for POST /api/v1/retrieve.
type RetrieveResponse struct {
	Results []retrieval.Result `json:"results"`
	Count   int                `json:"count"`
}

func (s *Server) handleRetrieve(c echo.Context) error {
	var req RetrieveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ctx, err := s.agent.WithScope(c.Request().Context(), req.Scope, req.ConversationID)
	if err != nil {
		return httpError(err)
	}
	results, err := s.agent.Retrieve(ctx, req.Query, req.K, req.Filters)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, RetrieveResponse{Results: results, Count: len(results)})
}

// ConsolidateRequest is the body for POST /api/v1/consolidate.
type ConsolidateRequest struct {
	Scope          string `json:"scope"`
	ConversationID string `json:"conversation_id"`
}

func (s *Server) handleConsolidate(c echo.Context) error {
	var req ConsolidateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ctx, err := s.agent.WithScope(c.Request().Context(), req.Scope, req.ConversationID)
	if err != nil {
		return httpError(err)
	}
	episode, err := s.agent.Consolidate(ctx, req.ConversationID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, episode)
}

// DecisionRequest is the body for POST /api/v1/decisions.
type DecisionRequest struct {
	Scope      string   `json:"scope"`
	Action     string   `json:"action"`
	Reasoning  string   `json:"reasoning,omitempty"`
	Confidence float64  `json:"confidence"`
	Tags       []string `json:"tags,omitempty"`
}

// DecisionResponse is the body for POST /api/v1/decisions.
type DecisionResponse struct {
	Decision *decision.Decision `json:"decision"`
	Verdict  decision.Verdict   `json:"verdict"`
}

func (s *Server) handleRecordDecision(c echo.Context) error {
	var req DecisionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ctx, err := s.agent.WithScope(c.Request().Context(), req.Scope, "")
	if err != nil {
		return httpError(err)
	}
	d, verdict, err := s.agent.RecordDecision(ctx, req.Action, req.Reasoning, req.Confidence, req.Tags)
	if err != nil {
		if errors.Is(err, agentctx.ErrActionDenied) {
			return c.JSON(http.StatusForbidden, DecisionResponse{Verdict: verdict})
		}
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, DecisionResponse{Decision: d, Verdict: verdict})
}

// OutcomeRequest is the body for POST /api/v1/decisions/:id/outcome.
type OutcomeRequest struct {
	Scope   string `json:"scope"`
	Outcome string `json:"outcome"`
}

func (s *Server) handleDecisionOutcome(c echo.Context) error {
	var req OutcomeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ctx, err := s.agent.WithScope(c.Request().Context(), req.Scope, "")
	if err != nil {
		return httpError(err)
	}
	d, err := s.agent.ResolveDecision(ctx, c.Param("id"), decision.Outcome(req.Outcome))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, d)
}

// PrecedentsResponse is the body for GET /api/v1/decisions/precedents.
type PrecedentsResponse struct {
	Precedents []decision.Precedent `json:"precedents"`
	Count      int                  `json:"count"`
}

func (s *Server) handlePrecedents(c echo.Context) error {
	scope := c.QueryParam("scope")
	action := c.QueryParam("action")
	k := 0
	if v := c.QueryParam("k"); v != "" {
		if _, err := fmt.Sscanf(v, "%d", &k); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "k must be an integer")
		}
	}
	ctx, err := s.agent.WithScope(c.Request().Context(), scope, "")
	if err != nil {
		return httpError(err)
	}
	precedents, err := s.agent.Precedents(ctx, action, k)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, PrecedentsResponse{Precedents: precedents, Count: len(precedents)})
}

func (s *Server) handleGraphStats(c echo.Context) error {
	ctx, err := s.agent.WithScope(c.Request().Context(), c.QueryParam("scope"), "")
	if err != nil {
		return httpError(err)
	}
	stats, err := s.agent.GraphStats(ctx)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, stats)
}

// httpError maps domain errors to HTTP status codes.
func httpError(err error) error {
	switch {
	case errors.Is(err, vectorstore.ErrMissingScope),
		errors.Is(err, vectorstore.ErrInvalidScope),
		errors.Is(err, memory.ErrEmptyContent),
		errors.Is(err, memory.ErrMissingConversation),
		errors.Is(err, retrieval.ErrEmptyQuery),
		errors.Is(err, decision.ErrEmptyAction),
		errors.Is(err, decision.ErrInvalidConfidence),
		errors.Is(err, decision.ErrInvalidOutcome):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, agentctx.ErrActionDenied):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, decision.ErrDecisionNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, decision.ErrAlreadyResolved),
		errors.Is(err, memory.ErrNothingToConsolidate):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
