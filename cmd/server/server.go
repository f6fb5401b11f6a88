package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/liamcoop/docforge/artifacts"
	"github.com/liamcoop/docforge/catalog"
	"github.com/liamcoop/docforge/conditions"
	"github.com/liamcoop/docforge/docgen"
	"github.com/liamcoop/docforge/entitlements"
	"github.com/liamcoop/docforge/importer"
	"github.com/liamcoop/docforge/internal/config"
	"github.com/liamcoop/docforge/internal/logger"
	"github.com/liamcoop/docforge/questionnaire"
	"github.com/liamcoop/docforge/render"
	"github.com/liamcoop/docforge/resolver"
)

// maxImportBytes bounds a catalog import body.
const maxImportBytes = 8 << 20

// Deps are the collaborators a Server is built from. DB and Artifacts may be nil.
type Deps struct {
	DB           *sql.DB
	Catalog      importer.Store
	Resolver     *resolver.Resolver
	Conditions   *conditions.Engine
	Renderer     *render.Renderer
	Entitlements *entitlements.Service
	Artifacts    artifacts.Store
	Config       config.Config
	Now          func() time.Time
}

type Server struct {
	db           *sql.DB
	catalog      catalog.Store
	resolver     *resolver.Resolver
	generator    *docgen.Service
	importer     *importer.Importer
	entitlements *entitlements.Service
	artifacts    artifacts.Store
	limiter      *ipRateLimiter
	auth         *authenticator
	timeout      time.Duration
	router       *chi.Mux
}

func NewServer(deps Deps) *Server {
	opts := []docgen.Option{}
	if deps.Now != nil {
		opts = append(opts, docgen.WithClock(deps.Now))
	}
	if deps.Artifacts != nil {
		opts = append(opts, docgen.WithArtifacts(deps.Artifacts))
	}

	s := &Server{
		db:           deps.DB,
		catalog:      deps.Catalog,
		resolver:     deps.Resolver,
		generator:    docgen.New(deps.Resolver, deps.Conditions, deps.Renderer, opts...),
		importer:     importer.New(deps.Catalog, deps.Conditions, deps.Resolver),
		entitlements: deps.Entitlements,
		artifacts:    deps.Artifacts,
		auth:         newAuthenticator(deps.Config.Auth),
		timeout:      deps.Config.RequestTimeout,
	}
	if deps.Config.Rate.RPS > 0 {
		s.limiter = newIPRateLimiter(deps.Config.Rate)
	}
	if s.timeout <= 0 {
		s.timeout = 60 * time.Second
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.timeout))
	r.Use(slowRequests)
	if s.limiter != nil {
		r.Use(s.limiter.Middleware)
	}

	r.Get("/api/v1/health", s.handleHealth)
	r.Get("/api/v1/metrics", s.handleMetrics)

	// Catalog browsing
	r.Route("/api/v1/templates", func(r chi.Router) {
		r.Get("/", s.handleListTemplates)
		r.Get("/{code}", s.handleGetTemplate)
		r.Get("/{code}/questions", s.handleQuestions)
	})

	// Authenticated
	r.Group(func(r chi.Router) {
		r.Use(s.auth.Middleware)

		r.Post("/api/v1/documents", s.handleGenerate)
		r.Post("/api/v1/documents/preview", s.handlePreview)
		r.Get("/api/v1/artifacts/{ref}", s.handleGetArtifact)

		r.Group(func(r chi.Router) {
			r.Use(requireRole(roleAdmin))
			r.Post("/api/v1/catalog/import", s.handleImport)
			r.Post("/api/v1/entitlements/events", s.handleEntitlementEvent)
		})
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close stops background work started by NewServer.
func (s *Server) Close() {
	if s.limiter != nil {
		s.limiter.Stop()
	}
}

// Health check handler
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		if err := s.db.PingContext(r.Context()); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, HealthResponse{
				Status: "unhealthy",
				Error:  err.Error(),
			})
			return
		}
	}

	templates, err := s.catalog.ListTemplates(r.Context())
	if err != nil {
		respondJSON(w, http.StatusServiceUnavailable, HealthResponse{
			Status: "unhealthy",
			Error:  err.Error(),
		})
		return
	}

	respondJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Templates: len(templates),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, logger.Snapshot())
}

// List templates handler
func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := s.catalog.ListTemplates(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list templates", err)
		return
	}

	resp := TemplatesListResponse{Templates: make([]TemplateSummary, 0, len(templates))}
	for _, t := range templates {
		resp.Templates = append(resp.Templates, summarize(t))
	}
	respondJSON(w, http.StatusOK, resp)
}

// Get template handler
func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	t, err := s.catalog.GetTemplate(r.Context(), code)
	if errors.Is(err, catalog.ErrTemplateNotFound) {
		respondError(w, http.StatusNotFound, "template not found", nil)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get template", err)
		return
	}

	resp := TemplateDetailResponse{
		TemplateSummary: summarize(t),
		Clauses:         make([]ClauseSummary, 0, len(t.Clauses)),
	}
	for _, c := range t.Clauses {
		resp.Clauses = append(resp.Clauses, ClauseSummary{ID: c.ID, Title: c.Title, Conditional: c.Condition != ""})
	}
	respondJSON(w, http.StatusOK, resp)
}

// Questions handler. With jurisdiction (and optionally language) the
// questions reflect the overlay, e.g. its governing law default.
func (s *Server) handleQuestions(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	jurisdiction := r.URL.Query().Get("jurisdiction")
	language := r.URL.Query().Get("language")

	resp := QuestionsResponse{TemplateCode: code}

	if jurisdiction == "" {
		t, err := s.catalog.GetTemplate(r.Context(), code)
		if errors.Is(err, catalog.ErrTemplateNotFound) {
			respondError(w, http.StatusNotFound, "template not found", nil)
			return
		}
		if err != nil {
			respondError(w, http.StatusInternalServerError, "failed to get template", err)
			return
		}
		resp.Questions = questionnaire.Build(t.Variables)
		respondJSON(w, http.StatusOK, resp)
		return
	}

	if language == "" {
		language = "en"
	}
	resolved, err := s.resolver.Resolve(r.Context(), code, jurisdiction, language)
	if err != nil {
		respondDocgenError(w, docgen.Classify(err))
		return
	}
	resp.Jurisdiction = resolved.Jurisdiction
	resp.Language = resolved.Language
	resp.Questions = questionnaire.Build(resolved.Variables)
	respondJSON(w, http.StatusOK, resp)
}

// decodeGenerate reads a generation request and confirms the caller may use
// the template.
func (s *Server) decodeGenerate(w http.ResponseWriter, r *http.Request) (docgen.Request, bool) {
	var body GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return docgen.Request{}, false
	}
	if body.TemplateCode == "" {
		respondError(w, http.StatusBadRequest, "templateCode is required", nil)
		return docgen.Request{}, false
	}

	p, _ := principalFrom(r.Context())
	req := docgen.Request{
		UserID:       p.UserID,
		TemplateCode: body.TemplateCode,
		Jurisdiction: body.Jurisdiction,
		Language:     body.Language,
		Answers:      body.Answers,
		Format:       body.Format,
		Options:      body.Options,
	}

	if s.entitlements != nil {
		err := s.entitlements.Require(r.Context(), p.UserID, req.TemplateCode)
		if errors.Is(err, entitlements.ErrNotEntitled) {
			respondError(w, http.StatusForbidden, "no entitlement for this template", nil)
			return req, false
		}
		if err != nil {
			respondError(w, http.StatusInternalServerError, "failed to check entitlement", err)
			return req, false
		}
	}
	return req, true
}

// Generate handler
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeGenerate(w, r)
	if !ok {
		return
	}

	result, err := s.generator.Generate(r.Context(), req)
	if err != nil {
		respondDocgenError(w, docgen.Classify(err))
		return
	}

	filename := fmt.Sprintf("%s.%s", strings.ToLower(result.Document.TemplateCode), result.Format.Extension())
	w.Header().Set("Content-Type", result.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	w.Header().Set("X-Template-Version", result.Document.Version)
	if result.ArtifactRef != "" {
		w.Header().Set("X-Artifact-Ref", result.ArtifactRef)
	}
	w.WriteHeader(http.StatusOK)
	w.Write(result.Bytes)
}

// Preview handler
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeGenerate(w, r)
	if !ok {
		return
	}

	doc, err := s.generator.Preview(r.Context(), req)
	if err != nil {
		respondDocgenError(w, docgen.Classify(err))
		return
	}

	seen := map[string]bool{}
	unresolved := []string{}
	for _, sec := range doc.Sections {
		for _, name := range sec.Unresolved {
			if !seen[name] {
				seen[name] = true
				unresolved = append(unresolved, name)
			}
		}
	}
	sort.Strings(unresolved)

	respondJSON(w, http.StatusOK, PreviewResponse{Document: doc, Unresolved: unresolved})
}

// Artifact download handler
func (s *Server) handleGetArtifact(w http.ResponseWriter, r *http.Request) {
	if s.artifacts == nil {
		respondError(w, http.StatusNotFound, "artifact storage is not configured", nil)
		return
	}

	a, err := s.artifacts.Get(r.Context(), chi.URLParam(r, "ref"))
	switch {
	case errors.Is(err, artifacts.ErrInvalidRef):
		respondError(w, http.StatusBadRequest, "invalid artifact reference", err)
		return
	case errors.Is(err, artifacts.ErrNotFound):
		respondError(w, http.StatusNotFound, "artifact not found", nil)
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, "failed to load artifact", err)
		return
	}

	w.Header().Set("Content-Type", a.ContentType)
	w.WriteHeader(http.StatusOK)
	w.Write(a.Data)
}

// Catalog import handler. The body is a bundle in JSON, or YAML when the
// content type says so.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	body := io.LimitReader(r.Body, maxImportBytes)

	var bundle *catalog.Bundle
	var err error
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/yaml", "application/x-yaml", "text/yaml":
		bundle, err = catalog.DecodeYAML(body)
	default:
		bundle, err = catalog.DecodeJSON(body)
	}
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid catalog bundle", err)
		return
	}

	report, err := s.importer.Import(r.Context(), bundle)
	switch {
	case errors.Is(err, importer.ErrInvalidContent):
		respondError(w, http.StatusUnprocessableEntity, "catalog content rejected", err)
		return
	case errors.Is(err, importer.ErrVersionConflict), errors.Is(err, importer.ErrVersionNotIncreasing):
		respondError(w, http.StatusConflict, "template version rejected", err)
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, "catalog import failed", err)
		return
	}

	respondJSON(w, http.StatusOK, ImportResponse{
		Published: nonNil(report.Published),
		Unchanged: nonNil(report.Unchanged),
		Overlays:  report.Overlays,
	})
}

// Entitlement event handler
func (s *Server) handleEntitlementEvent(w http.ResponseWriter, r *http.Request) {
	var req EntitlementEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	grant, err := s.entitlements.Record(r.Context(), entitlements.Event{
		EventID:     req.EventID,
		UserID:      req.UserID,
		Entitlement: req.Entitlement,
		ExpiresAt:   req.ExpiresAt,
	})
	if errors.Is(err, entitlements.ErrInvalidEvent) {
		respondError(w, http.StatusBadRequest, "invalid entitlement event", err)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to record entitlement", err)
		return
	}

	respondJSON(w, http.StatusCreated, grant)
}

// Helper functions
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	countStatus(status)
	response := ErrorResponse{Error: message}
	if err != nil && status < http.StatusInternalServerError {
		response.Details = err.Error()
	}
	if err != nil && status >= http.StatusInternalServerError {
		logger.Error(message, "status", status, "error", err)
	}
	respondJSON(w, status, response)
}

// respondDocgenError writes a classified pipeline error. System failures
// carry only the generic message and the correlation id.
func respondDocgenError(w http.ResponseWriter, e *docgen.Error) {
	status := e.HTTPStatus()
	countStatus(status)

	response := ErrorResponse{
		Error:         e.Message,
		Code:          e.Code,
		Fields:        e.Fields,
		CorrelationID: e.CorrelationID,
		Retryable:     e.Retryable,
	}
	if e.Kind == docgen.KindBadInput && e.Err != nil && e.Code != docgen.CodeInvalidAnswers {
		response.Details = e.Err.Error()
	}
	if e.Retryable {
		w.Header().Set("Retry-After", "5")
	}
	respondJSON(w, status, response)
}

func countStatus(status int) {
	switch {
	case status >= http.StatusInternalServerError:
		logger.ErrorHttp5xx()
	case status >= http.StatusBadRequest:
		logger.WarnHttp4xx(status)
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
