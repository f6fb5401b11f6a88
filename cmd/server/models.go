package main

import (
	"time"

	"github.com/liamcoop/docforge/answers"
	"github.com/liamcoop/docforge/catalog"
	"github.com/liamcoop/docforge/questionnaire"
	"github.com/liamcoop/docforge/render"
)

// API request and response models

// GenerateRequest is the body of POST /api/v1/documents and /documents/preview
type GenerateRequest struct {
	TemplateCode string         `json:"templateCode" example:"NDA_MUTUAL_V1" binding:"required"`
	Jurisdiction string         `json:"jurisdiction" example:"UK" binding:"required"`
	Language     string         `json:"language" example:"en" binding:"required"`
	Answers      map[string]any `json:"answers"`
	Format       render.Format  `json:"format,omitempty" example:"pdf"`
	Options      render.Options `json:"options,omitempty"`
} // @name GenerateRequest

// TemplateSummary describes one active template in the catalog
type TemplateSummary struct {
	Code          string   `json:"code" example:"NDA_MUTUAL_V1"`
	Version       string   `json:"version" example:"1.0.0"`
	Title         string   `json:"title" example:"Mutual Non-Disclosure Agreement"`
	Description   string   `json:"description,omitempty"`
	Jurisdictions []string `json:"jurisdictions" example:"UK,US-CA"`
	Languages     []string `json:"languages" example:"en"`
} // @name TemplateSummary

// TemplatesListResponse is the response of GET /api/v1/templates
type TemplatesListResponse struct {
	Templates []TemplateSummary `json:"templates"`
} // @name TemplatesListResponse

// ClauseSummary is one clause outline entry
type ClauseSummary struct {
	ID          string `json:"id" example:"governing_law"`
	Title       string `json:"title" example:"Governing Law"`
	Conditional bool   `json:"conditional"`
} // @name ClauseSummary

// TemplateDetailResponse is the response of GET /api/v1/templates/{code}
type TemplateDetailResponse struct {
	TemplateSummary
	Clauses []ClauseSummary `json:"clauses"`
} // @name TemplateDetailResponse

// QuestionsResponse is the response of GET /api/v1/templates/{code}/questions
type QuestionsResponse struct {
	TemplateCode string                   `json:"templateCode" example:"NDA_MUTUAL_V1"`
	Jurisdiction string                   `json:"jurisdiction,omitempty" example:"UK"`
	Language     string                   `json:"language,omitempty" example:"en"`
	Questions    []questionnaire.Question `json:"questions"`
} // @name QuestionsResponse

// PreviewResponse is the response of POST /api/v1/documents/preview
type PreviewResponse struct {
	Document   *render.Document `json:"document"`
	Unresolved []string         `json:"unresolved"`
} // @name PreviewResponse

// EntitlementEventRequest is a successful charge relayed by the payment integration
type EntitlementEventRequest struct {
	EventID     string     `json:"eventId" example:"evt_1PqR2s" binding:"required"`
	UserID      string     `json:"userId" example:"user_123" binding:"required"`
	Entitlement string     `json:"entitlement" example:"template:NDA_MUTUAL_V1" binding:"required"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty" example:"2025-01-15T10:30:00Z"`
} // @name EntitlementEventRequest

// ImportResponse reports what a catalog import published
type ImportResponse struct {
	Published []string `json:"published"`
	Unchanged []string `json:"unchanged"`
	Overlays  int      `json:"overlays"`
} // @name ImportResponse

// ErrorResponse represents an error response. Fields is set for answer
// validation failures, CorrelationID for server-side failures.
type ErrorResponse struct {
	Error         string               `json:"error" example:"answers failed validation"`
	Code          string               `json:"code,omitempty" example:"invalid_answers"`
	Details       string               `json:"details,omitempty"`
	Fields        []answers.FieldError `json:"fields,omitempty"`
	CorrelationID string               `json:"correlationId,omitempty" example:"3f1c2a8e-8a4b-4f7e-9f0e-2d5b6c7a8b9c"`
	Retryable     bool                 `json:"retryable,omitempty"`
} // @name ErrorResponse

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status" example:"healthy"`
	Templates int    `json:"templates" example:"12"`
	Error     string `json:"error,omitempty"`
} // @name HealthResponse

func summarize(t *catalog.Template) TemplateSummary {
	return TemplateSummary{
		Code:          t.Code,
		Version:       t.Version,
		Title:         t.Title,
		Description:   t.Description,
		Jurisdictions: t.Jurisdictions,
		Languages:     t.Languages,
	}
}
