package chi

import (
	"github.com/kailas-cloud/healthrec/internal/domain/recommendation"
	"github.com/kailas-cloud/healthrec/internal/domain/service"
)

// ErrorCode is a stable machine-readable error identifier.
type ErrorCode string

// Error codes.
const (
	ErrorCodeBadRequest          ErrorCode = "bad_request"
	ErrorCodeValidationFailed    ErrorCode = "validation_failed"
	ErrorCodeUnauthorized        ErrorCode = "unauthorized"
	ErrorCodeServiceNotFound     ErrorCode = "service_not_found"
	ErrorCodeUpstreamUnavailable ErrorCode = "upstream_unavailable"
	ErrorCodeInternalError       ErrorCode = "internal_error"
)

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// RecommendRequest is the body of POST /recommend.
type RecommendRequest struct {
	Query     string   `json:"query"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	Radius    *float64 `json:"radius,omitempty"`
	Rerank    bool     `json:"rerank"`
	// Filters are "field=v1,v2" clauses; a leading "!" excludes.
	Filters []string `json:"filters,omitempty"`
}

// RecommendParams are the query parameters of GET /recommend.
type RecommendParams struct {
	Query     string
	Latitude  *float64
	Longitude *float64
	Radius    *float64
	Rerank    *bool
	Filter    *[]string
}

// RecommendResponse mirrors recommendation.Recommendation.
type RecommendResponse = recommendation.Recommendation

// QuestionsRequest is the body of POST /recommend/questions.
type QuestionsRequest struct {
	Query          string `json:"query"`
	Recommendation string `json:"recommendation"`
}

// QuestionsResponse lists clarifying questions; empty when nothing is left to ask.
type QuestionsResponse struct {
	Questions []string `json:"questions"`
}

// RefineRequest is the body of POST /recommend/refine. The client holds the refinement state.
type RefineRequest struct {
	RecommendRequest
	Recommendation string   `json:"recommendation"`
	Questions      []string `json:"questions"`
	Answers        []string `json:"answers"`
	Round          int      `json:"round"`
}

// ServiceListResponse is the body of GET /services.
type ServiceListResponse struct {
	Items []service.Record `json:"items"`
	Total int              `json:"total"`
}

// CountResponse is the body of GET /services/count.
type CountResponse struct {
	Count int `json:"count"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}
