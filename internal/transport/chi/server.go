// Package chi exposes the recommendation pipeline over HTTP.
package chi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/healthrec/internal/domain"
	"github.com/kailas-cloud/healthrec/internal/domain/filter"
	"github.com/kailas-cloud/healthrec/internal/domain/geo"
	"github.com/kailas-cloud/healthrec/internal/domain/query"
	"github.com/kailas-cloud/healthrec/internal/domain/recommendation"
	"github.com/kailas-cloud/healthrec/internal/domain/service"
	"github.com/kailas-cloud/healthrec/internal/logger"
	healthuc "github.com/kailas-cloud/healthrec/internal/usecase/health"
)

// APIPrefix is the mount point of the versioned API.
const APIPrefix = "/api/v1"

// maxBodyBytes bounds request bodies; refinement context is the largest payload.
const maxBodyBytes = 64 << 10

// upstreamMessage is the only detail clients see when a pipeline stage fails.
const upstreamMessage = "could not generate a recommendation, try again"

// Recommender is the pipeline surface served over HTTP.
type Recommender interface {
	Recommend(ctx context.Context, q query.Query) (recommendation.Recommendation, error)
	GenerateQuestions(ctx context.Context, text, message string) ([]string, error)
	RefineRecommend(ctx context.Context, req recommendation.RefineRequest) (recommendation.Recommendation, error)
	ListAll(ctx context.Context) ([]service.Record, error)
	Count(ctx context.Context) (int, error)
}

// HealthChecker reports component health.
type HealthChecker interface {
	Check(ctx context.Context) healthuc.Report
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error) bool

// Server holds the HTTP handlers.
type Server struct {
	recommend     Recommender
	health        HealthChecker
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(recommend Recommender, health HealthChecker, logger *zap.Logger) *Server {
	s := &Server{recommend: recommend, health: health, logger: logger}
	s.errorHandlers = []errorHandler{
		invalidInputHandler,
		sentinelHandler(domain.ErrServiceNotFound, http.StatusNotFound, ErrorCodeServiceNotFound),
		upstreamHandler,
	}
	return s
}

// Register mounts health and metrics at the root and the API under APIPrefix.
func (s *Server) Register(r chi.Router) {
	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)

	r.Route(APIPrefix, func(r chi.Router) {
		r.Post("/recommend", s.PostRecommend)
		r.Get("/recommend", s.GetRecommend)
		r.Post("/recommend/questions", s.PostQuestions)
		r.Post("/recommend/refine", s.PostRefine)
		r.Get("/services", s.ListServices)
		r.Get("/services/count", s.CountServices)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, ErrorCodeBadRequest, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrorCodeBadRequest, "method not allowed")
	})
}

// PostRecommend handles POST /recommend.
func (s *Server) PostRecommend(w http.ResponseWriter, r *http.Request) {
	var req RecommendRequest
	if !decodeBody(w, r, &req) {
		return
	}

	q, err := queryFromRequest(&req)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	s.serveRecommendation(w, r, q)
}

// GetRecommend handles GET /recommend?query=&latitude=&longitude=&radius=&rerank=&filter=.
func (s *Server) GetRecommend(w http.ResponseWriter, r *http.Request) {
	params, err := bindRecommendParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrorCodeBadRequest, err.Error())
		return
	}

	req := RecommendRequest{
		Query:     params.Query,
		Latitude:  params.Latitude,
		Longitude: params.Longitude,
		Radius:    params.Radius,
	}
	if params.Rerank != nil {
		req.Rerank = *params.Rerank
	}
	if params.Filter != nil {
		req.Filters = *params.Filter
	}

	q, err := queryFromRequest(&req)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	s.serveRecommendation(w, r, q)
}

func (s *Server) serveRecommendation(w http.ResponseWriter, r *http.Request, q query.Query) {
	rec, err := s.recommend.Recommend(r.Context(), q)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// PostQuestions handles POST /recommend/questions.
func (s *Server) PostQuestions(w http.ResponseWriter, r *http.Request) {
	var req QuestionsRequest
	if !decodeBody(w, r, &req) {
		return
	}

	questions, err := s.recommend.GenerateQuestions(r.Context(), req.Query, req.Recommendation)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	if questions == nil {
		questions = []string{}
	}
	writeJSON(w, http.StatusOK, QuestionsResponse{Questions: questions})
}

// PostRefine handles POST /recommend/refine.
func (s *Server) PostRefine(w http.ResponseWriter, r *http.Request) {
	var req RefineRequest
	if !decodeBody(w, r, &req) {
		return
	}

	q, err := queryFromRequest(&req.RecommendRequest)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	rec, err := s.recommend.RefineRecommend(r.Context(), recommendation.RefineRequest{
		Query:           q,
		Questions:       req.Questions,
		Answers:         req.Answers,
		PreviousMessage: req.Recommendation,
		Round:           req.Round,
	})
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ListServices handles GET /services.
func (s *Server) ListServices(w http.ResponseWriter, r *http.Request) {
	recs, err := s.recommend.ListAll(r.Context())
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	if recs == nil {
		recs = []service.Record{}
	}
	writeJSON(w, http.StatusOK, ServiceListResponse{Items: recs, Total: len(recs)})
}

// CountServices handles GET /services/count.
func (s *Server) CountServices(w http.ResponseWriter, r *http.Request) {
	n, err := s.recommend.Count(r.Context())
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CountResponse{Count: n})
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, HealthResponse{
		Status: string(report.Status),
		Checks: checks,
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

// bindRecommendParams reads GET /recommend query parameters (form style, exploded).
func bindRecommendParams(r *http.Request) (RecommendParams, error) {
	var p RecommendParams
	values := r.URL.Query()

	if err := runtime.BindQueryParameter("form", true, true, "query", values, &p.Query); err != nil {
		return p, fmt.Errorf("invalid format for parameter query: %w", err)
	}
	if err := runtime.BindQueryParameter("form", true, false, "latitude", values, &p.Latitude); err != nil {
		return p, fmt.Errorf("invalid format for parameter latitude: %w", err)
	}
	if err := runtime.BindQueryParameter("form", true, false, "longitude", values, &p.Longitude); err != nil {
		return p, fmt.Errorf("invalid format for parameter longitude: %w", err)
	}
	if err := runtime.BindQueryParameter("form", true, false, "radius", values, &p.Radius); err != nil {
		return p, fmt.Errorf("invalid format for parameter radius: %w", err)
	}
	if err := runtime.BindQueryParameter("form", true, false, "rerank", values, &p.Rerank); err != nil {
		return p, fmt.Errorf("invalid format for parameter rerank: %w", err)
	}
	if err := runtime.BindQueryParameter("form", true, false, "filter", values, &p.Filter); err != nil {
		return p, fmt.Errorf("invalid format for parameter filter: %w", err)
	}
	return p, nil
}

// queryFromRequest validates transport input into a domain query.
// Latitude and longitude come together; (0, 0) means no location.
func queryFromRequest(req *RecommendRequest) (query.Query, error) {
	if (req.Latitude == nil) != (req.Longitude == nil) {
		return query.Query{}, fmt.Errorf("%w: latitude and longitude must be given together", domain.ErrInvalidInput)
	}

	var loc *geo.Point
	if req.Latitude != nil && (*req.Latitude != 0 || *req.Longitude != 0) {
		p, err := geo.NewPoint(*req.Latitude, *req.Longitude)
		if err != nil {
			return query.Query{}, fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
		}
		loc = &p
	}

	filters, err := filter.Parse(req.Filters)
	if err != nil {
		return query.Query{}, fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
	}

	return query.New(req.Query, loc, req.Radius, req.Rerank, filters)
}

// decodeBody decodes a JSON body, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, ErrorCodeBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code ErrorCode, message string) {
	writeJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}

// invalidInputHandler echoes validation messages to the caller.
func invalidInputHandler(w http.ResponseWriter, err error) bool {
	if !errors.Is(err, domain.ErrInvalidInput) {
		return false
	}
	writeError(w, http.StatusBadRequest, ErrorCodeValidationFailed, err.Error())
	return true
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code ErrorCode) errorHandler {
	return func(w http.ResponseWriter, err error) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, sentinel.Error())
		return true
	}
}

// upstreamHandler hides provider and store details behind one generic message.
func upstreamHandler(w http.ResponseWriter, err error) bool {
	if !domain.IsStageUnavailable(err) &&
		!errors.Is(err, domain.ErrLLMProviderError) &&
		!errors.Is(err, domain.ErrEmbeddingProviderError) {
		return false
	}
	writeError(w, http.StatusBadGateway, ErrorCodeUpstreamUnavailable, upstreamMessage)
	return true
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	log := logger.FromContextOr(r.Context(), s.logger)
	log.Warn("domain error", zap.Error(err))
	for _, h := range s.errorHandlers {
		if h(w, err) {
			return
		}
	}
	log.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, ErrorCodeInternalError, "internal error")
}
