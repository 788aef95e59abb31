package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/quantmind-br/reposcan/internal/domain"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthResponse{
		Status:        "ok",
		Version:       s.config.Version,
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	})
}

// handleSearch handles POST /search
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.run(w, r, req.Source, domain.NewSubstringQuery(req.Query), req.Options)
}

// handleAnalyze handles POST /analyze. An empty keyword list selects the
// configured keywords.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeRequest
	if !s.decode(w, r, &req) {
		return
	}
	query := domain.ScanQuery{Kind: domain.QueryKeywords}
	if len(req.Keywords) > 0 {
		query = domain.NewKeywordQuery(req.Keywords...)
	}
	s.run(w, r, req.Source, query, req.Options)
}

func (s *Server) run(w http.ResponseWriter, r *http.Request, sr SourceRequest, query domain.ScanQuery, or OptionsRequest) {
	src, err := sr.Descriptor()
	if err != nil {
		s.writeError(w, domain.NewPipelineError(domain.KindInvalidRequest, "", err))
		return
	}
	opts, err := or.Pipeline()
	if err != nil {
		s.writeError(w, domain.NewPipelineError(domain.KindInvalidRequest, "", err))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.config.RequestTimeout)
	defer cancel()

	resp, err := s.scanner.Run(ctx, src, query, opts)
	if err != nil {
		if domain.KindOf(err) == domain.KindCancelled && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = domain.NewPipelineError(domain.KindRetrievalTimeout, "", fmt.Errorf("%w: %v", domain.ErrTimeout, err))
		}
		s.writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.writeError(w, domain.NewPipelineError(domain.KindInvalidRequest, "", errors.New("invalid JSON body: "+err.Error())))
		return false
	}
	return true
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	kind := domain.KindOf(err)
	body := ErrorBody{Kind: kind, Message: err.Error()}
	var pe *domain.PipelineError
	if errors.As(err, &pe) {
		body.Stage = pe.Stage
		if pe.Err != nil {
			body.Message = pe.Err.Error()
		}
	}

	status := StatusFor(kind)
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("kind", string(kind)).Msg("Request failed")
	}
	respondJSON(w, status, ErrorResponse{Error: body})
}

// StatusFor maps an error kind onto an HTTP status code
func StatusFor(kind domain.Kind) int {
	switch kind {
	case domain.KindInvalidRequest, domain.KindUnsafeCloneDestination, domain.KindUnsafeArchiveEntry:
		return http.StatusBadRequest
	case domain.KindRetrievalTooLarge:
		return http.StatusRequestEntityTooLarge
	case domain.KindRetrievalFailed:
		return http.StatusBadGateway
	case domain.KindRetrievalTimeout:
		return http.StatusGatewayTimeout
	case domain.KindCancelled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
