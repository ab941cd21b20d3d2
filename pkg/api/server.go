// Package api exposes the orchestrator over HTTP: opportunity listing and
// lifecycle actions, execution inspection, analytics, and Prometheus
// metrics.
package api

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opscart/cloud-cost-orchestrator/pkg/analytics"
	"github.com/opscart/cloud-cost-orchestrator/pkg/models"
	"github.com/opscart/cloud-cost-orchestrator/pkg/orchestrator"
	"github.com/opscart/cloud-cost-orchestrator/pkg/reporter"
	"github.com/opscart/cloud-cost-orchestrator/pkg/storage"
)

// Discoverer triggers an on-demand discovery scan.
type Discoverer interface {
	Discover(ctx context.Context) ([]*models.OptimizationOpportunity, error)
}

// Server wires the HTTP surface.
type Server struct {
	store      storage.Store
	orch       *orchestrator.Orchestrator
	analyzer   *analytics.Analyzer
	discoverer Discoverer

	mux *http.ServeMux
}

// NewServer creates the HTTP server. discoverer may be nil when the
// deployment runs discovery out of band.
func NewServer(store storage.Store, orch *orchestrator.Orchestrator, analyzer *analytics.Analyzer, discoverer Discoverer) *Server {
	s := &Server{
		store:      store,
		orch:       orch,
		analyzer:   analyzer,
		discoverer: discoverer,
		mux:        http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.Handle("GET /metrics", promhttp.Handler())

	s.mux.HandleFunc("GET /api/v1/opportunities", s.handleListOpportunities)
	s.mux.HandleFunc("GET /api/v1/opportunities/{id}", s.handleGetOpportunity)
	s.mux.HandleFunc("GET /api/v1/opportunities/{id}/history", s.handleHistory)
	s.mux.HandleFunc("POST /api/v1/opportunities/{id}/request-approval", s.handleRequestApproval)
	s.mux.HandleFunc("POST /api/v1/opportunities/{id}/approve", s.handleApprove)
	s.mux.HandleFunc("POST /api/v1/opportunities/{id}/reject", s.handleReject)
	s.mux.HandleFunc("POST /api/v1/opportunities/{id}/execute", s.handleExecute)
	s.mux.HandleFunc("POST /api/v1/opportunities/{id}/cancel", s.handleCancel)
	s.mux.HandleFunc("GET /api/v1/executions/{id}", s.handleGetExecution)
	s.mux.HandleFunc("POST /api/v1/executions/{id}/cancel", s.handleCancelExecution)

	s.mux.HandleFunc("GET /api/v1/optimizations/metrics", s.handleMetrics)
	s.mux.HandleFunc("GET /api/v1/analytics/cost", s.handleCostAnalysis)
	s.mux.HandleFunc("GET /api/v1/analytics/report", s.handleReport)
	s.mux.HandleFunc("POST /api/v1/discovery/run", s.handleDiscover)
}

// Handler returns the root handler with request-id tagging applied.
func (s *Server) Handler() http.Handler {
	return withRequestID(s.mux)
}

type ctxKey string

const requestIDKey ctxKey = "request_id"

func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

func requestID(r *http.Request) string {
	if id, ok := r.Context().Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "detail": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type listResponse struct {
	Opportunities []*models.OptimizationOpportunity `json:"opportunities"`
	Total         int                               `json:"total"`
	Limit         int                               `json:"limit"`
	Offset        int                               `json:"offset"`
}

func (s *Server) handleListOpportunities(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := storage.ListFilter{
		Provider: models.CloudProvider(q.Get("provider")),
		Type:     models.OptimizationType(q.Get("type")),
		Limit:    intParam(q.Get("limit"), 50),
		Offset:   intParam(q.Get("offset"), 0),
	}
	if state := q.Get("state"); state != "" {
		for _, st := range strings.Split(state, ",") {
			filter.States = append(filter.States, models.LifecycleState(st))
		}
	}

	opportunities, total, err := s.store.ListOpportunities(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if opportunities == nil {
		opportunities = []*models.OptimizationOpportunity{}
	}
	writeJSON(w, http.StatusOK, listResponse{
		Opportunities: opportunities,
		Total:         total,
		Limit:         filter.Limit,
		Offset:        filter.Offset,
	})
}

func (s *Server) handleGetOpportunity(w http.ResponseWriter, r *http.Request) {
	opp, err := s.store.GetOpportunity(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, opp)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.store.GetOpportunity(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	events, err := s.store.GetHistory(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if events == nil {
		events = []*models.TransitionEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"opportunity_id": id, "events": events})
}

func (s *Server) handleRequestApproval(w http.ResponseWriter, r *http.Request) {
	req, err := s.orch.RequestApproval(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, req)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	approver := r.URL.Query().Get("approver_id")
	if approver == "" {
		writeError(w, r, &models.ValidationError{Field: "approver_id", Message: "required"})
		return
	}
	result, err := s.orch.Approve(r.Context(), r.PathValue("id"), approver, decisionChannel(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	approver := q.Get("approver_id")
	if approver == "" {
		writeError(w, r, &models.ValidationError{Field: "approver_id", Message: "required"})
		return
	}
	result, err := s.orch.Reject(r.Context(), r.PathValue("id"), approver, q.Get("reason"), decisionChannel(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func decisionChannel(r *http.Request) models.ChannelType {
	if via := r.URL.Query().Get("via"); via != "" {
		return models.ChannelType(via)
	}
	return models.ChannelLog
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("X-Operation-Token")
	executedBy := r.URL.Query().Get("executed_by")
	if executedBy == "" {
		executedBy = "api"
	}
	rec, err := s.orch.Execute(r.Context(), r.PathValue("id"), token, executedBy)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	reason := r.URL.Query().Get("reason")
	if reason == "" {
		reason = "cancelled via api"
	}
	if err := s.orch.CancelExecution(r.Context(), r.PathValue("id"), reason); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

// handleCancelExecution cancels by execution id rather than opportunity id.
func (s *Server) handleCancelExecution(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.GetExecution(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	reason := r.URL.Query().Get("reason")
	if reason == "" {
		reason = "cancelled via api"
	}
	if err := s.orch.CancelExecution(r.Context(), rec.OpportunityID, reason); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.GetExecution(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	metrics, err := s.analyzer.Metrics(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, metrics)
}

func (s *Server) handleCostAnalysis(w http.ResponseWriter, r *http.Request) {
	analysis, err := s.analyzer.CostAnalysis(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = string(reporter.FormatCSV)
	}

	opportunities, _, err := s.store.ListOpportunities(r.Context(), storage.ListFilter{})
	if err != nil {
		writeError(w, r, err)
		return
	}
	report := reporter.Build("all opportunities", opportunities)

	switch reporter.ReportFormat(format) {
	case reporter.FormatCSV:
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", "attachment; filename=cost-report.csv")
		err = reporter.GenerateCSV(report, w)
	case reporter.FormatHTML:
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		err = reporter.GenerateHTML(report, w)
	default:
		writeError(w, r, &models.ValidationError{Message: "format must be csv or html"})
		return
	}
	if err != nil {
		log.Printf("[ERROR] report generation failed: %v", err)
	}
}

func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	if s.discoverer == nil {
		writeError(w, r, &models.ValidationError{Message: "discovery is not configured on this instance"})
		return
	}
	found, err := s.discoverer.Discover(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	admitted := 0
	for _, opp := range found {
		if err := s.orch.Admit(r.Context(), opp); err != nil {
			writeError(w, r, err)
			return
		}
		admitted++
	}
	writeJSON(w, http.StatusOK, map[string]int{"discovered": len(found), "admitted": admitted})
}

// ListenAndServe runs the server until ctx is cancelled, then drains with
// a shutdown grace period.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}

func intParam(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
