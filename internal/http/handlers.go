package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"folhaponto/internal/log"
)

// handleHealth performs basic liveness check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(s.startedAt).Round(time.Second).String(),
	})
}

// handleReady reports whether the record store answers.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status, code := "ready", http.StatusOK
	checks := map[string]any{
		"templates": "ok",
		"rate_limiter": map[string]any{
			"active_clients": s.limiter.ActiveClients(),
			"status":         "ok",
		},
		"event_subscribers": s.broker.Subscribers(),
	}
	if s.ready == nil {
		checks["store"] = "not_configured"
	} else if err := s.ready(ctx); err != nil {
		s.logger.WarnContext(ctx, "Readiness check failed", "check", "store", log.FieldError, err)
		checks["store"] = "failed"
		status, code = "not_ready", http.StatusServiceUnavailable
	} else {
		checks["store"] = "ok"
	}

	writeJSON(w, code, map[string]any{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks":    checks,
	})
}

// handleMetrics writes counters in the Prometheus text format.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	tm := s.tracer.GetMetrics()
	rl := s.limiter.GetMetrics()
	sec := s.detector.GetMetrics()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)

	metric := func(name, kind, help string, value any) {
		fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n%s %v\n\n", name, help, name, kind, name, value)
	}
	metric("http_requests_total", "counter", "Total number of HTTP requests", tm.TotalRequests)
	metric("http_server_errors_total", "counter", "Responses with a 5xx status", tm.ServerErrors)
	metric("http_last_response_microseconds", "gauge", "Duration of the last request", tm.LastResponseTimeUs)
	metric("rate_limit_rejections_total", "counter", "Requests rejected by the rate limiter", rl.Rejected)
	metric("active_rate_limit_clients", "gauge", "Currently tracked rate limit clients", rl.ClientCount)
	metric("suspicious_requests_total", "counter", "Suspicious requests detected", sec.SuspiciousRequests)
	metric("invalid_forwarded_ip_total", "counter", "Forwarding headers with an invalid address", sec.InvalidIPAttempts)
	metric("signature_event_subscribers", "gauge", "Open signature event streams", s.broker.Subscribers())
	metric("uptime_seconds", "gauge", "Application uptime in seconds", int64(time.Since(s.startedAt).Seconds()))
}
