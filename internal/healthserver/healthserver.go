// Package healthserver exposes the orchestrator's /healthz and /metrics
// endpoints over HTTP, adapted from the teacher's single-handler
// healthcheck into a small standalone server since this orchestrator has
// no host process to attach a handler to.
package healthserver

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/mattermost/merge-queue-orchestrator/internal/metrics"
)

var startedAt = time.Now()

// HealthzResponse is the JSON payload for the /healthz endpoint.
type HealthzResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}

// Server serves /healthz and /metrics for as long as the orchestrator
// process runs a cycle. Unlike the teacher's plugin-hosted handler, it
// owns its own listener and lifecycle.
type Server struct {
	addr string
	log  *logrus.Entry
	srv  *http.Server
}

func New(addr string, log *logrus.Entry) *Server {
	mux := http.NewServeMux()
	s := &Server{addr: addr, log: log}

	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	s.srv = &http.Server{Addr: addr, Handler: mux}
	return s
}

// Start runs the server in the background. It is a no-op when addr is
// empty, matching the config's "empty disables the health server" field.
func (s *Server) Start() {
	if s.addr == "" {
		return
	}
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Error("health server stopped unexpectedly")
		}
	}()
}

func (s *Server) Stop(ctx context.Context) error {
	if s.addr == "" {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	response := HealthzResponse{
		Status: "ok",
		Uptime: time.Since(startedAt).String(),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.log.WithError(err).Error("failed to encode /healthz response")
	}
}
