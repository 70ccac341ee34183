// Package ops exposes the operational HTTP endpoints the worker and
// scheduler daemons serve alongside their main loops: liveness, readiness
// with dependency probes, and nothing else. There is no public API surface
// in this system.
package ops

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"milestone/internal/types"
)

// probeTimeout is the maximum time allowed for all readiness probes to
// complete; slower than this and the replica is reported not ready.
const probeTimeout = 2 * time.Second

// HealthProbe is a readiness check for one critical dependency (database,
// queue).
type HealthProbe interface {
	Name() string
	Check(ctx context.Context) error
}

// componentStatus represents the health state of a single dependency.
type componentStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthResponse struct {
	Status     string                     `json:"status"`
	Components map[string]componentStatus `json:"components,omitempty"`
}

// Server is the operational HTTP server.
type Server struct {
	probes []HealthProbe
	logger types.Logger
}

// NewServer creates an ops server with the given readiness probes.
func NewServer(logger types.Logger, probes ...HealthProbe) *Server {
	return &Server{probes: probes, logger: logger}
}

// Router builds the ops route tree.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleLiveness)
	r.Get("/readyz", s.handleReadiness)
	return r
}

// ListenAndServe serves the ops endpoints until ctx is canceled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, port string) error {
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.logger.Info("ops server listening", "port", port)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// handleLiveness reports that the process is up. It never checks
// dependencies; a replica wedged on a dead database should be restarted by
// readiness-driven signals, not liveness kills.
func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "healthy"})
}

// handleReadiness runs all registered probes concurrently under a shared
// deadline. Any probe failure or timeout reports 503.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
	defer cancel()

	if len(s.probes) == 0 {
		writeJSON(w, http.StatusOK, healthResponse{Status: "healthy"})
		return
	}

	type probeResult struct {
		name string
		err  error
	}

	var (
		mu      sync.Mutex
		results = make(map[string]probeResult, len(s.probes))
		wg      sync.WaitGroup
	)

	for _, probe := range s.probes {
		wg.Add(1)
		go func(p HealthProbe) {
			defer wg.Done()

			var err error
			func() {
				defer func() {
					if rec := recover(); rec != nil {
						err = fmt.Errorf("probe panicked: %v", rec)
					}
				}()
				err = p.Check(ctx)
			}()

			mu.Lock()
			results[p.Name()] = probeResult{name: p.Name(), err: err}
			mu.Unlock()
		}(probe)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		// Build a partial response; probes that missed the deadline are
		// reported as timed out.
	}

	mu.Lock()
	collected := make(map[string]probeResult, len(results))
	for name, res := range results {
		collected[name] = res
	}
	mu.Unlock()

	components := make(map[string]componentStatus, len(s.probes))
	allHealthy := true
	for _, probe := range s.probes {
		name := probe.Name()
		result, ok := collected[name]
		switch {
		case !ok:
			allHealthy = false
			components[name] = componentStatus{Status: "unhealthy", Message: "health check timed out"}
		case result.err != nil:
			allHealthy = false
			components[name] = componentStatus{Status: "unhealthy", Message: result.err.Error()}
		default:
			components[name] = componentStatus{Status: "healthy"}
		}
	}

	resp := healthResponse{Components: components}
	if allHealthy {
		resp.Status = "healthy"
		writeJSON(w, http.StatusOK, resp)
		return
	}
	resp.Status = "unhealthy"
	writeJSON(w, http.StatusServiceUnavailable, resp)
}
