package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stacklok/tag-sync/internal/api/common"
	"github.com/stacklok/tag-sync/internal/status"
	"github.com/stacklok/tag-sync/internal/versions"
)

// StatusProvider exposes the outcome of the most recent pass
//
//go:generate mockgen -destination=mocks/mock_status_provider.go -package=mocks -source=health.go StatusProvider
type StatusProvider interface {
	Status() *status.SyncStatus
}

// HealthRouter creates a router for health check endpoints
func HealthRouter(provider StatusProvider) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", healthHandler)
	r.Get("/readiness", readinessHandler(provider))
	r.Get("/status", statusHandler(provider))
	r.Get("/version", versionHandler)

	return r
}

// healthHandler reports that the process is alive
func healthHandler(w http.ResponseWriter, _ *http.Request) {
	common.WriteJSONResponse(w, HealthResponse{Status: "healthy"}, http.StatusOK)
}

// readinessHandler reports ready once a pass has finished and the last one
// did not fail. Skipped passes count as ready.
func readinessHandler(provider StatusProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		s := provider.Status()
		if s == nil {
			common.WriteErrorResponse(w, "sync status unavailable", http.StatusServiceUnavailable)
			return
		}

		resp := ReadinessResponse{Status: "ready", Phase: s.Phase, Message: s.Message}
		if s.Phase == status.SyncPhasePending || !s.Healthy() {
			resp.Status = "not ready"
			common.WriteJSONResponse(w, resp, http.StatusServiceUnavailable)
			return
		}
		common.WriteJSONResponse(w, resp, http.StatusOK)
	}
}

// statusHandler returns the full sync status
func statusHandler(provider StatusProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		s := provider.Status()
		if s == nil {
			common.WriteErrorResponse(w, "sync status unavailable", http.StatusServiceUnavailable)
			return
		}
		common.WriteJSONResponse(w, s, http.StatusOK)
	}
}

// versionHandler handles version information requests
func versionHandler(w http.ResponseWriter, _ *http.Request) {
	info := versions.GetVersionInfo()

	common.WriteJSONResponse(w, VersionResponse{
		Version:   info.Version,
		Commit:    info.Commit,
		BuildDate: info.BuildDate,
		GoVersion: info.GoVersion,
		Platform:  info.Platform,
	}, http.StatusOK)
}
