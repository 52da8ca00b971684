package server

import (
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/nicktill/tixcondenser/pkg/config"
	"github.com/nicktill/tixcondenser/pkg/httpx"
	"github.com/nicktill/tixcondenser/pkg/ingest"
	"github.com/nicktill/tixcondenser/pkg/registry"
	"github.com/nicktill/tixcondenser/pkg/report"
	"github.com/nicktill/tixcondenser/pkg/server/monitor"
	"github.com/nicktill/tixcondenser/pkg/telemetry"
)

var startTime = time.Now()

// Deps are the components the HTTP surface exposes.
type Deps struct {
	Registry    *registry.Registry
	Receiver    *ingest.Receiver
	Storage     *monitor.StorageMonitor
	Submissions *monitor.SubmissionMonitor
	Hub         *Hub
	Metrics     *telemetry.Metrics
}

// HealthResponse is the body of GET /v1/health.
type HealthResponse struct {
	Status        string                   `json:"status"`
	Version       string                   `json:"version"`
	Uptime        string                   `json:"uptime"`
	Installations int                      `json:"installations"`
	Submission    monitor.SubmissionStatus `json:"submission"`
}

// InstallationsResponse is the body of GET /v1/installations.
type InstallationsResponse struct {
	Installations []registry.InstallationStats `json:"installations"`
	Count         int                          `json:"count"`
}

// handleReport ingests one JSON report through the same path as the queue.
func handleReport(receiver *ingest.Receiver) http.HandlerFunc {
	var codec report.Codec
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, config.MaxReportBodyBytes))
		if err != nil {
			httpx.RespondError(w, http.StatusBadRequest, err)
			return
		}
		rep, err := codec.Deserialize(body)
		if err != nil {
			httpx.RespondError(w, http.StatusBadRequest, err)
			return
		}

		outcome, err := receiver.ReceiveReport(r.Context(), rep)
		switch {
		case errors.Is(err, ingest.ErrAuthorization):
			httpx.RespondError(w, http.StatusBadGateway, err)
		case err != nil:
			log.Printf("Installation %d report failed: %v", rep.InstallationID, err)
			httpx.RespondError(w, http.StatusInternalServerError, err)
		case outcome == ingest.Invalid:
			httpx.RespondStatus(w, http.StatusUnprocessableEntity, "rejected", string(outcome))
		case outcome == ingest.Unauthorized:
			httpx.RespondStatus(w, http.StatusForbidden, "rejected", string(outcome))
		default:
			httpx.RespondStatus(w, http.StatusAccepted, string(outcome), "")
		}
	}
}

// handleInstallations returns per-installation store stats.
func handleInstallations(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats := reg.Installations()
		httpx.RespondJSON(w, http.StatusOK, InstallationsResponse{Installations: stats, Count: len(stats)})
	}
}

// handleStorageUsage returns reports directory usage.
func handleStorageUsage(sm *monitor.StorageMonitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if sm == nil {
			httpx.RespondErrorString(w, http.StatusNotFound, "storage backend keeps no files")
			return
		}
		usage, err := sm.GetUsage()
		if err != nil {
			log.Printf("Failed to calculate storage usage: %v", err)
			httpx.RespondError(w, http.StatusInternalServerError, err)
			return
		}
		httpx.RespondJSON(w, http.StatusOK, usage)
	}
}

// handleHealth returns service health. A failing submission channel makes it 503.
func handleHealth(reg *registry.Registry, submissions *monitor.SubmissionMonitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := submissions.Status()
		response := HealthResponse{
			Status:        "healthy",
			Version:       config.Version,
			Uptime:        time.Since(startTime).Round(time.Second).String(),
			Installations: reg.Len(),
			Submission:    status,
		}

		code := http.StatusOK
		if !status.Healthy {
			response.Status = "degraded"
			code = http.StatusServiceUnavailable
		}
		httpx.RespondJSON(w, code, response)
	}
}

// NewRouter configures every HTTP route.
func NewRouter(d Deps) *mux.Router {
	router := mux.NewRouter()
	if d.Metrics != nil {
		router.Use(httpx.Middleware(d.Metrics))
	}

	api := router.PathPrefix("/v1").Subrouter()
	api.HandleFunc("/reports", handleReport(d.Receiver)).Methods(http.MethodPost)
	api.HandleFunc("/installations", handleInstallations(d.Registry)).Methods(http.MethodGet)
	api.HandleFunc("/storage", handleStorageUsage(d.Storage)).Methods(http.MethodGet)
	api.HandleFunc("/health", handleHealth(d.Registry, d.Submissions)).Methods(http.MethodGet)
	if d.Hub != nil {
		api.Handle("/ws", d.Hub).Methods(http.MethodGet)
	}

	if d.Metrics != nil {
		router.Handle("/metrics", d.Metrics.Handler()).Methods(http.MethodGet)
	}
	return router
}
