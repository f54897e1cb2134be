// Package httpapi exposes the job orchestration substrate's external
// interface as a thin chi-routed HTTP surface: submitting a message,
// approving/rejecting/cancelling a job, and a liveness/readiness probe for
// the lifecycle manager. No UI, SSE, or streaming transport lives here —
// that belongs to an out-of-scope external collaborator; this package only
// gives the substrate a realistic calling surface for integration tests
// and local operation.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/shreyasdbz/axis/approval"
	"github.com/shreyasdbz/axis/core"
	"github.com/shreyasdbz/axis/jobqueue"
	"github.com/shreyasdbz/axis/lifecycle"
	"github.com/shreyasdbz/axis/router"
)

// HealthReporter is the minimal surface the API needs from the lifecycle
// manager for its /healthz and /readyz probes.
type HealthReporter interface {
	Live() bool
	ReadinessReport() lifecycle.Readiness
}

// API wires the substrate's router, job queue, and approval coordinator
// behind HTTP handlers.
type API struct {
	router      *router.Router
	queue       *jobqueue.Queue
	coordinator *approval.Coordinator
	health      HealthReporter
	logger      core.Logger
}

// Option configures an API.
type Option func(*API)

func WithLogger(l core.Logger) Option { return func(a *API) { a.logger = l } }

// New builds an API over the given components.
func New(rtr *router.Router, queue *jobqueue.Queue, coordinator *approval.Coordinator, health HealthReporter, opts ...Option) *API {
	a := &API{router: rtr, queue: queue, coordinator: coordinator, health: health, logger: &core.NoOpLogger{}}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler builds the chi mux. Each call returns a fresh mux, matching
// kubernaut's gateway convention of constructing routes once at startup.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", a.handleHealthz)
	r.Get("/readyz", a.handleReadyz)

	r.Route("/api", func(r chi.Router) {
		r.Post("/messages", a.handlePostMessage)
		r.Route("/jobs/{id}", func(r chi.Router) {
			r.Get("/", a.handleGetJob)
			r.Post("/approve", a.handleApprove)
			r.Post("/reject", a.handleReject)
			r.Post("/cancel", a.handleCancel)
		})
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if a.health != nil && !a.health.Live() {
		writeError(w, http.StatusServiceUnavailable, "not live")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "live"})
}

func (a *API) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if a.health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "unknown"})
		return
	}
	writeJSON(w, http.StatusOK, a.health.ReadinessReport())
}

// handlePostMessage dispatches an inbound message to the Message Router.
func (a *API) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	var env router.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeError(w, http.StatusBadRequest, "invalid envelope: "+err.Error())
		return
	}
	resp, err := a.router.Dispatch(r.Context(), env)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := a.queue.Get(r.Context(), id)
	if err != nil {
		if kind, ok := core.KindOf(err); ok && kind == core.KindNotFound {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type approveRequest struct {
	Nonce string `json:"nonce"`
}

func (a *API) handleApprove(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req approveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	job, err := a.coordinator.Approve(r.Context(), id, req.Nonce)
	if err != nil {
		writeApprovalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

func (a *API) handleReject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req rejectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	job, err := a.coordinator.Reject(r.Context(), id, req.Reason)
	if err != nil {
		writeApprovalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (a *API) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := a.queue.Cancel(r.Context(), id)
	if err != nil {
		writeApprovalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func writeApprovalError(w http.ResponseWriter, err error) {
	if kind, ok := core.KindOf(err); ok {
		switch kind {
		case core.KindNotFound:
			writeError(w, http.StatusNotFound, err.Error())
			return
		case core.KindInvalidNonce, core.KindNonceConsumed, core.KindNonceExpired, core.KindIllegalTransition:
			writeError(w, http.StatusConflict, err.Error())
			return
		}
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}
