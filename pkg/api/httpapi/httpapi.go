// Package httpapi exposes the kernel's read-only query surface: agent
// status, budget remaining, and workflow progress, over chi with
// request validation via go-playground/validator.
package httpapi

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kubernaut-labs/agentkernel/internal/errors"
	"github.com/kubernaut-labs/agentkernel/pkg/budget"
	"github.com/kubernaut-labs/agentkernel/pkg/domain"
	"github.com/kubernaut-labs/agentkernel/pkg/store"
	"github.com/kubernaut-labs/agentkernel/pkg/workflow"
)

var validate = validator.New()

// Server serves the kernel's query API.
type Server struct {
	store    *store.Store
	budget   *budget.Manager
	workflow *workflow.Engine
	router   chi.Router
}

// NewServer builds a Server and wires its routes.
func NewServer(s *store.Store, b *budget.Manager, w *workflow.Engine) *Server {
	srv := &Server{store: s, budget: b, workflow: w}
	srv.router = srv.routes()
	return srv
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/agents/{id}", s.getAgent)
		r.Get("/agents/{id}/budget", s.getBudget)
		r.Get("/agents/{id}/children", s.getChildren)
		r.Get("/workflows/{id}/progress", s.getWorkflowProgress)
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}

type idParam struct {
	ID string `validate:"required,uuid"`
}

func parseID(r *http.Request) (uuid.UUID, *errors.AppError) {
	raw := chi.URLParam(r, "id")
	p := idParam{ID: raw}
	if err := validate.Struct(p); err != nil {
		return uuid.UUID{}, errors.NewValidationError("invalid id parameter").WithDetails(err.Error())
	}
	return uuid.MustParse(raw), nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err *errors.AppError) {
	writeJSON(w, err.StatusCode, map[string]string{
		"error": errors.SafeErrorMessage(err),
		"type":  string(err.Type),
	})
}

func (s *Server) getAgent(w http.ResponseWriter, r *http.Request) {
	id, appErr := parseID(r)
	if appErr != nil {
		writeError(w, appErr)
		return
	}
	agent, err := s.store.GetAgent(r.Context(), s.store.DB(), id)
	if err != nil {
		writeError(w, mapStoreError(err, "agent"))
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

func (s *Server) getBudget(w http.ResponseWriter, r *http.Request) {
	id, appErr := parseID(r)
	if appErr != nil {
		writeError(w, appErr)
		return
	}
	remaining, err := s.budget.Remaining(r.Context(), id)
	if err != nil {
		writeError(w, mapStoreError(err, "budget"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"remaining": remaining})
}

func (s *Server) getChildren(w http.ResponseWriter, r *http.Request) {
	id, appErr := parseID(r)
	if appErr != nil {
		writeError(w, appErr)
		return
	}
	children, err := s.store.ListChildren(r.Context(), s.store.DB(), id)
	if err != nil {
		writeError(w, mapStoreError(err, "agent children"))
		return
	}
	writeJSON(w, http.StatusOK, children)
}

func (s *Server) getWorkflowProgress(w http.ResponseWriter, r *http.Request) {
	id, appErr := parseID(r)
	if appErr != nil {
		writeError(w, appErr)
		return
	}
	progress, err := s.workflow.Progress(r.Context(), id)
	if err != nil {
		writeError(w, mapStoreError(err, "workflow"))
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

func mapStoreError(err error, resource string) *errors.AppError {
	if isNotFound(err) {
		return errors.NewNotFoundError(resource)
	}
	return errors.Wrap(err, errors.ErrorTypeDatabase, "query failed")
}

func isNotFound(err error) bool {
	return stderrors.Is(err, domain.ErrNotFound)
}
