// Package api exposes the pricing engine's operator surface over HTTP:
// enforcement, governance controls, tuning review and read-only audit views.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/autoprice/internal/autonomy"
	"github.com/sells-group/autoprice/internal/enforcer"
	"github.com/sells-group/autoprice/internal/experiment"
	"github.com/sells-group/autoprice/internal/governance"
	"github.com/sells-group/autoprice/internal/monitoring"
	"github.com/sells-group/autoprice/internal/store"
	"github.com/sells-group/autoprice/internal/tuning"
)

// Deps are the engine components the handlers call into.
type Deps struct {
	Store       store.Store
	Enforcer    *enforcer.Enforcer
	Governance  *governance.Manager
	Evolution   *autonomy.Tuner
	Tuning      *tuning.Tuner
	Experiments *experiment.Manager
	Collector   *monitoring.Collector
}

// Server routes HTTP requests to the engine.
type Server struct {
	deps   Deps
	router chi.Router
}

// NewServer builds the router. An empty allowedOrigins list allows any origin.
func NewServer(deps Deps, allowedOrigins []string) *Server {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	s := &Server{deps: deps}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	r.Get("/metrics", s.metrics)

	r.Route("/recommendations", func(api chi.Router) {
		api.Get("/", s.listRecommendations)
		api.Post("/process", s.processRecommendations)
		api.Post("/{id}/enforce", s.enforceRecommendation)
		api.Post("/{id}/reject", s.rejectRecommendation)
	})
	r.Get("/price-changes", s.listPriceChanges)

	r.Route("/killswitches", func(api chi.Router) {
		api.Get("/", s.listKillSwitches)
		api.Put("/{domain}", s.setKillSwitch)
	})

	r.Route("/segments", func(api chi.Router) {
		api.Get("/", s.listSegments)
		api.Get("/{key}/stats", s.segmentStats)
		api.Post("/{key}/freeze", s.freezeSegment)
		api.Post("/{key}/unfreeze", s.unfreezeSegment)
		api.Post("/{key}/tier", s.setSegmentTier)
	})
	r.Get("/decisions", s.listDecisions)
	r.Post("/evolution/run", s.runEvolution)

	r.Get("/strategies", s.listStrategies)
	r.Route("/tuning", func(api chi.Router) {
		api.Get("/", s.listTuning)
		api.Post("/run", s.runTuning)
		api.Post("/{id}/apply", s.applyTuning)
		api.Post("/{id}/dismiss", s.dismissTuning)
	})

	r.Route("/experiments", func(api chi.Router) {
		api.Get("/", s.listExperiments)
		api.Post("/", s.createExperiment)
		api.Post("/{id}/status", s.setExperimentStatus)
		api.Post("/{id}/summarize", s.summarizeExperiment)
	})

	r.Get("/accounts/{id}/settings", s.getAccountSettings)
	r.Put("/accounts/{id}/settings", s.updateAccountSettings)

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// writeFailure maps an engine error to a status. Lookups that found nothing
// are 404, command failures are 409 and everything else is 500.
func writeFailure(w http.ResponseWriter, err error, command bool) {
	msg := err.Error()
	status := http.StatusInternalServerError
	switch {
	case strings.Contains(msg, "not found") || strings.Contains(msg, "no policy for"):
		status = http.StatusNotFound
	case command:
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		zap.L().Error("api: request failed", zap.Error(err))
	}
	writeError(w, status, msg)
}

var (
	errEmptyBody   = errors.New("request body is required")
	errMissingMode = errors.New("mode is required")
)

// decode reads a JSON body into v. An empty body is allowed when optional.
func decode(r *http.Request, v any, optional bool) error {
	if r.Body == nil || r.ContentLength == 0 {
		if optional {
			return nil
		}
		return errEmptyBody
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.New("invalid request body: " + err.Error())
	}
	return nil
}

// intQuery parses a non-negative integer query parameter.
func intQuery(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New(name + " must be a non-negative integer")
	}
	return n, nil
}
