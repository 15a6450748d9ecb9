package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sells-group/autoprice/internal/governance"
	"github.com/sells-group/autoprice/internal/model"
	"github.com/sells-group/autoprice/internal/store"
)

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "store": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) metrics(w http.ResponseWriter, r *http.Request) {
	hours, err := intQuery(r, "hours", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	snap, err := s.deps.Collector.Collect(r.Context(), hours)
	if err != nil {
		writeFailure(w, err, false)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// Recommendations

func (s *Server) listRecommendations(w http.ResponseWriter, r *http.Request) {
	limit, err := intQuery(r, "limit", 100)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	q := r.URL.Query()
	recs, err := s.deps.Store.ListRecommendations(r.Context(), store.RecommendationFilter{
		Status:          model.RecommendationStatus(strings.ToUpper(q.Get("status"))),
		ProductID:       q.Get("product_id"),
		MarketAccountID: q.Get("market_account_id"),
		Limit:           limit,
	})
	if err != nil {
		writeFailure(w, err, false)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func parseModeQuery(r *http.Request) (model.Mode, error) {
	raw := r.URL.Query().Get("mode")
	if raw == "" {
		return model.ModeShadow, errMissingMode
	}
	return model.ParseMode(raw)
}

func (s *Server) enforceRecommendation(w http.ResponseWriter, r *http.Request) {
	mode, err := parseModeQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.deps.Enforcer.Enforce(r.Context(), chi.URLParam(r, "id"), mode)
	if err != nil {
		writeFailure(w, err, true)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type processRequest struct {
	MaxItems int `json:"max_items"`
}

func (s *Server) processRecommendations(w http.ResponseWriter, r *http.Request) {
	mode, err := parseModeQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req processRequest
	if err := decode(r, &req, true); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	summary, err := s.deps.Enforcer.ProcessRecommendations(r.Context(), mode, req.MaxItems)
	if err != nil {
		if summary != nil {
			// Partial pass: report what completed alongside the error.
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": err.Error(), "summary": summary})
			return
		}
		writeFailure(w, err, true)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) rejectRecommendation(w http.ResponseWriter, r *http.Request) {
	var req rejectRequest
	if err := decode(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Reason) == "" {
		writeError(w, http.StatusBadRequest, "reason is required")
		return
	}
	res, err := s.deps.Enforcer.Reject(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeFailure(w, err, true)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) listPriceChanges(w http.ResponseWriter, r *http.Request) {
	limit, err := intQuery(r, "limit", 100)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	q := r.URL.Query()
	changes, err := s.deps.Store.ListPriceChanges(r.Context(), store.PriceChangeFilter{
		ProductID:       q.Get("product_id"),
		MarketAccountID: q.Get("market_account_id"),
		Status:          model.PriceChangeStatus(strings.ToUpper(q.Get("status"))),
		Limit:           limit,
	})
	if err != nil {
		writeFailure(w, err, false)
		return
	}
	writeJSON(w, http.StatusOK, changes)
}

// Governance

func (s *Server) listKillSwitches(w http.ResponseWriter, r *http.Request) {
	switches, err := s.deps.Governance.KillSwitches(r.Context())
	if err != nil {
		writeFailure(w, err, false)
		return
	}
	writeJSON(w, http.StatusOK, switches)
}

type killSwitchRequest struct {
	Enabled *bool `json:"enabled"`
}

func (s *Server) setKillSwitch(w http.ResponseWriter, r *http.Request) {
	domain, err := governance.ParseDomain(chi.URLParam(r, "domain"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req killSwitchRequest
	if err := decode(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Enabled == nil {
		writeError(w, http.StatusBadRequest, "enabled is required")
		return
	}
	if err := s.deps.Governance.SetKillSwitch(r.Context(), domain, *req.Enabled); err != nil {
		writeFailure(w, err, true)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"domain": domain, "enabled": *req.Enabled})
}

func (s *Server) listSegments(w http.ResponseWriter, r *http.Request) {
	status := model.PolicyStatus(strings.ToUpper(r.URL.Query().Get("status")))
	policies, err := s.deps.Store.ListPolicies(r.Context(), status)
	if err != nil {
		writeFailure(w, err, false)
		return
	}
	writeJSON(w, http.StatusOK, policies)
}

func (s *Server) segmentStats(w http.ResponseWriter, r *http.Request) {
	days, err := intQuery(r, "days", 14)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	since := time.Now().UTC().AddDate(0, 0, -days)
	stats, err := s.deps.Store.SegmentStats(r.Context(), chi.URLParam(r, "key"), since)
	if err != nil {
		writeFailure(w, err, false)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) freezeSegment(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if err := s.deps.Governance.FreezeSegment(r.Context(), key); err != nil {
		writeFailure(w, err, true)
		return
	}
	s.writePolicy(w, r, key)
}

type tierRequest struct {
	Tier *model.Tier `json:"tier"`
}

func (s *Server) unfreezeSegment(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	var req tierRequest
	if err := decode(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Tier == nil {
		writeError(w, http.StatusBadRequest, "tier is required")
		return
	}
	if err := s.deps.Governance.UnfreezeSegment(r.Context(), key, *req.Tier); err != nil {
		writeFailure(w, err, true)
		return
	}
	s.writePolicy(w, r, key)
}

func (s *Server) setSegmentTier(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	var req tierRequest
	if err := decode(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Tier == nil {
		writeError(w, http.StatusBadRequest, "tier is required")
		return
	}
	if err := s.deps.Governance.SetTier(r.Context(), key, *req.Tier); err != nil {
		writeFailure(w, err, true)
		return
	}
	s.writePolicy(w, r, key)
}

func (s *Server) writePolicy(w http.ResponseWriter, r *http.Request, key string) {
	p, err := s.deps.Store.GetPolicy(r.Context(), key)
	if err != nil {
		writeFailure(w, err, false)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) listDecisions(w http.ResponseWriter, r *http.Request) {
	limit, err := intQuery(r, "limit", 100)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	days, err := intQuery(r, "days", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter := store.DecisionFilter{SegmentKey: r.URL.Query().Get("segment_key"), Limit: limit}
	if days > 0 {
		filter.Since = time.Now().UTC().AddDate(0, 0, -days)
	}
	decisions, err := s.deps.Store.ListDecisions(r.Context(), filter)
	if err != nil {
		writeFailure(w, err, false)
		return
	}
	writeJSON(w, http.StatusOK, decisions)
}

func (s *Server) runEvolution(w http.ResponseWriter, r *http.Request) {
	days, err := intQuery(r, "days", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	results, err := s.deps.Evolution.RunCycle(r.Context(), days)
	if err != nil {
		writeFailure(w, err, true)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

// Strategies and tuning

func (s *Server) listStrategies(w http.ResponseWriter, r *http.Request) {
	strategies, err := s.deps.Store.ListStrategies(r.Context())
	if err != nil {
		writeFailure(w, err, false)
		return
	}
	writeJSON(w, http.StatusOK, strategies)
}

func (s *Server) listTuning(w http.ResponseWriter, r *http.Request) {
	status := model.TuningStatus(strings.ToUpper(r.URL.Query().Get("status")))
	recs, err := s.deps.Tuning.List(r.Context(), status)
	if err != nil {
		writeFailure(w, err, false)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) runTuning(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Tuning.RunCycle(r.Context())
	if err != nil {
		writeFailure(w, err, true)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) applyTuning(w http.ResponseWriter, r *http.Request) {
	rec, err := s.deps.Tuning.Apply(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeFailure(w, err, true)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) dismissTuning(w http.ResponseWriter, r *http.Request) {
	rec, err := s.deps.Tuning.Dismiss(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeFailure(w, err, true)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Experiments

func (s *Server) listExperiments(w http.ResponseWriter, r *http.Request) {
	exps, err := s.deps.Experiments.List(r.Context())
	if err != nil {
		writeFailure(w, err, false)
		return
	}
	writeJSON(w, http.StatusOK, exps)
}

type createExperimentRequest struct {
	Name            string              `json:"name"`
	MarketAccountID *string             `json:"market_account_id"`
	TestRatio       float64             `json:"test_ratio"`
	Variant         model.PolicyVariant `json:"variant"`
}

func (s *Server) createExperiment(w http.ResponseWriter, r *http.Request) {
	var req createExperimentRequest
	if err := decode(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	exp := &model.PricingExperiment{
		Name:            req.Name,
		MarketAccountID: req.MarketAccountID,
		TestRatio:       req.TestRatio,
		Variant:         req.Variant,
	}
	if err := s.deps.Experiments.Create(r.Context(), exp); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, exp)
}

type experimentStatusRequest struct {
	Status model.ExperimentStatus `json:"status"`
}

func (s *Server) setExperimentStatus(w http.ResponseWriter, r *http.Request) {
	var req experimentStatusRequest
	if err := decode(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := chi.URLParam(r, "id")
	to := model.ExperimentStatus(strings.ToUpper(string(req.Status)))
	if err := s.deps.Experiments.SetStatus(r.Context(), id, to); err != nil {
		writeFailure(w, err, true)
		return
	}
	exp, err := s.deps.Store.GetExperiment(r.Context(), id)
	if err != nil {
		writeFailure(w, err, false)
		return
	}
	writeJSON(w, http.StatusOK, exp)
}

func (s *Server) summarizeExperiment(w http.ResponseWriter, r *http.Request) {
	metrics, err := s.deps.Experiments.Summarize(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeFailure(w, err, true)
		return
	}
	writeJSON(w, http.StatusOK, metrics)
}

// Account settings

func (s *Server) getAccountSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.deps.Experiments.AccountSettings(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeFailure(w, err, false)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) updateAccountSettings(w http.ResponseWriter, r *http.Request) {
	var patch model.PolicyVariant
	if err := decode(r, &patch, false); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	settings, err := s.deps.Experiments.UpdateAccountSettings(r.Context(), chi.URLParam(r, "id"), patch)
	switch {
	case err != nil && strings.Contains(err.Error(), "not found"):
		writeFailure(w, err, false)
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeJSON(w, http.StatusOK, settings)
	}
}
