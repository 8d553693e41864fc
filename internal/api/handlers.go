package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/sentinelsec/sentinel/internal/confirm"
	"github.com/sentinelsec/sentinel/internal/pipeline"
	"github.com/sentinelsec/sentinel/internal/policy"
	"github.com/sentinelsec/sentinel/internal/session"
)

// --- Sessions ---

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.core.Sessions.List()
	writeJSON(w, map[string]interface{}{
		"sessions": sessions,
		"total":    len(sessions),
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, err := s.core.Sessions.Get(id)
	if err != nil {
		writeSessionError(w, err)
		return
	}

	writeJSON(w, map[string]interface{}{
		"session": sess,
		"defcon":  s.core.Events.Defcon(id),
		"trust":   s.core.Trust.History(id),
	})
}

func (s *Server) handleTerminateSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	taskCompleted := r.URL.Query().Get("task_completed") == "true"

	if err := s.core.TerminateSession(id, taskCompleted); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "terminated"})
}

// --- Pipeline operations ---

func (s *Server) handleEvaluateAction(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var act pipeline.ProposedAction
	if err := json.NewDecoder(r.Body).Decode(&act); err != nil {
		writeError(w, http.StatusBadRequest, "invalid action payload: "+err.Error())
		return
	}
	if act.Kind == "" {
		writeError(w, http.StatusBadRequest, "action kind is required")
		return
	}

	verdict, err := s.core.EvaluateAction(r.Context(), id, act)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, verdict)
}

func (s *Server) handlePageLoad(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var body struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload: "+err.Error())
		return
	}

	if err := s.core.HandlePageLoad(r.Context(), id, body.URL); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "scanned"})
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var body struct {
		FalsePositive bool `json:"false_positive"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload: "+err.Error())
		return
	}

	if err := s.core.Feedback(id, body.FalsePositive); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "recorded"})
}

// --- Forensics and reporting ---

func (s *Server) handleExportReport(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rep, err := s.core.ExportReport(id)
	if err != nil {
		writeSessionError(w, err)
		return
	}

	if r.URL.Query().Get("format") == "markdown" {
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		_, _ = w.Write([]byte(rep.Markdown()))
		return
	}
	writeJSON(w, rep)
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	writeJSON(w, map[string]interface{}{
		"timeline": s.core.Forensics.Timeline(id),
		"summary":  s.core.Forensics.Summarize(id),
	})
}

func (s *Server) handleMoments(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	writeJSON(w, map[string]interface{}{"moments": s.core.Forensics.Moments(id)})
}

func (s *Server) handleEventHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	history := s.core.Events.History(id)

	limit := queryInt(r, "limit", len(history))
	if limit < len(history) {
		history = history[len(history)-limit:]
	}
	writeJSON(w, map[string]interface{}{"events": history})
}

func (s *Server) handleSessionMetrics(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	writeJSON(w, s.core.Metrics.SessionStats(id))
}

func (s *Server) handleListTraps(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	writeJSON(w, map[string]interface{}{
		"traps":    s.core.Honeypots.Traps(id),
		"triggers": s.core.Honeypots.Triggers(id),
	})
}

// --- Policies ---

func (s *Server) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	scope := r.PathValue("scope")
	writeJSON(w, map[string]interface{}{
		"scope":   scope,
		"policy":  s.core.Policies.Store().Get(scope),
		"history": len(s.core.Policies.Store().History(scope)),
	})
}

func (s *Server) handleSetPolicy(w http.ResponseWriter, r *http.Request) {
	scope := r.PathValue("scope")

	var p policy.Policy
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid policy payload: "+err.Error())
		return
	}

	installed, err := s.core.Policies.SetPolicy(scope, p)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to install policy: "+err.Error())
		return
	}
	writeJSON(w, map[string]interface{}{"scope": scope, "policy": installed})
}

// --- Confirmations ---

// handleRequestConfirmation is the driver side of the confirmation flow:
// when a verdict requires confirmation, the driver posts the held action
// here and blocks until an operator resolves it or the configured timeout
// effect applies.
func (s *Server) handleRequestConfirmation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.core.Sessions.Get(id); err != nil {
		writeSessionError(w, err)
		return
	}

	var body struct {
		Rule   string                 `json:"rule"`
		Risk   float64                `json:"risk"`
		Action map[string]interface{} `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload: "+err.Error())
		return
	}

	cc := s.cfgLoader.Get().Confirmation
	req := &confirm.Request{
		SessionID:     id,
		Rule:          body.Rule,
		Risk:          body.Risk,
		ActionSummary: body.Action,
		Timeout:       cc.Timeout,
		TimeoutEffect: cc.TimeoutEffect,
	}

	approved, err := s.confirms.Submit(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusRequestTimeout, "confirmation abandoned: "+err.Error())
		return
	}
	writeJSON(w, map[string]interface{}{"id": req.ID, "approved": approved})
}

func (s *Server) handleListConfirmations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{"confirmations": s.confirms.ListPending()})
}

func (s *Server) handleApproveConfirmation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.confirms.Resolve(id, true, resolvedBy(r)); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, map[string]string{"status": "approved"})
}

func (s *Server) handleDenyConfirmation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.confirms.Resolve(id, false, resolvedBy(r)); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, map[string]string{"status": "denied"})
}

func resolvedBy(r *http.Request) string {
	if by := r.URL.Query().Get("resolved_by"); by != "" {
		return by
	}
	return "operator"
}

// --- Config ---

func (s *Server) handleReloadConfig(w http.ResponseWriter, r *http.Request) {
	if err := s.cfgLoader.Reload(); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to reload: "+err.Error())
		return
	}
	writeJSON(w, map[string]string{"status": "reloaded"})
}

// --- System ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"status":     "ok",
		"sessions":   len(s.core.Sessions.List()),
		"ws_clients": s.wsHub.ClientCount(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.core.Metrics.GlobalStats())
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeSessionError maps session lifecycle errors onto HTTP statuses.
func writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, session.ErrTerminal):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func queryInt(r *http.Request, key string, defaultVal int) int {
	str := r.URL.Query().Get(key)
	if str == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(str)
	if err != nil {
		return defaultVal
	}
	return v
}
