package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/DavidSuperwave/leadengine/internal/leads"
)

const webhookBodyLimit = 1 << 20

func (s *Server) submitScrape(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerIdentity(r.Context())
	if !ok {
		s.writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var params leads.ScrapeParameters
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	sub, err := s.service.SubmitScrape(r.Context(), caller.UserID, params)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, sub)
}

func (s *Server) submitVerification(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerIdentity(r.Context())
	if !ok {
		s.writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var params leads.VerifyParameters
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	sub, err := s.service.SubmitVerification(r.Context(), caller.UserID, params)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, sub)
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerIdentity(r.Context())
	if !ok {
		s.writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	job, err := s.service.GetJob(r.Context(), caller.UserID, caller.Role, chi.URLParam(r, "job_id"))
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) getJobResult(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerIdentity(r.Context())
	if !ok {
		s.writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	result, err := s.service.Result(r.Context(), caller.UserID, caller.Role, chi.URLParam(r, "job_id"))
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerIdentity(r.Context())
	if !ok {
		s.writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	job, err := s.service.Cancel(r.Context(), caller.UserID, caller.Role, chi.URLParam(r, "job_id"))
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) resetJob(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerIdentity(r.Context())
	if !ok {
		s.writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if caller.Role != leads.RoleAdmin {
		s.writeError(w, http.StatusForbidden, "admin role required")
		return
	}
	job, err := s.service.Reset(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) exportJob(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerIdentity(r.Context())
	if !ok {
		s.writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	uri, err := s.service.Export(r.Context(), caller.UserID, caller.Role, chi.URLParam(r, "job_id"))
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"result_uri": uri})
}

func (s *Server) pushJob(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerIdentity(r.Context())
	if !ok {
		s.writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req struct {
		CampaignID string `json:"campaign_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	count, err := s.service.Push(
		r.Context(), caller.UserID, caller.Role,
		chi.URLParam(r, "job_id"), chi.URLParam(r, "tool"), req.CampaignID,
	)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"pushed": count})
}

func (s *Server) queueSnapshot(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerIdentity(r.Context())
	if !ok {
		s.writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if caller.Role != leads.RoleAdmin {
		s.writeError(w, http.StatusForbidden, "admin role required")
		return
	}
	snap, err := s.service.QueueSnapshot(chi.URLParam(r, "queue"))
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) credits(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerIdentity(r.Context())
	if !ok {
		s.writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	balance, err := s.service.Credits(r.Context(), caller.UserID)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int64{"balance": balance})
}

func (s *Server) whopWebhook(w http.ResponseWriter, r *http.Request) {
	if s.billing == nil {
		s.writeError(w, http.StatusNotImplemented, "billing webhook not configured")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, webhookBodyLimit))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	signature := r.Header.Get("X-Whop-Signature")
	if err := s.billing.Handle(r.Context(), body, signature); err != nil {
		s.writeError(w, http.StatusUnauthorized, "webhook rejected")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
