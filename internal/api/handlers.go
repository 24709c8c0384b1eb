package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/zabvenie/backend/internal/campaign"
	"github.com/zabvenie/backend/internal/classifier"
	"github.com/zabvenie/backend/internal/decision"
	"github.com/zabvenie/backend/internal/notify"
)

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

// --- Campaigns ---

func (s *Server) handleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OperatorName  string    `json:"operator_name"`
		OperatorEmail string    `json:"operator_email"`
		RequestSentAt time.Time `json:"request_sent_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.OperatorName == "" || req.OperatorEmail == "" {
		respondError(w, http.StatusBadRequest, "operator_name and operator_email are required")
		return
	}

	now := time.Now().UTC()
	sentAt := req.RequestSentAt
	if sentAt.IsZero() {
		sentAt = now
	}

	camp := &campaign.Campaign{
		ID:            uuid.New().String(),
		OperatorName:  req.OperatorName,
		OperatorEmail: req.OperatorEmail,
		Status:        campaign.StatusStarted,
		RequestSentAt: sentAt,
		NextActionAt:  now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	camp.Milestones.Append(now, campaign.StatusStarted, "Кампания создана")

	if err := s.campaigns.SaveCampaign(r.Context(), camp); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, camp)
}

func (s *Server) handleGetCampaign(w http.ResponseWriter, r *http.Request) {
	camp, err := s.campaigns.GetCampaign(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, camp)
}

// handleRecordMessage stores an inbound operator reply on the campaign. The
// raw body stays local; classification happens on the next pipeline run.
func (s *Server) handleRecordMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MessageID  string    `json:"message_id"`
		Body       string    `json:"body"`
		ReceivedAt time.Time `json:"received_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Body == "" {
		respondError(w, http.StatusBadRequest, "body is required")
		return
	}

	camp, err := s.campaigns.GetCampaign(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	if camp.Status.Terminal() {
		respondError(w, http.StatusConflict, "campaign is closed")
		return
	}

	now := time.Now().UTC()
	receivedAt := req.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = now
	}
	messageID := req.MessageID
	if messageID == "" {
		messageID = uuid.New().String()
	}

	camp.LastInboundID = messageID
	camp.LastInboundBody = req.Body
	camp.LastInboundAt = &receivedAt
	camp.NextActionAt = now // due on the next sweep
	camp.UpdatedAt = now

	if err := s.campaigns.SaveCampaign(r.Context(), camp); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{
		"campaign_id": camp.ID,
		"message_id":  messageID,
		"status":      "queued",
	})
}

// --- Classification and decisions ---

// handleClassify runs the classifier on an ad-hoc message without touching
// any campaign. The response carries only sanitized text.
func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MessageID     string    `json:"message_id"`
		Body          string    `json:"body"`
		ReceivedAt    time.Time `json:"received_at"`
		RequestSentAt time.Time `json:"request_sent_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	msg := classifier.Message{
		ID:            req.MessageID,
		Body:          req.Body,
		ReceivedAt:    req.ReceivedAt,
		RequestSentAt: req.RequestSentAt,
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = time.Now().UTC()
	}

	result, err := s.classifier.Classify(r.Context(), msg)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// handleDecide runs the full pipeline for one campaign: classify any pending
// reply, record evidence, evaluate the rule table and execute the action.
func (s *Server) handleDecide(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		respondError(w, http.StatusServiceUnavailable, "decision pipeline is disabled")
		return
	}

	var req struct {
		ForceReanalysis bool `json:"force_reanalysis"`
	}
	if r.Body != nil && r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	campaignID := mux.Vars(r)["id"]
	d, err := s.scheduler.ProcessByID(r.Context(), campaignID, req.ForceReanalysis)
	if err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	if d == nil {
		// Fresh campaign: this run only dispatched the deletion request.
		camp, err := s.campaigns.GetCampaign(r.Context(), campaignID)
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		respondJSON(w, http.StatusAccepted, map[string]string{
			"campaign_id": camp.ID,
			"status":      string(camp.Status),
		})
		return
	}
	respondJSON(w, http.StatusOK, d)
}

func (s *Server) handleOverride(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Action   string `json:"action"`
		Reason   string `json:"reason"`
		Operator string `json:"operator"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Action == "" || req.Reason == "" {
		respondError(w, http.StatusBadRequest, "action and reason are required")
		return
	}

	d, err := s.engine.ManualOverride(r.Context(), mux.Vars(r)["id"],
		decision.Type(req.Action), req.Reason, req.Operator)
	if err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, d)
}

// --- Evidence chain ---

func (s *Server) handleChain(w http.ResponseWriter, r *http.Request) {
	campaignID := mux.Vars(r)["id"]
	chain, err := s.evidences.LoadChain(r.Context(), campaignID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"campaign_id": campaignID,
		"length":      len(chain),
		"entries":     chain,
	})
}

func (s *Server) handleVerifyChain(w http.ResponseWriter, r *http.Request) {
	campaignID := mux.Vars(r)["id"]
	results, err := s.ledger.VerifyChain(r.Context(), campaignID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	intact := true
	for _, res := range results {
		if !res.Valid {
			intact = false
			break
		}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"campaign_id": campaignID,
		"length":      len(results),
		"intact":      intact,
		"results":     results,
	})
}

// --- Webhooks ---

func (s *Server) handleRegisterWebhook(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL    string   `json:"url"`
		Events []string `json:"events"`
		Secret string   `json:"secret"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	events := make([]notify.EventType, len(req.Events))
	for i, e := range req.Events {
		events[i] = notify.EventType(e)
	}

	sub := &notify.Subscription{
		ID:        uuid.New().String(),
		URL:       req.URL,
		Events:    events,
		Secret:    req.Secret,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.registry.Register(sub); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, sub)
}

func (s *Server) handleListWebhooks(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.registry.ListAll())
}

func (s *Server) handleUnregisterWebhook(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Unregister(mux.Vars(r)["id"]); err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Operational ---

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		respondError(w, http.StatusServiceUnavailable, "scheduler is disabled")
		return
	}
	s.scheduler.Sweep(r.Context())
	respondJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}
