package evidence

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
)

// Queryable API over the evidence store, used by DPO tooling and during
// regulatory disputes to pull the exact audit trail for a campaign.

// AuditQueryResult is the paginated response for audit queries.
type AuditQueryResult struct {
	Entries    []*Entry  `json:"entries"`
	Total      int       `json:"total"`
	Limit      int       `json:"limit"`
	Offset     int       `json:"offset"`
	ExecutedAt time.Time `json:"executed_at"`
}

// RegisterAuditRoutes adds evidence query and verification endpoints.
func RegisterAuditRoutes(router *mux.Router, ledger *Ledger, store Store) {
	router.HandleFunc("/api/v1/audit/evidence", handleQueryEvidence(store)).Methods("GET")
	router.HandleFunc("/api/v1/audit/evidence/{entryID}", handleGetEntry(store)).Methods("GET")
	router.HandleFunc("/api/v1/audit/evidence/{entryID}/verify", handleVerifyEntry(ledger)).Methods("GET")
}

// GET /api/v1/audit/evidence?campaign_id=X&type=email-response&start=...&end=...&limit=50&offset=0
func handleQueryEvidence(store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		limit, _ := strconv.Atoi(q.Get("limit"))
		if limit <= 0 || limit > 100 {
			limit = 50
		}
		offset, _ := strconv.Atoi(q.Get("offset"))
		if offset < 0 {
			offset = 0
		}

		query := Query{
			CampaignID: q.Get("campaign_id"),
			Type:       Type(q.Get("type")),
			Limit:      limit,
			Offset:     offset,
		}

		if start := q.Get("start"); start != "" {
			if t, err := time.Parse(time.RFC3339, start); err == nil {
				query.StartTime = t
			}
		}
		if end := q.Get("end"); end != "" {
			if t, err := time.Parse(time.RFC3339, end); err == nil {
				query.EndTime = t
			}
		}

		entries, err := store.QueryEntries(r.Context(), query)
		if err != nil {
			http.Error(w, fmt.Sprintf(`{"error":"query failed: %s"}`, err.Error()), http.StatusInternalServerError)
			return
		}

		result := AuditQueryResult{
			Entries:    entries,
			Total:      len(entries),
			Limit:      limit,
			Offset:     offset,
			ExecutedAt: time.Now(),
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(result)
	}
}

// GET /api/v1/audit/evidence/{entryID}
func handleGetEntry(store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entryID := mux.Vars(r)["entryID"]

		entry, err := store.LoadEntry(r.Context(), entryID)
		if err != nil {
			http.Error(w, fmt.Sprintf(`{"error":"entry not found: %s"}`, entryID), http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(entry)
	}
}

// GET /api/v1/audit/evidence/{entryID}/verify
func handleVerifyEntry(ledger *Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entryID := mux.Vars(r)["entryID"]

		result, err := ledger.VerifyEntry(r.Context(), entryID)
		if err != nil {
			http.Error(w, fmt.Sprintf(`{"error":"verification failed: %s"}`, err.Error()), http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(result)
	}
}
