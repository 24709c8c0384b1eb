// Package api exposes the deletion-automation core over REST/JSON.
package api

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zabvenie/backend/internal/campaign"
	"github.com/zabvenie/backend/internal/classifier"
	"github.com/zabvenie/backend/internal/decision"
	"github.com/zabvenie/backend/internal/evidence"
	"github.com/zabvenie/backend/internal/notify"
	"github.com/zabvenie/backend/internal/orchestrator"
)

// Server routes HTTP requests to the campaign, classification, decision and
// evidence subsystems.
type Server struct {
	campaigns  campaign.Store
	ledger     *evidence.Ledger
	evidences  evidence.Store
	classifier classifier.Classifier
	engine     *decision.Engine
	registry   *notify.Registry
	scheduler  *orchestrator.Scheduler

	httpServer *http.Server
	logger     *log.Logger
}

// NewServer wires the HTTP surface. Scheduler may be nil when the sweep loop
// is disabled.
func NewServer(
	campaigns campaign.Store,
	ledger *evidence.Ledger,
	evidences evidence.Store,
	cls classifier.Classifier,
	engine *decision.Engine,
	registry *notify.Registry,
	scheduler *orchestrator.Scheduler,
) *Server {
	return &Server{
		campaigns:  campaigns,
		ledger:     ledger,
		evidences:  evidences,
		classifier: cls,
		engine:     engine,
		registry:   registry,
		scheduler:  scheduler,
		logger:     log.New(log.Writer(), "[API] ", log.LstdFlags),
	}
}

// Router builds the full route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	// CORS Middleware
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	// Campaigns
	r.HandleFunc("/api/v1/campaigns", s.handleCreateCampaign).Methods("POST")
	r.HandleFunc("/api/v1/campaigns/{id}", s.handleGetCampaign).Methods("GET")
	r.HandleFunc("/api/v1/campaigns/{id}/messages", s.handleRecordMessage).Methods("POST")

	// Classification and decisions
	r.HandleFunc("/api/v1/classify", s.handleClassify).Methods("POST")
	r.HandleFunc("/api/v1/campaigns/{id}/decide", s.handleDecide).Methods("POST")
	r.HandleFunc("/api/v1/campaigns/{id}/override", s.handleOverride).Methods("POST")

	// Evidence chain
	r.HandleFunc("/api/v1/campaigns/{id}/evidence", s.handleChain).Methods("GET")
	r.HandleFunc("/api/v1/campaigns/{id}/verify", s.handleVerifyChain).Methods("GET")
	evidence.RegisterAuditRoutes(r, s.ledger, s.evidences)

	// Webhook subscriptions
	r.HandleFunc("/api/v1/webhooks", s.handleRegisterWebhook).Methods("POST")
	r.HandleFunc("/api/v1/webhooks", s.handleListWebhooks).Methods("GET")
	r.HandleFunc("/api/v1/webhooks/{id}", s.handleUnregisterWebhook).Methods("DELETE")

	// Operational
	r.HandleFunc("/api/v1/sweep", s.handleSweep).Methods("POST")
	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	return r
}

// Start serves HTTP on the given port until Shutdown.
func (s *Server) Start(port string) error {
	s.httpServer = &http.Server{
		Addr:         ":" + port,
		Handler:      s.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.logger.Printf("Listening on :%s", port)
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
