package orchestrator

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/zabvenie/backend/internal/campaign"
	"github.com/zabvenie/backend/internal/classifier"
	"github.com/zabvenie/backend/internal/decision"
	"github.com/zabvenie/backend/internal/evidence"
	"github.com/zabvenie/backend/internal/metrics"
	"github.com/zabvenie/backend/internal/notify"
)

const (
	// DefaultInterval between sweeps over due campaigns.
	DefaultInterval = 15 * time.Minute

	// defaultRecheck is how long a campaign waits before the next look when
	// the decision carries no estimate of its own.
	defaultRecheck = 24 * time.Hour
)

// Scheduler periodically sweeps due campaigns: classifies fresh operator
// replies, records the evidence, asks the engine for the next action and
// executes it when the auto-execution gate passes. Campaigns are processed
// sequentially; the evidence chain append order within a campaign must stay
// deterministic.
type Scheduler struct {
	campaigns  campaign.Store
	ledger     *evidence.Ledger
	classifier classifier.Classifier
	engine     *decision.Engine
	executor   ActionExecutor
	emitter    notify.Emitter
	metrics    *metrics.Metrics

	interval time.Duration
	logger   *log.Logger
	now      func() time.Time

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewScheduler wires the sweep loop. A nil emitter or metrics disables that
// concern; interval <= 0 falls back to DefaultInterval.
func NewScheduler(
	campaigns campaign.Store,
	ledger *evidence.Ledger,
	cls classifier.Classifier,
	engine *decision.Engine,
	executor ActionExecutor,
	emitter notify.Emitter,
	m *metrics.Metrics,
	interval time.Duration,
) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		campaigns:  campaigns,
		ledger:     ledger,
		classifier: cls,
		engine:     engine,
		executor:   executor,
		emitter:    emitter,
		metrics:    m,
		interval:   interval,
		logger:     log.New(log.Writer(), "[Scheduler] ", log.LstdFlags),
		now:        time.Now,
	}
}

// SetClock overrides the time source (tests only).
func (s *Scheduler) SetClock(now func() time.Time) {
	s.now = now
}

// Start launches the background sweep loop. Idempotent.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	go s.run(s.stopCh, s.doneCh)
	s.logger.Printf("Started campaign scheduler (interval: %v)", s.interval)
}

// Stop halts the loop and waits for an in-flight sweep to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	done := s.doneCh
	s.mu.Unlock()

	<-done
	s.logger.Println("Stopped campaign scheduler")
}

func (s *Scheduler) run(stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Immediate first sweep, then on the tick.
	s.Sweep(context.Background())

	for {
		select {
		case <-ticker.C:
			s.Sweep(context.Background())
		case <-stopCh:
			return
		}
	}
}

// Sweep processes every campaign whose next action is due. Exported so the
// API can trigger an off-cycle run.
func (s *Scheduler) Sweep(ctx context.Context) {
	start := s.now()

	due, err := s.campaigns.ListDue(ctx, start)
	if err != nil {
		s.logger.Printf("Failed to list due campaigns: %v", err)
		return
	}

	processed := 0
	for _, camp := range due {
		if _, err := s.processCampaign(ctx, camp, false); err != nil {
			s.logger.Printf("Campaign %s: %v", camp.ID, err)
			continue
		}
		processed++
		if s.metrics != nil {
			s.metrics.CampaignsProcessed.Inc()
		}
	}

	if s.metrics != nil {
		s.metrics.TickDuration.Observe(time.Since(start).Seconds())
	}
	if len(due) > 0 {
		s.logger.Printf("Sweep finished: %d/%d campaigns processed in %v",
			processed, len(due), time.Since(start).Round(time.Millisecond))
	}
}

// ProcessByID runs the full pipeline for one campaign on demand. Used by the
// API's decide endpoint; force bypasses the idempotency reuse.
func (s *Scheduler) ProcessByID(ctx context.Context, campaignID string, force bool) (*decision.Decision, error) {
	camp, err := s.campaigns.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if camp.Status.Terminal() {
		return nil, fmt.Errorf("campaign %s is in terminal status %s", camp.ID, camp.Status)
	}
	return s.processCampaign(ctx, camp, force)
}

func (s *Scheduler) processCampaign(ctx context.Context, camp *campaign.Campaign, force bool) (*decision.Decision, error) {
	if camp.Status.Terminal() {
		return nil, nil
	}
	now := s.now()

	// Phase 0: a freshly created campaign first gets its deletion request
	// dispatched, which opens the legal response window.
	if camp.Status == campaign.StatusStarted {
		if err := s.dispatchRequest(ctx, camp, now); err != nil {
			return nil, fmt.Errorf("dispatch deletion request: %w", err)
		}
		if camp.LastInboundBody == "" && !force {
			// Nothing to decide until the operator replies or deadlines run.
			camp.NextActionAt = now.Add(defaultRecheck)
			return nil, s.campaigns.SaveCampaign(ctx, camp)
		}
	}

	// Phase 1: classify a pending operator reply and record the evidence.
	var result *classifier.Result
	if camp.LastInboundBody != "" {
		var err error
		result, err = s.classifyInbound(ctx, camp, now)
		if err != nil {
			return nil, fmt.Errorf("classify inbound: %w", err)
		}
	}

	// Phase 2: build the decision context from campaign state and the chain.
	summary, err := s.ledger.Summary(ctx, camp.ID)
	if err != nil {
		return nil, fmt.Errorf("chain summary: %w", err)
	}
	if summary.Length > 0 && !summary.Intact {
		s.logger.Printf("ALERT: evidence chain for campaign %s failed verification (checks: %v)",
			camp.ID, summary.FailedChecks)
		if s.metrics != nil {
			for _, check := range summary.FailedChecks {
				s.metrics.ChainVerifyFailures.WithLabelValues(check).Inc()
			}
		}
		s.emit(notify.EventChainInvalid, camp.ID, map[string]interface{}{
			"chain_length":  summary.Length,
			"failed_checks": summary.FailedChecks,
		})
	}

	dctx := &decision.Context{
		CampaignID:     camp.ID,
		Status:         camp.Status,
		LastMessageID:  camp.LastInboundID,
		Classification: result,
		RequestAgeDays: camp.RequestAgeDays(now),
		PriorDecisions: camp.DecisionCount,
		Chain:          summary,
	}

	d, err := s.engine.Decide(ctx, camp.ID, dctx, force)
	if err != nil {
		return nil, fmt.Errorf("decide: %w", err)
	}

	s.emit(notify.EventDecisionCreated, camp.ID, map[string]interface{}{
		"decision_id": d.ID,
		"type":        string(d.Type),
		"confidence":  d.Confidence,
		"reused":      d.Reused,
	})

	// Phase 3: act. The engine persisted the decision; reload the campaign
	// so scheduling updates don't clobber it.
	fresh, err := s.campaigns.GetCampaign(ctx, camp.ID)
	if err != nil {
		return nil, fmt.Errorf("reload campaign: %w", err)
	}

	if d.Reused {
		fresh.NextActionAt = now.Add(defaultRecheck)
		return d, s.campaigns.SaveCampaign(ctx, fresh)
	}

	if d.ShouldAutoExecute() {
		if err := s.executor.Execute(ctx, fresh, d); err != nil {
			// Leave the campaign due soon; the idempotency key makes the
			// retry reuse the same decision.
			s.logger.Printf("Execution of %s failed for campaign %s: %v", d.Type, fresh.ID, err)
			fresh.NextActionAt = now.Add(time.Hour)
			return d, s.campaigns.SaveCampaign(ctx, fresh)
		}
		if err := s.applyOutcome(fresh, d, now); err != nil {
			return d, err
		}
	} else {
		if d.Type == decision.ActionManualReview {
			s.emit(notify.EventManualReviewNeeded, fresh.ID, map[string]interface{}{
				"decision_id": d.ID,
				"reason":      d.Reason,
			})
		}
		fresh.NextActionAt = now.Add(defaultRecheck)
	}

	return d, s.campaigns.SaveCampaign(ctx, fresh)
}

// classifyInbound runs the classifier over the stored reply, appends the
// analysis and violation evidence, and clears the pending body.
func (s *Scheduler) classifyInbound(ctx context.Context, camp *campaign.Campaign, now time.Time) (*classifier.Result, error) {
	receivedAt := now
	if camp.LastInboundAt != nil {
		receivedAt = *camp.LastInboundAt
	}

	msg := classifier.Message{
		ID:            camp.LastInboundID,
		Body:          camp.LastInboundBody,
		ReceivedAt:    receivedAt,
		RequestSentAt: camp.RequestSentAt,
	}

	result, err := s.classifier.Classify(ctx, msg)
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.ClassificationsTotal.WithLabelValues(string(result.ResponseType)).Inc()
		for _, v := range result.Violations {
			s.metrics.ViolationsDetected.WithLabelValues(string(v)).Inc()
		}
	}

	if _, err := s.ledger.Append(ctx, camp.ID, evidence.TypeAutoAnalysis, map[string]interface{}{
		"message_id":       result.MessageID,
		"response_type":    string(result.ResponseType),
		"legitimacy_score": result.LegitimacyScore,
		"violations":       result.ViolationStrings(),
		"facts":            result.Facts,
		"redactions":       result.Redactions,
	}); err != nil {
		return nil, fmt.Errorf("append analysis evidence: %w", err)
	}

	if result.ResponseType == classifier.ResponseRejection {
		if _, err := s.ledger.Append(ctx, camp.ID, evidence.TypeOperatorRefusal, map[string]interface{}{
			"message_id":       result.MessageID,
			"legitimacy_score": result.LegitimacyScore,
			"has_legal_basis":  len(result.Facts.LegalBasisCitations) > 0,
		}); err != nil {
			return nil, fmt.Errorf("append refusal evidence: %w", err)
		}
	}

	for _, v := range result.Violations {
		evType := evidence.TypeViolationDetected
		if v == classifier.ViolationInvalidLegalBasis {
			evType = evidence.TypeLegalBasisInvalid
		}
		if _, err := s.ledger.Append(ctx, camp.ID, evType, map[string]interface{}{
			"violation":  string(v),
			"message_id": result.MessageID,
		}); err != nil {
			return nil, fmt.Errorf("append violation evidence: %w", err)
		}
	}

	// The reply is processed; move the campaign into analysis so the
	// decision's next-status transition is legal.
	camp.LastInboundBody = ""
	if camp.Status == campaign.StatusAwaitingResponse {
		if err := camp.Transition(campaign.StatusAnalyzingResponse, now, "Ответ оператора классифицирован"); err != nil {
			return nil, err
		}
	}
	if err := s.campaigns.SaveCampaign(ctx, camp); err != nil {
		return nil, fmt.Errorf("save campaign: %w", err)
	}
	return result, nil
}

// dispatchRequest sends the initial deletion request, records it on the
// chain and moves the campaign into its response-waiting state.
func (s *Scheduler) dispatchRequest(ctx context.Context, camp *campaign.Campaign, now time.Time) error {
	if err := s.executor.SendRequest(ctx, camp); err != nil {
		return err
	}
	if camp.RequestSentAt.IsZero() {
		camp.RequestSentAt = now
	}

	if err := camp.Transition(campaign.StatusDocumentsSent, now, "Запрос об удалении направлен оператору"); err != nil {
		return err
	}
	if err := camp.Transition(campaign.StatusAwaitingResponse, now, "Ожидание ответа оператора"); err != nil {
		return err
	}

	if _, err := s.ledger.Append(ctx, camp.ID, evidence.TypeRequestSent, map[string]interface{}{
		"operator_name":   camp.OperatorName,
		"request_sent_at": camp.RequestSentAt.UTC().Format(time.RFC3339),
	}); err != nil {
		return fmt.Errorf("append request evidence: %w", err)
	}

	return s.campaigns.SaveCampaign(ctx, camp)
}

// applyOutcome moves the campaign forward after a successful execution and
// schedules the next look. A rejected status transition is an error: the
// action already ran, so a campaign left behind would be re-decided forever.
func (s *Scheduler) applyOutcome(camp *campaign.Campaign, d *decision.Decision, now time.Time) error {
	if d.NextStatus != "" && d.NextStatus != camp.Status {
		if err := camp.Transition(d.NextStatus, now, d.Reason); err != nil {
			return fmt.Errorf("apply decision %s: %w", d.ID, err)
		}
	}

	next := defaultRecheck
	if d.EstimatedDays > 0 {
		next = time.Duration(d.EstimatedDays) * 24 * time.Hour
	}
	camp.NextActionAt = now.Add(next)

	s.emit(notify.EventDecisionExecuted, camp.ID, map[string]interface{}{
		"decision_id": d.ID,
		"type":        string(d.Type),
	})

	switch d.Type {
	case decision.ActionAutoComplete, decision.ActionCloseResolved:
		s.emit(notify.EventCampaignCompleted, camp.ID, map[string]interface{}{
			"decision_id": d.ID,
		})
	case decision.ActionEscalateRegulator, decision.ActionEscalateImmediate:
		s.emit(notify.EventCampaignEscalated, camp.ID, map[string]interface{}{
			"decision_id":      d.ID,
			"escalation_level": d.EscalationLevel,
		})
	case decision.ActionScheduleFollowUp:
		s.emit(notify.EventFollowUpScheduled, camp.ID, map[string]interface{}{
			"decision_id": d.ID,
			"next_at":     camp.NextActionAt.Format(time.RFC3339),
		})
	}
	return nil
}

func (s *Scheduler) emit(eventType notify.EventType, campaignID string, data map[string]interface{}) {
	if s.emitter == nil {
		return
	}
	s.emitter.Emit(eventType, campaignID, data)
}
