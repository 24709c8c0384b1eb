package decision

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/zabvenie/backend/internal/campaign"
	"github.com/zabvenie/backend/internal/evidence"
	"github.com/zabvenie/backend/internal/hashing"
	"github.com/zabvenie/backend/internal/legal"
	"github.com/zabvenie/backend/internal/metrics"
)

// Cache is the optional fast path for idempotency lookups. Misses are
// harmless: the campaign record remains the source of truth.
type Cache interface {
	GetDecision(ctx context.Context, idempotencyKey string) (*campaign.StoredDecision, bool)
	SetDecision(ctx context.Context, idempotencyKey string, d *campaign.StoredDecision)
}

// Engine evaluates the rule table against a context.
type Engine struct {
	campaigns campaign.Store
	ledger    *evidence.Ledger
	provider  hashing.Provider
	keys      *hashing.KeyRing
	legal     *legal.Lookup

	cache   Cache
	metrics *metrics.Metrics

	rules  []Rule
	logger *log.Logger
	now    func() time.Time

	// dayBucket folds the current UTC date into the idempotency key, so an
	// unchanged context is naturally re-evaluated once a day and never goes
	// permanently stale. The upstream behavior rolls over at UTC midnight;
	// kept as the default, configurable off.
	dayBucket bool
}

// Options configures optional engine collaborators.
type Options struct {
	Cache     Cache
	Metrics   *metrics.Metrics
	DayBucket *bool // nil means enabled
	Clock     func() time.Time
}

// NewEngine creates the decision engine.
func NewEngine(campaigns campaign.Store, ledger *evidence.Ledger, provider hashing.Provider, keys *hashing.KeyRing, lookup *legal.Lookup, opts Options) *Engine {
	e := &Engine{
		campaigns: campaigns,
		ledger:    ledger,
		provider:  provider,
		keys:      keys,
		legal:     lookup,
		cache:     opts.Cache,
		metrics:   opts.Metrics,
		rules:     defaultRules(),
		logger:    log.New(log.Writer(), "[Decision] ", log.LstdFlags),
		now:       time.Now,
		dayBucket: true,
	}
	if opts.DayBucket != nil {
		e.dayBucket = *opts.DayBucket
	}
	if opts.Clock != nil {
		e.now = opts.Clock
	}
	return e
}

// ============================================================================
// IDEMPOTENCY
// ============================================================================

// IdempotencyKey computes the deterministic fingerprint of the
// decision-relevant context. Identical context always yields the identical
// key; any material change (new message, day rollover, chain growth)
// changes it.
func (e *Engine) IdempotencyKey(dctx *Context) (string, error) {
	lastMessage := dctx.LastMessageID
	if lastMessage == "" {
		lastMessage = "none"
	}

	responseType := "none"
	legitimacy := 0
	violations := []string{}
	if dctx.Classification != nil {
		responseType = string(dctx.Classification.ResponseType)
		// Bucketed to the nearest 10 so jitter in scoring details does not
		// defeat idempotency.
		legitimacy = (dctx.Classification.LegitimacyScore + 5) / 10 * 10
		violations = dctx.Classification.ViolationStrings()
		sort.Strings(violations)
	}

	chainLength := 0
	chainTypes := []string{}
	if dctx.Chain != nil {
		chainLength = dctx.Chain.Length
		chainTypes = append(chainTypes, dctx.Chain.Types...)
		sort.Strings(chainTypes)
	}

	tuple := map[string]interface{}{
		"campaign_id":      dctx.CampaignID,
		"status":           string(dctx.Status),
		"last_message_id":  lastMessage,
		"response_type":    responseType,
		"legitimacy":       legitimacy,
		"violations":       violations,
		"request_age_days": dctx.RequestAgeDays,
		"chain_length":     chainLength,
		"chain_types":      chainTypes,
	}
	if e.dayBucket {
		tuple["date"] = e.now().UTC().Format("2006-01-02")
	}

	canonical, err := hashing.Canonicalize(tuple)
	if err != nil {
		return "", fmt.Errorf("idempotency key: %w", err)
	}
	return hashing.Hex(e.provider, e.keys.Decision, canonical), nil
}

// ============================================================================
// DECIDE
// ============================================================================

// Decide evaluates the rule table for a campaign. If a stored decision with
// the same idempotency key exists and forceReanalysis is false, the stored
// decision is returned unchanged — no new work, no new evidence entry.
func (e *Engine) Decide(ctx context.Context, campaignID string, dctx *Context, forceReanalysis bool) (*Decision, error) {
	started := e.now()

	camp, err := e.campaigns.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("decide %s: %w", campaignID, err)
	}

	key, err := e.IdempotencyKey(dctx)
	if err != nil {
		return nil, fmt.Errorf("decide %s: %w", campaignID, err)
	}

	if !forceReanalysis {
		if reused := e.findStored(ctx, camp, key); reused != nil {
			if e.metrics != nil {
				e.metrics.DecisionsReused.Inc()
			}
			return reused, nil
		}
	}

	rule := e.match(dctx)
	now := e.now().UTC()

	d := &Decision{
		ID:               uuid.NewString(),
		CampaignID:       campaignID,
		Type:             rule.Action,
		Reason:           rule.Reason,
		Confidence:       rule.Confidence,
		EscalationLevel:  rule.EscalationLevel,
		AutoExecute:      rule.AutoExecute,
		IdempotencyKey:   key,
		EstimatedDays:    rule.EstimatedDays,
		NextStatus:       rule.NextStatus,
		Metadata:         e.buildMetadata(rule, dctx),
		EvidenceRecorded: true,
		DecidedAt:        now,
	}

	// The decision links into the same audit trail as the raw responses.
	// A ledger failure does not discard the decision: it is returned with
	// EvidenceRecorded=false and the caller retries the write independently.
	if _, err := e.ledger.Append(ctx, campaignID, evidence.TypeDecisionAction, e.evidencePayload(d, dctx)); err != nil {
		d.EvidenceRecorded = false
		e.logger.Printf("Evidence write failed for decision %s (campaign=%s): %v", d.ID, campaignID, err)
		if e.metrics != nil {
			e.metrics.EvidenceWriteFailures.Inc()
		}
	} else if e.metrics != nil {
		e.metrics.EvidenceEntriesTotal.WithLabelValues(string(evidence.TypeDecisionAction)).Inc()
	}

	camp.DecisionCount++
	camp.LastDecision = d.Snapshot()
	camp.UpdatedAt = now
	if err := e.campaigns.SaveCampaign(ctx, camp); err != nil {
		return nil, fmt.Errorf("decide %s: persist decision: %w", campaignID, err)
	}

	if e.cache != nil {
		e.cache.SetDecision(ctx, key, camp.LastDecision)
	}
	if e.metrics != nil {
		e.metrics.DecisionsTotal.WithLabelValues(string(d.Type), ruleName(rule)).Inc()
		e.metrics.DecisionDuration.Observe(e.now().Sub(started).Seconds())
	}

	e.logger.Printf("Decision %s for campaign %s: %s (confidence=%d autoExecute=%t rule=%s)",
		d.ID, campaignID, d.Type, d.Confidence, d.AutoExecute, ruleName(rule))

	return d, nil
}

// findStored returns the stored decision when its idempotency key matches.
func (e *Engine) findStored(ctx context.Context, camp *campaign.Campaign, key string) *Decision {
	var stored *campaign.StoredDecision

	if e.cache != nil {
		if cached, ok := e.cache.GetDecision(ctx, key); ok {
			stored = cached
		}
	}
	if stored == nil && camp.LastDecision != nil && camp.LastDecision.IdempotencyKey == key {
		stored = camp.LastDecision
	}
	if stored == nil {
		return nil
	}

	return &Decision{
		CampaignID:       camp.ID,
		Type:             Type(stored.Type),
		Reason:           stored.Reason,
		Confidence:       stored.Confidence,
		EscalationLevel:  stored.EscalationLevel,
		AutoExecute:      stored.AutoExecute,
		IdempotencyKey:   stored.IdempotencyKey,
		Metadata:         stored.Metadata,
		EvidenceRecorded: true,
		Reused:           true,
		DecidedAt:        stored.DecidedAt,
	}
}

func (e *Engine) match(dctx *Context) Rule {
	for _, rule := range e.rules {
		if rule.When(dctx) {
			return rule
		}
	}
	return fallbackRule
}

func (e *Engine) buildMetadata(rule Rule, dctx *Context) map[string]interface{} {
	meta := map[string]interface{}{
		"rule":           ruleName(rule),
		"manualOverride": false,
	}

	if dctx.Classification != nil {
		meta["response_type"] = string(dctx.Classification.ResponseType)
		meta["legitimacy_score"] = dctx.Classification.LegitimacyScore
		if len(dctx.Classification.Violations) > 0 {
			meta["violations"] = dctx.Classification.ViolationStrings()

			// Statute citations for the escalation/complaint documents.
			var citations []string
			for _, v := range dctx.Classification.Violations {
				for _, art := range e.legal.Articles(v) {
					citations = append(citations, art.Code)
				}
			}
			meta["legal_articles"] = citations
		}
	}
	if dctx.Chain != nil {
		meta["chain_length"] = dctx.Chain.Length
		meta["chain_intact"] = dctx.Chain.Intact
	}
	return meta
}

func (e *Engine) evidencePayload(d *Decision, dctx *Context) map[string]interface{} {
	payload := map[string]interface{}{
		"decision_id":     d.ID,
		"decision_type":   string(d.Type),
		"reason":          d.Reason,
		"confidence":      d.Confidence,
		"auto_execute":    d.AutoExecute,
		"idempotency_key": d.IdempotencyKey,
	}
	if dctx.Classification != nil {
		payload["classification"] = map[string]interface{}{
			"response_type":    string(dctx.Classification.ResponseType),
			"legitimacy_score": dctx.Classification.LegitimacyScore,
			"violations":       dctx.Classification.ViolationStrings(),
		}
	}
	return payload
}

func ruleName(rule Rule) string {
	if rule.Name == "" {
		return fallbackRule.Name
	}
	return rule.Name
}

// ============================================================================
// MANUAL OVERRIDE
// ============================================================================

// overrideStatus maps a manually chosen action onto the campaign status it
// settles in. Review actions leave the status alone.
func overrideStatus(action Type) campaign.Status {
	switch action {
	case ActionAutoComplete, ActionCloseResolved:
		return campaign.StatusCompleted
	case ActionEscalateRegulator, ActionEscalateImmediate:
		return campaign.StatusEscalated
	case ActionScheduleFollowUp, ActionRequestClarification:
		return campaign.StatusAwaitingResponse
	}
	return ""
}

// ManualOverride records a human decision, bypassing rule evaluation and
// idempotency entirely. The operator stands in for the executor, so the
// campaign moves to the action's status immediately; when the lifecycle has
// no direct edge the path runs through taking_action. Overrides never
// auto-execute on top of that.
func (e *Engine) ManualOverride(ctx context.Context, campaignID string, action Type, reason, operator string) (*Decision, error) {
	if reason == "" {
		return nil, fmt.Errorf("manual override for %s: reason is required", campaignID)
	}

	camp, err := e.campaigns.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("manual override %s: %w", campaignID, err)
	}

	// Validate the lifecycle path before anything lands on the chain.
	target := overrideStatus(action)
	viaTakingAction := false
	if target != "" && target != camp.Status {
		switch {
		case camp.Status.CanTransition(target):
		case camp.Status.CanTransition(campaign.StatusTakingAction) &&
			campaign.StatusTakingAction.CanTransition(target):
			viaTakingAction = true
		default:
			return nil, fmt.Errorf("manual override %s: no lifecycle path %s -> %s",
				campaignID, camp.Status, target)
		}
	}

	now := e.now().UTC()
	d := &Decision{
		ID:         uuid.NewString(),
		CampaignID: campaignID,
		Type:       action,
		Reason:     reason,
		Confidence: 100,
		// Overrides carry no idempotency key: the next automatic decide
		// always re-evaluates from fresh context.
		AutoExecute: false,
		NextStatus:  target,
		Metadata: map[string]interface{}{
			"manualOverride": true,
			"operator":       operator,
		},
		EvidenceRecorded: true,
		DecidedAt:        now,
	}

	if _, err := e.ledger.Append(ctx, campaignID, evidence.TypeManual, map[string]interface{}{
		"decision_id":   d.ID,
		"decision_type": string(d.Type),
		"reason":        reason,
		"operator":      operator,
	}); err != nil {
		d.EvidenceRecorded = false
		e.logger.Printf("Evidence write failed for override %s (campaign=%s): %v", d.ID, campaignID, err)
		if e.metrics != nil {
			e.metrics.EvidenceWriteFailures.Inc()
		}
	}

	if target != "" && target != camp.Status {
		note := fmt.Sprintf("Ручное решение (%s): %s", operator, reason)
		if viaTakingAction {
			if err := camp.Transition(campaign.StatusTakingAction, now, note); err != nil {
				return nil, fmt.Errorf("manual override %s: %w", campaignID, err)
			}
		}
		if err := camp.Transition(target, now, note); err != nil {
			return nil, fmt.Errorf("manual override %s: %w", campaignID, err)
		}
	}

	camp.DecisionCount++
	camp.LastDecision = d.Snapshot()
	camp.UpdatedAt = now
	if !camp.Status.Terminal() {
		// Give the override a full day before the scheduler looks again.
		camp.NextActionAt = now.Add(24 * time.Hour)
	}
	if err := e.campaigns.SaveCampaign(ctx, camp); err != nil {
		return nil, fmt.Errorf("manual override %s: persist: %w", campaignID, err)
	}

	e.logger.Printf("Manual override for campaign %s by %s: %s", campaignID, operator, action)
	return d, nil
}
