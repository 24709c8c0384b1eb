// Package decision maps classified operator responses and campaign history
// onto the next legal action. Evaluation is a priority-ordered rule table
// guarded by a deterministic idempotency key, so re-invoking the engine on
// unchanged context never executes the same action twice.
package decision

import (
	"time"

	"github.com/zabvenie/backend/internal/campaign"
	"github.com/zabvenie/backend/internal/classifier"
	"github.com/zabvenie/backend/internal/evidence"
)

// Type is the legal action a decision prescribes.
type Type string

const (
	ActionEscalateImmediate    Type = "escalate-immediate"
	ActionAutoComplete         Type = "auto-complete"
	ActionCloseResolved        Type = "close-resolved"
	ActionEscalateRegulator    Type = "escalate-to-regulator"
	ActionRequestClarification Type = "request-clarification"
	ActionScheduleFollowUp     Type = "schedule-follow-up"
	ActionManualReview         Type = "manual-review"
)

const (
	// MinConfidenceThreshold gates auto-execution: a decision runs without a
	// human only when its rule allows it AND confidence is at or above this.
	MinConfidenceThreshold = 70

	// LowScoreThreshold routes low-legitimacy replies to manual review.
	LowScoreThreshold = 40
)

// Context is the ephemeral evaluation input, rebuilt per call from campaign
// state, the latest classified response (if any) and the evidence summary.
type Context struct {
	CampaignID    string
	Status        campaign.Status
	LastMessageID string // empty when no inbound message exists

	// Classification of the latest operator reply, nil when the operator
	// has not responded.
	Classification *classifier.Result

	RequestAgeDays int
	PriorDecisions int

	Chain *evidence.ChainSummary
}

// Decision is the rule evaluation output.
type Decision struct {
	ID         string `json:"id"`
	CampaignID string `json:"campaign_id"`
	Type       Type   `json:"type"`
	Reason     string `json:"reason"`

	Confidence      int  `json:"confidence"` // 0-100
	EscalationLevel int  `json:"escalation_level"`
	AutoExecute     bool `json:"auto_execute"`

	// IdempotencyKey is the deterministic fingerprint of the context this
	// decision was computed from.
	IdempotencyKey string `json:"idempotency_key"`

	// EstimatedDays until the action should bear fruit; drives the
	// campaign's next scheduling point.
	EstimatedDays int `json:"estimated_days"`

	// NextStatus the campaign should move to when the action executes.
	NextStatus campaign.Status `json:"next_status"`

	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// EvidenceRecorded is false when the decision-action ledger write
	// failed; the decision itself is still valid and returned, the caller
	// must retry the evidence write independently.
	EvidenceRecorded bool `json:"evidence_recorded"`

	// Reused marks a stored decision returned unchanged because the
	// idempotency key matched (no new work, no new evidence entry).
	Reused bool `json:"reused"`

	DecidedAt time.Time `json:"decided_at"`
}

// Snapshot converts the decision to its campaign-persisted form.
func (d *Decision) Snapshot() *campaign.StoredDecision {
	return &campaign.StoredDecision{
		Type:            string(d.Type),
		Reason:          d.Reason,
		Confidence:      d.Confidence,
		EscalationLevel: d.EscalationLevel,
		AutoExecute:     d.AutoExecute,
		IdempotencyKey:  d.IdempotencyKey,
		Metadata:        d.Metadata,
		DecidedAt:       d.DecidedAt,
	}
}

// ShouldAutoExecute applies the execution gate callers must honor.
func (d *Decision) ShouldAutoExecute() bool {
	return d.AutoExecute && d.Confidence >= MinConfidenceThreshold
}
