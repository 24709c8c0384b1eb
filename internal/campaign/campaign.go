// Package campaign holds the deletion-campaign record and its legal
// lifecycle state machine. A campaign tracks one erasure request against one
// operator from first contact to a terminal outcome.
package campaign

import (
	"fmt"
	"time"
)

// Status is the campaign's position in the legal lifecycle.
type Status string

const (
	StatusStarted           Status = "started"
	StatusDocumentsSent     Status = "documents_sent"
	StatusAwaitingResponse  Status = "awaiting_response"
	StatusAnalyzingResponse Status = "analyzing_response"
	StatusTakingAction      Status = "taking_action"
	StatusCompleted         Status = "completed"
	StatusEscalated         Status = "escalated"
	StatusFailed            Status = "failed"
	StatusCancelled         Status = "cancelled"
)

// transitions is the allowed forward edges of the lifecycle.
var transitions = map[Status][]Status{
	StatusStarted:           {StatusDocumentsSent, StatusCancelled, StatusFailed},
	StatusDocumentsSent:     {StatusAwaitingResponse, StatusCancelled, StatusFailed},
	StatusAwaitingResponse:  {StatusAnalyzingResponse, StatusTakingAction, StatusEscalated, StatusCancelled, StatusFailed},
	StatusAnalyzingResponse: {StatusTakingAction, StatusAwaitingResponse, StatusCompleted, StatusEscalated, StatusCancelled, StatusFailed},
	StatusTakingAction:      {StatusAwaitingResponse, StatusCompleted, StatusEscalated, StatusCancelled, StatusFailed},
}

// Terminal reports whether s admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusEscalated, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next is legal.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Milestone is one entry of the campaign's ordered progress log.
type Milestone struct {
	At     time.Time `json:"at"`
	Status Status    `json:"status"`
	Note   string    `json:"note,omitempty"`
}

// MilestoneLog is an explicit append-only ordered log. Entries are never
// rewritten or removed; Append is the only mutation.
type MilestoneLog []Milestone

// Append records a milestone at the end of the log.
func (l *MilestoneLog) Append(at time.Time, status Status, note string) {
	*l = append(*l, Milestone{At: at, Status: status, Note: note})
}

// Last returns the most recent milestone, or nil for an empty log.
func (l MilestoneLog) Last() *Milestone {
	if len(l) == 0 {
		return nil
	}
	m := l[len(l)-1]
	return &m
}

// StoredDecision is the decision snapshot persisted on the campaign record.
// A fresh decision with the same IdempotencyKey is a no-op.
type StoredDecision struct {
	Type            string                 `json:"type"`
	Reason          string                 `json:"reason"`
	Confidence      int                    `json:"confidence"`
	EscalationLevel int                    `json:"escalation_level"`
	AutoExecute     bool                   `json:"auto_execute"`
	IdempotencyKey  string                 `json:"idempotency_key"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
	DecidedAt       time.Time              `json:"decided_at"`
}

// Campaign is one erasure request against one operator. Subject identity is
// redacted upstream: the record holds no raw personal data of the requester.
type Campaign struct {
	ID            string `json:"id"`
	OperatorName  string `json:"operator_name"`
	OperatorEmail string `json:"operator_email"`

	Status Status `json:"status"`

	RequestSentAt time.Time  `json:"request_sent_at"`
	LastInboundAt *time.Time `json:"last_inbound_at,omitempty"`
	LastInboundID string     `json:"last_inbound_id,omitempty"`

	// LastInboundBody is the most recent operator reply still awaiting
	// classification. Cleared once processed.
	LastInboundBody string `json:"last_inbound_body,omitempty"`

	DecisionCount int             `json:"decision_count"`
	LastDecision  *StoredDecision `json:"last_decision,omitempty"`

	Milestones MilestoneLog `json:"milestones"`

	NextActionAt time.Time `json:"next_action_at"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// RequestAgeDays returns the campaign age in whole days at now.
func (c *Campaign) RequestAgeDays(now time.Time) int {
	if c.RequestSentAt.IsZero() {
		return 0
	}
	age := now.Sub(c.RequestSentAt)
	if age < 0 {
		return 0
	}
	return int(age.Hours() / 24)
}

// Transition moves the campaign to next, appending a milestone. Terminal
// statuses are frozen; illegal edges are rejected.
func (c *Campaign) Transition(next Status, at time.Time, note string) error {
	if c.Status == next {
		return nil
	}
	if c.Status.Terminal() {
		return fmt.Errorf("campaign %s is in terminal status %s", c.ID, c.Status)
	}
	if !c.Status.CanTransition(next) {
		return fmt.Errorf("illegal transition %s -> %s for campaign %s", c.Status, next, c.ID)
	}

	c.Status = next
	c.UpdatedAt = at
	c.Milestones.Append(at, next, note)
	return nil
}
