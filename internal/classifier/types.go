// Package classifier turns free-text operator replies into structured facts.
// The default implementation is a pure rule-based classifier: deterministic,
// no network calls, no personal data leaving the process. An external
// classifier can be plugged in behind the same interface but is disabled by
// default.
package classifier

import (
	"context"
	"time"
)

// ResponseType is the category assigned to an operator reply.
type ResponseType string

const (
	ResponsePositiveConfirmation ResponseType = "positive-confirmation"
	ResponseRejection            ResponseType = "rejection"
	ResponseClarificationRequest ResponseType = "clarification-request"
	ResponsePartialCompliance    ResponseType = "partial-compliance"
	ResponseAutoGenerated        ResponseType = "auto-generated"
	ResponseUnknown              ResponseType = "unknown"
)

// Violation flags a detectable compliance defect in the operator's handling
// of the deletion request. Violations are evaluated independently of the
// response category; several may co-exist on one reply.
type Violation string

const (
	ViolationDelay              Violation = "delay"
	ViolationInvalidLegalBasis  Violation = "invalid-legal-basis"
	ViolationExcessiveRetention Violation = "excessive-retention"
	ViolationMissingInformation Violation = "missing-information"
)

// Deadlines under 152-FZ that drive violation detection.
const (
	// ResponseDeadlineDays is the statutory reply window (152-FZ art. 20).
	ResponseDeadlineDays = 30

	// MaxRetentionYears is the retention period beyond which a stated policy
	// counts as excessive.
	MaxRetentionYears = 5
)

// Message is the inbound operator reply plus the campaign timing needed for
// deadline checks. Body is raw text; it is sanitized before any pattern
// matching so no personal data persists in classification output.
type Message struct {
	ID            string
	Body          string
	ReceivedAt    time.Time
	RequestSentAt time.Time
}

// ExtractedFacts are the structured facts pulled out of a sanitized reply.
type ExtractedFacts struct {
	Language            string   `json:"language"`
	LegalBasisCitations []string `json:"legal_basis_citations,omitempty"`
	RetentionYears      int      `json:"retention_years,omitempty"`
	HasRetentionInfo    bool     `json:"has_retention_info"`
	HasContactInfo      bool     `json:"has_contact_info"`
	HasPurpose          bool     `json:"has_purpose"`
	ConfirmationMarker  bool     `json:"confirmation_marker"`
}

// Result is the classification outcome. Produced fresh per message and never
// mutated afterwards.
type Result struct {
	MessageID       string         `json:"message_id,omitempty"`
	ResponseType    ResponseType   `json:"response_type"`
	Violations      []Violation    `json:"violations"`
	LegitimacyScore int            `json:"legitimacy_score"` // 0-100
	Facts           ExtractedFacts `json:"facts"`
	SanitizedText   string         `json:"sanitized_text"`
	Redactions      RedactionStats `json:"redactions"`
}

// HasViolation reports whether v was detected.
func (r *Result) HasViolation(v Violation) bool {
	for _, got := range r.Violations {
		if got == v {
			return true
		}
	}
	return false
}

// ViolationStrings returns the violations as plain strings, sorted order
// preserved from detection.
func (r *Result) ViolationStrings() []string {
	out := make([]string, len(r.Violations))
	for i, v := range r.Violations {
		out[i] = string(v)
	}
	return out
}

// Classifier is the capability interface the decision core depends on.
// Implementations must never panic on malformed input: they degrade to
// ResponseUnknown instead.
type Classifier interface {
	Classify(ctx context.Context, msg Message) (*Result, error)
}
