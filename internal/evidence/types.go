// Package evidence implements the hash-chained evidence ledger for deletion
// campaigns. Every material fact — an operator reply, a detected violation,
// a decision — is recorded as an immutable entry cryptographically bound to
// its predecessor, so that any later mutation of the stored record is
// detectable during verification.
package evidence

import (
	"time"
)

// ============================================================================
// EVIDENCE TYPES
// ============================================================================

// Type categorizes the kind of evidence
type Type string

const (
	TypeRequestSent       Type = "request-sent"        // Deletion request dispatched to the operator
	TypeEmailResponse     Type = "email-response"      // Operator reply received
	TypeViolationDetected Type = "violation-detected"  // Classifier found a violation
	TypeOperatorRefusal   Type = "operator-refusal"    // Explicit refusal to delete
	TypeLegalBasisInvalid Type = "legal-basis-invalid" // Cited basis does not hold
	TypeDecisionAction    Type = "decision-action"     // Decision engine outcome
	TypeManual            Type = "manual"              // Human-recorded fact
	TypeAutoAnalysis      Type = "auto-analysis"       // Automated classification result
)

// GenesisMarker stands in for the previous hash when chaining the first
// entry of a campaign. A literal marker avoids a nil-concatenation artifact.
const GenesisMarker = "genesis"

// SystemID identifies this installation in digital fingerprints.
const SystemID = "zabvenie-core"

// ============================================================================
// EVIDENCE ENTRY
// ============================================================================

// Entry is a single immutable evidence record. The hash fields are the
// bit-exact legal audit artifact: their encoding must never be silently
// reformatted between releases.
type Entry struct {
	ID         string `json:"id"`
	CampaignID string `json:"campaign_id"`
	Type       Type   `json:"evidence_type"`

	// Payload is the opaque structured content (classification result,
	// decision metadata, raw-message digest, ...).
	Payload map[string]interface{} `json:"payload,omitempty"`

	// Integrity fields. PreviousHash is nil only for the genesis entry.
	ContentHash           string  `json:"content_hash"`
	PreviousHash          *string `json:"previous_hash"`
	TimestampHash         string  `json:"timestamp_hash"`
	DigitalFingerprint    string  `json:"digital_fingerprint"`
	HashChain             string  `json:"hash_chain"`
	VerificationHash      string  `json:"verification_hash"`
	VerificationSignature string  `json:"verification_signature"`

	// ChainPosition is 1-based and monotonic per campaign. It is derived
	// from creation order, never trusted input.
	ChainPosition int `json:"chain_position"`

	CollectedAt time.Time `json:"collected_at"`
}

// IsGenesis reports whether the entry opens its campaign's chain.
func (e *Entry) IsGenesis() bool {
	return e.PreviousHash == nil
}

// ============================================================================
// VERIFICATION
// ============================================================================

// Check names for verification reports. Stable strings: they appear in
// legal dispute reports.
const (
	CheckContentHash           = "content_hash"
	CheckTimestampHash         = "timestamp_hash"
	CheckDigitalFingerprint    = "digital_fingerprint"
	CheckHashChain             = "hash_chain"
	CheckVerificationHash      = "verification_hash"
	CheckVerificationSignature = "verification_signature"
	CheckPreviousLink          = "previous_link"
)

// VerificationResult reports the outcome of verifying a single entry.
// A result is valid iff FailedChecks is empty; failures are surfaced for
// human review, never auto-repaired.
type VerificationResult struct {
	EntryID       string    `json:"entry_id"`
	CampaignID    string    `json:"campaign_id"`
	ChainPosition int       `json:"chain_position"`
	Valid         bool      `json:"valid"`
	FailedChecks  []string  `json:"failed_checks,omitempty"`
	CheckedAt     time.Time `json:"checked_at"`
}

// ChainSummary is the compact view of a campaign's chain that the decision
// engine folds into its context.
type ChainSummary struct {
	CampaignID string   `json:"campaign_id"`
	Length     int      `json:"length"`
	Types      []string `json:"types"` // sorted, deduplicated
	Intact     bool     `json:"intact"`

	// FailedChecks names the distinct verification checks that failed
	// anywhere in the chain, sorted. Empty when Intact.
	FailedChecks []string `json:"failed_checks,omitempty"`
}
