package evidence

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zabvenie/backend/internal/hashing"
)

// timestampSalt is mixed into every timestamp hash. Versioned so a future
// format change cannot collide with historical hashes.
const timestampSalt = "zabvenie-ts-v1"

// Ledger is the append-only, hash-chained evidence log. All hashes are keyed
// with server-held secrets, so a party without the secret cannot forge or
// recompute valid hashes even with full chain visibility.
type Ledger struct {
	store    Store
	provider hashing.Provider
	keys     *hashing.KeyRing

	// Per-campaign exclusive locks. Correctness of PreviousHash depends on
	// reading the true latest entry: two concurrent appends must never both
	// observe the same tail.
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	logger *log.Logger
	now    func() time.Time
}

// NewLedger creates a ledger over the given store and key ring.
func NewLedger(store Store, provider hashing.Provider, keys *hashing.KeyRing) *Ledger {
	return &Ledger{
		store:    store,
		provider: provider,
		keys:     keys,
		locks:    make(map[string]*sync.Mutex),
		logger:   log.New(log.Writer(), "[Evidence] ", log.LstdFlags),
		now:      time.Now,
	}
}

// SetClock overrides the ledger's clock. Tests only.
func (l *Ledger) SetClock(now func() time.Time) { l.now = now }

func (l *Ledger) campaignLock(campaignID string) *sync.Mutex {
	l.locksMu.Lock()
	defer l.locksMu.Unlock()

	mu, ok := l.locks[campaignID]
	if !ok {
		mu = &sync.Mutex{}
		l.locks[campaignID] = mu
	}
	return mu
}

// ============================================================================
// APPEND
// ============================================================================

// Append records a new fact for a campaign and links it to the chain tail.
// The entry is fully computed before the single atomic store write; the
// per-campaign lock is held across tail read and write.
func (l *Ledger) Append(ctx context.Context, campaignID string, evidenceType Type, payload map[string]interface{}) (*Entry, error) {
	if campaignID == "" {
		return nil, fmt.Errorf("append evidence: campaign id is required")
	}

	mu := l.campaignLock(campaignID)
	mu.Lock()
	defer mu.Unlock()

	tail, err := l.store.ChainTail(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("append evidence: read chain tail: %w", err)
	}

	// Microsecond precision survives the Postgres round trip, so recomputed
	// timestamp hashes match the stored ones exactly.
	collectedAt := l.now().UTC().Truncate(time.Microsecond)

	entry := &Entry{
		ID:          uuid.NewString(),
		CampaignID:  campaignID,
		Type:        evidenceType,
		Payload:     payload,
		CollectedAt: collectedAt,
	}

	if tail != nil {
		prev := tail.ContentHash
		entry.PreviousHash = &prev
		entry.ChainPosition = tail.ChainPosition + 1
	} else {
		entry.ChainPosition = 1
	}

	if err := l.computeHashes(entry); err != nil {
		return nil, fmt.Errorf("append evidence: %w", err)
	}

	if err := l.store.AppendEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("append evidence: persist: %w", err)
	}

	l.logger.Printf("Recorded evidence %s (campaign=%s type=%s position=%d)",
		entry.ID, campaignID, evidenceType, entry.ChainPosition)

	return entry, nil
}

// computeHashes fills in all six hash fields in dependency order.
func (l *Ledger) computeHashes(entry *Entry) error {
	contentHash, err := l.contentHash(entry)
	if err != nil {
		return err
	}
	entry.ContentHash = contentHash
	entry.TimestampHash = l.timestampHash(entry.CollectedAt)
	entry.DigitalFingerprint = l.digitalFingerprint(entry)
	entry.HashChain = l.chainHash(entry)

	verificationHash, err := l.verificationHash(entry)
	if err != nil {
		return err
	}
	entry.VerificationHash = verificationHash
	entry.VerificationSignature = l.verificationSignature(verificationHash)
	return nil
}

func (l *Ledger) contentHash(entry *Entry) (string, error) {
	canonical, err := hashing.Canonicalize(map[string]interface{}{
		"campaign_id":   entry.CampaignID,
		"evidence_type": string(entry.Type),
		"payload":       entry.Payload,
	})
	if err != nil {
		return "", fmt.Errorf("content hash: %w", err)
	}
	return hashing.Hex(l.provider, l.keys.Content, canonical), nil
}

func (l *Ledger) timestampHash(ts time.Time) string {
	data := ts.Format(time.RFC3339Nano) + timestampSalt
	return hashing.Hex(l.provider, l.keys.Timestamp, []byte(data))
}

func (l *Ledger) digitalFingerprint(entry *Entry) string {
	data := entry.ContentHash + "|" + string(entry.Type) + "|" +
		entry.CollectedAt.Format(time.RFC3339Nano) + "|" + SystemID
	return hashing.Hex(l.provider, l.keys.Fingerprint, []byte(data))
}

func (l *Ledger) chainHash(entry *Entry) string {
	prev := GenesisMarker
	if entry.PreviousHash != nil {
		prev = *entry.PreviousHash
	}
	data := prev + "|" + entry.ContentHash + "|" + entry.TimestampHash
	return hashing.Hex(l.provider, l.keys.Chain, []byte(data))
}

func (l *Ledger) verificationHash(entry *Entry) (string, error) {
	canonical, err := hashing.Canonicalize(map[string]interface{}{
		"content_hash":        entry.ContentHash,
		"previous_hash":       entry.PreviousHash,
		"hash_chain":          entry.HashChain,
		"timestamp_hash":      entry.TimestampHash,
		"digital_fingerprint": entry.DigitalFingerprint,
		"evidence_type":       string(entry.Type),
		"campaign_id":         entry.CampaignID,
	})
	if err != nil {
		return "", fmt.Errorf("verification hash: %w", err)
	}
	return hashing.Hex(l.provider, l.keys.Verification, canonical), nil
}

// verificationSignature is a second keyed hash over the verification hash.
// Defense in depth: forging it requires the key twice over.
func (l *Ledger) verificationSignature(verificationHash string) string {
	return hashing.Hex(l.provider, l.keys.Verification, []byte(verificationHash))
}

// ============================================================================
// VERIFICATION
// ============================================================================

// VerifyEntry recomputes every hash field of a stored entry and compares it
// to the stored values. Failures are reported, never repaired.
func (l *Ledger) VerifyEntry(ctx context.Context, id string) (*VerificationResult, error) {
	entry, err := l.store.LoadEntry(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("verify entry %s: %w", id, err)
	}

	chain, err := l.store.LoadChain(ctx, entry.CampaignID)
	if err != nil {
		return nil, fmt.Errorf("verify entry %s: load chain: %w", id, err)
	}

	result := l.checkEntry(entry, chain)
	return &result, nil
}

// VerifyChain verifies every entry of a campaign in chain order. A mutated
// entry fails its own checks; the following entry additionally fails the
// previous-link check.
func (l *Ledger) VerifyChain(ctx context.Context, campaignID string) ([]VerificationResult, error) {
	chain, err := l.store.LoadChain(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("verify chain %s: %w", campaignID, err)
	}

	results := make([]VerificationResult, 0, len(chain))
	for i, entry := range chain {
		result := l.checkEntry(entry, chain)

		// In chain order, the previous link must point at the entry
		// immediately preceding, not just any entry of the campaign.
		if i > 0 {
			if entry.PreviousHash == nil || *entry.PreviousHash != chain[i-1].ContentHash {
				result.Valid = false
				result.FailedChecks = appendCheck(result.FailedChecks, CheckPreviousLink)
			}
		} else if entry.PreviousHash != nil {
			result.Valid = false
			result.FailedChecks = appendCheck(result.FailedChecks, CheckPreviousLink)
		}
		results = append(results, result)
	}
	return results, nil
}

func (l *Ledger) checkEntry(entry *Entry, chain []*Entry) VerificationResult {
	result := VerificationResult{
		EntryID:       entry.ID,
		CampaignID:    entry.CampaignID,
		ChainPosition: entry.ChainPosition,
		Valid:         true,
		CheckedAt:     l.now().UTC(),
	}

	fail := func(check string) {
		result.Valid = false
		result.FailedChecks = appendCheck(result.FailedChecks, check)
	}

	recomputed := &Entry{
		CampaignID:   entry.CampaignID,
		Type:         entry.Type,
		Payload:      entry.Payload,
		PreviousHash: entry.PreviousHash,
		CollectedAt:  entry.CollectedAt,
	}

	contentHash, err := l.contentHash(recomputed)
	if err != nil || contentHash != entry.ContentHash {
		fail(CheckContentHash)
	}
	recomputed.ContentHash = entry.ContentHash

	if l.timestampHash(entry.CollectedAt) != entry.TimestampHash {
		fail(CheckTimestampHash)
	}
	recomputed.TimestampHash = entry.TimestampHash

	if l.digitalFingerprint(recomputed) != entry.DigitalFingerprint {
		fail(CheckDigitalFingerprint)
	}
	recomputed.DigitalFingerprint = entry.DigitalFingerprint

	if l.chainHash(recomputed) != entry.HashChain {
		fail(CheckHashChain)
	}
	recomputed.HashChain = entry.HashChain

	verificationHash, err := l.verificationHash(recomputed)
	if err != nil || verificationHash != entry.VerificationHash {
		fail(CheckVerificationHash)
	}

	if l.verificationSignature(entry.VerificationHash) != entry.VerificationSignature {
		fail(CheckVerificationSignature)
	}

	// A non-genesis entry must point at the content hash of some entry in
	// the same campaign.
	if entry.PreviousHash != nil {
		found := false
		for _, other := range chain {
			if other.ID != entry.ID && other.ContentHash == *entry.PreviousHash {
				found = true
				break
			}
		}
		if !found {
			fail(CheckPreviousLink)
		}
	}

	return result
}

func appendCheck(checks []string, check string) []string {
	for _, c := range checks {
		if c == check {
			return checks
		}
	}
	return append(checks, check)
}

// ============================================================================
// SUMMARY
// ============================================================================

// Summary folds a campaign's chain into the compact view consumed by the
// decision engine: length, distinct types, integrity flag.
func (l *Ledger) Summary(ctx context.Context, campaignID string) (*ChainSummary, error) {
	results, err := l.VerifyChain(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	chain, err := l.store.LoadChain(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("summarize chain %s: %w", campaignID, err)
	}

	seen := make(map[string]bool)
	for _, e := range chain {
		seen[string(e.Type)] = true
	}
	types := make([]string, 0, len(seen))
	for t := range seen {
		types = append(types, t)
	}
	sort.Strings(types)

	intact := true
	failedSet := make(map[string]bool)
	for _, r := range results {
		if !r.Valid {
			intact = false
			for _, check := range r.FailedChecks {
				failedSet[check] = true
			}
		}
	}
	var failed []string
	for check := range failedSet {
		failed = append(failed, check)
	}
	sort.Strings(failed)

	return &ChainSummary{
		CampaignID:   campaignID,
		Length:       len(chain),
		Types:        types,
		Intact:       intact,
		FailedChecks: failed,
	}, nil
}
