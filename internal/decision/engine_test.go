package decision

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zabvenie/backend/internal/campaign"
	"github.com/zabvenie/backend/internal/classifier"
	"github.com/zabvenie/backend/internal/evidence"
	"github.com/zabvenie/backend/internal/hashing"
	"github.com/zabvenie/backend/internal/legal"
)

type fixture struct {
	engine    *Engine
	campaigns *campaign.InMemoryStore
	evidences *evidence.InMemoryStore
	ledger    *evidence.Ledger
	clock     *fakeClock
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newFixture(t *testing.T, evidenceStore evidence.Store) *fixture {
	t.Helper()

	keys, err := hashing.NewKeyRing([]byte("decision-test-master-secret-0123456789"))
	require.NoError(t, err)
	provider := hashing.HMACSHA256{}

	campaigns := campaign.NewInMemoryStore()
	var memStore *evidence.InMemoryStore
	if evidenceStore == nil {
		memStore = evidence.NewInMemoryStore()
		evidenceStore = memStore
	}

	clock := &fakeClock{now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	ledger := evidence.NewLedger(evidenceStore, provider, keys)
	ledger.SetClock(clock.Now)

	engine := NewEngine(campaigns, ledger, provider, keys, legal.NewLookup(), Options{
		Clock: clock.Now,
	})

	return &fixture{
		engine:    engine,
		campaigns: campaigns,
		evidences: memStore,
		ledger:    ledger,
		clock:     clock,
	}
}

func (f *fixture) seedCampaign(t *testing.T, id string, ageDays int) *campaign.Campaign {
	t.Helper()
	camp := &campaign.Campaign{
		ID:            id,
		OperatorName:  "ООО Оператор",
		OperatorEmail: "dpo@operator.example",
		Status:        campaign.StatusAwaitingResponse,
		RequestSentAt: f.clock.now.Add(-time.Duration(ageDays) * 24 * time.Hour),
		NextActionAt:  f.clock.now,
		CreatedAt:     f.clock.now,
		UpdatedAt:     f.clock.now,
	}
	require.NoError(t, f.campaigns.SaveCampaign(context.Background(), camp))
	return camp
}

func confirmedDeletionContext(campaignID string) *Context {
	return &Context{
		CampaignID:    campaignID,
		Status:        campaign.StatusAnalyzingResponse,
		LastMessageID: "msg-1",
		Classification: &classifier.Result{
			MessageID:       "msg-1",
			ResponseType:    classifier.ResponsePositiveConfirmation,
			Violations:      []classifier.Violation{},
			LegitimacyScore: 100,
		},
		RequestAgeDays: 10,
		Chain:          &evidence.ChainSummary{CampaignID: campaignID, Length: 1, Intact: true},
	}
}

func TestDecideConfirmedDeletion(t *testing.T) {
	f := newFixture(t, nil)
	f.seedCampaign(t, "camp-1", 10)
	ctx := context.Background()

	d, err := f.engine.Decide(ctx, "camp-1", confirmedDeletionContext("camp-1"), false)
	require.NoError(t, err)

	assert.Equal(t, ActionAutoComplete, d.Type)
	assert.Equal(t, 90, d.Confidence)
	assert.True(t, d.ShouldAutoExecute())
	assert.Equal(t, campaign.StatusCompleted, d.NextStatus)
	assert.True(t, d.EvidenceRecorded)
	assert.False(t, d.Reused)
	assert.NotEmpty(t, d.IdempotencyKey)

	// The decision landed in the evidence chain.
	chain, err := f.evidences.LoadChain(ctx, "camp-1")
	require.NoError(t, err)
	require.Len(t, chain, 1)
	assert.Equal(t, evidence.TypeDecisionAction, chain[0].Type)

	// And on the campaign record.
	camp, err := f.campaigns.GetCampaign(ctx, "camp-1")
	require.NoError(t, err)
	assert.Equal(t, 1, camp.DecisionCount)
	require.NotNil(t, camp.LastDecision)
	assert.Equal(t, d.IdempotencyKey, camp.LastDecision.IdempotencyKey)
}

func TestDecideIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	f.seedCampaign(t, "camp-1", 10)
	ctx := context.Background()
	dctx := confirmedDeletionContext("camp-1")

	first, err := f.engine.Decide(ctx, "camp-1", dctx, false)
	require.NoError(t, err)
	require.False(t, first.Reused)

	second, err := f.engine.Decide(ctx, "camp-1", dctx, false)
	require.NoError(t, err)

	assert.True(t, second.Reused)
	assert.Equal(t, first.Type, second.Type)
	assert.Equal(t, first.IdempotencyKey, second.IdempotencyKey)

	// No second evidence entry, no second campaign update.
	chain, err := f.evidences.LoadChain(ctx, "camp-1")
	require.NoError(t, err)
	assert.Len(t, chain, 1)

	camp, err := f.campaigns.GetCampaign(ctx, "camp-1")
	require.NoError(t, err)
	assert.Equal(t, 1, camp.DecisionCount)
}

func TestDecideForceReanalysisBypassesReuse(t *testing.T) {
	f := newFixture(t, nil)
	f.seedCampaign(t, "camp-1", 10)
	ctx := context.Background()
	dctx := confirmedDeletionContext("camp-1")

	_, err := f.engine.Decide(ctx, "camp-1", dctx, false)
	require.NoError(t, err)

	forced, err := f.engine.Decide(ctx, "camp-1", dctx, true)
	require.NoError(t, err)

	assert.False(t, forced.Reused)
	chain, err := f.evidences.LoadChain(ctx, "camp-1")
	require.NoError(t, err)
	assert.Len(t, chain, 2)
}

func TestIdempotencyKeyChangesWithContext(t *testing.T) {
	f := newFixture(t, nil)

	base := confirmedDeletionContext("camp-1")
	baseKey, err := f.engine.IdempotencyKey(base)
	require.NoError(t, err)

	sameKey, err := f.engine.IdempotencyKey(confirmedDeletionContext("camp-1"))
	require.NoError(t, err)
	assert.Equal(t, baseKey, sameKey)

	changed := confirmedDeletionContext("camp-1")
	changed.LastMessageID = "msg-2"
	changedKey, err := f.engine.IdempotencyKey(changed)
	require.NoError(t, err)
	assert.NotEqual(t, baseKey, changedKey)

	grown := confirmedDeletionContext("camp-1")
	grown.Chain.Length = 2
	grownKey, err := f.engine.IdempotencyKey(grown)
	require.NoError(t, err)
	assert.NotEqual(t, baseKey, grownKey)
}

func TestIdempotencyKeyBucketsLegitimacyScore(t *testing.T) {
	f := newFixture(t, nil)

	a := confirmedDeletionContext("camp-1")
	a.Classification.LegitimacyScore = 81
	keyA, err := f.engine.IdempotencyKey(a)
	require.NoError(t, err)

	b := confirmedDeletionContext("camp-1")
	b.Classification.LegitimacyScore = 84
	keyB, err := f.engine.IdempotencyKey(b)
	require.NoError(t, err)

	// 81 and 84 round to the same bucket of 80.
	assert.Equal(t, keyA, keyB)

	c := confirmedDeletionContext("camp-1")
	c.Classification.LegitimacyScore = 96
	keyC, err := f.engine.IdempotencyKey(c)
	require.NoError(t, err)
	assert.NotEqual(t, keyA, keyC)
}

func TestIdempotencyKeyRollsOverAtMidnight(t *testing.T) {
	f := newFixture(t, nil)
	dctx := confirmedDeletionContext("camp-1")

	before, err := f.engine.IdempotencyKey(dctx)
	require.NoError(t, err)

	f.clock.Advance(24 * time.Hour)
	after, err := f.engine.IdempotencyKey(dctx)
	require.NoError(t, err)

	assert.NotEqual(t, before, after)
}

func TestDayBucketDisabled(t *testing.T) {
	f := newFixture(t, nil)
	f.engine.dayBucket = false

	dctx := confirmedDeletionContext("camp-1")
	before, err := f.engine.IdempotencyKey(dctx)
	require.NoError(t, err)

	f.clock.Advance(48 * time.Hour)
	after, err := f.engine.IdempotencyKey(dctx)
	require.NoError(t, err)

	assert.Equal(t, before, after)
}

func TestRulePrecedence(t *testing.T) {
	f := newFixture(t, nil)

	// Three violations trump everything, including a rejection that would
	// otherwise match the invalid-basis rule further down.
	critical := &Context{
		CampaignID: "camp-1",
		Status:     campaign.StatusAnalyzingResponse,
		Classification: &classifier.Result{
			ResponseType: classifier.ResponseRejection,
			Violations: []classifier.Violation{
				classifier.ViolationDelay,
				classifier.ViolationInvalidLegalBasis,
				classifier.ViolationMissingInformation,
			},
			LegitimacyScore: 10,
		},
		RequestAgeDays: 40,
	}
	rule := f.engine.match(critical)
	assert.Equal(t, ActionEscalateImmediate, rule.Action)
	assert.Equal(t, 95, rule.Confidence)
	assert.True(t, rule.AutoExecute)

	// Two violations including invalid basis also count as critical.
	twoWithBasis := &Context{
		CampaignID: "camp-1",
		Classification: &classifier.Result{
			ResponseType: classifier.ResponseRejection,
			Violations: []classifier.Violation{
				classifier.ViolationDelay,
				classifier.ViolationInvalidLegalBasis,
			},
			LegitimacyScore: 10,
		},
	}
	assert.Equal(t, ActionEscalateImmediate, f.engine.match(twoWithBasis).Action)

	// A lone invalid-basis rejection goes to the regulator rule instead,
	// which requires human sign-off.
	rejection := &Context{
		CampaignID: "camp-1",
		Classification: &classifier.Result{
			ResponseType:    classifier.ResponseRejection,
			Violations:      []classifier.Violation{classifier.ViolationInvalidLegalBasis},
			LegitimacyScore: 10,
		},
	}
	rejRule := f.engine.match(rejection)
	assert.Equal(t, ActionEscalateRegulator, rejRule.Action)
	assert.False(t, rejRule.AutoExecute)
}

func TestSilenceRules(t *testing.T) {
	f := newFixture(t, nil)

	followUp := f.engine.match(&Context{CampaignID: "c", RequestAgeDays: 35})
	assert.Equal(t, ActionScheduleFollowUp, followUp.Action)
	assert.True(t, followUp.AutoExecute)

	escalate := f.engine.match(&Context{CampaignID: "c", RequestAgeDays: 65})
	assert.Equal(t, ActionEscalateRegulator, escalate.Action)
	assert.Equal(t, 90, escalate.Confidence)
	assert.True(t, escalate.AutoExecute)

	// Fresh campaign with no reply yet: nothing matches, manual review.
	fresh := f.engine.match(&Context{CampaignID: "c", RequestAgeDays: 5})
	assert.Equal(t, ActionManualReview, fresh.Action)
	assert.False(t, fresh.AutoExecute)
}

func TestLowLegitimacyGoesToManualReview(t *testing.T) {
	f := newFixture(t, nil)

	rule := f.engine.match(&Context{
		CampaignID: "c",
		Classification: &classifier.Result{
			ResponseType:    classifier.ResponseUnknown,
			Violations:      []classifier.Violation{},
			LegitimacyScore: 30,
		},
	})
	assert.Equal(t, ActionManualReview, rule.Action)
	assert.False(t, rule.AutoExecute)
}

func TestManualOverride(t *testing.T) {
	f := newFixture(t, nil)
	f.seedCampaign(t, "camp-1", 10)
	ctx := context.Background()

	d, err := f.engine.ManualOverride(ctx, "camp-1", ActionCloseResolved, "Оператор подтвердил по телефону", "operator-7")
	require.NoError(t, err)

	assert.Equal(t, ActionCloseResolved, d.Type)
	assert.Equal(t, 100, d.Confidence)
	assert.False(t, d.AutoExecute)
	assert.Empty(t, d.IdempotencyKey)
	assert.Equal(t, true, d.Metadata["manualOverride"])

	chain, err := f.evidences.LoadChain(ctx, "camp-1")
	require.NoError(t, err)
	require.Len(t, chain, 1)
	assert.Equal(t, evidence.TypeManual, chain[0].Type)

	// The operator stands in for the executor: the campaign settles
	// immediately and leaves the due queue.
	camp, err := f.campaigns.GetCampaign(ctx, "camp-1")
	require.NoError(t, err)
	assert.Equal(t, campaign.StatusCompleted, camp.Status)

	due, err := f.campaigns.ListDue(ctx, f.clock.now.Add(48*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, due)

	_, err = f.engine.ManualOverride(ctx, "camp-1", ActionCloseResolved, "", "operator-7")
	assert.Error(t, err, "override without reason must be rejected")
}

func TestManualOverrideLifecyclePaths(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	// Escalation from awaiting_response walks through taking_action.
	f.seedCampaign(t, "camp-1", 10)
	_, err := f.engine.ManualOverride(ctx, "camp-1", ActionEscalateRegulator, "Отказ получен вне системы", "operator-7")
	require.NoError(t, err)
	camp, err := f.campaigns.GetCampaign(ctx, "camp-1")
	require.NoError(t, err)
	assert.Equal(t, campaign.StatusEscalated, camp.Status)

	// A review action records the decision without moving the campaign.
	f.seedCampaign(t, "camp-2", 10)
	_, err = f.engine.ManualOverride(ctx, "camp-2", ActionManualReview, "Нужна проверка юристом", "operator-7")
	require.NoError(t, err)
	camp, err = f.campaigns.GetCampaign(ctx, "camp-2")
	require.NoError(t, err)
	assert.Equal(t, campaign.StatusAwaitingResponse, camp.Status)

	// No lifecycle path: a campaign whose request never went out cannot be
	// closed as resolved, and nothing lands on the chain.
	started := f.seedCampaign(t, "camp-3", 0)
	started.Status = campaign.StatusStarted
	require.NoError(t, f.campaigns.SaveCampaign(ctx, started))
	_, err = f.engine.ManualOverride(ctx, "camp-3", ActionCloseResolved, "Закрыть", "operator-7")
	assert.Error(t, err)
	chain, err := f.evidences.LoadChain(ctx, "camp-3")
	require.NoError(t, err)
	assert.Empty(t, chain)
}

// failingStore accepts nothing: every append errors.
type failingStore struct {
	evidence.Store
}

func (failingStore) AppendEntry(context.Context, *evidence.Entry) error {
	return errors.New("disk on fire")
}

func (failingStore) ChainTail(context.Context, string) (*evidence.Entry, error) {
	return nil, nil
}

func TestDecideSurvivesEvidenceWriteFailure(t *testing.T) {
	f := newFixture(t, failingStore{})
	f.seedCampaign(t, "camp-1", 10)
	ctx := context.Background()

	d, err := f.engine.Decide(ctx, "camp-1", confirmedDeletionContext("camp-1"), false)
	require.NoError(t, err, "a ledger failure must not discard the decision")

	assert.Equal(t, ActionAutoComplete, d.Type)
	assert.False(t, d.EvidenceRecorded)

	camp, err := f.campaigns.GetCampaign(ctx, "camp-1")
	require.NoError(t, err)
	assert.Equal(t, 1, camp.DecisionCount)
}
