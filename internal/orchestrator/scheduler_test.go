package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zabvenie/backend/internal/campaign"
	"github.com/zabvenie/backend/internal/classifier"
	"github.com/zabvenie/backend/internal/decision"
	"github.com/zabvenie/backend/internal/evidence"
	"github.com/zabvenie/backend/internal/hashing"
	"github.com/zabvenie/backend/internal/legal"
	"github.com/zabvenie/backend/internal/metrics"
	"github.com/zabvenie/backend/internal/notify"
)

type captureEmitter struct {
	mu     sync.Mutex
	events []notify.EventType
}

var _ notify.Emitter = (*captureEmitter)(nil)

func (e *captureEmitter) Emit(eventType notify.EventType, _ string, _ map[string]interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, eventType)
}

func (e *captureEmitter) has(eventType notify.EventType) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, evt := range e.events {
		if evt == eventType {
			return true
		}
	}
	return false
}

type sentMail struct {
	To      string
	Subject string
	Body    string
}

type captureMailer struct {
	sent []sentMail
}

func (m *captureMailer) Send(_ context.Context, to, subject, body string) error {
	m.sent = append(m.sent, sentMail{To: to, Subject: subject, Body: body})
	return nil
}

type testRig struct {
	scheduler *Scheduler
	campaigns *campaign.InMemoryStore
	evidences *evidence.InMemoryStore
	ledger    *evidence.Ledger
	emitter   *captureEmitter
	mailer    *captureMailer
	now       time.Time
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()

	keys, err := hashing.NewKeyRing([]byte("orchestrator-test-master-secret-01234"))
	require.NoError(t, err)
	provider := hashing.HMACSHA256{}

	campaigns := campaign.NewInMemoryStore()
	evidences := evidence.NewInMemoryStore()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	ledger := evidence.NewLedger(evidences, provider, keys)
	ledger.SetClock(clock)

	lookup := legal.NewLookup()
	engine := decision.NewEngine(campaigns, ledger, provider, keys, lookup, decision.Options{
		Clock: clock,
	})

	emitter := &captureEmitter{}
	mailer := &captureMailer{}
	executor := NewDefaultExecutor(mailer, lookup)

	scheduler := NewScheduler(campaigns, ledger, classifier.NewRuleClassifier(),
		engine, executor, emitter, nil, time.Minute)
	scheduler.SetClock(clock)
	ledger.SetClock(clock)

	return &testRig{
		scheduler: scheduler,
		campaigns: campaigns,
		evidences: evidences,
		ledger:    ledger,
		emitter:   emitter,
		mailer:    mailer,
		now:       now,
	}
}

func (r *testRig) seed(t *testing.T, camp *campaign.Campaign) {
	t.Helper()
	if camp.NextActionAt.IsZero() {
		camp.NextActionAt = r.now.Add(-time.Minute)
	}
	require.NoError(t, r.campaigns.SaveCampaign(context.Background(), camp))
}

func TestSweepCompletesConfirmedDeletion(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	inboundAt := rig.now.Add(-time.Hour)
	rig.seed(t, &campaign.Campaign{
		ID:              "camp-1",
		OperatorName:    "ООО Оператор",
		OperatorEmail:   "dpo@operator.example",
		Status:          campaign.StatusAwaitingResponse,
		RequestSentAt:   rig.now.Add(-10 * 24 * time.Hour),
		LastInboundID:   "msg-1",
		LastInboundAt:   &inboundAt,
		LastInboundBody: "Ваши персональные данные удалены в соответствии со ст. 21 152-ФЗ.",
	})

	rig.scheduler.Sweep(ctx)

	camp, err := rig.campaigns.GetCampaign(ctx, "camp-1")
	require.NoError(t, err)
	assert.Equal(t, campaign.StatusCompleted, camp.Status)
	assert.Equal(t, 1, camp.DecisionCount)
	assert.Empty(t, camp.LastInboundBody, "processed reply must be cleared")
	require.NotNil(t, camp.LastDecision)
	assert.Equal(t, string(decision.ActionAutoComplete), camp.LastDecision.Type)

	// Classification and the decision both landed on the chain, in order.
	chain, err := rig.evidences.LoadChain(ctx, "camp-1")
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, evidence.TypeAutoAnalysis, chain[0].Type)
	assert.Equal(t, evidence.TypeDecisionAction, chain[1].Type)

	results, err := rig.ledger.VerifyChain(ctx, "camp-1")
	require.NoError(t, err)
	for _, r := range results {
		assert.True(t, r.Valid)
	}

	assert.True(t, rig.emitter.has(notify.EventDecisionCreated))
	assert.True(t, rig.emitter.has(notify.EventDecisionExecuted))
	assert.True(t, rig.emitter.has(notify.EventCampaignCompleted))
}

func TestSweepDispatchesRequestForNewCampaign(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	rig.seed(t, &campaign.Campaign{
		ID:            "camp-1",
		OperatorName:  "ООО Оператор",
		OperatorEmail: "dpo@operator.example",
		Status:        campaign.StatusStarted,
	})

	rig.scheduler.Sweep(ctx)

	camp, err := rig.campaigns.GetCampaign(ctx, "camp-1")
	require.NoError(t, err)
	assert.Equal(t, campaign.StatusAwaitingResponse, camp.Status)
	assert.Equal(t, rig.now, camp.RequestSentAt)
	assert.Equal(t, 0, camp.DecisionCount, "nothing to decide on a fresh campaign")
	assert.Equal(t, rig.now.Add(24*time.Hour), camp.NextActionAt)

	require.Len(t, rig.mailer.sent, 1)
	assert.Equal(t, "dpo@operator.example", rig.mailer.sent[0].To)
	assert.Contains(t, rig.mailer.sent[0].Subject, "Запрос об удалении")
	assert.Contains(t, rig.mailer.sent[0].Body, "30")

	chain, err := rig.evidences.LoadChain(ctx, "camp-1")
	require.NoError(t, err)
	require.Len(t, chain, 1)
	assert.Equal(t, evidence.TypeRequestSent, chain[0].Type)
}

func TestSweepCompletesCampaignFromCreation(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	// A campaign still in its creation status with a confirmed deletion
	// waiting must end up terminal after one sweep, not re-decided forever.
	inboundAt := rig.now.Add(-time.Hour)
	rig.seed(t, &campaign.Campaign{
		ID:              "camp-1",
		OperatorName:    "ООО Оператор",
		OperatorEmail:   "dpo@operator.example",
		Status:          campaign.StatusStarted,
		RequestSentAt:   rig.now.Add(-10 * 24 * time.Hour),
		LastInboundID:   "msg-1",
		LastInboundAt:   &inboundAt,
		LastInboundBody: "Подтверждаем удаление ваших персональных данных.",
	})

	rig.scheduler.Sweep(ctx)

	camp, err := rig.campaigns.GetCampaign(ctx, "camp-1")
	require.NoError(t, err)
	assert.Equal(t, campaign.StatusCompleted, camp.Status)

	chain, err := rig.evidences.LoadChain(ctx, "camp-1")
	require.NoError(t, err)
	require.Len(t, chain, 3)
	assert.Equal(t, evidence.TypeRequestSent, chain[0].Type)
	assert.Equal(t, evidence.TypeAutoAnalysis, chain[1].Type)
	assert.Equal(t, evidence.TypeDecisionAction, chain[2].Type)

	// Terminal campaigns leave the due queue for good.
	due, err := rig.campaigns.ListDue(ctx, rig.now.Add(48*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestSweepEscalatesLongSilence(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	rig.seed(t, &campaign.Campaign{
		ID:            "camp-1",
		OperatorName:  "ООО Молчание",
		OperatorEmail: "dpo@silent.example",
		Status:        campaign.StatusAwaitingResponse,
		RequestSentAt: rig.now.Add(-65 * 24 * time.Hour),
	})

	rig.scheduler.Sweep(ctx)

	camp, err := rig.campaigns.GetCampaign(ctx, "camp-1")
	require.NoError(t, err)
	assert.Equal(t, campaign.StatusEscalated, camp.Status)
	assert.Equal(t, string(decision.ActionEscalateRegulator), camp.LastDecision.Type)

	assert.True(t, rig.emitter.has(notify.EventCampaignEscalated))
}

func TestSweepSendsFollowUpEmail(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	rig.seed(t, &campaign.Campaign{
		ID:            "camp-1",
		OperatorName:  "ООО Оператор",
		OperatorEmail: "dpo@operator.example",
		Status:        campaign.StatusAwaitingResponse,
		RequestSentAt: rig.now.Add(-35 * 24 * time.Hour),
	})

	rig.scheduler.Sweep(ctx)

	require.Len(t, rig.mailer.sent, 1)
	mail := rig.mailer.sent[0]
	assert.Equal(t, "dpo@operator.example", mail.To)
	assert.Contains(t, mail.Subject, "Повторный запрос")
	assert.Contains(t, mail.Body, "30")

	camp, err := rig.campaigns.GetCampaign(ctx, "camp-1")
	require.NoError(t, err)
	assert.Equal(t, campaign.StatusAwaitingResponse, camp.Status)
	// Follow-up gives the operator 14 more days before the next look.
	assert.Equal(t, rig.now.Add(14*24*time.Hour), camp.NextActionAt)

	assert.True(t, rig.emitter.has(notify.EventFollowUpScheduled))
}

func TestSweepRoutesGarbledReplyToManualReview(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	inboundAt := rig.now.Add(-time.Hour)
	rig.seed(t, &campaign.Campaign{
		ID:              "camp-1",
		OperatorName:    "ООО Оператор",
		OperatorEmail:   "dpo@operator.example",
		Status:          campaign.StatusAwaitingResponse,
		RequestSentAt:   rig.now.Add(-10 * 24 * time.Hour),
		LastInboundID:   "msg-1",
		LastInboundAt:   &inboundAt,
		LastInboundBody: "qwerty asdf 42",
	})

	rig.scheduler.Sweep(ctx)

	camp, err := rig.campaigns.GetCampaign(ctx, "camp-1")
	require.NoError(t, err)
	// The decision is recorded but nothing executes without a human.
	assert.Equal(t, campaign.StatusAnalyzingResponse, camp.Status)
	assert.Equal(t, string(decision.ActionManualReview), camp.LastDecision.Type)
	assert.False(t, camp.LastDecision.AutoExecute)

	assert.True(t, rig.emitter.has(notify.EventManualReviewNeeded))
	assert.False(t, rig.emitter.has(notify.EventDecisionExecuted))
}

func TestSweepFlagsTamperedChain(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	// Registers on the default Prometheus registry: created once per test
	// binary, in this test only.
	m := metrics.New()
	rig.scheduler.metrics = m

	entry, err := rig.ledger.Append(ctx, "camp-1", evidence.TypeEmailResponse, map[string]interface{}{"n": 1})
	require.NoError(t, err)
	require.True(t, rig.evidences.TamperEntry(entry.ID, func(e *evidence.Entry) {
		e.Payload["n"] = 2
	}))

	rig.seed(t, &campaign.Campaign{
		ID:            "camp-1",
		OperatorName:  "ООО Оператор",
		OperatorEmail: "dpo@operator.example",
		Status:        campaign.StatusAwaitingResponse,
		RequestSentAt: rig.now.Add(-65 * 24 * time.Hour),
	})

	rig.scheduler.Sweep(ctx)

	assert.True(t, rig.emitter.has(notify.EventChainInvalid))
	failures := testutil.ToFloat64(m.ChainVerifyFailures.WithLabelValues(evidence.CheckContentHash))
	assert.GreaterOrEqual(t, failures, 1.0, "tampered content must be counted")
}

func TestSweepSkipsCampaignsNotDue(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	rig.seed(t, &campaign.Campaign{
		ID:            "camp-1",
		OperatorName:  "ООО Оператор",
		OperatorEmail: "dpo@operator.example",
		Status:        campaign.StatusAwaitingResponse,
		RequestSentAt: rig.now.Add(-35 * 24 * time.Hour),
		NextActionAt:  rig.now.Add(time.Hour),
	})

	rig.scheduler.Sweep(ctx)

	camp, err := rig.campaigns.GetCampaign(ctx, "camp-1")
	require.NoError(t, err)
	assert.Equal(t, 0, camp.DecisionCount)
	assert.Empty(t, rig.emitter.events)
}

func TestProcessByIDRejectsTerminalCampaign(t *testing.T) {
	rig := newTestRig(t)

	rig.seed(t, &campaign.Campaign{
		ID:            "camp-1",
		OperatorName:  "ООО Оператор",
		OperatorEmail: "dpo@operator.example",
		Status:        campaign.StatusCompleted,
		RequestSentAt: rig.now.Add(-10 * 24 * time.Hour),
	})

	_, err := rig.scheduler.ProcessByID(context.Background(), "camp-1", false)
	assert.Error(t, err)
}

func TestSchedulerStartStop(t *testing.T) {
	rig := newTestRig(t)

	rig.scheduler.Start()
	rig.scheduler.Start() // idempotent
	rig.scheduler.Stop()
	rig.scheduler.Stop() // idempotent
}
