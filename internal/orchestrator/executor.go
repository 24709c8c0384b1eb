// Package orchestrator runs the periodic campaign sweep: it pulls due
// campaigns, classifies fresh operator replies, asks the decision engine for
// the next legal action and executes it.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/zabvenie/backend/internal/campaign"
	"github.com/zabvenie/backend/internal/decision"
	"github.com/zabvenie/backend/internal/legal"
)

// Mailer is the outbound email transport, implemented by a collaborator
// outside the decision core.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// NoopMailer logs instead of sending. Dev/test default.
type NoopMailer struct {
	Logger *log.Logger
}

// Send logs the would-be delivery.
func (m *NoopMailer) Send(_ context.Context, to, subject, _ string) error {
	if m.Logger != nil {
		m.Logger.Printf("(noop) would send %q to %s", subject, to)
	}
	return nil
}

// ActionExecutor turns a decision into an outward action (email, escalation
// filing, closure). Execute is only invoked when the auto-execution gate
// passes; manual decisions stay recorded until a human runs them.
// SendRequest dispatches the initial deletion request that opens a campaign.
type ActionExecutor interface {
	SendRequest(ctx context.Context, camp *campaign.Campaign) error
	Execute(ctx context.Context, camp *campaign.Campaign, d *decision.Decision) error
}

// DefaultExecutor sends follow-up and clarification emails through the
// Mailer and prepares regulator escalation documents enriched with 152-FZ
// citations.
type DefaultExecutor struct {
	mailer Mailer
	legal  *legal.Lookup
	logger *log.Logger
}

// NewDefaultExecutor creates the standard executor.
func NewDefaultExecutor(mailer Mailer, lookup *legal.Lookup) *DefaultExecutor {
	return &DefaultExecutor{
		mailer: mailer,
		legal:  lookup,
		logger: log.New(log.Writer(), "[Executor] ", log.LstdFlags),
	}
}

// SendRequest emails the operator the deletion request itself.
func (e *DefaultExecutor) SendRequest(ctx context.Context, camp *campaign.Campaign) error {
	return e.mailer.Send(ctx, camp.OperatorEmail,
		"Запрос об удалении персональных данных",
		e.requestBody(camp))
}

// Execute performs the decision's action.
func (e *DefaultExecutor) Execute(ctx context.Context, camp *campaign.Campaign, d *decision.Decision) error {
	switch d.Type {
	case decision.ActionScheduleFollowUp:
		return e.mailer.Send(ctx, camp.OperatorEmail,
			"Повторный запрос об удалении персональных данных",
			e.followUpBody(camp))

	case decision.ActionRequestClarification:
		return e.mailer.Send(ctx, camp.OperatorEmail,
			"Уточнение по запросу об удалении персональных данных",
			e.clarificationBody(camp, d))

	case decision.ActionEscalateRegulator, decision.ActionEscalateImmediate:
		// Complaint filing goes through an external channel; here we
		// prepare and log the citation set that accompanies it.
		e.logger.Printf("Escalating campaign %s to regulator: %s (articles: %s)",
			camp.ID, d.Reason, e.citations(d))
		return nil

	case decision.ActionAutoComplete, decision.ActionCloseResolved:
		e.logger.Printf("Closing campaign %s: %s", camp.ID, d.Reason)
		return nil

	case decision.ActionManualReview:
		// Nothing to execute: the decision waits for a human.
		return nil

	default:
		return fmt.Errorf("no executor for decision type %s", d.Type)
	}
}

func (e *DefaultExecutor) requestBody(camp *campaign.Campaign) string {
	deadlines := e.legal.Deadlines()
	return fmt.Sprintf(
		"Уважаемый оператор %s!\n\n"+
			"На основании ст. 14 и ч. 3 ст. 21 152-ФЗ прошу прекратить обработку "+
			"и удалить все персональные данные субъекта.\n"+
			"Прошу подтвердить удаление либо предоставить мотивированный отказ "+
			"в течение %d дней (ч. 4 ст. 20 152-ФЗ).",
		camp.OperatorName, deadlines.ResponseDays)
}

func (e *DefaultExecutor) followUpBody(camp *campaign.Campaign) string {
	deadlines := e.legal.Deadlines()
	return fmt.Sprintf(
		"Уважаемый оператор %s!\n\n"+
			"Напоминаем о запросе на удаление персональных данных, направленном %s.\n"+
			"Срок ответа, установленный ч. 4 ст. 20 152-ФЗ (%d дней), истёк.\n"+
			"Просим подтвердить удаление данных либо предоставить мотивированный отказ.\n"+
			"При отсутствии ответа в течение %d дней с момента первичного запроса "+
			"жалоба будет направлена в Роскомнадзор.",
		camp.OperatorName, camp.RequestSentAt.Format("02.01.2006"),
		deadlines.ResponseDays, deadlines.EscalationDays)
}

func (e *DefaultExecutor) clarificationBody(camp *campaign.Campaign, d *decision.Decision) string {
	return fmt.Sprintf(
		"Уважаемый оператор %s!\n\n"+
			"%s.\n"+
			"Просим завершить удаление всех персональных данных субъекта и подтвердить исполнение.",
		camp.OperatorName, d.Reason)
}

// citations reads the statute list off the decision metadata. Metadata that
// went through a JSON round trip (stored snapshot, cache) carries
// []interface{} instead of []string; both shapes must resolve.
func (e *DefaultExecutor) citations(d *decision.Decision) string {
	var arts []string
	switch v := d.Metadata["legal_articles"].(type) {
	case []string:
		arts = v
	case []interface{}:
		for _, a := range v {
			if s, ok := a.(string); ok {
				arts = append(arts, s)
			}
		}
	}
	if len(arts) == 0 {
		return "152-FZ art. 21(3)"
	}
	return strings.Join(arts, ", ")
}
