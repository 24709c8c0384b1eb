package decision

import (
	"github.com/zabvenie/backend/internal/campaign"
	"github.com/zabvenie/backend/internal/classifier"
)

// Rule is one row of the decision table.
type Rule struct {
	Name            string
	When            func(*Context) bool
	Action          Type
	Confidence      int
	EscalationLevel int
	EstimatedDays   int
	AutoExecute     bool
	Reason          string
	NextStatus      campaign.Status
}

// defaultRules is the priority-ordered rule table (highest priority first).
// Evaluation is strictly top-to-bottom: the first predicate that holds wins
// and no further rules are considered.
func defaultRules() []Rule {
	return []Rule{
		{
			Name: "critical-violations",
			When: func(c *Context) bool {
				cls := c.Classification
				if cls == nil {
					return false
				}
				return len(cls.Violations) >= 3 ||
					(len(cls.Violations) >= 2 && cls.HasViolation(classifier.ViolationInvalidLegalBasis))
			},
			Action:          ActionEscalateImmediate,
			Confidence:      95,
			EscalationLevel: 3,
			EstimatedDays:   1,
			AutoExecute:     true,
			Reason:          "Критическая комбинация нарушений: немедленная эскалация в Роскомнадзор",
			NextStatus:      campaign.StatusEscalated,
		},
		{
			Name: "confirmed-deletion",
			When: func(c *Context) bool {
				cls := c.Classification
				return cls != nil &&
					cls.ResponseType == classifier.ResponsePositiveConfirmation &&
					cls.LegitimacyScore >= 80 &&
					len(cls.Violations) == 0
			},
			Action:        ActionAutoComplete,
			Confidence:    90,
			EstimatedDays: 0,
			AutoExecute:   true,
			Reason:        "Оператор подтвердил удаление данных, нарушений не выявлено",
			NextStatus:    campaign.StatusCompleted,
		},
		{
			Name: "explicit-confirmation-marker",
			When: func(c *Context) bool {
				return c.Classification != nil && c.Classification.Facts.ConfirmationMarker
			},
			Action:        ActionCloseResolved,
			Confidence:    85,
			EstimatedDays: 0,
			AutoExecute:   true,
			Reason:        "Получено явное подтверждение удаления от оператора",
			NextStatus:    campaign.StatusCompleted,
		},
		{
			Name: "rejection-invalid-basis",
			When: func(c *Context) bool {
				cls := c.Classification
				return cls != nil &&
					cls.ResponseType == classifier.ResponseRejection &&
					cls.HasViolation(classifier.ViolationInvalidLegalBasis)
			},
			Action:          ActionEscalateRegulator,
			Confidence:      80,
			EscalationLevel: 2,
			EstimatedDays:   30,
			AutoExecute:     false, // regulator complaints over refusals need human sign-off
			Reason:          "Отказ без законного основания: подготовить жалобу в Роскомнадзор",
			NextStatus:      campaign.StatusEscalated,
		},
		{
			Name: "clarification-requested",
			When: func(c *Context) bool {
				return c.Classification != nil &&
					c.Classification.ResponseType == classifier.ResponseClarificationRequest
			},
			Action:        ActionRequestClarification,
			Confidence:    75,
			EstimatedDays: 7,
			AutoExecute:   true,
			Reason:        "Оператор запросил уточнение: отправить дополнительные сведения",
			NextStatus:    campaign.StatusAwaitingResponse,
		},
		{
			Name: "partial-compliance",
			When: func(c *Context) bool {
				return c.Classification != nil &&
					c.Classification.ResponseType == classifier.ResponsePartialCompliance
			},
			Action:        ActionRequestClarification,
			Confidence:    70,
			EstimatedDays: 14,
			AutoExecute:   true,
			Reason:        "Данные удалены частично: запросить удаление оставшихся данных",
			NextStatus:    campaign.StatusAwaitingResponse,
		},
		{
			Name: "silence-follow-up",
			When: func(c *Context) bool {
				return c.Classification == nil &&
					c.RequestAgeDays >= 30 && c.RequestAgeDays < 60
			},
			Action:        ActionScheduleFollowUp,
			Confidence:    85,
			EstimatedDays: 14,
			AutoExecute:   true,
			Reason:        "Нет ответа более 30 дней: направить повторный запрос",
			NextStatus:    campaign.StatusAwaitingResponse,
		},
		{
			Name: "silence-escalate",
			When: func(c *Context) bool {
				return c.Classification == nil && c.RequestAgeDays >= 60
			},
			Action:          ActionEscalateRegulator,
			Confidence:      90,
			EscalationLevel: 2,
			EstimatedDays:   30,
			AutoExecute:     true,
			Reason:          "Нет ответа более 60 дней: эскалация в Роскомнадзор",
			NextStatus:      campaign.StatusEscalated,
		},
		{
			Name: "low-legitimacy",
			When: func(c *Context) bool {
				return c.Classification != nil &&
					c.Classification.LegitimacyScore < LowScoreThreshold
			},
			Action:        ActionManualReview,
			Confidence:    60,
			EstimatedDays: 3,
			AutoExecute:   false,
			Reason:        "Низкая оценка правомерности ответа: требуется ручная проверка",
			NextStatus:    campaign.StatusTakingAction,
		},
		{
			Name: "unknown-response",
			When: func(c *Context) bool {
				return c.Classification != nil &&
					c.Classification.ResponseType == classifier.ResponseUnknown
			},
			Action:        ActionManualReview,
			Confidence:    55,
			EstimatedDays: 3,
			AutoExecute:   false,
			Reason:        "Ответ не распознан: требуется ручная проверка",
			NextStatus:    campaign.StatusTakingAction,
		},
	}
}

// fallbackRule fires when nothing in the table matched.
var fallbackRule = Rule{
	Name:          "fallback-manual-review",
	Action:        ActionManualReview,
	Confidence:    50,
	EstimatedDays: 3,
	AutoExecute:   false,
	Reason:        "Ни одно правило не сработало: передано на ручную проверку",
	NextStatus:    campaign.StatusTakingAction,
}
