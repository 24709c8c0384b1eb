// Package legal is the read-only reference table of 152-FZ provisions used
// to enrich decisions and escalation documents with statute citations.
package legal

import (
	"github.com/zabvenie/backend/internal/classifier"
)

// Article is one citable provision of 152-FZ.
type Article struct {
	Code    string `json:"code"`    // e.g. "152-FZ art. 21(3)"
	Title   string `json:"title"`
	Summary string `json:"summary"`
}

// Deadlines are the statutory timing constants the rule table relies on.
type Deadlines struct {
	// ResponseDays is the operator's reply window after a deletion request.
	ResponseDays int `json:"response_days"`

	// EscalationDays is the silence threshold after which the case goes to
	// Roskomnadzor.
	EscalationDays int `json:"escalation_days"`
}

var articlesByViolation = map[classifier.Violation][]Article{
	classifier.ViolationDelay: {
		{Code: "152-FZ art. 20(4)", Title: "Срок ответа оператора",
			Summary: "Оператор обязан дать ответ в течение 30 дней с момента обращения субъекта."},
		{Code: "152-FZ art. 21(3)", Title: "Срок уничтожения данных",
			Summary: "Неправомерно обрабатываемые данные уничтожаются в срок не более 30 дней."},
	},
	classifier.ViolationInvalidLegalBasis: {
		{Code: "152-FZ art. 9(2)", Title: "Отзыв согласия",
			Summary: "Субъект вправе отозвать согласие; продолжение обработки требует иного законного основания."},
		{Code: "152-FZ art. 6(1)", Title: "Условия обработки",
			Summary: "Обработка допускается только на перечисленных в законе основаниях."},
	},
	classifier.ViolationExcessiveRetention: {
		{Code: "152-FZ art. 5(7)", Title: "Ограничение срока хранения",
			Summary: "Хранение не дольше, чем требуют цели обработки."},
		{Code: "152-FZ art. 21(4)", Title: "Достижение цели обработки",
			Summary: "По достижении цели обработки данные подлежат уничтожению."},
	},
	classifier.ViolationMissingInformation: {
		{Code: "152-FZ art. 14(7)", Title: "Право субъекта на информацию",
			Summary: "Субъект вправе получить сведения об обработке: цели, сроки, правовые основания."},
		{Code: "152-FZ art. 20(1)", Title: "Обязанность предоставить сведения",
			Summary: "Оператор обязан сообщить запрошенные сведения об обработке данных."},
	},
}

// Lookup serves statute citations. Static in-process table: the reference
// data changes only with the law itself.
type Lookup struct{}

// NewLookup returns the 152-FZ lookup.
func NewLookup() *Lookup {
	return &Lookup{}
}

// Articles returns citations applicable to a violation type.
func (l *Lookup) Articles(violation classifier.Violation) []Article {
	arts := articlesByViolation[violation]
	out := make([]Article, len(arts))
	copy(out, arts)
	return out
}

// Deadlines returns the statutory deadlines.
func (l *Lookup) Deadlines() Deadlines {
	return Deadlines{
		ResponseDays:   30,
		EscalationDays: 60,
	}
}
