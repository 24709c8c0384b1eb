package classifier

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ============================================================================
// PATTERN GROUPS
// ============================================================================

// patternGroup ties a response category to its matching phrases. Groups are
// evaluated in order; the first group with a match wins.
type patternGroup struct {
	category ResponseType
	phrases  []string
}

var categoryGroups = []patternGroup{
	{ResponsePositiveConfirmation, []string{
		"удалено", "удалены", "удалили", "данные удалены", "выполнено",
		"исполнено", "прекратили обработку", "обработка прекращена",
		"deleted", "erased", "removed", "has been deleted", "completed your request",
	}},
	{ResponseRejection, []string{
		"отказ", "отказано", "отклонено", "не можем удалить", "не подлежит удалению",
		"вынуждены отказать", "refuse", "rejected", "denied", "unable to delete",
		"cannot delete", "will not delete",
	}},
	{ResponseClarificationRequest, []string{
		"уточните", "подтвердите личность", "предоставьте", "необходимо подтвердить",
		"дополнительные сведения", "clarify", "verify your identity",
		"additional information", "please provide", "confirm your identity",
	}},
	{ResponsePartialCompliance, []string{
		"частично", "часть данных", "не все данные", "за исключением",
		"partially", "some of your data", "except for", "partial",
	}},
	{ResponseAutoGenerated, []string{
		"автоматический ответ", "не отвечайте на это письмо", "автоответ",
		"auto-reply", "automatic reply", "do not reply", "noreply", "out of office",
	}},
}

// Explicit operator confirmation markers: stronger than a bare positive
// category, these phrases close a campaign as resolved.
var confirmationMarkers = []string{
	"подтверждаем удаление", "подтверждаем, что данные удалены",
	"we confirm the deletion", "confirm that your data has been deleted",
}

var (
	legalBasisPattern = regexp.MustCompile(`(?i)(?:ст\.?\s*\d+[\s.,]*(?:152|152-фз|фз-152)|152-фз|фз-152|федеральн\w+\s+закон\w*|article\s+\d+|gdpr|налоговый кодекс)`)

	retentionPattern = regexp.MustCompile(`(?i)(?:хранени\w+|храним|хранятся|retain\w*|retention|stored?)\D{0,40}?(\d{1,2})\s*(?:лет|год[а-я]*|years?)`)

	purposePattern = regexp.MustCompile(`(?i)(?:цел[ьию]\w*\s+обработки|в\s+целях|for\s+the\s+purpose|purposes?\s+of)`)
)

// ============================================================================
// RULE CLASSIFIER
// ============================================================================

// RuleClassifier is the default, local classifier. Pure and deterministic:
// same message in, same result out, no side effects.
type RuleClassifier struct{}

// NewRuleClassifier creates the local rule-based classifier.
func NewRuleClassifier() *RuleClassifier {
	return &RuleClassifier{}
}

// Classify turns an operator reply into structured facts. Malformed or empty
// input never fails: it degrades to ResponseUnknown with all facts absent.
func (c *RuleClassifier) Classify(_ context.Context, msg Message) (*Result, error) {
	sanitized, redactions := Sanitize(msg.Body)
	lowered := strings.ToLower(sanitized)

	result := &Result{
		MessageID:     msg.ID,
		ResponseType:  ResponseUnknown,
		Violations:    []Violation{},
		SanitizedText: sanitized,
		Redactions:    redactions,
	}

	if strings.TrimSpace(msg.Body) == "" {
		result.Facts.Language = defaultLanguage
		result.LegitimacyScore = legitimacyScore(result)
		return result, nil
	}

	// Category: first matching ordered group wins.
	for _, group := range categoryGroups {
		if matchesAny(lowered, group.phrases) {
			result.ResponseType = group.category
			break
		}
	}

	result.Facts = extractFacts(sanitized, lowered, redactions)

	// An explicit confirmation marker outranks whatever the ordered groups
	// matched: the operator literally confirmed the deletion.
	if result.Facts.ConfirmationMarker {
		result.ResponseType = ResponsePositiveConfirmation
	}

	result.Violations = detectViolations(msg, result)
	result.LegitimacyScore = legitimacyScore(result)

	return result, nil
}

func matchesAny(lowered string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(lowered, p) {
			return true
		}
	}
	return false
}

func extractFacts(sanitized, lowered string, redactions RedactionStats) ExtractedFacts {
	facts := ExtractedFacts{
		Language:       DetectLanguage(sanitized),
		HasContactInfo: redactions.Emails+redactions.Phones > 0,
		HasPurpose:     purposePattern.MatchString(sanitized),
	}

	for _, citation := range legalBasisPattern.FindAllString(sanitized, -1) {
		facts.LegalBasisCitations = append(facts.LegalBasisCitations, strings.TrimSpace(citation))
	}

	if m := retentionPattern.FindStringSubmatch(sanitized); m != nil {
		if years, err := strconv.Atoi(m[1]); err == nil {
			facts.RetentionYears = years
			facts.HasRetentionInfo = true
		}
	}

	facts.ConfirmationMarker = matchesAny(lowered, confirmationMarkers)
	return facts
}

// detectViolations runs independently of the category: several violations
// may co-exist on one reply.
func detectViolations(msg Message, result *Result) []Violation {
	violations := []Violation{}
	facts := result.Facts

	// Reply (or silence) past the statutory 30-day window.
	if !msg.RequestSentAt.IsZero() {
		var age time.Duration
		if !msg.ReceivedAt.IsZero() {
			age = msg.ReceivedAt.Sub(msg.RequestSentAt)
		}
		if age > ResponseDeadlineDays*24*time.Hour {
			violations = append(violations, ViolationDelay)
		}
	}

	if result.ResponseType == ResponseRejection && len(facts.LegalBasisCitations) == 0 {
		violations = append(violations, ViolationInvalidLegalBasis)
	}

	if facts.HasRetentionInfo && facts.RetentionYears > MaxRetentionYears {
		violations = append(violations, ViolationExcessiveRetention)
	}

	// Substantive replies must carry legal basis, retention info, contact
	// and purpose; confirmations and auto-replies are exempt.
	if result.ResponseType != ResponsePositiveConfirmation && result.ResponseType != ResponseAutoGenerated {
		complete := len(facts.LegalBasisCitations) > 0 && facts.HasRetentionInfo &&
			facts.HasContactInfo && facts.HasPurpose
		if !complete {
			violations = append(violations, ViolationMissingInformation)
		}
	}

	return violations
}

// legitimacyScore applies the fixed scoring formula and clamps to [0,100].
func legitimacyScore(result *Result) int {
	score := 50

	if result.ResponseType == ResponsePositiveConfirmation {
		score += 30
	}
	if len(result.Facts.LegalBasisCitations) > 0 {
		score += 20
	}
	if result.ResponseType == ResponseRejection && len(result.Facts.LegalBasisCitations) == 0 {
		score -= 40
	}
	score -= 10 * len(result.Violations)
	if result.ResponseType == ResponseUnknown {
		score -= 20
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}
