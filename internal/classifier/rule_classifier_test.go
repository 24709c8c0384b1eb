package classifier

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func classify(t *testing.T, body string, sentAt, receivedAt time.Time) *Result {
	t.Helper()
	c := NewRuleClassifier()
	result, err := c.Classify(context.Background(), Message{
		ID:            "msg-1",
		Body:          body,
		ReceivedAt:    receivedAt,
		RequestSentAt: sentAt,
	})
	require.NoError(t, err)
	return result
}

func TestClassifyPositiveConfirmationWithBasis(t *testing.T) {
	sent := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	received := sent.Add(10 * 24 * time.Hour)

	body := "Здравствуйте! Ваши персональные данные удалены в соответствии со ст. 21 152-ФЗ."
	result := classify(t, body, sent, received)

	assert.Equal(t, ResponsePositiveConfirmation, result.ResponseType)
	assert.NotEmpty(t, result.Facts.LegalBasisCitations)
	assert.Empty(t, result.Violations)
	// 50 base + 30 positive + 20 legal basis = 100
	assert.Equal(t, 100, result.LegitimacyScore)
}

func TestClassifyRejectionWithoutBasis(t *testing.T) {
	sent := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	received := sent.Add(5 * 24 * time.Hour)

	result := classify(t, "Вам отказано в удалении данных.", sent, received)

	assert.Equal(t, ResponseRejection, result.ResponseType)
	assert.True(t, result.HasViolation(ViolationInvalidLegalBasis))
	assert.True(t, result.HasViolation(ViolationMissingInformation))
	// 50 - 40 rejection-without-basis - 20 violations = 0, clamped at 0
	assert.LessOrEqual(t, result.LegitimacyScore, 10)
}

func TestClassifyLateReplyIsDelayViolation(t *testing.T) {
	sent := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	received := sent.Add(45 * 24 * time.Hour) // past the 30-day window

	result := classify(t, "Уточните, пожалуйста, ваш запрос.", sent, received)

	assert.Equal(t, ResponseClarificationRequest, result.ResponseType)
	assert.True(t, result.HasViolation(ViolationDelay))
}

func TestClassifyExcessiveRetention(t *testing.T) {
	sent := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	received := sent.Add(2 * 24 * time.Hour)

	body := "Отказано. Данные хранятся 10 лет согласно внутренней политике."
	result := classify(t, body, sent, received)

	assert.True(t, result.Facts.HasRetentionInfo)
	assert.Equal(t, 10, result.Facts.RetentionYears)
	assert.True(t, result.HasViolation(ViolationExcessiveRetention))
}

func TestClassifyConfirmationMarkerExemptFromMissingInfo(t *testing.T) {
	sent := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	received := sent.Add(3 * 24 * time.Hour)

	result := classify(t, "Подтверждаем удаление ваших данных.", sent, received)

	assert.Equal(t, ResponsePositiveConfirmation, result.ResponseType)
	assert.True(t, result.Facts.ConfirmationMarker)
	assert.False(t, result.HasViolation(ViolationMissingInformation))
}

func TestClassifyAutoGeneratedReply(t *testing.T) {
	sent := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	received := sent.Add(time.Hour)

	result := classify(t, "Это автоматический ответ, не отвечайте на это письмо.", sent, received)

	assert.Equal(t, ResponseAutoGenerated, result.ResponseType)
	assert.False(t, result.HasViolation(ViolationMissingInformation))
}

func TestClassifyEmptyBody(t *testing.T) {
	result := classify(t, "", time.Time{}, time.Time{})

	assert.Equal(t, ResponseUnknown, result.ResponseType)
	assert.Empty(t, result.Violations)
	assert.Equal(t, "ru", result.Facts.Language)
	// 50 base - 20 unknown = 30
	assert.Equal(t, 30, result.LegitimacyScore)
}

func TestClassifyEnglishReply(t *testing.T) {
	sent := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	received := sent.Add(24 * time.Hour)

	result := classify(t, "Dear user, your personal data has been deleted as requested.", sent, received)

	assert.Equal(t, ResponsePositiveConfirmation, result.ResponseType)
	assert.Equal(t, "en", result.Facts.Language)
}

func TestClassifyIsDeterministic(t *testing.T) {
	sent := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	received := sent.Add(24 * time.Hour)
	body := "Отказ. Данные хранятся 10 лет. Обработка в целях исполнения договора."

	first := classify(t, body, sent, received)
	for i := 0; i < 5; i++ {
		again := classify(t, body, sent, received)
		assert.Equal(t, first, again)
	}
}

func TestSanitizeRedactsPersonalData(t *testing.T) {
	text := "Иванов Иван писал с ivan.ivanov@example.com, телефон +7 (999) 123-45-67, СНИЛС 123-456-789 00."
	sanitized, stats := Sanitize(text)

	assert.NotContains(t, sanitized, "ivan.ivanov@example.com")
	assert.NotContains(t, sanitized, "123-45-67")
	assert.NotContains(t, sanitized, "Иванов Иван")
	assert.Contains(t, sanitized, "[EMAIL]")
	assert.Contains(t, sanitized, "[PHONE]")
	assert.Contains(t, sanitized, "[NAME]")
	assert.Contains(t, sanitized, "[DOC]")

	assert.Equal(t, 1, stats.Emails)
	assert.Equal(t, 1, stats.Phones)
	assert.GreaterOrEqual(t, stats.Names, 1)
	assert.Equal(t, 1, stats.Documents)
}

func TestSanitizeKeepsShortNumbers(t *testing.T) {
	sanitized, stats := Sanitize("Срок ответа 30 дней, данные хранятся 5 лет.")

	assert.Equal(t, 0, stats.Phones)
	assert.Contains(t, sanitized, "30 дней")
	assert.Contains(t, sanitized, "5 лет")
}

func TestSanitizedTextFeedsContactFact(t *testing.T) {
	sent := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	body := "Пишите на dpo@operator.ru по вопросам обработки."
	result := classify(t, body, sent, sent.Add(time.Hour))

	assert.True(t, result.Facts.HasContactInfo)
	assert.NotContains(t, result.SanitizedText, "dpo@operator.ru")
}

func TestDetectLanguage(t *testing.T) {
	assert.Equal(t, "ru", DetectLanguage("Ваши персональные данные удалены, обработка прекращена."))
	assert.Equal(t, "en", DetectLanguage("Your personal data has been deleted from our systems."))
	// No vocabulary hits at all: default locale.
	assert.Equal(t, "ru", DetectLanguage("xyzzy 12345"))
}
