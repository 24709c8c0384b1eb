package classifier

import (
	"regexp"
)

// Sanitization runs before any pattern matching. Email addresses, phone
// numbers, name-like capitalized word sequences and passport/SNILS-shaped
// digit groups are replaced with fixed redaction tokens, so no raw personal
// data survives into classification metadata or logs.

const (
	redactedEmail = "[EMAIL]"
	redactedPhone = "[PHONE]"
	redactedName  = "[NAME]"
	redactedDocID = "[DOC]"
)

var (
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)

	// +7 (999) 123-45-67, 8 999 1234567, +1-555-0100 and similar.
	phonePattern = regexp.MustCompile(`(?:\+?\d{1,3}[\s\-]?)?(?:\(\d{3,5}\)[\s\-]?)?\d{3}[\s\-]?\d{2,4}[\s\-]?\d{2,4}`)

	// SNILS (123-456-789 00) and passport-shaped (4 + 6 digit) groups.
	docIDPattern = regexp.MustCompile(`\b\d{3}-\d{3}-\d{3}[\s\-]?\d{2}\b|\b\d{4}[\s\-]?\d{6}\b`)

	// Two or more consecutive capitalized words (Cyrillic or Latin) look
	// like a personal name. Single capitalized words stay: they are usually
	// sentence starts or organization names the matcher needs.
	namePattern = regexp.MustCompile(`\b[А-ЯЁA-Z][а-яёa-z]+(?:\s+[А-ЯЁA-Z][а-яёa-z]+){1,2}\b`)
)

// RedactionStats counts what the sanitizer replaced. Presence counts feed
// fact extraction (e.g. an email or phone in the reply counts as contact
// information) without retaining the redacted values themselves.
type RedactionStats struct {
	Emails    int `json:"emails"`
	Phones    int `json:"phones"`
	Names     int `json:"names"`
	Documents int `json:"documents"`
}

// Sanitize redacts personal data from text and reports what was removed.
// Order matters: emails before phones (addresses can contain digit runs),
// document ids before generic phone shapes.
func Sanitize(text string) (string, RedactionStats) {
	var stats RedactionStats

	text = emailPattern.ReplaceAllStringFunc(text, func(string) string {
		stats.Emails++
		return redactedEmail
	})
	text = docIDPattern.ReplaceAllStringFunc(text, func(string) string {
		stats.Documents++
		return redactedDocID
	})
	text = phonePattern.ReplaceAllStringFunc(text, func(m string) string {
		// Short digit runs ("30 дней", years) are not phone numbers.
		digits := 0
		for _, r := range m {
			if r >= '0' && r <= '9' {
				digits++
			}
		}
		if digits < 7 {
			return m
		}
		stats.Phones++
		return redactedPhone
	})
	text = namePattern.ReplaceAllStringFunc(text, func(m string) string {
		stats.Names++
		return redactedName
	})

	return text, stats
}
