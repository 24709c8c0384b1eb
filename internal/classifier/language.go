package classifier

import "strings"

// Language detection by counting occurrences of a small fixed vocabulary per
// language. Majority wins; ties favor the default locale (Russian — the
// statute this system serves is 152-FZ).

const defaultLanguage = "ru"

var languageVocabulary = map[string][]string{
	"ru": {
		"данные", "удаление", "удалены", "запрос", "ваш", "обработка",
		"персональных", "закон", "соответствии", "уважаемый", "здравствуйте",
		"информация", "срок", "основании",
	},
	"en": {
		"data", "deletion", "deleted", "request", "your", "processing",
		"personal", "law", "accordance", "dear", "hello", "information",
		"period", "basis",
	},
}

// DetectLanguage returns the dominant language code of text.
func DetectLanguage(text string) string {
	lowered := strings.ToLower(text)

	best := defaultLanguage
	bestCount := 0
	for lang, words := range languageVocabulary {
		count := 0
		for _, w := range words {
			count += strings.Count(lowered, w)
		}
		switch {
		case count > bestCount:
			best = lang
			bestCount = count
		case count == bestCount && lang == defaultLanguage && count > 0:
			best = defaultLanguage
		}
	}
	return best
}
