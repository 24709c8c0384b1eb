package legal

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/zabvenie/backend/internal/classifier"
)

func TestArticlesPerViolation(t *testing.T) {
	l := NewLookup()

	for _, v := range []classifier.Violation{
		classifier.ViolationDelay,
		classifier.ViolationInvalidLegalBasis,
		classifier.ViolationExcessiveRetention,
		classifier.ViolationMissingInformation,
	} {
		arts := l.Articles(v)
		assert.NotEmpty(t, arts, "violation %s must cite at least one article", v)
		for _, a := range arts {
			assert.Contains(t, a.Code, "152-FZ")
			assert.NotEmpty(t, a.Summary)
		}
	}

	assert.Empty(t, l.Articles(classifier.Violation("unheard-of")))
}

func TestArticlesReturnsCopies(t *testing.T) {
	l := NewLookup()

	arts := l.Articles(classifier.ViolationDelay)
	arts[0].Code = "mutated"

	assert.NotEqual(t, "mutated", l.Articles(classifier.ViolationDelay)[0].Code)
}

func TestDeadlines(t *testing.T) {
	d := NewLookup().Deadlines()
	assert.Equal(t, 30, d.ResponseDays)
	assert.Equal(t, 60, d.EscalationDays)
}
