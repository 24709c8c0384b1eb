package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/zabvenie/backend/internal/circuitbreaker"
)

// ExternalClassifier calls an operator-hosted NLP classification service.
// It is DISABLED BY DEFAULT: only the already-sanitized text ever leaves the
// process, and every call runs under a per-operation timeout with bounded
// exponential-backoff retry behind a circuit breaker. On any failure it
// falls back to the local rule classifier, so decisions never block on the
// network.
type ExternalClassifier struct {
	url      string
	client   *http.Client
	fallback Classifier
	breaker  *circuitbreaker.CircuitBreaker
	logger   *log.Logger

	attempts  int
	baseDelay time.Duration
}

// ExternalConfig configures the external classifier.
type ExternalConfig struct {
	URL       string
	Timeout   time.Duration // per-attempt timeout
	Attempts  int           // total attempts, default 3
	BaseDelay time.Duration // backoff base, doubles per attempt, default 500ms
}

// NewExternalClassifier creates the external classifier with fallback to the
// given local classifier.
func NewExternalClassifier(cfg ExternalConfig, fallback Classifier) *ExternalClassifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}

	return &ExternalClassifier{
		url:       cfg.URL,
		client:    &http.Client{Timeout: cfg.Timeout},
		fallback:  fallback,
		breaker:   circuitbreaker.New(circuitbreaker.DefaultConfig("external-classifier")),
		logger:    log.New(log.Writer(), "[Classifier:External] ", log.LstdFlags),
		attempts:  cfg.Attempts,
		baseDelay: cfg.BaseDelay,
	}
}

type externalRequest struct {
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
}

type externalResponse struct {
	ResponseType    string   `json:"response_type"`
	Violations      []string `json:"violations"`
	LegitimacyScore int      `json:"legitimacy_score"`
}

// Classify sanitizes the message locally, then asks the external service for
// a category. The external verdict only ever overrides the category and
// score; violations and facts still come from the local deterministic pass,
// so the audit trail stays reproducible.
func (c *ExternalClassifier) Classify(ctx context.Context, msg Message) (*Result, error) {
	local, err := c.fallback.Classify(ctx, msg)
	if err != nil {
		return nil, err
	}

	resp, err := c.call(ctx, local)
	if err != nil {
		c.logger.Printf("External classification failed, using local result: %v", err)
		return local, nil
	}

	if rt := ResponseType(resp.ResponseType); rt != "" && rt != ResponseUnknown {
		local.ResponseType = rt
	}
	if resp.LegitimacyScore > 0 && resp.LegitimacyScore <= 100 {
		local.LegitimacyScore = resp.LegitimacyScore
	}
	return local, nil
}

func (c *ExternalClassifier) call(ctx context.Context, local *Result) (*externalResponse, error) {
	body, err := json.Marshal(externalRequest{
		Text:     local.SanitizedText,
		Language: local.Facts.Language,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal external request: %w", err)
	}

	var lastErr error
	delay := c.baseDelay

	for attempt := 1; attempt <= c.attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			delay *= 2
		}

		result, err := c.breaker.Execute(func() (interface{}, error) {
			return c.doRequest(ctx, body)
		})
		if err == nil {
			return result.(*externalResponse), nil
		}
		lastErr = err

		// An open breaker will not recover within this call's retries.
		if err == circuitbreaker.ErrCircuitOpen {
			break
		}
	}
	return nil, fmt.Errorf("external classifier after %d attempt(s): %w", c.attempts, lastErr)
}

func (c *ExternalClassifier) doRequest(ctx context.Context, body []byte) (*externalResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("external classifier returned %d", resp.StatusCode)
	}

	var out externalResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode external response: %w", err)
	}
	return &out, nil
}
