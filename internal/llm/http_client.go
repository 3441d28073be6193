// Copyright 2025 James Ross
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/kgraph/controlplane/internal/apierr"
	"github.com/kgraph/controlplane/internal/breaker"
	"github.com/kgraph/controlplane/internal/ratelimit"
)

// HTTPExtractor calls an LLM Extractor service over HTTP, guarded by a
// circuit breaker and a rate limiter the same way internal/worker.Pool
// guards job dispatch with a named breaker.
type HTTPExtractor struct {
	baseURL    string
	httpClient *http.Client
	cb         *breaker.CircuitBreaker
	limiter    *ratelimit.Limiter
	maxRetries int
}

// NewHTTPExtractor builds an Extractor against baseURL.
func NewHTTPExtractor(baseURL string, timeout time.Duration, maxRetries int, cb *breaker.CircuitBreaker, limiter *ratelimit.Limiter) *HTTPExtractor {
	return &HTTPExtractor{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		cb:         cb.WithName("llm-extractor"),
		limiter:    limiter,
		maxRetries: maxRetries,
	}
}

type extractRequest struct {
	ChunkText string `json:"chunk_text"`
	Ontology  string `json:"ontology"`
}

// ExtractConcepts implements Extractor, retrying rate-limited/transient
// provider errors with exponential backoff + jitter up to maxRetries, the
// retry shape grounded on the teacher's
// internal/smart-retry-strategies.calculateDelay/jitter computation
// (adapted from its rule-engine to a fixed exponential schedule).
func (c *HTTPExtractor) ExtractConcepts(ctx context.Context, chunkText, ontology string) (Extraction, error) {
	if !c.cb.Allow() {
		return Extraction{}, apierr.Provider("llm_circuit_open", "LLM extractor circuit breaker is open", nil)
	}
	if c.limiter != nil {
		release, err := c.limiter.Acquire(ctx)
		if err != nil {
			return Extraction{}, err
		}
		defer release()
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := backoffWithJitter(attempt)
			select {
			case <-ctx.Done():
				return Extraction{}, ctx.Err()
			case <-time.After(delay):
			}
		}

		ext, retryable, err := c.doExtract(ctx, chunkText, ontology)
		if err == nil {
			c.cb.Record(true)
			return ext, nil
		}
		lastErr = err
		if !retryable {
			c.cb.Record(false)
			return Extraction{}, err
		}
	}
	c.cb.Record(false)
	return Extraction{}, lastErr
}

func (c *HTTPExtractor) doExtract(ctx context.Context, chunkText, ontology string) (Extraction, bool, error) {
	body, err := json.Marshal(extractRequest{ChunkText: chunkText, Ontology: ontology})
	if err != nil {
		return Extraction{}, false, fmt.Errorf("llm: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/extract", bytes.NewReader(body))
	if err != nil {
		return Extraction{}, false, fmt.Errorf("llm: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Extraction{}, true, apierr.Provider("llm_unavailable", "LLM extractor unreachable", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return Extraction{}, true, apierr.RateLimited("llm_rate_limited", "LLM extractor rate-limited the request")
	case resp.StatusCode >= 500:
		return Extraction{}, true, apierr.Provider("llm_unavailable", fmt.Sprintf("LLM extractor returned %d", resp.StatusCode), nil)
	case resp.StatusCode >= 400:
		return Extraction{}, false, apierr.Provider("llm_malformed_response", fmt.Sprintf("LLM extractor returned %d", resp.StatusCode), nil)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Extraction{}, true, fmt.Errorf("llm: read response: %w", err)
	}

	var ext Extraction
	if err := json.Unmarshal(raw, &ext); err != nil {
		return Extraction{}, false, apierr.Provider("llm_malformed_response", "LLM extractor returned unparseable JSON", err)
	}
	return ext, false, nil
}

func backoffWithJitter(attempt int) time.Duration {
	base := time.Duration(1<<uint(attempt-1)) * 200 * time.Millisecond
	jitter := time.Duration(rand.Int63n(int64(base) / 2))
	return base + jitter
}

var _ Extractor = (*HTTPExtractor)(nil)
