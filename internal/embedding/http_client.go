// Copyright 2025 James Ross
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/kgraph/controlplane/internal/apierr"
	"github.com/kgraph/controlplane/internal/breaker"
	"github.com/kgraph/controlplane/internal/ratelimit"
)

// Profile carries the active embedding profile's normalisation and prefix
// rules (spec.md §3 Embedding configuration section).
type Profile struct {
	Dimensions     int
	Normalize      bool
	QueryPrefix    string
	DocumentPrefix string
}

// HTTPService calls an embedding service over HTTP, guarded the same way
// llm.HTTPExtractor guards its provider calls: named circuit breaker, rate
// limiter, exponential backoff + jitter retry.
type HTTPService struct {
	baseURL    string
	httpClient *http.Client
	cb         *breaker.CircuitBreaker
	limiter    *ratelimit.Limiter
	maxRetries int
	profile    Profile
}

// NewHTTPService builds a Service against baseURL.
func NewHTTPService(baseURL string, timeout time.Duration, maxRetries int, cb *breaker.CircuitBreaker, limiter *ratelimit.Limiter, profile Profile) *HTTPService {
	return &HTTPService{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		cb:         cb.WithName("embedding-service"),
		limiter:    limiter,
		maxRetries: maxRetries,
		profile:    profile,
	}
}

type embedRequest struct {
	Texts []string `json:"texts"`
}

type embedResponse struct {
	Vectors [][]float32 `json:"vectors"`
}

// Embed implements Service: applies the active profile's prefix per
// purpose, then POSTs texts to the embedding service, retrying transient
// failures the same way llm.HTTPExtractor does.
func (c *HTTPService) Embed(ctx context.Context, texts []string, purpose Purpose) ([][]float32, error) {
	prefixed := make([]string, len(texts))
	prefix := c.profile.QueryPrefix
	if purpose == PurposeDocument {
		prefix = c.profile.DocumentPrefix
	}
	for i, t := range texts {
		prefixed[i] = prefix + t
	}

	if !c.cb.Allow() {
		return nil, apierr.Provider("embedding_circuit_open", "embedding circuit breaker is open", nil)
	}
	if c.limiter != nil {
		release, err := c.limiter.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		defer release()
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := backoffWithJitter(attempt)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		vectors, retryable, err := c.doEmbed(ctx, prefixed)
		if err == nil {
			c.cb.Record(true)
			if c.profile.Normalize {
				normalizeAll(vectors)
			}
			return vectors, nil
		}
		lastErr = err
		if !retryable {
			c.cb.Record(false)
			return nil, err
		}
	}
	c.cb.Record(false)
	return nil, lastErr
}

func (c *HTTPService) doEmbed(ctx context.Context, texts []string) ([][]float32, bool, error) {
	body, err := json.Marshal(embedRequest{Texts: texts})
	if err != nil {
		return nil, false, fmt.Errorf("embedding: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("embedding: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, apierr.Provider("embedding_unavailable", "embedding service unreachable", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, true, apierr.RateLimited("embedding_rate_limited", "embedding service rate-limited the request")
	case resp.StatusCode >= 500:
		return nil, true, apierr.Provider("embedding_unavailable", fmt.Sprintf("embedding service returned %d", resp.StatusCode), nil)
	case resp.StatusCode >= 400:
		return nil, false, apierr.Provider("embedding_malformed_response", fmt.Sprintf("embedding service returned %d", resp.StatusCode), nil)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("embedding: read response: %w", err)
	}

	var out embedResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, false, apierr.Provider("embedding_malformed_response", "embedding service returned unparseable JSON", err)
	}
	return out.Vectors, false, nil
}

func normalizeAll(vectors [][]float32) {
	for i, v := range vectors {
		var sumSq float64
		for _, x := range v {
			sumSq += float64(x) * float64(x)
		}
		if sumSq == 0 {
			continue
		}
		norm := float32(1.0 / math.Sqrt(sumSq))
		for j := range v {
			vectors[i][j] = v[j] * norm
		}
	}
}

func backoffWithJitter(attempt int) time.Duration {
	base := time.Duration(1<<uint(attempt-1)) * 200 * time.Millisecond
	jitter := time.Duration(rand.Int63n(int64(base) / 2))
	return base + jitter
}
