// Package openai implements the C1 Embedding Provider against an
// OpenAI-compatible /embeddings endpoint.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/federated-memory/federated-memory/internal/config"
	"github.com/federated-memory/federated-memory/internal/ferrors"
	registryembed "github.com/federated-memory/federated-memory/internal/registry/embed"
)

const (
	maxAttempts  = 4
	baseBackoff  = 200 * time.Millisecond
	defaultCallTimeout = 10 * time.Second
)

func init() {
	registryembed.Register(registryembed.Plugin{
		Name:   "openai",
		Loader: load,
	})
}

func load(ctx context.Context) (registryembed.Embedder, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("openai embedder: OPENAI_API_KEY is required")
	}
	baseURL := strings.TrimRight(cfg.EmbeddingBaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &Embedder{
		apiKey:        cfg.OpenAIAPIKey,
		model:         cfg.EmbeddingModel,
		baseURL:       baseURL,
		dimFull:       cfg.EmbeddingDimensionFull,
		dimCompressed: cfg.EmbeddingDimensionCompressed,
		client:        &http.Client{Timeout: defaultCallTimeout},
	}, nil
}

// Embedder calls an OpenAI-compatible embeddings endpoint. Both tiers use the
// same model; the compressed tier is produced by the provider's native
// "dimensions" truncation parameter, which is the §4.1 "upstream's native
// short embedding model" option — the same mechanism the fallback
// (truncate + L2-renormalize) would approximate by hand.
type Embedder struct {
	apiKey        string
	model         string
	baseURL       string
	dimFull       int
	dimCompressed int
	client        *http.Client
}

func (e *Embedder) ModelVersion() string { return e.model }

func (e *Embedder) Dimension(tier registryembed.Tier) int {
	if tier == registryembed.TierCompressed {
		return e.dimCompressed
	}
	return e.dimFull
}

type embeddingRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions *int     `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// EmbedTexts implements registryembed.Embedder. Transient failures are
// retried with exponential backoff up to maxAttempts; on final failure the
// call returns ferrors.EmbeddingUnavailableError (§4.1 "Failure policy").
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string, tier registryembed.Tier) ([][]float32, error) {
	dim := e.Dimension(tier)

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := baseBackoff * time.Duration(1<<uint(attempt-1))
			jitter := time.Duration(rand.Int63n(int64(backoff) / 2))
			select {
			case <-ctx.Done():
				return nil, &ferrors.EmbeddingUnavailableError{Cause: ctx.Err()}
			case <-time.After(backoff + jitter):
			}
		}

		embeddings, err := e.callOnce(ctx, texts, dim)
		if err == nil {
			return embeddings, nil
		}
		lastErr = err
		if !isTransient(err) {
			break
		}
	}
	return nil, &ferrors.EmbeddingUnavailableError{Cause: lastErr}
}

func (e *Embedder) callOnce(ctx context.Context, texts []string, dim int) ([][]float32, error) {
	reqBody, err := json.Marshal(embeddingRequest{
		Input:      texts,
		Model:      e.model,
		Dimensions: ptrIfPositive(dim),
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, &transientError{fmt.Errorf("openai embed request failed: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &transientError{fmt.Errorf("openai embed: read response: %w", err)}
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, &transientError{fmt.Errorf("openai embed: transient status %d: %s", resp.StatusCode, body)}
	}

	var result embeddingResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("openai embed: parse response: %w", err)
	}
	if result.Error != nil {
		return nil, fmt.Errorf("openai embed error: %s", result.Error.Message)
	}
	if len(result.Data) != len(texts) {
		return nil, fmt.Errorf("openai embed: expected %d embeddings, got %d", len(texts), len(result.Data))
	}

	embeddings := make([][]float32, len(texts))
	for _, d := range result.Data {
		embeddings[d.Index] = d.Embedding
	}
	return embeddings, nil
}

// transientError marks a callOnce failure as retryable: connection
// failures, response-read failures, and 5xx/429 statuses. Anything else
// (malformed JSON, a provider-reported validation error, a mismatched
// embedding count) is permanent and should fail fast.
type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

func isTransient(err error) bool {
	var t *transientError
	return errors.As(err, &t)
}

func ptrIfPositive(v int) *int {
	if v <= 0 {
		return nil
	}
	return &v
}

var _ registryembed.Embedder = (*Embedder)(nil)
