package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/TheTechNetwork/admx-help/internal/worker"

	"github.com/rs/zerolog/log"
)

// ErrDimensionMismatch is returned when the endpoint answers with vectors of
// a size other than the one the policy_embeddings column was created with.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

const (
	defaultDimensions = 1536
	defaultBatchSize  = 32
	defaultRetries    = 3
)

// EmbedderConfig points at an OpenAI-compatible /embeddings endpoint.
type EmbedderConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	Dimensions int
	// MaxRetries bounds retries of rate-limited or failed (5xx) requests.
	MaxRetries int
}

// EmbeddingClient turns policy and query texts into vectors.
type EmbeddingClient struct {
	cfg        EmbedderConfig
	endpoint   string
	backoff    time.Duration
	httpClient *http.Client
}

func NewEmbeddingClient(cfg EmbedderConfig) *EmbeddingClient {
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = defaultDimensions
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	} else if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultRetries
	}
	return &EmbeddingClient{
		cfg:        cfg,
		endpoint:   strings.TrimRight(cfg.BaseURL, "/") + "/embeddings",
		backoff:    500 * time.Millisecond,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// Dimensions is the vector size requested from the API and enforced on replies.
func (ec *EmbeddingClient) Dimensions() int {
	return ec.cfg.Dimensions
}

type embeddingRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingData struct {
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

type embeddingResponse struct {
	Data  []embeddingData `json:"data"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// apiError is a non-200 reply. Retryable marks 429 and 5xx.
type apiError struct {
	status int
	body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("embedding API error (status %d): %s", e.status, e.body)
}

func (e *apiError) retryable() bool {
	return e.status == http.StatusTooManyRequests || e.status >= 500
}

// Embed returns one vector per text, ordered like texts. Entries the API did
// not answer for are nil.
func (ec *EmbeddingClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(embeddingRequest{
		Input:      texts,
		Model:      ec.cfg.Model,
		Dimensions: ec.cfg.Dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	var resp *embeddingResponse
	for attempt := 0; ; attempt++ {
		resp, err = ec.post(ctx, body)
		var apiErr *apiError
		if err == nil || !errors.As(err, &apiErr) || !apiErr.retryable() || attempt >= ec.cfg.MaxRetries {
			break
		}

		wait := ec.backoff << attempt
		log.Warn().Int("status", apiErr.status).Int("attempt", attempt+1).Dur("wait", wait).Msg("Embedding request failed, retrying")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
	if err != nil {
		return nil, err
	}

	results := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(results) {
			continue
		}
		if len(d.Embedding) != ec.cfg.Dimensions {
			return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(d.Embedding), ec.cfg.Dimensions)
		}
		results[d.Index] = d.Embedding
	}

	log.Debug().Int("texts", len(texts)).Int("tokens", resp.Usage.TotalTokens).Msg("Generated embeddings")
	return results, nil
}

func (ec *EmbeddingClient) post(ctx context.Context, body []byte) (*embeddingResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ec.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if ec.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+ec.cfg.APIKey)
	}

	resp, err := ec.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding API call: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embedding response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &apiError{status: resp.StatusCode, body: strings.TrimSpace(string(respBody))}
	}

	var out embeddingResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("unmarshal embedding response: %w", err)
	}
	return &out, nil
}

// EmbedBatch embeds texts in requests of at most batchSize inputs.
func (ec *EmbeddingClient) EmbedBatch(ctx context.Context, texts []string, batchSize int) ([][]float32, error) {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	all := make([][]float32, 0, len(texts))
	for i, batch := range worker.Batch(texts, batchSize) {
		embeddings, err := ec.Embed(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("embed batch %d: %w", i+1, err)
		}
		all = append(all, embeddings...)

		log.Info().Int("batch", i+1).Int("processed", len(all)).Int("total", len(texts)).Msg("Embedding progress")
	}
	return all, nil
}

// EmbedQuery embeds a search query.
func (ec *EmbeddingClient) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	results, err := ec.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("query embedding: %w", err)
	}
	if len(results) == 0 || results[0] == nil {
		return nil, fmt.Errorf("no embedding returned for query")
	}
	return results[0], nil
}
