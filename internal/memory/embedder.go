// Package memory implements the hierarchical agent memory: TTL-bound
// working state, a long-term vector store, an episodic reflection log and
// the retrieval pipeline that packs recalled items into a prompt budget.
package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/aurora-dev/aurora/internal/core"
	"github.com/aurora-dev/aurora/internal/logging"
)

// RemoteEmbedder calls an OpenAI-compatible embeddings endpoint.
type RemoteEmbedder struct {
	endpoint string
	model    string
	apiKey   string
	dims     int
	client   *http.Client
}

// NewRemoteEmbedder creates a remote embedder.
func NewRemoteEmbedder(endpoint, model, apiKey string, dims int) *RemoteEmbedder {
	return &RemoteEmbedder{
		endpoint: endpoint,
		model:    model,
		apiKey:   apiKey,
		dims:     dims,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

type embeddingRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed requests a vector for the text.
func (e *RemoteEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embeddingRequest{Model: e.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("marshaling embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling embedding endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, core.ErrExecution("EMBEDDING_PROVIDER_ERROR",
			fmt.Sprintf("embedding endpoint returned %d: %s", resp.StatusCode, string(payload)))
	}

	var decoded embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decoding embedding response: %w", err)
	}
	if len(decoded.Data) == 0 {
		return nil, core.ErrExecution("EMBEDDING_EMPTY", "embedding endpoint returned no vectors")
	}
	return decoded.Data[0].Embedding, nil
}

// Dimensions returns the vector size.
func (e *RemoteEmbedder) Dimensions() int { return e.dims }

// Name identifies the provider.
func (e *RemoteEmbedder) Name() string { return "remote:" + e.model }

// HashEmbedder is the deterministic last-resort fallback: token trigrams
// hashed into a fixed number of buckets, L2-normalized. Degraded recall,
// but never unavailable and stable across restarts.
type HashEmbedder struct {
	dims int
}

// NewHashEmbedder creates a hash-bucketing embedder.
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = 256
	}
	return &HashEmbedder{dims: dims}
}

// Embed produces the bucketed vector. Never fails.
func (e *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dims)
	tokens := strings.Fields(strings.ToLower(text))
	for i := range tokens {
		end := i + 3
		if end > len(tokens) {
			end = len(tokens)
		}
		gram := strings.Join(tokens[i:end], " ")
		h := fnv.New32a()
		_, _ = h.Write([]byte(gram))
		vec[h.Sum32()%uint32(e.dims)]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec, nil
}

// Dimensions returns the vector size.
func (e *HashEmbedder) Dimensions() int { return e.dims }

// Name identifies the provider.
func (e *HashEmbedder) Name() string { return "hash" }

// Chain tries each embedder in order, falling through on error. The last
// link should be a HashEmbedder so embedding never blocks a store.
type Chain struct {
	links []core.Embedder
	log   *logging.Logger
}

// NewChain creates a fallback chain. All links must share dimensions.
func NewChain(log *logging.Logger, links ...core.Embedder) *Chain {
	return &Chain{links: links, log: log}
}

// Embed returns the first successful vector.
func (c *Chain) Embed(ctx context.Context, text string) ([]float32, error) {
	var lastErr error
	for _, link := range c.links {
		vec, err := link.Embed(ctx, text)
		if err == nil {
			return vec, nil
		}
		lastErr = err
		c.log.Warn("embedder failed, falling through",
			"embedder", link.Name(), "error", err.Error())
	}
	return nil, lastErr
}

// Dimensions returns the shared vector size.
func (c *Chain) Dimensions() int {
	if len(c.links) == 0 {
		return 0
	}
	return c.links[0].Dimensions()
}

// Name identifies the chain by its links.
func (c *Chain) Name() string {
	names := make([]string, len(c.links))
	for i, link := range c.links {
		names[i] = link.Name()
	}
	return strings.Join(names, ">")
}
