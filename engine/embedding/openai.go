package embedding

import (
	"context"
	"errors"
	"net"

	"github.com/openai/openai-go"

	"github.com/pavilion-app/pavilion-search/engine/domain"
)

// OpenAIProvider implements Provider over the OpenAI embeddings API.
type OpenAIProvider struct {
	client openai.Client
}

// NewOpenAIProvider wraps an OpenAI client.
func NewOpenAIProvider(client openai.Client) *OpenAIProvider {
	return &OpenAIProvider{client: client}
}

func (p *OpenAIProvider) CreateEmbeddings(ctx context.Context, model string, texts []string) ([][]float32, error) {
	resp, err := p.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
		Model: openai.EmbeddingModel(model),
	})
	if err != nil {
		return nil, err
	}
	vecs := make([][]float32, len(resp.Data))
	for i, data := range resp.Data {
		vecs[i] = toFloat32(data.Embedding)
	}
	return vecs, nil
}

// classify marks rate limits, server errors, and transport timeouts as
// transient so the retry policy repeats them; everything else fails fast.
func classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == 429 || apiErr.StatusCode >= 500 {
			return domain.Transient("embedding", err)
		}
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.Transient("embedding", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.Transient("embedding", err)
	}
	return err
}

// toFloat32 narrows the API's float64 vectors to the float32 the vector store
// keeps.
func toFloat32(f64 []float64) []float32 {
	f32 := make([]float32, len(f64))
	for i, v := range f64 {
		f32[i] = float32(v)
	}
	return f32
}
