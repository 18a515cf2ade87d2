// Package answer turns a query plus retrieved context chunks into a short
// natural-language answer through an external completion provider. The
// provider is a black box; when it fails, the query pipeline degrades to raw
// sources instead of failing the request.
package answer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"

	"github.com/pavilion-app/pavilion-search/engine/domain"
)

// DefaultModel is the completion model identifier.
const DefaultModel = "gpt-4o-mini"

const systemPrompt = `You are the search assistant for a members' club platform.
Answer the member's question using only the provided context passages.
Be concise: two or three sentences. If the context does not answer the
question, say so plainly instead of inventing details.`

// Synthesizer generates an answer from a query and its supporting passages.
type Synthesizer interface {
	Synthesize(ctx context.Context, query string, passages []string) (string, error)
}

// OpenAI implements Synthesizer over the chat completions API.
type OpenAI struct {
	client openai.Client
	model  string
}

// NewOpenAI creates a Synthesizer using the given model, or DefaultModel when
// empty.
func NewOpenAI(client openai.Client, model string) *OpenAI {
	if model == "" {
		model = DefaultModel
	}
	return &OpenAI{client: client, model: model}
}

func (o *OpenAI) Synthesize(ctx context.Context, query string, passages []string) (string, error) {
	if len(passages) == 0 {
		return "", fmt.Errorf("%w: no context passages", domain.ErrSynthesisUnavailable)
	}

	var b strings.Builder
	b.WriteString("Context passages:\n")
	for i, p := range passages {
		fmt.Fprintf(&b, "[%d] %s\n", i+1, p)
	}
	fmt.Fprintf(&b, "\nQuestion: %s", query)

	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(b.String()),
		},
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrSynthesisUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty completion", domain.ErrSynthesisUnavailable)
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("%w: blank completion", domain.ErrSynthesisUnavailable)
	}
	return text, nil
}

// IsUnavailable reports whether err is a synthesis failure the pipeline
// should degrade around.
func IsUnavailable(err error) bool {
	return errors.Is(err, domain.ErrSynthesisUnavailable)
}
