package answer

import (
	"context"
	"errors"
	"testing"

	"github.com/openai/openai-go"

	"github.com/pavilion-app/pavilion-search/engine/domain"
)

func openaiZero() openai.Client { return openai.Client{} }

func TestSynthesizeRequiresPassages(t *testing.T) {
	// No network call is made before the passage check, so the zero client
	// is safe here.
	o := NewOpenAI(openaiZero(), "")
	_, err := o.Synthesize(context.Background(), "when is the seminar", nil)
	if !errors.Is(err, domain.ErrSynthesisUnavailable) {
		t.Errorf("err = %v", err)
	}
}

func TestIsUnavailable(t *testing.T) {
	if !IsUnavailable(domain.ErrSynthesisUnavailable) {
		t.Error("sentinel not recognised")
	}
	if IsUnavailable(errors.New("other")) {
		t.Error("unrelated error misclassified")
	}
}

func TestDefaultModel(t *testing.T) {
	o := NewOpenAI(openaiZero(), "")
	if o.model != DefaultModel {
		t.Errorf("model = %q", o.model)
	}
}
