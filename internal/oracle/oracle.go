package oracle

import "context"

// Oracle is the external text model used for classification and free-form
// generation. Both calls are best-effort: they may be slow, fail, or return
// text that violates the requested shape, so callers validate every
// response.
type Oracle interface {
	// Classify asks the model to pick exactly one of labels for the given
	// prompt and returns the raw response text.
	Classify(ctx context.Context, prompt string, labels []string) (string, error)

	// Generate returns free-form text for the prompt.
	Generate(ctx context.Context, prompt string) (string, error)
}
