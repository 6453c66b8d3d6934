package oracle

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GeminiOracle implements Oracle on top of the Gemini API.
type GeminiOracle struct {
	client *genai.Client
	model  string
}

// NewGemini creates a Gemini-backed oracle. apiKey may be empty when the
// environment provides credentials (GEMINI_API_KEY).
func NewGemini(ctx context.Context, apiKey, model string) (*GeminiOracle, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      apiKey,
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		return nil, fmt.Errorf("oracle: create genai client: %w", err)
	}
	return &GeminiOracle{client: client, model: model}, nil
}

// Classify sends the prompt with an enumerated label set and an instruction
// to answer with exactly one label token. The raw response is returned
// as-is; label validation is the caller's job.
func (o *GeminiOracle) Classify(ctx context.Context, prompt string, labels []string) (string, error) {
	full := prompt + "\n\n" +
		"Answer with EXACTLY one of the following labels and nothing else:\n" +
		strings.Join(labels, ", ") + "\n" +
		"Do not explain. Do not use Markdown. Output a single label token."

	return o.generate(ctx, full)
}

// Generate returns free-form text for the prompt.
func (o *GeminiOracle) Generate(ctx context.Context, prompt string) (string, error) {
	return o.generate(ctx, prompt)
}

func (o *GeminiOracle) generate(ctx context.Context, prompt string) (string, error) {
	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: prompt},
			},
		},
	}

	resp, err := o.client.Models.GenerateContent(ctx, o.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("oracle: generate content: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("oracle: empty response from model")
	}
	return text, nil
}

var _ Oracle = (*GeminiOracle)(nil)
