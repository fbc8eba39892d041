package advisor

import (
	"context"
	"fmt"
	"log/slog"

	"google.golang.org/genai"
)

// Gemini is the production Advisor. Client credentials come from the
// environment (GEMINI_API_KEY), resolved by the SDK itself.
type Gemini struct {
	client *genai.Client
	model  string
	log    *slog.Logger
}

// NewGemini creates a Gemini advisor for the given model name.
func NewGemini(ctx context.Context, model string, log *slog.Logger) (*Gemini, error) {
	if log == nil {
		log = slog.Default()
	}
	client, err := genai.NewClient(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return &Gemini{
		client: client,
		model:  model,
		log:    log.With("component", "advisor"),
	}, nil
}

// Advise sends the rendered prompt to the model and returns its text. Low
// temperature: the advice should be repeatable for the same inputs.
func (g *Gemini) Advise(ctx context.Context, req Request) (string, error) {
	prompt := BuildPrompt(req)
	g.log.Debug("requesting advice", "model", g.model, "prompt_bytes", len(prompt))

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt),
		&genai.GenerateContentConfig{
			Temperature:     genai.Ptr[float32](0.3),
			MaxOutputTokens: 2048,
		})
	if err != nil {
		return "", fmt.Errorf("generating advice: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("model %s returned an empty response", g.model)
	}
	return text, nil
}
