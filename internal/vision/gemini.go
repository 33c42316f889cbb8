package vision

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

const geminiModel = "gemini-2.5-flash"

// GeminiLabeler detects photo labels using the Gemini API.
type GeminiLabeler struct {
	client *genai.Client
}

func NewGeminiLabeler(ctx context.Context, apiKey string) (*GeminiLabeler, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiLabeler{client: client}, nil
}

func (p *GeminiLabeler) Name() string {
	return geminiModel
}

func (p *GeminiLabeler) DetectLabels(ctx context.Context, imageData []byte, maxLabels int, minConfidence float64) ([]Label, error) {
	resized, err := resizeForPrompt(imageData, labelPromptSize)
	if err != nil {
		return nil, fmt.Errorf("failed to resize image: %w", err)
	}

	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: buildLabelPrompt(maxLabels)},
				{InlineData: &genai.Blob{Data: resized, MIMEType: "image/jpeg"}},
			},
		},
	}

	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	}

	result, err := p.client.Models.GenerateContent(ctx, geminiModel, contents, config)
	if err != nil {
		return nil, &ExternalServiceError{Service: "gemini", Err: err}
	}

	content := result.Text()
	if content == "" {
		return nil, &ExternalServiceError{Service: "gemini", Err: errors.New("empty response")}
	}

	labels, err := parseLabels(content, maxLabels, minConfidence)
	if err != nil {
		return nil, &ExternalServiceError{Service: "gemini", Err: err}
	}
	return labels, nil
}
