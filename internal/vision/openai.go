package vision

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

const chatModel = openai.ChatModelGPT4_1Mini

// OpenAILabeler detects photo labels using the OpenAI chat completions API.
type OpenAILabeler struct {
	client *openai.Client
}

func NewOpenAILabeler(apiKey string) *OpenAILabeler {
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &OpenAILabeler{client: &client}
}

func (p *OpenAILabeler) Name() string {
	return chatModel
}

func (p *OpenAILabeler) DetectLabels(ctx context.Context, imageData []byte, maxLabels int, minConfidence float64) ([]Label, error) {
	resized, err := resizeForPrompt(imageData, labelPromptSize)
	if err != nil {
		return nil, fmt.Errorf("failed to resize image: %w", err)
	}

	base64Image := base64.StdEncoding.EncodeToString(resized)
	imageURL := "data:image/jpeg;base64," + base64Image

	messages := []openai.ChatCompletionMessageParamUnion{
		{
			OfSystem: &openai.ChatCompletionSystemMessageParam{
				Content: openai.ChatCompletionSystemMessageParamContentUnion{
					OfString: openai.String(buildLabelPrompt(maxLabels)),
				},
			},
		},
		{
			OfUser: &openai.ChatCompletionUserMessageParam{
				Content: openai.ChatCompletionUserMessageParamContentUnion{
					OfArrayOfContentParts: []openai.ChatCompletionContentPartUnionParam{
						openai.TextContentPart("Label this event photo."),
						openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
							URL:    imageURL,
							Detail: "low",
						}),
					},
				},
			},
		},
	}

	resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    chatModel,
		Messages: messages,
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
		MaxTokens: openai.Int(300),
	})
	if err != nil {
		return nil, &ExternalServiceError{Service: "openai", Err: err}
	}

	if len(resp.Choices) == 0 {
		return nil, &ExternalServiceError{Service: "openai", Err: errors.New("no response")}
	}

	labels, err := parseLabels(resp.Choices[0].Message.Content, maxLabels, minConfidence)
	if err != nil {
		return nil, &ExternalServiceError{Service: "openai", Err: err}
	}
	return labels, nil
}
