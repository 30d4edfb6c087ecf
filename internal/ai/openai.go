package ai

import (
	"context"
	"fmt"
	"net/http"

	openai "github.com/meguminnnnnnnnn/go-openai"
)

// OpenAIGenerator implements Generator against the OpenAI images API.
type OpenAIGenerator struct {
	client       *openai.Client
	defaultModel string
}

// NewOpenAIGenerator creates a generator. baseURL may be empty for the
// default endpoint; httpClient may be nil.
func NewOpenAIGenerator(apiKey, defaultModel, baseURL string, httpClient *http.Client) (*OpenAIGenerator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("missing API key")
	}
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if httpClient != nil {
		config.HTTPClient = httpClient
	}
	return &OpenAIGenerator{
		client:       openai.NewClientWithConfig(config),
		defaultModel: defaultModel,
	}, nil
}

// Generate requests one image for the prompt. Usage metadata is collected
// into an opaque map; callers store it without interpreting it.
func (g *OpenAIGenerator) Generate(ctx context.Context, prompt, model string) (*Result, error) {
	if model == "" {
		model = g.defaultModel
	}

	resp, err := g.client.CreateImage(ctx, openai.ImageRequest{
		Prompt:         prompt,
		Model:          model,
		N:              1,
		Size:           openai.CreateImageSize1024x1024,
		ResponseFormat: openai.CreateImageResponseFormatURL,
	})
	if err != nil {
		return nil, fmt.Errorf("image generation failed: %w", err)
	}

	result := &Result{
		Usage: map[string]interface{}{
			"model":   model,
			"created": resp.Created,
			"count":   len(resp.Data),
		},
	}
	for _, d := range resp.Data {
		result.Images = append(result.Images, Image{
			URL:     d.URL,
			B64JSON: d.B64JSON,
		})
		if d.RevisedPrompt != "" {
			result.Usage["revised_prompt"] = d.RevisedPrompt
		}
	}
	return result, nil
}
