package completion

import (
	"context"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"
)

// contentGenerator is the subset of *genai.GenerativeModel we call.
type contentGenerator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

type GeminiClient struct {
	client    *genai.Client
	model     contentGenerator
	modelName string
}

// NewGeminiClient builds the client once at startup. The prompt is sent
// as-is; no system instruction or history is attached.
func NewGeminiClient(ctx context.Context, apiKey, modelName string, opts ...option.ClientOption) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, errors.New("gemini API key is empty")
	}

	opts = append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Gemini client")
	}

	return &GeminiClient{
		client:    client,
		model:     client.GenerativeModel(modelName),
		modelName: modelName,
	}, nil
}

func (c *GeminiClient) Close() {
	if c.client != nil {
		c.client.Close()
	}
}

func (c *GeminiClient) ModelName() string {
	return c.modelName
}

func (c *GeminiClient) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", Fail(errors.Wrap(err, "Gemini API error"))
	}
	if resp == nil {
		return "", Fail(errors.New("Gemini returned no response"))
	}

	for i, cand := range resp.Candidates {
		if cand != nil && cand.FinishReason != genai.FinishReasonStop {
			log.Warn().
				Int("candidate", i).
				Str("finish_reason", cand.FinishReason.String()).
				Str("model", c.modelName).
				Msg("Gemini candidate did not finish normally")
		}
	}

	// A blank reply is reported as a failure so the user sees the apology
	// instead of an empty bot message.
	text := extractText(resp)
	if strings.TrimSpace(text) == "" {
		return "", Fail(errors.New("Gemini returned empty text"))
	}

	return text, nil
}

func extractText(resp *genai.GenerateContentResponse) string {
	var text strings.Builder
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				text.WriteString(string(t))
			}
		}
	}
	return text.String()
}
