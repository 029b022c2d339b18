package llm

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/jonathan/style-forge/internal/prompts"
	"github.com/jonathan/style-forge/internal/types"
)

// Client is the full set of remote collaborators backed by one provider
type Client interface {
	types.Analyzer
	types.Generator
	types.Editor
	// GetModel returns the provider model name for a tier
	GetModel(tier ModelTier) string
	// Close releases any resources held by the client
	Close() error
}

// NewClient creates a new client based on configuration
func NewClient(ctx context.Context, config *Config, apiKey string) (Client, error) {
	if config == nil {
		config = DefaultConfig()
	}

	switch config.Provider {
	case ProviderGemini:
		return NewGeminiClient(ctx, config, apiKey)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", config.Provider)
	}
}

// GeminiClient implements Client for Google Gemini
type GeminiClient struct {
	client *genai.Client
	config *Config
	styles []types.Style
}

// NewGeminiClient creates a new Gemini client
func NewGeminiClient(ctx context.Context, config *Config, apiKey string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if config == nil {
		config = DefaultGeminiConfig()
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiClient{
		client: client,
		config: config,
		styles: types.DefaultStyles(),
	}, nil
}

// Analyze describes the source item and returns one suggestion per style.
// Every failure is returned as *types.AnalysisError.
func (c *GeminiClient) Analyze(ctx context.Context, source types.Artifact) (*types.Analysis, error) {
	modelName := c.config.GetModel(TierAnalysis)
	if modelName == "" {
		return nil, &types.AnalysisError{Cause: fmt.Errorf("no model configured for tier %s", TierAnalysis)}
	}

	model := c.client.GenerativeModel(modelName)
	model.SetTemperature(0.4)
	model.ResponseMIMEType = "application/json"
	model.ResponseSchema = analysisResponseSchema(c.styles)

	resp, err := model.GenerateContent(ctx, blobPart(source), genai.Text(prompts.AnalyzeItem(c.styles)))
	if err != nil {
		return nil, &types.AnalysisError{Cause: fmt.Errorf("failed to generate content: %w", err)}
	}

	text, err := extractTextFromResponse(resp)
	if err != nil {
		return nil, &types.AnalysisError{Cause: err}
	}

	analysis, err := ParseAnalysis(text)
	if err != nil {
		return nil, &types.AnalysisError{Cause: err}
	}
	return analysis, nil
}

// Generate renders one flat-lay outfit image for style around the source item.
// Every failure is returned as *types.GenerationError.
func (c *GeminiClient) Generate(ctx context.Context, source types.Artifact, style types.Style, guidance string) (types.Artifact, error) {
	image, err := c.generateImage(ctx, source, prompts.GenerateOutfit(style, guidance))
	if err != nil {
		return types.Artifact{}, &types.GenerationError{Style: style, Cause: err}
	}
	return image, nil
}

// Edit applies a natural-language instruction to current.
// Every failure is returned as *types.EditError.
func (c *GeminiClient) Edit(ctx context.Context, current types.Artifact, prompt string) (types.Artifact, error) {
	image, err := c.generateImage(ctx, current, prompts.EditImage(prompt))
	if err != nil {
		return types.Artifact{}, &types.EditError{Prompt: prompt, Cause: err}
	}
	return image, nil
}

// GetModel returns the model name for a tier
func (c *GeminiClient) GetModel(tier ModelTier) string {
	return c.config.GetModel(tier)
}

// Close releases resources held by the client
func (c *GeminiClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

func (c *GeminiClient) generateImage(ctx context.Context, input types.Artifact, prompt string) (types.Artifact, error) {
	modelName := c.config.GetModel(TierImage)
	if modelName == "" {
		return types.Artifact{}, fmt.Errorf("no model configured for tier %s", TierImage)
	}

	model := c.client.GenerativeModel(modelName)
	resp, err := model.GenerateContent(ctx, blobPart(input), genai.Text(prompt))
	if err != nil {
		return types.Artifact{}, fmt.Errorf("failed to generate content: %w", err)
	}
	return extractImageFromResponse(resp)
}

func blobPart(a types.Artifact) genai.Part {
	mimeType := a.MIMEType
	if mimeType == "" {
		mimeType = types.DefaultMIMEType
	}
	return genai.Blob{MIMEType: mimeType, Data: a.Data}
}

// analysisResponseSchema mirrors schemas.AnalysisSchema for the model's structured output
func analysisResponseSchema(styles []types.Style) *genai.Schema {
	suggestions := &genai.Schema{
		Type:       genai.TypeObject,
		Properties: make(map[string]*genai.Schema, len(styles)),
	}
	for _, s := range styles {
		suggestions.Properties[string(s)] = &genai.Schema{Type: genai.TypeString}
		suggestions.Required = append(suggestions.Required, string(s))
	}

	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"description": {Type: genai.TypeString},
			"suggestions": suggestions,
		},
		Required: []string{"description", "suggestions"},
	}
}

// extractTextFromResponse joins the text parts of the first candidate
func extractTextFromResponse(resp *genai.GenerateContentResponse) (string, error) {
	content, err := firstContent(resp)
	if err != nil {
		return "", err
	}

	var text string
	for _, part := range content.Parts {
		if t, ok := part.(genai.Text); ok {
			text += string(t)
		}
	}
	if text == "" {
		return "", fmt.Errorf("no text parts in response")
	}
	return text, nil
}

// extractImageFromResponse returns the first inline image of the first candidate
func extractImageFromResponse(resp *genai.GenerateContentResponse) (types.Artifact, error) {
	content, err := firstContent(resp)
	if err != nil {
		return types.Artifact{}, err
	}

	for _, part := range content.Parts {
		if blob, ok := part.(genai.Blob); ok && len(blob.Data) > 0 {
			return types.NewArtifact(blob.Data, blob.MIMEType), nil
		}
	}
	return types.Artifact{}, types.ErrNoArtifact
}

func firstContent(resp *genai.GenerateContentResponse) (*genai.Content, error) {
	if resp == nil {
		return nil, fmt.Errorf("empty response")
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockReasonUnspecified {
		return nil, fmt.Errorf("prompt blocked: %v", resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("no candidates in response")
	}

	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		if candidate.FinishReason != genai.FinishReasonUnspecified && candidate.FinishReason != genai.FinishReasonStop {
			return nil, fmt.Errorf("no content in response (finish reason: %v)", candidate.FinishReason)
		}
		return nil, fmt.Errorf("no content in response")
	}
	return candidate.Content, nil
}
