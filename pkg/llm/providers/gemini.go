package providers

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/draftforge/draftforge/pkg/errors"
	"github.com/draftforge/draftforge/pkg/llm"
)

// geminiModels lists the models exposed through this provider.
var geminiModels = []llm.ModelInfo{
	{
		ID:              "gemini-2.5-flash-lite",
		Name:            "Gemini Flash Lite",
		Tier:            llm.ModelTierFast,
		MaxTokens:       1000000,
		MaxOutputTokens: 8192,
		Description:     "Low-latency model for routine generation",
	},
	{
		ID:              "gemini-2.5-flash",
		Name:            "Gemini Flash",
		Tier:            llm.ModelTierBalanced,
		MaxTokens:       1000000,
		MaxOutputTokens: 65536,
		Description:     "General-purpose multimodal model",
	},
	{
		ID:              "gemini-2.5-pro",
		Name:            "Gemini Pro",
		Tier:            llm.ModelTierStrategic,
		MaxTokens:       1000000,
		MaxOutputTokens: 65536,
		Description:     "Most capable Gemini model for complex reasoning",
	},
}

// GeminiProvider implements the Provider interface using the Google GenAI SDK.
type GeminiProvider struct {
	client *genai.Client
}

// NewGeminiProvider creates a new Gemini provider instance.
func NewGeminiProvider(apiKey string) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, &errors.ConfigError{
			Key:    "providers.gemini.api_key",
			Reason: "API key is required for Gemini provider",
		}
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GeminiProvider{client: client}, nil
}

// Name returns the provider identifier.
func (p *GeminiProvider) Name() string {
	return "gemini"
}

// Capabilities returns the features supported by this provider.
func (p *GeminiProvider) Capabilities() llm.Capabilities {
	return llm.Capabilities{
		Models: geminiModels,
	}
}

// Complete sends a synchronous completion request via the GenAI SDK.
func (p *GeminiProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	requestID := uuid.New().String()

	if len(req.Messages) == 0 {
		return nil, &errors.ValidationError{
			Field:      "messages",
			Message:    "completion request must have at least one message",
			Suggestion: "Add at least one message to the completion request",
		}
	}

	model := llm.ResolveModel(geminiModels, req.Model)

	config := &genai.GenerateContentConfig{}
	if req.Temperature != nil {
		temp := float32(*req.Temperature)
		config.Temperature = &temp
	}
	if req.MaxTokens != nil {
		config.MaxOutputTokens = int32(*req.MaxTokens)
	}
	if len(req.StopSequences) > 0 {
		config.StopSequences = req.StopSequences
	}

	// Gemini takes the system prompt as a separate instruction.
	var contents []*genai.Content
	for _, msg := range req.Messages {
		switch msg.Role {
		case llm.MessageRoleSystem:
			config.SystemInstruction = genai.NewContentFromText(msg.Content, genai.RoleUser)
		case llm.MessageRoleUser:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))
		case llm.MessageRoleAssistant:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleModel))
		}
	}

	result, err := p.client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return nil, &errors.ProviderError{
			Provider:  "gemini",
			Message:   fmt.Sprintf("generate content failed: %v", err),
			RequestID: requestID,
			Cause:     err,
		}
	}

	var usage llm.TokenUsage
	if result.UsageMetadata != nil {
		usage = llm.TokenUsage{
			InputTokens:  int(result.UsageMetadata.PromptTokenCount),
			OutputTokens: int(result.UsageMetadata.CandidatesTokenCount),
			TotalTokens:  int(result.UsageMetadata.TotalTokenCount),
		}
	}

	finish := llm.FinishReasonStop
	if len(result.Candidates) > 0 {
		switch result.Candidates[0].FinishReason {
		case genai.FinishReasonMaxTokens:
			finish = llm.FinishReasonLength
		case genai.FinishReasonSafety:
			finish = llm.FinishReasonContentFilter
		}
	}

	return &llm.CompletionResponse{
		Content:      result.Text(),
		FinishReason: finish,
		Usage:        usage,
		Model:        model,
		RequestID:    requestID,
		Created:      time.Now(),
	}, nil
}
