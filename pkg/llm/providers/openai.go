package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/draftforge/draftforge/pkg/errors"
	"github.com/draftforge/draftforge/pkg/httpclient"
	"github.com/draftforge/draftforge/pkg/llm"
)

const openAIAPIBaseURL = "https://api.openai.com/v1"

// openAIModels lists the models exposed through this provider.
var openAIModels = []llm.ModelInfo{
	{
		ID:              "gpt-4o-mini",
		Name:            "GPT-4o mini",
		Tier:            llm.ModelTierFast,
		MaxTokens:       128000,
		MaxOutputTokens: 16384,
		Description:     "Fast, inexpensive model for routine generation",
	},
	{
		ID:              "gpt-4o",
		Name:            "GPT-4o",
		Tier:            llm.ModelTierBalanced,
		MaxTokens:       128000,
		MaxOutputTokens: 16384,
		Description:     "General-purpose model for content and analysis",
	},
	{
		ID:              "o3",
		Name:            "o3",
		Tier:            llm.ModelTierStrategic,
		MaxTokens:       200000,
		MaxOutputTokens: 100000,
		Description:     "Reasoning model for complex planning",
	},
}

// OpenAIProvider implements the Provider interface for OpenAI's chat models.
type OpenAIProvider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewOpenAIProvider creates a new OpenAI provider instance.
func NewOpenAIProvider(apiKey string) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, &errors.ConfigError{
			Key:    "providers.openai.api_key",
			Reason: "API key is required for OpenAI provider",
		}
	}

	cfg := httpclient.DefaultConfig()
	cfg.Timeout = 120 * time.Second
	cfg.UserAgent = "draftforge-openai/1.0"
	cfg.RetryAttempts = 0

	httpClient, err := httpclient.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP client: %w", err)
	}

	return &OpenAIProvider{
		apiKey:     apiKey,
		baseURL:    openAIAPIBaseURL,
		httpClient: httpClient,
	}, nil
}

// WithBaseURL overrides the API endpoint. Used for tests and
// OpenAI-compatible gateways.
func (p *OpenAIProvider) WithBaseURL(baseURL string) *OpenAIProvider {
	p.baseURL = strings.TrimSuffix(baseURL, "/")
	return p
}

// Name returns the provider identifier.
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Capabilities returns the features supported by this provider.
func (p *OpenAIProvider) Capabilities() llm.Capabilities {
	return llm.Capabilities{
		Models: openAIModels,
	}
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature *float64        `json:"temperature,omitempty"`
	MaxTokens   *int            `json:"max_completion_tokens,omitempty"`
	Stop        []string        `json:"stop,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type openAIErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Complete sends a synchronous request to the Chat Completions API.
func (p *OpenAIProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	requestID := uuid.New().String()

	if len(req.Messages) == 0 {
		return nil, &errors.ValidationError{
			Field:      "messages",
			Message:    "completion request must have at least one message",
			Suggestion: "Add at least one message to the completion request",
		}
	}

	apiReq := openAIRequest{
		Model:       llm.ResolveModel(openAIModels, req.Model),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stop:        req.StopSequences,
	}
	for _, msg := range req.Messages {
		apiReq.Messages = append(apiReq.Messages, openAIMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}

	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, &errors.ProviderError{
			Provider:  "openai",
			Message:   fmt.Sprintf("failed to marshal request: %v", err),
			RequestID: requestID,
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, &errors.ProviderError{
			Provider:  "openai",
			Message:   fmt.Sprintf("failed to create request: %v", err),
			RequestID: requestID,
		}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, &errors.ProviderError{
			Provider:  "openai",
			Message:   fmt.Sprintf("request failed: %v", err),
			RequestID: requestID,
			Cause:     err,
		}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &errors.ProviderError{
			Provider:   "openai",
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("failed to read response: %v", err),
			RequestID:  requestID,
		}
	}

	if resp.StatusCode != http.StatusOK {
		var errResp openAIErrorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error.Message != "" {
			return nil, &errors.ProviderError{
				Provider:   "openai",
				StatusCode: resp.StatusCode,
				Message:    errResp.Error.Message,
				RequestID:  requestID,
			}
		}
		return nil, &errors.ProviderError{
			Provider:   "openai",
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("API request failed with status %d: %s", resp.StatusCode, string(respBody)),
			RequestID:  requestID,
		}
	}

	var apiResp openAIResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, &errors.ProviderError{
			Provider:  "openai",
			Message:   fmt.Sprintf("failed to parse response: %v", err),
			RequestID: requestID,
		}
	}

	if len(apiResp.Choices) == 0 {
		return nil, &errors.ProviderError{
			Provider:  "openai",
			Message:   "response contained no choices",
			RequestID: requestID,
		}
	}

	choice := apiResp.Choices[0]
	return &llm.CompletionResponse{
		Content:      choice.Message.Content,
		FinishReason: mapOpenAIFinishReason(choice.FinishReason),
		Usage: llm.TokenUsage{
			InputTokens:  apiResp.Usage.PromptTokens,
			OutputTokens: apiResp.Usage.CompletionTokens,
			TotalTokens:  apiResp.Usage.TotalTokens,
		},
		Model:     apiResp.Model,
		RequestID: requestID,
		Created:   time.Now(),
	}, nil
}

// mapOpenAIFinishReason converts OpenAI's finish_reason to our FinishReason.
func mapOpenAIFinishReason(reason string) llm.FinishReason {
	switch reason {
	case "stop":
		return llm.FinishReasonStop
	case "length":
		return llm.FinishReasonLength
	case "content_filter":
		return llm.FinishReasonContentFilter
	default:
		return llm.FinishReasonStop
	}
}
