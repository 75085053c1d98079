// Package llm provides abstractions for Large Language Model providers.
// This package is designed to be embeddable in other Go applications and
// provides a provider-agnostic interface for LLM interactions.
package llm

import (
	"context"
	"time"
)

// Provider defines the interface that all LLM providers must implement.
type Provider interface {
	// Name returns the unique identifier for this provider (e.g., "anthropic", "openai").
	Name() string

	// Capabilities returns the provider's supported features and model information.
	Capabilities() Capabilities

	// Complete sends a synchronous completion request and returns the full response.
	// This method blocks until the LLM response is complete.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// Capabilities describes what a provider supports.
type Capabilities struct {
	// Mock indicates the provider returns canned responses rather than
	// calling a hosted API. Responses from mock providers are flagged so
	// downstream consumers can surface demo-mode output honestly.
	Mock bool

	// Models lists all models available from this provider with their metadata.
	Models []ModelInfo
}

// CompletionRequest contains all parameters for an LLM completion request.
type CompletionRequest struct {
	// Messages is the conversation history including the current prompt.
	Messages []Message

	// Model specifies which model to use. Can be a specific model ID or a tier.
	Model string

	// Temperature controls randomness (0.0 = deterministic, 1.0 = creative).
	Temperature *float64

	// MaxTokens limits the response length. If nil, uses provider default.
	MaxTokens *int

	// StopSequences are strings that halt generation when encountered.
	StopSequences []string

	// Metadata contains request tracking information (correlation IDs, etc).
	Metadata map[string]string
}

// Message represents a single message in a conversation.
type Message struct {
	// Role indicates who sent this message (system, user, assistant).
	Role MessageRole

	// Content is the text content of the message.
	Content string
}

// MessageRole identifies the sender of a message.
type MessageRole string

const (
	// MessageRoleSystem indicates a system message (context, instructions).
	MessageRoleSystem MessageRole = "system"

	// MessageRoleUser indicates a message from the user.
	MessageRoleUser MessageRole = "user"

	// MessageRoleAssistant indicates a message from the LLM.
	MessageRoleAssistant MessageRole = "assistant"
)

// CompletionResponse contains the full response from a completion.
type CompletionResponse struct {
	// Content is the generated text response.
	Content string

	// FinishReason explains why generation stopped.
	FinishReason FinishReason

	// Usage contains token consumption information.
	Usage TokenUsage

	// Model is the actual model ID that handled this request.
	Model string

	// RequestID is the unique identifier for this request (for tracing).
	RequestID string

	// Mock indicates this response came from a canned fallback rather
	// than a hosted API.
	Mock bool

	// Created is the timestamp when this response was generated.
	Created time.Time
}

// FinishReason indicates why completion generation stopped.
type FinishReason string

const (
	// FinishReasonStop indicates natural completion.
	FinishReasonStop FinishReason = "stop"

	// FinishReasonLength indicates max_tokens limit reached.
	FinishReasonLength FinishReason = "length"

	// FinishReasonContentFilter indicates content policy violation.
	FinishReasonContentFilter FinishReason = "content_filter"

	// FinishReasonError indicates an error occurred.
	FinishReasonError FinishReason = "error"
)

// TokenUsage tracks token consumption for cost calculation.
type TokenUsage struct {
	// InputTokens is the number of tokens in the input (prompt).
	InputTokens int

	// OutputTokens is the number of tokens in the output (completion).
	OutputTokens int

	// TotalTokens is the sum of input and output tokens.
	TotalTokens int
}

// Add accumulates usage from another request.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens += other.TotalTokens
}

// Detectable is an optional interface that providers can implement to support
// detection of whether they are usable in the current environment.
type Detectable interface {
	// Detect checks if the provider is available in the current environment.
	Detect() (bool, error)
}
