package llm

import (
	"context"
	"encoding/json"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// MockProvider implements Provider without calling any hosted API.
//
// It serves two purposes:
//   - Demo mode: when no API key is configured, pipelines run against this
//     provider and every response is flagged Mock so the UI can say so.
//   - Testing: responses can be scripted in order, and all requests are
//     recorded for assertions.
//
// When the scripted responses are exhausted (or none were provided), the
// provider falls back to a deterministic canned completion.
type MockProvider struct {
	mu           sync.Mutex
	responses    []MockResponse
	currentIndex int
	requests     []CompletionRequest

	// Fallback is returned when no scripted response remains.
	// If empty, a generic canned completion is synthesized.
	Fallback string
}

// MockResponse defines a pre-configured response for the mock provider.
type MockResponse struct {
	// Content is the text response to return.
	Content string

	// FinishReason indicates why generation stopped.
	FinishReason FinishReason

	// Usage contains token counts.
	Usage TokenUsage

	// Error is returned instead of a successful response.
	Error error

	// Model is the model ID to report (defaults to "mock-model").
	Model string
}

// NewMockProvider creates a mock LLM provider with pre-configured responses.
// Responses are returned in order for each Complete call; once exhausted,
// the provider synthesizes a canned completion.
func NewMockProvider(responses ...MockResponse) *MockProvider {
	return &MockProvider{
		responses: responses,
		requests:  make([]CompletionRequest, 0),
	}
}

// Name returns the provider identifier.
func (m *MockProvider) Name() string {
	return "mock"
}

// Capabilities returns the mock provider's capabilities.
func (m *MockProvider) Capabilities() Capabilities {
	return Capabilities{
		Mock: true,
		Models: []ModelInfo{
			{
				ID:              "mock-model",
				Name:            "Mock Model",
				Tier:            ModelTierBalanced,
				MaxTokens:       100000,
				MaxOutputTokens: 4096,
				Description:     "Canned responses for demo mode and testing",
			},
		},
	}
}

// Complete returns the next scripted response, or a synthesized canned one.
func (m *MockProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, req)

	if m.currentIndex < len(m.responses) {
		mock := m.responses[m.currentIndex]
		m.currentIndex++

		if mock.Error != nil {
			return nil, mock.Error
		}

		model := mock.Model
		if model == "" {
			model = "mock-model"
		}
		finish := mock.FinishReason
		if finish == "" {
			finish = FinishReasonStop
		}

		return &CompletionResponse{
			Content:      mock.Content,
			FinishReason: finish,
			Usage:        mock.Usage,
			Model:        model,
			RequestID:    uuid.New().String(),
			Mock:         true,
			Created:      time.Now(),
		}, nil
	}

	content := m.Fallback
	if content == "" {
		content = cannedCompletion(req)
	}

	return &CompletionResponse{
		Content:      content,
		FinishReason: FinishReasonStop,
		Model:        "mock-model",
		RequestID:    uuid.New().String(),
		Mock:         true,
		Created:      time.Now(),
	}, nil
}

// Requests returns a copy of all recorded completion requests.
func (m *MockProvider) Requests() []CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]CompletionRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// cannedCompletion synthesizes a deterministic demo response. It is a
// JSON object so JSON-output agents still parse it, and the last user
// message is echoed so transcripts stay readable.
func cannedCompletion(req CompletionRequest) string {
	var lastUser string
	for _, msg := range req.Messages {
		if msg.Role == MessageRoleUser {
			lastUser = msg.Content
		}
	}
	if len(lastUser) > 120 {
		// Truncate on a rune boundary so the echo stays valid UTF-8.
		cut := 120
		for cut > 0 && !utf8.RuneStart(lastUser[cut]) {
			cut--
		}
		lastUser = lastUser[:cut] + "..."
	}

	out, _ := json.Marshal(map[string]interface{}{
		"mock":   true,
		"note":   "No API key is configured; this is canned demo output.",
		"prompt": lastUser,
	})
	return string(out)
}
