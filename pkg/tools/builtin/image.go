package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/draftforge/draftforge/pkg/errors"
	"github.com/draftforge/draftforge/pkg/httpclient"
	"github.com/draftforge/draftforge/pkg/tools"
)

const openAIImagesURL = "https://api.openai.com/v1/images/generations"

// ImageBriefTool turns an image brief into a generated illustration URL.
// It wraps the OpenAI Images API; in mock mode it returns a placeholder
// URL so drafts still carry complete metadata.
type ImageBriefTool struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewImageBriefTool creates an image generation tool. An empty apiKey
// enables mock mode.
func NewImageBriefTool(apiKey string) *ImageBriefTool {
	cfg := httpclient.DefaultConfig()
	cfg.Timeout = 120 * time.Second
	cfg.UserAgent = "draftforge-image/1.0"

	client, err := httpclient.New(cfg)
	if err != nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}

	return &ImageBriefTool{
		apiKey:  apiKey,
		baseURL: openAIImagesURL,
		client:  client,
	}
}

// WithBaseURL overrides the API endpoint. Used for tests.
func (t *ImageBriefTool) WithBaseURL(url string) *ImageBriefTool {
	t.baseURL = url
	return t
}

// Name returns the tool identifier.
func (t *ImageBriefTool) Name() string {
	return "image_brief"
}

// Description returns a human-readable description.
func (t *ImageBriefTool) Description() string {
	return "Generate an illustration from an image brief"
}

// Schema returns the tool's input/output schema.
func (t *ImageBriefTool) Schema() *tools.Schema {
	return &tools.Schema{
		Inputs: &tools.ParameterSchema{
			Type: "object",
			Properties: map[string]*tools.Property{
				"prompt": {
					Type:        "string",
					Description: "The image brief describing the desired illustration",
				},
				"size": {
					Type:        "string",
					Description: "Output image size",
					Enum:        []interface{}{"1024x1024", "1792x1024", "1024x1792"},
					Default:     "1024x1024",
				},
			},
			Required: []string{"prompt"},
		},
		Outputs: &tools.ParameterSchema{
			Type: "object",
			Properties: map[string]*tools.Property{
				"url": {
					Type:        "string",
					Description: "URL of the generated image",
				},
				"revised_prompt": {
					Type:        "string",
					Description: "The prompt as revised by the image model",
				},
				"mock": {
					Type:        "boolean",
					Description: "True when the result is canned demo output",
				},
			},
		},
	}
}

type imageRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	N      int    `json:"n"`
	Size   string `json:"size"`
}

type imageResponse struct {
	Data []struct {
		URL           string `json:"url"`
		RevisedPrompt string `json:"revised_prompt"`
	} `json:"data"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Execute generates an image from the brief.
func (t *ImageBriefTool) Execute(ctx context.Context, inputs map[string]interface{}) (map[string]interface{}, error) {
	prompt, ok := inputs["prompt"].(string)
	if !ok || prompt == "" {
		return nil, &errors.ValidationError{
			Field:      "prompt",
			Message:    "prompt must be a non-empty string",
			Suggestion: "Provide an image brief to generate from",
		}
	}

	if t.apiKey == "" {
		return map[string]interface{}{
			"url":            "https://placehold.co/1024x1024?text=draftforge+demo",
			"revised_prompt": prompt,
			"mock":           true,
		}, nil
	}

	size := "1024x1024"
	if raw, ok := inputs["size"].(string); ok && raw != "" {
		size = raw
	}

	body, err := json.Marshal(imageRequest{
		Model:  "dall-e-3",
		Prompt: prompt,
		N:      1,
		Size:   size,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.apiKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, &errors.ToolError{
			Tool:    t.Name(),
			Message: fmt.Sprintf("image request failed: %v", err),
			Cause:   err,
		}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &errors.ToolError{
			Tool:       t.Name(),
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("failed to read response: %v", err),
		}
	}

	var apiResp imageResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, &errors.ToolError{
			Tool:       t.Name(),
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("failed to parse response: %v", err),
		}
	}

	if resp.StatusCode != http.StatusOK {
		msg := apiResp.Error.Message
		if msg == "" {
			msg = fmt.Sprintf("image API returned status %d", resp.StatusCode)
		}
		return nil, &errors.ToolError{
			Tool:       t.Name(),
			StatusCode: resp.StatusCode,
			Message:    msg,
		}
	}

	if len(apiResp.Data) == 0 {
		return nil, &errors.ToolError{
			Tool:    t.Name(),
			Message: "image API returned no images",
		}
	}

	return map[string]interface{}{
		"url":            apiResp.Data[0].URL,
		"revised_prompt": apiResp.Data[0].RevisedPrompt,
		"mock":           false,
	}, nil
}
