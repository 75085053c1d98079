// Copyright 2025 The Draftforge Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tracing

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftforge/draftforge/pkg/llm"
	"github.com/draftforge/draftforge/pkg/tools"
)

func TestNew_DisabledIsNoop(t *testing.T) {
	p, err := New(Config{})
	require.NoError(t, err)

	ctx, span := p.StartRun(context.Background(), "pmf", "run-1")
	assert.NotNil(t, ctx)
	EndSpan(span, nil)

	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNew_EnabledExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	p, err := New(Config{Enabled: true, ServiceName: "draftforge-test", Writer: &buf})
	require.NoError(t, err)

	ctx, runSpan := p.StartRun(context.Background(), "repurpose", "run-2")
	_, stageSpan := StartStage(ctx, "keywords")
	EndSpan(stageSpan, errors.New("keyword tool unavailable"))
	EndSpan(runSpan, nil)

	require.NoError(t, p.Shutdown(context.Background()))

	out := buf.String()
	assert.Contains(t, out, "pipeline.run")
	assert.Contains(t, out, "pipeline.stage")
	assert.Contains(t, out, "repurpose")
	assert.Contains(t, out, "keyword tool unavailable")
}

type echoTool struct{}

func (echoTool) Name() string          { return "echo" }
func (echoTool) Description() string   { return "echoes its inputs" }
func (echoTool) Schema() *tools.Schema { return nil }

func (echoTool) Execute(ctx context.Context, inputs map[string]interface{}) (map[string]interface{}, error) {
	return inputs, nil
}

func TestWrappersEmitChildSpans(t *testing.T) {
	var buf bytes.Buffer
	p, err := New(Config{Enabled: true, ServiceName: "draftforge-test", Writer: &buf})
	require.NoError(t, err)

	ctx, runSpan := p.StartRun(context.Background(), "podcast", "run-3")

	provider := WrapProvider(llm.NewMockProvider())
	resp, err := provider.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.MessageRoleUser, Content: "find podcasts"}},
		Model:    "fast",
	})
	require.NoError(t, err)
	assert.True(t, resp.Mock)
	assert.Equal(t, "mock", provider.Name())

	tool := WrapTool(echoTool{})
	assert.Equal(t, "echo", tool.Name())
	_, err = tool.Execute(ctx, map[string]interface{}{"q": "ai"})
	require.NoError(t, err)

	EndSpan(runSpan, nil)
	require.NoError(t, p.Shutdown(context.Background()))

	out := buf.String()
	assert.Contains(t, out, "llm.complete")
	assert.Contains(t, out, "tool.execute")
	assert.Contains(t, out, "llm.total_tokens")
}
