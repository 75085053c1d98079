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
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/draftforge/draftforge/pkg/llm"
	"github.com/draftforge/draftforge/pkg/tools"
)

// WrapProvider adds a span around every completion call. Like
// StartStage, spans are non-recording outside a traced run.
func WrapProvider(p llm.Provider) llm.Provider {
	return &tracedProvider{inner: p}
}

type tracedProvider struct {
	inner llm.Provider
}

func (t *tracedProvider) Name() string { return t.inner.Name() }

func (t *tracedProvider) Capabilities() llm.Capabilities { return t.inner.Capabilities() }

func (t *tracedProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	ctx, span := tracerFrom(ctx).Start(ctx, "llm.complete",
		trace.WithAttributes(
			attribute.String("llm.provider", t.inner.Name()),
			attribute.String("llm.model", req.Model),
		))
	resp, err := t.inner.Complete(ctx, req)
	if resp != nil {
		span.SetAttributes(attribute.Int("llm.total_tokens", resp.Usage.TotalTokens))
	}
	EndSpan(span, err)
	return resp, err
}

// WrapTool adds a span around every tool execution.
func WrapTool(t tools.Tool) tools.Tool {
	return &tracedTool{Tool: t}
}

type tracedTool struct {
	tools.Tool
}

func (t *tracedTool) Execute(ctx context.Context, inputs map[string]interface{}) (map[string]interface{}, error) {
	ctx, span := tracerFrom(ctx).Start(ctx, "tool.execute",
		trace.WithAttributes(attribute.String("tool.name", t.Tool.Name())))
	out, err := t.Tool.Execute(ctx, inputs)
	EndSpan(span, err)
	return out, err
}
