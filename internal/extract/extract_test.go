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

package extract

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJSON(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    map[string]interface{}
		wantErr bool
	}{
		{
			name: "plain JSON",
			raw:  `{"score": 0.9}`,
			want: map[string]interface{}{"score": 0.9},
		},
		{
			name: "fenced JSON",
			raw:  "```json\n{\"score\": 0.9}\n```",
			want: map[string]interface{}{"score": 0.9},
		},
		{
			name: "fence without language tag",
			raw:  "```\n{\"ok\": true}\n```",
			want: map[string]interface{}{"ok": true},
		},
		{
			name: "prose before and after",
			raw:  "Here is my analysis:\n{\"verdict\": \"promising\"}\nLet me know if you need more.",
			want: map[string]interface{}{"verdict": "promising"},
		},
		{
			name: "nested objects",
			raw:  `{"outer": {"inner": [1, 2]}}`,
			want: map[string]interface{}{"outer": map[string]interface{}{"inner": []interface{}{1.0, 2.0}}},
		},
		{
			name: "braces inside strings",
			raw:  `{"text": "a { tricky } value"}`,
			want: map[string]interface{}{"text": "a { tricky } value"},
		},
		{
			name:    "no JSON at all",
			raw:     "I could not produce structured output.",
			wantErr: true,
		},
		{
			name:    "unterminated object",
			raw:     `{"oops": "never closed"`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got map[string]interface{}
			err := ParseJSON(tt.raw, &got)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseJSON_Array(t *testing.T) {
	var got []string
	err := ParseJSON("The keywords are:\n```json\n[\"seo\", \"growth\"]\n```", &got)
	require.NoError(t, err)
	assert.Equal(t, []string{"seo", "growth"}, got)
}

func TestParseJSONMap(t *testing.T) {
	got, err := ParseJSONMap(`{"confidence": 0.75, "is_valid": true}`)
	require.NoError(t, err)
	assert.Equal(t, 0.75, got["confidence"])
	assert.Equal(t, true, got["is_valid"])
}

func TestStripCodeFences(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "no fence", raw: "plain text", want: "plain text"},
		{name: "json fence", raw: "```json\n{}\n```", want: "{}"},
		{name: "bare fence", raw: "```\nhello\n```", want: "hello"},
		{name: "fence after prose", raw: "Sure!\n```json\n{\"a\":1}\n```", want: "{\"a\":1}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripCodeFences(tt.raw))
		})
	}
}

func TestQueryExecutor_Query(t *testing.T) {
	e := NewQueryExecutor(0, 0)

	data := map[string]interface{}{
		"personas": []interface{}{
			map[string]interface{}{"name": "Ada"},
			map[string]interface{}{"name": "Grace"},
		},
	}

	result, err := e.Query(context.Background(), ".personas[0].name", data)
	require.NoError(t, err)
	assert.Equal(t, "Ada", result)

	// Multiple results collect into a slice.
	result, err = e.Query(context.Background(), ".personas[].name", data)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"Ada", "Grace"}, result)

	// Empty expression passes data through.
	result, err = e.Query(context.Background(), "", data)
	require.NoError(t, err)
	assert.Equal(t, data, result)
}

func TestQueryExecutor_ParseError(t *testing.T) {
	e := NewQueryExecutor(0, 0)
	_, err := e.Query(context.Background(), ".[unclosed", map[string]interface{}{})
	assert.Error(t, err)
}

func TestQueryExecutor_Validate(t *testing.T) {
	e := NewQueryExecutor(0, 0)
	assert.NoError(t, e.Validate(".foo.bar"))
	assert.NoError(t, e.Validate(""))
	assert.Error(t, e.Validate(".[bad"))
}

func TestQueryExecutor_InputSizeLimit(t *testing.T) {
	e := NewQueryExecutor(time.Second, 16)
	_, err := e.Query(context.Background(), ".", map[string]interface{}{
		"big": "this value is definitely longer than sixteen bytes",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds maximum")
}
