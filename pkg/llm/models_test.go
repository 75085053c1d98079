package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCatalog = []ModelInfo{
	{ID: "tiny-1", Tier: ModelTierFast},
	{ID: "mid-1", Tier: ModelTierBalanced},
	{ID: "big-1", Tier: ModelTierStrategic},
}

func TestGetModelByTier(t *testing.T) {
	m := GetModelByTier(testCatalog, ModelTierStrategic)
	require.NotNil(t, m)
	assert.Equal(t, "big-1", m.ID)

	assert.Nil(t, GetModelByTier(nil, ModelTierFast))
}

func TestGetModelByID(t *testing.T) {
	m := GetModelByID(testCatalog, "mid-1")
	require.NotNil(t, m)
	assert.Equal(t, ModelTierBalanced, m.Tier)

	assert.Nil(t, GetModelByID(testCatalog, "unknown"))
}

func TestResolveModel(t *testing.T) {
	tests := []struct {
		name      string
		requested string
		want      string
	}{
		{name: "empty defaults to balanced", requested: "", want: "mid-1"},
		{name: "fast tier", requested: "fast", want: "tiny-1"},
		{name: "strategic tier", requested: "strategic", want: "big-1"},
		{name: "concrete id passes through", requested: "mid-1", want: "mid-1"},
		{name: "unknown id passes through", requested: "custom-model", want: "custom-model"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveModel(testCatalog, tt.requested))
		})
	}
}

func TestTokenUsage_Add(t *testing.T) {
	var total TokenUsage
	total.Add(TokenUsage{InputTokens: 10, OutputTokens: 20, TotalTokens: 30})
	total.Add(TokenUsage{InputTokens: 5, OutputTokens: 5, TotalTokens: 10})

	assert.Equal(t, 15, total.InputTokens)
	assert.Equal(t, 25, total.OutputTokens)
	assert.Equal(t, 40, total.TotalTokens)
}
