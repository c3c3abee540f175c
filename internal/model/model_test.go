package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEndpointURLs(t *testing.T) {
	ep := Endpoint{BaseURL: "http://localhost:1234"}
	assert.Equal(t, "http://localhost:1234/v1/chat/completions", ep.ChatURL())
	assert.Equal(t, "http://localhost:1234/v1/models", ep.ModelsURL())
}

func TestWithJSONReminderCopies(t *testing.T) {
	orig := ChatRequest{
		Model:    "m",
		Messages: []*schema.Message{schema.UserMessage("source")},
		Schema:   MappingSchema(),
		JSONMode: true,
	}
	next := orig.WithJSONReminder("json only")

	require.Len(t, orig.Messages, 1)
	require.Len(t, next.Messages, 2)
	assert.Equal(t, "json only", next.Messages[1].Content)
	assert.Nil(t, next.Schema)
	assert.False(t, next.JSONMode)
	assert.NotNil(t, orig.Schema)
}

func TestToOpenAISchemaPayload(t *testing.T) {
	req := ChatRequest{
		Model: "qwen/qwen3-coder-30b",
		Messages: []*schema.Message{
			schema.SystemMessage(""),
			schema.SystemMessage("convert"),
			schema.UserMessage("code"),
		},
		Temperature: 0.2,
		MaxTokens:   4096,
		Schema:      MappingSchema(),
	}
	data, err := json.Marshal(req.ToOpenAI(false))
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(data, &wire))
	assert.Equal(t, "qwen/qwen3-coder-30b", wire["model"])
	assert.EqualValues(t, 4096, wire["max_tokens"])
	assert.Len(t, wire["messages"], 2)

	format := wire["response_format"].(map[string]any)
	assert.Equal(t, "json_schema", format["type"])
	js := format["json_schema"].(map[string]any)
	assert.Equal(t, MappingSchemaName, js["name"])
	assert.Equal(t, "object", js["schema"].(map[string]any)["type"])
}

func TestToOpenAISendsZeroTemperature(t *testing.T) {
	req := ChatRequest{Model: "m", Messages: []*schema.Message{schema.UserMessage("x")}, TopP: 1, MaxTokens: 10}
	data, err := json.Marshal(req.ToOpenAI(false))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"temperature":0`)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(data, &wire))
	assert.EqualValues(t, 0, wire["temperature"])
	assert.EqualValues(t, 1, wire["top_p"])

	req.Temperature = 0.2
	data, err = json.Marshal(req.ToOpenAI(false))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &wire))
	assert.InDelta(t, 0.2, wire["temperature"], 1e-6)
}

func TestToOpenAICompletionTokens(t *testing.T) {
	req := ChatRequest{Model: "gpt", Messages: []*schema.Message{schema.UserMessage("x")}, Temperature: 0.5, MaxTokens: 100, JSONMode: true}
	data, err := json.Marshal(req.ToOpenAI(true))
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(data, &wire))
	assert.EqualValues(t, 100, wire["max_completion_tokens"])
	assert.NotContains(t, wire, "max_tokens")
	assert.NotContains(t, wire, "temperature")
	assert.Equal(t, "json_object", wire["response_format"].(map[string]any)["type"])
}

func TestErrorKindAndStage(t *testing.T) {
	base := &Error{Kind: KindValidation, Problems: map[string]string{"lib/x": "disallowed path"}}
	wrapped := fmt.Errorf("convert: %w", WithStage(base, StageRebuild))

	assert.Equal(t, KindValidation, KindOf(wrapped))
	assert.Equal(t, "disallowed path", ProblemsOf(wrapped)["lib/x"])
	assert.Contains(t, wrapped.Error(), "rebuild: validation")
	assert.Contains(t, wrapped.Error(), "lib/x: disallowed path")
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Empty(t, base.Stage)
}

func TestNewConversionResult(t *testing.T) {
	ok := NewConversionResult("id-1", "login", OutputMapping{"pages/login": "x=1"}, nil)
	assert.True(t, ok.Succeeded())
	assert.Empty(t, ok.Reason)

	failed := NewConversionResult("id-2", "login", nil, WithStage(&Error{Kind: KindTransport, Attempts: 3}, StageBuild))
	assert.False(t, failed.Succeeded())
	assert.Equal(t, StageBuild, failed.Stage)
	assert.Equal(t, "transport", failed.Kind)
	assert.Nil(t, failed.Files)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 5))
	assert.Equal(t, "ab…", Truncate("abcdef", 2))
	assert.Equal(t, "abcdef", Truncate("abcdef", 0))
}
