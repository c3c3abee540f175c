package model

import (
	"github.com/cloudwego/eino/schema"
	openai "github.com/sashabaranov/go-openai"
)

// ChatPayload is the wire body of a chat completion. Temperature shadows the
// embedded omitempty field so a configured 0 is still sent.
type ChatPayload struct {
	openai.ChatCompletionRequest
	Temperature *float32 `json:"temperature,omitempty"`
}

// ToOpenAI builds the chat-completions payload for r. With completionTokens
// the budget is sent as max_completion_tokens and sampling parameters are
// left to the backend, as current OpenAI models reject them.
func (r ChatRequest) ToOpenAI(completionTokens bool) ChatPayload {
	var payload ChatPayload
	req := &payload.ChatCompletionRequest
	req.Model = r.Model
	req.Messages = convertMessages(r.Messages)
	if completionTokens {
		req.MaxCompletionTokens = r.MaxTokens
	} else {
		temperature := r.Temperature
		payload.Temperature = &temperature
		req.MaxTokens = r.MaxTokens
		req.TopP = r.TopP
	}

	switch {
	case r.Schema != nil:
		name := r.SchemaName
		if name == "" {
			name = MappingSchemaName
		}
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   name,
				Schema: r.Schema,
			},
		}
	case r.JSONMode:
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	return payload
}

// convertMessages maps eino messages onto the OpenAI roles. Empty messages are
// dropped: an unset system prompt means the backend preset applies.
func convertMessages(messages []*schema.Message) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		if msg == nil || msg.Content == "" {
			continue
		}
		role := openai.ChatMessageRoleUser
		switch msg.Role {
		case schema.Assistant:
			role = openai.ChatMessageRoleAssistant
		case schema.System:
			role = openai.ChatMessageRoleSystem
		}
		result = append(result, openai.ChatCompletionMessage{
			Role:    role,
			Content: msg.Content,
		})
	}
	return result
}
