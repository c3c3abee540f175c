package service

import (
	"context"
	"strings"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"pomconv/internal/validate"
)

const (
	inputKey    = "input"
	feedbackKey = "feedback"
)

var braceEscaper = strings.NewReplacer("{", "{{", "}", "}}")

// newStagePrompt builds the template shared by every stage: the configured
// system prompt, the stage input as the user turn, and optional feedback turns
// appended after it. System prompts are taken literally; their braces are not
// template variables.
func newStagePrompt(system string) prompt.ChatTemplate {
	return prompt.FromMessages(schema.FString,
		schema.SystemMessage(braceEscaper.Replace(system)),
		schema.UserMessage("{"+inputKey+"}"),
		schema.MessagesPlaceholder(feedbackKey, true),
	)
}

func renderPrompt(ctx context.Context, tpl prompt.ChatTemplate, input string, feedback []*schema.Message) ([]*schema.Message, error) {
	vars := map[string]any{inputKey: input}
	if len(feedback) > 0 {
		vars[feedbackKey] = feedback
	}
	return tpl.Format(ctx, vars)
}

// rebuildFeedback replays the rejected output and asks for a corrected one.
func rebuildFeedback(instruction, previous string, problems map[string]string) []*schema.Message {
	var b strings.Builder
	b.WriteString(instruction)
	if len(problems) > 0 {
		b.WriteString("\n\nProblems found:\n")
		b.WriteString(validate.FormatProblems(problems))
	}
	return []*schema.Message{
		schema.AssistantMessage(previous, nil),
		schema.UserMessage(b.String()),
	}
}
