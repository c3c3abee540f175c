package model

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/sashabaranov/go-openai/jsonschema"
)

const (
	chatCompletionsPath = "/v1/chat/completions"
	modelsPath          = "/v1/models"
)

// Endpoint is a resolved backend base address (scheme://host:port).
type Endpoint struct {
	BaseURL string `json:"base_url"`
}

func (e Endpoint) ChatURL() string {
	return e.BaseURL + chatCompletionsPath
}

func (e Endpoint) ModelsURL() string {
	return e.BaseURL + modelsPath
}

// ChatRequest is one chat exchange. Values are not mutated after construction;
// WithJSONReminder returns a copy.
type ChatRequest struct {
	Model       string
	Messages    []*schema.Message
	Temperature float32
	TopP        float32
	MaxTokens   int
	// Schema requests backend-enforced structured output.
	Schema     *jsonschema.Definition
	SchemaName string
	// JSONMode requests json_object output when no Schema is set.
	JSONMode bool
}

// WithJSONReminder returns the same conversation with reminder appended as a
// user turn and every structured-output constraint removed.
func (r ChatRequest) WithJSONReminder(reminder string) ChatRequest {
	msgs := make([]*schema.Message, 0, len(r.Messages)+1)
	msgs = append(msgs, r.Messages...)
	msgs = append(msgs, schema.UserMessage(reminder))
	r.Messages = msgs
	r.Schema = nil
	r.SchemaName = ""
	r.JSONMode = false
	return r
}

// MappingSchemaName is the response_format name sent with MappingSchema.
const MappingSchemaName = "output_mapping"

// MappingSchema describes an object of string values keyed by file path.
func MappingSchema() *jsonschema.Definition {
	return &jsonschema.Definition{
		Type:                 jsonschema.Object,
		Description:          "Map of output file keys (path without extension) to file contents.",
		AdditionalProperties: &jsonschema.Definition{Type: jsonschema.String},
	}
}

// OutputMapping maps namespaced file keys (no extension) to source text.
type OutputMapping map[string]string

// Keys returns the keys in sorted order.
func (m OutputMapping) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (m OutputMapping) Clone() OutputMapping {
	out := make(OutputMapping, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// JSON renders the mapping for use as conversation context.
func (m OutputMapping) JSON() string {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

// Stage names one step of the conversion pipeline.
type Stage string

const (
	StageAnalyze  Stage = "analyze"
	StageBuild    Stage = "build"
	StageValidate Stage = "validate"
	StageRebuild  Stage = "rebuild"
	StageWrite    Stage = "write"
)

type StageStatus string

const (
	StageStarted   StageStatus = "started"
	StageCompleted StageStatus = "completed"
	StageFailed    StageStatus = "failed"
)

// Truncate shortens s to at most n runes, marking the cut.
func Truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n])) + "…"
}
