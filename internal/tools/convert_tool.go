package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"pomconv/internal/model"
	"pomconv/internal/service"
)

const ConvertToolName = "convert_selenium_test"

const convertToolDesc = "Convert a Selenium (Python) UI test into Playwright + pytest code using the Page Object Model. " +
	"Returns the generated files keyed by path without extension (pages/..., tests/..., conftest), " +
	"or the failing stage and the reason."

// Converter runs one conversion and reports its result.
type Converter interface {
	Run(ctx context.Context, name, source string, observers ...service.StageObserver) model.ConversionResult
}

type convertArgs struct {
	Source string `json:"source"`
	Name   string `json:"name"`
}

// ConvertTool implements tool.InvokableTool for test conversion.
type ConvertTool struct {
	converter Converter
}

func NewConvertTool(converter Converter) *ConvertTool {
	return &ConvertTool{converter: converter}
}

func (t *ConvertTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: ConvertToolName,
		Desc: convertToolDesc,
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"source": {
				Type:     schema.String,
				Desc:     "Full Python source of the Selenium test file",
				Required: true,
			},
			"name": {
				Type: schema.String,
				Desc: "Label for the conversion, usually the source file name",
			},
		}),
	}, nil
}

// InvokableRun converts the source in argumentsInJSON. A failed conversion is
// still a successful tool call; its result carries status "failure".
func (t *ConvertTool) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...tool.Option) (string, error) {
	var args convertArgs
	if err := json.Unmarshal([]byte(argumentsInJSON), &args); err != nil {
		return "", fmt.Errorf("failed to parse arguments: %w", err)
	}
	if args.Source == "" {
		return "", fmt.Errorf("argument %q is required", "source")
	}

	result := t.converter.Run(ctx, args.Name, args.Source)
	data, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("failed to encode result: %w", err)
	}
	return string(data), nil
}

var _ tool.InvokableTool = (*ConvertTool)(nil)
