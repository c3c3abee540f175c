package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pomconv/internal/model"
	"pomconv/internal/service"
)

type fakeConverter struct {
	files model.OutputMapping
	err   error

	gotName, gotSource string
}

func (f *fakeConverter) Run(ctx context.Context, name, source string, observers ...service.StageObserver) model.ConversionResult {
	f.gotName, f.gotSource = name, source
	return model.NewConversionResult("id-1", name, f.files, f.err)
}

func textOf(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	switch c := res.Content[0].(type) {
	case mcp.TextContent:
		return c.Text
	case *mcp.TextContent:
		return c.Text
	}
	t.Fatalf("unexpected content %T", res.Content[0])
	return ""
}

func callRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Name = ConvertToolName
	req.Params.Arguments = args
	return req
}

func TestConvertToolInfo(t *testing.T) {
	info, err := NewConvertTool(&fakeConverter{}).Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ConvertToolName, info.Name)
	assert.Equal(t, convertToolDesc, info.Desc)
	assert.NotNil(t, info.ParamsOneOf)

	mcpTool := newConvertMCPTool()
	assert.Contains(t, mcpTool.InputSchema.Required, "source")
	assert.Contains(t, mcpTool.InputSchema.Properties, "name")
}

func TestConvertToolInvokableRun(t *testing.T) {
	conv := &fakeConverter{files: model.OutputMapping{"pages/a": "a = 1"}}
	out, err := NewConvertTool(conv).InvokableRun(context.Background(), `{"source":"driver.get('x')","name":"a.py"}`)
	require.NoError(t, err)
	assert.Equal(t, "a.py", conv.gotName)
	assert.Equal(t, "driver.get('x')", conv.gotSource)

	var res model.ConversionResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.Succeeded())
	assert.Equal(t, "a = 1", res.Files["pages/a"])

	_, err = NewConvertTool(conv).InvokableRun(context.Background(), `{"name":"a.py"}`)
	assert.Error(t, err)
	_, err = NewConvertTool(conv).InvokableRun(context.Background(), `not json`)
	assert.Error(t, err)
}

func TestConvertHandlerSuccess(t *testing.T) {
	conv := &fakeConverter{files: model.OutputMapping{"tests/test_a": "def test_a(): pass"}}
	handler := ConvertHandler(NewConvertTool(conv))

	res, err := handler(context.Background(), callRequest(map[string]any{"source": "src", "name": "a.py"}))
	require.NoError(t, err)
	assert.False(t, res.IsError)

	var out model.ConversionResult
	require.NoError(t, json.Unmarshal([]byte(textOf(t, res)), &out))
	assert.Equal(t, "def test_a(): pass", out.Files["tests/test_a"])
}

func TestConvertHandlerFailure(t *testing.T) {
	conv := &fakeConverter{err: &model.Error{Kind: model.KindConnectivity, Stage: model.StageAnalyze, Op: "resolve"}}
	handler := ConvertHandler(NewConvertTool(conv))

	res, err := handler(context.Background(), callRequest(map[string]any{"source": "src"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	var body ToolErrorResult
	require.NoError(t, json.Unmarshal([]byte(textOf(t, res)), &body))
	assert.False(t, body.Success)
	assert.Equal(t, ConvertToolName, body.ToolName)
	assert.Equal(t, "analyze", body.Stage)
	assert.Equal(t, "connectivity", body.Kind)

	res, err = handler(context.Background(), callRequest(map[string]any{}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestNewMCPServer(t *testing.T) {
	s := NewMCPServer(NewConvertTool(&fakeConverter{}), "test")
	require.NotNil(t, s)
	assert.Equal(t, ConvertToolName, newConvertMCPTool().Name)
}
