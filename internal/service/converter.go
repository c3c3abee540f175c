package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"pomconv/internal/config"
	"pomconv/internal/extract"
	"pomconv/internal/model"
	"pomconv/internal/validate"
	"pomconv/pkg/logger"
)

// ChatInvoker performs one chat exchange and returns the reply text.
type ChatInvoker interface {
	Chat(ctx context.Context, req model.ChatRequest) (string, error)
}

// StageObserver receives pipeline transitions as they happen.
type StageObserver func(model.StageEvent)

const (
	nodeAnalyze  = "Analyze"
	nodeBuild    = "Build"
	nodeValidate = "Validate"
	nodeRebuild  = "Rebuild"
)

// conversion is the state carried through the pipeline graph.
type conversion struct {
	id        string
	source    string
	analysis  string
	output    map[string]any
	clean     model.OutputMapping
	problems  map[string]string
	rebuilt   bool
	observers []StageObserver
	err       error
}

// Converter runs ANALYZE, BUILD and VALIDATE, with a single REBUILD when the
// first VALIDATE fails. It holds no per-conversion state and is safe to share.
type Converter struct {
	cfg    config.PipelineConfig
	rules  validate.Rules
	syntax validate.SyntaxChecker
	llm    ChatInvoker

	analyzeTpl prompt.ChatTemplate
	buildTpl   prompt.ChatTemplate
	graph      compose.Runnable[*conversion, *conversion]
}

func NewConverter(ctx context.Context, cfg config.PipelineConfig, rules validate.Rules, llm ChatInvoker) (*Converter, error) {
	c := &Converter{
		cfg:        cfg,
		rules:      rules,
		llm:        llm,
		analyzeTpl: newStagePrompt(cfg.AnalyzePrompt),
		buildTpl:   newStagePrompt(cfg.BuildPrompt),
	}
	if cfg.ValidateSyntax {
		c.syntax = validate.PythonSyntax
	}
	if c.cfg.JSONReminder == "" {
		c.cfg.JSONReminder = config.DefaultJSONReminder
	}
	if c.cfg.RebuildPrompt == "" {
		c.cfg.RebuildPrompt = config.DefaultRebuildPrompt
	}

	graph, err := c.composeGraph(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compose pipeline graph: %w", err)
	}
	c.graph = graph
	return c, nil
}

func (c *Converter) composeGraph(ctx context.Context) (compose.Runnable[*conversion, *conversion], error) {
	g := compose.NewGraph[*conversion, *conversion]()

	if err := g.AddLambdaNode(nodeAnalyze, compose.InvokableLambda(c.analyze)); err != nil {
		return nil, err
	}
	if err := g.AddLambdaNode(nodeBuild, compose.InvokableLambda(c.build)); err != nil {
		return nil, err
	}
	if err := g.AddLambdaNode(nodeValidate, compose.InvokableLambda(c.validate)); err != nil {
		return nil, err
	}
	if err := g.AddLambdaNode(nodeRebuild, compose.InvokableLambda(c.rebuild)); err != nil {
		return nil, err
	}

	if err := g.AddEdge(compose.START, nodeAnalyze); err != nil {
		return nil, err
	}
	if err := g.AddEdge(nodeAnalyze, nodeBuild); err != nil {
		return nil, err
	}
	if err := g.AddEdge(nodeBuild, nodeValidate); err != nil {
		return nil, err
	}
	err := g.AddBranch(nodeValidate, compose.NewGraphBranch(func(ctx context.Context, conv *conversion) (string, error) {
		if len(conv.problems) == 0 {
			return compose.END, nil
		}
		return nodeRebuild, nil
	}, map[string]bool{compose.END: true, nodeRebuild: true}))
	if err != nil {
		return nil, err
	}
	if err := g.AddEdge(nodeRebuild, nodeValidate); err != nil {
		return nil, err
	}

	return g.Compile(ctx, compose.WithGraphName("conversion"))
}

type conversionIDKey struct{}

// WithConversionID tags ctx so stage events and logs carry id.
func WithConversionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, conversionIDKey{}, id)
}

func conversionID(ctx context.Context) string {
	if id, ok := ctx.Value(conversionIDKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.NewString()
}

// Convert turns Selenium test source into a validated output mapping.
func (c *Converter) Convert(ctx context.Context, source string, observers ...StageObserver) (model.OutputMapping, error) {
	if strings.TrimSpace(source) == "" {
		return nil, &model.Error{Kind: model.KindInvalidInput, Op: "convert", Err: errors.New("no input test code provided")}
	}

	conv := &conversion{
		id:        conversionID(ctx),
		source:    source,
		observers: observers,
	}
	out, err := c.graph.Invoke(ctx, conv)
	if conv.err != nil {
		return nil, conv.err
	}
	if err != nil {
		return nil, &model.Error{Kind: model.KindUnknown, Op: "convert", Err: err}
	}
	return out.clean, nil
}

func (c *Converter) analyze(ctx context.Context, conv *conversion) (*conversion, error) {
	c.begin(conv, model.StageAnalyze)
	messages, err := renderPrompt(ctx, c.analyzeTpl, conv.source, nil)
	if err != nil {
		return conv, c.fail(conv, model.StageAnalyze, &model.Error{Kind: model.KindConfiguration, Op: "analyze prompt", Err: err})
	}
	obj, err := c.invoke(ctx, conv, model.StageAnalyze, c.cfg.AnalyzeModel, c.cfg.AnalyzeTemperature, messages)
	if err != nil {
		return conv, c.fail(conv, model.StageAnalyze, err)
	}

	data, err := json.MarshalIndent(obj, "", "  ")
	if err != nil {
		return conv, c.fail(conv, model.StageAnalyze, &model.Error{Kind: model.KindMalformedResponse, Op: "encode analysis", Err: err})
	}
	conv.analysis = string(data)
	c.complete(conv, model.StageAnalyze, fmt.Sprintf("%d entries", len(obj)), conv.analysis)
	return conv, nil
}

func (c *Converter) build(ctx context.Context, conv *conversion) (*conversion, error) {
	return c.generate(ctx, conv, model.StageBuild, nil)
}

func (c *Converter) rebuild(ctx context.Context, conv *conversion) (*conversion, error) {
	conv.rebuilt = true
	previous, _ := json.MarshalIndent(conv.output, "", "  ")
	feedback := rebuildFeedback(c.cfg.RebuildPrompt, string(previous), conv.problems)
	return c.generate(ctx, conv, model.StageRebuild, feedback)
}

func (c *Converter) generate(ctx context.Context, conv *conversion, stage model.Stage, feedback []*schema.Message) (*conversion, error) {
	c.begin(conv, stage)
	messages, err := renderPrompt(ctx, c.buildTpl, conv.analysis, feedback)
	if err != nil {
		return conv, c.fail(conv, stage, &model.Error{Kind: model.KindConfiguration, Op: "build prompt", Err: err})
	}
	obj, err := c.invoke(ctx, conv, stage, c.cfg.BuildModel, c.cfg.BuildTemperature, messages)
	if err != nil {
		return conv, c.fail(conv, stage, err)
	}
	conv.output = obj
	c.complete(conv, stage, fmt.Sprintf("%d entries", len(obj)), model.Truncate(fmt.Sprint(sortedKeys(obj)), c.cfg.LogPayloadChars))
	return conv, nil
}

func (c *Converter) validate(ctx context.Context, conv *conversion) (*conversion, error) {
	c.begin(conv, model.StageValidate)

	clean, problems := c.rules.Validate(conv.output)
	keys := make([]string, 0, len(conv.output))
	for k := range conv.output {
		keys = append(keys, strings.TrimSpace(k))
	}
	if err := c.rules.Gate(keys); err != nil {
		mergeProblems(problems, model.ProblemsOf(err))
	}
	if len(clean) == 0 && len(problems) == 0 {
		problems[validate.RootKey] = "mapping is empty"
	}
	mergeProblems(problems, validate.CheckSyntax(clean, c.syntax))

	conv.clean = clean
	conv.problems = problems
	if len(problems) == 0 {
		c.complete(conv, model.StageValidate, fmt.Sprintf("%d file(s) valid", len(clean)), strings.Join(clean.Keys(), ", "))
		return conv, nil
	}

	detail := fmt.Sprintf("%d problem(s)", len(problems))
	if !conv.rebuilt {
		c.log(conv, model.StageValidate).Warnf("validation failed with %s, rebuilding: %s", detail,
			model.Truncate(validate.FormatProblems(problems), c.cfg.LogPayloadChars))
		c.emit(conv, model.StageValidate, model.StageFailed, detail)
		return conv, nil
	}
	return conv, c.fail(conv, model.StageValidate, &model.Error{
		Kind:     model.KindValidation,
		Op:       "validate",
		Problems: problems,
		Err:      errors.New("output still invalid after rebuild"),
	})
}

// invoke sends a schema-constrained request and extracts its mapping. When
// the reply cannot be used it asks once more with a plain JSON instruction
// and no response_format.
func (c *Converter) invoke(ctx context.Context, conv *conversion, stage model.Stage, modelName string, temperature float32, messages []*schema.Message) (map[string]any, error) {
	req := model.ChatRequest{
		Model:       modelName,
		Messages:    messages,
		Temperature: temperature,
		TopP:        c.cfg.TopP,
		MaxTokens:   c.cfg.MaxTokens,
		Schema:      model.MappingSchema(),
		SchemaName:  model.MappingSchemaName,
	}

	raw, err := c.llm.Chat(ctx, req)
	if err == nil {
		c.log(conv, stage).Debugf("response: %s", model.Truncate(raw, c.cfg.LogPayloadChars))
		var obj map[string]any
		if obj, err = extract.Mapping(raw); err == nil {
			return obj, nil
		}
	}
	if model.KindOf(err) != model.KindMalformedResponse {
		return nil, err
	}

	c.log(conv, stage).Warnf("structured reply unusable (%v), retrying with plain JSON instruction", err)
	raw, err = c.llm.Chat(ctx, req.WithJSONReminder(c.cfg.JSONReminder))
	if err != nil {
		return nil, err
	}
	c.log(conv, stage).Debugf("response: %s", model.Truncate(raw, c.cfg.LogPayloadChars))
	return extract.Mapping(raw)
}

func (c *Converter) log(conv *conversion, stage model.Stage) *logrus.Entry {
	return logger.WithFields(logrus.Fields{"conversion": conv.id, "stage": string(stage)})
}

func (c *Converter) begin(conv *conversion, stage model.Stage) {
	c.log(conv, stage).Info("stage started")
	c.emit(conv, stage, model.StageStarted, "")
}

func (c *Converter) complete(conv *conversion, stage model.Stage, detail, payload string) {
	c.log(conv, stage).Infof("stage completed: %s: %s", detail, model.Truncate(payload, c.cfg.LogPayloadChars))
	c.emit(conv, stage, model.StageCompleted, detail)
}

func (c *Converter) fail(conv *conversion, stage model.Stage, err error) error {
	err = model.WithStage(err, stage)
	conv.err = err
	c.log(conv, stage).Errorf("stage failed: %v", err)
	c.emit(conv, stage, model.StageFailed, err.Error())
	return err
}

func (c *Converter) emit(conv *conversion, stage model.Stage, status model.StageStatus, detail string) {
	if len(conv.observers) == 0 {
		return
	}
	event := model.StageEvent{
		ConversionID: conv.id,
		Stage:        stage,
		Status:       status,
		Detail:       detail,
		Timestamp:    time.Now(),
	}
	for _, observe := range conv.observers {
		if observe != nil {
			observe(event)
		}
	}
}

func mergeProblems(dst, src map[string]string) {
	for k, v := range src {
		if _, ok := dst[k]; !ok {
			dst[k] = v
		}
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
