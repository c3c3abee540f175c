package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pomconv/internal/model"
	"pomconv/internal/storage"
	"pomconv/internal/validate"
)

type stubPipeline struct {
	files model.OutputMapping
	err   error
	calls int32
}

func (s *stubPipeline) Convert(ctx context.Context, source string, observers ...StageObserver) (model.OutputMapping, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.err != nil {
		return nil, s.err
	}
	return s.files.Clone(), nil
}

type failingWriter struct{}

func (failingWriter) Init() error  { return nil }
func (failingWriter) Close() error { return nil }

func (failingWriter) Write(context.Context, model.OutputMapping) ([]string, error) {
	return nil, storage.ErrFileOperation
}

func TestRunWritesOnSuccess(t *testing.T) {
	writer := storage.NewMemoryWriter(".py")
	svc := NewConversionService(&stubPipeline{files: model.OutputMapping{"pages/a": "a = 1", "tests/test_a": "assert a"}},
		validate.DefaultRules(), writer)

	var stages []model.Stage
	res := svc.Run(context.Background(), "test_a.py", "source", func(e model.StageEvent) {
		if e.Status == model.StageCompleted {
			stages = append(stages, e.Stage)
		}
	})

	require.True(t, res.Succeeded(), res.Reason)
	assert.NotEmpty(t, res.ID)
	assert.Equal(t, "test_a.py", res.Name)
	assert.Equal(t, []string{"pages/a.py", "tests/test_a.py"}, res.Written)
	assert.Len(t, writer.Files(), 2)
	assert.Equal(t, []model.Stage{model.StageWrite}, stages)
}

func TestRunGateRejectsWholeMapping(t *testing.T) {
	writer := storage.NewMemoryWriter(".py")
	svc := NewConversionService(&stubPipeline{files: model.OutputMapping{"pages/a": "a = 1", "scripts/run": "x"}},
		validate.DefaultRules(), writer)

	res := svc.Run(context.Background(), "x.py", "source")
	assert.False(t, res.Succeeded())
	assert.Equal(t, model.KindValidation.String(), res.Kind)
	assert.Equal(t, model.StageWrite, res.Stage)
	assert.Contains(t, res.Problems, "scripts/run")
	assert.Empty(t, writer.Files(), "nothing written when any key is outside the namespace")
}

func TestRunPipelineFailure(t *testing.T) {
	writer := storage.NewMemoryWriter(".py")
	pipelineErr := &model.Error{Kind: model.KindConnectivity, Stage: model.StageAnalyze, Op: "resolve"}
	svc := NewConversionService(&stubPipeline{err: pipelineErr}, validate.DefaultRules(), writer)

	res := svc.Run(context.Background(), "x.py", "source")
	assert.False(t, res.Succeeded())
	assert.Equal(t, model.StageAnalyze, res.Stage)
	assert.Equal(t, "connectivity", res.Kind)
	assert.True(t, errors.Is(res.Err, pipelineErr))
	assert.Empty(t, writer.Files())
}

func TestRunWriterFailure(t *testing.T) {
	svc := NewConversionService(&stubPipeline{files: model.OutputMapping{"pages/a": "a = 1"}},
		validate.DefaultRules(), failingWriter{})

	res := svc.Run(context.Background(), "x.py", "source")
	assert.False(t, res.Succeeded())
	assert.Equal(t, model.StageWrite, res.Stage)
	assert.ErrorIs(t, res.Err, storage.ErrFileOperation)
}

func TestRunWithoutWriter(t *testing.T) {
	svc := NewConversionService(&stubPipeline{files: model.OutputMapping{"pages/a": "a = 1"}}, validate.DefaultRules(), nil)
	res := svc.Run(context.Background(), "x.py", "source")
	assert.True(t, res.Succeeded())
	assert.Empty(t, res.Written)
	assert.Equal(t, "a = 1", res.Files["pages/a"])
}

func writeSources(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte("driver.get('"+name+"')\n"), 0644))
	}
}

func TestCollectSources(t *testing.T) {
	dir := t.TempDir()
	writeSources(t, dir, "b_test.py", "a_test.py", "nested/c_test.py", "README.md", ".hidden/d_test.py")

	sources, err := CollectSources(dir, ".py")
	require.NoError(t, err)
	var names []string
	for _, s := range sources {
		rel, _ := filepath.Rel(dir, s.Path)
		names = append(names, filepath.ToSlash(rel))
	}
	assert.Equal(t, []string{"a_test.py", "b_test.py", "nested/c_test.py"}, names)

	single, err := CollectSources(filepath.Join(dir, "README.md"), ".py")
	require.NoError(t, err)
	assert.Len(t, single, 1)

	_, err = CollectSources(filepath.Join(dir, "missing"), ".py")
	assert.Equal(t, model.KindInvalidInput, model.KindOf(err))
}

// sourceRunner fails bad_test.py and tracks peak concurrency.
type sourceRunner struct {
	active, peak int32
}

func (r *sourceRunner) Run(ctx context.Context, name, source string, observers ...StageObserver) model.ConversionResult {
	n := atomic.AddInt32(&r.active, 1)
	defer atomic.AddInt32(&r.active, -1)
	for {
		peak := atomic.LoadInt32(&r.peak)
		if n <= peak || atomic.CompareAndSwapInt32(&r.peak, peak, n) {
			break
		}
	}
	time.Sleep(10 * time.Millisecond)

	if filepath.Base(name) == "bad_test.py" {
		return model.NewConversionResult("id", name, nil, &model.Error{Kind: model.KindValidation, Op: "validate"})
	}
	return model.NewConversionResult("id", name, model.OutputMapping{"pages/x": source}, nil)
}

func TestBatchRun(t *testing.T) {
	dir := t.TempDir()
	writeSources(t, dir, "a_test.py", "bad_test.py", "c_test.py", "d_test.py", "e_test.py")
	sources, err := CollectSources(dir, ".py")
	require.NoError(t, err)

	runner := &sourceRunner{}
	report, err := NewBatch(runner, 2).Run(context.Background(), sources)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad_test.py")

	assert.Equal(t, 4, report.Succeeded)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Results, 5)
	assert.Equal(t, sources[0].Path, report.Results[0].Name)
	assert.LessOrEqual(t, atomic.LoadInt32(&runner.peak), int32(2))
}

func TestBatchRunAllSucceed(t *testing.T) {
	dir := t.TempDir()
	writeSources(t, dir, "a_test.py")
	sources, err := CollectSources(dir, ".py")
	require.NoError(t, err)

	report, err := NewBatch(&sourceRunner{}, 0).Run(context.Background(), sources)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)
}

type chanSource struct{ ch chan string }

func (c chanSource) Watch(context.Context, string) (<-chan string, error) { return c.ch, nil }

func TestBatchWatch(t *testing.T) {
	dir := t.TempDir()
	writeSources(t, dir, "a_test.py", "bad_test.py")

	src := chanSource{ch: make(chan string, 2)}
	src.ch <- filepath.Join(dir, "a_test.py")
	src.ch <- filepath.Join(dir, "bad_test.py")
	close(src.ch)

	var ok, failed int32
	err := NewBatch(&sourceRunner{}, 2).Watch(context.Background(), src, dir, func(res model.ConversionResult) {
		if res.Succeeded() {
			atomic.AddInt32(&ok, 1)
		} else {
			atomic.AddInt32(&failed, 1)
		}
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, ok)
	assert.EqualValues(t, 1, failed)
}
