package service

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/multierr"

	"pomconv/internal/model"
	"pomconv/pkg/logger"
)

// Runner converts one named source.
type Runner interface {
	Run(ctx context.Context, name, source string, observers ...StageObserver) model.ConversionResult
}

// Source is one input file for a batch.
type Source struct {
	Path string
}

// Report summarizes a batch run. Results follow the order of the sources.
type Report struct {
	Results   []model.ConversionResult `json:"results"`
	Succeeded int                      `json:"succeeded"`
	Failed    int                      `json:"failed"`
}

// Batch converts many source files with bounded concurrency.
type Batch struct {
	runner      Runner
	concurrency int
}

func NewBatch(runner Runner, concurrency int) *Batch {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Batch{runner: runner, concurrency: concurrency}
}

// CollectSources returns path itself when it is a file, or every file with
// extension ext beneath it when it is a directory, sorted by path.
func CollectSources(path, ext string) ([]Source, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &model.Error{Kind: model.KindInvalidInput, Op: "collect sources", Err: err}
	}
	if !info.IsDir() {
		return []Source{{Path: path}}, nil
	}

	var sources []Source
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != path && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if ext == "" || strings.EqualFold(filepath.Ext(p), ext) {
			sources = append(sources, Source{Path: p})
		}
		return nil
	})
	if err != nil {
		return nil, &model.Error{Kind: model.KindInvalidInput, Op: "collect sources", Err: err}
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i].Path < sources[j].Path })
	return sources, nil
}

// Run converts every source. The error aggregates one entry per failed file
// and is nil only when all succeeded.
func (b *Batch) Run(ctx context.Context, sources []Source) (*Report, error) {
	report := &Report{Results: make([]model.ConversionResult, len(sources))}

	p := pool.New().WithMaxGoroutines(b.concurrency)
	for i, src := range sources {
		p.Go(func() {
			report.Results[i] = b.convertFile(ctx, src.Path)
		})
	}
	p.Wait()

	var errs error
	for _, res := range report.Results {
		if res.Succeeded() {
			report.Succeeded++
			continue
		}
		report.Failed++
		errs = multierr.Append(errs, fmt.Errorf("%s: %w", res.Name, res.Err))
	}
	logger.Infof("Batch finished: %d succeeded, %d failed", report.Succeeded, report.Failed)
	return report, errs
}

func (b *Batch) convertFile(ctx context.Context, path string) model.ConversionResult {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.NewConversionResult("", path, nil, &model.Error{Kind: model.KindInvalidInput, Op: "read source", Err: err})
	}
	return b.runner.Run(ctx, path, string(data))
}

// PathSource yields paths to convert, such as a watcher's output channel.
type PathSource interface {
	Watch(ctx context.Context, dir string) (<-chan string, error)
}

// Watch converts each path the source reports under dir until ctx is done.
// onResult, if set, is called after every conversion. Conversions of the same
// path never overlap.
func (b *Batch) Watch(ctx context.Context, src PathSource, dir string, onResult func(model.ConversionResult)) error {
	paths, err := src.Watch(ctx, dir)
	if err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	logger.Infof("Watching %s for changes", dir)

	var locks sync.Map
	p := pool.New().WithMaxGoroutines(b.concurrency)
	for path := range paths {
		p.Go(func() {
			mu, _ := locks.LoadOrStore(path, &sync.Mutex{})
			mu.(*sync.Mutex).Lock()
			defer mu.(*sync.Mutex).Unlock()

			res := b.convertFile(ctx, path)
			if onResult != nil {
				onResult(res)
			}
		})
	}
	p.Wait()
	return ctx.Err()
}
