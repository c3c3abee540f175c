package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"pomconv/internal/config"
	"pomconv/internal/llm"
	"pomconv/internal/model"
	"pomconv/internal/service"
	"pomconv/internal/storage"
	"pomconv/internal/utils"
	"pomconv/internal/validate"
	"pomconv/internal/watcher"
	"pomconv/pkg/logger"
)

func main() {
	flags := pflag.NewFlagSet("convert", pflag.ExitOnError)
	in := flags.StringP("in", "i", "", "Selenium test file or directory to convert (required)")
	configPath := flags.StringP("config", "c", "", "optional YAML config file")
	watch := flags.BoolP("watch", "w", false, "keep running and reconvert --in (file or directory) when it changes")
	flags.StringP("out", "o", "", "directory to write generated files into")
	flags.IntP("concurrency", "j", 2, "conversions to run in parallel")
	flags.String("base-url", "", "chat backend base URL; skips host discovery")
	flags.StringSlice("alt-host", nil, "extra backend host to probe (repeatable)")
	flags.String("provider", config.ProviderLocal, "backend provider: local or openai")
	flags.String("analyze-model", "", "model used for the analysis stage")
	flags.String("build-model", "", "model used for the build stages")
	flags.String("log-level", "info", "debug, info, warn or error")
	flags.Parse(os.Args[1:])

	if *in == "" {
		fmt.Fprintln(os.Stderr, "--in is required")
		flags.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath, flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.File); err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *in, *watch); err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, in string, watch bool) error {
	resolver, err := llm.NewResolver(cfg.Backend, utils.NewHTTPClient(cfg.Backend.ProbeTimeout, false))
	if err != nil {
		return err
	}
	client := llm.NewClient(cfg.Backend, cfg.Retry, resolver, utils.NewHTTPClient(cfg.Backend.Timeout, cfg.Backend.DebugRequests))

	rules := validate.NewRules(cfg.Output)
	converter, err := service.NewConverter(ctx, cfg.Pipeline, rules, client)
	if err != nil {
		return err
	}

	var writer storage.Writer
	if cfg.Output.Dir != "" {
		writer = storage.NewDiskWriter(cfg.Output.Dir, cfg.Output.Extension)
		if err := writer.Init(); err != nil {
			return err
		}
		defer writer.Close()
	}
	batch := service.NewBatch(service.NewConversionService(converter, rules, writer), cfg.Batch.Concurrency)

	sources, err := service.CollectSources(in, cfg.Batch.SourceExt)
	if err != nil {
		return err
	}
	report, batchErr := batch.Run(ctx, sources)
	printReport(report)

	if !watch {
		return batchErr
	}

	w, err := watcher.New(cfg.Batch.SourceExt, cfg.Batch.WatchDebounce)
	if err != nil {
		return err
	}
	defer w.Close()

	err = batch.Watch(ctx, w, in, printResult)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func printReport(report *service.Report) {
	if report == nil {
		return
	}
	for _, res := range report.Results {
		printResult(res)
	}
	fmt.Printf("\n%d converted, %d failed\n", report.Succeeded, report.Failed)
}

func printResult(res model.ConversionResult) {
	if res.Succeeded() {
		fmt.Printf("ok    %s: %d files", res.Name, len(res.Files))
		if len(res.Written) > 0 {
			fmt.Printf(" written to %s", strings.Join(res.Written, ", "))
		}
		fmt.Println()
		return
	}
	fmt.Printf("FAIL  %s [%s/%s]: %s\n", res.Name, res.Stage, res.Kind, res.Reason)
	if len(res.Problems) > 0 {
		fmt.Print(validate.FormatProblems(res.Problems))
	}
}
