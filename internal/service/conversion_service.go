package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"pomconv/internal/model"
	"pomconv/internal/storage"
	"pomconv/internal/validate"
	"pomconv/pkg/logger"
)

// Pipeline is the conversion core ConversionService drives.
type Pipeline interface {
	Convert(ctx context.Context, source string, observers ...StageObserver) (model.OutputMapping, error)
}

// ConversionService runs one conversion end to end: pipeline, namespace gate
// and handoff to the writer. Nothing is written unless every step succeeds.
type ConversionService struct {
	pipeline Pipeline
	rules    validate.Rules
	writer   storage.Writer
}

// NewConversionService builds the service; writer may be nil, in which case
// results are returned without being written.
func NewConversionService(pipeline Pipeline, rules validate.Rules, writer storage.Writer) *ConversionService {
	return &ConversionService{
		pipeline: pipeline,
		rules:    rules,
		writer:   writer,
	}
}

// Run converts source and reports the outcome. name labels the result, for
// example with the source file it came from.
func (s *ConversionService) Run(ctx context.Context, name, source string, observers ...StageObserver) model.ConversionResult {
	id := uuid.New().String()
	ctx = WithConversionID(ctx, id)
	log := logger.WithFields(logrus.Fields{"conversion": id, "name": name})

	start := time.Now()
	log.Info("conversion started")

	files, err := s.pipeline.Convert(ctx, source, observers...)
	if err == nil {
		err = model.WithStage(s.rules.Gate(files.Keys()), model.StageWrite)
	}
	var written []string
	if err == nil && s.writer != nil {
		written, err = s.write(ctx, id, files, observers)
	}

	result := model.NewConversionResult(id, name, files, err)
	result.Written = written
	if err != nil {
		log.WithField("kind", model.KindOf(err).String()).Errorf("conversion failed after %s: %v", time.Since(start), err)
	} else {
		log.Infof("conversion succeeded after %s: %d file(s)", time.Since(start), len(files))
	}
	return result
}

func (s *ConversionService) write(ctx context.Context, id string, files model.OutputMapping, observers []StageObserver) ([]string, error) {
	notify := func(status model.StageStatus, detail string) {
		event := model.StageEvent{ConversionID: id, Stage: model.StageWrite, Status: status, Detail: detail, Timestamp: time.Now()}
		for _, observe := range observers {
			if observe != nil {
				observe(event)
			}
		}
	}

	notify(model.StageStarted, "")
	written, err := s.writer.Write(ctx, files)
	if err != nil {
		err = &model.Error{Kind: model.KindUnknown, Stage: model.StageWrite, Op: "write", Err: err}
		notify(model.StageFailed, err.Error())
		return written, err
	}
	notify(model.StageCompleted, "")
	return written, nil
}
