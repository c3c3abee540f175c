package model

import (
	"errors"
	"time"
)

type ConversionStatus string

const (
	StatusSuccess ConversionStatus = "success"
	StatusFailure ConversionStatus = "failure"
)

// ConversionResult is the tagged outcome of one conversion. Files is only set
// on success; Stage, Kind, Reason and Problems only on failure.
type ConversionResult struct {
	ID       string            `json:"id"`
	Name     string            `json:"name,omitempty"`
	Status   ConversionStatus  `json:"status"`
	Files    OutputMapping     `json:"files,omitempty"`
	Written  []string          `json:"written,omitempty"`
	Stage    Stage             `json:"stage,omitempty"`
	Kind     string            `json:"kind,omitempty"`
	Reason   string            `json:"reason,omitempty"`
	Problems map[string]string `json:"problems,omitempty"`

	Err error `json:"-"`
}

func (r ConversionResult) Succeeded() bool {
	return r.Status == StatusSuccess
}

// NewConversionResult builds a success result from files, or a failure result
// when err is non-nil.
func NewConversionResult(id, name string, files OutputMapping, err error) ConversionResult {
	if err == nil {
		return ConversionResult{
			ID:     id,
			Name:   name,
			Status: StatusSuccess,
			Files:  files,
		}
	}
	res := ConversionResult{
		ID:       id,
		Name:     name,
		Status:   StatusFailure,
		Kind:     KindOf(err).String(),
		Reason:   err.Error(),
		Problems: ProblemsOf(err),
		Err:      err,
	}
	var e *Error
	if errors.As(err, &e) {
		res.Stage = e.Stage
	}
	return res
}

// StageEvent reports a pipeline transition to observers.
type StageEvent struct {
	ConversionID string      `json:"conversion_id,omitempty"`
	Stage        Stage       `json:"stage"`
	Status       StageStatus `json:"status"`
	Detail       string      `json:"detail,omitempty"`
	Timestamp    time.Time   `json:"timestamp"`
}
