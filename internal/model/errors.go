package model

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorKind classifies a failure so callers can branch without matching messages.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindConnectivity
	KindTransport
	KindRateLimited
	KindMalformedResponse
	KindValidation
	KindConfiguration
	KindInvalidInput
)

func (k ErrorKind) String() string {
	switch k {
	case KindConnectivity:
		return "connectivity"
	case KindTransport:
		return "transport"
	case KindRateLimited:
		return "rate_limited"
	case KindMalformedResponse:
		return "malformed_response"
	case KindValidation:
		return "validation"
	case KindConfiguration:
		return "configuration"
	case KindInvalidInput:
		return "invalid_input"
	default:
		return "unknown"
	}
}

// Error is the single error type surfaced by the conversion core.
type Error struct {
	Kind       ErrorKind
	Stage      Stage
	Op         string
	Attempts   int
	Status     int
	Candidates []string
	Problems   map[string]string
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Stage != "" {
		b.WriteString(string(e.Stage))
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Op != "" {
		b.WriteString(" (")
		b.WriteString(e.Op)
		b.WriteString(")")
	}
	if e.Status != 0 {
		fmt.Fprintf(&b, " status %d", e.Status)
	}
	if e.Attempts > 0 {
		fmt.Fprintf(&b, " after %d attempt(s)", e.Attempts)
	}
	if len(e.Candidates) > 0 {
		fmt.Fprintf(&b, " tried [%s]", strings.Join(e.Candidates, ", "))
	}
	if len(e.Problems) > 0 {
		keys := make([]string, 0, len(e.Problems))
		for k := range e.Problems {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+": "+e.Problems[k])
		}
		fmt.Fprintf(&b, " %d problem(s): %s", len(keys), strings.Join(parts, "; "))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf reports the kind of the first *Error in err's chain.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// ProblemsOf returns the per-key problems carried by err, if any.
func ProblemsOf(err error) map[string]string {
	var e *Error
	if errors.As(err, &e) {
		return e.Problems
	}
	return nil
}

// WithStage tags err with the pipeline stage it failed in. An existing stage
// is kept.
func WithStage(err error, stage Stage) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Stage != "" {
			return err
		}
		tagged := *e
		tagged.Stage = stage
		return &tagged
	}
	return &Error{Kind: KindUnknown, Stage: stage, Err: err}
}
