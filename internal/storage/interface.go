package storage

import (
	"context"

	"pomconv/internal/model"
)

// Writer hands a validated output mapping to its destination and reports the
// locations written, in key order.
type Writer interface {
	Write(ctx context.Context, files model.OutputMapping) ([]string, error)

	Init() error
	Close() error
}
