package batch

import (
	"errors"

	"github.com/worklens/worklens/pkg/sequence"
	"github.com/worklens/worklens/pkg/timeline"
)

// Sentinel error kinds. Config and preload failures abort the whole batch;
// the rest attach to individual work items in the report.
var (
	ErrConfig         = errors.New("batch configuration invalid")
	ErrPreload        = errors.New("preload failed")
	ErrPersistence    = errors.New("persistence failed")
	ErrCancelled      = errors.New("batch cancelled")
	ErrChunkTimeout   = errors.New("chunk deadline exceeded")
	ErrClassification = errors.New("classification failed")
)

// failureKind buckets a per-item error for the report.
func failureKind(err error) string {
	switch {
	case errors.Is(err, sequence.ErrInputOrder) || errors.Is(err, timeline.ErrOrdering):
		return "input_order"
	case errors.Is(err, ErrChunkTimeout):
		return "timeout"
	case errors.Is(err, ErrPersistence):
		return "persistence"
	case errors.Is(err, ErrCancelled):
		return "cancelled"
	case errors.Is(err, ErrClassification):
		return "classification"
	}
	return "internal"
}
