package batch

import (
	"context"
	"errors"
	"fmt"
)

// Batch size bounds.
const (
	// MinBatchSize is the minimum allowed batch size.
	MinBatchSize = 1

	// MaxBatchSize is the maximum allowed batch size.
	MaxBatchSize = 1000
)

// Common batch processing errors.
var (
	ErrInvalidBatchSize = errors.New("batch size must be between 1 and 1000")
	ErrNilCallback      = errors.New("batch callback cannot be nil")
)

// BatchCallback processes one batch. start is the index of batch[0] in the full slice.
//
//nolint:revive // BatchCallback is the canonical name for this exported type.
type BatchCallback[T any] func(ctx context.Context, batch []T, start int) error

// ProgressCallback is invoked after each successful batch.
type ProgressCallback func(progress *Progress)

// Processor splits items into batches of a fixed size.
type Processor[T any] struct {
	batchSize  int
	onProgress ProgressCallback
}

// NewProcessor creates a processor with the given batch size.
func NewProcessor[T any](batchSize int) (*Processor[T], error) {
	if batchSize < MinBatchSize || batchSize > MaxBatchSize {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidBatchSize, batchSize)
	}
	return &Processor[T]{batchSize: batchSize}, nil
}

// SizeForParams returns the largest batch size for which batch*perItem bound
// parameters stay within limit, clamped to [MinBatchSize, MaxBatchSize].
func SizeForParams(limit, perItem int) int {
	if perItem < 1 {
		perItem = 1
	}
	size := limit / perItem
	switch {
	case size < MinBatchSize:
		return MinBatchSize
	case size > MaxBatchSize:
		return MaxBatchSize
	default:
		return size
	}
}

// WithProgressCallback sets a progress callback for the processor.
func (p *Processor[T]) WithProgressCallback(callback ProgressCallback) *Processor[T] {
	p.onProgress = callback
	return p
}

// Process runs callback over each batch in order and stops on the first error.
// An empty items slice is a no-op.
func (p *Processor[T]) Process(ctx context.Context, items []T, callback BatchCallback[T]) error {
	if callback == nil {
		return ErrNilCallback
	}

	bounds := p.CalculateBatches(len(items))
	progress := NewProgress(len(items), len(bounds))

	for i, b := range bounds {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := callback(ctx, items[b[0]:b[1]], b[0]); err != nil {
			return fmt.Errorf("batch %d failed: %w", i, err)
		}

		progress.AddProcessed(b[1] - b[0])
		if p.onProgress != nil {
			p.onProgress(progress)
		}
	}

	return nil
}

// CalculateBatches returns the [start, end) bounds of each batch.
func (p *Processor[T]) CalculateBatches(totalItems int) [][2]int {
	n := totalItems / p.batchSize
	if totalItems%p.batchSize > 0 {
		n++
	}

	batches := make([][2]int, n)
	for i := range n {
		start := i * p.batchSize
		batches[i] = [2]int{start, min(start+p.batchSize, totalItems)}
	}
	return batches
}
