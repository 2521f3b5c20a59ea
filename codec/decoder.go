package codec

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// DefaultMaxConcurrentDecodes bounds how many decodes run at once.
const DefaultMaxConcurrentDecodes = 8

// Decoder runs Codec.Decode off the caller's goroutine. Completions are
// reported through a callback in whatever order decoding finishes.
type Decoder struct {
	codec Codec
	sem   *semaphore.Weighted
}

// NewDecoder wraps codec with a concurrency bound. A non-positive bound
// uses DefaultMaxConcurrentDecodes.
func NewDecoder(codec Codec, maxConcurrent int64) *Decoder {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentDecodes
	}
	return &Decoder{
		codec: codec,
		sem:   semaphore.NewWeighted(maxConcurrent),
	}
}

// Submit decodes data asynchronously and calls done exactly once with the
// result, or with ctx's error if ctx ends before a decode slot frees up.
func (d *Decoder) Submit(ctx context.Context, data []byte, done func(msg any, err error)) {
	go func() {
		if err := d.sem.Acquire(ctx, 1); err != nil {
			done(nil, err)
			return
		}
		defer d.sem.Release(1)

		msg, err := d.codec.Decode(data)
		done(msg, err)
	}()
}

// Codec returns the wrapped codec, used for the encode direction.
func (d *Decoder) Codec() Codec {
	return d.codec
}
