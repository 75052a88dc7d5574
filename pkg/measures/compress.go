/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: compress.go
Description: Compression-based code length estimates. Streams are deflated with
klauspost/compress under a size budget and the caller's context; when the budget is
exhausted the estimate falls back to the entropy code length and is marked degraded.
*/

package measures

import (
	"context"
	"errors"
	"fmt"

	"github.com/klauspost/compress/flate"
)

// chunkSize bounds how much data is deflated between context checks
const chunkSize = 32 * 1024

// ErrBudgetExceeded is returned when compression cannot finish within its budget
var ErrBudgetExceeded = errors.New("measures: compression budget exceeded")

// Degradation reasons reported alongside a degraded estimate
const (
	DegradedSize     = "size_budget"
	DegradedDeadline = "deadline"
)

// Budget bounds the compression work spent on a single stream
type Budget struct {
	MaxBytes int // Streams larger than this are not compressed (0 = unbounded)
	Level    int // Deflate level passed to flate.NewWriter
}

// Estimate is the code length of one stream
type Estimate struct {
	Bits           float64 `json:"bits"`            // min(entropy estimate, compressed size)
	EntropyBits    float64 `json:"entropy_bits"`    // Two-part entropy code length
	CompressedBits float64 `json:"compressed_bits"` // 8·deflate size, 0 when degraded
	Degraded       bool    `json:"degraded"`        // Compression was skipped or aborted
	Reason         string  `json:"reason,omitempty"`
}

// byteCounter is an io.Writer that only counts
type byteCounter struct {
	n int
}

func (c *byteCounter) Write(p []byte) (int, error) {
	c.n += len(p)
	return len(p), nil
}

// CompressedBits deflates data and returns the compressed size in bits.
// The context is checked between chunks so long streams honour candidate deadlines.
func CompressedBits(ctx context.Context, data []byte, level int) (float64, error) {
	counter := &byteCounter{}
	w, err := flate.NewWriter(counter, level)
	if err != nil {
		return 0, fmt.Errorf("failed to create deflate writer: %w", err)
	}

	for start := 0; start < len(data); start += chunkSize {
		if err := ctx.Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrBudgetExceeded, err)
		}
		end := start + chunkSize
		if end > len(data) {
			end = len(data)
		}
		if _, err := w.Write(data[start:end]); err != nil {
			return 0, fmt.Errorf("failed to deflate stream: %w", err)
		}
	}

	if err := w.Close(); err != nil {
		return 0, fmt.Errorf("failed to flush deflate stream: %w", err)
	}
	return float64(counter.n * 8), nil
}

// EstimateStream returns the code length of data as a single stream.
// An empty stream costs nothing.
func EstimateStream(ctx context.Context, data []byte, budget Budget) Estimate {
	if len(data) == 0 {
		return Estimate{}
	}

	entropyBits := NewHistogram(data).EstimateBits()
	est := Estimate{Bits: entropyBits, EntropyBits: entropyBits}

	if budget.MaxBytes > 0 && len(data) > budget.MaxBytes {
		est.Degraded = true
		est.Reason = DegradedSize
		return est
	}

	compressed, err := CompressedBits(ctx, data, budget.Level)
	if err != nil {
		est.Degraded = true
		est.Reason = DegradedDeadline
		return est
	}

	est.CompressedBits = compressed
	if compressed < est.Bits {
		est.Bits = compressed
	}
	return est
}
