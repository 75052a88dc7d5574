/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: header.go
Description: Generators for header families: fixed-length headers located through the
common prefix, entropy shoulders and small powers of two, and extensible bitmaps.
*/

package generator

import (
	"sort"

	"github.com/kleascm/akaylee-infer/pkg/core"
	"github.com/kleascm/akaylee-infer/pkg/hypothesis"
	"github.com/kleascm/akaylee-infer/pkg/parser"
)

// shoulderBits is the entropy rise between adjacent offsets taken as a header boundary
const shoulderBits = 1.0

// FixedHeader proposes fixed-length headers
type FixedHeader struct {
	config *Config
}

// NewFixedHeader creates a fixed header generator
func NewFixedHeader(config *Config) *FixedHeader {
	return &FixedHeader{config: config}
}

func (g *FixedHeader) Name() string { return "fixed_header" }

// Generate proposes header lengths no longer than the shortest message, in ascending order
func (g *FixedHeader) Generate(c *core.Corpus) []hypothesis.Hypothesis {
	stats := c.Stats(g.config.MaxHeader + 1)
	bound := stats.MinLength
	if bound > g.config.MaxHeader {
		bound = g.config.MaxHeader
	}
	if bound < 1 {
		return nil
	}

	lengths := make(map[int]bool)
	if stats.CommonPrefix > 0 {
		prefix := stats.CommonPrefix
		if prefix > bound {
			prefix = bound
		}
		lengths[prefix] = true
	}

	// A header ends where byte variability jumps
	for i := 1; i < len(stats.OffsetEntropy) && i <= bound; i++ {
		if stats.OffsetEntropy[i]-stats.OffsetEntropy[i-1] >= shoulderBits {
			lengths[i] = true
		}
	}

	for n := 1; n <= bound; n *= 2 {
		lengths[n] = true
	}

	sorted := make([]int, 0, len(lengths))
	for n := range lengths {
		sorted = append(sorted, n)
	}
	sort.Ints(sorted)

	proposals := make([]hypothesis.Hypothesis, 0, len(sorted))
	for _, n := range sorted {
		proposals = append(proposals, hypothesis.FixedHeader{Length: n})
	}
	return g.config.limit(proposals)
}

// Bitmap proposes extensible bitmaps
type Bitmap struct {
	config *Config
}

// NewBitmap creates an extensible bitmap generator
func NewBitmap(config *Config) *Bitmap {
	return &Bitmap{config: config}
}

func (g *Bitmap) Name() string { return "extensible_bitmap" }

// Generate proposes a bitmap at each low offset and continuation bit whose chain
// terminates for enough messages, skipping bits that never vary at the start byte
func (g *Bitmap) Generate(c *core.Corpus) []hypothesis.Hypothesis {
	messages := g.config.sample(c)
	minLen := c.Stats(0).MinLength

	var proposals []hypothesis.Hypothesis
	for start := 0; start <= g.config.MaxOffset && start < minLen; start++ {
		for bit := 0; bit < 8; bit++ {
			mask := byte(1) << uint(bit)
			set, clear := false, false
			for _, msg := range messages {
				if start < len(msg) {
					if msg[start]&mask != 0 {
						set = true
					} else {
						clear = true
					}
				}
			}
			if !set || !clear {
				continue
			}

			h := hypothesis.ExtensibleBitmap{Start: start, ContinuationBit: bit, MaxBytes: g.config.BitmapMaxBytes}
			fits := func(msg []byte) bool {
				return parser.DecomposeBitmap(h, msg).OK()
			}
			if g.config.supported(messages, fits) {
				proposals = append(proposals, h)
			}
		}
	}
	return g.config.limit(proposals)
}
