/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: varint.go
Description: Generator for protobuf-style key/wire-type encodings.
*/

package generator

import (
	"github.com/kleascm/akaylee-infer/pkg/core"
	"github.com/kleascm/akaylee-infer/pkg/hypothesis"
	"github.com/kleascm/akaylee-infer/pkg/parser"
)

// keyWidths are the key size limits tried, narrowest first
var keyWidths = []int{1, 2, 5}

// Varint proposes VarintKeyWireType hypotheses
type Varint struct {
	config *Config
}

// NewVarint creates a varint generator
func NewVarint(config *Config) *Varint {
	return &Varint{config: config}
}

func (g *Varint) Name() string { return "varint" }

// Generate proposes the narrowest key limit reaching the best walk support, and the
// group-enabled variant when groups explain more messages
func (g *Varint) Generate(c *core.Corpus) []hypothesis.Hypothesis {
	messages := g.config.sample(c)
	if len(messages) == 0 {
		return nil
	}

	ratio := func(h hypothesis.VarintKeyWireType) float64 {
		hits := 0
		for _, msg := range messages {
			if len(msg) > 0 && parser.DecomposeVarint(h, msg).OK() {
				hits++
			}
		}
		return float64(hits) / float64(len(messages))
	}

	var best hypothesis.VarintKeyWireType
	bestRatio := -1.0
	for _, width := range keyWidths {
		h := hypothesis.VarintKeyWireType{KeyMaxBytes: width}
		if r := ratio(h); r > bestRatio {
			best, bestRatio = h, r
		}
	}

	var proposals []hypothesis.Hypothesis
	if bestRatio >= g.config.MinSupport {
		proposals = append(proposals, best)
	}

	grouped := best
	grouped.AllowGroups = true
	if r := ratio(grouped); r > bestRatio && r >= g.config.MinSupport {
		proposals = append(proposals, grouped)
	}
	return g.config.limit(proposals)
}
