/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: mdl.go
Description: Minimum description length scorer. A parsed corpus is described as the
hypothesis parameters plus one stream per declared field (the model) and the decomposed
bytes in their original order (the data). Exceptions, over-segmentation and short SDUs
are charged as penalties; explained message boundaries earn the alignment gain, and
describing the same bytes as separate role streams earns the entropy drop.
*/

package score

import (
	"context"
	"errors"
	"fmt"

	"github.com/kleascm/akaylee-infer/pkg/core"
	"github.com/kleascm/akaylee-infer/pkg/hypothesis"
	"github.com/kleascm/akaylee-infer/pkg/measures"
	"github.com/kleascm/akaylee-infer/pkg/parser"
)

// literalBitsPerByte is the cost of storing an unexplained byte verbatim
const literalBitsPerByte = 8

// ErrInvalidConfig is returned by Config.Validate
var ErrInvalidConfig = errors.New("score: invalid configuration")

// Scorer assigns a description length to a parsed corpus
type Scorer interface {
	Name() string
	Score(ctx context.Context, c *core.Corpus, h hypothesis.Hypothesis, parsed *parser.ParsedCorpus) Breakdown
}

// Config holds the MDL constants
type Config struct {
	ExceptionBits        float64 `json:"exception_bits" mapstructure:"exception_bits"`                   // Charged per exception
	ShortSDUBytes        int     `json:"short_sdu_bytes" mapstructure:"short_sdu_bytes"`                 // SDUs shorter than this are short
	ShortSDUBits         float64 `json:"short_sdu_bits" mapstructure:"short_sdu_bits"`                   // Charged per short SDU
	ExtraFrameBits       float64 `json:"extra_frame_bits" mapstructure:"extra_frame_bits"`               // Charged per SDU beyond the first in a message
	AlignmentMinFraction float64 `json:"alignment_min_fraction" mapstructure:"alignment_min_fraction"`   // Explained fraction needed for alignment gain
	MinParseSuccessRatio float64 `json:"min_parse_success_ratio" mapstructure:"min_parse_success_ratio"` // Below this a candidate is rejected
	MaxCompressBytes     int     `json:"max_compress_bytes" mapstructure:"max_compress_bytes"`           // Larger streams use the entropy estimate
	CompressionLevel     int     `json:"compression_level" mapstructure:"compression_level"`             // Deflate level
}

// DefaultConfig returns the scorer defaults
func DefaultConfig() *Config {
	return &Config{
		ExceptionBits:        32,
		ShortSDUBytes:        2,
		ShortSDUBits:         4,
		ExtraFrameBits:       4,
		AlignmentMinFraction: 0.5,
		MinParseSuccessRatio: 0.5,
		MaxCompressBytes:     8 << 20,
		CompressionLevel:     6,
	}
}

// Validate checks the configuration for consistency
func (c *Config) Validate() error {
	if c.ExceptionBits < 0 || c.ShortSDUBits < 0 || c.ExtraFrameBits < 0 {
		return fmt.Errorf("%w: penalties must be non-negative", ErrInvalidConfig)
	}
	if c.ShortSDUBytes < 0 {
		return fmt.Errorf("%w: short_sdu_bytes must be non-negative", ErrInvalidConfig)
	}
	if c.AlignmentMinFraction < 0 || c.AlignmentMinFraction > 1 {
		return fmt.Errorf("%w: alignment_min_fraction must be in [0, 1]", ErrInvalidConfig)
	}
	if c.MinParseSuccessRatio < 0 || c.MinParseSuccessRatio > 1 {
		return fmt.Errorf("%w: min_parse_success_ratio must be in [0, 1]", ErrInvalidConfig)
	}
	if c.MaxCompressBytes < 0 {
		return fmt.Errorf("%w: max_compress_bytes must be non-negative", ErrInvalidConfig)
	}
	if c.CompressionLevel < 1 || c.CompressionLevel > 9 {
		return fmt.Errorf("%w: compression_level must be in [1, 9]", ErrInvalidConfig)
	}
	return nil
}

// streams holds the bytes of a parsed corpus split by role, each in corpus order
type streams struct {
	raw    []byte // Every decomposed message, unsplit
	pci    []byte
	sdu    []byte
	fields map[string][]byte

	exceptions     int
	exceptionBytes int
	explained      int
	explainedBits  float64
	predicted      int // Length fields implied by the message length, not stored
	sdus           int
	extraFrames    int
	shortSDUs      int
}

// MDLScorer implements Scorer with two-part code lengths
type MDLScorer struct {
	config *Config
}

// NewMDLScorer creates a scorer; a nil config uses the defaults
func NewMDLScorer(config *Config) *MDLScorer {
	if config == nil {
		config = DefaultConfig()
	}
	return &MDLScorer{config: config}
}

func (s *MDLScorer) Name() string { return "mdl" }

// Config returns the scorer configuration
func (s *MDLScorer) Config() Config {
	return *s.config
}

// collect splits every decomposed message into role streams
func (s *MDLScorer) collect(c *core.Corpus, parsed *parser.ParsedCorpus) *streams {
	st := &streams{fields: make(map[string][]byte)}

	for i := 0; i < parsed.Len(); i++ {
		msg := c.Message(i)
		e := parsed.Entry(i)
		if !e.OK() {
			st.exceptions++
			st.exceptionBytes += len(msg)
			continue
		}
		st.raw = append(st.raw, msg...)
		if e.Decomposition.Explained {
			st.explained++
			st.explainedBits += measures.GammaBits(len(msg))
		}

		sdus := 0
		for _, seg := range e.Decomposition.Segments {
			b := msg[seg.Start:seg.End]
			switch seg.Role {
			case parser.RolePCI:
				st.pci = append(st.pci, b...)
			case parser.RoleSDU:
				st.sdu = append(st.sdu, b...)
				sdus++
				if seg.Len() < s.config.ShortSDUBytes {
					st.shortSDUs++
				}
			case parser.RoleField:
				if seg.Predicted && e.Decomposition.Explained {
					st.predicted++
					continue
				}
				st.fields[seg.Name] = append(st.fields[seg.Name], b...)
			}
		}
		st.sdus += sdus
		if sdus > 1 {
			st.extraFrames += sdus - 1
		}
	}
	return st
}

// Score computes the breakdown of parsed. The context bounds compression work; when it
// expires, the remaining streams fall back to the entropy estimate.
func (s *MDLScorer) Score(ctx context.Context, c *core.Corpus, h hypothesis.Hypothesis, parsed *parser.ParsedCorpus) Breakdown {
	st := s.collect(c, parsed)
	budget := measures.Budget{MaxBytes: s.config.MaxCompressBytes, Level: s.config.CompressionLevel}

	diag := Diagnostics{
		Messages:   c.Len(),
		Exceptions: st.exceptions,
		Explained:  st.explained,
		SDUs:       st.sdus,
	}
	if reasons := parsed.ExceptionReasons(); len(reasons) > 0 {
		diag.ExceptionReasons = make(map[string]int, len(reasons))
		for r, n := range reasons {
			diag.ExceptionReasons[string(r)] = n
		}
	}

	raw := measures.EstimateStream(ctx, st.raw, budget)
	pci := measures.EstimateStream(ctx, st.pci, budget)
	sdu := measures.EstimateStream(ctx, st.sdu, budget)
	names := parsed.FieldNames()
	fields := make([]measures.Estimate, len(names))
	for i, name := range names {
		fields[i] = measures.EstimateStream(ctx, st.fields[name], budget)
	}

	// Every stream is measured with the same estimator. If one of them could not be
	// compressed, all of them use the entropy code length.
	for _, est := range append([]measures.Estimate{raw, pci, sdu}, fields...) {
		if est.Degraded {
			diag.Degraded = true
			diag.DegradedReason = est.Reason
			break
		}
	}
	bits := func(est measures.Estimate) float64 {
		if diag.Degraded {
			return est.EntropyBits
		}
		return est.Bits
	}

	fieldBits := float64(st.predicted) * measures.GammaBits(0)
	for _, est := range fields {
		fieldBits += bits(est)
	}
	model := h.ModelBits() + fieldBits
	data := bits(raw)

	// Same bytes described unsplit versus split by role
	drop := data - (fieldBits + bits(pci) + bits(sdu))
	if drop < 0 {
		drop = 0
	}

	penalties := s.config.ExceptionBits*float64(st.exceptions) +
		literalBitsPerByte*float64(st.exceptionBytes) +
		s.config.ExtraFrameBits*float64(st.extraFrames) +
		s.config.ShortSDUBits*float64(st.shortSDUs)

	alignment := 0.0
	if c.Len() > 0 && float64(st.explained)/float64(c.Len()) >= s.config.AlignmentMinFraction {
		alignment = st.explainedBits
	}

	psr := parsed.ParseSuccessRatio()
	if psr < s.config.MinParseSuccessRatio {
		diag.Rejected = true
		diag.RejectReason = fmt.Sprintf("parse success ratio %.3f below %.3f", psr, s.config.MinParseSuccessRatio)
	}

	return NewBreakdown(model, data, psr, alignment, drop, penalties, diag)
}
