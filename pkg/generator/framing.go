/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: framing.go
Description: Generators for framing families: length prefixes, delimiters and TLV
records. A framing proposal survives only if its frame chain accounts for enough
messages.
*/

package generator

import (
	"bytes"

	"github.com/kleascm/akaylee-infer/pkg/core"
	"github.com/kleascm/akaylee-infer/pkg/hypothesis"
	"github.com/kleascm/akaylee-infer/pkg/parser"
)

// standardDelimiters are tried on every corpus after the modal suffixes
var standardDelimiters = [][]byte{
	[]byte("\n"),
	[]byte("\r\n"),
	{0x00},
	{0x00, 0x00},
}

// frameReader reads the frame starting at pos
type frameReader func(msg []byte, pos int) (parser.Frame, parser.Reason)

// chainFits walks frames from the start of msg and reports whether the chain ends at
// the message end, give or take tolerance bytes
func chainFits(msg []byte, tolerance int, read frameReader) bool {
	if len(msg) == 0 {
		return false
	}
	end := uint64(len(msg))
	pos := 0
	for frames := 0; pos < len(msg); frames++ {
		if frames > 0 && len(msg)-pos <= tolerance {
			return true
		}
		f, reason := read(msg, pos)
		if reason != "" {
			return false
		}
		if f.End >= end {
			return f.End-end <= uint64(tolerance)
		}
		pos = int(f.End)
	}
	return false
}

// LengthPrefix proposes length-prefixed bundles
type LengthPrefix struct {
	config *Config
}

// NewLengthPrefix creates a length prefix generator
func NewLengthPrefix(config *Config) *LengthPrefix {
	return &LengthPrefix{config: config}
}

func (g *LengthPrefix) Name() string { return "length_prefix" }

// Generate tries low offsets, every width, both byte orders and both inclusivity rules
func (g *LengthPrefix) Generate(c *core.Corpus) []hypothesis.Hypothesis {
	messages := g.config.sample(c)
	maxLen := c.Stats(0).MaxLength

	var proposals []hypothesis.Hypothesis
	for offset := 0; offset <= g.config.MaxOffset; offset++ {
		for _, width := range []int{1, 2, 4} {
			if offset+width > maxLen {
				continue
			}
			for _, endian := range []hypothesis.Endianness{hypothesis.LittleEndian, hypothesis.BigEndian} {
				if width == 1 && endian == hypothesis.BigEndian {
					continue
				}
				for _, includes := range []bool{false, true} {
					h := hypothesis.LengthPrefixBundle{
						Offset:         offset,
						Width:          width,
						Endianness:     endian,
						IncludesHeader: includes,
					}
					fits := func(msg []byte) bool {
						return chainFits(msg, g.config.Tolerance, func(m []byte, pos int) (parser.Frame, parser.Reason) {
							return parser.LengthPrefixFrame(h, m, pos)
						})
					}
					if g.config.supported(messages, fits) {
						proposals = append(proposals, h)
					}
				}
			}
		}
	}
	return g.config.limit(proposals)
}

// Delimiter proposes delimiter bundles
type Delimiter struct {
	config *Config
}

// NewDelimiter creates a delimiter generator
func NewDelimiter(config *Config) *Delimiter {
	return &Delimiter{config: config}
}

func (g *Delimiter) Name() string { return "delimiter" }

// Generate proposes the modal one- and two-byte suffixes when enough messages end with
// them, then the standard delimiters that enough messages contain
func (g *Delimiter) Generate(c *core.Corpus) []hypothesis.Hypothesis {
	messages := g.config.sample(c)
	seen := make(map[string]bool)
	var proposals []hypothesis.Hypothesis

	propose := func(delim []byte) {
		if seen[string(delim)] {
			return
		}
		seen[string(delim)] = true
		proposals = append(proposals, hypothesis.DelimiterBundle{Delimiter: delim})
	}

	for _, n := range []int{1, 2} {
		suffixes := c.Suffixes(n)
		if len(suffixes) == 0 {
			continue
		}
		modal := suffixes[0].Suffix
		if g.config.supported(messages, func(msg []byte) bool { return bytes.HasSuffix(msg, modal) }) {
			propose(modal)
		}
	}

	for _, delim := range standardDelimiters {
		if g.config.supported(messages, func(msg []byte) bool { return bytes.Contains(msg, delim) }) {
			propose(delim)
		}
	}
	return g.config.limit(proposals)
}

// TLV proposes tag-length-value record sequences
type TLV struct {
	config *Config
}

// NewTLV creates a TLV generator
func NewTLV(config *Config) *TLV {
	return &TLV{config: config}
}

func (g *TLV) Name() string { return "tlv" }

// Generate tries tag offsets, one- and two-byte tags followed directly by a length of
// every rule, with both inclusivity flags
func (g *TLV) Generate(c *core.Corpus) []hypothesis.Hypothesis {
	messages := g.config.sample(c)
	rules := []hypothesis.LenRule{hypothesis.LenFixed1, hypothesis.LenFixed2, hypothesis.LenFixed4, hypothesis.LenBER}

	var proposals []hypothesis.Hypothesis
	for tagOffset := 0; tagOffset <= g.config.MaxOffset; tagOffset++ {
		for _, tagBytes := range []int{1, 2} {
			for _, rule := range rules {
				for _, includes := range []bool{false, true} {
					h := hypothesis.Tlv{
						TagOffset:            tagOffset,
						TagBytes:             tagBytes,
						LenOffset:            tagOffset + tagBytes,
						LenRule:              rule,
						LengthIncludesHeader: includes,
					}
					fits := func(msg []byte) bool {
						return chainFits(msg, g.config.Tolerance, func(m []byte, pos int) (parser.Frame, parser.Reason) {
							return parser.TLVFrame(h, m, pos)
						})
					}
					if g.config.supported(messages, fits) {
						proposals = append(proposals, h)
					}
				}
			}
		}
	}
	return g.config.limit(proposals)
}
