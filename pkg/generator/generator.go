/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: generator.go
Description: Hypothesis generator contract and shared configuration. Generators read
cheap corpus statistics and propose a bounded, deterministic list of hypotheses for one
family; proposals may fail to parse, the scorer decides.
*/

package generator

import (
	"errors"
	"fmt"

	"github.com/kleascm/akaylee-infer/pkg/core"
	"github.com/kleascm/akaylee-infer/pkg/hypothesis"
)

// ErrInvalidConfig is returned by Config.Validate
var ErrInvalidConfig = errors.New("generator: invalid configuration")

// Generator proposes hypotheses of one family for a corpus.
// Generate must be deterministic and free of side effects.
type Generator interface {
	Name() string
	Generate(c *core.Corpus) []hypothesis.Hypothesis
}

// Config holds the thresholds shared by the built-in generators
type Config struct {
	MaxOffset      int     `json:"max_offset" mapstructure:"max_offset"`             // Highest field offset tried
	MinSupport     float64 `json:"min_support" mapstructure:"min_support"`           // Fraction of messages a proposal must fit
	Tolerance      int     `json:"tolerance" mapstructure:"tolerance"`               // Slack in bytes when matching frame ends
	MaxCandidates  int     `json:"max_candidates" mapstructure:"max_candidates"`     // Per-generator proposal cap
	MaxHeader      int     `json:"max_header" mapstructure:"max_header"`             // Longest fixed header proposed
	SampleSize     int     `json:"sample_size" mapstructure:"sample_size"`           // Messages inspected for support (0 = all)
	BitmapMaxBytes int     `json:"bitmap_max_bytes" mapstructure:"bitmap_max_bytes"` // max_bytes of proposed bitmaps
}

// DefaultConfig returns the generator defaults
func DefaultConfig() *Config {
	return &Config{
		MaxOffset:      4,
		MinSupport:     0.6,
		Tolerance:      0,
		MaxCandidates:  64,
		MaxHeader:      32,
		SampleSize:     512,
		BitmapMaxBytes: 8,
	}
}

// Validate checks the configuration for consistency
func (c *Config) Validate() error {
	if c.MaxOffset < 0 {
		return fmt.Errorf("%w: max_offset must be non-negative", ErrInvalidConfig)
	}
	if c.MinSupport <= 0 || c.MinSupport > 1 {
		return fmt.Errorf("%w: min_support must be in (0, 1]", ErrInvalidConfig)
	}
	if c.Tolerance < 0 {
		return fmt.Errorf("%w: tolerance must be non-negative", ErrInvalidConfig)
	}
	if c.MaxCandidates <= 0 {
		return fmt.Errorf("%w: max_candidates must be positive", ErrInvalidConfig)
	}
	if c.MaxHeader <= 0 {
		return fmt.Errorf("%w: max_header must be positive", ErrInvalidConfig)
	}
	if c.SampleSize < 0 {
		return fmt.Errorf("%w: sample_size must be non-negative", ErrInvalidConfig)
	}
	if c.BitmapMaxBytes <= 0 {
		return fmt.Errorf("%w: bitmap_max_bytes must be positive", ErrInvalidConfig)
	}
	return nil
}

// sample returns the leading messages used for support checks
func (c *Config) sample(corpus *core.Corpus) [][]byte {
	messages := corpus.Messages()
	if c.SampleSize > 0 && len(messages) > c.SampleSize {
		messages = messages[:c.SampleSize]
	}
	return messages
}

// supported reports whether fits holds for at least MinSupport of the messages
func (c *Config) supported(messages [][]byte, fits func(msg []byte) bool) bool {
	if len(messages) == 0 {
		return false
	}
	hits := 0
	for _, msg := range messages {
		if fits(msg) {
			hits++
		}
	}
	return float64(hits)/float64(len(messages)) >= c.MinSupport
}

// limit truncates proposals to MaxCandidates
func (c *Config) limit(proposals []hypothesis.Hypothesis) []hypothesis.Hypothesis {
	if len(proposals) > c.MaxCandidates {
		return proposals[:c.MaxCandidates]
	}
	return proposals
}

// Defaults returns one generator per built-in family, in registration order
func Defaults(config *Config) []Generator {
	if config == nil {
		config = DefaultConfig()
	}
	return []Generator{
		NewLengthPrefix(config),
		NewDelimiter(config),
		NewFixedHeader(config),
		NewBitmap(config),
		NewTLV(config),
		NewVarint(config),
	}
}
