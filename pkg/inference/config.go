/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: config.go
Description: Engine configuration: recursion depth, alternatives kept per layer, worker pool
size, per-candidate time budget and the evaluation cache size.
*/

package inference

import (
	"errors"
	"fmt"
	"runtime"
	"time"
)

// ErrInvalidConfig is returned by Config.Validate
var ErrInvalidConfig = errors.New("inference: invalid configuration")

// Config holds the engine settings
type Config struct {
	MaxDepth         int           `json:"max_depth" mapstructure:"max_depth"`                 // Maximum number of layers
	TopK             int           `json:"top_k" mapstructure:"top_k"`                         // Alternatives kept per layer
	Workers          int           `json:"workers" mapstructure:"workers"`                     // Parallel candidate evaluations
	CandidateTimeout time.Duration `json:"candidate_timeout" mapstructure:"candidate_timeout"` // Zero disables the deadline
	MinSDUBytes      float64       `json:"min_sdu_bytes" mapstructure:"min_sdu_bytes"`         // Stop when the average SDU is shorter
	CacheSize        int           `json:"cache_size" mapstructure:"cache_size"`               // Cached evaluations; zero disables caching
}

// DefaultConfig returns the engine defaults
func DefaultConfig() *Config {
	return &Config{
		MaxDepth:         6,
		TopK:             10,
		Workers:          runtime.NumCPU(),
		CandidateTimeout: 30 * time.Second,
		MinSDUBytes:      2,
		CacheSize:        4096,
	}
}

// Validate checks the configuration for consistency
func (c *Config) Validate() error {
	if c.MaxDepth < 0 {
		return fmt.Errorf("%w: max_depth must be non-negative", ErrInvalidConfig)
	}
	if c.TopK < 0 {
		return fmt.Errorf("%w: top_k must be non-negative", ErrInvalidConfig)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("%w: workers must be positive", ErrInvalidConfig)
	}
	if c.CandidateTimeout < 0 {
		return fmt.Errorf("%w: candidate_timeout must be non-negative", ErrInvalidConfig)
	}
	if c.MinSDUBytes < 0 {
		return fmt.Errorf("%w: min_sdu_bytes must be non-negative", ErrInvalidConfig)
	}
	if c.CacheSize < 0 {
		return fmt.Errorf("%w: cache_size must be non-negative", ErrInvalidConfig)
	}
	return nil
}
