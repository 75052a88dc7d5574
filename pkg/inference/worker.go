/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: worker.go
Description: Candidate evaluation worker. A worker parses the corpus under one hypothesis,
checks the parser's accounting, scores the result under a per-candidate deadline and keeps
running statistics. Workers are pooled by the engine and never share evaluation state.
*/

package inference

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kleascm/akaylee-infer/pkg/core"
	"github.com/kleascm/akaylee-infer/pkg/parser"
	"github.com/kleascm/akaylee-infer/pkg/plugin"
	"github.com/kleascm/akaylee-infer/pkg/score"
)

// evaluation is the outcome of one candidate; parsed is nil on a cache hit
type evaluation struct {
	candidate Candidate
	parsed    *parser.ParsedCorpus
}

// Worker evaluates candidates for the engine
type Worker struct {
	ID       int
	registry *plugin.Registry
	scorer   score.Scorer
	cache    *evalCache
	timeout  time.Duration
	logger   *logrus.Logger

	evaluations int64
	cacheHits   int64
	degraded    int64
	rejected    int64
	busy        time.Duration

	mu sync.RWMutex
}

// newWorker creates a worker over a registry and scorer
func newWorker(id int, registry *plugin.Registry, scorer score.Scorer, cache *evalCache, timeout time.Duration, logger *logrus.Logger) *Worker {
	return &Worker{
		ID:       id,
		registry: registry,
		scorer:   scorer,
		cache:    cache,
		timeout:  timeout,
		logger:   logger,
	}
}

// Evaluate parses and scores c under candidate.Hypothesis at the given depth.
// Only contract violations are returned as errors.
func (w *Worker) Evaluate(ctx context.Context, c *core.Corpus, candidate Candidate, depth int) (*evaluation, error) {
	start := time.Now()
	defer func() {
		w.mu.Lock()
		w.evaluations++
		w.busy += time.Since(start)
		w.mu.Unlock()
	}()

	h := candidate.Hypothesis
	p, err := w.registry.ParserFor(h)
	if err != nil {
		return nil, &ContractViolationError{Stage: StageParse, Key: h.Key(), Depth: depth, Err: err}
	}
	candidate.Parser = p.Name()

	if b, ok := w.cache.get(c, h); ok {
		candidate.Score = b
		candidate.Cached = true
		w.record(b, true)
		return &evaluation{candidate: candidate}, nil
	}

	parsed, err := parse(p, c, candidate, depth)
	if err != nil {
		return nil, err
	}

	scoreCtx := ctx
	if w.timeout > 0 {
		var cancel context.CancelFunc
		scoreCtx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}
	candidate.Score = w.scorer.Score(scoreCtx, c, h, parsed)
	w.cache.put(c, h, candidate.Score)
	w.record(candidate.Score, false)

	if candidate.Score.Diagnostics.Degraded {
		w.logger.WithFields(logrus.Fields{
			"worker":     w.ID,
			"depth":      depth,
			"hypothesis": h.Key(),
			"reason":     candidate.Score.Diagnostics.DegradedReason,
		}).Debug("Scored with entropy estimate")
	}

	return &evaluation{candidate: candidate, parsed: parsed}, nil
}

// parse runs p and checks the accounting of its output
func parse(p parser.Parser, c *core.Corpus, candidate Candidate, depth int) (*parser.ParsedCorpus, error) {
	h := candidate.Hypothesis
	parsed, err := p.Parse(c, h)
	if err != nil {
		return nil, &ContractViolationError{Stage: StageParse, Plugin: p.Name(), Key: h.Key(), Depth: depth, Err: err}
	}
	if err := parsed.Verify(); err != nil {
		return nil, &ContractViolationError{Stage: StageVerify, Plugin: p.Name(), Key: h.Key(), Depth: depth, Err: err}
	}
	return parsed, nil
}

func (w *Worker) record(b score.Breakdown, cached bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if cached {
		w.cacheHits++
	}
	if b.Diagnostics.Degraded {
		w.degraded++
	}
	if b.Diagnostics.Rejected {
		w.rejected++
	}
}

// GetStats returns worker statistics
func (w *Worker) GetStats() map[string]interface{} {
	w.mu.RLock()
	defer w.mu.RUnlock()

	stats := make(map[string]interface{})
	stats["id"] = w.ID
	stats["evaluations"] = w.evaluations
	stats["cache_hits"] = w.cacheHits
	stats["degraded"] = w.degraded
	stats["rejected"] = w.rejected
	stats["busy"] = w.busy
	if w.evaluations > 0 {
		stats["avg_evaluation"] = w.busy / time.Duration(w.evaluations)
	}
	return stats
}
