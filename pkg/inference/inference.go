/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: inference.go
Description: Recursive protocol structure inference. At each depth the engine gathers
hypotheses from every registered generator, evaluates them in parallel against the current
corpus, keeps the minimum description length candidate when it beats the opaque baseline,
and recurses into the extracted payload corpus.
*/

package inference

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/kleascm/akaylee-infer/pkg/core"
	"github.com/kleascm/akaylee-infer/pkg/hypothesis"
	"github.com/kleascm/akaylee-infer/pkg/plugin"
	"github.com/kleascm/akaylee-infer/pkg/score"
)

// errNilHypothesis is wrapped when a generator proposes nil
var errNilHypothesis = errors.New("nil hypothesis")

// Engine runs inference against a registry of generators and parsers.
// An engine may serve concurrent runs; setters must not be called while a run is active.
type Engine struct {
	registry *plugin.Registry
	config   *Config
	scorer   score.Scorer
	logger   *logrus.Logger
	cache    *evalCache

	workers    []*Worker
	workerPool chan *Worker
	reporters  []Reporter

	mu sync.RWMutex
}

// NewEngine creates an engine; a nil config uses the defaults
func NewEngine(registry *plugin.Registry, config *Config) (*Engine, error) {
	if registry == nil {
		return nil, fmt.Errorf("%w: registry is required", ErrInvalidConfig)
	}
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	cache, err := newEvalCache(config.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create evaluation cache: %w", err)
	}

	e := &Engine{
		registry: registry,
		config:   config,
		scorer:   score.NewMDLScorer(nil),
		logger:   logrus.New(),
		cache:    cache,
	}
	e.initializeWorkers()
	return e, nil
}

// initializeWorkers rebuilds the worker pool. Callers hold e.mu or own e exclusively.
func (e *Engine) initializeWorkers() {
	e.workers = make([]*Worker, e.config.Workers)
	e.workerPool = make(chan *Worker, e.config.Workers)
	for i := range e.workers {
		e.workers[i] = newWorker(i, e.registry, e.scorer, e.cache, e.config.CandidateTimeout, e.logger)
		e.workerPool <- e.workers[i]
	}
}

// SetScorer replaces the scorer and drops cached scores
func (e *Engine) SetScorer(s score.Scorer) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.scorer = s
	e.cache.purge()
	e.initializeWorkers()
}

// SetLogger replaces the engine logger
func (e *Engine) SetLogger(logger *logrus.Logger) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.logger = logger
	e.initializeWorkers()
}

// AddReporter registers a reporter for inference events
func (e *Engine) AddReporter(r Reporter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reporters = append(e.reporters, r)
}

// Config returns a copy of the engine configuration
func (e *Engine) Config() Config {
	return *e.config
}

// WorkerStats returns the statistics of every worker
func (e *Engine) WorkerStats() []map[string]interface{} {
	e.mu.RLock()
	defer e.mu.RUnlock()

	stats := make([]map[string]interface{}, len(e.workers))
	for i, w := range e.workers {
		stats[i] = w.GetStats()
	}
	return stats
}

// Infer runs inference with the configured depth and top-K
func (e *Engine) Infer(ctx context.Context, c *core.Corpus) (*Result, error) {
	return e.InferDepth(ctx, c, e.config.MaxDepth, e.config.TopK)
}

// InferDepth runs inference for at most maxDepth layers, keeping topK alternatives per
// layer. An empty or all-empty corpus yields an empty result. Contract violations and
// cancellation of ctx abort the run.
func (e *Engine) InferDepth(ctx context.Context, c *core.Corpus, maxDepth, topK int) (*Result, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if maxDepth < 0 || topK < 0 {
		return nil, fmt.Errorf("%w: depth and top-k must be non-negative", ErrInvalidConfig)
	}

	result := &Result{Layers: []*Layer{}, corpus: c}
	if c == nil || c.IsEmpty() || c.IsDegenerate() {
		if c != nil {
			result.Corpus = c.Summary()
		}
		result.StopReason = StopEmptyCorpus
		e.notifyStop(result)
		return result, nil
	}
	result.Corpus = c.Summary()

	e.logger.WithFields(logrus.Fields{
		"corpus":    c.Name(),
		"messages":  c.Len(),
		"bytes":     c.TotalBytes(),
		"max_depth": maxDepth,
		"workers":   e.config.Workers,
	}).Info("Starting inference")

	current := c
	for depth := 0; ; depth++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if depth >= maxDepth {
			result.StopReason = StopMaxDepth
			break
		}
		if depth > 0 && current.AverageLength() < e.config.MinSDUBytes {
			result.StopReason = StopMinSDUBytes
			break
		}

		layer, evaluated, reason, err := e.peel(ctx, current, depth, topK)
		result.Evaluated += evaluated
		if err != nil {
			return nil, err
		}
		if layer == nil {
			result.StopReason = reason
			break
		}

		result.Layers = append(result.Layers, layer)
		for _, r := range e.reporters {
			r.OnLayerAccepted(layer)
		}
		current = layer.SDUs
	}

	e.notifyStop(result)
	return result, nil
}

func (e *Engine) notifyStop(result *Result) {
	for _, r := range e.reporters {
		r.OnStop(result.StopReason, len(result.Layers))
	}
}

// peel evaluates every candidate on c and returns the accepted layer, or nil and the
// reason recursion stops here
func (e *Engine) peel(ctx context.Context, c *core.Corpus, depth, topK int) (*Layer, int, StopReason, error) {
	candidates, err := e.candidates(c, depth)
	if err != nil {
		return nil, 0, "", err
	}

	evaluations, err := e.evaluate(ctx, c, candidates, depth)
	if err != nil {
		return nil, len(candidates), "", err
	}

	rank := NewRankQueue(len(evaluations))
	rejected := 0
	for _, ev := range evaluations {
		for _, r := range e.reporters {
			r.OnCandidateScored(depth, ev.candidate)
		}
		if !ev.candidate.Score.Eligible() {
			rejected++
			continue
		}
		cand := ev.candidate
		rank.Put(&cand)
	}

	baseline := evaluations[0].candidate
	top := rank.GetBatch(topK + 1)
	if len(top) == 0 {
		return nil, len(candidates), StopNoImprovement, nil
	}
	best := top[0]
	if best.Order == baseline.Order || !(best.Score.TotalBits < baseline.Score.TotalBits) {
		e.logger.WithFields(logrus.Fields{
			"depth":         depth,
			"best":          hypothesis.Describe(best.Hypothesis),
			"best_bits":     best.Score.TotalBits,
			"baseline_bits": baseline.Score.TotalBits,
		}).Info("No hypothesis beats the opaque baseline")
		return nil, len(candidates), StopNoImprovement, nil
	}

	parsed := evaluations[best.Order].parsed
	if parsed == nil {
		// Cached score; parsing again is deterministic
		p, err := e.registry.ParserFor(best.Hypothesis)
		if err != nil {
			return nil, len(candidates), "", &ContractViolationError{Stage: StageParse, Key: best.Hypothesis.Key(), Depth: depth, Err: err}
		}
		if parsed, err = parse(p, c, *best, depth); err != nil {
			return nil, len(candidates), "", err
		}
	}

	sdus, err := parsed.ExtractSDUs(fmt.Sprintf("%s/%d", c.Name(), depth+1))
	if err != nil {
		return nil, len(candidates), "", &ContractViolationError{Stage: StageExtract, Plugin: best.Parser, Key: best.Hypothesis.Key(), Depth: depth, Err: err}
	}
	if sdus.IsEmpty() || sdus.IsDegenerate() {
		return nil, len(candidates), StopDegenerateSDU, nil
	}

	alternatives := make([]Candidate, 0, len(top)-1)
	for _, alt := range top[1:] {
		alternatives = append(alternatives, *alt)
	}

	return &Layer{
		Depth:        depth,
		Corpus:       c.Summary(),
		Selected:     *best,
		Baseline:     baseline,
		Alternatives: alternatives,
		Evaluated:    len(candidates),
		Rejected:     rejected,
		Parsed:       parsed,
		SDUs:         sdus,
	}, len(candidates), "", nil
}

// candidates returns the opaque baseline followed by every generated hypothesis,
// deduplicated by key in registration order
func (e *Engine) candidates(c *core.Corpus, depth int) ([]Candidate, error) {
	baseline := hypothesis.Opaque{}
	out := []Candidate{{Order: 0, Generator: BaselineGenerator, Hypothesis: baseline}}
	seen := map[string]bool{baseline.Key(): true}

	for _, g := range e.registry.Generators() {
		for _, h := range g.Generate(c) {
			if h == nil {
				return nil, &ContractViolationError{Stage: StageGenerate, Plugin: g.Name(), Depth: depth, Err: errNilHypothesis}
			}
			if err := h.Validate(); err != nil {
				return nil, &ContractViolationError{Stage: StageGenerate, Plugin: g.Name(), Key: h.Key(), Depth: depth, Err: err}
			}
			key := h.Key()
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, Candidate{Order: len(out), Generator: g.Name(), Hypothesis: h})
		}
	}

	e.logger.WithFields(logrus.Fields{
		"depth":      depth,
		"corpus":     c.Name(),
		"candidates": len(out),
	}).Debug("Candidates generated")
	return out, nil
}

// evaluate scores every candidate on the worker pool; results are indexed by candidate order
func (e *Engine) evaluate(ctx context.Context, c *core.Corpus, candidates []Candidate, depth int) ([]*evaluation, error) {
	results := make([]*evaluation, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(len(e.workers))
	for i := range candidates {
		g.Go(func() error {
			var w *Worker
			select {
			case w = <-e.workerPool:
			case <-gctx.Done():
				return gctx.Err()
			}
			defer func() { e.workerPool <- w }()

			ev, err := w.Evaluate(gctx, c, candidates[i], depth)
			if err != nil {
				return err
			}
			results[i] = ev
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	// Cancellation aborts the run even when every candidate finished
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}
