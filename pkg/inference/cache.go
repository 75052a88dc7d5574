/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: cache.go
Description: Evaluation cache keyed by corpus fingerprint and hypothesis key. Only complete
(non-degraded) breakdowns are stored so a cached score never depends on a deadline.
*/

package inference

import (
	"github.com/hashicorp/golang-lru/v2"

	"github.com/kleascm/akaylee-infer/pkg/core"
	"github.com/kleascm/akaylee-infer/pkg/hypothesis"
	"github.com/kleascm/akaylee-infer/pkg/score"
)

// evalCache maps (corpus, hypothesis) to a score. A nil cache stores nothing.
type evalCache struct {
	entries *lru.Cache[string, score.Breakdown]
}

func newEvalCache(size int) (*evalCache, error) {
	if size <= 0 {
		return nil, nil
	}
	entries, err := lru.New[string, score.Breakdown](size)
	if err != nil {
		return nil, err
	}
	return &evalCache{entries: entries}, nil
}

func cacheKey(c *core.Corpus, h hypothesis.Hypothesis) string {
	return c.Fingerprint() + "|" + h.Key()
}

func (ec *evalCache) get(c *core.Corpus, h hypothesis.Hypothesis) (score.Breakdown, bool) {
	if ec == nil {
		return score.Breakdown{}, false
	}
	return ec.entries.Get(cacheKey(c, h))
}

func (ec *evalCache) put(c *core.Corpus, h hypothesis.Hypothesis, b score.Breakdown) {
	if ec == nil || b.Diagnostics.Degraded {
		return
	}
	ec.entries.Add(cacheKey(c, h), b)
}

func (ec *evalCache) len() int {
	if ec == nil {
		return 0
	}
	return ec.entries.Len()
}

func (ec *evalCache) purge() {
	if ec != nil {
		ec.entries.Purge()
	}
}
