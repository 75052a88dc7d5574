/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: result.go
Description: Inference results. A Result is the ordered list of accepted layers, outermost
first, plus the reason recursion stopped. Every value is built once and not mutated.
*/

package inference

import (
	"github.com/kleascm/akaylee-infer/pkg/core"
	"github.com/kleascm/akaylee-infer/pkg/hypothesis"
	"github.com/kleascm/akaylee-infer/pkg/parser"
	"github.com/kleascm/akaylee-infer/pkg/score"
)

// BaselineGenerator is the generator name recorded for the opaque baseline
const BaselineGenerator = "baseline"

// StopReason says why recursion ended
type StopReason string

const (
	StopEmptyCorpus   StopReason = "empty_corpus"   // Nothing to infer from
	StopNoImprovement StopReason = "no_improvement" // Best candidate does not beat opaque
	StopDegenerateSDU StopReason = "degenerate_sdu" // Selected candidate leaves no payload
	StopMinSDUBytes   StopReason = "min_sdu_bytes"  // Payload too short to peel further
	StopMaxDepth      StopReason = "max_depth"
)

// Candidate is one evaluated hypothesis
type Candidate struct {
	Order      int                   `json:"order"` // Position in the candidate list; 0 is the baseline
	Generator  string                `json:"generator"`
	Parser     string                `json:"parser"`
	Hypothesis hypothesis.Hypothesis `json:"hypothesis"`
	Score      score.Breakdown       `json:"score"`
	Cached     bool                  `json:"-"`
}

// Layer is one accepted hypothesis at one depth
type Layer struct {
	Depth        int                  `json:"depth"`
	Corpus       core.Summary         `json:"corpus"`
	Selected     Candidate            `json:"selected"`
	Baseline     Candidate            `json:"baseline"`
	Alternatives []Candidate          `json:"alternatives"` // Next best eligible candidates, best first
	Evaluated    int                  `json:"evaluated"`
	Rejected     int                  `json:"rejected"`
	Parsed       *parser.ParsedCorpus `json:"parsed"`
	SDUs         *core.Corpus         `json:"sdus"`
}

// Gain returns how many bits the selected hypothesis saves over the baseline
func (l *Layer) Gain() float64 {
	return l.Baseline.Score.TotalBits - l.Selected.Score.TotalBits
}

// Result is the outcome of one inference run
type Result struct {
	Corpus     core.Summary `json:"corpus"`
	Layers     []*Layer     `json:"layers"`
	StopReason StopReason   `json:"stop_reason"`
	Evaluated  int          `json:"evaluated"` // Candidates evaluated across all depths

	corpus *core.Corpus
}

// Source returns the corpus inference ran on
func (r *Result) Source() *core.Corpus {
	return r.corpus
}

// Depth returns the number of accepted layers
func (r *Result) Depth() int {
	return len(r.Layers)
}

// IsEmpty reports whether no layer beat the baseline
func (r *Result) IsEmpty() bool {
	return len(r.Layers) == 0
}

// Hypotheses returns the accepted hypotheses, outermost first
func (r *Result) Hypotheses() []hypothesis.Hypothesis {
	out := make([]hypothesis.Hypothesis, len(r.Layers))
	for i, l := range r.Layers {
		out[i] = l.Selected.Hypothesis
	}
	return out
}
