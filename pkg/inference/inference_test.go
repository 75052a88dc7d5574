/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: inference_test.go
Description: End-to-end inference tests: framing scenarios, termination on random data,
determinism, top-K alternatives, caching, contract violations and cancellation.
*/

package inference

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kleascm/akaylee-infer/pkg/core"
	"github.com/kleascm/akaylee-infer/pkg/hypothesis"
	"github.com/kleascm/akaylee-infer/pkg/parser"
	"github.com/kleascm/akaylee-infer/pkg/plugin"
	"github.com/kleascm/akaylee-infer/pkg/score"
)

// lengthPrefixedCorpus holds u16 little-endian length prefixes over a repeating payload
func lengthPrefixedCorpus() *core.Corpus {
	return framedCorpus(1, "ABCDEFGH", 8, 40)
}

// framedCorpus holds u16 little-endian lengths drawn from [lo, hi] over a repeating pattern
func framedCorpus(seed int64, pattern string, lo, hi int) *core.Corpus {
	rng := rand.New(rand.NewSource(seed))
	var msgs [][]byte
	for i := 0; i < 100; i++ {
		n := lo + rng.Intn(hi-lo+1)
		msg := make([]byte, 2, 2+n)
		binary.LittleEndian.PutUint16(msg, uint16(n))
		for j := 0; j < n; j++ {
			msg = append(msg, pattern[j%len(pattern)])
		}
		msgs = append(msgs, msg)
	}
	return core.NewCorpus("lp", msgs)
}

var words = strings.Fields("alpha bravo charlie delta echo foxtrot golf hotel india juliet kilo lima mike " +
	"november oscar papa quebec romeo sierra tango uniform victor whiskey xray yankee zulu")

func linesCorpus() *core.Corpus {
	rng := rand.New(rand.NewSource(2))
	var msgs [][]byte
	for i := 0; i < 100; i++ {
		n := 3 + rng.Intn(6)
		line := make([]string, n)
		for j := range line {
			line[j] = words[rng.Intn(len(words))]
		}
		msgs = append(msgs, []byte(strings.Join(line, " ")+"\n"))
	}
	return core.NewCorpus("lines", msgs)
}

func randomCorpus() *core.Corpus {
	return blobCorpus(3, 100)
}

// blobCorpus holds n random 64 byte messages
func blobCorpus(seed int64, n int) *core.Corpus {
	rng := rand.New(rand.NewSource(seed))
	var msgs [][]byte
	for i := 0; i < n; i++ {
		msg := make([]byte, 64)
		rng.Read(msg)
		msgs = append(msgs, msg)
	}
	return core.NewCorpus("random", msgs)
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func newTestEngine(t *testing.T, registry *plugin.Registry, config *Config) *Engine {
	t.Helper()
	if registry == nil {
		registry = plugin.Default(nil)
	}
	if config == nil {
		config = DefaultConfig()
		config.Workers = 4
	}
	e, err := NewEngine(registry, config)
	require.NoError(t, err)
	e.SetLogger(quietLogger())
	return e
}

// recorder collects reporter events
type recorder struct {
	mu         sync.Mutex
	candidates []Candidate
	layers     []*Layer
	stops      []StopReason
}

func (r *recorder) OnCandidateScored(depth int, c Candidate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.candidates = append(r.candidates, c)
}

func (r *recorder) OnLayerAccepted(l *Layer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.layers = append(r.layers, l)
}

func (r *recorder) OnStop(reason StopReason, depth int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stops = append(r.stops, reason)
}

type stubGenerator struct {
	name      string
	proposals []hypothesis.Hypothesis
}

func (g stubGenerator) Name() string { return g.name }

func (g stubGenerator) Generate(*core.Corpus) []hypothesis.Hypothesis { return g.proposals }

// errorParser claims fixed headers and always fails
type errorParser struct{}

func (errorParser) Name() string { return "error" }

func (errorParser) Applicable(h hypothesis.Hypothesis) bool {
	_, ok := h.(hypothesis.FixedHeader)
	return ok
}

func (errorParser) Parse(*core.Corpus, hypothesis.Hypothesis) (*parser.ParsedCorpus, error) {
	return nil, errors.New("boom")
}

// shortParser claims fixed headers and drops every entry
type shortParser struct{}

func (shortParser) Name() string { return "short" }

func (shortParser) Applicable(h hypothesis.Hypothesis) bool {
	_, ok := h.(hypothesis.FixedHeader)
	return ok
}

func (shortParser) Parse(c *core.Corpus, h hypothesis.Hypothesis) (*parser.ParsedCorpus, error) {
	return parser.NewParsedCorpus(c, h, nil), nil
}

// fixedScorer prefers every hypothesis over the opaque baseline
type fixedScorer struct{}

func (fixedScorer) Name() string { return "fixed" }

func (fixedScorer) Score(_ context.Context, c *core.Corpus, h hypothesis.Hypothesis, parsed *parser.ParsedCorpus) score.Breakdown {
	total := 10.0
	if h.Kind() == hypothesis.KindOpaque {
		total = 100
	}
	return score.NewBreakdown(0, total, parsed.ParseSuccessRatio(), 0, 0, 0, score.Diagnostics{Messages: c.Len()})
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	bad := DefaultConfig()
	bad.Workers = 0
	assert.ErrorIs(t, bad.Validate(), ErrInvalidConfig)

	bad = DefaultConfig()
	bad.MaxDepth = -1
	assert.ErrorIs(t, bad.Validate(), ErrInvalidConfig)

	_, err := NewEngine(nil, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLengthPrefixScenario(t *testing.T) {
	e := newTestEngine(t, nil, nil)
	result, err := e.Infer(context.Background(), lengthPrefixedCorpus())
	require.NoError(t, err)
	require.False(t, result.IsEmpty())

	first := result.Layers[0]
	want := hypothesis.LengthPrefixBundle{Offset: 0, Width: 2, Endianness: hypothesis.LittleEndian}
	assert.Equal(t, want.Key(), first.Selected.Hypothesis.Key())
	assert.Equal(t, 1.0, first.Selected.Score.ParseSuccessRatio)
	assert.Equal(t, 0, first.Selected.Score.Diagnostics.Exceptions)
	assert.Equal(t, 0, first.Parsed.ExceptionCount())
	assert.Equal(t, 100, first.SDUs.Len())
	assert.Greater(t, first.Gain(), 0.0)

	// The payload of every message becomes one SDU
	for i := 0; i < first.SDUs.Len(); i++ {
		origin, ok := first.SDUs.Origin(i)
		require.True(t, ok)
		assert.Equal(t, core.Origin{Message: i}, origin)
		assert.Equal(t, lengthPrefixedCorpus().Message(i)[2:], first.SDUs.Message(i))
	}
}

func TestDelimiterScenario(t *testing.T) {
	e := newTestEngine(t, nil, nil)
	result, err := e.Infer(context.Background(), linesCorpus())
	require.NoError(t, err)
	require.False(t, result.IsEmpty())

	first := result.Layers[0]
	assert.Equal(t, hypothesis.DelimiterBundle{Delimiter: []byte("\n")}.Key(), first.Selected.Hypothesis.Key())
	for _, alt := range first.Alternatives {
		if alt.Hypothesis.Kind() == hypothesis.KindLengthPrefix {
			assert.Greater(t, alt.Score.TotalBits, first.Selected.Score.TotalBits)
		}
	}
}

func TestRandomBlobsTerminateAtDepthZero(t *testing.T) {
	e := newTestEngine(t, nil, nil)
	result, err := e.Infer(context.Background(), randomCorpus())
	require.NoError(t, err)

	assert.True(t, result.IsEmpty())
	assert.Equal(t, StopNoImprovement, result.StopReason)
	assert.Greater(t, result.Evaluated, 1)
}

func TestLengthPrefixAcrossPayloads(t *testing.T) {
	config := DefaultConfig()
	config.Workers = 4
	config.MaxDepth = 1
	e := newTestEngine(t, nil, config)
	want := hypothesis.LengthPrefixBundle{Offset: 0, Width: 2, Endianness: hypothesis.LittleEndian}

	for _, pattern := range []string{"AB", "ABCDEFGH", "hello "} {
		for _, r := range [][2]int{{0, 300}, {8, 40}, {100, 200}} {
			for seed := int64(1); seed <= 3; seed++ {
				name := fmt.Sprintf("%q %d..%d seed=%d", pattern, r[0], r[1], seed)
				result, err := e.Infer(context.Background(), framedCorpus(seed, pattern, r[0], r[1]))
				require.NoError(t, err, name)
				require.False(t, result.IsEmpty(), name)

				first := result.Layers[0]
				assert.Equal(t, want.Key(), first.Selected.Hypothesis.Key(), name)
				assert.Equal(t, 1.0, first.Selected.Score.ParseSuccessRatio, name)
				assert.Equal(t, 0, first.Parsed.ExceptionCount(), name)
			}
		}
	}
}

func TestRandomBlobsTerminateAcrossSizes(t *testing.T) {
	e := newTestEngine(t, nil, nil)
	for _, n := range []int{5, 20, 100, 500} {
		for seed := int64(1); seed <= 5; seed++ {
			name := fmt.Sprintf("n=%d seed=%d", n, seed)
			result, err := e.Infer(context.Background(), blobCorpus(seed, n))
			require.NoError(t, err, name)

			if !assert.True(t, result.IsEmpty(), name) {
				t.Logf("%s selected %s %s", name, result.Layers[0].Selected.Hypothesis.Key(), result.Layers[0].Selected.Score)
			}
			assert.Equal(t, StopNoImprovement, result.StopReason, name)
		}
	}
}

func TestSelectedNeverWorseThanBaseline(t *testing.T) {
	e := newTestEngine(t, nil, nil)
	for _, c := range []*core.Corpus{lengthPrefixedCorpus(), linesCorpus(), randomCorpus()} {
		result, err := e.Infer(context.Background(), c)
		require.NoError(t, err)
		for _, l := range result.Layers {
			assert.Less(t, l.Selected.Score.TotalBits, l.Baseline.Score.TotalBits, c.Name())
			assert.Equal(t, hypothesis.KindOpaque, l.Baseline.Hypothesis.Kind())
		}
	}
}

func TestEmptyCorpus(t *testing.T) {
	e := newTestEngine(t, nil, nil)
	for _, c := range []*core.Corpus{
		nil,
		core.NewCorpus("empty", nil),
		core.NewCorpus("zero", [][]byte{{}, {}}),
	} {
		result, err := e.Infer(context.Background(), c)
		require.NoError(t, err)
		assert.True(t, result.IsEmpty())
		assert.Equal(t, StopEmptyCorpus, result.StopReason)
	}
}

func TestMaxDepth(t *testing.T) {
	e := newTestEngine(t, nil, nil)

	result, err := e.InferDepth(context.Background(), lengthPrefixedCorpus(), 0, 3)
	require.NoError(t, err)
	assert.True(t, result.IsEmpty())
	assert.Equal(t, StopMaxDepth, result.StopReason)

	result, err = e.InferDepth(context.Background(), lengthPrefixedCorpus(), 1, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Depth())
	assert.Equal(t, StopMaxDepth, result.StopReason)

	_, err = e.InferDepth(context.Background(), lengthPrefixedCorpus(), -1, 3)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestTopKAlternatives(t *testing.T) {
	e := newTestEngine(t, nil, nil)
	result, err := e.InferDepth(context.Background(), lengthPrefixedCorpus(), 1, 3)
	require.NoError(t, err)
	require.Equal(t, 1, result.Depth())

	l := result.Layers[0]
	assert.LessOrEqual(t, len(l.Alternatives), 3)
	prev := &l.Selected
	for i := range l.Alternatives {
		alt := &l.Alternatives[i]
		assert.False(t, better(alt, prev), "alternatives must be ranked")
		assert.NotEqual(t, l.Selected.Hypothesis.Key(), alt.Hypothesis.Key())
		prev = alt
	}

	result, err = e.InferDepth(context.Background(), lengthPrefixedCorpus(), 1, 0)
	require.NoError(t, err)
	assert.Empty(t, result.Layers[0].Alternatives)
}

func TestDeterminism(t *testing.T) {
	run := func() []byte {
		e := newTestEngine(t, nil, nil)
		result, err := e.Infer(context.Background(), lengthPrefixedCorpus())
		require.NoError(t, err)
		data, err := json.Marshal(result)
		require.NoError(t, err)
		return data
	}
	assert.JSONEq(t, string(run()), string(run()))
}

func TestCacheServesRepeatedRuns(t *testing.T) {
	e := newTestEngine(t, nil, nil)
	rec := &recorder{}
	e.AddReporter(rec)

	first, err := e.Infer(context.Background(), lengthPrefixedCorpus())
	require.NoError(t, err)
	firstEvents := len(rec.candidates)
	require.Positive(t, firstEvents)
	for _, c := range rec.candidates {
		assert.False(t, c.Cached)
	}

	second, err := e.Infer(context.Background(), lengthPrefixedCorpus())
	require.NoError(t, err)
	hits := 0
	for _, c := range rec.candidates[firstEvents:] {
		if c.Cached {
			hits++
		}
	}
	assert.Positive(t, hits)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.JSONEq(t, string(a), string(b))
}

func TestReporterEvents(t *testing.T) {
	e := newTestEngine(t, nil, nil)
	rec := &recorder{}
	e.AddReporter(rec)

	result, err := e.Infer(context.Background(), lengthPrefixedCorpus())
	require.NoError(t, err)

	assert.Len(t, rec.candidates, result.Evaluated)
	assert.Len(t, rec.layers, result.Depth())
	assert.Equal(t, []StopReason{result.StopReason}, rec.stops)
	assert.Equal(t, BaselineGenerator, rec.candidates[0].Generator)
}

func TestDegenerateSDUStopsWithoutLayer(t *testing.T) {
	registry := plugin.NewRegistry()
	require.NoError(t, registry.RegisterParser(parser.OpaqueParser{}))
	require.NoError(t, registry.RegisterParser(parser.FixedHeaderParser{}))
	require.NoError(t, registry.RegisterGenerator(stubGenerator{
		name:      "header",
		proposals: []hypothesis.Hypothesis{hypothesis.FixedHeader{Length: 2}},
	}))

	e := newTestEngine(t, registry, nil)
	e.SetScorer(fixedScorer{})
	result, err := e.Infer(context.Background(), core.NewCorpus("hdr", [][]byte{[]byte("ab"), []byte("cd")}))
	require.NoError(t, err)
	assert.True(t, result.IsEmpty())
	assert.Equal(t, StopDegenerateSDU, result.StopReason)
}

func TestMinSDUBytesStopsRecursion(t *testing.T) {
	registry := plugin.NewRegistry()
	require.NoError(t, registry.RegisterParser(parser.OpaqueParser{}))
	require.NoError(t, registry.RegisterParser(parser.FixedHeaderParser{}))
	require.NoError(t, registry.RegisterGenerator(stubGenerator{
		name:      "header",
		proposals: []hypothesis.Hypothesis{hypothesis.FixedHeader{Length: 2}},
	}))

	e := newTestEngine(t, registry, nil)
	e.SetScorer(fixedScorer{})
	result, err := e.Infer(context.Background(), core.NewCorpus("hdr", [][]byte{[]byte("abX"), []byte("cdY")}))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Depth())
	assert.Equal(t, StopMinSDUBytes, result.StopReason)
}

func TestContractViolations(t *testing.T) {
	c := core.NewCorpus("c", [][]byte{[]byte("hello"), []byte("world")})
	header := stubGenerator{name: "header", proposals: []hypothesis.Hypothesis{hypothesis.FixedHeader{Length: 1}}}

	cases := []struct {
		name      string
		parsers   []parser.Parser
		generator stubGenerator
		stage     string
	}{
		{"invalid hypothesis", []parser.Parser{parser.OpaqueParser{}},
			stubGenerator{name: "bad", proposals: []hypothesis.Hypothesis{hypothesis.FixedHeader{Length: 0}}}, StageGenerate},
		{"nil hypothesis", []parser.Parser{parser.OpaqueParser{}},
			stubGenerator{name: "nil", proposals: []hypothesis.Hypothesis{nil}}, StageGenerate},
		{"no parser", []parser.Parser{parser.OpaqueParser{}}, header, StageParse},
		{"parser error", []parser.Parser{parser.OpaqueParser{}, errorParser{}}, header, StageParse},
		{"broken accounting", []parser.Parser{parser.OpaqueParser{}, shortParser{}}, header, StageVerify},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			registry := plugin.NewRegistry()
			for _, p := range tc.parsers {
				require.NoError(t, registry.RegisterParser(p))
			}
			require.NoError(t, registry.RegisterGenerator(tc.generator))

			result, err := newTestEngine(t, registry, nil).Infer(context.Background(), c)
			assert.Nil(t, result)
			require.ErrorIs(t, err, ErrContractViolation)

			var violation *ContractViolationError
			require.True(t, errors.As(err, &violation))
			assert.Equal(t, tc.stage, violation.Stage)
			assert.Equal(t, 0, violation.Depth)
		})
	}
}

func TestCancellation(t *testing.T) {
	e := newTestEngine(t, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := e.Infer(ctx, lengthPrefixedCorpus())
	assert.Nil(t, result)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResultJSON(t *testing.T) {
	e := newTestEngine(t, nil, nil)
	result, err := e.InferDepth(context.Background(), lengthPrefixedCorpus(), 1, 2)
	require.NoError(t, err)

	data, err := json.Marshal(result)
	require.NoError(t, err)

	var doc struct {
		StopReason string `json:"stop_reason"`
		Layers     []struct {
			Selected struct {
				Hypothesis map[string]interface{} `json:"hypothesis"`
				Score      map[string]interface{} `json:"score"`
			} `json:"selected"`
			Parsed map[string]interface{} `json:"parsed"`
			SDUs   map[string]interface{} `json:"sdus"`
		} `json:"layers"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	require.Len(t, doc.Layers, 1)

	h := doc.Layers[0].Selected.Hypothesis
	assert.Equal(t, "length_prefix_bundle", h["kind"])
	assert.EqualValues(t, 2, h["width"])
	assert.Contains(t, doc.Layers[0].Selected.Score, "total_bits")
	assert.Contains(t, doc.Layers[0].Parsed, "exceptions")
	assert.Contains(t, doc.Layers[0].SDUs, "messages")
	assert.Equal(t, string(StopMaxDepth), doc.StopReason)
}

func TestWorkerStats(t *testing.T) {
	e := newTestEngine(t, nil, nil)
	_, err := e.Infer(context.Background(), lengthPrefixedCorpus())
	require.NoError(t, err)

	var total int64
	for _, stats := range e.WorkerStats() {
		total += stats["evaluations"].(int64)
	}
	assert.Positive(t, total)
}
