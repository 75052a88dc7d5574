/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: mdl_test.go
Description: Tests for the MDL scorer and score breakdowns.
*/

package score

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kleascm/akaylee-infer/pkg/core"
	"github.com/kleascm/akaylee-infer/pkg/hypothesis"
	"github.com/kleascm/akaylee-infer/pkg/measures"
	"github.com/kleascm/akaylee-infer/pkg/parser"
)

// lengthPrefixedCorpus holds u16 little-endian length prefixes over payloads drawn
// from a four letter alphabet
func lengthPrefixedCorpus() *core.Corpus {
	rng := rand.New(rand.NewSource(7))
	alphabet := []byte("ACGT")
	var msgs [][]byte
	for i := 0; i < 100; i++ {
		n := 8 + rng.Intn(33)
		msg := make([]byte, 2, 2+n)
		binary.LittleEndian.PutUint16(msg, uint16(n))
		for j := 0; j < n; j++ {
			msg = append(msg, alphabet[rng.Intn(len(alphabet))])
		}
		msgs = append(msgs, msg)
	}
	return core.NewCorpus("lp", msgs)
}

func scoreWith(t *testing.T, s *MDLScorer, p parser.Parser, c *core.Corpus, h hypothesis.Hypothesis) Breakdown {
	t.Helper()
	parsed, err := p.Parse(c, h)
	require.NoError(t, err)
	return s.Score(context.Background(), c, h, parsed)
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	bad := DefaultConfig()
	bad.CompressionLevel = 0
	assert.ErrorIs(t, bad.Validate(), ErrInvalidConfig)

	bad = DefaultConfig()
	bad.MinParseSuccessRatio = 1.5
	assert.ErrorIs(t, bad.Validate(), ErrInvalidConfig)

	bad = DefaultConfig()
	bad.ExceptionBits = -1
	assert.ErrorIs(t, bad.Validate(), ErrInvalidConfig)
}

func TestNewBreakdownFloorsAtModel(t *testing.T) {
	b := NewBreakdown(10, 5, 1, 100, 0, 0, Diagnostics{})
	assert.Equal(t, 10.0, b.TotalBits)

	b = NewBreakdown(10, 50, 1, 5, 3, 2, Diagnostics{})
	assert.Equal(t, 54.0, b.TotalBits)
	assert.True(t, b.Eligible())
	assert.Contains(t, b.String(), "total=54.0")
}

func TestNewBreakdownCopiesReasons(t *testing.T) {
	reasons := map[string]int{"short_header": 1}
	b := NewBreakdown(1, 1, 1, 0, 0, 0, Diagnostics{ExceptionReasons: reasons})
	reasons["short_header"] = 9
	assert.Equal(t, 1, b.Diagnostics.ExceptionReasons["short_header"])
}

func TestOpaqueBaseline(t *testing.T) {
	c := lengthPrefixedCorpus()
	b := scoreWith(t, NewMDLScorer(nil), parser.OpaqueParser{}, c, hypothesis.Opaque{})

	assert.Equal(t, hypothesis.Opaque{}.ModelBits(), b.ModelBits)
	assert.Equal(t, 0.0, b.EntropyDropBits)
	assert.Equal(t, 0.0, b.AlignmentGainBits)
	assert.Equal(t, 0.0, b.PenaltiesBits)
	assert.Equal(t, 1.0, b.ParseSuccessRatio)
	assert.InDelta(t, b.ModelBits+b.DataBits, b.TotalBits, 1e-9)
	assert.Greater(t, b.DataBits, 0.0)
	assert.False(t, b.Diagnostics.Degraded)
}

func TestLengthPrefixBeatsAlternatives(t *testing.T) {
	c := lengthPrefixedCorpus()
	s := NewMDLScorer(nil)

	lp := scoreWith(t, s, parser.LengthPrefixParser{}, c,
		hypothesis.LengthPrefixBundle{Offset: 0, Width: 2, Endianness: hypothesis.LittleEndian})
	opaque := scoreWith(t, s, parser.OpaqueParser{}, c, hypothesis.Opaque{})
	fixed := scoreWith(t, s, parser.FixedHeaderParser{}, c, hypothesis.FixedHeader{Length: 2})

	assert.Equal(t, 1.0, lp.ParseSuccessRatio)
	assert.Equal(t, 100, lp.Diagnostics.Explained)
	assert.Greater(t, lp.AlignmentGainBits, 0.0)
	assert.Greater(t, lp.EntropyDropBits, 0.0)
	assert.Less(t, lp.TotalBits, opaque.TotalBits)
	assert.Less(t, lp.TotalBits, fixed.TotalBits)

	// Both describe the same bytes; the length field follows from the message length,
	// so only the fixed header pays for those bytes
	assert.InDelta(t, lp.DataBits, fixed.DataBits, 1e-9)
	assert.Greater(t, lp.EntropyDropBits, fixed.EntropyDropBits)
	assert.Equal(t, 0.0, fixed.AlignmentGainBits)
}

// patternCorpus holds u16 little-endian lengths drawn from [lo, hi] over a repeating
// pattern payload
func patternCorpus(seed int64, pattern string, lo, hi int) *core.Corpus {
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
	return core.NewCorpus("pattern", msgs)
}

func TestPredictedLengthFieldsCostOneBit(t *testing.T) {
	c := patternCorpus(1, "AB", 0, 300)
	s := NewMDLScorer(nil)

	h := hypothesis.LengthPrefixBundle{Offset: 0, Width: 2, Endianness: hypothesis.LittleEndian}
	lp := scoreWith(t, s, parser.LengthPrefixParser{}, c, h)
	require.Equal(t, 1.0, lp.ParseSuccessRatio)
	assert.InDelta(t, h.ModelBits()+100, lp.ModelBits, 1e-9)

	// The data term is the same unsplit stream for every hypothesis
	opaque := scoreWith(t, s, parser.OpaqueParser{}, c, hypothesis.Opaque{})
	assert.InDelta(t, opaque.DataBits, lp.DataBits, 1e-9)

	rivals := map[string]Breakdown{
		"opaque": opaque,
		"fixed":  scoreWith(t, s, parser.FixedHeaderParser{}, c, hypothesis.FixedHeader{Length: 2}),
		"bitmap": scoreWith(t, s, parser.BitmapParser{}, c, hypothesis.ExtensibleBitmap{Start: 1, ContinuationBit: 0, MaxBytes: 8}),
	}
	for name, b := range rivals {
		assert.Less(t, lp.TotalBits, b.TotalBits, "%s: %s vs %s", name, lp, b)
	}
}

func TestLengthPrefixWinsAcrossPayloads(t *testing.T) {
	s := NewMDLScorer(nil)
	h := hypothesis.LengthPrefixBundle{Offset: 0, Width: 2, Endianness: hypothesis.LittleEndian}

	for _, pattern := range []string{"AB", "ABCDEFGH", "hello "} {
		for _, r := range [][2]int{{0, 300}, {8, 40}, {100, 200}} {
			for seed := int64(1); seed <= 3; seed++ {
				c := patternCorpus(seed, pattern, r[0], r[1])
				lp := scoreWith(t, s, parser.LengthPrefixParser{}, c, h)
				fixed := scoreWith(t, s, parser.FixedHeaderParser{}, c, hypothesis.FixedHeader{Length: 2})
				opaque := scoreWith(t, s, parser.OpaqueParser{}, c, hypothesis.Opaque{})

				name := fmt.Sprintf("%q %d..%d seed=%d", pattern, r[0], r[1], seed)
				assert.Equal(t, 0, lp.Diagnostics.Exceptions, name)
				assert.Less(t, lp.TotalBits, fixed.TotalBits, name)
				assert.Less(t, lp.TotalBits, opaque.TotalBits, name)
			}
		}
	}
}

func TestDegradedStreamsShareOneEstimator(t *testing.T) {
	var msgs [][]byte
	for i := 0; i < 200; i++ {
		msg := []byte{byte(i), byte(i >> 8)}
		msgs = append(msgs, append(msg, bytes.Repeat([]byte("abcd"), 50)...))
	}
	c := core.NewCorpus("repetitive", msgs)
	h := hypothesis.FixedHeader{Length: 2}

	full := scoreWith(t, NewMDLScorer(nil), parser.FixedHeaderParser{}, c, h)
	require.False(t, full.Diagnostics.Degraded)

	// Only the unsplit stream is over budget
	config := DefaultConfig()
	config.MaxCompressBytes = c.TotalBytes() - 100
	b := scoreWith(t, NewMDLScorer(config), parser.FixedHeaderParser{}, c, h)
	assert.True(t, b.Diagnostics.Degraded)
	assert.Equal(t, measures.DegradedSize, b.Diagnostics.DegradedReason)

	var pci, sdu []byte
	for _, m := range msgs {
		pci = append(pci, m[:2]...)
		sdu = append(sdu, m[2:]...)
	}
	raw := measures.NewHistogram(msgs...).EstimateBits()
	split := measures.NewHistogram(pci).EstimateBits() + measures.NewHistogram(sdu).EstimateBits()

	assert.InDelta(t, raw, b.DataBits, 1e-6)
	assert.InDelta(t, math.Max(0, raw-split), b.EntropyDropBits, 1e-6)
	assert.InDelta(t, h.ModelBits()+b.DataBits-b.EntropyDropBits, b.TotalBits, 1e-6)
}

func TestExceptionPenalties(t *testing.T) {
	c := core.NewCorpus("mixed", [][]byte{
		[]byte("HDRpayload"),
		[]byte("HDRpayload"),
		[]byte("HD"),
	})
	s := NewMDLScorer(nil)
	b := scoreWith(t, s, parser.FixedHeaderParser{}, c, hypothesis.FixedHeader{Length: 3})

	assert.Equal(t, 1, b.Diagnostics.Exceptions)
	assert.Equal(t, map[string]int{"short_header": 1}, b.Diagnostics.ExceptionReasons)
	assert.InDelta(t, 32+8*2, b.PenaltiesBits, 1e-9)
	assert.False(t, b.Diagnostics.Rejected)
}

func TestOverSegmentationPenalties(t *testing.T) {
	c := core.NewCorpus("lines", [][]byte{[]byte("a\nbb\n")})
	b := scoreWith(t, NewMDLScorer(nil), parser.DelimiterParser{}, c, hypothesis.DelimiterBundle{Delimiter: []byte("\n")})

	// One extra frame and one SDU shorter than two bytes
	assert.Equal(t, 2, b.Diagnostics.SDUs)
	assert.InDelta(t, 4+4, b.PenaltiesBits, 1e-9)
}

func TestRejectedBelowParseSuccessRatio(t *testing.T) {
	c := core.NewCorpus("short", [][]byte{[]byte("ab"), []byte("cd"), []byte("efgh")})
	b := scoreWith(t, NewMDLScorer(nil), parser.FixedHeaderParser{}, c, hypothesis.FixedHeader{Length: 3})

	assert.InDelta(t, 1.0/3.0, b.ParseSuccessRatio, 1e-9)
	assert.True(t, b.Diagnostics.Rejected)
	assert.NotEmpty(t, b.Diagnostics.RejectReason)
	assert.False(t, b.Eligible())
}

func TestDegradedCompression(t *testing.T) {
	config := DefaultConfig()
	config.MaxCompressBytes = 16
	c := lengthPrefixedCorpus()
	b := scoreWith(t, NewMDLScorer(config), parser.OpaqueParser{}, c, hypothesis.Opaque{})

	assert.True(t, b.Diagnostics.Degraded)
	assert.Equal(t, "size_budget", b.Diagnostics.DegradedReason)
	assert.Greater(t, b.TotalBits, 0.0)
}

func TestBreakdownJSONFieldNames(t *testing.T) {
	c := lengthPrefixedCorpus()
	b := scoreWith(t, NewMDLScorer(nil), parser.OpaqueParser{}, c, hypothesis.Opaque{})

	data, err := json.Marshal(b)
	require.NoError(t, err)
	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &fields))
	for _, name := range []string{
		"mdl_model_bits", "mdl_data_bits", "parse_success_ratio", "alignment_gain_bits",
		"entropy_drop_bits", "penalties_bits", "total_bits", "diagnostics",
	} {
		assert.Contains(t, fields, name)
	}
}

func TestScoreIsDeterministic(t *testing.T) {
	c := lengthPrefixedCorpus()
	s := NewMDLScorer(nil)
	h := hypothesis.LengthPrefixBundle{Offset: 0, Width: 2, Endianness: hypothesis.LittleEndian}
	assert.Equal(t,
		scoreWith(t, s, parser.LengthPrefixParser{}, c, h),
		scoreWith(t, s, parser.LengthPrefixParser{}, c, h))
}

func TestScoreProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	s := NewMDLScorer(nil)
	cases := []struct {
		p parser.Parser
		h hypothesis.Hypothesis
	}{
		{parser.OpaqueParser{}, hypothesis.Opaque{}},
		{parser.FixedHeaderParser{}, hypothesis.FixedHeader{Length: 1}},
		{parser.LengthPrefixParser{}, hypothesis.LengthPrefixBundle{Width: 1, Endianness: hypothesis.LittleEndian}},
		{parser.DelimiterParser{}, hypothesis.DelimiterBundle{Delimiter: []byte{0x00}}},
		{parser.BitmapParser{}, hypothesis.ExtensibleBitmap{ContinuationBit: 7, MaxBytes: 4}},
	}

	properties.Property("drop is non-negative and total is at least the model cost", prop.ForAll(
		func(seed int64, count int) bool {
			rng := rand.New(rand.NewSource(seed))
			msgs := make([][]byte, count)
			for i := range msgs {
				msgs[i] = make([]byte, rng.Intn(48))
				rng.Read(msgs[i])
			}
			c := core.NewCorpus("prop", msgs)
			for _, tc := range cases {
				parsed, err := tc.p.Parse(c, tc.h)
				if err != nil {
					return false
				}
				b := s.Score(context.Background(), c, tc.h, parsed)
				if b.EntropyDropBits < 0 || b.TotalBits < b.ModelBits || b.PenaltiesBits < 0 {
					return false
				}
				if b.ModelBits < tc.h.ModelBits() {
					return false
				}
			}
			return true
		},
		gen.Int64(),
		gen.IntRange(0, 40),
	))

	properties.TestingRun(t)
}
