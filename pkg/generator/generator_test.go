/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: generator_test.go
Description: Tests for the built-in hypothesis generators.
*/

package generator

import (
	"bytes"
	"encoding/binary"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/kleascm/akaylee-infer/pkg/core"
	"github.com/kleascm/akaylee-infer/pkg/hypothesis"
)

func lengthPrefixedCorpus() *core.Corpus {
	pattern := []byte("ABCDEFGH")
	var msgs [][]byte
	for i := 0; i < 100; i++ {
		n := 8 + (i*7)%33
		msg := make([]byte, 2, 2+n)
		binary.LittleEndian.PutUint16(msg, uint16(n))
		for j := 0; j < n; j++ {
			msg = append(msg, pattern[j%len(pattern)])
		}
		msgs = append(msgs, msg)
	}
	return core.NewCorpus("lp", msgs)
}

func randomCorpus() *core.Corpus {
	rng := rand.New(rand.NewSource(42))
	var msgs [][]byte
	for i := 0; i < 100; i++ {
		msg := make([]byte, 64)
		rng.Read(msg)
		msgs = append(msgs, msg)
	}
	return core.NewCorpus("random", msgs)
}

func keys(hs []hypothesis.Hypothesis) []string {
	out := make([]string, len(hs))
	for i, h := range hs {
		out[i] = h.Key()
	}
	return out
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	bad := DefaultConfig()
	bad.MinSupport = 0
	assert.ErrorIs(t, bad.Validate(), ErrInvalidConfig)

	bad = DefaultConfig()
	bad.MaxCandidates = 0
	assert.ErrorIs(t, bad.Validate(), ErrInvalidConfig)

	bad = DefaultConfig()
	bad.MaxOffset = -1
	assert.ErrorIs(t, bad.Validate(), ErrInvalidConfig)
}

func TestLengthPrefixFindsLittleEndianU16(t *testing.T) {
	proposals := NewLengthPrefix(DefaultConfig()).Generate(lengthPrefixedCorpus())
	want := hypothesis.LengthPrefixBundle{Offset: 0, Width: 2, Endianness: hypothesis.LittleEndian}
	assert.Equal(t, []string{want.Key()}, keys(proposals))
}

func TestLengthPrefixToleranceAcceptsTrailingBytes(t *testing.T) {
	var msgs [][]byte
	for i := 0; i < 20; i++ {
		msgs = append(msgs, []byte{3, 'a', 'b', 'c', 0xEE})
	}
	c := core.NewCorpus("trailer", msgs)

	strict := NewLengthPrefix(DefaultConfig()).Generate(c)
	assert.NotContains(t, keys(strict), hypothesis.LengthPrefixBundle{Width: 1, Endianness: hypothesis.LittleEndian}.Key())

	loose := DefaultConfig()
	loose.Tolerance = 1
	proposals := NewLengthPrefix(loose).Generate(c)
	assert.Contains(t, keys(proposals), hypothesis.LengthPrefixBundle{Width: 1, Endianness: hypothesis.LittleEndian}.Key())
}

func TestNothingFramesRandomData(t *testing.T) {
	c := randomCorpus()
	config := DefaultConfig()
	assert.Empty(t, NewLengthPrefix(config).Generate(c))
	assert.Empty(t, NewDelimiter(config).Generate(c))
	assert.Empty(t, NewTLV(config).Generate(c))
	assert.Empty(t, NewVarint(config).Generate(c))
}

func TestDelimiterSuffixes(t *testing.T) {
	c := core.NewCorpus("lines", [][]byte{
		[]byte("alpha beta\r\n"),
		[]byte("gamma\r\n"),
		[]byte("delta epsilon zeta\r\n"),
		[]byte("eta\r\n"),
	})
	proposals := NewDelimiter(DefaultConfig()).Generate(c)
	got := keys(proposals)

	assert.Equal(t, hypothesis.DelimiterBundle{Delimiter: []byte("\n")}.Key(), got[0])
	assert.Equal(t, hypothesis.DelimiterBundle{Delimiter: []byte("\r\n")}.Key(), got[1])
	assert.Len(t, got, 2)
}

func TestFixedHeaderProposals(t *testing.T) {
	c := core.NewCorpus("hdr", [][]byte{
		[]byte("MAGIC\x01payload-one"),
		[]byte("MAGIC\x02payload-two"),
		[]byte("MAGIC\x03payload-three"),
	})
	proposals := NewFixedHeader(DefaultConfig()).Generate(c)
	lengths := make([]int, 0, len(proposals))
	for _, h := range proposals {
		lengths = append(lengths, h.(hypothesis.FixedHeader).Length)
	}

	assert.Contains(t, lengths, 5)
	assert.Contains(t, lengths, 1)
	assert.Contains(t, lengths, 16)
	assert.IsIncreasing(t, lengths)
	for _, n := range lengths {
		assert.LessOrEqual(t, n, 17)
	}
}

func TestFixedHeaderEmptyMessages(t *testing.T) {
	c := core.NewCorpus("empty", [][]byte{{}, []byte("abc")})
	assert.Empty(t, NewFixedHeader(DefaultConfig()).Generate(c))
}

func TestBitmapProposals(t *testing.T) {
	var msgs [][]byte
	for i := 0; i < 30; i++ {
		bitmap := []byte{0x01}
		if i%2 == 0 {
			bitmap = []byte{0x81, 0x02}
		}
		msgs = append(msgs, append(bitmap, bytes.Repeat([]byte{0x7f}, 4)...))
	}
	proposals := NewBitmap(DefaultConfig()).Generate(core.NewCorpus("bitmap", msgs))

	want := hypothesis.ExtensibleBitmap{Start: 0, ContinuationBit: 7, MaxBytes: 8}
	assert.Contains(t, keys(proposals), want.Key())
	for _, h := range proposals {
		// Bit 0 is set in every first byte and never varies
		assert.NotEqual(t, 0, h.(hypothesis.ExtensibleBitmap).ContinuationBit)
	}
}

func TestTLVProposals(t *testing.T) {
	var msgs [][]byte
	for i := 0; i < 30; i++ {
		v := i % 10
		msg := []byte{byte(1 + i%4), 0, 0}
		binary.BigEndian.PutUint16(msg[1:], uint16(3+v))
		msgs = append(msgs, append(msg, bytes.Repeat([]byte{'v'}, v)...))
	}
	proposals := NewTLV(DefaultConfig()).Generate(core.NewCorpus("tlv", msgs))

	want := hypothesis.Tlv{TagOffset: 0, TagBytes: 1, LenOffset: 1, LenRule: hypothesis.LenFixed2, LengthIncludesHeader: true}
	wrong := want
	wrong.LengthIncludesHeader = false
	assert.Contains(t, keys(proposals), want.Key())
	assert.NotContains(t, keys(proposals), wrong.Key())
}

func TestVarintProposals(t *testing.T) {
	var msgs [][]byte
	for i := 0; i < 20; i++ {
		var msg []byte
		msg = protowire.AppendTag(msg, 1, protowire.VarintType)
		msg = protowire.AppendVarint(msg, uint64(i*1000))
		msg = protowire.AppendTag(msg, 2, protowire.BytesType)
		msg = protowire.AppendBytes(msg, []byte("name"))
		msgs = append(msgs, msg)
	}
	proposals := NewVarint(DefaultConfig()).Generate(core.NewCorpus("pb", msgs))
	assert.Equal(t, []string{hypothesis.VarintKeyWireType{KeyMaxBytes: 1}.Key()}, keys(proposals))
}

func TestGeneratorsAreDeterministic(t *testing.T) {
	c := lengthPrefixedCorpus()
	for _, g := range Defaults(nil) {
		assert.Equal(t, keys(g.Generate(c)), keys(g.Generate(c)), g.Name())
	}
}

func TestMaxCandidates(t *testing.T) {
	config := DefaultConfig()
	config.MaxCandidates = 2
	proposals := NewFixedHeader(config).Generate(randomCorpus())
	assert.Len(t, proposals, 2)
}
