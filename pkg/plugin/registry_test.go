/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: registry_test.go
Description: Tests for the generator and parser registry.
*/

package plugin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kleascm/akaylee-infer/pkg/core"
	"github.com/kleascm/akaylee-infer/pkg/generator"
	"github.com/kleascm/akaylee-infer/pkg/hypothesis"
	"github.com/kleascm/akaylee-infer/pkg/parser"
)

type stubGenerator struct{ name string }

func (g stubGenerator) Name() string { return g.name }

func (g stubGenerator) Generate(*core.Corpus) []hypothesis.Hypothesis { return nil }

func TestDefaultRegistry(t *testing.T) {
	r := Default(nil)

	var gens []string
	for _, g := range r.Generators() {
		gens = append(gens, g.Name())
	}
	assert.Equal(t, []string{"length_prefix", "delimiter", "fixed_header", "extensible_bitmap", "tlv", "varint"}, gens)
	assert.Len(t, r.Parsers(), 7)
	assert.Equal(t, "opaque", r.Parsers()[0].Name())
}

func TestParserForEveryKind(t *testing.T) {
	r := Default(nil)
	cases := []struct {
		h    hypothesis.Hypothesis
		want string
	}{
		{hypothesis.Opaque{}, "opaque"},
		{hypothesis.FixedHeader{Length: 2}, "fixed_header"},
		{hypothesis.LengthPrefixBundle{Width: 1, Endianness: hypothesis.LittleEndian}, "length_prefix"},
		{hypothesis.DelimiterBundle{Delimiter: []byte{0}}, "delimiter"},
		{hypothesis.ExtensibleBitmap{ContinuationBit: 7, MaxBytes: 2}, "extensible_bitmap"},
		{hypothesis.Tlv{TagBytes: 1, LenOffset: 1, LenRule: hypothesis.LenFixed1}, "tlv"},
		{hypothesis.VarintKeyWireType{KeyMaxBytes: 1}, "varint_key_wire_type"},
	}
	for _, tc := range cases {
		p, err := r.ParserFor(tc.h)
		require.NoError(t, err)
		assert.Equal(t, tc.want, p.Name())
	}
}

func TestParserForUnknown(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterParser(parser.OpaqueParser{}))

	_, err := r.ParserFor(hypothesis.FixedHeader{Length: 1})
	assert.ErrorIs(t, err, ErrNoParser)
}

func TestDuplicateRegistration(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterGenerator(stubGenerator{name: "x"}))
	assert.ErrorIs(t, r.RegisterGenerator(stubGenerator{name: "x"}), ErrDuplicate)

	// Generators and parsers live in separate namespaces
	require.NoError(t, r.RegisterParser(parser.OpaqueParser{}))
	assert.ErrorIs(t, r.RegisterParser(parser.OpaqueParser{}), ErrDuplicate)
	require.NoError(t, r.RegisterGenerator(stubGenerator{name: "opaque"}))
}

func TestSnapshotsAreCopies(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterGenerator(generator.NewVarint(generator.DefaultConfig())))

	gens := r.Generators()
	gens[0] = stubGenerator{name: "replaced"}
	assert.Equal(t, "varint", r.Generators()[0].Name())
}
