/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: hypothesis.go
Description: Closed set of structural hypotheses about how a message splits into
protocol control information and service data. Each variant is a small value type with
named parameters, a structural key, a parameter count and a model cost in bits.
*/

package hypothesis

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math"

	"github.com/kleascm/akaylee-infer/pkg/measures"
)

// ErrInvalid is returned by Validate for out-of-range parameters
var ErrInvalid = errors.New("hypothesis: invalid parameters")

// Kind identifies a hypothesis family
type Kind string

const (
	KindOpaque           Kind = "opaque"
	KindLengthPrefix     Kind = "length_prefix_bundle"
	KindDelimiter        Kind = "delimiter_bundle"
	KindFixedHeader      Kind = "fixed_header"
	KindExtensibleBitmap Kind = "extensible_bitmap"
	KindTLV              Kind = "tlv"
	KindVarint           Kind = "varint_key_wire_type"
)

// Kinds lists every family in declaration order
var Kinds = []Kind{
	KindOpaque,
	KindLengthPrefix,
	KindDelimiter,
	KindFixedHeader,
	KindExtensibleBitmap,
	KindTLV,
	KindVarint,
}

// kindBits is the cost of naming the family
var kindBits = math.Log2(float64(len(Kinds)))

// Hypothesis is a candidate structural explanation of a corpus layer.
// The set of implementations is closed to this package.
type Hypothesis interface {
	Kind() Kind
	// Key identifies the hypothesis structurally; equal keys mean equal hypotheses
	Key() string
	ParamCount() int
	// ModelBits is the cost of writing the parameters down
	ModelBits() float64
	Validate() error

	sealed()
}

// Endianness of a multi-byte integer field
type Endianness string

const (
	LittleEndian Endianness = "little"
	BigEndian    Endianness = "big"
)

// LenRule selects how a TLV length field is encoded
type LenRule string

const (
	LenFixed1 LenRule = "fixed1"
	LenFixed2 LenRule = "fixed2"
	LenFixed4 LenRule = "fixed4"
	LenBER    LenRule = "ber"
)

// Width returns the byte width of a fixed rule, or 0 for BER
func (r LenRule) Width() int {
	switch r {
	case LenFixed1:
		return 1
	case LenFixed2:
		return 2
	case LenFixed4:
		return 4
	default:
		return 0
	}
}

// Opaque treats every message as indivisible PCI. It is the baseline every layer must beat.
type Opaque struct{}

func (Opaque) Kind() Kind { return KindOpaque }
func (Opaque) Key() string { return "opaque" }
func (Opaque) ParamCount() int { return 0 }
func (Opaque) ModelBits() float64 { return kindBits }
func (Opaque) Validate() error { return nil }
func (Opaque) sealed() {}

// LengthPrefixBundle is a sequence of frames, each carrying its length in a field of
// Width bytes located Offset bytes into the frame
type LengthPrefixBundle struct {
	Offset         int        `json:"offset"`
	Width          int        `json:"width"`
	Endianness     Endianness `json:"endianness"`
	IncludesHeader bool       `json:"includes_header"` // Length counts from the frame start
}

func (h LengthPrefixBundle) Kind() Kind { return KindLengthPrefix }

func (h LengthPrefixBundle) Key() string {
	endian := string(h.Endianness)
	if h.Width == 1 {
		endian = "-"
	}
	return fmt.Sprintf("lp/%d/%d/%s/%t", h.Offset, h.Width, endian, h.IncludesHeader)
}

func (h LengthPrefixBundle) ParamCount() int { return 4 }

func (h LengthPrefixBundle) ModelBits() float64 {
	return kindBits + measures.GammaBits(h.Offset) + 2 + 1 + 1
}

func (h LengthPrefixBundle) Validate() error {
	if h.Offset < 0 {
		return fmt.Errorf("%w: length prefix offset %d", ErrInvalid, h.Offset)
	}
	if h.Width != 1 && h.Width != 2 && h.Width != 4 {
		return fmt.Errorf("%w: length prefix width %d", ErrInvalid, h.Width)
	}
	if h.Endianness != LittleEndian && h.Endianness != BigEndian {
		return fmt.Errorf("%w: endianness %q", ErrInvalid, h.Endianness)
	}
	return nil
}

func (LengthPrefixBundle) sealed() {}

// DelimiterBundle is a sequence of frames each terminated by Delimiter
type DelimiterBundle struct {
	Delimiter []byte `json:"delimiter"`
}

func (h DelimiterBundle) Kind() Kind { return KindDelimiter }

func (h DelimiterBundle) Key() string {
	return "delim/" + hex.EncodeToString(h.Delimiter)
}

func (h DelimiterBundle) ParamCount() int { return 1 }

func (h DelimiterBundle) ModelBits() float64 {
	return kindBits + measures.GammaBits(len(h.Delimiter)) + 8*float64(len(h.Delimiter))
}

func (h DelimiterBundle) Validate() error {
	if len(h.Delimiter) == 0 {
		return fmt.Errorf("%w: empty delimiter", ErrInvalid)
	}
	return nil
}

func (DelimiterBundle) sealed() {}

// FixedHeader is a constant-length header followed by the payload
type FixedHeader struct {
	Length int `json:"length"`
}

func (h FixedHeader) Kind() Kind { return KindFixedHeader }
func (h FixedHeader) Key() string { return fmt.Sprintf("fh/%d", h.Length) }
func (h FixedHeader) ParamCount() int { return 1 }
func (h FixedHeader) ModelBits() float64 { return kindBits + measures.GammaBits(h.Length) }

func (h FixedHeader) Validate() error {
	if h.Length < 1 {
		return fmt.Errorf("%w: fixed header length %d", ErrInvalid, h.Length)
	}
	return nil
}

func (FixedHeader) sealed() {}

// ExtensibleBitmap is a run of bitmap bytes starting at Start that continues while
// ContinuationBit is set, at most MaxBytes long
type ExtensibleBitmap struct {
	Start           int `json:"start"`
	ContinuationBit int `json:"continuation_bit"`
	MaxBytes        int `json:"max_bytes"`
}

func (h ExtensibleBitmap) Kind() Kind { return KindExtensibleBitmap }

func (h ExtensibleBitmap) Key() string {
	return fmt.Sprintf("bitmap/%d/%d/%d", h.Start, h.ContinuationBit, h.MaxBytes)
}

func (h ExtensibleBitmap) ParamCount() int { return 3 }

func (h ExtensibleBitmap) ModelBits() float64 {
	return kindBits + measures.GammaBits(h.Start) + 3 + measures.GammaBits(h.MaxBytes)
}

func (h ExtensibleBitmap) Validate() error {
	if h.Start < 0 {
		return fmt.Errorf("%w: bitmap start %d", ErrInvalid, h.Start)
	}
	if h.ContinuationBit < 0 || h.ContinuationBit > 7 {
		return fmt.Errorf("%w: continuation bit %d", ErrInvalid, h.ContinuationBit)
	}
	if h.MaxBytes < 1 {
		return fmt.Errorf("%w: bitmap max bytes %d", ErrInvalid, h.MaxBytes)
	}
	return nil
}

func (ExtensibleBitmap) sealed() {}

// Tlv is a sequence of tag-length-value records
type Tlv struct {
	TagOffset            int     `json:"tag_offset"`
	TagBytes             int     `json:"tag_bytes"`
	LenOffset            int     `json:"len_offset"`
	LenRule              LenRule `json:"len_rule"`
	LengthIncludesHeader bool    `json:"length_includes_header"`
}

func (h Tlv) Kind() Kind { return KindTLV }

func (h Tlv) Key() string {
	return fmt.Sprintf("tlv/%d/%d/%d/%s/%t", h.TagOffset, h.TagBytes, h.LenOffset, h.LenRule, h.LengthIncludesHeader)
}

func (h Tlv) ParamCount() int { return 5 }

func (h Tlv) ModelBits() float64 {
	gap := h.LenOffset - h.TagOffset - h.TagBytes
	return kindBits + measures.GammaBits(h.TagOffset) + measures.GammaBits(h.TagBytes) +
		measures.GammaBits(gap) + 2 + 1
}

func (h Tlv) Validate() error {
	if h.TagOffset < 0 {
		return fmt.Errorf("%w: tag offset %d", ErrInvalid, h.TagOffset)
	}
	if h.TagBytes < 1 || h.TagBytes > 4 {
		return fmt.Errorf("%w: tag bytes %d", ErrInvalid, h.TagBytes)
	}
	if h.LenOffset < h.TagOffset+h.TagBytes {
		return fmt.Errorf("%w: length offset %d overlaps tag", ErrInvalid, h.LenOffset)
	}
	switch h.LenRule {
	case LenFixed1, LenFixed2, LenFixed4, LenBER:
	default:
		return fmt.Errorf("%w: length rule %q", ErrInvalid, h.LenRule)
	}
	return nil
}

func (Tlv) sealed() {}

// VarintKeyWireType is a protobuf-style sequence of varint keys with wire types
type VarintKeyWireType struct {
	KeyMaxBytes int  `json:"key_max_bytes"`
	AllowGroups bool `json:"allow_groups"`
}

func (h VarintKeyWireType) Kind() Kind { return KindVarint }

func (h VarintKeyWireType) Key() string {
	return fmt.Sprintf("varint/%d/%t", h.KeyMaxBytes, h.AllowGroups)
}

func (h VarintKeyWireType) ParamCount() int { return 2 }

func (h VarintKeyWireType) ModelBits() float64 {
	return kindBits + measures.GammaBits(h.KeyMaxBytes) + 1
}

func (h VarintKeyWireType) Validate() error {
	if h.KeyMaxBytes < 1 || h.KeyMaxBytes > 10 {
		return fmt.Errorf("%w: key max bytes %d", ErrInvalid, h.KeyMaxBytes)
	}
	return nil
}

func (VarintKeyWireType) sealed() {}

// Describe renders a hypothesis for logs and CLI output
func Describe(h Hypothesis) string {
	switch v := h.(type) {
	case Opaque:
		return "Opaque"
	case LengthPrefixBundle:
		return fmt.Sprintf("LengthPrefixBundle{offset=%d width=%d %s includes_header=%t}",
			v.Offset, v.Width, v.Endianness, v.IncludesHeader)
	case DelimiterBundle:
		return fmt.Sprintf("DelimiterBundle{delimiter=%q}", v.Delimiter)
	case FixedHeader:
		return fmt.Sprintf("FixedHeader{length=%d}", v.Length)
	case ExtensibleBitmap:
		return fmt.Sprintf("ExtensibleBitmap{start=%d bit=%d max=%d}", v.Start, v.ContinuationBit, v.MaxBytes)
	case Tlv:
		return fmt.Sprintf("Tlv{tag=%d+%d len=%d %s includes_header=%t}",
			v.TagOffset, v.TagBytes, v.LenOffset, v.LenRule, v.LengthIncludesHeader)
	case VarintKeyWireType:
		return fmt.Sprintf("VarintKeyWireType{key_max=%d groups=%t}", v.KeyMaxBytes, v.AllowGroups)
	default:
		return h.Key()
	}
}
