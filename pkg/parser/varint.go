/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: varint.go
Description: Parser for protobuf-style key/wire-type encodings. Keys and scalar values
are declared fields; the payload of every length-delimited field (and group body, when
allowed) is an SDU for the next layer.
*/

package parser

import (
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/kleascm/akaylee-infer/pkg/core"
	"github.com/kleascm/akaylee-infer/pkg/hypothesis"
)

// VarintParser parses VarintKeyWireType hypotheses
type VarintParser struct{}

func (VarintParser) Name() string { return "varint_key_wire_type" }

func (VarintParser) Applicable(h hypothesis.Hypothesis) bool {
	_, ok := h.(hypothesis.VarintKeyWireType)
	return ok
}

func (p VarintParser) Parse(c *core.Corpus, h hypothesis.Hypothesis) (*ParsedCorpus, error) {
	vk, ok := h.(hypothesis.VarintKeyWireType)
	if !ok {
		return nil, notApplicable(p, h)
	}
	if err := vk.Validate(); err != nil {
		return nil, err
	}
	return parseCorpus(c, h, func(msg []byte) Entry {
		return DecomposeVarint(vk, msg)
	}), nil
}

// DecomposeVarint walks the key/value records of one message
func DecomposeVarint(h hypothesis.VarintKeyWireType, msg []byte) Entry {
	var l layout
	pos := 0

	for record := 0; pos < len(msg); record++ {
		num, typ, n := protowire.ConsumeTag(msg[pos:])
		if n < 0 {
			return fail(ReasonInvalidKey, pos, "record %d: %v", record, protowire.ParseError(n))
		}
		if n > h.KeyMaxBytes {
			return fail(ReasonInvalidKey, pos, "record %d key takes %d bytes, limit %d", record, n, h.KeyMaxBytes)
		}
		l.field(FieldKey, pos, pos+n, record)
		pos += n
		rest := msg[pos:]

		switch typ {
		case protowire.VarintType:
			_, m := protowire.ConsumeVarint(rest)
			if m < 0 {
				return fail(ReasonTruncatedValue, pos, "record %d: %v", record, protowire.ParseError(m))
			}
			l.field(FieldVarint, pos, pos+m, record)
			pos += m

		case protowire.Fixed32Type:
			_, m := protowire.ConsumeFixed32(rest)
			if m < 0 {
				return fail(ReasonTruncatedValue, pos, "record %d: %v", record, protowire.ParseError(m))
			}
			l.field(FieldFixed32, pos, pos+m, record)
			pos += m

		case protowire.Fixed64Type:
			_, m := protowire.ConsumeFixed64(rest)
			if m < 0 {
				return fail(ReasonTruncatedValue, pos, "record %d: %v", record, protowire.ParseError(m))
			}
			l.field(FieldFixed64, pos, pos+m, record)
			pos += m

		case protowire.BytesType:
			size, m := protowire.ConsumeVarint(rest)
			if m < 0 {
				return fail(ReasonTruncatedValue, pos, "record %d: %v", record, protowire.ParseError(m))
			}
			if size > uint64(len(rest)-m) {
				return fail(ReasonValueLengthMismatch, pos, "record %d declares %d bytes, %d left", record, size, len(rest)-m)
			}
			l.field(FieldLength, pos, pos+m, record)
			l.sdu(pos+m, pos+m+int(size), record)
			pos += m + int(size)

		case protowire.StartGroupType:
			if !h.AllowGroups {
				return fail(ReasonUnsupportedWireType, pos-n, "record %d: groups not allowed", record)
			}
			_, m := protowire.ConsumeGroup(num, rest)
			if m < 0 {
				return fail(ReasonTruncatedValue, pos, "record %d: %v", record, protowire.ParseError(m))
			}
			endTag := protowire.SizeTag(num)
			l.sdu(pos, pos+m-endTag, record)
			l.field(FieldEndGroup, pos+m-endTag, pos+m, record)
			pos += m

		default:
			return fail(ReasonUnsupportedWireType, pos-n, "record %d: wire type %d", record, typ)
		}
	}

	return l.done(false)
}
