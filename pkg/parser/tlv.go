/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: tlv.go
Description: Parser for tag-length-value record sequences with fixed-width or BER
length encodings.
*/

package parser

import (
	"github.com/kleascm/akaylee-infer/pkg/core"
	"github.com/kleascm/akaylee-infer/pkg/hypothesis"
)

// maxBERLengthBytes bounds the long form of a BER length
const maxBERLengthBytes = 4

// TLVParser parses Tlv hypotheses
type TLVParser struct{}

func (TLVParser) Name() string { return "tlv" }

func (TLVParser) Applicable(h hypothesis.Hypothesis) bool {
	_, ok := h.(hypothesis.Tlv)
	return ok
}

func (p TLVParser) Parse(c *core.Corpus, h hypothesis.Hypothesis) (*ParsedCorpus, error) {
	tlv, ok := h.(hypothesis.Tlv)
	if !ok {
		return nil, notApplicable(p, h)
	}
	if err := tlv.Validate(); err != nil {
		return nil, err
	}
	return parseCorpus(c, h, func(msg []byte) Entry {
		return DecomposeTLV(tlv, msg)
	}), nil
}

// DecodeLength reads a TLV length field at the start of b.
// It returns the value, the number of bytes the field occupies and, on failure, the
// exception reason.
func DecodeLength(rule hypothesis.LenRule, b []byte) (uint64, int, Reason) {
	if width := rule.Width(); width > 0 {
		if len(b) < width {
			return 0, 0, ReasonShortHeader
		}
		return readUint(b[:width], hypothesis.BigEndian), width, ""
	}

	if len(b) < 1 {
		return 0, 0, ReasonShortHeader
	}
	first := b[0]
	if first&0x80 == 0 {
		return uint64(first), 1, ""
	}
	count := int(first & 0x7f)
	if count == 0 || count > maxBERLengthBytes {
		return 0, 0, ReasonInvalidLength
	}
	if len(b) < 1+count {
		return 0, 0, ReasonShortHeader
	}
	return readUint(b[1:1+count], hypothesis.BigEndian), 1 + count, ""
}

// TLVFrame reads the tag and length of the record starting at pos.
// The returned End may lie past the message.
func TLVFrame(h hypothesis.Tlv, msg []byte, pos int) (Frame, Reason) {
	f := Frame{
		Start:    pos,
		TagStart: pos + h.TagOffset,
		TagEnd:   pos + h.TagOffset + h.TagBytes,
		LenStart: pos + h.LenOffset,
	}
	if f.LenStart > len(msg) {
		return f, ReasonShortHeader
	}

	value, lenBytes, reason := DecodeLength(h.LenRule, msg[f.LenStart:])
	if reason != "" {
		return f, reason
	}
	f.HeaderEnd = f.LenStart + lenBytes
	f.Declared = value

	switch {
	case h.LengthIncludesHeader && value == 0:
		f.End = uint64(f.HeaderEnd)
	case h.LengthIncludesHeader:
		if value < uint64(f.HeaderEnd-pos) {
			return f, ReasonLengthUnderflow
		}
		f.End = uint64(pos) + value
	default:
		f.End = uint64(f.HeaderEnd) + value
	}
	return f, ""
}

// DecomposeTLV walks the records of one message. Bytes before the tag and between tag
// and length are undeclared PCI.
func DecomposeTLV(h hypothesis.Tlv, msg []byte) Entry {
	var l layout
	pos := 0

	for frame := 0; ; frame++ {
		f, reason := TLVFrame(h, msg, pos)
		if reason != "" {
			offset := f.LenStart
			if reason == ReasonShortHeader {
				offset = pos
			}
			return fail(reason, offset, "record %d has no usable %s length", frame, h.LenRule)
		}
		if f.End > uint64(len(msg)) {
			return fail(ReasonValueLengthMismatch, f.LenStart, "record %d value ends at %d, message is %d bytes", frame, f.End, len(msg))
		}

		l.pci(pos, f.TagStart, frame)
		l.field(FieldTag, f.TagStart, f.TagEnd, frame)
		l.pci(f.TagEnd, f.LenStart, frame)
		lengthAt := len(l.segments)
		l.field(FieldLength, f.LenStart, f.HeaderEnd, frame)
		l.sdu(f.HeaderEnd, int(f.End), frame)

		pos = int(f.End)
		if pos == len(msg) {
			if f.Declared == frameLength(f, pos, h.LengthIncludesHeader) {
				l.predict(lengthAt)
			}
			return l.done(true)
		}
	}
}
