/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: length_prefix.go
Description: Parser for length-prefixed frame bundles. Frames repeat until the message
is consumed; each frame is PCI up to the length field, the length field, then the SDU.
*/

package parser

import (
	"github.com/kleascm/akaylee-infer/pkg/core"
	"github.com/kleascm/akaylee-infer/pkg/hypothesis"
)

// LengthPrefixParser parses LengthPrefixBundle hypotheses
type LengthPrefixParser struct{}

func (LengthPrefixParser) Name() string { return "length_prefix" }

func (LengthPrefixParser) Applicable(h hypothesis.Hypothesis) bool {
	_, ok := h.(hypothesis.LengthPrefixBundle)
	return ok
}

func (p LengthPrefixParser) Parse(c *core.Corpus, h hypothesis.Hypothesis) (*ParsedCorpus, error) {
	lp, ok := h.(hypothesis.LengthPrefixBundle)
	if !ok {
		return nil, notApplicable(p, h)
	}
	if err := lp.Validate(); err != nil {
		return nil, err
	}
	return parseCorpus(c, h, func(msg []byte) Entry {
		return DecomposeLengthPrefix(lp, msg)
	}), nil
}

// LengthPrefixFrame reads the header of the frame starting at pos.
// With IncludesHeader the declared length counts from the frame start, otherwise it
// counts the bytes after the length field. A declared length of zero is an empty SDU
// in both modes. The returned End may lie past the message.
func LengthPrefixFrame(h hypothesis.LengthPrefixBundle, msg []byte, pos int) (Frame, Reason) {
	f := Frame{
		Start:     pos,
		LenStart:  pos + h.Offset,
		HeaderEnd: pos + h.Offset + h.Width,
	}
	if f.HeaderEnd > len(msg) {
		return f, ReasonShortHeader
	}

	declared := readUint(msg[f.LenStart:f.HeaderEnd], h.Endianness)
	f.Declared = declared
	switch {
	case h.IncludesHeader && declared == 0:
		f.End = uint64(f.HeaderEnd)
	case h.IncludesHeader:
		if declared < uint64(f.HeaderEnd-pos) {
			return f, ReasonLengthUnderflow
		}
		f.End = uint64(pos) + declared
	default:
		f.End = uint64(f.HeaderEnd) + declared
	}
	return f, ""
}

// DecomposeLengthPrefix walks the frame chain of one message
func DecomposeLengthPrefix(h hypothesis.LengthPrefixBundle, msg []byte) Entry {
	var l layout
	pos := 0

	for frame := 0; ; frame++ {
		f, reason := LengthPrefixFrame(h, msg, pos)
		switch reason {
		case ReasonShortHeader:
			return fail(reason, pos, "frame %d needs %d header bytes, %d left", frame, h.Offset+h.Width, len(msg)-pos)
		case ReasonLengthUnderflow:
			return fail(reason, f.LenStart, "frame %d declares fewer bytes than its header", frame)
		}
		if f.End > uint64(len(msg)) {
			return fail(ReasonLengthOverflow, f.LenStart, "frame %d ends at %d, message is %d bytes", frame, f.End, len(msg))
		}

		l.pci(pos, f.LenStart, frame)
		lengthAt := len(l.segments)
		l.field(FieldLength, f.LenStart, f.HeaderEnd, frame)
		l.sdu(f.HeaderEnd, int(f.End), frame)

		pos = int(f.End)
		if pos == len(msg) {
			if f.Declared == frameLength(f, pos, h.IncludesHeader) {
				l.predict(lengthAt)
			}
			return l.done(true)
		}
	}
}
