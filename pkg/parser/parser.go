/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: parser.go
Description: Parser contract and the shared machinery used by every structural parser.
Parsers are total over message bytes: malformed input becomes an Exception entry, and
an error is only returned when the parser is handed a hypothesis it cannot interpret.
*/

package parser

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/kleascm/akaylee-infer/pkg/core"
	"github.com/kleascm/akaylee-infer/pkg/hypothesis"
)

// ErrNotApplicable is returned when a parser receives a hypothesis of a foreign family
var ErrNotApplicable = errors.New("parser: hypothesis not applicable")

// Parser decomposes a corpus under a hypothesis
type Parser interface {
	Name() string
	Applicable(h hypothesis.Hypothesis) bool
	Parse(c *core.Corpus, h hypothesis.Hypothesis) (*ParsedCorpus, error)
}

// notApplicable builds the contract error for a foreign hypothesis
func notApplicable(p Parser, h hypothesis.Hypothesis) error {
	return fmt.Errorf("%w: %s parser given %s", ErrNotApplicable, p.Name(), h.Kind())
}

// parseCorpus runs decompose over every message in corpus order
func parseCorpus(c *core.Corpus, h hypothesis.Hypothesis, decompose func(msg []byte) Entry) *ParsedCorpus {
	entries := make([]Entry, c.Len())
	for i := range entries {
		entries[i] = decompose(c.Message(i))
	}
	return NewParsedCorpus(c, h, entries)
}

// Frame locates the header and extent of one record of a bundle
type Frame struct {
	Start     int
	TagStart  int // TLV only
	TagEnd    int // TLV only
	LenStart  int
	HeaderEnd int    // First byte after the length field
	End       uint64 // Declared end of the frame
	Declared  uint64 // Length value as read
}

// layout accumulates the segments of one message
type layout struct {
	segments []Segment
}

// add appends a segment; empty control segments are dropped, empty SDUs are kept
func (l *layout) add(role Role, name string, start, end, frame int) {
	if start == end && role != RoleSDU {
		return
	}
	l.segments = append(l.segments, Segment{Role: role, Name: name, Start: start, End: end, Frame: frame})
}

func (l *layout) pci(start, end, frame int) {
	l.add(RolePCI, "", start, end, frame)
}

func (l *layout) field(name string, start, end, frame int) {
	l.add(RoleField, name, start, end, frame)
}

func (l *layout) sdu(start, end, frame int) {
	l.add(RoleSDU, "", start, end, frame)
}

// predict marks the segment at index i as a predicted length field
func (l *layout) predict(i int) {
	if i >= 0 && i < len(l.segments) && l.segments[i].Role == RoleField {
		l.segments[i].Predicted = true
	}
}

// frameLength returns the length value a frame ending at end would declare
func frameLength(f Frame, end int, includesHeader bool) uint64 {
	if includesHeader {
		return uint64(end - f.Start)
	}
	return uint64(end - f.HeaderEnd)
}

// done closes the layout into a successful entry
func (l *layout) done(explained bool) Entry {
	segments := l.segments
	if segments == nil {
		segments = []Segment{}
	}
	return Entry{Decomposition: &Decomposition{Segments: segments, Explained: explained}}
}

// fail builds an exception entry
func fail(reason Reason, offset int, format string, args ...interface{}) Entry {
	return Entry{Exception: &Exception{
		Reason: reason,
		Offset: offset,
		Detail: fmt.Sprintf(format, args...),
	}}
}

// readUint decodes an unsigned integer of len(b) bytes (1, 2 or 4)
func readUint(b []byte, endian hypothesis.Endianness) uint64 {
	switch len(b) {
	case 1:
		return uint64(b[0])
	case 2:
		if endian == hypothesis.BigEndian {
			return uint64(binary.BigEndian.Uint16(b))
		}
		return uint64(binary.LittleEndian.Uint16(b))
	case 4:
		if endian == hypothesis.BigEndian {
			return uint64(binary.BigEndian.Uint32(b))
		}
		return uint64(binary.LittleEndian.Uint32(b))
	}

	// Arbitrary widths are read big-endian
	var v uint64
	for _, x := range b {
		v = v<<8 | uint64(x)
	}
	return v
}

// OpaqueParser keeps every message whole as PCI
type OpaqueParser struct{}

func (OpaqueParser) Name() string { return "opaque" }

func (OpaqueParser) Applicable(h hypothesis.Hypothesis) bool {
	_, ok := h.(hypothesis.Opaque)
	return ok
}

func (p OpaqueParser) Parse(c *core.Corpus, h hypothesis.Hypothesis) (*ParsedCorpus, error) {
	if !p.Applicable(h) {
		return nil, notApplicable(p, h)
	}
	return parseCorpus(c, h, DecomposeOpaque), nil
}

// DecomposeOpaque returns the whole message as a single PCI segment
func DecomposeOpaque(msg []byte) Entry {
	var l layout
	l.pci(0, len(msg), 0)
	return l.done(false)
}

// FixedHeaderParser splits a constant-length header from the payload
type FixedHeaderParser struct{}

func (FixedHeaderParser) Name() string { return "fixed_header" }

func (FixedHeaderParser) Applicable(h hypothesis.Hypothesis) bool {
	_, ok := h.(hypothesis.FixedHeader)
	return ok
}

func (p FixedHeaderParser) Parse(c *core.Corpus, h hypothesis.Hypothesis) (*ParsedCorpus, error) {
	fh, ok := h.(hypothesis.FixedHeader)
	if !ok {
		return nil, notApplicable(p, h)
	}
	if err := fh.Validate(); err != nil {
		return nil, err
	}
	return parseCorpus(c, h, func(msg []byte) Entry {
		return DecomposeFixedHeader(fh, msg)
	}), nil
}

// DecomposeFixedHeader splits msg into h.Length bytes of PCI and the SDU
func DecomposeFixedHeader(h hypothesis.FixedHeader, msg []byte) Entry {
	if len(msg) < h.Length {
		return fail(ReasonShortHeader, 0, "message of %d bytes shorter than header of %d", len(msg), h.Length)
	}
	var l layout
	l.pci(0, h.Length, 0)
	l.sdu(h.Length, len(msg), 0)
	return l.done(false)
}
