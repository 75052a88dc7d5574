/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: parsed.go
Description: Result of parsing a corpus under one hypothesis. Each message becomes either
a decomposition into role-tagged segments that reference the message in place, or an
exception carrying a reason code. Also verifies accounting and extracts SDU corpora.
*/

package parser

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/kleascm/akaylee-infer/pkg/core"
	"github.com/kleascm/akaylee-infer/pkg/hypothesis"
)

// ErrAccounting is returned by Verify when a parse does not tile its messages
var ErrAccounting = errors.New("parser: segments do not reproduce the message")

// Role is the structural role of a segment
type Role string

const (
	RolePCI   Role = "pci"   // Undeclared control bytes
	RoleField Role = "field" // Declared control field, named
	RoleSDU   Role = "sdu"   // Service data for the next layer
)

// Field names used by the built-in parsers
const (
	FieldLength    = "length"
	FieldDelimiter = "delimiter"
	FieldBitmap    = "bitmap"
	FieldTag       = "tag"
	FieldKey       = "key"
	FieldVarint    = "varint"
	FieldFixed32   = "fixed32"
	FieldFixed64   = "fixed64"
	FieldEndGroup  = "end_group"
)

// Reason is the code attached to a structural exception
type Reason string

const (
	ReasonShortHeader         Reason = "short_header"
	ReasonLengthOverflow      Reason = "length_overflow"
	ReasonLengthUnderflow     Reason = "length_underflow"
	ReasonValueLengthMismatch Reason = "value_length_mismatch"
	ReasonMissingDelimiter    Reason = "missing_delimiter"
	ReasonUnterminatedBitmap  Reason = "unterminated_bitmap"
	ReasonInvalidLength       Reason = "invalid_length"
	ReasonInvalidKey          Reason = "invalid_key"
	ReasonUnsupportedWireType Reason = "unsupported_wire_type"
	ReasonTruncatedValue      Reason = "truncated_value"
)

// Segment is a half-open byte range [Start, End) of a message with a role
type Segment struct {
	Role  Role   `json:"role"`
	Name  string `json:"name,omitempty"` // Field name, only for RoleField
	Start int    `json:"start"`
	End   int    `json:"end"`
	Frame int    `json:"frame"` // Frame or record index within the message
	// Predicted marks a length field whose value follows from the message length
	Predicted bool `json:"predicted,omitempty"`
}

// Len returns the segment length
func (s Segment) Len() int {
	return s.End - s.Start
}

// Decomposition splits one message into ordered segments
type Decomposition struct {
	Segments []Segment `json:"segments"`
	// Explained is set when the grammar itself determines where the message ends
	Explained bool `json:"explained"`
}

// Exception records why a message does not fit the hypothesis
type Exception struct {
	Reason Reason `json:"reason"`
	Offset int    `json:"offset"`
	Detail string `json:"detail,omitempty"`
}

// Entry is the parse outcome of one message; exactly one of Decomposition and
// Exception is set
type Entry struct {
	Decomposition *Decomposition `json:"decomposition,omitempty"`
	Exception     *Exception     `json:"exception,omitempty"`
}

// OK reports whether the message decomposed
func (e Entry) OK() bool {
	return e.Decomposition != nil
}

// ParsedCorpus holds one entry per corpus message, in corpus order
type ParsedCorpus struct {
	corpus     *core.Corpus
	hypothesis hypothesis.Hypothesis
	entries    []Entry
}

// NewParsedCorpus binds entries to the corpus and hypothesis they came from
func NewParsedCorpus(c *core.Corpus, h hypothesis.Hypothesis, entries []Entry) *ParsedCorpus {
	return &ParsedCorpus{corpus: c, hypothesis: h, entries: entries}
}

// Corpus returns the parsed corpus
func (p *ParsedCorpus) Corpus() *core.Corpus {
	return p.corpus
}

// Hypothesis returns the hypothesis the corpus was parsed under
func (p *ParsedCorpus) Hypothesis() hypothesis.Hypothesis {
	return p.hypothesis
}

// Len returns the number of entries
func (p *ParsedCorpus) Len() int {
	return len(p.entries)
}

// Entry returns the i-th entry
func (p *ParsedCorpus) Entry(i int) Entry {
	return p.entries[i]
}

// Successes returns the number of decomposed messages
func (p *ParsedCorpus) Successes() int {
	n := 0
	for _, e := range p.entries {
		if e.OK() {
			n++
		}
	}
	return n
}

// ExceptionCount returns the number of messages that raised an exception
func (p *ParsedCorpus) ExceptionCount() int {
	return len(p.entries) - p.Successes()
}

// ParseSuccessRatio returns successes over messages; an empty corpus has ratio 1
func (p *ParsedCorpus) ParseSuccessRatio() float64 {
	if len(p.entries) == 0 {
		return 1
	}
	return float64(p.Successes()) / float64(len(p.entries))
}

// ExceptionReasons returns a histogram of exception reason codes
func (p *ParsedCorpus) ExceptionReasons() map[Reason]int {
	reasons := make(map[Reason]int)
	for _, e := range p.entries {
		if e.Exception != nil {
			reasons[e.Exception.Reason]++
		}
	}
	return reasons
}

// Reconstruct concatenates the segments of message i.
// Exceptions reconstruct to the original message.
func (p *ParsedCorpus) Reconstruct(i int) []byte {
	msg := p.corpus.Message(i)
	e := p.entries[i]
	if !e.OK() {
		return append([]byte(nil), msg...)
	}
	out := make([]byte, 0, len(msg))
	for _, seg := range e.Decomposition.Segments {
		out = append(out, msg[seg.Start:seg.End]...)
	}
	return out
}

// Verify checks that there is one entry per message and that every decomposition tiles
// its message exactly, in order, with no gaps or overlaps
func (p *ParsedCorpus) Verify() error {
	if len(p.entries) != p.corpus.Len() {
		return fmt.Errorf("%w: %d entries for %d messages", ErrAccounting, len(p.entries), p.corpus.Len())
	}
	for i, e := range p.entries {
		if (e.Decomposition == nil) == (e.Exception == nil) {
			return fmt.Errorf("%w: message %d must have exactly one outcome", ErrAccounting, i)
		}
		if e.Exception != nil {
			continue
		}
		msgLen := len(p.corpus.Message(i))
		pos := 0
		for j, seg := range e.Decomposition.Segments {
			if seg.Start != pos || seg.End < seg.Start || seg.End > msgLen {
				return fmt.Errorf("%w: message %d segment %d [%d,%d) at position %d",
					ErrAccounting, i, j, seg.Start, seg.End, pos)
			}
			if seg.Role == RoleField && seg.Name == "" {
				return fmt.Errorf("%w: message %d segment %d is an unnamed field", ErrAccounting, i, j)
			}
			pos = seg.End
		}
		if pos != msgLen {
			return fmt.Errorf("%w: message %d covers %d of %d bytes", ErrAccounting, i, pos, msgLen)
		}
	}
	return nil
}

// FieldNames returns the distinct field names in sorted order
func (p *ParsedCorpus) FieldNames() []string {
	seen := make(map[string]bool)
	for _, e := range p.entries {
		if !e.OK() {
			continue
		}
		for _, seg := range e.Decomposition.Segments {
			if seg.Role == RoleField {
				seen[seg.Name] = true
			}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ExtractSDUs builds the next-layer corpus from every SDU segment in message order.
// Each SDU references its parent bytes in place and records its origin.
func (p *ParsedCorpus) ExtractSDUs(name string) (*core.Corpus, error) {
	var messages [][]byte
	var origins []core.Origin
	for i, e := range p.entries {
		if !e.OK() {
			continue
		}
		msg := p.corpus.Message(i)
		frame := 0
		for _, seg := range e.Decomposition.Segments {
			if seg.Role != RoleSDU {
				continue
			}
			messages = append(messages, msg[seg.Start:seg.End:seg.End])
			origins = append(origins, core.Origin{Message: i, Frame: frame})
			frame++
		}
	}
	if origins == nil {
		origins = []core.Origin{}
	}
	return core.NewDerivedCorpus(name, messages, origins)
}

// Summary is the serialisable overview of a parsed corpus
type Summary struct {
	Hypothesis       hypothesis.Hypothesis `json:"hypothesis"`
	Messages         int                   `json:"messages"`
	Successes        int                   `json:"successes"`
	Exceptions       int                   `json:"exceptions"`
	ExceptionReasons map[Reason]int        `json:"exception_reasons,omitempty"`
	Entries          []Entry               `json:"entries"`
}

// Summary returns the serialisable form of the parsed corpus
func (p *ParsedCorpus) Summary() Summary {
	reasons := p.ExceptionReasons()
	if len(reasons) == 0 {
		reasons = nil
	}
	return Summary{
		Hypothesis:       p.hypothesis,
		Messages:         len(p.entries),
		Successes:        p.Successes(),
		Exceptions:       p.ExceptionCount(),
		ExceptionReasons: reasons,
		Entries:          p.entries,
	}
}

// MarshalJSON encodes the parsed corpus through its summary
func (p *ParsedCorpus) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Summary())
}
