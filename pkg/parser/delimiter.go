/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: delimiter.go
Description: Parser for delimiter-terminated frame bundles.
*/

package parser

import (
	"bytes"

	"github.com/kleascm/akaylee-infer/pkg/core"
	"github.com/kleascm/akaylee-infer/pkg/hypothesis"
)

// DelimiterParser parses DelimiterBundle hypotheses
type DelimiterParser struct{}

func (DelimiterParser) Name() string { return "delimiter" }

func (DelimiterParser) Applicable(h hypothesis.Hypothesis) bool {
	_, ok := h.(hypothesis.DelimiterBundle)
	return ok
}

func (p DelimiterParser) Parse(c *core.Corpus, h hypothesis.Hypothesis) (*ParsedCorpus, error) {
	d, ok := h.(hypothesis.DelimiterBundle)
	if !ok {
		return nil, notApplicable(p, h)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return parseCorpus(c, h, func(msg []byte) Entry {
		return DecomposeDelimiter(d, msg)
	}), nil
}

// DecomposeDelimiter splits msg into SDU frames each followed by the delimiter.
// Bytes after the last delimiter form an unterminated final SDU; a message without
// any delimiter is an exception.
func DecomposeDelimiter(h hypothesis.DelimiterBundle, msg []byte) Entry {
	delim := h.Delimiter
	if bytes.Index(msg, delim) < 0 {
		return fail(ReasonMissingDelimiter, 0, "delimiter %x not found in %d bytes", delim, len(msg))
	}

	var l layout
	pos := 0
	for frame := 0; pos < len(msg); frame++ {
		i := bytes.Index(msg[pos:], delim)
		if i < 0 {
			l.sdu(pos, len(msg), frame)
			return l.done(false)
		}
		l.sdu(pos, pos+i, frame)
		l.field(FieldDelimiter, pos+i, pos+i+len(delim), frame)
		pos += i + len(delim)
	}
	return l.done(true)
}
