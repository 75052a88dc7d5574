/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: bitmap.go
Description: Parser for extensible bitmaps, where each bitmap byte signals through a
continuation bit whether another bitmap byte follows.
*/

package parser

import (
	"github.com/kleascm/akaylee-infer/pkg/core"
	"github.com/kleascm/akaylee-infer/pkg/hypothesis"
)

// BitmapParser parses ExtensibleBitmap hypotheses
type BitmapParser struct{}

func (BitmapParser) Name() string { return "extensible_bitmap" }

func (BitmapParser) Applicable(h hypothesis.Hypothesis) bool {
	_, ok := h.(hypothesis.ExtensibleBitmap)
	return ok
}

func (p BitmapParser) Parse(c *core.Corpus, h hypothesis.Hypothesis) (*ParsedCorpus, error) {
	bm, ok := h.(hypothesis.ExtensibleBitmap)
	if !ok {
		return nil, notApplicable(p, h)
	}
	if err := bm.Validate(); err != nil {
		return nil, err
	}
	return parseCorpus(c, h, func(msg []byte) Entry {
		return DecomposeBitmap(bm, msg)
	}), nil
}

// DecomposeBitmap returns PCI before Start, the bitmap run, then the SDU
func DecomposeBitmap(h hypothesis.ExtensibleBitmap, msg []byte) Entry {
	if len(msg) <= h.Start {
		return fail(ReasonShortHeader, 0, "message of %d bytes has no bitmap at %d", len(msg), h.Start)
	}

	mask := byte(1) << uint(h.ContinuationBit)
	pos := h.Start
	for n := 1; ; n++ {
		if pos >= len(msg) {
			return fail(ReasonUnterminatedBitmap, h.Start, "bitmap runs past end of message")
		}
		b := msg[pos]
		pos++
		if b&mask == 0 {
			break
		}
		if n >= h.MaxBytes {
			return fail(ReasonUnterminatedBitmap, h.Start, "bitmap longer than %d bytes", h.MaxBytes)
		}
	}

	var l layout
	l.pci(0, h.Start, 0)
	l.field(FieldBitmap, h.Start, pos, 0)
	l.sdu(pos, len(msg), 0)
	return l.done(false)
}
