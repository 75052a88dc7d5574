/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: breakdown.go
Description: Score breakdown produced once per candidate evaluation. All terms are in
bits; lower totals are better.
*/

package score

import (
	"fmt"
)

// Diagnostics explains how a breakdown came about
type Diagnostics struct {
	Messages         int            `json:"messages"`
	Exceptions       int            `json:"exceptions"`
	ExceptionReasons map[string]int `json:"exception_reasons,omitempty"`
	Explained        int            `json:"explained"`       // Messages whose end the grammar determines
	SDUs             int            `json:"sdus"`            // SDU segments across all messages
	Degraded         bool           `json:"degraded"`        // Compression was replaced by the entropy estimate
	DegradedReason   string         `json:"degraded_reason,omitempty"`
	Rejected         bool           `json:"rejected"`        // Excluded from selection
	RejectReason     string         `json:"reject_reason,omitempty"`
}

// Breakdown is the immutable score of one hypothesis on one corpus
type Breakdown struct {
	ModelBits         float64     `json:"mdl_model_bits"`
	DataBits          float64     `json:"mdl_data_bits"`
	ParseSuccessRatio float64     `json:"parse_success_ratio"`
	AlignmentGainBits float64     `json:"alignment_gain_bits"`
	EntropyDropBits   float64     `json:"entropy_drop_bits"`
	PenaltiesBits     float64     `json:"penalties_bits"`
	TotalBits         float64     `json:"total_bits"`
	Diagnostics       Diagnostics `json:"diagnostics"`
}

// NewBreakdown assembles a breakdown and derives the total, floored at the model cost
func NewBreakdown(model, data, psr, alignment, drop, penalties float64, diag Diagnostics) Breakdown {
	if diag.ExceptionReasons != nil {
		reasons := make(map[string]int, len(diag.ExceptionReasons))
		for k, v := range diag.ExceptionReasons {
			reasons[k] = v
		}
		diag.ExceptionReasons = reasons
	}

	total := model + data + penalties - alignment - drop
	if total < model {
		total = model
	}

	return Breakdown{
		ModelBits:         model,
		DataBits:          data,
		ParseSuccessRatio: psr,
		AlignmentGainBits: alignment,
		EntropyDropBits:   drop,
		PenaltiesBits:     penalties,
		TotalBits:         total,
		Diagnostics:       diag,
	}
}

// Eligible reports whether the breakdown may be selected
func (b Breakdown) Eligible() bool {
	return !b.Diagnostics.Rejected
}

// String renders the headline numbers
func (b Breakdown) String() string {
	return fmt.Sprintf("total=%.1f model=%.1f data=%.1f pen=%.1f align=%.1f drop=%.1f psr=%.3f",
		b.TotalBits, b.ModelBits, b.DataBits, b.PenaltiesBits, b.AlignmentGainBits, b.EntropyDropBits, b.ParseSuccessRatio)
}
