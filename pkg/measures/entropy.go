/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: entropy.go
Description: Byte histograms and zero-order entropy estimates. Provides the parametric
code-length estimate used by the MDL scorer and the per-offset entropy profile used by
the hypothesis generators.
*/

package measures

import (
	"math"
)

// Histogram counts occurrences of each byte value
type Histogram [256]int

// NewHistogram builds a histogram over all given byte slices
func NewHistogram(data ...[]byte) Histogram {
	var h Histogram
	for _, d := range data {
		h.Add(d)
	}
	return h
}

// Add counts every byte of data
func (h *Histogram) Add(data []byte) {
	for _, b := range data {
		h[b]++
	}
}

// Merge adds the counts of other into h
func (h *Histogram) Merge(other Histogram) {
	for i := range h {
		h[i] += other[i]
	}
}

// Total returns the number of counted bytes
func (h Histogram) Total() int {
	total := 0
	for _, c := range h {
		total += c
	}
	return total
}

// Distinct returns the number of byte values that occur at least once
func (h Histogram) Distinct() int {
	k := 0
	for _, c := range h {
		if c > 0 {
			k++
		}
	}
	return k
}

// Entropy returns the empirical zero-order entropy in bits per byte
func (h Histogram) Entropy() float64 {
	n := h.Total()
	if n == 0 {
		return 0
	}
	total := float64(n)
	entropy := 0.0
	for _, c := range h {
		if c == 0 {
			continue
		}
		p := float64(c) / total
		entropy -= p * math.Log2(p)
	}
	return entropy
}

// DataBits returns n·H, the ideal code length of the counted bytes under their own
// empirical distribution
func (h Histogram) DataBits() float64 {
	return float64(h.Total()) * h.Entropy()
}

// TableBits returns the cost of describing the distribution itself: 8 bits for the
// alphabet size k, log2 C(256, k) for which byte values occur, and (k-1)/2·log2(n) for
// the k-1 free frequencies.
func (h Histogram) TableBits() float64 {
	n := h.Total()
	if n == 0 {
		return 0
	}
	k := h.Distinct()
	return 8 + SymbolSetBits(k) + float64(k-1)/2*math.Log2(float64(n))
}

// SymbolSetBits returns log2 C(256, k), the cost of naming which k of the 256 byte
// values occur.
func SymbolSetBits(k int) float64 {
	if k <= 0 || k >= 256 {
		return 0
	}
	all, _ := math.Lgamma(257)
	chosen, _ := math.Lgamma(float64(k + 1))
	rest, _ := math.Lgamma(float64(257 - k))
	return (all - chosen - rest) / math.Ln2
}

// EstimateBits is the two-part entropy code length: data under the empirical model plus
// the model table.
func (h Histogram) EstimateBits() float64 {
	return h.DataBits() + h.TableBits()
}

// Entropy returns the zero-order entropy of data in bits per byte
func Entropy(data []byte) float64 {
	return NewHistogram(data).Entropy()
}

// GammaBits returns the Elias-gamma code length for the non-negative integer n.
// Zero is representable because n+1 is encoded.
func GammaBits(n int) float64 {
	if n < 0 {
		n = 0
	}
	v := uint64(n) + 1
	bits := 0
	for v > 1 {
		v >>= 1
		bits++
	}
	return float64(2*bits + 1)
}

// OffsetEntropy returns, for each offset below maxOffset, the entropy of the byte found
// at that offset across all messages long enough to have one.
func OffsetEntropy(messages [][]byte, maxOffset int) []float64 {
	profile := make([]float64, 0, maxOffset)
	for off := 0; off < maxOffset; off++ {
		var h Histogram
		for _, msg := range messages {
			if off < len(msg) {
				h[msg[off]]++
			}
		}
		if h.Total() == 0 {
			break
		}
		profile = append(profile, h.Entropy())
	}
	return profile
}
