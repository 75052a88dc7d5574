/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: stats.go
Description: Cheap corpus statistics consumed by the hypothesis generators: length
histogram, common prefix, suffix frequencies, per-offset entropy and support ratios.
*/

package core

import (
	"bytes"
	"sort"

	"github.com/kleascm/akaylee-infer/pkg/measures"
)

// Stats summarises message lengths and byte variability of a corpus
type Stats struct {
	Messages        int         `json:"messages"`
	TotalBytes      int         `json:"total_bytes"`
	MinLength       int         `json:"min_length"`
	MaxLength       int         `json:"max_length"`
	ModalLength     int         `json:"modal_length"`
	LengthHistogram map[int]int `json:"length_histogram"`
	CommonPrefix    int         `json:"common_prefix"`  // Longest prefix shared by every message
	OffsetEntropy   []float64   `json:"offset_entropy"` // Entropy of the byte at each offset
}

// Stats computes corpus statistics with an entropy profile up to maxOffset
func (c *Corpus) Stats(maxOffset int) Stats {
	stats := Stats{
		Messages:        len(c.messages),
		TotalBytes:      c.totalBytes,
		LengthHistogram: make(map[int]int),
	}
	if len(c.messages) == 0 {
		return stats
	}

	stats.MinLength = len(c.messages[0])
	for _, msg := range c.messages {
		n := len(msg)
		stats.LengthHistogram[n]++
		if n < stats.MinLength {
			stats.MinLength = n
		}
		if n > stats.MaxLength {
			stats.MaxLength = n
		}
	}

	// Ties resolve to the shorter length
	best := -1
	for n, count := range stats.LengthHistogram {
		if count > best || (count == best && n < stats.ModalLength) {
			best = count
			stats.ModalLength = n
		}
	}

	stats.CommonPrefix = c.CommonPrefix()
	stats.OffsetEntropy = measures.OffsetEntropy(c.messages, maxOffset)
	return stats
}

// CommonPrefix returns the length of the longest prefix shared by every message
func (c *Corpus) CommonPrefix() int {
	if len(c.messages) == 0 {
		return 0
	}
	prefix := c.messages[0]
	for _, msg := range c.messages[1:] {
		n := 0
		for n < len(prefix) && n < len(msg) && prefix[n] == msg[n] {
			n++
		}
		prefix = prefix[:n]
		if n == 0 {
			break
		}
	}
	return len(prefix)
}

// Support returns the fraction of messages for which pred holds
func (c *Corpus) Support(pred func(msg []byte) bool) float64 {
	if len(c.messages) == 0 {
		return 0
	}
	hits := 0
	for _, msg := range c.messages {
		if pred(msg) {
			hits++
		}
	}
	return float64(hits) / float64(len(c.messages))
}

// SuffixCount is one entry of a suffix frequency table
type SuffixCount struct {
	Suffix []byte
	Count  int
}

// Suffixes returns the n-byte message suffixes ordered by descending frequency.
// Ties are ordered by suffix bytes so the result is deterministic.
func (c *Corpus) Suffixes(n int) []SuffixCount {
	counts := make(map[string]int)
	for _, msg := range c.messages {
		if len(msg) >= n {
			counts[string(msg[len(msg)-n:])]++
		}
	}

	out := make([]SuffixCount, 0, len(counts))
	for s, count := range counts {
		out = append(out, SuffixCount{Suffix: []byte(s), Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return bytes.Compare(out[i].Suffix, out[j].Suffix) < 0
	})
	return out
}
