/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: corpus.go
Description: Immutable byte corpus for protocol inference. A corpus is an ordered list of
messages; derived corpora keep an Origin back-reference into their parent so every SDU
can be traced to the message and frame it came from.
*/

package core

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrEmptyCorpus is returned by loaders that found no messages
	ErrEmptyCorpus = errors.New("core: corpus has no messages")
	// ErrOriginMismatch is returned when a derived corpus is built with the wrong number of origins
	ErrOriginMismatch = errors.New("core: origin count does not match message count")
)

// Origin locates a message of a derived corpus inside its parent corpus
type Origin struct {
	Message int `json:"message"` // Index of the parent message
	Frame   int `json:"frame"`   // Index of the SDU within that message
}

// Corpus is an ordered, read-only collection of messages.
// Message bytes are shared with the caller and must not be modified after construction.
type Corpus struct {
	name       string
	messages   [][]byte
	origins    []Origin
	totalBytes int

	fpOnce      sync.Once
	fingerprint string
}

// NewCorpus creates a root corpus over messages
func NewCorpus(name string, messages [][]byte) *Corpus {
	c := &Corpus{
		name:     name,
		messages: make([][]byte, len(messages)),
	}
	copy(c.messages, messages)
	for _, msg := range c.messages {
		c.totalBytes += len(msg)
	}
	return c
}

// NewDerivedCorpus creates a corpus whose messages carry origins into a parent corpus
func NewDerivedCorpus(name string, messages [][]byte, origins []Origin) (*Corpus, error) {
	if len(messages) != len(origins) {
		return nil, fmt.Errorf("%w: %d messages, %d origins", ErrOriginMismatch, len(messages), len(origins))
	}
	c := NewCorpus(name, messages)
	c.origins = make([]Origin, len(origins))
	copy(c.origins, origins)
	return c, nil
}

// Name returns the corpus label
func (c *Corpus) Name() string {
	return c.name
}

// Len returns the number of messages
func (c *Corpus) Len() int {
	return len(c.messages)
}

// Message returns the i-th message
func (c *Corpus) Message(i int) []byte {
	return c.messages[i]
}

// Messages returns the message list. The outer slice is a copy.
func (c *Corpus) Messages() [][]byte {
	out := make([][]byte, len(c.messages))
	copy(out, c.messages)
	return out
}

// Origin returns the parent location of the i-th message
func (c *Corpus) Origin(i int) (Origin, bool) {
	if c.origins == nil || i < 0 || i >= len(c.origins) {
		return Origin{}, false
	}
	return c.origins[i], true
}

// Derived reports whether the corpus was extracted from a parent corpus
func (c *Corpus) Derived() bool {
	return c.origins != nil
}

// TotalBytes returns the summed length of all messages
func (c *Corpus) TotalBytes() int {
	return c.totalBytes
}

// IsEmpty reports whether the corpus has no messages
func (c *Corpus) IsEmpty() bool {
	return len(c.messages) == 0
}

// IsDegenerate reports whether there is nothing left to explain:
// no messages, or only zero-length ones
func (c *Corpus) IsDegenerate() bool {
	return c.totalBytes == 0
}

// AverageLength returns the mean message length
func (c *Corpus) AverageLength() float64 {
	if len(c.messages) == 0 {
		return 0
	}
	return float64(c.totalBytes) / float64(len(c.messages))
}

// Fingerprint returns a SHA-256 over the length-prefixed messages.
// Two corpora with the same messages in the same order share a fingerprint.
func (c *Corpus) Fingerprint() string {
	c.fpOnce.Do(func() {
		h := sha256.New()
		var lenBuf [8]byte
		for _, msg := range c.messages {
			binary.BigEndian.PutUint64(lenBuf[:], uint64(len(msg)))
			h.Write(lenBuf[:])
			h.Write(msg)
		}
		c.fingerprint = hex.EncodeToString(h.Sum(nil))
	})
	return c.fingerprint
}

// Summary is a compact description of a corpus
type Summary struct {
	Name        string `json:"name"`
	Messages    int    `json:"messages"`
	TotalBytes  int    `json:"total_bytes"`
	Fingerprint string `json:"fingerprint"`
}

// Summary returns the corpus summary
func (c *Corpus) Summary() Summary {
	return Summary{
		Name:        c.name,
		Messages:    len(c.messages),
		TotalBytes:  c.totalBytes,
		Fingerprint: c.Fingerprint(),
	}
}

// corpusJSON is the serialised form of a corpus
type corpusJSON struct {
	Summary
	Data    []string `json:"data"`              // Base64 messages
	Origins []Origin `json:"origins,omitempty"` // Present for derived corpora
}

// MarshalJSON encodes the corpus with its messages in base64
func (c *Corpus) MarshalJSON() ([]byte, error) {
	out := corpusJSON{
		Summary: c.Summary(),
		Data:    make([]string, len(c.messages)),
		Origins: c.origins,
	}
	for i, msg := range c.messages {
		out.Data[i] = base64.StdEncoding.EncodeToString(msg)
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a corpus written by MarshalJSON
func (c *Corpus) UnmarshalJSON(data []byte) error {
	var in corpusJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("failed to decode corpus: %w", err)
	}

	messages := make([][]byte, len(in.Data))
	for i, s := range in.Data {
		msg, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return fmt.Errorf("failed to decode message %d: %w", i, err)
		}
		messages[i] = msg
	}

	var decoded *Corpus
	if in.Origins != nil {
		var err error
		decoded, err = NewDerivedCorpus(in.Name, messages, in.Origins)
		if err != nil {
			return err
		}
	} else {
		decoded = NewCorpus(in.Name, messages)
	}

	c.name = decoded.name
	c.messages = decoded.messages
	c.origins = decoded.origins
	c.totalBytes = decoded.totalBytes
	return nil
}
