/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: source.go
Description: Corpus sources. A corpus can come from a directory (one message per file), a
hex-lines text file (one message per line) or a packet capture. Load picks the reader from
the path.
*/

package source

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/kleascm/akaylee-infer/pkg/core"
)

// ErrUnknownFormat is returned when Load cannot tell what a path holds
var ErrUnknownFormat = errors.New("source: unknown input format")

// Format names an input format
type Format string

const (
	FormatAuto Format = "auto"
	FormatDir  Format = "dir"
	FormatHex  Format = "hex"
	FormatPCAP Format = "pcap"
)

// Options controls Load
type Options struct {
	Format    Format `json:"format" mapstructure:"format"`
	Flow      int    `json:"flow" mapstructure:"flow"`           // Flow index for captures; negative picks the largest
	Transport string `json:"transport" mapstructure:"transport"` // Restrict captures to udp or tcp; empty allows both
}

// DefaultOptions detects the format and picks the largest UDP flow of a capture
func DefaultOptions() Options {
	return Options{Format: FormatAuto, Flow: -1, Transport: TransportUDP}
}

// Load reads a corpus from path
func Load(path string, opts Options) (*core.Corpus, error) {
	format := opts.Format
	if format == "" || format == FormatAuto {
		detected, err := Detect(path)
		if err != nil {
			return nil, err
		}
		format = detected
	}

	switch format {
	case FormatDir:
		return LoadDir(path)
	case FormatHex:
		return LoadHexLines(path)
	case FormatPCAP:
		c, _, err := LoadPCAP(path, opts.Flow, opts.Transport)
		return c, err
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, format)
	}
}

// Detect guesses the format of path from its type, magic number and extension
func Detect(path string) (Format, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("failed to stat input: %w", err)
	}
	if info.IsDir() {
		return FormatDir, nil
	}
	if IsCapture(path) {
		return FormatPCAP, nil
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".hex", ".txt":
		return FormatHex, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownFormat, path)
}

// LoadDir reads every regular file in dir as one message, in file name order. Hidden files
// are skipped.
func LoadDir(dir string) (*core.Corpus, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read corpus directory: %w", err)
	}

	var messages [][]byte
	for _, entry := range entries {
		if !entry.Type().IsRegular() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read message %s: %w", entry.Name(), err)
		}
		messages = append(messages, data)
	}
	return core.NewCorpus(filepath.Base(filepath.Clean(dir)), messages), nil
}

// LoadHexLines reads a hex-lines file
func LoadHexLines(path string) (*core.Corpus, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open hex file: %w", err)
	}
	defer file.Close()

	c, err := ReadHexLines(file, filepath.Base(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// ReadHexLines reads one hex-encoded message per line. Blank lines and lines starting with
// # are skipped; spaces, colons and an optional 0x prefix are ignored.
func ReadHexLines(r io.Reader, name string) (*core.Corpus, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	var messages [][]byte
	for line := 1; scanner.Scan(); line++ {
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		text = strings.TrimPrefix(strings.TrimPrefix(text, "0x"), "0X")
		text = strings.NewReplacer(" ", "", "\t", "", ":", "").Replace(text)

		msg, err := hex.DecodeString(text)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		messages = append(messages, msg)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read hex lines: %w", err)
	}
	return core.NewCorpus(name, messages), nil
}
