/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: report.go
Description: Report envelopes for inference results. Handles timestamped file naming,
ensures output directories exist and writes JSON or YAML chosen by file extension.
*/

package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/kleascm/akaylee-infer/pkg/hypothesis"
	"github.com/kleascm/akaylee-infer/pkg/inference"
	"github.com/kleascm/akaylee-infer/pkg/monitoring"
)

// ErrUnsupportedFormat is returned for output files that are neither JSON nor YAML
var ErrUnsupportedFormat = errors.New("report: unsupported format")

// Format selects the report encoding
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// Summary is the short human-facing digest of a run
type Summary struct {
	Layers     int                  `json:"layers"`
	StopReason inference.StopReason `json:"stop_reason"`
	Evaluated  int                  `json:"evaluated"`
	GainBits   float64              `json:"gain_bits"` // Sum of per-layer gains over the baseline
	Stack      []string             `json:"stack"`     // Accepted hypotheses, outermost first
	Duration   string               `json:"duration,omitempty"`
}

// Envelope wraps a result with identity and provenance
type Envelope struct {
	ID          uuid.UUID         `json:"id"`
	GeneratedAt time.Time         `json:"generated_at"`
	Source      string            `json:"source"`
	Summary     Summary           `json:"summary"`
	Resources   *monitoring.Usage `json:"resources,omitempty"`
	Result      *inference.Result `json:"result"`
}

// New builds an envelope for result read from source
func New(source string, result *inference.Result, elapsed time.Duration) *Envelope {
	summary := Summary{
		Layers:     result.Depth(),
		StopReason: result.StopReason,
		Evaluated:  result.Evaluated,
		Stack:      []string{},
	}
	for _, l := range result.Layers {
		summary.GainBits += l.Gain()
	}
	for _, h := range result.Hypotheses() {
		summary.Stack = append(summary.Stack, hypothesis.Describe(h))
	}
	if elapsed > 0 {
		summary.Duration = elapsed.String()
	}

	return &Envelope{
		ID:          uuid.New(),
		GeneratedAt: time.Now().UTC(),
		Source:      source,
		Summary:     summary,
		Result:      result,
	}
}

// WithResources attaches the resource usage of the run
func (e *Envelope) WithResources(u monitoring.Usage) *Envelope {
	e.Resources = &u
	return e
}

// WriteJSON writes the envelope as indented JSON
func (e *Envelope) WriteJSON(w io.Writer) error {
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

// WriteYAML writes the envelope as YAML. The document goes through its JSON form so
// hypotheses and breakdowns keep their field names and order.
func (e *Envelope) WriteYAML(w io.Writer) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return fmt.Errorf("failed to convert report: %w", err)
	}
	restyle(&node)

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&node); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return enc.Close()
}

// restyle drops the flow and quoting styles inherited from JSON. The encoder still quotes
// strings that would otherwise read back as another type.
func restyle(n *yaml.Node) {
	n.Style &^= yaml.FlowStyle | yaml.DoubleQuotedStyle
	for _, c := range n.Content {
		restyle(c)
	}
}

// Write encodes the envelope in format
func (e *Envelope) Write(w io.Writer, format Format) error {
	switch format {
	case FormatJSON:
		return e.WriteJSON(w)
	case FormatYAML:
		return e.WriteYAML(w)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

// FormatFor picks the format from a file extension
func FormatFor(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// FileName returns the timestamped report name, e.g. 2024-06-11_01-30-00_flows.json
func FileName(at time.Time, name string, format Format) string {
	return fmt.Sprintf("%s_%s.%s", at.Format("2006-01-02_15-04-05"), sanitize(name), format)
}

func sanitize(name string) string {
	name = strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "corpus"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, name)
}

// WriteFile writes the envelope to path, creating parent directories. The format follows
// the extension.
func (e *Envelope) WriteFile(path string) error {
	format, err := FormatFor(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	if err := e.Write(file, format); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// WriteDir writes the envelope into dir under its timestamped name and returns the path
func (e *Envelope) WriteDir(dir string, format Format) (string, error) {
	path := filepath.Join(dir, FileName(e.GeneratedAt, e.Source, format))
	if err := e.WriteFile(path); err != nil {
		return "", err
	}
	return path, nil
}
