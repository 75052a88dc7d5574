/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: report_test.go
Description: Tests for report envelopes, naming and JSON/YAML output.
*/

package report

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/kleascm/akaylee-infer/pkg/core"
	"github.com/kleascm/akaylee-infer/pkg/inference"
	"github.com/kleascm/akaylee-infer/pkg/monitoring"
	"github.com/kleascm/akaylee-infer/pkg/plugin"
)

func inferLengthPrefixed(t *testing.T) *inference.Result {
	t.Helper()
	rng := rand.New(rand.NewSource(1))
	var msgs [][]byte
	for i := 0; i < 100; i++ {
		n := 8 + rng.Intn(33)
		msg := make([]byte, 2, 2+n)
		binary.LittleEndian.PutUint16(msg, uint16(n))
		for j := 0; j < n; j++ {
			msg = append(msg, "ABCDEFGH"[j%8])
		}
		msgs = append(msgs, msg)
	}

	config := inference.DefaultConfig()
	config.Workers = 2
	config.MaxDepth = 1
	engine, err := inference.NewEngine(plugin.Default(nil), config)
	require.NoError(t, err)
	quiet := logrus.New()
	quiet.SetOutput(io.Discard)
	engine.SetLogger(quiet)

	result, err := engine.Infer(context.Background(), core.NewCorpus("captures/lp.bin", msgs))
	require.NoError(t, err)
	require.Equal(t, 1, result.Depth())
	return result
}

func TestNewEnvelope(t *testing.T) {
	result := inferLengthPrefixed(t)
	env := New("captures/lp.bin", result, 1500*time.Millisecond)

	assert.NotEqual(t, uuid.Nil, env.ID)
	assert.Equal(t, "captures/lp.bin", env.Source)
	assert.Equal(t, 1, env.Summary.Layers)
	assert.Equal(t, inference.StopMaxDepth, env.Summary.StopReason)
	assert.Equal(t, "1.5s", env.Summary.Duration)
	assert.Positive(t, env.Summary.GainBits)
	require.Len(t, env.Summary.Stack, 1)
	assert.Contains(t, env.Summary.Stack[0], "LengthPrefixBundle")

	other := New("captures/lp.bin", result, 0)
	assert.NotEqual(t, env.ID, other.ID)
	assert.Empty(t, other.Summary.Duration)
	assert.Nil(t, other.Resources)
}

func TestEnvelopeResources(t *testing.T) {
	env := New("lp", &inference.Result{StopReason: inference.StopNoImprovement}, 0).
		WithResources(monitoring.Usage{Samples: 3, PeakHeapAlloc: 4096})

	var buf bytes.Buffer
	require.NoError(t, env.WriteJSON(&buf))
	assert.Contains(t, buf.String(), `"peak_heap_alloc": 4096`)

	buf.Reset()
	require.NoError(t, New("lp", &inference.Result{}, 0).WriteJSON(&buf))
	assert.NotContains(t, buf.String(), "resources")
}

func TestEmptyResultEnvelope(t *testing.T) {
	env := New("", &inference.Result{StopReason: inference.StopEmptyCorpus}, 0)

	var buf bytes.Buffer
	require.NoError(t, env.WriteJSON(&buf))
	assert.Contains(t, buf.String(), `"stack": []`)
	assert.Contains(t, buf.String(), `"stop_reason": "empty_corpus"`)
}

func TestWriteJSON(t *testing.T) {
	env := New("lp", inferLengthPrefixed(t), 0)

	var buf bytes.Buffer
	require.NoError(t, env.WriteJSON(&buf))

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, env.ID.String(), decoded["id"])

	layers := decoded["result"].(map[string]interface{})["layers"].([]interface{})
	require.Len(t, layers, 1)
	selected := layers[0].(map[string]interface{})["selected"].(map[string]interface{})
	h := selected["hypothesis"].(map[string]interface{})
	assert.Equal(t, "length_prefix_bundle", h["kind"])
	assert.EqualValues(t, 2, h["width"])
}

func TestWriteYAML(t *testing.T) {
	env := New("lp", inferLengthPrefixed(t), 0)

	var buf bytes.Buffer
	require.NoError(t, env.WriteYAML(&buf))
	assert.Contains(t, buf.String(), "\nsummary:\n")

	var decoded map[string]interface{}
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, env.ID.String(), decoded["id"])

	summary := decoded["summary"].(map[string]interface{})
	assert.Equal(t, 1, summary["layers"])
	assert.Equal(t, "max_depth", summary["stop_reason"])

	result := decoded["result"].(map[string]interface{})
	layers := result["layers"].([]interface{})
	selected := layers[0].(map[string]interface{})["selected"].(map[string]interface{})
	assert.Equal(t, "length_prefix_bundle", selected["hypothesis"].(map[string]interface{})["kind"])
}

func TestFormatFor(t *testing.T) {
	cases := []struct {
		path   string
		format Format
	}{
		{"out/report.json", FormatJSON},
		{"report.YAML", FormatYAML},
		{"report.yml", FormatYAML},
	}
	for _, tc := range cases {
		format, err := FormatFor(tc.path)
		require.NoError(t, err, tc.path)
		assert.Equal(t, tc.format, format, tc.path)
	}

	_, err := FormatFor("report.txt")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	var buf bytes.Buffer
	assert.ErrorIs(t, New("", &inference.Result{}, 0).Write(&buf, "xml"), ErrUnsupportedFormat)
}

func TestFileName(t *testing.T) {
	at := time.Date(2024, 6, 11, 1, 30, 0, 0, time.UTC)
	assert.Equal(t, "2024-06-11_01-30-00_flows.json", FileName(at, "captures/flows.pcap", FormatJSON))
	assert.Equal(t, "2024-06-11_01-30-00_udp-5353.yaml", FileName(at, "udp 5353", FormatYAML))
	assert.Equal(t, "2024-06-11_01-30-00_corpus.json", FileName(at, "", FormatJSON))
}

func TestWriteFileAndDir(t *testing.T) {
	dir := t.TempDir()
	env := New("lp.bin", inferLengthPrefixed(t), 0)

	nested := filepath.Join(dir, "a", "b", "report.yaml")
	require.NoError(t, env.WriteFile(nested))
	data, err := os.ReadFile(nested)
	require.NoError(t, err)
	assert.Contains(t, string(data), "stop_reason")

	path, err := env.WriteDir(filepath.Join(dir, "reports"), FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, FileName(env.GeneratedAt, "lp.bin", FormatJSON), filepath.Base(path))
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, json.Valid(data))

	assert.ErrorIs(t, env.WriteFile(filepath.Join(dir, "report.csv")), ErrUnsupportedFormat)
}
