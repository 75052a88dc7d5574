/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: score.go
Description: Scores one hypothesis against a corpus next to the opaque baseline. The
hypothesis is given as its tagged JSON form, inline or as @file.
*/

package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kleascm/akaylee-infer/pkg/core"
	"github.com/kleascm/akaylee-infer/pkg/hypothesis"
	"github.com/kleascm/akaylee-infer/pkg/plugin"
	"github.com/kleascm/akaylee-infer/pkg/score"
	"github.com/kleascm/akaylee-infer/pkg/source"
)

// Scored is one hypothesis with its breakdown
type Scored struct {
	Hypothesis hypothesis.Hypothesis `json:"hypothesis"`
	Parser     string                `json:"parser"`
	Score      score.Breakdown       `json:"score"`
}

// Comparison is the output of the score command
type Comparison struct {
	Corpus    core.Summary `json:"corpus"`
	Candidate Scored       `json:"candidate"`
	Baseline  Scored       `json:"baseline"`
	GainBits  float64      `json:"gain_bits"`
}

// ScoreHypothesis scores the hypothesis setting against the corpus named by args[0]
func ScoreHypothesis(cmd *cobra.Command, args []string) error {
	if err := LoadConfig(); err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	h, err := readHypothesis(viper.GetString("hypothesis"))
	if err != nil {
		return err
	}
	corpus, err := source.Load(args[0], SourceOptions())
	if err != nil {
		return fmt.Errorf("failed to load corpus: %w", err)
	}

	comparison, err := Compare(cmd.Context(), corpus, h)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if viper.GetBool("json") {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(comparison)
	}
	printComparison(out, comparison)
	return nil
}

// Compare scores h and the opaque baseline on corpus with the configured scorer
func Compare(ctx context.Context, corpus *core.Corpus, h hypothesis.Hypothesis) (*Comparison, error) {
	genConfig, err := GeneratorConfig()
	if err != nil {
		return nil, err
	}
	scoreConfig, err := ScoreConfig()
	if err != nil {
		return nil, err
	}
	config, err := InferenceConfig()
	if err != nil {
		return nil, err
	}
	registry := plugin.Default(genConfig)
	scorer := score.NewMDLScorer(scoreConfig)

	evaluate := func(h hypothesis.Hypothesis) (Scored, error) {
		p, err := registry.ParserFor(h)
		if err != nil {
			return Scored{}, err
		}
		parsed, err := p.Parse(corpus, h)
		if err != nil {
			return Scored{}, fmt.Errorf("%s: %w", p.Name(), err)
		}
		if err := parsed.Verify(); err != nil {
			return Scored{}, fmt.Errorf("%s: %w", p.Name(), err)
		}

		sctx := ctx
		if config.CandidateTimeout > 0 {
			var cancel context.CancelFunc
			sctx, cancel = context.WithTimeout(ctx, config.CandidateTimeout)
			defer cancel()
		}
		return Scored{Hypothesis: h, Parser: p.Name(), Score: scorer.Score(sctx, corpus, h, parsed)}, nil
	}

	candidate, err := evaluate(h)
	if err != nil {
		return nil, err
	}
	baseline, err := evaluate(hypothesis.Opaque{})
	if err != nil {
		return nil, err
	}
	return &Comparison{
		Corpus:    corpus.Summary(),
		Candidate: candidate,
		Baseline:  baseline,
		GainBits:  baseline.Score.TotalBits - candidate.Score.TotalBits,
	}, nil
}

// readHypothesis decodes inline JSON or the file named after @
func readHypothesis(value string) (hypothesis.Hypothesis, error) {
	if value == "" {
		return nil, fmt.Errorf("a hypothesis is required, e.g. --hypothesis '{\"kind\":\"opaque\"}'")
	}
	data := []byte(value)
	if path, ok := strings.CutPrefix(value, "@"); ok {
		var err error
		if data, err = os.ReadFile(path); err != nil {
			return nil, fmt.Errorf("failed to read hypothesis file: %w", err)
		}
	}
	return hypothesis.Decode(data)
}

func printComparison(out io.Writer, c *Comparison) {
	fmt.Fprintln(out, "📐 Akaylee Infer - Hypothesis Score")
	fmt.Fprintln(out, "===================================")
	fmt.Fprintf(out, "📊 Corpus: %s (%d messages, %d bytes)\n", c.Corpus.Name, c.Corpus.Messages, c.Corpus.TotalBytes)
	fmt.Fprintln(out)

	for _, s := range []struct {
		label  string
		scored Scored
	}{{"Candidate", c.Candidate}, {"Baseline", c.Baseline}} {
		d := s.scored.Score.Diagnostics
		fmt.Fprintf(out, "%s: %s\n", s.label, hypothesis.Describe(s.scored.Hypothesis))
		fmt.Fprintf(out, "  %s\n", s.scored.Score)
		fmt.Fprintf(out, "  exceptions %d, sdus %d, rejected %t, degraded %t\n",
			d.Exceptions, d.SDUs, d.Rejected, d.Degraded)
	}
	fmt.Fprintln(out)

	if c.GainBits > 0 {
		fmt.Fprintf(out, "✅ Candidate beats the baseline by %.1f bits\n", c.GainBits)
	} else {
		fmt.Fprintf(out, "❌ Candidate does not beat the baseline (%.1f bits)\n", c.GainBits)
	}
}
