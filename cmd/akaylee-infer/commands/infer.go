/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: infer.go
Description: Protocol inference command. Loads a corpus from a directory, hex-lines file or
capture, peels layers with the MDL engine, prints the inferred stack and writes a report.
*/

package commands

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kleascm/akaylee-infer/pkg/hypothesis"
	"github.com/kleascm/akaylee-infer/pkg/inference"
	"github.com/kleascm/akaylee-infer/pkg/monitoring"
	"github.com/kleascm/akaylee-infer/pkg/report"
	"github.com/kleascm/akaylee-infer/pkg/source"
)

// RunInference infers the layer stack of the corpus named by args[0]
func RunInference(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "🧬 Akaylee Infer - Protocol Structure Inference")
	fmt.Fprintln(out, "==============================================")
	fmt.Fprintln(out)

	if err := LoadConfig(); err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger, err := SetupLogging()
	if err != nil {
		return err
	}
	defer logger.Close()

	input := args[0]
	opts := SourceOptions()
	corpus, err := source.Load(input, opts)
	if err != nil {
		return fmt.Errorf("failed to load corpus: %w", err)
	}
	fmt.Fprintf(out, "📁 Input: %s\n", input)
	fmt.Fprintf(out, "📊 Corpus: %d messages, %d bytes\n", corpus.Len(), corpus.TotalBytes())
	fmt.Fprintln(out)

	engine, err := NewEngine(logger)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}
	config := engine.Config()

	if viper.GetBool("dry_run") {
		fmt.Fprintf(out, "✅ Configuration valid (max depth %d, top-k %d, %d workers)\n",
			config.MaxDepth, config.TopK, config.Workers)
		return nil
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintln(out, "🧠 Peeling layers...")
	logger.GetLogger().WithField("corpus", corpus.Name()).Info("Starting inference")
	monitor := monitoring.NewResourceMonitor(viper.GetDuration("sample_interval"), logger.GetLogger())
	if err := monitor.Start(ctx); err != nil {
		return err
	}
	start := time.Now()
	result, err := engine.Infer(ctx, corpus)
	elapsed := time.Since(start)
	usage, stopErr := monitor.Stop()
	if err != nil {
		return fmt.Errorf("inference failed: %w", err)
	}
	if stopErr != nil {
		return stopErr
	}
	logger.LogRun(result, elapsed)
	if err := logger.Rotate(); err != nil {
		logger.GetLogger().WithError(err).Warn("Failed to rotate log file")
	}

	fmt.Fprintf(out, "✅ Inference completed in %v\n", elapsed.Round(time.Millisecond))
	fmt.Fprintln(out)
	PrintResult(out, result)

	fmt.Fprintf(out, "📈 Peak heap %.1f MiB, %d GC cycles\n", float64(usage.PeakHeapAlloc)/(1<<20), usage.GCCycles)
	fmt.Fprintln(out)

	env := report.New(input, result, elapsed).WithResources(usage)
	path, err := writeReport(env)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "💾 Report saved to: %s\n", path)
	return nil
}

// writeReport writes to the output path when set, otherwise into the report directory
func writeReport(env *report.Envelope) (string, error) {
	if output := viper.GetString("output"); output != "" {
		if err := env.WriteFile(output); err != nil {
			return "", fmt.Errorf("failed to write report: %w", err)
		}
		return output, nil
	}

	dir := viper.GetString("report_dir")
	if dir == "" {
		dir = "./reports"
	}
	format := report.Format(viper.GetString("report_format"))
	if format == "" {
		format = report.FormatJSON
	}
	path, err := env.WriteDir(dir, format)
	if err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	return path, nil
}

// PrintResult renders the inferred stack, outermost layer first
func PrintResult(out io.Writer, result *inference.Result) {
	fmt.Fprintln(out, "📋 Inferred Layers")
	fmt.Fprintln(out, "==================")

	if result.IsEmpty() {
		fmt.Fprintln(out, "  No structure beats the opaque baseline")
	}
	for _, layer := range result.Layers {
		fmt.Fprintf(out, "  [%d] %s\n", layer.Depth, hypothesis.Describe(layer.Selected.Hypothesis))
		fmt.Fprintf(out, "      total %.1f bits, baseline %.1f bits, gain %.1f bits\n",
			layer.Selected.Score.TotalBits, layer.Baseline.Score.TotalBits, layer.Gain())
		fmt.Fprintf(out, "      psr %.3f, %d exceptions, %d SDUs\n",
			layer.Selected.Score.ParseSuccessRatio, layer.Parsed.ExceptionCount(), layer.SDUs.Len())
		for i, alt := range layer.Alternatives {
			fmt.Fprintf(out, "      alt %d: %s (%.1f bits)\n", i+1, hypothesis.Describe(alt.Hypothesis), alt.Score.TotalBits)
		}
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "🛑 Stopped: %s after %d candidates\n", result.StopReason, result.Evaluated)
}
