/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: main.go
Description: Command-line interface for Akaylee Infer. Wires flags to viper settings and
dispatches to the infer, score, plugins and logs commands.
*/

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kleascm/akaylee-infer/cmd/akaylee-infer/commands"
)

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// bind maps each flag name to its viper key
func bind(cmd *cobra.Command, persistent bool, keys map[string]string) {
	flags := cmd.Flags()
	if persistent {
		flags = cmd.PersistentFlags()
	}
	for flag, key := range keys {
		viper.BindPFlag(key, flags.Lookup(flag))
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "akaylee-infer",
		Short: "Akaylee Infer - binary protocol structure inference",
		Long: `Akaylee Infer recovers the layered structure of an unknown binary protocol from a
corpus of captured messages. Each layer is chosen by minimum description length: a
hypothesis is kept only when describing the grammar plus the data costs fewer bits than
treating the messages as opaque.`,
		Version:       "1.0.0",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Configuration and logging
	rootCmd.PersistentFlags().String("config", "", "Configuration file path (yaml, json or toml)")
	rootCmd.PersistentFlags().String("log-level", "info", "Logging level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "custom", "Log format (text, json, custom)")
	rootCmd.PersistentFlags().String("log-dir", "./logs", "Log output directory (empty for console only)")
	rootCmd.PersistentFlags().Int("log-max-files", 10, "Maximum number of log files to keep")
	rootCmd.PersistentFlags().Int64("log-max-size", 100*1024*1024, "Maximum log file size in bytes")
	rootCmd.PersistentFlags().Bool("log-compress", false, "Compress rotated log files")
	rootCmd.PersistentFlags().Bool("log-colors", true, "Colour console log output")
	bind(rootCmd, true, map[string]string{
		"config":        "config",
		"log-level":     "log.level",
		"log-format":    "log.format",
		"log-dir":       "log.dir",
		"log-max-files": "log.max_files",
		"log-max-size":  "log.max_size",
		"log-compress":  "log.compress",
		"log-colors":    "log.colors",
	})

	// Corpus source, shared by infer and score
	rootCmd.PersistentFlags().String("source-format", "auto", "Input format (auto, dir, hex, pcap)")
	rootCmd.PersistentFlags().Int("flow", -1, "Capture flow index, largest first (-1 = largest)")
	rootCmd.PersistentFlags().String("transport", "udp", "Capture transport (udp, tcp, empty for both)")
	bind(rootCmd, true, map[string]string{
		"source-format": "source.format",
		"flow":          "source.flow",
		"transport":     "source.transport",
	})

	inferCmd := &cobra.Command{
		Use:   "infer <input>",
		Short: "Infer the layer stack of a corpus",
		Long: `Load a corpus from a directory (one message per file), a hex-lines file or a
pcap/pcapng capture, peel layers until no hypothesis beats the opaque baseline and write a
JSON or YAML report.`,
		Args: cobra.ExactArgs(1),
		RunE: commands.RunInference,
	}
	inferCmd.Flags().Int("max-depth", 6, "Maximum number of layers")
	inferCmd.Flags().Int("top-k", 10, "Alternatives kept per layer")
	inferCmd.Flags().Int("workers", 0, "Parallel candidate evaluations (0 = number of CPUs)")
	inferCmd.Flags().Duration("candidate-timeout", 30*time.Second, "Scoring budget per candidate")
	inferCmd.Flags().Float64("min-sdu-bytes", 2, "Stop when the average payload is shorter than this")
	inferCmd.Flags().Int("cache-size", 4096, "Evaluation cache entries (0 disables)")
	inferCmd.Flags().String("output", "", "Report path; the extension selects json or yaml")
	inferCmd.Flags().String("report-dir", "./reports", "Directory for timestamped reports when --output is empty")
	inferCmd.Flags().String("report-format", "json", "Format for timestamped reports (json, yaml)")
	inferCmd.Flags().Bool("dry-run", false, "Validate configuration and input, then exit")
	inferCmd.Flags().Duration("sample-interval", 100*time.Millisecond, "Resource sampling interval")
	bind(inferCmd, false, map[string]string{
		"max-depth":         "inference.max_depth",
		"top-k":             "inference.top_k",
		"workers":           "inference.workers",
		"candidate-timeout": "inference.candidate_timeout",
		"min-sdu-bytes":     "inference.min_sdu_bytes",
		"cache-size":        "inference.cache_size",
		"output":            "output",
		"report-dir":        "report_dir",
		"report-format":     "report_format",
		"dry-run":           "dry_run",
		"sample-interval":   "sample_interval",
	})
	rootCmd.AddCommand(inferCmd)

	scoreCmd := &cobra.Command{
		Use:   "score <input>",
		Short: "Score one hypothesis against a corpus",
		Long: `Score a single hypothesis, given in its tagged JSON form, against a corpus and
compare it with the opaque baseline. Useful for checking why a layer was or was not chosen.`,
		Example: `  akaylee-infer score frames.hex --hypothesis '{"kind":"length_prefix_bundle","offset":0,"width":2,"endianness":"little","includes_header":false}'
  akaylee-infer score capture.pcap --hypothesis @hypothesis.json --json`,
		Args: cobra.ExactArgs(1),
		RunE: commands.ScoreHypothesis,
	}
	scoreCmd.Flags().String("hypothesis", "", "Hypothesis JSON, or @file")
	scoreCmd.Flags().Bool("json", false, "Print the comparison as JSON")
	scoreCmd.MarkFlagRequired("hypothesis")
	bind(scoreCmd, false, map[string]string{
		"hypothesis": "hypothesis",
		"json":       "json",
	})
	rootCmd.AddCommand(scoreCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "plugins",
		Short: "List registered generators and parsers",
		Args:  cobra.NoArgs,
		RunE:  commands.ListPlugins,
	})

	logsCmd := &cobra.Command{
		Use:   "logs",
		Short: "Summarise and maintain inference logs",
		Args:  cobra.NoArgs,
		RunE:  commands.AnalyzeLogs,
	}
	logsCmd.Flags().Bool("rotate", false, "Rotate oversized log files and prune old ones first")
	bind(logsCmd, false, map[string]string{"rotate": "rotate"})
	rootCmd.AddCommand(logsCmd)

	return rootCmd
}
