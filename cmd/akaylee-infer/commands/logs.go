/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: logs.go
Description: Log maintenance command. Summarises inference logs and optionally rotates and
prunes the log directory.
*/

package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kleascm/akaylee-infer/pkg/logging"
)

// AnalyzeLogs prints file statistics and event counts for the log directory
func AnalyzeLogs(cmd *cobra.Command, args []string) error {
	if err := LoadConfig(); err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	defaults := logging.DefaultConfig()
	dir := defaults.OutputDir
	if viper.IsSet("log.dir") {
		dir = viper.GetString("log.dir")
	}
	maxFiles, maxSize := defaults.MaxFiles, defaults.MaxSize
	if viper.IsSet("log.max_files") {
		maxFiles = viper.GetInt("log.max_files")
	}
	if viper.IsSet("log.max_size") {
		maxSize = viper.GetInt64("log.max_size")
	}
	manager := logging.NewLogManager(dir, maxFiles, maxSize, viper.GetBool("log.compress"))

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "📜 Akaylee Infer - Log Analysis")
	fmt.Fprintln(out, "===============================")
	fmt.Fprintf(out, "📁 Directory: %s\n", dir)
	fmt.Fprintln(out)

	if viper.GetBool("rotate") {
		if err := manager.RotateLogs(); err != nil {
			return fmt.Errorf("failed to rotate logs: %w", err)
		}
		if err := manager.CleanupOldLogs(); err != nil {
			return fmt.Errorf("failed to cleanup logs: %w", err)
		}
		fmt.Fprintln(out, "🔄 Rotated and pruned log files")
	}

	stats, err := manager.GetLogStats()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Files: %d (%d compressed), %d bytes\n", stats.TotalFiles, stats.CompressedFiles, stats.TotalSize)

	analysis, err := logging.NewLogAnalyzer(dir).AnalyzeLogs()
	if err != nil {
		return err
	}
	fmt.Fprintln(out, analysis.Summary())
	return nil
}
