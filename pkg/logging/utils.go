/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: utils.go
Description: Log file management: rotation with optional gzip compression, retention
cleanup, file statistics and a line-level analyzer for inference logs.
*/

package logging

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
)

// LogManager rotates and prunes log files in one directory
type LogManager struct {
	logDir   string
	maxFiles int
	maxSize  int64
	compress bool
}

// NewLogManager creates a new log manager
func NewLogManager(logDir string, maxFiles int, maxSize int64, compress bool) *LogManager {
	return &LogManager{
		logDir:   logDir,
		maxFiles: maxFiles,
		maxSize:  maxSize,
		compress: compress,
	}
}

func (lm *LogManager) glob(suffix string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(lm.logDir, filePrefix+"*"+suffix))
	if err != nil {
		return nil, fmt.Errorf("failed to glob log files: %w", err)
	}
	return files, nil
}

// RotateLogs rotates every log file larger than the size limit
func (lm *LogManager) RotateLogs() error {
	files, err := lm.glob(".log")
	if err != nil {
		return err
	}
	for _, file := range files {
		stat, err := os.Stat(file)
		if err != nil {
			return err
		}
		if stat.Size() < lm.maxSize {
			continue
		}
		if err := lm.rotateFile(file); err != nil {
			return fmt.Errorf("failed to rotate file %s: %w", file, err)
		}
	}
	return nil
}

// rotateFile renames path with a timestamp suffix and compresses it when enabled
func (lm *LogManager) rotateFile(path string) error {
	rotated := fmt.Sprintf("%s.%s", path, time.Now().Format("2006-01-02_15-04-05.000000"))
	if err := os.Rename(path, rotated); err != nil {
		return err
	}
	if lm.compress {
		return lm.compressFile(rotated)
	}
	return nil
}

// compressFile gzips path and removes the original
func (lm *LogManager) compressFile(path string) error {
	source, err := os.Open(path)
	if err != nil {
		return err
	}
	defer source.Close()

	compressed, err := os.Create(path + ".gz")
	if err != nil {
		return err
	}
	defer compressed.Close()

	gz := gzip.NewWriter(compressed)
	if _, err := io.Copy(gz, source); err != nil {
		gz.Close()
		return err
	}
	if err := gz.Close(); err != nil {
		return err
	}
	return os.Remove(path)
}

// CleanupOldLogs removes the oldest files beyond maxFiles
func (lm *LogManager) CleanupOldLogs() error {
	files, err := lm.glob(".log*")
	if err != nil {
		return err
	}
	if len(files) <= lm.maxFiles {
		return nil
	}

	modTimes := make(map[string]time.Time, len(files))
	for _, file := range files {
		if stat, err := os.Stat(file); err == nil {
			modTimes[file] = stat.ModTime()
		}
	}
	sort.Slice(files, func(i, j int) bool {
		ti, tj := modTimes[files[i]], modTimes[files[j]]
		if ti.Equal(tj) {
			return files[i] < files[j]
		}
		return ti.Before(tj)
	})

	for _, file := range files[:len(files)-lm.maxFiles] {
		if err := os.Remove(file); err != nil {
			return fmt.Errorf("failed to remove file %s: %w", file, err)
		}
	}
	return nil
}

// LogStats holds statistics about log files
type LogStats struct {
	TotalFiles        int       `json:"total_files"`
	TotalSize         int64     `json:"total_size"`
	CompressedFiles   int       `json:"compressed_files"`
	UncompressedFiles int       `json:"uncompressed_files"`
	OldestFile        time.Time `json:"oldest_file"`
	NewestFile        time.Time `json:"newest_file"`
}

// GetLogStats returns statistics about the managed log files
func (lm *LogManager) GetLogStats() (*LogStats, error) {
	files, err := lm.glob(".log*")
	if err != nil {
		return nil, err
	}

	stats := &LogStats{TotalFiles: len(files)}
	for _, file := range files {
		stat, err := os.Stat(file)
		if err != nil {
			continue
		}
		stats.TotalSize += stat.Size()
		if stats.OldestFile.IsZero() || stat.ModTime().Before(stats.OldestFile) {
			stats.OldestFile = stat.ModTime()
		}
		if stat.ModTime().After(stats.NewestFile) {
			stats.NewestFile = stat.ModTime()
		}
		if strings.HasSuffix(file, ".gz") {
			stats.CompressedFiles++
		} else {
			stats.UncompressedFiles++
		}
	}
	return stats, nil
}

// LogAnalysis counts levels and inference events across log files
type LogAnalysis struct {
	LogFiles       int   `json:"log_files"`
	TotalLines     int64 `json:"total_lines"`
	DebugCount     int64 `json:"debug_count"`
	InfoCount      int64 `json:"info_count"`
	WarningCount   int64 `json:"warning_count"`
	ErrorCount     int64 `json:"error_count"`
	CandidateCount int64 `json:"candidate_count"`
	DegradedCount  int64 `json:"degraded_count"`
	LayerCount     int64 `json:"layer_count"`
	RunCount       int64 `json:"run_count"`
}

// LogAnalyzer reads uncompressed log files
type LogAnalyzer struct {
	logDir string
}

// NewLogAnalyzer creates a new log analyzer
func NewLogAnalyzer(logDir string) *LogAnalyzer {
	return &LogAnalyzer{logDir: logDir}
}

// AnalyzeLogs scans every current log file
func (la *LogAnalyzer) AnalyzeLogs() (*LogAnalysis, error) {
	files, err := filepath.Glob(filepath.Join(la.logDir, filePrefix+"*.log"))
	if err != nil {
		return nil, fmt.Errorf("failed to glob log files: %w", err)
	}
	sort.Strings(files)

	analysis := &LogAnalysis{LogFiles: len(files)}
	for _, file := range files {
		if err := la.analyzeFile(file, analysis); err != nil {
			return nil, fmt.Errorf("failed to analyze file %s: %w", file, err)
		}
	}
	return analysis, nil
}

func (la *LogAnalyzer) analyzeFile(path string, analysis *LogAnalysis) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		analyzeLine(scanner.Text(), analysis)
	}
	return scanner.Err()
}

// analyzeLine understands custom, text and JSON formatted lines
func analyzeLine(line string, analysis *LogAnalysis) {
	analysis.TotalLines++

	upper := strings.ToUpper(line)
	switch {
	case strings.Contains(upper, "DEBUG"):
		analysis.DebugCount++
	case strings.Contains(upper, "INFO"):
		analysis.InfoCount++
	case strings.Contains(upper, "WARN"):
		analysis.WarningCount++
	case strings.Contains(upper, "ERROR"):
		analysis.ErrorCount++
	}

	switch {
	case strings.Contains(line, "Candidate degraded"):
		analysis.DegradedCount++
	case strings.Contains(line, "Candidate scored"):
		analysis.CandidateCount++
	case strings.Contains(line, "Layer accepted"):
		analysis.LayerCount++
	case strings.Contains(line, "Inference finished"):
		analysis.RunCount++
	}
}

// Summary renders the analysis for terminals
func (a *LogAnalysis) Summary() string {
	return fmt.Sprintf(
		"Log Analysis Summary:\n"+
			"  Files: %d\n"+
			"  Total Lines: %d\n"+
			"  Debug: %d  Info: %d  Warning: %d  Error: %d\n"+
			"  Candidates: %d  Degraded: %d\n"+
			"  Layers: %d  Runs: %d",
		a.LogFiles, a.TotalLines,
		a.DebugCount, a.InfoCount, a.WarningCount, a.ErrorCount,
		a.CandidateCount, a.DegradedCount,
		a.LayerCount, a.RunCount,
	)
}
