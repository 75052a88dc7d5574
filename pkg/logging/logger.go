/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: logger.go
Description: Structured logging for inference runs. Wraps logrus with timestamped log files,
JSON, text or custom formatting, size-based rotation and inference-specific helpers for
candidates, layers and run summaries.
*/

package logging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kleascm/akaylee-infer/pkg/hypothesis"
	"github.com/kleascm/akaylee-infer/pkg/inference"
)

// filePrefix names every log file written by the logger
const filePrefix = "akaylee-infer_"

// ErrInvalidConfig is returned by LoggerConfig.Validate
var ErrInvalidConfig = errors.New("logging: invalid configuration")

// LogLevel represents the logging level
type LogLevel string

const (
	LogLevelDebug   LogLevel = "debug"
	LogLevelInfo    LogLevel = "info"
	LogLevelWarning LogLevel = "warn"
	LogLevelError   LogLevel = "error"
	LogLevelFatal   LogLevel = "fatal"
)

// LogFormat represents the logging format
type LogFormat string

const (
	LogFormatJSON   LogFormat = "json"
	LogFormatText   LogFormat = "text"
	LogFormatCustom LogFormat = "custom"
)

// LoggerConfig holds the configuration for the logger. An empty OutputDir logs to the
// console only.
type LoggerConfig struct {
	Level     LogLevel  `json:"level" mapstructure:"level"`
	Format    LogFormat `json:"format" mapstructure:"format"`
	OutputDir string    `json:"output_dir" mapstructure:"output_dir"`
	MaxFiles  int       `json:"max_files" mapstructure:"max_files"`
	MaxSize   int64     `json:"max_size" mapstructure:"max_size"` // in bytes
	Timestamp bool      `json:"timestamp" mapstructure:"timestamp"`
	Caller    bool      `json:"caller" mapstructure:"caller"`
	Colors    bool      `json:"colors" mapstructure:"colors"`
	Compress  bool      `json:"compress" mapstructure:"compress"` // gzip rotated files
}

// DefaultConfig returns console-friendly defaults with files under ./logs
func DefaultConfig() *LoggerConfig {
	return &LoggerConfig{
		Level:     LogLevelInfo,
		Format:    LogFormatCustom,
		OutputDir: "./logs",
		MaxFiles:  10,
		MaxSize:   100 * 1024 * 1024, // 100MB
		Timestamp: true,
		Caller:    false,
		Colors:    true,
	}
}

// Validate checks the LoggerConfig for invalid values
func (c *LoggerConfig) Validate() error {
	if c.OutputDir != "" {
		if c.MaxFiles <= 0 {
			return fmt.Errorf("%w: max_files must be positive", ErrInvalidConfig)
		}
		if c.MaxSize <= 0 {
			return fmt.Errorf("%w: max_size must be positive", ErrInvalidConfig)
		}
	}
	switch c.Format {
	case LogFormatJSON, LogFormatText, LogFormatCustom:
	default:
		return fmt.Errorf("%w: unsupported log format: %s", ErrInvalidConfig, c.Format)
	}
	switch c.Level {
	case LogLevelDebug, LogLevelInfo, LogLevelWarning, LogLevelError, LogLevelFatal:
	default:
		return fmt.Errorf("%w: unsupported log level: %s", ErrInvalidConfig, c.Level)
	}
	return nil
}

// Logger provides structured logging for inference runs
type Logger struct {
	config     *LoggerConfig
	logger     *logrus.Logger
	manager    *LogManager
	console    io.Writer
	fileHandle *os.File
	filePath   string
	startTime  time.Time

	mu sync.Mutex
}

// NewLogger creates a logger writing to stdout and, when configured, a log file
func NewLogger(config *LoggerConfig) (*Logger, error) {
	return NewLoggerTo(config, os.Stdout)
}

// NewLoggerTo creates a logger writing to console and, when configured, a log file
func NewLoggerTo(config *LoggerConfig, console io.Writer) (*Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	l := &Logger{
		config:    config,
		logger:    logrus.New(),
		console:   console,
		startTime: time.Now(),
	}
	if config.OutputDir != "" {
		l.manager = NewLogManager(config.OutputDir, config.MaxFiles, config.MaxSize, config.Compress)
	}

	if err := l.setup(); err != nil {
		return nil, fmt.Errorf("failed to setup logger: %w", err)
	}
	return l, nil
}

// setup configures level, formatter and outputs
func (l *Logger) setup() error {
	level, err := logrus.ParseLevel(string(l.config.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	l.logger.SetLevel(level)
	l.logger.SetReportCaller(l.config.Caller)

	if err := l.setFormatter(); err != nil {
		return err
	}

	l.logger.SetOutput(l.console)
	return l.setupFileOutput()
}

// setFormatter configures the log formatter
func (l *Logger) setFormatter() error {
	callerPrettyfier := func(f *runtime.Frame) (string, string) {
		return "", fmt.Sprintf("%s:%d", filepath.Base(f.File), f.Line)
	}

	switch l.config.Format {
	case LogFormatJSON:
		l.logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat:  time.RFC3339,
			CallerPrettyfier: callerPrettyfier,
		})
	case LogFormatText:
		l.logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:    l.config.Timestamp,
			TimestampFormat:  time.RFC3339,
			ForceColors:      l.config.Colors,
			DisableColors:    !l.config.Colors,
			CallerPrettyfier: callerPrettyfier,
		})
	case LogFormatCustom:
		l.logger.SetFormatter(&InferenceFormatter{CustomFormatter: CustomFormatter{
			Timestamp: l.config.Timestamp,
			Caller:    l.config.Caller,
			Colors:    l.config.Colors,
		}})
	default:
		return fmt.Errorf("%w: unsupported log format: %s", ErrInvalidConfig, l.config.Format)
	}
	return nil
}

// setupFileOutput opens a fresh timestamped log file next to the console output
func (l *Logger) setupFileOutput() error {
	if l.config.OutputDir == "" {
		return nil
	}

	if err := os.MkdirAll(l.config.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	timestamp := time.Now().Format("2006-01-02_15-04-05.000000")
	path := filepath.Join(l.config.OutputDir, filePrefix+timestamp+".log")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	l.fileHandle = file
	l.filePath = path
	l.logger.SetOutput(io.MultiWriter(l.console, file))

	l.logger.WithFields(logrus.Fields{
		"start_time": l.startTime.Format(time.RFC3339),
		"log_file":   path,
		"level":      l.config.Level,
		"format":     l.config.Format,
	}).Debug("Logging initialized")
	return nil
}

// Rotate starts a new log file when the current one exceeds MaxSize and compresses the
// old one when configured
func (l *Logger) Rotate() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.fileHandle == nil {
		return nil
	}
	stat, err := l.fileHandle.Stat()
	if err != nil {
		return err
	}
	if stat.Size() < l.config.MaxSize {
		return nil
	}

	old := l.filePath
	l.fileHandle.Close()
	if err := l.setupFileOutput(); err != nil {
		return err
	}
	if err := l.manager.rotateFile(old); err != nil {
		return fmt.Errorf("failed to rotate %s: %w", old, err)
	}
	return l.manager.CleanupOldLogs()
}

// FilePath returns the current log file, or "" when logging to the console only
func (l *Logger) FilePath() string {
	return l.filePath
}

// LogCandidate logs one scored candidate
func (l *Logger) LogCandidate(depth int, c inference.Candidate) {
	l.logger.WithFields(logrus.Fields{
		"depth":      depth,
		"order":      c.Order,
		"generator":  c.Generator,
		"hypothesis": hypothesis.Describe(c.Hypothesis),
		"total_bits": c.Score.TotalBits,
		"psr":        c.Score.ParseSuccessRatio,
		"rejected":   c.Score.Diagnostics.Rejected,
	}).Debug("Candidate scored")

	if c.Score.Diagnostics.Degraded {
		l.LogDegraded(depth, c)
	}
}

// LogDegraded logs a candidate whose compression estimate was replaced
func (l *Logger) LogDegraded(depth int, c inference.Candidate) {
	l.logger.WithFields(logrus.Fields{
		"depth":      depth,
		"hypothesis": c.Hypothesis.Key(),
		"reason":     c.Score.Diagnostics.DegradedReason,
	}).Warn("Candidate degraded to entropy estimate")
}

// LogLayer logs an accepted layer
func (l *Logger) LogLayer(layer *inference.Layer) {
	l.logger.WithFields(logrus.Fields{
		"depth":        layer.Depth,
		"hypothesis":   hypothesis.Describe(layer.Selected.Hypothesis),
		"total_bits":   layer.Selected.Score.TotalBits,
		"gain_bits":    layer.Gain(),
		"exceptions":   layer.Parsed.ExceptionCount(),
		"sdus":         layer.SDUs.Len(),
		"alternatives": len(layer.Alternatives),
	}).Info("Layer accepted")
}

// LogRun logs the summary of a finished run
func (l *Logger) LogRun(result *inference.Result, elapsed time.Duration) {
	l.logger.WithFields(logrus.Fields{
		"corpus":      result.Corpus.Name,
		"messages":    result.Corpus.Messages,
		"layers":      result.Depth(),
		"evaluated":   result.Evaluated,
		"stop_reason": result.StopReason,
		"duration":    elapsed,
	}).Info("Inference finished")
}

// Close closes the log file and removes files beyond MaxFiles
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.fileHandle == nil {
		return nil
	}
	l.logger.SetOutput(l.console)
	l.fileHandle.Close()
	l.fileHandle = nil

	if err := l.manager.CleanupOldLogs(); err != nil {
		return fmt.Errorf("failed to cleanup log files: %w", err)
	}
	return nil
}

// GetLogger returns the underlying logrus logger
func (l *Logger) GetLogger() *logrus.Logger {
	return l.logger
}

// Reporter adapts the logger to inference reporter hooks
func (l *Logger) Reporter() inference.Reporter {
	return &loggerReporter{l: l}
}

type loggerReporter struct {
	l *Logger
}

func (r *loggerReporter) OnCandidateScored(depth int, c inference.Candidate) {
	r.l.LogCandidate(depth, c)
}

func (r *loggerReporter) OnLayerAccepted(layer *inference.Layer) {
	r.l.LogLayer(layer)
}

func (r *loggerReporter) OnStop(reason inference.StopReason, depth int) {
	r.l.logger.WithFields(logrus.Fields{"reason": reason, "layers": depth}).Debug("Recursion stopped")
}
