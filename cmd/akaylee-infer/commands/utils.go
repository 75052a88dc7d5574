/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: utils.go
Description: Shared utilities for the akaylee-infer commands. Provides configuration
loading, logging setup and the viper-to-config mapping used by every command.
*/

package commands

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/kleascm/akaylee-infer/pkg/generator"
	"github.com/kleascm/akaylee-infer/pkg/inference"
	"github.com/kleascm/akaylee-infer/pkg/logging"
	"github.com/kleascm/akaylee-infer/pkg/plugin"
	"github.com/kleascm/akaylee-infer/pkg/score"
	"github.com/kleascm/akaylee-infer/pkg/source"
)

// EnvPrefix prefixes every environment variable read by the CLI
const EnvPrefix = "AKAYLEE"

// LoadConfig loads .env, the optional config file and environment overrides
func LoadConfig() error {
	// A missing .env is fine
	_ = godotenv.Load()

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if configFile := viper.GetString("config"); configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return nil
}

// SetupLogging builds the logger from the log.* settings
func SetupLogging() (*logging.Logger, error) {
	config := logging.DefaultConfig()
	if viper.IsSet("log.level") {
		config.Level = logging.LogLevel(viper.GetString("log.level"))
	}
	if viper.IsSet("log.format") {
		config.Format = logging.LogFormat(viper.GetString("log.format"))
	}
	if viper.IsSet("log.dir") {
		config.OutputDir = viper.GetString("log.dir")
	}
	if viper.IsSet("log.max_files") {
		config.MaxFiles = viper.GetInt("log.max_files")
	}
	if viper.IsSet("log.max_size") {
		config.MaxSize = viper.GetInt64("log.max_size")
	}
	if viper.IsSet("log.compress") {
		config.Compress = viper.GetBool("log.compress")
	}
	if viper.IsSet("log.colors") {
		config.Colors = viper.GetBool("log.colors")
	}

	logger, err := logging.NewLogger(config)
	if err != nil {
		return nil, fmt.Errorf("failed to setup logging: %w", err)
	}
	return logger, nil
}

// InferenceConfig maps inference.* settings onto the engine defaults
func InferenceConfig() (*inference.Config, error) {
	config := inference.DefaultConfig()
	if viper.IsSet("inference.max_depth") {
		config.MaxDepth = viper.GetInt("inference.max_depth")
	}
	if viper.IsSet("inference.top_k") {
		config.TopK = viper.GetInt("inference.top_k")
	}
	if viper.IsSet("inference.workers") && viper.GetInt("inference.workers") > 0 {
		config.Workers = viper.GetInt("inference.workers")
	}
	if viper.IsSet("inference.candidate_timeout") {
		config.CandidateTimeout = viper.GetDuration("inference.candidate_timeout")
	}
	if viper.IsSet("inference.min_sdu_bytes") {
		config.MinSDUBytes = viper.GetFloat64("inference.min_sdu_bytes")
	}
	if viper.IsSet("inference.cache_size") {
		config.CacheSize = viper.GetInt("inference.cache_size")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// ScoreConfig maps score.* settings onto the scorer defaults
func ScoreConfig() (*score.Config, error) {
	config := score.DefaultConfig()
	floats := map[string]*float64{
		"score.exception_bits":          &config.ExceptionBits,
		"score.short_sdu_bits":          &config.ShortSDUBits,
		"score.extra_frame_bits":        &config.ExtraFrameBits,
		"score.alignment_min_fraction":  &config.AlignmentMinFraction,
		"score.min_parse_success_ratio": &config.MinParseSuccessRatio,
	}
	for key, field := range floats {
		if viper.IsSet(key) {
			*field = viper.GetFloat64(key)
		}
	}
	ints := map[string]*int{
		"score.short_sdu_bytes":    &config.ShortSDUBytes,
		"score.max_compress_bytes": &config.MaxCompressBytes,
		"score.compression_level":  &config.CompressionLevel,
	}
	for key, field := range ints {
		if viper.IsSet(key) {
			*field = viper.GetInt(key)
		}
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// GeneratorConfig maps generator.* settings onto the generator defaults
func GeneratorConfig() (*generator.Config, error) {
	config := generator.DefaultConfig()
	ints := map[string]*int{
		"generator.max_offset":       &config.MaxOffset,
		"generator.tolerance":        &config.Tolerance,
		"generator.max_candidates":   &config.MaxCandidates,
		"generator.max_header":       &config.MaxHeader,
		"generator.sample_size":      &config.SampleSize,
		"generator.bitmap_max_bytes": &config.BitmapMaxBytes,
	}
	for key, field := range ints {
		if viper.IsSet(key) {
			*field = viper.GetInt(key)
		}
	}
	if viper.IsSet("generator.min_support") {
		config.MinSupport = viper.GetFloat64("generator.min_support")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// SourceOptions maps source.* settings onto the loader defaults
func SourceOptions() source.Options {
	opts := source.DefaultOptions()
	if viper.IsSet("source.format") {
		opts.Format = source.Format(viper.GetString("source.format"))
	}
	if viper.IsSet("source.flow") {
		opts.Flow = viper.GetInt("source.flow")
	}
	if viper.IsSet("source.transport") {
		opts.Transport = viper.GetString("source.transport")
	}
	return opts
}

// NewEngine builds the registry, scorer and engine from the current settings and attaches
// the logger
func NewEngine(logger *logging.Logger) (*inference.Engine, error) {
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

	engine, err := inference.NewEngine(plugin.Default(genConfig), config)
	if err != nil {
		return nil, err
	}
	engine.SetScorer(score.NewMDLScorer(scoreConfig))
	if logger != nil {
		engine.SetLogger(logger.GetLogger())
		engine.AddReporter(logger.Reporter())
	}
	return engine, nil
}
