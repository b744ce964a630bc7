// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads worst-case analysis settings.
//
// Priority is env > file > defaults. Every key has a WCA_ environment
// override named after its upper-cased YAML key, e.g. WCA_HISTORY_SIZE.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/worstcase/pkg/validation"
	"github.com/AleutianAI/worstcase/services/worstcase/heuristic"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "WCA_"

// Config contains all analysis settings.
//
// Thread Safety: Safe to read concurrently. Not safe to modify after creation.
type Config struct {
	// EnablePolicies turns policy-guided pruning on for guided runs.
	EnablePolicies bool `json:"enable_policies" yaml:"enable_policies"`

	// PolicyInputPath is where guided runs look for policies. Empty means
	// PolicyOutputPath.
	PolicyInputPath string `json:"policy_input_path" yaml:"policy_input_path"`

	// PolicyOutputPath is where recording runs write policies.
	PolicyOutputPath string `json:"policy_output_path" yaml:"policy_output_path" validate:"required"`

	// VisualizationOutputPath receives fitted series as CSV.
	VisualizationOutputPath string `json:"visualization_output_path" yaml:"visualization_output_path" validate:"required"`

	// UnifyPolicies merges a recorded policy into an existing file instead
	// of overwriting it.
	UnifyPolicies bool `json:"unify_policies" yaml:"unify_policies"`

	// TerminationStrategy is parsed by heuristic.ParseTermination.
	TerminationStrategy string `json:"termination_strategy" yaml:"termination_strategy" validate:"termination"`

	// HistorySize is the policy history bound k for recording runs.
	HistorySize int `json:"history_size" yaml:"history_size" validate:"gte=0,lte=64"`

	// MeasuredMethods identifies the code whose cost is analysed.
	MeasuredMethods []string `json:"measured_methods" yaml:"measured_methods" validate:"omitempty,dive,measured_method"`

	// SamplesPath is the sample store directory.
	SamplesPath string `json:"samples_path" yaml:"samples_path" validate:"required"`

	// PredictionHorizon is the number of abscissa points a fit predicts.
	PredictionHorizon int `json:"prediction_horizon" yaml:"prediction_horizon" validate:"gte=1"`

	LogLevel string `json:"log_level" yaml:"log_level" validate:"oneof=debug info warn error"`
	LogJSON  bool   `json:"log_json" yaml:"log_json"`
	LogDir   string `json:"log_dir" yaml:"log_dir"`
}

var configValidate *validator.Validate

func init() {
	configValidate = validator.New()
	_ = configValidate.RegisterValidation("termination", validateTermination)
	_ = configValidate.RegisterValidation("measured_method", validateMeasuredMethod)
}

func validateTermination(fl validator.FieldLevel) bool {
	_, err := heuristic.ParseTermination(fl.Field().String())
	return err == nil
}

func validateMeasuredMethod(fl validator.FieldLevel) bool {
	return validation.ValidateMeasuredMethod(fl.Field().String()) == nil
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		EnablePolicies:          true,
		PolicyOutputPath:        "./ser/heuristicPolicy",
		VisualizationOutputPath: "./vis/heuristic",
		TerminationStrategy:     "never",
		HistorySize:             2,
		SamplesPath:             "./samples",
		PredictionHorizon:       100,
		LogLevel:                "info",
	}
}

// Load loads configuration with priority: env > file > defaults.
//
// # Inputs
//
//   - path: YAML or JSON config file. Optional; a missing file means
//     defaults.
//
// # Outputs
//
//   - Config: Merged configuration.
//   - error: Non-nil if the file exists but is invalid, or if the merged
//     configuration fails validation.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}
	if err := loadFromEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, fmt.Errorf("load config from env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	// Try YAML first, then JSON
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
			return fmt.Errorf("parse config (tried YAML and JSON): YAML error: %v, JSON error: %w", err, jsonErr)
		}
	}
	return nil
}

func loadFromEnv(cfg *Config, lookup func(string) (string, bool)) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(EnvPrefix + key)
		return strings.TrimSpace(v), ok && strings.TrimSpace(v) != ""
	}
	boolean := func(key string, dst *bool) error {
		if v, ok := get(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
			}
			*dst = b
		}
		return nil
	}
	integer := func(key string, dst *int) error {
		if v, ok := get(key); ok {
			i, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
			}
			*dst = i
		}
		return nil
	}
	str := func(key string, dst *string) {
		if v, ok := get(key); ok {
			*dst = v
		}
	}

	if err := boolean("ENABLE_POLICIES", &cfg.EnablePolicies); err != nil {
		return err
	}
	if err := boolean("UNIFY_POLICIES", &cfg.UnifyPolicies); err != nil {
		return err
	}
	if err := boolean("LOG_JSON", &cfg.LogJSON); err != nil {
		return err
	}
	if err := integer("HISTORY_SIZE", &cfg.HistorySize); err != nil {
		return err
	}
	if err := integer("PREDICTION_HORIZON", &cfg.PredictionHorizon); err != nil {
		return err
	}
	str("POLICY_INPUT_PATH", &cfg.PolicyInputPath)
	str("POLICY_OUTPUT_PATH", &cfg.PolicyOutputPath)
	str("VISUALIZATION_OUTPUT_PATH", &cfg.VisualizationOutputPath)
	str("TERMINATION_STRATEGY", &cfg.TerminationStrategy)
	str("SAMPLES_PATH", &cfg.SamplesPath)
	str("LOG_LEVEL", &cfg.LogLevel)
	str("LOG_DIR", &cfg.LogDir)

	if v, ok := get("MEASURED_METHODS"); ok {
		var methods []string
		for _, m := range strings.Split(v, ",") {
			if m = strings.TrimSpace(m); m != "" {
				methods = append(methods, m)
			}
		}
		cfg.MeasuredMethods = methods
	}
	return nil
}

// Validate checks the configuration against its struct tags.
func (c Config) Validate() error {
	return configValidate.Struct(c)
}

// PolicyInput returns the directory guided runs load policies from.
func (c Config) PolicyInput() string {
	if c.PolicyInputPath != "" {
		return c.PolicyInputPath
	}
	return c.PolicyOutputPath
}

// Termination parses TerminationStrategy.
func (c Config) Termination() (heuristic.Termination, error) {
	return heuristic.ParseTermination(c.TerminationStrategy)
}

// EnsureOutputDirs creates the policy output and visualization directories.
func (c Config) EnsureOutputDirs() error {
	for _, dir := range []string{c.PolicyOutputPath, c.VisualizationOutputPath} {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("create output directory %s: %w", dir, err)
		}
	}
	return nil
}
