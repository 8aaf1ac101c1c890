// Copyright 2025 Matthew Gall <me@matthewgall.dev>
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	// Raw inputs
	InverterPath string `yaml:"inverter_path"`
	PlantPath    string `yaml:"plant_path"`
	WeatherPath  string `yaml:"weather_path"`

	// Artifacts
	OutputDir string `yaml:"output_dir" validate:"required"`
	ModelPath string `yaml:"model_path" validate:"required"`

	Location LocationConfig `yaml:"location"`
	Training TrainingConfig `yaml:"training"`
	Anomaly  AnomalyConfig  `yaml:"anomaly"`

	// Weather cache
	CacheTTL time.Duration `yaml:"cache_ttl" validate:"gte=0"`

	// Debugging
	Debug bool `yaml:"debug"`
}

// LocationConfig is the plant location used for weather lookups
type LocationConfig struct {
	Latitude  float64 `yaml:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `yaml:"longitude" validate:"gte=-180,lte=180"`
	Timezone  string  `yaml:"timezone" validate:"required"`
}

// TrainingConfig holds the boosting hyper-parameters
type TrainingConfig struct {
	NEstimators         int     `yaml:"n_estimators" validate:"gte=1,lte=100000"`
	LearningRate        float64 `yaml:"learning_rate" validate:"gt=0,lte=1"`
	MaxDepth            int     `yaml:"max_depth" validate:"gte=1,lte=16"`
	Subsample           float64 `yaml:"subsample" validate:"gt=0,lte=1"`
	ColsampleByTree     float64 `yaml:"colsample_bytree" validate:"gt=0,lte=1"`
	EarlyStoppingRounds int     `yaml:"early_stopping_rounds" validate:"gte=1"`
	Lambda              float64 `yaml:"lambda" validate:"gte=0"`
	MinChildWeight      float64 `yaml:"min_child_weight" validate:"gte=0"`
	Seed                uint64  `yaml:"seed"`
	TestFraction        float64 `yaml:"test_fraction" validate:"gt=0,lt=1"`
	ValidationFraction  float64 `yaml:"validation_fraction" validate:"gte=0,lt=1"`
}

// AnomalyConfig holds anomaly detection settings
type AnomalyConfig struct {
	ThresholdStd float64 `yaml:"threshold_std" validate:"gt=0"`
}

// DefaultConfig returns the configuration used when no file is given
func DefaultConfig() *Config {
	return &Config{
		OutputDir: "output",
		ModelPath: "models/xgb_model.json",
		Location: LocationConfig{
			Latitude:  12.9716,
			Longitude: 77.5946,
			Timezone:  "Asia/Kolkata",
		},
		Training: DefaultTrainingConfig(),
		Anomaly:  AnomalyConfig{ThresholdStd: 2.0},
		CacheTTL: 24 * time.Hour,
		Debug:    false,
	}
}

// DefaultTrainingConfig mirrors the hyper-parameters the model was tuned with
func DefaultTrainingConfig() TrainingConfig {
	return TrainingConfig{
		NEstimators:         1000,
		LearningRate:        0.05,
		MaxDepth:            5,
		Subsample:           0.8,
		ColsampleByTree:     0.8,
		EarlyStoppingRounds: 20,
		Lambda:              1.0,
		MinChildWeight:      1.0,
		Seed:                42,
		TestFraction:        0.2,
		ValidationFraction:  0.2,
	}
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	config := DefaultConfig()

	// If no path provided, return defaults with env var overrides
	if path == "" {
		config.applyEnvironmentVariables()
		return config, nil
	}

	// Read the file
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			config.applyEnvironmentVariables()
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Apply environment variable overrides
	config.applyEnvironmentVariables()

	return config, nil
}

// applyEnvironmentVariables overrides config with environment variables
func (c *Config) applyEnvironmentVariables() {
	if val := os.Getenv("SOLARCHECK_INVERTER_PATH"); val != "" {
		c.InverterPath = val
	}
	if val := os.Getenv("SOLARCHECK_PLANT_PATH"); val != "" {
		c.PlantPath = val
	}
	if val := os.Getenv("SOLARCHECK_WEATHER_PATH"); val != "" {
		c.WeatherPath = val
	}
	if val := os.Getenv("SOLARCHECK_OUTPUT_DIR"); val != "" {
		c.OutputDir = val
	}
	if val := os.Getenv("SOLARCHECK_MODEL_PATH"); val != "" {
		c.ModelPath = val
	}
	c.Location.Latitude = getEnvAsFloat("SOLARCHECK_LATITUDE", c.Location.Latitude)
	c.Location.Longitude = getEnvAsFloat("SOLARCHECK_LONGITUDE", c.Location.Longitude)
	if val := os.Getenv("SOLARCHECK_TIMEZONE"); val != "" {
		c.Location.Timezone = val
	}
	c.Anomaly.ThresholdStd = getEnvAsFloat("SOLARCHECK_THRESHOLD_STD", c.Anomaly.ThresholdStd)
	if val := os.Getenv("SOLARCHECK_DEBUG"); val == "true" || val == "1" {
		c.Debug = true
	}
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return value
	}
	return defaultValue
}

var configValidator = newConfigValidator()

func newConfigValidator() *validator.Validate {
	v := validator.New()
	// Report yaml keys so messages match what users write in the file
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var messages []string

	if err := configValidator.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("configuration validation failed: %w", err)
		}
		for _, fe := range verrs {
			messages = append(messages, describeFieldError(fe))
		}
	}

	if len(messages) > 0 {
		return &ConfigError{Problems: messages}
	}

	return nil
}

func describeFieldError(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "Config.")
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "lt":
		return fmt.Sprintf("%s must be less than %s", field, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}
