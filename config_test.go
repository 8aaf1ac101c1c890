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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	config := DefaultConfig()
	require.NoError(t, config.Validate())

	assert.Equal(t, 2.0, config.Anomaly.ThresholdStd)
	assert.Equal(t, 1000, config.Training.NEstimators)
	assert.Equal(t, 0.05, config.Training.LearningRate)
	assert.Equal(t, 5, config.Training.MaxDepth)
	assert.Equal(t, 0.8, config.Training.Subsample)
	assert.Equal(t, 0.8, config.Training.ColsampleByTree)
	assert.Equal(t, 20, config.Training.EarlyStoppingRounds)
	assert.Equal(t, uint64(42), config.Training.Seed)
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
inverter_path: data/inverter.csv
output_dir: out
location:
  latitude: 51.5
  longitude: -0.12
  timezone: Europe/London
training:
  max_depth: 3
anomaly:
  threshold_std: 2.5
cache_ttl: 1h
`), 0o644))

	config, err := LoadConfig(path)
	require.NoError(t, err)
	require.NoError(t, config.Validate())

	assert.Equal(t, "data/inverter.csv", config.InverterPath)
	assert.Equal(t, "out", config.OutputDir)
	assert.Equal(t, 51.5, config.Location.Latitude)
	assert.Equal(t, "Europe/London", config.Location.Timezone)
	assert.Equal(t, 3, config.Training.MaxDepth)
	assert.Equal(t, 2.5, config.Anomaly.ThresholdStd)
	assert.Equal(t, time.Hour, config.CacheTTL)

	// keys absent from the file keep their defaults
	assert.Equal(t, 1000, config.Training.NEstimators)
	assert.Equal(t, "models/xgb_model.json", config.ModelPath)
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	config, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Training, config.Training)
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("training: [not, a, map"), 0o644))

	_, err := LoadConfig(path)
	assert.ErrorContains(t, err, "failed to parse config file")
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("SOLARCHECK_OUTPUT_DIR", "/tmp/solar")
	t.Setenv("SOLARCHECK_THRESHOLD_STD", "3")
	t.Setenv("SOLARCHECK_LATITUDE", "10.5")
	t.Setenv("SOLARCHECK_DEBUG", "1")

	config, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/solar", config.OutputDir)
	assert.Equal(t, 3.0, config.Anomaly.ThresholdStd)
	assert.Equal(t, 10.5, config.Location.Latitude)
	assert.True(t, config.Debug)
}

func TestValidateReportsYAMLKeys(t *testing.T) {
	config := DefaultConfig()
	config.OutputDir = ""
	config.Anomaly.ThresholdStd = 0
	config.Training.LearningRate = 2
	config.Location.Latitude = 120

	err := config.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "output_dir is required")
	assert.Contains(t, msg, "anomaly.threshold_std must be greater than 0")
	assert.Contains(t, msg, "training.learning_rate must be at most 1")
	assert.Contains(t, msg, "location.latitude must be at most 90")

	var configErr *ConfigError
	require.True(t, errors.As(err, &configErr))
	assert.Len(t, configErr.Problems, 4)
}
