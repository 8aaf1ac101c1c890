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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsObserve(t *testing.T) {
	m := NewMetrics()
	m.ObserveStage("features", 1500*time.Millisecond, 30)
	m.ObserveTraining(&TrainingMetrics{
		BestIteration: 12,
		ValidRMSE:     1.5,
		TestRMSE:      2.5,
		TestR2:        0.8,
		Baseline:      &Baseline{TestRMSE: 3.5, TestR2: 0.4},
	})
	m.ObserveDetection(&DetectionResult{Flagged: make([]Anomaly, 3), Threshold: 7.25})
	m.ObserveCache(true)
	m.ObserveCache(false)
	m.ObserveCache(false)

	assert.Equal(t, 1.5, testutil.ToFloat64(m.StageDuration.WithLabelValues("features")))
	assert.Equal(t, 30.0, testutil.ToFloat64(m.StageRows.WithLabelValues("features")))
	assert.Equal(t, 2.5, testutil.ToFloat64(m.ModelRMSE.WithLabelValues("test", "gbm")))
	assert.Equal(t, 3.5, testutil.ToFloat64(m.ModelRMSE.WithLabelValues("test", "ols")))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.BestIteration))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Anomalies))
	assert.Equal(t, 7.25, testutil.ToFloat64(m.Threshold))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheHits.WithLabelValues("hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheHits.WithLabelValues("miss")))
}

func TestMetricsWriteTextfile(t *testing.T) {
	m := NewMetrics()
	m.ObserveStage("train", time.Second, 20)
	m.MarkSuccess(fixtureStart)

	path := filepath.Join(t.TempDir(), ArtifactMetrics)
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, `solarcheck_stage_rows{stage="train"} 20`)
	assert.Contains(t, text, "solarcheck_last_success_timestamp_seconds 1.7040672e+09")
}
