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
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "solarcheck"

// Metrics holds the gauges written after each run as a node-exporter textfile
type Metrics struct {
	registry *prometheus.Registry

	StageDuration *prometheus.GaugeVec
	StageRows     *prometheus.GaugeVec
	ModelRMSE     *prometheus.GaugeVec
	ModelR2       *prometheus.GaugeVec
	BestIteration prometheus.Gauge
	Anomalies     prometheus.Gauge
	Threshold     prometheus.Gauge
	CacheHits     *prometheus.CounterVec
	LastSuccess   prometheus.Gauge
}

// NewMetrics creates the pipeline gauges on a private registry
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		StageDuration: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "stage_duration_seconds",
				Help:      "Wall time of the last run of each pipeline stage",
			},
			[]string{"stage"},
		),
		StageRows: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "stage_rows",
				Help:      "Rows produced by each pipeline stage",
			},
			[]string{"stage"},
		),
		ModelRMSE: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: "model",
				Name:      "rmse_kwh",
				Help:      "Root mean squared error of the forecast by split and model",
			},
			[]string{"split", "model"},
		),
		ModelR2: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: "model",
				Name:      "r2",
				Help:      "Coefficient of determination of the forecast by split and model",
			},
			[]string{"split", "model"},
		),
		BestIteration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "model",
			Name:      "best_iteration",
			Help:      "Boosting round kept after early stopping",
		}),
		Anomalies: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "detector",
			Name:      "anomalies",
			Help:      "Days flagged as anomalous in the last detection",
		}),
		Threshold: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "detector",
			Name:      "threshold_kwh",
			Help:      "Absolute residual threshold used in the last detection",
		}),
		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "weather_cache_lookups_total",
				Help:      "Weather cache lookups by result",
			},
			[]string{"result"},
		),
		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful pipeline run",
		}),
	}

	m.registry.MustRegister(
		m.StageDuration,
		m.StageRows,
		m.ModelRMSE,
		m.ModelR2,
		m.BestIteration,
		m.Anomalies,
		m.Threshold,
		m.CacheHits,
		m.LastSuccess,
	)
	return m
}

// ObserveStage records how long a stage took and how many rows it produced
func (m *Metrics) ObserveStage(stage string, elapsed time.Duration, rows int) {
	m.StageDuration.WithLabelValues(stage).Set(elapsed.Seconds())
	m.StageRows.WithLabelValues(stage).Set(float64(rows))
}

// ObserveTraining records forecast and baseline scores
func (m *Metrics) ObserveTraining(tm *TrainingMetrics) {
	m.ModelRMSE.WithLabelValues("validation", "gbm").Set(tm.ValidRMSE)
	m.ModelRMSE.WithLabelValues("test", "gbm").Set(tm.TestRMSE)
	m.ModelR2.WithLabelValues("test", "gbm").Set(tm.TestR2)
	m.BestIteration.Set(float64(tm.BestIteration))
	if tm.Baseline != nil {
		m.ModelRMSE.WithLabelValues("test", "ols").Set(tm.Baseline.TestRMSE)
		m.ModelR2.WithLabelValues("test", "ols").Set(tm.Baseline.TestR2)
	}
}

// ObserveDetection records the size and threshold of a detection
func (m *Metrics) ObserveDetection(result *DetectionResult) {
	m.Anomalies.Set(float64(len(result.Flagged)))
	m.Threshold.Set(result.Threshold)
}

// ObserveCache counts a weather cache hit or miss
func (m *Metrics) ObserveCache(hit bool) {
	if hit {
		m.CacheHits.WithLabelValues("hit").Inc()
	} else {
		m.CacheHits.WithLabelValues("miss").Inc()
	}
}

// MarkSuccess stamps the completion time of a run
func (m *Metrics) MarkSuccess(at time.Time) {
	m.LastSuccess.Set(float64(at.Unix()))
}

// WriteTextfile writes every gauge in the Prometheus text exposition format
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return &StorageError{Operation: "write_metrics", Path: path, Err: err}
	}
	return nil
}
