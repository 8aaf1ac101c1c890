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
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
)

// Pipeline runs the forecasting stages, persisting each output before the next stage reads it
type Pipeline struct {
	config  *Config
	storage *Storage
	logger  *Logger
	metrics *Metrics
	weather *WeatherClient
}

// RunOptions are the inputs of a full pipeline run. A WeatherPath skips the
// fetch stage; otherwise weather is fetched for Start..End, defaulting to the
// date range of the inverter export.
type RunOptions struct {
	InverterPath string
	PlantPath    string
	WeatherPath  string
	Start        time.Time
	End          time.Time
	ThresholdStd float64
}

// NewPipeline creates a new pipeline
func NewPipeline(config *Config, storage *Storage, logger *Logger) *Pipeline {
	return &Pipeline{
		config:  config,
		storage: storage,
		logger:  logger,
		metrics: NewMetrics(),
		weather: NewWeatherClient(config.Location, logger),
	}
}

// stage times fn and records its row count
func (p *Pipeline) stage(name string, fn func() (int, error)) error {
	started := time.Now()
	rows, err := fn()
	if err != nil {
		return fmt.Errorf("%s stage failed: %w", name, err)
	}
	elapsed := time.Since(started)
	p.logger.LogStage(name, elapsed)
	p.metrics.ObserveStage(name, elapsed, rows)
	return nil
}

// FetchWeather fetches daily weather for the range, cache first, and writes the weather table
func (p *Pipeline) FetchWeather(ctx context.Context, start, end time.Time) (*Frame, error) {
	cacheKey := p.weather.CacheKey(start, end)
	days, cached := p.storage.CachedWeather(cacheKey)
	p.metrics.ObserveCache(cached)

	if !cached {
		var err error
		days, err = p.weather.FetchRange(ctx, start, end)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch weather: %w", err)
		}
		entry := WeatherCacheEntry{
			Latitude:  p.config.Location.Latitude,
			Longitude: p.config.Location.Longitude,
			Start:     start.Format(DateLayout),
			End:       end.Format(DateLayout),
			Days:      days,
		}
		if err := p.storage.CacheWeather(cacheKey, entry, p.config.CacheTTL); err != nil {
			p.logger.Warn("Failed to cache weather", "error", err)
		}
	} else {
		p.logger.Info("Loaded weather from cache", "days", len(days))
	}

	frame := WeatherFrame(days)
	if err := p.storage.SaveFrame(ArtifactWeather, frame); err != nil {
		return nil, err
	}
	return frame, nil
}

// BuildFeatures joins the raw inputs into the featured table and writes it
func (p *Pipeline) BuildFeatures(inverterPath, plantPath, weatherPath string) (*Frame, error) {
	for _, in := range []struct{ name, path string }{
		{"inverter", inverterPath},
		{"plant", plantPath},
		{"weather", weatherPath},
	} {
		if err := requireInput(in.name, in.path); err != nil {
			return nil, err
		}
	}

	builder := NewFeatureBuilder(p.logger)
	src, err := builder.LoadSources(inverterPath, plantPath, weatherPath)
	if err != nil {
		return nil, err
	}
	featured, err := builder.Build(src)
	if err != nil {
		return nil, err
	}
	if err := p.storage.SaveFrame(ArtifactFeatured, featured); err != nil {
		return nil, err
	}
	return featured, nil
}

// requireInput fails with a MissingInputError when a raw input is not supplied or absent
func requireInput(name, path string) error {
	if path == "" {
		return &MissingInputError{Input: name}
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &MissingInputError{Input: name, Path: path}
		}
		return &StorageError{Operation: "stat_file", Path: path, Err: err}
	}
	return nil
}

// loadFeatured reads the featured table written by BuildFeatures
func (p *Pipeline) loadFeatured(stage string) (*Frame, error) {
	if !p.storage.Exists(ArtifactFeatured) {
		return nil, &MissingInputError{Input: "featured table", Path: p.storage.Path(ArtifactFeatured)}
	}
	return p.storage.LoadFrame(ArtifactFeatured, stage, append([]string{TargetColumn}, FeatureNames()...)...)
}

// Train fits the forecast model on the featured table and persists it
func (p *Pipeline) Train(ctx context.Context) (*Model, *TrainingMetrics, error) {
	featured, err := p.loadFeatured("train")
	if err != nil {
		return nil, nil, err
	}
	model, metrics, err := NewForecaster(p.config.Training, p.logger).Train(ctx, featured)
	if err != nil {
		return nil, nil, err
	}
	if err := p.storage.SaveModel(p.config.ModelPath, model); err != nil {
		return nil, nil, err
	}
	p.metrics.ObserveTraining(metrics)
	return model, metrics, nil
}

// Detect flags anomalous days with the persisted model and writes the anomaly table
func (p *Pipeline) Detect(thresholdStd float64) (*DetectionResult, error) {
	featured, err := p.loadFeatured("detect")
	if err != nil {
		return nil, err
	}
	model, err := p.storage.LoadModel(p.config.ModelPath)
	if err != nil {
		return nil, err
	}
	result, err := NewDetector(p.logger).Detect(featured, model, thresholdStd)
	if err != nil {
		return nil, err
	}
	if err := p.storage.SaveFrame(ArtifactAnomalies, result.Anomalies); err != nil {
		return nil, err
	}
	p.metrics.ObserveDetection(result)
	return result, nil
}

// Explain attributes every anomaly and writes the attribution artifacts
func (p *Pipeline) Explain() ([]Attribution, error) {
	if !p.storage.Exists(ArtifactAnomalies) {
		return nil, &MissingInputError{Input: "anomaly table", Path: p.storage.Path(ArtifactAnomalies)}
	}
	anomalies, err := p.storage.LoadFrame(ArtifactAnomalies, "explain", ColResidual)
	if err != nil {
		return nil, err
	}
	featured, err := p.loadFeatured("explain")
	if err != nil {
		return nil, err
	}
	model, err := p.storage.LoadModel(p.config.ModelPath)
	if err != nil {
		return nil, err
	}

	attributions, err := NewExplainer(p.logger).Explain(anomalies, featured, model)
	if err != nil {
		return nil, err
	}

	if err := p.storage.SaveMatrix(ArtifactAttributionNPY, AttributionMatrix(attributions), len(model.FeatureNames)); err != nil {
		return nil, err
	}
	if err := p.storage.SaveAttributions(ArtifactAttributionCSV, model.FeatureNames, attributions); err != nil {
		return nil, err
	}
	if err := p.storage.SaveFrame(ArtifactAnomaliesWithAttr, AnomaliesWithAttribution(anomalies, attributions)); err != nil {
		return nil, err
	}
	return attributions, nil
}

// Run executes every stage in order and writes the run manifest and metrics textfile
func (p *Pipeline) Run(ctx context.Context, opts RunOptions) (*RunManifest, error) {
	runID := uuid.NewString()
	base := p.logger
	p.logger = base.WithRunID(runID)
	defer func() { p.logger = base }()

	manifest := &RunManifest{
		RunID:     runID,
		Version:   GetVersion(),
		StartedAt: time.Now().UTC(),
		Inputs: map[string]string{
			"inverter": opts.InverterPath,
			"plant":    opts.PlantPath,
		},
		Artifacts: map[string]string{},
	}
	p.logger.Info("Starting pipeline run")

	weatherPath := opts.WeatherPath
	if weatherPath == "" {
		start, end := opts.Start, opts.End
		if start.IsZero() || end.IsZero() {
			if err := requireInput("inverter", opts.InverterPath); err != nil {
				return nil, err
			}
			first, last, err := inverterDateRange(opts.InverterPath)
			if err != nil {
				return nil, err
			}
			if start.IsZero() {
				start = first
			}
			if end.IsZero() {
				end = last
			}
		}
		manifest.WeatherStart = start.Format(DateLayout)
		manifest.WeatherEnd = end.Format(DateLayout)

		err := p.stage("weather", func() (int, error) {
			frame, err := p.FetchWeather(ctx, start, end)
			if err != nil {
				return 0, err
			}
			return frame.Len(), nil
		})
		if err != nil {
			return nil, err
		}
		weatherPath = p.storage.Path(ArtifactWeather)
		manifest.Artifacts["weather"] = weatherPath
	}
	manifest.Inputs["weather"] = weatherPath

	err := p.stage("features", func() (int, error) {
		featured, err := p.BuildFeatures(opts.InverterPath, opts.PlantPath, weatherPath)
		if err != nil {
			return 0, err
		}
		manifest.FeaturedRows = featured.Len()
		return featured.Len(), nil
	})
	if err != nil {
		return nil, err
	}
	manifest.Artifacts["featured"] = p.storage.Path(ArtifactFeatured)

	err = p.stage("train", func() (int, error) {
		_, metrics, err := p.Train(ctx)
		if err != nil {
			return 0, err
		}
		manifest.Metrics = metrics
		return metrics.Train.Rows, nil
	})
	if err != nil {
		return nil, err
	}
	manifest.Artifacts["model"] = p.config.ModelPath

	threshold := opts.ThresholdStd
	if threshold == 0 {
		threshold = p.config.Anomaly.ThresholdStd
	}
	err = p.stage("detect", func() (int, error) {
		result, err := p.Detect(threshold)
		if err != nil {
			return 0, err
		}
		manifest.Detection = result
		return len(result.Flagged), nil
	})
	if err != nil {
		return nil, err
	}
	manifest.Artifacts["anomalies"] = p.storage.Path(ArtifactAnomalies)

	err = p.stage("explain", func() (int, error) {
		attributions, err := p.Explain()
		if err != nil {
			return 0, err
		}
		return len(attributions), nil
	})
	if err != nil {
		return nil, err
	}
	manifest.Artifacts["attribution_npy"] = p.storage.Path(ArtifactAttributionNPY)
	manifest.Artifacts["attribution_csv"] = p.storage.Path(ArtifactAttributionCSV)
	manifest.Artifacts["anomalies_with_attribution"] = p.storage.Path(ArtifactAnomaliesWithAttr)

	manifest.FinishedAt = time.Now().UTC()
	p.metrics.MarkSuccess(manifest.FinishedAt)
	if err := p.metrics.WriteTextfile(p.storage.Path(ArtifactMetrics)); err != nil {
		p.logger.Warn("Failed to write metrics textfile", "error", err)
	} else {
		manifest.Artifacts["metrics"] = p.storage.Path(ArtifactMetrics)
	}
	manifest.Artifacts["manifest"] = p.storage.Path(ArtifactManifest)
	if err := p.storage.SaveManifest(manifest); err != nil {
		return nil, err
	}

	p.logger.Info("Pipeline run completed",
		"featured_rows", manifest.FeaturedRows,
		"anomalies", len(manifest.Detection.Flagged),
		"elapsed", manifest.FinishedAt.Sub(manifest.StartedAt).Round(time.Millisecond),
	)
	return manifest, nil
}

// inverterDateRange finds the first and last calendar dates in the inverter export
func inverterDateRange(path string) (time.Time, time.Time, error) {
	readings, err := LoadInverterReadings(path)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if len(readings) == 0 {
		return time.Time{}, time.Time{}, &DataError{DataType: "inverter", Message: "no readings to derive a weather range from"}
	}
	first, last := dayOf(readings[0].UpdatedAt), dayOf(readings[0].UpdatedAt)
	for _, r := range readings[1:] {
		d := dayOf(r.UpdatedAt)
		if d.Before(first) {
			first = d
		}
		if d.After(last) {
			last = d
		}
	}
	return first, last, nil
}
