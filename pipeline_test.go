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
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// spikeDays is a month of ordinary production ending in one day far above the rest
func spikeDays() []fixtureDay {
	days := syntheticDays(30, 42)
	days[len(days)-1].Production = 200
	return days
}

func newTestPipeline(t *testing.T, dir string) (*Pipeline, *Config) {
	t.Helper()
	config := testConfig(dir)
	storage := newTestStorage(t, config.OutputDir)
	return NewPipeline(config, storage, NewDiscardLogger()), config
}

func TestRunFlagsAndExplainsSpike(t *testing.T) {
	dir := t.TempDir()
	days := spikeDays()
	in := writeFixtureInputs(t, dir, days)
	p, config := newTestPipeline(t, dir)

	manifest, err := p.Run(context.Background(), RunOptions{
		InverterPath: in.Inverter,
		PlantPath:    in.Plant,
		WeatherPath:  in.Weather,
		ThresholdStd: 2,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, manifest.RunID)
	assert.Equal(t, 30, manifest.FeaturedRows)
	assert.Equal(t, 20, manifest.Metrics.Train.Rows)
	assert.Equal(t, 4, manifest.Metrics.Validation.Rows)
	assert.Equal(t, 6, manifest.Metrics.Test.Rows)

	spike := days[len(days)-1].Date
	require.Len(t, manifest.Detection.Flagged, 1)
	assert.Equal(t, spike, manifest.Detection.Flagged[0].Date)
	assert.Greater(t, manifest.Detection.Flagged[0].Residual, manifest.Detection.Threshold)

	for _, name := range []string{
		ArtifactFeatured, ArtifactAnomalies, ArtifactAttributionNPY,
		ArtifactAttributionCSV, ArtifactAnomaliesWithAttr, ArtifactManifest, ArtifactMetrics,
	} {
		assert.FileExists(t, filepath.Join(config.OutputDir, name))
	}
	assert.FileExists(t, config.ModelPath)

	matrix, err := p.storage.LoadMatrix(ArtifactAttributionNPY)
	require.NoError(t, err)
	require.Len(t, matrix, 1)
	require.Len(t, matrix[0], len(FeatureSchema))

	withAttr, err := p.storage.LoadFrame(ArtifactAnomaliesWithAttr, "test", ColBaseValue, ColPrediction, ColResidual)
	require.NoError(t, err)
	require.Equal(t, 1, withAttr.Len())
	sum := withAttr.Value(0, ColBaseValue)
	for _, v := range matrix[0] {
		sum += v
	}
	assert.InDelta(t, withAttr.Value(0, ColPrediction), sum, 1e-6, "contributions add up to the prediction")
	assert.InDelta(t, 200-withAttr.Value(0, ColResidual), withAttr.Value(0, ColPrediction), 1e-6)

	// the anticipated yield tracks production, so it explains the spike
	top := TopContributions(FeatureNames(), matrix[0], 1)
	require.Len(t, top, 1)
	assert.Equal(t, ColYield, top[0].Feature)

	stored, err := p.storage.LoadManifest()
	require.NoError(t, err)
	assert.Equal(t, manifest.RunID, stored.RunID)

	metrics, err := os.ReadFile(filepath.Join(config.OutputDir, ArtifactMetrics))
	require.NoError(t, err)
	assert.Contains(t, string(metrics), "solarcheck_detector_anomalies 1")
}

func TestRunFetchesWeatherForInverterRange(t *testing.T) {
	dir := t.TempDir()
	days := syntheticDays(30, 9)
	in := writeFixtureInputs(t, dir, days)
	p, _ := newTestPipeline(t, dir)

	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		start, _ := time.Parse(DateLayout, r.URL.Query().Get("start_date"))
		end, _ := time.Parse(DateLayout, r.URL.Query().Get("end_date"))

		var resp OpenMeteoResponse
		for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
			tmax, tmin, precip := 31.0, 21.0, 0.0
			resp.Daily.Time = append(resp.Daily.Time, d.Format(DateLayout))
			resp.Daily.TempMax = append(resp.Daily.TempMax, &tmax)
			resp.Daily.TempMin = append(resp.Daily.TempMin, &tmin)
			resp.Daily.Precipitation = append(resp.Daily.Precipitation, &precip)
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()
	p.weather.baseURL = server.URL

	opts := RunOptions{InverterPath: in.Inverter, PlantPath: in.Plant}
	manifest, err := p.Run(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-01", manifest.WeatherStart)
	assert.Equal(t, "2024-01-30", manifest.WeatherEnd)
	assert.Equal(t, 30, manifest.FeaturedRows)
	assert.Equal(t, p.storage.Path(ArtifactWeather), manifest.Inputs["weather"])

	// the second run is served from the weather cache
	_, err = p.Run(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, 1, requests)
}

func TestRunMissingInput(t *testing.T) {
	dir := t.TempDir()
	in := writeFixtureInputs(t, dir, syntheticDays(10, 1))
	p, _ := newTestPipeline(t, dir)

	_, err := p.Run(context.Background(), RunOptions{
		InverterPath: in.Inverter,
		PlantPath:    filepath.Join(dir, "absent.csv"),
		WeatherPath:  in.Weather,
	})
	var missing *MissingInputError
	require.True(t, errors.As(err, &missing), "got %v", err)
	assert.Equal(t, "plant", missing.Input)
}

func TestStagesRequirePreviousArtifacts(t *testing.T) {
	p, _ := newTestPipeline(t, t.TempDir())
	var missing *MissingInputError

	_, _, err := p.Train(context.Background())
	assert.True(t, errors.As(err, &missing), "got %v", err)

	_, err = p.Explain()
	assert.True(t, errors.As(err, &missing), "got %v", err)
}

func TestReportFromRunArtifacts(t *testing.T) {
	dir := t.TempDir()
	days := spikeDays()
	in := writeFixtureInputs(t, dir, days)
	p, config := newTestPipeline(t, dir)
	_, err := p.Run(context.Background(), RunOptions{
		InverterPath: in.Inverter,
		PlantPath:    in.Plant,
		WeatherPath:  in.Weather,
		ThresholdStd: 2,
	})
	require.NoError(t, err)

	data, err := LoadReportData(p.storage, config.ModelPath, ReportOptions{Anomaly: -1})
	require.NoError(t, err)
	assert.Len(t, data.Series.Dates, 30)
	require.Len(t, data.Anomalies, 1)
	assert.Equal(t, []int{0}, data.Selected)
	assert.InDelta(t, 200.0, data.Anomalies[0].Actual, 1e-9)
	assert.Len(t, data.Anomalies[0].Top, reportTopFeatures)

	markdown := filepath.Join(dir, "report.md")
	require.NoError(t, NewReporter(NewDiscardLogger()).GenerateReport(data, markdown))
	text, err := os.ReadFile(markdown)
	require.NoError(t, err)
	assert.Contains(t, string(text), "# Solar Production Anomaly Report")
	assert.Contains(t, string(text), "## ⚠️ Anomaly Details")
	assert.Contains(t, string(text), days[len(days)-1].Date.Format(DateLayout))
	assert.Contains(t, string(text), "| Anomaly Rate | 3.3% of 30 days |")

	html := filepath.Join(dir, "report.html")
	require.NoError(t, NewHTMLReporter(NewDiscardLogger()).GenerateHTMLReport(data, html))
	page, err := os.ReadFile(html)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(strings.TrimSpace(string(page)), "<!DOCTYPE html>"))
	assert.Contains(t, string(page), "<h2>🔍 Anomalies</h2>")

	// a window that ends before the spike holds no anomalies
	data, err = LoadReportData(p.storage, config.ModelPath, ReportOptions{
		To:      days[len(days)-2].Date,
		Anomaly: -1,
	})
	require.NoError(t, err)
	assert.Empty(t, data.Anomalies)
	assert.Len(t, data.Series.Dates, 29)

	_, err = LoadReportData(p.storage, config.ModelPath, ReportOptions{Anomaly: 3})
	var validationErr *ValidationError
	assert.True(t, errors.As(err, &validationErr), "got %v", err)
}

func TestReportRejectsMismatchedAttributionWidth(t *testing.T) {
	dir := t.TempDir()
	in := writeFixtureInputs(t, dir, spikeDays())
	p, config := newTestPipeline(t, dir)
	_, err := p.Run(context.Background(), RunOptions{
		InverterPath: in.Inverter,
		PlantPath:    in.Plant,
		WeatherPath:  in.Weather,
		ThresholdStd: 2,
	})
	require.NoError(t, err)

	// one value per anomaly row, far fewer than the named features
	require.NoError(t, p.storage.SaveMatrix(ArtifactAttributionNPY, [][]float64{{1}}, 1))

	_, err = LoadReportData(p.storage, config.ModelPath, ReportOptions{Anomaly: -1})
	var dataErr *DataError
	require.True(t, errors.As(err, &dataErr), "got %v", err)
	assert.Contains(t, dataErr.Message, "has 1 values")
}

func TestInverterDateRange(t *testing.T) {
	dir := t.TempDir()
	in := writeFixtureInputs(t, dir, syntheticDays(5, 1))

	first, last, err := inverterDateRange(in.Inverter)
	require.NoError(t, err)
	assert.Equal(t, fixtureStart, first)
	assert.Equal(t, fixtureStart.AddDate(0, 0, 4), last)
}
