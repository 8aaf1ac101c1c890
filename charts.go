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
	"encoding/base64"
	"fmt"

	charts "github.com/vicanso/go-charts/v2"
)

// attributionChartFeatures is how many contributions the attribution chart shows
const attributionChartFeatures = 15

// ChartGenerator handles chart generation
type ChartGenerator struct {
	theme string
}

// NewChartGenerator creates a new chart generator
func NewChartGenerator() *ChartGenerator {
	return &ChartGenerator{
		theme: "dark", // Match our HTML report dark theme
	}
}

// GenerateProductionChart plots actual against predicted daily production
func (cg *ChartGenerator) GenerateProductionChart(series *ProductionSeries) (string, error) {
	if series == nil || len(series.Dates) == 0 {
		return "", fmt.Errorf("no production data available")
	}

	labels := make([]string, len(series.Dates))
	for i, date := range series.Dates {
		labels[i] = date.Format("Jan 2")
	}

	p, err := charts.LineRender(
		[][]float64{series.Actual, series.Predicted},
		charts.TitleTextOptionFunc("Daily Production vs Forecast"),
		charts.XAxisDataOptionFunc(labels),
		charts.LegendLabelsOptionFunc([]string{"Actual (kWh)", "Predicted (kWh)"}, charts.PositionRight),
		charts.ThemeOptionFunc(cg.theme),
		charts.WidthOptionFunc(1200),
		charts.HeightOptionFunc(400),
		charts.PaddingOptionFunc(charts.Box{
			Top:    20,
			Right:  20,
			Bottom: 20,
			Left:   20,
		}),
	)
	if err != nil {
		return "", fmt.Errorf("failed to render production chart: %w", err)
	}

	return encodeChart(p)
}

// GenerateAttributionChart draws the largest contributions of one anomaly as horizontal bars
func (cg *ChartGenerator) GenerateAttributionChart(title string, top []FeatureContribution) (string, error) {
	if len(top) == 0 {
		return "", fmt.Errorf("no attribution data available")
	}

	// Bars are drawn bottom up, so reverse to put the largest on top
	labels := make([]string, len(top))
	values := make([]float64, len(top))
	for i, c := range top {
		labels[len(top)-1-i] = c.Feature
		values[len(top)-1-i] = c.Value
	}

	p, err := charts.HorizontalBarRender(
		[][]float64{values},
		charts.TitleTextOptionFunc(title),
		charts.YAxisDataOptionFunc(labels),
		charts.ThemeOptionFunc(cg.theme),
		charts.WidthOptionFunc(1000),
		charts.HeightOptionFunc(60+28*len(top)),
		charts.PaddingOptionFunc(charts.Box{
			Top:    20,
			Right:  40,
			Bottom: 20,
			Left:   20,
		}),
	)
	if err != nil {
		return "", fmt.Errorf("failed to render attribution chart: %w", err)
	}

	return encodeChart(p)
}

// encodeChart renders a chart as base64 PNG for embedding in HTML
func encodeChart(p *charts.Painter) (string, error) {
	buf, err := p.Bytes()
	if err != nil {
		return "", fmt.Errorf("failed to generate chart bytes: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}
