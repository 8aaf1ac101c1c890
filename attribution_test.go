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
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// yieldModel splits once on the anticipated yield feature
func yieldModel(t *testing.T) *Model {
	t.Helper()
	field := -1
	for i, name := range FeatureNames() {
		if name == ColYield {
			field = i
		}
	}
	require.GreaterOrEqual(t, field, 0)

	model := constantModel(30)
	model.Trees = []Tree{{Nodes: []Node{
		{Feature: field, Threshold: 100, Left: 1, Right: 2, Cover: 4},
		{Feature: -1, Value: -2, Cover: 3},
		{Feature: -1, Value: 6, Cover: 1},
	}}}
	return model
}

func TestExplain(t *testing.T) {
	model := yieldModel(t)
	featured := featuredWithProduction([]float64{28, 28, 28, 36})
	yieldIdx, _ := featured.ColumnIndex(ColYield)
	featured.Rows[3][yieldIdx] = 500

	anomalies := NewFrame(featured.Columns)
	anomalies.Append(featured.Dates[3], featured.Rows[3])

	attrs, err := NewExplainer(NewDiscardLogger()).Explain(anomalies, featured, model)
	require.NoError(t, err)
	require.Len(t, attrs, 1)

	a := attrs[0]
	assert.Equal(t, featured.Dates[3], a.Date)
	assert.InDelta(t, 30.0, a.BaseValue, 1e-12)
	assert.InDelta(t, 36.0, a.Prediction, 1e-12)
	require.Len(t, a.Contributions, len(FeatureSchema))

	top := TopContributions(model.FeatureNames, a.Contributions, 1)
	assert.Equal(t, ColYield, top[0].Feature)
	assert.InDelta(t, 6.0, top[0].Value, 1e-12)
}

func TestExplainUnknownDate(t *testing.T) {
	featured := featuredWithProduction([]float64{28, 28})
	anomalies := NewFrame(featured.Columns)
	anomalies.Append(fixtureStart.AddDate(1, 0, 0), featured.Rows[0])

	_, err := NewExplainer(NewDiscardLogger()).Explain(anomalies, featured, yieldModel(t))
	var dataErr *DataError
	require.True(t, errors.As(err, &dataErr), "got %v", err)
	assert.Contains(t, dataErr.Message, "2025-01-01")
}

func TestExplainNoAnomalies(t *testing.T) {
	featured := featuredWithProduction([]float64{28, 28})
	attrs, err := NewExplainer(NewDiscardLogger()).Explain(NewFrame(featured.Columns), featured, yieldModel(t))
	require.NoError(t, err)
	assert.Empty(t, attrs)
	assert.Empty(t, AttributionMatrix(attrs))
}

func TestAttributionCSVRoundTrip(t *testing.T) {
	features := []string{"a", "b"}
	attrs := []Attribution{
		{Date: fixtureStart, Contributions: []float64{0.5, -1.25}},
		{Date: fixtureStart.AddDate(0, 0, 3), Contributions: []float64{0, 2}},
	}

	var buf bytes.Buffer
	require.NoError(t, writeAttributionCSV(&buf, features, attrs))
	assert.Equal(t, "a,b,date\n0.5,-1.25,2024-01-01\n0,2,2024-01-04\n", buf.String())

	path := filepath.Join(t.TempDir(), ArtifactAttributionCSV)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	gotFeatures, got, err := readAttributionCSV(path)
	require.NoError(t, err)
	assert.Equal(t, features, gotFeatures)
	assert.Equal(t, attrs, got)
}

func TestAnomaliesWithAttribution(t *testing.T) {
	anomalies := NewFrame([]string{ColProduction, ColResidual})
	anomalies.Append(fixtureStart, []float64{40, 10})

	out := AnomaliesWithAttribution(anomalies, []Attribution{{BaseValue: 29, Prediction: 30}})
	assert.Equal(t, []string{ColProduction, ColResidual, ColBaseValue, ColPrediction}, out.Columns)
	assert.Equal(t, []float64{40, 10, 29, 30}, out.Rows[0])
}

func TestTopContributions(t *testing.T) {
	top := TopContributions([]string{"a", "b", "c", "d"}, []float64{0.1, -3, 2, 0}, 2)
	require.Len(t, top, 2)
	assert.Equal(t, FeatureContribution{Feature: "b", Value: -3}, top[0])
	assert.Equal(t, FeatureContribution{Feature: "c", Value: 2}, top[1])

	assert.Len(t, TopContributions([]string{"a"}, []float64{1}, 15), 1)
}
