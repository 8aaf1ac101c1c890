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
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlagResiduals(t *testing.T) {
	mask, std, threshold := flagResiduals([]float64{0, 0, 0, 0, 10}, 2)
	assert.Equal(t, []bool{false, false, false, false, true}, mask)
	assert.InDelta(t, math.Sqrt(20), std, 1e-9)
	assert.InDelta(t, 2*math.Sqrt(20), threshold, 1e-9)
}

func TestFlagResidualsTooFewRows(t *testing.T) {
	mask, _, _ := flagResiduals([]float64{100}, 2)
	assert.Equal(t, []bool{false}, mask)

	mask, _, _ = flagResiduals(nil, 2)
	assert.Empty(t, mask)
}

func TestFlagResidualsConstant(t *testing.T) {
	// any nonzero residual exceeds a zero threshold
	mask, std, threshold := flagResiduals([]float64{3, 3, 3}, 2)
	assert.Equal(t, 0.0, std)
	assert.Equal(t, 0.0, threshold)
	assert.Equal(t, []bool{true, true, true}, mask)
}

func TestFlagResidualsAllZero(t *testing.T) {
	mask, std, threshold := flagResiduals([]float64{0, 0, 0, 0}, 2)
	assert.Equal(t, 0.0, std)
	assert.Equal(t, 0.0, threshold)
	assert.Equal(t, []bool{false, false, false, false}, mask)
}

func TestStats(t *testing.T) {
	assert.Equal(t, 0.0, calculateMean(nil))
	assert.InDelta(t, 2.5, calculateMean([]float64{1, 2, 3, 4}), 1e-12)
	assert.InDelta(t, 1.0, sampleStdDev([]float64{1, 2, 3}), 1e-12)
	assert.True(t, math.IsNaN(sampleStdDev([]float64{1})))

	assert.InDelta(t, 0.0, rmse([]float64{1, 2}, []float64{1, 2}), 1e-12)
	assert.InDelta(t, math.Sqrt(2.5), rmse([]float64{0, 0}, []float64{1, 2}), 1e-12)

	assert.InDelta(t, 1.0, r2Score([]float64{1, 2, 3}, []float64{1, 2, 3}), 1e-12)
	assert.InDelta(t, 0.0, r2Score([]float64{2, 2, 2}, []float64{1, 2, 3}), 1e-12)
	assert.InDelta(t, 1.0, r2Score([]float64{2, 2}, []float64{2, 2}), 1e-12)

	assert.Equal(t, "3.3%", FormatPercentage(100.0/30))
}

// constantModel predicts the same value for every row
func constantModel(value float64) *Model {
	return &Model{
		FeatureNames: FeatureNames(),
		BaseScore:    value,
	}
}

func featuredWithProduction(values []float64) *Frame {
	f := NewFrame(FeaturedColumns()[1:])
	for i, v := range values {
		row := make([]float64, len(f.Columns))
		row[0] = v
		f.Append(fixtureStart.AddDate(0, 0, i), row)
	}
	return f
}

func TestDetect(t *testing.T) {
	featured := featuredWithProduction([]float64{30, 30, 30, 30, 40})
	result, err := NewDetector(NewDiscardLogger()).Detect(featured, constantModel(30), 2)
	require.NoError(t, err)

	require.Len(t, result.Flagged, 1)
	assert.Equal(t, fixtureStart.AddDate(0, 0, 4), result.Flagged[0].Date)
	assert.InDelta(t, 10.0, result.Flagged[0].Residual, 1e-9)
	assert.InDelta(t, 30.0, result.Flagged[0].Predicted, 1e-9)

	assert.Equal(t, append(FeaturedColumns()[1:], ColResidual), result.Anomalies.Columns)
	require.Equal(t, 1, result.Anomalies.Len())
	assert.InDelta(t, 10.0, result.Anomalies.Value(0, ColResidual), 1e-9)
	assert.Len(t, result.Predictions, 5)
}

func TestDetectThresholdIsExplicit(t *testing.T) {
	featured := featuredWithProduction([]float64{30, 31, 29, 30, 34})
	detector := NewDetector(NewDiscardLogger())

	loose, err := detector.Detect(featured, constantModel(30), 3)
	require.NoError(t, err)
	strict, err := detector.Detect(featured, constantModel(30), 0.5)
	require.NoError(t, err)
	assert.Greater(t, len(strict.Flagged), len(loose.Flagged))

	_, err = detector.Detect(featured, constantModel(30), 0)
	var verr *ValidationError
	assert.True(t, errors.As(err, &verr))
}

func TestDetectMissingColumns(t *testing.T) {
	f := NewFrame([]string{TargetColumn})
	f.Append(fixtureStart, []float64{1})

	_, err := NewDetector(NewDiscardLogger()).Detect(f, constantModel(0), 2)
	var schemaErr *SchemaError
	require.True(t, errors.As(err, &schemaErr))
	assert.Equal(t, "detect", schemaErr.Stage)
	assert.Contains(t, schemaErr.Missing, ColYield)
}
