// Copyright 2025 Matthew Gall <me@matthewgall.dev>
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"math"
)

// Detector flags days whose production departs from the forecast
type Detector struct {
	logger *Logger
}

// NewDetector creates a new anomaly detector
func NewDetector(logger *Logger) *Detector {
	return &Detector{logger: logger.WithComponent("detector")}
}

// Detect scores every featured row with the model and keeps the rows whose
// absolute residual exceeds thresholdStd sample standard deviations.
func (d *Detector) Detect(featured *Frame, model *Model, thresholdStd float64) (*DetectionResult, error) {
	if thresholdStd <= 0 {
		return nil, &ValidationError{
			Field:   "threshold_std",
			Value:   fmt.Sprintf("%g", thresholdStd),
			Message: "must be greater than zero",
		}
	}
	if err := RequireColumns("detect", ArtifactFeatured, featured.Columns, append([]string{TargetColumn}, model.FeatureNames...)...); err != nil {
		return nil, err
	}

	X, err := featured.Matrix("detect", model.FeatureNames)
	if err != nil {
		return nil, err
	}
	actual := featured.Column(TargetColumn)
	predicted := model.PredictAll(X)

	residuals := make([]float64, len(actual))
	for i := range actual {
		residuals[i] = actual[i] - predicted[i]
	}

	mask, std, threshold := flagResiduals(residuals, thresholdStd)
	d.logger.Info("Residual statistics",
		"rows", len(residuals),
		"residual_std", std,
		"threshold", threshold,
	)

	withResidual := featured.WithColumn(ColResidual, residuals)
	result := &DetectionResult{
		Anomalies:    NewFrame(withResidual.Columns),
		Predictions:  predicted,
		ThresholdStd: thresholdStd,
		ResidualStd:  std,
		Threshold:    threshold,
	}
	for i, flagged := range mask {
		if !flagged {
			continue
		}
		date := withResidual.Dates[i]
		d.logger.LogAnomalyDetected(date.Format(DateLayout), residuals[i], threshold)
		result.Anomalies.Append(date, withResidual.Rows[i])
		result.Flagged = append(result.Flagged, Anomaly{
			Date:      date,
			Actual:    actual[i],
			Predicted: predicted[i],
			Residual:  residuals[i],
		})
	}

	d.logger.Info("Detection completed", "anomalies", len(result.Flagged))
	return result, nil
}

// flagResiduals marks |r| > k*std. With fewer than two residuals nothing is flagged.
func flagResiduals(residuals []float64, k float64) ([]bool, float64, float64) {
	mask := make([]bool, len(residuals))
	if len(residuals) < 2 {
		return mask, 0, 0
	}
	std := sampleStdDev(residuals)
	threshold := k * std
	for i, r := range residuals {
		mask[i] = math.Abs(r) > threshold
	}
	return mask, std, threshold
}

// calculateMean calculates the mean of a slice of float64 values
func calculateMean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	sum := 0.0
	for _, v := range values {
		sum += v
	}

	return sum / float64(len(values))
}

// sampleStdDev is the standard deviation with one degree of freedom removed
func sampleStdDev(values []float64) float64 {
	if len(values) < 2 {
		return math.NaN()
	}

	mean := calculateMean(values)
	sumSquaredDiff := 0.0
	for _, v := range values {
		diff := v - mean
		sumSquaredDiff += diff * diff
	}

	return math.Sqrt(sumSquaredDiff / float64(len(values)-1))
}

// rmse is the root mean squared error of predicted against actual
func rmse(actual, predicted []float64) float64 {
	if len(actual) == 0 {
		return math.NaN()
	}
	sum := 0.0
	for i := range actual {
		diff := actual[i] - predicted[i]
		sum += diff * diff
	}
	return math.Sqrt(sum / float64(len(actual)))
}

// r2Score is the coefficient of determination. A constant target scores 1 on
// an exact fit and 0 otherwise.
func r2Score(actual, predicted []float64) float64 {
	if len(actual) == 0 {
		return math.NaN()
	}
	mean := calculateMean(actual)
	var ssRes, ssTot float64
	for i := range actual {
		ssRes += (actual[i] - predicted[i]) * (actual[i] - predicted[i])
		ssTot += (actual[i] - mean) * (actual[i] - mean)
	}
	if ssTot == 0 {
		if ssRes == 0 {
			return 1
		}
		return 0
	}
	return 1 - ssRes/ssTot
}

// FormatKWh formats an energy value for reports
func FormatKWh(value float64) string {
	return fmt.Sprintf("%.2f kWh", value)
}

// FormatPercentage formats a value as a percentage
func FormatPercentage(value float64) string {
	return fmt.Sprintf("%.1f%%", value)
}
