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
	"fmt"
	"math"
	"time"
)

// minTrainingRows is the smallest featured table the forecaster accepts
const minTrainingRows = 5

// Forecaster trains the production model on the featured table
type Forecaster struct {
	params TrainingConfig
	logger *Logger
}

// NewForecaster creates a new forecaster
func NewForecaster(params TrainingConfig, logger *Logger) *Forecaster {
	return &Forecaster{params: params, logger: logger.WithComponent("forecast")}
}

// chronoSplit holds row ranges [0, validStart) train, [validStart, testStart) validation, [testStart, n) test
type chronoSplit struct {
	n          int
	validStart int
	testStart  int
}

// splitChronologically keeps time order: the tail is the test set and the
// tail of the remainder is the validation set.
func splitChronologically(n int, testFraction, validFraction float64) chronoSplit {
	nTest := int(math.Ceil(float64(n) * testFraction))
	if nTest >= n {
		nTest = n - 1
	}
	rest := n - nTest
	nValid := int(math.Floor(float64(rest) * validFraction))
	if nValid >= rest {
		nValid = rest - 1
	}
	return chronoSplit{n: n, validStart: rest - nValid, testStart: rest}
}

func (s chronoSplit) bounds(dates []time.Time, from, to int) SplitBounds {
	if from >= to {
		return SplitBounds{}
	}
	return SplitBounds{Rows: to - from, Start: dates[from], End: dates[to-1]}
}

// Train fits the model on the featured table and evaluates it on the held-out tail
func (f *Forecaster) Train(ctx context.Context, featured *Frame) (*Model, *TrainingMetrics, error) {
	if err := RequireColumns("train", ArtifactFeatured, featured.Columns, append([]string{TargetColumn}, FeatureNames()...)...); err != nil {
		return nil, nil, err
	}
	n := featured.Len()
	if n < minTrainingRows {
		return nil, nil, &DataError{
			DataType: "featured table",
			Message:  fmt.Sprintf("%d rows, at least %d are required to train", n, minTrainingRows),
		}
	}

	X, err := featured.Matrix("train", FeatureNames())
	if err != nil {
		return nil, nil, err
	}
	y := featured.Column(TargetColumn)

	split := splitChronologically(n, f.params.TestFraction, f.params.ValidationFraction)
	trainX, trainY := X[:split.validStart], y[:split.validStart]
	validX, validY := X[split.validStart:split.testStart], y[split.validStart:split.testStart]
	testX, testY := X[split.testStart:], y[split.testStart:]

	metrics := &TrainingMetrics{
		Train:      split.bounds(featured.Dates, 0, split.validStart),
		Validation: split.bounds(featured.Dates, split.validStart, split.testStart),
		Test:       split.bounds(featured.Dates, split.testStart, n),
	}
	if len(validY) == 0 {
		f.logger.Warn("No validation rows, early stopping on the test split", "rows", n)
		validX, validY = testX, testY
		metrics.Validation = metrics.Test
	}

	f.logger.Info("Training forecast model",
		"train_rows", len(trainY),
		"validation_rows", len(validY),
		"test_rows", len(testY),
		"features", len(FeatureSchema),
	)

	fit, err := NewBooster(f.params, f.logger).Fit(ctx, trainX, trainY, validX, validY)
	if err != nil {
		return nil, nil, err
	}
	model := fit.Model
	model.FeatureNames = FeatureNames()
	model.Target = TargetColumn
	model.TrainedAt = time.Now().UTC()
	model.Version = GetVersion()

	testPred := model.PredictAll(testX)
	metrics.RoundsTrained = fit.RoundsTrained
	metrics.BestIteration = fit.BestIteration
	metrics.ValidRMSE = rmse(validY, model.PredictAll(validX))
	metrics.TestRMSE = rmse(testY, testPred)
	metrics.TestR2 = r2Score(testY, testPred)

	f.logger.Info("Model trained",
		"rounds", fit.RoundsTrained,
		"best_iteration", fit.BestIteration,
		"test_rmse", metrics.TestRMSE,
		"test_r2", metrics.TestR2,
	)

	baseline, err := fitBaseline(featured, split)
	if err != nil {
		f.logger.Warn("Skipping linear baseline", "error", err)
	} else {
		metrics.Baseline = baseline
		f.logger.Info("Linear baseline", "test_rmse", baseline.TestRMSE, "test_r2", baseline.TestR2)
	}

	return model, metrics, nil
}
