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
	"fmt"
	"math"

	"github.com/sajari/regression"
)

// baselineFeatures is the small weather and lag subset the linear reference model uses
var baselineFeatures = []string{
	ColTempMax,
	ColTempMin,
	ColPrecip,
	ColDaysSince,
	"prod_lag_1",
	"prod_lag_7",
}

// fitBaseline fits ordinary least squares on the training rows and scores the test rows
func fitBaseline(featured *Frame, split chronoSplit) (*Baseline, error) {
	X, err := featured.Matrix("train", baselineFeatures)
	if err != nil {
		return nil, err
	}
	y := featured.Column(TargetColumn)

	trainEnd := split.validStart
	if trainEnd <= len(baselineFeatures)+1 {
		return nil, &DataError{
			DataType: "baseline",
			Message:  fmt.Sprintf("%d training rows cannot fit %d coefficients", trainEnd, len(baselineFeatures)+1),
		}
	}

	var r regression.Regression
	r.SetObserved(TargetColumn)
	for i, name := range baselineFeatures {
		r.SetVar(i, name)
	}
	for i := 0; i < trainEnd; i++ {
		r.Train(regression.DataPoint(y[i], X[i]))
	}
	if err := r.Run(); err != nil {
		return nil, &DataError{DataType: "baseline", Message: err.Error()}
	}

	testY := y[split.testStart:]
	pred := make([]float64, len(testY))
	for i := range testY {
		p, err := r.Predict(X[split.testStart+i])
		if err != nil {
			return nil, &DataError{DataType: "baseline", Message: err.Error()}
		}
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return nil, &DataError{DataType: "baseline", Message: "design matrix is singular"}
		}
		pred[i] = p
	}

	return &Baseline{
		Features: baselineFeatures,
		TestRMSE: rmse(testY, pred),
		TestR2:   r2Score(testY, pred),
		TrainR2:  r.R2,
	}, nil
}
