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
)

// InverterReading is one sub-daily inverter export row
type InverterReading struct {
	UpdatedAt   time.Time `json:"updatedAt"`
	Production  float64   `json:"production"`  // kWh
	Consumption float64   `json:"consumption"` // kWh
	GridFeedIn  float64   `json:"gridFeedIn"`  // kWh
	Purchasing  float64   `json:"purchasing"`  // kWh
}

// PlantReading is one plant-level export row
type PlantReading struct {
	UpdatedAt        time.Time `json:"updatedAt"`
	SelfUsedRatio    float64   `json:"selfUsedRatio"`    // percent
	AnticipatedYield float64   `json:"anticipatedYield"` // INR
}

// WeatherDay holds the daily weather observations used as features
type WeatherDay struct {
	Date          time.Time `json:"date"`
	TempMax       float64   `json:"tempMax"`       // °C
	TempMin       float64   `json:"tempMin"`       // °C
	Precipitation float64   `json:"precipitation"` // mm
}

// OpenMeteoResponse is the subset of the archive API response we read
type OpenMeteoResponse struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Timezone  string  `json:"timezone"`
	Daily     struct {
		Time          []string   `json:"time"`
		TempMax       []*float64 `json:"temperature_2m_max"`
		TempMin       []*float64 `json:"temperature_2m_min"`
		Precipitation []*float64 `json:"precipitation_sum"`
	} `json:"daily"`
}

// SplitBounds records which dates fell into a chronological split
type SplitBounds struct {
	Rows  int       `json:"rows"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// TrainingMetrics summarises a training run
type TrainingMetrics struct {
	Train         SplitBounds `json:"train"`
	Validation    SplitBounds `json:"validation"`
	Test          SplitBounds `json:"test"`
	RoundsTrained int         `json:"roundsTrained"`
	BestIteration int         `json:"bestIteration"`
	ValidRMSE     float64     `json:"validRmse"`
	TestRMSE      float64     `json:"testRmse"`
	TestR2        float64     `json:"testR2"`
	Baseline      *Baseline   `json:"baseline,omitempty"`
}

// Baseline holds the linear reference model scores on the test split
type Baseline struct {
	Features []string `json:"features"`
	TestRMSE float64  `json:"testRmse"`
	TestR2   float64  `json:"testR2"`
	TrainR2  float64  `json:"trainR2"`
}

// Anomaly is a flagged day with its forecast
type Anomaly struct {
	Date      time.Time `json:"date"`
	Actual    float64   `json:"actual"`
	Predicted float64   `json:"predicted"`
	Residual  float64   `json:"residual"`
}

// DetectionResult is the output of one anomaly detection call
type DetectionResult struct {
	Anomalies    *Frame    `json:"-"`
	Flagged      []Anomaly `json:"flagged"`
	Predictions  []float64 `json:"-"`
	ThresholdStd float64   `json:"thresholdStd"`
	ResidualStd  float64   `json:"residualStd"`
	Threshold    float64   `json:"threshold"`
}

// Attribution explains one prediction as a sum of feature contributions
type Attribution struct {
	Date          time.Time `json:"date"`
	BaseValue     float64   `json:"baseValue"`
	Prediction    float64   `json:"prediction"`
	Contributions []float64 `json:"contributions"`
}

// FeatureContribution pairs a feature with its signed contribution
type FeatureContribution struct {
	Feature string  `json:"feature"`
	Value   float64 `json:"value"`
}

// RunManifest describes one pipeline run and the artifacts it produced
type RunManifest struct {
	RunID        string            `json:"runId"`
	Version      string            `json:"version"`
	StartedAt    time.Time         `json:"startedAt"`
	FinishedAt   time.Time         `json:"finishedAt"`
	Inputs       map[string]string `json:"inputs"`
	WeatherStart string            `json:"weatherStart,omitempty"`
	WeatherEnd   string            `json:"weatherEnd,omitempty"`
	FeaturedRows int               `json:"featuredRows"`
	Metrics      *TrainingMetrics  `json:"metrics,omitempty"`
	Detection    *DetectionResult  `json:"detection,omitempty"`
	Artifacts    map[string]string `json:"artifacts"`
}
