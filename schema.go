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

import "fmt"

// Column names shared by every stage
const (
	ColDate        = "date"
	ColTimestamp   = "Updated Time"
	ColProduction  = "Production(kWh)"
	ColConsumption = "Consumption(kWh)"
	ColGridFeedIn  = "Grid Feed-in(kWh)"
	ColPurchasing  = "Electricity Purchasing(kWh)"
	ColSelfUsed    = "Self-used Ratio(%)"
	ColYield       = "Anticipated Yield(INR)"
	ColTempMax     = "temp_max_C"
	ColTempMin     = "temp_min_C"
	ColPrecip      = "precipitation_mm"
	ColResidual    = "residual"
	ColTempRange   = "temp_range"
	ColRainFlag    = "rain_flag"
	ColDaysSince   = "days_since_rain"
	ColDayOfWeek   = "day_of_week"
	ColMonth       = "month"
	ColBaseValue   = "base_value"
	ColPrediction  = "prediction"
)

// TargetColumn is the value the forecast model predicts
const TargetColumn = ColProduction

var (
	// LagOffsets are the day offsets used for lagged features
	LagOffsets = []int{1, 2, 3, 7}
	// RollingWindows are the trailing window sizes for rolling statistics
	RollingWindows = []int{3, 7}
)

// Raw column sets per input source
var (
	InverterColumns = []string{ColProduction, ColConsumption, ColGridFeedIn, ColPurchasing}
	PlantColumns    = []string{ColSelfUsed, ColYield}
	WeatherColumns  = []string{ColTempMax, ColTempMin, ColPrecip}
)

// lagSources maps a lag feature prefix to the column it shifts
var lagSources = []struct {
	Prefix string
	Source string
}{
	{"prod_lag", ColProduction},
	{"cons_lag", ColConsumption},
	{"temp_max_lag", ColTempMax},
	{"temp_min_lag", ColTempMin},
	{"precip_lag", ColPrecip},
	{"rain_flag_lag", ColRainFlag},
}

// rollingSources maps a rolling feature prefix to its column and statistic
var rollingSources = []struct {
	Prefix string
	Source string
	Std    bool
}{
	{"prod_rollmean", ColProduction, false},
	{"prod_rollstd", ColProduction, true},
	{"tempmax_rollmean", ColTempMax, false},
	{"tempmax_rollstd", ColTempMax, true},
}

// FeatureSchema is the ordered feature vector the model is trained and queried with
var FeatureSchema = buildFeatureSchema()

func buildFeatureSchema() []string {
	names := []string{
		ColSelfUsed,
		ColYield,
		ColConsumption,
		ColGridFeedIn,
		ColPurchasing,
		ColTempMax,
		ColTempMin,
		ColPrecip,
		ColTempRange,
		ColRainFlag,
		ColDaysSince,
		ColDayOfWeek,
		ColMonth,
		"day_of_week_sin",
		"day_of_week_cos",
		"month_sin",
		"month_cos",
	}
	for _, lag := range LagOffsets {
		for _, src := range lagSources {
			names = append(names, lagName(src.Prefix, lag))
		}
	}
	for _, window := range RollingWindows {
		for _, src := range rollingSources {
			names = append(names, rollingName(src.Prefix, window))
		}
	}
	return names
}

func lagName(prefix string, lag int) string {
	return fmt.Sprintf("%s_%d", prefix, lag)
}

func rollingName(prefix string, window int) string {
	return fmt.Sprintf("%s_%d", prefix, window)
}

// FeatureNames returns the schema feature names in model order
func FeatureNames() []string {
	return append([]string(nil), FeatureSchema...)
}

// FeaturedColumns is the column layout of the featured table
func FeaturedColumns() []string {
	return append([]string{ColDate, TargetColumn}, FeatureNames()...)
}

// RequireColumns fails with a SchemaError listing every wanted column absent from have
func RequireColumns(stage, source string, have []string, want ...string) error {
	present := make(map[string]bool, len(have))
	for _, h := range have {
		present[h] = true
	}

	var missing []string
	for _, w := range want {
		if !present[w] {
			missing = append(missing, w)
		}
	}
	if len(missing) > 0 {
		return &SchemaError{Stage: stage, Source: source, Missing: missing}
	}
	return nil
}
