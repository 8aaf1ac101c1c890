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
	"math"
	"sort"
	"time"
)

// daysSinceRainSeed is the counter value before the first observed day
const daysSinceRainSeed = 1000

// RawSources holds the three inputs of the feature builder
type RawSources struct {
	Inverter []InverterReading
	Plant    []PlantReading
	Weather  *Frame
}

// FeatureBuilder joins the raw sources into one featured row per date
type FeatureBuilder struct {
	logger *Logger
}

// NewFeatureBuilder creates a new feature builder
func NewFeatureBuilder(logger *Logger) *FeatureBuilder {
	return &FeatureBuilder{logger: logger.WithComponent("features")}
}

// LoadSources reads the three raw input files
func (b *FeatureBuilder) LoadSources(inverterPath, plantPath, weatherPath string) (*RawSources, error) {
	inverter, err := LoadInverterReadings(inverterPath)
	if err != nil {
		return nil, err
	}
	b.logger.LogDataLoaded("inverter", len(inverter))

	plant, err := LoadPlantReadings(plantPath)
	if err != nil {
		return nil, err
	}
	b.logger.LogDataLoaded("plant", len(plant))

	weather, err := LoadWeatherTable(weatherPath)
	if err != nil {
		return nil, err
	}
	b.logger.LogDataLoaded("weather", weather.Len())

	return &RawSources{Inverter: inverter, Plant: plant, Weather: weather}, nil
}

// Build joins the sources on date, derives the feature set and drops incomplete rows
func (b *FeatureBuilder) Build(src *RawSources) (*Frame, error) {
	joined, err := joinSources(src)
	if err != nil {
		return nil, err
	}
	b.logger.Info("Joined sources", "dates", joined.Len())

	featured := deriveFeatures(joined)
	fillForward(featured)
	fillBackward(featured)
	complete := dropIncomplete(featured)

	if dropped := featured.Len() - complete.Len(); dropped > 0 {
		b.logger.Warn("Dropped rows with missing values", "rows", dropped)
	}
	if complete.Len() == 0 {
		return nil, &JoinEmptyError{
			Sources: []string{"inverter", "plant", "weather"},
			Reason:  "every joined row still had missing values after filling",
		}
	}
	return complete, nil
}

// joinColumns is the layout of the joined, not yet featured, table
var joinColumns = []string{
	ColProduction, ColConsumption, ColGridFeedIn, ColPurchasing,
	ColSelfUsed, ColYield,
	ColTempMax, ColTempMin, ColPrecip,
}

// joinSources inner-joins daily inverter sums, daily plant values and weather on date
func joinSources(src *RawSources) (*Frame, error) {
	inverter := dailyInverter(src.Inverter)
	plant := dailyPlant(src.Plant)

	weather := make(map[string][]float64, src.Weather.Len())
	w := make([]int, len(WeatherColumns))
	for i, col := range WeatherColumns {
		w[i], _ = src.Weather.ColumnIndex(col)
	}
	for r, d := range src.Weather.Dates {
		row := src.Weather.Rows[r]
		weather[d.Format(DateLayout)] = []float64{row[w[0]], row[w[1]], row[w[2]]}
	}

	var keys []string
	for key := range plant {
		if _, ok := inverter[key]; !ok {
			continue
		}
		if _, ok := weather[key]; !ok {
			continue
		}
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		return nil, &JoinEmptyError{
			Sources: []string{"inverter", "plant", "weather"},
			Reason:  "no date is present in all three sources",
		}
	}
	sort.Strings(keys)

	joined := NewFrame(joinColumns)
	for _, key := range keys {
		date, _ := time.Parse(DateLayout, key)
		row := make([]float64, 0, len(joinColumns))
		row = append(row, inverter[key]...)
		row = append(row, plant[key]...)
		row = append(row, weather[key]...)
		joined.Append(date, row)
	}
	return joined, nil
}

// deriveFeatures lays out the featured table from the joined table
func deriveFeatures(joined *Frame) *Frame {
	n := joined.Len()
	cols := make(map[string][]float64, len(FeatureSchema)+1)
	for _, c := range joinColumns {
		cols[c] = joined.Column(c)
	}

	tmax, tmin, precip := cols[ColTempMax], cols[ColTempMin], cols[ColPrecip]
	tempRange := make([]float64, n)
	rainFlag := make([]float64, n)
	for i := 0; i < n; i++ {
		tempRange[i] = tmax[i] - tmin[i]
		if precip[i] > 0 {
			rainFlag[i] = 1
		}
	}
	cols[ColTempRange] = tempRange
	cols[ColRainFlag] = rainFlag
	cols[ColDaysSince] = daysSinceRain(rainFlag)

	dow := make([]float64, n)
	month := make([]float64, n)
	for i, d := range joined.Dates {
		dow[i] = float64(isoWeekday(d))
		month[i] = float64(d.Month())
	}
	cols[ColDayOfWeek] = dow
	cols[ColMonth] = month
	cols["day_of_week_sin"], cols["day_of_week_cos"] = cyclical(dow, 7)
	cols["month_sin"], cols["month_cos"] = cyclical(month, 12)

	for _, lag := range LagOffsets {
		for _, src := range lagSources {
			cols[lagName(src.Prefix, lag)] = shift(cols[src.Source], lag)
		}
	}
	for _, window := range RollingWindows {
		for _, src := range rollingSources {
			if src.Std {
				cols[rollingName(src.Prefix, window)] = rollingStd(cols[src.Source], window)
			} else {
				cols[rollingName(src.Prefix, window)] = rollingMean(cols[src.Source], window)
			}
		}
	}

	layout := FeaturedColumns()[1:]
	featured := NewFrame(layout)
	for i := 0; i < n; i++ {
		row := make([]float64, len(layout))
		for c, name := range layout {
			row[c] = cols[name][i]
		}
		featured.Append(joined.Dates[i], row)
	}
	return featured
}

// isoWeekday numbers Monday as 0 through Sunday as 6
func isoWeekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

// daysSinceRain resets to 0 on rain days and otherwise counts up from the previous day
func daysSinceRain(rainFlag []float64) []float64 {
	out := make([]float64, len(rainFlag))
	count := daysSinceRainSeed
	for i, rain := range rainFlag {
		if rain == 1 {
			count = 0
		} else {
			count++
		}
		out[i] = float64(count)
	}
	return out
}

// cyclical maps a periodic value onto the unit circle
func cyclical(values []float64, period float64) ([]float64, []float64) {
	sin := make([]float64, len(values))
	cos := make([]float64, len(values))
	for i, v := range values {
		angle := 2 * math.Pi * v / period
		sin[i] = math.Sin(angle)
		cos[i] = math.Cos(angle)
	}
	return sin, cos
}

// shift moves a series k positions later, leaving the first k values missing
func shift(values []float64, k int) []float64 {
	out := make([]float64, len(values))
	for i := range out {
		if i < k {
			out[i] = math.NaN()
		} else {
			out[i] = values[i-k]
		}
	}
	return out
}

// rollingMean is the trailing mean over window values including the current one.
// Windows that are incomplete or contain a missing value yield a missing value.
func rollingMean(values []float64, window int) []float64 {
	out := make([]float64, len(values))
	for i := range values {
		out[i] = math.NaN()
		if i+1 < window {
			continue
		}
		sum := 0.0
		for _, v := range values[i+1-window : i+1] {
			sum += v
		}
		out[i] = sum / float64(window)
	}
	return out
}

// rollingStd is the trailing sample standard deviation over window values
func rollingStd(values []float64, window int) []float64 {
	out := make([]float64, len(values))
	for i := range values {
		out[i] = math.NaN()
		if i+1 < window || window < 2 {
			continue
		}
		out[i] = sampleStdDev(values[i+1-window : i+1])
	}
	return out
}

// fillForward replaces missing values with the last seen value of the column
func fillForward(f *Frame) {
	for c := range f.Columns {
		last := math.NaN()
		for _, row := range f.Rows {
			if math.IsNaN(row[c]) {
				row[c] = last
			} else {
				last = row[c]
			}
		}
	}
}

// fillBackward replaces missing values with the next seen value of the column
func fillBackward(f *Frame) {
	for c := range f.Columns {
		next := math.NaN()
		for r := len(f.Rows) - 1; r >= 0; r-- {
			row := f.Rows[r]
			if math.IsNaN(row[c]) {
				row[c] = next
			} else {
				next = row[c]
			}
		}
	}
}

// dropIncomplete keeps only rows without missing values
func dropIncomplete(f *Frame) *Frame {
	out := NewFrame(f.Columns)
	for r, row := range f.Rows {
		complete := true
		for _, v := range row {
			if math.IsNaN(v) {
				complete = false
				break
			}
		}
		if complete {
			out.Append(f.Dates[r], row)
		}
	}
	return out
}
