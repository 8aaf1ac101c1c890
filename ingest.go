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
	"sort"
	"strings"
	"time"
)

// timestampLayouts are the formats accepted for the raw export timestamp column
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006/01/02 15:04:05",
	"2006/01/02 15:04",
	"2006-01-02",
	"2006/01/02",
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// dayOf truncates a timestamp to its calendar date in its own location, as UTC midnight
func dayOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// rawRows reads a raw export and resolves the key and numeric columns by header name.
// Other columns are ignored.
func rawRows(path, source, key string, columns []string) ([]time.Time, [][]float64, error) {
	header, records, err := readCSVRecords(path)
	if err != nil {
		return nil, nil, err
	}
	if err := RequireColumns("features", source, header, append([]string{key}, columns...)...); err != nil {
		return nil, nil, err
	}

	pos := make(map[string]int, len(header))
	for i, h := range header {
		pos[h] = i
	}

	times := make([]time.Time, 0, len(records))
	values := make([][]float64, 0, len(records))
	for line, rec := range records {
		ts, err := parseTimestamp(rec[pos[key]])
		if err != nil {
			return nil, nil, &DataError{DataType: source, Message: fmt.Sprintf("line %d: %v", line+2, err)}
		}
		row := make([]float64, len(columns))
		for i, col := range columns {
			v, err := parseCell(rec[pos[col]])
			if err != nil {
				return nil, nil, &DataError{DataType: source, Message: fmt.Sprintf("line %d column %s: %v", line+2, col, err)}
			}
			row[i] = v
		}
		times = append(times, ts)
		values = append(values, row)
	}
	return times, values, nil
}

// LoadInverterReadings reads the inverter export
func LoadInverterReadings(path string) ([]InverterReading, error) {
	times, values, err := rawRows(path, "inverter", ColTimestamp, InverterColumns)
	if err != nil {
		return nil, err
	}
	readings := make([]InverterReading, len(times))
	for i, ts := range times {
		readings[i] = InverterReading{
			UpdatedAt:   ts,
			Production:  values[i][0],
			Consumption: values[i][1],
			GridFeedIn:  values[i][2],
			Purchasing:  values[i][3],
		}
	}
	return readings, nil
}

// LoadPlantReadings reads the plant export
func LoadPlantReadings(path string) ([]PlantReading, error) {
	times, values, err := rawRows(path, "plant", ColTimestamp, PlantColumns)
	if err != nil {
		return nil, err
	}
	readings := make([]PlantReading, len(times))
	for i, ts := range times {
		readings[i] = PlantReading{
			UpdatedAt:        ts,
			SelfUsedRatio:    values[i][0],
			AnticipatedYield: values[i][1],
		}
	}
	return readings, nil
}

// LoadWeatherTable reads the date and weather columns of a weather table
func LoadWeatherTable(path string) (*Frame, error) {
	times, values, err := rawRows(path, "weather", ColDate, WeatherColumns)
	if err != nil {
		return nil, err
	}
	weather := NewFrame(WeatherColumns)
	for i, ts := range times {
		weather.Append(dayOf(ts), values[i])
	}
	return weather, nil
}

// dailyInverter sums sub-daily inverter readings per calendar date.
// Missing readings count as zero, matching a skip-missing sum.
func dailyInverter(readings []InverterReading) map[string][]float64 {
	daily := make(map[string][]float64)
	for _, r := range readings {
		key := dayOf(r.UpdatedAt).Format(DateLayout)
		sums, ok := daily[key]
		if !ok {
			sums = make([]float64, len(InverterColumns))
			daily[key] = sums
		}
		for i, v := range []float64{r.Production, r.Consumption, r.GridFeedIn, r.Purchasing} {
			if !math.IsNaN(v) {
				sums[i] += v
			}
		}
	}
	return daily
}

// dailyPlant keeps the latest plant reading of each date; equal timestamps resolve to the later row
func dailyPlant(readings []PlantReading) map[string][]float64 {
	ordered := make([]PlantReading, len(readings))
	copy(ordered, readings)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].UpdatedAt.Before(ordered[j].UpdatedAt)
	})

	daily := make(map[string][]float64)
	for _, r := range ordered {
		daily[dayOf(r.UpdatedAt).Format(DateLayout)] = []float64{r.SelfUsedRatio, r.AnticipatedYield}
	}
	return daily
}
