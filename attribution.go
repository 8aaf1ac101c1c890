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
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"time"
)

// Explainer attributes anomalous predictions to individual features
type Explainer struct {
	logger *Logger
}

// NewExplainer creates a new attribution engine
func NewExplainer(logger *Logger) *Explainer {
	return &Explainer{logger: logger.WithComponent("attribution")}
}

// Explain re-joins each anomaly with its featured row by date and attributes
// the model prediction for that row. Output order follows the anomaly table.
func (e *Explainer) Explain(anomalies, featured *Frame, model *Model) ([]Attribution, error) {
	if err := RequireColumns("explain", ArtifactFeatured, featured.Columns, model.FeatureNames...); err != nil {
		return nil, err
	}
	X, err := featured.Matrix("explain", model.FeatureNames)
	if err != nil {
		return nil, err
	}
	index := featured.DateIndex()

	attributions := make([]Attribution, 0, anomalies.Len())
	for _, date := range anomalies.Dates {
		key := date.Format(DateLayout)
		row, ok := index[key]
		if !ok {
			return nil, &DataError{
				DataType: "attribution",
				Message:  fmt.Sprintf("anomaly date %s is not present in the featured table", key),
			}
		}

		base, phi := model.Explain(X[row])
		attributions = append(attributions, Attribution{
			Date:          date,
			BaseValue:     base,
			Prediction:    model.Predict(X[row]),
			Contributions: phi,
		})
	}

	e.logger.Info("Attribution completed", "anomalies", len(attributions), "features", len(model.FeatureNames))
	return attributions, nil
}

// AttributionMatrix lays contributions out as anomalies by features
func AttributionMatrix(attributions []Attribution) [][]float64 {
	m := make([][]float64, len(attributions))
	for i, a := range attributions {
		m[i] = a.Contributions
	}
	return m
}

// AnomaliesWithAttribution appends the base value and prediction to the anomaly table
func AnomaliesWithAttribution(anomalies *Frame, attributions []Attribution) *Frame {
	base := make([]float64, len(attributions))
	pred := make([]float64, len(attributions))
	for i, a := range attributions {
		base[i] = a.BaseValue
		pred[i] = a.Prediction
	}
	return anomalies.WithColumn(ColBaseValue, base).WithColumn(ColPrediction, pred)
}

// writeAttributionCSV writes one row per anomaly: contributions in model order, then the date
func writeAttributionCSV(w io.Writer, features []string, attributions []Attribution) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(append(append([]string(nil), features...), ColDate)); err != nil {
		return err
	}
	record := make([]string, len(features)+1)
	for _, a := range attributions {
		for i, v := range a.Contributions {
			record[i] = formatValue(v)
		}
		record[len(features)] = a.Date.Format(DateLayout)
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// readAttributionCSV reads the per-anomaly contributions written by writeAttributionCSV
func readAttributionCSV(path string) ([]string, []Attribution, error) {
	header, records, err := readCSVRecords(path)
	if err != nil {
		return nil, nil, err
	}
	if len(header) == 0 || header[len(header)-1] != ColDate {
		return nil, nil, &SchemaError{Stage: "report", Source: path, Missing: []string{ColDate}}
	}
	features := header[:len(header)-1]

	attributions := make([]Attribution, 0, len(records))
	for line, rec := range records {
		date, err := time.Parse(DateLayout, strings.TrimSpace(rec[len(rec)-1]))
		if err != nil {
			return nil, nil, &DataError{DataType: path, Message: fmt.Sprintf("line %d: invalid date %q", line+2, rec[len(rec)-1])}
		}
		phi := make([]float64, len(features))
		for i := range phi {
			if phi[i], err = parseCell(rec[i]); err != nil {
				return nil, nil, &DataError{DataType: path, Message: fmt.Sprintf("line %d column %s: %v", line+2, features[i], err)}
			}
		}
		attributions = append(attributions, Attribution{Date: date, Contributions: phi})
	}
	return features, attributions, nil
}

// TopContributions returns the k largest contributions by magnitude, largest first
func TopContributions(features []string, contributions []float64, k int) []FeatureContribution {
	all := make([]FeatureContribution, len(features))
	for i, name := range features {
		all[i] = FeatureContribution{Feature: name, Value: contributions[i]}
	}
	sort.SliceStable(all, func(i, j int) bool {
		return math.Abs(all[i].Value) > math.Abs(all[j].Value)
	})
	if k > 0 && k < len(all) {
		all = all[:k]
	}
	return all
}
