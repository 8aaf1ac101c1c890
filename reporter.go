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
	"io"
	"math"
	"os"
	"time"

	"github.com/dustin/go-humanize"
)

// reportTopFeatures is how many contributions are listed per anomaly
const reportTopFeatures = attributionChartFeatures

// ProductionSeries is actual and predicted production per date
type ProductionSeries struct {
	Dates     []time.Time
	Actual    []float64
	Predicted []float64
}

// AnomalyDetail is an anomaly with its weather context and attribution
type AnomalyDetail struct {
	Anomaly
	TempMax       float64
	TempMin       float64
	Precipitation float64
	Top           []FeatureContribution
}

// ProductionStats summarises production over the report window
type ProductionStats struct {
	Mean   float64
	Max    float64
	Min    float64
	StdDev float64
}

// AnomalyStats summarises the anomalies in the report window
type AnomalyStats struct {
	Count          int
	MaxResidual    float64
	MeanResidual   float64
	StdDevResidual float64
}

// ReportOptions filters what the report covers. Anomaly selects one anomaly
// of the filtered list for detail; -1 selects all.
type ReportOptions struct {
	From    time.Time
	To      time.Time
	Anomaly int
}

// ReportData is everything a report renders, read back from the pipeline artifacts
type ReportData struct {
	GeneratedAt time.Time
	From        time.Time
	To          time.Time
	Series      *ProductionSeries
	Production  ProductionStats
	Anomalies   []AnomalyDetail
	AnomalyInfo AnomalyStats
	Selected    []int
	Manifest    *RunManifest
}

// LoadReportData reads the featured table, anomaly table and attribution artifacts
// and re-predicts the series with the persisted model.
func LoadReportData(storage *Storage, modelPath string, opts ReportOptions) (*ReportData, error) {
	for _, name := range []string{ArtifactFeatured, ArtifactAnomalies, ArtifactAttributionNPY, ArtifactAttributionCSV} {
		if !storage.Exists(name) {
			return nil, &MissingInputError{Input: name, Path: storage.Path(name)}
		}
	}

	featured, err := storage.LoadFrame(ArtifactFeatured, "report", append([]string{TargetColumn}, FeatureNames()...)...)
	if err != nil {
		return nil, err
	}
	anomalies, err := storage.LoadFrame(ArtifactAnomalies, "report", TargetColumn, ColResidual)
	if err != nil {
		return nil, err
	}
	features, attributions, err := readAttributionCSV(storage.Path(ArtifactAttributionCSV))
	if err != nil {
		return nil, err
	}
	matrix, err := storage.LoadMatrix(ArtifactAttributionNPY)
	if err != nil {
		return nil, err
	}
	if len(matrix) != anomalies.Len() || len(attributions) != anomalies.Len() {
		return nil, &DataError{
			DataType: "report",
			Message: fmt.Sprintf("anomaly table has %d rows but attribution artifacts have %d and %d",
				anomalies.Len(), len(matrix), len(attributions)),
		}
	}
	for i, row := range matrix {
		if len(row) != len(features) {
			return nil, &DataError{
				DataType: "report",
				Message:  fmt.Sprintf("attribution row %d has %d values but %d features are named", i, len(row), len(features)),
			}
		}
	}
	model, err := storage.LoadModel(modelPath)
	if err != nil {
		return nil, err
	}
	manifest, err := storage.LoadManifest()
	if err != nil {
		return nil, err
	}

	from, to := opts.From, opts.To
	if from.IsZero() && featured.Len() > 0 {
		from = featured.Dates[0]
	}
	if to.IsZero() && featured.Len() > 0 {
		to = featured.Dates[featured.Len()-1]
	}
	inWindow := func(d time.Time) bool {
		return !d.Before(from) && !d.After(to)
	}

	X, err := featured.Matrix("report", model.FeatureNames)
	if err != nil {
		return nil, err
	}
	series := &ProductionSeries{}
	actual := featured.Column(TargetColumn)
	for i, date := range featured.Dates {
		if !inWindow(date) {
			continue
		}
		series.Dates = append(series.Dates, date)
		series.Actual = append(series.Actual, actual[i])
		series.Predicted = append(series.Predicted, model.Predict(X[i]))
	}

	data := &ReportData{
		GeneratedAt: time.Now(),
		From:        from,
		To:          to,
		Series:      series,
		Production:  productionStats(series.Actual),
		Manifest:    manifest,
	}

	var residuals []float64
	for i, date := range anomalies.Dates {
		if !inWindow(date) {
			continue
		}
		// the npy matrix is authoritative; the csv supplies the feature order
		top := TopContributions(features, matrix[i], reportTopFeatures)
		residual := anomalies.Value(i, ColResidual)
		target := anomalies.Value(i, TargetColumn)
		data.Anomalies = append(data.Anomalies, AnomalyDetail{
			Anomaly: Anomaly{
				Date:      date,
				Actual:    target,
				Predicted: target - residual,
				Residual:  residual,
			},
			TempMax:       anomalies.Value(i, ColTempMax),
			TempMin:       anomalies.Value(i, ColTempMin),
			Precipitation: anomalies.Value(i, ColPrecip),
			Top:           top,
		})
		residuals = append(residuals, residual)
	}
	data.AnomalyInfo = anomalyStats(residuals)

	switch {
	case opts.Anomaly < 0:
		for i := range data.Anomalies {
			data.Selected = append(data.Selected, i)
		}
	case opts.Anomaly < len(data.Anomalies):
		data.Selected = []int{opts.Anomaly}
	default:
		return nil, &ValidationError{
			Field:   "anomaly",
			Value:   fmt.Sprintf("%d", opts.Anomaly),
			Message: fmt.Sprintf("only %d anomalies fall in the selected range", len(data.Anomalies)),
		}
	}
	return data, nil
}

func productionStats(values []float64) ProductionStats {
	if len(values) == 0 {
		return ProductionStats{}
	}
	stats := ProductionStats{
		Mean:   calculateMean(values),
		Max:    math.Inf(-1),
		Min:    math.Inf(1),
		StdDev: sampleStdDev(values),
	}
	for _, v := range values {
		stats.Max = math.Max(stats.Max, v)
		stats.Min = math.Min(stats.Min, v)
	}
	return stats
}

func anomalyStats(residuals []float64) AnomalyStats {
	stats := AnomalyStats{Count: len(residuals)}
	if len(residuals) == 0 {
		return stats
	}
	stats.MaxResidual = math.Inf(-1)
	for _, r := range residuals {
		stats.MaxResidual = math.Max(stats.MaxResidual, r)
	}
	stats.MeanResidual = calculateMean(residuals)
	stats.StdDevResidual = sampleStdDev(residuals)
	return stats
}

// formatStat renders a statistic, with a dash for values that are undefined
func formatStat(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "-"
	}
	return humanize.FormatFloat("#,###.##", v)
}

// Reporter generates markdown reports from pipeline artifacts
type Reporter struct {
	logger *Logger
}

// NewReporter creates a new report generator
func NewReporter(logger *Logger) *Reporter {
	return &Reporter{
		logger: logger,
	}
}

// GenerateReport creates a markdown report
func (r *Reporter) GenerateReport(data *ReportData, outputPath string) error {
	r.logger.Info("Generating report")

	if outputPath == "" {
		r.render(os.Stdout, data)
		return nil
	}

	_, err := writeFileAtomic(outputPath, func(w io.Writer) error {
		r.render(w, data)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write report file: %w", err)
	}
	r.logger.Info("Report saved", "path", outputPath)
	return nil
}

func (r *Reporter) render(w io.Writer, data *ReportData) {
	r.writeHeader(w, data)
	r.writeModel(w, data)
	r.writeSummary(w, data)
	r.writeAnomalies(w, data)
	r.writeAttributions(w, data)
	r.writeFooter(w)
}

// writeHeader writes the report header
func (r *Reporter) writeHeader(w io.Writer, data *ReportData) {
	fmt.Fprintf(w, "# Solar Production Anomaly Report\n\n")
	fmt.Fprintf(w, "**Generated:** %s\n\n", data.GeneratedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "**Period:** %s to %s\n\n", data.From.Format(DateLayout), data.To.Format(DateLayout))
	if data.Manifest != nil {
		fmt.Fprintf(w, "**Run:** `%s` (%s)\n\n", data.Manifest.RunID, humanize.Time(data.Manifest.FinishedAt))
	}
	fmt.Fprintf(w, "**solarcheck version:** %s\n\n", GetVersion())
	fmt.Fprintf(w, "---\n\n")
}

// writeModel writes forecast quality from the last run manifest
func (r *Reporter) writeModel(w io.Writer, data *ReportData) {
	if data.Manifest == nil || data.Manifest.Metrics == nil {
		return
	}
	m := data.Manifest.Metrics

	fmt.Fprintf(w, "## 🤖 Forecast Model\n\n")
	fmt.Fprintf(w, "| Model | Test RMSE | Test R² |\n")
	fmt.Fprintf(w, "|-------|-----------|---------|\n")
	fmt.Fprintf(w, "| Gradient boosting (%d trees) | %s | %.3f |\n", m.BestIteration+1, FormatKWh(m.TestRMSE), m.TestR2)
	if m.Baseline != nil {
		fmt.Fprintf(w, "| Linear baseline | %s | %.3f |\n", FormatKWh(m.Baseline.TestRMSE), m.Baseline.TestR2)
	}
	fmt.Fprintf(w, "\nTrained on %d days, validated on %d, tested on %d.\n\n", m.Train.Rows, m.Validation.Rows, m.Test.Rows)
}

// writeSummary writes the production and anomaly summary tables
func (r *Reporter) writeSummary(w io.Writer, data *ReportData) {
	fmt.Fprintf(w, "## 📊 Summary\n\n")

	p := data.Production
	fmt.Fprintf(w, "### ☀️ Production\n\n")
	fmt.Fprintf(w, "| Statistic | Value |\n")
	fmt.Fprintf(w, "|-----------|-------|\n")
	fmt.Fprintf(w, "| Mean | %s kWh |\n", formatStat(p.Mean))
	fmt.Fprintf(w, "| Max | %s kWh |\n", formatStat(p.Max))
	fmt.Fprintf(w, "| Min | %s kWh |\n", formatStat(p.Min))
	fmt.Fprintf(w, "| Std Dev | %s kWh |\n\n", formatStat(p.StdDev))

	a := data.AnomalyInfo
	fmt.Fprintf(w, "### 🔍 Anomalies\n\n")
	fmt.Fprintf(w, "| Statistic | Value |\n")
	fmt.Fprintf(w, "|-----------|-------|\n")
	fmt.Fprintf(w, "| Total Anomalies | %d |\n", a.Count)
	if days := len(data.Series.Dates); days > 0 {
		fmt.Fprintf(w, "| Anomaly Rate | %s of %d days |\n", FormatPercentage(100*float64(a.Count)/float64(days)), days)
	}
	if a.Count > 0 {
		fmt.Fprintf(w, "| Max Residual | %s kWh |\n", formatStat(a.MaxResidual))
		fmt.Fprintf(w, "| Mean Residual | %s kWh |\n", formatStat(a.MeanResidual))
		fmt.Fprintf(w, "| Std Dev Residual | %s kWh |\n", formatStat(a.StdDevResidual))
	}
	fmt.Fprintf(w, "\n")
}

// writeAnomalies writes the anomaly table in date order
func (r *Reporter) writeAnomalies(w io.Writer, data *ReportData) {
	if len(data.Anomalies) == 0 {
		fmt.Fprintf(w, "No anomalies found in the selected range.\n\n")
		return
	}

	fmt.Fprintf(w, "## ⚠️ Anomaly Details\n\n")
	fmt.Fprintf(w, "| # | Date | Actual | Predicted | Residual | Weather |\n")
	fmt.Fprintf(w, "|---|------|--------|-----------|----------|---------|\n")
	for i, a := range data.Anomalies {
		direction := "↑"
		if a.Residual < 0 {
			direction = "↓"
		}
		weather := fmt.Sprintf("%.1f–%.1f°C", a.TempMin, a.TempMax)
		if a.Precipitation > 0 {
			weather += fmt.Sprintf(", %.1fmm", a.Precipitation)
		}
		fmt.Fprintf(w, "| %d | %s | %s | %s | %s %+.2f | %s |\n",
			i,
			a.Date.Format(DateLayout),
			FormatKWh(a.Actual),
			FormatKWh(a.Predicted),
			direction,
			a.Residual,
			weather,
		)
	}
	fmt.Fprintf(w, "\n")
}

// writeAttributions lists the largest feature contributions of each selected anomaly
func (r *Reporter) writeAttributions(w io.Writer, data *ReportData) {
	if len(data.Selected) == 0 {
		return
	}

	fmt.Fprintf(w, "## 🧭 Top Contributors\n\n")
	for _, idx := range data.Selected {
		a := data.Anomalies[idx]
		fmt.Fprintf(w, "### %s (residual %+.2f kWh)\n\n", a.Date.Format(DateLayout), a.Residual)
		fmt.Fprintf(w, "| Feature | Contribution |\n")
		fmt.Fprintf(w, "|---------|--------------|\n")
		for _, c := range a.Top {
			fmt.Fprintf(w, "| %s | %+.3f |\n", c.Feature, c.Value)
		}
		fmt.Fprintf(w, "\n")
	}
}

// writeFooter writes the report footer
func (r *Reporter) writeFooter(w io.Writer) {
	fmt.Fprintf(w, "---\n\n")
	fmt.Fprintf(w, "*Contributions are exact tree attributions: for each day they sum with the model base value to the prediction.*\n\n")
	fmt.Fprintf(w, "*Generated by [solarcheck](https://github.com/matthewgall/solarcheck)*\n")
}
