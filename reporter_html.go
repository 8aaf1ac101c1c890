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
	"html"
	"io"
	"os"
)

// HTMLReporter generates HTML reports from pipeline artifacts
type HTMLReporter struct {
	logger *Logger
	charts *ChartGenerator
}

// NewHTMLReporter creates a new HTML report generator
func NewHTMLReporter(logger *Logger) *HTMLReporter {
	return &HTMLReporter{
		logger: logger,
		charts: NewChartGenerator(),
	}
}

// GenerateHTMLReport generates an HTML report
func (r *HTMLReporter) GenerateHTMLReport(data *ReportData, outputPath string) error {
	r.logger.Info("Generating HTML report")

	if outputPath == "" {
		r.render(os.Stdout, data)
		return nil
	}

	_, err := writeFileAtomic(outputPath, func(w io.Writer) error {
		r.render(w, data)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write HTML report file: %w", err)
	}
	r.logger.Info("HTML report saved", "path", outputPath)
	return nil
}

func (r *HTMLReporter) render(w io.Writer, data *ReportData) {
	r.writeHTMLHeader(w, data)
	r.writeHTMLSummary(w, data)
	r.writeHTMLProductionChart(w, data)
	r.writeHTMLAnomalies(w, data)
	r.writeHTMLAttributions(w, data)
	r.writeHTMLFooter(w)
}

func (r *HTMLReporter) writeHTMLHeader(w io.Writer, data *ReportData) {
	fmt.Fprintf(w, `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Solar Production Anomaly Report</title>
    <style>
        :root {
            --primary-color: #FFB347;
            --secondary-color: #4FC3F7;
            --danger-color: #FF5252;
            --success-color: #00C896;
            --bg-color: #0A0F1E;
            --card-bg: #1A2332;
            --text-color: #E8EAF6;
            --text-muted: #9FA8DA;
            --border-color: #2A3550;
        }

        * {
            margin: 0;
            padding: 0;
            box-sizing: border-box;
        }

        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, Oxygen, Ubuntu, Cantarell, sans-serif;
            background: var(--bg-color);
            color: var(--text-color);
            line-height: 1.6;
            padding: 20px;
        }

        .container {
            max-width: 1200px;
            margin: 0 auto;
        }

        header {
            background: linear-gradient(135deg, var(--primary-color), var(--secondary-color));
            padding: 40px;
            border-radius: 16px;
            margin-bottom: 30px;
        }

        h1 {
            font-size: 2.5em;
            margin-bottom: 10px;
        }

        .subtitle {
            color: rgba(255, 255, 255, 0.9);
        }

        .card {
            background: var(--card-bg);
            border-radius: 12px;
            padding: 30px;
            margin-bottom: 30px;
            border: 1px solid var(--border-color);
        }

        h2 {
            color: var(--primary-color);
            margin-bottom: 20px;
            border-bottom: 2px solid var(--border-color);
            padding-bottom: 10px;
        }

        h3 {
            color: var(--secondary-color);
            margin: 25px 0 15px 0;
        }

        table {
            width: 100%%;
            border-collapse: collapse;
            margin: 20px 0;
        }

        th, td {
            padding: 12px;
            text-align: left;
            border-bottom: 1px solid var(--border-color);
        }

        th {
            background: rgba(255, 179, 71, 0.1);
            color: var(--primary-color);
        }

        .metric-grid {
            display: grid;
            grid-template-columns: repeat(auto-fit, minmax(250px, 1fr));
            gap: 20px;
        }

        .positive { color: var(--success-color); }
        .negative { color: var(--danger-color); }

        img.chart {
            width: 100%%;
            border-radius: 8px;
        }

        footer {
            text-align: center;
            padding: 30px;
            color: var(--text-muted);
            border-top: 1px solid var(--border-color);
            margin-top: 40px;
        }
    </style>
</head>
<body>
    <div class="container">
        <header>
            <h1>☀️ Solar Production Anomaly Report</h1>
            <div class="subtitle">Generated: %s</div>
            <div class="subtitle">Period: %s to %s</div>
            <div class="subtitle" style="opacity: 0.7; font-size: 0.9em; margin-top: 10px;">solarcheck %s</div>
        </header>
`,
		data.GeneratedAt.Format("Monday, 2 January 2006 at 15:04"),
		data.From.Format("2 Jan 2006"),
		data.To.Format("2 Jan 2006"),
		html.EscapeString(GetVersion()),
	)
}

func (r *HTMLReporter) writeHTMLSummary(w io.Writer, data *ReportData) {
	p, a := data.Production, data.AnomalyInfo
	fmt.Fprintf(w, `
        <div class="card">
            <h2>📊 Summary</h2>
            <div class="metric-grid">
                <div>
                    <h3>Production</h3>
                    <table>
                        <tr><td>Mean</td><td>%s kWh</td></tr>
                        <tr><td>Max</td><td>%s kWh</td></tr>
                        <tr><td>Min</td><td>%s kWh</td></tr>
                        <tr><td>Std Dev</td><td>%s kWh</td></tr>
                    </table>
                </div>
                <div>
                    <h3>Anomalies</h3>
                    <table>
                        <tr><td>Total Anomalies</td><td>%d</td></tr>
                        <tr><td>Max Residual</td><td>%s kWh</td></tr>
                        <tr><td>Mean Residual</td><td>%s kWh</td></tr>
                        <tr><td>Std Dev Residual</td><td>%s kWh</td></tr>
                    </table>
                </div>
            </div>
`,
		formatStat(p.Mean), formatStat(p.Max), formatStat(p.Min), formatStat(p.StdDev),
		a.Count, formatAnomalyStat(a, a.MaxResidual), formatAnomalyStat(a, a.MeanResidual), formatAnomalyStat(a, a.StdDevResidual),
	)

	if data.Manifest != nil && data.Manifest.Metrics != nil {
		m := data.Manifest.Metrics
		fmt.Fprintf(w, `
            <h3>🤖 Forecast Model</h3>
            <table>
                <thead><tr><th>Model</th><th>Test RMSE</th><th>Test R²</th></tr></thead>
                <tbody>
                    <tr><td>Gradient boosting (%d trees)</td><td>%s</td><td>%.3f</td></tr>
`, m.BestIteration+1, FormatKWh(m.TestRMSE), m.TestR2)
		if m.Baseline != nil {
			fmt.Fprintf(w, "                    <tr><td>Linear baseline</td><td>%s</td><td>%.3f</td></tr>\n",
				FormatKWh(m.Baseline.TestRMSE), m.Baseline.TestR2)
		}
		fmt.Fprintf(w, "                </tbody>\n            </table>\n")
	}
	fmt.Fprintf(w, "        </div>\n")
}

func formatAnomalyStat(a AnomalyStats, v float64) string {
	if a.Count == 0 {
		return "-"
	}
	return formatStat(v)
}

func (r *HTMLReporter) writeHTMLProductionChart(w io.Writer, data *ReportData) {
	chart, err := r.charts.GenerateProductionChart(data.Series)
	if err != nil {
		// Non-fatal - the tables still carry the numbers
		r.logger.Warn("Failed to render production chart", "error", err)
		return
	}
	fmt.Fprintf(w, `
        <div class="card">
            <h2>📈 Production vs Forecast</h2>
            <img class="chart" alt="Daily production and forecast" src="data:image/png;base64,%s">
        </div>
`, chart)
}

func (r *HTMLReporter) writeHTMLAnomalies(w io.Writer, data *ReportData) {
	if len(data.Anomalies) == 0 {
		fmt.Fprintf(w, `
        <div class="card">
            <h2>🔍 Anomalies</h2>
            <p>No anomalies found in the selected range.</p>
        </div>
`)
		return
	}

	fmt.Fprintf(w, `
        <div class="card">
            <h2>🔍 Anomalies</h2>
            <p>Found <strong>%d anomalies</strong> in the selected range.</p>
            <table>
                <thead>
                    <tr>
                        <th>#</th>
                        <th>Date</th>
                        <th>Actual</th>
                        <th>Predicted</th>
                        <th>Residual</th>
                        <th>Weather</th>
                    </tr>
                </thead>
                <tbody>
`, len(data.Anomalies))

	for i, a := range data.Anomalies {
		class := "positive"
		if a.Residual < 0 {
			class = "negative"
		}
		weather := fmt.Sprintf("%.1f–%.1f°C, %.1fmm", a.TempMin, a.TempMax, a.Precipitation)
		fmt.Fprintf(w, `
                    <tr>
                        <td>%d</td>
                        <td>%s</td>
                        <td>%s</td>
                        <td>%s</td>
                        <td class="%s">%+.2f kWh</td>
                        <td>%s</td>
                    </tr>
`,
			i,
			a.Date.Format(DateLayout),
			FormatKWh(a.Actual),
			FormatKWh(a.Predicted),
			class,
			a.Residual,
			html.EscapeString(weather),
		)
	}

	fmt.Fprintf(w, `
                </tbody>
            </table>
        </div>
`)
}

func (r *HTMLReporter) writeHTMLAttributions(w io.Writer, data *ReportData) {
	if len(data.Selected) == 0 {
		return
	}

	fmt.Fprintf(w, `
        <div class="card">
            <h2>🧭 Top Contributors</h2>
`)
	for _, idx := range data.Selected {
		a := data.Anomalies[idx]
		title := fmt.Sprintf("%s (residual %+.2f kWh)", a.Date.Format(DateLayout), a.Residual)
		fmt.Fprintf(w, "            <h3>%s</h3>\n", html.EscapeString(title))

		chart, err := r.charts.GenerateAttributionChart("Top contributors "+a.Date.Format(DateLayout), a.Top)
		if err != nil {
			r.logger.Warn("Failed to render attribution chart", "date", a.Date.Format(DateLayout), "error", err)
		} else {
			fmt.Fprintf(w, "            <img class=\"chart\" alt=\"Top contributors\" src=\"data:image/png;base64,%s\">\n", chart)
		}

		fmt.Fprintf(w, "            <table>\n                <thead><tr><th>Feature</th><th>Contribution</th></tr></thead>\n                <tbody>\n")
		for _, c := range a.Top {
			fmt.Fprintf(w, "                    <tr><td>%s</td><td>%+.3f</td></tr>\n", html.EscapeString(c.Feature), c.Value)
		}
		fmt.Fprintf(w, "                </tbody>\n            </table>\n")
	}
	fmt.Fprintf(w, "        </div>\n")
}

func (r *HTMLReporter) writeHTMLFooter(w io.Writer) {
	fmt.Fprintf(w, `
        <footer>
            <p><em>Contributions are exact tree attributions: for each day they sum with the model base value to the prediction.</em></p>
            <p style="margin-top: 10px;">Generated by <a href="https://github.com/matthewgall/solarcheck" style="color: var(--primary-color); text-decoration: none;">solarcheck</a></p>
        </footer>
    </div>
</body>
</html>
`)
}
