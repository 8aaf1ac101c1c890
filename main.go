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
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

// app carries what every subcommand needs once flags and config are resolved
type app struct {
	configPath string
	outputDir  string
	modelPath  string
	debug      bool
	logJSON    bool

	config  *Config
	logger  *Logger
	storage *Storage
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{}
	if err := newRootCommand(a).ExecuteContext(ctx); err != nil {
		if a.logger != nil {
			a.logger.Error("Command failed", "error", err)
		} else {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		a.close()
		stop()
		os.Exit(1)
	}
	a.close()
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "solarcheck",
		Short:         "Forecast daily solar production and explain anomalous days",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "solarcheck.yaml", "Path to configuration file")
	flags.StringVar(&a.outputDir, "output-dir", "", "Artifact directory (overrides config)")
	flags.StringVar(&a.modelPath, "model", "", "Model artifact path (overrides config)")
	flags.BoolVar(&a.debug, "debug", false, "Enable debug logging")
	flags.BoolVar(&a.logJSON, "log-json", false, "Log as JSON")

	root.AddCommand(
		newRunCommand(a),
		newWeatherCommand(a),
		newFeaturesCommand(a),
		newTrainCommand(a),
		newDetectCommand(a),
		newExplainCommand(a),
		newReportCommand(a),
		newCacheCommand(a),
		newVersionCommand(a),
	)
	return root
}

// setup loads configuration, applies flag overrides and opens storage
func (a *app) setup(cmd *cobra.Command) error {
	config, err := LoadConfig(a.configPath)
	if err != nil {
		return err
	}
	if a.outputDir != "" {
		config.OutputDir = a.outputDir
	}
	if a.modelPath != "" {
		config.ModelPath = a.modelPath
	}
	if a.debug {
		config.Debug = true
	}
	if err := config.Validate(); err != nil {
		return err
	}
	a.config = config

	if a.logJSON {
		a.logger = NewJSONLogger(config.Debug)
	} else {
		a.logger = NewLogger(config.Debug)
	}
	a.logger.Debug("Configuration loaded", "config_file", a.configPath, "output_dir", config.OutputDir)

	if cmd.Name() == "version" {
		return nil
	}
	storage, err := NewStorage(config.OutputDir, a.logger)
	if err != nil {
		return err
	}
	a.storage = storage
	return nil
}

func (a *app) close() {
	if a.storage == nil {
		return
	}
	if err := a.storage.Close(); err != nil {
		a.logger.Warn("Failed to close storage", "error", err)
	}
}

func (a *app) pipeline() *Pipeline {
	return NewPipeline(a.config, a.storage, a.logger)
}

// parseDateFlag parses an optional YYYY-MM-DD flag value
func parseDateFlag(name, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(DateLayout, value)
	if err != nil {
		return time.Time{}, &ValidationError{Field: name, Value: value, Message: "expected YYYY-MM-DD"}
	}
	return t, nil
}

// firstNonEmpty prefers a flag value over the configured one
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func newRunCommand(a *app) *cobra.Command {
	var inverter, plant, weather, start, end string
	var thresholdStd float64

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run every stage from weather fetch to attribution",
		RunE: func(cmd *cobra.Command, args []string) error {
			startDate, err := parseDateFlag("start", start)
			if err != nil {
				return err
			}
			endDate, err := parseDateFlag("end", end)
			if err != nil {
				return err
			}
			go CheckForUpdates(cmd.Context(), a.logger)

			manifest, err := a.pipeline().Run(cmd.Context(), RunOptions{
				InverterPath: firstNonEmpty(inverter, a.config.InverterPath),
				PlantPath:    firstNonEmpty(plant, a.config.PlantPath),
				WeatherPath:  firstNonEmpty(weather, a.config.WeatherPath),
				Start:        startDate,
				End:          endDate,
				ThresholdStd: thresholdStd,
			})
			if err != nil {
				return err
			}
			a.logger.UserMessage("Run %s: %d days, %d anomalies, test RMSE %s",
				manifest.RunID,
				manifest.FeaturedRows,
				len(manifest.Detection.Flagged),
				FormatKWh(manifest.Metrics.TestRMSE),
			)
			return nil
		},
	}
	cmd.Flags().StringVar(&inverter, "inverter", "", "Inverter export CSV")
	cmd.Flags().StringVar(&plant, "plant", "", "Plant export CSV")
	cmd.Flags().StringVar(&weather, "weather", "", "Weather CSV; fetched when omitted")
	cmd.Flags().StringVar(&start, "start", "", "Weather fetch start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "Weather fetch end date (YYYY-MM-DD)")
	cmd.Flags().Float64Var(&thresholdStd, "threshold-std", 0, "Residual threshold in standard deviations (default from config)")
	return cmd
}

func newWeatherCommand(a *app) *cobra.Command {
	var start, end, out string

	cmd := &cobra.Command{
		Use:   "weather",
		Short: "Fetch daily weather for a date range",
		RunE: func(cmd *cobra.Command, args []string) error {
			startDate, err := parseDateFlag("start", start)
			if err != nil {
				return err
			}
			endDate, err := parseDateFlag("end", end)
			if err != nil {
				return err
			}
			if startDate.IsZero() || endDate.IsZero() {
				return &ValidationError{Field: "start/end", Message: "both dates are required"}
			}

			frame, err := a.pipeline().FetchWeather(cmd.Context(), startDate, endDate)
			if err != nil {
				return err
			}
			if out != "" {
				if _, err := writeFileAtomic(out, frame.WriteCSV); err != nil {
					return err
				}
			}
			a.logger.UserMessage("Fetched %d days of weather", frame.Len())
			return nil
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "Start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "End date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&out, "out", "", "Also write the weather table to this path")
	return cmd
}

func newFeaturesCommand(a *app) *cobra.Command {
	var inverter, plant, weather string

	cmd := &cobra.Command{
		Use:   "features",
		Short: "Join the raw inputs and build the featured table",
		RunE: func(cmd *cobra.Command, args []string) error {
			weatherPath := firstNonEmpty(weather, a.config.WeatherPath, a.storage.Path(ArtifactWeather))
			featured, err := a.pipeline().BuildFeatures(
				firstNonEmpty(inverter, a.config.InverterPath),
				firstNonEmpty(plant, a.config.PlantPath),
				weatherPath,
			)
			if err != nil {
				return err
			}
			a.logger.UserMessage("Built %d featured days", featured.Len())
			return nil
		},
	}
	cmd.Flags().StringVar(&inverter, "inverter", "", "Inverter export CSV")
	cmd.Flags().StringVar(&plant, "plant", "", "Plant export CSV")
	cmd.Flags().StringVar(&weather, "weather", "", "Weather CSV (default: fetched weather table)")
	return cmd
}

func newTrainCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "train",
		Short: "Train the forecast model on the featured table",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, metrics, err := a.pipeline().Train(cmd.Context())
			if err != nil {
				return err
			}
			a.logger.UserMessage("Trained %d rounds (best %d), test RMSE %s, test R² %.3f",
				metrics.RoundsTrained, metrics.BestIteration, FormatKWh(metrics.TestRMSE), metrics.TestR2)
			return nil
		},
	}
}

func newDetectCommand(a *app) *cobra.Command {
	var thresholdStd float64

	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Flag days whose production departs from the forecast",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("threshold-std") {
				thresholdStd = a.config.Anomaly.ThresholdStd
			}
			result, err := a.pipeline().Detect(thresholdStd)
			if err != nil {
				return err
			}
			a.logger.UserMessage("Flagged %d anomalies (|residual| > %.2f kWh)", len(result.Flagged), result.Threshold)
			return nil
		},
	}
	cmd.Flags().Float64Var(&thresholdStd, "threshold-std", 2.0, "Residual threshold in standard deviations")
	return cmd
}

func newExplainCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "explain",
		Short: "Attribute each anomaly to its features",
		RunE: func(cmd *cobra.Command, args []string) error {
			attributions, err := a.pipeline().Explain()
			if err != nil {
				return err
			}
			a.logger.UserMessage("Explained %d anomalies", len(attributions))
			return nil
		},
	}
}

func newReportCommand(a *app) *cobra.Command {
	var htmlOutput bool
	var output, from, to string
	var anomaly int

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Render a Markdown or HTML report from the pipeline artifacts",
		RunE: func(cmd *cobra.Command, args []string) error {
			fromDate, err := parseDateFlag("from", from)
			if err != nil {
				return err
			}
			toDate, err := parseDateFlag("to", to)
			if err != nil {
				return err
			}

			data, err := LoadReportData(a.storage, a.config.ModelPath, ReportOptions{From: fromDate, To: toDate, Anomaly: anomaly})
			if err != nil {
				return err
			}

			if htmlOutput {
				return NewHTMLReporter(a.logger).GenerateHTMLReport(data, output)
			}
			return NewReporter(a.logger).GenerateReport(data, output)
		},
	}
	cmd.Flags().BoolVar(&htmlOutput, "html", false, "Generate HTML report instead of Markdown")
	cmd.Flags().StringVar(&output, "output", "", "Output file for report (default: stdout)")
	cmd.Flags().StringVar(&from, "from", "", "First date to include (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "Last date to include (YYYY-MM-DD)")
	cmd.Flags().IntVar(&anomaly, "anomaly", -1, "Index of the anomaly to detail (default: all)")
	return cmd
}

func newCacheCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the weather cache",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "stats",
			Short: "Show weather cache statistics",
			RunE: func(cmd *cobra.Command, args []string) error {
				total, expired := a.storage.CacheStats()
				a.logger.UserMessage("Weather cache: %d entries, %d expired", total, expired)
				for _, e := range a.storage.CacheEntries() {
					state := "fresh"
					if e.Expired {
						state = "expired"
					}
					a.logger.UserMessage("  %s..%s  %3d days  cached %s (%s)", e.Start, e.End, e.Days, humanize.Time(e.CachedAt), state)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Remove every weather cache entry",
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.storage.ClearCache()
			},
		},
	)
	return cmd
}

func newVersionCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version and exit",
		Run: func(cmd *cobra.Command, args []string) {
			printVersion(cmd.OutOrStdout())
		},
	}
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "solarcheck %s\n", GetVersion())
}
