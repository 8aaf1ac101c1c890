// Copyright 2025 Matthew Gall <me@matthewgall.dev>
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
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
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"
)

// Logger wraps slog.Logger with domain-specific methods
type Logger struct {
	*slog.Logger
}

// NewLogger creates a text-formatted logger
func NewLogger(debug bool) *Logger {
	return newLogger(os.Stderr, debug, false)
}

// NewJSONLogger creates a JSON-formatted logger
func NewJSONLogger(debug bool) *Logger {
	return newLogger(os.Stderr, debug, true)
}

// NewDiscardLogger returns a logger that drops everything, used by tests
func NewDiscardLogger() *Logger {
	return newLogger(io.Discard, false, false)
}

func newLogger(w io.Writer, debug, jsonFormat bool) *Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if jsonFormat {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return &Logger{slog.New(handler)}
}

// WithComponent adds a component field to the logger
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{l.With("component", component)}
}

// WithRunID adds the pipeline run identifier to the logger
func (l *Logger) WithRunID(runID string) *Logger {
	return &Logger{l.With("run_id", runID)}
}

// LogAPIRequest logs an API request
func (l *Logger) LogAPIRequest(method, endpoint string) {
	l.Debug("API request",
		"method", method,
		"endpoint", endpoint,
	)
}

// LogAPIError logs an API error
func (l *Logger) LogAPIError(endpoint string, statusCode int, err error) {
	l.Error("API request failed",
		"endpoint", endpoint,
		"status_code", statusCode,
		"error", err,
	)
}

// LogDataLoaded logs how many rows were read from a source
func (l *Logger) LogDataLoaded(source string, rows int) {
	l.Info("Data loaded",
		"source", source,
		"rows", rows,
	)
}

// LogStage logs pipeline stage completion
func (l *Logger) LogStage(stage string, elapsed time.Duration) {
	l.Info("Pipeline stage completed",
		"stage", stage,
		"elapsed", elapsed.Round(time.Millisecond),
	)
}

// LogTrainingRound logs boosting progress
func (l *Logger) LogTrainingRound(round int, trainRMSE, validRMSE float64) {
	l.Debug("Boosting round",
		"round", round,
		"train_rmse", fmt.Sprintf("%.4f", trainRMSE),
		"valid_rmse", fmt.Sprintf("%.4f", validRMSE),
	)
}

// LogAnomalyDetected logs detected anomaly
func (l *Logger) LogAnomalyDetected(date string, residual, threshold float64) {
	l.Warn("Anomaly detected",
		"date", date,
		"residual", fmt.Sprintf("%.2f", residual),
		"threshold", fmt.Sprintf("%.2f", threshold),
	)
}

// LogStorageOperation logs storage operations
func (l *Logger) LogStorageOperation(operation, path string) {
	l.Debug("Storage operation",
		"operation", operation,
		"path", path,
	)
}

// LogArtifact logs a finished artifact write with its size
func (l *Logger) LogArtifact(name, path string, size int64) {
	l.Info("Artifact written",
		"artifact", name,
		"path", path,
		"size", humanize.Bytes(uint64(size)),
	)
}

// UserMessage outputs a message directly to stdout (bypassing structured logging)
func (l *Logger) UserMessage(format string, args ...interface{}) {
	fmt.Printf(format+"\n", args...)
}
