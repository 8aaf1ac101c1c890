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
	"strings"
)

// APIError represents a weather API error
type APIError struct {
	StatusCode int
	Endpoint   string
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("API error at %s (status %d): %s: %v", e.Endpoint, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("API error at %s (status %d): %s", e.Endpoint, e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// MissingInputError is returned when a required raw input file is absent
type MissingInputError struct {
	Input string
	Path  string
}

func (e *MissingInputError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("missing input %s: no file supplied", e.Input)
	}
	return fmt.Sprintf("missing input %s: %s does not exist", e.Input, e.Path)
}

// JoinEmptyError is returned when the inner join of all sources leaves no complete rows
type JoinEmptyError struct {
	Sources []string
	Reason  string
}

func (e *JoinEmptyError) Error() string {
	return fmt.Sprintf("no complete rows across %s: %s", strings.Join(e.Sources, ", "), e.Reason)
}

// SchemaError names the columns a stage expected but did not find
type SchemaError struct {
	Stage   string
	Source  string
	Missing []string
}

func (e *SchemaError) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("schema error in %s (%s): missing columns %s", e.Stage, e.Source, strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("schema error in %s: missing columns %s", e.Stage, strings.Join(e.Missing, ", "))
}

// ModelLoadError represents an unreadable or incompatible model artifact
type ModelLoadError struct {
	Path   string
	Reason string
	Err    error
}

func (e *ModelLoadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to load model %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("failed to load model %s: %s", e.Path, e.Reason)
}

func (e *ModelLoadError) Unwrap() error {
	return e.Err
}

// ValidationError represents a configuration or input validation error
type ValidationError struct {
	Field   string
	Value   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("validation error for %s (%s): %s", e.Field, e.Value, e.Message)
	}
	return fmt.Sprintf("validation error for %s: %s", e.Field, e.Message)
}

// StorageError represents a storage operation error
type StorageError struct {
	Operation string
	Path      string
	Err       error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error during %s at %s: %v", e.Operation, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// DataError represents insufficient or malformed data
type DataError struct {
	DataType string
	Message  string
}

func (e *DataError) Error() string {
	return fmt.Sprintf("data error for %s: %s", e.DataType, e.Message)
}

// ConfigError lists every problem found while validating a configuration
type ConfigError struct {
	Problems []string
}

func (e *ConfigError) Error() string {
	return "configuration validation failed:\n  - " + strings.Join(e.Problems, "\n  - ")
}
