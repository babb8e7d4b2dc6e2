//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Copyright (C) 2025 Aaron Mathis aaron.mathis@gmail.com
//
// This file is part of GoETL.
//
// GoETL is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// GoETL is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with GoETL. If not, see https://www.gnu.org/licenses/.

package goetl

import (
	"github.com/aaronlmathis/goetl-agg/core"
)

// Package goetl is the pipeline entry point of the GoETL aggregation stage.
//
// The types below are aliases of the core package so pipelines can be
// assembled from the root import alone while readers, writers, filters and
// the aggregate package depend only on core.

// Record represents a single data record in the pipeline.
type Record = core.Record

// DataSource streams records into a pipeline.
type DataSource = core.DataSource

// DataSink receives records from a pipeline.
type DataSink = core.DataSink

// Transformer modifies records as they pass through the pipeline.
type Transformer = core.Transformer

// TransformFunc is a function adapter for the Transformer interface.
type TransformFunc = core.TransformFunc

// Filter decides whether a record continues down the pipeline.
type Filter = core.Filter

// FilterFunc is a function adapter for the Filter interface.
type FilterFunc = core.FilterFunc

// ErrorStrategy defines how to handle recoverable record errors.
type ErrorStrategy = core.ErrorStrategy

// Error strategies.
const (
	FailFast      = core.FailFast
	SkipErrors    = core.SkipErrors
	CollectErrors = core.CollectErrors
)

// ErrorHandler defines how errors are handled during processing.
type ErrorHandler = core.ErrorHandler

// ErrorHandlerFunc is a function adapter for the ErrorHandler interface.
type ErrorHandlerFunc = core.ErrorHandlerFunc
