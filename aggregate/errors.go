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

package aggregate

import (
	"errors"
	"fmt"

	"github.com/aaronlmathis/goetl-agg/core"
)

// Sentinel errors. Every config, schema and value failure also matches
// ErrUnrecoverable through errors.Is.
var (
	ErrUnrecoverable       = errors.New("unrecoverable aggregation error")
	ErrMalformedDescriptor = errors.New("malformed aggregation descriptor")
	ErrUnknownFunction     = errors.New("unknown aggregate function")
	ErrMissingParam        = errors.New("missing required parameter")
	ErrPercentileRange     = errors.New("percentile must be within [0,100]")
	ErrMissingColumn       = errors.New("column not found in row")
	ErrTerminated          = errors.New("aggregator already terminated")
	ErrNotNumeric          = core.ErrNotNumeric
	ErrIncomparable        = core.ErrIncomparable
)

// Error ops.
const (
	OpConfig = "config"
	OpSchema = "schema"
	OpValue  = "value"
)

// Error describes a fatal aggregation failure.
type Error struct {
	Name   string // aggregator name, for diagnostics
	Op     string // OpConfig, OpSchema or OpValue
	Column string // output or source column involved, if any
	Err    error
}

func (e *Error) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("aggregator %s: %s %q: %v", e.Name, e.Op, e.Column, e.Err)
	}
	return fmt.Sprintf("aggregator %s: %s: %v", e.Name, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is makes every *Error match ErrUnrecoverable.
func (e *Error) Is(target error) bool {
	return target == ErrUnrecoverable
}

// IsUnrecoverable reports whether err must halt the run.
func IsUnrecoverable(err error) bool {
	return errors.Is(err, ErrUnrecoverable)
}

func configError(name, column string, err error) error {
	return &Error{Name: name, Op: OpConfig, Column: column, Err: err}
}
