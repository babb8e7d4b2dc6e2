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

// Package aggregate implements a streaming group-by stage for input that is
// already sorted on the grouping columns.
//
// Group boundaries are detected by a change of the group key between
// consecutive rows. When a group closes, every configured aggregate is
// computed once and either one summary row (the group's last row merged
// with the aggregates) or every row of the group, each merged with the same
// aggregates, is emitted downstream.
//
// Example:
//
//	agg, err := aggregate.New(aggregate.Config{
//		Group: []string{"day"},
//		Aggregations: aggregate.Spec{
//			"total": {Function: aggregate.KindSum, SourceColumn: "amt"},
//			"n":     {Function: aggregate.KindCount, SourceColumn: "amt"},
//		},
//	})
//	if err != nil { return err }
//	err = aggregate.Run(ctx, source, sink, agg)
package aggregate

import (
	"context"
	"fmt"

	"github.com/aaronlmathis/goetl-agg/core"
	"github.com/aaronlmathis/goetl-agg/logger"
)

// State is the lifecycle state of an Aggregator.
type State int

const (
	// StateInit means no group is open yet.
	StateInit State = iota
	// StateAccumulating means a group is open with at least one row.
	StateAccumulating
	// StateFlushing means a boundary was seen and the group is being emitted.
	StateFlushing
	// StateTerminated means the stream ended or a fatal error occurred.
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateAccumulating:
		return "accumulating"
	case StateFlushing:
		return "flushing"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Stats holds counters for the current run.
type Stats struct {
	RowsIn  int64
	RowsOut int64
	Groups  int64
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithLogger sets the logger used for diagnostics.
func WithLogger(l logger.Logger) Option {
	return func(a *Aggregator) {
		if l != nil {
			a.log = l
		}
	}
}

// Aggregator is the group-by state machine. It is not safe for concurrent
// use; a single goroutine feeds it rows in stream order.
type Aggregator struct {
	cfg   Config
	name  string
	acc   *GroupAccumulator
	log   logger.Logger
	state State
	key   []interface{}
	err   error
	stats Stats
}

// New validates cfg and returns an Aggregator ready for a run.
func New(cfg Config, opts ...Option) (*Aggregator, error) {
	cfg = cfg.clone()
	cfg.Name = cfg.displayName()
	acc, err := NewGroupAccumulator(cfg)
	if err != nil {
		return nil, err
	}
	a := &Aggregator{
		cfg:  cfg,
		name: cfg.Name,
		acc:  acc,
		log:  logger.GetDefault(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Config returns the configuration the aggregator was built with.
func (a *Aggregator) Config() Config { return a.cfg.clone() }

// State returns the current lifecycle state.
func (a *Aggregator) State() State { return a.state }

// Stats returns the counters of the current run.
func (a *Aggregator) Stats() Stats { return a.stats }

// Err returns the fatal error that terminated the run, if any.
func (a *Aggregator) Err() error { return a.err }

// Add feeds the next row of the stream. It returns the rows emitted by a
// group boundary, which is empty while the row extends the open group.
func (a *Aggregator) Add(ctx context.Context, row core.Record) ([]core.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if a.state == StateTerminated {
		return nil, a.terminatedErr()
	}
	a.stats.RowsIn++

	if a.state == StateInit {
		if err := a.checkSchema(row); err != nil {
			return nil, a.fail(err)
		}
		if err := a.open(row); err != nil {
			return nil, a.fail(err)
		}
		return nil, nil
	}

	key := a.extractKey(row)
	if keysEqual(key, a.key) {
		if err := a.acc.Add(row); err != nil {
			return nil, a.fail(err)
		}
		return nil, nil
	}

	out, err := a.flush()
	if err != nil {
		return nil, a.fail(err)
	}
	if err := a.open(row); err != nil {
		return nil, a.fail(err)
	}
	return out, nil
}

// Finish signals end of stream. The open group, if any, is flushed and the
// aggregator terminates. An empty stream finishes with no rows.
func (a *Aggregator) Finish(ctx context.Context) ([]core.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if a.state == StateTerminated {
		return nil, a.terminatedErr()
	}

	var out []core.Record
	if a.state == StateAccumulating {
		var err error
		if out, err = a.flush(); err != nil {
			return nil, a.fail(err)
		}
	}
	a.state = StateTerminated
	a.log.Info("aggregator %s: finished, %d rows in, %d groups, %d rows out",
		a.name, a.stats.RowsIn, a.stats.Groups, a.stats.RowsOut)
	return out, nil
}

// Reset discards all run state so the aggregator can process a new stream.
func (a *Aggregator) Reset() {
	a.acc.reset()
	a.state = StateInit
	a.key = nil
	a.err = nil
	a.stats = Stats{}
}

// checkSchema verifies on the first row that every group and source column
// exists.
func (a *Aggregator) checkSchema(row core.Record) error {
	for _, col := range a.cfg.Group {
		if _, ok := row[col]; !ok {
			return &Error{Name: a.name, Op: OpSchema, Column: col, Err: ErrMissingColumn}
		}
	}
	for _, col := range a.acc.SourceColumns() {
		if _, ok := row[col]; !ok {
			return &Error{Name: a.name, Op: OpSchema, Column: col, Err: ErrMissingColumn}
		}
	}
	return nil
}

func (a *Aggregator) open(row core.Record) error {
	if err := a.acc.Add(row); err != nil {
		return err
	}
	a.key = a.extractKey(row)
	a.state = StateAccumulating
	return nil
}

// flush finalizes the open group and builds its output rows.
func (a *Aggregator) flush() ([]core.Record, error) {
	a.state = StateFlushing
	n := a.acc.Len()
	result, rows, err := a.acc.Finalize()
	if err != nil {
		return nil, err
	}
	out := make([]core.Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, core.Merge(row, result))
	}
	a.stats.Groups++
	a.stats.RowsOut += int64(len(out))
	a.log.Debug("aggregator %s: group %v closed with %d rows", a.name, a.key, n)
	return out, nil
}

func (a *Aggregator) fail(err error) error {
	a.state = StateTerminated
	a.err = err
	a.log.Error("%v", err)
	return err
}

func (a *Aggregator) terminatedErr() error {
	if a.err != nil {
		return a.err
	}
	return fmt.Errorf("aggregator %s: %w", a.name, ErrTerminated)
}

func (a *Aggregator) extractKey(row core.Record) []interface{} {
	key := make([]interface{}, len(a.cfg.Group))
	for i, col := range a.cfg.Group {
		key[i] = row[col]
	}
	return key
}

func keysEqual(a, b []interface{}) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !core.ValuesEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}
