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
	"sort"

	"github.com/aaronlmathis/goetl-agg/core"
)

// columnStats holds what the configured functions need from one source
// column of the open group.
type columnStats struct {
	first, last interface{}
	sum         float64
	nonNull     int
	values      []interface{}
}

type columnPlan struct {
	name    string
	collect bool // keep the value sequence
	summing bool // keep a running sum
}

// GroupAccumulator collects the rows of the open group and keeps, per
// referenced source column, only the statistics its functions read: a
// running sum for SUM/AVG, the value sequence for MIN/MAX/MEDIAN/
// PERCENTILE/STDDEV/VARIANCE/MODE, and the first/last values for
// FIRST/LAST. Whole rows are retained only when every row is re-emitted.
type GroupAccumulator struct {
	name       string
	spec       Spec
	outputs    []string
	nullIsZero bool
	returnAll  bool
	plans      []columnPlan

	count   int
	columns map[string]*columnStats
	rows    []core.Record
	last    core.Record
}

// NewGroupAccumulator validates cfg and prepares an empty accumulator.
func NewGroupAccumulator(cfg Config) (*GroupAccumulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.clone()
	g := &GroupAccumulator{
		name:       cfg.displayName(),
		spec:       cfg.Aggregations,
		outputs:    cfg.Aggregations.OutputColumns(),
		nullIsZero: cfg.NullIsZero,
		returnAll:  cfg.ReturnAll,
		plans:      planColumns(cfg.Aggregations),
	}
	g.reset()
	return g, nil
}

// planColumns merges the needs of every function per distinct source column.
func planColumns(spec Spec) []columnPlan {
	byName := make(map[string]*columnPlan)
	for _, d := range spec {
		if d.SourceColumn == "" {
			continue
		}
		p, ok := byName[d.SourceColumn]
		if !ok {
			p = &columnPlan{name: d.SourceColumn}
			byName[d.SourceColumn] = p
		}
		p.collect = p.collect || d.Function.needsValues()
		p.summing = p.summing || d.Function.needsSum()
	}
	plans := make([]columnPlan, 0, len(byName))
	for _, p := range byName {
		plans = append(plans, *p)
	}
	sort.Slice(plans, func(i, j int) bool { return plans[i].name < plans[j].name })
	return plans
}

// SourceColumns returns the distinct source columns the spec references.
func (g *GroupAccumulator) SourceColumns() []string {
	cols := make([]string, len(g.plans))
	for i, p := range g.plans {
		cols[i] = p.name
	}
	return cols
}

// Len returns the number of rows in the open group.
func (g *GroupAccumulator) Len() int {
	return g.count
}

// Add appends a row to the open group. The row is copied, so later changes
// by the caller are not observed.
func (g *GroupAccumulator) Add(row core.Record) error {
	row = row.Clone()
	for _, p := range g.plans {
		st := g.columns[p.name]
		v := row[p.name]
		if g.count == 0 {
			st.first = v
		}
		st.last = v

		if v == nil {
			if !g.nullIsZero {
				continue
			}
			v = 0
		}
		if p.summing {
			f, err := core.ToFloat64(v)
			if err != nil {
				return &Error{Name: g.name, Op: OpValue, Column: p.name, Err: err}
			}
			st.sum += f
			st.nonNull++
		}
		if p.collect {
			st.values = append(st.values, v)
		}
	}
	g.count++
	g.last = row
	if g.returnAll {
		g.rows = append(g.rows, row)
	}
	return nil
}

// Finalize computes every configured aggregate exactly once and returns it
// with the rows retained for output: every row when return_all is set,
// otherwise only the last one. The accumulator is empty afterwards.
func (g *GroupAccumulator) Finalize() (core.Record, []core.Record, error) {
	defer g.reset()
	if g.count == 0 {
		return nil, nil, nil
	}

	result := make(core.Record, len(g.outputs))
	for _, out := range g.outputs {
		d := g.spec[out]
		var st *columnStats
		if d.SourceColumn != "" {
			st = g.columns[d.SourceColumn]
		}
		v, err := functions[d.Function](g.count, st, d)
		if err != nil {
			return nil, nil, &Error{Name: g.name, Op: OpValue, Column: out, Err: err}
		}
		result[out] = v
	}

	rows := g.rows
	if !g.returnAll {
		rows = []core.Record{g.last}
	}
	return result, rows, nil
}

func (g *GroupAccumulator) reset() {
	g.count = 0
	g.rows = nil
	g.last = nil
	g.columns = make(map[string]*columnStats, len(g.plans))
	for _, p := range g.plans {
		g.columns[p.name] = &columnStats{}
	}
}
