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

// GroupBy is a fluent builder for aggregation configs.
//
//	agg, err := aggregate.NewGroupBy("day").
//		Sum("amt", "total").
//		Count("n").
//		Build()
type GroupBy struct {
	cfg Config
}

// NewGroupBy starts a config grouping on the given columns.
func NewGroupBy(groupFields ...string) *GroupBy {
	return &GroupBy{cfg: Config{
		Name:         DefaultName,
		Group:        groupFields,
		Aggregations: make(Spec),
	}}
}

// Named sets the diagnostic name.
func (g *GroupBy) Named(name string) *GroupBy {
	g.cfg.Name = name
	return g
}

// NullIsZero treats null source values as zero.
func (g *GroupBy) NullIsZero(enabled bool) *GroupBy {
	g.cfg.NullIsZero = enabled
	return g
}

// ReturnAll emits every input row instead of one row per group.
func (g *GroupBy) ReturnAll(enabled bool) *GroupBy {
	g.cfg.ReturnAll = enabled
	return g
}

func (g *GroupBy) add(kind Kind, field, outputField string) *GroupBy {
	g.cfg.Aggregations[outputField] = Descriptor{Function: kind, SourceColumn: field}
	return g
}

// Count adds the group row count as outputField.
func (g *GroupBy) Count(outputField string) *GroupBy { return g.add(KindCount, "", outputField) }

// Sum adds the sum of field.
func (g *GroupBy) Sum(field, outputField string) *GroupBy { return g.add(KindSum, field, outputField) }

// Avg adds the average of field.
func (g *GroupBy) Avg(field, outputField string) *GroupBy { return g.add(KindAvg, field, outputField) }

// Min adds the smallest value of field.
func (g *GroupBy) Min(field, outputField string) *GroupBy { return g.add(KindMin, field, outputField) }

// Max adds the largest value of field.
func (g *GroupBy) Max(field, outputField string) *GroupBy { return g.add(KindMax, field, outputField) }

// First adds the value of field on the group's first row.
func (g *GroupBy) First(field, outputField string) *GroupBy {
	return g.add(KindFirst, field, outputField)
}

// Last adds the value of field on the group's last row.
func (g *GroupBy) Last(field, outputField string) *GroupBy { return g.add(KindLast, field, outputField) }

// Median adds the median of field.
func (g *GroupBy) Median(field, outputField string) *GroupBy {
	return g.add(KindMedian, field, outputField)
}

// StdDev adds the sample standard deviation of field.
func (g *GroupBy) StdDev(field, outputField string) *GroupBy {
	return g.add(KindStdDev, field, outputField)
}

// Variance adds the sample variance of field.
func (g *GroupBy) Variance(field, outputField string) *GroupBy {
	return g.add(KindVariance, field, outputField)
}

// Mode adds the most frequent value of field.
func (g *GroupBy) Mode(field, outputField string) *GroupBy { return g.add(KindMode, field, outputField) }

// Percentile adds the p-th percentile of field.
func (g *GroupBy) Percentile(field string, p float64, outputField string) *GroupBy {
	g.cfg.Aggregations[outputField] = Descriptor{
		Function:     KindPercentile,
		SourceColumn: field,
		Params:       map[string]interface{}{ParamPercentile: p},
	}
	return g
}

// Config returns the config built so far.
func (g *GroupBy) Config() Config {
	return g.cfg
}

// Build validates the config and returns an Aggregator.
func (g *GroupBy) Build(opts ...Option) (*Aggregator, error) {
	return New(g.cfg, opts...)
}
