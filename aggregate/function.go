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
	"fmt"
	"sort"
	"strings"

	"github.com/aaronlmathis/goetl-agg/core"
	"github.com/montanaflynn/stats"
)

// Kind identifies an aggregate function.
type Kind int

// Aggregate functions. The numeric values are stable and may be used in
// configs in place of names.
const (
	KindMin Kind = iota
	KindMax
	KindFirst
	KindLast
	KindAvg
	KindMedian
	KindPercentile
	KindSum
	KindStdDev
	KindVariance
	KindCount
	KindMode
)

// Kinds lists every supported function in declaration order.
var Kinds = []Kind{
	KindMin, KindMax, KindFirst, KindLast, KindAvg, KindMedian,
	KindPercentile, KindSum, KindStdDev, KindVariance, KindCount, KindMode,
}

var kindNames = map[Kind]string{
	KindMin:        "min",
	KindMax:        "max",
	KindFirst:      "first",
	KindLast:       "last",
	KindAvg:        "avg",
	KindMedian:     "median",
	KindPercentile: "percentile",
	KindSum:        "sum",
	KindStdDev:     "stddev",
	KindVariance:   "variance",
	KindCount:      "count",
	KindMode:       "mode",
}

var kindAliases = map[string]Kind{
	"average":  KindAvg,
	"mean":     KindAvg,
	"med":      KindMedian,
	"stdev":    KindStdDev,
	"var":      KindVariance,
	"minimum":  KindMin,
	"maximum":  KindMax,
	"total":    KindSum,
	"pct":      KindPercentile,
	"quantile": KindPercentile,
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind resolves a function name. Matching is case-insensitive and an
// AGG_ prefix is ignored, so "sum", "SUM" and "AGG_SUM" are the same kind.
func ParseKind(name string) (Kind, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.TrimPrefix(n, "agg_")
	for k, kn := range kindNames {
		if kn == n {
			return k, nil
		}
	}
	if k, ok := kindAliases[n]; ok {
		return k, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownFunction, name)
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	if _, ok := kindNames[k]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownFunction, int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// needsValues reports whether the function reads the full value sequence.
func (k Kind) needsValues() bool {
	switch k {
	case KindMin, KindMax, KindMedian, KindPercentile, KindStdDev, KindVariance, KindMode:
		return true
	}
	return false
}

// needsSum reports whether the function reads the running sum.
func (k Kind) needsSum() bool {
	return k == KindSum || k == KindAvg
}

// aggFunc computes one aggregate from the finished group. rows is the group
// row count; col is nil only for a COUNT without a source column.
type aggFunc func(rows int, col *columnStats, d Descriptor) (interface{}, error)

var functions = map[Kind]aggFunc{
	KindMin:        extremeOf(-1),
	KindMax:        extremeOf(1),
	KindFirst:      func(_ int, c *columnStats, _ Descriptor) (interface{}, error) { return c.first, nil },
	KindLast:       func(_ int, c *columnStats, _ Descriptor) (interface{}, error) { return c.last, nil },
	KindAvg:        avgOf,
	KindMedian:     medianOf,
	KindPercentile: percentileOf,
	KindSum:        sumOf,
	KindStdDev:     spreadOf(stats.StandardDeviationSample),
	KindVariance:   spreadOf(stats.VarS),
	KindCount:      func(rows int, _ *columnStats, _ Descriptor) (interface{}, error) { return rows, nil },
	KindMode:       modeOf,
}

// extremeOf returns MIN (sign -1) or MAX (sign 1) over the collected values.
func extremeOf(sign int) aggFunc {
	return func(_ int, c *columnStats, _ Descriptor) (interface{}, error) {
		var best interface{}
		for _, v := range c.values {
			if best == nil {
				best = v
				continue
			}
			cmp, err := core.CompareValues(v, best)
			if err != nil {
				return nil, err
			}
			if cmp*sign > 0 {
				best = v
			}
		}
		return best, nil
	}
}

// avgOf divides the sum by the group row count, so AVG == SUM / COUNT.
func avgOf(rows int, c *columnStats, _ Descriptor) (interface{}, error) {
	if c.nonNull == 0 {
		return nil, nil
	}
	return c.sum / float64(rows), nil
}

func sumOf(_ int, c *columnStats, _ Descriptor) (interface{}, error) {
	if c.nonNull == 0 {
		return nil, nil
	}
	return c.sum, nil
}

func medianOf(_ int, c *columnStats, _ Descriptor) (interface{}, error) {
	xs, err := floats(c.values)
	if err != nil || len(xs) == 0 {
		return nil, err
	}
	return stats.Median(xs)
}

func percentileOf(_ int, c *columnStats, d Descriptor) (interface{}, error) {
	sorted, err := sortedFloats(c.values)
	if err != nil || len(sorted) == 0 {
		return nil, err
	}
	p, _ := d.Percentile()
	return percentile(sorted, p), nil
}

// spreadOf wraps a sample (N-1) dispersion measure. A single value has no
// spread and yields 0.0 rather than the library's error.
func spreadOf(fn func(stats.Float64Data) (float64, error)) aggFunc {
	return func(_ int, c *columnStats, _ Descriptor) (interface{}, error) {
		xs, err := floats(c.values)
		if err != nil {
			return nil, err
		}
		switch len(xs) {
		case 0:
			return nil, nil
		case 1:
			return 0.0, nil
		}
		return fn(xs)
	}
}

// modeOf returns the most frequent value; ties go to the value seen first.
func modeOf(_ int, c *columnStats, _ Descriptor) (interface{}, error) {
	counts := make(map[string]int, len(c.values))
	keys := make([]string, len(c.values))
	top := 0
	for i, v := range c.values {
		keys[i] = fmt.Sprintf("%T:%v", v, v)
		counts[keys[i]]++
		if counts[keys[i]] > top {
			top = counts[keys[i]]
		}
	}
	for i, v := range c.values {
		if counts[keys[i]] == top {
			return v, nil
		}
	}
	return nil, nil
}

func floats(values []interface{}) ([]float64, error) {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		f, err := core.ToFloat64(v)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

func sortedFloats(values []interface{}) ([]float64, error) {
	xs, err := floats(values)
	if err != nil {
		return nil, err
	}
	sort.Float64s(xs)
	return xs, nil
}
