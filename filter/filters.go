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

package filter

import (
	"context"
	"regexp"

	"github.com/aaronlmathis/goetl-agg/core"
)

// Package filter provides composable record filters. In a pipeline they run
// either before the aggregate stage (Filter) or on its emitted rows
// (Having), which is how conditional aggregation such as "sum where x>100"
// is expressed.

// onField builds a filter that excludes records missing field and applies
// test to the value otherwise.
func onField(field string, test func(value interface{}) bool) core.Filter {
	return core.FilterFunc(func(ctx context.Context, record core.Record) (bool, error) {
		value, exists := record[field]
		if !exists {
			return false, nil
		}
		return test(value), nil
	})
}

// onNumber is onField for numeric comparisons. Null and non-numeric values
// are excluded.
func onNumber(field string, test func(float64) bool) core.Filter {
	return onField(field, func(value interface{}) bool {
		if value == nil {
			return false
		}
		num, err := core.ToFloat64(value)
		if err != nil {
			return false
		}
		return test(num)
	})
}

// NotNull excludes records where field is missing, nil or an empty string.
func NotNull(field string) core.Filter {
	return onField(field, func(value interface{}) bool {
		if value == nil {
			return false
		}
		if str, ok := value.(string); ok && str == "" {
			return false
		}
		return true
	})
}

// Equals includes records where field equals expected by value, so 1,
// int64(1) and 1.0 all match each other.
func Equals(field string, expected interface{}) core.Filter {
	return onField(field, func(value interface{}) bool {
		return core.ValuesEqual(value, expected)
	})
}

// In includes records whose field equals one of values.
func In(field string, values ...interface{}) core.Filter {
	return onField(field, func(value interface{}) bool {
		for _, v := range values {
			if core.ValuesEqual(value, v) {
				return true
			}
		}
		return false
	})
}

// MatchesRegex includes records where the string field matches pattern.
// It panics if pattern does not compile.
func MatchesRegex(field, pattern string) core.Filter {
	re := regexp.MustCompile(pattern)
	return onField(field, func(value interface{}) bool {
		str, ok := value.(string)
		return ok && re.MatchString(str)
	})
}

// GreaterThan includes records where the numeric field is greater than threshold.
func GreaterThan(field string, threshold float64) core.Filter {
	return onNumber(field, func(n float64) bool { return n > threshold })
}

// LessThan includes records where the numeric field is less than threshold.
func LessThan(field string, threshold float64) core.Filter {
	return onNumber(field, func(n float64) bool { return n < threshold })
}

// Between includes records where the numeric field is within [min, max].
func Between(field string, min, max float64) core.Filter {
	return onNumber(field, func(n float64) bool { return n >= min && n <= max })
}

// And requires all filters to pass.
func And(filters ...core.Filter) core.Filter {
	return core.FilterFunc(func(ctx context.Context, record core.Record) (bool, error) {
		for _, filter := range filters {
			include, err := filter.ShouldInclude(ctx, record)
			if err != nil || !include {
				return false, err
			}
		}
		return true, nil
	})
}

// Or requires at least one filter to pass.
func Or(filters ...core.Filter) core.Filter {
	return core.FilterFunc(func(ctx context.Context, record core.Record) (bool, error) {
		for _, filter := range filters {
			include, err := filter.ShouldInclude(ctx, record)
			if err != nil {
				return false, err
			}
			if include {
				return true, nil
			}
		}
		return false, nil
	})
}

// Not negates filter.
func Not(filter core.Filter) core.Filter {
	return core.FilterFunc(func(ctx context.Context, record core.Record) (bool, error) {
		include, err := filter.ShouldInclude(ctx, record)
		if err != nil {
			return false, err
		}
		return !include, nil
	})
}

// Custom wraps a plain predicate.
func Custom(predicate func(core.Record) bool) core.Filter {
	return core.FilterFunc(func(ctx context.Context, record core.Record) (bool, error) {
		return predicate(record), nil
	})
}
