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

package transform

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/aaronlmathis/goetl-agg/core"
)

// Package transform provides per-record transformers. Before aggregation they
// normalize source columns (numeric coercion, time parsing); after it they
// shape emitted rows (selection, renaming, rounding). Every transformer
// returns a new record and never modifies its input.

// mapFields copies record and replaces each listed field that is present
// and non-nil with fn(value). Nulls pass through untouched.
func mapFields(fields []string, fn func(field string, value interface{}) (interface{}, error)) core.Transformer {
	return core.TransformFunc(func(ctx context.Context, record core.Record) (core.Record, error) {
		result := record.Clone()
		for _, field := range fields {
			value, exists := record[field]
			if !exists || value == nil {
				continue
			}
			converted, err := fn(field, value)
			if err != nil {
				return nil, err
			}
			result[field] = converted
		}
		return result, nil
	})
}

// Select keeps only the listed fields.
func Select(fields ...string) core.Transformer {
	return core.TransformFunc(func(ctx context.Context, record core.Record) (core.Record, error) {
		result := make(core.Record, len(fields))
		for _, field := range fields {
			if value, exists := record[field]; exists {
				result[field] = value
			}
		}
		return result, nil
	})
}

// Rename renames fields according to mapping (old name to new name).
func Rename(mapping map[string]string) core.Transformer {
	return core.TransformFunc(func(ctx context.Context, record core.Record) (core.Record, error) {
		result := make(core.Record, len(record))
		for key, value := range record {
			if newKey, exists := mapping[key]; exists {
				result[newKey] = value
			} else {
				result[key] = value
			}
		}
		return result, nil
	})
}

// AddField sets field to the value computed by fn from the record.
func AddField(field string, fn func(core.Record) interface{}) core.Transformer {
	return core.TransformFunc(func(ctx context.Context, record core.Record) (core.Record, error) {
		return core.Merge(record, core.Record{field: fn(record)}), nil
	})
}

// RemoveFields drops the listed fields.
func RemoveFields(fields ...string) core.Transformer {
	drop := make(map[string]bool, len(fields))
	for _, field := range fields {
		drop[field] = true
	}
	return core.TransformFunc(func(ctx context.Context, record core.Record) (core.Record, error) {
		result := make(core.Record, len(record))
		for k, v := range record {
			if !drop[k] {
				result[k] = v
			}
		}
		return result, nil
	})
}

// ToFloat converts the listed fields to float64.
func ToFloat(fields ...string) core.Transformer {
	return mapFields(fields, func(field string, value interface{}) (interface{}, error) {
		f, err := core.ToFloat64(value)
		if err != nil {
			return nil, fmt.Errorf("convert field %s: %w", field, err)
		}
		return f, nil
	})
}

// ToInt converts the listed fields to int64.
func ToInt(fields ...string) core.Transformer {
	return mapFields(fields, func(field string, value interface{}) (interface{}, error) {
		if s, ok := value.(string); ok {
			value = strings.TrimSpace(s)
		}
		n, err := cast.ToInt64E(value)
		if err != nil {
			return nil, fmt.Errorf("convert field %s: %w", field, err)
		}
		return n, nil
	})
}

// ToString converts the listed fields to strings.
func ToString(fields ...string) core.Transformer {
	return mapFields(fields, func(field string, value interface{}) (interface{}, error) {
		s, err := cast.ToStringE(value)
		if err != nil {
			return nil, fmt.Errorf("convert field %s: %w", field, err)
		}
		return s, nil
	})
}

// ParseTime parses string fields with layout. Values that are already
// times are kept.
func ParseTime(layout string, fields ...string) core.Transformer {
	return mapFields(fields, func(field string, value interface{}) (interface{}, error) {
		switch v := value.(type) {
		case time.Time:
			return v, nil
		case string:
			t, err := time.Parse(layout, strings.TrimSpace(v))
			if err != nil {
				return nil, fmt.Errorf("parse time field %s: %w", field, err)
			}
			return t, nil
		}
		return nil, fmt.Errorf("parse time field %s: unexpected %T", field, value)
	})
}

// TrimSpace trims whitespace from the listed string fields.
func TrimSpace(fields ...string) core.Transformer {
	return mapFields(fields, func(_ string, value interface{}) (interface{}, error) {
		if s, ok := value.(string); ok {
			return strings.TrimSpace(s), nil
		}
		return value, nil
	})
}

// Round rounds the listed numeric fields to places decimal places.
// Typically applied to aggregate outputs.
func Round(places int, fields ...string) core.Transformer {
	scale := math.Pow(10, float64(places))
	return mapFields(fields, func(field string, value interface{}) (interface{}, error) {
		f, err := core.ToFloat64(value)
		if err != nil {
			return nil, fmt.Errorf("round field %s: %w", field, err)
		}
		return math.Round(f*scale) / scale, nil
	})
}
