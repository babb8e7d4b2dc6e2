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

package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// Package core value helpers.
//
// Rows carry loosely typed values: readers produce int, int64, float64,
// json.Number, string, bool and time.Time. These helpers give the rest of
// the module one definition of numeric coercion, ordering and equality.

var (
	// ErrNotNumeric is returned when a value cannot be used as a number.
	ErrNotNumeric = errors.New("value is not numeric")
	// ErrIncomparable is returned when two values have no common ordering.
	ErrIncomparable = errors.New("values are not comparable")
)

// IsNumeric reports whether v holds a Go numeric type or a json.Number.
func IsNumeric(v interface{}) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64, json.Number:
		return true
	}
	return false
}

func isInteger(v interface{}) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint8, uint16, uint32:
		return true
	}
	return false
}

// ToFloat64 converts a numeric value (or a numeric string) to float64.
// nil, booleans and times are rejected rather than silently coerced.
func ToFloat64(v interface{}) (float64, error) {
	switch v.(type) {
	case nil, bool, time.Time:
		return 0, fmt.Errorf("%w: %T", ErrNotNumeric, v)
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrNotNumeric, err)
	}
	return f, nil
}

// CompareValues orders two non-nil values. Numbers compare numerically
// across Go types, strings lexicographically, times chronologically and
// booleans false before true. Any other pairing is ErrIncomparable.
func CompareValues(a, b interface{}) (int, error) {
	switch {
	case isInteger(a) && isInteger(b):
		x, y := cast.ToInt64(a), cast.ToInt64(b)
		return compareOrdered(x, y), nil
	case IsNumeric(a) && IsNumeric(b):
		x, err := ToFloat64(a)
		if err != nil {
			return 0, err
		}
		y, err := ToFloat64(b)
		if err != nil {
			return 0, err
		}
		return compareOrdered(x, y), nil
	}

	switch va := a.(type) {
	case string:
		if vb, ok := b.(string); ok {
			return strings.Compare(va, vb), nil
		}
	case time.Time:
		if vb, ok := b.(time.Time); ok {
			return va.Compare(vb), nil
		}
	case bool:
		if vb, ok := b.(bool); ok {
			switch {
			case va == vb:
				return 0, nil
			case !va:
				return -1, nil
			default:
				return 1, nil
			}
		}
	}
	return 0, fmt.Errorf("%w: %T and %T", ErrIncomparable, a, b)
}

func compareOrdered[T int64 | float64](x, y T) int {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}

// ValuesEqual reports whether two values are equal by value. Numbers are
// equal when numerically equal (1 == int64(1) == 1.0), times when they
// denote the same instant.
func ValuesEqual(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if IsNumeric(a) && IsNumeric(b) {
		c, err := CompareValues(a, b)
		return err == nil && c == 0
	}
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		return ok && ta.Equal(tb)
	}
	return reflect.DeepEqual(a, b)
}
