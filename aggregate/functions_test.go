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
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFunctions_SampleStatistics(t *testing.T) {
	col := colStats(2.0, 4.0, 4.0, 4.0, 5.0, 5.0, 7.0, 9.0)

	got, err := functions[KindVariance](8, col, Descriptor{Function: KindVariance})
	require.NoError(t, err)
	assert.InDelta(t, 32.0/7.0, got, 1e-12)

	got, err = functions[KindStdDev](8, col, Descriptor{Function: KindStdDev})
	require.NoError(t, err)
	assert.InDelta(t, math.Sqrt(32.0/7.0), got, 1e-12)

	got, err = functions[KindMedian](8, col, Descriptor{Function: KindMedian})
	require.NoError(t, err)
	assert.Equal(t, 4.5, got)
}

func TestFunctions_MedianAndSpreadUnsortedInput(t *testing.T) {
	col := colStats(11.0, 1.0, 7.0, 2.0, 4.0)

	got, err := functions[KindMedian](5, col, Descriptor{Function: KindMedian})
	require.NoError(t, err)
	assert.Equal(t, 4.0, got)

	got, err = functions[KindVariance](5, col, Descriptor{Function: KindVariance})
	require.NoError(t, err)
	assert.InDelta(t, 16.5, got, 1e-12)

	got, err = functions[KindStdDev](5, col, Descriptor{Function: KindStdDev})
	require.NoError(t, err)
	assert.InDelta(t, 4.06201920231798, got, 1e-12)

	// Stored values keep arrival order for FIRST/LAST.
	assert.Equal(t, 11.0, col.values[0])
}

func TestPercentile(t *testing.T) {
	sorted := []float64{10, 20, 30, 40, 50}

	tests := []struct {
		p    float64
		want float64
	}{
		{0, 10},
		{25, 20},
		{50, 30},
		{90, 46},
		{100, 50},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, percentile(sorted, tt.p), 1e-9, "p=%v", tt.p)
	}
	assert.Equal(t, 7.0, percentile([]float64{7}, 33))
}

func TestFunctions_EveryKindHasImplementation(t *testing.T) {
	for _, k := range Kinds {
		_, ok := functions[k]
		assert.True(t, ok, "no function for %s", k)
	}
	assert.Len(t, functions, len(Kinds))
}

func colStats(values ...interface{}) *columnStats {
	c := &columnStats{values: values}
	if len(values) > 0 {
		c.first, c.last = values[0], values[len(values)-1]
	}
	for _, v := range values {
		if f, ok := v.(float64); ok {
			c.sum += f
			c.nonNull++
		}
	}
	return c
}

func TestFunctions_Values(t *testing.T) {
	col := colStats(3.0, 1.0, 4.0, 1.0, 5.0)
	pct := Descriptor{Function: KindPercentile, Params: map[string]interface{}{ParamPercentile: 50}}

	tests := []struct {
		kind Kind
		d    Descriptor
		want interface{}
	}{
		{KindMin, Descriptor{}, 1.0},
		{KindMax, Descriptor{}, 5.0},
		{KindFirst, Descriptor{}, 3.0},
		{KindLast, Descriptor{}, 5.0},
		{KindSum, Descriptor{}, 14.0},
		{KindAvg, Descriptor{}, 2.8},
		{KindMedian, Descriptor{}, 3.0},
		{KindPercentile, pct, 3.0},
		{KindCount, Descriptor{}, 5},
		{KindMode, Descriptor{}, 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			got, err := functions[tt.kind](5, col, tt.d)
			require.NoError(t, err)
			assert.InDelta(t, toF(tt.want), toF(got), 1e-9)
		})
	}
}

func toF(v interface{}) float64 {
	switch t := v.(type) {
	case int:
		return float64(t)
	case float64:
		return t
	}
	return math.NaN()
}

func TestFunctions_EmptySet(t *testing.T) {
	empty := &columnStats{}
	for _, k := range []Kind{KindMin, KindMax, KindAvg, KindSum, KindMedian, KindStdDev, KindVariance, KindMode} {
		got, err := functions[k](2, empty, Descriptor{})
		require.NoError(t, err, k.String())
		assert.Nil(t, got, k.String())
	}
	got, err := functions[KindPercentile](2, empty, Descriptor{Params: map[string]interface{}{ParamPercentile: 10}})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestFunctions_SingleValueSpread(t *testing.T) {
	one := colStats(42.0)
	for _, k := range []Kind{KindStdDev, KindVariance} {
		got, err := functions[k](1, one, Descriptor{})
		require.NoError(t, err)
		assert.Equal(t, 0.0, got)
	}
}

func TestFunctions_MinMaxKeepOriginalType(t *testing.T) {
	col := colStats("pear", "apple", "quince")
	lo, err := functions[KindMin](3, col, Descriptor{})
	require.NoError(t, err)
	hi, err := functions[KindMax](3, col, Descriptor{})
	require.NoError(t, err)
	assert.Equal(t, "apple", lo)
	assert.Equal(t, "quince", hi)

	mixed := colStats(int64(3), 2.5, 7)
	lo, err = functions[KindMin](3, mixed, Descriptor{})
	require.NoError(t, err)
	assert.Equal(t, 2.5, lo)
	hi, err = functions[KindMax](3, mixed, Descriptor{})
	require.NoError(t, err)
	assert.Equal(t, 7, hi)
}

func TestFunctions_Incomparable(t *testing.T) {
	_, err := functions[KindMax](2, colStats(1, "a"), Descriptor{})
	assert.ErrorIs(t, err, ErrIncomparable)

	_, err = functions[KindMedian](2, colStats(1.0, "a"), Descriptor{})
	assert.ErrorIs(t, err, ErrNotNumeric)
}

func TestFunctions_ModeTieGoesToFirstSeen(t *testing.T) {
	got, err := functions[KindMode](4, colStats("b", "a", "a", "b"), Descriptor{})
	require.NoError(t, err)
	assert.Equal(t, "b", got)

	got, err = functions[KindMode](3, colStats(1, int64(1), int64(1)), Descriptor{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), got, "values of different types are distinct")
}

func TestParseKind(t *testing.T) {
	tests := map[string]Kind{
		"sum":            KindSum,
		"SUM":            KindSum,
		"AGG_SUM":        KindSum,
		" agg_avg ":      KindAvg,
		"mean":           KindAvg,
		"AGG_PERCENTILE": KindPercentile,
		"stdev":          KindStdDev,
		"mode":           KindMode,
	}
	for in, want := range tests {
		got, err := ParseKind(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseKind("AGG_GEOMEAN")
	assert.ErrorIs(t, err, ErrUnknownFunction)
}

func TestKind_TextRoundTrip(t *testing.T) {
	for _, k := range Kinds {
		text, err := k.MarshalText()
		require.NoError(t, err)
		var back Kind
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, k, back)
	}
	_, err := Kind(99).MarshalText()
	assert.ErrorIs(t, err, ErrUnknownFunction)
}

func TestKindNumbering(t *testing.T) {
	assert.Equal(t, 0, int(KindMin))
	assert.Equal(t, 6, int(KindPercentile))
	assert.Equal(t, 10, int(KindCount))
}
