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
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronlmathis/goetl-agg/core"
	"github.com/aaronlmathis/goetl-agg/logger"
)

func quiet() Option {
	return WithLogger(logger.NewDiscardLogger())
}

// feed runs records through agg and returns everything it emitted.
func feed(t *testing.T, agg *Aggregator, records []core.Record) []core.Record {
	t.Helper()
	ctx := context.Background()
	var out []core.Record
	for _, r := range records {
		emitted, err := agg.Add(ctx, r)
		require.NoError(t, err)
		out = append(out, emitted...)
	}
	tail, err := agg.Finish(ctx)
	require.NoError(t, err)
	return append(out, tail...)
}

func dayConfig(returnAll bool) Config {
	return Config{
		Group: []string{"day"},
		Aggregations: Spec{
			"total": {Function: KindSum, SourceColumn: "amt"},
			"n":     {Function: KindCount, SourceColumn: "amt"},
		},
		ReturnAll: returnAll,
	}
}

func TestAggregator_SummaryRowPerGroup(t *testing.T) {
	agg, err := New(dayConfig(false), quiet())
	require.NoError(t, err)

	out := feed(t, agg, []core.Record{
		{"day": 1, "amt": 10},
		{"day": 1, "amt": 20},
		{"day": 2, "amt": 5},
	})

	assert.Equal(t, []core.Record{
		{"day": 1, "amt": 20, "total": 30.0, "n": 2},
		{"day": 2, "amt": 5, "total": 5.0, "n": 1},
	}, out)
	assert.Equal(t, StateTerminated, agg.State())
	assert.Equal(t, Stats{RowsIn: 3, RowsOut: 2, Groups: 2}, agg.Stats())
}

func TestAggregator_ReturnAll(t *testing.T) {
	agg, err := New(dayConfig(true), quiet())
	require.NoError(t, err)

	out := feed(t, agg, []core.Record{
		{"day": 1, "amt": 10, "seq": 1},
		{"day": 1, "amt": 20, "seq": 2},
		{"day": 2, "amt": 5, "seq": 3},
	})

	require.Len(t, out, 3)
	for i, r := range out {
		assert.Equal(t, i+1, r["seq"], "input order is preserved")
	}
	assert.Equal(t, 30.0, out[0]["total"])
	assert.Equal(t, 30.0, out[1]["total"])
	assert.Equal(t, 2, out[0]["n"])
	assert.Equal(t, 2, out[1]["n"])
	assert.Equal(t, 5.0, out[2]["total"])
	assert.Equal(t, 1, out[2]["n"])
}

func TestAggregator_EmptyStream(t *testing.T) {
	agg, err := New(dayConfig(false), quiet())
	require.NoError(t, err)

	out, err := agg.Finish(context.Background())
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Equal(t, StateTerminated, agg.State())
}

func TestAggregator_StateTransitions(t *testing.T) {
	agg, err := New(dayConfig(false), quiet())
	require.NoError(t, err)
	ctx := context.Background()

	assert.Equal(t, StateInit, agg.State())
	_, err = agg.Add(ctx, core.Record{"day": 1, "amt": 1})
	require.NoError(t, err)
	assert.Equal(t, StateAccumulating, agg.State())
	_, err = agg.Add(ctx, core.Record{"day": 2, "amt": 1})
	require.NoError(t, err)
	assert.Equal(t, StateAccumulating, agg.State())
	_, err = agg.Finish(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateTerminated, agg.State())

	_, err = agg.Add(ctx, core.Record{"day": 3, "amt": 1})
	assert.ErrorIs(t, err, ErrTerminated)
	_, err = agg.Finish(ctx)
	assert.ErrorIs(t, err, ErrTerminated)
}

func TestAggregator_MissingSourceColumn(t *testing.T) {
	agg, err := New(dayConfig(false), quiet())
	require.NoError(t, err)
	ctx := context.Background()

	out, err := agg.Add(ctx, core.Record{"day": 1, "amount": 10})
	require.Error(t, err)
	assert.Empty(t, out)
	assert.True(t, IsUnrecoverable(err))
	assert.ErrorIs(t, err, ErrMissingColumn)

	var aggErr *Error
	require.True(t, errors.As(err, &aggErr))
	assert.Equal(t, OpSchema, aggErr.Op)
	assert.Equal(t, "amt", aggErr.Column)
	assert.Equal(t, DefaultName, aggErr.Name)

	// The run is halted: later input reports the same failure.
	_, again := agg.Add(ctx, core.Record{"day": 1, "amt": 10})
	assert.Equal(t, err, again)
	assert.Equal(t, StateTerminated, agg.State())
}

func TestAggregator_MissingGroupColumn(t *testing.T) {
	agg, err := New(dayConfig(false), quiet())
	require.NoError(t, err)

	_, err = agg.Add(context.Background(), core.Record{"date": 1, "amt": 10})
	assert.ErrorIs(t, err, ErrMissingColumn)
	assert.Contains(t, err.Error(), `"day"`)
}

func TestAggregator_NonNumericValueIsFatal(t *testing.T) {
	agg, err := New(dayConfig(false), quiet())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = agg.Add(ctx, core.Record{"day": 1, "amt": 10})
	require.NoError(t, err)
	_, err = agg.Add(ctx, core.Record{"day": 1, "amt": "ten"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotNumeric)
	assert.True(t, IsUnrecoverable(err))
}

func TestAggregator_CountMatchesRunsProperty(t *testing.T) {
	runs := []int{1, 3, 2, 5, 1, 4}
	var input []core.Record
	for g, n := range runs {
		for i := 0; i < n; i++ {
			input = append(input, core.Record{"g": g, "x": float64(i*g + 1)})
		}
	}

	cfg := Config{
		Group: []string{"g"},
		Aggregations: Spec{
			"n":   {Function: KindCount, SourceColumn: "x"},
			"sum": {Function: KindSum, SourceColumn: "x"},
			"avg": {Function: KindAvg, SourceColumn: "x"},
		},
	}

	for _, returnAll := range []bool{false, true} {
		cfg.ReturnAll = returnAll
		agg, err := New(cfg, quiet())
		require.NoError(t, err)
		out := feed(t, agg, input)

		groups := map[interface{}]int{}
		for _, r := range out {
			groups[r["g"]]++
			n := r["n"].(int)
			assert.Equal(t, runs[r["g"].(int)], n)
			assert.InDelta(t, r["sum"].(float64)/float64(n), r["avg"].(float64), 1e-9)
		}
		assert.Len(t, groups, len(runs))
		for g, emitted := range groups {
			if returnAll {
				assert.Equal(t, runs[g.(int)], emitted)
			} else {
				assert.Equal(t, 1, emitted)
			}
		}
	}
}

func TestAggregator_NullPolicy(t *testing.T) {
	input := []core.Record{
		{"g": "a", "x": nil},
		{"g": "a", "x": 4},
		{"g": "a", "x": nil},
		{"g": "b", "x": nil},
	}
	spec := Spec{
		"sum": {Function: KindSum, SourceColumn: "x"},
		"avg": {Function: KindAvg, SourceColumn: "x"},
		"min": {Function: KindMin, SourceColumn: "x"},
		"n":   {Function: KindCount, SourceColumn: "x"},
		"sd":  {Function: KindStdDev, SourceColumn: "x"},
		"med": {Function: KindMedian, SourceColumn: "x"},
	}

	t.Run("nulls excluded", func(t *testing.T) {
		agg, err := New(Config{Group: []string{"g"}, Aggregations: spec}, quiet())
		require.NoError(t, err)
		out := feed(t, agg, input)
		require.Len(t, out, 2)

		a := out[0]
		assert.Equal(t, 4.0, a["sum"])
		assert.InDelta(t, 4.0/3.0, a["avg"], 1e-9)
		assert.Equal(t, 4, a["min"])
		assert.Equal(t, 3, a["n"])
		assert.Equal(t, 0.0, a["sd"], "single value gives zero spread")
		assert.Equal(t, 4.0, a["med"])

		b := out[1]
		assert.Nil(t, b["sum"])
		assert.Nil(t, b["avg"])
		assert.Nil(t, b["min"])
		assert.Nil(t, b["sd"])
		assert.Nil(t, b["med"])
		assert.Equal(t, 1, b["n"])
	})

	t.Run("null is zero", func(t *testing.T) {
		agg, err := New(Config{Group: []string{"g"}, Aggregations: spec, NullIsZero: true}, quiet())
		require.NoError(t, err)
		out := feed(t, agg, input)
		require.Len(t, out, 2)

		a := out[0]
		assert.Equal(t, 4.0, a["sum"])
		assert.InDelta(t, 4.0/3.0, a["avg"], 1e-9)
		assert.Equal(t, 0, a["min"])
		assert.InDelta(t, 2.3094010767585, a["sd"], 1e-9)
		assert.Equal(t, 0.0, a["med"])

		b := out[1]
		assert.Equal(t, 0.0, b["sum"])
		assert.Equal(t, 0.0, b["avg"])
		assert.Equal(t, 0.0, b["sd"])
	})
}

func TestAggregator_FirstLastDependOnOrder(t *testing.T) {
	cfg := Config{
		Group: []string{"g"},
		Aggregations: Spec{
			"first": {Function: KindFirst, SourceColumn: "x"},
			"last":  {Function: KindLast, SourceColumn: "x"},
			"med":   {Function: KindMedian, SourceColumn: "x"},
		},
	}
	forward := []core.Record{{"g": 1, "x": 3}, {"g": 1, "x": 1}, {"g": 1, "x": 2}}
	reversed := []core.Record{{"g": 1, "x": 2}, {"g": 1, "x": 1}, {"g": 1, "x": 3}}

	agg, err := New(cfg, quiet())
	require.NoError(t, err)
	a := feed(t, agg, forward)[0]

	agg, err = New(cfg, quiet())
	require.NoError(t, err)
	b := feed(t, agg, reversed)[0]

	assert.Equal(t, a["med"], b["med"])
	assert.Equal(t, 2.0, a["med"])
	assert.Equal(t, 3, a["first"])
	assert.Equal(t, 2, a["last"])
	assert.Equal(t, 2, b["first"])
	assert.Equal(t, 3, b["last"])
}

func TestAggregator_CallerSpecChangesAfterNew(t *testing.T) {
	params := map[string]interface{}{ParamPercentile: 50}
	group := []string{"g"}
	spec := Spec{
		"m":   {Function: KindMax, SourceColumn: "x"},
		"p50": {Function: KindPercentile, SourceColumn: "x", Params: params},
	}
	agg, err := New(Config{Group: group, Aggregations: spec}, quiet())
	require.NoError(t, err)

	delete(spec, "m")
	spec["extra"] = Descriptor{Function: KindSum, SourceColumn: "y"}
	params[ParamPercentile] = 100
	group[0] = "other"

	out := feed(t, agg, []core.Record{
		{"g": 1, "x": 1.0},
		{"g": 1, "x": 3.0},
		{"g": 1, "x": 2.0},
	})

	require.Len(t, out, 1)
	assert.Equal(t, 3.0, out[0]["m"])
	assert.Equal(t, 2.0, out[0]["p50"])
	assert.NotContains(t, out[0], "extra")
	assert.Equal(t, []string{"m", "p50"}, agg.Config().Aggregations.OutputColumns())
	assert.Equal(t, []string{"g"}, agg.Config().Group)
}

func TestGroupAccumulator_CallerSpecChangesAfterNew(t *testing.T) {
	spec := Spec{"m": {Function: KindMax, SourceColumn: "x"}}
	acc, err := NewGroupAccumulator(Config{Group: []string{"g"}, Aggregations: spec})
	require.NoError(t, err)

	delete(spec, "m")
	require.NoError(t, acc.Add(core.Record{"g": 1, "x": 4.0}))

	result, _, err := acc.Finalize()
	require.NoError(t, err)
	assert.Equal(t, 4.0, result["m"])
}

func TestAggregator_SingleRowGroupsRoundTrip(t *testing.T) {
	input := []core.Record{
		{"id": 1, "v": 10},
		{"id": 2, "v": 20},
		{"id": 3, "v": 30},
	}
	agg, err := NewGroupBy("id").Sum("v", "s").ReturnAll(true).Build(quiet())
	require.NoError(t, err)

	out := feed(t, agg, input)
	require.Len(t, out, len(input))
	for i, r := range out {
		assert.Equal(t, input[i]["id"], r["id"])
		assert.Equal(t, input[i]["v"], r["v"])
		assert.Equal(t, float64(input[i]["v"].(int)), r["s"])
	}
}

func TestAggregator_EmittedRowsAreCopies(t *testing.T) {
	agg, err := New(dayConfig(true), quiet())
	require.NoError(t, err)

	first := core.Record{"day": 1, "amt": 10}
	second := core.Record{"day": 1, "amt": 20}
	ctx := context.Background()

	_, err = agg.Add(ctx, first)
	require.NoError(t, err)
	first["amt"] = 1000 // caller mutation after hand-off is not observed
	_, err = agg.Add(ctx, second)
	require.NoError(t, err)
	out, err := agg.Finish(ctx)
	require.NoError(t, err)

	require.Len(t, out, 2)
	assert.Equal(t, 10, out[0]["amt"])
	assert.Equal(t, 30.0, out[0]["total"])
	assert.NotContains(t, second, "total", "input rows are not annotated in place")

	out[0]["total"] = -1.0
	assert.Equal(t, 30.0, out[1]["total"])
}

func TestAggregator_OutputOverwritesColumn(t *testing.T) {
	agg, err := NewGroupBy("day").Sum("amt", "amt").Build(quiet())
	require.NoError(t, err)

	out := feed(t, agg, []core.Record{{"day": 1, "amt": 2}, {"day": 1, "amt": 3}})
	require.Len(t, out, 1)
	assert.Equal(t, 5.0, out[0]["amt"])
}

func TestAggregator_KeyEqualityByValue(t *testing.T) {
	agg, err := NewGroupBy("k", "sub").Count("n").Build(quiet())
	require.NoError(t, err)

	out := feed(t, agg, []core.Record{
		{"k": 1, "sub": "a"},
		{"k": int64(1), "sub": "a"},
		{"k": 1.0, "sub": "a"},
		{"k": 1, "sub": "b"},
		{"k": nil, "sub": "b"},
		{"k": nil, "sub": "b"},
	})
	require.Len(t, out, 3)
	assert.Equal(t, 3, out[0]["n"])
	assert.Equal(t, 1, out[1]["n"])
	assert.Equal(t, 2, out[2]["n"])
}

func TestAggregator_CancelledContext(t *testing.T) {
	agg, err := New(dayConfig(false), quiet())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	_, err = agg.Add(ctx, core.Record{"day": 1, "amt": 1})
	require.NoError(t, err)
	cancel()

	_, err = agg.Add(ctx, core.Record{"day": 2, "amt": 1})
	assert.ErrorIs(t, err, context.Canceled)
	_, err = agg.Finish(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsUnrecoverable(err))
	assert.Equal(t, StateAccumulating, agg.State(), "no partial group is flushed")
}

func TestAggregator_Reset(t *testing.T) {
	agg, err := New(dayConfig(false), quiet())
	require.NoError(t, err)

	feed(t, agg, []core.Record{{"day": 1, "amt": 1}})
	agg.Reset()
	assert.Equal(t, StateInit, agg.State())
	assert.Equal(t, Stats{}, agg.Stats())

	out := feed(t, agg, []core.Record{{"day": 7, "amt": 2}, {"day": 7, "amt": 3}})
	assert.Equal(t, []core.Record{{"day": 7, "amt": 3, "total": 5.0, "n": 2}}, out)
}

func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(Config{Group: []string{"g"}, Aggregations: Spec{
		"p": {Function: KindPercentile, SourceColumn: "x", Params: map[string]interface{}{"percentile": 150}},
	}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPercentileRange)
	assert.True(t, IsUnrecoverable(err))
}
