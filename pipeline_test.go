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

package goetl

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronlmathis/goetl-agg/aggregate"
	"github.com/aaronlmathis/goetl-agg/filter"
	"github.com/aaronlmathis/goetl-agg/logger"
	"github.com/aaronlmathis/goetl-agg/readers"
	"github.com/aaronlmathis/goetl-agg/transform"
	"github.com/aaronlmathis/goetl-agg/writers"
)

// flakySource returns an error in place of the record at failAt.
type flakySource struct {
	records []Record
	failAt  int
	pos     int
	closed  bool
}

func (s *flakySource) Read(ctx context.Context) (Record, error) {
	if s.pos >= len(s.records) {
		return nil, io.EOF
	}
	s.pos++
	if s.pos-1 == s.failAt {
		return nil, errors.New("corrupt line")
	}
	return s.records[s.pos-1], nil
}

func (s *flakySource) Close() error {
	s.closed = true
	return nil
}

func orders() []Record {
	return []Record{
		{"customer": "ann", "amount": 40.0},
		{"customer": "ann", "amount": 80.0},
		{"customer": "bob", "amount": 10.0},
		{"customer": "cy", "amount": 300.0},
		{"customer": "cy", "amount": nil},
	}
}

func buildAggregator(t *testing.T) *aggregate.Aggregator {
	t.Helper()
	agg, err := aggregate.NewGroupBy("customer").
		Sum("amount", "total").
		Avg("amount", "avg").
		Count("orders").
		Build(aggregate.WithLogger(logger.NewDiscardLogger()))
	require.NoError(t, err)
	return agg
}

func TestPipeline_WithoutAggregate(t *testing.T) {
	sink := writers.NewMemoryWriter()
	p, err := NewPipeline().
		From(readers.NewMemoryReader(orders())).
		Filter(filter.NotNull("amount")).
		Map(func(ctx context.Context, r Record) (Record, error) {
			return Record{"customer": r["customer"], "amount": r["amount"]}, nil
		}).
		To(sink).
		Build()
	require.NoError(t, err)
	require.NoError(t, p.Execute(context.Background()))

	// Transformers run before filters, so the filtered column must survive the map.
	require.Len(t, sink.Records(), 4)
	for _, r := range sink.Records() {
		assert.Len(t, r, 2)
		assert.NotNil(t, r["amount"])
	}
}

func TestPipeline_FilterSeesTransformedRecord(t *testing.T) {
	sink := writers.NewMemoryWriter()
	p, err := NewPipeline().
		From(readers.NewMemoryReader(orders())).
		Filter(filter.NotNull("amount")).
		Map(func(ctx context.Context, r Record) (Record, error) {
			return Record{"customer": r["customer"]}, nil
		}).
		To(sink).
		Build()
	require.NoError(t, err)
	require.NoError(t, p.Execute(context.Background()))

	assert.Empty(t, sink.Records())
}

func TestPipeline_AggregateAndHaving(t *testing.T) {
	sink := writers.NewMemoryWriter()
	p, err := NewPipeline().
		From(readers.NewMemoryReader(orders())).
		Aggregate(buildAggregator(t)).
		Having(filter.GreaterThan("total", 100)).
		Transform(transform.TrimSpace("customer")).
		To(sink).
		Build()
	require.NoError(t, err)
	require.NoError(t, p.Execute(context.Background()))

	out := sink.Records()
	require.Len(t, out, 2)
	assert.Equal(t, "ann", out[0]["customer"])
	assert.Equal(t, 120.0, out[0]["total"])
	assert.Equal(t, 60.0, out[0]["avg"])
	assert.Equal(t, "cy", out[1]["customer"])
	assert.Equal(t, 300.0, out[1]["total"])
	assert.Equal(t, 150.0, out[1]["avg"], "avg divides by the group row count")
	assert.Equal(t, 2, out[1]["orders"])
	assert.Equal(t, 1, sink.Flushes())
}

func TestPipeline_HavingRequiresAggregate(t *testing.T) {
	_, err := NewPipeline().
		From(readers.NewMemoryReader(nil)).
		Having(filter.NotNull("x")).
		To(writers.NewMemoryWriter()).
		Build()
	assert.Error(t, err)
}

func TestPipeline_BuildRequiresEnds(t *testing.T) {
	_, err := NewPipeline().To(writers.NewMemoryWriter()).Build()
	assert.Error(t, err)
	_, err = NewPipeline().From(readers.NewMemoryReader(nil)).Build()
	assert.Error(t, err)
}

func TestPipeline_ErrorStrategies(t *testing.T) {
	t.Run("fail fast", func(t *testing.T) {
		src := &flakySource{records: orders(), failAt: 1}
		p, err := NewPipeline().From(src).Aggregate(buildAggregator(t)).To(writers.NewMemoryWriter()).Build()
		require.NoError(t, err)
		assert.EqualError(t, p.Execute(context.Background()), "corrupt line")
		assert.True(t, src.closed)
	})

	t.Run("skip", func(t *testing.T) {
		sink := writers.NewMemoryWriter()
		var handled int
		p, err := NewPipeline().
			From(&flakySource{records: orders(), failAt: 1}).
			Aggregate(buildAggregator(t)).
			To(sink).
			WithErrorStrategy(SkipErrors).
			WithErrorHandler(ErrorHandlerFunc(func(ctx context.Context, r Record, err error) error {
				handled++
				return nil
			})).
			Build()
		require.NoError(t, err)
		require.NoError(t, p.Execute(context.Background()))

		assert.Equal(t, 1, handled)
		out := sink.Records()
		require.Len(t, out, 3)
		assert.Equal(t, 1, out[0]["orders"])
	})

	t.Run("collect", func(t *testing.T) {
		p, err := NewPipeline().
			From(&flakySource{records: orders(), failAt: 3}).
			Aggregate(buildAggregator(t)).
			To(writers.NewMemoryWriter()).
			WithErrorStrategy(CollectErrors).
			Build()
		require.NoError(t, err)
		require.NoError(t, p.Execute(context.Background()))
		require.Len(t, p.Errors(), 1)
		assert.EqualError(t, p.Errors()[0], "corrupt line")
	})
}

func TestPipeline_UnrecoverableIgnoresStrategy(t *testing.T) {
	sink := writers.NewMemoryWriter()
	p, err := NewPipeline().
		From(readers.NewMemoryReader([]Record{{"client": "ann", "amount": 1.0}})).
		Aggregate(buildAggregator(t)).
		To(sink).
		WithErrorStrategy(SkipErrors).
		Build()
	require.NoError(t, err)

	err = p.Execute(context.Background())
	require.Error(t, err)
	assert.True(t, aggregate.IsUnrecoverable(err))
	assert.ErrorIs(t, err, aggregate.ErrMissingColumn)
	assert.Empty(t, sink.Records())
}

func TestPipeline_CancelledBeforeStart(t *testing.T) {
	sink := writers.NewMemoryWriter()
	agg := buildAggregator(t)
	p, err := NewPipeline().From(readers.NewMemoryReader(orders())).Aggregate(agg).To(sink).Build()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.Execute(ctx), context.Canceled)
	assert.Empty(t, sink.Records())
	assert.Equal(t, aggregate.StateInit, agg.State())
}
