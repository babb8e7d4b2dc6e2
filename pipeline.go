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
	"fmt"
	"io"
	"sync"

	"github.com/aaronlmathis/goetl-agg/aggregate"
)

// Package goetl provides a streaming, interface-driven ETL pipeline around
// the sorted-input group-by stage in package aggregate.
//
// Core Concepts:
//   - DataSource: reads records already sorted on the grouping keys.
//   - Transformer and Filter: per-record work applied before aggregation.
//   - Aggregate: the group-by stage; emits rows on every group boundary.
//   - Having: filters applied to aggregated rows before they reach the sink.
//   - DataSink: receives emitted rows, blocking the run while it is busy.
//
// Example usage:
//
//   agg, _ := aggregate.NewGroupBy("day").Sum("amt", "total").Build()
//   pipeline, err := goetl.NewPipeline().
//       From(csvReader).
//       Filter(filter.NotNull("day")).
//       Aggregate(agg).
//       Having(filter.GreaterThan("total", 100)).
//       To(csvWriter).
//       WithErrorStrategy(goetl.SkipErrors).
//       Build()
//   if err != nil { log.Fatal(err) }
//   if err := pipeline.Execute(context.Background()); err != nil { log.Fatal(err) }

// PipelineBuilder provides a fluent API for constructing pipelines.
// Use NewPipeline() to create a new builder, then chain From, Transform,
// Filter, Aggregate, Having, To and configuration methods.
type PipelineBuilder struct {
	pipeline *Pipeline
}

// NewPipeline creates a new PipelineBuilder.
func NewPipeline() *PipelineBuilder {
	return &PipelineBuilder{
		pipeline: &Pipeline{
			transformers: make([]Transformer, 0),
			filters:      make([]Filter, 0),
			having:       make([]Filter, 0),
			strategy:     FailFast,
		},
	}
}

// From sets the DataSource for the pipeline.
func (pb *PipelineBuilder) From(source DataSource) *PipelineBuilder {
	pb.pipeline.source = source
	return pb
}

// Transform adds a Transformer applied before aggregation.
func (pb *PipelineBuilder) Transform(transformer Transformer) *PipelineBuilder {
	pb.pipeline.transformers = append(pb.pipeline.transformers, transformer)
	return pb
}

// Filter adds a Filter applied before aggregation.
func (pb *PipelineBuilder) Filter(filter Filter) *PipelineBuilder {
	pb.pipeline.filters = append(pb.pipeline.filters, filter)
	return pb
}

// Map adds a mapping transformation using a function.
func (pb *PipelineBuilder) Map(fn func(ctx context.Context, record Record) (Record, error)) *PipelineBuilder {
	return pb.Transform(TransformFunc(fn))
}

// Where adds a filtering condition using a function.
func (pb *PipelineBuilder) Where(fn func(ctx context.Context, record Record) (bool, error)) *PipelineBuilder {
	return pb.Filter(FilterFunc(fn))
}

// Aggregate sets the group-by stage. Records reaching it must already be
// sorted on its group columns.
func (pb *PipelineBuilder) Aggregate(agg *aggregate.Aggregator) *PipelineBuilder {
	pb.pipeline.aggregator = agg
	return pb
}

// Having adds a Filter applied to rows emitted by the aggregate stage.
func (pb *PipelineBuilder) Having(filter Filter) *PipelineBuilder {
	pb.pipeline.having = append(pb.pipeline.having, filter)
	return pb
}

// To sets the DataSink for the pipeline.
func (pb *PipelineBuilder) To(sink DataSink) *PipelineBuilder {
	pb.pipeline.sink = sink
	return pb
}

// WithErrorStrategy sets the strategy for recoverable record errors.
func (pb *PipelineBuilder) WithErrorStrategy(strategy ErrorStrategy) *PipelineBuilder {
	pb.pipeline.strategy = strategy
	return pb
}

// WithErrorHandler sets a custom error handler for the pipeline.
func (pb *PipelineBuilder) WithErrorHandler(handler ErrorHandler) *PipelineBuilder {
	pb.pipeline.errorHandler = handler
	return pb
}

// Build validates and constructs the Pipeline.
func (pb *PipelineBuilder) Build() (*Pipeline, error) {
	if pb.pipeline.source == nil {
		return nil, fmt.Errorf("pipeline requires a data source")
	}
	if pb.pipeline.sink == nil {
		return nil, fmt.Errorf("pipeline requires a data sink")
	}
	if len(pb.pipeline.having) > 0 && pb.pipeline.aggregator == nil {
		return nil, fmt.Errorf("pipeline: having filters require an aggregate stage")
	}
	return pb.pipeline, nil
}

// Pipeline is a single streaming run from source to sink.
type Pipeline struct {
	transformers []Transformer
	filters      []Filter
	aggregator   *aggregate.Aggregator
	having       []Filter
	source       DataSource
	sink         DataSink
	strategy     ErrorStrategy
	errorHandler ErrorHandler

	mu     sync.Mutex
	errors []error
}

// Execute runs the pipeline until the source is exhausted, a fatal error
// occurs or ctx is cancelled. Source and sink are closed on return.
//
// Unrecoverable aggregation errors stop the run whatever the strategy. On
// cancellation the open group is not flushed. Sink flush and close errors
// are returned when the run itself succeeded.
func (p *Pipeline) Execute(ctx context.Context) (err error) {
	defer func() {
		p.source.Close()
		flushErr := p.sink.Flush()
		closeErr := p.sink.Close()
		if err == nil {
			err = errors.Join(flushErr, closeErr)
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		record, err := p.source.Read(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			if err := p.handleError(ctx, record, err); err != nil {
				return err
			}
			continue
		}

		// Skip empty records early
		if len(record) == 0 {
			continue
		}

		transformed, err := p.applyTransformations(ctx, record)
		if err != nil {
			if err := p.handleError(ctx, record, err); err != nil {
				return err
			}
			continue
		}
		if len(transformed) == 0 {
			continue
		}

		include, err := applyFilters(ctx, p.filters, transformed)
		if err != nil {
			if err := p.handleError(ctx, record, err); err != nil {
				return err
			}
			continue
		}
		if !include {
			continue
		}

		if p.aggregator == nil {
			if err := p.write(ctx, transformed); err != nil {
				return err
			}
			continue
		}

		emitted, err := p.aggregator.Add(ctx, transformed)
		if err != nil {
			return err
		}
		if err := p.emit(ctx, emitted); err != nil {
			return err
		}
	}

	if p.aggregator != nil {
		emitted, err := p.aggregator.Finish(ctx)
		if err != nil {
			return err
		}
		if err := p.emit(ctx, emitted); err != nil {
			return err
		}
	}
	return nil
}

// Errors returns the errors recorded under the CollectErrors strategy.
func (p *Pipeline) Errors() []error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]error(nil), p.errors...)
}

// emit passes aggregated rows through the having filters to the sink.
func (p *Pipeline) emit(ctx context.Context, records []Record) error {
	for _, record := range records {
		include, err := applyFilters(ctx, p.having, record)
		if err != nil {
			if err := p.handleError(ctx, record, err); err != nil {
				return err
			}
			continue
		}
		if !include {
			continue
		}
		if err := p.write(ctx, record); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) write(ctx context.Context, record Record) error {
	if err := p.sink.Write(ctx, record); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return p.handleError(ctx, record, err)
	}
	return nil
}

// applyFilters returns true only if every filter includes the record.
func applyFilters(ctx context.Context, filters []Filter, record Record) (bool, error) {
	for _, filter := range filters {
		include, err := filter.ShouldInclude(ctx, record)
		if err != nil {
			return false, err
		}
		if !include {
			return false, nil
		}
	}
	return true, nil
}

// applyTransformations applies all configured transformers in sequence.
func (p *Pipeline) applyTransformations(ctx context.Context, record Record) (Record, error) {
	current := record
	for _, transformer := range p.transformers {
		transformed, err := transformer.Transform(ctx, current)
		if err != nil {
			return nil, err
		}
		current = transformed
	}
	return current, nil
}

// handleError applies the error strategy to a recoverable failure. It
// returns nil to continue or an error to stop the run.
func (p *Pipeline) handleError(ctx context.Context, record Record, err error) error {
	if aggregate.IsUnrecoverable(err) {
		return err
	}
	switch p.strategy {
	case FailFast:
		return err
	case SkipErrors:
		if p.errorHandler != nil {
			return p.errorHandler.HandleError(ctx, record, err)
		}
		return nil
	case CollectErrors:
		p.mu.Lock()
		p.errors = append(p.errors, err)
		p.mu.Unlock()
		if p.errorHandler != nil {
			return p.errorHandler.HandleError(ctx, record, err)
		}
		return nil
	default:
		return err
	}
}
