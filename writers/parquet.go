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

package writers

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/apache/arrow/go/v12/arrow"
	"github.com/apache/arrow/go/v12/arrow/array"
	"github.com/apache/arrow/go/v12/arrow/memory"
	"github.com/apache/arrow/go/v12/parquet"
	"github.com/apache/arrow/go/v12/parquet/compress"
	"github.com/apache/arrow/go/v12/parquet/pqarrow"
	"github.com/spf13/cast"

	"github.com/aaronlmathis/goetl-agg/core"
)

// ParquetWriterError wraps Parquet-specific write errors with context about the operation.
type ParquetWriterError struct {
	Op  string
	Err error
}

func (e *ParquetWriterError) Error() string {
	return fmt.Sprintf("parquet writer %s: %v", e.Op, e.Err)
}

func (e *ParquetWriterError) Unwrap() error {
	return e.Err
}

// ParquetWriterOptions configures the Parquet writer.
type ParquetWriterOptions struct {
	BatchSize    int64
	Schema       *arrow.Schema
	Compression  compress.Compression
	FieldOrder   []string
	RowGroupSize int64
	Metadata     map[string]string
}

// ParquetWriterStats holds statistics about the Parquet writer.
type ParquetWriterStats struct {
	RecordsWritten  int64
	BatchesWritten  int64
	FlushDuration   time.Duration
	NullValueCounts map[string]int64
}

// WriterOption configures a ParquetWriter.
type WriterOption func(*ParquetWriterOptions)

// WithBatchSize sets the number of records buffered per Arrow record batch.
func WithBatchSize(size int64) WriterOption {
	return func(opts *ParquetWriterOptions) { opts.BatchSize = size }
}

// WithCompression sets the Parquet compression codec.
func WithCompression(codec compress.Compression) WriterOption {
	return func(opts *ParquetWriterOptions) { opts.Compression = codec }
}

// WithFieldOrder fixes the output columns. Fields not listed are dropped.
func WithFieldOrder(fields []string) WriterOption {
	return func(opts *ParquetWriterOptions) {
		opts.FieldOrder = append([]string(nil), fields...)
	}
}

// WithParquetSchema sets an explicit Arrow schema instead of inferring one.
func WithParquetSchema(schema *arrow.Schema) WriterOption {
	return func(opts *ParquetWriterOptions) { opts.Schema = schema }
}

// WithRowGroupSize sets the maximum row group length.
func WithRowGroupSize(size int64) WriterOption {
	return func(opts *ParquetWriterOptions) { opts.RowGroupSize = size }
}

// WithMetadata attaches key/value metadata to the file schema.
func WithMetadata(metadata map[string]string) WriterOption {
	return func(opts *ParquetWriterOptions) {
		if opts.Metadata == nil {
			opts.Metadata = make(map[string]string, len(metadata))
		}
		for k, v := range metadata {
			opts.Metadata[k] = v
		}
	}
}

// ParquetWriter implements core.DataSink for Parquet output. Unless a
// schema is given, column types are inferred from the first non-nil value
// of each column in the first batch; columns that are nil throughout that
// batch are written as strings.
type ParquetWriter struct {
	mu        sync.Mutex
	sink      io.Writer
	closer    io.Closer
	opts      ParquetWriterOptions
	schema    *arrow.Schema
	writer    *pqarrow.FileWriter
	allocator memory.Allocator
	buffer    []core.Record
	stats     ParquetWriterStats
	closed    bool
}

// NewParquetWriter creates a Parquet writer on top of w. Close closes w.
func NewParquetWriter(w io.WriteCloser, options ...WriterOption) (*ParquetWriter, error) {
	opts := ParquetWriterOptions{
		BatchSize:    1000,
		Compression:  compress.Codecs.Snappy,
		RowGroupSize: 10000,
	}
	for _, option := range options {
		option(&opts)
	}
	if opts.BatchSize <= 0 {
		return nil, &ParquetWriterError{Op: "validate", Err: fmt.Errorf("batch size must be positive")}
	}

	// pqarrow must not close the destination itself.
	return &ParquetWriter{
		sink:      struct{ io.Writer }{w},
		closer:    w,
		opts:      opts,
		schema:    opts.Schema,
		allocator: memory.NewGoAllocator(),
		stats:     ParquetWriterStats{NullValueCounts: make(map[string]int64)},
	}, nil
}

// NewParquetFileWriter creates the file (and parent directories) and
// returns a writer for it.
func NewParquetFileWriter(filename string, options ...WriterOption) (*ParquetWriter, error) {
	if dir := filepath.Dir(filename); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, &ParquetWriterError{Op: "create_directory", Err: err}
		}
	}
	file, err := os.Create(filename)
	if err != nil {
		return nil, &ParquetWriterError{Op: "open_file", Err: err}
	}
	pw, err := NewParquetWriter(file, options...)
	if err != nil {
		file.Close()
		return nil, err
	}
	return pw, nil
}

// Write implements the core.DataSink interface.
func (p *ParquetWriter) Write(ctx context.Context, record core.Record) error {
	if err := ctx.Err(); err != nil {
		return &ParquetWriterError{Op: "write", Err: err}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return &ParquetWriterError{Op: "write", Err: fmt.Errorf("parquet writer is closed")}
	}

	p.buffer = append(p.buffer, record)
	p.stats.RecordsWritten++
	if int64(len(p.buffer)) >= p.opts.BatchSize {
		return p.flushUnsafe()
	}
	return nil
}

// Flush implements the core.DataSink interface. Buffered records are
// written as a record batch; the file footer is written by Close.
func (p *ParquetWriter) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flushUnsafe()
}

// Close implements the core.DataSink interface.
func (p *ParquetWriter) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	if err := p.flushUnsafe(); err != nil {
		return err
	}
	// Nothing was written: emit an empty file with the known schema, if any.
	if p.writer == nil && p.schema != nil {
		if err := p.openUnsafe(); err != nil {
			return err
		}
	}
	if p.writer != nil {
		if err := p.writer.Close(); err != nil {
			return &ParquetWriterError{Op: "close_writer", Err: err}
		}
	}
	if p.closer != nil {
		return p.closer.Close()
	}
	return nil
}

// Schema returns the Arrow schema in use, or nil before the first flush.
func (p *ParquetWriter) Schema() *arrow.Schema {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.schema
}

// Stats returns write statistics.
func (p *ParquetWriter) Stats() ParquetWriterStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	s.NullValueCounts = make(map[string]int64, len(p.stats.NullValueCounts))
	for k, v := range p.stats.NullValueCounts {
		s.NullValueCounts[k] = v
	}
	return s
}

func (p *ParquetWriter) flushUnsafe() error {
	if len(p.buffer) == 0 {
		return nil
	}
	start := time.Now()

	if p.schema == nil {
		schema, err := inferSchema(p.buffer, p.opts.FieldOrder, p.opts.Metadata)
		if err != nil {
			return err
		}
		p.schema = schema
	}
	if p.writer == nil {
		if err := p.openUnsafe(); err != nil {
			return err
		}
	}

	builder := array.NewRecordBuilder(p.allocator, p.schema)
	defer builder.Release()

	for _, record := range p.buffer {
		for i, field := range p.schema.Fields() {
			value := record[field.Name]
			if value == nil {
				builder.Field(i).AppendNull()
				p.stats.NullValueCounts[field.Name]++
				continue
			}
			if err := appendValue(builder.Field(i), value); err != nil {
				return &ParquetWriterError{Op: "append_value", Err: fmt.Errorf("field %s: %w", field.Name, err)}
			}
		}
	}

	rec := builder.NewRecord()
	defer rec.Release()
	if err := p.writer.Write(rec); err != nil {
		return &ParquetWriterError{Op: "write_batch", Err: err}
	}

	p.stats.BatchesWritten++
	p.stats.FlushDuration += time.Since(start)
	p.buffer = p.buffer[:0]
	return nil
}

func (p *ParquetWriter) openUnsafe() error {
	props := parquet.NewWriterProperties(
		parquet.WithCompression(p.opts.Compression),
		parquet.WithMaxRowGroupLength(p.opts.RowGroupSize),
		parquet.WithAllocator(p.allocator),
	)
	writer, err := pqarrow.NewFileWriter(p.schema, p.sink, props, pqarrow.DefaultWriterProps())
	if err != nil {
		return &ParquetWriterError{Op: "create_writer", Err: err}
	}
	p.writer = writer
	return nil
}

// inferSchema builds a schema from buffered records. Without an explicit
// order the union of all columns is used, sorted by name.
func inferSchema(records []core.Record, order []string, metadata map[string]string) (*arrow.Schema, error) {
	names := order
	if len(names) == 0 {
		seen := make(map[string]struct{})
		for _, record := range records {
			for name := range record {
				if _, ok := seen[name]; !ok {
					seen[name] = struct{}{}
					names = append(names, name)
				}
			}
		}
		sort.Strings(names)
	}

	fields := make([]arrow.Field, 0, len(names))
	for _, name := range names {
		dataType := arrow.DataType(arrow.BinaryTypes.String)
		for _, record := range records {
			if v := record[name]; v != nil {
				t, err := arrowType(v)
				if err != nil {
					return nil, &ParquetWriterError{Op: "schema", Err: fmt.Errorf("field %s: %w", name, err)}
				}
				dataType = t
				break
			}
		}
		fields = append(fields, arrow.Field{Name: name, Type: dataType, Nullable: true})
	}

	var md *arrow.Metadata
	if len(metadata) > 0 {
		m := arrow.MetadataFrom(metadata)
		md = &m
	}
	return arrow.NewSchema(fields, md), nil
}

func arrowType(value interface{}) (arrow.DataType, error) {
	switch value.(type) {
	case bool:
		return arrow.FixedWidthTypes.Boolean, nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32:
		return arrow.PrimitiveTypes.Int64, nil
	case float32, float64:
		return arrow.PrimitiveTypes.Float64, nil
	case string:
		return arrow.BinaryTypes.String, nil
	case time.Time:
		return arrow.FixedWidthTypes.Timestamp_us, nil
	case []byte:
		return arrow.BinaryTypes.Binary, nil
	}
	return nil, fmt.Errorf("unsupported type %T", value)
}

func appendValue(builder array.Builder, value interface{}) error {
	switch b := builder.(type) {
	case *array.BooleanBuilder:
		v, err := cast.ToBoolE(value)
		if err != nil {
			return err
		}
		b.Append(v)
	case *array.Int64Builder:
		v, err := cast.ToInt64E(value)
		if err != nil {
			return err
		}
		b.Append(v)
	case *array.Float64Builder:
		v, err := core.ToFloat64(value)
		if err != nil {
			return err
		}
		b.Append(v)
	case *array.StringBuilder:
		v, err := cast.ToStringE(value)
		if err != nil {
			return err
		}
		b.Append(v)
	case *array.TimestampBuilder:
		v, err := cast.ToTimeE(value)
		if err != nil {
			return err
		}
		b.Append(arrow.Timestamp(v.UnixMicro()))
	case *array.BinaryBuilder:
		switch v := value.(type) {
		case []byte:
			b.Append(v)
		case string:
			b.AppendString(v)
		default:
			return fmt.Errorf("cannot write %T as binary", value)
		}
	default:
		return fmt.Errorf("unsupported builder %T", builder)
	}
	return nil
}
