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

package readers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/apache/arrow/go/v12/arrow"
	"github.com/apache/arrow/go/v12/arrow/array"
	"github.com/apache/arrow/go/v12/arrow/memory"
	"github.com/apache/arrow/go/v12/parquet"
	"github.com/apache/arrow/go/v12/parquet/file"
	"github.com/apache/arrow/go/v12/parquet/pqarrow"

	"github.com/aaronlmathis/goetl-agg/core"
)

// ParquetReaderError provides structured error information for parquet reader operations.
type ParquetReaderError struct {
	Op  string
	Err error
}

func (e *ParquetReaderError) Error() string {
	return fmt.Sprintf("parquet reader %s: %v", e.Op, e.Err)
}

func (e *ParquetReaderError) Unwrap() error {
	return e.Err
}

// ParquetReaderStats holds statistics about the Parquet reader.
type ParquetReaderStats struct {
	RecordsRead     int64
	BatchesRead     int64
	ReadDuration    time.Duration
	NullValueCounts map[string]int64
}

// ParquetReaderOptions configures the Parquet reader.
type ParquetReaderOptions struct {
	BatchSize int64
	Columns   []string
}

// ReaderOptionParquet configures a ParquetReader.
type ReaderOptionParquet func(*ParquetReaderOptions)

// WithParquetBatchSize sets the number of rows decoded per Arrow batch.
func WithParquetBatchSize(size int64) ReaderOptionParquet {
	return func(opts *ParquetReaderOptions) { opts.BatchSize = size }
}

// WithParquetColumns projects the read onto the named columns.
func WithParquetColumns(columns ...string) ReaderOptionParquet {
	return func(opts *ParquetReaderOptions) {
		opts.Columns = append([]string(nil), columns...)
	}
}

// ParquetReader implements core.DataSource for Parquet data. Rows are
// returned in file order. Integer columns are widened to int64 and float32
// to float64 so values compare the same way as those of the other readers.
type ParquetReader struct {
	closer  io.Closer
	records pqarrow.RecordReader
	batch   arrow.Record
	row     int
	schema  *arrow.Schema
	stats   ParquetReaderStats
}

// NewParquetReader opens a Parquet file.
func NewParquetReader(filename string, options ...ReaderOptionParquet) (*ParquetReader, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, &ParquetReaderError{Op: "open_file", Err: err}
	}
	r, err := NewParquetReaderFrom(f, f, options...)
	if err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

// NewParquetReaderFrom reads Parquet data from src. closer, if non-nil, is
// closed by Close.
func NewParquetReaderFrom(src parquet.ReaderAtSeeker, closer io.Closer, options ...ReaderOptionParquet) (*ParquetReader, error) {
	opts := ParquetReaderOptions{BatchSize: 1000}
	for _, option := range options {
		option(&opts)
	}
	if opts.BatchSize <= 0 {
		return nil, &ParquetReaderError{Op: "validate", Err: fmt.Errorf("batch size must be positive")}
	}

	pf, err := file.NewParquetReader(src)
	if err != nil {
		return nil, &ParquetReaderError{Op: "create_reader", Err: err}
	}
	fr, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{BatchSize: opts.BatchSize}, memory.NewGoAllocator())
	if err != nil {
		pf.Close()
		return nil, &ParquetReaderError{Op: "create_arrow_reader", Err: err}
	}
	schema, err := fr.Schema()
	if err != nil {
		pf.Close()
		return nil, &ParquetReaderError{Op: "schema", Err: err}
	}

	var indices []int
	for _, name := range opts.Columns {
		found := schema.FieldIndices(name)
		if len(found) == 0 {
			pf.Close()
			return nil, &ParquetReaderError{Op: "column_projection", Err: fmt.Errorf("column %q not found in schema", name)}
		}
		indices = append(indices, found[0])
	}

	rr, err := fr.GetRecordReader(context.Background(), indices, nil)
	if err != nil {
		pf.Close()
		return nil, &ParquetReaderError{Op: "create_record_reader", Err: err}
	}
	return &ParquetReader{
		closer:  closer,
		records: rr,
		schema:  rr.Schema(),
		stats:   ParquetReaderStats{NullValueCounts: make(map[string]int64)},
	}, nil
}

// Read implements the core.DataSource interface.
func (p *ParquetReader) Read(ctx context.Context) (core.Record, error) {
	start := time.Now()
	defer func() { p.stats.ReadDuration += time.Since(start) }()

	if err := ctx.Err(); err != nil {
		return nil, &ParquetReaderError{Op: "read", Err: err}
	}
	for p.batch == nil || p.row >= int(p.batch.NumRows()) {
		if err := p.nextBatch(); err != nil {
			return nil, err
		}
	}

	record := make(core.Record, p.batch.NumCols())
	for i, field := range p.batch.Schema().Fields() {
		col := p.batch.Column(i)
		if col.IsNull(p.row) {
			p.stats.NullValueCounts[field.Name]++
			record[field.Name] = nil
			continue
		}
		record[field.Name] = arrowValue(col, p.row)
	}
	p.row++
	p.stats.RecordsRead++
	return record, nil
}

func (p *ParquetReader) nextBatch() error {
	if p.batch != nil {
		p.batch.Release()
		p.batch = nil
	}
	if p.records == nil {
		return io.EOF
	}
	rec, err := p.records.Read()
	if errors.Is(err, io.EOF) || (err == nil && rec == nil) {
		return io.EOF
	}
	if err != nil {
		return &ParquetReaderError{Op: "load_batch", Err: err}
	}
	rec.Retain()
	p.batch = rec
	p.row = 0
	p.stats.BatchesRead++
	return nil
}

// Close implements the core.DataSource interface.
func (p *ParquetReader) Close() error {
	if p.batch != nil {
		p.batch.Release()
		p.batch = nil
	}
	if p.records != nil {
		p.records.Release()
		p.records = nil
	}
	if p.closer != nil {
		err := p.closer.Close()
		p.closer = nil
		return err
	}
	return nil
}

// Schema returns the Arrow schema of the rows returned.
func (p *ParquetReader) Schema() *arrow.Schema {
	return p.schema
}

// Stats returns read statistics.
func (p *ParquetReader) Stats() ParquetReaderStats {
	return p.stats
}

func arrowValue(col arrow.Array, i int) interface{} {
	switch arr := col.(type) {
	case *array.Boolean:
		return arr.Value(i)
	case *array.Int8:
		return int64(arr.Value(i))
	case *array.Int16:
		return int64(arr.Value(i))
	case *array.Int32:
		return int64(arr.Value(i))
	case *array.Int64:
		return arr.Value(i)
	case *array.Uint8:
		return int64(arr.Value(i))
	case *array.Uint16:
		return int64(arr.Value(i))
	case *array.Uint32:
		return int64(arr.Value(i))
	case *array.Uint64:
		return arr.Value(i)
	case *array.Float32:
		return float64(arr.Value(i))
	case *array.Float64:
		return arr.Value(i)
	case *array.String:
		return arr.Value(i)
	case *array.LargeString:
		return arr.Value(i)
	case *array.Binary:
		return append([]byte(nil), arr.Value(i)...)
	case *array.Timestamp:
		unit := arr.DataType().(*arrow.TimestampType).Unit
		return arr.Value(i).ToTime(unit).UTC()
	case *array.Date32:
		return arr.Value(i).ToTime()
	case *array.Date64:
		return arr.Value(i).ToTime()
	}
	return fmt.Sprintf("%v", col.GetOneForMarshal(i))
}

// readAllBytes buffers r so it can be read as Parquet, which needs random access.
func readAllBytes(r io.Reader) (*bytes.Reader, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(data), nil
}
