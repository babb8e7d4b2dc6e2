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
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/spf13/cast"

	"github.com/aaronlmathis/goetl-agg/core"
)

// PostgresWriterError wraps PostgreSQL-specific write errors with context about the operation.
type PostgresWriterError struct {
	Op  string
	Err error
}

func (e *PostgresWriterError) Error() string {
	return fmt.Sprintf("postgres writer %s: %v", e.Op, e.Err)
}

func (e *PostgresWriterError) Unwrap() error {
	return e.Err
}

// PostgresWriterStats holds PostgreSQL write statistics.
type PostgresWriterStats struct {
	RecordsWritten   int64
	BatchesWritten   int64
	TransactionCount int64
	WriteDuration    time.Duration
	ConnectionTime   time.Duration
	NullValueCounts  map[string]int64
	ConflictCount    int64
}

// ConflictResolution defines how INSERT conflicts are handled.
type ConflictResolution int

const (
	// ConflictError fails the batch on conflict.
	ConflictError ConflictResolution = iota
	// ConflictIgnore keeps the existing row (ON CONFLICT DO NOTHING).
	ConflictIgnore
	// ConflictUpdate overwrites the existing row (ON CONFLICT DO UPDATE).
	ConflictUpdate
)

// PostgresWriterOptions configures the PostgreSQL writer.
type PostgresWriterOptions struct {
	DSN                string
	TableName          string
	Columns            []string
	BatchSize          int
	CreateTable        bool
	TruncateTable      bool
	UseCopy            bool
	ConflictResolution ConflictResolution
	ConflictColumns    []string
	UpdateColumns      []string
	MaxOpenConns       int
	ConnMaxLifetime    time.Duration
	QueryTimeout       time.Duration
}

// PostgresWriterOption configures a PostgresWriter.
type PostgresWriterOption func(*PostgresWriterOptions)

// WithPostgresWriterDSN sets the PostgreSQL connection string.
func WithPostgresWriterDSN(dsn string) PostgresWriterOption {
	return func(opts *PostgresWriterOptions) { opts.DSN = dsn }
}

// WithTableName sets the target table, optionally schema-qualified.
func WithTableName(tableName string) PostgresWriterOption {
	return func(opts *PostgresWriterOptions) { opts.TableName = tableName }
}

// WithColumns fixes the target columns. Without it the first record's
// columns are used in sorted order.
func WithColumns(columns []string) PostgresWriterOption {
	return func(opts *PostgresWriterOptions) {
		opts.Columns = append([]string(nil), columns...)
	}
}

// WithPostgresWriterBatchSize sets the number of records per transaction.
func WithPostgresWriterBatchSize(size int) PostgresWriterOption {
	return func(opts *PostgresWriterOptions) { opts.BatchSize = size }
}

// WithCreateTable creates the table from the first record's types.
func WithCreateTable(create bool) PostgresWriterOption {
	return func(opts *PostgresWriterOptions) { opts.CreateTable = create }
}

// WithTruncateTable empties the table before the first batch.
func WithTruncateTable(truncate bool) PostgresWriterOption {
	return func(opts *PostgresWriterOptions) { opts.TruncateTable = truncate }
}

// WithCopy loads batches with COPY instead of INSERT. It cannot be combined
// with conflict resolution.
func WithCopy(useCopy bool) PostgresWriterOption {
	return func(opts *PostgresWriterOptions) { opts.UseCopy = useCopy }
}

// WithConflictResolution sets the conflict strategy. For summary rows the
// conflict columns are usually the group columns.
func WithConflictResolution(resolution ConflictResolution, conflictCols, updateCols []string) PostgresWriterOption {
	return func(opts *PostgresWriterOptions) {
		opts.ConflictResolution = resolution
		opts.ConflictColumns = append([]string(nil), conflictCols...)
		opts.UpdateColumns = append([]string(nil), updateCols...)
	}
}

// WithPostgresWriterQueryTimeout bounds Flush and Close.
func WithPostgresWriterQueryTimeout(timeout time.Duration) PostgresWriterOption {
	return func(opts *PostgresWriterOptions) { opts.QueryTimeout = timeout }
}

// PostgresWriter implements core.DataSink for PostgreSQL output. Each batch
// is written in its own transaction.
type PostgresWriter struct {
	mu          sync.Mutex
	db          *sql.DB
	options     PostgresWriterOptions
	columns     []string
	recordBuf   []core.Record
	stats       PostgresWriterStats
	initialized bool
	errorState  bool
}

// NewPostgresWriter validates the options and connects.
func NewPostgresWriter(opts ...PostgresWriterOption) (*PostgresWriter, error) {
	options := PostgresWriterOptions{
		BatchSize:       1000,
		QueryTimeout:    30 * time.Second,
		MaxOpenConns:    4,
		ConnMaxLifetime: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if err := validateWriterOptions(options); err != nil {
		return nil, &PostgresWriterError{Op: "validate", Err: err}
	}

	w := &PostgresWriter{
		options: options,
		columns: append([]string(nil), options.Columns...),
		stats:   PostgresWriterStats{NullValueCounts: make(map[string]int64)},
	}
	if err := w.connect(); err != nil {
		return nil, &PostgresWriterError{Op: "connect", Err: err}
	}
	return w, nil
}

func validateWriterOptions(opts PostgresWriterOptions) error {
	if opts.DSN == "" {
		return fmt.Errorf("dsn is required")
	}
	if opts.TableName == "" {
		return fmt.Errorf("table name is required")
	}
	if opts.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if opts.ConflictResolution != ConflictError {
		if opts.UseCopy {
			return fmt.Errorf("copy cannot be combined with conflict resolution")
		}
		if len(opts.ConflictColumns) == 0 {
			return fmt.Errorf("conflict columns required for conflict resolution")
		}
	}
	if opts.ConflictResolution == ConflictUpdate && len(opts.UpdateColumns) == 0 {
		return fmt.Errorf("update columns required for conflict update resolution")
	}
	return nil
}

func (w *PostgresWriter) connect() error {
	start := time.Now()
	db, err := sql.Open("postgres", w.options.DSN)
	if err != nil {
		return err
	}
	db.SetMaxOpenConns(w.options.MaxOpenConns)
	db.SetConnMaxLifetime(w.options.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), w.options.QueryTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return err
	}
	w.db = db
	w.stats.ConnectionTime = time.Since(start)
	return nil
}

// Write implements the core.DataSink interface.
func (w *PostgresWriter) Write(ctx context.Context, record core.Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.errorState {
		return &PostgresWriterError{Op: "write", Err: fmt.Errorf("writer is in error state")}
	}
	if !w.initialized {
		if err := w.initializeUnsafe(ctx, record); err != nil {
			w.errorState = true
			return &PostgresWriterError{Op: "initialize", Err: err}
		}
	}

	for k, v := range record {
		if v == nil {
			w.stats.NullValueCounts[k]++
		}
	}
	w.recordBuf = append(w.recordBuf, record)
	w.stats.RecordsWritten++

	if len(w.recordBuf) >= w.options.BatchSize {
		if err := w.flushBufferUnsafe(ctx); err != nil {
			w.errorState = true
			return &PostgresWriterError{Op: "flush_batch", Err: err}
		}
	}
	return nil
}

// Flush implements the core.DataSink interface.
func (w *PostgresWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), w.options.QueryTimeout)
	defer cancel()
	if err := w.flushBufferUnsafe(ctx); err != nil {
		w.errorState = true
		return &PostgresWriterError{Op: "flush", Err: err}
	}
	return nil
}

// Close implements the core.DataSink interface.
func (w *PostgresWriter) Close() error {
	flushErr := w.Flush()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.db != nil {
		if err := w.db.Close(); err != nil && flushErr == nil {
			return &PostgresWriterError{Op: "close", Err: err}
		}
		w.db = nil
	}
	return flushErr
}

// Stats returns a copy of the current write statistics.
func (w *PostgresWriter) Stats() PostgresWriterStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := w.stats
	s.NullValueCounts = make(map[string]int64, len(w.stats.NullValueCounts))
	for k, v := range w.stats.NullValueCounts {
		s.NullValueCounts[k] = v
	}
	return s
}

func (w *PostgresWriter) initializeUnsafe(ctx context.Context, first core.Record) error {
	if len(w.columns) == 0 {
		for key := range first {
			w.columns = append(w.columns, key)
		}
		sort.Strings(w.columns)
	}
	if w.options.CreateTable {
		if _, err := w.db.ExecContext(ctx, buildCreateTable(w.options.TableName, w.columns, first)); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	if w.options.TruncateTable {
		if _, err := w.db.ExecContext(ctx, "TRUNCATE TABLE "+quoteTable(w.options.TableName)); err != nil {
			return fmt.Errorf("truncate table: %w", err)
		}
	}
	w.initialized = true
	return nil
}

func (w *PostgresWriter) flushBufferUnsafe(ctx context.Context) (err error) {
	if len(w.recordBuf) == 0 || w.db == nil {
		return nil
	}
	start := time.Now()

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var query string
	if w.options.UseCopy {
		query = copyStatement(w.options.TableName, w.columns)
	} else {
		query = buildInsertQuery(w.options.TableName, w.columns, w.options.ConflictResolution,
			w.options.ConflictColumns, w.options.UpdateColumns)
	}
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, record := range w.recordBuf {
		values := make([]interface{}, len(w.columns))
		for i, col := range w.columns {
			values[i] = convertValue(record[col])
		}
		result, execErr := stmt.ExecContext(ctx, values...)
		if execErr != nil {
			return fmt.Errorf("exec: %w", execErr)
		}
		if !w.options.UseCopy {
			if n, rerr := result.RowsAffected(); rerr == nil && n == 0 {
				w.stats.ConflictCount++
			}
		}
	}
	if w.options.UseCopy {
		// An argument-less Exec ends the COPY.
		if _, err = stmt.ExecContext(ctx); err != nil {
			return fmt.Errorf("copy: %w", err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	w.stats.TransactionCount++
	w.stats.BatchesWritten++
	w.stats.WriteDuration += time.Since(start)
	w.recordBuf = w.recordBuf[:0]
	return nil
}

// quoteTable quotes a possibly schema-qualified table name.
func quoteTable(table string) string {
	parts := strings.Split(table, ".")
	for i, p := range parts {
		parts[i] = pq.QuoteIdentifier(p)
	}
	return strings.Join(parts, ".")
}

func quoteColumns(columns []string) string {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = pq.QuoteIdentifier(c)
	}
	return strings.Join(quoted, ", ")
}

func copyStatement(table string, columns []string) string {
	if schema, name, ok := strings.Cut(table, "."); ok {
		return pq.CopyInSchema(schema, name, columns...)
	}
	return pq.CopyIn(table, columns...)
}

func buildCreateTable(table string, columns []string, sample core.Record) string {
	defs := make([]string, len(columns))
	for i, col := range columns {
		defs[i] = pq.QuoteIdentifier(col) + " " + inferSQLType(sample[col])
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quoteTable(table), strings.Join(defs, ", "))
}

func buildInsertQuery(table string, columns []string, resolution ConflictResolution, conflictCols, updateCols []string) string {
	placeholders := make([]string, len(columns))
	for i := range placeholders {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteTable(table), quoteColumns(columns), strings.Join(placeholders, ", "))

	switch resolution {
	case ConflictIgnore:
		query += fmt.Sprintf(" ON CONFLICT (%s) DO NOTHING", quoteColumns(conflictCols))
	case ConflictUpdate:
		sets := make([]string, len(updateCols))
		for i, col := range updateCols {
			q := pq.QuoteIdentifier(col)
			sets[i] = q + " = EXCLUDED." + q
		}
		query += fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET %s", quoteColumns(conflictCols), strings.Join(sets, ", "))
	}
	return query
}

func inferSQLType(value interface{}) string {
	switch value.(type) {
	case bool:
		return "BOOLEAN"
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32:
		return "BIGINT"
	case float32, float64:
		return "DOUBLE PRECISION"
	case time.Time:
		return "TIMESTAMPTZ"
	case []byte:
		return "BYTEA"
	default:
		return "TEXT"
	}
}

func convertValue(value interface{}) interface{} {
	switch v := value.(type) {
	case nil, time.Time, bool, int64, float64, string, []byte:
		return v
	case int, int8, int16, int32, uint, uint8, uint16, uint32:
		return cast.ToInt64(v)
	case float32:
		return float64(v)
	default:
		return cast.ToString(v)
	}
}
