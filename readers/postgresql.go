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
	"context"
	"database/sql"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/aaronlmathis/goetl-agg/core"
)

// PostgresReaderError provides structured error information for Postgres reader operations.
type PostgresReaderError struct {
	Op  string // Operation that failed (e.g., "connect", "query", "scan", "read")
	Err error  // Underlying error
}

func (e *PostgresReaderError) Error() string {
	return fmt.Sprintf("postgres reader %s: %v", e.Op, e.Err)
}

func (e *PostgresReaderError) Unwrap() error {
	return e.Err
}

// PostgresReaderStats holds statistics about the Postgres reader.
type PostgresReaderStats struct {
	RecordsRead     int64
	QueryDuration   time.Duration
	ReadDuration    time.Duration
	NullValueCounts map[string]int64
}

// PostgresReaderOptions configures the Postgres reader. Either Query or
// Table must be set. With Table the reader builds a SELECT ordered by
// SortKeys, which is how input for the aggregate stage is usually produced.
type PostgresReaderOptions struct {
	DSN             string
	Query           string
	Params          []interface{}
	Table           string
	Columns         []string
	SortKeys        []SortKey
	BatchSize       int // rows per FETCH when UseCursor is set
	QueryTimeout    time.Duration
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	UseCursor       bool
	CursorName      string
}

// PostgresReaderOption represents a configuration function for PostgresReaderOptions.
type PostgresReaderOption func(*PostgresReaderOptions)

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) PostgresReaderOption {
	return func(opts *PostgresReaderOptions) { opts.DSN = dsn }
}

// WithPostgresQuery sets a raw SQL query and optional parameters. The query
// is responsible for its own ORDER BY.
func WithPostgresQuery(query string, params ...interface{}) PostgresReaderOption {
	return func(opts *PostgresReaderOptions) {
		opts.Query = query
		opts.Params = append([]interface{}(nil), params...)
	}
}

// WithPostgresTable reads columns (all when empty) of table ordered by keys.
func WithPostgresTable(table string, columns []string, keys ...SortKey) PostgresReaderOption {
	return func(opts *PostgresReaderOptions) {
		opts.Table = table
		opts.Columns = columns
		opts.SortKeys = keys
	}
}

// WithPostgresBatchSize sets the number of rows fetched per cursor round trip.
func WithPostgresBatchSize(size int) PostgresReaderOption {
	return func(opts *PostgresReaderOptions) { opts.BatchSize = size }
}

// WithPostgresQueryTimeout bounds connecting and starting the query.
func WithPostgresQueryTimeout(timeout time.Duration) PostgresReaderOption {
	return func(opts *PostgresReaderOptions) { opts.QueryTimeout = timeout }
}

// WithPostgresConnectionPool configures the connection pool.
func WithPostgresConnectionPool(maxOpen int, lifetime time.Duration) PostgresReaderOption {
	return func(opts *PostgresReaderOptions) {
		opts.MaxOpenConns = maxOpen
		opts.ConnMaxLifetime = lifetime
	}
}

// WithPostgresCursor streams through a server-side cursor.
func WithPostgresCursor(useCursor bool, cursorName string) PostgresReaderOption {
	return func(opts *PostgresReaderOptions) {
		opts.UseCursor = useCursor
		opts.CursorName = cursorName
	}
}

// PostgresReader implements core.DataSource for PostgreSQL.
type PostgresReader struct {
	mu          sync.Mutex
	db          *sql.DB
	tx          *sql.Tx
	rows        *sql.Rows
	columnNames []string
	dbTypes     []string
	values      []interface{}
	scanBuffer  []interface{}
	fetched     int // rows returned by the current FETCH
	finished    bool
	opts        PostgresReaderOptions
	stats       PostgresReaderStats
}

// NewPostgresReader connects, starts the query and returns a streaming reader.
func NewPostgresReader(options ...PostgresReaderOption) (*PostgresReader, error) {
	opts := PostgresReaderOptions{
		BatchSize:       1000,
		QueryTimeout:    30 * time.Second,
		MaxOpenConns:    4,
		ConnMaxLifetime: 5 * time.Minute,
		CursorName:      "goetl_agg_cursor",
	}
	for _, option := range options {
		option(&opts)
	}

	query, err := opts.query()
	if err != nil {
		return nil, &PostgresReaderError{Op: "validate", Err: err}
	}
	if opts.DSN == "" {
		return nil, &PostgresReaderError{Op: "validate", Err: fmt.Errorf("dsn is required")}
	}
	if opts.UseCursor && !isValidCursorName(opts.CursorName) {
		return nil, &PostgresReaderError{Op: "validate", Err: fmt.Errorf("invalid cursor name: %s", opts.CursorName)}
	}

	db, err := sql.Open("postgres", opts.DSN)
	if err != nil {
		return nil, &PostgresReaderError{Op: "connect", Err: err}
	}
	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), opts.QueryTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, &PostgresReaderError{Op: "ping", Err: err}
	}

	p := &PostgresReader{
		db:    db,
		opts:  opts,
		stats: PostgresReaderStats{NullValueCounts: make(map[string]int64)},
	}
	if err := p.start(ctx, query); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

func (o PostgresReaderOptions) query() (string, error) {
	switch {
	case o.Query != "" && o.Table != "":
		return "", fmt.Errorf("query and table are mutually exclusive")
	case o.Query != "":
		return o.Query, nil
	case o.Table != "":
		return BuildSortedQuery(o.Table, o.Columns, o.SortKeys)
	}
	return "", fmt.Errorf("query or table is required")
}

// BuildSortedQuery returns a SELECT over table ordered by keys with every
// identifier quoted. A table name may be schema qualified ("sales.orders").
func BuildSortedQuery(table string, columns []string, keys []SortKey) (string, error) {
	if strings.TrimSpace(table) == "" {
		return "", fmt.Errorf("table is required")
	}
	var b strings.Builder
	b.WriteString("SELECT ")
	if len(columns) == 0 {
		b.WriteString("*")
	}
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pq.QuoteIdentifier(c))
	}
	b.WriteString(" FROM ")
	parts := strings.Split(table, ".")
	for i, part := range parts {
		if i > 0 {
			b.WriteString(".")
		}
		b.WriteString(pq.QuoteIdentifier(part))
	}
	for i, k := range keys {
		if i == 0 {
			b.WriteString(" ORDER BY ")
		} else {
			b.WriteString(", ")
		}
		b.WriteString(pq.QuoteIdentifier(k.Column))
		if k.Desc {
			b.WriteString(" DESC")
		} else {
			b.WriteString(" ASC")
		}
	}
	return b.String(), nil
}

func (p *PostgresReader) start(ctx context.Context, query string) error {
	started := time.Now()
	var err error
	if p.opts.UseCursor {
		err = p.declareCursor(ctx, query)
	} else {
		p.rows, err = p.db.QueryContext(ctx, query, p.opts.Params...)
		if err != nil {
			err = &PostgresReaderError{Op: "query", Err: err}
		}
	}
	if err != nil {
		return err
	}
	p.stats.QueryDuration = time.Since(started)
	return p.describe()
}

func (p *PostgresReader) declareCursor(ctx context.Context, query string) error {
	// The cursor outlives ctx, so the transaction is not bound to it.
	tx, err := p.db.BeginTx(context.Background(), &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return &PostgresReaderError{Op: "begin_transaction", Err: err}
	}
	p.tx = tx
	declare := fmt.Sprintf("DECLARE %s NO SCROLL CURSOR FOR %s", p.opts.CursorName, query)
	if _, err := tx.ExecContext(ctx, declare, p.opts.Params...); err != nil {
		return &PostgresReaderError{Op: "declare_cursor", Err: err}
	}
	return p.fetch(ctx)
}

func (p *PostgresReader) fetch(ctx context.Context) error {
	if p.rows != nil {
		p.rows.Close()
	}
	rows, err := p.tx.QueryContext(ctx, fmt.Sprintf("FETCH %d FROM %s", p.opts.BatchSize, p.opts.CursorName))
	if err != nil {
		return &PostgresReaderError{Op: "fetch_cursor", Err: err}
	}
	p.rows = rows
	p.fetched = 0
	return nil
}

func (p *PostgresReader) describe() error {
	names, err := p.rows.Columns()
	if err != nil {
		return &PostgresReaderError{Op: "columns", Err: err}
	}
	types, err := p.rows.ColumnTypes()
	if err != nil {
		return &PostgresReaderError{Op: "column_types", Err: err}
	}
	p.columnNames = names
	p.dbTypes = make([]string, len(types))
	for i, t := range types {
		p.dbTypes[i] = t.DatabaseTypeName()
	}
	p.values = make([]interface{}, len(names))
	p.scanBuffer = make([]interface{}, len(names))
	for i := range p.values {
		p.scanBuffer[i] = &p.values[i]
	}
	return nil
}

// Read implements the core.DataSource interface.
func (p *PostgresReader) Read(ctx context.Context) (core.Record, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	started := time.Now()
	defer func() { p.stats.ReadDuration += time.Since(started) }()

	if err := ctx.Err(); err != nil {
		return nil, &PostgresReaderError{Op: "read", Err: err}
	}
	if p.db == nil {
		return nil, &PostgresReaderError{Op: "read", Err: fmt.Errorf("reader is closed")}
	}
	if p.finished {
		return nil, io.EOF
	}

	for !p.rows.Next() {
		if err := p.rows.Err(); err != nil {
			return nil, &PostgresReaderError{Op: "read", Err: err}
		}
		// A short cursor batch means the result set is drained.
		if !p.opts.UseCursor || p.fetched < p.opts.BatchSize {
			p.finished = true
			return nil, io.EOF
		}
		if err := p.fetch(ctx); err != nil {
			return nil, err
		}
	}
	p.fetched++

	if err := p.rows.Scan(p.scanBuffer...); err != nil {
		return nil, &PostgresReaderError{Op: "scan", Err: err}
	}

	record := make(core.Record, len(p.columnNames))
	for i, name := range p.columnNames {
		if p.values[i] == nil {
			p.stats.NullValueCounts[name]++
			record[name] = nil
			continue
		}
		record[name] = convertSQLValue(p.values[i], p.dbTypes[i])
	}
	p.stats.RecordsRead++
	return record, nil
}

// Close releases all resources held by the reader.
func (p *PostgresReader) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []string
	if p.rows != nil {
		if err := p.rows.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		p.rows = nil
	}
	if p.tx != nil {
		if err := p.tx.Rollback(); err != nil && err != sql.ErrTxDone {
			errs = append(errs, err.Error())
		}
		p.tx = nil
	}
	if p.db != nil {
		if err := p.db.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		p.db = nil
	}
	if len(errs) > 0 {
		return &PostgresReaderError{Op: "close", Err: fmt.Errorf("%s", strings.Join(errs, "; "))}
	}
	return nil
}

// Schema returns the database type name of each result column.
func (p *PostgresReader) Schema() map[string]string {
	schema := make(map[string]string, len(p.columnNames))
	for i, name := range p.columnNames {
		schema[name] = p.dbTypes[i]
	}
	return schema
}

// Stats returns a copy of the reader stats.
func (p *PostgresReader) Stats() PostgresReaderStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	s.NullValueCounts = make(map[string]int64, len(p.stats.NullValueCounts))
	for k, v := range p.stats.NullValueCounts {
		s.NullValueCounts[k] = v
	}
	return s
}

func isValidCursorName(name string) bool {
	for _, r := range name {
		if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '_') {
			return false
		}
	}
	return len(name) > 0 && len(name) <= 63
}

// convertSQLValue maps driver values to record values. lib/pq returns
// NUMERIC as text, which is converted to float64 so it can be aggregated.
func convertSQLValue(value interface{}, dbType string) interface{} {
	b, ok := value.([]byte)
	if !ok {
		switch v := value.(type) {
		case int32:
			return int64(v)
		case float32:
			return float64(v)
		}
		return value
	}
	switch dbType {
	case "NUMERIC", "DECIMAL":
		if f, err := strconv.ParseFloat(string(b), 64); err == nil {
			return f
		}
		return string(b)
	case "BYTEA":
		return append([]byte(nil), b...)
	}
	return string(b)
}
