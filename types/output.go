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

// Package types resolves output targets into configured sinks.
package types

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/aaronlmathis/goetl-agg/core"
	"github.com/aaronlmathis/goetl-agg/readers"
	"github.com/aaronlmathis/goetl-agg/writers"
)

// OutputFormat represents a supported sink format.
type OutputFormat int

const (
	FormatCSV OutputFormat = iota
	FormatJSON
	FormatParquet
	FormatPostgres
)

func (f OutputFormat) String() string {
	switch f {
	case FormatCSV:
		return "csv"
	case FormatJSON:
		return "json"
	case FormatParquet:
		return "parquet"
	case FormatPostgres:
		return "postgres"
	}
	return fmt.Sprintf("OutputFormat(%d)", int(f))
}

// FormatFromPath picks a file format from the path extension.
func FormatFromPath(path string) (OutputFormat, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV, nil
	case ".json", ".jsonl", ".ndjson":
		return FormatJSON, nil
	case ".parquet":
		return FormatParquet, nil
	}
	return 0, fmt.Errorf("cannot infer output format from %q", path)
}

// OutputLocation creates a DataSink for a given format.
type OutputLocation interface {
	NewSink(ctx context.Context, format OutputFormat) (core.DataSink, error)
}

// FileLocation writes output to a local path. "-" means standard output.
type FileLocation struct {
	Path string
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// NewSink instantiates a writer for the file location.
func (f FileLocation) NewSink(ctx context.Context, format OutputFormat) (core.DataSink, error) {
	var out io.WriteCloser
	if f.Path == "-" {
		out = nopCloser{os.Stdout}
	} else {
		if dir := filepath.Dir(f.Path); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, err
			}
		}
		file, err := os.Create(f.Path)
		if err != nil {
			return nil, err
		}
		out = file
	}
	sink, err := newStreamSink(out, format)
	if err != nil {
		out.Close()
		return nil, err
	}
	return sink, nil
}

func newStreamSink(out io.WriteCloser, format OutputFormat) (core.DataSink, error) {
	switch format {
	case FormatCSV:
		return writers.NewCSVWriter(out)
	case FormatJSON:
		return writers.NewJSONWriter(out), nil
	case FormatParquet:
		return writers.NewParquetWriter(out)
	}
	return nil, fmt.Errorf("unsupported format %s for stream output", format)
}

// S3PutAPI is the subset of the S3 client used by S3Location.
type S3PutAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Location buffers output in memory and uploads it as a single object
// when the sink is closed.
type S3Location struct {
	Bucket        string
	Key           string
	Client        S3PutAPI
	ClientOptions readers.S3ClientOptions
}

type s3WriteCloser struct {
	ctx         context.Context
	buf         bytes.Buffer
	client      S3PutAPI
	bucket, key string
	contentType string
}

func (s *s3WriteCloser) Write(p []byte) (int, error) { return s.buf.Write(p) }

func (s *s3WriteCloser) Close() error {
	_, err := s.client.PutObject(s.ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key),
		Body:        bytes.NewReader(s.buf.Bytes()),
		ContentType: aws.String(s.contentType),
	})
	if err != nil {
		return fmt.Errorf("upload s3://%s/%s: %w", s.bucket, s.key, err)
	}
	return nil
}

// NewSink creates a writer uploading to S3.
func (s S3Location) NewSink(ctx context.Context, format OutputFormat) (core.DataSink, error) {
	if s.Bucket == "" || s.Key == "" {
		return nil, fmt.Errorf("s3 output requires bucket and key")
	}
	client := s.Client
	if client == nil {
		c, err := readers.NewS3Client(ctx, s.ClientOptions)
		if err != nil {
			return nil, err
		}
		client = c
	}
	contentType := map[OutputFormat]string{
		FormatCSV:     "text/csv",
		FormatJSON:    "application/x-ndjson",
		FormatParquet: "application/vnd.apache.parquet",
	}[format]
	return newStreamSink(&s3WriteCloser{
		ctx:         ctx,
		client:      client,
		bucket:      s.Bucket,
		key:         s.Key,
		contentType: contentType,
	}, format)
}

// PostgresLocation directs output to a PostgreSQL table. With
// ConflictColumns set, existing rows are updated in place.
type PostgresLocation struct {
	DSN             string
	Table           string
	CreateTable     bool
	ConflictColumns []string
	UpdateColumns   []string
}

// NewSink instantiates a PostgreSQL writer.
func (p PostgresLocation) NewSink(ctx context.Context, format OutputFormat) (core.DataSink, error) {
	if format != FormatPostgres {
		return nil, fmt.Errorf("unsupported format %s for postgres output", format)
	}
	opts := []writers.PostgresWriterOption{
		writers.WithPostgresWriterDSN(p.DSN),
		writers.WithTableName(p.Table),
		writers.WithCreateTable(p.CreateTable),
	}
	if len(p.ConflictColumns) > 0 {
		opts = append(opts, writers.WithConflictResolution(writers.ConflictUpdate, p.ConflictColumns, p.UpdateColumns))
	} else {
		opts = append(opts, writers.WithCopy(true))
	}
	return writers.NewPostgresWriter(opts...)
}

// ParseOutput resolves an output target. Files and s3:// URIs take their
// format from the extension; postgres:// DSNs need a table.
func ParseOutput(target, table string) (OutputLocation, OutputFormat, error) {
	switch {
	case target == "" || target == "-":
		return FileLocation{Path: "-"}, FormatJSON, nil
	case strings.HasPrefix(target, "postgres://"), strings.HasPrefix(target, "postgresql://"):
		if table == "" {
			return nil, 0, fmt.Errorf("postgres output requires a table")
		}
		return PostgresLocation{DSN: target, Table: table}, FormatPostgres, nil
	case strings.HasPrefix(target, "s3://"):
		bucket, key, err := readers.ParseS3URI(target)
		if err != nil {
			return nil, 0, err
		}
		format, err := FormatFromPath(key)
		if err != nil {
			return nil, 0, err
		}
		return S3Location{Bucket: bucket, Key: key}, format, nil
	}
	format, err := FormatFromPath(target)
	if err != nil {
		return nil, 0, err
	}
	return FileLocation{Path: target}, format, nil
}
