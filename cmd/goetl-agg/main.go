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

// Command goetl-agg runs one group-by aggregation over a sorted input and
// writes the summary rows to an output.
//
//	goetl-agg -config daily.yaml -input sales.csv -output daily.parquet
//	goetl-agg -config daily.yaml -input postgres://db/sales -input-table orders -output s3://reports/daily.csv
//	goetl-agg -config daily.yaml -input mongodb://host -input-table shop.orders -output out.jsonl
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	goetl "github.com/aaronlmathis/goetl-agg"
	"github.com/aaronlmathis/goetl-agg/aggregate"
	"github.com/aaronlmathis/goetl-agg/core"
	"github.com/aaronlmathis/goetl-agg/logger"
	"github.com/aaronlmathis/goetl-agg/readers"
	"github.com/aaronlmathis/goetl-agg/types"
)

type options struct {
	config      string
	input       string
	inputTable  string
	sort        string
	output      string
	outputTable string
	upsert      bool
	logLevel    string
}

func main() {
	var opts options
	flag.StringVar(&opts.config, "config", "", "aggregation config (YAML)")
	flag.StringVar(&opts.input, "input", "-", "file path, s3://bucket/prefix, postgres:// DSN or mongodb:// URI")
	flag.StringVar(&opts.inputTable, "input-table", "", "table (postgres) or database.collection (mongodb)")
	flag.StringVar(&opts.sort, "sort", "", "sort keys pushed to database inputs, e.g. \"day,-store\" (default: group columns)")
	flag.StringVar(&opts.output, "output", "-", "file path (.csv, .jsonl, .parquet), s3://bucket/key or postgres:// DSN")
	flag.StringVar(&opts.outputTable, "output-table", "", "target table for postgres output")
	flag.BoolVar(&opts.upsert, "upsert", false, "update existing postgres rows keyed by the group columns")
	flag.StringVar(&opts.logLevel, "log-level", "info", "debug, info, warn, error or off")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		logger.GetDefault().Error("%v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	level, err := logger.ParseLevel(opts.logLevel)
	if err != nil {
		return err
	}
	log := logger.NewLogger(level, os.Stderr)
	logger.SetDefault(log)

	if opts.config == "" {
		return fmt.Errorf("-config is required")
	}
	cfg, err := aggregate.LoadConfig(opts.config)
	if err != nil {
		return err
	}
	agg, err := aggregate.New(cfg, aggregate.WithLogger(log))
	if err != nil {
		return err
	}

	keys := readers.SortKeys(cfg.Group...)
	if opts.sort != "" {
		if keys, err = readers.ParseSortKeys(opts.sort); err != nil {
			return err
		}
	}
	source, err := openInput(ctx, opts.input, opts.inputTable, keys)
	if err != nil {
		return err
	}

	location, format, err := types.ParseOutput(opts.output, opts.outputTable)
	if err != nil {
		source.Close()
		return err
	}
	if pg, ok := location.(types.PostgresLocation); ok {
		pg.CreateTable = true
		if opts.upsert {
			pg.ConflictColumns = cfg.Group
			pg.UpdateColumns = cfg.Aggregations.OutputColumns()
		}
		location = pg
	}
	sink, err := location.NewSink(ctx, format)
	if err != nil {
		source.Close()
		return err
	}

	pipeline, err := goetl.NewPipeline().
		From(source).
		Aggregate(agg).
		To(sink).
		Build()
	if err != nil {
		return err
	}
	return pipeline.Execute(ctx)
}

// openInput resolves an input target into a source ordered by keys.
// Files (.csv, .parquet, anything else as JSON lines) and S3 objects must
// already be sorted; database inputs sort server side.
func openInput(ctx context.Context, input, table string, keys []readers.SortKey) (core.DataSource, error) {
	switch {
	case input == "" || input == "-":
		return readers.NewJSONReader(os.Stdin), nil

	case strings.HasPrefix(input, "postgres://"), strings.HasPrefix(input, "postgresql://"):
		if table == "" {
			return nil, fmt.Errorf("postgres input requires -input-table")
		}
		return readers.NewPostgresReader(
			readers.WithPostgresDSN(input),
			readers.WithPostgresTable(table, nil, keys...),
			readers.WithPostgresCursor(true, "goetl_agg_cursor"),
		)

	case strings.HasPrefix(input, "mongodb://"), strings.HasPrefix(input, "mongodb+srv://"):
		db, coll, ok := strings.Cut(table, ".")
		if !ok || db == "" || coll == "" {
			return nil, fmt.Errorf("mongodb input requires -input-table database.collection")
		}
		return readers.NewMongoReader(
			readers.WithMongoURI(input),
			readers.WithMongoCollection(db, coll),
			readers.WithMongoSort(keys...),
			readers.WithMongoAllowDiskUse(true),
		)

	case strings.HasPrefix(input, "s3://"):
		bucket, prefix, err := readers.ParseS3URI(input)
		if err != nil {
			return nil, err
		}
		return readers.NewS3Reader(ctx, readers.WithS3Location(bucket, prefix))
	}

	if strings.HasSuffix(strings.ToLower(input), ".parquet") {
		return readers.NewParquetReader(input)
	}
	file, err := os.Open(input)
	if err != nil {
		return nil, err
	}
	if strings.HasSuffix(strings.ToLower(input), ".csv") {
		r, err := readers.NewCSVReader(file)
		if err != nil {
			file.Close()
			return nil, err
		}
		return r, nil
	}
	return readers.NewJSONReader(file), nil
}
