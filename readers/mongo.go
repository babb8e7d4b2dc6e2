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
	"fmt"
	"io"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/aaronlmathis/goetl-agg/core"
)

// MongoReaderError provides structured error information for MongoDB reader operations.
type MongoReaderError struct {
	Op         string // Operation that failed (e.g., "connect", "find", "decode")
	Collection string // Collection being accessed when error occurred
	Err        error  // Underlying error
}

func (e *MongoReaderError) Error() string {
	if e.Collection != "" {
		return fmt.Sprintf("mongo reader %s [%s]: %v", e.Op, e.Collection, e.Err)
	}
	return fmt.Sprintf("mongo reader %s: %v", e.Op, e.Err)
}

func (e *MongoReaderError) Unwrap() error {
	return e.Err
}

// MongoReaderStats holds statistics about the MongoDB reader.
type MongoReaderStats struct {
	RecordsRead     int64
	ReadDuration    time.Duration
	NullValueCounts map[string]int64
}

// MongoReaderOptions configures the MongoDB reader. When Pipeline is set
// the reader runs an aggregation and appends a $sort stage for SortKeys;
// otherwise it runs a find sorted by SortKeys.
type MongoReaderOptions struct {
	URI            string
	Database       string
	Collection     string
	Filter         bson.M
	Projection     bson.M
	Pipeline       []bson.M
	SortKeys       []SortKey
	BatchSize      int32
	Timeout        time.Duration
	ReadPreference string
	AllowDiskUse   bool
}

// ReaderOptionMongo is a functional option for MongoReaderOptions.
type ReaderOptionMongo func(*MongoReaderOptions)

// WithMongoURI sets the connection URI.
func WithMongoURI(uri string) ReaderOptionMongo {
	return func(opts *MongoReaderOptions) { opts.URI = uri }
}

// WithMongoCollection sets the database and collection to read.
func WithMongoCollection(database, collection string) ReaderOptionMongo {
	return func(opts *MongoReaderOptions) {
		opts.Database = database
		opts.Collection = collection
	}
}

// WithMongoFilter sets the find filter and optional projection.
func WithMongoFilter(filter, projection bson.M) ReaderOptionMongo {
	return func(opts *MongoReaderOptions) {
		opts.Filter = filter
		opts.Projection = projection
	}
}

// WithMongoPipeline reads the output of an aggregation pipeline.
func WithMongoPipeline(pipeline []bson.M) ReaderOptionMongo {
	return func(opts *MongoReaderOptions) { opts.Pipeline = pipeline }
}

// WithMongoSort sets the order documents are returned in.
func WithMongoSort(keys ...SortKey) ReaderOptionMongo {
	return func(opts *MongoReaderOptions) { opts.SortKeys = keys }
}

// WithMongoBatchSize sets the cursor batch size.
func WithMongoBatchSize(batchSize int32) ReaderOptionMongo {
	return func(opts *MongoReaderOptions) { opts.BatchSize = batchSize }
}

// WithMongoTimeout bounds connecting and opening the cursor.
func WithMongoTimeout(timeout time.Duration) ReaderOptionMongo {
	return func(opts *MongoReaderOptions) { opts.Timeout = timeout }
}

// WithMongoReadPreference sets the read preference (primary, secondary, nearest...).
func WithMongoReadPreference(preference string) ReaderOptionMongo {
	return func(opts *MongoReaderOptions) { opts.ReadPreference = preference }
}

// WithMongoAllowDiskUse lets large server-side sorts spill to disk.
func WithMongoAllowDiskUse(allow bool) ReaderOptionMongo {
	return func(opts *MongoReaderOptions) { opts.AllowDiskUse = allow }
}

// MongoReader implements core.DataSource for a MongoDB collection. It
// connects lazily on the first Read.
type MongoReader struct {
	opts   MongoReaderOptions
	client *mongo.Client
	cursor *mongo.Cursor
	stats  MongoReaderStats
}

// NewMongoReader validates options and returns an unconnected reader.
func NewMongoReader(options ...ReaderOptionMongo) (*MongoReader, error) {
	opts := MongoReaderOptions{
		URI:            "mongodb://localhost:27017",
		BatchSize:      1000,
		Timeout:        30 * time.Second,
		ReadPreference: "primary",
	}
	for _, option := range options {
		option(&opts)
	}
	if opts.Database == "" {
		return nil, &MongoReaderError{Op: "validate", Err: fmt.Errorf("database name is required")}
	}
	if opts.Collection == "" {
		return nil, &MongoReaderError{Op: "validate", Err: fmt.Errorf("collection name is required")}
	}
	if _, err := readpref.ModeFromString(opts.ReadPreference); err != nil {
		return nil, &MongoReaderError{Op: "validate", Err: err}
	}
	return &MongoReader{
		opts:  opts,
		stats: MongoReaderStats{NullValueCounts: make(map[string]int64)},
	}, nil
}

// sortDocument returns keys as an ordered BSON sort document.
func sortDocument(keys []SortKey) bson.D {
	doc := make(bson.D, 0, len(keys))
	for _, k := range keys {
		dir := 1
		if k.Desc {
			dir = -1
		}
		doc = append(doc, bson.E{Key: k.Column, Value: dir})
	}
	return doc
}

// aggregationPipeline returns the configured pipeline followed by the sort stage.
func (mr *MongoReader) aggregationPipeline() mongo.Pipeline {
	stages := make(mongo.Pipeline, 0, len(mr.opts.Pipeline)+1)
	for _, stage := range mr.opts.Pipeline {
		d := make(bson.D, 0, len(stage))
		for k, v := range stage {
			d = append(d, bson.E{Key: k, Value: v})
		}
		stages = append(stages, d)
	}
	if len(mr.opts.SortKeys) > 0 {
		stages = append(stages, bson.D{{Key: "$sort", Value: sortDocument(mr.opts.SortKeys)}})
	}
	return stages
}

func (mr *MongoReader) open(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, mr.opts.Timeout)
	defer cancel()

	mode, _ := readpref.ModeFromString(mr.opts.ReadPreference)
	pref, err := readpref.New(mode)
	if err != nil {
		return &MongoReaderError{Op: "build_options", Err: err}
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(mr.opts.URI).SetReadPreference(pref))
	if err != nil {
		return &MongoReaderError{Op: "connect", Err: err}
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return &MongoReaderError{Op: "ping", Err: err}
	}
	mr.client = client

	coll := client.Database(mr.opts.Database).Collection(mr.opts.Collection)
	if mr.opts.Pipeline != nil {
		aggOpts := options.Aggregate().SetBatchSize(mr.opts.BatchSize).SetAllowDiskUse(mr.opts.AllowDiskUse)
		mr.cursor, err = coll.Aggregate(ctx, mr.aggregationPipeline(), aggOpts)
		if err != nil {
			return &MongoReaderError{Op: "aggregate", Collection: mr.opts.Collection, Err: err}
		}
		return nil
	}

	findOpts := options.Find().SetBatchSize(mr.opts.BatchSize).SetAllowDiskUse(mr.opts.AllowDiskUse)
	if len(mr.opts.SortKeys) > 0 {
		findOpts.SetSort(sortDocument(mr.opts.SortKeys))
	}
	if mr.opts.Projection != nil {
		findOpts.SetProjection(mr.opts.Projection)
	}
	filter := mr.opts.Filter
	if filter == nil {
		filter = bson.M{}
	}
	mr.cursor, err = coll.Find(ctx, filter, findOpts)
	if err != nil {
		return &MongoReaderError{Op: "find", Collection: mr.opts.Collection, Err: err}
	}
	return nil
}

// Read implements the core.DataSource interface.
func (mr *MongoReader) Read(ctx context.Context) (core.Record, error) {
	start := time.Now()
	defer func() { mr.stats.ReadDuration += time.Since(start) }()

	if err := ctx.Err(); err != nil {
		return nil, &MongoReaderError{Op: "read", Collection: mr.opts.Collection, Err: err}
	}
	if mr.cursor == nil {
		if err := mr.open(ctx); err != nil {
			return nil, err
		}
	}

	if !mr.cursor.Next(ctx) {
		if err := mr.cursor.Err(); err != nil {
			return nil, &MongoReaderError{Op: "cursor_next", Collection: mr.opts.Collection, Err: err}
		}
		return nil, io.EOF
	}
	var doc bson.M
	if err := mr.cursor.Decode(&doc); err != nil {
		return nil, &MongoReaderError{Op: "decode", Collection: mr.opts.Collection, Err: err}
	}

	record := make(core.Record, len(doc))
	for key, value := range doc {
		v := convertBSONValue(value)
		if v == nil {
			mr.stats.NullValueCounts[key]++
		}
		record[key] = v
	}
	mr.stats.RecordsRead++
	return record, nil
}

// Close implements the core.DataSource interface.
func (mr *MongoReader) Close() error {
	ctx := context.Background()
	var err error
	if mr.cursor != nil {
		err = mr.cursor.Close(ctx)
		mr.cursor = nil
	}
	if mr.client != nil {
		if derr := mr.client.Disconnect(ctx); derr != nil && err == nil {
			err = derr
		}
		mr.client = nil
	}
	if err != nil {
		return &MongoReaderError{Op: "close", Collection: mr.opts.Collection, Err: err}
	}
	return nil
}

// Stats returns the reader stats.
func (mr *MongoReader) Stats() MongoReaderStats {
	return mr.stats
}

// convertBSONValue maps BSON values to record values. Numbers become int64
// or float64 so they aggregate like values from other sources.
func convertBSONValue(value interface{}) interface{} {
	switch v := value.(type) {
	case primitive.ObjectID:
		return v.Hex()
	case primitive.DateTime:
		return v.Time().UTC()
	case primitive.Timestamp:
		return time.Unix(int64(v.T), 0).UTC()
	case primitive.Decimal128:
		if f, err := strconv.ParseFloat(v.String(), 64); err == nil {
			return f
		}
		return v.String()
	case int32:
		return int64(v)
	case primitive.Binary:
		return v.Data
	case primitive.Null, primitive.Undefined:
		return nil
	case bson.M:
		out := make(map[string]interface{}, len(v))
		for k, val := range v {
			out[k] = convertBSONValue(val)
		}
		return out
	case bson.A:
		out := make([]interface{}, len(v))
		for i, val := range v {
			out[i] = convertBSONValue(val)
		}
		return out
	}
	return value
}
