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
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/aaronlmathis/goetl-agg/core"
)

// S3ReaderError provides structured error information for S3 reader operations.
type S3ReaderError struct {
	Op  string // Operation that failed (e.g., "list_objects", "get_object", "read")
	Key string // Object key, if any
	Err error  // Underlying error
}

func (e *S3ReaderError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("s3 reader %s %s: %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("s3 reader %s: %v", e.Op, e.Err)
}

func (e *S3ReaderError) Unwrap() error {
	return e.Err
}

// S3API is the subset of the S3 client used by S3Reader.
type S3API interface {
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3ClientOptions holds connection settings shared by S3 readers and sinks.
type S3ClientOptions struct {
	Region         string
	Profile        string
	Credentials    aws.Credentials // Explicit static credentials, optional
	EndpointURL    string          // Custom endpoint for S3-compatible services
	ForcePathStyle bool
}

// NewS3Client loads the default AWS config, applies opts and returns a client.
func NewS3Client(ctx context.Context, opts S3ClientOptions) (*s3.Client, error) {
	var loadOpts []func(*config.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}
	if opts.Profile != "" {
		loadOpts = append(loadOpts, config.WithSharedConfigProfile(opts.Profile))
	}
	if opts.Credentials.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				opts.Credentials.AccessKeyID,
				opts.Credentials.SecretAccessKey,
				opts.Credentials.SessionToken,
			)))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, err
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.EndpointURL != "" {
			o.BaseEndpoint = aws.String(opts.EndpointURL)
		}
		o.UsePathStyle = opts.ForcePathStyle
	}), nil
}

// ParseS3URI splits "s3://bucket/key/prefix" into bucket and key.
func ParseS3URI(uri string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return "", "", fmt.Errorf("not an s3 uri: %q", uri)
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("missing bucket in %q", uri)
	}
	return bucket, key, nil
}

// S3ReaderStats holds statistics about the S3 reader.
type S3ReaderStats struct {
	ObjectsListed int64
	ObjectsRead   int64
	RecordsRead   int64
	ReadDuration  time.Duration
	CurrentObject string
}

// S3ReaderOptions configures the S3 reader.
type S3ReaderOptions struct {
	S3ClientOptions
	Bucket     string
	Prefix     string
	Suffix     string // Only keys ending in Suffix are read
	MaxKeys    int32
	Recursive  bool
	CSVOptions []ReaderOptionCSV
	Client     S3API
}

// ReaderOptionS3 represents a configuration function for S3Reader.
type ReaderOptionS3 func(*S3ReaderOptions)

// WithS3Location sets the bucket and key prefix to read.
func WithS3Location(bucket, prefix string) ReaderOptionS3 {
	return func(opts *S3ReaderOptions) {
		opts.Bucket = bucket
		opts.Prefix = prefix
	}
}

// WithS3Suffix restricts reading to keys with the given suffix.
func WithS3Suffix(suffix string) ReaderOptionS3 {
	return func(opts *S3ReaderOptions) { opts.Suffix = suffix }
}

// WithS3Recursive controls whether keys below nested prefixes are read.
func WithS3Recursive(recursive bool) ReaderOptionS3 {
	return func(opts *S3ReaderOptions) { opts.Recursive = recursive }
}

// WithS3Region sets the AWS region.
func WithS3Region(region string) ReaderOptionS3 {
	return func(opts *S3ReaderOptions) { opts.Region = region }
}

// WithS3Credentials sets explicit static credentials.
func WithS3Credentials(creds aws.Credentials) ReaderOptionS3 {
	return func(opts *S3ReaderOptions) { opts.Credentials = creds }
}

// WithS3Endpoint sets a custom endpoint, typically for S3-compatible stores.
func WithS3Endpoint(endpoint string, pathStyle bool) ReaderOptionS3 {
	return func(opts *S3ReaderOptions) {
		opts.EndpointURL = endpoint
		opts.ForcePathStyle = pathStyle
	}
}

// WithS3CSVOptions passes options to the CSV reader of each .csv object.
func WithS3CSVOptions(options ...ReaderOptionCSV) ReaderOptionS3 {
	return func(opts *S3ReaderOptions) { opts.CSVOptions = options }
}

// WithS3Client supplies a preconfigured client.
func WithS3Client(client S3API) ReaderOptionS3 {
	return func(opts *S3ReaderOptions) { opts.Client = client }
}

// S3Reader implements core.DataSource over every object under a prefix.
// Objects are read one after another in ascending key order, so a dataset
// sorted on the group keys and split into lexically ordered parts
// (part-0000.csv, part-0001.csv, ...) stays sorted. A failing object stops
// the read; skipping it would silently break groups.
type S3Reader struct {
	mu      sync.Mutex
	client  S3API
	opts    S3ReaderOptions
	keys    []string
	next    int
	current core.DataSource
	stats   S3ReaderStats
}

// NewS3Reader lists the objects to read and returns a reader over them.
func NewS3Reader(ctx context.Context, options ...ReaderOptionS3) (*S3Reader, error) {
	opts := S3ReaderOptions{MaxKeys: 1000, Recursive: true}
	for _, option := range options {
		option(&opts)
	}
	if opts.Bucket == "" {
		return nil, &S3ReaderError{Op: "validate", Err: fmt.Errorf("bucket is required")}
	}

	client := opts.Client
	if client == nil {
		c, err := NewS3Client(ctx, opts.S3ClientOptions)
		if err != nil {
			return nil, &S3ReaderError{Op: "create_client", Err: err}
		}
		client = c
	}

	r := &S3Reader{client: client, opts: opts}
	if err := r.list(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *S3Reader) list(ctx context.Context) error {
	input := &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.opts.Bucket),
		MaxKeys: aws.Int32(s.opts.MaxKeys),
	}
	if s.opts.Prefix != "" {
		input.Prefix = aws.String(s.opts.Prefix)
	}

	paginator := s3.NewListObjectsV2Paginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return &S3ReaderError{Op: "list_objects", Err: err}
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if s.include(key) {
				s.keys = append(s.keys, key)
			}
		}
	}
	sort.Strings(s.keys)
	s.stats.ObjectsListed = int64(len(s.keys))
	return nil
}

func (s *S3Reader) include(key string) bool {
	if strings.HasSuffix(key, "/") {
		return false
	}
	if s.opts.Suffix != "" && !strings.HasSuffix(key, s.opts.Suffix) {
		return false
	}
	if !s.opts.Recursive && strings.Contains(strings.TrimPrefix(key, s.opts.Prefix), "/") {
		return false
	}
	return true
}

// Read implements the core.DataSource interface.
func (s *S3Reader) Read(ctx context.Context) (core.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	defer func() { s.stats.ReadDuration += time.Since(start) }()

	for {
		if err := ctx.Err(); err != nil {
			return nil, &S3ReaderError{Op: "read", Err: err}
		}
		if s.current == nil {
			if s.next >= len(s.keys) {
				return nil, io.EOF
			}
			key := s.keys[s.next]
			s.next++
			if err := s.open(ctx, key); err != nil {
				return nil, err
			}
			if s.current == nil {
				continue
			}
		}

		record, err := s.current.Read(ctx)
		if err == io.EOF {
			if err := s.closeCurrent(); err != nil {
				return nil, &S3ReaderError{Op: "close_object", Key: s.stats.CurrentObject, Err: err}
			}
			continue
		}
		if err != nil {
			return nil, &S3ReaderError{Op: "read_record", Key: s.stats.CurrentObject, Err: err}
		}
		s.stats.RecordsRead++
		return record, nil
	}
}

func (s *S3Reader) open(ctx context.Context, key string) error {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.opts.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return &S3ReaderError{Op: "get_object", Key: key, Err: err}
	}

	var src core.DataSource
	switch strings.ToLower(path.Ext(key)) {
	case ".csv":
		src, err = NewCSVReader(out.Body, s.opts.CSVOptions...)
	case ".parquet":
		var data *bytes.Reader
		data, err = readAllBytes(out.Body)
		out.Body.Close()
		if err == nil {
			src, err = NewParquetReaderFrom(data, nil)
		}
	default:
		src = NewJSONReader(out.Body)
	}
	if errors.Is(err, io.EOF) {
		// Empty CSV object, not even a header line.
		return out.Body.Close()
	}
	if err != nil {
		out.Body.Close()
		return &S3ReaderError{Op: "open_object", Key: key, Err: err}
	}
	s.current = src
	s.stats.CurrentObject = key
	s.stats.ObjectsRead++
	return nil
}

func (s *S3Reader) closeCurrent() error {
	if s.current == nil {
		return nil
	}
	err := s.current.Close()
	s.current = nil
	return err
}

// Close implements the core.DataSource interface.
func (s *S3Reader) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCurrent()
}

// Keys returns the object keys in read order.
func (s *S3Reader) Keys() []string {
	return append([]string(nil), s.keys...)
}

// Stats returns S3 reader statistics.
func (s *S3Reader) Stats() S3ReaderStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}
