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
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronlmathis/goetl-agg/core"
	"github.com/aaronlmathis/goetl-agg/writers"
)

type closeBuffer struct{ bytes.Buffer }

func (*closeBuffer) Close() error { return nil }

func parquetBytes(t *testing.T, records ...core.Record) []byte {
	t.Helper()
	buf := &closeBuffer{}
	w, err := writers.NewParquetWriter(buf, writers.WithBatchSize(2))
	require.NoError(t, err)
	for _, rec := range records {
		require.NoError(t, w.Write(context.Background(), rec))
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestParquetReader_RoundTrip(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	data := parquetBytes(t,
		core.Record{"day": int64(1), "amt": 10.5, "store": "a", "at": at},
		core.Record{"day": int64(1), "amt": nil, "store": "b", "at": at},
		core.Record{"day": int64(2), "amt": 3.0, "store": "a", "at": at},
	)

	r, err := NewParquetReaderFrom(bytes.NewReader(data), nil, WithParquetBatchSize(2))
	require.NoError(t, err)
	defer r.Close()

	records, err := readAll(t, r)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, core.Record{"day": int64(1), "amt": 10.5, "store": "a", "at": at}, records[0])
	assert.Nil(t, records[1]["amt"])
	assert.Equal(t, int64(2), records[2]["day"])

	stats := r.Stats()
	assert.Equal(t, int64(3), stats.RecordsRead)
	assert.Equal(t, int64(1), stats.NullValueCounts["amt"])

	_, err = r.Read(context.Background())
	assert.Equal(t, io.EOF, err)
}

func TestParquetReader_Projection(t *testing.T) {
	data := parquetBytes(t, core.Record{"day": int64(1), "amt": 2.0, "note": "x"})

	r, err := NewParquetReaderFrom(bytes.NewReader(data), nil, WithParquetColumns("day", "amt"))
	require.NoError(t, err)
	defer r.Close()
	rec, err := r.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, core.Record{"day": int64(1), "amt": 2.0}, rec)
	assert.Len(t, r.Schema().Fields(), 2)

	_, err = NewParquetReaderFrom(bytes.NewReader(data), nil, WithParquetColumns("missing"))
	var prErr *ParquetReaderError
	require.ErrorAs(t, err, &prErr)
	assert.Equal(t, "column_projection", prErr.Op)
}

func TestParquetReader_Errors(t *testing.T) {
	_, err := NewParquetReader(filepath.Join(t.TempDir(), "missing.parquet"))
	var prErr *ParquetReaderError
	require.ErrorAs(t, err, &prErr)
	assert.Equal(t, "open_file", prErr.Op)

	_, err = NewParquetReaderFrom(bytes.NewReader([]byte("not parquet")), nil)
	require.ErrorAs(t, err, &prErr)
	assert.Equal(t, "create_reader", prErr.Op)
}

func TestS3Reader_ParquetObject(t *testing.T) {
	fake := &fakeS3{objects: map[string]string{
		"daily/part-0.parquet": string(parquetBytes(t, core.Record{"day": int64(7), "amt": 1.5})),
	}}
	r, err := NewS3Reader(context.Background(), WithS3Location("bucket", "daily/"), WithS3Client(fake))
	require.NoError(t, err)

	records, err := readAll(t, r)
	require.NoError(t, err)
	assert.Equal(t, []core.Record{{"day": int64(7), "amt": 1.5}}, records)
}
