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
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronlmathis/goetl-agg/core"
)

type mockWriteCloser struct {
	strings.Builder
	closed    bool
	failWrite bool
}

func (m *mockWriteCloser) Write(p []byte) (int, error) {
	if m.failWrite {
		return 0, io.ErrUnexpectedEOF
	}
	return m.Builder.Write(p)
}

func (m *mockWriteCloser) Close() error {
	m.closed = true
	return nil
}

func TestCSVWriter_SummaryRows(t *testing.T) {
	mock := &mockWriteCloser{}
	w, err := NewCSVWriter(mock)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, w.Write(ctx, core.Record{"day": int64(1), "total": 30.0, "avg": 15.5}))
	require.NoError(t, w.Write(ctx, core.Record{"day": int64(2), "total": 5.0, "avg": nil}))
	require.NoError(t, w.Close())

	assert.Equal(t, "avg,day,total\n15.5,1,30\n,2,5\n", mock.String())
	assert.True(t, mock.closed)
	assert.Equal(t, []string{"avg", "day", "total"}, w.Headers())

	stats := w.Stats()
	assert.Equal(t, int64(2), stats.RecordsWritten)
	assert.Equal(t, int64(1), stats.NullValueCounts["avg"])
}

func TestCSVWriter_Options(t *testing.T) {
	mock := &mockWriteCloser{}
	w, err := NewCSVWriter(mock,
		WithHeaders([]string{"day", "at"}),
		WithComma(';'),
		WithWriteHeader(false),
		WithTimeLayout("2006-01-02"),
	)
	require.NoError(t, err)

	at := time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC)
	require.NoError(t, w.Write(context.Background(), core.Record{"day": "mon", "at": at, "extra": 1}))
	require.NoError(t, w.Flush())

	assert.Equal(t, "mon;2024-03-09\n", mock.String())
}

func TestCSVWriter_BatchSize(t *testing.T) {
	mock := &mockWriteCloser{}
	w, err := NewCSVWriter(mock, WithCSVBatchSize(2))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, w.Write(ctx, core.Record{"n": 1}))
	assert.Empty(t, mock.String())
	require.NoError(t, w.Write(ctx, core.Record{"n": 2}))
	assert.Equal(t, "n\n1\n2\n", mock.String())
	assert.Equal(t, int64(1), w.Stats().FlushCount)
}

func TestCSVWriter_Errors(t *testing.T) {
	t.Run("cancelled context", func(t *testing.T) {
		w, err := NewCSVWriter(&mockWriteCloser{})
		require.NoError(t, err)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err = w.Write(ctx, core.Record{"n": 1})
		var cwErr *CSVWriterError
		require.ErrorAs(t, err, &cwErr)
		assert.Equal(t, "write", cwErr.Op)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("unformattable value", func(t *testing.T) {
		w, err := NewCSVWriter(&mockWriteCloser{})
		require.NoError(t, err)
		require.NoError(t, w.Write(context.Background(), core.Record{"n": struct{}{}}))

		err = w.Flush()
		var cwErr *CSVWriterError
		require.ErrorAs(t, err, &cwErr)
		assert.Equal(t, "format", cwErr.Op)
	})

	t.Run("failing writer", func(t *testing.T) {
		w, err := NewCSVWriter(&mockWriteCloser{failWrite: true})
		require.NoError(t, err)
		require.NoError(t, w.Write(context.Background(), core.Record{"n": 1}))
		assert.Error(t, w.Flush())
	})
}
