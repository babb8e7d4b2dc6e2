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

	"github.com/aaronlmathis/goetl-agg/core"
)

// MemoryReader implements core.DataSource over an in-memory slice of records.
// Useful for tests and for feeding rows that were sorted in process.
type MemoryReader struct {
	records []core.Record
	pos     int
	closed  bool
}

// NewMemoryReader returns a reader yielding records in slice order.
func NewMemoryReader(records []core.Record) *MemoryReader {
	return &MemoryReader{records: records}
}

// Read implements the core.DataSource interface.
func (m *MemoryReader) Read(ctx context.Context) (core.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.closed {
		return nil, fmt.Errorf("memory reader is closed")
	}
	if m.pos >= len(m.records) {
		return nil, io.EOF
	}
	record := m.records[m.pos]
	m.pos++
	return record, nil
}

// Close implements the core.DataSource interface.
func (m *MemoryReader) Close() error {
	m.closed = true
	return nil
}
