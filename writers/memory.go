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
	"fmt"
	"sync"

	"github.com/aaronlmathis/goetl-agg/core"
)

// MemoryWriter implements core.DataSink by collecting records in memory.
type MemoryWriter struct {
	mu      sync.Mutex
	records []core.Record
	flushes int
	closed  bool
}

// NewMemoryWriter returns an empty MemoryWriter.
func NewMemoryWriter() *MemoryWriter {
	return &MemoryWriter{}
}

// Write implements the core.DataSink interface.
func (m *MemoryWriter) Write(ctx context.Context, record core.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("memory writer is closed")
	}
	m.records = append(m.records, record)
	return nil
}

// Flush implements the core.DataSink interface.
func (m *MemoryWriter) Flush() error {
	m.mu.Lock()
	m.flushes++
	m.mu.Unlock()
	return nil
}

// Close implements the core.DataSink interface.
func (m *MemoryWriter) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Records returns a copy of the records written so far.
func (m *MemoryWriter) Records() []core.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]core.Record(nil), m.records...)
}

// Flushes returns how many times Flush was called.
func (m *MemoryWriter) Flushes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushes
}

// ChannelWriter implements core.DataSink by handing each record to a
// channel. Write blocks until a consumer receives the record or ctx is
// done, so a slow consumer throttles the producer instead of losing rows.
type ChannelWriter struct {
	ch     chan core.Record
	once   sync.Once
	closed chan struct{}
}

// NewChannelWriter creates a writer with the given channel buffer size.
// A size of 0 gives a strict hand-off.
func NewChannelWriter(buffer int) *ChannelWriter {
	return &ChannelWriter{
		ch:     make(chan core.Record, buffer),
		closed: make(chan struct{}),
	}
}

// Records returns the channel consumers read from. It is closed by Close.
func (c *ChannelWriter) Records() <-chan core.Record {
	return c.ch
}

// Write implements the core.DataSink interface.
func (c *ChannelWriter) Write(ctx context.Context, record core.Record) error {
	select {
	case <-c.closed:
		return fmt.Errorf("channel writer is closed")
	default:
	}
	select {
	case c.ch <- record:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush implements the core.DataSink interface.
func (c *ChannelWriter) Flush() error {
	return nil
}

// Close implements the core.DataSink interface. Write must not be called
// concurrently with Close.
func (c *ChannelWriter) Close() error {
	c.once.Do(func() {
		close(c.closed)
		close(c.ch)
	})
	return nil
}
