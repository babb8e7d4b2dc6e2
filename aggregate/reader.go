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

package aggregate

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aaronlmathis/goetl-agg/core"
)

// Reader exposes an Aggregator as a pull-based core.DataSource: each Read
// returns the next emitted row, pulling input from the wrapped source as
// needed. io.EOF is returned after the final group has been drained.
type Reader struct {
	src     core.DataSource
	agg     *Aggregator
	pending []core.Record
	done    bool
}

// NewReader wraps src so its rows are aggregated by agg.
func NewReader(src core.DataSource, agg *Aggregator) *Reader {
	return &Reader{src: src, agg: agg}
}

// Read implements core.DataSource.
func (r *Reader) Read(ctx context.Context) (core.Record, error) {
	for {
		if len(r.pending) > 0 {
			next := r.pending[0]
			r.pending = r.pending[1:]
			return next, nil
		}
		if r.done {
			return nil, io.EOF
		}

		record, err := r.src.Read(ctx)
		if errors.Is(err, io.EOF) {
			out, err := r.agg.Finish(ctx)
			if err != nil {
				return nil, err
			}
			r.pending, r.done = out, true
			continue
		}
		if err != nil {
			return nil, err
		}

		out, err := r.agg.Add(ctx, record)
		if err != nil {
			return nil, err
		}
		r.pending = out
	}
}

// Close closes the wrapped source.
func (r *Reader) Close() error {
	return r.src.Close()
}

// Run drains src through agg into sink and flushes the sink. Sink writes
// block the run rather than dropping rows. If ctx is cancelled the run
// stops without flushing the open group. Source and sink stay open.
func Run(ctx context.Context, src core.DataSource, sink core.DataSink, agg *Aggregator) error {
	for {
		record, err := src.Read(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("aggregate read: %w", err)
		}
		out, err := agg.Add(ctx, record)
		if err != nil {
			return err
		}
		if err := writeAll(ctx, sink, out); err != nil {
			return err
		}
	}

	out, err := agg.Finish(ctx)
	if err != nil {
		return err
	}
	if err := writeAll(ctx, sink, out); err != nil {
		return err
	}
	return sink.Flush()
}

func writeAll(ctx context.Context, sink core.DataSink, records []core.Record) error {
	for _, record := range records {
		if err := sink.Write(ctx, record); err != nil {
			return fmt.Errorf("aggregate write: %w", err)
		}
	}
	return nil
}
