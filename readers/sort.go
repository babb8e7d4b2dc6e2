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
	"fmt"
	"strings"
)

// SortKey is one column of the order a source must deliver rows in. The
// aggregate stage requires input sorted on its group columns; database
// readers push that order down to the server.
type SortKey struct {
	Column string
	Desc   bool
}

// SortKeys builds ascending keys for the given columns.
func SortKeys(columns ...string) []SortKey {
	keys := make([]SortKey, len(columns))
	for i, c := range columns {
		keys[i] = SortKey{Column: c}
	}
	return keys
}

// ParseSortKeys parses a comma separated list such as "day,-amount", where
// a leading '-' means descending.
func ParseSortKeys(s string) ([]SortKey, error) {
	var keys []SortKey
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key := SortKey{Column: part}
		if strings.HasPrefix(part, "-") {
			key = SortKey{Column: strings.TrimSpace(part[1:]), Desc: true}
		}
		if key.Column == "" {
			return nil, fmt.Errorf("invalid sort key %q", part)
		}
		keys = append(keys, key)
	}
	return keys, nil
}
