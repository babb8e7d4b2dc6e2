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
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/aaronlmathis/goetl-agg/core"
)

// DefaultName is used in diagnostics when a config has no name.
const DefaultName = "untitled"

// ParamPercentile is the params key read by PERCENTILE.
const ParamPercentile = "percentile"

// Descriptor specifies one output column: which function runs over which
// source column.
type Descriptor struct {
	Function     Kind                   `yaml:"function" json:"function"`
	SourceColumn string                 `yaml:"source_column" json:"source_column"`
	Params       map[string]interface{} `yaml:"params,omitempty" json:"params,omitempty"`
}

// Percentile returns the validated percentile parameter.
func (d Descriptor) Percentile() (float64, error) {
	raw, ok := d.Params[ParamPercentile]
	if !ok || raw == nil {
		return 0, fmt.Errorf("%w: %s", ErrMissingParam, ParamPercentile)
	}
	p, err := core.ToFloat64(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrMalformedDescriptor, ParamPercentile, err)
	}
	if math.IsNaN(p) || p < 0 || p > 100 {
		return 0, fmt.Errorf("%w: got %v", ErrPercentileRange, p)
	}
	return p, nil
}

// Spec maps output column names to their descriptors.
type Spec map[string]Descriptor

// OutputColumns returns the output column names in sorted order.
func (s Spec) OutputColumns() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns a deep copy of the spec, params maps included.
func (s Spec) Clone() Spec {
	if s == nil {
		return nil
	}
	out := make(Spec, len(s))
	for name, d := range s {
		if d.Params != nil {
			params := make(map[string]interface{}, len(d.Params))
			for k, v := range d.Params {
				params[k] = v
			}
			d.Params = params
		}
		out[name] = d
	}
	return out
}

// Config is the complete setup of one aggregation stage.
type Config struct {
	Name         string   `yaml:"name" json:"name"`
	Group        []string `yaml:"group" json:"group"`
	Aggregations Spec     `yaml:"aggregations" json:"aggregations"`
	NullIsZero   bool     `yaml:"null_is_zero" json:"null_is_zero"`
	ReturnAll    bool     `yaml:"return_all" json:"return_all"`
}

// Validate checks the config without looking at any data.
func (c Config) Validate() error {
	name := c.displayName()
	if len(c.Group) == 0 {
		return configError(name, "", fmt.Errorf("%w: group", ErrMissingParam))
	}
	for _, col := range c.Group {
		if col == "" {
			return configError(name, "", fmt.Errorf("%w: empty group column", ErrMalformedDescriptor))
		}
	}
	if len(c.Aggregations) == 0 {
		return configError(name, "", fmt.Errorf("%w: aggregations", ErrMissingParam))
	}
	for _, out := range c.Aggregations.OutputColumns() {
		if err := validateDescriptor(out, c.Aggregations[out]); err != nil {
			return configError(name, out, err)
		}
	}
	return nil
}

// clone detaches c from maps and slices the caller may still mutate.
func (c Config) clone() Config {
	c.Group = append([]string(nil), c.Group...)
	c.Aggregations = c.Aggregations.Clone()
	return c
}

func (c Config) displayName() string {
	if c.Name == "" {
		return DefaultName
	}
	return c.Name
}

func validateDescriptor(out string, d Descriptor) error {
	if out == "" {
		return fmt.Errorf("%w: empty output column name", ErrMalformedDescriptor)
	}
	if _, ok := functions[d.Function]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownFunction, d.Function)
	}
	if d.SourceColumn == "" && d.Function != KindCount {
		return fmt.Errorf("%w: %s requires a source column", ErrMalformedDescriptor, d.Function)
	}
	if d.Function == KindPercentile {
		if _, err := d.Percentile(); err != nil {
			return err
		}
	}
	return nil
}

type rawConfig struct {
	Name         string                 `yaml:"name"`
	Group        []string               `yaml:"group"`
	Aggregations map[string]interface{} `yaml:"aggregations"`
	NullIsZero   bool                   `yaml:"null_is_zero"`
	ReturnAll    bool                   `yaml:"return_all"`
}

// ParseConfig decodes and validates a YAML (or JSON) aggregation config.
func ParseConfig(data []byte) (Config, error) {
	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, configError(DefaultName, "", fmt.Errorf("%w: %v", ErrMalformedDescriptor, err))
	}
	cfg := Config{
		Name:       raw.Name,
		Group:      raw.Group,
		NullIsZero: raw.NullIsZero,
		ReturnAll:  raw.ReturnAll,
	}
	spec, err := ParseAggregations(raw.Aggregations)
	if err != nil {
		if e, ok := err.(*Error); ok {
			e.Name = cfg.displayName()
		}
		return Config{}, err
	}
	cfg.Aggregations = spec
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfig reads and validates a YAML config file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read aggregation config %s: %w", path, err)
	}
	return ParseConfig(data)
}

// ParseAggregations converts loosely typed descriptors into a Spec.
//
// Accepted shapes per output column:
//
//	{function: sum, source_column: amt, params: {percentile: 25}}
//	{AGG_SUM: amt}
//	{AGG_PERCENTILE: amt, percentile: 25}
//	AGG_COUNT            (COUNT only, counts rows)
func ParseAggregations(raw map[string]interface{}) (Spec, error) {
	spec := make(Spec, len(raw))
	for out, v := range raw {
		d, err := parseDescriptor(v)
		if err != nil {
			return nil, configError(DefaultName, out, err)
		}
		spec[out] = d
	}
	return spec, nil
}

func parseDescriptor(v interface{}) (Descriptor, error) {
	switch t := v.(type) {
	case map[string]interface{}:
		if _, ok := t["function"]; ok {
			return parseExplicit(t)
		}
		return parseCompact(t)
	case map[interface{}]interface{}:
		return parseDescriptor(stringKeys(t))
	case string, int:
		k, err := parseKindValue(t)
		if err != nil {
			return Descriptor{}, err
		}
		if k != KindCount {
			return Descriptor{}, fmt.Errorf("%w: %s requires a source column", ErrMalformedDescriptor, k)
		}
		return Descriptor{Function: k}, nil
	default:
		return Descriptor{}, fmt.Errorf("%w: expected a mapping, got %T", ErrMalformedDescriptor, v)
	}
}

func parseExplicit(m map[string]interface{}) (Descriptor, error) {
	var d Descriptor
	for key, v := range m {
		switch key {
		case "function":
			k, err := parseKindValue(v)
			if err != nil {
				return Descriptor{}, err
			}
			d.Function = k
		case "source_column":
			col, ok := v.(string)
			if !ok {
				return Descriptor{}, fmt.Errorf("%w: source_column must be a string", ErrMalformedDescriptor)
			}
			d.SourceColumn = col
		case "params":
			if m, ok := v.(map[interface{}]interface{}); ok {
				v = stringKeys(m)
			}
			params, ok := v.(map[string]interface{})
			if !ok {
				return Descriptor{}, fmt.Errorf("%w: params must be a mapping", ErrMalformedDescriptor)
			}
			d.Params = params
		default:
			return Descriptor{}, fmt.Errorf("%w: unexpected key %q", ErrMalformedDescriptor, key)
		}
	}
	return d, nil
}

func parseCompact(m map[string]interface{}) (Descriptor, error) {
	var (
		d     Descriptor
		found bool
	)
	for key, v := range m {
		if key == ParamPercentile && core.IsNumeric(v) {
			d.Params = map[string]interface{}{ParamPercentile: v}
			continue
		}
		col, ok := v.(string)
		if !ok {
			return Descriptor{}, fmt.Errorf("%w: %q must name a source column", ErrMalformedDescriptor, key)
		}
		k, err := compactKind(key)
		if err != nil {
			return Descriptor{}, err
		}
		if found {
			return Descriptor{}, fmt.Errorf("%w: more than one function", ErrMalformedDescriptor)
		}
		d.Function, d.SourceColumn, found = k, col, true
	}
	if !found {
		return Descriptor{}, fmt.Errorf("%w: no function given", ErrMalformedDescriptor)
	}
	return d, nil
}

// compactKind reads a compact-form key, which is a function name or its
// numeric value.
func compactKind(key string) (Kind, error) {
	if n, err := strconv.Atoi(key); err == nil {
		return parseKindValue(n)
	}
	return ParseKind(key)
}

// stringKeys converts a YAML mapping with non-string keys, such as `{7: qtty}`.
func stringKeys(m map[interface{}]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[fmt.Sprint(k)] = v
	}
	return out
}

func parseKindValue(v interface{}) (Kind, error) {
	switch t := v.(type) {
	case string:
		return ParseKind(t)
	case int:
		k := Kind(t)
		if _, ok := functions[k]; !ok {
			return 0, fmt.Errorf("%w: %d", ErrUnknownFunction, t)
		}
		return k, nil
	}
	return 0, fmt.Errorf("%w: function must be a name, got %T", ErrMalformedDescriptor, v)
}
