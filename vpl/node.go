// Package vpl implements the Versatiles Pipeline Language: a small
// KDL-like declarative grammar for chaining tile sources and transforms
// (spec.md §4.J). Parsing produces a Pipeline; Compiler turns a Pipeline
// into a tilesource.Source.
package vpl

import (
	"fmt"
	"strconv"
	"strings"
)

// Property is one key=value pair attached to a Node, in source order.
type Property struct {
	Key   string
	Value string
}

// Node is one operation in a pipeline: an op name, its properties, and
// (for ops like from_stacked_raster) a bracketed list of sub-pipelines.
type Node struct {
	Name       string
	Properties []Property
	Sources    []Pipeline
}

// Pipeline is a chain of Nodes joined by '|': the first Node is the head
// (a reader), the rest are transforms applied in order.
type Pipeline []Node

func (n Node) get(key string) (string, bool) {
	for _, p := range n.Properties {
		if p.Key == key {
			return p.Value, true
		}
	}
	return "", false
}

// PropertyNames returns the keys set on n, in source order.
func (n Node) PropertyNames() []string {
	names := make([]string, len(n.Properties))
	for i, p := range n.Properties {
		names[i] = p.Key
	}
	return names
}

// CheckProperties fails if n carries any property outside allowed,
// naming the offending key and the accepted set — the same contract
// decode_vpl.rs's generated from_vpl_node gives every operation.
func (n Node) CheckProperties(allowed ...string) error {
	for _, name := range n.PropertyNames() {
		found := false
		for _, a := range allowed {
			if a == name {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("vpl: the %q operation does not support the argument %q; only %s",
				n.Name, name, strings.Join(allowed, ", "))
		}
	}
	return nil
}

// StringRequired returns key's value or an error if absent.
func (n Node) StringRequired(key string) (string, error) {
	v, ok := n.get(key)
	if !ok {
		return "", fmt.Errorf("vpl: %q operation requires argument %q", n.Name, key)
	}
	return v, nil
}

// StringOption returns key's value, if set.
func (n Node) StringOption(key string) (string, bool) {
	return n.get(key)
}

// BoolOption parses key as a bool, if set.
func (n Node) BoolOption(key string) (bool, bool, error) {
	v, ok := n.get(key)
	if !ok {
		return false, false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, true, fmt.Errorf("vpl: %q operation argument %q must be a boolean, got %q", n.Name, key, v)
	}
	return b, true, nil
}

// Uint8Option parses key as a uint8, if set.
func (n Node) Uint8Option(key string) (uint8, bool, error) {
	v, ok := n.get(key)
	if !ok {
		return 0, false, nil
	}
	i, err := strconv.ParseUint(v, 10, 8)
	if err != nil {
		return 0, true, fmt.Errorf("vpl: %q operation argument %q must be a u8, got %q", n.Name, key, v)
	}
	return uint8(i), true, nil
}

// Float64sOption parses key as a comma-separated array of count floats
// (the value of a property written `key=[v1,v2,...]`), if set.
func (n Node) Float64sOption(key string, count int) ([]float64, bool, error) {
	v, ok := n.get(key)
	if !ok {
		return nil, false, nil
	}
	parts := strings.Split(v, ",")
	if len(parts) != count {
		return nil, true, fmt.Errorf("vpl: %q operation argument %q needs %d values, got %d", n.Name, key, count, len(parts))
	}
	out := make([]float64, count)
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, true, fmt.Errorf("vpl: %q operation argument %q: %w", n.Name, key, err)
		}
		out[i] = f
	}
	return out, true, nil
}
