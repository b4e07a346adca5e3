// Copyright 2025 Stoq Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package format

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/vulntor/stoq/pkg/results"
)

// RecordHeaders are the columns produced by RecordRows.
var RecordHeaders = []string{"depth", "plugin", "payload", "size", "scan", "errors"}

// RecordRows flattens result trees into one table row per record, parents
// before children.
func RecordRows(roots []*results.Record) [][]string {
	var rows [][]string
	var walk func(r *results.Record, depth int)
	walk = func(r *results.Record, depth int) {
		rows = append(rows, []string{
			fmt.Sprint(depth),
			strings.Repeat("  ", depth) + r.Plugin,
			payloadLabel(r.Meta),
			sizeLabel(r.Meta["size"]),
			scanSummary(r.Scan),
			fmt.Sprint(len(r.Errors)),
		})
		for _, child := range r.Results {
			walk(child, depth+1)
		}
	}
	for _, root := range roots {
		walk(root, 0)
	}
	return rows
}

func payloadLabel(meta map[string]any) string {
	for _, key := range []string{"filename", "path", "uuid"} {
		if v, ok := meta[key].(string); ok && v != "" {
			return v
		}
	}
	return "-"
}

func sizeLabel(v any) string {
	switch n := v.(type) {
	case int:
		return humanize.IBytes(uint64(n))
	case int64:
		return humanize.IBytes(uint64(n))
	default:
		return "-"
	}
}

// scanSummary renders scalar scan values as sorted key=value pairs.
func scanSummary(scan map[string]any) string {
	if len(scan) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(scan))
	for k := range scan {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		switch v := scan[k].(type) {
		case string, bool, int, int64, float64:
			parts = append(parts, fmt.Sprintf("%s=%v", k, v))
		}
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, " ")
}
