// Copyright 2025 Stoq Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package plugin

import (
	"fmt"
	"strings"
)

// Category is one of the eight fixed plugin kinds.
type Category string

const (
	CategorySource    Category = "source"
	CategoryReader    Category = "reader"
	CategoryWorker    Category = "worker"
	CategoryCarver    Category = "carver"
	CategoryDecoder   Category = "decoder"
	CategoryExtractor Category = "extractor"
	CategoryConnector Category = "connector"
	CategoryDecorator Category = "decorator"
)

// Categories lists every category in pipeline order.
var Categories = []Category{
	CategorySource,
	CategoryReader,
	CategoryWorker,
	CategoryCarver,
	CategoryDecoder,
	CategoryExtractor,
	CategoryConnector,
	CategoryDecorator,
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

func (c Category) String() string {
	return string(c)
}

// Plural returns the cache name used for the category ("workers", ...).
func (c Category) Plural() string {
	return string(c) + "s"
}

// ParseCategory parses a category name, accepting the plural form.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if c.Valid() {
		return c, nil
	}
	if trimmed := Category(strings.TrimSuffix(string(c), "s")); trimmed.Valid() {
		return trimmed, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidCategory, s)
}
