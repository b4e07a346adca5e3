// Copyright 2025 Stoq Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package plugin

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"gopkg.in/yaml.v3"
)

// descriptorNames are the file names recognized as plugin descriptors.
var descriptorNames = map[string]bool{
	"plugin.yaml": true,
	"plugin.yml":  true,
	"plugin.json": true,
}

// IsDescriptorFile reports whether name is a plugin descriptor file name.
func IsDescriptorFile(name string) bool {
	base := strings.ToLower(filepath.Base(name))
	return descriptorNames[base] || strings.HasSuffix(base, ".stoq.yaml") || strings.HasSuffix(base, ".stoq.yml")
}

// LoadDescriptor parses and validates one descriptor file.
// Supports both YAML and JSON formats.
func LoadDescriptor(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &DescriptorError{Path: path, Reason: "unreadable", Err: err}
	}
	return ParseDescriptor(path, data)
}

// ParseDescriptor decodes descriptor bytes; path selects the format and is
// recorded as the descriptor origin.
func ParseDescriptor(path string, data []byte) (*Descriptor, error) {
	var d Descriptor
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(data, &d); err != nil {
			return nil, &DescriptorError{Path: path, Reason: "invalid JSON", Err: err}
		}
	default:
		if err := yaml.Unmarshal(data, &d); err != nil {
			return nil, &DescriptorError{Path: path, Reason: "invalid YAML", Err: err}
		}
	}

	d.Path = path
	d.Dir = filepath.Dir(path)
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// Discover walks root in lexical order and returns every valid descriptor.
// Malformed descriptors are reported through skipped and do not stop the
// walk. An error is returned only when root itself cannot be walked.
func Discover(root string) (found []*Descriptor, skipped []error, err error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, nil, err
	}
	if !info.IsDir() {
		return nil, nil, fmt.Errorf("%s is not a directory", root)
	}

	walkErr := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			skipped = append(skipped, &DescriptorError{Path: path, Reason: "unreadable", Err: err})
			if entry != nil && entry.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if entry.IsDir() {
			if path != root && strings.HasPrefix(entry.Name(), ".") {
				return fs.SkipDir
			}
			return nil
		}
		if !IsDescriptorFile(entry.Name()) {
			return nil
		}

		d, loadErr := LoadDescriptor(path)
		if loadErr != nil {
			skipped = append(skipped, loadErr)
			return nil
		}
		found = append(found, d)
		return nil
	})
	if walkErr != nil {
		return nil, nil, walkErr
	}
	return found, skipped, nil
}
