// Copyright 2025 Stoq Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package plugin

import (
	"errors"
	"fmt"
)

const (
	errorCodeConfig         = "PLUGIN_CONFIG"
	errorCodeIncompatible   = "PLUGIN_INCOMPATIBLE"
	errorCodeNotFound       = "PLUGIN_NOT_FOUND"
	errorCodeInvalidCat     = "PLUGIN_INVALID_CATEGORY"
	errorCodeCapability     = "PLUGIN_CAPABILITY"
	errorCodeRegistry       = "PLUGIN_REGISTRY_UNUSABLE"
	errorCodeDescriptor     = "PLUGIN_DESCRIPTOR"
	errorCodeUnknownFailure = "PLUGIN_FAILURE"
)

// Registry and activation errors.
// These are domain-specific errors that can be checked using errors.Is()
var (
	// ErrConfig is returned when a plugin cannot be activated with its
	// configuration.
	// CLI exit code: 2
	ErrConfig = errors.New("plugin configuration error")

	// ErrIncompatibleVersion marks a plugin whose version constraints exclude
	// the running framework. Activation continues; the error is only logged.
	ErrIncompatibleVersion = errors.New("plugin incompatible with running version")

	// ErrPluginNotFound is returned when a requested plugin cannot be found
	// CLI exit code: 4
	ErrPluginNotFound = errors.New("plugin not found")

	// ErrInvalidCategory is returned when an invalid category is specified
	// CLI exit code: 2
	ErrInvalidCategory = errors.New("invalid category")

	// ErrCapability is returned when an implementation lacks the interface
	// its category requires.
	ErrCapability = errors.New("plugin lacks required capability")

	// ErrRegistryUnusable is returned by Collect when a plugin directory is
	// missing or unreadable. The registry is left empty.
	// CLI exit code: 4
	ErrRegistryUnusable = errors.New("plugin registry unusable")
)

// DescriptorError describes a descriptor file that was skipped during
// collection.
type DescriptorError struct {
	Path   string
	Reason string
	Err    error
}

func (e *DescriptorError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("descriptor %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("descriptor %s: %s", e.Path, e.Reason)
}

func (e *DescriptorError) Unwrap() error {
	return e.Err
}

// Code implements errorCoder.
func (e *DescriptorError) Code() string {
	return errorCodeDescriptor
}

// ConfigError reports a failed activation. It matches ErrConfig and the
// underlying cause with errors.Is.
type ConfigError struct {
	Category Category
	Name     string
	Err      error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s plugin %q: %v", e.Category, e.Name, e.Err)
}

func (e *ConfigError) Unwrap() []error {
	return []error{ErrConfig, e.Err}
}

func newConfigError(category Category, name string, format string, args ...any) error {
	return &ConfigError{Category: category, Name: name, Err: fmt.Errorf(format, args...)}
}

type errorCoder interface {
	error
	Code() string
}

// ErrorCode resolves an error to its plugin error code.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}

	var coded errorCoder
	if errors.As(err, &coded) {
		if code := coded.Code(); code != "" {
			return code
		}
	}

	switch {
	case errors.Is(err, ErrCapability):
		return errorCodeCapability
	case errors.Is(err, ErrPluginNotFound):
		return errorCodeNotFound
	case errors.Is(err, ErrInvalidCategory):
		return errorCodeInvalidCat
	case errors.Is(err, ErrRegistryUnusable):
		return errorCodeRegistry
	case errors.Is(err, ErrIncompatibleVersion):
		return errorCodeIncompatible
	case errors.Is(err, ErrConfig):
		return errorCodeConfig
	default:
		return errorCodeUnknownFailure
	}
}

// ExitCode maps errors to CLI exit codes.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}

	switch {
	case errors.Is(err, ErrPluginNotFound), errors.Is(err, ErrRegistryUnusable):
		return 4
	case errors.Is(err, ErrInvalidCategory), errors.Is(err, ErrConfig):
		return 2
	default:
		return 1
	}
}

// Suggestions provides human readable guidance for CLI usage.
func Suggestions(err error) []string {
	switch ErrorCode(err) {
	case errorCodeRegistry:
		return []string{
			"Check that every directory in plugins.dirs exists and is readable",
		}
	case errorCodeNotFound:
		return []string{
			"Run 'stoq plugin list' to see collected plugins",
			"Verify the plugin descriptor name and category",
		}
	case errorCodeInvalidCat:
		return []string{
			"Use one of: source, reader, worker, carver, decoder, extractor, connector, decorator",
		}
	default:
		return nil
	}
}
