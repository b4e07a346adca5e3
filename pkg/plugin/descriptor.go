// Copyright 2025 Stoq Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package plugin

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/go-playground/validator/v10"
)

var validate = newDescriptorValidator()

func newDescriptorValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	// Masterminds accepts the relaxed forms ("3", "3.1") descriptors use.
	_ = v.RegisterValidation("stoqversion", func(fl validator.FieldLevel) bool {
		_, err := semver.NewVersion(fl.Field().String())
		return err == nil
	})
	return v
}

// Descriptor is the static metadata of one plugin unit as declared in its
// descriptor file. It is immutable once collected.
type Descriptor struct {
	Name           string         `yaml:"name" json:"name" validate:"required,max=128,excludesall=/\\ "`
	Category       Category       `yaml:"category" json:"category" validate:"required,oneof=source reader worker carver decoder extractor connector decorator"`
	Module         string         `yaml:"module,omitempty" json:"module,omitempty"`
	Version        string         `yaml:"version,omitempty" json:"version,omitempty" validate:"omitempty,stoqversion"`
	MinStoqVersion string         `yaml:"min_stoq_version,omitempty" json:"min_stoq_version,omitempty" validate:"omitempty,stoqversion"`
	MaxStoqVersion string         `yaml:"max_stoq_version,omitempty" json:"max_stoq_version,omitempty" validate:"omitempty,stoqversion"`
	Description    string         `yaml:"description,omitempty" json:"description,omitempty"`
	Author         string         `yaml:"author,omitempty" json:"author,omitempty"`
	Options        map[string]any `yaml:"options,omitempty" json:"options,omitempty"`

	// Dir is the plugin unit directory and Path the descriptor file.
	Dir  string `yaml:"-" json:"-"`
	Path string `yaml:"-" json:"-"`
}

// ModuleName returns the implementation key, defaulting to Name.
func (d *Descriptor) ModuleName() string {
	if d.Module != "" {
		return d.Module
	}
	return d.Name
}

// Key returns the (category, name) identity of the descriptor.
func (d *Descriptor) Key() Key {
	return Key{Category: d.Category, Name: d.Name}
}

// Validate checks required fields and version constraint syntax.
func (d *Descriptor) Validate() error {
	d.Category = Category(strings.ToLower(string(d.Category)))
	if err := validate.Struct(d); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return &DescriptorError{
				Path:   d.Path,
				Reason: fmt.Sprintf("field %s failed %q validation", fe.Field(), fe.Tag()),
			}
		}
		return &DescriptorError{Path: d.Path, Reason: "validation failed", Err: err}
	}
	return nil
}

// Key identifies a descriptor within the registry.
type Key struct {
	Category Category
	Name     string
}

func (k Key) String() string {
	return string(k.Category) + ":" + k.Name
}
