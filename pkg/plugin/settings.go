// Copyright 2025 Stoq Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package plugin

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/spf13/cast"
)

// Common holds the options every plugin recognizes.
type Common struct {
	MaxTLP string `option:"max_tlp,lower" default:"white"`
}

// WorkerConfig holds the options recognized by worker plugins. They drive
// the orchestration pipeline rather than the worker's own scan.
type WorkerConfig struct {
	// Dispatch is a path to a YAML rule file; DispatchRules holds inline
	// rules in the same format.
	Dispatch       string `option:"dispatch"`
	DispatchRules  string `option:"dispatch_rules"`
	DispatchNoCase bool   `option:"dispatch_nocase"`

	HashPayload bool   `option:"hashpayload"`
	RateLimit   string `option:"ratelimit"`

	ArchiveConnector string   `option:"archive_connector"`
	OutputConnectors []string `option:"output_connectors"`
	SaveResults      bool     `option:"saveresults"`
	Decorator        string   `option:"decorator"`

	Carvers    []string `option:"carvers"`
	Decoders   []string `option:"decoders"`
	Extractors []string `option:"extractors"`
	// Workers are dispatched unconditionally, in addition to rule matches.
	Workers []string `option:"workers"`

	Reader string `option:"reader" default:"file"`
	Source string `option:"source"`

	CombinedResults  bool   `option:"combined_results" default:"true"`
	FlattenResults   bool   `option:"flatten_results"`
	FlattenDelimiter string `option:"flatten_delimiter" default:":"`
	Template         string `option:"template"`

	MaxDepth    int `option:"max_depth" default:"10"`
	Concurrency int `option:"concurrency" default:"4"`
}

// MergeOptions layers option maps; later layers win and nil values never
// override.
func MergeOptions(layers ...map[string]any) map[string]any {
	merged := make(map[string]any)
	for _, layer := range layers {
		for k, v := range layer {
			if v == nil {
				continue
			}
			merged[strings.ToLower(k)] = v
		}
	}
	return merged
}

type optionField struct {
	value reflect.Value
	lower bool
}

// BindOptions applies creasty defaults to every target and then assigns
// the recognized keys of values. Targets must be pointers to structs whose
// fields carry `option:"key[,lower]"` tags. Unrecognized keys are returned
// sorted.
func BindOptions(values map[string]any, targets ...any) ([]string, error) {
	fields := make(map[string]optionField)
	for _, target := range targets {
		if target == nil {
			continue
		}
		if err := defaults.Set(target); err != nil {
			return nil, fmt.Errorf("apply defaults to %T: %w", target, err)
		}
		if err := collectOptionFields(target, fields); err != nil {
			return nil, err
		}
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var unknown []string
	for _, key := range keys {
		f, ok := fields[key]
		if !ok {
			unknown = append(unknown, key)
			continue
		}
		if err := assignOption(f, values[key]); err != nil {
			return unknown, fmt.Errorf("option %q: %w", key, err)
		}
	}
	return unknown, nil
}

func collectOptionFields(target any, into map[string]optionField) error {
	v := reflect.ValueOf(target)
	if v.Kind() != reflect.Pointer || v.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("option target %T must be a pointer to a struct", target)
	}
	v = v.Elem()
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		tag, ok := sf.Tag.Lookup("option")
		if !ok || tag == "-" || !sf.IsExported() {
			continue
		}
		name, flags, _ := strings.Cut(tag, ",")
		into[name] = optionField{value: v.Field(i), lower: flags == "lower"}
	}
	return nil
}

var durationType = reflect.TypeOf(time.Duration(0))

func assignOption(f optionField, raw any) error {
	v := f.value
	if v.Type() == durationType {
		d, err := cast.ToDurationE(raw)
		if err != nil {
			return err
		}
		v.SetInt(int64(d))
		return nil
	}

	switch v.Kind() {
	case reflect.String:
		s, err := cast.ToStringE(raw)
		if err != nil {
			return err
		}
		if f.lower {
			s = strings.ToLower(s)
		}
		v.SetString(s)
	case reflect.Bool:
		b, err := cast.ToBoolE(raw)
		if err != nil {
			return err
		}
		v.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := cast.ToInt64E(raw)
		if err != nil {
			return err
		}
		v.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := cast.ToUint64E(raw)
		if err != nil {
			return err
		}
		v.SetUint(n)
	case reflect.Float32, reflect.Float64:
		n, err := cast.ToFloat64E(raw)
		if err != nil {
			return err
		}
		v.SetFloat(n)
	case reflect.Slice:
		if v.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type %s", v.Type())
		}
		list, err := toStringList(raw)
		if err != nil {
			return err
		}
		v.Set(reflect.ValueOf(list))
	case reflect.Map:
		m, err := cast.ToStringMapE(raw)
		if err != nil {
			return err
		}
		mv := reflect.ValueOf(m)
		if !mv.Type().AssignableTo(v.Type()) {
			return fmt.Errorf("unsupported map type %s", v.Type())
		}
		v.Set(mv)
	default:
		return fmt.Errorf("unsupported option type %s", v.Type())
	}
	return nil
}

// toStringList accepts comma separated strings as well as sequences.
func toStringList(raw any) ([]string, error) {
	if s, ok := raw.(string); ok {
		var out []string
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out, nil
	}
	return cast.ToStringSliceE(raw)
}
