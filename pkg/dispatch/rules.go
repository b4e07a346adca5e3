package dispatch

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rule kinds understood by the engine.
const (
	KindLiteral = "literal"
	KindHex     = "hex"
	KindRegex   = "regex"
)

// RuleFile is the YAML rule resource:
//
//	nocase: false
//	rules:
//	  - name: pe
//	    pattern: "MZ"
//	    offset: 0
//	    workers: [pe, entropy]
//	  - name: magic
//	    kind: regex
//	    pattern: "ma.ic"
//	    nocase: true
//	    workers: [mimetype]
type RuleFile struct {
	NoCase bool   `yaml:"nocase"`
	Rules  []Rule `yaml:"rules"`
}

// Rule maps a byte pattern to the workers that must see matching payloads.
type Rule struct {
	Name    string   `yaml:"name"`
	Kind    string   `yaml:"kind"`
	Pattern string   `yaml:"pattern"`
	NoCase  bool     `yaml:"nocase"`
	Offset  *int     `yaml:"offset"`
	Workers []string `yaml:"workers"`
}

// RuleSource produces the raw rule resource.
type RuleSource func() ([]byte, error)

// FromFile reads rules from path on first use.
func FromFile(path string) RuleSource {
	return func() ([]byte, error) {
		return os.ReadFile(path)
	}
}

// FromBytes serves an in-memory rule resource.
func FromBytes(b []byte) RuleSource {
	return func() ([]byte, error) {
		return b, nil
	}
}

// ParseRules decodes a rule resource.
func ParseRules(data []byte) (*RuleFile, error) {
	var rf RuleFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parse dispatch rules: %w", err)
	}
	return &rf, nil
}

// Subject is a payload under classification. The lowercase view is built
// at most once, and only when a case-insensitive rule asks for it.
type Subject struct {
	raw   []byte
	lower []byte
}

// Raw returns the payload bytes.
func (s *Subject) Raw() []byte { return s.raw }

// Folded returns the payload with ASCII letters lowercased. Other bytes are
// kept so offsets stay valid on binary content.
func (s *Subject) Folded() []byte {
	if s.lower == nil {
		s.lower = foldASCII(s.raw)
	}
	return s.lower
}

func foldASCII(b []byte) []byte {
	out := make([]byte, len(b))
	for i, c := range b {
		if 'A' <= c && c <= 'Z' {
			c |= 0x20
		}
		out[i] = c
	}
	return out
}

// MatchFunc reports whether a compiled rule matches.
type MatchFunc func(s *Subject) bool

// KindFunc compiles a pattern of one rule kind.
type KindFunc func(pattern string, nocase bool, offset *int) (MatchFunc, error)

func compileLiteral(pattern string, nocase bool, offset *int) (MatchFunc, error) {
	if pattern == "" {
		return nil, fmt.Errorf("empty literal pattern")
	}
	needle := []byte(pattern)
	if nocase {
		needle = foldASCII(needle)
	}
	return bytesMatcher(needle, nocase, offset), nil
}

func compileHex(pattern string, _ bool, offset *int) (MatchFunc, error) {
	cleaned := strings.NewReplacer(" ", "", "\t", "", "\n", "").Replace(pattern)
	cleaned = strings.TrimPrefix(strings.ToLower(cleaned), "0x")
	needle, err := hex.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("invalid hex pattern %q: %w", pattern, err)
	}
	if len(needle) == 0 {
		return nil, fmt.Errorf("empty hex pattern")
	}
	return bytesMatcher(needle, false, offset), nil
}

func compileRegex(pattern string, nocase bool, offset *int) (MatchFunc, error) {
	flags := "(?s)"
	if nocase {
		flags = "(?is)"
	}
	if offset != nil {
		return nil, fmt.Errorf("offset is not supported for regex rules")
	}
	re, err := regexp.Compile(flags + pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex %q: %w", pattern, err)
	}
	return func(s *Subject) bool {
		return re.Match(s.raw)
	}, nil
}

func bytesMatcher(needle []byte, nocase bool, offset *int) MatchFunc {
	return func(s *Subject) bool {
		hay := s.raw
		if nocase {
			hay = s.Folded()
		}
		if offset == nil {
			return bytes.Contains(hay, needle)
		}
		at := *offset
		if at < 0 || at+len(needle) > len(hay) {
			return false
		}
		return bytes.Equal(hay[at:at+len(needle)], needle)
	}
}
