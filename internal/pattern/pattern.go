// Package pattern holds the ordered substring list that decides whether a
// log line is an error. Patterns are data: the default list can be extended
// or replaced from a YAML file without touching the classifier.
package pattern

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Defaults is the built-in pattern list. Matching is case-sensitive, so the
// common capitalizations are listed explicitly.
var Defaults = []string{
	"error", "Error", "ERROR",
	"crash", "Crash", "CRASH",
	"failed", "Failed", "FAILED",
	"fatal", "Fatal", "FATAL",
	"segmentation fault", "segfault",
	"config error", "Config error",
	"invalid field",
	"command not found",
	"permission denied",
	"not found",
	"core dumped",
	"is NOT running",
}

// Set is an ordered, de-duplicated list of substrings.
type Set struct {
	patterns []string
	seen     map[string]struct{}
}

// NewSet creates a set from the given patterns, preserving order.
func NewSet(patterns ...string) *Set {
	s := &Set{seen: make(map[string]struct{})}
	for _, p := range patterns {
		s.Add(p)
	}
	return s
}

// Default returns a set holding Defaults.
func Default() *Set {
	return NewSet(Defaults...)
}

// Add appends p unless it is empty or already present.
func (s *Set) Add(p string) {
	if p == "" {
		return
	}
	if _, ok := s.seen[p]; ok {
		return
	}
	s.seen[p] = struct{}{}
	s.patterns = append(s.patterns, p)
}

// All returns the patterns in match order.
func (s *Set) All() []string {
	out := make([]string, len(s.patterns))
	copy(out, s.patterns)
	return out
}

// Len returns the number of patterns.
func (s *Set) Len() int {
	return len(s.patterns)
}

// Match returns the first pattern contained in line.
func (s *Set) Match(line string) (string, bool) {
	for _, p := range s.patterns {
		if strings.Contains(line, p) {
			return p, true
		}
	}
	return "", false
}

// File is the on-disk format of a pattern file.
//
//	replace_defaults: false
//	patterns:
//	  - "out of memory"
//	  - "OOM"
type File struct {
	ReplaceDefaults bool     `yaml:"replace_defaults"`
	Patterns        []string `yaml:"patterns"`
}

// Load reads a pattern file. Unless the file sets replace_defaults, its
// patterns are appended after Defaults.
func Load(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pattern file: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse pattern file %s: %w", path, err)
	}

	var s *Set
	if f.ReplaceDefaults {
		s = NewSet()
	} else {
		s = Default()
	}
	for _, p := range f.Patterns {
		s.Add(p)
	}

	if s.Len() == 0 {
		return nil, fmt.Errorf("pattern file %s defines no patterns", path)
	}
	return s, nil
}
