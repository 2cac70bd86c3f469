package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"authgate/internal/domain"
	"authgate/internal/gateway/filter"
)

//go:embed default_rules.yaml
var defaultRules []byte

// RuleSet is a parsed filter chain file.
type RuleSet struct {
	Default []string
	Rules   []filter.Rule
}

type ruleFile struct {
	Default string `yaml:"default"`
	Rules   []struct {
		Pattern string `yaml:"pattern"`
		Filters string `yaml:"filters"`
	} `yaml:"rules"`
}

// DefaultRules returns the built-in filter chain definitions.
func DefaultRules() RuleSet {
	rs, err := ParseRules(defaultRules)
	if err != nil {
		panic(fmt.Sprintf("embedded default rules: %v", err))
	}
	return rs
}

// LoadRules reads a filter chain file, or returns DefaultRules when path is empty.
func LoadRules(path string) (RuleSet, error) {
	if path == "" {
		return DefaultRules(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return RuleSet{}, fmt.Errorf("reading filter chain file: %w", err)
	}
	rs, err := ParseRules(data)
	if err != nil {
		return RuleSet{}, fmt.Errorf("%s: %w", path, err)
	}
	return rs, nil
}

// ParseRules decodes filter chain YAML. Rule order is preserved and a
// missing default chain means authc.
func ParseRules(data []byte) (RuleSet, error) {
	var f ruleFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return RuleSet{}, fmt.Errorf("decoding filter chains: %v: %w", err, domain.ErrBadArgument)
	}

	rs := RuleSet{Default: []string{filter.Authc}}
	if f.Default != "" {
		def, err := filter.ParseFilters(f.Default)
		if err != nil {
			return RuleSet{}, fmt.Errorf("default chain: %w", err)
		}
		rs.Default = def
	}

	seen := make(map[string]int, len(f.Rules))
	for i, r := range f.Rules {
		if r.Pattern == "" {
			return RuleSet{}, fmt.Errorf("rule %d: missing pattern: %w", i, domain.ErrBadArgument)
		}
		if prev, dup := seen[r.Pattern]; dup {
			return RuleSet{}, fmt.Errorf("rule %d: pattern %q already defined by rule %d: %w", i, r.Pattern, prev, domain.ErrBadArgument)
		}
		seen[r.Pattern] = i

		names, err := filter.ParseFilters(r.Filters)
		if err != nil {
			return RuleSet{}, fmt.Errorf("rule %d (%s): %w", i, r.Pattern, err)
		}
		rs.Rules = append(rs.Rules, filter.Rule{Pattern: r.Pattern, Filters: names})
	}
	return rs, nil
}
