// Package rules loads author-facing access-control manifests (YAML)
// and compiles them into the aclengine's rule-store shapes.
package rules

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Manifest is the on-disk shape of an access manifest, e.g.
// rules/access.yaml.
type Manifest struct {
	RuleSets       []RuleSetSpec       `yaml:"ruleSets"`
	UserAttributes []UserAttributeSpec `yaml:"userAttributes"`
}

// RuleSetSpec is one scope's ordered rule chain, most specific first.
// Table is the table name, or "*" for the document-wide default.
// Columns names the group of columns this rule set scopes to; a
// single "*" means the whole table (or, with Table also "*", the
// whole document). Default gives the permission bits assumed once the
// chain runs out of matching rules, before falling through to a
// broader scope.
type RuleSetSpec struct {
	Table   string            `yaml:"table"`
	Columns []string          `yaml:"columns,omitempty"`
	Rules   []RuleSpec        `yaml:"rules"`
	Default map[string]string `yaml:"default,omitempty"`
}

// RuleSpec is one rule: a match expression in the mini predicate
// language (see Compiler), and the permission bits it grants or denies
// when the match expression holds.
type RuleSpec struct {
	Match       string            `yaml:"match"`
	Permissions map[string]string `yaml:"permissions"`
}

// UserAttributeSpec binds a characteristic-table row onto UserInfo
// before rule matching.
type UserAttributeSpec struct {
	Name          string `yaml:"name"`
	Table         string `yaml:"table"`
	LookupColumn  string `yaml:"lookupColumn"`
	UserKey       string `yaml:"userKey"`
}

// Load reads and parses a manifest from path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rules: reading manifest %s: %w", path, err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("rules: parsing manifest %s: %w", path, err)
	}
	return &m, nil
}
