package rewrite

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/docuflow/waypoint/model"
)

// RuleSource loads rule definitions from durable storage. The store treats
// the returned collection as an opaque snapshot; ordering within equal
// priorities follows load order.
type RuleSource interface {
	LoadActive(ctx context.Context) ([]model.RuleDefinition, error)
}

// ruleSnapshot is an immutable, priority-sorted view of the active rules.
type ruleSnapshot struct {
	rules []model.RuleDefinition
}

// RuleStore holds the active, priority-ordered rule set behind an atomic
// pointer so a reload never disturbs in-flight evaluations: each
// evaluation captures its own snapshot reference at the start.
type RuleStore struct {
	source RuleSource
	snap   atomic.Pointer[ruleSnapshot]
}

// NewRuleStore creates an empty RuleStore bound to a source. Call Reload
// before the first evaluation.
func NewRuleStore(source RuleSource) *RuleStore {
	s := &RuleStore{source: source}
	s.snap.Store(&ruleSnapshot{})
	return s
}

// Reload pulls the active rules from the source, sorts them by priority
// descending (stable across ties), and swaps the snapshot atomically.
func (s *RuleStore) Reload(ctx context.Context) error {
	rules, err := s.source.LoadActive(ctx)
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}

	active := make([]model.RuleDefinition, 0, len(rules))
	for _, r := range rules {
		if r.Active {
			active = append(active, r)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].Priority > active[j].Priority
	})

	s.snap.Store(&ruleSnapshot{rules: active})
	return nil
}

// Active returns the current snapshot's rules. The returned slice is
// shared and must not be mutated.
func (s *RuleStore) Active() []model.RuleDefinition {
	return s.snap.Load().rules
}

// Len returns the number of active rules in the current snapshot.
func (s *RuleStore) Len() int {
	return len(s.snap.Load().rules)
}

// --- File source ---

// FileRuleSource loads a YAML collection of RuleDefinition records.
type FileRuleSource struct {
	Path string
}

// ruleFile is the on-disk document shape.
type ruleFile struct {
	Rules []model.RuleDefinition `yaml:"rules"`
}

// LoadActive reads and parses the rule file. Structural parsing is the
// only validation applied; schema evolution is the publisher's concern.
func (f *FileRuleSource) LoadActive(_ context.Context) ([]model.RuleDefinition, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("read rule file %s: %w", f.Path, err)
	}

	var doc ruleFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse rule file %s: %w", f.Path, err)
	}
	return doc.Rules, nil
}

// StaticRuleSource serves a fixed rule list. For tests and embedded use.
type StaticRuleSource struct {
	Rules []model.RuleDefinition
}

// LoadActive returns the configured rules.
func (s *StaticRuleSource) LoadActive(_ context.Context) ([]model.RuleDefinition, error) {
	return s.Rules, nil
}
