// Package ontology defines the contract of the external capability/ontology
// service. The swarm core only consumes these queries; the reasoning behind
// them lives outside the core.
package ontology

import (
	"context"
	"sort"
	"sync"
)

// Service answers capability-relationship queries.
type Service interface {
	// HasConflict reports whether the capability set contains two
	// capabilities that must not be held by the same agent.
	HasConflict(ctx context.Context, capabilities []string) (bool, error)

	// RelatedCount returns how many distinct capabilities outside the set are
	// related to at least one member of it.
	RelatedCount(ctx context.Context, capabilities []string) (int, error)
}

// Static is an in-memory Service backed by explicit conflict and relation
// tables. Both relations are symmetric.
type Static struct {
	mu        sync.RWMutex
	conflicts map[string]map[string]struct{}
	related   map[string]map[string]struct{}
}

// NewStatic creates an empty Static ontology.
func NewStatic() *Static {
	return &Static{
		conflicts: make(map[string]map[string]struct{}),
		related:   make(map[string]map[string]struct{}),
	}
}

// AddConflict declares that a and b cannot coexist on one agent.
func (s *Static) AddConflict(a, b string) *Static {
	s.mu.Lock()
	defer s.mu.Unlock()
	link(s.conflicts, a, b)
	return s
}

// AddRelation declares that a and b are related capabilities.
func (s *Static) AddRelation(a, b string) *Static {
	s.mu.Lock()
	defer s.mu.Unlock()
	link(s.related, a, b)
	return s
}

// HasConflict implements Service.
func (s *Static) HasConflict(ctx context.Context, capabilities []string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i, a := range capabilities {
		for _, b := range capabilities[i+1:] {
			if _, ok := s.conflicts[a][b]; ok {
				return true, nil
			}
		}
	}
	return false, nil
}

// RelatedCount implements Service.
func (s *Static) RelatedCount(ctx context.Context, capabilities []string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	in := make(map[string]struct{}, len(capabilities))
	for _, c := range capabilities {
		in[c] = struct{}{}
	}
	out := make(map[string]struct{})
	for _, c := range capabilities {
		for r := range s.related[c] {
			if _, self := in[r]; !self {
				out[r] = struct{}{}
			}
		}
	}
	return len(out), nil
}

// Related lists the capabilities related to c, sorted.
func (s *Static) Related(c string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.related[c]))
	for r := range s.related[c] {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

func link(m map[string]map[string]struct{}, a, b string) {
	if a == b {
		return
	}
	if m[a] == nil {
		m[a] = make(map[string]struct{})
	}
	if m[b] == nil {
		m[b] = make(map[string]struct{})
	}
	m[a][b] = struct{}{}
	m[b][a] = struct{}{}
}

var _ Service = (*Static)(nil)
