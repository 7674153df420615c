// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package roles

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	kerrors "github.com/jllopis/cgcs/pkg/errors"
)

// Registry is an immutable catalog of role specs. It is safe for concurrent
// use because nothing mutates it after NewRegistry returns.
type Registry struct {
	specs map[string]Spec
	names []string
}

// NewRegistry builds a registry. Duplicate or empty names, negative costs and
// exclusivity references to unknown roles are rejected.
func NewRegistry(specs ...Spec) (*Registry, error) {
	r := &Registry{specs: make(map[string]Spec, len(specs))}
	for _, s := range specs {
		if s.Name() == "" {
			return nil, kerrors.New(kerrors.CodeInvalidInput, "role name is required", nil)
		}
		if s.Cost() < 0 {
			return nil, kerrors.New(kerrors.CodeInvalidInput, "role cost must be non-negative", nil).
				WithContext("role", s.Name())
		}
		if _, dup := r.specs[s.Name()]; dup {
			return nil, kerrors.New(kerrors.CodeAlreadyExists, "duplicate role", nil).
				WithContext("role", s.Name())
		}
		r.specs[s.Name()] = s
		r.names = append(r.names, s.Name())
	}
	for _, s := range specs {
		for _, other := range s.ExclusiveWith() {
			if _, ok := r.specs[other]; !ok {
				return nil, kerrors.New(kerrors.CodeInvalidInput,
					fmt.Sprintf("role %q is exclusive with unknown role %q", s.Name(), other), nil)
			}
		}
	}
	sort.Strings(r.names)
	return r, nil
}

// Lookup returns the spec for name.
func (r *Registry) Lookup(name string) (Spec, bool) {
	s, ok := r.specs[name]
	return s, ok
}

// Names returns the sorted role names.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

// Specs returns every spec sorted by name.
func (r *Registry) Specs() []Spec {
	out := make([]Spec, 0, len(r.names))
	for _, n := range r.names {
		out = append(out, r.specs[n])
	}
	return out
}

// Excluded reports whether a and b exclude each other in either direction.
func (r *Registry) Excluded(a, b string) bool {
	sa, okA := r.specs[a]
	sb, okB := r.specs[b]
	return (okA && sa.Excludes(b)) || (okB && sb.Excludes(a))
}

type catalogFile struct {
	Roles []SpecConfig `yaml:"roles"`
}

// LoadCatalog reads a YAML role catalog:
//
//	roles:
//	  - name: transport
//	    allowed_actions: [carry, deliver, hold]
//	    cost: 0.45
//	    exclusive_with: [cooking_prep]
//	    requires_consent: true
func LoadCatalog(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read role catalog: %w", err)
	}
	return ParseCatalog(raw)
}

// ParseCatalog parses a YAML role catalog document.
func ParseCatalog(raw []byte) (*Registry, error) {
	var doc catalogFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, kerrors.New(kerrors.CodeInvalidInput, "parse role catalog", err)
	}
	specs := make([]Spec, 0, len(doc.Roles))
	for _, cfg := range doc.Roles {
		specs = append(specs, NewSpec(cfg))
	}
	return NewRegistry(specs...)
}
