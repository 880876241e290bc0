// Copyright 2023 Versity Software
// This file is licensed under the Apache License, Version 2.0
// (the "License"); you may not use this file except in compliance
// with the License.  You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

package checker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/versity/s3compat/s3err"
)

// Unit is the smallest independently judged assertion. Run returns nil for
// Pass, an error wrapping ErrSkip for Skipped and any other error for Fail.
type Unit struct {
	Name string
	Run  func(ctx context.Context, t *T) error
}

// Category is a named group of units sharing fixtures. Units run in slice
// order and may rely on state left by earlier units of the same category.
type Category struct {
	Name        string
	Description string
	// Independent categories may run concurrently with each other in
	// parallel mode. The rest run sequentially after them.
	Independent bool

	Setup    func(ctx context.Context, env *Env) error
	Teardown func(ctx context.Context, env *Env) error
	Units    []Unit
}

// Factory builds a fresh Category. Per-run state shared by the units lives
// in the closure, so every run gets its own.
type Factory func() *Category

// Registry maps category names to factories. Iteration follows
// registration order.
type Registry struct {
	mu        sync.RWMutex
	order     []string
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a category factory under name. Returns an error if the name
// is already registered.
func (r *Registry) Register(name string, f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if name == "" || name == ScopeAll {
		return fmt.Errorf("invalid category name %q", name)
	}
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("category %q is already registered", name)
	}
	r.factories[name] = f
	r.order = append(r.order, name)
	return nil
}

// Names returns the registered category names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Create instantiates the named category.
func (r *Registry) Create(name string) (*Category, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, s3err.Errorf(s3err.ErrConfiguration, "scope", "unknown category %q", name)
	}

	c := f()
	if c == nil {
		return nil, fmt.Errorf("category %q: factory returned nil", name)
	}
	if c.Name != name {
		return nil, fmt.Errorf("category %q: factory built %q", name, c.Name)
	}
	seen := make(map[string]bool, len(c.Units))
	for _, u := range c.Units {
		if u.Name == "" || u.Run == nil {
			return nil, fmt.Errorf("category %q: incomplete unit %q", name, u.Name)
		}
		if seen[u.Name] {
			return nil, fmt.Errorf("category %q: duplicate unit %q", name, u.Name)
		}
		seen[u.Name] = true
	}
	return c, nil
}

// Validate builds every category once and reports all definition errors.
func (r *Registry) Validate() error {
	var errs []error
	for _, name := range r.Names() {
		if _, err := r.Create(name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Describe returns name and description of every registered category.
func (r *Registry) Describe() [][2]string {
	var out [][2]string
	for _, name := range r.Names() {
		c, err := r.Create(name)
		if err != nil {
			continue
		}
		out = append(out, [2]string{name, c.Description})
	}
	return out
}

// ScopeAll selects every enabled category.
const ScopeAll = "all"

// ParseScope splits a comma separated scope argument.
func ParseScope(s string) []string {
	var out []string
	for _, f := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' }) {
		out = append(out, strings.ToLower(strings.TrimSpace(f)))
	}
	return out
}

// Resolve turns a scope into category names in registration order. "all"
// (or an empty scope) selects the categories enabled reports true for; an
// explicitly named category is selected even when disabled. Any unknown
// name fails the whole resolution.
func (r *Registry) Resolve(scope []string, enabled func(string) bool) ([]string, error) {
	if enabled == nil {
		enabled = func(string) bool { return true }
	}
	if len(scope) == 0 {
		scope = []string{ScopeAll}
	}

	names := r.Names()
	known := make(map[string]bool, len(names))
	for _, n := range names {
		known[n] = true
	}

	all := false
	explicit := make(map[string]bool)
	var unknown []string
	for _, s := range scope {
		s = strings.ToLower(strings.TrimSpace(s))
		switch {
		case s == "":
		case s == ScopeAll:
			all = true
		case known[s]:
			explicit[s] = true
		default:
			unknown = append(unknown, s)
		}
	}
	if len(unknown) > 0 {
		return nil, s3err.Errorf(s3err.ErrConfiguration, "scope",
			"unknown categories %q (available: %v)", unknown, strings.Join(names, ", "))
	}

	var out []string
	for _, n := range names {
		if explicit[n] || (all && enabled(n)) {
			out = append(out, n)
		}
	}
	if len(out) == 0 {
		return nil, s3err.Errorf(s3err.ErrConfiguration, "scope", "no enabled categories selected")
	}
	return out, nil
}
