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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/versity/s3compat/s3err"
)

func noop(context.Context, *T) error { return nil }

func simple(name string, units ...string) Factory {
	return func() *Category {
		c := &Category{Name: name}
		for _, u := range units {
			c.Units = append(c.Units, Unit{Name: u, Run: noop})
		}
		return c
	}
}

func testRegistry(t *testing.T, names ...string) *Registry {
	t.Helper()
	reg := NewRegistry()
	for _, n := range names {
		require.NoError(t, reg.Register(n, simple(n, n+"_a", n+"_b")))
	}
	return reg
}

func TestRegister(t *testing.T) {
	reg := testRegistry(t, "buckets", "objects", "multipart")

	assert.Equal(t, []string{"buckets", "objects", "multipart"}, reg.Names())
	assert.Error(t, reg.Register("objects", simple("objects")))
	assert.Error(t, reg.Register("all", simple("all")))
	assert.Error(t, reg.Register("", simple("")))
	assert.NoError(t, reg.Validate())

	_, err := reg.Create("nope")
	assert.True(t, errors.Is(err, s3err.Configuration))
}

func TestValidate(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("dup", simple("dup", "a", "a")))
	require.NoError(t, reg.Register("misnamed", simple("other", "a")))
	require.NoError(t, reg.Register("empty", func() *Category {
		return &Category{Name: "empty", Units: []Unit{{Name: "no_run"}}}
	}))

	err := reg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `duplicate unit "a"`)
	assert.Contains(t, err.Error(), `factory built "other"`)
	assert.Contains(t, err.Error(), `incomplete unit "no_run"`)
}

func TestResolve(t *testing.T) {
	reg := testRegistry(t, "buckets", "objects", "multipart", "versioning")
	disabled := func(names ...string) func(string) bool {
		return func(n string) bool {
			for _, d := range names {
				if n == d {
					return false
				}
			}
			return true
		}
	}

	tests := []struct {
		name    string
		scope   []string
		enabled func(string) bool
		want    []string
		wantErr string
	}{
		{name: "empty means all", want: []string{"buckets", "objects", "multipart", "versioning"}},
		{name: "all", scope: []string{"all"}, want: []string{"buckets", "objects", "multipart", "versioning"}},
		{name: "all skips disabled", scope: []string{"all"}, enabled: disabled("objects"), want: []string{"buckets", "multipart", "versioning"}},
		{name: "explicit overrides disabled", scope: []string{"objects"}, enabled: disabled("objects"), want: []string{"objects"}},
		{name: "registry order", scope: []string{"versioning", "buckets"}, want: []string{"buckets", "versioning"}},
		{name: "duplicates", scope: []string{"buckets", "BUCKETS", " buckets "}, want: []string{"buckets"}},
		{name: "all plus disabled explicit", scope: []string{"all", "objects"}, enabled: disabled("objects", "multipart"), want: []string{"buckets", "objects", "versioning"}},
		{name: "unknown among valid", scope: []string{"all", "buckets", "bogus"}, wantErr: `unknown categories ["bogus"]`},
		{name: "nothing enabled", scope: []string{"all"}, enabled: func(string) bool { return false }, wantErr: "no enabled categories"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := reg.Resolve(tt.scope, tt.enabled)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.True(t, errors.Is(err, s3err.Configuration))
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveListsAvailable(t *testing.T) {
	reg := testRegistry(t, "buckets", "objects")
	_, err := reg.Resolve([]string{"bucket"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "available: buckets, objects")
}

func TestParseScope(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"all", []string{"all"}},
		{"buckets,objects", []string{"buckets", "objects"}},
		{" Buckets , objects,,multipart ", []string{"buckets", "objects", "multipart"}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseScope(tt.in))
		})
	}
}
