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

package multipart

import (
	"crypto/md5"
	"encoding/hex"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconstructETag(t *testing.T) {
	parts := []string{
		"d41d8cd98f00b204e9800998ecf8427e",
		"0cc175b9c0f1b6a831c399e269772661",
		"92eb5ffee6ae2fec3ad71c777531578f",
	}

	var raw []byte
	for _, p := range parts {
		b, err := hex.DecodeString(p)
		require.NoError(t, err)
		raw = append(raw, b...)
	}
	want := md5.Sum(raw)

	got, err := ReconstructETag(parts)
	require.NoError(t, err)
	assert.Equal(t, hex.EncodeToString(want[:]), got)
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{32}$`), got)

	// hashing the hex text is the classic mistake
	wrong := md5.Sum([]byte(strings.Join(parts, "")))
	assert.NotEqual(t, hex.EncodeToString(wrong[:]), got)

	// quoting and case do not matter
	quoted := []string{"\"" + parts[0] + "\"", strings.ToUpper(parts[1]), parts[2]}
	again, err := ReconstructETag(quoted)
	require.NoError(t, err)
	assert.Equal(t, got, again)
}

func TestReconstructETagErrors(t *testing.T) {
	tests := []struct {
		name  string
		parts []string
	}{
		{"no parts", nil},
		{"short", []string{"abc"}},
		{"not hex", []string{"zz1d8cd98f00b204e9800998ecf8427e"}},
		{"multipart etag as part", []string{"d41d8cd98f00b204e9800998ecf8427e-2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReconstructETag(tt.parts)
			assert.Error(t, err)
		})
	}
}

func TestParseETag(t *testing.T) {
	tests := []struct {
		name    string
		etag    string
		digest  string
		parts   int
		wantErr bool
	}{
		{"multipart", "\"9b2cf535f27731c974343645a3985328-3\"", "9b2cf535f27731c974343645a3985328", 3, false},
		{"plain", "\"d41d8cd98f00b204e9800998ecf8427e\"", "d41d8cd98f00b204e9800998ecf8427e", 0, false},
		{"unquoted upper", "D41D8CD98F00B204E9800998ECF8427E-12", "d41d8cd98f00b204e9800998ecf8427e", 12, false},
		{"weak", "W/\"d41d8cd98f00b204e9800998ecf8427e\"", "d41d8cd98f00b204e9800998ecf8427e", 0, false},
		{"bad count", "\"d41d8cd98f00b204e9800998ecf8427e-x\"", "", 0, true},
		{"zero count", "\"d41d8cd98f00b204e9800998ecf8427e-0\"", "", 0, true},
		{"short digest", "\"abcd-2\"", "", 0, true},
		{"empty", "", "", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			digest, parts, err := ParseETag(tt.etag)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.digest, digest)
			assert.Equal(t, tt.parts, parts)
		})
	}
}

func TestFormatMultipartETag(t *testing.T) {
	etag := FormatMultipartETag("9b2cf535f27731c974343645a3985328", 3)
	assert.Equal(t, "\"9b2cf535f27731c974343645a3985328-3\"", etag)

	digest, parts, err := ParseETag(etag)
	require.NoError(t, err)
	assert.Equal(t, "9b2cf535f27731c974343645a3985328", digest)
	assert.Equal(t, 3, parts)
}
