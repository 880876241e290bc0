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
	"fmt"
	"strconv"
	"strings"
)

// NormalizeETag strips the surrounding quotes (and a W/ weak prefix) and
// lowercases the token.
func NormalizeETag(etag string) string {
	etag = strings.TrimSpace(etag)
	etag = strings.TrimPrefix(etag, "W/")
	etag = strings.Trim(etag, "\"")
	return strings.ToLower(etag)
}

// ParseETag splits a multipart etag of the form "<hex>-<parts>" into its
// digest and part count. A plain etag returns parts == 0.
func ParseETag(etag string) (digest string, parts int, err error) {
	etag = NormalizeETag(etag)
	digest = etag
	if i := strings.LastIndexByte(etag, '-'); i >= 0 {
		digest = etag[:i]
		parts, err = strconv.Atoi(etag[i+1:])
		if err != nil || parts < 1 {
			return "", 0, fmt.Errorf("invalid part count in etag %q", etag)
		}
	}
	if len(digest) != hex.EncodedLen(md5.Size) {
		return "", 0, fmt.Errorf("etag %q is not an md5 digest", etag)
	}
	if _, err := hex.DecodeString(digest); err != nil {
		return "", 0, fmt.Errorf("etag %q is not hex: %w", etag, err)
	}
	return digest, parts, nil
}

// decodeDigest turns a part etag back into its 16 raw md5 bytes.
func decodeDigest(etag string) ([md5.Size]byte, error) {
	var sum [md5.Size]byte
	s := NormalizeETag(etag)
	if len(s) != hex.EncodedLen(md5.Size) {
		return sum, fmt.Errorf("part etag %q is not an md5 digest", etag)
	}
	if _, err := hex.Decode(sum[:], []byte(s)); err != nil {
		return sum, fmt.Errorf("part etag %q is not hex: %w", etag, err)
	}
	return sum, nil
}

// CompositeDigest returns the md5 over the concatenated raw part digests,
// as lowercase hex.
func CompositeDigest(sums [][md5.Size]byte) string {
	h := md5.New()
	for _, sum := range sums {
		h.Write(sum[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ReconstructETag computes the expected final digest from the per part
// digests, given as (optionally quoted) hex strings. Each one is decoded to
// its raw bytes first; hashing the hex text gives a different answer.
func ReconstructETag(partETags []string) (string, error) {
	if len(partETags) == 0 {
		return "", fmt.Errorf("no parts")
	}
	sums := make([][md5.Size]byte, 0, len(partETags))
	for _, etag := range partETags {
		sum, err := decodeDigest(etag)
		if err != nil {
			return "", err
		}
		sums = append(sums, sum)
	}
	return CompositeDigest(sums), nil
}

// FormatMultipartETag renders digest the way S3 reports it for an object
// assembled from parts.
func FormatMultipartETag(digest string, parts int) string {
	return fmt.Sprintf("\"%s-%d\"", digest, parts)
}
