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

package s3client

import (
	"crypto/md5"
	"hash"
	"io"
	mrand "math/rand"
)

// RReader produces totalsize bytes by repeating one random buffer and keeps
// a running md5 of everything read.
type RReader struct {
	buf      []byte
	dataleft int64
	hash     hash.Hash
}

// NewSeededReader returns a reader whose content depends only on the
// arguments, so two runs upload identical objects.
func NewSeededReader(totalsize int64, bufsize int, seed int64) *RReader {
	b := make([]byte, bufsize)
	mrand.New(mrand.NewSource(seed)).Read(b)
	return &RReader{
		buf:      b,
		dataleft: totalsize,
		hash:     md5.New(),
	}
}

func (r *RReader) Read(p []byte) (int, error) {
	n := int(min(int64(len(p)), int64(len(r.buf)), r.dataleft))
	if n == 0 {
		return 0, io.EOF
	}
	r.dataleft -= int64(n)
	r.hash.Write(r.buf[:n])
	return copy(p, r.buf[:n]), nil
}

// Sum is the md5 of the bytes read so far.
func (r *RReader) Sum() []byte {
	return r.hash.Sum(nil)
}

// PatternData repeats line until size bytes, the content style used for
// small fixtures so a dump of the object stays readable.
func PatternData(line string, size int) []byte {
	if size <= 0 {
		return []byte{}
	}
	if line == "" {
		line = "x"
	}
	b := make([]byte, size)
	for i := 0; i < size; i += copy(b[i:], line) {
	}
	return b
}
