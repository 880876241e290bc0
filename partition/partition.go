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

// Package partition maps an object size to the part layout used for
// multipart uploads.
package partition

import (
	"errors"

	"github.com/versity/s3compat/s3err"
)

const (
	MiB uint64 = 1 << 20
	GiB uint64 = 1 << 30
	TiB uint64 = 1 << 40
)

// ErrInvalidSize is returned for a zero object size.
var ErrInvalidSize = errors.New("InvalidSize: object size must be greater than zero")

type step struct {
	below    uint64
	partSize uint64
}

// steps must stay sorted by below. Sizes at or past the last bound use
// maxPartSize.
var steps = []step{
	{below: 1 * GiB, partSize: 64 * MiB},
	{below: 10 * GiB, partSize: 128 * MiB},
	{below: 100 * GiB, partSize: 256 * MiB},
	{below: 1 * TiB, partSize: 512 * MiB},
	{below: 5 * TiB, partSize: 1024 * MiB},
}

const maxPartSize = 2048 * MiB

// Layout describes how an object is cut into parts.
type Layout struct {
	ObjectSize uint64
	PartSize   uint64
	PartCount  uint64
}

// Partition returns the part size and part count for an object of the
// given size.
func Partition(objectSize uint64) (partSize, partCount uint64, err error) {
	l, err := New(objectSize)
	if err != nil {
		return 0, 0, err
	}
	return l.PartSize, l.PartCount, nil
}

// New computes the Layout for objectSize.
func New(objectSize uint64) (Layout, error) {
	if objectSize == 0 {
		return Layout{}, s3err.New(s3err.ErrConfiguration, "partition", ErrInvalidSize)
	}

	partSize := maxPartSize
	for _, s := range steps {
		if objectSize < s.below {
			partSize = s.partSize
			break
		}
	}

	return Layout{
		ObjectSize: objectSize,
		PartSize:   partSize,
		PartCount:  (objectSize-1)/partSize + 1,
	}, nil
}

// Fixed lays objectSize out in parts of exactly partSize bytes (the last
// one possibly shorter), for callers that pick their own part size.
func Fixed(objectSize, partSize uint64) (Layout, error) {
	if objectSize == 0 || partSize == 0 {
		return Layout{}, s3err.New(s3err.ErrConfiguration, "partition", ErrInvalidSize)
	}
	return Layout{
		ObjectSize: objectSize,
		PartSize:   partSize,
		PartCount:  (objectSize-1)/partSize + 1,
	}, nil
}

// LastPartSize is the size of the final part, in (0, PartSize].
func (l Layout) LastPartSize() uint64 {
	return l.ObjectSize - (l.PartCount-1)*l.PartSize
}

// PartLength returns the size of 1-based part n, or 0 when n is out of
// range.
func (l Layout) PartLength(n uint64) uint64 {
	if n == 0 || n > l.PartCount {
		return 0
	}
	if n == l.PartCount {
		return l.LastPartSize()
	}
	return l.PartSize
}

// Offset returns the byte offset of 1-based part n.
func (l Layout) Offset(n uint64) uint64 {
	if n == 0 {
		return 0
	}
	return (n - 1) * l.PartSize
}
