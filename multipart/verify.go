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
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/versity/s3compat/s3client"
)

type Strategy int

const (
	// Hybrid compares digests without downloading the object.
	Hybrid Strategy = iota
	// Full downloads the object and hashes it.
	Full
)

func (s Strategy) String() string {
	if s == Full {
		return "full"
	}
	return "hybrid"
}

func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "hybrid":
		return Hybrid, nil
	case "full":
		return Full, nil
	}
	return Hybrid, fmt.Errorf("unknown verification strategy %q", s)
}

// Verification is the outcome of one strategy, with the two digests it
// compared.
type Verification struct {
	Strategy Strategy
	Pass     bool
	Expected string
	Observed string
	Reason   string
}

func (v Verification) String() string {
	status := "match"
	if !v.Pass {
		status = "mismatch"
	}
	s := fmt.Sprintf("%v verification %v: expected %v, observed %v", v.Strategy, status, v.Expected, v.Observed)
	if v.Reason != "" {
		s += ": " + v.Reason
	}
	return s
}

type Verifier interface {
	Verify(ctx context.Context, r *Result) (Verification, error)
}

func NewVerifier(strategy Strategy, api API) Verifier {
	if strategy == Full {
		return &FullVerifier{API: api}
	}
	return HybridVerifier{}
}

// HybridVerifier checks that the backend's final etag equals the digest
// rebuilt from what was sent. It proves the digest accounting, not the
// stored bytes.
type HybridVerifier struct{}

func (HybridVerifier) Verify(_ context.Context, r *Result) (Verification, error) {
	v := Verification{
		Strategy: Hybrid,
		Expected: CompositeDigest(r.PartSums),
		Observed: NormalizeETag(r.Session.FinalETag),
	}

	if len(r.Session.Parts) != len(r.PartSums) {
		v.Reason = fmt.Sprintf("backend acknowledged %d parts, %d were sent", len(r.Session.Parts), len(r.PartSums))
		return v, nil
	}
	for i, p := range r.Session.Parts {
		sent := hex.EncodeToString(r.PartSums[i][:])
		if got := NormalizeETag(p.ETag); got != sent {
			v.Reason = fmt.Sprintf("part %d etag %v does not match sent md5 %v", p.Number, got, sent)
			return v, nil
		}
	}

	digest, parts, err := ParseETag(r.Session.FinalETag)
	if err != nil {
		v.Reason = err.Error()
		return v, nil
	}
	v.Observed = digest
	if parts != 0 && parts != len(r.PartSums) {
		v.Reason = fmt.Sprintf("etag reports %d parts, %d were sent", parts, len(r.PartSums))
		return v, nil
	}

	v.Pass = digest == v.Expected
	if !v.Pass && digest == hex.EncodeToString(r.ObjectSum[:]) {
		v.Reason = "backend reports the whole object md5 instead of the multipart digest"
	}
	return v, nil
}

// FullVerifier downloads the object and compares its md5 with the md5 of
// the data that was generated.
type FullVerifier struct {
	API API
	// PartSize is the ranged GET size used by the downloader; 0 means the
	// downloader default.
	PartSize int64
}

func (f *FullVerifier) Verify(ctx context.Context, r *Result) (Verification, error) {
	v := Verification{
		Strategy: Full,
		Expected: hex.EncodeToString(r.ObjectSum[:]),
	}

	h := md5.New()
	w := s3client.NewSequentialWriterAt(h)
	n, err := s3client.Download(ctx, f.API, w, r.Session.Bucket, r.Session.Key, f.PartSize, 1)
	if err != nil {
		return v, err
	}

	v.Observed = hex.EncodeToString(h.Sum(nil))
	if uint64(n) != r.Layout.ObjectSize {
		v.Reason = fmt.Sprintf("downloaded %d bytes, uploaded %d", n, r.Layout.ObjectSize)
		return v, nil
	}
	v.Pass = v.Observed == v.Expected
	return v, nil
}
