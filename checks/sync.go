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

package checks

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path"
	"path/filepath"
	"slices"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dustin/go-humanize"
	"github.com/versity/s3compat/checker"
	"github.com/versity/s3compat/s3err"
	"golang.org/x/sync/errgroup"
)

const (
	batchPrefix  = "batch/"
	batchFiles   = 10
	treePrefix   = "tree/"
	syncWorkers  = 4
	listPageSize = 3
)

// treeFiles is the nested layout uploaded by the directory structure check.
var treeFiles = []string{
	"a/b/c.txt",
	"a/b/f.txt",
	"a/d.txt",
	"e.txt",
}

func newSync() *checker.Category {
	var (
		uploaded = map[string]string{}
		tree     bool
	)

	return &checker.Category{
		Name:        Sync,
		Description: "directory style batch transfers and listing patterns",
		Setup:       checker.SetupBucket("sync"),
		Units: []checker.Unit{
			{Name: "sync_batch_upload", Run: func(ctx context.Context, t *checker.T) error {
				dir, err := os.MkdirTemp("", "s3compat-sync-")
				if err != nil {
					return err
				}
				defer os.RemoveAll(dir)

				var total int64
				for i := range batchFiles {
					b := payload(t.Settings.SmallSize*int64(i+1), int64(100+i))
					total += int64(len(b))
					if err := os.WriteFile(filepath.Join(dir, fmt.Sprintf("file-%02d.dat", i)), b, 0o644); err != nil {
						return err
					}
				}

				sums, err := uploadDir(ctx, t, dir, batchPrefix)
				maps.Copy(uploaded, sums)
				if err != nil {
					return err
				}
				t.Messagef("uploaded %d files, %v", len(sums), humanize.IBytes(uint64(total)))
				return checker.Equal("uploaded files", batchFiles, len(sums))
			}},
			{Name: "sync_directory_structure", Run: func(ctx context.Context, t *checker.T) error {
				dir, err := os.MkdirTemp("", "s3compat-tree-")
				if err != nil {
					return err
				}
				defer os.RemoveAll(dir)

				for i, name := range treeFiles {
					p := filepath.Join(dir, filepath.FromSlash(name))
					if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
						return err
					}
					if err := os.WriteFile(p, fmt.Appendf(nil, "%v %d", name, i), 0o644); err != nil {
						return err
					}
				}
				if _, err := uploadDir(ctx, t, dir, treePrefix); err != nil {
					return err
				}

				keys, err := listKeys(ctx, t, treePrefix)
				if err != nil {
					return err
				}
				var want []string
				for _, name := range treeFiles {
					want = append(want, treePrefix+name)
				}
				slices.Sort(want)
				if err := checker.Same("keys under "+treePrefix, want, keys); err != nil {
					return err
				}
				tree = true
				return nil
			}},
			{Name: "sync_batch_download", Run: func(ctx context.Context, t *checker.T) error {
				if err := requires(len(uploaded) > 0, "batch upload"); err != nil {
					return err
				}
				for _, key := range slices.Sorted(maps.Keys(uploaded)) {
					buf := manager.NewWriteAtBuffer(nil)
					if _, err := t.Client.DownloadData(ctx, buf, t.Bucket, key); err != nil {
						return err
					}
					if got := md5hex(buf.Bytes()); got != uploaded[key] {
						return fmt.Errorf("%v: downloaded md5 %v, uploaded %v", key, got, uploaded[key])
					}
				}
				t.Messagef("downloaded and verified %d files", len(uploaded))
				return nil
			}},
			{Name: "sync_listing_prefix", Run: func(ctx context.Context, t *checker.T) error {
				if err := requires(len(uploaded) > 0, "batch upload"); err != nil {
					return err
				}
				keys, err := listKeys(ctx, t, batchPrefix)
				if err != nil {
					return err
				}
				return checker.Same("keys under "+batchPrefix, slices.Sorted(maps.Keys(uploaded)), keys)
			}},
			{Name: "sync_listing_patterns", Run: func(ctx context.Context, t *checker.T) error {
				if err := requires(tree, "directory structure"); err != nil {
					return err
				}
				var out *s3.ListObjectsV2Output
				resp := call(ctx, t, "ListObjectsV2", func(ctx context.Context, opt func(*s3.Options)) error {
					var err error
					out, err = t.Client.S3.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
						Bucket:    &t.Bucket,
						Prefix:    aws.String(treePrefix),
						Delimiter: aws.String("/"),
					}, opt)
					return err
				})
				if err := checker.ExpectOK(resp); err != nil {
					return err
				}
				var prefixes, keys []string
				for _, p := range out.CommonPrefixes {
					prefixes = append(prefixes, aws.ToString(p.Prefix))
				}
				for _, o := range out.Contents {
					keys = append(keys, aws.ToString(o.Key))
				}
				if err := checker.Same("common prefixes", []string{treePrefix + "a/"}, prefixes); err != nil {
					return err
				}
				return checker.Same("keys at top level", []string{treePrefix + "e.txt"}, keys)
			}},
			{Name: "sync_listing_pagination", Run: func(ctx context.Context, t *checker.T) error {
				if err := requires(len(uploaded) > 0, "batch upload"); err != nil {
					return err
				}
				p := s3.NewListObjectsV2Paginator(t.Client.S3, &s3.ListObjectsV2Input{
					Bucket:  &t.Bucket,
					Prefix:  aws.String(batchPrefix),
					MaxKeys: aws.Int32(listPageSize),
				})
				var pages, keys int
				for p.HasMorePages() {
					var out *s3.ListObjectsV2Output
					resp := call(ctx, t, "ListObjectsV2", func(ctx context.Context, opt func(*s3.Options)) error {
						var err error
						out, err = p.NextPage(ctx, opt)
						return err
					})
					if err := checker.ExpectOK(resp); err != nil {
						return fmt.Errorf("page %d: %w", pages+1, err)
					}
					if len(out.Contents) > listPageSize {
						return fmt.Errorf("page %d holds %d keys, max-keys is %d", pages+1, len(out.Contents), listPageSize)
					}
					pages++
					keys += len(out.Contents)
					t.Logf("page %d: %d keys", pages, len(out.Contents))
				}
				if err := checker.Equal("listed keys", len(uploaded), keys); err != nil {
					return err
				}
				want := (len(uploaded) + listPageSize - 1) / listPageSize
				if pages < want {
					return s3err.Mismatch("page count", fmt.Sprintf(">= %d", want), pages)
				}
				t.Messagef("%d keys in %d pages", keys, pages)
				return nil
			}},
		},
	}
}

// uploadDir uploads every regular file under dir to prefix plus its slash
// separated relative path and returns the md5 of each uploaded key.
func uploadDir(ctx context.Context, t *checker.T, dir, prefix string) (map[string]string, error) {
	var mu sync.Mutex
	sums := map[string]string{}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(syncWorkers)
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		key := path.Join(prefix, filepath.ToSlash(rel))
		g.Go(func() error {
			data, err := os.ReadFile(p)
			if err != nil {
				return err
			}
			if err := t.Client.UploadData(gctx, bytes.NewReader(data), t.Bucket, key); err != nil {
				return fmt.Errorf("upload %v: %w", key, err)
			}
			t.Fixtures.Object(t.Bucket, key, "")
			mu.Lock()
			sums[key] = md5hex(data)
			mu.Unlock()
			return nil
		})
		return nil
	})
	if werr := g.Wait(); err == nil {
		err = werr
	}
	return sums, err
}

func listKeys(ctx context.Context, t *checker.T, prefix string) ([]string, error) {
	var keys []string
	p := s3.NewListObjectsV2Paginator(t.Client.S3, &s3.ListObjectsV2Input{Bucket: &t.Bucket, Prefix: &prefix})
	for p.HasMorePages() {
		var out *s3.ListObjectsV2Output
		resp := call(ctx, t, "ListObjectsV2", func(ctx context.Context, opt func(*s3.Options)) error {
			var err error
			out, err = p.NextPage(ctx, opt)
			return err
		})
		if err := checker.ExpectOK(resp); err != nil {
			return nil, err
		}
		for _, o := range out.Contents {
			keys = append(keys, aws.ToString(o.Key))
		}
	}
	slices.Sort(keys)
	return keys, nil
}
