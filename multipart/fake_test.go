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
	"bytes"
	"context"
	"crypto/md5"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

func statusErr(status int, code string) error {
	return &smithyhttp.ResponseError{
		Response: &smithyhttp.Response{Response: &http.Response{StatusCode: status}},
		Err:      &smithy.GenericAPIError{Code: code},
	}
}

type fakeUpload struct {
	bucket, key string
	parts       map[int32][]byte
}

// fakeS3 is an in-memory multipart backend with failure injection.
type fakeS3 struct {
	mu      sync.Mutex
	nextID  int
	uploads map[string]*fakeUpload
	objects map[string][]byte
	calls   map[string]int

	createErr   error
	partErrs    []error
	completeErr error
	abortErr    error

	// misbehaviours
	wholeObjectETag bool
	corruptStore    bool
}

func newFakeS3() *fakeS3 {
	return &fakeS3{
		uploads: map[string]*fakeUpload{},
		objects: map[string][]byte{},
		calls:   map[string]int{},
	}
}

func (f *fakeS3) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeS3) CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["CreateMultipartUpload"]++
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.nextID++
	id := fmt.Sprintf("upload-%d", f.nextID)
	f.uploads[id] = &fakeUpload{bucket: *in.Bucket, key: *in.Key, parts: map[int32][]byte{}}
	return &s3.CreateMultipartUploadOutput{UploadId: &id, Bucket: in.Bucket, Key: in.Key}, nil
}

func (f *fakeS3) UploadPart(ctx context.Context, in *s3.UploadPartInput, _ ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["UploadPart"]++
	if len(f.partErrs) > 0 {
		err := f.partErrs[0]
		f.partErrs = f.partErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	up, ok := f.uploads[*in.UploadId]
	if !ok {
		return nil, statusErr(http.StatusNotFound, "NoSuchUpload")
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	up.parts[*in.PartNumber] = data
	return &s3.UploadPartOutput{ETag: aws.String(fmt.Sprintf("\"%x\"", md5.Sum(data)))}, nil
}

func (f *fakeS3) CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["CompleteMultipartUpload"]++
	if f.completeErr != nil {
		return nil, f.completeErr
	}
	up, ok := f.uploads[*in.UploadId]
	if !ok {
		return nil, statusErr(http.StatusNotFound, "NoSuchUpload")
	}

	var obj bytes.Buffer
	composite := md5.New()
	for _, p := range in.MultipartUpload.Parts {
		data, ok := up.parts[*p.PartNumber]
		if !ok {
			return nil, statusErr(http.StatusBadRequest, "InvalidPart")
		}
		sum := md5.Sum(data)
		composite.Write(sum[:])
		obj.Write(data)
	}

	stored := obj.Bytes()
	if f.corruptStore && len(stored) > 0 {
		stored[0] ^= 0xff
	}
	f.objects[up.bucket+"/"+up.key] = stored
	delete(f.uploads, *in.UploadId)

	etag := fmt.Sprintf("\"%x-%d\"", composite.Sum(nil), len(in.MultipartUpload.Parts))
	if f.wholeObjectETag {
		etag = fmt.Sprintf("\"%x\"", md5.Sum(obj.Bytes()))
	}
	return &s3.CompleteMultipartUploadOutput{ETag: &etag}, nil
}

func (f *fakeS3) AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, _ ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["AbortMultipartUpload"]++
	if f.abortErr != nil {
		return nil, f.abortErr
	}
	if _, ok := f.uploads[*in.UploadId]; !ok {
		return nil, statusErr(http.StatusNotFound, "NoSuchUpload")
	}
	delete(f.uploads, *in.UploadId)
	return &s3.AbortMultipartUploadOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["GetObject"]++
	data, ok := f.objects[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, statusErr(http.StatusNotFound, "NoSuchKey")
	}

	total := int64(len(data))
	start, end := int64(0), total-1
	if r := aws.ToString(in.Range); r != "" {
		spec := strings.SplitN(strings.TrimPrefix(r, "bytes="), "-", 2)
		start, _ = strconv.ParseInt(spec[0], 10, 64)
		if spec[1] != "" {
			end, _ = strconv.ParseInt(spec[1], 10, 64)
		}
		end = min(end, total-1)
	}
	body := data[start : end+1]
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: aws.Int64(int64(len(body))),
		ContentRange:  aws.String(fmt.Sprintf("bytes %d-%d/%d", start, end, total)),
	}, nil
}

func (f *fakeS3) openUploads() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.uploads))
	for id := range f.uploads {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

type recordingTracker struct {
	open map[*Session]bool
}

func newRecordingTracker() *recordingTracker {
	return &recordingTracker{open: map[*Session]bool{}}
}

func (r *recordingTracker) TrackUpload(s *Session)   { r.open[s] = true }
func (r *recordingTracker) UntrackUpload(s *Session) { delete(r.open, s) }
