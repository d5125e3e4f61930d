// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package cachestore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/staranto/pwacache/internal/cacheutil"
)

// S3API is the slice of *s3.Client the S3 store needs.
type S3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3 stores caches in a bucket as <prefix>/<cache>/<md5(url)>.json, with a
// <prefix>/<cache>/.created marker per cache.
type S3 struct {
	Client S3API
	Bucket string
	Prefix string
}

func NewS3(client S3API, bucket, prefix string) (*S3, error) {
	if bucket == "" {
		return nil, errors.New("s3 store requires a bucket")
	}
	return &S3{Client: client, Bucket: bucket, Prefix: strings.Trim(prefix, "/")}, nil
}

func (s *S3) cachePrefix(name string) string {
	if s.Prefix == "" {
		return name + "/"
	}
	return path.Join(s.Prefix, name) + "/"
}

func (s *S3) rootPrefix() string {
	if s.Prefix == "" {
		return ""
	}
	return s.Prefix + "/"
}

func (s *S3) Open(ctx context.Context, name string) (Cache, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	ok, err := s.Has(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		stamp := time.Now().UTC().Format(time.RFC3339Nano)
		if _, err := s.Client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.Bucket),
			Key:    aws.String(s.cachePrefix(name) + markerFile),
			Body:   strings.NewReader(stamp),
		}); err != nil {
			return nil, fmt.Errorf("failed to create cache %s: %w", name, err)
		}
		log.Debugf("created cache s3://%s/%s", s.Bucket, s.cachePrefix(name))
	}

	return &s3Cache{store: s, name: name}, nil
}

func (s *S3) Has(ctx context.Context, name string) (bool, error) {
	if ValidateName(name) != nil {
		return false, nil
	}
	_, err := s.Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.cachePrefix(name) + markerFile),
	})
	if err == nil {
		return true, nil
	}
	if isS3NotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to check cache %s: %w", name, err)
}

func (s *S3) Delete(ctx context.Context, name string) (bool, error) {
	ok, err := s.Has(ctx, name)
	if err != nil || !ok {
		return false, err
	}

	keys, err := s.list(ctx, s.cachePrefix(name))
	if err != nil {
		return false, err
	}
	// Entries first, marker last, so a half-finished delete still shows up.
	slices.SortStableFunc(keys, func(a, b string) int {
		return boolCmp(strings.HasSuffix(a, markerFile), strings.HasSuffix(b, markerFile))
	})
	for _, k := range keys {
		if _, err := s.Client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.Bucket),
			Key:    aws.String(k),
		}); err != nil {
			return false, fmt.Errorf("failed to delete %s: %w", k, err)
		}
	}
	return true, nil
}

func (s *S3) Keys(ctx context.Context) ([]string, error) {
	p := s3.NewListObjectsV2Paginator(s.Client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.Bucket),
		Prefix:    aws.String(s.rootPrefix()),
		Delimiter: aws.String("/"),
	})

	type named struct {
		name    string
		created time.Time
	}
	var found []named
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list caches: %w", err)
		}
		for _, cp := range page.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), s.rootPrefix()), "/")
			stamp, err := s.get(ctx, s.cachePrefix(name)+markerFile)
			if err != nil {
				continue
			}
			created, _ := time.Parse(time.RFC3339Nano, strings.TrimSpace(string(stamp)))
			found = append(found, named{name: name, created: created})
		}
	}

	slices.SortStableFunc(found, func(a, b named) int {
		if c := a.created.Compare(b.created); c != 0 {
			return c
		}
		return strings.Compare(a.name, b.name)
	})

	names := make([]string, 0, len(found))
	for _, f := range found {
		names = append(names, f.name)
	}
	return names, nil
}

func (s *S3) Close() error { return nil }

func (s *S3) list(ctx context.Context, prefix string) ([]string, error) {
	p := s3.NewListObjectsV2Paginator(s.Client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.Bucket),
		Prefix: aws.String(prefix),
	})

	var keys []string
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

func (s *S3) get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get S3 object: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read S3 object body: %w", err)
	}
	return data, nil
}

type s3Cache struct {
	store *S3
	name  string
}

func (c *s3Cache) Name() string { return c.name }

func (c *s3Cache) objectKey(key string) string {
	return c.store.cachePrefix(c.name) + cacheutil.EncodeKey(key) + ".json"
}

func (c *s3Cache) Match(ctx context.Context, key string) (*Entry, error) {
	data, err := c.store.get(ctx, c.objectKey(key))
	if err != nil {
		return nil, err
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("corrupt cache entry for %s: %w", key, err)
	}
	return &e, nil
}

func (c *s3Cache) Put(ctx context.Context, key string, e *Entry) error {
	data, err := json.Marshal(keyed(key, e))
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}
	if _, err := c.store.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.store.Bucket),
		Key:         aws.String(c.objectKey(key)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	}); err != nil {
		return fmt.Errorf("failed to write to cache: %w", err)
	}
	return nil
}

func (c *s3Cache) Delete(ctx context.Context, key string) (bool, error) {
	if _, err := c.store.Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.store.Bucket),
		Key:    aws.String(c.objectKey(key)),
	}); err != nil {
		if isS3NotFound(err) {
			return false, nil
		}
		return false, err
	}
	if _, err := c.store.Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.store.Bucket),
		Key:    aws.String(c.objectKey(key)),
	}); err != nil {
		return false, err
	}
	return true, nil
}

func (c *s3Cache) Keys(ctx context.Context) ([]string, error) {
	objects, err := c.store.list(ctx, c.store.cachePrefix(c.name))
	if err != nil {
		return nil, err
	}

	var entries []Entry
	for _, k := range objects {
		if !strings.HasSuffix(k, ".json") {
			continue
		}
		data, err := c.store.get(ctx, k)
		if err != nil {
			continue
		}
		var e Entry
		if err := json.Unmarshal(data, &e); err != nil {
			log.WithError(err).Warnf("skipping corrupt cache entry %s", k)
			continue
		}
		entries = append(entries, Entry{URL: e.URL, StoredAt: e.StoredAt})
	}

	slices.SortStableFunc(entries, func(a, b Entry) int {
		if c := a.StoredAt.Compare(b.StoredAt); c != 0 {
			return c
		}
		return strings.Compare(a.URL, b.URL)
	})

	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		keys = append(keys, e.URL)
	}
	return keys, nil
}

func isS3NotFound(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	return errors.As(err, &nsk) || errors.As(err, &nf)
}

func boolCmp(a, b bool) int {
	switch {
	case a == b:
		return 0
	case a:
		return 1
	default:
		return -1
	}
}
