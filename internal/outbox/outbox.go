// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

// Package outbox holds form submissions that could not be delivered and
// replays them when the upstream is reachable again.
package outbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/staranto/pwacache/internal/cachestore"
)

// CacheName is the cache the queue lives in. It is kept in its own Storage,
// outside the versioned static and dynamic caches.
const CacheName = "outbox"

// Fetcher delivers a replayed submission.
type Fetcher interface {
	Fetch(ctx context.Context, req *http.Request) (*cachestore.Entry, error)
}

// Submission is one queued request.
type Submission struct {
	ID          string    `json:"id"`
	Method      string    `json:"method"`
	URL         string    `json:"url"`
	ContentType string    `json:"content_type,omitempty"`
	Body        []byte    `json:"body,omitempty"`
	QueuedAt    time.Time `json:"queued_at"`
	Attempts    int       `json:"attempts"`
}

// SyncResult summarizes one Sync pass.
type SyncResult struct {
	Delivered int
	Rejected  int
	Pending   int
}

func (r SyncResult) String() string {
	return fmt.Sprintf("%d delivered, %d rejected, %d pending", r.Delivered, r.Rejected, r.Pending)
}

// Queue is a FIFO of submissions backed by a cachestore.Cache.
type Queue struct {
	cache cachestore.Cache
	paths []string

	// syncMu keeps two Sync passes from replaying the same submission.
	syncMu sync.Mutex
}

// New opens the queue in store. Only POSTs to paths are queued.
func New(ctx context.Context, store cachestore.Storage, paths []string) (*Queue, error) {
	cache, err := store.Open(ctx, CacheName)
	if err != nil {
		return nil, fmt.Errorf("failed to open outbox: %w", err)
	}
	return &Queue{cache: cache, paths: slices.Clone(paths)}, nil
}

// Matches reports whether submissions to path are queued when offline.
func (q *Queue) Matches(path string) bool {
	return slices.Contains(q.paths, path)
}

func key(id string) string { return "urn:uuid:" + id }

// Enqueue stores req with body and returns the submission id.
func (q *Queue) Enqueue(ctx context.Context, req *http.Request, body []byte) (string, error) {
	s := Submission{
		ID:          uuid.NewString(),
		Method:      req.Method,
		URL:         req.URL.String(),
		ContentType: req.Header.Get("Content-Type"),
		Body:        body,
		QueuedAt:    time.Now().UTC(),
	}
	if err := q.put(ctx, s); err != nil {
		return "", err
	}
	log.WithFields(log.Fields{"id": s.ID, "url": s.URL}).Info("queued submission")
	return s.ID, nil
}

func (q *Queue) put(ctx context.Context, s Submission) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode submission: %w", err)
	}
	return q.cache.Put(ctx, key(s.ID), &cachestore.Entry{
		URL:      key(s.ID),
		Status:   http.StatusAccepted,
		Header:   http.Header{"Content-Type": {"application/json"}},
		Body:     data,
		StoredAt: s.QueuedAt,
	})
}

// List returns the queued submissions, oldest first.
func (q *Queue) List(ctx context.Context) ([]Submission, error) {
	keys, err := q.cache.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list outbox: %w", err)
	}

	var subs []Submission
	for _, k := range keys {
		e, err := q.cache.Match(ctx, k)
		if errors.Is(err, cachestore.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var s Submission
		if err := json.Unmarshal(e.Body, &s); err != nil {
			log.WithError(err).Warnf("dropping unreadable submission %s", k)
			_, _ = q.cache.Delete(ctx, k)
			continue
		}
		subs = append(subs, s)
	}

	slices.SortStableFunc(subs, func(a, b Submission) int {
		return a.QueuedAt.Compare(b.QueuedAt)
	})
	return subs, nil
}

// Sync replays every queued submission in order. A submission is removed
// once the upstream answers below 500; transport errors and 5xx keep it for
// the next pass.
func (q *Queue) Sync(ctx context.Context, f Fetcher) (SyncResult, error) {
	q.syncMu.Lock()
	defer q.syncMu.Unlock()

	var result SyncResult

	subs, err := q.List(ctx)
	if err != nil {
		return result, err
	}

	for i, s := range subs {
		if err := ctx.Err(); err != nil {
			result.Pending += len(subs) - i
			return result, err
		}

		status, err := q.deliver(ctx, f, s)
		l := log.WithFields(log.Fields{"id": s.ID, "url": s.URL})
		switch {
		case err != nil:
			l.WithError(err).Warn("failed to sync submission")
		case status >= http.StatusInternalServerError:
			l.WithField("status", status).Warn("upstream refused submission, will retry")
		default:
			if _, err := q.cache.Delete(ctx, key(s.ID)); err != nil {
				l.WithError(err).Error("failed to remove synced submission")
			}
			if status >= http.StatusBadRequest {
				l.WithField("status", status).Warn("submission rejected")
				result.Rejected++
			} else {
				l.WithField("status", status).Info("submission delivered")
				result.Delivered++
			}
			continue
		}

		result.Pending++
		s.Attempts++
		if err := q.put(ctx, s); err != nil {
			l.WithError(err).Warn("failed to record attempt")
		}
	}

	return result, nil
}

func (q *Queue) deliver(ctx context.Context, f Fetcher, s Submission) (int, error) {
	method := s.Method
	if method == "" {
		method = http.MethodPost
	}
	req, err := http.NewRequestWithContext(ctx, method, s.URL, bytes.NewReader(s.Body))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	if s.ContentType != "" {
		req.Header.Set("Content-Type", s.ContentType)
	}
	req.Header.Set("X-Pwacache-Queue-Id", s.ID)

	e, err := f.Fetch(ctx, req)
	if err != nil {
		return 0, err
	}
	return e.Status, nil
}

// Remove drops a queued submission by id.
func (q *Queue) Remove(ctx context.Context, id string) (bool, error) {
	return q.cache.Delete(ctx, key(strings.TrimPrefix(id, "urn:uuid:")))
}
