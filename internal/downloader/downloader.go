// Package downloader pre-materializes upcoming queue items onto local
// disk, bounded by a configured concurrency limit and deduplicated by
// descriptor id, with the currently-playing item able to preempt a
// look-ahead slot.
package downloader

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"tryffel.net/go/airwave/internal/eventbus"
	"tryffel.net/go/airwave/internal/model"
	"tryffel.net/go/airwave/internal/resolver"
)

// Config tunes the pipeline's concurrency and retry behavior.
type Config struct {
	// LookAhead is how many upcoming queue items to pre-fetch. 0 disables
	// prefetch entirely; only foreground fetches happen.
	LookAhead int
	// MaxConcurrent bounds the number of downloads in flight at once.
	MaxConcurrent int64
}

// DefaultConfig matches the values the pipeline ships with.
func DefaultConfig() Config {
	return Config{LookAhead: 1, MaxConcurrent: 2}
}

// Pipeline drives fetches for a Resolver, deduplicating concurrent
// requests for the same descriptor and retrying transient failures with
// exponential backoff.
type Pipeline struct {
	resolver resolver.Resolver
	bus      *eventbus.Bus
	cfg      Config

	sem   *semaphore.Weighted
	group singleflight.Group
}

// New returns a Pipeline fetching artifacts through res, publishing
// QUEUE_UPDATED on bus whenever a download transitions state.
func New(res resolver.Resolver, bus *eventbus.Bus, cfg Config) *Pipeline {
	return &Pipeline{
		resolver: res,
		bus:      bus,
		cfg:      cfg,
		sem:      semaphore.NewWeighted(cfg.MaxConcurrent),
	}
}

// Fetch downloads item's artifact, obeying the concurrency bound unless
// foreground is set. foreground is used for the currently-playing item:
// it skips the semaphore entirely, so it never waits behind queued
// look-ahead fetches and is not counted against MaxConcurrent.
//
// Fetch deduplicates concurrent calls for the same descriptor id: only one
// actually downloads, and all callers receive its result.
func (p *Pipeline) Fetch(ctx context.Context, item model.QueueItem, foreground bool) (string, error) {
	result := p.group.DoChan(item.Descriptor.Id, func() (interface{}, error) {
		return p.fetchOnce(ctx, item, foreground)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-result:
		if r.Err != nil {
			return "", r.Err
		}
		path, _ := r.Val.(string)
		return path, nil
	}
}

func (p *Pipeline) fetchOnce(ctx context.Context, item model.QueueItem, foreground bool) (string, error) {
	if !foreground {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			return "", err
		}
		defer p.sem.Release(1)
	}

	p.publishState(item.Id(), model.DownloadState{Phase: model.DownloadInflight})

	op := func() (string, error) {
		path, err := p.resolver.FetchArtifact(item.Descriptor, func(pr resolver.Progress) {
			logrus.Debugf("downloader: %s %s %d%%", item.Id(), pr.Phase, pr.Percent)
		})
		if err != nil && !isRetryable(err) {
			return "", backoff.Permanent(err)
		}
		return path, err
	}

	path, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(retryPolicy()),
		backoff.WithMaxTries(4),
		backoff.WithNotify(func(err error, d time.Duration) {
			logrus.Warnf("downloader: retrying %s after %v: %v", item.Id(), d, err)
		}),
	)

	if err != nil {
		p.publishState(item.Id(), model.DownloadState{Phase: model.DownloadFailed, Reason: err.Error()})
		return "", err
	}

	p.publishState(item.Id(), model.DownloadState{Phase: model.DownloadReady, FilePath: path})
	return path, nil
}

// retryPolicy returns a fresh exponential backoff policy: base 500ms,
// factor 2, capped at 8s. A fresh instance is used per attempt sequence
// since backoff.ExponentialBackOff carries internal state.
func retryPolicy() backoff.BackOff {
	return backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(500*time.Millisecond),
		backoff.WithMultiplier(2),
		backoff.WithMaxInterval(8*time.Second),
	)
}

func isRetryable(err error) bool {
	return !model.Is(err, model.KindPermanentRejected) && !model.Is(err, model.KindToolUnavailable)
}

// PrefetchAhead scans items (the live queue order, current track first) and
// kicks off background fetches for up to cfg.LookAhead pending items beyond
// the head, skipping ones already inflight/ready/failed. It returns
// immediately; fetches run on their own goroutines and obey the pipeline's
// concurrency bound and single-flight dedup like any other Fetch call.
func (p *Pipeline) PrefetchAhead(items []model.QueueItem) {
	if p.cfg.LookAhead <= 0 {
		return
	}
	end := 1 + p.cfg.LookAhead
	if end > len(items) {
		end = len(items)
	}
	for _, item := range items[minInt(1, len(items)):end] {
		if item.DownloadState.Phase != model.DownloadPending {
			continue
		}
		go func(it model.QueueItem) {
			if _, err := p.Fetch(context.Background(), it, false); err != nil {
				logrus.Debugf("downloader: prefetch %s: %v", it.Id(), err)
			}
		}(item)
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func (p *Pipeline) publishState(id string, state model.DownloadState) {
	p.bus.Publish(eventbus.QueueUpdated, idDownloadState{ID: id, State: state})
}

// idDownloadState is the payload published alongside QUEUE_UPDATED so a
// subscriber (the queue manager itself, wired by the composition root) can
// apply the state transition without the downloader needing a reference
// back to the queue.
type idDownloadState struct {
	ID    string
	State model.DownloadState
}

// IDAndState exposes idDownloadState's fields for callers outside this
// package that need to read a QUEUE_UPDATED payload published by Fetch.
func IDAndState(payload interface{}) (id string, state model.DownloadState, ok bool) {
	v, ok := payload.(idDownloadState)
	if !ok {
		return "", model.DownloadState{}, false
	}
	return v.ID, v.State, true
}
