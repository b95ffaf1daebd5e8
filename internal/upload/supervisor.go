package upload

import (
	"context"
	"errors"
	"sort"

	"github.com/rs/zerolog"

	"github.com/presslabs/z3/internal/chunk"
	"github.com/presslabs/z3/internal/etag"
	"github.com/presslabs/z3/internal/objstore"
	"github.com/presslabs/z3/internal/zerr"
)

// State is the supervisor's lifecycle stage, per C6:
// Idle -> Started -> Streaming -> Finalising -> Done | Failed.
type State int

const (
	Idle State = iota
	Started
	Streaming
	Finalising
	Done
	Failed
)

// Supervisor orchestrates a Chunker and a Pool against an object-store
// handle: it drives the chunker, feeds jobs to the pool, collects ordered
// results, and commits or cancels the multi-part upload.
type Supervisor struct {
	store       objstore.Store
	concurrency int
	maxRetries  int
	log         *zerolog.Logger

	state State
}

// NewSupervisor builds a Supervisor against store. concurrency and
// maxRetries fall back to DefaultConcurrency / DefaultMaxRetries when <= 0.
func NewSupervisor(store objstore.Store, concurrency, maxRetries int, log *zerolog.Logger) *Supervisor {
	return &Supervisor{store: store, concurrency: concurrency, maxRetries: maxRetries, log: log}
}

// State returns the supervisor's current lifecycle stage.
func (s *Supervisor) State() State {
	return s.state
}

// Run streams c through the worker pool into keyName, returning the
// composite ETag on success. headers carries the x-amz-acl /
// x-amz-storage-class / x-amz-meta-* entries for InitiateMultipart.
func (s *Supervisor) Run(ctx context.Context, c *chunk.Chunker, keyName string, headers map[string]string) (string, error) {
	s.state = Idle

	handle, err := s.store.InitiateMultipart(ctx, keyName, headers)
	if err != nil {
		s.state = Failed
		return "", err
	}
	s.state = Started

	pool := NewPool(ctx, s.store, handle, s.concurrency, s.maxRetries, s.log, c.Release)
	s.state = Streaming

	var (
		collected   []PartResult
		pendingJobs int
		chunkIndex  int
	)

	for pendingJobs > 0 || !c.Finished() {
		if !pool.Alive() {
			pool.Shutdown()
			s.state = Failed
			_ = s.store.Cancel(ctx, handle)
			return "", zerr.WorkerCrashed(errors.New("upload worker exited after exhausting its retry budget"))
		}

		collected, pendingJobs = drainResults(pool, collected, pendingJobs)

		next, err := c.GetChunk()
		if err != nil {
			pool.Shutdown()
			s.state = Failed
			_ = s.store.Cancel(ctx, handle)
			return "", err
		}
		if next != nil {
			chunkIndex++
			pendingJobs++
			pool.Submit(Job{Index: chunkIndex, Chunk: next})
		}
	}

	s.state = Finalising
	pool.Shutdown()
	for r := range pool.Results() {
		collected = append(collected, r)
	}

	if len(collected) == 0 {
		_ = s.store.Cancel(ctx, handle)
		s.state = Failed
		return "", zerr.ZeroBytes()
	}

	sort.Slice(collected, func(i, j int) bool { return collected[i].Index < collected[j].Index })
	digests := make([]string, len(collected))
	for i, r := range collected {
		digests[i] = r.MD5Hex
	}

	tag, err := etag.Multipart(digests)
	if err != nil {
		_ = s.store.Cancel(ctx, handle)
		s.state = Failed
		return "", err
	}

	if _, err := s.store.Complete(ctx, handle); err != nil {
		s.state = Failed
		return "", err
	}

	s.state = Done
	return tag, nil
}

// drainResults consumes every result currently available on the pool's
// result channel without blocking.
func drainResults(pool *Pool, collected []PartResult, pending int) ([]PartResult, int) {
	for {
		select {
		case r := <-pool.Results():
			collected = append(collected, r)
			pending--
		default:
			return collected, pending
		}
	}
}
