// Package upload implements the chunked multi-part upload pipeline: a fixed
// worker pool (C5) feeding an object-store adapter, and a supervisor (C6)
// that owns the chunker, drives the workers and commits or cancels the
// upload.
package upload

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/presslabs/z3/internal/objstore"
	"github.com/presslabs/z3/internal/retry"
)

// DefaultConcurrency is the default worker count.
const DefaultConcurrency = 4

// DefaultMaxRetries is the default retry budget for a single part upload.
const DefaultMaxRetries = 3

// Job is one unit of work handed to a worker: the 1-based S3 part index and
// its chunk bytes.
type Job struct {
	Index int
	Chunk []byte
}

// PartResult is what a worker reports back on a successful part upload.
type PartResult struct {
	Index  int
	MD5Hex string
}

// Pool is the C5 worker pool: a fixed number of workers sharing one bounded
// job queue (capacity = worker count) and one unbounded result queue. A
// worker whose retry budget is exhausted on upload_part exits its loop;
// Alive reports this to the supervisor so it can fail fast.
type Pool struct {
	store      objstore.Store
	handle     *objstore.Handle
	maxRetries int
	log        *zerolog.Logger
	release    func([]byte)

	jobs       chan Job
	resultsIn  chan PartResult
	resultsOut chan PartResult

	wg   sync.WaitGroup
	dead atomic.Int32
}

// NewPool starts workers workers (DefaultConcurrency if <= 0) against
// handle, each making at most maxRetries attempts at a part in total
// (DefaultMaxRetries if <= 0). release, if non-nil, is called with a job's
// chunk once its upload succeeds, so the caller can return it to a buffer
// pool (e.g. chunk.Chunker.Release).
func NewPool(ctx context.Context, store objstore.Store, handle *objstore.Handle, workers, maxRetries int, log *zerolog.Logger, release func([]byte)) *Pool {
	if workers <= 0 {
		workers = DefaultConcurrency
	}
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	p := &Pool{
		store:      store,
		handle:     handle,
		maxRetries: maxRetries,
		log:        log,
		release:    release,
		jobs:       make(chan Job, workers),
		resultsIn:  make(chan PartResult),
		resultsOut: make(chan PartResult),
	}

	go p.bufferResults()
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	return p
}

// bufferResults turns resultsIn into an unbounded queue: workers never
// block handing off a result, regardless of how far behind the supervisor's
// consumption is.
func (p *Pool) bufferResults() {
	defer close(p.resultsOut)
	var buf []PartResult
	for {
		if len(buf) == 0 {
			v, ok := <-p.resultsIn
			if !ok {
				return
			}
			buf = append(buf, v)
			continue
		}
		select {
		case v, ok := <-p.resultsIn:
			if !ok {
				for _, b := range buf {
					p.resultsOut <- b
				}
				return
			}
			buf = append(buf, v)
		case p.resultsOut <- buf[0]:
			buf = buf[1:]
		}
	}
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for job := range p.jobs {
		res, err := retry.Do2(p.maxRetries, p.log, func() (objstore.PartUploadResult, error) {
			return p.store.UploadPart(ctx, p.handle, job.Index, job.Chunk)
		})
		if err != nil {
			p.dead.Add(1)
			if p.log != nil {
				p.log.Error().Err(err).Int("worker", id).Int("part_index", job.Index).
					Msg("worker exhausted retry budget, exiting")
			}
			return
		}
		if p.release != nil {
			p.release(job.Chunk)
		}
		p.resultsIn <- PartResult{Index: job.Index, MD5Hex: res.MD5Hex}
	}
}

// Submit enqueues a job, blocking while the job queue is full. This is the
// pipeline's only backpressure point.
func (p *Pool) Submit(job Job) {
	p.jobs <- job
}

// Results returns the channel workers publish completed parts to.
func (p *Pool) Results() <-chan PartResult {
	return p.resultsOut
}

// Alive reports whether no worker has exited after exhausting its retry
// budget. Workers that exit normally after Shutdown are not counted.
func (p *Pool) Alive() bool {
	return p.dead.Load() == 0
}

// Shutdown closes the job queue, waits for every worker to exit, then closes
// the result queue so a final drain of Results terminates.
func (p *Pool) Shutdown() {
	close(p.jobs)
	p.wg.Wait()
	close(p.resultsIn)
}
