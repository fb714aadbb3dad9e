// Copyright (c) 2025-2026 The Kolibri developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package taskqueue provides a deduplicating job scheduler with support
// for immediate and delayed enqueueing backed by a worker pool.
package taskqueue

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

const (
	// defaultWorkers is the default number of concurrent job executors.
	defaultWorkers = 4
)

// Task is the unit of work the scheduler executes.  The provided context
// is canceled when the scheduler shuts down.  A returned error is logged
// by the executing worker and otherwise ignored.
type Task func(ctx context.Context) error

// job pairs a task with its deduplicating identifier.
type job struct {
	id   string
	task Task
}

// enqueueJob is used to submit a job for immediate or delayed execution.
type enqueueJob struct {
	job   job
	delay time.Duration
}

// timerFired is used to move a delayed job into the runnable queue once
// its timer elapsed.
type timerFired struct {
	job job
}

// Config holds the configuration options related to the scheduler.
type Config struct {
	// Clock provides the timers used for delayed jobs.  It is primarily
	// configurable to allow a mock clock while testing and defaults to
	// the wall clock when nil.
	Clock clock.Clock

	// Workers is the number of jobs allowed to execute concurrently.
	// Defaults to 4.
	Workers int
}

// Scheduler executes submitted jobs on a bounded worker pool.
//
// Every submission carries a caller-supplied identifier that deduplicates
// pending work: an identifier that already has a job queued or waiting on
// a delay is ignored, so at most one pending job exists per identifier.
// The identifier is freed the moment the job is handed to a worker, which
// means a job that is already running no longer shields its identifier.
type Scheduler struct {
	// The following fields are used for lifecycle management of the
	// scheduler.
	wg   sync.WaitGroup
	quit chan struct{}

	// cfg specifies the configuration of the scheduler and is set at
	// creation time and treated as immutable after that.
	cfg Config

	// requests is used internally to interact with the dispatch
	// goroutine.
	requests chan interface{}

	// runnable hands jobs whose turn has come to the worker pool.
	runnable chan job
}

// New returns a new scheduler with the provided configuration.
//
// Use Run to start executing submitted jobs.
func New(cfg *Config) *Scheduler {
	// Default to sane values.
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	s := Scheduler{
		cfg:      *cfg, // Copy so caller can't mutate
		quit:     make(chan struct{}),
		requests: make(chan interface{}),
		runnable: make(chan job),
	}
	return &s
}

// Enqueue submits a job for immediate execution.  The submission is
// dropped when a job with the same identifier is already pending or the
// scheduler is shutting down.
func (s *Scheduler) Enqueue(id string, task Task) {
	select {
	case s.requests <- enqueueJob{job: job{id: id, task: task}}:
	case <-s.quit:
	}
}

// EnqueueAfter submits a job for execution after the provided delay.  The
// submission is dropped when a job with the same identifier is already
// pending or the scheduler is shutting down.
func (s *Scheduler) EnqueueAfter(delay time.Duration, id string, task Task) {
	select {
	case s.requests <- enqueueJob{job: job{id: id, task: task}, delay: delay}:
	case <-s.quit:
	}
}

// dispatchLoop tracks pending job identifiers, arms timers for delayed
// jobs and feeds runnable jobs to the worker pool.  It must be run as a
// goroutine.
func (s *Scheduler) dispatchLoop(ctx context.Context) {
	var (
		// pending holds the identifiers of all jobs that are queued
		// or waiting out a delay.
		pending = make(map[string]struct{})

		// queue holds jobs ready to be handed to a worker.
		queue []job
	)

out:
	for {
		// Only offer the head of the queue to the worker pool when
		// there is one.
		var runnable chan job
		var next job
		if len(queue) > 0 {
			runnable = s.runnable
			next = queue[0]
		}

		select {
		case req := <-s.requests:
			switch msg := req.(type) {
			case enqueueJob:
				if _, ok := pending[msg.job.id]; ok {
					log.Debugf("Ignoring duplicate "+
						"submission for pending job %s",
						msg.job.id)
					continue
				}
				pending[msg.job.id] = struct{}{}
				if msg.delay <= 0 {
					queue = append(queue, msg.job)
					continue
				}
				s.armTimer(msg.job, msg.delay)

			case timerFired:
				queue = append(queue, msg.job)
			}

		case runnable <- next:
			queue = queue[1:]
			delete(pending, next.id)

		case <-ctx.Done():
			break out
		}
	}

	s.wg.Done()
	log.Trace("Dispatch loop done")
}

// armTimer schedules the job to become runnable after the delay.
func (s *Scheduler) armTimer(j job, delay time.Duration) {
	log.Tracef("Job %s delayed by %v", j.id, delay)
	s.cfg.Clock.AfterFunc(delay, func() {
		select {
		case s.requests <- timerFired{job: j}:
		case <-s.quit:
		}
	})
}

// worker executes runnable jobs until the context is canceled.  It must be
// run as a goroutine.
func (s *Scheduler) worker(ctx context.Context) {
	for {
		select {
		case j := <-s.runnable:
			s.runJob(ctx, j)

		case <-ctx.Done():
			s.wg.Done()
			return
		}
	}
}

// runJob executes a single job, containing any error or panic it raises so
// a misbehaving job cannot take its worker down.
func (s *Scheduler) runJob(ctx context.Context, j job) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Job %s panicked: %v", j.id, r)
		}
	}()
	log.Tracef("Running job %s", j.id)
	if err := j.task(ctx); err != nil {
		log.Errorf("Job %s failed: %v", j.id, err)
	}
}

// Run starts the dispatch loop along with the configured number of workers
// and begins executing submitted jobs.  It blocks until the provided
// context is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	log.Trace("Starting task scheduler")

	s.wg.Add(1)
	go s.dispatchLoop(ctx)

	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx)
	}

	// Unblock submitters when the context is canceled.
	s.wg.Add(1)
	go func() {
		<-ctx.Done()
		close(s.quit)
		s.wg.Done()
	}()

	s.wg.Wait()
	log.Trace("Task scheduler stopped")
}
