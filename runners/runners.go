// Package runners drains the job queue with a bounded number of concurrent
// renders.
package runners

import (
	"context"
	"log"
	"sync"

	"github.com/stevecastle/autostereo/jobqueue"
	"github.com/stevecastle/autostereo/tasks"
)

// Runners manages a pool of concurrent job runners.
type Runners struct {
	queue   *jobqueue.Queue
	tasks   tasks.TaskMap
	limit   int
	mu      sync.Mutex
	running int
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	jobs    sync.WaitGroup
}

// New creates a Runners instance running at most limit jobs at once and
// starts listening for queue signals.
func New(queue *jobqueue.Queue, registry tasks.TaskMap, limit int) *Runners {
	if limit < 1 {
		limit = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runners{
		queue:  queue,
		tasks:  registry,
		limit:  limit,
		ctx:    ctx,
		cancel: cancel,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-r.ctx.Done():
				return
			case <-r.queue.Signal:
				r.CheckForJobs()
			}
		}
	}()

	return r
}

// Shutdown stops claiming new jobs and waits for running jobs to finish.
func (r *Runners) Shutdown() {
	r.cancel()
	r.wg.Wait()
	r.jobs.Wait()
}

// Running returns the number of jobs currently executing.
func (r *Runners) Running() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// CheckForJobs claims and starts jobs until the pool is full or nothing is
// claimable.
func (r *Runners) CheckForJobs() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fillLocked()
}

func (r *Runners) fillLocked() {
	for r.running < r.limit && r.ctx.Err() == nil {
		job := r.queue.ClaimJob()
		if job == nil {
			return
		}
		r.runJob(job)
	}
}

// runJob starts a single job in a separate goroutine. Once it completes,
// the pool is refilled.
func (r *Runners) runJob(j *jobqueue.Job) {
	r.running++
	r.jobs.Add(1)
	go func() {
		defer r.jobs.Done()
		defer func() {
			r.mu.Lock()
			r.running--
			r.fillLocked()
			r.mu.Unlock()
		}()

		task, exists := r.tasks[j.Kind]
		if !exists {
			r.queue.PushJobLog(j.ID, "Task not found: "+j.Kind)
			r.queue.ErrorJob(j.ID, nil)
			return
		}
		if err := task.Fn(j, r.queue); err != nil {
			// A cancelled job keeps its cancelled state.
			select {
			case <-j.Ctx.Done():
			default:
				log.Printf("Job %s failed: %v", j.ID, err)
				_ = r.queue.ErrorJob(j.ID, err)
			}
		}
	}()
}
