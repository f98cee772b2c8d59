// Package jobqueue holds render jobs, their state machine and their
// persistence in SQLite.
package jobqueue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrJobNotFound  = errors.New("job not found")
	ErrInvalidState = errors.New("invalid job state")
	ErrInvalidJob   = errors.New("invalid job")
)

// Job kinds.
const (
	KindStill   = "still"
	KindAnimate = "animate"
)

// JobState represents the current state of a job in the queue.
type JobState int

const (
	StatePending JobState = iota
	StateInProgress
	StateCompleted
	StateCancelled
	StateError
)

func (s JobState) String() string {
	switch s {
	case StatePending:
		return "Pending"
	case StateInProgress:
		return "InProgress"
	case StateCompleted:
		return "Completed"
	case StateCancelled:
		return "Cancelled"
	case StateError:
		return "Error"
	default:
		return "Unknown"
	}
}

// MarshalJSON serializes JobState as a lowercase string for JSON.
func (s JobState) MarshalJSON() ([]byte, error) {
	var str string
	switch s {
	case StatePending:
		str = "pending"
	case StateInProgress:
		str = "in_progress"
	case StateCompleted:
		str = "completed"
	case StateCancelled:
		str = "cancelled"
	case StateError:
		str = "error"
	default:
		str = "unknown"
	}
	return json.Marshal(str)
}

// UnmarshalJSON deserializes JobState from a string.
func (s *JobState) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}

	switch str {
	case "pending":
		*s = StatePending
	case "in_progress":
		*s = StateInProgress
	case "completed":
		*s = StateCompleted
	case "cancelled":
		*s = StateCancelled
	case "error":
		*s = StateError
	default:
		*s = StatePending
	}
	return nil
}

// Params are the per-job render options beyond input and output.
type Params struct {
	DepthPath string `json:"depthPath,omitempty"`
	Artifact  string `json:"artifact,omitempty"`
	Preview   string `json:"preview,omitempty"`
	Delay     int    `json:"delay,omitempty"`
}

// Job is one queued render.
type Job struct {
	ID           string             `json:"id"`
	Kind         string             `json:"kind"`
	Input        string             `json:"input"`
	Output       string             `json:"output"`
	Params       Params             `json:"params"`
	Log          []string           `json:"log"`
	Error        string             `json:"error,omitempty"`
	Dependencies []string           `json:"dependencies"` // IDs of jobs that must complete before this one
	State        JobState           `json:"state"`
	Ctx          context.Context    `json:"-"`
	Cancel       context.CancelFunc `json:"-"`

	CreatedAt   time.Time `json:"created_at"`
	ClaimedAt   time.Time `json:"claimed_at"`
	CompletedAt time.Time `json:"completed_at"`
	ErroredAt   time.Time `json:"errored_at"`
}

// Event is published on every job change. UpdateType is one of create,
// update, delete or log.
type Event struct {
	UpdateType string `json:"updateType"`
	Job        Job    `json:"job"`
	Line       string `json:"line,omitempty"`
}

// Queue is a thread-safe structure that manages Jobs with dependencies.
type Queue struct {
	mu       sync.Mutex
	Jobs     map[string]*Job
	JobOrder []string // Keep track of the order in which jobs are added
	Signal   chan string
	Db       *sql.DB // Database connection for persistence

	// OnEvent, if set, receives every event. It is called with the queue
	// lock held and must not call back into the queue.
	OnEvent func(Event)
}

// NewQueue initializes and returns a new in-memory Queue.
func NewQueue() *Queue {
	return &Queue{
		Jobs:   make(map[string]*Job),
		Signal: make(chan string, 100),
	}
}

// NewQueueWithDB initializes a Queue persisted in db and loads the jobs it
// already holds. Jobs that were in progress are reset to pending.
func NewQueueWithDB(db *sql.DB) (*Queue, error) {
	q := NewQueue()
	q.Db = db
	if err := q.createJobsTable(); err != nil {
		return nil, fmt.Errorf("create jobs table: %w", err)
	}
	if err := q.loadJobsFromDB(); err != nil {
		return nil, fmt.Errorf("load jobs: %w", err)
	}
	return q, nil
}

func (q *Queue) createJobsTable() error {
	_, err := q.Db.Exec(`
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		input TEXT NOT NULL,
		output TEXT NOT NULL,
		params TEXT, -- JSON object
		log TEXT, -- JSON array
		error TEXT,
		dependencies TEXT, -- JSON array
		state INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		claimed_at DATETIME,
		completed_at DATETIME,
		errored_at DATETIME,
		job_order_position INTEGER
	)`)
	return err
}

func (q *Queue) saveJobToDB(job *Job) error {
	if q.Db == nil {
		return nil
	}

	paramsJSON, _ := json.Marshal(job.Params)
	logJSON, _ := json.Marshal(job.Log)
	dependenciesJSON, _ := json.Marshal(job.Dependencies)

	position := -1
	for i, id := range q.JobOrder {
		if id == job.ID {
			position = i
			break
		}
	}

	_, err := q.Db.Exec(`
	INSERT OR REPLACE INTO jobs (
		id, kind, input, output, params, log, error, dependencies, state,
		created_at, claimed_at, completed_at, errored_at, job_order_position
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID,
		job.Kind,
		job.Input,
		job.Output,
		string(paramsJSON),
		string(logJSON),
		job.Error,
		string(dependenciesJSON),
		int(job.State),
		job.CreatedAt,
		job.ClaimedAt,
		job.CompletedAt,
		job.ErroredAt,
		position,
	)
	return err
}

func (q *Queue) loadJobsFromDB() error {
	rows, err := q.Db.Query(`
	SELECT id, kind, input, output, COALESCE(params, '{}'), COALESCE(log, '[]'),
		   COALESCE(error, ''), COALESCE(dependencies, '[]'), state,
		   created_at, claimed_at, completed_at, errored_at
	FROM jobs
	ORDER BY job_order_position`)
	if err != nil {
		return err
	}
	defer rows.Close()

	var resumedJobs []string
	for rows.Next() {
		var job Job
		var paramsJSON, logJSON, dependenciesJSON string
		var state int

		err := rows.Scan(
			&job.ID,
			&job.Kind,
			&job.Input,
			&job.Output,
			&paramsJSON,
			&logJSON,
			&job.Error,
			&dependenciesJSON,
			&state,
			&job.CreatedAt,
			&job.ClaimedAt,
			&job.CompletedAt,
			&job.ErroredAt,
		)
		if err != nil {
			log.Printf("Error scanning job row: %v", err)
			continue
		}

		if err := json.Unmarshal([]byte(paramsJSON), &job.Params); err != nil {
			job.Params = Params{}
		}
		if err := json.Unmarshal([]byte(logJSON), &job.Log); err != nil {
			job.Log = []string{}
		}
		if err := json.Unmarshal([]byte(dependenciesJSON), &job.Dependencies); err != nil {
			job.Dependencies = []string{}
		}

		job.State = JobState(state)
		if job.State == StateInProgress {
			job.State = StatePending
			job.ClaimedAt = time.Time{}
			resumedJobs = append(resumedJobs, job.ID)
		}

		job.Ctx, job.Cancel = context.WithCancel(context.Background())
		q.Jobs[job.ID] = &job
		q.JobOrder = append(q.JobOrder, job.ID)
	}

	if len(resumedJobs) > 0 {
		log.Printf("Resumed %d jobs that were in progress: %v", len(resumedJobs), resumedJobs)
	}
	for _, id := range q.JobOrder {
		if q.Jobs[id].State == StatePending {
			q.signal(id)
		}
	}
	return rows.Err()
}

func (q *Queue) removeJobFromDB(jobID string) error {
	if q.Db == nil {
		return nil
	}
	_, err := q.Db.Exec("DELETE FROM jobs WHERE id = ?", jobID)
	return err
}

// signal wakes the runners without blocking when nobody is listening.
func (q *Queue) signal(id string) {
	select {
	case q.Signal <- id:
	default:
	}
}

func (q *Queue) publish(updateType string, job *Job, line string) {
	if q.OnEvent == nil {
		return
	}
	snapshot := *job
	snapshot.Log = append([]string(nil), job.Log...)
	q.OnEvent(Event{UpdateType: updateType, Job: snapshot, Line: line})
}

// AddJob queues a render and returns its generated ID.
func (q *Queue) AddJob(kind, input, output string, params Params, dependencies []string) (string, error) {
	if kind != KindStill && kind != KindAnimate {
		return "", fmt.Errorf("%w: unknown kind %q", ErrInvalidJob, kind)
	}
	if input == "" || output == "" {
		return "", fmt.Errorf("%w: input and output are required", ErrInvalidJob)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	for _, dep := range dependencies {
		if _, ok := q.Jobs[dep]; !ok {
			return "", fmt.Errorf("dependency %s: %w", dep, ErrJobNotFound)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	job := &Job{
		ID:           uuid.NewString(),
		Kind:         kind,
		Input:        input,
		Output:       output,
		Params:       params,
		Log:          []string{},
		Dependencies: dependencies,
		State:        StatePending,
		Ctx:          ctx,
		Cancel:       cancel,
		CreatedAt:    time.Now(),
	}
	q.Jobs[job.ID] = job
	q.JobOrder = append(q.JobOrder, job.ID)

	if err := q.saveJobToDB(job); err != nil {
		log.Printf("Failed to save job to database: %v", err)
	}

	q.signal(job.ID)
	q.publish("create", job, "")
	return job.ID, nil
}

// CopyJob queues a fresh pending copy of an existing job.
func (q *Queue) CopyJob(id string) (string, error) {
	q.mu.Lock()
	job, exists := q.Jobs[id]
	if !exists {
		q.mu.Unlock()
		return "", ErrJobNotFound
	}
	kind, input, output, params := job.Kind, job.Input, job.Output, job.Params
	q.mu.Unlock()
	return q.AddJob(kind, input, output, params, nil)
}

// ClaimJob tries to find a pending job whose dependencies are all completed,
// in FIFO order. If successful, it returns the job and marks it as InProgress.
// If no suitable job is found, it returns nil.
func (q *Queue) ClaimJob() *Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, jobID := range q.JobOrder {
		job := q.Jobs[jobID]
		if job.State == StatePending && q.canClaim(job) {
			job.State = StateInProgress
			job.ClaimedAt = time.Now()
			if err := q.saveJobToDB(job); err != nil {
				log.Printf("Failed to save job state to database: %v", err)
			}
			q.publish("update", job, "")
			return job
		}
	}
	return nil
}

// canClaim checks if a job's dependencies are all completed.
func (q *Queue) canClaim(job *Job) bool {
	for _, dep := range job.Dependencies {
		depJob, exists := q.Jobs[dep]
		if !exists || depJob.State != StateCompleted {
			return false
		}
	}
	return true
}

// finish moves an in-progress job to a final state.
func (q *Queue) finish(id string, state JobState, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, exists := q.Jobs[id]
	if !exists {
		return ErrJobNotFound
	}
	if job.State != StateInProgress {
		return fmt.Errorf("job %s is %s, not in progress: %w", id, job.State, ErrInvalidState)
	}

	job.State = state
	switch state {
	case StateCompleted:
		job.CompletedAt = time.Now()
	case StateError:
		job.ErroredAt = time.Now()
		if cause != nil {
			job.Error = cause.Error()
		}
	}
	if err := q.saveJobToDB(job); err != nil {
		log.Printf("Failed to save job %s state to database: %v", id, err)
	}
	q.publish("update", job, "")
	if state == StateCompleted {
		// Dependents may have become claimable.
		q.signal(id)
	}
	return nil
}

// CompleteJob marks an in-progress job as completed.
func (q *Queue) CompleteJob(id string) error {
	return q.finish(id, StateCompleted, nil)
}

// ErrorJob marks an in-progress job as failed with cause.
func (q *Queue) ErrorJob(id string, cause error) error {
	return q.finish(id, StateError, cause)
}

// CancelJob cancels a pending or in-progress job. A running render sees its
// context cancelled.
func (q *Queue) CancelJob(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, exists := q.Jobs[id]
	if !exists {
		return ErrJobNotFound
	}
	if job.State != StatePending && job.State != StateInProgress {
		return fmt.Errorf("job %s is %s: %w", id, job.State, ErrInvalidState)
	}
	job.Cancel()
	job.State = StateCancelled

	if err := q.saveJobToDB(job); err != nil {
		log.Printf("Failed to save job cancellation to database: %v", err)
	}
	q.publish("update", job, "")
	return nil
}

// PushJobLog appends a line to the job's log.
func (q *Queue) PushJobLog(id string, line string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, exists := q.Jobs[id]
	if !exists {
		return ErrJobNotFound
	}
	job.Log = append(job.Log, line)
	if err := q.saveJobToDB(job); err != nil {
		log.Printf("Failed to save job log to database: %v", err)
	}
	q.publish("log", job, line)
	return nil
}

// GetJobs returns copies of all jobs, newest first.
func (q *Queue) GetJobs() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	jobs := make([]Job, 0, len(q.JobOrder))
	for i := len(q.JobOrder) - 1; i >= 0; i-- {
		jobs = append(jobs, *q.Jobs[q.JobOrder[i]])
	}
	return jobs
}

// GetJob returns a copy of the job, or false if it does not exist.
func (q *Queue) GetJob(id string) (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, exists := q.Jobs[id]
	if !exists {
		return Job{}, false
	}
	return *job, true
}

// RemoveJob deletes a job, cancelling it first if it is still running.
func (q *Queue) RemoveJob(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, exists := q.Jobs[id]
	if !exists {
		return ErrJobNotFound
	}
	job.Cancel()
	q.removeLocked(id)
	return nil
}

func (q *Queue) removeLocked(id string) {
	delete(q.Jobs, id)
	for i, jobID := range q.JobOrder {
		if jobID == id {
			q.JobOrder = append(q.JobOrder[:i], q.JobOrder[i+1:]...)
			break
		}
	}
	if err := q.removeJobFromDB(id); err != nil {
		log.Printf("Failed to remove job from database: %v", err)
	}
	q.publish("delete", &Job{ID: id}, "")
}

// ClearNonRunningJobs removes every job that is not in progress and returns
// how many were removed.
func (q *Queue) ClearNonRunningJobs() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	var remove []string
	for _, jobID := range q.JobOrder {
		if q.Jobs[jobID].State != StateInProgress {
			remove = append(remove, jobID)
		}
	}
	for _, jobID := range remove {
		q.Jobs[jobID].Cancel()
		q.removeLocked(jobID)
	}
	return len(remove)
}
