// Package tasks maps job kinds to the functions that run them.
package tasks

import (
	"github.com/stevecastle/autostereo/jobqueue"
)

// Task represents a runnable unit bound to the jobqueue. Fn must leave the
// job completed on success; on failure the runner records the error.
type Task struct {
	ID   string                                         `json:"id"`
	Name string                                         `json:"name"`
	Fn   func(j *jobqueue.Job, q *jobqueue.Queue) error `json:"-"`
}

type TaskMap map[string]Task

// Register adds or replaces a task.
func (m TaskMap) Register(id, name string, fn func(j *jobqueue.Job, q *jobqueue.Queue) error) {
	m[id] = Task{ID: id, Name: name, Fn: fn}
}

// NewRegistry returns the render tasks bound to r.
func NewRegistry(r Renderer) TaskMap {
	m := make(TaskMap)
	m.Register(jobqueue.KindStill, "Render Stereogram", stillTask(r))
	m.Register(jobqueue.KindAnimate, "Render Animated Stereogram", animateTask(r))
	return m
}
