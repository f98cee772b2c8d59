package tasks

import (
	"context"
	"fmt"

	"github.com/stevecastle/autostereo/jobqueue"
	"github.com/stevecastle/autostereo/render"
	"github.com/stevecastle/autostereo/sequence"
)

// Renderer is the part of render.Service the tasks drive.
type Renderer interface {
	Still(ctx context.Context, req render.Request) (*render.StillResult, error)
	Animate(ctx context.Context, req render.Request) (*sequence.Result, error)
}

func requestFor(j *jobqueue.Job) render.Request {
	return render.Request{
		Input:     j.Input,
		Output:    j.Output,
		DepthPath: j.Params.DepthPath,
		Artifact:  j.Params.Artifact,
		Preview:   j.Params.Preview,
		Delay:     j.Params.Delay,
	}
}

func stillTask(r Renderer) func(j *jobqueue.Job, q *jobqueue.Queue) error {
	return func(j *jobqueue.Job, q *jobqueue.Queue) error {
		q.PushJobLog(j.ID, "Rendering "+j.Input)
		res, err := r.Still(j.Ctx, requestFor(j))
		if err != nil {
			q.PushJobLog(j.ID, "Render failed: "+err.Error())
			return err
		}
		b := res.Stereogram.Bounds()
		q.PushJobLog(j.ID, fmt.Sprintf("Wrote %s (%dx%d)", j.Output, b.Dx(), b.Dy()))
		return q.CompleteJob(j.ID)
	}
}

func animateTask(r Renderer) func(j *jobqueue.Job, q *jobqueue.Queue) error {
	return func(j *jobqueue.Job, q *jobqueue.Queue) error {
		q.PushJobLog(j.ID, "Rendering animation "+j.Input)
		req := requestFor(j)
		req.Progress = func(done, total int) {
			q.PushJobLog(j.ID, fmt.Sprintf("Frame %d/%d", done, total))
		}
		res, err := r.Animate(j.Ctx, req)
		if err != nil {
			q.PushJobLog(j.ID, "Render failed: "+err.Error())
			return err
		}
		q.PushJobLog(j.ID, fmt.Sprintf("Wrote %s (%d frames)", j.Output, len(res.Sequence.Frames)))
		return q.CompleteJob(j.ID)
	}
}
