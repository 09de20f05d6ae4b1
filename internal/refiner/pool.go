package refiner

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"scenefix/internal/logging"
)

// Job is one artifact to refine, identified by name (usually its path).
type Job struct {
	Name string
	Code string
}

// JobResult pairs a job with its outcome. Err is set when the session
// ended in a hard failure; Outcome.Code still holds the best code so far.
type JobResult struct {
	Name    string
	Outcome Outcome
	Err     error
}

// Pool runs refinement sessions concurrently. Sessions are independent;
// the expensive subprocesses underneath are already bounded by the
// sandbox semaphore, so the pool only caps session-level parallelism.
type Pool struct {
	refiner *Refiner
	workers int
}

// NewPool creates a pool running at most workers sessions at once.
func NewPool(refiner *Refiner, workers int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	return &Pool{refiner: refiner, workers: workers}
}

// Run refines every job and returns results in job order. A stuck or
// failed session does not cancel the others; the error of each job is
// carried in its result.
func (p *Pool) Run(ctx context.Context, jobs []Job) []JobResult {
	results := make([]JobResult, len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	var mu sync.Mutex
	for i, job := range jobs {
		g.Go(func() error {
			logging.Refiner("pool: starting %s", job.Name)
			outcome, err := p.refiner.Refine(gctx, job.Code)

			mu.Lock()
			results[i] = JobResult{Name: job.Name, Outcome: outcome, Err: err}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return results
}
