// Package notify runs the side effects that follow an issued invoice. Each one is
// an isolated Task: a failure is logged and escalated but never reaches the caller
// or the other tasks.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

const defaultConcurrency = 4

// Task is one independent notification. OnFailure is optional.
type Task struct {
	Name      string
	Timeout   time.Duration
	Run       func(ctx context.Context) error
	OnFailure func(ctx context.Context, err error)
}

// Result is the outcome of one Task. Err is a *NotificationError on failure.
type Result struct {
	Name     string
	Err      error
	Duration time.Duration
}

// NotificationError is a contained failure of a single channel.
type NotificationError struct {
	Channel string
	Err     error
}

func (e *NotificationError) Error() string {
	return fmt.Sprintf("notification %s failed: %v", e.Channel, e.Err)
}

func (e *NotificationError) Unwrap() error { return e.Err }

type Dispatcher struct {
	timeout     time.Duration
	concurrency int
	log         zerolog.Logger
}

// NewDispatcher returns a dispatcher whose tasks default to timeout when they set none.
func NewDispatcher(timeout time.Duration, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{timeout: timeout, concurrency: defaultConcurrency, log: log}
}

// Run executes tasks concurrently and waits for all of them. Tasks run on a context
// detached from ctx's cancellation, each bounded by its own timeout.
func (d *Dispatcher) Run(ctx context.Context, tasks []Task) []Result {
	base := context.WithoutCancel(ctx)
	results := make([]Result, len(tasks))

	var g errgroup.Group
	g.SetLimit(d.concurrency)
	for i, task := range tasks {
		g.Go(func() error {
			results[i] = d.runOne(base, task)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (d *Dispatcher) runOne(base context.Context, task Task) Result {
	log := d.log.With().Str("channel", task.Name).Logger()
	start := time.Now()

	err := d.attempt(base, task)
	res := Result{Name: task.Name, Duration: time.Since(start)}
	if err == nil {
		log.Debug().Dur("duration", res.Duration).Msg("notification sent")
		return res
	}

	res.Err = &NotificationError{Channel: task.Name, Err: err}
	log.Error().Err(err).Dur("duration", res.Duration).Msg("notification failed")

	if task.OnFailure != nil {
		ctx, cancel := context.WithTimeout(base, d.timeoutFor(task))
		defer cancel()
		func() {
			defer func() {
				if p := recover(); p != nil {
					log.Error().Interface("panic", p).Msg("notification escalation panicked")
				}
			}()
			task.OnFailure(ctx, err)
		}()
	}
	return res
}

func (d *Dispatcher) attempt(base context.Context, task Task) (err error) {
	ctx, cancel := context.WithTimeout(base, d.timeoutFor(task))
	defer cancel()

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return task.Run(ctx)
}

func (d *Dispatcher) timeoutFor(task Task) time.Duration {
	if task.Timeout > 0 {
		return task.Timeout
	}
	return d.timeout
}

// Failed returns the failed results.
func Failed(results []Result) []Result {
	return lo.Filter(results, func(r Result, _ int) bool { return r.Err != nil })
}
