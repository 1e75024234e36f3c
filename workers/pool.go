package workers

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"
)

// ErrTaskTimeout is returned for a task that did not finish within its timeout.
type ErrTaskTimeout struct {
	Name    string
	Timeout time.Duration
}

func (e *ErrTaskTimeout) Error() string {
	return fmt.Sprintf("%s: timed out after %s", e.Name, e.Timeout)
}

// Task is one unit of work. Run must honour ctx cancellation.
type Task struct {
	Name    string
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

// Pool runs tasks with bounded concurrency. A failing, panicking or timed-out
// task never cancels its siblings; each task's error is reported separately.
type Pool struct {
	size int
}

func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{size: size}
}

// Run executes every task and returns their errors indexed like tasks.
func (p *Pool) Run(ctx context.Context, tasks []Task) []error {
	errs := make([]error, len(tasks))

	var g errgroup.Group
	g.SetLimit(p.size)

	for i, task := range tasks {
		g.Go(func() error {
			errs[i] = runTask(ctx, task)
			return nil
		})
	}
	g.Wait()

	return errs
}

func runTask(parent context.Context, task Task) error {
	if err := parent.Err(); err != nil {
		return err
	}

	ctx, cancel := parent, context.CancelFunc(func() {})
	if task.Timeout > 0 {
		ctx, cancel = context.WithTimeout(parent, task.Timeout)
	}
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("%s: panic: %v\n%s", task.Name, r, debug.Stack())
			}
		}()
		done <- task.Run(ctx)
	}()

	select {
	case err := <-done:
		if err != nil && ctx.Err() == context.DeadlineExceeded && parent.Err() == nil {
			return &ErrTaskTimeout{Name: task.Name, Timeout: task.Timeout}
		}
		return err
	case <-ctx.Done():
		if parent.Err() != nil {
			return parent.Err()
		}
		return &ErrTaskTimeout{Name: task.Name, Timeout: task.Timeout}
	}
}
