package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

var (
	// ErrCycle is returned when task dependencies form a cycle.
	ErrCycle = errors.New("task dependencies form a cycle")
	// ErrExecutorPanic wraps a panic raised by a task executor.
	ErrExecutorPanic = errors.New("agent failed unexpectedly")
)

// Mode selects how independent tasks are scheduled.
type Mode string

const (
	// Sequential runs one task at a time in dependency order; each task sees
	// the outputs of every task that finished before it.
	Sequential Mode = "sequential"
	// Parallel starts each task once its declared dependencies are done.
	Parallel Mode = "parallel"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case Sequential:
		return Sequential, nil
	case Parallel:
		return Parallel, nil
	}
	return "", fmt.Errorf("unknown mode %q (want %s or %s)", s, Parallel, Sequential)
}

// TaskError wraps the failure of one task.
type TaskError struct {
	TaskID string
	Err    error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %q failed: %v", e.TaskID, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

// Graph is a validated set of tasks.
type Graph struct {
	tasks  []Task
	index  map[string]int
	order  []int // topological, ties broken by declaration order
	logger *slog.Logger
}

// NewGraph validates tasks: IDs must be unique and non-empty, every
// dependency must name a task, every task needs an executor, and the
// dependencies must be acyclic.
func NewGraph(tasks []Task, logger *slog.Logger) (*Graph, error) {
	if len(tasks) == 0 {
		return nil, fmt.Errorf("graph has no tasks")
	}
	if logger == nil {
		logger = slog.Default()
	}

	g := &Graph{
		tasks:  append([]Task(nil), tasks...),
		index:  make(map[string]int, len(tasks)),
		logger: logger,
	}
	for i, t := range g.tasks {
		if t.ID == "" {
			return nil, fmt.Errorf("task %d has no ID", i)
		}
		if _, dup := g.index[t.ID]; dup {
			return nil, fmt.Errorf("duplicate task ID %q", t.ID)
		}
		if t.Executor == nil {
			return nil, fmt.Errorf("task %q has no executor", t.ID)
		}
		g.index[t.ID] = i
	}
	for _, t := range g.tasks {
		for _, dep := range t.DependsOn {
			if _, ok := g.index[dep]; !ok {
				return nil, fmt.Errorf("task %q depends on unknown task %q", t.ID, dep)
			}
			if dep == t.ID {
				return nil, fmt.Errorf("task %q depends on itself: %w", t.ID, ErrCycle)
			}
		}
	}

	order, err := g.topoSort()
	if err != nil {
		return nil, err
	}
	g.order = order
	return g, nil
}

// topoSort is Kahn's algorithm, always picking the earliest declared ready
// task so sequential runs are deterministic.
func (g *Graph) topoSort() ([]int, error) {
	pending := make([]int, len(g.tasks))
	dependents := make([][]int, len(g.tasks))
	for i, t := range g.tasks {
		pending[i] = len(t.DependsOn)
		for _, dep := range t.DependsOn {
			d := g.index[dep]
			dependents[d] = append(dependents[d], i)
		}
	}

	done := make([]bool, len(g.tasks))
	order := make([]int, 0, len(g.tasks))
	for len(order) < len(g.tasks) {
		next := -1
		for i := range g.tasks {
			if !done[i] && pending[i] == 0 {
				next = i
				break
			}
		}
		if next < 0 {
			var stuck []string
			for i, t := range g.tasks {
				if !done[i] {
					stuck = append(stuck, t.ID)
				}
			}
			return nil, fmt.Errorf("%w: %s", ErrCycle, strings.Join(stuck, ", "))
		}
		done[next] = true
		order = append(order, next)
		for _, d := range dependents[next] {
			pending[d]--
		}
	}
	return order, nil
}

// Order returns task IDs in the order a sequential run executes them.
func (g *Graph) Order() []string {
	ids := make([]string, len(g.order))
	for i, idx := range g.order {
		ids[i] = g.tasks[idx].ID
	}
	return ids
}

// Run executes every task and returns the outputs in topological order.
// The first task error cancels the rest and is returned as a *TaskError.
func (g *Graph) Run(ctx context.Context, mode Mode, inputs map[string]string) ([]Output, error) {
	switch mode {
	case Sequential:
		return g.runSequential(ctx, inputs)
	case Parallel:
		return g.runParallel(ctx, inputs)
	default:
		return nil, fmt.Errorf("unknown mode %q", mode)
	}
}

func (g *Graph) runSequential(ctx context.Context, inputs map[string]string) ([]Output, error) {
	outputs := make([]Output, 0, len(g.tasks))
	for _, idx := range g.order {
		if err := ctx.Err(); err != nil {
			return outputs, err
		}
		out, err := g.execute(ctx, g.tasks[idx], inputs, append([]Output(nil), outputs...))
		if err != nil {
			return outputs, err
		}
		outputs = append(outputs, out)
	}
	return outputs, nil
}

func (g *Graph) runParallel(ctx context.Context, inputs map[string]string) ([]Output, error) {
	eg, egCtx := errgroup.WithContext(ctx)

	done := make([]chan struct{}, len(g.tasks))
	for i := range done {
		done[i] = make(chan struct{})
	}

	var mu sync.Mutex
	results := make([]Output, len(g.tasks))

	for i := range g.tasks {
		eg.Go(func() error {
			task := g.tasks[i]
			for _, dep := range task.DependsOn {
				select {
				case <-done[g.index[dep]]:
				case <-egCtx.Done():
					return egCtx.Err()
				}
			}

			upstream := make([]Output, 0, len(task.DependsOn))
			mu.Lock()
			for _, dep := range task.DependsOn {
				upstream = append(upstream, results[g.index[dep]])
			}
			mu.Unlock()

			out, err := g.execute(egCtx, task, inputs, upstream)
			if err != nil {
				return err
			}

			mu.Lock()
			results[i] = out
			mu.Unlock()
			close(done[i])
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}

	outputs := make([]Output, 0, len(g.tasks))
	for _, idx := range g.order {
		outputs = append(outputs, results[idx])
	}
	return outputs, nil
}

func (g *Graph) execute(ctx context.Context, task Task, inputs map[string]string, upstream []Output) (Output, error) {
	pc := PromptContext{
		TaskID:         task.ID,
		Description:    task.Description,
		ExpectedOutput: task.expectedOutput(),
		Inputs:         inputs,
		Upstream:       upstream,
	}

	g.logger.Debug("Starting task", "task", task.ID, "upstream", len(upstream))
	start := time.Now()

	out, err := g.invoke(ctx, task, pc)
	if err != nil {
		g.logger.Warn("Task failed", "task", task.ID, "error", err, "duration", time.Since(start))
		return Output{}, &TaskError{TaskID: task.ID, Err: err}
	}
	if out.TaskID == "" {
		out.TaskID = task.ID
	}

	g.logger.Info("Task completed", "task", task.ID, "agent", out.Agent, "tool_calls", out.ToolCalls, "duration", time.Since(start))
	return out, nil
}

// invoke runs the task executor and reports a panic as ErrExecutorPanic.
func (g *Graph) invoke(ctx context.Context, task Task, pc PromptContext) (out Output, err error) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("Recovered panic in task executor", "task", task.ID, "panic", r)
			out, err = Output{}, fmt.Errorf("%w: %v", ErrExecutorPanic, r)
		}
	}()
	return task.Executor.Execute(ctx, pc)
}
