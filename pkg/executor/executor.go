// Package executor runs bytecode programs on behalf of the service layers.
//
// It ties the interpreter to the program store and the run journal:
//   - ad-hoc runs of raw bytecode, optionally saving the program
//   - runs of stored programs by ID
//   - concurrent batches bounded by a worker limit
//
// Every run gets a fresh interpreter state, so runs never share memory.
package executor

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/fortiblox/bci/internal/types"
	"github.com/fortiblox/bci/pkg/programstore"
	"github.com/fortiblox/bci/pkg/runlog"
	"github.com/fortiblox/bci/pkg/vm"
	"golang.org/x/sync/errgroup"
)

// Executor errors.
var (
	ErrNoStore         = errors.New("no program store configured")
	ErrProgramNotFound = errors.New("program not found")
)

// DefaultMaxSteps bounds service runs when no limit is configured.
const DefaultMaxSteps = 10_000_000

// ProgramSource looks up stored programs.
type ProgramSource interface {
	Get(id types.ProgramID) (*programstore.Program, error)
	Put(code []byte, name string) (types.ProgramID, error)
}

// Journal records finished runs.
type Journal interface {
	Append(r *runlog.Record) (uint64, error)
}

// Config holds executor configuration.
type Config struct {
	// MaxSteps bounds each run. Zero means no limit.
	MaxSteps uint64

	// Permissive truncates oversized programs instead of faulting.
	Permissive bool

	// Workers bounds the number of concurrent runs in RunBatch.
	Workers int

	// KeepOutput stores printed lines in journal records, not just their
	// digest.
	KeepOutput bool
}

// DefaultConfig returns the default executor configuration.
func DefaultConfig() Config {
	return Config{
		MaxSteps:   DefaultMaxSteps,
		Workers:    runtime.NumCPU(),
		KeepOutput: true,
	}
}

// RunOptions adjusts a single run.
type RunOptions struct {
	// MaxSteps overrides Config.MaxSteps when non-zero. It can only lower
	// the configured limit.
	MaxSteps uint64

	// Save stores the program before running it.
	Save bool

	// Name labels a saved program.
	Name string
}

// Result is the outcome of one run.
type Result struct {
	// RunID is the journal ID, or zero when no journal is configured.
	RunID uint64

	ProgramID types.ProgramID
	Outcome   *vm.Outcome
	StartedAt time.Time
	Duration  time.Duration
}

// Stats contains executor counters.
type Stats struct {
	Runs      uint64
	Completed uint64
	Faulted   uint64
	Steps     uint64
}

// Executor runs programs.
type Executor struct {
	config  Config
	store   ProgramSource
	journal Journal

	runs      atomic.Uint64
	completed atomic.Uint64
	faulted   atomic.Uint64
	steps     atomic.Uint64
}

// New creates an executor. store and journal may be nil; without a store
// RunStored and saving fail with ErrNoStore, and without a journal runs are
// not recorded.
func New(config Config, store ProgramSource, journal Journal) *Executor {
	if config.Workers <= 0 {
		config.Workers = 1
	}
	return &Executor{
		config:  config,
		store:   store,
		journal: journal,
	}
}

// Config returns the executor configuration.
func (e *Executor) Config() Config {
	return e.config
}

// Run executes raw bytecode with default options.
func (e *Executor) Run(ctx context.Context, code []byte) (*Result, error) {
	return e.RunWith(ctx, code, RunOptions{})
}

// RunWith executes raw bytecode. Faults are reported in the result's
// Outcome; the returned error covers only store and journal failures.
func (e *Executor) RunWith(ctx context.Context, code []byte, opts RunOptions) (*Result, error) {
	id := types.ProgramIDFromCode(code)
	if opts.Save {
		if e.store == nil {
			return nil, ErrNoStore
		}
		var err error
		if id, err = e.store.Put(code, opts.Name); err != nil {
			return nil, fmt.Errorf("save program: %w", err)
		}
	}
	return e.execute(ctx, id, code, opts.MaxSteps)
}

// RunStored executes a stored program by ID.
func (e *Executor) RunStored(ctx context.Context, id types.ProgramID) (*Result, error) {
	return e.RunStoredWith(ctx, id, RunOptions{})
}

// RunStoredWith executes a stored program by ID with per-run options.
func (e *Executor) RunStoredWith(ctx context.Context, id types.ProgramID, opts RunOptions) (*Result, error) {
	if e.store == nil {
		return nil, ErrNoStore
	}
	prog, err := e.store.Get(id)
	if errors.Is(err, programstore.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrProgramNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load program %s: %w", id, err)
	}
	return e.execute(ctx, id, prog.Code, opts.MaxSteps)
}

// RunBatch executes programs concurrently, at most Config.Workers at a
// time. Results are returned in input order. The first store or journal
// error is returned alongside whatever results completed.
func (e *Executor) RunBatch(ctx context.Context, programs [][]byte) ([]*Result, error) {
	results := make([]*Result, len(programs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.config.Workers)
	for i, code := range programs {
		i, code := i, code
		g.Go(func() error {
			res, err := e.Run(gctx, code)
			results[i] = res
			return err
		})
	}
	return results, g.Wait()
}

// Stats returns a snapshot of the executor counters.
func (e *Executor) Stats() Stats {
	return Stats{
		Runs:      e.runs.Load(),
		Completed: e.completed.Load(),
		Faulted:   e.faulted.Load(),
		Steps:     e.steps.Load(),
	}
}

func (e *Executor) execute(ctx context.Context, id types.ProgramID, code []byte, maxSteps uint64) (*Result, error) {
	limit := e.config.MaxSteps
	if maxSteps > 0 && (limit == 0 || maxSteps < limit) {
		limit = maxSteps
	}

	it := vm.NewInterpreter(vm.Options{
		MaxSteps:   limit,
		Permissive: e.config.Permissive,
	})

	started := time.Now()
	out := it.Run(ctx, code)
	res := &Result{
		ProgramID: id,
		Outcome:   out,
		StartedAt: started,
		Duration:  time.Since(started),
	}

	e.runs.Add(1)
	e.steps.Add(out.Steps)
	if out.Completed() {
		e.completed.Add(1)
	} else {
		e.faulted.Add(1)
	}

	if e.journal == nil {
		return res, nil
	}
	rec := runlog.NewRecord(id, out, started, e.config.KeepOutput)
	rec.Duration = res.Duration
	runID, err := e.journal.Append(rec)
	if err != nil {
		return res, fmt.Errorf("journal run: %w", err)
	}
	res.RunID = runID
	return res, nil
}
