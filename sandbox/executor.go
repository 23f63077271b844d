package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
)

// readChunkSize is the buffer size for one read from a child stream.
const readChunkSize = 4096

// Executor runs child processes, multiplexing their standard streams and
// enforcing a wall-clock timeout for the entire lifetime of the call.
type Executor struct {
	logger       *zap.Logger
	spawner      Spawner
	waitInterval time.Duration
	pollInterval time.Duration
}

// ExecutorOption defines a functional option for Executor
type ExecutorOption func(*Executor)

// WithSpawner sets the Spawner for Executor
func WithSpawner(spawner Spawner) ExecutorOption {
	return func(e *Executor) {
		e.spawner = spawner
	}
}

// NewExecutor creates a new Executor with default implementations and optional interfaces
func NewExecutor(logger *zap.Logger, cfg Config, opts ...ExecutorOption) *Executor {
	cfg.defaults()

	executor := &Executor{
		logger:       logger,
		spawner:      OSSpawner{}, // Default implementation
		waitInterval: cfg.WaitInterval,
		pollInterval: cfg.PollInterval,
	}

	for _, opt := range opts {
		opt(executor)
	}

	return executor
}

// chunk is one unit of output read from a child stream. An eof chunk is the
// explicit "no more data" sentinel for its stream.
type chunk struct {
	stream StreamName
	data   []byte
	eof    bool
}

// Run spawns the process described by spec and blocks until it has exited,
// returning its exit status and accumulated output.
//
// Execution has two phases. During the streaming phase, a single control loop
// waits on one shared channel fed by the stream readers, bounded by the
// configured timeout (or the default wait interval when unbounded), appending
// each chunk in arrival order and probing non-blockingly for process exit
// after every iteration. Once both streams have reached end-of-stream, the
// draining phase polls for exit with short sleeps. Both phases share the same
// timeout check, so elapsed time is enforced for the entire call.
//
// On timeout, Run returns a *TimeoutError carrying the still-running process;
// it never kills the process itself. Context cancellation is likewise
// cooperative: it is observed between iterations and leaves the child alive.
func (e *Executor) Run(ctx context.Context, spec Spec) (Result, error) {
	proc, err := e.spawner.Spawn(spec)
	if err != nil {
		return Result{}, fmt.Errorf("could not spawn %s: %w", spec.Command, err)
	}

	start := time.Now()
	e.logger.Debug("process started",
		zap.String("command", spec.Command),
		zap.Strings("args", spec.Args),
		zap.Int("pid", proc.PID()))

	go feedStdin(proc.Stdin(), spec.Stdin)

	// The stdin pipe is writable as soon as the child is running.
	if spec.OnEvent != nil {
		spec.OnEvent(Event{Stream: StreamStdin})
	}

	// quit releases the readers when Run abandons the process on timeout
	// or cancellation.
	quit := make(chan struct{})
	defer close(quit)

	chunks := make(chan chunk)
	go readStream(StreamStdout, proc.Stdout(), chunks, quit)
	go readStream(StreamStderr, proc.Stderr(), chunks, quit)

	wait := e.waitInterval
	if spec.Timeout > 0 {
		wait = spec.Timeout
	}

	var stdout, stderr bytes.Buffer
	exitStatus := 0
	exited := false
	open := 2

	// Streaming phase: runs until both streams reach end-of-stream. The
	// exit status is recorded as soon as the probe reports it, but the
	// loop keeps reading so no tail output is lost.
	for open > 0 {
		if err := e.checkBudget(ctx, proc, start, spec.Timeout); err != nil {
			return Result{}, err
		}

		select {
		case c := <-chunks:
			if c.eof {
				open--
				break
			}
			switch c.stream {
			case StreamStdout:
				stdout.Write(c.data)
			case StreamStderr:
				stderr.Write(c.data)
			}
			if spec.OnEvent != nil {
				spec.OnEvent(Event{Stream: c.stream, Data: c.data})
			}
		case <-time.After(wait):
		}

		if !exited {
			if status, ok := proc.ExitState(); ok {
				exitStatus, exited = status, true
			}
		}
	}

	// Draining phase: the streams are done but the process may take time
	// to fully exit. Keep probing so the timeout stays enforceable.
	for !exited {
		if err := e.checkBudget(ctx, proc, start, spec.Timeout); err != nil {
			return Result{}, err
		}
		if status, ok := proc.ExitState(); ok {
			exitStatus, exited = status, true
			break
		}
		time.Sleep(e.pollInterval)
	}

	e.logger.Debug("process exited",
		zap.String("command", spec.Command),
		zap.Int("pid", proc.PID()),
		zap.Int("exit_status", exitStatus),
		zap.Duration("elapsed", time.Since(start)))

	return Result{
		ExitStatus: exitStatus,
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
	}, nil
}

// checkBudget is the single timeout/cancellation check shared by both phases.
func (e *Executor) checkBudget(ctx context.Context, proc Process, start time.Time, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if timeout <= 0 {
		return nil
	}
	if elapsed := time.Since(start); elapsed > timeout {
		e.logger.Warn("process exceeded timeout",
			zap.Int("pid", proc.PID()),
			zap.Duration("timeout", timeout),
			zap.Duration("elapsed", elapsed))
		return &TimeoutError{Process: proc, Elapsed: elapsed}
	}
	return nil
}

// readStream reads r until end-of-stream, delivering every chunk and a final
// eof sentinel. Per-stream order is the read order; cross-stream interleaving
// is at the granularity of one control-loop iteration.
func readStream(name StreamName, r io.ReadCloser, out chan<- chunk, quit <-chan struct{}) {
	defer r.Close()

	buf := make([]byte, readChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			select {
			case out <- chunk{stream: name, data: data}:
			case <-quit:
				return
			}
		}
		if err != nil {
			select {
			case out <- chunk{stream: name, eof: true}:
			case <-quit:
			}
			return
		}
	}
}

// feedStdin copies the optional input to the child and closes the pipe so the
// child sees end-of-input.
func feedStdin(w io.WriteCloser, in io.Reader) {
	if in != nil {
		_, _ = io.Copy(w, in)
	}
	_ = w.Close()
}
