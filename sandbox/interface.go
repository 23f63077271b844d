// Package sandbox provides isolated execution of a VM provider CLI.
//
// The sandbox package implements the execution engine for driving an external
// virtualization management tool from automated tests. An Environment owns a
// private workspace (home and work directories) plus environment-variable
// overrides, the Executor runs one child process at a time while streaming its
// output and enforcing a wall-clock timeout, and the cleanup routine tears
// down any virtual machines a session left behind.
package sandbox

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// StreamName identifies one of the three standard streams of a child process.
type StreamName string

// Stream name constants
const (
	StreamStdout StreamName = "stdout"
	StreamStderr StreamName = "stderr"
	StreamStdin  StreamName = "stdin"
)

// Event is delivered to an optional per-execution callback as output arrives.
// For StreamStdout and StreamStderr, Data holds the chunk that was just read.
// For StreamStdin, Data is empty; the event reports that the child's stdin is
// ready to be written.
type Event struct {
	Stream StreamName
	Data   []byte
}

// Spec describes a single child process execution.
type Spec struct {
	Command string
	Args    []string
	Env     []string // full child environment in "KEY=value" form
	Dir     string
	Timeout time.Duration // zero means unbounded
	Stdin   io.Reader     // optional; copied to the child's stdin, then closed
	OnEvent func(Event)   // optional live-output callback
}

// Result represents the outcome of a completed (non-timed-out) execution.
// It is immutable once constructed.
type Result struct {
	ExitStatus int
	Stdout     string
	Stderr     string
}

// Succeeded reports whether the process exited with status zero.
func (r Result) Succeeded() bool {
	return r.ExitStatus == 0
}

// TimeoutError reports that a process outlived its wall-clock budget. It
// carries the still-running process so the caller can kill and reap it, and
// it never terminates the process itself.
type TimeoutError struct {
	Process Process
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("process %d still running after %s", e.Process.PID(), e.Elapsed)
}

// PID returns the identifier of the still-running process.
func (e *TimeoutError) PID() int {
	return e.Process.PID()
}

// Machine is one virtual machine reported by the provider's listing command.
type Machine struct {
	Name string
	UUID string
}

// CleanupError reports a provider command that exited non-zero during machine
// cleanup. It is distinguishable from workspace-removal errors so callers can
// tell "VM still exists" apart from "could not delete temp files".
type CleanupError struct {
	Machine Machine
	Step    string
	Result  Result
}

func (e *CleanupError) Error() string {
	detail := strings.TrimSpace(e.Result.Stderr)
	if e.Machine.UUID == "" {
		return fmt.Sprintf("cleanup %s failed with exit status %d: %s", e.Step, e.Result.ExitStatus, detail)
	}
	return fmt.Sprintf("cleanup %s of machine %q failed with exit status %d: %s",
		e.Step, e.Machine.Name, e.Result.ExitStatus, detail)
}

// Process is a narrow handle on a spawned child process.
type Process interface {
	// PID returns the operating system process identifier.
	PID() int
	// Stdout returns the readable end of the child's standard output.
	Stdout() io.ReadCloser
	// Stderr returns the readable end of the child's standard error.
	Stderr() io.ReadCloser
	// Stdin returns the writable end of the child's standard input.
	Stdin() io.WriteCloser
	// ExitState non-blockingly probes whether the child has exited,
	// returning its exit status when it has.
	ExitState() (int, bool)
	// Wait blocks until the child has exited and been reaped, returning
	// its exit status.
	Wait() int
	// Kill forcibly terminates the child.
	Kill() error
}

// Spawner starts child processes. It exists so tests can substitute a double
// for the operating system.
type Spawner interface {
	Spawn(spec Spec) (Process, error)
}

// FileSystem defines the workspace operations the sandbox needs
type FileSystem interface {
	MkdirTemp(dir, pattern string) (string, error)
	MkdirAll(path string, perm os.FileMode) error
	RemoveAll(path string) error
}

// RealFileSystem implements FileSystem using actual file system operations
type RealFileSystem struct{}

func (RealFileSystem) MkdirTemp(dir, pattern string) (string, error) {
	return os.MkdirTemp(dir, pattern)
}

func (RealFileSystem) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

func (RealFileSystem) RemoveAll(path string) error {
	return os.RemoveAll(path)
}

// DirPermission is the mode for workspace directories.
const DirPermission = 0755

// Config holds the sandbox settings shared by the Environment and Executor.
type Config struct {
	// ProviderCommand is the provider management CLI, e.g. "VBoxManage".
	ProviderCommand string
	// ProviderHomeEnv is the provider's home-directory variable, e.g.
	// "VBOX_USER_HOME". It is pointed at the sandbox home directory.
	ProviderHomeEnv string
	// PoweroffTimeout bounds each power-off command during cleanup.
	PoweroffTimeout time.Duration
	// WaitInterval bounds one readiness wait when no timeout is set.
	WaitInterval time.Duration
	// PollInterval is the sleep between exit probes while draining and the
	// settle pause between cleanup steps.
	PollInterval time.Duration
}

// Default sandbox settings, applied for zero-valued Config fields.
const (
	DefaultProviderCommand = "VBoxManage"
	DefaultProviderHomeEnv = "VBOX_USER_HOME"
	DefaultPoweroffTimeout = 5 * time.Second
	DefaultWaitInterval    = 5 * time.Second
	DefaultPollInterval    = 500 * time.Millisecond
)

func (c *Config) defaults() {
	if c.ProviderCommand == "" {
		c.ProviderCommand = DefaultProviderCommand
	}
	if c.ProviderHomeEnv == "" {
		c.ProviderHomeEnv = DefaultProviderHomeEnv
	}
	if c.PoweroffTimeout <= 0 {
		c.PoweroffTimeout = DefaultPoweroffTimeout
	}
	if c.WaitInterval <= 0 {
		c.WaitInterval = DefaultWaitInterval
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
}
