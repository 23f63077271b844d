package sandbox

import (
	"errors"
	"io"
	"os"
	"os/exec"
)

// OSSpawner implements Spawner using os/exec.
//
// The parent keeps its own pipe ends for all three streams and closes the
// child's ends right after the fork, so the readers see end-of-stream exactly
// when the child stops producing output, independent of when the process is
// reaped.
type OSSpawner struct{}

// Spawn starts the process described by spec and returns its handle.
func (OSSpawner) Spawn(spec Spec) (Process, error) {
	cmd := exec.Command(spec.Command, spec.Args...) //nolint:gosec // Running caller-chosen commands is the point of the sandbox
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdoutR.Close()
		stdoutW.Close()
		return nil, err
	}
	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		stdoutR.Close()
		stdoutW.Close()
		stderrR.Close()
		stderrW.Close()
		return nil, err
	}

	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW
	cmd.Stdin = stdinR

	if err := cmd.Start(); err != nil {
		for _, f := range []*os.File{stdoutR, stdoutW, stderrR, stderrW, stdinR, stdinW} {
			f.Close()
		}
		return nil, err
	}

	// The child holds duplicates of these ends now.
	stdoutW.Close()
	stderrW.Close()
	stdinR.Close()

	p := &osProcess{
		cmd:    cmd,
		stdout: stdoutR,
		stderr: stderrR,
		stdin:  stdinW,
		done:   make(chan struct{}),
	}
	go p.reap()

	return p, nil
}

// osProcess wraps an exec.Cmd behind the Process interface. A single reaper
// goroutine calls Wait and publishes the exit status through the done channel,
// which makes ExitState a non-blocking probe.
type osProcess struct {
	cmd    *exec.Cmd
	stdout *os.File
	stderr *os.File
	stdin  *os.File

	exitStatus int
	done       chan struct{}
}

func (p *osProcess) reap() {
	err := p.cmd.Wait()
	status := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			status = exitErr.ExitCode()
		} else {
			status = -1
		}
	}
	p.exitStatus = status
	close(p.done)
}

func (p *osProcess) PID() int {
	return p.cmd.Process.Pid
}

func (p *osProcess) Stdout() io.ReadCloser {
	return p.stdout
}

func (p *osProcess) Stderr() io.ReadCloser {
	return p.stderr
}

func (p *osProcess) Stdin() io.WriteCloser {
	return p.stdin
}

func (p *osProcess) ExitState() (int, bool) {
	select {
	case <-p.done:
		return p.exitStatus, true
	default:
		return 0, false
	}
}

func (p *osProcess) Wait() int {
	<-p.done
	return p.exitStatus
}

func (p *osProcess) Kill() error {
	return p.cmd.Process.Kill()
}
