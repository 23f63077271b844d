package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ExecOpts are the per-call options for Environment.Execute.
type ExecOpts struct {
	// Dir overrides the working directory; defaults to the sandbox work
	// directory.
	Dir string
	// Timeout bounds the call; zero means unbounded.
	Timeout time.Duration
	// Env is merged into the child environment below the environment's
	// own overrides.
	Env map[string]string
	// Stdin is optionally streamed to the child.
	Stdin io.Reader
	// OnEvent receives live output events.
	OnEvent func(Event)
}

// Environment is a self-contained sandbox for one logical test session:
// private home and work directories under a unique ephemeral root, plus
// environment-variable overrides and command substitutions applied to every
// command it runs.
//
// An Environment is not safe for concurrent mutation; the override and
// substitution maps are read-mostly configuration that must not be changed
// while an Execute call is in flight. Concurrent sessions use independent
// Environments, which never share a workspace root.
type Environment struct {
	id     string
	logger *zap.Logger
	cfg    Config

	fs       FileSystem
	spawner  Spawner
	executor *Executor

	root    string
	homeDir string
	workDir string

	envOverrides map[string]string
	commandSubs  map[string]string

	providerUsed bool
}

// EnvironmentOption defines a functional option for Environment
type EnvironmentOption func(*Environment)

// WithEnvironmentFileSystem sets the FileSystem for Environment
func WithEnvironmentFileSystem(fs FileSystem) EnvironmentOption {
	return func(env *Environment) {
		env.fs = fs
	}
}

// WithEnvironmentSpawner sets the Spawner for Environment
func WithEnvironmentSpawner(spawner Spawner) EnvironmentOption {
	return func(env *Environment) {
		env.spawner = spawner
	}
}

// NewEnvironment creates a new Environment: it allocates a unique ephemeral
// root, creates the home and work directories beneath it and seeds the HOME
// and provider home-directory overrides.
func NewEnvironment(logger *zap.Logger, cfg Config, opts ...EnvironmentOption) (*Environment, error) {
	cfg.defaults()

	env := &Environment{
		id:          uuid.NewString()[:8],
		cfg:         cfg,
		fs:          RealFileSystem{}, // Default implementation
		spawner:     OSSpawner{},      // Default implementation
		commandSubs: map[string]string{},
	}
	env.logger = logger.With(zap.String("environment", env.id))

	for _, opt := range opts {
		opt(env)
	}

	root, err := env.fs.MkdirTemp("", "vmbox-"+env.id+"-*")
	if err != nil {
		return nil, fmt.Errorf("could not create workspace root: %w", err)
	}
	env.root = root
	env.homeDir = filepath.Join(root, "home")
	env.workDir = filepath.Join(root, "work")

	for _, dir := range []string{env.homeDir, env.workDir} {
		if err := env.fs.MkdirAll(dir, DirPermission); err != nil {
			_ = env.fs.RemoveAll(root)
			return nil, fmt.Errorf("could not create workspace directory %s: %w", dir, err)
		}
	}

	env.envOverrides = map[string]string{
		"HOME":              env.homeDir,
		cfg.ProviderHomeEnv: env.homeDir,
	}
	env.executor = NewExecutor(env.logger, cfg, WithSpawner(env.spawner))

	env.logger.Info("environment created",
		zap.String("home_dir", env.homeDir),
		zap.String("work_dir", env.workDir))

	return env, nil
}

// ID returns the unique identifier of this environment.
func (env *Environment) ID() string {
	return env.id
}

// HomeDir returns the sandbox home directory.
func (env *Environment) HomeDir() string {
	return env.homeDir
}

// WorkDir returns the sandbox work directory.
func (env *Environment) WorkDir() string {
	return env.workDir
}

// Setenv sets an environment-variable override applied to every execution.
func (env *Environment) Setenv(key, value string) {
	env.envOverrides[key] = value
}

// ReplaceCommand substitutes path for the logical command name in every
// execution. Resolution is a pure lookup with no side effects.
func (env *Environment) ReplaceCommand(name, path string) {
	env.commandSubs[name] = path
}

func (env *Environment) resolveCommand(name string) string {
	if path, ok := env.commandSubs[name]; ok {
		return path
	}
	return name
}

// Execute runs command in this environment: the command is resolved through
// the substitution table, the working directory defaults to the sandbox work
// directory, and the environment's variable overrides are merged over the
// caller's. It returns the execution result, or a *TimeoutError when the
// configured timeout elapses first.
func (env *Environment) Execute(ctx context.Context, command string, args []string, opts ExecOpts) (Result, error) {
	if command == env.cfg.ProviderCommand {
		env.providerUsed = true
	}

	dir := opts.Dir
	if dir == "" {
		dir = env.workDir
	}

	// Later entries win in os/exec, so the order here is precedence:
	// inherited < caller < environment overrides.
	childEnv := os.Environ()
	for key, value := range opts.Env {
		childEnv = append(childEnv, key+"="+value)
	}
	for key, value := range env.envOverrides {
		childEnv = append(childEnv, key+"="+value)
	}

	return env.executor.Run(ctx, Spec{
		Command: env.resolveCommand(command),
		Args:    args,
		Env:     childEnv,
		Dir:     dir,
		Timeout: opts.Timeout,
		Stdin:   opts.Stdin,
		OnEvent: opts.OnEvent,
	})
}

// Close tears the environment down. If the provider CLI was used during this
// session it first runs the machine cleanup routine; the workspace root is
// removed afterwards regardless, so a cleanup failure still leaves a
// best-effort attempt at deleting the temporary files. Cleanup errors
// (*CleanupError) and removal errors stay distinguishable in the returned
// error. Close is expected to be called at most once.
func (env *Environment) Close(ctx context.Context) error {
	var cleanupErr error
	if env.providerUsed {
		if err := env.CleanupMachines(ctx); err != nil {
			cleanupErr = fmt.Errorf("machine cleanup failed: %w", err)
		}
	}

	var removeErr error
	if err := env.fs.RemoveAll(env.root); err != nil {
		removeErr = fmt.Errorf("could not remove workspace %s: %w", env.root, err)
	}

	env.logger.Info("environment closed",
		zap.Bool("cleanup_ran", env.providerUsed),
		zap.Bool("cleanup_failed", cleanupErr != nil))

	return errors.Join(cleanupErr, removeErr)
}
