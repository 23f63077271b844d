// Package sandbox provides isolated execution of a VM provider CLI.
//
// The sandbox package implements the execution engine for driving an external
// virtualization management tool (such as VBoxManage) from automated tests.
// An Environment owns a private workspace with its own home and work
// directories, injects a home-directory override and the provider's home
// variable into every command it runs, and tears down leftover virtual
// machines when it is closed.
//
// The Executor underneath spawns one child process per call, streams its
// stdout and stderr as they become ready, enforces a wall-clock timeout for
// the whole lifetime of the call, and reports a timeout as an explicit
// *TimeoutError carrying the still-running process, leaving termination to
// the caller.
//
// Usage:
//
//	env, err := sandbox.NewEnvironment(logger, sandbox.Config{})
//	result, err := env.Execute(ctx, "VBoxManage", []string{"list", "vms"},
//	    sandbox.ExecOpts{Timeout: 10 * time.Second})
//	defer env.Close(ctx)
package sandbox
