package sandbox

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
)

// machineLine matches one line of the provider's machine listing: a quoted
// display name followed by a brace-delimited identifier, e.g.
//
//	"my-vm" {1234-uuid}
//
// Lines not matching the pattern are ignored.
var machineLine = regexp.MustCompile(`^"(.+)" \{(.+)\}$`)

// parseMachineList extracts the machines from the listing command's standard
// output, in listing order.
func parseMachineList(output string) []Machine {
	var machines []Machine
	for _, line := range strings.Split(output, "\n") {
		m := machineLine.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		machines = append(machines, Machine{Name: m[1], UUID: m[2]})
	}
	return machines
}

// ListMachines returns the virtual machines the provider currently knows
// about in this environment.
func (env *Environment) ListMachines(ctx context.Context) ([]Machine, error) {
	res, err := env.Execute(ctx, env.cfg.ProviderCommand, []string{"list", "vms"}, ExecOpts{})
	if err != nil {
		return nil, fmt.Errorf("could not list machines: %w", err)
	}
	if !res.Succeeded() {
		return nil, &CleanupError{Step: "list", Result: res}
	}
	return parseMachineList(res.Stdout), nil
}

// CleanupMachines ensures no virtual machine outlives this environment: it
// lists the provider's machines and, sequentially in listing order, powers
// each one off and unregister-deletes it.
//
// A power-off that exceeds its short timeout is assumed to have taken effect
// despite the hang: the hung process is killed and reaped, and deletion
// proceeds anyway. Any command exiting non-zero is fatal and aborts the
// remainder of the routine, since a hung or partially-deleted machine needs
// operator attention rather than a retry.
func (env *Environment) CleanupMachines(ctx context.Context) error {
	machines, err := env.ListMachines(ctx)
	if err != nil {
		return err
	}

	for _, machine := range machines {
		env.logger.Info("powering off machine",
			zap.String("name", machine.Name),
			zap.String("uuid", machine.UUID))

		res, err := env.Execute(ctx, env.cfg.ProviderCommand,
			[]string{"controlvm", machine.UUID, "poweroff"},
			ExecOpts{Timeout: env.cfg.PoweroffTimeout})

		var timeoutErr *TimeoutError
		switch {
		case errors.As(err, &timeoutErr):
			env.logger.Warn("power off hung, killing process",
				zap.String("name", machine.Name),
				zap.Int("pid", timeoutErr.PID()))
			if killErr := timeoutErr.Process.Kill(); killErr != nil {
				return fmt.Errorf("could not kill hung power off of machine %q: %w", machine.Name, killErr)
			}
			timeoutErr.Process.Wait()
		case err != nil:
			return fmt.Errorf("could not power off machine %q: %w", machine.Name, err)
		case !res.Succeeded():
			return &CleanupError{Machine: machine, Step: "poweroff", Result: res}
		}

		// Let the provider settle before unregistering.
		time.Sleep(env.cfg.PollInterval)

		env.logger.Info("deleting machine",
			zap.String("name", machine.Name),
			zap.String("uuid", machine.UUID))

		res, err = env.Execute(ctx, env.cfg.ProviderCommand,
			[]string{"unregistervm", machine.UUID, "--delete"}, ExecOpts{})
		if err != nil {
			return fmt.Errorf("could not delete machine %q: %w", machine.Name, err)
		}
		if !res.Succeeded() {
			return &CleanupError{Machine: machine, Step: "delete", Result: res}
		}
	}

	return nil
}
