// Package daemon starts detached background processes.
package daemon

import (
	"fmt"
	"os"
	"os/exec"
)

// Start launches path with args in a new session, detached from the
// caller's terminal, with its standard streams on the null device. env
// replaces the child's environment when non-nil. It returns the child pid.
func Start(path string, args, env []string) (int, error) {
	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", os.DevNull, err)
	}
	defer devNull.Close()

	cmd := exec.Command(path, args...)
	cmd.Env = env
	cmd.Stdin = devNull
	cmd.Stdout = devNull
	cmd.Stderr = devNull
	detach(cmd)

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to start %s: %w", path, err)
	}

	pid := cmd.Process.Pid
	// Reap the child if it exits while the caller is still running
	go func() {
		_ = cmd.Wait()
	}()
	return pid, nil
}
