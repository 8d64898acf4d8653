package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

// DetachOptions describes how to start the daemon in the background.
type DetachOptions struct {
	// Args are passed to a fresh copy of the current executable.
	Args []string
	// Env is appended to the current environment.
	Env        []string
	StdoutFile string
	StderrFile string
}

// Detach starts the current executable with opts.Args in a new session,
// working directory "/", stdout and stderr redirected to files. It returns
// the child's pid without waiting for it.
func Detach(opts DetachOptions) (int, error) {
	exe, err := os.Executable()
	if err != nil {
		return 0, fmt.Errorf("locate executable: %w", err)
	}

	stdout, err := os.Create(opts.StdoutFile)
	if err != nil {
		return 0, fmt.Errorf("create stdout file: %w", err)
	}
	defer stdout.Close()
	stderr, err := os.Create(opts.StderrFile)
	if err != nil {
		return 0, fmt.Errorf("create stderr file: %w", err)
	}
	defer stderr.Close()

	cmd := exec.Command(exe, opts.Args...)
	cmd.Env = append(os.Environ(), opts.Env...)
	cmd.Dir = "/"
	cmd.Stdin = nil
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start daemon: %w", err)
	}
	pid := cmd.Process.Pid
	return pid, cmd.Process.Release()
}
