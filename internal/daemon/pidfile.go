package daemon

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/gofrs/flock"
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

var (
	// ErrAlreadyRunning is returned when another daemon holds the PID file.
	ErrAlreadyRunning = errors.New("daemon already running")
	// ErrNotRunning is returned when no daemon is recorded in the PID file.
	ErrNotRunning = errors.New("no running daemon found")
)

// PIDFile is a PID file held under an exclusive lock for the lifetime of
// the daemon.
type PIDFile struct {
	path string
	lock *flock.Flock
	info os.FileInfo
}

// AcquirePIDFile locks path and records the current process id in it.
func AcquirePIDFile(path string) (*PIDFile, error) {
	lock := flock.New(path)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	if !locked {
		if pid, err := ReadPID(path); err == nil {
			return nil, fmt.Errorf("%w (PID %d)", ErrAlreadyRunning, pid)
		}
		return nil, ErrAlreadyRunning
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("write %s: %w", path, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	return &PIDFile{path: path, lock: lock, info: info}, nil
}

// Release removes the PID file and drops the lock. A PID file that was
// replaced since it was acquired (after Stop, by a newer daemon) is left
// alone.
func (p *PIDFile) Release() error {
	return multierr.Append(removeIfSame(p.path, p.info), p.lock.Unlock())
}

// removeIfSame removes path only while it still names the file described
// by info.
func removeIfSame(path string, info os.FileInfo) error {
	current, err := os.Lstat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if !os.SameFile(info, current) {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// ReadPID returns the process id recorded at path.
func ReadPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, ErrNotRunning
	}
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid PID file %s", path)
	}
	return pid, nil
}

// Alive reports whether a process with pid exists.
func Alive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// Stop sends SIGTERM to the daemon recorded at pidPath and removes the PID
// file. It returns the signalled pid.
func Stop(pidPath string) (int, error) {
	pid, err := ReadPID(pidPath)
	if err != nil {
		return 0, err
	}
	killErr := unix.Kill(pid, unix.SIGTERM)
	if rmErr := os.Remove(pidPath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
		return pid, rmErr
	}
	if errors.Is(killErr, unix.ESRCH) {
		return pid, fmt.Errorf("%w: PID %d is gone", ErrNotRunning, pid)
	}
	if killErr != nil {
		return pid, fmt.Errorf("signal PID %d: %w", pid, killErr)
	}
	return pid, nil
}
