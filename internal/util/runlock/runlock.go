//go:build unix

// Package runlock serializes deployments that share a hypervisor and
// storage pool.
package runlock

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// ErrLocked is returned when another run holds the lock.
var ErrLocked = errors.New("another deployment is running against this hypervisor")

// Lock is an exclusive lock held for the duration of a run.
type Lock struct {
	file *os.File
	path string
}

// Key derives the lock name from the hypervisor URI and storage pool.
func Key(uri, pool string) string {
	sum := sha256.Sum256([]byte(uri + "\x00" + pool))
	return hex.EncodeToString(sum[:8])
}

// DefaultDir returns the per-user state directory locks live in.
func DefaultDir() (string, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve cache directory: %w", err)
	}
	return filepath.Join(dir, "vmaas", "locks"), nil
}

// Acquire takes the lock <dir>/<key>.lock without blocking. The holder's
// PID is written into the file so a refused run can name it.
func Acquire(dir, key string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory %s: %w", dir, err)
	}
	path := filepath.Join(dir, key+".lock")

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			if pid := holder(path); pid > 0 {
				return nil, fmt.Errorf("%w (pid %d holds %s)", ErrLocked, pid, path)
			}
			return nil, fmt.Errorf("%w (%s)", ErrLocked, path)
		}
		return nil, fmt.Errorf("set lock: %w", err)
	}

	if err := f.Truncate(0); err == nil {
		_, _ = f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
	}
	return &Lock{file: f, path: path}, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Release drops the lock and closes the file. The file is left in place.
func (l *Lock) Release() error {
	if err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN); err != nil {
		_ = l.file.Close()
		return fmt.Errorf("unlock: %w", err)
	}
	return l.file.Close()
}

func holder(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}
