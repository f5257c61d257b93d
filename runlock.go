package main

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

const (
	lockFilePermissions = 0o644
	lockDirPermissions  = 0o755
)

// lockPath derives the run lock location from the database path, so two
// invocations pointed at different databases do not block each other.
func lockPath(dbPath string) string {
	return dbPath + ".lock"
}

// acquireRunLock takes an exclusive flock on the lock file and writes the
// current PID into it for operators inspecting a stuck lock. Returns a
// cleanup function that removes the file and releases the lock. If the lock
// is held, another sync or audit against the same database is running.
func acquireRunLock(path string) (cleanup func(), err error) {
	if path == "" {
		return nil, fmt.Errorf("lock file path is empty")
	}

	dir := filepath.Dir(path)
	if mkdirErr := os.MkdirAll(dir, lockDirPermissions); mkdirErr != nil {
		return nil, fmt.Errorf("creating lock file directory: %w", mkdirErr)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, lockFilePermissions)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}

	// Non-blocking exclusive lock — fails immediately if another process
	// holds it.
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()

		return nil, fmt.Errorf("another run is already using this database (could not lock %s)", path)
	}

	if err := f.Truncate(0); err != nil {
		f.Close()

		return nil, fmt.Errorf("truncating lock file: %w", err)
	}

	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		f.Close()

		return nil, fmt.Errorf("writing lock file: %w", err)
	}

	return func() {
		os.Remove(path)
		f.Close()
	}, nil
}
