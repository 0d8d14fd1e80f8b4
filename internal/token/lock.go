package token

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// staleAfter bounds how long a lock file may be held before a later
// acquirer treats it as abandoned by a dead process.
const staleAfter = 30 * time.Second

// lockInfo is the JSON body of a held lock file.
type lockInfo struct {
	PID       int       `json:"pid"`
	Timestamp time.Time `json:"timestamp"`
}

// FileLock serializes refresh across processes via a well-known lock file.
// Adapted from the deployment lock: same acquire/stale-cleanup shape,
// retried in a loop here instead of failing fast, since refresh callers
// want to wait for the lock rather than abort.
type FileLock struct {
	path string
	log  zerolog.Logger
}

// NewFileLock constructs a FileLock at path.
func NewFileLock(path string, log zerolog.Logger) *FileLock {
	return &FileLock{path: path, log: log}
}

// Acquire blocks until the lock is held or ctx is done.
func (l *FileLock) Acquire(ctx context.Context) error {
	for {
		if err := l.tryAcquire(); err == nil {
			return nil
		}
		select {
		case <-time.After(50 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (l *FileLock) tryAcquire() error {
	if info, err := l.check(); err == nil && info != nil {
		age := time.Since(info.Timestamp)
		if age < staleAfter && isProcessAlive(info.PID) {
			return fmt.Errorf("token lock held by pid %d (age %v)", info.PID, age)
		}
		l.log.Warn().Int("pid", info.PID).Str("age", age.String()).Msg("removing stale token lock")
		_ = os.Remove(l.path)
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0700); err != nil {
		return err
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("lock file exists: %w", err)
	}
	defer f.Close()

	info := lockInfo{PID: os.Getpid(), Timestamp: time.Now()}
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	_, err = f.Write(data)
	return err
}

// Release removes the lock file, ignoring a not-exists error.
func (l *FileLock) Release() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (l *FileLock) check() (*lockInfo, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var info lockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func isProcessAlive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscallSig0) == nil
}
