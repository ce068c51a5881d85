package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"
)

// LockConfig controls how the file store waits for and breaks locks.
type LockConfig struct {
	// LockTimeout is how long to wait for a held lock.
	LockTimeout time.Duration
	// StaleThreshold is the age after which a held lock is considered
	// abandoned.
	StaleThreshold time.Duration
}

// DefaultLockConfig returns the default lock settings.
func DefaultLockConfig() LockConfig {
	return LockConfig{
		LockTimeout:    30 * time.Second,
		StaleThreshold: 5 * time.Minute,
	}
}

// ErrStateLocked is returned when another process holds the state lock
// past the lock timeout.
type ErrStateLocked struct {
	HolderPID int
	Hostname  string
	LockedAt  time.Time
}

func (e *ErrStateLocked) Error() string {
	return fmt.Sprintf("state file is locked by PID %d on %s since %s",
		e.HolderPID, e.Hostname, e.LockedAt.UTC().Format(time.RFC3339))
}

type lockInfo struct {
	PID      int       `json:"pid"`
	Created  time.Time `json:"created"`
	Hostname string    `json:"hostname"`
}

const lockRetryInterval = 50 * time.Millisecond

// Lock acquires the cross-process state lock using the configured timeout.
func (s *FileStore) Lock() error {
	return s.LockWithContext(context.Background())
}

// LockWithContext acquires the cross-process state lock, giving up when ctx
// is done or the lock timeout elapses.
func (s *FileStore) LockWithContext(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lockWithContext(ctx)
}

// Unlock releases the state lock.
func (s *FileStore) Unlock() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unlock()
}

func (s *FileStore) lockPath() string { return s.Path + ".lock" }

func (s *FileStore) lockWithContext(ctx context.Context) error {
	if s.lockFile != nil {
		return errors.New("state lock already held by this store")
	}
	deadline := time.Now().Add(s.lockConfig.LockTimeout)

	for {
		f, err := os.OpenFile(s.lockPath(), os.O_CREATE|os.O_RDWR, 0644)
		if err != nil {
			return fmt.Errorf("opening lock file: %w", err)
		}
		err = syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			s.writeLockInfo(f, os.Getpid())
			s.lockFile = f
			return nil
		}
		_ = f.Close()

		info := s.readLockInfo(s.lockPath())
		if info != nil && s.isStale(info) {
			_ = os.Remove(s.lockPath())
			continue
		}

		if time.Now().After(deadline) {
			if info == nil {
				return &ErrStateLocked{Hostname: "unknown"}
			}
			return &ErrStateLocked{HolderPID: info.PID, Hostname: info.Hostname, LockedAt: info.Created}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(lockRetryInterval):
		}
	}
}

func (s *FileStore) unlock() error {
	if s.lockFile == nil {
		return nil
	}
	f := s.lockFile
	s.lockFile = nil
	_ = os.Remove(s.lockPath())
	_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
	return f.Close()
}

func (s *FileStore) isStale(info *lockInfo) bool {
	host, _ := os.Hostname()
	if info.Hostname == host && !isProcessAlive(info.PID) {
		return true
	}
	return time.Since(info.Created) > s.lockConfig.StaleThreshold
}

func (s *FileStore) writeLockInfo(f *os.File, pid int) {
	host, _ := os.Hostname()
	data, err := json.Marshal(lockInfo{PID: pid, Created: time.Now(), Hostname: host})
	if err != nil {
		return
	}
	_ = f.Truncate(0)
	_, _ = f.WriteAt(data, 0)
	_ = f.Sync()
}

func (s *FileStore) readLockInfo(path string) *lockInfo {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var info lockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil
	}
	return &info
}

func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}
