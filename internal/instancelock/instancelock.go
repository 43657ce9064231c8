// Package instancelock enforces the single-host invariant that exactly
// one airwaved process drives the playback subprocess at a time. It
// backstops the in-process adapter lock with a host-level lock file,
// dir/airwave.lock, holding the owner's pid. The lock is not keyed on the
// machine id; InstanceID separately derives a machine-stable identifier.
package instancelock

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/denisbrodbeck/machineid"
	"github.com/sirupsen/logrus"
)

// AppID namespaces the protected machine id so it never collides with
// another application's use of the same machineid library.
const AppID = "airwave"

// Lock is an acquired, exclusive instance lock. Release removes the lock
// file; a process that dies without calling Release leaves a stale file
// behind, which the next Acquire detects and reports.
type Lock struct {
	path string
}

// Acquire creates dir/airwave.lock exclusively, failing if another
// process already holds it (the file exists and its recorded pid is
// still alive). A stale lock file from a pid that's no longer running is
// reclaimed automatically.
func Acquire(dir string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("instancelock: create dir: %w", err)
	}
	path := filepath.Join(dir, "airwave.lock")

	if existingPid, err := readPid(path); err == nil {
		if processAlive(existingPid) {
			return nil, fmt.Errorf("instancelock: already running as pid %d (lock %s)", existingPid, path)
		}
		logrus.Warnf("instancelock: reclaiming stale lock from dead pid %d", existingPid)
		_ = os.Remove(path)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("instancelock: acquire %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.WriteString(strconv.Itoa(os.Getpid())); err != nil {
		return nil, fmt.Errorf("instancelock: write pid: %w", err)
	}

	return &Lock{path: path}, nil
}

// Release removes the lock file. It is safe to call once; a second call
// is a no-op error that the caller may ignore.
func (l *Lock) Release() error {
	return os.Remove(l.path)
}

func readPid(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(string(data))
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// On Unix, FindProcess always succeeds; signal 0 probes liveness
	// without actually delivering anything.
	return proc.Signal(syscall.Signal(0)) == nil
}

// InstanceID returns a machine-stable, application-namespaced identifier
// suitable for distinguishing this host's airwave instance to the chat
// ingress relay or logs, without exposing the raw hardware id.
func InstanceID() string {
	id, err := machineid.ProtectedID(AppID)
	if err != nil {
		logrus.Warnf("instancelock: machine id unavailable, falling back to hostname: %v", err)
		hostname, herr := os.Hostname()
		if herr != nil {
			return "unknown"
		}
		return hostname
	}
	return id
}
