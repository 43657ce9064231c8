// Package ipc implements the primary ("seamless") player backend: a
// subprocess speaking a bidirectional JSON-line protocol over a local
// Unix domain socket, in the manner of mpv's JSON IPC.
package ipc

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// connectRetryConfig is OS-dependent: Windows named pipes tend to need
// more, longer-spaced attempts than a Unix domain socket file appearing
// on disk.
type connectRetryConfig struct {
	attempts int
	delay    time.Duration
}

func defaultConnectRetry() connectRetryConfig {
	if runtime.GOOS == "windows" {
		return connectRetryConfig{attempts: 50, delay: 150 * time.Millisecond}
	}
	return connectRetryConfig{attempts: 20, delay: 100 * time.Millisecond}
}

// socketPath derives a unique IPC endpoint path rooted under the OS temp
// directory. The path is generated before the subprocess is started (so
// it can be passed as a launch argument) from the owning process's own
// pid plus a per-instance sequence number, since the child's pid is not
// known until after exec.Cmd.Start returns.
func socketPath(seq int64) string {
	return filepath.Join(os.TempDir(), fmt.Sprintf("airwave-ipc-%d-%d.sock", os.Getpid(), seq))
}

// dialWithRetry attempts to connect to a Unix domain socket at path,
// retrying per cfg until it succeeds or attempts are exhausted. mpv-like
// backends may take a moment after process start before the socket file
// exists and accepts connections.
func dialWithRetry(path string, cfg connectRetryConfig) (net.Conn, error) {
	var lastErr error
	for i := 0; i < cfg.attempts; i++ {
		conn, err := net.Dial("unix", path)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		time.Sleep(cfg.delay)
	}
	return nil, fmt.Errorf("connect to %s after %d attempts: %w", path, cfg.attempts, lastErr)
}
