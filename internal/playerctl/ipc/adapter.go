package ipc

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"tryffel.net/go/airwave/internal/eventbus"
	"tryffel.net/go/airwave/internal/model"
	"tryffel.net/go/airwave/internal/playerctl"
)

// BinaryName is the executable this backend probes for and launches.
const BinaryName = "mpv"

var instanceSeq int64

// Adapter is the primary ("seamless") backend: it drives BinaryName over
// a JSON-line IPC socket so filter, pause, and seek changes apply without
// tearing down the subprocess.
type Adapter struct {
	bus *eventbus.Bus

	mu      sync.Mutex
	cmd     *exec.Cmd
	client  *Client
	filters string
	volume  int
	playing bool
}

// New returns an IPC-backed adapter. Construction does not launch a
// process; that happens on the first Play call.
func New(bus *eventbus.Bus) *Adapter {
	return &Adapter{bus: bus, volume: 100}
}

func (a *Adapter) Name() string { return "primary" }

// Play launches mpv (stopping any previous instance first), connects the
// IPC socket, issues loadfile at startOffsetMs, then blocks on the
// connection's event stream until end-file or a bus-driven interrupt.
func (a *Adapter) Play(ctx context.Context, filePath string, startOffsetMs int64) error {
	if err := a.Stop(); err != nil {
		logrus.Warnf("ipc adapter: stop before play: %v", err)
	}

	path, err := exec.LookPath(BinaryName)
	if err != nil {
		return model.New(model.KindBackendUnavailable, BinaryName+" not found on PATH", err)
	}

	sockPath := socketPath(atomic.AddInt64(&instanceSeq, 1))
	volume, _ := a.GetVolume()
	cmd := exec.CommandContext(ctx, path,
		"--idle=yes", "--no-terminal",
		fmt.Sprintf("--input-ipc-server=%s", sockPath),
		fmt.Sprintf("--af=%s", a.currentFilters()),
		fmt.Sprintf("--volume=%d", volume),
	)
	if err := cmd.Start(); err != nil {
		return model.New(model.KindBackendUnavailable, "launch "+BinaryName, err)
	}

	client, err := Connect(sockPath)
	if err != nil {
		_ = cmd.Process.Kill()
		return model.New(model.KindIpcDisconnect, "connect to "+BinaryName+" IPC socket", err)
	}

	a.mu.Lock()
	a.cmd = cmd
	a.client = client
	a.playing = true
	a.mu.Unlock()

	if _, err := client.Send([]interface{}{"loadfile", filePath}, playerctl.IPCRequestTimeout); err != nil {
		return model.New(model.KindIpcTimeout, "loadfile", err)
	}
	if startOffsetMs > 0 {
		if _, err := client.Send([]interface{}{"seek", float64(startOffsetMs) / 1000.0, "absolute"}, playerctl.IPCRequestTimeout); err != nil {
			logrus.Warnf("ipc adapter: seek to start offset failed: %v", err)
		}
	}
	a.bus.Publish(eventbus.PlaybackStarted, filePath)

	unsub := a.bus.Subscribe(func(e eventbus.Event) {
		a.handleBusEvent(e)
	}, eventbus.PlaybackPause, eventbus.PlaybackResume, eventbus.PlaybackSeek,
		eventbus.PlaybackSkip, eventbus.EffectsChanged)
	defer a.bus.Unsubscribe(unsub)

	reason := a.waitForEnd(client)

	a.mu.Lock()
	a.playing = false
	a.mu.Unlock()

	a.bus.Publish(eventbus.PlaybackFinished, playerctl.FinishedPayload{
		FilePath: filePath, Reason: playerctl.FinishedReason(reason),
	})
	return nil
}

func (a *Adapter) waitForEnd(client *Client) string {
	for event := range client.Events {
		if event.Name == "end-file" {
			if event.Reason == "" {
				return "ended"
			}
			return event.Reason
		}
	}
	return "error"
}

func (a *Adapter) handleBusEvent(e eventbus.Event) {
	client := a.activeClient()
	if client == nil {
		return
	}
	switch e.Topic {
	case eventbus.PlaybackPause:
		_, _ = client.Send([]interface{}{"set_property", "pause", true}, playerctl.IPCRequestTimeout)
	case eventbus.PlaybackResume:
		_, _ = client.Send([]interface{}{"set_property", "pause", false}, playerctl.IPCRequestTimeout)
	case eventbus.PlaybackSeek:
		if ms, ok := e.Payload.(int64); ok {
			_, _ = client.Send([]interface{}{"seek", float64(ms) / 1000.0, "absolute"}, playerctl.IPCRequestTimeout)
		}
	case eventbus.PlaybackSkip:
		_, _ = client.Send([]interface{}{"stop"}, playerctl.IPCRequestTimeout)
	case eventbus.EffectsChanged:
		if chain, ok := e.Payload.(string); ok {
			_ = a.UpdateFilters(chain)
		}
	}
}

func (a *Adapter) activeClient() *Client {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.client
}

func (a *Adapter) currentFilters() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.filters
}

// Stop terminates the subprocess and releases IPC resources. Idempotent.
func (a *Adapter) Stop() error {
	a.mu.Lock()
	client := a.client
	cmd := a.cmd
	a.client = nil
	a.cmd = nil
	a.playing = false
	a.mu.Unlock()

	if client != nil {
		_ = client.Close()
	}
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
		_, _ = cmd.Process.Wait()
	}
	return nil
}

func (a *Adapter) Pause() error {
	client := a.activeClient()
	if client == nil {
		return model.ErrBackendUnavailable
	}
	_, err := client.Send([]interface{}{"set_property", "pause", true}, playerctl.IPCRequestTimeout)
	return wrapTimeout(err)
}

func (a *Adapter) Resume() error {
	client := a.activeClient()
	if client == nil {
		return model.ErrBackendUnavailable
	}
	_, err := client.Send([]interface{}{"set_property", "pause", false}, playerctl.IPCRequestTimeout)
	return wrapTimeout(err)
}

func (a *Adapter) Seek(positionMs int64) error {
	client := a.activeClient()
	if client == nil {
		return model.ErrBackendUnavailable
	}
	_, err := client.Send([]interface{}{"seek", float64(positionMs) / 1000.0, "absolute"}, playerctl.IPCRequestTimeout)
	return wrapTimeout(err)
}

func (a *Adapter) GetPosition() (int64, error) {
	client := a.activeClient()
	if client == nil {
		return 0, model.ErrBackendUnavailable
	}
	resp, err := client.Send([]interface{}{"get_property", "playback-time"}, playerctl.IPCRequestTimeout)
	if err != nil {
		return 0, wrapTimeout(err)
	}
	seconds, _ := resp.Data.(float64)
	return int64(seconds * 1000), nil
}

func (a *Adapter) SetVolume(percent int) error {
	a.mu.Lock()
	a.volume = percent
	a.mu.Unlock()

	client := a.activeClient()
	if client == nil {
		return nil // stored, applied at next Play
	}
	_, err := client.Send([]interface{}{"set_property", "volume", float64(percent)}, playerctl.IPCRequestTimeout)
	return wrapTimeout(err)
}

func (a *Adapter) GetVolume() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.volume, nil
}

func (a *Adapter) UpdateFilters(chain string) error {
	a.mu.Lock()
	a.filters = chain
	a.mu.Unlock()

	client := a.activeClient()
	if client == nil {
		return nil
	}
	_, err := client.Send([]interface{}{"set_property", "af", chain}, playerctl.IPCRequestTimeout)
	return wrapTimeout(err)
}

func (a *Adapter) IsPlaying() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.playing
}

func wrapTimeout(err error) error {
	if err == nil {
		return nil
	}
	return model.New(model.KindIpcTimeout, "ipc request", err)
}

var _ playerctl.Adapter = (*Adapter)(nil)
