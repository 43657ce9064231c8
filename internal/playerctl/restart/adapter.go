// Package restart implements the fallback player backend: it drives a
// subprocess with no control channel at all, so pause, seek, and filter
// changes are all implemented by killing and respawning the process at a
// computed offset.
package restart

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"tryffel.net/go/airwave/internal/eventbus"
	"tryffel.net/go/airwave/internal/model"
	"tryffel.net/go/airwave/internal/playerctl"
)

// BinaryName is the executable this backend probes for and launches.
const BinaryName = "ffplay"

// intent records why the current subprocess is being torn down, so
// spawnAndWait can report the right PLAYBACK_FINISHED reason
// instead of defaulting to "error" on every kill.
type intent string

const (
	intentNone    intent = ""
	intentSkip    intent = "skipped"
	intentSeek    intent = "seek"
	intentEffects intent = "effects"
	intentPaused  intent = "paused"
)

// Adapter is the restart-based backend. Every control operation
// (Pause/Resume/Seek/UpdateFilters) terminates the current subprocess
// with a signal and respawns it at the recomputed offset; only Stop and a
// natural process exit leave nothing running.
type Adapter struct {
	bus *eventbus.Bus

	mu            sync.Mutex
	cmd           *exec.Cmd
	cancel        context.CancelFunc
	filters       string // externally-provided chain from EFFECTS_CHANGED
	volume        int
	filePath      string
	startedAt     time.Time
	offsetAtStart time.Duration
	paused        bool
	playing       bool
	pendingIntent intent
	resumeCh      chan struct{}
}

// New returns a restart-based adapter.
func New(bus *eventbus.Bus) *Adapter {
	return &Adapter{bus: bus, volume: 100}
}

func (a *Adapter) Name() string { return "fallback" }

// Play spawns the subprocess at startOffsetMs and blocks until it exits,
// either naturally or because a control operation requested a respawn (in
// which case Play returns once the *replacement* process itself ends, so
// callers see one logical Play per track rather than one per respawn).
func (a *Adapter) Play(ctx context.Context, filePath string, startOffsetMs int64) error {
	if err := a.Stop(); err != nil {
		logrus.Warnf("restart adapter: stop before play: %v", err)
	}

	a.mu.Lock()
	a.filePath = filePath
	a.offsetAtStart = time.Duration(startOffsetMs) * time.Millisecond
	a.mu.Unlock()

	unsub := a.bus.Subscribe(func(e eventbus.Event) {
		a.handleBusEvent(e)
	}, eventbus.PlaybackPause, eventbus.PlaybackResume, eventbus.PlaybackSeek,
		eventbus.PlaybackSkip, eventbus.EffectsChanged)
	defer a.bus.Unsubscribe(unsub)

	for {
		offset := a.currentOffset()
		finished, reason, err := a.spawnAndWait(ctx, offset)
		if err != nil {
			a.bus.Publish(eventbus.PlaybackError, err)
			return err
		}
		if finished {
			a.bus.Publish(eventbus.PlaybackFinished, playerctl.FinishedPayload{
				FilePath: filePath, Reason: playerctl.FinishedReason(reason),
			})
			return nil
		}
		if reason != "" {
			// An internal respawn (seek/effects/paused): the track isn't
			// actually over, but the backend is between subprocesses, so
			// it surfaces the same FINISHED/STARTED pair a real track
			// boundary would, at the same offset.
			a.bus.Publish(eventbus.PlaybackFinished, playerctl.FinishedPayload{
				FilePath: filePath, Reason: playerctl.FinishedReason(reason),
			})
		}
		// Loop and spawn again at the freshly computed offset. spawnAndWait
		// publishes PLAYBACK_STARTED itself once the replacement subprocess
		// is actually running.
	}
}

// spawnAndWait starts the subprocess at offset and blocks until it exits.
// finished=true means the track is genuinely over (natural end or skip);
// finished=false means a respawn is pending and the caller should loop, in
// which case reason names the intent that triggered it (empty once the
// paused wait itself ends with no fresh intent recorded).
func (a *Adapter) spawnAndWait(ctx context.Context, offset time.Duration) (finished bool, reason string, err error) {
	path, lookErr := exec.LookPath(BinaryName)
	if lookErr != nil {
		return false, "", model.New(model.KindBackendUnavailable, BinaryName+" not found on PATH", lookErr)
	}

	runCtx, cancel := context.WithCancel(ctx)

	a.mu.Lock()
	filePath := a.filePath
	filters := a.effectiveFilterChainLocked()
	paused := a.paused
	a.cancel = cancel
	a.pendingIntent = intentNone
	a.mu.Unlock()

	args := []string{"-nodisp", "-autoexit", "-ss", fmt.Sprintf("%.3f", offset.Seconds())}
	if filters != "" {
		args = append(args, "-af", filters)
	}
	args = append(args, filePath)

	cmd := exec.CommandContext(runCtx, path, args...)

	a.mu.Lock()
	a.cmd = cmd
	a.startedAt = time.Now()
	a.playing = !paused
	a.mu.Unlock()

	if paused {
		// Nothing to spawn while paused: no subprocess exists until
		// Resume (or a Seek/effects change, which also clears paused).
		// Block here until one of those fires, then loop to respawn.
		resumeCh := make(chan struct{})
		a.mu.Lock()
		a.resumeCh = resumeCh
		a.mu.Unlock()
		cancel()

		select {
		case <-resumeCh:
		case <-ctx.Done():
			return true, "error", nil
		}
		return false, "", nil
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return false, "", model.New(model.KindBackendUnavailable, "launch "+BinaryName, err)
	}
	a.bus.Publish(eventbus.PlaybackStarted, filePath)

	waitErr := cmd.Wait()

	a.mu.Lock()
	wasIntentional := a.pendingIntent != intentNone
	intentSeen := a.pendingIntent
	a.playing = false
	a.mu.Unlock()

	if wasIntentional {
		if intentSeen == intentSkip {
			return true, string(intentSkip), nil
		}
		return false, string(intentSeen), nil // seek/effects/paused: loop and respawn
	}
	if waitErr != nil {
		return true, "error", nil
	}
	return true, "ended", nil
}

func (a *Adapter) handleBusEvent(e eventbus.Event) {
	switch e.Topic {
	case eventbus.PlaybackPause:
		a.respawnWithIntent(intentPaused, true)
	case eventbus.PlaybackResume:
		a.respawnWithIntent(intentNone, false)
	case eventbus.PlaybackSeek:
		if ms, ok := e.Payload.(int64); ok {
			a.setOffset(time.Duration(ms) * time.Millisecond)
		}
		a.respawnWithIntent(intentSeek, false)
	case eventbus.PlaybackSkip:
		a.respawnWithIntent(intentSkip, false)
	case eventbus.EffectsChanged:
		if chain, ok := e.Payload.(string); ok {
			a.mu.Lock()
			a.filters = chain
			a.mu.Unlock()
		}
		a.respawnWithIntent(intentEffects, false)
	}
}

// respawnWithIntent records why the running process is about to die, then
// kills it: POSIX gets SIGTERM with a grace period before SIGKILL. If no
// process is currently running (the adapter is in the paused wait state),
// it instead wakes that wait so Play can loop and respawn.
func (a *Adapter) respawnWithIntent(why intent, pausing bool) {
	a.mu.Lock()
	a.pendingIntent = why
	a.paused = pausing
	if !a.startedAt.IsZero() {
		a.offsetAtStart = time.Since(a.startedAt) + a.offsetAtStart
	}
	cmd := a.cmd
	waiter := a.resumeCh
	a.resumeCh = nil
	a.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		if waiter != nil {
			close(waiter)
		}
		return
	}
	terminate(cmd)
}

func (a *Adapter) setOffset(offset time.Duration) {
	a.mu.Lock()
	a.offsetAtStart = offset
	a.mu.Unlock()
}

func (a *Adapter) currentOffset() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.offsetAtStart
}

// terminate sends SIGTERM and escalates to SIGKILL after a grace period
// if the process has not exited.
func terminate(cmd *exec.Cmd) {
	_ = cmd.Process.Signal(syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		_, _ = cmd.Process.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(playerctl.KillGracePeriod):
		_ = cmd.Process.Kill()
	}
}

// Stop terminates the subprocess unconditionally. Idempotent.
func (a *Adapter) Stop() error {
	a.mu.Lock()
	cmd := a.cmd
	cancel := a.cancel
	a.cmd = nil
	a.cancel = nil
	a.playing = false
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if cmd != nil && cmd.Process != nil {
		terminate(cmd)
	}
	return nil
}

func (a *Adapter) Pause() error {
	a.respawnWithIntent(intentPaused, true)
	return nil
}

func (a *Adapter) Resume() error {
	a.respawnWithIntent(intentNone, false)
	return nil
}

func (a *Adapter) Seek(positionMs int64) error {
	a.setOffset(time.Duration(positionMs) * time.Millisecond)
	a.respawnWithIntent(intentSeek, false)
	return nil
}

func (a *Adapter) GetPosition() (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.paused || !a.playing {
		return a.offsetAtStart.Milliseconds(), nil
	}
	return (time.Since(a.startedAt) + a.offsetAtStart).Milliseconds(), nil
}

// SetVolume stores the new level; since this backend has no live control
// channel, it takes effect as part of the filter chain at the next spawn
// rather than forcing an immediate respawn.
func (a *Adapter) SetVolume(percent int) error {
	a.mu.Lock()
	a.volume = percent
	a.mu.Unlock()
	return nil
}

// effectiveFilterChainLocked combines the externally-provided effects
// chain with the volume filter derived from the stored level. Must be
// called with a.mu held.
func (a *Adapter) effectiveFilterChainLocked() string {
	volumeFilter := buildVolumeFilter(a.volume)
	if a.filters == "" {
		return volumeFilter
	}
	return a.filters + "," + volumeFilter
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
	a.respawnWithIntent(intentEffects, false)
	return nil
}

func (a *Adapter) IsPlaying() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.playing
}

func buildVolumeFilter(percent int) string {
	return fmt.Sprintf("volume=%.2f", float64(percent)/100.0)
}

var _ playerctl.Adapter = (*Adapter)(nil)
