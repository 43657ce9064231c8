/*
 * Jellycli is a terminal music player for Jellyfin.
 * Copyright (C) 2020 Tero Vierimaa
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <https://www.gnu.org/licenses/>.
 */

package model

// Phase is the orchestrator's externally observable playback phase.
type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhasePlaying Phase = "playing"
	PhasePaused  Phase = "paused"
)

// PlaybackSnapshot is the persisted singleton that lets the orchestrator
// resume phase and position across a restart. StartedAtMs/PausedAtMs are
// monotonic-clock milliseconds local to this process's lifetime, never
// wallclock; they are meaningless across a process restart and are reset
// accordingly by the repository/orchestrator on load.
type PlaybackSnapshot struct {
	CurrentDescriptorId *string
	CurrentFilePath     *string
	Phase               Phase
	StartedAtMs         *int64
	PausedAtMs          *int64
	SeekOffsetMs        int64
	SongsPlayedCounter  int64
}

// Idle returns the zero-value resting snapshot.
func Idle() PlaybackSnapshot {
	return PlaybackSnapshot{Phase: PhaseIdle}
}
