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

// Priority is the ordering class a QueueItem belongs to. The queue is always
// the concatenation of system items (head), then VIP items, then normal
// items, each class keeping its own insertion order.
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityVip    Priority = "vip"
	PrioritySystem Priority = "system"
)

// rank orders priority classes for comparisons; lower sorts first.
func (p Priority) rank() int {
	switch p {
	case PrioritySystem:
		return 0
	case PriorityVip:
		return 1
	default:
		return 2
	}
}

// Less reports whether p sorts before other when both are taken as queue
// priority classes (system < vip < normal).
func (p Priority) Less(other Priority) bool {
	return p.rank() < other.rank()
}

// DownloadPhase is the monotonic lifecycle of a queue item's local artifact:
// pending -> inflight -> ready|failed. ready and failed are terminal until
// the item is removed from the queue.
type DownloadPhase string

const (
	DownloadPending  DownloadPhase = "pending"
	DownloadInflight DownloadPhase = "inflight"
	DownloadReady    DownloadPhase = "ready"
	DownloadFailed   DownloadPhase = "failed"
)

// DownloadState captures the phase plus whichever payload applies to it.
type DownloadState struct {
	Phase    DownloadPhase
	FilePath string // valid when Phase == DownloadReady
	Reason   string // valid when Phase == DownloadFailed
}

func PendingState() DownloadState { return DownloadState{Phase: DownloadPending} }

func (s DownloadState) Ready() bool  { return s.Phase == DownloadReady }
func (s DownloadState) Failed() bool { return s.Phase == DownloadFailed }
func (s DownloadState) Terminal() bool {
	return s.Phase == DownloadReady || s.Phase == DownloadFailed
}

// QueueItem is one requested track awaiting, or undergoing, playback.
type QueueItem struct {
	Descriptor    TrackDescriptor
	Requester     string
	RequesterKey  *string
	OriginChannel string
	Priority      Priority
	DownloadState DownloadState
	// AddedAt is a monotonic insertion sequence number, not a wallclock
	// timestamp; it exists purely to break ties within a priority class.
	AddedAt int64
}

// Id is a convenience accessor matching the uniqueness key the queue
// enforces (Descriptor.Id).
func (q QueueItem) Id() string { return q.Descriptor.Id }
