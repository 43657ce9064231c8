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

// Package model contains the shared data types the rest of airwave's core
// builds on: the track descriptor the resolver produces, the queue item the
// queue manager orders, and the playback snapshot the orchestrator persists.
package model

// TrackKind distinguishes a descriptor that still needs a remote fetch from
// one that already points at a file on disk.
type TrackKind string

const (
	KindRemote    TrackKind = "remote"
	KindLocalFile TrackKind = "localFile"
)

// TrackDescriptor is immutable once a Resolver seals it. The Id is a stable
// hash of the canonical source URI so that two different URI spellings that
// resolve to the same content collapse to one descriptor.
type TrackDescriptor struct {
	Id           string
	SourceUri    string
	Title        string
	Artist       string
	Channel      string
	DurationMs   *int64
	ThumbnailUri *string
	Kind         TrackKind
}

// HasDuration reports whether metadata resolution has filled in a duration.
func (d TrackDescriptor) HasDuration() bool {
	return d.DurationMs != nil
}
