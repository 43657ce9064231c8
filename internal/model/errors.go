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

import "errors"

// Kind is the closed error taxonomy surfaced across component boundaries
// (spec §7). Low-level errors are wrapped into one of these at the
// boundary; the orchestrator itself never lets a raw error escape to the
// HTTP layer once an item has been enqueued.
type Kind string

const (
	KindDuplicateRequest   Kind = "DuplicateRequest"
	KindInvalidRequest     Kind = "InvalidRequest"
	KindNotResolvable      Kind = "NotResolvable"
	KindTransientNetwork   Kind = "TransientNetwork"
	KindPermanentRejected  Kind = "PermanentRejected"
	KindToolUnavailable    Kind = "ToolUnavailable"
	KindBackendUnavailable Kind = "BackendUnavailable"
	KindIpcTimeout         Kind = "IpcTimeout"
	KindIpcDisconnect      Kind = "IpcDisconnect"
	KindPersistenceError   Kind = "PersistenceError"
	KindOutOfRange         Kind = "OutOfRange"
	KindInvalidMove        Kind = "InvalidMove"
)

// Error is a taxonomy-tagged error. Callers that need to distinguish kinds
// use errors.As against *Error, or the Is helpers below.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a tagged error with an optional wrapped cause.
func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err carries the given Kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Kind == kind
	}
	return false
}

var (
	ErrDuplicateRequest   = New(KindDuplicateRequest, "duplicate request", nil)
	ErrInvalidRequest     = New(KindInvalidRequest, "invalid request", nil)
	ErrOutOfRange         = New(KindOutOfRange, "index out of range", nil)
	ErrInvalidMove        = New(KindInvalidMove, "move crosses priority class boundary", nil)
	ErrNotResolvable      = New(KindNotResolvable, "input could not be resolved", nil)
	ErrToolUnavailable    = New(KindToolUnavailable, "external tool unavailable", nil)
	ErrBackendUnavailable = New(KindBackendUnavailable, "no player backend available", nil)
)
