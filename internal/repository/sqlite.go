package repository

import (
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"tryffel.net/go/airwave/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS songs (
	id TEXT PRIMARY KEY,
	source_url TEXT NOT NULL,
	title TEXT NOT NULL,
	artist TEXT NOT NULL,
	channel TEXT NOT NULL,
	duration_ms INTEGER,
	thumbnail_path TEXT
);

CREATE TABLE IF NOT EXISTS queue_items (
	position INTEGER PRIMARY KEY,
	song_id TEXT NOT NULL,
	requester TEXT NOT NULL,
	requester_key TEXT,
	origin_channel TEXT NOT NULL,
	priority TEXT NOT NULL,
	download_status TEXT NOT NULL,
	download_path TEXT,
	download_reason TEXT,
	added_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS playback_state (
	id INTEGER PRIMARY KEY CHECK (id = 0),
	current_song_id TEXT,
	current_file_path TEXT,
	is_playing INTEGER NOT NULL,
	is_paused INTEGER NOT NULL,
	start_time_ms INTEGER,
	paused_at_ms INTEGER,
	seek_position_ms INTEGER NOT NULL,
	songs_played INTEGER NOT NULL
);
`

// Store is the modernc.org/sqlite-backed Repository implementation, the
// durable contract behind the three tables: songs, queue_items, and the
// singleton playback_state row.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// Open creates or opens the sqlite database at path and ensures the schema
// exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: serialize writers ourselves

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) UpsertSong(d model.TrackDescriptor) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var durationMs interface{}
	if d.DurationMs != nil {
		durationMs = *d.DurationMs
	}
	var thumb interface{}
	if d.ThumbnailUri != nil {
		thumb = *d.ThumbnailUri
	}

	_, err := s.db.Exec(`
		INSERT INTO songs (id, source_url, title, artist, channel, duration_ms, thumbnail_path)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			source_url = excluded.source_url,
			title = excluded.title,
			artist = excluded.artist,
			channel = excluded.channel,
			duration_ms = excluded.duration_ms,
			thumbnail_path = excluded.thumbnail_path
	`, d.Id, d.SourceUri, d.Title, d.Artist, d.Channel, durationMs, thumb)
	if err != nil {
		return "", model.New(model.KindPersistenceError, "upsert song", err)
	}
	return d.Id, nil
}

func (s *Store) GetSong(id string) (model.TrackDescriptor, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(`SELECT id, source_url, title, artist, channel, duration_ms, thumbnail_path FROM songs WHERE id = ?`, id)
	d, err := scanSong(row)
	if err == sql.ErrNoRows {
		return model.TrackDescriptor{}, false, nil
	}
	if err != nil {
		return model.TrackDescriptor{}, false, model.New(model.KindPersistenceError, "get song", err)
	}
	return d, true, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSong(row rowScanner) (model.TrackDescriptor, error) {
	var d model.TrackDescriptor
	var durationMs sql.NullInt64
	var thumb sql.NullString
	if err := row.Scan(&d.Id, &d.SourceUri, &d.Title, &d.Artist, &d.Channel, &durationMs, &thumb); err != nil {
		return d, err
	}
	if durationMs.Valid {
		v := durationMs.Int64
		d.DurationMs = &v
	}
	if thumb.Valid {
		v := thumb.String
		d.ThumbnailUri = &v
	}
	d.Kind = model.KindRemote
	return d, nil
}

func (s *Store) LoadQueue() ([]model.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT q.song_id, q.requester, q.requester_key, q.origin_channel, q.priority,
		       q.download_status, q.download_path, q.download_reason, q.added_at,
		       s.id, s.source_url, s.title, s.artist, s.channel, s.duration_ms, s.thumbnail_path
		FROM queue_items q JOIN songs s ON s.id = q.song_id
		ORDER BY q.position ASC
	`)
	if err != nil {
		return nil, model.New(model.KindPersistenceError, "load queue", err)
	}
	defer rows.Close()

	var items []model.QueueItem
	for rows.Next() {
		var item model.QueueItem
		var requesterKey sql.NullString
		var downloadPath, downloadReason sql.NullString
		var durationMs sql.NullInt64
		var thumb sql.NullString

		err := rows.Scan(
			&item.Descriptor.Id, &item.Requester, &requesterKey, &item.OriginChannel, &item.Priority,
			&item.DownloadState.Phase, &downloadPath, &downloadReason, &item.AddedAt,
			&item.Descriptor.Id, &item.Descriptor.SourceUri, &item.Descriptor.Title,
			&item.Descriptor.Artist, &item.Descriptor.Channel, &durationMs, &thumb,
		)
		if err != nil {
			return nil, model.New(model.KindPersistenceError, "scan queue row", err)
		}
		if requesterKey.Valid {
			v := requesterKey.String
			item.RequesterKey = &v
		}
		if downloadPath.Valid {
			item.DownloadState.FilePath = downloadPath.String
		}
		if downloadReason.Valid {
			item.DownloadState.Reason = downloadReason.String
		}
		if durationMs.Valid {
			v := durationMs.Int64
			item.Descriptor.DurationMs = &v
		}
		if thumb.Valid {
			v := thumb.String
			item.Descriptor.ThumbnailUri = &v
		}
		item.Descriptor.Kind = model.KindRemote
		items = append(items, item)
	}
	return items, rows.Err()
}

// PersistQueue atomically replaces all queue rows. Using a single
// transaction means a concurrent reader on another connection either sees
// the old queue in full or the new one, never a partial reorder.
func (s *Store) PersistQueue(items []model.QueueItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return model.New(model.KindPersistenceError, "begin persist queue", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM queue_items`); err != nil {
		return model.New(model.KindPersistenceError, "clear queue_items", err)
	}

	for i, item := range items {
		var durationMs interface{}
		if item.Descriptor.DurationMs != nil {
			durationMs = *item.Descriptor.DurationMs
		}
		var thumb interface{}
		if item.Descriptor.ThumbnailUri != nil {
			thumb = *item.Descriptor.ThumbnailUri
		}
		_, err := tx.Exec(`
			INSERT INTO songs (id, source_url, title, artist, channel, duration_ms, thumbnail_path)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				source_url = excluded.source_url, title = excluded.title, artist = excluded.artist,
				channel = excluded.channel, duration_ms = excluded.duration_ms, thumbnail_path = excluded.thumbnail_path
		`, item.Descriptor.Id, item.Descriptor.SourceUri, item.Descriptor.Title, item.Descriptor.Artist,
			item.Descriptor.Channel, durationMs, thumb)
		if err != nil {
			return model.New(model.KindPersistenceError, "upsert song during persist queue", err)
		}

		_, err = tx.Exec(`
			INSERT INTO queue_items (position, song_id, requester, requester_key, origin_channel,
				priority, download_status, download_path, download_reason, added_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, i, item.Descriptor.Id, item.Requester, item.RequesterKey, item.OriginChannel,
			item.Priority, item.DownloadState.Phase, nullIfEmpty(item.DownloadState.FilePath),
			nullIfEmpty(item.DownloadState.Reason), item.AddedAt)
		if err != nil {
			return model.New(model.KindPersistenceError, "insert queue_items row", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return model.New(model.KindPersistenceError, "commit persist queue", err)
	}
	return nil
}

func (s *Store) LoadPlaybackSnapshot() (model.PlaybackSnapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(`
		SELECT current_song_id, current_file_path, is_playing, is_paused, start_time_ms, paused_at_ms, seek_position_ms, songs_played
		FROM playback_state WHERE id = 0
	`)

	var currentSongID, currentFilePath sql.NullString
	var isPlaying, isPaused bool
	var startMs, pausedMs sql.NullInt64
	var seekMs, played int64

	err := row.Scan(&currentSongID, &currentFilePath, &isPlaying, &isPaused, &startMs, &pausedMs, &seekMs, &played)
	if err == sql.ErrNoRows {
		return model.PlaybackSnapshot{}, false, nil
	}
	if err != nil {
		return model.PlaybackSnapshot{}, false, model.New(model.KindPersistenceError, "load playback snapshot", err)
	}

	snap := model.PlaybackSnapshot{SeekOffsetMs: seekMs, SongsPlayedCounter: played}
	switch {
	case isPlaying:
		snap.Phase = model.PhasePlaying
	case isPaused:
		snap.Phase = model.PhasePaused
	default:
		snap.Phase = model.PhaseIdle
	}
	if currentSongID.Valid {
		v := currentSongID.String
		snap.CurrentDescriptorId = &v
	}
	if currentFilePath.Valid {
		v := currentFilePath.String
		snap.CurrentFilePath = &v
	}
	if startMs.Valid {
		v := startMs.Int64
		snap.StartedAtMs = &v
	}
	if pausedMs.Valid {
		v := pausedMs.Int64
		snap.PausedAtMs = &v
	}
	return snap, true, nil
}

func (s *Store) PersistPlaybackSnapshot(snap model.PlaybackSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO playback_state (id, current_song_id, current_file_path, is_playing, is_paused,
			start_time_ms, paused_at_ms, seek_position_ms, songs_played)
		VALUES (0, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			current_song_id = excluded.current_song_id,
			current_file_path = excluded.current_file_path,
			is_playing = excluded.is_playing,
			is_paused = excluded.is_paused,
			start_time_ms = excluded.start_time_ms,
			paused_at_ms = excluded.paused_at_ms,
			seek_position_ms = excluded.seek_position_ms,
			songs_played = excluded.songs_played
	`, snap.CurrentDescriptorId, snap.CurrentFilePath, snap.Phase == model.PhasePlaying,
		snap.Phase == model.PhasePaused, snap.StartedAtMs, snap.PausedAtMs, snap.SeekOffsetMs, snap.SongsPlayedCounter)
	if err != nil {
		return model.New(model.KindPersistenceError, "persist playback snapshot", err)
	}
	return nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
