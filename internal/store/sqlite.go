package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/handiism/podcast-downloader/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS episodes (
	id TEXT PRIMARY KEY,
	podcast TEXT,
	url TEXT NOT NULL,
	title TEXT,
	link TEXT,
	description TEXT,
	pub_date DATETIME,
	size INTEGER,
	mime_type TEXT,
	download_dir TEXT,
	file_name_format TEXT,
	downloaded INTEGER NOT NULL DEFAULT 0,
	local_path TEXT,
	updated_time DATETIME
);

CREATE INDEX IF NOT EXISTS idx_episodes_downloaded ON episodes(downloaded);
`

// SQLite stores episodes in an SQLite database file.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database at path.
func OpenSQLite(path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	// WAL lets the UI read while a worker saves.
	if _, err := db.Exec(`
		PRAGMA busy_timeout = 5000;
		PRAGMA journal_mode = WAL;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Load returns the episode with the given ID.
func (s *SQLite) Load(ctx context.Context, id string) (*model.Episode, error) {
	query := `SELECT id, podcast, url, title, link, description, pub_date, size, mime_type,
		download_dir, file_name_format, downloaded, local_path FROM episodes WHERE id = ?`
	episode, err := scanEpisode(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrEpisodeNotFound
	}
	return episode, err
}

// Save inserts or replaces episode.
func (s *SQLite) Save(ctx context.Context, episode *model.Episode) error {
	podcast, err := json.Marshal(episode.Podcast)
	if err != nil {
		return err
	}

	query := `INSERT OR REPLACE INTO episodes (id, podcast, url, title, link, description, pub_date,
		size, mime_type, download_dir, file_name_format, downloaded, local_path, updated_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		episode.ID, string(podcast), episode.URL, episode.Title, episode.Link, episode.Description,
		episode.PubDate.UTC(), episode.Size, episode.MimeType, episode.DownloadDir,
		episode.FileNameFormat, episode.Downloaded, episode.LocalPath, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save episode %s: %w", episode.ID, err)
	}
	return nil
}

// List returns all episodes, optionally only those not downloaded yet.
func (s *SQLite) List(ctx context.Context, pendingOnly bool) ([]*model.Episode, error) {
	query := `SELECT id, podcast, url, title, link, description, pub_date, size, mime_type,
		download_dir, file_name_format, downloaded, local_path FROM episodes`
	if pendingOnly {
		query += ` WHERE downloaded = 0`
	}
	query += ` ORDER BY pub_date`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var episodes []*model.Episode
	for rows.Next() {
		episode, err := scanEpisode(rows)
		if err != nil {
			return nil, err
		}
		episodes = append(episodes, episode)
	}
	return episodes, rows.Err()
}

// Delete removes an episode. Deleting an unknown ID is not an error.
func (s *SQLite) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM episodes WHERE id = ?`, id)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEpisode(row scanner) (*model.Episode, error) {
	var (
		episode   model.Episode
		podcast   sql.NullString
		link      sql.NullString
		desc      sql.NullString
		mimeType  sql.NullString
		localPath sql.NullString
	)
	err := row.Scan(&episode.ID, &podcast, &episode.URL, &episode.Title, &link, &desc,
		&episode.PubDate, &episode.Size, &mimeType, &episode.DownloadDir,
		&episode.FileNameFormat, &episode.Downloaded, &localPath)
	if err != nil {
		return nil, err
	}

	if podcast.Valid && podcast.String != "" && podcast.String != "null" {
		episode.Podcast = &model.Podcast{}
		if err := json.Unmarshal([]byte(podcast.String), episode.Podcast); err != nil {
			return nil, fmt.Errorf("decode podcast of episode %s: %w", episode.ID, err)
		}
	}
	episode.Link = link.String
	episode.Description = desc.String
	episode.MimeType = mimeType.String
	episode.LocalPath = localPath.String
	return &episode, nil
}
