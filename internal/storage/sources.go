package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/conorfennell/recallloop/internal/domain"
)

// SourceType tells how a source is fetched.
type SourceType string

const (
	SourceLocal SourceType = "local"
	SourceGit   SourceType = "git"
)

// Source represents a deck source, either a local path or a Git URL.
type Source struct {
	ID          int64
	Path        string
	Type        SourceType
	LastScanned *time.Time
}

// InsertSource registers a deck source and returns it with its ID.
func (db *DB) InsertSource(ctx context.Context, path string, typ SourceType) (Source, error) {
	res, err := db.conn.ExecContext(ctx, `
		INSERT INTO sources (path, type)
		VALUES (?, ?)
	`, path, string(typ))
	if err != nil {
		if isUniqueViolation(err) {
			return Source{}, fmt.Errorf("source %s: %w", path, ErrDuplicate)
		}
		return Source{}, fmt.Errorf("failed to insert source %s: %w", path, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Source{}, fmt.Errorf("failed to get last insert ID for source %s: %w", path, err)
	}
	return Source{ID: id, Path: path, Type: typ}, nil
}

// FindSourceByPath retrieves a source by its path.
func (db *DB) FindSourceByPath(ctx context.Context, path string) (Source, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT id, path, type, last_scanned
		FROM sources WHERE path = ?
	`, path)
	s, err := scanSource(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Source{}, fmt.Errorf("source %s: %w", path, ErrSourceNotFound)
		}
		return Source{}, fmt.Errorf("failed to find source by path %s: %w", path, err)
	}
	return s, nil
}

// ListSources returns every registered source ordered by ID.
func (db *DB) ListSources(ctx context.Context) ([]Source, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, path, type, last_scanned
		FROM sources ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to get all sources: %w", err)
	}
	defer rows.Close()

	var sources []Source
	for rows.Next() {
		s, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan source row: %w", err)
		}
		sources = append(sources, s)
	}
	return sources, rows.Err()
}

// MarkSourceScanned records when a source was last synced.
func (db *DB) MarkSourceScanned(ctx context.Context, id int64, at time.Time) error {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE sources SET last_scanned = ?
		WHERE id = ?
	`, domain.FormatTimestamp(at), id)
	if err != nil {
		return fmt.Errorf("failed to update last scanned for source ID %d: %w", id, err)
	}
	return expectOneRow(res, fmt.Errorf("source %d: %w", id, ErrSourceNotFound))
}

// DeleteSource unregisters a source. Its cards are kept and become unlinked.
func (db *DB) DeleteSource(ctx context.Context, id int64) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM sources WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete source %d: %w", id, err)
	}
	return expectOneRow(res, fmt.Errorf("source %d: %w", id, ErrSourceNotFound))
}

func scanSource(s scanner) (Source, error) {
	var (
		src         Source
		typ         string
		lastScanned sql.NullString
	)
	if err := s.Scan(&src.ID, &src.Path, &typ, &lastScanned); err != nil {
		return Source{}, err
	}
	src.Type = SourceType(typ)
	if lastScanned.Valid {
		t, err := domain.ParseTimestamp(lastScanned.String)
		if err != nil {
			return Source{}, fmt.Errorf("source %d has a malformed last_scanned %q: %w", src.ID, lastScanned.String, err)
		}
		src.LastScanned = &t
	}
	return src, nil
}
