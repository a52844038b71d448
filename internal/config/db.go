package config

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/hazyhaar/domguard/dbopen"
	"github.com/hazyhaar/domguard/watch"
)

// Schema for the guard_pages table.
const Schema = `
CREATE TABLE IF NOT EXISTS guard_pages (
	id            TEXT PRIMARY KEY,
	url           TEXT NOT NULL,
	stealth_level INTEGER NOT NULL DEFAULT 1,
	status        TEXT NOT NULL DEFAULT 'active',
	updated_at    INTEGER NOT NULL
);
`

// LoadPages reads all active pages.
func LoadPages(ctx context.Context, db *sql.DB) ([]PageConfig, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, url, stealth_level
		FROM guard_pages
		WHERE status = 'active'
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("config: load pages: %w", err)
	}
	defer rows.Close()

	var pages []PageConfig
	for rows.Next() {
		var p PageConfig
		var level int
		if err := rows.Scan(&p.ID, &p.URL, &level); err != nil {
			return nil, err
		}
		p.StealthLevel = strconv.Itoa(level)
		pages = append(pages, p)
	}
	return pages, rows.Err()
}

// SavePage inserts or updates an active page.
func SavePage(ctx context.Context, db *sql.DB, p PageConfig) error {
	level := 1
	switch p.StealthLevel {
	case "2", "headful":
		level = 2
	}
	_, err := dbopen.Exec(ctx, db, `
		INSERT INTO guard_pages (id, url, stealth_level, status, updated_at)
		VALUES (?, ?, ?, 'active', ?)
		ON CONFLICT(id) DO UPDATE SET
			url = excluded.url,
			stealth_level = excluded.stealth_level,
			status = 'active',
			updated_at = excluded.updated_at`,
		p.ID, p.URL, level, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("config: save page %s: %w", p.ID, err)
	}
	return nil
}

// DisablePage marks a page inactive so the next reload releases it.
func DisablePage(ctx context.Context, db *sql.DB, id string) error {
	_, err := dbopen.Exec(ctx, db,
		`UPDATE guard_pages SET status = 'disabled', updated_at = ? WHERE id = ?`,
		time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("config: disable page %s: %w", id, err)
	}
	return nil
}

// WatchPages creates a watcher that fires when guard_pages changes.
func WatchPages(db *sql.DB, logger *slog.Logger) *watch.Watcher {
	return watch.New(db, watch.Options{
		Interval: 200 * time.Millisecond,
		Debounce: 500 * time.Millisecond,
		Detector: watch.TableDetector("guard_pages", "updated_at"),
		Logger:   logger,
	})
}
