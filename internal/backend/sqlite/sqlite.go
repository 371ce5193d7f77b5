// Package sqlite implements a SQLite-backed social store for pocali.
// Users, their collection documents and friendships are kept in a single
// database file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/yawon3/pocali-backend/internal/social"
	_ "modernc.org/sqlite" // register "sqlite" driver
)

// Store is a SQLite-backed social.Store.
type Store struct {
	db *sql.DB
}

var _ social.Store = (*Store)(nil)

// New opens (or creates) the database at path and applies the schema.
func New(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && path != ":memory:" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", path, err)
	}
	// A single connection serializes writers, which SQLite requires anyway,
	// and keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}

	s := &Store{db: db}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return s, nil
}

// Close releases database resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// createSchema creates the tables if they don't exist yet.
func (s *Store) createSchema() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS user_data (
    user_id TEXT PRIMARY KEY,
    data    TEXT NOT NULL DEFAULT '{}',
    locked  INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS friends (
    user_id   TEXT NOT NULL,
    friend_id TEXT NOT NULL,
    PRIMARY KEY (user_id, friend_id)
);
`)
	if err != nil {
		return err
	}
	// Migration: databases created by the first release lack the lock column
	// (ignore error if it already exists).
	_, _ = s.db.Exec(`ALTER TABLE user_data ADD COLUMN locked INTEGER NOT NULL DEFAULT 0`)
	return nil
}

// Register implements social.Store.
func (s *Store) Register(ctx context.Context) (string, error) {
	id := social.NewUserID()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO user_data (user_id, data) VALUES (?, ?)`, id, string(social.EmptyData)); err != nil {
		return "", fmt.Errorf("insert user: %w", err)
	}
	return id, nil
}

// Collection implements social.Store.
func (s *Store) Collection(ctx context.Context, userID string) (social.Collection, error) {
	if err := social.CheckUserID(userID); err != nil {
		return social.Collection{}, err
	}
	c := social.Collection{UserID: userID, Data: social.EmptyData}

	var (
		data   string
		locked bool
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT data, locked FROM user_data WHERE user_id = ?`, userID).Scan(&data, &locked)
	if errors.Is(err, sql.ErrNoRows) {
		return c, nil
	}
	if err != nil {
		return social.Collection{}, fmt.Errorf("query user %q: %w", userID, err)
	}
	if data != "" {
		c.Data = json.RawMessage(data)
	}
	c.Locked = locked
	return c, nil
}

// SaveCollection implements social.Store.
func (s *Store) SaveCollection(ctx context.Context, userID string, data json.RawMessage) error {
	if err := social.CheckUserID(userID); err != nil {
		return err
	}
	data, err := social.NormalizeData(data)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO user_data (user_id, data) VALUES (?, ?)
ON CONFLICT(user_id) DO UPDATE SET data = excluded.data`, userID, string(data))
	if err != nil {
		return fmt.Errorf("save collection of %q: %w", userID, err)
	}
	return nil
}

// SetLocked implements social.Store.
func (s *Store) SetLocked(ctx context.Context, userID string, locked bool) error {
	if err := social.CheckUserID(userID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO user_data (user_id, locked) VALUES (?, ?)
ON CONFLICT(user_id) DO UPDATE SET locked = excluded.locked`, userID, locked)
	if err != nil {
		return fmt.Errorf("set lock of %q: %w", userID, err)
	}
	return nil
}

// AddFriend implements social.Store.
func (s *Store) AddFriend(ctx context.Context, me, friend string) error {
	if err := social.CheckUserID(me); err != nil {
		return err
	}
	if err := social.CheckUserID(friend); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	for _, edge := range [][2]string{{me, friend}, {friend, me}} {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO friends (user_id, friend_id) VALUES (?, ?)`, edge[0], edge[1]); err != nil {
			return fmt.Errorf("insert friendship: %w", err)
		}
	}
	return tx.Commit()
}

// Friends implements social.Store.
func (s *Store) Friends(ctx context.Context, userID string) ([]string, error) {
	if err := social.CheckUserID(userID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT friend_id FROM friends WHERE user_id = ? ORDER BY rowid`, userID)
	if err != nil {
		return nil, fmt.Errorf("query friends of %q: %w", userID, err)
	}
	defer rows.Close()

	friends := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		friends = append(friends, id)
	}
	return friends, rows.Err()
}
