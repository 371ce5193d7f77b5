// Package postgres implements a PostgreSQL-backed social store for pocali,
// using the pgx driver through database/sql.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register "pgx" driver

	"github.com/yawon3/pocali-backend/internal/social"
)

// Store is a PostgreSQL-backed social.Store.
type Store struct {
	db *sql.DB
}

var _ social.Store = (*Store)(nil)

// New connects to dsn, checks the connection and applies the schema.
func New(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Migrate creates the tables if they don't exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
create table if not exists user_data (
    user_id text primary key,
    data    text not null default '{}',
    locked  boolean not null default false
);
alter table user_data add column if not exists locked boolean not null default false;

create table if not exists friends (
    seq       bigserial,
    user_id   text not null,
    friend_id text not null,
    primary key (user_id, friend_id)
);
`)
	return err
}

// Close releases database resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// Register implements social.Store.
func (s *Store) Register(ctx context.Context) (string, error) {
	id := social.NewUserID()
	if _, err := s.db.ExecContext(ctx,
		`insert into user_data (user_id, data) values ($1, $2)`, id, string(social.EmptyData)); err != nil {
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

	var data string
	err := s.db.QueryRowContext(ctx,
		`select data, locked from user_data where user_id = $1`, userID).Scan(&data, &c.Locked)
	if errors.Is(err, sql.ErrNoRows) {
		return c, nil
	}
	if err != nil {
		return social.Collection{}, fmt.Errorf("query user %q: %w", userID, err)
	}
	if data != "" {
		c.Data = json.RawMessage(data)
	}
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
insert into user_data (user_id, data) values ($1, $2)
on conflict (user_id) do update set data = excluded.data`, userID, string(data))
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
insert into user_data (user_id, locked) values ($1, $2)
on conflict (user_id) do update set locked = excluded.locked`, userID, locked)
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
			`insert into friends (user_id, friend_id) values ($1, $2) on conflict do nothing`, edge[0], edge[1]); err != nil {
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
		`select friend_id from friends where user_id = $1 order by seq`, userID)
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

// reset empties both tables. Used by tests sharing one database.
func (s *Store) reset(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `truncate user_data, friends`)
	return err
}
