// Package sqlite stores the object registry and notification state in a
// single SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/couchcryptid/iso-visibility-service/internal/domain"
	"github.com/couchcryptid/iso-visibility-service/internal/notify"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS objects (
  id          TEXT PRIMARY KEY,
  designation TEXT NOT NULL,
  name        TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS notification_preferences (
  user_id            TEXT PRIMARY KEY,
  tier               TEXT NOT NULL DEFAULT 'free',
  unsubscribed       INTEGER NOT NULL DEFAULT 0 CHECK (unsubscribed IN (0,1)),
  reply              INTEGER NOT NULL DEFAULT 1 CHECK (reply IN (0,1)),
  evidence           INTEGER NOT NULL DEFAULT 1 CHECK (evidence IN (0,1)),
  observation_window INTEGER NOT NULL DEFAULT 1 CHECK (observation_window IN (0,1)),
  updated_at         TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS notification_counts (
  user_id  TEXT NOT NULL,
  category TEXT NOT NULL,
  day      TEXT NOT NULL,
  count    INTEGER NOT NULL DEFAULT 0,
  PRIMARY KEY (user_id, category, day)
);
`

// KnownObjects seeds the registry on first open.
var KnownObjects = []domain.Object{
	{ID: "1i", Designation: "A/2017 U1", Name: "1I/ʻOumuamua"},
	{ID: "2i", Designation: "C/2019 Q4", Name: "2I/Borisov"},
	{ID: "3i", Designation: "C/2025 N1", Name: "3I/ATLAS"},
}

// Store implements domain.ObjectRegistry and notify.Store.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path, applies the schema,
// and seeds KnownObjects. ":memory:" gives a private in-memory database.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One writer; also keeps ":memory:" to a single shared connection.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	s := &Store{db: db}
	for _, o := range KnownObjects {
		if err := s.insertObject(ctx, o, false); err != nil {
			db.Close()
			return nil, fmt.Errorf("seed %s: %w", o.ID, err)
		}
	}
	return s, nil
}

// Close releases the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// CheckReadiness pings the database.
func (s *Store) CheckReadiness(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Resolve looks up an object by its case-insensitive id.
func (s *Store) Resolve(ctx context.Context, id string) (domain.Object, error) {
	var o domain.Object
	err := s.db.QueryRowContext(ctx,
		`SELECT id, designation, name FROM objects WHERE id = ?`, normalizeID(id),
	).Scan(&o.ID, &o.Designation, &o.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Object{}, fmt.Errorf("%w: %s", domain.ErrObjectNotFound, id)
	}
	if err != nil {
		return domain.Object{}, fmt.Errorf("resolve object %s: %w", id, err)
	}
	return o, nil
}

// Objects lists the registry ordered by id.
func (s *Store) Objects(ctx context.Context) ([]domain.Object, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, designation, name FROM objects ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list objects: %w", err)
	}
	defer rows.Close()

	var out []domain.Object
	for rows.Next() {
		var o domain.Object
		if err := rows.Scan(&o.ID, &o.Designation, &o.Name); err != nil {
			return nil, fmt.Errorf("scan object: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// UpsertObject adds or replaces a registry entry.
func (s *Store) UpsertObject(ctx context.Context, o domain.Object) error {
	if normalizeID(o.ID) == "" || o.Designation == "" {
		return fmt.Errorf("%w: object id and designation are required", domain.ErrInvalidInput)
	}
	return s.insertObject(ctx, o, true)
}

func (s *Store) insertObject(ctx context.Context, o domain.Object, replace bool) error {
	q := `INSERT INTO objects(id, designation, name) VALUES(?,?,?) ON CONFLICT(id) DO NOTHING`
	if replace {
		q = `INSERT INTO objects(id, designation, name) VALUES(?,?,?)
ON CONFLICT(id) DO UPDATE SET designation = excluded.designation, name = excluded.name`
	}
	_, err := s.db.ExecContext(ctx, q, normalizeID(o.ID), o.Designation, o.Name)
	return err
}

// Preferences returns notify.ErrNoPreferences when the user has none.
func (s *Store) Preferences(ctx context.Context, userID string) (notify.Preferences, error) {
	var (
		p                                        notify.Preferences
		unsubscribed, reply, evidence, obsWindow int
		updatedAt                                string
	)
	err := s.db.QueryRowContext(ctx, `
SELECT user_id, tier, unsubscribed, reply, evidence, observation_window, updated_at
FROM notification_preferences WHERE user_id = ?`, userID,
	).Scan(&p.UserID, &p.Tier, &unsubscribed, &reply, &evidence, &obsWindow, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return notify.Preferences{}, notify.ErrNoPreferences
	}
	if err != nil {
		return notify.Preferences{}, fmt.Errorf("load preferences: %w", err)
	}
	p.Unsubscribed = unsubscribed == 1
	p.Reply = reply == 1
	p.Evidence = evidence == 1
	p.ObservationWindow = obsWindow == 1
	if p.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return notify.Preferences{}, fmt.Errorf("parse preferences updated_at %q: %w", updatedAt, err)
	}
	return p, nil
}

// UpsertPreferences saves p, stamping UpdatedAt with now.
func (s *Store) UpsertPreferences(ctx context.Context, p notify.Preferences, now time.Time) error {
	if p.UserID == "" {
		return fmt.Errorf("%w: user id is required", domain.ErrInvalidInput)
	}
	if p.Tier == "" {
		p.Tier = notify.DefaultTier
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO notification_preferences(user_id, tier, unsubscribed, reply, evidence, observation_window, updated_at)
VALUES(?,?,?,?,?,?,?)
ON CONFLICT(user_id) DO UPDATE SET
  tier = excluded.tier,
  unsubscribed = excluded.unsubscribed,
  reply = excluded.reply,
  evidence = excluded.evidence,
  observation_window = excluded.observation_window,
  updated_at = excluded.updated_at`,
		p.UserID, p.Tier, boolToInt(p.Unsubscribed), boolToInt(p.Reply), boolToInt(p.Evidence), boolToInt(p.ObservationWindow), now.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save preferences: %w", err)
	}
	return nil
}

// SentCount returns the number of sends recorded for the day.
func (s *Store) SentCount(ctx context.Context, userID string, category notify.Category, day string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT count FROM notification_counts WHERE user_id = ? AND category = ? AND day = ?`,
		userID, string(category), day,
	).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load send count: %w", err)
	}
	return n, nil
}

// IncrementSent atomically adds one to the day's counter and returns the new value.
func (s *Store) IncrementSent(ctx context.Context, userID string, category notify.Category, day string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
INSERT INTO notification_counts(user_id, category, day, count) VALUES(?,?,?,1)
ON CONFLICT(user_id, category, day) DO UPDATE SET count = count + 1
RETURNING count`, userID, string(category), day,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("increment send count: %w", err)
	}
	return n, nil
}

// PruneCounts deletes counters for days before the given day.
func (s *Store) PruneCounts(ctx context.Context, before string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM notification_counts WHERE day < ?`, before)
	if err != nil {
		return 0, fmt.Errorf("prune send counts: %w", err)
	}
	return res.RowsAffected()
}

func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
