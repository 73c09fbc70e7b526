// Package db provides the optional Postgres audit store: connection helpers,
// schema migration, and the voice/login audit tables.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'

	"github.com/team7636/robomania-bot/presence"
	"github.com/team7636/robomania-bot/stream"
)

// ErrNoDSN is returned by Connect when auditing is not configured.
var ErrNoDSN = errors.New("db: DB_DSN not set")

// Connect opens a Postgres connection pool and verifies it with a ping.
func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, ErrNoDSN
	}
	dbx, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	dbx.SetMaxOpenConns(5)
	dbx.SetConnMaxIdleTime(5 * time.Minute)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := dbx.PingContext(pingCtx); err != nil {
		_ = dbx.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return dbx, nil
}

// Migrate applies idempotent schema changes for the audit tables. It is a
// fallback for deployments that do not run the versioned migrations.
func Migrate(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS voice_events (
			id BIGSERIAL PRIMARY KEY,
			occurred_at TIMESTAMPTZ NOT NULL,
			direction TEXT NOT NULL CHECK (direction IN ('join', 'leave')),
			user_id TEXT NOT NULL,
			username TEXT NOT NULL,
			display_name TEXT,
			channel_id TEXT NOT NULL,
			channel_name TEXT,
			created_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS login_notifications (
			id BIGSERIAL PRIMARY KEY,
			received_at TIMESTAMPTZ NOT NULL,
			member_discord_id TEXT NOT NULL,
			ip TEXT,
			user_agent TEXT,
			method TEXT,
			delivered BOOLEAN NOT NULL DEFAULT FALSE,
			error TEXT,
			created_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_voice_events_user_time ON voice_events(user_id, occurred_at)`,
		`CREATE INDEX IF NOT EXISTS idx_voice_events_channel_time ON voice_events(channel_id, occurred_at)`,
		`CREATE INDEX IF NOT EXISTS idx_login_notifications_member ON login_notifications(member_discord_id, received_at)`,
	}
	for i, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("postgres migrate step %d failed: %w", i, err)
		}
	}
	return nil
}

// Store writes audit rows. It implements presence.Journal.
type Store struct {
	DB *sql.DB
}

// NewStore wraps an open pool.
func NewStore(db *sql.DB) *Store { return &Store{DB: db} }

// Append inserts one voice event.
func (s *Store) Append(ctx context.Context, e presence.Entry) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO voice_events(occurred_at, direction, user_id, username, display_name, channel_id, channel_name)
		 VALUES($1,$2,$3,$4,$5,$6,$7)`,
		e.Time, string(e.Direction), e.UserID, e.Username, e.DisplayName, e.ChannelID, e.ChannelName)
	if err != nil {
		return fmt.Errorf("insert voice event: %w", err)
	}
	return nil
}

// RecentVoiceEvents returns up to limit events for userID, newest first.
func (s *Store) RecentVoiceEvents(ctx context.Context, userID string, limit int) ([]presence.Entry, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT occurred_at, direction, user_id, username, COALESCE(display_name,''), channel_id, COALESCE(channel_name,'')
		 FROM voice_events WHERE user_id=$1 ORDER BY occurred_at DESC, id DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query voice events: %w", err)
	}
	defer rows.Close()

	var out []presence.Entry
	for rows.Next() {
		var e presence.Entry
		var dir string
		if err := rows.Scan(&e.Time, &dir, &e.UserID, &e.Username, &e.DisplayName, &e.ChannelID, &e.ChannelName); err != nil {
			return nil, err
		}
		e.Direction = presence.Direction(dir)
		out = append(out, e)
	}
	return out, rows.Err()
}

// RecordLoginNotice stores one auth.new_login event and whether the DM went out.
func (s *Store) RecordLoginNotice(ctx context.Context, ev stream.NewLogin, at time.Time, deliveryErr error) error {
	var errText sql.NullString
	if deliveryErr != nil {
		errText = sql.NullString{String: deliveryErr.Error(), Valid: true}
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO login_notifications(received_at, member_discord_id, ip, user_agent, method, delivered, error)
		 VALUES($1,$2,$3,$4,$5,$6,$7)`,
		at, string(ev.MemberDiscordID), ev.IP, ev.UserAgent, ev.Method, deliveryErr == nil, errText)
	if err != nil {
		return fmt.Errorf("insert login notification: %w", err)
	}
	return nil
}

// CountLoginNotices returns how many notices were recorded for a member.
func (s *Store) CountLoginNotices(ctx context.Context, memberDiscordID string) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM login_notifications WHERE member_discord_id=$1`, memberDiscordID).Scan(&n)
	return n, err
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error { return s.DB.PingContext(ctx) }

// AuditedNotifier records every login notice after handing it to Next. The
// delivery error is returned unchanged; a failed insert is only logged.
type AuditedNotifier struct {
	Next  stream.Notifier
	Store *Store
}

func (a AuditedNotifier) NotifyNewLogin(ctx context.Context, ev stream.NewLogin, at time.Time) error {
	err := a.Next.NotifyNewLogin(ctx, ev, at)
	if a.Store != nil {
		if rerr := a.Store.RecordLoginNotice(ctx, ev, at, err); rerr != nil {
			slog.Warn("failed to record login notice", slog.Any("err", rerr), slog.String("component", "db"))
		}
	}
	return err
}
