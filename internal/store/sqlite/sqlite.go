// Package sqlite implements the store interfaces on a local SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/Ebycow/famista/internal/channel"
	"github.com/Ebycow/famista/internal/inference"
	"github.com/Ebycow/famista/internal/scoreboard"
	"github.com/Ebycow/famista/internal/store"
)

// Store is a SQLite-backed SnapshotLog and SampleStore.
type Store struct {
	db *sql.DB
	mu sync.Mutex // serializes writers
}

var (
	_ store.SnapshotLog = (*Store)(nil)
	_ store.SampleStore = (*Store)(nil)
)

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	slog.Debug("store opened", "path", path)
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS snapshots (
			id TEXT PRIMARY KEY,
			seq INTEGER NOT NULL,
			line TEXT NOT NULL,
			half INTEGER NOT NULL,
			balls INTEGER NOT NULL,
			strikes INTEGER NOT NULL,
			outs INTEGER NOT NULL,
			on1 INTEGER NOT NULL,
			on2 INTEGER NOT NULL,
			on3 INTEGER NOT NULL,
			home INTEGER NOT NULL,
			away INTEGER NOT NULL,
			taken_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_taken ON snapshots(taken_at)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			label_kind TEXT NOT NULL DEFAULT 'binary',
			dimensions TEXT NOT NULL,
			addresses TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_name ON sessions(name)`,
		`CREATE TABLE IF NOT EXISTS samples (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			position INTEGER NOT NULL,
			label TEXT NOT NULL,
			data BLOB NOT NULL,
			taken_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_samples_session ON samples(session_id, position)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:min(len(stmt), 60)], err)
		}
	}
	return s.addColumn("sessions", "label_kind", `TEXT NOT NULL DEFAULT 'binary'`)
}

// addColumn adds a column to a table created by an older schema.
func (s *Store) addColumn(table, column, decl string) error {
	rows, err := s.db.Query(`SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return fmt.Errorf("table info %s: %w", table, err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("table info %s: %w", table, err)
		}
		if name == column {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if _, err := s.db.Exec(fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s`, table, column, decl)); err != nil {
		return fmt.Errorf("add column %s.%s: %w", table, column, err)
	}
	slog.Info("store schema upgraded", "table", table, "column", column)
	return nil
}

// AppendSnapshot records an accepted snapshot.
func (s *Store) AppendSnapshot(ctx context.Context, snap scoreboard.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `INSERT INTO snapshots
		(id, seq, line, half, balls, strikes, outs, on1, on2, on3, home, away, taken_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		store.GenNewID().String(), int64(snap.Seq), snap.Line(), snap.Half,
		snap.Balls, snap.Strikes, snap.Outs,
		snap.Bases[0], snap.Bases[1], snap.Bases[2],
		snap.Home, snap.Away, snap.At.UnixMilli())
	if err != nil {
		return fmt.Errorf("append snapshot: %w", err)
	}
	return nil
}

// RecentSnapshots returns up to limit snapshots, newest first.
func (s *Store) RecentSnapshots(ctx context.Context, limit int) ([]scoreboard.Snapshot, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT seq, half, balls, strikes, outs, on1, on2, on3, home, away, taken_at
		FROM snapshots ORDER BY taken_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	var out []scoreboard.Snapshot
	for rows.Next() {
		var (
			snap scoreboard.Snapshot
			seq  int64
			ms   int64
		)
		if err := rows.Scan(&seq, &snap.Half, &snap.Balls, &snap.Strikes, &snap.Outs,
			&snap.Bases[0], &snap.Bases[1], &snap.Bases[2], &snap.Home, &snap.Away, &ms); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		snap.Seq = uint64(seq)
		snap.Inning, snap.Side = scoreboard.DecodeHalf(snap.Half)
		snap.At = time.UnixMilli(ms)
		out = append(out, snap)
	}
	return out, rows.Err()
}

// CreateSession starts a labeling session.
func (s *Store) CreateSession(ctx context.Context, name string, kind inference.LabelKind, dims []string, addrs []channel.Address) (store.Session, error) {
	if err := store.ValidateDimensions(dims); err != nil {
		return store.Session{}, err
	}
	kind, err := inference.ParseLabelKind(string(kind))
	if err != nil {
		return store.Session{}, err
	}
	dimJSON, err := json.Marshal(dims)
	if err != nil {
		return store.Session{}, fmt.Errorf("marshal dimensions: %w", err)
	}
	addrJSON, err := json.Marshal(addrs)
	if err != nil {
		return store.Session{}, fmt.Errorf("marshal addresses: %w", err)
	}

	now := time.Now().UTC()
	sess := store.Session{
		ID:         store.GenNewID(),
		Name:       store.NormalizeSessionName(name, now),
		Labels:     kind,
		Dimensions: append([]string(nil), dims...),
		Addresses:  append([]channel.Address(nil), addrs...),
		CreatedAt:  now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx, `INSERT INTO sessions (id, name, label_kind, dimensions, addresses, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sess.ID.String(), sess.Name, string(kind), string(dimJSON), string(addrJSON), now.UnixMilli())
	if err != nil {
		return store.Session{}, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

// AppendSample adds a labeled capture to a session.
func (s *Store) AppendSample(ctx context.Context, sessionID uuid.UUID, smp inference.Sample) error {
	id := smp.ID
	if id == "" {
		id = store.GenNewID().String()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var kind string
	err = tx.QueryRowContext(ctx, `SELECT label_kind FROM sessions WHERE id = ?`, sessionID.String()).Scan(&kind)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("session %s: %w", sessionID, store.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("session kind: %w", err)
	}
	var pos int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM samples WHERE session_id = ?`, sessionID.String()).Scan(&pos); err != nil {
		return fmt.Errorf("count samples: %w", err)
	}
	at := smp.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO samples (id, session_id, position, label, data, taken_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id, sessionID.String(), pos, inference.FormatLabel(inference.LabelKind(kind), smp.Label), smp.Values, at.UnixMilli())
	if err != nil {
		return fmt.Errorf("append sample: %w", err)
	}
	return tx.Commit()
}

// ListSessions returns all sessions, newest first, with sample counts.
func (s *Store) ListSessions(ctx context.Context) ([]store.Session, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT s.id, s.name, s.label_kind, s.dimensions, s.addresses, s.created_at,
			(SELECT COUNT(*) FROM samples m WHERE m.session_id = s.id)
		FROM sessions s ORDER BY s.created_at DESC, s.rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []store.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// GetSession finds a session by ID, or else the newest with that name.
func (s *Store) GetSession(ctx context.Context, ref string) (store.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT s.id, s.name, s.label_kind, s.dimensions, s.addresses, s.created_at,
			(SELECT COUNT(*) FROM samples m WHERE m.session_id = s.id)
		FROM sessions s WHERE s.id = ? OR s.name = ?
		ORDER BY (s.id = ?) DESC, s.created_at DESC, s.rowid DESC LIMIT 1`, ref, ref, ref)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Session{}, fmt.Errorf("session %q: %w", ref, store.ErrNotFound)
	}
	return sess, err
}

// LoadSamples returns a session's samples in capture order.
func (s *Store) LoadSamples(ctx context.Context, sessionID uuid.UUID) ([]inference.Sample, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT m.id, s.label_kind, m.label, m.data, m.taken_at
		FROM samples m JOIN sessions s ON s.id = m.session_id
		WHERE m.session_id = ? ORDER BY m.position`, sessionID.String())
	if err != nil {
		return nil, fmt.Errorf("query samples: %w", err)
	}
	defer rows.Close()

	var out []inference.Sample
	for rows.Next() {
		var (
			smp   inference.Sample
			kind  string
			label string
			ms    int64
		)
		if err := rows.Scan(&smp.ID, &kind, &label, &smp.Values, &ms); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		smp.Label, err = inference.DecodeLabel(inference.LabelKind(kind), label)
		if err != nil {
			return nil, fmt.Errorf("sample %s: %w", smp.ID, err)
		}
		smp.At = time.UnixMilli(ms)
		out = append(out, smp)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(r scanner) (store.Session, error) {
	var (
		sess     store.Session
		id       string
		kind     string
		dimJSON  string
		addrJSON string
		ms       int64
	)
	if err := r.Scan(&id, &sess.Name, &kind, &dimJSON, &addrJSON, &ms, &sess.SampleCount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Session{}, err
		}
		return store.Session{}, fmt.Errorf("scan session: %w", err)
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return store.Session{}, fmt.Errorf("session id %q: %w", id, err)
	}
	sess.ID = parsed
	sess.Labels = inference.LabelKind(kind)
	if err := json.Unmarshal([]byte(dimJSON), &sess.Dimensions); err != nil {
		return store.Session{}, fmt.Errorf("session %s dimensions: %w", id, err)
	}
	if err := json.Unmarshal([]byte(addrJSON), &sess.Addresses); err != nil {
		return store.Session{}, fmt.Errorf("session %s addresses: %w", id, err)
	}
	sess.CreatedAt = time.UnixMilli(ms).UTC()
	return sess, nil
}
