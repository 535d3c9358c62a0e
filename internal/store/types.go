// Package store defines persistence for accepted snapshots and labeled
// learning sessions. Inferred mappings are never stored.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/Ebycow/famista/internal/channel"
	"github.com/Ebycow/famista/internal/inference"
	"github.com/Ebycow/famista/internal/scoreboard"
)

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = errors.New("not found")

// GenNewID generates a new UUID v7 (time-ordered).
func GenNewID() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// Session is one labeling session: its label kind, its dimension names and
// the address of every captured offset.
type Session struct {
	ID          uuid.UUID
	Name        string
	Labels      inference.LabelKind
	Dimensions  []string
	Addresses   []channel.Address
	CreatedAt   time.Time
	SampleCount int
}

// SnapshotLog records accepted snapshots.
type SnapshotLog interface {
	AppendSnapshot(ctx context.Context, s scoreboard.Snapshot) error
	RecentSnapshots(ctx context.Context, limit int) ([]scoreboard.Snapshot, error)
}

// SampleStore records labeled samples by session.
type SampleStore interface {
	CreateSession(ctx context.Context, name string, kind inference.LabelKind, dims []string, addrs []channel.Address) (Session, error)
	AppendSample(ctx context.Context, sessionID uuid.UUID, s inference.Sample) error
	ListSessions(ctx context.Context) ([]Session, error)
	// GetSession finds a session by ID or by name (latest wins).
	GetSession(ctx context.Context, ref string) (Session, error)
	LoadSamples(ctx context.Context, sessionID uuid.UUID) ([]inference.Sample, error)
}

// Replay rebuilds the sample set of a stored session.
func Replay(ctx context.Context, st SampleStore, ref string) (Session, *inference.SampleSet, error) {
	sess, err := st.GetSession(ctx, ref)
	if err != nil {
		return Session{}, nil, err
	}
	set, err := inference.NewSampleSetOf(sess.Labels, sess.Dimensions, sess.Addresses)
	if err != nil {
		return Session{}, nil, err
	}
	samples, err := st.LoadSamples(ctx, sess.ID)
	if err != nil {
		return Session{}, nil, err
	}
	for _, s := range samples {
		if err := set.Add(s); err != nil {
			return Session{}, nil, err
		}
	}
	return sess, set, nil
}
