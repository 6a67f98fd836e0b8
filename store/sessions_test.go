package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/baggo/model"
)

func TestUpdateSession_TerminalIsImmutable(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	bag, err := s.Upsert(ctx, sampleBag("/data/a.bag"))
	require.NoError(t, err)

	sess := &model.ReplaySession{
		ID:          "sess-1",
		BagID:       bag.ID,
		Topics:      []string{"/imu"},
		Status:      model.SessionPending,
		SpeedFactor: 1.0,
	}
	require.NoError(t, s.CreateSession(ctx, sess))

	sess.Status = model.SessionRunning
	sess.StartedAt = time.Unix(1700000000, 0).UTC()
	require.NoError(t, s.UpdateSession(ctx, sess))

	sess.Status = model.SessionCompleted
	sess.Output = []byte("replay finished cleanly")
	sess.EndedAt = sess.StartedAt.Add(5 * time.Second)
	require.NoError(t, s.UpdateSession(ctx, sess))

	// Past the terminal state the row is immutable.
	late := *sess
	late.Status = model.SessionFailed
	late.Error = "late write"
	require.ErrorIs(t, s.UpdateSession(ctx, &late), ErrTerminalSession)

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionCompleted, got.Status)
	assert.Empty(t, got.Error)
	assert.Equal(t, []byte("replay finished cleanly"), got.Output)
	assert.Equal(t, sess.StartedAt, got.StartedAt)
	assert.Equal(t, sess.EndedAt, got.EndedAt)
}

func TestUpdateSession_Unknown(t *testing.T) {
	s := openStore(t)

	err := s.UpdateSession(context.Background(), &model.ReplaySession{
		ID:     "never-created",
		Status: model.SessionRunning,
	})
	require.ErrorIs(t, err, ErrNotFound)
}
