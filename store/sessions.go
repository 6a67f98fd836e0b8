package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/hupe1980/baggo/model"
)

// CreateSession persists a freshly created replay session.
func (s *Store) CreateSession(ctx context.Context, sess *model.ReplaySession) error {
	if err := s.acquireWrite(ctx); err != nil {
		return err
	}
	defer s.releaseWrite()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO replay_sessions (id, bag_id, topics, status, speed_factor, environment, error, output, started_at, ended_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.BagID, strings.Join(sess.Topics, ","), string(sess.Status),
		sess.SpeedFactor, sess.Environment, sess.Error,
		s.compressOutput(sess.Output), nanoOrNil(sess.StartedAt), nanoOrNil(sess.EndedAt),
	)
	return err
}

// UpdateSession persists a session transition. Updating a session that
// is already terminal in the store fails with ErrTerminalSession: a
// terminal record is immutable.
func (s *Store) UpdateSession(ctx context.Context, sess *model.ReplaySession) error {
	if err := s.acquireWrite(ctx); err != nil {
		return err
	}
	defer s.releaseWrite()

	var current string
	err := s.db.QueryRowContext(ctx,
		`SELECT status FROM replay_sessions WHERE id=?`, sess.ID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if model.SessionStatus(current).Terminal() {
		return ErrTerminalSession
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE replay_sessions SET status=?, environment=?, error=?, output=?, started_at=?, ended_at=? WHERE id=?`,
		string(sess.Status), sess.Environment, sess.Error,
		s.compressOutput(sess.Output), nanoOrNil(sess.StartedAt), nanoOrNil(sess.EndedAt),
		sess.ID,
	)
	return err
}

// GetSession returns a replay session by id.
func (s *Store) GetSession(ctx context.Context, id string) (*model.ReplaySession, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, bag_id, topics, status, speed_factor, environment, error, output, started_at, ended_at
		 FROM replay_sessions WHERE id=?`, id)
	return s.scanSession(row)
}

// ListSessions returns the sessions recorded for a bag, newest first.
func (s *Store) ListSessions(ctx context.Context, bagID model.BagID) ([]*model.ReplaySession, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, bag_id, topics, status, speed_factor, environment, error, output, started_at, ended_at
		 FROM replay_sessions WHERE bag_id=? ORDER BY started_at DESC`, bagID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.ReplaySession
	for rows.Next() {
		sess, err := s.scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *Store) scanSession(row rowScanner) (*model.ReplaySession, error) {
	var sess model.ReplaySession
	var topics, status string
	var output []byte
	var started, ended sql.NullInt64
	err := row.Scan(&sess.ID, &sess.BagID, &topics, &status, &sess.SpeedFactor,
		&sess.Environment, &sess.Error, &output, &started, &ended)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if topics != "" {
		sess.Topics = strings.Split(topics, ",")
	}
	sess.Status = model.SessionStatus(status)
	if started.Valid {
		sess.StartedAt = time.Unix(0, started.Int64).UTC()
	}
	if ended.Valid {
		sess.EndedAt = time.Unix(0, ended.Int64).UTC()
	}
	sess.Output, err = s.decompressOutput(output)
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// Replay output can be large and repetitive; it is stored
// zstd-compressed and decompressed transparently on read.
func (s *Store) compressOutput(out []byte) []byte {
	if len(out) == 0 {
		return nil
	}
	return s.compressor.EncodeAll(out, make([]byte, 0, len(out)/2))
}

func (s *Store) decompressOutput(raw []byte) ([]byte, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	return s.decompressor.DecodeAll(raw, nil)
}

func nanoOrNil(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixNano()
}
