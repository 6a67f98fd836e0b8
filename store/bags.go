package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/baggo/model"
)

// Upsert commits a bag record keyed on (file_path, fingerprint).
//
// Idempotency contract:
//   - no row for file_path: insert, fresh id and created_at
//   - row exists with the same fingerprint: no-op, the stored row is
//     returned unmodified
//   - row exists with a different fingerprint: replaced in place (same
//     id, fresh metadata, fresh created_at)
func (s *Store) Upsert(ctx context.Context, rec model.BagRecord) (*model.BagRecord, error) {
	if err := s.acquireWrite(ctx); err != nil {
		return nil, err
	}
	defer s.releaseWrite()

	existing, err := s.getByPath(ctx, rec.FilePath)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if existing != nil && existing.Fingerprint == rec.Fingerprint {
		return existing, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	var id model.BagID
	if existing == nil {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO bags (file_path, fingerprint, size_bytes, start_time, end_time,
			 duration_seconds, message_count, topic_count, category, truncated, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.FilePath, rec.Fingerprint, rec.SizeBytes,
			rec.StartTime.UnixNano(), rec.EndTime.UnixNano(),
			rec.Duration, rec.MessageCount, rec.TopicCount,
			rec.Category, rec.Truncated, now.UnixNano(),
		)
		if err != nil {
			return nil, err
		}
		rawID, err := res.LastInsertId()
		if err != nil {
			return nil, err
		}
		id = model.BagID(rawID)
	} else {
		id = existing.ID
		if _, err := tx.ExecContext(ctx,
			`UPDATE bags SET fingerprint=?, size_bytes=?, start_time=?, end_time=?,
			 duration_seconds=?, message_count=?, topic_count=?, category=?, truncated=?, created_at=?
			 WHERE id=?`,
			rec.Fingerprint, rec.SizeBytes,
			rec.StartTime.UnixNano(), rec.EndTime.UnixNano(),
			rec.Duration, rec.MessageCount, rec.TopicCount,
			rec.Category, rec.Truncated, now.UnixNano(), id,
		); err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM bag_topics WHERE bag_id=?`, id); err != nil {
			return nil, err
		}
	}

	for _, tc := range rec.TopicCounts {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO bag_topics (bag_id, topic_name, message_type, message_count) VALUES (?, ?, ?, ?)`,
			id, tc.Topic, tc.MessageType, tc.MessageCount,
		); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	rec.ID = id
	rec.CreatedAt = now
	return &rec, nil
}

// Get returns the bag record with the given id.
func (s *Store) Get(ctx context.Context, id model.BagID) (*model.BagRecord, error) {
	return s.one(ctx, `WHERE id=?`, id)
}

// GetByPath returns the bag record for a file path.
func (s *Store) GetByPath(ctx context.Context, path string) (*model.BagRecord, error) {
	return s.getByPath(ctx, path)
}

func (s *Store) getByPath(ctx context.Context, path string) (*model.BagRecord, error) {
	return s.one(ctx, `WHERE file_path=?`, path)
}

const bagColumns = `id, file_path, fingerprint, size_bytes, start_time, end_time,
	duration_seconds, message_count, topic_count, category, truncated, created_at`

func (s *Store) one(ctx context.Context, where string, arg any) (*model.BagRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+bagColumns+` FROM bags `+where, arg)
	rec, err := scanBag(row)
	if err != nil {
		return nil, err
	}
	if err := s.loadTopics(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBag(row rowScanner) (*model.BagRecord, error) {
	var rec model.BagRecord
	var start, end, created int64
	err := row.Scan(&rec.ID, &rec.FilePath, &rec.Fingerprint, &rec.SizeBytes,
		&start, &end, &rec.Duration, &rec.MessageCount, &rec.TopicCount,
		&rec.Category, &rec.Truncated, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rec.StartTime = time.Unix(0, start).UTC()
	rec.EndTime = time.Unix(0, end).UTC()
	rec.CreatedAt = time.Unix(0, created).UTC()
	return &rec, nil
}

func (s *Store) loadTopics(ctx context.Context, rec *model.BagRecord) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT topic_name, message_type, message_count FROM bag_topics WHERE bag_id=? ORDER BY topic_name`,
		rec.ID,
	)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var tc model.TopicCount
		if err := rows.Scan(&tc.Topic, &tc.MessageType, &tc.MessageCount); err != nil {
			return err
		}
		rec.TopicCounts = append(rec.TopicCounts, tc)
	}
	return rows.Err()
}

// Query filters and pages a bag listing.
type Query struct {
	Category   string
	PathPrefix string
	// SortBy is one of "created_at" (default), "file_path",
	// "duration", "size", "start_time".
	SortBy     string
	Descending bool
	Limit      int
	Offset     int
}

var sortColumns = map[string]string{
	"":           "created_at",
	"created_at": "created_at",
	"file_path":  "file_path",
	"duration":   "duration_seconds",
	"size":       "size_bytes",
	"start_time": "start_time",
}

// List returns bag records matching the query.
func (s *Store) List(ctx context.Context, q Query) ([]*model.BagRecord, error) {
	col, ok := sortColumns[q.SortBy]
	if !ok {
		return nil, fmt.Errorf("unknown sort key %q", q.SortBy)
	}

	var where []string
	var args []any
	if q.Category != "" {
		where = append(where, "category=?")
		args = append(args, q.Category)
	}
	if q.PathPrefix != "" {
		where = append(where, "file_path LIKE ?")
		args = append(args, q.PathPrefix+"%")
	}

	sb := strings.Builder{}
	sb.WriteString(`SELECT ` + bagColumns + ` FROM bags`)
	if len(where) > 0 {
		sb.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	sb.WriteString(" ORDER BY " + col)
	if q.Descending {
		sb.WriteString(" DESC")
	}
	if q.Limit > 0 {
		sb.WriteString(" LIMIT ?")
		args = append(args, q.Limit)
		if q.Offset > 0 {
			sb.WriteString(" OFFSET ?")
			args = append(args, q.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.BagRecord
	for rows.Next() {
		rec, err := scanBag(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, rec := range out {
		if err := s.loadTopics(ctx, rec); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Delete removes a bag record and its per-topic rows. The bag file on
// disk is owned by the filesystem and is left alone.
func (s *Store) Delete(ctx context.Context, id model.BagID) error {
	if err := s.acquireWrite(ctx); err != nil {
		return err
	}
	defer s.releaseWrite()

	res, err := s.db.ExecContext(ctx, `DELETE FROM bags WHERE id=?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Stats summarizes the store's contents.
type Stats struct {
	BagCount       int64
	TotalSizeBytes int64
	TotalMessages  int64
	ByCategory     map[string]int64
}

// Stats reports aggregate figures over all bags.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{ByCategory: map[string]int64{}}
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(size_bytes),0), COALESCE(SUM(message_count),0) FROM bags`)
	if err := row.Scan(&st.BagCount, &st.TotalSizeBytes, &st.TotalMessages); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT category, COUNT(*) FROM bags GROUP BY category`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var cat string
		var n int64
		if err := rows.Scan(&cat, &n); err != nil {
			return nil, err
		}
		st.ByCategory[cat] = n
	}
	return st, rows.Err()
}
