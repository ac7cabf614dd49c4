// Package sqlite provides the SQLite-backed session and round store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/dkeye/Estimate/internal/core"
	"github.com/dkeye/Estimate/internal/domain"
	"github.com/dkeye/Estimate/internal/storage/sqlite/migrations"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// Store persists sessions, rounds and votes in SQLite.
type Store struct {
	db *sql.DB
}

var _ core.Store = (*Store)(nil)

func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(v int64) time.Time { return time.UnixMilli(v).UTC() }

func nullMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

// Open opens the database at path and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// A single connection serializes writers; the conditional updates below
	// rely on it for read-after-write inside one transaction.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(context.Background(), db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *Store) FindSession(ctx context.Context, id domain.SessionID) (*domain.Session, error) {
	var (
		sess               domain.Session
		created, updated   int64
		status, votingMode string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, host_id, status, voting_mode, current_story_id, created_at, updated_at
		 FROM sessions WHERE id = ?`, string(id),
	).Scan(&sess.ID, &sess.Name, &sess.HostID, &status, &votingMode, &sess.CurrentStoryID, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	sess.Status = domain.SessionStatus(status)
	sess.VotingMode = domain.VotingMode(votingMode)
	sess.CreatedAt = fromMillis(created)
	sess.UpdatedAt = fromMillis(updated)

	if sess.Stories, err = s.stories(ctx, id); err != nil {
		return nil, err
	}
	if sess.Participants, err = s.participants(ctx, id); err != nil {
		return nil, err
	}
	return &sess, nil
}

const storyColumns = `id, title, description, status, final_estimate, repo, issue_number`

func scanStory(row rowScanner) (domain.Story, error) {
	var (
		st       domain.Story
		status   string
		estimate sql.NullFloat64
	)
	if err := row.Scan(&st.ID, &st.Title, &st.Description, &status, &estimate, &st.Repo, &st.IssueNumber); err != nil {
		return domain.Story{}, err
	}
	st.Status = domain.StoryStatus(status)
	st.FinalEstimate = nullFloat(estimate)
	return st, nil
}

func (s *Store) stories(ctx context.Context, id domain.SessionID) ([]domain.Story, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+storyColumns+` FROM stories WHERE session_id = ? ORDER BY position`, string(id))
	if err != nil {
		return nil, fmt.Errorf("list stories: %w", err)
	}
	defer rows.Close()

	out := []domain.Story{}
	for rows.Next() {
		st, err := scanStory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan story: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *Store) participants(ctx context.Context, id domain.SessionID) ([]domain.Participant, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, display_name, avatar_url, joined_at, online
		 FROM participants WHERE session_id = ? ORDER BY joined_at, user_id`, string(id))
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	out := []domain.Participant{}
	for rows.Next() {
		var (
			p      domain.Participant
			joined int64
		)
		if err := rows.Scan(&p.UserID, &p.DisplayName, &p.AvatarURL, &joined, &p.Online); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		p.JoinedAt = fromMillis(joined)
		out = append(out, p)
	}
	return out, rows.Err()
}

type execQuerier interface {
	querier
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// sessionGate reports why a write guarded by "status = 'active'" touched
// nothing: the session is missing or archived.
func sessionGate(ctx context.Context, q querier, id domain.SessionID) error {
	var status string
	err := q.QueryRowContext(ctx, `SELECT status FROM sessions WHERE id = ?`, string(id)).Scan(&status)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return core.ErrNotFound
	case err != nil:
		return fmt.Errorf("check session: %w", err)
	case status != string(domain.SessionActive):
		return core.ErrArchived
	}
	return nil
}

// updateActiveSession applies set to the session only while it is active.
func updateActiveSession(ctx context.Context, q execQuerier, id domain.SessionID, set string, args ...any) error {
	res, err := q.ExecContext(ctx,
		`UPDATE sessions SET `+set+` WHERE id = ? AND status = 'active'`, append(args, string(id))...)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	if err := sessionGate(ctx, q, id); err != nil {
		return err
	}
	return core.ErrConflict
}

func insertStory(ctx context.Context, q execQuerier, id domain.SessionID, st domain.Story) error {
	var estimate sql.NullFloat64
	if st.FinalEstimate != nil {
		estimate = sql.NullFloat64{Float64: *st.FinalEstimate, Valid: true}
	}
	if _, err := q.ExecContext(ctx,
		`INSERT INTO stories (session_id, id, position, title, description, status, final_estimate, repo, issue_number)
		 VALUES (?, ?, (SELECT COALESCE(MAX(position) + 1, 0) FROM stories WHERE session_id = ?), ?, ?, ?, ?, ?, ?)`,
		string(id), st.ID, string(id), st.Title, st.Description, string(st.Status), estimate, st.Repo, st.IssueNumber,
	); err != nil {
		return fmt.Errorf("insert story %s: %w", st.ID, err)
	}
	return nil
}

// insertParticipant adds p unless already known; online starts false and
// is owned by SetParticipantOnline.
func insertParticipant(ctx context.Context, q execQuerier, id domain.SessionID, p domain.Participant) (bool, error) {
	res, err := q.ExecContext(ctx,
		`INSERT INTO participants (session_id, user_id, display_name, avatar_url, joined_at, online)
		 VALUES (?, ?, ?, ?, ?, 0)
		 ON CONFLICT(session_id, user_id) DO NOTHING`,
		string(id), string(p.UserID), p.DisplayName, p.AvatarURL, toMillis(p.JoinedAt))
	if err != nil {
		return false, fmt.Errorf("insert participant %s: %w", p.UserID, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *Store) CreateSession(ctx context.Context, sess *domain.Session) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO sessions (id, name, host_id, status, voting_mode, current_story_id, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			string(sess.ID), sess.Name, string(sess.HostID), string(sess.Status), string(sess.VotingMode),
			sess.CurrentStoryID, toMillis(sess.CreatedAt), toMillis(sess.UpdatedAt),
		); err != nil {
			if isUniqueViolation(err) {
				return core.ErrConflict
			}
			return fmt.Errorf("insert session: %w", err)
		}
		for _, st := range sess.Stories {
			if err := insertStory(ctx, tx, sess.ID, st); err != nil {
				return err
			}
		}
		for _, p := range sess.Participants {
			if _, err := insertParticipant(ctx, tx, sess.ID, p); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) AddParticipant(ctx context.Context, id domain.SessionID, p domain.Participant) (bool, error) {
	var added bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := sessionGate(ctx, tx, id); err != nil {
			return err
		}
		var err error
		if added, err = insertParticipant(ctx, tx, id, p); err != nil || !added {
			return err
		}
		return updateActiveSession(ctx, tx, id, `updated_at = ?`, toMillis(p.JoinedAt))
	})
	return added, err
}

// SelectStory moves the current story pointer, upserts the story and opens
// its first round in one transaction.
func (s *Store) SelectStory(ctx context.Context, id domain.SessionID, story domain.Story, first *domain.Round) (domain.Story, *domain.Round, error) {
	var (
		out   domain.Story
		round *domain.Round
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := updateActiveSession(ctx, tx, id, `current_story_id = ?, updated_at = ?`,
			story.ID, toMillis(first.CreatedAt)); err != nil {
			return err
		}

		existing, err := scanStory(tx.QueryRowContext(ctx,
			`SELECT `+storyColumns+` FROM stories WHERE session_id = ? AND id = ?`, string(id), story.ID))
		switch {
		case errors.Is(err, sql.ErrNoRows):
			out = story.Fresh()
			if err := insertStory(ctx, tx, id, out); err != nil {
				return err
			}
		case err != nil:
			return fmt.Errorf("get story: %w", err)
		default:
			out = existing.Merge(story)
			if _, err := tx.ExecContext(ctx,
				`UPDATE stories SET title = ?, description = ?, repo = ?, issue_number = ?
				 WHERE session_id = ? AND id = ?`,
				out.Title, out.Description, out.Repo, out.IssueNumber, string(id), story.ID,
			); err != nil {
				return fmt.Errorf("update story: %w", err)
			}
		}

		round, err = latestRound(ctx, tx, id, story.ID)
		if !errors.Is(err, core.ErrNotFound) {
			return err
		}
		if err := insertRound(ctx, tx, first); err != nil {
			return err
		}
		round = first.Clone()
		return nil
	})
	if err != nil {
		return domain.Story{}, nil, err
	}
	return out, round, nil
}

func (s *Store) ClearStory(ctx context.Context, id domain.SessionID, at time.Time) error {
	return updateActiveSession(ctx, s.db, id, `current_story_id = '', updated_at = ?`, toMillis(at))
}

func (s *Store) ArchiveSession(ctx context.Context, id domain.SessionID, at time.Time) error {
	return updateActiveSession(ctx, s.db, id, `status = 'archived', updated_at = ?`, toMillis(at))
}

func (s *Store) SetParticipantOnline(ctx context.Context, id domain.SessionID, user domain.UserID, online bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE participants SET online = ? WHERE session_id = ? AND user_id = ?`,
		online, string(id), string(user))
	if err != nil {
		return fmt.Errorf("set online: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (s *Store) ResetPresence(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE participants SET online = 0 WHERE online <> 0`); err != nil {
		return fmt.Errorf("reset presence: %w", err)
	}
	return nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const roundColumns = `id, session_id, story_id, number, created_at, revealed_at, finalized_at, final_estimate,
	stat_average, stat_min, stat_max, stat_count, stat_total`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRound(row rowScanner) (*domain.Round, error) {
	var (
		r                     domain.Round
		created               int64
		revealed, finalized   sql.NullInt64
		estimate              sql.NullFloat64
		avg, minV, maxV       sql.NullFloat64
		statCount, statsTotal sql.NullInt64
	)
	if err := row.Scan(&r.ID, &r.SessionID, &r.StoryID, &r.Number, &created, &revealed, &finalized, &estimate,
		&avg, &minV, &maxV, &statCount, &statsTotal); err != nil {
		return nil, err
	}
	r.CreatedAt = fromMillis(created)
	r.RevealedAt = nullMillis(revealed)
	r.FinalizedAt = nullMillis(finalized)
	r.FinalEstimate = nullFloat(estimate)
	if avg.Valid {
		r.Stats = &domain.Stats{
			Average: avg.Float64,
			Min:     minV.Float64,
			Max:     maxV.Float64,
			Count:   int(statCount.Int64),
			Total:   int(statsTotal.Int64),
		}
	}
	r.Votes = make(map[domain.UserID]domain.Vote)
	return &r, nil
}

func loadVotes(ctx context.Context, q querier, r *domain.Round) error {
	rows, err := q.QueryContext(ctx,
		`SELECT user_id, username, value, cast_at FROM votes WHERE round_id = ?`, r.ID)
	if err != nil {
		return fmt.Errorf("list votes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			v    domain.Vote
			cast int64
		)
		if err := rows.Scan(&v.UserID, &v.Username, &v.Value, &cast); err != nil {
			return fmt.Errorf("scan vote: %w", err)
		}
		v.CastAt = fromMillis(cast)
		r.Votes[v.UserID] = v
	}
	return rows.Err()
}

func getRound(ctx context.Context, q querier, roundID string) (*domain.Round, error) {
	r, err := scanRound(q.QueryRowContext(ctx, `SELECT `+roundColumns+` FROM rounds WHERE id = ?`, roundID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get round: %w", err)
	}
	if err := loadVotes(ctx, q, r); err != nil {
		return nil, err
	}
	return r, nil
}

func latestRound(ctx context.Context, q querier, session domain.SessionID, story string) (*domain.Round, error) {
	r, err := scanRound(q.QueryRowContext(ctx,
		`SELECT `+roundColumns+` FROM rounds
		 WHERE session_id = ? AND story_id = ?
		 ORDER BY number DESC LIMIT 1`, string(session), story))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find current round: %w", err)
	}
	if err := loadVotes(ctx, q, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Store) FindCurrentRound(ctx context.Context, session domain.SessionID, story string) (*domain.Round, error) {
	return latestRound(ctx, s.db, session, story)
}

func (s *Store) ListRounds(ctx context.Context, session domain.SessionID, story string) ([]*domain.Round, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+roundColumns+` FROM rounds
		 WHERE session_id = ? AND story_id = ?
		 ORDER BY number`, string(session), story)
	if err != nil {
		return nil, fmt.Errorf("list rounds: %w", err)
	}
	var out []*domain.Round
	for rows.Next() {
		r, err := scanRound(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan round: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Votes are loaded after the cursor is closed; the pool has one connection.
	for _, r := range out {
		if err := loadVotes(ctx, s.db, r); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func insertRound(ctx context.Context, q execQuerier, r *domain.Round) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO rounds (id, session_id, story_id, number, created_at) VALUES (?, ?, ?, ?, ?)`,
		r.ID, string(r.SessionID), r.StoryID, r.Number, toMillis(r.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return core.ErrConflict
		}
		return fmt.Errorf("insert round: %w", err)
	}
	return nil
}

// InsertRound opens a re-vote round and returns an estimated story to ready
// in one transaction.
func (s *Store) InsertRound(ctx context.Context, r *domain.Round) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := updateActiveSession(ctx, tx, r.SessionID, `updated_at = ?`, toMillis(r.CreatedAt)); err != nil {
			return err
		}
		if err := insertRound(ctx, tx, r); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE stories SET status = 'ready', final_estimate = NULL
			 WHERE session_id = ? AND id = ? AND status = 'estimated'`,
			string(r.SessionID), r.StoryID,
		); err != nil {
			return fmt.Errorf("reset story: %w", err)
		}
		return nil
	})
}

// activeRound restricts a round write to rounds of active sessions.
const activeRound = `session_id IN (SELECT id FROM sessions WHERE status = 'active')`

// missOrConflict explains a conditional round write that touched no row.
func missOrConflict(ctx context.Context, q querier, roundID string) error {
	var status sql.NullString
	err := q.QueryRowContext(ctx,
		`SELECT s.status FROM rounds r LEFT JOIN sessions s ON s.id = r.session_id WHERE r.id = ?`, roundID,
	).Scan(&status)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return core.ErrNotFound
	case err != nil:
		return fmt.Errorf("check round: %w", err)
	case !status.Valid:
		return core.ErrNotFound
	case status.String != string(domain.SessionActive):
		return core.ErrArchived
	}
	return core.ErrConflict
}

func (s *Store) UpsertVote(ctx context.Context, roundID string, v domain.Vote) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO votes (round_id, user_id, username, value, cast_at)
		 SELECT ?, ?, ?, ?, ?
		 WHERE EXISTS (SELECT 1 FROM rounds WHERE id = ? AND revealed_at IS NULL AND `+activeRound+`)
		 ON CONFLICT(round_id, user_id) DO UPDATE SET
		   username = excluded.username,
		   value = excluded.value,
		   cast_at = excluded.cast_at`,
		roundID, string(v.UserID), v.Username, v.Value, toMillis(v.CastAt), roundID)
	if err != nil {
		return fmt.Errorf("upsert vote: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return missOrConflict(ctx, s.db, roundID)
	}
	return nil
}

func (s *Store) DeleteVote(ctx context.Context, roundID string, user domain.UserID) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM votes WHERE round_id = ? AND user_id = ?
		 AND EXISTS (SELECT 1 FROM rounds WHERE id = ? AND revealed_at IS NULL AND `+activeRound+`)`,
		roundID, string(user), roundID)
	if err != nil {
		return fmt.Errorf("delete vote: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	// Nothing deleted: either there was no vote or the round is closed.
	var open int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM rounds WHERE id = ? AND revealed_at IS NULL AND `+activeRound, roundID,
	).Scan(&open); err != nil {
		return fmt.Errorf("check round: %w", err)
	}
	if open > 0 {
		return nil
	}
	return missOrConflict(ctx, s.db, roundID)
}

// RevealRound claims the round with a set-if-null on revealed_at, then
// computes stats over the votes frozen by that claim, all in one transaction.
func (s *Store) RevealRound(ctx context.Context, roundID string, at time.Time, stats core.StatsFunc) (*domain.Round, error) {
	var out *domain.Round
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE rounds SET revealed_at = ? WHERE id = ? AND revealed_at IS NULL AND `+activeRound,
			toMillis(at), roundID)
		if err != nil {
			return fmt.Errorf("reveal round: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return missOrConflict(ctx, tx, roundID)
		}

		r, err := getRound(ctx, tx, roundID)
		if err != nil {
			return err
		}
		st, err := stats(r.VoteList())
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE rounds SET stat_average = ?, stat_min = ?, stat_max = ?, stat_count = ?, stat_total = ?
			 WHERE id = ?`,
			st.Average, st.Min, st.Max, st.Count, st.Total, roundID,
		); err != nil {
			return fmt.Errorf("store stats: %w", err)
		}
		r.Stats = &st
		out = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FinalizeRound records the estimate on the round and on its story in one
// transaction.
func (s *Store) FinalizeRound(ctx context.Context, roundID string, value float64, at time.Time) (*domain.Round, error) {
	var out *domain.Round
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE rounds SET finalized_at = ?, final_estimate = ?
			 WHERE id = ? AND revealed_at IS NOT NULL AND finalized_at IS NULL AND `+activeRound,
			toMillis(at), value, roundID)
		if err != nil {
			return fmt.Errorf("finalize round: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return missOrConflict(ctx, tx, roundID)
		}
		if out, err = getRound(ctx, tx, roundID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE stories SET status = 'estimated', final_estimate = ? WHERE session_id = ? AND id = ?`,
			value, string(out.SessionID), out.StoryID,
		); err != nil {
			return fmt.Errorf("mark story estimated: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE sessions SET updated_at = ? WHERE id = ?`, toMillis(at), string(out.SessionID),
		); err != nil {
			return fmt.Errorf("touch session: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
