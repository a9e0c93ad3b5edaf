package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/streak-engine/internal/domain/microtask"
	"github.com/alem-hub/streak-engine/internal/domain/shared"
	"github.com/alem-hub/streak-engine/internal/domain/streak"
)

// ══════════════════════════════════════════════════════════════════════════════
// STORE
// ══════════════════════════════════════════════════════════════════════════════

// Store implements streak.Store on PostgreSQL.
//
// A per-user unit of work runs in one transaction holding a transaction-scoped
// advisory lock keyed by the user id, so two units of work for the same user
// never interleave, even across processes.
type Store struct {
	conn *Connection
}

var _ streak.Store = (*Store)(nil)

// NewStore creates a store over an open connection.
func NewStore(conn *Connection) *Store {
	return &Store{conn: conn}
}

// Ledgers returns a ledger repository outside any transaction.
func (s *Store) Ledgers() streak.LedgerRepository { return &LedgerRepository{q: s.conn.Pool()} }

// Grace returns a grace repository outside any transaction.
func (s *Store) Grace() streak.GraceRepository { return &GraceRepository{q: s.conn.Pool()} }

// MicroTasks returns a micro-task repository outside any transaction.
func (s *Store) MicroTasks() microtask.Repository { return &MicroTaskRepository{q: s.conn.Pool()} }

// Atomic runs fn as one transaction serialized per user.
func (s *Store) Atomic(ctx context.Context, userID shared.UserID, fn func(ctx context.Context, repos streak.Repositories) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.conn.WithUserTx(ctx, userID, func(tx pgx.Tx) error {
		return fn(ctx, txRepos{tx: tx})
	})
}

type txRepos struct {
	tx pgx.Tx
}

func (r txRepos) Ledgers() streak.LedgerRepository {
	return &LedgerRepository{q: r.tx, forUpdate: true}
}
func (r txRepos) Grace() streak.GraceRepository    { return &GraceRepository{q: r.tx, forUpdate: true} }
func (r txRepos) MicroTasks() microtask.Repository { return &MicroTaskRepository{q: r.tx} }

// ══════════════════════════════════════════════════════════════════════════════
// LEDGERS
// ══════════════════════════════════════════════════════════════════════════════

// LedgerRepository stores streak ledgers.
type LedgerRepository struct {
	q Querier

	// forUpdate row-locks reads inside a unit of work.
	forUpdate bool
}

const ledgerColumns = `
	user_id,
	attendance_current, attendance_longest, attendance_last_updated,
	task_current, task_longest, task_last_updated,
	total_points, restorations, badges,
	created_at, updated_at, version`

// Get returns the ledger or shared.ErrLedgerNotFound.
func (r *LedgerRepository) Get(ctx context.Context, userID shared.UserID) (*streak.Ledger, error) {
	query := `SELECT ` + ledgerColumns + ` FROM streak_ledgers WHERE user_id = $1` + lockClause(r.forUpdate)

	l, err := scanLedger(r.q.QueryRow(ctx, query, userID.String()))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrLedgerNotFound
		}
		return nil, fmt.Errorf("failed to get ledger: %w", err)
	}
	return l, nil
}

// Save upserts the ledger and bumps its version.
func (r *LedgerRepository) Save(ctx context.Context, l *streak.Ledger) error {
	badges, err := marshalBadges(l.Badges)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO streak_ledgers (
			user_id,
			attendance_current, attendance_longest, attendance_last_updated,
			task_current, task_longest, task_last_updated,
			total_points, restorations, badges,
			created_at, updated_at, version
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 1)
		ON CONFLICT (user_id) DO UPDATE SET
			attendance_current = EXCLUDED.attendance_current,
			attendance_longest = EXCLUDED.attendance_longest,
			attendance_last_updated = EXCLUDED.attendance_last_updated,
			task_current = EXCLUDED.task_current,
			task_longest = EXCLUDED.task_longest,
			task_last_updated = EXCLUDED.task_last_updated,
			total_points = EXCLUDED.total_points,
			restorations = EXCLUDED.restorations,
			badges = EXCLUDED.badges,
			updated_at = EXCLUDED.updated_at,
			version = streak_ledgers.version + 1
		RETURNING version`

	err = r.q.QueryRow(ctx, query,
		l.UserID.String(),
		l.Attendance.Current, l.Attendance.Longest, dateArg(l.Attendance.LastUpdated),
		l.Task.Current, l.Task.Longest, dateArg(l.Task.LastUpdated),
		l.TotalPoints, l.Restorations, badges,
		l.CreatedAt, l.UpdatedAt,
	).Scan(&l.Version)
	if err != nil {
		return fmt.Errorf("failed to save ledger: %w", err)
	}
	return nil
}

// ListUserIDs returns every user with a ledger, sorted.
func (r *LedgerRepository) ListUserIDs(ctx context.Context) ([]shared.UserID, error) {
	rows, err := r.q.Query(ctx, `SELECT user_id FROM streak_ledgers ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var ids []shared.UserID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		ids = append(ids, shared.UserID(id))
	}
	return ids, rows.Err()
}

func scanLedger(row pgx.Row) (*streak.Ledger, error) {
	var (
		l                 streak.Ledger
		userID            string
		attLast, taskLast *time.Time
		badges            []byte
	)
	err := row.Scan(
		&userID,
		&l.Attendance.Current, &l.Attendance.Longest, &attLast,
		&l.Task.Current, &l.Task.Longest, &taskLast,
		&l.TotalPoints, &l.Restorations, &badges,
		&l.CreatedAt, &l.UpdatedAt, &l.Version,
	)
	if err != nil {
		return nil, err
	}

	l.UserID = shared.UserID(userID)
	l.Attendance.LastUpdated = dateFrom(attLast)
	l.Task.LastUpdated = dateFrom(taskLast)
	if err := json.Unmarshal(badges, &l.Badges); err != nil {
		return nil, fmt.Errorf("failed to decode badges: %w", err)
	}
	return &l, nil
}

func marshalBadges(badges []streak.Badge) ([]byte, error) {
	if badges == nil {
		badges = []streak.Badge{}
	}
	data, err := json.Marshal(badges)
	if err != nil {
		return nil, fmt.Errorf("failed to encode badges: %w", err)
	}
	return data, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// GRACE
// ══════════════════════════════════════════════════════════════════════════════

// GraceRepository stores weekly grace states.
type GraceRepository struct {
	q         Querier
	forUpdate bool
}

// Get returns the state or shared.ErrGraceNotFound.
func (r *GraceRepository) Get(ctx context.Context, userID shared.UserID) (*streak.GraceState, error) {
	query := `
		SELECT user_id, used_this_week, last_grace_date, updated_at
		FROM grace_states
		WHERE user_id = $1` + lockClause(r.forUpdate)

	var (
		g    streak.GraceState
		id   string
		last *time.Time
	)
	err := r.q.QueryRow(ctx, query, userID.String()).Scan(&id, &g.UsedThisWeek, &last, &g.UpdatedAt)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrGraceNotFound
		}
		return nil, fmt.Errorf("failed to get grace state: %w", err)
	}
	g.UserID = shared.UserID(id)
	g.LastGraceDate = dateFrom(last)
	return &g, nil
}

// Save upserts the state.
func (r *GraceRepository) Save(ctx context.Context, g *streak.GraceState) error {
	query := `
		INSERT INTO grace_states (user_id, used_this_week, last_grace_date, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE SET
			used_this_week = EXCLUDED.used_this_week,
			last_grace_date = EXCLUDED.last_grace_date,
			updated_at = EXCLUDED.updated_at`

	_, err := r.q.Exec(ctx, query, g.UserID.String(), g.UsedThisWeek, dateArg(g.LastGraceDate), g.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save grace state: %w", err)
	}
	return nil
}

// ResetAll clears the flag for every user in one statement. Rows already
// clear are untouched, so a repeated reset affects nothing.
func (r *GraceRepository) ResetAll(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.q.Exec(ctx,
		`UPDATE grace_states SET used_this_week = FALSE, updated_at = $1 WHERE used_this_week`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to reset grace: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountUsed returns how many users have used grace this week.
func (r *GraceRepository) CountUsed(ctx context.Context) (int64, error) {
	var n int64
	if err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM grace_states WHERE used_this_week`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count grace: %w", err)
	}
	return n, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// MICRO-TASKS
// ══════════════════════════════════════════════════════════════════════════════

// MicroTaskRepository stores micro-tasks.
type MicroTaskRepository struct {
	q Querier
}

const taskColumns = `
	id, user_id, related_class_id, type, title, description, estimated_minutes,
	completed, completed_at, created_at, expires_at, streak_restore_eligible`

// Get returns the task or shared.ErrMicroTaskNotFound.
func (r *MicroTaskRepository) Get(ctx context.Context, id string) (*microtask.MicroTask, error) {
	query := `SELECT ` + taskColumns + ` FROM micro_tasks WHERE id = $1`

	t, err := scanTask(r.q.QueryRow(ctx, query, id))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrMicroTaskNotFound
		}
		return nil, fmt.Errorf("failed to get micro-task: %w", err)
	}
	return t, nil
}

// Save upserts the task. A second task for the same class is a conflict.
func (r *MicroTaskRepository) Save(ctx context.Context, t *microtask.MicroTask) error {
	query := `
		INSERT INTO micro_tasks (` + taskColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			completed = EXCLUDED.completed,
			completed_at = EXCLUDED.completed_at,
			expires_at = EXCLUDED.expires_at,
			streak_restore_eligible = EXCLUDED.streak_restore_eligible`

	_, err := r.q.Exec(ctx, query,
		t.ID, t.UserID.String(), t.RelatedClassID, string(t.Type), t.Title, t.Description, t.EstimatedMinutes,
		t.Completed, t.CompletedAt, t.CreatedAt, t.ExpiresAt, t.StreakRestoreEligible,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("failed to save micro-task: %w", shared.ErrAlreadyExists)
		}
		return fmt.Errorf("failed to save micro-task: %w", err)
	}
	return nil
}

// ListByUser returns the user's tasks, newest first.
func (r *MicroTaskRepository) ListByUser(ctx context.Context, userID shared.UserID) ([]*microtask.MicroTask, error) {
	query := `SELECT ` + taskColumns + `
		FROM micro_tasks
		WHERE user_id = $1
		ORDER BY created_at DESC, id`
	return r.list(ctx, query, userID.String())
}

// FindByClass returns the user's task for classRef or shared.ErrMicroTaskNotFound.
func (r *MicroTaskRepository) FindByClass(ctx context.Context, userID shared.UserID, classRef string) (*microtask.MicroTask, error) {
	if classRef == "" {
		return nil, shared.ErrMicroTaskNotFound
	}
	query := `SELECT ` + taskColumns + ` FROM micro_tasks WHERE user_id = $1 AND related_class_id = $2`

	t, err := scanTask(r.q.QueryRow(ctx, query, userID.String(), classRef))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrMicroTaskNotFound
		}
		return nil, fmt.Errorf("failed to find micro-task: %w", err)
	}
	return t, nil
}

// ListCompletedSince returns completed, still eligible tasks with completed_at >= since.
func (r *MicroTaskRepository) ListCompletedSince(ctx context.Context, userID shared.UserID, since time.Time) ([]*microtask.MicroTask, error) {
	query := `SELECT ` + taskColumns + `
		FROM micro_tasks
		WHERE user_id = $1
			AND completed
			AND streak_restore_eligible
			AND completed_at >= $2
		ORDER BY created_at DESC, id`
	return r.list(ctx, query, userID.String(), since)
}

func (r *MicroTaskRepository) list(ctx context.Context, query string, args ...interface{}) ([]*microtask.MicroTask, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list micro-tasks: %w", err)
	}
	defer rows.Close()

	var out []*microtask.MicroTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan micro-task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTask(row pgx.Row) (*microtask.MicroTask, error) {
	var (
		t        microtask.MicroTask
		userID   string
		taskType string
	)
	err := row.Scan(
		&t.ID, &userID, &t.RelatedClassID, &taskType, &t.Title, &t.Description, &t.EstimatedMinutes,
		&t.Completed, &t.CompletedAt, &t.CreatedAt, &t.ExpiresAt, &t.StreakRestoreEligible,
	)
	if err != nil {
		return nil, err
	}
	t.UserID = shared.UserID(userID)
	t.Type = microtask.Type(taskType)
	return &t, nil
}

func lockClause(forUpdate bool) string {
	if forUpdate {
		return ` FOR UPDATE`
	}
	return ""
}

// ══════════════════════════════════════════════════════════════════════════════
// DATE MAPPING
// ══════════════════════════════════════════════════════════════════════════════

// dateArg maps a zero date to SQL NULL.
func dateArg(d shared.Date) *time.Time {
	if d.IsZero() {
		return nil
	}
	t := d.Midnight(time.UTC)
	return &t
}

func dateFrom(t *time.Time) shared.Date {
	if t == nil {
		return shared.Date{}
	}
	return shared.DateOf(*t, time.UTC)
}
