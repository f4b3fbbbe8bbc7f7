package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	logx "blastd/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

const timeLayout = time.RFC3339Nano

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func fmtTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(v string) time.Time {
	t, err := time.Parse(timeLayout, v)
	if err != nil {
		return time.Time{}
	}
	return t
}

// ---- Projects ----

func (s *sqliteStore) CreateProject(ctx context.Context, p Project) error {
	now := time.Now()
	if p.Status == "" {
		p.Status = ProjectStopped
	}
	if p.ConfigJSON == "" {
		p.ConfigJSON = "{}"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projects(id, name, description, status, owner, config, created_at, updated_at)
		 VALUES(?,?,?,?,?,?,?,?)`,
		p.ID, p.Name, p.Description, p.Status, p.Owner, p.ConfigJSON, fmtTime(now), fmtTime(now),
	)
	return err
}

func (s *sqliteStore) GetProject(ctx context.Context, id string) (Project, error) {
	var p Project
	var created, updated string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, status, owner, config, created_at, updated_at FROM projects WHERE id = ?`, id,
	).Scan(&p.ID, &p.Name, &p.Description, &p.Status, &p.Owner, &p.ConfigJSON, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Project{}, ErrNotFound
	}
	if err != nil {
		return Project{}, err
	}
	p.CreatedAt = parseTime(created)
	p.UpdatedAt = parseTime(updated)
	return p, nil
}

func (s *sqliteStore) ListProjects(ctx context.Context) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, status, owner, config, created_at, updated_at FROM projects ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Project
	for rows.Next() {
		var p Project
		var created, updated string
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Status, &p.Owner, &p.ConfigJSON, &created, &updated); err != nil {
			return nil, err
		}
		p.CreatedAt = parseTime(created)
		p.UpdatedAt = parseTime(updated)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *sqliteStore) UpdateProject(ctx context.Context, p Project) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE projects SET name=?, description=?, owner=?, config=?, updated_at=? WHERE id=?`,
		p.Name, p.Description, p.Owner, p.ConfigJSON, fmtTime(time.Now()), p.ID,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *sqliteStore) DeleteProject(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	return err
}

func (s *sqliteStore) SetProjectStatus(ctx context.Context, id, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE projects SET status=?, updated_at=? WHERE id=?`, status, fmtTime(time.Now()), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// ---- Runs ----

func (s *sqliteStore) CreateRun(ctx context.Context, r Run) error {
	now := time.Now()
	if r.Status == "" {
		r.Status = RunQueued
	}
	if r.StatsJSON == "" {
		r.StatsJSON = RunStats{}.Encode()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(id, project_id, status, started_by, stats, created_at, updated_at)
		 VALUES(?,?,?,?,?,?,?)`,
		r.ID, r.ProjectID, r.Status, r.StartedBy, r.StatsJSON, fmtTime(r.CreatedAt), fmtTime(now),
	)
	return err
}

func (s *sqliteStore) GetRun(ctx context.Context, id string) (Run, error) {
	var r Run
	var created, updated string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, status, started_by, stats, created_at, updated_at FROM runs WHERE id = ?`, id,
	).Scan(&r.ID, &r.ProjectID, &r.Status, &r.StartedBy, &r.StatsJSON, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	if err != nil {
		return Run{}, err
	}
	r.CreatedAt = parseTime(created)
	r.UpdatedAt = parseTime(updated)
	return r, nil
}

func (s *sqliteStore) FindActiveRun(ctx context.Context, projectID string) (Run, bool, error) {
	var r Run
	var created, updated string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, status, started_by, stats, created_at, updated_at
		 FROM runs WHERE project_id = ? AND status IN ('queued','running')
		 ORDER BY created_at DESC LIMIT 1`, projectID,
	).Scan(&r.ID, &r.ProjectID, &r.Status, &r.StartedBy, &r.StatsJSON, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, false, nil
	}
	if err != nil {
		return Run{}, false, err
	}
	r.CreatedAt = parseTime(created)
	r.UpdatedAt = parseTime(updated)
	return r, true, nil
}

func (s *sqliteStore) SetRunStatus(ctx context.Context, id, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status=?, updated_at=? WHERE id=?`, status, fmtTime(time.Now()), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *sqliteStore) GetRunStatsRaw(ctx context.Context, runID string) (string, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT stats FROM runs WHERE id = ?`, runID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return raw, true, nil
}

func (s *sqliteStore) SetRunStats(ctx context.Context, runID string, stats RunStats) error {
	return s.SetRunStatsRaw(ctx, runID, stats.Encode())
}

func (s *sqliteStore) SetRunStatsRaw(ctx context.Context, runID, raw string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET stats=?, updated_at=? WHERE id=?`, raw, fmtTime(time.Now()), runID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *sqliteStore) ListStaleRunningRuns(ctx context.Context, olderThan time.Time) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.id, r.project_id, r.status, r.started_by, r.stats, r.created_at, r.updated_at
		 FROM runs r JOIN projects p ON r.project_id = p.id
		 WHERE r.status = 'running' AND p.status = 'running' AND r.created_at < ?`,
		fmtTime(olderThan),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var created, updated string
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.Status, &r.StartedBy, &r.StatsJSON, &created, &updated); err != nil {
			return nil, err
		}
		r.CreatedAt = parseTime(created)
		r.UpdatedAt = parseTime(updated)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) ListRunningProjectsWithoutRun(ctx context.Context) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT p.id, p.name, p.description, p.status, p.owner, p.config, p.created_at, p.updated_at
		 FROM projects p
		 WHERE p.status = 'running'
		 AND NOT EXISTS (SELECT 1 FROM runs r WHERE r.project_id = p.id AND r.status IN ('queued','running'))`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Project
	for rows.Next() {
		var p Project
		var created, updated string
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Status, &p.Owner, &p.ConfigJSON, &created, &updated); err != nil {
			return nil, err
		}
		p.CreatedAt = parseTime(created)
		p.UpdatedAt = parseTime(updated)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *sqliteStore) CountRunning(ctx context.Context) (HealthCounts, error) {
	var hc HealthCounts
	err := s.db.QueryRowContext(ctx,
		`SELECT
		   (SELECT COUNT(*) FROM projects WHERE status = 'running'),
		   (SELECT COUNT(*) FROM runs WHERE status = 'running')`,
	).Scan(&hc.RunningProjects, &hc.RunningRuns)
	return hc, err
}

// ---- Run logs ----

func (s *sqliteStore) AppendRunLog(ctx context.Context, runID, level, message string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_logs(run_id, level, message, created_at) VALUES(?,?,?,?)`,
		runID, level, message, fmtTime(time.Now()),
	)
	return err
}

func (s *sqliteStore) ListRunLogs(ctx context.Context, runID string, limit int) ([]RunLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, level, message, created_at FROM run_logs WHERE run_id = ? ORDER BY id DESC LIMIT ?`,
		runID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunLog
	for rows.Next() {
		var l RunLog
		var created string
		if err := rows.Scan(&l.ID, &l.RunID, &l.Level, &l.Message, &created); err != nil {
			return nil, err
		}
		l.CreatedAt = parseTime(created)
		out = append(out, l)
	}
	return out, rows.Err()
}

// ---- Sessions ----

func (s *sqliteStore) CreateSession(ctx context.Context, sess Session) error {
	if sess.Status == "" {
		sess.Status = "active"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(id, name, session_string, status, last_used_at, created_at) VALUES(?,?,?,?,?,?)`,
		sess.ID, sess.Name, sess.SessionString, sess.Status, nil, fmtTime(time.Now()),
	)
	return err
}

func (s *sqliteStore) GetSession(ctx context.Context, id string) (Session, error) {
	var sess Session
	var lastUsed sql.NullString
	var created string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, session_string, status, last_used_at, created_at FROM sessions WHERE id = ?`, id,
	).Scan(&sess.ID, &sess.Name, &sess.SessionString, &sess.Status, &lastUsed, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, err
	}
	if lastUsed.Valid {
		sess.LastUsedAt = parseTime(lastUsed.String)
	}
	sess.CreatedAt = parseTime(created)
	return sess, nil
}

func (s *sqliteStore) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, session_string, status, last_used_at, created_at FROM sessions ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var sess Session
		var lastUsed sql.NullString
		var created string
		if err := rows.Scan(&sess.ID, &sess.Name, &sess.SessionString, &sess.Status, &lastUsed, &created); err != nil {
			return nil, err
		}
		if lastUsed.Valid {
			sess.LastUsedAt = parseTime(lastUsed.String)
		}
		sess.CreatedAt = parseTime(created)
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *sqliteStore) DeleteSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	return err
}

func (s *sqliteStore) TouchSession(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET last_used_at=? WHERE id=?`, fmtTime(at), id)
	return err
}

// ---- Channels / categories ----

func (s *sqliteStore) CreateChannel(ctx context.Context, c Channel) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO channels(id, username, title, category_id, created_at) VALUES(?,?,?,?,?)`,
		c.ID, c.Username, c.Title, c.CategoryID, fmtTime(time.Now()),
	)
	return err
}

func (s *sqliteStore) ListChannels(ctx context.Context) ([]Channel, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, username, title, category_id, created_at FROM channels ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChannels(rows)
}

func (s *sqliteStore) DeleteChannel(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM channels WHERE id = ?`, id)
	return err
}

func (s *sqliteStore) CreateCategory(ctx context.Context, c Category) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO categories(id, name) VALUES(?,?)`, c.ID, c.Name)
	return err
}

func (s *sqliteStore) ListCategories(ctx context.Context) ([]Category, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM categories ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Category
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *sqliteStore) DeleteCategory(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM categories WHERE id = ?`, id)
	return err
}

// ---- Files ----

func (s *sqliteStore) CreateFile(ctx context.Context, f File) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO files(id, path, kind, created_at) VALUES(?,?,?,?)`,
		f.ID, f.Path, f.Kind, fmtTime(time.Now()),
	)
	return err
}

func (s *sqliteStore) GetFile(ctx context.Context, id string) (File, error) {
	var f File
	var created string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, path, kind, created_at FROM files WHERE id = ?`, id,
	).Scan(&f.ID, &f.Path, &f.Kind, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return File{}, ErrNotFound
	}
	if err != nil {
		return File{}, err
	}
	f.CreatedAt = parseTime(created)
	return f, nil
}

// ---- Project wiring ----

func (s *sqliteStore) SetProjectChannels(ctx context.Context, projectID string, channelIDs []string) error {
	return s.replaceLinks(ctx, "project_channels", "channel_id", projectID, channelIDs)
}

func (s *sqliteStore) ListProjectChannels(ctx context.Context, projectID string) ([]Channel, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.username, c.title, c.category_id, c.created_at
		 FROM channels c JOIN project_channels pc ON pc.channel_id = c.id
		 WHERE pc.project_id = ? ORDER BY c.created_at`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChannels(rows)
}

func (s *sqliteStore) SetProjectSessions(ctx context.Context, projectID string, sessionIDs []string) error {
	return s.replaceLinks(ctx, "project_sessions", "session_id", projectID, sessionIDs)
}

func (s *sqliteStore) ListProjectSessions(ctx context.Context, projectID string) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.id, s.name, s.session_string, s.status, s.last_used_at, s.created_at
		 FROM sessions s JOIN project_sessions ps ON ps.session_id = s.id
		 WHERE ps.project_id = ? ORDER BY s.created_at`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var sess Session
		var lastUsed sql.NullString
		var created string
		if err := rows.Scan(&sess.ID, &sess.Name, &sess.SessionString, &sess.Status, &lastUsed, &created); err != nil {
			return nil, err
		}
		if lastUsed.Valid {
			sess.LastUsedAt = parseTime(lastUsed.String)
		}
		sess.CreatedAt = parseTime(created)
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *sqliteStore) replaceLinks(ctx context.Context, table, col, projectID string, ids []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE project_id = ?`, table), projectID); err != nil {
		return err
	}
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf(`INSERT INTO %s(project_id, %s) VALUES(?,?)`, table, col), projectID, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) CreateProjectMessage(ctx context.Context, m ProjectMessage) error {
	if m.Type == "" {
		m.Type = MessageText
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO project_messages(id, project_id, type, content_ref, caption) VALUES(?,?,?,?,?)`,
		m.ID, m.ProjectID, m.Type, m.ContentRef, m.Caption,
	)
	return err
}

func (s *sqliteStore) ListProjectMessages(ctx context.Context, projectID string) ([]ProjectMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, type, content_ref, caption FROM project_messages WHERE project_id = ? ORDER BY id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ProjectMessage
	for rows.Next() {
		var m ProjectMessage
		if err := rows.Scan(&m.ID, &m.ProjectID, &m.Type, &m.ContentRef, &m.Caption); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *sqliteStore) DeleteProjectMessage(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM project_messages WHERE id = ?`, id)
	return err
}

func (s *sqliteStore) SetDelay(ctx context.Context, projectID string, betweenChannels time.Duration) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO delays(project_id, delay_between_channels_ms) VALUES(?,?)
		 ON CONFLICT(project_id) DO UPDATE SET delay_between_channels_ms=excluded.delay_between_channels_ms`,
		projectID, betweenChannels.Milliseconds(),
	)
	return err
}

func (s *sqliteStore) GetDelay(ctx context.Context, projectID string) (time.Duration, bool, error) {
	var ms int64
	err := s.db.QueryRowContext(ctx,
		`SELECT delay_between_channels_ms FROM delays WHERE project_id = ?`, projectID).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return time.Duration(ms) * time.Millisecond, true, nil
}

// ---- Pending jobs ----

func (s *sqliteStore) PutPendingJob(ctx context.Context, j PendingJob) error {
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pending_jobs(id, run_id, project_id, payload, visible_after, created_at)
		 VALUES(?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET payload=excluded.payload, visible_after=excluded.visible_after`,
		j.ID, j.RunID, j.ProjectID, j.Payload, j.VisibleAfter.UnixMilli(), fmtTime(j.CreatedAt),
	)
	return err
}

func (s *sqliteStore) GetPendingJob(ctx context.Context, id string) (PendingJob, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, run_id, project_id, payload, visible_after, created_at FROM pending_jobs WHERE id = ?`, id)
	var j PendingJob
	var visible int64
	var created string
	if err := row.Scan(&j.ID, &j.RunID, &j.ProjectID, &j.Payload, &visible, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return PendingJob{}, false, nil
		}
		return PendingJob{}, false, err
	}
	j.VisibleAfter = time.UnixMilli(visible)
	j.CreatedAt = parseTime(created)
	return j, true, nil
}

func (s *sqliteStore) DeletePendingJob(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM pending_jobs WHERE id = ?`, id)
	return err
}

func (s *sqliteStore) DeletePendingJobsByProject(ctx context.Context, projectID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM pending_jobs WHERE project_id = ?`, projectID)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *sqliteStore) ListPendingJobs(ctx context.Context) ([]PendingJob, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, project_id, payload, visible_after, created_at FROM pending_jobs ORDER BY visible_after`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PendingJob
	for rows.Next() {
		var j PendingJob
		var visible int64
		var created string
		if err := rows.Scan(&j.ID, &j.RunID, &j.ProjectID, &j.Payload, &visible, &created); err != nil {
			return nil, err
		}
		j.VisibleAfter = time.UnixMilli(visible)
		j.CreatedAt = parseTime(created)
		out = append(out, j)
	}
	return out, rows.Err()
}

func scanChannels(rows *sql.Rows) ([]Channel, error) {
	var out []Channel
	for rows.Next() {
		var c Channel
		var created string
		if err := rows.Scan(&c.ID, &c.Username, &c.Title, &c.CategoryID, &created); err != nil {
			return nil, err
		}
		c.CreatedAt = parseTime(created)
		out = append(out, c)
	}
	return out, rows.Err()
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
