package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/chasecyang/shotrio-sub004/internal/domain"
)

// EnsureProject creates the project if it does not exist yet.
func (s *SQLiteStore) EnsureProject(ctx context.Context, projectID, name string) error {
	if name == "" {
		name = "Untitled project"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (project_id, name, created_at) VALUES (?, ?, ?)
		ON CONFLICT(project_id) DO NOTHING`,
		projectID, name, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("ensuring project: %w", err)
	}
	return nil
}

// GetProject returns the project or nil if it does not exist.
func (s *SQLiteStore) GetProject(ctx context.Context, projectID string) (*domain.Project, error) {
	var row struct {
		ProjectID string `db:"project_id"`
		Name      string `db:"name"`
		CreatedAt int64  `db:"created_at"`
	}
	err := s.db.GetContext(ctx, &row,
		`SELECT project_id, name, created_at FROM projects WHERE project_id = ?`, projectID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting project: %w", err)
	}
	return &domain.Project{ProjectID: row.ProjectID, Name: row.Name, CreatedAt: fromMillis(row.CreatedAt)}, nil
}

// RenameProject changes a project's name.
func (s *SQLiteStore) RenameProject(ctx context.Context, projectID, name string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE projects SET name = ? WHERE project_id = ?`, name, projectID)
	if err != nil {
		return false, fmt.Errorf("renaming project: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

type assetRow struct {
	AssetID   string         `db:"asset_id"`
	ProjectID string         `db:"project_id"`
	Kind      string         `db:"kind"`
	Name      string         `db:"name"`
	URI       sql.NullString `db:"uri"`
	Status    string         `db:"status"`
	Prompt    sql.NullString `db:"prompt"`
	JobID     sql.NullString `db:"job_id"`
	CreatedAt int64          `db:"created_at"`
}

func (r assetRow) toDomain() domain.Asset {
	return domain.Asset{
		AssetID:   r.AssetID,
		ProjectID: r.ProjectID,
		Kind:      domain.AssetKind(r.Kind),
		Name:      r.Name,
		URI:       r.URI.String,
		Status:    domain.AssetStatus(r.Status),
		Prompt:    r.Prompt.String,
		JobID:     r.JobID.String,
		CreatedAt: fromMillis(r.CreatedAt),
	}
}

const assetColumns = `asset_id, project_id, kind, name, uri, status, prompt, job_id, created_at`

// CreateAsset inserts an asset.
func (s *SQLiteStore) CreateAsset(ctx context.Context, a *domain.Asset) error {
	return insertAsset(ctx, s.db, a)
}

func insertAsset(ctx context.Context, db sqlx.ExecerContext, a *domain.Asset) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO assets (`+assetColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.AssetID, a.ProjectID, a.Kind, a.Name, nullString(a.URI), a.Status,
		nullString(a.Prompt), nullString(a.JobID), toMillis(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("creating asset: %w", err)
	}
	return nil
}

// GetAsset returns a live asset or nil.
func (s *SQLiteStore) GetAsset(ctx context.Context, assetID string) (*domain.Asset, error) {
	var row assetRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+assetColumns+` FROM assets WHERE asset_id = ? AND deleted_at IS NULL`, assetID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting asset: %w", err)
	}
	a := row.toDomain()
	return &a, nil
}

// ListAssets returns live assets of a project, newest first. An empty kind
// matches every kind.
func (s *SQLiteStore) ListAssets(ctx context.Context, projectID string, kind domain.AssetKind, limit int) ([]domain.Asset, error) {
	query := `SELECT ` + assetColumns + ` FROM assets WHERE project_id = ? AND deleted_at IS NULL`
	args := []any{projectID}
	if kind != "" {
		query += ` AND kind = ?`
		args = append(args, kind)
	}
	query += ` ORDER BY created_at DESC, asset_id ASC LIMIT ?`
	args = append(args, limit)

	var rows []assetRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("listing assets: %w", err)
	}
	out := make([]domain.Asset, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// DeleteAssets soft-deletes the given assets of a project and removes the
// clips that reference them. It returns the ids that were deleted.
func (s *SQLiteStore) DeleteAssets(ctx context.Context, projectID string, assetIDs []string) ([]string, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UnixMilli()
	var deleted []string
	for _, id := range assetIDs {
		res, err := tx.ExecContext(ctx,
			`UPDATE assets SET deleted_at = ? WHERE asset_id = ? AND project_id = ? AND deleted_at IS NULL`,
			now, id, projectID)
		if err != nil {
			return nil, fmt.Errorf("deleting asset %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			continue
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM clips WHERE asset_id = ?`, id); err != nil {
			return nil, fmt.Errorf("removing clips of %s: %w", id, err)
		}
		deleted = append(deleted, id)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing asset deletion: %w", err)
	}
	return deleted, nil
}

// CreateGenerationJob stores a queued job together with its placeholder assets.
func (s *SQLiteStore) CreateGenerationJob(ctx context.Context, job *domain.GenerationJob, assets []domain.Asset) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO generation_jobs (job_id, project_id, operation, params, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		job.JobID, job.ProjectID, job.Operation, job.Params, job.Status, toMillis(job.CreatedAt))
	if err != nil {
		return fmt.Errorf("creating generation job: %w", err)
	}
	for i := range assets {
		if err := insertAsset(ctx, tx, &assets[i]); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetGenerationJob returns a job or nil.
func (s *SQLiteStore) GetGenerationJob(ctx context.Context, jobID string) (*domain.GenerationJob, error) {
	var row struct {
		JobID     string         `db:"job_id"`
		ProjectID string         `db:"project_id"`
		Operation string         `db:"operation"`
		Params    sql.NullString `db:"params"`
		Status    string         `db:"status"`
		CreatedAt int64          `db:"created_at"`
	}
	err := s.db.GetContext(ctx, &row,
		`SELECT job_id, project_id, operation, params, status, created_at FROM generation_jobs WHERE job_id = ?`, jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting generation job: %w", err)
	}
	return &domain.GenerationJob{
		JobID:     row.JobID,
		ProjectID: row.ProjectID,
		Operation: row.Operation,
		Params:    row.Params.String,
		Status:    row.Status,
		CreatedAt: fromMillis(row.CreatedAt),
	}, nil
}

type clipRow struct {
	ClipID     string `db:"clip_id"`
	ProjectID  string `db:"project_id"`
	AssetID    string `db:"asset_id"`
	Track      int    `db:"track"`
	StartMs    int64  `db:"start_ms"`
	DurationMs int64  `db:"duration_ms"`
	CreatedAt  int64  `db:"created_at"`
}

func (r clipRow) toDomain() domain.Clip {
	return domain.Clip{
		ClipID:     r.ClipID,
		ProjectID:  r.ProjectID,
		AssetID:    r.AssetID,
		Track:      r.Track,
		StartMs:    r.StartMs,
		DurationMs: r.DurationMs,
		CreatedAt:  fromMillis(r.CreatedAt),
	}
}

const clipColumns = `clip_id, project_id, asset_id, track, start_ms, duration_ms, created_at`

// ListClips returns the timeline ordered by track and start.
func (s *SQLiteStore) ListClips(ctx context.Context, projectID string) ([]domain.Clip, error) {
	var rows []clipRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+clipColumns+` FROM clips WHERE project_id = ? ORDER BY track ASC, start_ms ASC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("listing clips: %w", err)
	}
	out := make([]domain.Clip, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// GetClip returns a clip or nil.
func (s *SQLiteStore) GetClip(ctx context.Context, clipID string) (*domain.Clip, error) {
	var row clipRow
	err := s.db.GetContext(ctx, &row, `SELECT `+clipColumns+` FROM clips WHERE clip_id = ?`, clipID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting clip: %w", err)
	}
	c := row.toDomain()
	return &c, nil
}

// CreateClip inserts a clip.
func (s *SQLiteStore) CreateClip(ctx context.Context, c *domain.Clip) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO clips (`+clipColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ClipID, c.ProjectID, c.AssetID, c.Track, c.StartMs, c.DurationMs, toMillis(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("creating clip: %w", err)
	}
	return nil
}

// UpdateClip stores a clip's placement.
func (s *SQLiteStore) UpdateClip(ctx context.Context, c *domain.Clip) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE clips SET track = ?, start_ms = ?, duration_ms = ? WHERE clip_id = ?`,
		c.Track, c.StartMs, c.DurationMs, c.ClipID)
	if err != nil {
		return fmt.Errorf("updating clip: %w", err)
	}
	return nil
}

// DeleteClip removes a clip from a project's timeline.
func (s *SQLiteStore) DeleteClip(ctx context.Context, projectID, clipID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM clips WHERE clip_id = ? AND project_id = ?`, clipID, projectID)
	if err != nil {
		return false, fmt.Errorf("deleting clip: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
