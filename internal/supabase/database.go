package supabase

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"storyboard-backend/internal/database"
	"storyboard-backend/internal/models"
	"storyboard-backend/internal/store"
)

// DatabaseClient is the SQL implementation of the task and storyboard
// stores. It runs against Supabase Postgres in production and SQLite
// locally.
type DatabaseClient struct {
	db      *sql.DB
	dialect database.Dialect
	now     func() time.Time
}

// NewDatabaseClient opens dbURL and returns a client for it.
func NewDatabaseClient(dbURL string) (*DatabaseClient, error) {
	db, dialect, err := database.Open(dbURL)
	if err != nil {
		return nil, err
	}
	return NewDatabaseClientFromDB(db, dialect), nil
}

func NewDatabaseClientFromDB(db *sql.DB, dialect database.Dialect) *DatabaseClient {
	return &DatabaseClient{db: db, dialect: dialect, now: time.Now}
}

func (d *DatabaseClient) DB() *sql.DB {
	return d.db
}

func (d *DatabaseClient) Dialect() database.Dialect {
	return d.dialect
}

func (d *DatabaseClient) Close() error {
	return d.db.Close()
}

const taskColumns = `id, user_id, project_id, scene_id, character_id, shot_id, shot_ids, shot_ranges,
	type, status, progress, prompt, kaponai_url, r2_url, error_message, created_at, updated_at, reconciled_at`

func (d *DatabaseClient) CreateTask(ctx context.Context, task *models.Task) error {
	shotIDs, err := encodeJSON(task.ShotIDs, "[]")
	if err != nil {
		return err
	}
	shotRanges, err := encodeJSON(task.ShotRanges, "[]")
	if err != nil {
		return err
	}

	now := d.now().UTC()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now

	_, err = d.db.ExecContext(ctx, d.dialect.Rebind(`
		INSERT INTO sora_tasks (`+taskColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`),
		task.ID, task.UserID, task.ProjectID,
		nullString(task.SceneID), nullString(task.CharacterID), nullString(task.ShotID),
		shotIDs, shotRanges,
		string(task.Type), string(task.Status), task.Progress, task.Prompt,
		nullString(task.ProviderURL), nullString(task.DurableURL), nullString(task.ErrorMessage),
		database.FormatTime(task.CreatedAt), database.FormatTime(task.UpdatedAt), nullTime(task.ReconciledAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

func (d *DatabaseClient) GetTask(ctx context.Context, id string) (*models.Task, error) {
	row := d.db.QueryRowContext(ctx, d.dialect.Rebind(`
		SELECT `+taskColumns+` FROM sora_tasks WHERE id = $1
	`), id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return task, nil
}

// UpdateTask writes only the fields set in update.
func (d *DatabaseClient) UpdateTask(ctx context.Context, id string, update models.TaskUpdate) (*models.Task, error) {
	var sets []string
	var args []any
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if update.Status != nil {
		add("status", string(*update.Status))
	}
	if update.Progress != nil {
		add("progress", *update.Progress)
	}
	if update.ProviderURL != nil {
		add("kaponai_url", nullString(*update.ProviderURL))
	}
	if update.DurableURL != nil {
		add("r2_url", nullString(*update.DurableURL))
	}
	if update.ErrorMessage != nil {
		add("error_message", nullString(*update.ErrorMessage))
	}
	if update.ReconciledAt != nil {
		add("reconciled_at", nullTime(update.ReconciledAt))
	}
	add("updated_at", database.FormatTime(d.now()))
	args = append(args, id)

	query := fmt.Sprintf("UPDATE sora_tasks SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args))
	res, err := d.db.ExecContext(ctx, d.dialect.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update task: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, store.ErrNotFound
	}

	return d.GetTask(ctx, id)
}

// ListTasksByStatus returns tasks in any of statuses, oldest first. An empty
// projectID matches every project.
func (d *DatabaseClient) ListTasksByStatus(ctx context.Context, projectID string, statuses []models.TaskStatus, limit int) ([]*models.Task, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(statuses)+2)
	for _, s := range statuses {
		args = append(args, string(s))
	}
	query := `SELECT ` + taskColumns + ` FROM sora_tasks WHERE status IN (` + database.Placeholders(1, len(statuses)) + `)`
	if projectID != "" {
		args = append(args, projectID)
		query += fmt.Sprintf(" AND project_id = $%d", len(args))
	}
	query += " ORDER BY created_at ASC, id ASC"
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return d.queryTasks(ctx, "failed to list tasks by status", query, args...)
}

// ListOpenTasks returns every task that is neither completed nor failed,
// including tasks holding a status the provider introduced later. An empty
// projectID matches every project.
func (d *DatabaseClient) ListOpenTasks(ctx context.Context, projectID string, limit int) ([]*models.Task, error) {
	args := []any{string(models.TaskStatusCompleted), string(models.TaskStatusFailed)}
	query := `SELECT ` + taskColumns + ` FROM sora_tasks WHERE status NOT IN ($1, $2)`
	if projectID != "" {
		args = append(args, projectID)
		query += fmt.Sprintf(" AND project_id = $%d", len(args))
	}
	query += " ORDER BY created_at ASC, id ASC"
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return d.queryTasks(ctx, "failed to list open tasks", query, args...)
}

// ListUnreconciledTasks returns completed tasks not yet marked reconciled,
// least recently touched first so repeated passes rotate through them.
func (d *DatabaseClient) ListUnreconciledTasks(ctx context.Context, projectID string, limit int) ([]*models.Task, error) {
	args := []any{string(models.TaskStatusCompleted)}
	query := `SELECT ` + taskColumns + ` FROM sora_tasks WHERE status = $1 AND reconciled_at IS NULL`
	if projectID != "" {
		args = append(args, projectID)
		query += fmt.Sprintf(" AND project_id = $%d", len(args))
	}
	query += " ORDER BY updated_at ASC, id ASC"
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return d.queryTasks(ctx, "failed to list unreconciled tasks", query, args...)
}

func (d *DatabaseClient) ListTasksByIDs(ctx context.Context, ids []string) ([]*models.Task, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := `SELECT ` + taskColumns + ` FROM sora_tasks WHERE id IN (` + database.Placeholders(1, len(ids)) + `)`
	return d.queryTasks(ctx, "failed to list tasks by ids", query, args...)
}

func (d *DatabaseClient) ListTasksByScene(ctx context.Context, sceneID string) ([]*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM sora_tasks WHERE scene_id = $1 ORDER BY created_at ASC, id ASC`
	return d.queryTasks(ctx, "failed to list scene tasks", query, sceneID)
}

func (d *DatabaseClient) queryTasks(ctx context.Context, errMsg, query string, args ...any) ([]*models.Task, error) {
	rows, err := d.db.QueryContext(ctx, d.dialect.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errMsg, err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", errMsg, err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", errMsg, err)
	}
	return tasks, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*models.Task, error) {
	var (
		task                                  models.Task
		sceneID, characterID, shotID          sql.NullString
		providerURL, durableURL, errorMessage sql.NullString
		shotIDs, shotRanges                   string
		taskType, status                      string
		createdAt, updatedAt, reconciledAt    timestamp
	)
	err := row.Scan(
		&task.ID, &task.UserID, &task.ProjectID, &sceneID, &characterID, &shotID,
		&shotIDs, &shotRanges, &taskType, &status, &task.Progress, &task.Prompt,
		&providerURL, &durableURL, &errorMessage, &createdAt, &updatedAt, &reconciledAt,
	)
	if err != nil {
		return nil, err
	}

	task.SceneID = sceneID.String
	task.CharacterID = characterID.String
	task.ShotID = shotID.String
	task.Type = models.TaskType(taskType)
	task.Status = models.TaskStatus(status)
	task.ProviderURL = providerURL.String
	task.DurableURL = durableURL.String
	task.ErrorMessage = errorMessage.String
	task.CreatedAt = createdAt.Time
	task.UpdatedAt = updatedAt.Time
	if !reconciledAt.Time.IsZero() {
		at := reconciledAt.Time
		task.ReconciledAt = &at
	}

	if err := json.Unmarshal([]byte(shotIDs), &task.ShotIDs); err != nil {
		return nil, fmt.Errorf("failed to decode shot_ids: %w", err)
	}
	if err := json.Unmarshal([]byte(shotRanges), &task.ShotRanges); err != nil {
		return nil, fmt.Errorf("failed to decode shot_ranges: %w", err)
	}
	return &task, nil
}

func (d *DatabaseClient) GetShot(ctx context.Context, id string) (*models.Shot, error) {
	var (
		shot             models.Shot
		sceneID, clip    sql.NullString
		status, metadata string
		updatedAt        timestamp
	)
	err := d.db.QueryRowContext(ctx, d.dialect.Rebind(`
		SELECT id, project_id, scene_id, video_clip, status, metadata, updated_at
		FROM shots WHERE id = $1
	`), id).Scan(&shot.ID, &shot.ProjectID, &sceneID, &clip, &status, &metadata, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get shot: %w", err)
	}

	shot.SceneID = sceneID.String
	shot.VideoClip = clip.String
	shot.Status = models.ShotStatus(status)
	shot.UpdatedAt = updatedAt.Time
	if shot.Metadata, err = models.ParseMetadata([]byte(metadata)); err != nil {
		return nil, err
	}
	return &shot, nil
}

// SaveShot upserts the shot. Pointer, status and metadata are written in one
// statement so history and videoClip never diverge.
func (d *DatabaseClient) SaveShot(ctx context.Context, shot *models.Shot) error {
	metadata, err := shot.Metadata.Encode()
	if err != nil {
		return err
	}
	shot.UpdatedAt = d.now().UTC()

	_, err = d.db.ExecContext(ctx, d.dialect.Rebind(`
		INSERT INTO shots (id, project_id, scene_id, video_clip, status, metadata, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			video_clip = excluded.video_clip,
			status = excluded.status,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at
	`),
		shot.ID, shot.ProjectID, nullString(shot.SceneID), nullString(shot.VideoClip),
		string(shot.Status), metadata, database.FormatTime(shot.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save shot: %w", err)
	}
	return nil
}

func (d *DatabaseClient) GetScene(ctx context.Context, id string) (*models.Scene, error) {
	var (
		scene     models.Scene
		metadata  string
		updatedAt timestamp
	)
	err := d.db.QueryRowContext(ctx, d.dialect.Rebind(`
		SELECT id, project_id, metadata, updated_at FROM scenes WHERE id = $1
	`), id).Scan(&scene.ID, &scene.ProjectID, &metadata, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scene: %w", err)
	}

	scene.UpdatedAt = updatedAt.Time
	if scene.Metadata, err = models.ParseMetadata([]byte(metadata)); err != nil {
		return nil, err
	}
	return &scene, nil
}

func (d *DatabaseClient) SaveScene(ctx context.Context, scene *models.Scene) error {
	metadata, err := scene.Metadata.Encode()
	if err != nil {
		return err
	}
	scene.UpdatedAt = d.now().UTC()

	_, err = d.db.ExecContext(ctx, d.dialect.Rebind(`
		INSERT INTO scenes (id, project_id, metadata, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			metadata = excluded.metadata,
			updated_at = excluded.updated_at
	`), scene.ID, scene.ProjectID, metadata, database.FormatTime(scene.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to save scene: %w", err)
	}
	return nil
}

func (d *DatabaseClient) GetCharacter(ctx context.Context, id string) (*models.Character, error) {
	var (
		ch                 models.Character
		imageURL, videoURL sql.NullString
		metadata           string
		updatedAt          timestamp
	)
	err := d.db.QueryRowContext(ctx, d.dialect.Rebind(`
		SELECT id, project_id, user_id, name, reference_image_url, sora_reference_video_url, metadata, updated_at
		FROM characters WHERE id = $1
	`), id).Scan(&ch.ID, &ch.ProjectID, &ch.UserID, &ch.Name, &imageURL, &videoURL, &metadata, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get character: %w", err)
	}

	ch.ReferenceImageURL = imageURL.String
	ch.SoraReferenceVideoURL = videoURL.String
	ch.UpdatedAt = updatedAt.Time
	if ch.Metadata, err = models.ParseMetadata([]byte(metadata)); err != nil {
		return nil, err
	}
	return &ch, nil
}

func (d *DatabaseClient) SaveCharacter(ctx context.Context, ch *models.Character) error {
	metadata, err := ch.Metadata.Encode()
	if err != nil {
		return err
	}
	ch.UpdatedAt = d.now().UTC()

	_, err = d.db.ExecContext(ctx, d.dialect.Rebind(`
		INSERT INTO characters (id, project_id, user_id, name, reference_image_url, sora_reference_video_url, metadata, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			reference_image_url = excluded.reference_image_url,
			sora_reference_video_url = excluded.sora_reference_video_url,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at
	`),
		ch.ID, ch.ProjectID, ch.UserID, ch.Name,
		nullString(ch.ReferenceImageURL), nullString(ch.SoraReferenceVideoURL),
		metadata, database.FormatTime(ch.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save character: %w", err)
	}
	return nil
}

// AddWhitelistedUser grants access to userID.
func (d *DatabaseClient) AddWhitelistedUser(ctx context.Context, userID string) error {
	_, err := d.db.ExecContext(ctx, d.dialect.Rebind(`
		INSERT INTO user_whitelist (user_id, created_at) VALUES ($1, $2)
		ON CONFLICT (user_id) DO NOTHING
	`), userID, database.FormatTime(d.now()))
	if err != nil {
		return fmt.Errorf("failed to whitelist user: %w", err)
	}
	return nil
}

// IsAllowed checks the whitelist table directly.
func (d *DatabaseClient) IsAllowed(ctx context.Context, userID string) (bool, error) {
	var count int
	err := d.db.QueryRowContext(ctx, d.dialect.Rebind(
		"SELECT COUNT(*) FROM user_whitelist WHERE user_id = $1",
	), userID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check whitelist: %w", err)
	}
	return count > 0, nil
}

// timestamp scans the text timestamps written by FormatTime, and native
// time values from drivers that return them.
type timestamp struct {
	Time time.Time
}

func (t *timestamp) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		t.Time = time.Time{}
		return nil
	case time.Time:
		t.Time = v.UTC()
		return nil
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	default:
		return fmt.Errorf("unsupported timestamp type %T", src)
	}
}

func (t *timestamp) parse(s string) error {
	for _, layout := range []string{database.TimeLayout, time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("invalid timestamp %q", s)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil || t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: database.FormatTime(*t), Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// encodeJSON returns text, not bytes: lib/pq sends []byte as bytea.
func encodeJSON(v any, empty string) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode json: %w", err)
	}
	if string(data) == "null" {
		return empty, nil
	}
	return string(data), nil
}
