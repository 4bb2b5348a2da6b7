package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"storyboard-backend/internal/models"
	"storyboard-backend/internal/store"
)

// ComputeSceneAggregate summarizes a scene's tasks. Any failure marks the
// scene failed; it succeeds only when every task completed. The newest task
// (last by creation time) is the representative task id.
func ComputeSceneAggregate(tasks []*models.Task) models.SoraGeneration {
	gen := models.SoraGeneration{
		Status: models.AggregateProcessing,
		Tasks:  make([]string, 0, len(tasks)),
	}
	if len(tasks) == 0 {
		return gen
	}

	var (
		sum       int
		failed    bool
		completed int
		newest    *models.Task
	)
	for _, t := range tasks {
		gen.Tasks = append(gen.Tasks, t.ID)
		if newest == nil || !t.CreatedAt.Before(newest.CreatedAt) {
			newest = t
		}
		switch t.Status {
		case models.TaskStatusCompleted:
			completed++
			sum += 100
		case models.TaskStatusFailed:
			failed = true
			sum += clampProgress(t.Progress)
		default:
			sum += clampProgress(t.Progress)
		}
	}

	switch {
	case failed:
		gen.Status = models.AggregateFailed
	case completed == len(tasks):
		gen.Status = models.AggregateSuccess
	}
	gen.Progress = int(math.Round(float64(sum) / float64(len(tasks))))
	gen.TaskID = newest.ID
	if len(tasks) == 1 {
		gen.VideoURL = tasks[0].BestURL()
	}
	return gen
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// SceneRollup recomputes and stores the aggregate for touched scenes.
type SceneRollup struct {
	tasks  TaskStore
	scenes SceneStore
	live   LivePublisher
	logger *slog.Logger
	now    func() time.Time
}

func NewSceneRollup(tasks TaskStore, scenes SceneStore, live LivePublisher, logger *slog.Logger) *SceneRollup {
	if live == nil {
		live = noopPublisher{}
	}
	return &SceneRollup{tasks: tasks, scenes: scenes, live: live, logger: logger, now: time.Now}
}

// Rollup writes the scene aggregate into the scene's metadata, leaving other
// metadata keys alone. It returns nil when the scene has no tasks.
func (r *SceneRollup) Rollup(ctx context.Context, sceneID string) (*models.SoraGeneration, error) {
	tasks, err := r.tasks.ListTasksByScene(ctx, sceneID)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, nil
	}

	gen := ComputeSceneAggregate(tasks)
	gen.UpdatedAt = r.now().UTC()

	scene, err := r.scenes.GetScene(ctx, sceneID)
	if errors.Is(err, store.ErrNotFound) {
		r.logger.Warn("rollup scene not found", "scene_id", sceneID)
		return &gen, nil
	}
	if err != nil {
		return nil, err
	}
	if scene.Metadata == nil {
		scene.Metadata = models.Metadata{}
	}
	if err := scene.Metadata.SetSoraGeneration(gen); err != nil {
		return nil, err
	}
	if err := r.scenes.SaveScene(ctx, scene); err != nil {
		return nil, fmt.Errorf("failed to save scene rollup: %w", err)
	}

	payload := map[string]any{
		"task_id":  gen.TaskID,
		"status":   string(gen.Status),
		"progress": gen.Progress,
		"tasks":    gen.Tasks,
	}
	if gen.VideoURL != "" {
		payload["video_url"] = gen.VideoURL
	}
	r.live.Publish(ctx, models.LiveEvent{
		Type:      models.EventSceneRollup,
		ProjectID: scene.ProjectID,
		UserID:    ownerOf(tasks, gen.TaskID),
		EntityID:  scene.ID,
		Payload:   payload,
		Timestamp: gen.UpdatedAt,
	})
	return &gen, nil
}

func ownerOf(tasks []*models.Task, taskID string) string {
	for _, t := range tasks {
		if t.ID == taskID {
			return t.UserID
		}
	}
	if len(tasks) > 0 {
		return tasks[0].UserID
	}
	return ""
}

// RollupMany rolls up each scene once. Failures are logged and skipped.
func (r *SceneRollup) RollupMany(ctx context.Context, sceneIDs []string) map[string]models.SoraGeneration {
	out := make(map[string]models.SoraGeneration, len(sceneIDs))
	for _, id := range sceneIDs {
		if ctx.Err() != nil {
			break
		}
		gen, err := r.Rollup(ctx, id)
		if err != nil {
			r.logger.Error("scene rollup failed", "scene_id", id, "error", err)
			continue
		}
		if gen != nil {
			out[id] = *gen
		}
	}
	return out
}
