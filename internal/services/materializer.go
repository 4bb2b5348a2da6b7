package services

import (
	"context"
	"fmt"
	"log/slog"

	"storyboard-backend/internal/models"
)

const videoContentType = "video/mp4"

// Object key namespaces.
const (
	KindShots      = "shots"
	KindCharacters = "characters"
	KindScenes     = "scenes"
)

// Materializer copies provider results into durable storage. Provider URLs
// expire, so a result is only safe once it has a durable URL.
type Materializer struct {
	downloader interface {
		DownloadFile(ctx context.Context, url string) ([]byte, error)
	}
	storage ObjectStorage
	tasks   TaskStore
	logger  *slog.Logger
}

func NewMaterializer(provider Provider, storage ObjectStorage, tasks TaskStore, logger *slog.Logger) *Materializer {
	return &Materializer{
		downloader: provider,
		storage:    storage,
		tasks:      tasks,
		logger:     logger,
	}
}

// ObjectKey builds "{userID}/{kind}/{entityID}/{filename}".
func ObjectKey(userID, kind, entityID, filename string) string {
	return fmt.Sprintf("%s/%s/%s/%s", userID, kind, entityID, filename)
}

// KeyFor picks the storage key for a task's result. The filename depends only
// on the task id so a retried upload replaces the same object.
func KeyFor(task *models.Task) string {
	filename := fmt.Sprintf("sora_%s.mp4", task.ID)
	if task.Type == models.TaskTypeCharacterReference && task.CharacterID != "" {
		return ObjectKey(task.UserID, KindCharacters, task.CharacterID, filename)
	}
	targets, ok := task.ResolveTargets()
	if targets.Multi && task.SceneID != "" {
		return ObjectKey(task.UserID, KindScenes, task.SceneID, filename)
	}
	if ok {
		return ObjectKey(task.UserID, KindShots, targets.IDs[0], filename)
	}
	if task.SceneID != "" {
		return ObjectKey(task.UserID, KindScenes, task.SceneID, filename)
	}
	return ObjectKey(task.UserID, KindShots, task.ID, filename)
}

// Materialize returns the task's durable URL, creating it if needed. It is a
// no-op when one is already recorded. On success task.DurableURL is updated
// in place and persisted.
func (m *Materializer) Materialize(ctx context.Context, task *models.Task) (string, error) {
	if task.DurableURL != "" {
		return task.DurableURL, nil
	}
	if task.ProviderURL == "" {
		return "", ErrMissingVideoURL
	}

	data, err := m.downloader.DownloadFile(ctx, task.ProviderURL)
	if err != nil {
		return "", fmt.Errorf("Failed to download video: %w", err)
	}

	key := KeyFor(task)
	durableURL, err := m.storage.Upload(ctx, key, data, videoContentType)
	if err != nil {
		return "", fmt.Errorf("failed to upload video: %w", err)
	}

	if _, err := m.tasks.UpdateTask(ctx, task.ID, models.TaskUpdate{DurableURL: &durableURL}); err != nil {
		return "", fmt.Errorf("failed to record durable url: %w", err)
	}
	task.DurableURL = durableURL

	m.logger.Info("materialized task result", "task_id", task.ID, "key", key, "bytes", len(data))
	return durableURL, nil
}
