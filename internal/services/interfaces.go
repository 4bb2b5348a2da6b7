package services

import (
	"context"
	"errors"

	"storyboard-backend/internal/models"
	"storyboard-backend/internal/sora"
)

var (
	// ErrProviderUnreachable means the liveness probe failed and no status
	// call was attempted.
	ErrProviderUnreachable = errors.New("provider unreachable")
	// ErrTaskTerminal is returned when polling a completed or failed task.
	ErrTaskTerminal = errors.New("task already in terminal state")
	// ErrMissingVideoURL means a completed task carries no result URL.
	ErrMissingVideoURL = errors.New("missing video url")
	// ErrForbidden means the caller does not own the record.
	ErrForbidden = errors.New("forbidden")
	// ErrPollingPaused means the bounded wait ran out of attempts.
	ErrPollingPaused = errors.New("polling paused, refresh manually")
	// ErrInvalidRequest wraps caller input problems.
	ErrInvalidRequest = errors.New("invalid request")
)

type TaskStore interface {
	CreateTask(ctx context.Context, task *models.Task) error
	GetTask(ctx context.Context, id string) (*models.Task, error)
	UpdateTask(ctx context.Context, id string, update models.TaskUpdate) (*models.Task, error)
	ListTasksByStatus(ctx context.Context, projectID string, statuses []models.TaskStatus, limit int) ([]*models.Task, error)
	ListOpenTasks(ctx context.Context, projectID string, limit int) ([]*models.Task, error)
	ListUnreconciledTasks(ctx context.Context, projectID string, limit int) ([]*models.Task, error)
	ListTasksByIDs(ctx context.Context, ids []string) ([]*models.Task, error)
	ListTasksByScene(ctx context.Context, sceneID string) ([]*models.Task, error)
}

type ShotStore interface {
	GetShot(ctx context.Context, id string) (*models.Shot, error)
	SaveShot(ctx context.Context, shot *models.Shot) error
}

type SceneStore interface {
	GetScene(ctx context.Context, id string) (*models.Scene, error)
	SaveScene(ctx context.Context, scene *models.Scene) error
}

type CharacterStore interface {
	GetCharacter(ctx context.Context, id string) (*models.Character, error)
	SaveCharacter(ctx context.Context, ch *models.Character) error
}

// Stores bundles every persistence dependency of the pipeline.
type Stores interface {
	TaskStore
	ShotStore
	SceneStore
	CharacterStore
}

// Provider is the subset of the video generation API the pipeline uses.
type Provider interface {
	Submit(ctx context.Context, req sora.SubmitRequest) (*sora.SubmitResponse, error)
	GetStatus(ctx context.Context, taskID string) (*sora.StatusResponse, error)
	RegisterCharacter(ctx context.Context, req sora.CharacterRequest) (*sora.CharacterResponse, error)
	AssertReachable(ctx context.Context) error
	DownloadFile(ctx context.Context, url string) ([]byte, error)
}

// ObjectStorage persists bytes and returns a durable URL.
type ObjectStorage interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// LivePublisher receives events after durable writes.
type LivePublisher interface {
	Publish(ctx context.Context, evt models.LiveEvent)
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, models.LiveEvent) {}
