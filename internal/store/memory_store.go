package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"storyboard-backend/internal/models"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// MemoryStore keeps tasks and storyboard entities in process memory. It
// backs the server when no database is configured, and the tests.
type MemoryStore struct {
	mu sync.RWMutex

	tasks      map[string]models.Task
	shots      map[string]models.Shot
	scenes     map[string]models.Scene
	characters map[string]models.Character

	now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:      map[string]models.Task{},
		shots:      map[string]models.Shot{},
		scenes:     map[string]models.Scene{},
		characters: map[string]models.Character{},
		now:        time.Now,
	}
}

// SetClock overrides the timestamp source.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) CreateTask(_ context.Context, task *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[task.ID]; ok {
		return ErrConflict
	}
	now := s.now().UTC()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now
	s.tasks[task.ID] = cloneTask(*task)
	return nil
}

func (s *MemoryStore) GetTask(_ context.Context, id string) (*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := cloneTask(task)
	return &out, nil
}

func (s *MemoryStore) UpdateTask(_ context.Context, id string, update models.TaskUpdate) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	update.Apply(&task)
	task.UpdatedAt = s.now().UTC()
	s.tasks[id] = task
	out := cloneTask(task)
	return &out, nil
}

func (s *MemoryStore) ListTasksByStatus(_ context.Context, projectID string, statuses []models.TaskStatus, limit int) ([]*models.Task, error) {
	want := make(map[models.TaskStatus]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	return s.listTasks(limit, func(t models.Task) bool {
		return want[t.Status] && (projectID == "" || t.ProjectID == projectID)
	}), nil
}

func (s *MemoryStore) ListOpenTasks(_ context.Context, projectID string, limit int) ([]*models.Task, error) {
	return s.listTasks(limit, func(t models.Task) bool {
		return !t.Status.IsTerminal() && (projectID == "" || t.ProjectID == projectID)
	}), nil
}

// ListUnreconciledTasks returns completed tasks without ReconciledAt, least
// recently touched first.
func (s *MemoryStore) ListUnreconciledTasks(_ context.Context, projectID string, limit int) ([]*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Task
	for _, task := range s.tasks {
		if task.Status != models.TaskStatusCompleted || task.ReconciledAt != nil {
			continue
		}
		if projectID != "" && task.ProjectID != projectID {
			continue
		}
		c := cloneTask(task)
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ListTasksByIDs(_ context.Context, ids []string) ([]*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Task, 0, len(ids))
	for _, id := range ids {
		if task, ok := s.tasks[id]; ok {
			c := cloneTask(task)
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListTasksByScene(_ context.Context, sceneID string) ([]*models.Task, error) {
	return s.listTasks(0, func(t models.Task) bool {
		return t.SceneID == sceneID
	}), nil
}

func (s *MemoryStore) listTasks(limit int, match func(models.Task) bool) []*models.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Task
	for _, task := range s.tasks {
		if match(task) {
			c := cloneTask(task)
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *MemoryStore) GetShot(_ context.Context, id string) (*models.Shot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	shot, ok := s.shots[id]
	if !ok {
		return nil, ErrNotFound
	}
	shot.Metadata = shot.Metadata.Clone()
	return &shot, nil
}

// SaveShot writes the pointer, status and metadata together.
func (s *MemoryStore) SaveShot(_ context.Context, shot *models.Shot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *shot
	c.Metadata = shot.Metadata.Clone()
	c.UpdatedAt = s.now().UTC()
	shot.UpdatedAt = c.UpdatedAt
	s.shots[shot.ID] = c
	return nil
}

func (s *MemoryStore) GetScene(_ context.Context, id string) (*models.Scene, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	scene, ok := s.scenes[id]
	if !ok {
		return nil, ErrNotFound
	}
	scene.Metadata = scene.Metadata.Clone()
	return &scene, nil
}

func (s *MemoryStore) SaveScene(_ context.Context, scene *models.Scene) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *scene
	c.Metadata = scene.Metadata.Clone()
	c.UpdatedAt = s.now().UTC()
	scene.UpdatedAt = c.UpdatedAt
	s.scenes[scene.ID] = c
	return nil
}

func (s *MemoryStore) GetCharacter(_ context.Context, id string) (*models.Character, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ch, ok := s.characters[id]
	if !ok {
		return nil, ErrNotFound
	}
	ch.Metadata = ch.Metadata.Clone()
	return &ch, nil
}

func (s *MemoryStore) SaveCharacter(_ context.Context, ch *models.Character) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *ch
	c.Metadata = ch.Metadata.Clone()
	c.UpdatedAt = s.now().UTC()
	ch.UpdatedAt = c.UpdatedAt
	s.characters[ch.ID] = c
	return nil
}

func cloneTask(t models.Task) models.Task {
	t.ShotIDs = append([]string(nil), t.ShotIDs...)
	t.ShotRanges = append([]models.ShotRange(nil), t.ShotRanges...)
	if t.ReconciledAt != nil {
		at := *t.ReconciledAt
		t.ReconciledAt = &at
	}
	return t
}
