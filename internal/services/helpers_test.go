package services_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"storyboard-backend/internal/config"
	"storyboard-backend/internal/logging"
	"storyboard-backend/internal/models"
	"storyboard-backend/internal/services"
	"storyboard-backend/internal/store"
	"storyboard-backend/internal/testutil"
)

const (
	testUser    = "user-1"
	testProject = "project-1"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []models.LiveEvent
}

func (r *eventRecorder) Publish(_ context.Context, evt models.LiveEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *eventRecorder) ofType(eventType string) []models.LiveEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.LiveEvent
	for _, e := range r.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

type harness struct {
	t        *testing.T
	store    *store.MemoryStore
	provider *testutil.FakeProvider
	storage  *testutil.FakeStorage
	events   *eventRecorder
	svc      *services.TaskService
	tuning   config.Tuning
	base     time.Time
	seq      int
}

func newHarness(t *testing.T, tune ...func(*config.Tuning)) *harness {
	t.Helper()
	tuning := config.DefaultTuning()
	tuning.LivenessTTL = 0
	for _, fn := range tune {
		fn(&tuning)
	}

	h := &harness{
		t:        t,
		store:    store.NewMemoryStore(),
		provider: testutil.NewFakeProvider(),
		storage:  testutil.NewFakeStorage(),
		events:   &eventRecorder{},
		tuning:   tuning,
		base:     time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	h.restart()
	return h
}

// restart replaces the service with a new one over the same stores, the way
// a process restart would. In-memory caches start empty.
func (h *harness) restart() {
	h.svc = services.NewTaskService(services.TaskServiceDeps{
		Stores:              h.store,
		Provider:            h.provider,
		Storage:             h.storage,
		Live:                h.events,
		Tuning:              h.tuning,
		Model:               "sora-2",
		CharacterTimestamps: "1,3",
		Logger:              logging.Discard(),
	})
}

// task stores a task owned by testUser. Creation times increase with each
// call so listing order is deterministic.
func (h *harness) task(task models.Task) *models.Task {
	h.t.Helper()
	h.seq++
	if task.UserID == "" {
		task.UserID = testUser
	}
	if task.ProjectID == "" {
		task.ProjectID = testProject
	}
	if task.Type == "" {
		task.Type = models.TaskTypeShotGeneration
	}
	if task.Status == "" {
		task.Status = models.TaskStatusQueued
	}
	task.CreatedAt = h.base.Add(time.Duration(h.seq) * time.Second)
	require.NoError(h.t, h.store.CreateTask(context.Background(), &task))
	return &task
}

func (h *harness) shot(id, sceneID string) {
	h.t.Helper()
	require.NoError(h.t, h.store.SaveShot(context.Background(), &models.Shot{
		ID:        id,
		ProjectID: testProject,
		SceneID:   sceneID,
		Status:    models.ShotStatusDraft,
		Metadata:  models.Metadata{},
	}))
}

// shotShowing stores a shot displaying clip with the given history.
func (h *harness) shotShowing(id, clip string, history ...models.GenerationHistoryEntry) {
	h.t.Helper()
	meta := models.Metadata{}
	require.NoError(h.t, meta.SetGenerationHistory(history))
	require.NoError(h.t, h.store.SaveShot(context.Background(), &models.Shot{
		ID:        id,
		ProjectID: testProject,
		VideoClip: clip,
		Status:    models.ShotStatusDone,
		Metadata:  meta,
	}))
}

func (h *harness) scene(id string) {
	h.t.Helper()
	require.NoError(h.t, h.store.SaveScene(context.Background(), &models.Scene{
		ID:        id,
		ProjectID: testProject,
		Metadata:  models.Metadata{},
	}))
}

func (h *harness) character(id string) {
	h.t.Helper()
	require.NoError(h.t, h.store.SaveCharacter(context.Background(), &models.Character{
		ID:                id,
		ProjectID:         testProject,
		UserID:            testUser,
		Name:              "Mara",
		ReferenceImageURL: "https://img.test/mara.png",
		Metadata:          models.Metadata{},
	}))
}

func (h *harness) getTask(id string) *models.Task {
	h.t.Helper()
	task, err := h.store.GetTask(context.Background(), id)
	require.NoError(h.t, err)
	return task
}

func (h *harness) getShot(id string) *models.Shot {
	h.t.Helper()
	shot, err := h.store.GetShot(context.Background(), id)
	require.NoError(h.t, err)
	return shot
}

func (h *harness) history(shotID string) []models.GenerationHistoryEntry {
	h.t.Helper()
	entries, err := h.getShot(shotID).Metadata.GenerationHistory()
	require.NoError(h.t, err)
	return entries
}

func (h *harness) identity(characterID string) (*models.Character, models.SoraIdentity) {
	h.t.Helper()
	ch, err := h.store.GetCharacter(context.Background(), characterID)
	require.NoError(h.t, err)
	id, err := ch.Metadata.SoraIdentity()
	require.NoError(h.t, err)
	return ch, id
}

func (h *harness) sceneGeneration(sceneID string) (models.SoraGeneration, bool) {
	h.t.Helper()
	scene, err := h.store.GetScene(context.Background(), sceneID)
	require.NoError(h.t, err)
	gen, ok, err := scene.Metadata.SoraGeneration()
	require.NoError(h.t, err)
	return gen, ok
}

// tickingClock makes every store write a millisecond later than the last so
// ordering by update time is deterministic.
func tickingClock(h *harness) {
	var ticks atomic.Int64
	h.store.SetClock(func() time.Time {
		return h.base.Add(time.Duration(ticks.Add(1)) * time.Millisecond)
	})
}

func detailIDs(report *models.BatchReport) []string {
	out := make([]string, 0, len(report.Details))
	for _, d := range report.Details {
		out = append(out, d.TaskID)
	}
	return out
}
