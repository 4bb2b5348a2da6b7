package services_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"storyboard-backend/internal/config"
	"storyboard-backend/internal/models"
	"storyboard-backend/internal/services"
	"storyboard-backend/internal/sora"
	"storyboard-backend/internal/store"
)

func TestRefreshTask_CompletedMultiShot(t *testing.T) {
	h := newHarness(t)
	h.scene("scene-1")
	h.shot("S1", "scene-1")
	h.shot("S2", "scene-1")
	h.task(models.Task{ID: "T1", SceneID: "scene-1", ShotIDs: []string{"S1", "S2"}, Status: models.TaskStatusProcessing, Progress: 40})
	h.provider.SetStatus("T1", "completed", 0, "https://ephemeral/x.mp4")

	res, err := h.svc.RefreshTask(context.Background(), testUser, "T1")
	require.NoError(t, err)

	task := h.getTask("T1")
	assert.Equal(t, models.TaskStatusCompleted, task.Status)
	assert.Equal(t, 100, task.Progress)
	require.NotEmpty(t, task.DurableURL)
	assert.Equal(t, "https://ephemeral/x.mp4", task.ProviderURL)
	assert.Equal(t, task.DurableURL, res.VideoURL)
	assert.True(t, res.Changed)
	assert.Empty(t, res.Warnings)

	s1, s2 := h.getShot("S1"), h.getShot("S2")
	assert.Equal(t, task.DurableURL, s1.VideoClip)
	assert.Equal(t, task.DurableURL, s2.VideoClip)
	assert.Equal(t, models.ShotStatusDone, s1.Status)
	assert.Equal(t, models.ShotStatusDone, s2.Status)
	assert.Len(t, h.history("S1"), 1)
	assert.Len(t, h.history("S2"), 1)

	gen, ok := h.sceneGeneration("scene-1")
	require.True(t, ok)
	assert.Equal(t, models.AggregateSuccess, gen.Status)
	assert.Equal(t, 100, gen.Progress)
	assert.Equal(t, task.DurableURL, gen.VideoURL)
}

func TestRefreshTask_ProgressNeverDecreases(t *testing.T) {
	h := newHarness(t)
	h.task(models.Task{ID: "v1", ShotID: "s1", Status: models.TaskStatusProcessing, Progress: 60})
	h.provider.SetStatus("v1", "in_progress", 30, "")

	res, err := h.svc.RefreshTask(context.Background(), testUser, "v1")
	require.NoError(t, err)
	assert.Equal(t, 60, res.Progress)
	assert.False(t, res.Changed)

	h.provider.SetStatus("v1", "running", 75, "")
	res, err = h.svc.RefreshTask(context.Background(), testUser, "v1")
	require.NoError(t, err)
	assert.Equal(t, 75, res.Progress)
	assert.Equal(t, models.TaskStatusProcessing, h.getTask("v1").Status)
}

func TestRefreshTask_Failed(t *testing.T) {
	h := newHarness(t)
	h.scene("scene-1")
	h.task(models.Task{ID: "v1", SceneID: "scene-1", ShotID: "s1", Status: models.TaskStatusProcessing, Progress: 20})
	h.provider.SetFailed("v1", "content policy")

	res, err := h.svc.RefreshTask(context.Background(), testUser, "v1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, res.Status)
	assert.Equal(t, "content policy", res.ErrorMessage)

	gen, ok := h.sceneGeneration("scene-1")
	require.True(t, ok)
	assert.Equal(t, models.AggregateFailed, gen.Status)
}

func TestRefreshTask_FailedWithoutReason(t *testing.T) {
	h := newHarness(t)
	h.task(models.Task{ID: "v1", ShotID: "s1", Status: models.TaskStatusProcessing})
	h.provider.SetStatus("v1", "failed", 0, "")

	res, err := h.svc.RefreshTask(context.Background(), testUser, "v1")
	require.NoError(t, err)
	assert.Equal(t, "generation failed", res.ErrorMessage)
}

func TestRefreshTask_TerminalTaskIsNotPolled(t *testing.T) {
	h := newHarness(t)
	h.task(models.Task{ID: "v1", ShotID: "s1", Status: models.TaskStatusCompleted, Progress: 100, DurableURL: "https://storage/v1.mp4"})

	res, err := h.svc.RefreshTask(context.Background(), testUser, "v1")
	require.NoError(t, err)
	assert.Equal(t, "https://storage/v1.mp4", res.VideoURL)
	assert.Equal(t, int32(0), h.provider.StatusCalls.Load())
	assert.Equal(t, int32(0), h.provider.LivenessCalls.Load())
}

func TestRefreshTask_Unreachable(t *testing.T) {
	h := newHarness(t)
	h.task(models.Task{ID: "v1", ShotID: "s1", Status: models.TaskStatusProcessing})
	h.provider.SetReachable(false)

	_, err := h.svc.RefreshTask(context.Background(), testUser, "v1")
	assert.ErrorIs(t, err, services.ErrProviderUnreachable)
	assert.Equal(t, int32(0), h.provider.StatusCalls.Load())
}

func TestRefreshTask_Ownership(t *testing.T) {
	h := newHarness(t)
	h.task(models.Task{ID: "v1", ShotID: "s1", UserID: "someone-else"})

	_, err := h.svc.RefreshTask(context.Background(), testUser, "v1")
	assert.ErrorIs(t, err, services.ErrForbidden)

	_, err = h.svc.RefreshTask(context.Background(), testUser, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRefreshTask_ProviderErrorLeavesTaskUntouched(t *testing.T) {
	h := newHarness(t)
	h.task(models.Task{ID: "v1", ShotID: "s1", Status: models.TaskStatusProcessing, Progress: 30})
	h.provider.SetStatusError("v1", &sora.APIError{StatusCode: 502, Body: "bad gateway"})

	_, err := h.svc.RefreshTask(context.Background(), testUser, "v1")
	require.Error(t, err)

	task := h.getTask("v1")
	assert.Equal(t, models.TaskStatusProcessing, task.Status)
	assert.Equal(t, 30, task.Progress)
}

func TestRefreshTask_UploadFailureFallsBackToProviderURL(t *testing.T) {
	h := newHarness(t)
	h.shot("s1", "")
	h.task(models.Task{ID: "v1", ShotID: "s1", Status: models.TaskStatusProcessing})
	h.provider.SetStatus("v1", "completed", 100, "https://ephemeral/v1.mp4")
	h.storage.SetError(errors.New("bucket unavailable"))

	res, err := h.svc.RefreshTask(context.Background(), testUser, "v1")
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], services.WarnUploadFailed)
	assert.Equal(t, "https://ephemeral/v1.mp4", h.getShot("s1").VideoClip)

	// Repair later materializes and repoints the shot.
	h.storage.SetError(nil)
	repaired, err := h.svc.RepairTask(context.Background(), h.getTask("v1"))
	require.NoError(t, err)
	assert.Empty(t, repaired.Warnings)
	task := h.getTask("v1")
	require.NotEmpty(t, task.DurableURL)
	assert.Equal(t, task.DurableURL, h.getShot("s1").VideoClip)
	assert.Len(t, h.history("s1"), 2)
}

func TestRefreshTask_CompletedWithoutURL(t *testing.T) {
	h := newHarness(t)
	h.shot("s1", "")
	h.task(models.Task{ID: "v1", ShotID: "s1", Status: models.TaskStatusProcessing})
	h.provider.SetStatus("v1", "completed", 100, "")

	res, err := h.svc.RefreshTask(context.Background(), testUser, "v1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, res.Status)
	assert.Equal(t, []string{services.WarnMissingVideoURL}, res.Warnings)
	assert.Empty(t, h.getShot("s1").VideoClip)
}

func TestRefreshTask_CancelledMidPollWritesNothing(t *testing.T) {
	h := newHarness(t)
	h.task(models.Task{ID: "v1", ShotID: "s1", Status: models.TaskStatusProcessing, Progress: 10})
	h.provider.SetStatus("v1", "processing", 90, "")

	ctx, cancel := context.WithCancel(context.Background())
	h.provider.StatusHook = func(context.Context, string) { cancel() }

	_, err := h.svc.RefreshTask(ctx, testUser, "v1")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 10, h.getTask("v1").Progress)
}

func TestRefreshBatch_IsolatesItems(t *testing.T) {
	h := newHarness(t)
	h.shot("s1", "")
	h.task(models.Task{ID: "ok", ShotID: "s1", Status: models.TaskStatusProcessing})
	h.task(models.Task{ID: "broken", ShotID: "s2", Status: models.TaskStatusProcessing})
	h.task(models.Task{ID: "foreign", ShotID: "s3", UserID: "other"})
	h.provider.SetStatus("ok", "completed", 100, "https://ephemeral/ok.mp4")
	h.provider.SetStatusError("broken", &sora.APIError{StatusCode: 500})

	report, err := h.svc.RefreshBatch(context.Background(), testUser, []string{"ok", "broken", "foreign", "missing", "ok"})
	require.NoError(t, err)

	assert.Equal(t, 4, report.Total)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 3, report.Failed)
	require.Len(t, report.Details, 4)
	assert.Equal(t, "ok", report.Details[0].TaskID)
	assert.Empty(t, report.Details[0].Error)
	assert.Equal(t, models.TaskStatusCompleted, report.Details[0].Status)
	assert.NotEmpty(t, report.Details[1].Error)
	assert.Equal(t, services.ErrForbidden.Error(), report.Details[2].Error)
	assert.Equal(t, store.ErrNotFound.Error(), report.Details[3].Error)
}

func TestRefreshBatch_Limits(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.RefreshBatch(context.Background(), testUser, nil)
	assert.ErrorIs(t, err, services.ErrInvalidRequest)

	ids := make([]string, config.MaxBatchLimit+1)
	for i := range ids {
		ids[i] = fmt.Sprintf("v%d", i)
	}
	_, err = h.svc.RefreshBatch(context.Background(), testUser, ids)
	assert.ErrorIs(t, err, services.ErrInvalidRequest)
}

func TestRefreshBatch_UnreachableFailsFast(t *testing.T) {
	h := newHarness(t)
	h.task(models.Task{ID: "v1", ShotID: "s1"})
	h.provider.SetReachable(false)

	_, err := h.svc.RefreshBatch(context.Background(), testUser, []string{"v1"})
	assert.ErrorIs(t, err, services.ErrProviderUnreachable)
	assert.Equal(t, int32(0), h.provider.StatusCalls.Load())
}

func TestRefreshBatch_BoundedConcurrency(t *testing.T) {
	h := newHarness(t, func(tn *config.Tuning) { tn.BatchConcurrency = 2 })
	ids := make([]string, 10)
	for i := range ids {
		ids[i] = fmt.Sprintf("v%02d", i)
		h.task(models.Task{ID: ids[i], ShotID: "s"})
	}

	_, err := h.svc.RefreshBatch(context.Background(), testUser, ids)
	require.NoError(t, err)
	assert.Equal(t, int32(10), h.provider.StatusCalls.Load())
	assert.LessOrEqual(t, h.provider.MaxInFlight.Load(), int32(2))
}

func TestSweep_UnreachablePollsNothing(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 10; i++ {
		h.task(models.Task{ID: fmt.Sprintf("q%d", i), ShotID: "s"})
	}
	h.provider.SetReachable(false)

	report, err := h.svc.Sweep(context.Background(), 30)
	assert.ErrorIs(t, err, services.ErrProviderUnreachable)
	assert.Nil(t, report)
	assert.Equal(t, int32(0), h.provider.StatusCalls.Load())
	for i := 0; i < 10; i++ {
		assert.Equal(t, models.TaskStatusQueued, h.getTask(fmt.Sprintf("q%d", i)).Status)
	}
}

func TestSweep_OldestFirstAndSkipsTerminal(t *testing.T) {
	h := newHarness(t)
	h.shot("s1", "")
	h.task(models.Task{ID: "old", ShotID: "s1", Status: models.TaskStatusProcessing})
	h.task(models.Task{ID: "done", ShotID: "s1", Status: models.TaskStatusCompleted, Progress: 100})
	h.task(models.Task{ID: "new", ShotID: "s1"})
	h.provider.SetStatus("old", "completed", 100, "https://ephemeral/old.mp4")

	report, err := h.svc.Sweep(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, 1, report.Total)
	assert.Equal(t, "old", report.Details[0].TaskID)

	report, err = h.svc.Sweep(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, 1, report.Total, "completed tasks are not swept again")
	assert.Equal(t, "new", report.Details[0].TaskID)
}

func TestSweep_RollsUpTouchedScenes(t *testing.T) {
	h := newHarness(t)
	h.scene("scene-1")
	h.task(models.Task{ID: "a", SceneID: "scene-1", ShotID: "s1", Status: models.TaskStatusProcessing})
	h.task(models.Task{ID: "b", SceneID: "scene-1", ShotID: "s2", Status: models.TaskStatusProcessing})
	h.provider.SetStatus("a", "processing", 50, "")
	h.provider.SetStatus("b", "processing", 70, "")

	report, err := h.svc.Sweep(context.Background(), 10)
	require.NoError(t, err)
	require.Contains(t, report.Scenes, "scene-1")
	assert.Equal(t, 60, report.Scenes["scene-1"].Progress)
	assert.Empty(t, report.Scenes["scene-1"].VideoURL)
}

func TestRepairSweep_ReconcilesCompletedTasks(t *testing.T) {
	h := newHarness(t)
	h.shot("s1", "")
	h.shot("s2", "")
	// Completed and materialized, but fan-out never ran.
	h.task(models.Task{ID: "c1", ShotID: "s1", Status: models.TaskStatusCompleted, Progress: 100, ProviderURL: "https://ephemeral/c1.mp4", DurableURL: "https://storage/c1.mp4"})
	// Completed but never materialized.
	h.task(models.Task{ID: "c2", ShotID: "s2", Status: models.TaskStatusCompleted, Progress: 100, ProviderURL: "https://ephemeral/c2.mp4"})
	// Unknown provider status left open.
	h.task(models.Task{ID: "odd", ShotID: "s3", Status: models.TaskStatus("cancelled"), ProjectID: testProject})
	h.provider.SetFailed("odd", "cancelled by provider")

	report, err := h.svc.RepairSweep(context.Background(), "", 10)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 0, report.Failed)

	assert.Equal(t, "https://storage/c1.mp4", h.getShot("s1").VideoClip)
	c2 := h.getTask("c2")
	require.NotEmpty(t, c2.DurableURL)
	assert.Equal(t, c2.DurableURL, h.getShot("s2").VideoClip)
	assert.Equal(t, models.TaskStatusFailed, h.getTask("odd").Status)

	// A second pass changes nothing.
	again, err := h.svc.RepairSweep(context.Background(), "", 10)
	require.NoError(t, err)
	for _, d := range again.Details {
		assert.False(t, d.Changed, d.TaskID)
	}
	assert.Len(t, h.history("s1"), 1)
	assert.Len(t, h.history("s2"), 1)
	assert.Equal(t, 1, h.storage.PutCount())
}

func TestRepairSweep_ProjectFilter(t *testing.T) {
	h := newHarness(t)
	h.task(models.Task{ID: "mine", ShotID: "s1", Status: models.TaskStatusCompleted, DurableURL: "https://storage/m.mp4"})
	h.task(models.Task{ID: "theirs", ShotID: "s2", Status: models.TaskStatusCompleted, ProjectID: "project-2", DurableURL: "https://storage/t.mp4"})

	report, err := h.svc.RepairSweep(context.Background(), testProject, 10)
	require.NoError(t, err)
	require.Equal(t, 1, report.Total)
	assert.Equal(t, "mine", report.Details[0].TaskID)
}

func TestRepairSweep_KeepsNewerResultAfterRestart(t *testing.T) {
	h := newHarness(t)
	older, newer := "https://storage/older.mp4", "https://storage/newer.mp4"
	h.task(models.Task{ID: "older", ShotID: "s1", Status: models.TaskStatusCompleted, Progress: 100, DurableURL: older})
	h.task(models.Task{ID: "newer", ShotID: "s1", Status: models.TaskStatusCompleted, Progress: 100, DurableURL: newer})
	h.shotShowing("s1", newer,
		models.GenerationHistoryEntry{ID: "e2", Result: newer, Parameters: models.HistoryParameters{TaskID: "newer"}},
		models.GenerationHistoryEntry{ID: "e1", Result: older, Parameters: models.HistoryParameters{TaskID: "older"}},
	)
	h.restart()

	report, err := h.svc.RepairSweep(context.Background(), "", 10)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Total)
	for _, d := range report.Details {
		assert.False(t, d.Changed, d.TaskID)
	}

	assert.Equal(t, newer, h.getShot("s1").VideoClip)
	history := h.history("s1")
	require.Len(t, history, 2)
	assert.Equal(t, []string{"e2", "e1"}, []string{history[0].ID, history[1].ID})
	assert.Empty(t, h.events.ofType(models.EventShotUpdated))

	// Both are settled and leave the repair queue.
	assert.NotNil(t, h.getTask("older").ReconciledAt)
	assert.NotNil(t, h.getTask("newer").ReconciledAt)
	again, err := h.svc.RepairSweep(context.Background(), "", 10)
	require.NoError(t, err)
	assert.Zero(t, again.Total)
}

func TestRepairSweep_LateOlderResultStaysBehindNewer(t *testing.T) {
	h := newHarness(t)
	newer := "https://storage/newer.mp4"
	settled := time.Now()
	h.task(models.Task{ID: "older", ShotID: "s1", Status: models.TaskStatusCompleted, Progress: 100, DurableURL: "https://storage/older.mp4"})
	h.task(models.Task{ID: "newer", ShotID: "s1", Status: models.TaskStatusCompleted, Progress: 100, DurableURL: newer, ReconciledAt: &settled})
	h.shotShowing("s1", newer, models.GenerationHistoryEntry{ID: "e2", Result: newer, Parameters: models.HistoryParameters{TaskID: "newer"}})

	report, err := h.svc.RepairSweep(context.Background(), "", 10)
	require.NoError(t, err)
	require.Equal(t, 1, report.Total)
	assert.Equal(t, "older", report.Details[0].TaskID)

	assert.Equal(t, newer, h.getShot("s1").VideoClip)
	history := h.history("s1")
	require.Len(t, history, 2)
	assert.Equal(t, newer, history[0].Result)
	assert.Equal(t, "https://storage/older.mp4", history[1].Result)
	assert.Equal(t, "older", history[1].Parameters.TaskID)
}

func TestRepairSweep_ReachesTasksBeyondFirstWindow(t *testing.T) {
	h := newHarness(t)
	tickingClock(h)
	for i := 1; i <= 3; i++ {
		id := fmt.Sprintf("c%d", i)
		h.shot("s"+id, "")
		h.task(models.Task{ID: id, ShotID: "s" + id, Status: models.TaskStatusCompleted, Progress: 100, DurableURL: "https://storage/" + id + ".mp4"})
	}
	ctx := context.Background()

	first, err := h.svc.RepairSweep(ctx, "", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c2"}, detailIDs(first))

	second, err := h.svc.RepairSweep(ctx, "", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"c3"}, detailIDs(second))
	assert.Equal(t, "https://storage/c3.mp4", h.getShot("sc3").VideoClip)

	third, err := h.svc.RepairSweep(ctx, "", 2)
	require.NoError(t, err)
	assert.Zero(t, third.Total)
}

func TestRepairSweep_RotatesPastUnfinishedTasks(t *testing.T) {
	h := newHarness(t)
	tickingClock(h)
	h.shot("s1", "")
	h.shot("s2", "")
	// Upload keeps failing, so c1 never settles.
	h.task(models.Task{ID: "c1", ShotID: "s1", Status: models.TaskStatusCompleted, Progress: 100, ProviderURL: "https://ephemeral/c1.mp4"})
	h.task(models.Task{ID: "c2", ShotID: "s2", Status: models.TaskStatusCompleted, Progress: 100, DurableURL: "https://storage/c2.mp4"})
	h.storage.SetError(errors.New("bucket unavailable"))
	ctx := context.Background()

	first, err := h.svc.RepairSweep(ctx, "", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, detailIDs(first))
	assert.Equal(t, "https://ephemeral/c1.mp4", h.getShot("s1").VideoClip)
	assert.Nil(t, h.getTask("c1").ReconciledAt)

	second, err := h.svc.RepairSweep(ctx, "", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"c2"}, detailIDs(second))
	assert.Equal(t, "https://storage/c2.mp4", h.getShot("s2").VideoClip)

	// Once storage recovers, the durable copy replaces the fallback.
	h.storage.SetError(nil)
	third, err := h.svc.RepairSweep(ctx, "", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, detailIDs(third))
	c1 := h.getTask("c1")
	require.NotEmpty(t, c1.DurableURL)
	assert.NotNil(t, c1.ReconciledAt)
	assert.Equal(t, c1.DurableURL, h.getShot("s1").VideoClip)
	assert.Len(t, h.history("s1"), 2)
}

func TestRepairSweep_ProjectScopeIgnoresOtherProjects(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 3; i++ {
		h.task(models.Task{ID: fmt.Sprintf("theirs-%d", i), ShotID: "x", ProjectID: "project-2", Status: models.TaskStatusProcessing})
	}
	h.shot("s1", "")
	h.task(models.Task{ID: "mine", ShotID: "s1", Status: models.TaskStatusProcessing})
	h.provider.SetStatus("mine", "in_progress", 50, "")

	report, err := h.svc.RepairSweep(context.Background(), testProject, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"mine"}, detailIDs(report))
	assert.Equal(t, 50, h.getTask("mine").Progress)
	assert.Equal(t, int32(1), h.provider.StatusCalls.Load())
}

func TestSubmitShotTask(t *testing.T) {
	h := newHarness(t)
	h.scene("scene-1")
	h.shot("s1", "scene-1")
	h.shot("s2", "scene-1")

	task, err := h.svc.SubmitShotTask(context.Background(), testUser, models.SubmitShotTaskRequest{
		ProjectID: testProject,
		SceneID:   "scene-1",
		ShotIDs:   []string{"s1", "s2", "s1"},
		Prompt:    "a chase through the market",
		Seconds:   8,
	})
	require.NoError(t, err)

	assert.Equal(t, models.TaskStatusQueued, task.Status)
	assert.Equal(t, []string{"s1", "s2"}, task.ShotIDs)
	stored := h.getTask(task.ID)
	assert.Equal(t, testUser, stored.UserID)

	require.Len(t, h.provider.Submitted, 1)
	assert.Equal(t, "sora-2", h.provider.Submitted[0].Model)
	assert.Equal(t, 8, h.provider.Submitted[0].Seconds)

	assert.Equal(t, models.ShotStatusProcessing, h.getShot("s1").Status)
	gen, ok := h.sceneGeneration("scene-1")
	require.True(t, ok)
	assert.Equal(t, models.AggregateProcessing, gen.Status)
	assert.Equal(t, task.ID, gen.TaskID)
}

func TestSubmitShotTask_Validation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.SubmitShotTask(ctx, testUser, models.SubmitShotTaskRequest{ProjectID: testProject, ShotID: "s1"})
	assert.ErrorIs(t, err, services.ErrInvalidRequest)

	_, err = h.svc.SubmitShotTask(ctx, testUser, models.SubmitShotTaskRequest{ProjectID: testProject, Prompt: "x"})
	assert.ErrorIs(t, err, services.ErrInvalidRequest)

	assert.Empty(t, h.provider.Submitted)
}

func TestApplyProviderUpdate(t *testing.T) {
	h := newHarness(t)
	h.shot("s1", "")
	h.task(models.Task{ID: "v1", ShotID: "s1", Status: models.TaskStatusProcessing})

	res, err := h.svc.ApplyProviderUpdate(context.Background(), &sora.StatusResponse{ID: "v1", Status: "completed", VideoURL: "https://ephemeral/v1.mp4"})
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, res.Status)
	assert.NotEmpty(t, h.getShot("s1").VideoClip)
	assert.Equal(t, int32(0), h.provider.StatusCalls.Load())

	_, err = h.svc.ApplyProviderUpdate(context.Background(), &sora.StatusResponse{ID: "nope", Status: "completed"})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestLiveEventsFollowDurableWrites(t *testing.T) {
	h := newHarness(t)
	h.scene("scene-1")
	h.shot("s1", "scene-1")
	h.task(models.Task{ID: "v1", SceneID: "scene-1", ShotID: "s1", Status: models.TaskStatusProcessing})
	h.provider.SetStatus("v1", "completed", 100, "https://ephemeral/v1.mp4")

	_, err := h.svc.RefreshTask(context.Background(), testUser, "v1")
	require.NoError(t, err)

	taskEvents := h.events.ofType(models.EventTaskUpdated)
	require.Len(t, taskEvents, 1)
	assert.Equal(t, "completed", taskEvents[0].Payload["status"])
	shotEvents := h.events.ofType(models.EventShotUpdated)
	require.Len(t, shotEvents, 1)
	assert.Equal(t, h.getShot("s1").VideoClip, shotEvents[0].Payload["video_clip"])
	rollups := h.events.ofType(models.EventSceneRollup)
	require.Len(t, rollups, 1)

	for _, evt := range append(append(taskEvents, shotEvents...), rollups...) {
		assert.Equal(t, testUser, evt.UserID, evt.Type)
	}
}
