package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"storyboard-backend/internal/config"
	"storyboard-backend/internal/models"
	"storyboard-backend/internal/sora"
	"storyboard-backend/internal/store"
)

type TaskServiceDeps struct {
	Stores              Stores
	Provider            Provider
	Storage             ObjectStorage
	Live                LivePublisher
	Tuning              config.Tuning
	Model               string
	CharacterTimestamps string
	Logger              *slog.Logger
}

// TaskService drives generation tasks from submission to fan-out. Each task
// goes through the same fixed order: persist status and progress, then
// materialize the result, then reconcile it into shots or characters.
type TaskService struct {
	stores       Stores
	provider     Provider
	liveness     *LivenessProbe
	poller       *Poller
	materializer *Materializer
	reconciler   *Reconciler
	rollup       *SceneRollup
	live         LivePublisher
	tuning       config.Tuning
	model        string
	logger       *slog.Logger
	now          func() time.Time
}

func NewTaskService(deps TaskServiceDeps) *TaskService {
	live := deps.Live
	if live == nil {
		live = noopPublisher{}
	}
	logger := deps.Logger
	tuning := deps.Tuning
	tuning.Normalize()

	return &TaskService{
		stores:       deps.Stores,
		provider:     deps.Provider,
		liveness:     NewLivenessProbe(deps.Provider, tuning.LivenessTTL, logger),
		poller:       NewPoller(deps.Provider, logger),
		materializer: NewMaterializer(deps.Provider, deps.Storage, deps.Stores, logger),
		reconciler: NewReconciler(deps.Stores, deps.Provider, ReconcilerOptions{
			Model:      deps.Model,
			Timestamps: deps.CharacterTimestamps,
			Live:       live,
		}, logger),
		rollup: NewSceneRollup(deps.Stores, deps.Stores, live, logger),
		live:   live,
		tuning: tuning,
		model:  deps.Model,
		logger: logger,
		now:    time.Now,
	}
}

func (s *TaskService) Tuning() config.Tuning {
	return s.tuning
}

func (s *TaskService) Reconciler() *Reconciler {
	return s.reconciler
}

func (s *TaskService) Rollup() *SceneRollup {
	return s.rollup
}

// CheckLiveness runs the cached provider probe.
func (s *TaskService) CheckLiveness(ctx context.Context) error {
	return s.liveness.Check(ctx)
}

// SubmitShotTask starts a provider job for one or more shots and records it
// as queued.
func (s *TaskService) SubmitShotTask(ctx context.Context, userID string, req models.SubmitShotTaskRequest) (*models.Task, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, fmt.Errorf("%w: prompt is required", ErrInvalidRequest)
	}
	if req.ProjectID == "" {
		return nil, fmt.Errorf("%w: project_id is required", ErrInvalidRequest)
	}

	draft := &models.Task{
		UserID:     userID,
		ProjectID:  req.ProjectID,
		SceneID:    req.SceneID,
		ShotID:     req.ShotID,
		ShotIDs:    req.ShotIDs,
		ShotRanges: req.ShotRanges,
		Type:       models.TaskTypeShotGeneration,
		Prompt:     req.Prompt,
	}
	targets, ok := draft.ResolveTargets()
	if !ok {
		return nil, fmt.Errorf("%w: shot_id or shot_ids is required", ErrInvalidRequest)
	}
	if targets.Multi {
		draft.ShotIDs = targets.IDs
		draft.ShotID = ""
	}

	model := req.Model
	if model == "" {
		model = s.model
	}
	resp, err := s.provider.Submit(ctx, sora.SubmitRequest{
		Model:      model,
		Prompt:     req.Prompt,
		Seconds:    req.Seconds,
		Size:       req.Size,
		Images:     req.ImageURLs,
		Characters: req.Characters,
	})
	if err != nil {
		return nil, err
	}

	task, err := s.createQueued(ctx, draft, resp.ID)
	if err != nil {
		return nil, err
	}

	for _, shotID := range targets.IDs {
		s.markShotProcessing(ctx, shotID)
	}
	if task.SceneID != "" {
		if _, err := s.rollup.Rollup(ctx, task.SceneID); err != nil {
			s.logger.Warn("scene rollup after submit failed", "scene_id", task.SceneID, "error", err)
		}
	}
	return task, nil
}

// SubmitCharacterTask starts a reference video job for a character.
func (s *TaskService) SubmitCharacterTask(ctx context.Context, userID string, ch *models.Character, req models.StartCharacterRequest) (*models.Task, error) {
	prompt := req.Prompt
	if prompt == "" {
		prompt = fmt.Sprintf("Reference video of %s turning slowly to camera, neutral background, even lighting.", ch.Name)
	}
	imageURL := req.ReferenceImageURL
	if imageURL == "" {
		imageURL = ch.ReferenceImageURL
	}
	var images []string
	if imageURL != "" {
		images = []string{imageURL}
	}
	model := req.Model
	if model == "" {
		model = s.model
	}

	resp, err := s.provider.Submit(ctx, sora.SubmitRequest{
		Model:   model,
		Prompt:  prompt,
		Seconds: req.Seconds,
		Images:  images,
	})
	if err != nil {
		return nil, err
	}

	return s.createQueued(ctx, &models.Task{
		UserID:      userID,
		ProjectID:   ch.ProjectID,
		CharacterID: ch.ID,
		Type:        models.TaskTypeCharacterReference,
		Prompt:      prompt,
	}, resp.ID)
}

func (s *TaskService) createQueued(ctx context.Context, task *models.Task, providerID string) (*models.Task, error) {
	task.ID = providerID
	task.Status = models.TaskStatusQueued
	task.Progress = 0
	if err := s.stores.CreateTask(ctx, task); err != nil {
		return nil, err
	}
	s.logger.Info("task submitted", "task_id", task.ID, "type", task.Type, "project_id", task.ProjectID)
	return task, nil
}

func (s *TaskService) markShotProcessing(ctx context.Context, shotID string) {
	shot, err := s.stores.GetShot(ctx, shotID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("failed to load shot for submit", "shot_id", shotID, "error", err)
		}
		return
	}
	shot.Status = models.ShotStatusProcessing
	if err := s.stores.SaveShot(ctx, shot); err != nil {
		s.logger.Warn("failed to mark shot processing", "shot_id", shotID, "error", err)
	}
}

// GetOwnedTask loads a task and checks it belongs to userID.
func (s *TaskService) GetOwnedTask(ctx context.Context, userID, taskID string) (*models.Task, error) {
	task, err := s.stores.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.UserID != userID {
		return nil, ErrForbidden
	}
	return task, nil
}

// RefreshTask polls one task and applies the result. Terminal tasks return
// their stored state without contacting the provider. An unreachable
// provider fails the call before any status request is made.
func (s *TaskService) RefreshTask(ctx context.Context, userID, taskID string) (*models.TaskResult, error) {
	task, err := s.GetOwnedTask(ctx, userID, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status.IsTerminal() {
		res := resultFor(task)
		return &res, nil
	}
	if err := s.liveness.Check(ctx); err != nil {
		return nil, err
	}

	res, err := s.processTask(ctx, task)
	if err != nil {
		return nil, err
	}
	if task.SceneID != "" {
		s.rollup.RollupMany(ctx, []string{task.SceneID})
	}
	return &res, nil
}

// ApplyProviderUpdate applies a status pushed by the provider. It runs the
// same pipeline as a poll.
func (s *TaskService) ApplyProviderUpdate(ctx context.Context, resp *sora.StatusResponse) (*models.TaskResult, error) {
	task, err := s.stores.GetTask(ctx, resp.ID)
	if err != nil {
		return nil, err
	}
	if task.Status.IsTerminal() {
		res := resultFor(task)
		return &res, nil
	}

	stepCtx, cancel := context.WithTimeout(ctx, s.tuning.StepTimeout)
	defer cancel()
	res, err := s.apply(stepCtx, task, ResultFromStatus(resp, s.logger))
	if err != nil {
		return nil, err
	}
	if task.SceneID != "" {
		s.rollup.RollupMany(ctx, []string{task.SceneID})
	}
	return &res, nil
}

// RefreshBatch refreshes up to MaxBatchLimit tasks owned by userID. One bad
// item never fails the batch.
func (s *TaskService) RefreshBatch(ctx context.Context, userID string, taskIDs []string) (*models.BatchReport, error) {
	ids := dedupe(taskIDs)
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: task_ids is required", ErrInvalidRequest)
	}
	if len(ids) > config.MaxBatchLimit {
		return nil, fmt.Errorf("%w: at most %d task ids per request", ErrInvalidRequest, config.MaxBatchLimit)
	}

	found, err := s.stores.ListTasksByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*models.Task, len(found))
	needsPoll := false
	for _, t := range found {
		byID[t.ID] = t
		if t.UserID == userID && !t.Status.IsTerminal() {
			needsPoll = true
		}
	}
	if needsPoll {
		if err := s.liveness.Check(ctx); err != nil {
			return nil, err
		}
	}

	results := RunBounded(ctx, ids, s.tuning.BatchConcurrency, func(ctx context.Context, id string) (models.TaskResult, error) {
		task, ok := byID[id]
		switch {
		case !ok:
			return models.TaskResult{TaskID: id}, store.ErrNotFound
		case task.UserID != userID:
			return models.TaskResult{TaskID: id}, ErrForbidden
		case task.Status.IsTerminal():
			return resultFor(task), nil
		}
		return s.processTask(ctx, task)
	})

	return s.report(ctx, ids, results, byID), nil
}

// Sweep polls the oldest non-terminal tasks across all projects. It does
// nothing when the provider is unreachable.
func (s *TaskService) Sweep(ctx context.Context, limit int) (*models.BatchReport, error) {
	if limit <= 0 {
		limit = s.tuning.SweepLimit
	}
	limit = config.ClampBatchLimit(limit)

	if err := s.liveness.Check(ctx); err != nil {
		return nil, err
	}

	tasks, err := s.stores.ListTasksByStatus(ctx, "", models.NonTerminalStatuses, limit)
	if err != nil {
		return nil, err
	}
	return s.runTasks(ctx, tasks, s.tuning.SweepConcurrency), nil
}

// RepairSweep is Sweep plus a second pass over completed tasks whose
// reconciliation never finished, least recently attempted first. Tasks leave
// that pass once they hold a durable URL and every target was written. Open
// tasks holding an unrecognized provider status are included. An empty
// projectID repairs across all projects.
func (s *TaskService) RepairSweep(ctx context.Context, projectID string, limit int) (*models.BatchReport, error) {
	if limit <= 0 {
		limit = s.tuning.SweepLimit
	}
	limit = config.ClampBatchLimit(limit)

	if err := s.liveness.Check(ctx); err != nil {
		return nil, err
	}

	open, err := s.stores.ListOpenTasks(ctx, projectID, limit)
	if err != nil {
		return nil, err
	}
	completed, err := s.stores.ListUnreconciledTasks(ctx, projectID, limit)
	if err != nil {
		return nil, err
	}

	tasks := make([]*models.Task, 0, len(open)+len(completed))
	tasks = append(tasks, open...)
	tasks = append(tasks, completed...)
	return s.runTasks(ctx, tasks, s.tuning.RepairConcurrency), nil
}

// RepairTask re-runs materialize and reconcile for a completed task. A result
// older than what a shot already shows is recorded without being displayed.
func (s *TaskService) RepairTask(ctx context.Context, task *models.Task) (models.TaskResult, error) {
	res := resultFor(task)
	if task.Status != models.TaskStatusCompleted {
		return res, nil
	}
	err := s.finishCompleted(ctx, task, &res, true)
	return res, err
}

func (s *TaskService) runTasks(ctx context.Context, tasks []*models.Task, concurrency int) *models.BatchReport {
	ids := make([]string, len(tasks))
	byID := make(map[string]*models.Task, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
		byID[t.ID] = t
	}

	results := RunBounded(ctx, tasks, concurrency, func(ctx context.Context, task *models.Task) (models.TaskResult, error) {
		if task.Status == models.TaskStatusCompleted {
			stepCtx, cancel := context.WithTimeout(ctx, s.tuning.StepTimeout)
			defer cancel()
			return s.RepairTask(stepCtx, task)
		}
		if task.Status.IsTerminal() {
			return resultFor(task), nil
		}
		return s.processTask(ctx, task)
	})

	return s.report(ctx, ids, results, byID)
}

func (s *TaskService) report(ctx context.Context, ids []string, results []BatchItem[models.TaskResult], byID map[string]*models.Task) *models.BatchReport {
	rep := &models.BatchReport{
		Total:   len(ids),
		Details: make([]models.TaskResult, len(ids)),
	}

	var scenes []string
	seen := map[string]bool{}
	for i, item := range results {
		res := item.Value
		if res.TaskID == "" {
			res.TaskID = ids[i]
		}
		if item.Err != nil && res.Error == "" {
			res.Error = item.Err.Error()
		}
		if res.Error != "" {
			rep.Failed++
			s.logger.Warn("task refresh failed", "task_id", res.TaskID, "error", res.Error)
		} else {
			rep.Succeeded++
		}
		rep.Details[i] = res

		if t, ok := byID[res.TaskID]; ok && t.SceneID != "" && !seen[t.SceneID] {
			seen[t.SceneID] = true
			scenes = append(scenes, t.SceneID)
		}
	}

	if len(scenes) > 0 {
		rep.Scenes = s.rollup.RollupMany(ctx, scenes)
	}
	return rep
}

// processTask polls and applies one task within the step timeout. If the
// caller's context ends while the poll is in flight the result is discarded
// and nothing is written.
func (s *TaskService) processTask(ctx context.Context, task *models.Task) (models.TaskResult, error) {
	stepCtx, cancel := context.WithTimeout(ctx, s.tuning.StepTimeout)
	defer cancel()

	poll, err := s.poller.Poll(stepCtx, task)
	if errors.Is(err, ErrTaskTerminal) {
		return resultFor(task), nil
	}
	if err == nil && stepCtx.Err() != nil {
		err = stepCtx.Err()
	}
	if err != nil {
		var apiErr *sora.APIError
		if stepCtx.Err() == nil && !errors.As(err, &apiErr) {
			// Transport failure; make the next caller re-probe.
			s.liveness.Invalidate()
		}
		return resultFor(task), err
	}

	return s.apply(stepCtx, task, poll)
}

// apply persists the new status, then materializes and reconciles a
// completed task. Progress never goes backwards and is 100 on completion.
func (s *TaskService) apply(ctx context.Context, task *models.Task, poll *PollResult) (models.TaskResult, error) {
	var update models.TaskUpdate

	if poll.Status != "" && poll.Status != task.Status {
		status := poll.Status
		update.Status = &status
	}
	effective := task.Status
	if update.Status != nil {
		effective = *update.Status
	}

	progress := task.Progress
	if effective == models.TaskStatusCompleted {
		progress = 100
	} else if p := clampProgress(poll.Progress); p > progress {
		progress = p
	}
	if progress != task.Progress {
		update.Progress = &progress
	}

	if poll.VideoURL != "" && poll.VideoURL != task.ProviderURL {
		url := poll.VideoURL
		update.ProviderURL = &url
	}
	if effective == models.TaskStatusFailed {
		msg := poll.FailReason
		if msg == "" {
			msg = "generation failed"
		}
		if msg != task.ErrorMessage {
			update.ErrorMessage = &msg
		}
	}

	changed := !update.IsEmpty()
	if changed {
		updated, err := s.stores.UpdateTask(ctx, task.ID, update)
		if err != nil {
			return resultFor(task), fmt.Errorf("failed to persist task status: %w", err)
		}
		*task = *updated
		s.live.Publish(ctx, models.LiveEvent{
			Type:      models.EventTaskUpdated,
			ProjectID: task.ProjectID,
			UserID:    task.UserID,
			EntityID:  task.ID,
			Payload: map[string]any{
				"status":   string(task.Status),
				"progress": task.Progress,
			},
			Timestamp: s.now().UTC(),
		})
	}

	res := resultFor(task)
	res.Changed = changed
	if task.Status == models.TaskStatusCompleted {
		if err := s.finishCompleted(ctx, task, &res, false); err != nil {
			return res, err
		}
	}
	return res, nil
}

// finishCompleted materializes and reconciles. An upload failure falls back
// to the provider URL with a warning so the shot still gets a result.
func (s *TaskService) finishCompleted(ctx context.Context, task *models.Task, res *models.TaskResult, repair bool) error {
	if task.BestURL() == "" {
		res.Warnings = append(res.Warnings, WarnMissingVideoURL)
		s.logger.Warn("completed task has no video url", "task_id", task.ID)
		s.markReconciled(ctx, task, false)
		return nil
	}

	if task.DurableURL == "" {
		if _, err := s.materializer.Materialize(ctx, task); err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s: %v", WarnUploadFailed, err))
			s.logger.Warn("materialize failed, using provider url", "task_id", task.ID, "error", err)
		}
	}

	url := task.BestURL()
	res.VideoURL = url

	reconcile := s.reconciler.Reconcile
	if repair {
		reconcile = s.reconciler.Repair
	}
	out, err := reconcile(ctx, task, url)
	if err != nil {
		s.markReconciled(ctx, task, false)
		return fmt.Errorf("failed to reconcile task: %w", err)
	}
	res.Warnings = append(res.Warnings, out.Warnings...)
	if len(out.Applied) > 0 || out.Registered {
		res.Changed = true
	}
	s.markReconciled(ctx, task, task.DurableURL != "" && !retryable(out.Warnings))
	return nil
}

// markReconciled records that task needs no further repair. When done is
// false it only bumps updated_at so the repair pass rotates to other tasks
// before coming back.
func (s *TaskService) markReconciled(ctx context.Context, task *models.Task, done bool) {
	if task.ReconciledAt != nil {
		return
	}
	var update models.TaskUpdate
	if done {
		now := s.now().UTC()
		update.ReconciledAt = &now
	}

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), outcomeTimeout)
	defer cancel()
	updated, err := s.stores.UpdateTask(saveCtx, task.ID, update)
	if err != nil {
		s.logger.Warn("failed to record reconcile state", "task_id", task.ID, "error", err)
		return
	}
	*task = *updated
}

// retryable reports whether a later pass could still change the outcome.
// Missing targets stay missing, so they do not hold a task in repair.
func retryable(warnings []string) bool {
	for _, w := range warnings {
		if strings.HasPrefix(w, WarnCharacterRegistrationFailed) {
			return true
		}
	}
	return false
}

func resultFor(task *models.Task) models.TaskResult {
	return models.TaskResult{
		TaskID:       task.ID,
		Status:       task.Status,
		Progress:     task.Progress,
		VideoURL:     task.BestURL(),
		ErrorMessage: task.ErrorMessage,
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
