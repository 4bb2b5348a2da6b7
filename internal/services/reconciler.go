package services

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"storyboard-backend/internal/models"
	"storyboard-backend/internal/sora"
	"storyboard-backend/internal/store"
)

// Warning codes attached to task results.
const (
	WarnMissingShotIDs              = "missing_shot_ids"
	WarnMissingCharacterID          = "missing_character_id"
	WarnMissingVideoURL             = "missing_video_url"
	WarnUploadFailed                = "r2_upload_failed"
	WarnCharacterRegistrationFailed = "character_registration_failed"
)

// SyncedPairs remembers which URL was last applied for each (task, shot)
// pair in this process. It only short-circuits work; the stored shot state
// decides.
type SyncedPairs struct {
	mu    sync.Mutex
	pairs map[string]string
	max   int
}

func NewSyncedPairs(max int) *SyncedPairs {
	return &SyncedPairs{pairs: map[string]string{}, max: max}
}

func (s *SyncedPairs) key(taskID, shotID string) string {
	return taskID + "\x00" + shotID
}

// Has reports whether url was already applied for the pair. A different URL,
// such as a durable copy replacing a provider link, is not a hit.
func (s *SyncedPairs) Has(taskID, shotID, url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	applied, ok := s.pairs[s.key(taskID, shotID)]
	return ok && applied == url
}

func (s *SyncedPairs) Add(taskID, shotID, url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.max > 0 && len(s.pairs) >= s.max {
		s.pairs = map[string]string{}
	}
	s.pairs[s.key(taskID, shotID)] = url
}

// shotLocks serializes read-modify-write cycles on one shot within the
// process so concurrent workers never drop each other's history entries.
type shotLocks [64]sync.Mutex

func (l *shotLocks) lock(shotID string) func() {
	h := fnv.New32a()
	h.Write([]byte(shotID))
	m := &l[h.Sum32()%uint32(len(l))]
	m.Lock()
	return m.Unlock
}

// outcomeTimeout bounds writes that record an outcome after the step
// context may already have expired.
const outcomeTimeout = 10 * time.Second

// ReconcileOutcome reports what a reconcile pass did.
type ReconcileOutcome struct {
	Applied    []string
	Skipped    []string
	Missing    []string
	Registered bool
	Warnings   []string
}

// Reconciler applies a completed task's result to the entities it targets.
// Every step is idempotent so repeated runs converge on the same state.
type Reconciler struct {
	tasks      TaskStore
	shots      ShotStore
	characters CharacterStore
	registrar  interface {
		RegisterCharacter(ctx context.Context, req sora.CharacterRequest) (*sora.CharacterResponse, error)
	}
	live       LivePublisher
	synced     *SyncedPairs
	locks      shotLocks
	model      string
	timestamps string
	logger     *slog.Logger
	now        func() time.Time
}

type ReconcilerOptions struct {
	Model      string
	Timestamps string
	Live       LivePublisher
	Synced     *SyncedPairs
}

func NewReconciler(stores Stores, provider Provider, opts ReconcilerOptions, logger *slog.Logger) *Reconciler {
	r := &Reconciler{
		tasks:      stores,
		shots:      stores,
		characters: stores,
		registrar:  provider,
		live:       opts.Live,
		synced:     opts.Synced,
		model:      opts.Model,
		timestamps: opts.Timestamps,
		logger:     logger,
		now:        time.Now,
	}
	if r.live == nil {
		r.live = noopPublisher{}
	}
	if r.synced == nil {
		r.synced = NewSyncedPairs(10000)
	}
	if r.timestamps == "" {
		r.timestamps = "1,3"
	}
	return r
}

// Reconcile fans url out to the task's targets. Missing targets become
// warnings. An error is returned only when a store write fails.
func (r *Reconciler) Reconcile(ctx context.Context, task *models.Task, url string) (*ReconcileOutcome, error) {
	return r.reconcile(ctx, task, url, false)
}

// Repair is Reconcile for a task found later by a repair pass. A result
// reaching a shot for the first time does not replace one from a newer
// task; it is recorded in the history only.
func (r *Reconciler) Repair(ctx context.Context, task *models.Task, url string) (*ReconcileOutcome, error) {
	return r.reconcile(ctx, task, url, true)
}

func (r *Reconciler) reconcile(ctx context.Context, task *models.Task, url string, repair bool) (*ReconcileOutcome, error) {
	out := &ReconcileOutcome{}
	if url == "" {
		out.Warnings = append(out.Warnings, WarnMissingVideoURL)
		return out, nil
	}

	if task.Type == models.TaskTypeCharacterReference {
		return out, r.reconcileCharacter(ctx, task, url, out)
	}

	targets, ok := task.ResolveTargets()
	if !ok {
		out.Warnings = append(out.Warnings, WarnMissingShotIDs)
		return out, nil
	}

	for _, shotID := range targets.IDs {
		applied, err := r.applyToShot(ctx, task, targets, shotID, url, repair)
		if errors.Is(err, store.ErrNotFound) {
			out.Missing = append(out.Missing, shotID)
			continue
		}
		if err != nil {
			return out, err
		}
		if applied {
			out.Applied = append(out.Applied, shotID)
		} else {
			out.Skipped = append(out.Skipped, shotID)
		}
	}

	if len(out.Missing) > 0 {
		out.Warnings = append(out.Warnings, fmt.Sprintf("%s: %v", WarnMissingShotIDs, out.Missing))
		r.logger.Warn("task targets missing shots", "task_id", task.ID, "shot_ids", out.Missing)
	}
	return out, nil
}

// applyToShot records the history entry and then points the shot at url. Both
// are written in one save so the history always covers the pointer.
//
// A URL already in the history below the newest entry never moves the
// pointer again: it was shown once and has since been superseded. A new URL from a
// task whose earlier result was superseded, such as a durable copy replacing
// a provider link, joins the history next to that result without being
// displayed.
func (r *Reconciler) applyToShot(ctx context.Context, task *models.Task, targets models.ShotTargets, shotID, url string, repair bool) (bool, error) {
	if r.synced.Has(task.ID, shotID, url) {
		return false, nil
	}

	unlock := r.locks.lock(shotID)
	defer unlock()

	shot, err := r.shots.GetShot(ctx, shotID)
	if err != nil {
		return false, err
	}
	if shot.Metadata == nil {
		shot.Metadata = models.Metadata{}
	}

	if shot.VideoClip == url {
		r.synced.Add(task.ID, shotID, url)
		return false, nil
	}

	history, err := shot.Metadata.GenerationHistory()
	if err != nil {
		return false, err
	}

	entry := r.historyEntry(task, targets, shotID, url)
	display := true
	switch idx := models.TaskEntryIndex(history, task.ID); {
	case len(history) > 0 && history[0].Result == url:
		// Recorded as newest but the pointer never moved.
	case models.HasResult(history, url):
		r.synced.Add(task.ID, shotID, url)
		return false, nil
	case idx > 0:
		display = false
		history = models.InsertEntry(history, idx, entry)
	case idx < 0 && repair && r.newerDisplayed(ctx, history, task):
		display = false
		history = models.InsertEntry(history, 1, entry)
	default:
		history = models.InsertEntry(history, 0, entry)
	}
	if err := shot.Metadata.SetGenerationHistory(history); err != nil {
		return false, err
	}

	if display {
		shot.VideoClip = url
		shot.Status = models.ShotStatusDone
	}
	if err := r.shots.SaveShot(ctx, shot); err != nil {
		return false, fmt.Errorf("failed to save shot %s: %w", shotID, err)
	}
	r.synced.Add(task.ID, shotID, url)

	if !display {
		r.logger.Info("result kept in history behind a newer one", "task_id", task.ID, "shot_id", shotID)
		return false, nil
	}
	r.live.Publish(ctx, models.LiveEvent{
		Type:      models.EventShotUpdated,
		ProjectID: shot.ProjectID,
		UserID:    task.UserID,
		EntityID:  shot.ID,
		Payload: map[string]any{
			"video_clip": url,
			"status":     string(shot.Status),
			"task_id":    task.ID,
		},
		Timestamp: r.now().UTC(),
	})
	return true, nil
}

// newerDisplayed reports whether the shot currently shows the result of a
// task created after task.
func (r *Reconciler) newerDisplayed(ctx context.Context, history []models.GenerationHistoryEntry, task *models.Task) bool {
	if len(history) == 0 {
		return false
	}
	top := history[0].Parameters.TaskID
	if top == "" || top == task.ID {
		return false
	}
	other, err := r.tasks.GetTask(ctx, top)
	if err != nil {
		return false
	}
	return other.CreatedAt.After(task.CreatedAt)
}

func (r *Reconciler) historyEntry(task *models.Task, targets models.ShotTargets, shotID, url string) models.GenerationHistoryEntry {
	ts := r.now().UTC()
	params := models.HistoryParameters{
		Model:  r.model,
		TaskID: task.ID,
		Range:  task.RangeFor(shotID),
	}
	if targets.Multi {
		params.ShotIDs = append([]string(nil), targets.IDs...)
	}
	return models.GenerationHistoryEntry{
		ID:         fmt.Sprintf("sora_%s_%d_%s", task.ID, ts.UnixMilli(), suffix(shotID, 6)),
		Type:       models.HistoryTypeVideo,
		Timestamp:  ts,
		Result:     url,
		Prompt:     task.Prompt,
		Parameters: params,
		Status:     models.HistoryStatusSuccess,
	}
}

// reconcileCharacter stores the reference video and registers the identity.
// The reference URL is persisted before registration so a failed attempt can
// be retried without generating a new video.
func (r *Reconciler) reconcileCharacter(ctx context.Context, task *models.Task, url string, out *ReconcileOutcome) error {
	if task.CharacterID == "" {
		out.Warnings = append(out.Warnings, WarnMissingCharacterID)
		return nil
	}
	ch, err := r.characters.GetCharacter(ctx, task.CharacterID)
	if errors.Is(err, store.ErrNotFound) {
		out.Warnings = append(out.Warnings, WarnMissingCharacterID)
		return nil
	}
	if err != nil {
		return err
	}

	registered, err := r.RegisterCharacter(ctx, ch, url, task.ID)
	if err != nil && registered == nil {
		return err
	}
	if err != nil {
		out.Warnings = append(out.Warnings, fmt.Sprintf("%s: %v", WarnCharacterRegistrationFailed, err))
		return nil
	}
	out.Registered = true
	return nil
}

// RegisterCharacter moves ch through registering to registered or failed.
// A registration error is returned together with the saved character; a
// store error is returned with a nil character.
func (r *Reconciler) RegisterCharacter(ctx context.Context, ch *models.Character, url, taskID string) (*models.Character, error) {
	if ch.Metadata == nil {
		ch.Metadata = models.Metadata{}
	}
	identity, err := ch.Metadata.SoraIdentity()
	if err != nil {
		return nil, err
	}
	if identity.Username != "" {
		if ch.SoraReferenceVideoURL == "" {
			ch.SoraReferenceVideoURL = url
			if err := r.saveCharacter(ctx, ch, identity); err != nil {
				return nil, err
			}
		}
		return ch, nil
	}

	ch.SoraReferenceVideoURL = url
	identity.ReferenceVideoURL = url
	identity.Status = models.IdentityRegistering
	identity.Error = ""
	if taskID != "" {
		identity.TaskID = taskID
	}
	if err := r.saveCharacter(ctx, ch, identity); err != nil {
		return nil, err
	}

	resp, regErr := r.registrar.RegisterCharacter(ctx, sora.CharacterRequest{URL: url, Timestamps: r.timestamps})

	// The outcome is written even when ctx expired during the call, so the
	// identity never stays in registering.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), outcomeTimeout)
	defer cancel()

	if regErr != nil {
		identity.Status = models.IdentityFailed
		identity.Error = regErr.Error()
		if err := r.saveCharacter(saveCtx, ch, identity); err != nil {
			return nil, err
		}
		r.logger.Warn("character registration failed", "character_id", ch.ID, "error", regErr)
		return ch, regErr
	}

	identity.Username = resp.Username
	identity.Status = models.IdentityRegistered
	if err := r.saveCharacter(saveCtx, ch, identity); err != nil {
		return nil, err
	}
	return ch, nil
}

func (r *Reconciler) saveCharacter(ctx context.Context, ch *models.Character, identity models.SoraIdentity) error {
	now := r.now().UTC()
	identity.UpdatedAt = &now
	if err := ch.Metadata.SetSoraIdentity(identity); err != nil {
		return err
	}
	if err := r.characters.SaveCharacter(ctx, ch); err != nil {
		return fmt.Errorf("failed to save character %s: %w", ch.ID, err)
	}
	r.live.Publish(ctx, models.LiveEvent{
		Type:      models.EventCharacterUpdated,
		ProjectID: ch.ProjectID,
		UserID:    ch.UserID,
		EntityID:  ch.ID,
		Payload: map[string]any{
			"status":              string(identity.State()),
			"username":            identity.Username,
			"reference_video_url": identity.ReferenceVideoURL,
		},
		Timestamp: now,
	})
	return nil
}

func suffix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
