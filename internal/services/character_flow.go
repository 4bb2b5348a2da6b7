package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"storyboard-backend/internal/models"
)

// NoticePaused is shown when the bounded wait gives up.
const NoticePaused = "Polling paused. Refresh manually to continue."

// NoticeStepTimeout is shown when one step exceeded its time budget.
const NoticeStepTimeout = "Status check timed out. Refresh manually to continue."

// ErrStepTimeout marks a step abandoned after its time budget.
var ErrStepTimeout = errors.New("step timed out")

// CharacterFlow walks a character from no identity to a registered provider
// username: none, pending, generating, registering, then registered or
// failed. A stored username always wins over the recorded status.
type CharacterFlow struct {
	tasks      *TaskService
	stores     Stores
	reconciler *Reconciler
	interval   time.Duration
	maxPolls   int
	timeout    time.Duration
	logger     *slog.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

func NewCharacterFlow(tasks *TaskService, logger *slog.Logger) *CharacterFlow {
	tuning := tasks.Tuning()
	return &CharacterFlow{
		tasks:      tasks,
		stores:     tasks.stores,
		reconciler: tasks.Reconciler(),
		interval:   tuning.CharacterPollInterval,
		maxPolls:   tuning.CharacterMaxPolls,
		timeout:    tuning.StepTimeout,
		logger:     logger,
		sleep:      sleepContext,
	}
}

// SetSleep replaces the wait between polls.
func (f *CharacterFlow) SetSleep(sleep func(ctx context.Context, d time.Duration) error) {
	f.sleep = sleep
}

func (f *CharacterFlow) load(ctx context.Context, userID, characterID string) (*models.Character, models.SoraIdentity, error) {
	ch, err := f.stores.GetCharacter(ctx, characterID)
	if err != nil {
		return nil, models.SoraIdentity{}, err
	}
	if ch.UserID != userID {
		return nil, models.SoraIdentity{}, ErrForbidden
	}
	if ch.Metadata == nil {
		ch.Metadata = models.Metadata{}
	}
	identity, err := ch.Metadata.SoraIdentity()
	if err != nil {
		return nil, models.SoraIdentity{}, err
	}
	return ch, identity, nil
}

// Get returns the current flow state for a character.
func (f *CharacterFlow) Get(ctx context.Context, userID, characterID string) (*models.CharacterIdentityResponse, error) {
	ch, identity, err := f.load(ctx, userID, characterID)
	if err != nil {
		return nil, err
	}
	return identityResponse(ch, identity), nil
}

// Start begins or retries the flow. A registered character is returned as-is
// and a flow already in flight is not submitted twice. When an earlier
// attempt left a reference video behind, generation is skipped and only
// registration is retried. A registration that stalled longer than one step
// budget counts as abandoned and is retried.
func (f *CharacterFlow) Start(ctx context.Context, userID, characterID string, req models.StartCharacterRequest) (*models.CharacterIdentityResponse, error) {
	ch, identity, err := f.load(ctx, userID, characterID)
	if err != nil {
		return nil, err
	}

	switch identity.State() {
	case models.IdentityRegistered:
		return identityResponse(ch, identity), nil
	case models.IdentityRegistering:
		if !f.stalled(identity) {
			return identityResponse(ch, identity), nil
		}
	case models.IdentityPending, models.IdentityGenerating:
		if identity.TaskID != "" {
			return identityResponse(ch, identity), nil
		}
	}

	if url := referenceURL(ch, identity); url != "" {
		return f.register(ctx, ch, url, identity.TaskID)
	}

	identity.Status = models.IdentityPending
	identity.Error = ""
	identity.TaskID = ""
	if err := f.reconciler.saveCharacter(ctx, ch, identity); err != nil {
		return nil, err
	}

	task, err := f.tasks.SubmitCharacterTask(ctx, userID, ch, req)
	if err != nil {
		identity.Status = models.IdentityFailed
		identity.Error = err.Error()
		if saveErr := f.reconciler.saveCharacter(ctx, ch, identity); saveErr != nil {
			return nil, saveErr
		}
		return identityResponse(ch, identity), fmt.Errorf("failed to submit reference video: %w", err)
	}

	identity.Status = models.IdentityGenerating
	identity.TaskID = task.ID
	if err := f.reconciler.saveCharacter(ctx, ch, identity); err != nil {
		return nil, err
	}
	return identityResponse(ch, identity), nil
}

// stalled reports whether a registering identity has gone without a write
// for longer than a registration attempt may take.
func (f *CharacterFlow) stalled(identity models.SoraIdentity) bool {
	if identity.UpdatedAt == nil {
		return true
	}
	return f.reconciler.now().Sub(*identity.UpdatedAt) > f.timeout
}

func (f *CharacterFlow) register(ctx context.Context, ch *models.Character, url, taskID string) (*models.CharacterIdentityResponse, error) {
	saved, regErr := f.reconciler.RegisterCharacter(ctx, ch, url, taskID)
	if saved == nil {
		return nil, regErr
	}
	identity, err := saved.Metadata.SoraIdentity()
	if err != nil {
		return nil, err
	}
	// A registration error is already recorded as the failed state.
	return identityResponse(saved, identity), nil
}

// Advance performs one step: it refreshes the generation task, and the
// task pipeline registers the character once the video is ready.
func (f *CharacterFlow) Advance(ctx context.Context, userID, characterID string) (*models.CharacterIdentityResponse, error) {
	ch, identity, err := f.load(ctx, userID, characterID)
	if err != nil {
		return nil, err
	}

	state := identity.State()
	if state == models.IdentityRegistering && f.stalled(identity) {
		if url := referenceURL(ch, identity); url != "" {
			f.logger.Warn("retrying stalled character registration", "character_id", ch.ID)
			return f.register(ctx, ch, url, identity.TaskID)
		}
	}
	if state != models.IdentityPending && state != models.IdentityGenerating {
		return identityResponse(ch, identity), nil
	}
	if identity.TaskID == "" {
		return identityResponse(ch, identity), nil
	}

	task, err := f.tasks.GetOwnedTask(ctx, userID, identity.TaskID)
	if err != nil {
		return nil, err
	}

	switch task.Status {
	case models.TaskStatusCompleted:
		if _, err := f.tasks.RepairTask(ctx, task); err != nil {
			return nil, err
		}
	case models.TaskStatusFailed:
		identity.Status = models.IdentityFailed
		identity.Error = task.ErrorMessage
		if err := f.reconciler.saveCharacter(ctx, ch, identity); err != nil {
			return nil, err
		}
		return identityResponse(ch, identity), nil
	default:
		res, err := f.tasks.RefreshTask(ctx, userID, task.ID)
		if err != nil {
			return nil, err
		}
		if res.Status == models.TaskStatusFailed {
			return f.markFailed(ctx, userID, characterID, res.ErrorMessage)
		}
	}

	return f.Get(ctx, userID, characterID)
}

func (f *CharacterFlow) markFailed(ctx context.Context, userID, characterID, reason string) (*models.CharacterIdentityResponse, error) {
	ch, identity, err := f.load(ctx, userID, characterID)
	if err != nil {
		return nil, err
	}
	if identity.State() == models.IdentityRegistered {
		return identityResponse(ch, identity), nil
	}
	identity.Status = models.IdentityFailed
	identity.Error = reason
	if err := f.reconciler.saveCharacter(ctx, ch, identity); err != nil {
		return nil, err
	}
	return identityResponse(ch, identity), nil
}

// Await calls Advance until the flow settles, at most maxPolls times. When
// the attempts run out it returns ErrPollingPaused with the last state.
// A step that exceeds its time budget ends the wait with ErrStepTimeout and
// is not retried. Cancelling ctx stops the wait at once.
func (f *CharacterFlow) Await(ctx context.Context, userID, characterID string, onStep func(*models.CharacterIdentityResponse)) (*models.CharacterIdentityResponse, error) {
	var last *models.CharacterIdentityResponse
	for attempt := 1; attempt <= f.maxPolls; attempt++ {
		stepCtx, cancel := context.WithTimeout(ctx, f.timeout)
		resp, err := f.Advance(stepCtx, userID, characterID)
		timedOut := stepCtx.Err() == context.DeadlineExceeded
		cancel()

		if ctx.Err() != nil {
			return last, ctx.Err()
		}
		if timedOut || errors.Is(err, context.DeadlineExceeded) {
			if last != nil {
				last.Notice = NoticeStepTimeout
			}
			return last, ErrStepTimeout
		}
		if err != nil {
			return last, err
		}

		last = resp
		if onStep != nil {
			onStep(resp)
		}
		if resp.State == models.IdentityRegistered || resp.State == models.IdentityFailed || resp.State == models.IdentityNone {
			return resp, nil
		}
		if attempt == f.maxPolls {
			break
		}
		if err := f.sleep(ctx, f.interval); err != nil {
			return last, err
		}
	}

	if last != nil {
		last.Notice = NoticePaused
	}
	return last, ErrPollingPaused
}

// SetUsername records a username chosen by hand. It marks the identity
// registered immediately and keeps any reference video.
func (f *CharacterFlow) SetUsername(ctx context.Context, userID, characterID, username string) (*models.CharacterIdentityResponse, error) {
	username = strings.TrimPrefix(strings.TrimSpace(username), "@")
	if username == "" {
		return nil, fmt.Errorf("%w: username is required", ErrInvalidRequest)
	}

	ch, identity, err := f.load(ctx, userID, characterID)
	if err != nil {
		return nil, err
	}
	identity.Username = username
	identity.Status = models.IdentityRegistered
	identity.Error = ""
	if identity.ReferenceVideoURL == "" {
		identity.ReferenceVideoURL = ch.SoraReferenceVideoURL
	}
	if err := f.reconciler.saveCharacter(ctx, ch, identity); err != nil {
		return nil, err
	}
	f.logger.Info("character username set manually", "character_id", ch.ID)
	return identityResponse(ch, identity), nil
}

func referenceURL(ch *models.Character, identity models.SoraIdentity) string {
	if identity.ReferenceVideoURL != "" {
		return identity.ReferenceVideoURL
	}
	return ch.SoraReferenceVideoURL
}

func identityResponse(ch *models.Character, identity models.SoraIdentity) *models.CharacterIdentityResponse {
	return &models.CharacterIdentityResponse{
		CharacterID:       ch.ID,
		State:             identity.State(),
		Username:          identity.Username,
		ReferenceVideoURL: referenceURL(ch, identity),
		TaskID:            identity.TaskID,
		Error:             identity.Error,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
