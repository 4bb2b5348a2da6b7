package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"storyboard-backend/internal/logging"
	"storyboard-backend/internal/models"
	"storyboard-backend/internal/sora"
)

// Reachability is the probe the liveness check wraps.
type Reachability interface {
	AssertReachable(ctx context.Context) error
}

// LivenessProbe caches a successful reachability check for ttl. Failures are
// never cached, and a stale success is never served once the ttl expires, so
// a probe that starts failing is noticed on the next call.
type LivenessProbe struct {
	target Reachability
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	okTill time.Time
}

func NewLivenessProbe(target Reachability, ttl time.Duration, logger *slog.Logger) *LivenessProbe {
	return &LivenessProbe{
		target: target,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

// Check returns nil when the provider is reachable, or an error wrapping
// ErrProviderUnreachable.
func (p *LivenessProbe) Check(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ttl > 0 && p.now().Before(p.okTill) {
		return nil
	}

	if err := p.target.AssertReachable(ctx); err != nil {
		p.okTill = time.Time{}
		p.logger.Warn("provider liveness probe failed", "error", err)
		return fmt.Errorf("%w: %v", ErrProviderUnreachable, err)
	}

	p.okTill = p.now().Add(p.ttl)
	return nil
}

// Invalidate forgets the cached success.
func (p *LivenessProbe) Invalidate() {
	p.mu.Lock()
	p.okTill = time.Time{}
	p.mu.Unlock()
}

// PollResult is a normalized provider status.
type PollResult struct {
	Status     models.TaskStatus
	RawStatus  string
	Progress   int
	VideoURL   string
	FailReason string
}

// Poller asks the provider for the current state of non-terminal tasks.
type Poller struct {
	provider Provider
	logger   *slog.Logger
}

func NewPoller(provider Provider, logger *slog.Logger) *Poller {
	return &Poller{provider: provider, logger: logger}
}

// Poll returns ErrTaskTerminal without any external call for terminal tasks.
// Transport errors are returned as-is; the caller leaves the task untouched
// and a later poll retries.
func (p *Poller) Poll(ctx context.Context, task *models.Task) (*PollResult, error) {
	if task.Status.IsTerminal() {
		return nil, ErrTaskTerminal
	}

	resp, err := p.provider.GetStatus(ctx, task.ID)
	if err != nil {
		return nil, err
	}
	res := ResultFromStatus(resp, p.logger)
	logging.WithTaskID(p.logger, task.ID).Debug("polled task",
		"status", res.RawStatus,
		"progress", res.Progress,
	)
	return res, nil
}

// ResultFromStatus normalizes a provider status payload.
func ResultFromStatus(resp *sora.StatusResponse, logger *slog.Logger) *PollResult {
	status := sora.NormalizeStatus(resp.Status)
	if !sora.IsKnownStatus(status) {
		logger.Warn("unrecognized provider status", "task_id", resp.ID, "status", resp.Status)
	}
	return &PollResult{
		Status:     status,
		RawStatus:  resp.Status,
		Progress:   resp.Progress,
		VideoURL:   resp.VideoURL,
		FailReason: resp.Reason(),
	}
}
