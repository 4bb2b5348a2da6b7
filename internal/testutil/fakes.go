// Package testutil holds in-memory fakes for the provider and object storage.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"storyboard-backend/internal/sora"
)

// FakeProvider serves scripted provider responses. It is safe for
// concurrent use.
type FakeProvider struct {
	mu          sync.Mutex
	statuses    map[string]*sora.StatusResponse
	statusErrs  map[string]error
	downloads   map[string][]byte
	submitErr   error
	registerErr error
	downloadErr error
	username    string
	nextID      int
	reachable   atomic.Bool

	Submitted     []sora.SubmitRequest
	Registrations []sora.CharacterRequest
	StatusCalls   atomic.Int32
	LivenessCalls atomic.Int32
	DownloadCalls atomic.Int32
	InFlight      atomic.Int32
	MaxInFlight   atomic.Int32
	StatusHook    func(ctx context.Context, taskID string)
}

func NewFakeProvider() *FakeProvider {
	p := &FakeProvider{
		statuses:   map[string]*sora.StatusResponse{},
		statusErrs: map[string]error{},
		downloads:  map[string][]byte{},
		username:   "ch_fake",
	}
	p.reachable.Store(true)
	return p
}

func (p *FakeProvider) SetReachable(ok bool) {
	p.reachable.Store(ok)
}

// SetStatus scripts the response for taskID.
func (p *FakeProvider) SetStatus(taskID, status string, progress int, videoURL string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses[taskID] = &sora.StatusResponse{ID: taskID, Status: status, Progress: progress, VideoURL: videoURL}
	delete(p.statusErrs, taskID)
}

func (p *FakeProvider) SetFailed(taskID, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses[taskID] = &sora.StatusResponse{ID: taskID, Status: "failed", FailReason: reason}
	delete(p.statusErrs, taskID)
}

func (p *FakeProvider) SetStatusError(taskID string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statusErrs[taskID] = err
}

func (p *FakeProvider) SetDownload(url string, data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.downloads[url] = data
}

func (p *FakeProvider) SetDownloadError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.downloadErr = err
}

func (p *FakeProvider) SetSubmitError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.submitErr = err
}

// SetRegisterResult scripts the next registrations.
func (p *FakeProvider) SetRegisterResult(username string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.username = username
	p.registerErr = err
}

func (p *FakeProvider) Submit(_ context.Context, req sora.SubmitRequest) (*sora.SubmitResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.submitErr != nil {
		return nil, p.submitErr
	}
	p.Submitted = append(p.Submitted, req)
	p.nextID++
	id := fmt.Sprintf("video_%03d", p.nextID)
	p.statuses[id] = &sora.StatusResponse{ID: id, Status: "queued"}
	return &sora.SubmitResponse{ID: id, Status: "queued"}, nil
}

func (p *FakeProvider) GetStatus(ctx context.Context, taskID string) (*sora.StatusResponse, error) {
	p.StatusCalls.Add(1)
	n := p.InFlight.Add(1)
	defer p.InFlight.Add(-1)
	for {
		cur := p.MaxInFlight.Load()
		if n <= cur || p.MaxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}

	if p.StatusHook != nil {
		p.StatusHook(ctx, taskID)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err, ok := p.statusErrs[taskID]; ok {
		return nil, err
	}
	resp, ok := p.statuses[taskID]
	if !ok {
		return nil, &sora.APIError{StatusCode: 404, Body: "video not found"}
	}
	out := *resp
	return &out, nil
}

func (p *FakeProvider) RegisterCharacter(_ context.Context, req sora.CharacterRequest) (*sora.CharacterResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Registrations = append(p.Registrations, req)
	if p.registerErr != nil {
		return nil, p.registerErr
	}
	return &sora.CharacterResponse{ID: "char_" + p.username, Username: p.username}, nil
}

func (p *FakeProvider) AssertReachable(_ context.Context) error {
	p.LivenessCalls.Add(1)
	if !p.reachable.Load() {
		return errors.New("connection refused")
	}
	return nil
}

func (p *FakeProvider) DownloadFile(_ context.Context, url string) ([]byte, error) {
	p.DownloadCalls.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.downloadErr != nil {
		return nil, p.downloadErr
	}
	if data, ok := p.downloads[url]; ok {
		return data, nil
	}
	return []byte("video:" + url), nil
}

// FakeStorage records uploads and serves them under BaseURL.
type FakeStorage struct {
	mu      sync.Mutex
	BaseURL string
	Uploads map[string][]byte
	Puts    int
	fail    error
}

func NewFakeStorage() *FakeStorage {
	return &FakeStorage{
		BaseURL: "https://storage.test/media",
		Uploads: map[string][]byte{},
	}
}

// SetError makes every upload fail with err. Nil restores success.
func (s *FakeStorage) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}

func (s *FakeStorage) Upload(_ context.Context, key string, data []byte, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return "", s.fail
	}
	s.Puts++
	s.Uploads[key] = append([]byte(nil), data...)
	return s.BaseURL + "/" + key, nil
}

func (s *FakeStorage) PutCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Puts
}
