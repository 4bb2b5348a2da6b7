package events

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"storyboard-backend/internal/models"
)

// Hub fans live events out to subscribers of a project. Publishing never
// blocks: a subscriber whose buffer is full misses the event.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[string]chan models.LiveEvent
}

func NewHub() *Hub {
	return &Hub{
		subs: map[string]map[string]chan models.LiveEvent{},
	}
}

func (h *Hub) Subscribe(projectID string, buf int) (string, <-chan models.LiveEvent, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subID := uuid.NewString()
	if _, ok := h.subs[projectID]; !ok {
		h.subs[projectID] = map[string]chan models.LiveEvent{}
	}
	ch := make(chan models.LiveEvent, buf)
	h.subs[projectID][subID] = ch

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			projectSubs, ok := h.subs[projectID]
			if !ok {
				return
			}
			c, ok := projectSubs[subID]
			if !ok {
				return
			}
			delete(projectSubs, subID)
			close(c)
			if len(projectSubs) == 0 {
				delete(h.subs, projectID)
			}
		})
	}
	return subID, ch, unsubscribe
}

// Publish delivers evt to every subscriber of evt.ProjectID.
func (h *Hub) Publish(_ context.Context, evt models.LiveEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs[evt.ProjectID] {
		select {
		case ch <- evt:
		default:
		}
	}
}

// Subscribers returns the number of live subscriptions for projectID.
func (h *Hub) Subscribers(projectID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[projectID])
}
