package events

import (
	"context"

	"storyboard-backend/internal/models"
)

// Publisher receives live events after the durable write succeeded.
type Publisher interface {
	Publish(ctx context.Context, evt models.LiveEvent)
}

// Fanout forwards each event to every non-nil publisher in order.
type Fanout []Publisher

func NewFanout(publishers ...Publisher) Fanout {
	var out Fanout
	for _, p := range publishers {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}

func (f Fanout) Publish(ctx context.Context, evt models.LiveEvent) {
	for _, p := range f {
		p.Publish(ctx, evt)
	}
}
