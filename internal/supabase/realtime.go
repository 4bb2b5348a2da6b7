package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"storyboard-backend/internal/models"
)

// RealtimeClient pushes live events to Supabase Realtime through the REST
// broadcast endpoint. Clients subscribe to the "project:{id}" channel.
type RealtimeClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewRealtimeClient(supabaseURL, apiKey string, logger *slog.Logger) *RealtimeClient {
	return &RealtimeClient{
		baseURL: strings.TrimSuffix(supabaseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

type broadcastMessage struct {
	Topic   string         `json:"topic"`
	Event   string         `json:"event"`
	Payload map[string]any `json:"payload"`
}

func (r *RealtimeClient) PublishEvent(ctx context.Context, channel, event string, payload map[string]any) error {
	body, err := json.Marshal(map[string][]broadcastMessage{
		"messages": {{Topic: channel, Event: event, Payload: payload}},
	})
	if err != nil {
		return fmt.Errorf("failed to marshal broadcast: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/realtime/v1/api/broadcast", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", r.apiKey)
	req.Header.Set("Authorization", "Bearer "+r.apiKey)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("failed to broadcast: status %d, body: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// Publish broadcasts evt on its project channel. Failures are logged only;
// the durable write has already happened.
func (r *RealtimeClient) Publish(ctx context.Context, evt models.LiveEvent) {
	payload := map[string]any{
		"entity_id": evt.EntityID,
		"timestamp": evt.Timestamp,
	}
	for k, v := range evt.Payload {
		payload[k] = v
	}
	if err := r.PublishEvent(ctx, ProjectChannel(evt.ProjectID), evt.Type, payload); err != nil {
		r.logger.Warn("realtime broadcast failed", "event", evt.Type, "project_id", evt.ProjectID, "error", err)
	}
}

func ProjectChannel(projectID string) string {
	return "project:" + projectID
}
