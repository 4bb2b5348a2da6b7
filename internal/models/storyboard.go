package models

import (
	"fmt"
	"time"
)

type ShotStatus string

const (
	ShotStatusDraft      ShotStatus = "draft"
	ShotStatusProcessing ShotStatus = "processing"
	ShotStatusDone       ShotStatus = "done"
	ShotStatusError      ShotStatus = "error"
)

type Shot struct {
	ID        string     `json:"id"`
	ProjectID string     `json:"project_id"`
	SceneID   string     `json:"scene_id,omitempty"`
	VideoClip string     `json:"video_clip,omitempty"`
	Status    ShotStatus `json:"status"`
	Metadata  Metadata   `json:"metadata"`
	UpdatedAt time.Time  `json:"updated_at"`
}

type Scene struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Metadata  Metadata  `json:"metadata"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Character struct {
	ID                    string    `json:"id"`
	ProjectID             string    `json:"project_id"`
	UserID                string    `json:"user_id"`
	Name                  string    `json:"name"`
	ReferenceImageURL     string    `json:"reference_image_url,omitempty"`
	SoraReferenceVideoURL string    `json:"sora_reference_video_url,omitempty"`
	Metadata              Metadata  `json:"metadata"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// GenerationHistoryEntry is one result ever applied to a shot.
type GenerationHistoryEntry struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Timestamp  time.Time         `json:"timestamp"`
	Result     string            `json:"result"`
	Prompt     string            `json:"prompt"`
	Parameters HistoryParameters `json:"parameters"`
	Status     string            `json:"status"`
}

type HistoryParameters struct {
	Model   string     `json:"model"`
	TaskID  string     `json:"taskId"`
	ShotIDs []string   `json:"shotIds,omitempty"`
	Range   *ShotRange `json:"range,omitempty"`
}

const (
	HistoryTypeVideo     = "video"
	HistoryStatusSuccess = "success"
)

// HasResult reports whether any entry already records url.
func HasResult(entries []GenerationHistoryEntry, url string) bool {
	for _, e := range entries {
		if e.Result == url {
			return true
		}
	}
	return false
}

// TaskEntryIndex returns the index of the newest entry produced by taskID,
// or -1.
func TaskEntryIndex(entries []GenerationHistoryEntry, taskID string) int {
	for i, e := range entries {
		if e.Parameters.TaskID == taskID {
			return i
		}
	}
	return -1
}

// InsertEntry places e at index i, shifting later entries back.
func InsertEntry(entries []GenerationHistoryEntry, i int, e GenerationHistoryEntry) []GenerationHistoryEntry {
	if i < 0 {
		i = 0
	}
	if i > len(entries) {
		i = len(entries)
	}
	out := make([]GenerationHistoryEntry, 0, len(entries)+1)
	out = append(out, entries[:i]...)
	out = append(out, e)
	return append(out, entries[i:]...)
}

type IdentityStatus string

const (
	IdentityNone        IdentityStatus = "none"
	IdentityPending     IdentityStatus = "pending"
	IdentityGenerating  IdentityStatus = "generating"
	IdentityRegistering IdentityStatus = "registering"
	IdentityRegistered  IdentityStatus = "registered"
	IdentityFailed      IdentityStatus = "failed"
)

// SoraIdentity is the provider-side handle for a character.
type SoraIdentity struct {
	Username          string         `json:"username,omitempty"`
	ReferenceVideoURL string         `json:"referenceVideoUrl,omitempty"`
	Status            IdentityStatus `json:"status,omitempty"`
	TaskID            string         `json:"taskId,omitempty"`
	Error             string         `json:"error,omitempty"`
	UpdatedAt         *time.Time     `json:"updatedAt,omitempty"`
}

func (id SoraIdentity) Validate() error {
	switch id.Status {
	case "", IdentityNone, IdentityPending, IdentityGenerating, IdentityRegistering, IdentityRegistered, IdentityFailed:
	default:
		return fmt.Errorf("invalid sora identity status %q", id.Status)
	}
	if id.Status == IdentityRegistered && id.Username == "" {
		return fmt.Errorf("registered sora identity has no username")
	}
	return nil
}

// State derives the flow state. A non-empty username is authoritative.
func (id SoraIdentity) State() IdentityStatus {
	if id.Username != "" {
		return IdentityRegistered
	}
	if id.Status == "" || id.Status == IdentityRegistered {
		return IdentityNone
	}
	return id.Status
}

type AggregateStatus string

const (
	AggregateProcessing AggregateStatus = "processing"
	AggregateSuccess    AggregateStatus = "success"
	AggregateFailed     AggregateStatus = "failed"
)

// SoraGeneration is the scene-level summary of all tasks for a scene.
type SoraGeneration struct {
	TaskID    string          `json:"taskId"`
	Status    AggregateStatus `json:"status"`
	Progress  int             `json:"progress"`
	Tasks     []string        `json:"tasks"`
	VideoURL  string          `json:"videoUrl,omitempty"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// LiveEvent is pushed to live views after a durable write.
type LiveEvent struct {
	Type      string         `json:"type"`
	ProjectID string         `json:"project_id"`
	EntityID  string         `json:"entity_id"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`

	// UserID owns the entity. Live views only see their own events.
	UserID string `json:"user_id,omitempty"`
}

const (
	EventShotUpdated      = "shot_updated"
	EventCharacterUpdated = "character_updated"
	EventSceneRollup      = "scene_rollup"
	EventTaskUpdated      = "task_updated"
)
