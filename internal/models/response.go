package models

import "time"

type TaskResponse struct {
	Task     *Task    `json:"task"`
	Warnings []string `json:"warnings,omitempty"`
}

// TaskResult is the per-item outcome of a refresh.
type TaskResult struct {
	TaskID   string     `json:"task_id"`
	Status   TaskStatus `json:"status,omitempty"`
	Progress int        `json:"progress"`
	VideoURL string     `json:"video_url,omitempty"`
	Changed  bool       `json:"changed"`
	Warnings []string   `json:"warnings,omitempty"`

	// ErrorMessage is the provider's failure reason for a failed task.
	ErrorMessage string `json:"error_message,omitempty"`
	// Error is set when this item could not be refreshed.
	Error string `json:"error,omitempty"`
}

// BatchReport always carries counts and per-item details, even when some
// items failed.
type BatchReport struct {
	Total     int                       `json:"total"`
	Succeeded int                       `json:"succeeded"`
	Failed    int                       `json:"failed"`
	Details   []TaskResult              `json:"details"`
	Scenes    map[string]SoraGeneration `json:"scenes,omitempty"`
}

type CharacterIdentityResponse struct {
	CharacterID       string         `json:"character_id"`
	State             IdentityStatus `json:"state"`
	Username          string         `json:"username,omitempty"`
	ReferenceVideoURL string         `json:"reference_video_url,omitempty"`
	TaskID            string         `json:"task_id,omitempty"`
	Error             string         `json:"error,omitempty"`
	Notice            string         `json:"notice,omitempty"`
}

type SceneStatusResponse struct {
	SceneID    string          `json:"scene_id"`
	Generation *SoraGeneration `json:"sora_generation,omitempty"`
}

type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}
