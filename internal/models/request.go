package models

type SubmitShotTaskRequest struct {
	ProjectID string `json:"project_id" binding:"required" example:"b7c1e0a2-7f3e-4c55-9d0e-0f4a6c1d2e3f"`
	SceneID   string `json:"scene_id,omitempty"`
	// Either ShotID or ShotIDs must be set. ShotIDs wins when both are.
	ShotID     string      `json:"shot_id,omitempty"`
	ShotIDs    []string    `json:"shot_ids,omitempty"`
	ShotRanges []ShotRange `json:"shot_ranges,omitempty"`
	Prompt     string      `json:"prompt" binding:"required"`
	Model      string      `json:"model,omitempty" example:"sora-2"`
	Seconds    int         `json:"seconds,omitempty" example:"10"`
	Size       string      `json:"size,omitempty" example:"1280x720"`
	// Reference image URLs forwarded to the provider.
	ImageURLs []string `json:"image_urls,omitempty"`
	// Registered character usernames to cast, e.g. "@ch_42".
	Characters []string `json:"characters,omitempty"`
}

type BatchStatusRequest struct {
	TaskIDs []string `json:"task_ids" binding:"required"`
}

type StartCharacterRequest struct {
	Prompt            string `json:"prompt,omitempty"`
	ReferenceImageURL string `json:"reference_image_url,omitempty"`
	Model             string `json:"model,omitempty"`
	Seconds           int    `json:"seconds,omitempty"`
}

type SetUsernameRequest struct {
	Username string `json:"username" binding:"required" example:"ch_42"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
