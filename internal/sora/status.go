package sora

import (
	"strings"

	"storyboard-backend/internal/models"
)

// NormalizeStatus maps a provider status onto the internal vocabulary.
// Provider-specific in-flight states collapse to processing; the four
// internal states pass through. Anything else is returned unchanged so that
// an unfamiliar status is visible rather than silently rewritten.
func NormalizeStatus(raw string) models.TaskStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "running", "generating", "in_progress":
		return models.TaskStatusProcessing
	case "queued":
		return models.TaskStatusQueued
	case "processing":
		return models.TaskStatusProcessing
	case "completed":
		return models.TaskStatusCompleted
	case "failed":
		return models.TaskStatusFailed
	default:
		return models.TaskStatus(raw)
	}
}

// IsKnownStatus reports whether s is one of the internal statuses.
func IsKnownStatus(s models.TaskStatus) bool {
	switch s {
	case models.TaskStatusQueued, models.TaskStatusProcessing, models.TaskStatusCompleted, models.TaskStatusFailed:
		return true
	}
	return false
}
