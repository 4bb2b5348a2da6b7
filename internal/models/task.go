package models

import "time"

type TaskStatus string

const (
	TaskStatusQueued     TaskStatus = "queued"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// IsTerminal reports whether no further provider polling is needed.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// NonTerminalStatuses are the statuses picked up by sweeps.
var NonTerminalStatuses = []TaskStatus{TaskStatusQueued, TaskStatusProcessing}

type TaskType string

const (
	TaskTypeShotGeneration     TaskType = "shot_generation"
	TaskTypeCharacterReference TaskType = "character_reference"
)

// ShotRange is the slice of a multi-shot video that belongs to one shot.
type ShotRange struct {
	ShotID string  `json:"shot_id"`
	Start  float64 `json:"start"`
	End    float64 `json:"end"`
}

// Task is one provider generation job. The ID is the provider's id.
type Task struct {
	ID           string      `json:"id"`
	UserID       string      `json:"user_id"`
	ProjectID    string      `json:"project_id"`
	SceneID      string      `json:"scene_id,omitempty"`
	CharacterID  string      `json:"character_id,omitempty"`
	ShotID       string      `json:"shot_id,omitempty"`
	ShotIDs      []string    `json:"shot_ids,omitempty"`
	ShotRanges   []ShotRange `json:"shot_ranges,omitempty"`
	Type         TaskType    `json:"type"`
	Status       TaskStatus  `json:"status"`
	Progress     int         `json:"progress"`
	Prompt       string      `json:"prompt,omitempty"`
	ProviderURL  string      `json:"kaponai_url,omitempty"`
	DurableURL   string      `json:"r2_url,omitempty"`
	ErrorMessage string      `json:"error_message,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`

	// ReconciledAt is set once the result is durable and applied to every
	// target. Repair passes only pick up completed tasks without it.
	ReconciledAt *time.Time `json:"reconciled_at,omitempty"`
}

// ShotTargets is the normalized target list of a shot task. IDs is never
// empty when returned by ResolveTargets with ok=true.
type ShotTargets struct {
	IDs   []string
	Multi bool
}

// ResolveTargets collapses the single and multi shot forms into one list.
// A non-empty ShotIDs wins over ShotID.
func (t *Task) ResolveTargets() (ShotTargets, bool) {
	if len(t.ShotIDs) > 0 {
		ids := make([]string, 0, len(t.ShotIDs))
		seen := make(map[string]bool, len(t.ShotIDs))
		for _, id := range t.ShotIDs {
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			ids = append(ids, id)
		}
		if len(ids) > 0 {
			return ShotTargets{IDs: ids, Multi: len(ids) > 1}, true
		}
	}
	if t.ShotID != "" {
		return ShotTargets{IDs: []string{t.ShotID}}, true
	}
	return ShotTargets{}, false
}

// RangeFor returns the range recorded for shotID, if any.
func (t *Task) RangeFor(shotID string) *ShotRange {
	for i := range t.ShotRanges {
		if t.ShotRanges[i].ShotID == shotID {
			r := t.ShotRanges[i]
			return &r
		}
	}
	return nil
}

// BestURL prefers the durable copy over the provider's expiring link.
func (t *Task) BestURL() string {
	if t.DurableURL != "" {
		return t.DurableURL
	}
	return t.ProviderURL
}

// TaskUpdate is a partial update. Nil fields are left unchanged.
type TaskUpdate struct {
	Status       *TaskStatus
	Progress     *int
	ProviderURL  *string
	DurableURL   *string
	ErrorMessage *string
	ReconciledAt *time.Time
}

// Apply copies the non-nil fields onto t.
func (u TaskUpdate) Apply(t *Task) {
	if u.Status != nil {
		t.Status = *u.Status
	}
	if u.Progress != nil {
		t.Progress = *u.Progress
	}
	if u.ProviderURL != nil {
		t.ProviderURL = *u.ProviderURL
	}
	if u.DurableURL != nil {
		t.DurableURL = *u.DurableURL
	}
	if u.ErrorMessage != nil {
		t.ErrorMessage = *u.ErrorMessage
	}
	if u.ReconciledAt != nil {
		at := *u.ReconciledAt
		t.ReconciledAt = &at
	}
}

// IsEmpty reports whether the update changes nothing.
func (u TaskUpdate) IsEmpty() bool {
	return u.Status == nil && u.Progress == nil && u.ProviderURL == nil &&
		u.DurableURL == nil && u.ErrorMessage == nil && u.ReconciledAt == nil
}
