package models

import "time"

// CheckpointSource tells what produced a checkpoint.
type CheckpointSource string

const (
	CheckpointSourceInput  CheckpointSource = "input"  // initial state of a run
	CheckpointSourceLoop   CheckpointSource = "loop"   // written after a step completed
	CheckpointSourceResume CheckpointSource = "resume" // external input merged on resume
	CheckpointSourceUpdate CheckpointSource = "update" // manual out-of-band correction
)

// CheckpointMetadata describes where in the graph a checkpoint was taken.
// Step is nil for manual updates.
type CheckpointMetadata struct {
	Source CheckpointSource `json:"source"           validate:"required,oneof=input loop resume update"`
	Step   *int             `json:"step,omitempty"`
	Node   string           `json:"node,omitempty"`
	Next   string           `json:"next,omitempty"`
	Writes []string         `json:"writes,omitempty"`
}

// Checkpoint is an immutable, parent-linked snapshot of a thread's state.
type Checkpoint struct {
	ThreadID           string             `json:"thread_id"`
	CheckpointID       string             `json:"checkpoint_id"`
	ParentCheckpointID string             `json:"parent_checkpoint_id,omitempty"`
	State              *WorkflowState     `json:"state_data"`
	Metadata           CheckpointMetadata `json:"metadata"`
	CreatedAt          time.Time          `json:"created_at"`
}

// ThreadStatus is the lifecycle state of one logical run.
type ThreadStatus string

const (
	ThreadStatusPending     ThreadStatus = "pending"
	ThreadStatusProcessing  ThreadStatus = "processing"
	ThreadStatusSuspended   ThreadStatus = "suspended"
	ThreadStatusCompleted   ThreadStatus = "completed"
	ThreadStatusHumanReview ThreadStatus = "human_review"
	ThreadStatusFailed      ThreadStatus = "failed"
	ThreadStatusCancelled   ThreadStatus = "cancelled"
)

// Thread is one logical, resumable run. Deleting it removes its checkpoints.
type Thread struct {
	ID               string         `json:"id"`
	UserID           string         `json:"user_id"`
	SessionID        string         `json:"session_id,omitempty"`
	Status           ThreadStatus   `json:"status"`
	LastCheckpointID string         `json:"last_checkpoint_id,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// Terminal reports whether no further step may run on the thread.
func (t *Thread) Terminal() bool {
	switch t.Status {
	case ThreadStatusCompleted, ThreadStatusHumanReview, ThreadStatusCancelled:
		return true
	default:
		return false
	}
}
