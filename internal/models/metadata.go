package models

import "time"

// Trigger records what caused a snapshot to be taken
type Trigger string

const (
	TriggerManual   Trigger = "manual"
	TriggerHook     Trigger = "hook"
	TriggerDeferred Trigger = "deferred"
	TriggerTravel   Trigger = "travel"
)

// Metadata is the note attached to every snapshot commit
type Metadata struct {
	SessionID  string    `json:"session_id,omitempty"`
	LineOfWork string    `json:"line_of_work"`
	CreatedAt  time.Time `json:"created_at"`
	Tool       string    `json:"tool,omitempty"`
	File       string    `json:"file,omitempty"`
	Workspace  string    `json:"workspace"`
	Trigger    Trigger   `json:"trigger,omitempty"`
	Message    string    `json:"message,omitempty"`
}
