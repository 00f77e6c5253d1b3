package models

import "time"

// QueueEntry is one deferred capture request, stored as a JSONL record
type QueueEntry struct {
	RequestedAt   time.Time `json:"requestedAt"`
	WorkspacePath string    `json:"workspacePath"`
	LineOfWork    string    `json:"lineOfWork"`
	CorrelationID string    `json:"correlationId"`
	RetryCount    int       `json:"retryCount"`
	Tool          string    `json:"tool,omitempty"`
	File          string    `json:"file,omitempty"`
	LastError     string    `json:"lastError,omitempty"`
}

// DeadLetter is a queue entry that exceeded the retry ceiling
type DeadLetter struct {
	QueueEntry
	DeadLetteredAt time.Time `json:"deadLetteredAt"`
	Reason         string    `json:"reason"`
}
