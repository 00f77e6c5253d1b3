package models

import "time"

// SnapshotInfo describes one snapshot as seen by the timeline
type SnapshotInfo struct {
	Ordinal   int        `json:"ordinal"`
	Ref       string     `json:"ref"`
	Line      string     `json:"line_of_work"`
	Suffix    string     `json:"suffix"`
	ID        string     `json:"id"`
	Tree      string     `json:"tree"`
	Parent    string     `json:"parent,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	Message   string     `json:"message"`
	Metadata  *Metadata  `json:"metadata,omitempty"`
	Changes   []FileStat `json:"changes,omitempty"`
}

// ShortID returns the abbreviated commit id used in listings
func (s SnapshotInfo) ShortID() string {
	if len(s.ID) > 8 {
		return s.ID[:8]
	}
	return s.ID
}

// FileStat is a per-file diff summary against the line-of-work head
type FileStat struct {
	Path    string `json:"path"`
	Added   int    `json:"added"`
	Deleted int    `json:"deleted"`
	Binary  bool   `json:"binary,omitempty"`
}
