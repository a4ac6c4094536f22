// SPDX-License-Identifier: Apache-2.0

package domain

import "time"

const DefaultRecentLimit = 50

// LogEntry is one admitted event in the activity log. ID orders entries.
type LogEntry struct {
	ID          int64     `json:"id"`
	Message     string    `json:"message"`
	Kind        EventKind `json:"kind"`
	DisplayTime string    `json:"display_time"`
	SessionKey  string    `json:"session_key,omitempty"`
	ReceivedAt  time.Time `json:"received_at"`
}

// NewLogEntry copies the displayable fields of an admitted event.
func NewLogEntry(ev CanonicalEvent, receivedAt time.Time) LogEntry {
	return LogEntry{
		Message:     ev.Message,
		Kind:        ev.Kind,
		DisplayTime: ev.DisplayTime,
		SessionKey:  ev.SessionKey,
		ReceivedAt:  receivedAt,
	}
}

// SessionState is the last admitted playback kind for a session key.
type SessionState struct {
	SessionKey string    `json:"session_key"`
	LastEvent  EventKind `json:"last_event"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ClearResult counts the rows removed by a bulk clear.
type ClearResult struct {
	Entries  int64 `json:"entries"`
	Sessions int64 `json:"sessions"`
}
