// SPDX-License-Identifier: Apache-2.0

package domain

// EventKind is the Emby event name. The five constants below form the closed
// vocabulary; any other value is the raw name of an untracked event.
type EventKind string

const (
	KindPlaybackStart   EventKind = "playback.start"
	KindPlaybackPause   EventKind = "playback.pause"
	KindPlaybackUnpause EventKind = "playback.unpause"
	KindPlaybackStop    EventKind = "playback.stop"
	KindSystemTest      EventKind = "system.notificationtest"
)

// KindOther is the metrics label used for every kind outside the vocabulary.
const KindOther = "other"

// ParseEventKind maps a raw event name onto an EventKind. Matching is exact;
// names outside the vocabulary are kept verbatim and report Known() == false.
func ParseEventKind(name string) EventKind {
	return EventKind(name)
}

// Known reports whether k belongs to the closed vocabulary.
func (k EventKind) Known() bool {
	switch k {
	case KindPlaybackStart, KindPlaybackPause, KindPlaybackUnpause, KindPlaybackStop, KindSystemTest:
		return true
	default:
		return false
	}
}

// IsPlayback reports whether k is one of the tracked playback transitions.
func (k EventKind) IsPlayback() bool {
	switch k {
	case KindPlaybackStart, KindPlaybackPause, KindPlaybackUnpause, KindPlaybackStop:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether admitting k ends the session.
func (k EventKind) IsTerminal() bool {
	return k == KindPlaybackStop
}

// Label returns a bounded-cardinality name for metrics.
func (k EventKind) Label() string {
	if k.Known() {
		return string(k)
	}
	return KindOther
}

func (k EventKind) String() string {
	return string(k)
}

// CanonicalEvent is the normalized form of one webhook delivery.
type CanonicalEvent struct {
	SessionKey  string
	Kind        EventKind
	Message     string
	DisplayTime string
}

func (e CanonicalEvent) HasSessionKey() bool {
	return e.SessionKey != ""
}

// Tracked reports whether the event takes part in session deduplication.
func (e CanonicalEvent) Tracked() bool {
	return e.Kind.IsPlayback() && e.HasSessionKey()
}
