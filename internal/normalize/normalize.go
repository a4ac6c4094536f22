// SPDX-License-Identifier: Apache-2.0

// Package normalize turns loosely structured Emby webhook payloads into
// domain.CanonicalEvent values. Normalization never fails: absent or
// malformed fields degrade to catalog placeholders.
package normalize

import (
	"fmt"
	"strings"
	"time"

	"github.com/Fan4Metal/emby-webhooks-app/internal/domain"
)

// PlaybackSessionPrefix tags keys derived from the generic Session.Id so they
// cannot collide with PlaySessionId values.
const PlaybackSessionPrefix = "sess:"

type Options struct {
	// Layout is the time.Format layout for display timestamps.
	Layout string
	// Offset is added to the UTC instant before formatting. Zero keeps the
	// offset carried by the payload.
	Offset time.Duration
	Locale string
}

type Normalizer struct {
	layout  string
	offset  time.Duration
	catalog Catalog
}

func New(opts Options) *Normalizer {
	layout := strings.TrimSpace(opts.Layout)
	if layout == "" {
		layout = DefaultDisplayLayout
	}

	return &Normalizer{
		layout:  layout,
		offset:  opts.Offset,
		catalog: CatalogFor(opts.Locale),
	}
}

// Normalize maps a decoded payload onto a canonical event. raw may be nil.
func (n *Normalizer) Normalize(raw map[string]any) domain.CanonicalEvent {
	c := n.catalog

	eventName := lookupOr(raw, c.MissingEvent, "Event")
	kind := domain.ParseEventKind(eventName)

	f := fields{
		server: lookupOr(raw, c.UnknownServer, "Server", "Name"),
		user:   lookupOr(raw, c.UnknownUser, "User", "Name"),
		item:   lookupOr(raw, c.UnknownItem, "Item", "Name"),
		device: lookupOr(raw, c.UnknownDevice, "Session", "DeviceName"),
	}
	if year, ok := lookup(raw, "Item", "ProductionYear"); ok {
		f.year = year
	}

	displayTime := c.UnknownTime
	if date, ok := lookup(raw, "Date"); ok {
		displayTime = formatDisplayTime(date, n.layout, n.offset)
	}

	return domain.CanonicalEvent{
		SessionKey:  SessionKey(raw),
		Kind:        kind,
		Message:     n.message(kind, f),
		DisplayTime: displayTime,
	}
}

// SessionKey derives the dedup key: PlaybackInfo.PlaySessionId, else the
// prefixed Session.Id, else empty.
func SessionKey(raw map[string]any) string {
	if id, ok := lookup(raw, "PlaybackInfo", "PlaySessionId"); ok {
		return id
	}
	if id, ok := lookup(raw, "Session", "Id"); ok {
		return PlaybackSessionPrefix + id
	}
	return ""
}

type fields struct {
	server string
	user   string
	item   string
	year   string
	device string
}

func (f fields) title() string {
	if f.year == "" {
		return f.item
	}
	return f.item + " (" + f.year + ")"
}

func (n *Normalizer) message(kind domain.EventKind, f fields) string {
	c := n.catalog

	switch {
	case kind == domain.KindSystemTest:
		return fmt.Sprintf(c.SystemTest, f.server, c.Actions[kind])
	case kind.IsPlayback():
		return fmt.Sprintf(c.Playback, f.server, f.user, c.Actions[kind], f.title(), f.device)
	default:
		return fmt.Sprintf(c.Other, f.server, f.user, kind, f.title(), f.device)
	}
}
