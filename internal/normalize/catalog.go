// SPDX-License-Identifier: Apache-2.0

package normalize

import (
	"strings"

	"github.com/Fan4Metal/emby-webhooks-app/internal/domain"
)

const (
	LocaleRU = "ru"
	LocaleEN = "en"
)

// Catalog holds the placeholder and message wording for one locale.
type Catalog struct {
	UnknownServer string
	UnknownUser   string
	UnknownItem   string
	UnknownDevice string
	UnknownTime   string
	MissingEvent  string

	Actions map[domain.EventKind]string

	// Playback formats server, user, action, title and device.
	Playback string
	// SystemTest formats server and action.
	SystemTest string
	// Other formats server, user, raw event, title and device.
	Other string
}

var catalogs = map[string]Catalog{
	LocaleRU: {
		UnknownServer: "Неизвестный сервер",
		UnknownUser:   "Неизвестный пользователь",
		UnknownItem:   "Неизвестный контент",
		UnknownDevice: "Неизвестное устройство",
		UnknownTime:   "Нет даты",
		MissingEvent:  "Нет Event",
		Actions: map[domain.EventKind]string{
			domain.KindPlaybackStart:   "начал просмотр",
			domain.KindPlaybackStop:    "остановил просмотр",
			domain.KindPlaybackPause:   "поставил на паузу",
			domain.KindPlaybackUnpause: "возобновил просмотр",
			domain.KindSystemTest:      "тестовое уведомление",
		},
		Playback:   "%s: %s %s «%s» на %s",
		SystemTest: "%s: %s",
		Other:      "%s: User: %s, Event: %s, Item: %s, Device: %s",
	},
	LocaleEN: {
		UnknownServer: "Unknown server",
		UnknownUser:   "Unknown user",
		UnknownItem:   "Unknown item",
		UnknownDevice: "Unknown device",
		UnknownTime:   "No date",
		MissingEvent:  "No Event",
		Actions: map[domain.EventKind]string{
			domain.KindPlaybackStart:   "started playing",
			domain.KindPlaybackStop:    "stopped playing",
			domain.KindPlaybackPause:   "paused",
			domain.KindPlaybackUnpause: "resumed",
			domain.KindSystemTest:      "test notification",
		},
		Playback:   "%s: %s %s “%s” on %s",
		SystemTest: "%s: %s",
		Other:      "%s: User: %s, Event: %s, Item: %s, Device: %s",
	},
}

// CatalogFor returns the catalog for locale, falling back to Russian.
func CatalogFor(locale string) Catalog {
	if c, ok := catalogs[strings.ToLower(strings.TrimSpace(locale))]; ok {
		return c
	}
	return catalogs[LocaleRU]
}

// Locales lists the supported locale codes.
func Locales() []string {
	return []string{LocaleRU, LocaleEN}
}
