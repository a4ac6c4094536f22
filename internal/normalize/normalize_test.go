// SPDX-License-Identifier: Apache-2.0

package normalize

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/Fan4Metal/emby-webhooks-app/internal/domain"
	"github.com/goccy/go-json"
)

func decodePayload(t *testing.T, body string) map[string]any {
	t.Helper()

	var raw map[string]any
	dec := json.NewDecoder(bytes.NewBufferString(body))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	return raw
}

const fullPayload = `{
	"Server": {"Name": "Home"},
	"User": {"Name": "alice"},
	"Event": "playback.pause",
	"Item": {"Name": "Alien", "ProductionYear": 1979},
	"Session": {"DeviceName": "TV", "Id": "s-1"},
	"PlaybackInfo": {"PlaySessionId": "ps-42"},
	"Date": "2024-05-01T18:30:15.1234567Z"
}`

func TestNormalizeFullPayload(t *testing.T) {
	n := New(Options{})
	ev := n.Normalize(decodePayload(t, fullPayload))

	if ev.SessionKey != "ps-42" {
		t.Fatalf("expected PlaySessionId key, got %q", ev.SessionKey)
	}
	if ev.Kind != domain.KindPlaybackPause {
		t.Fatalf("expected kind %s got %s", domain.KindPlaybackPause, ev.Kind)
	}
	if want := "Home: alice поставил на паузу «Alien (1979)» на TV"; ev.Message != want {
		t.Fatalf("expected message %q got %q", want, ev.Message)
	}
	if want := "01.05.2024 18:30:15"; ev.DisplayTime != want {
		t.Fatalf("expected display time %q got %q", want, ev.DisplayTime)
	}
}

func TestNormalizeSessionKeyPriority(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{name: "play session id wins", body: `{"PlaybackInfo":{"PlaySessionId":"p1"},"Session":{"Id":"s1"}}`, want: "p1"},
		{name: "session id is prefixed", body: `{"Session":{"Id":"s1"}}`, want: "sess:s1"},
		{name: "blank play session falls through", body: `{"PlaybackInfo":{"PlaySessionId":""},"Session":{"Id":"s1"}}`, want: "sess:s1"},
		{name: "null playback info", body: `{"PlaybackInfo":null,"Session":{"Id":"s1"}}`, want: "sess:s1"},
		{name: "numeric session id", body: `{"Session":{"Id":17}}`, want: "sess:17"},
		{name: "no identifiers", body: `{"Session":{"DeviceName":"TV"}}`, want: ""},
		{name: "session is not an object", body: `{"Session":"broken"}`, want: ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SessionKey(decodePayload(t, tc.body)); got != tc.want {
				t.Fatalf("expected key %q got %q", tc.want, got)
			}
		})
	}
}

func TestNormalizeMessages(t *testing.T) {
	n := New(Options{Locale: LocaleRU})

	cases := []struct {
		name string
		body string
		want string
	}{
		{
			name: "system test",
			body: `{"Server":{"Name":"Home"},"Event":"system.notificationtest"}`,
			want: "Home: тестовое уведомление",
		},
		{
			name: "start without year",
			body: `{"Server":{"Name":"Home"},"User":{"Name":"bob"},"Event":"playback.start","Item":{"Name":"Clip"},"Session":{"DeviceName":"Phone"}}`,
			want: "Home: bob начал просмотр «Clip» на Phone",
		},
		{
			name: "stop with defaults",
			body: `{"Event":"playback.stop"}`,
			want: "Неизвестный сервер: Неизвестный пользователь остановил просмотр «Неизвестный контент» на Неизвестное устройство",
		},
		{
			name: "other event lists fields",
			body: `{"Server":{"Name":"Home"},"User":{"Name":"bob"},"Event":"library.new","Item":{"Name":"Show","ProductionYear":"2020"},"Session":{"DeviceName":"TV"}}`,
			want: "Home: User: bob, Event: library.new, Item: Show (2020), Device: TV",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev := n.Normalize(decodePayload(t, tc.body))
			if ev.Message != tc.want {
				t.Fatalf("expected message %q got %q", tc.want, ev.Message)
			}
		})
	}
}

func TestNormalizeEnglishCatalog(t *testing.T) {
	n := New(Options{Locale: "EN"})
	ev := n.Normalize(decodePayload(t, fullPayload))

	if want := "Home: alice paused “Alien (1979)” on TV"; ev.Message != want {
		t.Fatalf("expected message %q got %q", want, ev.Message)
	}
}

func TestNormalizeIsDeterministic(t *testing.T) {
	n := New(Options{})
	raw := decodePayload(t, fullPayload)

	first := n.Normalize(raw)
	for i := 0; i < 10; i++ {
		if got := n.Normalize(raw); got != first {
			t.Fatalf("expected identical output, got %+v and %+v", first, got)
		}
	}
}

func TestNormalizeNeverLeavesFieldsEmpty(t *testing.T) {
	payloads := []map[string]any{
		nil,
		{},
		{"Event": nil},
		{"Event": "", "Date": ""},
		{"Server": []any{"x"}, "User": 5, "Item": map[string]any{"Name": map[string]any{}}},
		{"Event": "playback.start", "Session": nil, "PlaybackInfo": "nope"},
		{"Event": "system.notificationtest", "Date": "yesterday"},
	}

	for _, locale := range Locales() {
		n := New(Options{Locale: locale})
		for i, raw := range payloads {
			ev := n.Normalize(raw)
			if strings.TrimSpace(ev.Message) == "" {
				t.Fatalf("%s payload %d: empty message", locale, i)
			}
			if strings.TrimSpace(ev.DisplayTime) == "" {
				t.Fatalf("%s payload %d: empty display time", locale, i)
			}
			if strings.TrimSpace(ev.Kind.String()) == "" {
				t.Fatalf("%s payload %d: empty kind", locale, i)
			}
		}
	}
}

func TestNormalizeMissingEventUsesPlaceholder(t *testing.T) {
	ev := New(Options{}).Normalize(map[string]any{})
	if ev.Kind.String() != "Нет Event" {
		t.Fatalf("expected placeholder kind, got %q", ev.Kind)
	}
	if ev.Kind.Known() {
		t.Fatal("expected placeholder kind to be outside the vocabulary")
	}
	if ev.HasSessionKey() {
		t.Fatal("expected no session key")
	}
}

func TestFormatDisplayTime(t *testing.T) {
	cases := []struct {
		name   string
		raw    string
		offset time.Duration
		want   string
	}{
		{name: "utc zulu", raw: "2024-01-02T03:04:05Z", want: "02.01.2024 03:04:05"},
		{name: "seven digit fraction", raw: "2024-01-02T03:04:05.1234567Z", want: "02.01.2024 03:04:05"},
		{name: "keeps payload offset", raw: "2024-01-02T03:04:05+05:00", want: "02.01.2024 03:04:05"},
		{name: "naive datetime", raw: "2024-01-02T03:04:05", want: "02.01.2024 03:04:05"},
		{name: "date only", raw: "2024-01-02", want: "02.01.2024 00:00:00"},
		{name: "offset applied to utc", raw: "2024-01-02T22:30:00Z", offset: 3 * time.Hour, want: "03.01.2024 01:30:00"},
		{name: "offset normalizes payload zone", raw: "2024-01-02T03:04:05+05:00", offset: 3 * time.Hour, want: "02.01.2024 01:04:05"},
		{name: "unparseable passes through", raw: "last tuesday", want: "last tuesday"},
		{name: "unparseable ignores offset", raw: "12/31/2024", offset: time.Hour, want: "12/31/2024"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := formatDisplayTime(tc.raw, DefaultDisplayLayout, tc.offset); got != tc.want {
				t.Fatalf("expected %q got %q", tc.want, got)
			}
		})
	}
}

func TestNormalizeCustomLayout(t *testing.T) {
	n := New(Options{Layout: time.RFC3339, Offset: -2 * time.Hour})
	ev := n.Normalize(map[string]any{"Date": "2024-01-02T03:04:05Z"})

	if want := "2024-01-02T01:04:05Z"; ev.DisplayTime != want {
		t.Fatalf("expected %q got %q", want, ev.DisplayTime)
	}
}
