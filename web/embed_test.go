// SPDX-License-Identifier: Apache-2.0

package web

import (
	"bytes"
	"io/fs"
	"strings"
	"testing"
)

func TestTemplatesParse(t *testing.T) {
	tmpl, err := Templates()
	if err != nil {
		t.Fatalf("parse templates: %v", err)
	}
	if tmpl.Lookup("index.html") == nil {
		t.Fatal("expected index.html template")
	}

	var buf bytes.Buffer
	err = tmpl.ExecuteTemplate(&buf, "index.html", map[string]any{
		"Entries":      []map[string]string{{"Message": "<b>x</b>", "DisplayTime": "01.05.2024 18:30:15"}},
		"RequireToken": true,
		"Limit":        50,
	})
	if err != nil {
		t.Fatalf("execute index: %v", err)
	}
	out := buf.String()
	if strings.Contains(out, "<b>x</b>") {
		t.Fatal("expected message to be escaped")
	}
	if !strings.Contains(out, `name="token"`) {
		t.Fatal("expected token field when a token is required")
	}
}

func TestStaticAssets(t *testing.T) {
	for _, name := range []string{"app.js", "style.css"} {
		if _, err := fs.Stat(Static(), name); err != nil {
			t.Fatalf("stat %s: %v", name, err)
		}
	}
}
