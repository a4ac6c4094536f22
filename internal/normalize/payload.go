// SPDX-License-Identifier: Apache-2.0

package normalize

import (
	"fmt"
	"strings"
)

// lookup walks nested objects of a decoded JSON payload and returns the leaf
// as text. Missing keys, null, non-object intermediates, container leaves and
// blank strings all report ok == false.
func lookup(raw map[string]any, path ...string) (string, bool) {
	var cur any = raw
	for _, key := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return "", false
		}
		cur, ok = obj[key]
		if !ok {
			return "", false
		}
	}

	var s string
	switch v := cur.(type) {
	case nil:
		return "", false
	case string:
		s = v
	case map[string]any, []any:
		return "", false
	default:
		s = fmt.Sprint(v)
	}

	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	return s, true
}

func lookupOr(raw map[string]any, fallback string, path ...string) string {
	if v, ok := lookup(raw, path...); ok {
		return v
	}
	return fallback
}
