// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"bytes"
	"fmt"
	"io"

	"github.com/goccy/go-json"
)

// DecodePayload parses a webhook body into a generic object. Numbers are kept
// as json.Number so ids and years render exactly as sent. Anything that is not
// a JSON object is an error; callers treat it as an empty payload.
func DecodePayload(r io.Reader) (map[string]any, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	return DecodePayloadBytes(body)
}

func DecodePayloadBytes(body []byte) (map[string]any, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, fmt.Errorf("empty payload")
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("payload is not an object")
	}
	return raw, nil
}
