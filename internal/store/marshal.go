package store

import (
	"encoding/json"
	"fmt"
)

// marshalPayload serializes an event data map (or state attributes) for
// storage. nil maps serialize as {} so the columns stay NOT NULL.
func marshalPayload(m map[string]any) (string, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	return string(b), nil
}

// unmarshalPayload is the inverse of marshalPayload; empty text yields nil.
func unmarshalPayload(s string) (map[string]any, error) {
	if s == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return m, nil
}
