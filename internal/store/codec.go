package store

import (
	"encoding/json"
	"fmt"
)

// Address lists, reference ids, header maps and queue metadata are kept as
// JSON text in single columns. These helpers are the only place that
// encodes or decodes them.

func encodeList(l []string) (string, error) {
	if l == nil {
		l = []string{}
	}
	b, err := json.Marshal(l)
	if err != nil {
		return "", fmt.Errorf("failed to encode list: %w", err)
	}
	return string(b), nil
}

func decodeList(s string) ([]string, error) {
	l := []string{}
	if s == "" {
		return l, nil
	}
	if err := json.Unmarshal([]byte(s), &l); err != nil {
		return nil, fmt.Errorf("failed to decode list: %w", err)
	}
	if l == nil {
		l = []string{}
	}
	return l, nil
}

func encodeHeaders(m map[string]string) (string, error) {
	if m == nil {
		m = map[string]string{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to encode headers: %w", err)
	}
	return string(b), nil
}

func decodeHeaders(s string) (map[string]string, error) {
	m := map[string]string{}
	if s == "" {
		return m, nil
	}
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, fmt.Errorf("failed to decode headers: %w", err)
	}
	if m == nil {
		m = map[string]string{}
	}
	return m, nil
}

func encodeMetadata(m map[string]any) (string, error) {
	if m == nil {
		m = map[string]any{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to encode metadata: %w", err)
	}
	return string(b), nil
}

func decodeMetadata(s string) (map[string]any, error) {
	m := map[string]any{}
	if s == "" {
		return m, nil
	}
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}
