// Copyright 2026 The reconctl Authors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package store

import "encoding/json"

// MarshalMeta renders a meta map as JSON text for the jsonb columns; a nil
// map renders as "{}", matching the original's `meta or {}` default.
func MarshalMeta(meta map[string]any) ([]byte, error) {
	if meta == nil {
		meta = map[string]any{}
	}
	return json.Marshal(meta)
}

// UnmarshalMeta decodes a jsonb column back into a map, tolerating empty
// or malformed input by returning an empty map.
func UnmarshalMeta(data []byte) map[string]any {
	if len(data) == 0 {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]any{}
	}
	return m
}
