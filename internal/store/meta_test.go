// Copyright 2026 The reconctl Authors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalMetaDefaultsNilToEmptyObject(t *testing.T) {
	data, err := MarshalMeta(nil)
	require.NoError(t, err)
	assert.JSONEq(t, "{}", string(data))
}

func TestUnmarshalMetaTreatsMalformedAsEmpty(t *testing.T) {
	assert.Empty(t, UnmarshalMeta([]byte("not json")))
	assert.Empty(t, UnmarshalMeta(nil))
}

func TestMetaRoundTrips(t *testing.T) {
	meta := map[string]any{"cpe": "cpe:/a:openssh:openssh", "extra": "protocol 2.0"}
	data, err := MarshalMeta(meta)
	require.NoError(t, err)

	got := UnmarshalMeta(data)
	assert.Equal(t, meta["cpe"], got["cpe"])
	assert.Equal(t, meta["extra"], got["extra"])
}
