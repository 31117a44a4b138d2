// Copyright (C) 2026 Kodiak Security (dev@kodiaksec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNopProvider_AcceptsAnything(t *testing.T) {
	p := &NopProvider{}

	for _, token := range []string{"", "anything", "Bearer junk"} {
		info, err := p.Validate(context.Background(), token)
		require.NoError(t, err)
		assert.Equal(t, "local-user", info.Subject)
		assert.True(t, info.HasRole("admin"))
	}
}

func TestStaticTokenProvider(t *testing.T) {
	p := NewStaticTokenProvider("s3cret")

	info, err := p.Validate(context.Background(), "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "api-client", info.Subject)

	for _, token := range []string{"", "wrong", "s3cret "} {
		_, err := p.Validate(context.Background(), token)
		assert.ErrorIs(t, err, ErrUnauthorized, token)
	}
}

func TestInfo_HasRole(t *testing.T) {
	info := &Info{Subject: "x", Roles: []string{"viewer"}}
	assert.True(t, info.HasRole("viewer"))
	assert.False(t, info.HasRole("admin"))
}
