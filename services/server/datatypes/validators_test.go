// Copyright (C) 2026 Kodiak Security (dev@kodiaksec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainPattern(t *testing.T) {
	tests := []struct {
		domain string
		want   bool
	}{
		{"corp.example.com", true},
		{"CORP.Example.COM", true},
		{"corp", true},
		{"sub-domain.example.com", true},
		{"", false},
		{"-corp.example.com", false},
		{"corp..example.com", false},
		{"corp example.com", false},
		{strings.Repeat("a", 64) + ".example.com", false},
	}
	for _, tt := range tests {
		t.Run(tt.domain, func(t *testing.T) {
			got := len(tt.domain) > 0 && len(tt.domain) <= 253 && domainPattern.MatchString(tt.domain)
			assert.Equal(t, tt.want, got)
		})
	}
}
