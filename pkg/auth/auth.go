// Copyright (C) 2026 Kodiak Security (dev@kodiaksec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package auth validates API credentials for the server.
//
// The default NopProvider accepts every request as "local-user",
// which keeps single-operator deployments working with zero
// configuration. Setting an API token switches the server to
// StaticTokenProvider; integrations with an identity provider
// implement Provider themselves.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
)

// ErrUnauthorized is returned when credential validation fails.
// Implementations should wrap it so callers can match with errors.Is.
var ErrUnauthorized = errors.New("unauthorized")

// Info is the identity attached to an authenticated request.
type Info struct {
	// Subject identifies the caller. Never empty on success.
	Subject string

	// Roles carries role memberships for authorization decisions.
	Roles []string
}

// HasRole reports whether the identity carries the role.
func (i *Info) HasRole(role string) bool {
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Provider validates a credential and returns the caller's identity.
// Implementations must be safe for concurrent use.
type Provider interface {
	// Validate checks the token and returns the identity, or an error
	// matching ErrUnauthorized when the credential is invalid.
	Validate(ctx context.Context, token string) (*Info, error)
}

// NopProvider accepts any credential, empty included, as a local
// admin. This is the default for single-operator deployments.
type NopProvider struct{}

func (p *NopProvider) Validate(_ context.Context, _ string) (*Info, error) {
	return &Info{Subject: "local-user", Roles: []string{"admin"}}, nil
}

// StaticTokenProvider authenticates against one shared secret,
// typically supplied by the API_TOKEN environment variable.
type StaticTokenProvider struct {
	token string
}

// NewStaticTokenProvider builds a provider for the given secret.
func NewStaticTokenProvider(token string) *StaticTokenProvider {
	return &StaticTokenProvider{token: token}
}

func (p *StaticTokenProvider) Validate(_ context.Context, token string) (*Info, error) {
	if subtle.ConstantTimeCompare([]byte(token), []byte(p.token)) != 1 {
		return nil, ErrUnauthorized
	}
	return &Info{Subject: "api-client", Roles: []string{"admin"}}, nil
}

var (
	_ Provider = (*NopProvider)(nil)
	_ Provider = (*StaticTokenProvider)(nil)
)
