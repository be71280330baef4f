/*
Copyright Pollen Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTokenVerifier(t *testing.T) {
	cfg := Config{
		AuthTokensDef: []*TokenDef{
			{
				EndpointExpression: "/admin",
				ReadTokens:         []string{"admin"},
				WriteTokens:        []string{"admin"},
			},
			{
				EndpointExpression: "/users/.*/outbox",
				WriteTokens:        []string{"admin", "user"},
			},
		},
		AuthTokens: map[string]string{
			"admin": "ADMIN_TOKEN",
			"user":  "USER_TOKEN",
		},
	}

	t.Run("Valid token -> authorized", func(t *testing.T) {
		v := NewTokenVerifier(cfg, "/admin", http.MethodPost)

		req := httptest.NewRequest(http.MethodPost, "/admin", nil)
		req.Header.Set(authHeader, tokenPrefix+"ADMIN_TOKEN")

		require.True(t, v.Verify(req))
	})

	t.Run("Any of multiple tokens -> authorized", func(t *testing.T) {
		v := NewTokenVerifier(cfg, "/users/alice/outbox", http.MethodPost)

		req := httptest.NewRequest(http.MethodPost, "/users/alice/outbox", nil)
		req.Header.Set(authHeader, tokenPrefix+"USER_TOKEN")

		require.True(t, v.Verify(req))
	})

	t.Run("Invalid token -> unauthorized", func(t *testing.T) {
		v := NewTokenVerifier(cfg, "/admin", http.MethodPost)

		req := httptest.NewRequest(http.MethodPost, "/admin", nil)
		req.Header.Set(authHeader, tokenPrefix+"INVALID_TOKEN")

		require.False(t, v.Verify(req))
	})

	t.Run("No token -> unauthorized", func(t *testing.T) {
		v := NewTokenVerifier(cfg, "/admin", http.MethodGet)

		require.False(t, v.Verify(httptest.NewRequest(http.MethodGet, "/admin", nil)))
	})

	t.Run("No matching endpoint -> open access", func(t *testing.T) {
		v := NewTokenVerifier(cfg, "/users/alice", http.MethodGet)

		require.True(t, v.Verify(httptest.NewRequest(http.MethodGet, "/users/alice", nil)))
	})

	t.Run("No read tokens on endpoint -> open access", func(t *testing.T) {
		v := NewTokenVerifier(cfg, "/users/alice/outbox", http.MethodGet)

		require.True(t, v.Verify(httptest.NewRequest(http.MethodGet, "/users/alice/outbox", nil)))
	})

	t.Run("Unresolvable token ID -> panic", func(t *testing.T) {
		badCfg := Config{
			AuthTokensDef: []*TokenDef{
				{
					EndpointExpression: "/admin",
					ReadTokens:         []string{"unknown"},
				},
			},
		}

		require.Panics(t, func() {
			NewTokenVerifier(badCfg, "/admin", http.MethodGet)
		})
	})
}
