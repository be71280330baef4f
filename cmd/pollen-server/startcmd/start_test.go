/*
Copyright Pollen Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package startcmd

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pollenhq/pollen/pkg/activitypub/crypto"
	"github.com/pollenhq/pollen/pkg/activitypub/service/adminhandler"
	"github.com/pollenhq/pollen/pkg/activitypub/store/memstore"
)

func TestGetStartCmd(t *testing.T) {
	startCmd := GetStartCmd()

	require.Equal(t, "start", startCmd.Use)
	require.NotEmpty(t, startCmd.Short)
	require.NotEmpty(t, startCmd.Long)
	require.NotNil(t, startCmd.Flags().Lookup(hostURLFlagName))
	require.NotNil(t, startCmd.Flags().Lookup(externalEndpointFlagName))
	require.NotNil(t, startCmd.Flags().Lookup(tokenFlagName))
}

func TestStartCmdWithMissingHostURL(t *testing.T) {
	startCmd := GetStartCmd()

	startCmd.SetArgs([]string{})

	err := startCmd.Execute()
	require.Error(t, err)
	require.Contains(t, err.Error(), hostURLFlagName)
}

func TestStartCmdWithInvalidParameter(t *testing.T) {
	startCmd := GetStartCmd()

	startCmd.SetArgs([]string{
		"--" + hostURLFlagName, "localhost:8080",
		"--" + pageSizeFlagName, "xxx",
	})

	err := startCmd.Execute()
	require.Error(t, err)
	require.Contains(t, err.Error(), pageSizeFlagName)
}

func TestParseBaseURL(t *testing.T) {
	t.Run("Host and port", func(t *testing.T) {
		baseURL, err := parseBaseURL("localhost:8080")
		require.NoError(t, err)
		require.Equal(t, "http://localhost:8080", baseURL.String())
	})

	t.Run("With scheme", func(t *testing.T) {
		baseURL, err := parseBaseURL("https://pollen.example.com")
		require.NoError(t, err)
		require.Equal(t, "https://pollen.example.com", baseURL.String())
	})

	t.Run("Trailing slash is trimmed", func(t *testing.T) {
		baseURL, err := parseBaseURL("https://pollen.example.com/")
		require.NoError(t, err)
		require.Equal(t, "https://pollen.example.com", baseURL.String())
	})

	t.Run("Missing host -> error", func(t *testing.T) {
		_, err := parseBaseURL("")
		require.Error(t, err)
		require.Contains(t, err.Error(), "missing host")
	})
}

func TestNewAuthConfig(t *testing.T) {
	t.Run("No token -> open access", func(t *testing.T) {
		cfg := newAuthConfig("")
		require.Empty(t, cfg.AuthTokensDef)
		require.Empty(t, cfg.AuthTokens)
	})

	t.Run("With token", func(t *testing.T) {
		cfg := newAuthConfig("ADMIN_TOKEN")
		require.NotEmpty(t, cfg.AuthTokensDef)
		require.Equal(t, "ADMIN_TOKEN", cfg.AuthTokens[adminTokenID])
	})
}

func TestProvisionSystemActor(t *testing.T) {
	baseURL, err := url.Parse("https://pollen.example.com")
	require.NoError(t, err)

	systemActorIRI, err := url.Parse("https://pollen.example.com/actor")
	require.NoError(t, err)

	activityStore := memstore.New("pollen")
	keyManager := adminhandler.NewMemKeyManager()

	privateKey, err := provisionSystemActor(baseURL, systemActorIRI, "pollen", activityStore, keyManager)
	require.NoError(t, err)
	require.NotNil(t, privateKey)

	actor, err := activityStore.GetActor(systemActorIRI)
	require.NoError(t, err)
	require.NotNil(t, actor)

	require.Equal(t, "pollen", actor.PreferredUsername())
	require.NotNil(t, actor.Inbox())
	require.NotNil(t, actor.Outbox())

	require.NotNil(t, actor.PublicKey())
	require.Equal(t, systemActorIRI.String()+mainKeyFragment, actor.PublicKey().ID.String())

	publicKey, err := crypto.ParsePublicKeyPEM([]byte(actor.PublicKey().PublicKeyPem))
	require.NoError(t, err)
	require.Equal(t, &privateKey.PublicKey, publicKey)

	privateKeyPEM, err := keyManager.PrivateKey(systemActorIRI)
	require.NoError(t, err)
	require.NotEmpty(t, privateKeyPEM)

	parsedKey, err := crypto.ParsePrivateKeyPEM(privateKeyPEM)
	require.NoError(t, err)
	require.True(t, parsedKey.Equal(privateKey))
}
