/*
Copyright Pollen Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package cmdutil

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

func TestGetUserSetVarFromString(t *testing.T) {
	const (
		flagName = "host-url"
		envKey   = "TEST_HOST_URL"
	)

	t.Run("From flag", func(t *testing.T) {
		cmd := newTestCmd(t, flagName, "--"+flagName, "localhost:8080")

		value, err := GetUserSetVarFromString(cmd, flagName, envKey, false)
		require.NoError(t, err)
		require.Equal(t, "localhost:8080", value)
	})

	t.Run("From environment", func(t *testing.T) {
		t.Setenv(envKey, "localhost:8081")

		cmd := newTestCmd(t, flagName)

		value, err := GetUserSetVarFromString(cmd, flagName, envKey, false)
		require.NoError(t, err)
		require.Equal(t, "localhost:8081", value)
	})

	t.Run("Flag overrides environment", func(t *testing.T) {
		t.Setenv(envKey, "localhost:8081")

		cmd := newTestCmd(t, flagName, "--"+flagName, "localhost:8080")

		value, err := GetUserSetVarFromString(cmd, flagName, envKey, false)
		require.NoError(t, err)
		require.Equal(t, "localhost:8080", value)
	})

	t.Run("Not set and required -> error", func(t *testing.T) {
		cmd := newTestCmd(t, flagName)

		_, err := GetUserSetVarFromString(cmd, flagName, envKey, false)
		require.Error(t, err)
		require.Contains(t, err.Error(), flagName)
		require.Contains(t, err.Error(), envKey)
	})

	t.Run("Not set and optional -> empty", func(t *testing.T) {
		cmd := newTestCmd(t, flagName)

		value, err := GetUserSetVarFromString(cmd, flagName, envKey, true)
		require.NoError(t, err)
		require.Empty(t, value)
	})

}

func TestGetUserSetOptionalVarFromString(t *testing.T) {
	const (
		flagName = "service-name"
		envKey   = "TEST_SERVICE_NAME"
	)

	cmd := newTestCmd(t, flagName, "--"+flagName, "pollen1")

	require.Equal(t, "pollen1", GetUserSetOptionalVarFromString(cmd, flagName, envKey))
}

func newTestCmd(t *testing.T, flagName string, args ...string) *cobra.Command {
	t.Helper()

	cmd := &cobra.Command{Use: "test"}

	cmd.Flags().StringP(flagName, "", "", "usage")

	require.NoError(t, cmd.ParseFlags(args))

	return cmd
}
