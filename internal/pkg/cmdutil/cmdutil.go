/*
Copyright Pollen Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package cmdutil

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// GetUserSetOptionalVarFromString returns the value of either the command line
// flag or the environment variable. An empty string is returned if neither is set.
func GetUserSetOptionalVarFromString(cmd *cobra.Command, flagName, envKey string) string {
	value, _ := GetUserSetVarFromString(cmd, flagName, envKey, true) //nolint:errcheck

	return value
}

// GetUserSetVarFromString returns the value of the command line flag. If the flag
// was not explicitly set then the value of the environment variable is returned.
func GetUserSetVarFromString(cmd *cobra.Command, flagName, envKey string, isOptional bool) (string, error) {
	if cmd.Flags().Changed(flagName) {
		value, err := cmd.Flags().GetString(flagName)
		if err != nil {
			return "", fmt.Errorf("%s flag not found: %w", flagName, err)
		}

		return value, nil
	}

	if value, isSet := os.LookupEnv(envKey); isSet {
		return value, nil
	}

	if isOptional {
		return "", nil
	}

	return "", fmt.Errorf("neither %s (command line flag) nor %s (environment variable) have been set",
		flagName, envKey)
}
