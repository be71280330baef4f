/*
Copyright Pollen Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package main

import (
	"github.com/spf13/cobra"
	"github.com/trustbloc/logutil-go/pkg/log"

	"github.com/pollenhq/pollen/cmd/pollen-server/startcmd"
)

var logger = log.New("pollen-server")

func main() {
	rootCmd := &cobra.Command{
		Use: "pollen-server",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.HelpFunc()(cmd, args)
		},
	}

	rootCmd.AddCommand(startcmd.GetStartCmd())

	if err := rootCmd.Execute(); err != nil {
		logger.Fatal("Failed to run Pollen server.", log.WithError(err))
	}
}
