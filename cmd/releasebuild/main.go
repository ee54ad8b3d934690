// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// releasebuild builds the release artifacts of the library once per CPU
// feature set and packages them into deterministic zip bundles.
package main

import (
	"os"

	"github.com/fatih/color"
	"github.com/google/releasebuild/cmd/releasebuild/command/buildrelease"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "releasebuild [subcommand]",
	Short: "Build release artifacts for each CPU feature set",
	// Silence errors because we will print the error ourselves in main.
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	rootCmd.AddCommand(buildrelease.Command())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		color.New(color.FgRed).Printf("Error: %v\n", err)
		os.Exit(1)
	}
}
