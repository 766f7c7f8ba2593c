// Copyright (C) 2025 ThermaSense Labs (engineering@thermasense.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/thermasense/heatguard/services/scoring/compliance"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "heatguard",
	Short: "Heat exposure risk scoring service",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scoring API server",
	Run: func(cmd *cobra.Command, args []string) {
		if err := serve(configPath); err != nil {
			log.Fatalf("server failed: %v", err)
		}
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify <journal-path>",
	Short: "Verify a compliance journal's hash chain",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		journal, err := compliance.NewJournal(compliance.Config{Path: args[0]})
		if err != nil {
			log.Fatalf("open journal: %v", err)
		}
		defer journal.Close()

		valid, breakIndex, err := journal.VerifyChain()
		if err != nil {
			log.Fatalf("verification failed: %v", err)
		}
		if !valid {
			fmt.Printf("chain BROKEN at record %d\n", breakIndex)
			os.Exit(1)
		}
		fmt.Printf("chain valid through sequence %d\n", journal.Stat().Sequence)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("error executing command: %v", err)
	}
}

func init() {
	serveCmd.Flags().StringVar(&configPath, "config", "", "Optional YAML config file; environment variables override it.")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(verifyCmd)
}
