/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/friendsincode/supermix/internal/db"
	"github.com/friendsincode/supermix/internal/ingest"
	"github.com/friendsincode/supermix/internal/library"
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import a liked-songs export into a user's library",
	Long:  "Import songs from a liked-songs JSON export file, linking them to the given user and carrying over like feedback",
	RunE:  runImport,
}

var (
	importFilePath string
	importUserID   string
)

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().StringVar(&importFilePath, "file", "", "Path to liked-songs JSON export (required)")
	importCmd.Flags().StringVar(&importUserID, "user", "", "User ID to link imported songs to (required)")
	importCmd.MarkFlagRequired("file")
	importCmd.MarkFlagRequired("user")
}

func runImport(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	logger.Info().
		Str("file", importFilePath).
		Str("user_id", importUserID).
		Msg("starting library import")

	database, err := initDatabase()
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	defer func() { _ = db.Close(database) }()

	store := library.NewStore(database, logger)
	importer := ingest.New(store, logger)

	result, err := importer.ImportFile(context.Background(), importUserID, importFilePath)
	if err != nil {
		return fmt.Errorf("import failed: %w", err)
	}

	fmt.Printf("\nImport Complete!\n")
	fmt.Printf("  Songs:   %d imported\n", result.Imported)
	fmt.Printf("  Liked:   %d carried over\n", result.Liked)
	fmt.Printf("  Skipped: %d\n", result.Skipped)

	if len(result.Warnings) > 0 {
		fmt.Printf("\nWarnings:\n")
		for _, warning := range result.Warnings {
			fmt.Printf("  - %s\n", warning)
		}
	}

	return nil
}
