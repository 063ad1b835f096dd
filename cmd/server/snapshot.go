package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/pto-service/snapshot"
)

var (
	exportPath string
	importPath string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write every collection to a snapshot file (.zst to compress)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadRuntime()
		if err != nil {
			return err
		}
		defer logger.Sync()

		be, err := openBackend(cfg.Storage, logger)
		if err != nil {
			return err
		}
		defer be.close()

		snap, err := snapshot.ExportFile(cmd.Context(), be.records, exportPath)
		if err != nil {
			return fmt.Errorf("exporting to %s: %w", exportPath, err)
		}
		logger.Info("snapshot exported", zap.String("path", exportPath), zap.Int("records", snap.Count()))
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Replace collections from a snapshot file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadRuntime()
		if err != nil {
			return err
		}
		defer logger.Sync()

		be, err := openBackend(cfg.Storage, logger)
		if err != nil {
			return err
		}
		defer be.close()

		snap, err := snapshot.ImportFile(cmd.Context(), be.records, importPath)
		if err != nil {
			return fmt.Errorf("importing %s: %w", importPath, err)
		}
		logger.Info("snapshot imported",
			zap.String("path", importPath),
			zap.Int("collections", len(snap.Collections)),
			zap.Int("records", snap.Count()),
		)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportPath, "out", "pto-snapshot.json", "snapshot file to write")
	importCmd.Flags().StringVar(&importPath, "in", "", "snapshot file to read")
	importCmd.MarkFlagRequired("in")

	rootCmd.AddCommand(exportCmd, importCmd)
}
