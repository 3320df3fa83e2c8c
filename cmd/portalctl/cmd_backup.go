package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"portal/internal/app"
)

var (
	exportOut    string
	historyLimit int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write a backup file of all stored answers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, service *app.Service) error {
			file, err := service.Backup(ctx)
			if err != nil {
				return err
			}
			target := exportOut
			if target == "" {
				target = file.Name
			} else if info, err := os.Stat(target); err == nil && info.IsDir() {
				target = filepath.Join(target, file.Name)
			}
			if err := os.WriteFile(target, file.Data, 0o644); err != nil {
				return fmt.Errorf("write backup: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Backup geschrieben: %s\n", target)
			return nil
		})
	},
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Restore a backup file, overwriting matching keys",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		return withService(cmd, func(ctx context.Context, service *app.Service) error {
			count, err := service.Restore(ctx, f)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d Datensätze erfolgreich wiederhergestellt.\n", count)
			return nil
		})
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List backup revisions (requires PORTAL_HISTORY_DIR)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, service *app.Service) error {
			revisions, err := service.History(historyLimit)
			if err != nil {
				return err
			}
			if len(revisions) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Keine Backups vorhanden.")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, rev := range revisions {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", rev.ShortHash, rev.CreatedAt.Local().Format("2006-01-02 15:04:05"), rev.Message)
			}
			return tw.Flush()
		})
	},
}

var historyRestoreCmd = &cobra.Command{
	Use:   "restore <revision>",
	Short: "Restore the backup stored in a revision",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, service *app.Service) error {
			count, err := service.RestoreRevision(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d Datensätze aus %s wiederhergestellt.\n", count, args[0])
			return nil
		})
	},
}

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Upload a backup to object storage (requires MINIO_ENDPOINT)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, service *app.Service) error {
			name, err := service.Archive(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Archiviert: %s\n", name)
			return nil
		})
	},
}

var archiveListCmd = &cobra.Command{
	Use:   "list",
	Short: "List archived backups of the profile",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, service *app.Service) error {
			objects, err := service.Archived(ctx)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, obj := range objects {
				fmt.Fprintf(tw, "%s\t%d\t%s\n", obj.Name, obj.Size, obj.LastModified.Local().Format("2006-01-02 15:04:05"))
			}
			return tw.Flush()
		})
	},
}

var archiveRestoreCmd = &cobra.Command{
	Use:   "restore <object>",
	Short: "Restore an archived backup",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, service *app.Service) error {
			count, err := service.RestoreArchive(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d Datensätze erfolgreich wiederhergestellt.\n", count)
			return nil
		})
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "Output file or directory (default: lms-backup-<date>.json)")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum number of revisions")
	historyCmd.AddCommand(historyRestoreCmd)
	archiveCmd.AddCommand(archiveListCmd)
	archiveCmd.AddCommand(archiveRestoreCmd)
}
