package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"portal/internal/app"
	"portal/internal/export"
)

var (
	printFormat  string
	printVariant string
	printOut     string
)

var printCmd = &cobra.Command{
	Use:   "print <assignmentId>",
	Short: "Export the print view of an assignment as html, pdf or docx",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := export.ParseFormat(printFormat)
		if err != nil {
			return err
		}
		return withService(cmd, func(ctx context.Context, service *app.Service) error {
			result, err := service.Print(ctx, export.Request{
				AssignmentID: args[0],
				Variant:      printVariant,
				Format:       format,
			})
			if err != nil {
				return err
			}
			target := printOut
			if target == "" {
				target = result.Filename
			}
			if target == "-" {
				_, err := cmd.OutOrStdout().Write(result.Data)
				return err
			}
			if err := os.WriteFile(target, result.Data, 0o644); err != nil {
				return fmt.Errorf("write export: %w", err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Druckansicht geschrieben: %s\n", target)
			return nil
		})
	},
}

func init() {
	printCmd.Flags().StringVarP(&printFormat, "format", "f", "html", "Output format: html, pdf or docx")
	printCmd.Flags().StringVar(&printVariant, "variant", "", "Assignment variant")
	printCmd.Flags().StringVarP(&printOut, "out", "o", "", "Output file, '-' for stdout (default: Druckansicht-<id>.<ext>)")
}
