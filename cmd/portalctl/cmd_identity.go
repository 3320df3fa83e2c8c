package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"portal/internal/app"
	"portal/internal/session"
)

var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Show or change the stored student identity",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return identityShowCmd.RunE(cmd, args)
	},
}

var identityShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the stored identity",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, service *app.Service) error {
			id, ok, err := service.Identity(ctx)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "Nicht angemeldet.")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Klasse: %s\nName:   %s\nKennung: %s\n", id.Klasse, id.Name, id.Identifier())
			return nil
		})
	},
}

var identitySetCmd = &cobra.Command{
	Use:   "set <klasse> <name>",
	Short: "Store class and name",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, service *app.Service) error {
			id, err := service.SetIdentity(ctx, session.Identity{Klasse: args[0], Name: args[1]})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Angemeldet als %s\n", id.Identifier())
			return nil
		})
	},
}

var identityClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove the stored identity",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, service *app.Service) error {
			return service.ClearIdentity(ctx)
		})
	},
}

func init() {
	identityCmd.AddCommand(identityShowCmd)
	identityCmd.AddCommand(identitySetCmd)
	identityCmd.AddCommand(identityClearCmd)
}
