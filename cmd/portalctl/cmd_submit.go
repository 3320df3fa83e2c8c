package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"portal/internal/app"
	"portal/internal/session"
	"portal/internal/submission"
)

var assumeYes bool

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Send all stored answers to the endpoint",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, service *app.Service) error {
			preview, err := service.SubmitPreview(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d Antworten aus %d Aufträgen.\n", preview.AnswerCount, preview.AssignmentCount)

			var confirmer submission.Confirmer = submission.FixedDecision(submission.DecisionSend)
			if !assumeYes {
				confirmer = promptConfirmer{in: cmd.InOrStdin(), out: cmd.OutOrStdout()}
			}
			outcome, err := service.SubmitWith(ctx, confirmer)
			if err != nil {
				return err
			}
			switch outcome {
			case submission.OutcomeSent:
				fmt.Fprintln(cmd.OutOrStdout(), "Daten wurden erfolgreich übermittelt.")
			case submission.OutcomeEditIdentity:
				fmt.Fprintln(cmd.OutOrStdout(), "Identität gelöscht. Setze sie mit 'portalctl identity set' neu.")
			default:
				fmt.Fprintln(cmd.OutOrStdout(), "Abgabe abgebrochen.")
			}
			return nil
		})
	},
}

// promptConfirmer asks on the terminal. Anything but y/j sends nothing.
type promptConfirmer struct {
	in  io.Reader
	out io.Writer
}

func (p promptConfirmer) Confirm(_ context.Context, identity session.Identity) (submission.Decision, error) {
	fmt.Fprintln(p.out, "Du bist dabei, ein Backup ALLER gespeicherten Aufträge zu senden unter den folgenden Daten:")
	fmt.Fprintf(p.out, "  Klasse: %s\n  Name:   %s\n", identity.Klasse, identity.Name)
	fmt.Fprint(p.out, "Fortfahren? [j]a / [n]ein / [a]endern: ")

	line, err := bufio.NewReader(p.in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "j", "ja", "y", "yes":
		return submission.DecisionSend, nil
	case "a", "aendern", "ändern", "e", "edit":
		return submission.DecisionEdit, nil
	default:
		return submission.DecisionCancel, nil
	}
}

func init() {
	submitCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Send without asking")
}
