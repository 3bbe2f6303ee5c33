package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/jonathan/onboarding-verifier/internal/intake"
	"github.com/jonathan/onboarding-verifier/internal/types"
	"github.com/spf13/cobra"
)

var (
	submitKind      string
	submitOwner     string
	submitMediaType string
)

var submitCmd = &cobra.Command{
	Use:   "submit <file>",
	Short: "Upload a document on behalf of a student and queue it for verification",
	Args:  cobra.ExactArgs(1),
	RunE:  runSubmit,
}

func init() {
	submitCmd.Flags().StringVar(&submitKind, "kind", "", "Document kind, e.g. identity_proof, transcript_12, fee_receipt (required)")
	submitCmd.Flags().StringVar(&submitOwner, "owner", "", "Owning user ID (required)")
	submitCmd.Flags().StringVar(&submitMediaType, "media-type", "", "Media type; sniffed from the content when omitted")
	_ = submitCmd.MarkFlagRequired("kind")
	_ = submitCmd.MarkFlagRequired("owner")
	rootCmd.AddCommand(submitCmd)
}

func runSubmit(cmd *cobra.Command, args []string) error {
	kind, err := types.ParseDocumentKind(submitKind)
	if err != nil {
		return err
	}
	owner, err := uuid.Parse(submitOwner)
	if err != nil {
		return fmt.Errorf("invalid --owner: %w", err)
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	svc, err := a.intakeService(ctx)
	if err != nil {
		return err
	}

	doc, err := svc.Submit(ctx, intake.Upload{
		OwnerID:   owner,
		Kind:      kind,
		MediaType: submitMediaType,
		Filename:  filepath.Base(args[0]),
		Data:      data,
	})
	if err != nil {
		if doc != nil && errors.Is(err, intake.ErrEnqueueFailed) {
			fmt.Fprintf(cmd.ErrOrStderr(), "Warning: document %s was created but not queued; run 'verify_agent requeue %s'\n", doc.ID, doc.ID)
			return printJSON(cmd.OutOrStdout(), doc)
		}
		return err
	}
	return printJSON(cmd.OutOrStdout(), doc)
}
