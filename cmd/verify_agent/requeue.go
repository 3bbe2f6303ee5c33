package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var requeueCmd = &cobra.Command{
	Use:   "requeue <document-id>",
	Short: "Queue a fresh job for a document stuck in processing",
	Long:  "Rebuild a first-attempt job from a processing document row, typically after its retries were exhausted.",
	Args:  cobra.ExactArgs(1),
	RunE:  runRequeue,
}

func init() {
	rootCmd.AddCommand(requeueCmd)
}

func runRequeue(cmd *cobra.Command, args []string) error {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid document ID: %w", err)
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
	doc, err := svc.Requeue(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Requeued %s (%s)\n", doc.ID, doc.Kind)
	return nil
}
