package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	stuckOlderThan time.Duration
	stuckLimit     int
	stuckRequeue   bool
)

var stuckCmd = &cobra.Command{
	Use:   "stuck",
	Short: "List documents that have been processing for too long",
	RunE:  runStuck,
}

func init() {
	stuckCmd.Flags().DurationVar(&stuckOlderThan, "older-than", 30*time.Minute, "Minimum time since the document was last updated")
	stuckCmd.Flags().IntVar(&stuckLimit, "limit", 100, "Maximum documents to list")
	stuckCmd.Flags().BoolVar(&stuckRequeue, "requeue", false, "Requeue every listed document")
	rootCmd.AddCommand(stuckCmd)
}

func runStuck(cmd *cobra.Command, _ []string) error {
	if stuckOlderThan <= 0 {
		return fmt.Errorf("--older-than must be positive")
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	database, err := a.database(ctx)
	if err != nil {
		return err
	}
	docs, err := database.ListStuckDocuments(ctx, stuckOlderThan, stuckLimit)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tOWNER\tLAST UPDATE")
	for _, d := range docs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.ID, d.Kind, d.OwnerID, d.UpdatedAt.Format(time.RFC3339))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if !stuckRequeue || len(docs) == 0 {
		return nil
	}
	svc, err := a.intakeService(ctx)
	if err != nil {
		return err
	}
	var failed int
	for _, d := range docs {
		if _, err := svc.Requeue(ctx, d.ID); err != nil {
			failed++
			a.logger.Error("requeue failed", zap.String("document_id", d.ID.String()), zap.Error(err))
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Requeued %d of %d documents\n", len(docs)-failed, len(docs))
	if failed > 0 {
		return fmt.Errorf("%d documents could not be requeued", failed)
	}
	return nil
}
