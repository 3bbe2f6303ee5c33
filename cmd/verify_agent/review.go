package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/jonathan/onboarding-verifier/internal/observability"
	"github.com/jonathan/onboarding-verifier/internal/types"
	"github.com/spf13/cobra"
)

var (
	reviewStatus   string
	reviewNote     string
	reviewReviewer string
	reviewList     bool
	reviewLimit    int
	reviewOutput   string
)

var reviewCmd = &cobra.Command{
	Use:   "review [document-id]",
	Short: "List documents awaiting review, or verify/reject one",
	Long: `Without arguments (or with --list) print the needs_review queue.
With a document ID, apply a reviewer decision: --status verified|rejected.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runReview,
}

func init() {
	reviewCmd.Flags().StringVar(&reviewStatus, "status", "", "Decision: verified or rejected")
	reviewCmd.Flags().StringVar(&reviewNote, "note", "", "Note shown to the student")
	reviewCmd.Flags().StringVar(&reviewReviewer, "reviewer", "", "Reviewer user ID")
	reviewCmd.Flags().BoolVar(&reviewList, "list", false, "List the review queue")
	reviewCmd.Flags().IntVar(&reviewLimit, "limit", 50, "Maximum documents to list")
	reviewCmd.Flags().StringVarP(&reviewOutput, "output", "o", "text", "Output format: text or json")
	rootCmd.AddCommand(reviewCmd)
}

func runReview(cmd *cobra.Command, args []string) error {
	listing := reviewList || len(args) == 0
	if reviewOutput != "text" && reviewOutput != "json" {
		return fmt.Errorf("--output must be text or json")
	}

	var docID, reviewer uuid.UUID
	var status types.Status
	if !listing {
		var err error
		if docID, err = uuid.Parse(args[0]); err != nil {
			return fmt.Errorf("invalid document ID: %w", err)
		}
		if status, err = types.ParseStatus(reviewStatus); err != nil {
			return fmt.Errorf("invalid --status: %w", err)
		}
		if status != types.StatusVerified && status != types.StatusRejected {
			return fmt.Errorf("--status must be verified or rejected")
		}
		if reviewer, err = uuid.Parse(reviewReviewer); err != nil {
			return fmt.Errorf("invalid --reviewer: %w", err)
		}
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	svc, err := a.reviewService(ctx)
	if err != nil {
		return err
	}

	if listing {
		docs, err := svc.ListPending(ctx, reviewLimit)
		if err != nil {
			return err
		}
		if reviewOutput == "json" {
			return printJSON(cmd.OutOrStdout(), docs)
		}
		observability.NewPrinter(cmd.OutOrStdout()).PrintDocuments(docs)
		return nil
	}

	doc, err := svc.Override(ctx, docID, status, reviewNote, reviewer)
	if err != nil {
		return err
	}
	if reviewOutput == "json" {
		return printJSON(cmd.OutOrStdout(), doc)
	}
	observability.NewPrinter(cmd.OutOrStdout()).PrintDocument(doc)
	return nil
}
